package bots

import (
	"container/heap"
	"math/rand"
	"time"

	"playerbots/internal/sim/clock"
	"playerbots/internal/sim/host"
	"playerbots/internal/sim/monitor"
)

type SchedulerConfig struct {
	TickBudget    time.Duration // wall time shared by all bot steps per tick
	BotSoftBudget time.Duration
	CadenceMin    time.Duration
	CadenceMax    time.Duration
	BackoffMax    time.Duration
	StarveTicks   int // deferrals before promotion
	JitterMs      int
}

func (c SchedulerConfig) withDefaults() SchedulerConfig {
	if c.TickBudget <= 0 {
		c.TickBudget = 10 * time.Millisecond
	}
	if c.BotSoftBudget <= 0 {
		c.BotSoftBudget = time.Millisecond
	}
	if c.CadenceMin <= 0 {
		c.CadenceMin = 100 * time.Millisecond
	}
	if c.CadenceMax < c.CadenceMin {
		c.CadenceMax = 300 * time.Millisecond
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = time.Second
	}
	if c.StarveTicks <= 0 {
		c.StarveTicks = 5
	}
	if c.JitterMs < 0 {
		c.JitterMs = 0
	}
	return c
}

// CancelSink is told when a despawned bot's pending work must be dropped.
type CancelSink interface {
	CancelBot(id host.BotID)
}

type readyHeap []*Bot

func (h readyHeap) Len() int { return len(h) }
func (h readyHeap) Less(i, j int) bool {
	bi, bj := h[i], h[j]
	ei, ej := bi.band, bj.band
	if bi.deferred >= starveMark {
		ei = BandCombat
	}
	if bj.deferred >= starveMark {
		ej = BandCombat
	}
	if ei != ej {
		return ei > ej
	}
	return bi.nextDue < bj.nextDue
}
func (h readyHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *readyHeap) Push(x any)   { *h = append(*h, x.(*Bot)) }
func (h *readyHeap) Pop() any {
	old := *h
	n := len(old)
	b := old[n-1]
	*h = old[:n-1]
	return b
}

// starveMark is rewritten from config before each heap rebuild; the heap
// comparator cannot carry state.
var starveMark = 5

// Scheduler owns the bot registry and runs the per-tick update pass. Sim
// thread only.
type Scheduler struct {
	cfg SchedulerConfig
	clk clock.Clock
	mon *monitor.Monitor
	rng *rand.Rand

	reg    map[host.BotID]*Bot
	cancel CancelSink

	paused bool
}

func NewScheduler(cfg SchedulerConfig, clk clock.Clock, mon *monitor.Monitor, cancel CancelSink) *Scheduler {
	return &Scheduler{
		cfg:    cfg.withDefaults(),
		clk:    clk,
		mon:    mon,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		reg:    map[host.BotID]*Bot{},
		cancel: cancel,
	}
}

func (s *Scheduler) Add(b *Bot) {
	if b == nil || b.ID == 0 {
		return
	}
	b.recomputeBand()
	b.nextDue = s.clk.Now()
	s.reg[b.ID] = b
}

// Remove despawns a bot: the handle leaves the registry and all its
// pending actions are cancelled. An in-flight step is allowed to finish.
func (s *Scheduler) Remove(id host.BotID) {
	if _, ok := s.reg[id]; !ok {
		return
	}
	delete(s.reg, id)
	if s.cancel != nil {
		s.cancel.CancelBot(id)
	}
}

func (s *Scheduler) Get(id host.BotID) *Bot { return s.reg[id] }

func (s *Scheduler) Len() int { return len(s.reg) }

func (s *Scheduler) All() []*Bot {
	out := make([]*Bot, 0, len(s.reg))
	for _, b := range s.reg {
		out = append(out, b)
	}
	return out
}

// SetPaused pauses or resumes group autonomy. While paused every bot
// schedules in the idle band and coordinators are not stepped.
func (s *Scheduler) SetPaused(p bool) { s.paused = p }
func (s *Scheduler) Paused() bool     { return s.paused }

// TickStats reports one scheduler pass.
type TickStats struct {
	Due      int
	Updated  int
	Deferred int
	Promoted int
}

// RunTick advances every due bot in (band desc, nextDue asc) order until
// the wall-time budget is spent. Deferred bots keep their due times and
// their order; continuously deferred bots are promoted to the front.
func (s *Scheduler) RunTick() TickStats {
	now := s.clk.Now()
	var st TickStats

	starveMark = s.cfg.StarveTicks
	var due readyHeap
	for _, b := range s.reg {
		if b.nextDue <= now {
			// Coordinator bands may have moved since the last update; the
			// heap must order on current state.
			if s.paused {
				b.band = BandIdle
			} else {
				b.recomputeBand()
			}
			due = append(due, b)
		}
	}
	if len(due) == 0 {
		return st
	}
	st.Due = len(due)
	heap.Init(&due)

	ctx := &TickContext{
		Now:      now,
		Deadline: now.Add(s.cfg.TickBudget),
		Phase:    PhaseUpdate,
	}

	var spent time.Duration
	for due.Len() > 0 {
		if spent >= s.cfg.TickBudget {
			// Defer the rest to the next tick, preserving order.
			for due.Len() > 0 {
				b := heap.Pop(&due).(*Bot)
				b.deferred++
				if b.deferred == s.cfg.StarveTicks {
					st.Promoted++
				}
				st.Deferred++
				s.mon.Increment(monitor.CounterBotDeferred)
			}
			break
		}
		b := heap.Pop(&due).(*Bot)
		if !b.Enabled {
			b.deferred = 0
			b.nextDue = now.Add(s.cfg.CadenceMax)
			continue
		}

		start := time.Now()
		if !s.paused {
			s.stepBot(b, ctx)
		}
		d := time.Since(start)
		spent += d
		st.Updated++
		b.deferred = 0
		b.lastUpdate = now
		s.mon.Increment(monitor.CounterBotUpdates)
		s.mon.Sample(monitor.WindowBotStepUs, float64(d.Microseconds()))

		// Overruns back off exponentially, capped.
		if d > s.cfg.BotSoftBudget {
			if b.penaltyMs == 0 {
				b.penaltyMs = clock.Millis(s.cfg.BotSoftBudget / time.Millisecond)
				if b.penaltyMs == 0 {
					b.penaltyMs = 1
				}
			} else {
				b.penaltyMs *= 2
			}
			if max := clock.Millis(s.cfg.BackoffMax / time.Millisecond); b.penaltyMs > max {
				b.penaltyMs = max
			}
		} else {
			b.penaltyMs = 0
		}

		band := BandIdle
		if !s.paused {
			band = b.recomputeBand()
		} else {
			b.band = BandIdle
		}
		b.nextDue = now.Add(s.cadence(band)) + b.penaltyMs + clock.Millis(s.jitter())
	}

	return st
}

// stepBot runs one bot slice: every coordinator reporting work, highest
// band first, registration order breaking ties. An all-idle bot gets a
// housekeeping pass over the full set instead.
func (s *Scheduler) stepBot(b *Bot, ctx *TickContext) {
	stepped := false
	for band := BandCombat; band > BandIdle; band-- {
		for _, c := range b.coordinators {
			if c.Band() == band {
				s.stepSafe(c, ctx)
				stepped = true
			}
		}
	}
	if stepped {
		return
	}
	for _, c := range b.coordinators {
		s.stepSafe(c, ctx)
	}
}

func (s *Scheduler) stepSafe(c Coordinator, ctx *TickContext) {
	defer func() {
		if r := recover(); r != nil {
			s.mon.Increment(monitor.CounterErrors)
		}
	}()
	c.Step(ctx)
}

// cadence maps a band to its desired update interval: combat tightest,
// idle loosest.
func (s *Scheduler) cadence(b Band) time.Duration {
	span := s.cfg.CadenceMax - s.cfg.CadenceMin
	switch b {
	case BandCombat:
		return s.cfg.CadenceMin
	case BandInteraction:
		return s.cfg.CadenceMin + span/3
	case BandQuest:
		return s.cfg.CadenceMin + 2*span/3
	default:
		return s.cfg.CadenceMax
	}
}

func (s *Scheduler) jitter() int {
	if s.cfg.JitterMs == 0 {
		return 0
	}
	return s.rng.Intn(s.cfg.JitterMs)
}

// Activity tallies the registry for the monitor.
func (s *Scheduler) Activity() monitor.Activity {
	var a monitor.Activity
	a.BotsTotal = len(s.reg)
	for _, b := range s.reg {
		switch {
		case b.Dead:
			a.BotsDead++
		case b.band == BandCombat:
			a.BotsInCombat++
		case b.band == BandQuest:
			a.BotsQuesting++
		}
	}
	return a
}
