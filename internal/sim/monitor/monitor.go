// Package monitor is the bounded-memory observability surface of the bot
// core: monotonic counters, rolling sample windows, periodic performance
// snapshots and threshold alerts. Every interface is non-throwing; invalid
// requests return defaulted values.
package monitor

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"playerbots/internal/sim/clock"
)

// Well-known counter categories. Callers may also use ad-hoc names.
const (
	CounterActionsEnqueued = "actions.enqueued"
	CounterActionsExecuted = "actions.executed"
	CounterActionsDropped  = "actions.dropped"
	CounterEventsPublished = "events.published"
	CounterEventsDelivered = "events.delivered"
	CounterEventsExpired   = "events.expired"
	CounterEventsDropped   = "events.dropped"
	CounterBotUpdates      = "bots.updates"
	CounterBotDeferred     = "bots.deferred"
	CounterErrors          = "errors"
	CounterWarnings        = "warnings"
	CounterDBQueries       = "db.queries"
	CounterDBCacheHits     = "db.cache.hits"
	CounterDBCacheMisses   = "db.cache.misses"
)

// Well-known window names.
const (
	WindowBotStepUs   = "bot.step.us"
	WindowTickMs      = "tick.ms"
	WindowDrainMs     = "drain.ms"
	WindowDBQueryMs   = "db.query.ms"
	WindowCPUPercent  = "cpu.pct"
	WindowMemoryMB    = "memory.mb"
	WindowCrashRate   = "crash.rate.pct"
)

type Config struct {
	WindowSamples   int // default 60
	HistoryMinutes  int // default 1440 (24 h at 1-minute granularity)
	AlertRing       int // default 1000
	ActiveAlertMins int // default 5
}

func (c Config) withDefaults() Config {
	if c.WindowSamples <= 0 {
		c.WindowSamples = 60
	}
	if c.HistoryMinutes <= 0 {
		c.HistoryMinutes = 24 * 60
	}
	if c.AlertRing <= 0 {
		c.AlertRing = 1000
	}
	if c.ActiveAlertMins <= 0 {
		c.ActiveAlertMins = 5
	}
	return c
}

// Activity is the live tally block refreshed by the scheduler each tick.
type Activity struct {
	BotsTotal    int
	BotsInCombat int
	BotsQuesting int
	BotsDead     int
}

// PerformanceSnapshot is a point-in-time composition of everything the
// monitor knows. Value type; safe to hand across threads.
type PerformanceSnapshot struct {
	At     clock.Millis `json:"at"`
	Uptime clock.Millis `json:"uptime_ms"`

	Activity Activity `json:"activity"`

	CPUFraction float64 `json:"cpu_fraction"`
	RSSBytes    uint64  `json:"rss_bytes"`

	DBQueries       int64   `json:"db_queries"`
	DBQPS           float64 `json:"db_qps"`
	DBAvgLatencyMs  float64 `json:"db_avg_latency_ms"`
	DBMaxLatencyMs  float64 `json:"db_max_latency_ms"`
	DBCacheHitRatio float64 `json:"db_cache_hit_ratio"`

	MeanBotStepUs float64 `json:"mean_bot_step_us"`
	MeanTickMs    float64 `json:"mean_tick_ms"`

	Errors   int64 `json:"errors"`
	Warnings int64 `json:"warnings"`
}

// AlertSink receives every emitted alert; used for durable alert trails.
type AlertSink interface {
	WriteAlert(a Alert) error
}

type Monitor struct {
	cfg   Config
	clk   clock.Clock
	start clock.Millis

	counters sync.Map // string -> *atomic.Int64

	mu      sync.Mutex
	windows map[string]*Window

	actMu    sync.Mutex
	activity Activity
	rssBytes uint64
	cpuFrac  float64

	lastSnapAt clock.Millis
	lastSnapQ  int64

	alerts    *alertRing
	alertsCfg *alertState

	histMu  sync.Mutex
	history []PerformanceSnapshot

	sink   AlertSink
	logger *log.Logger
}

func New(cfg Config, clk clock.Clock, logger *log.Logger) *Monitor {
	cfg = cfg.withDefaults()
	m := &Monitor{
		cfg:     cfg,
		clk:     clk,
		start:   clk.Now(),
		windows: map[string]*Window{},
		alerts:  newAlertRing(cfg.AlertRing),
		logger:  logger,
	}
	return m
}

func (m *Monitor) SetAlertSink(s AlertSink) { m.sink = s }

// Increment bumps a counter by one. Wait-free after first touch of a name.
func (m *Monitor) Increment(category string) { m.Add(category, 1) }

func (m *Monitor) Add(category string, n int64) {
	if m == nil || n < 0 {
		return
	}
	c, ok := m.counters.Load(category)
	if !ok {
		c, _ = m.counters.LoadOrStore(category, new(atomic.Int64))
	}
	c.(*atomic.Int64).Add(n)
}

func (m *Monitor) Counter(category string) int64 {
	if m == nil {
		return 0
	}
	c, ok := m.counters.Load(category)
	if !ok {
		return 0
	}
	return c.(*atomic.Int64).Load()
}

// Sample appends a value to the named window, creating it on first use.
func (m *Monitor) Sample(name string, v float64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	w := m.windows[name]
	if w == nil {
		w = NewWindow(m.cfg.WindowSamples)
		m.windows[name] = w
	}
	m.mu.Unlock()
	w.Append(m.clk.Now(), v)
}

func (m *Monitor) Window(name string) *Window {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.windows[name]
}

func (m *Monitor) SetActivity(a Activity) {
	if m == nil {
		return
	}
	m.actMu.Lock()
	m.activity = a
	m.actMu.Unlock()
}

// SetResources records the current process resource estimate. The CPU
// fraction source is caller-defined (engine phase stopwatches by default).
func (m *Monitor) SetResources(cpuFraction float64, rssBytes uint64) {
	if m == nil {
		return
	}
	if cpuFraction < 0 {
		cpuFraction = 0
	}
	if cpuFraction > 1 {
		cpuFraction = 1
	}
	m.actMu.Lock()
	m.cpuFrac = cpuFraction
	m.rssBytes = rssBytes
	m.actMu.Unlock()
	m.Sample(WindowCPUPercent, cpuFraction*100)
	m.Sample(WindowMemoryMB, float64(rssBytes)/(1024*1024))
}

// Snapshot composes the current performance picture. Never fails.
func (m *Monitor) Snapshot() PerformanceSnapshot {
	if m == nil {
		return PerformanceSnapshot{}
	}
	now := m.clk.Now()

	m.actMu.Lock()
	act := m.activity
	cpu := m.cpuFrac
	rss := m.rssBytes
	lastAt, lastQ := m.lastSnapAt, m.lastSnapQ
	m.actMu.Unlock()

	queries := m.Counter(CounterDBQueries)
	qps := 0.0
	if lastAt > 0 && now > lastAt {
		qps = float64(queries-lastQ) / now.Sub(lastAt).Seconds()
	}
	m.actMu.Lock()
	m.lastSnapAt, m.lastSnapQ = now, queries
	m.actMu.Unlock()

	hits := float64(m.Counter(CounterDBCacheHits))
	misses := float64(m.Counter(CounterDBCacheMisses))
	ratio := 0.0
	if hits+misses > 0 {
		ratio = hits / (hits + misses)
	}

	return PerformanceSnapshot{
		At:              now,
		Uptime:          now - m.start,
		Activity:        act,
		CPUFraction:     cpu,
		RSSBytes:        rss,
		DBQueries:       queries,
		DBQPS:           qps,
		DBAvgLatencyMs:  m.Window(WindowDBQueryMs).Mean(),
		DBMaxLatencyMs:  m.Window(WindowDBQueryMs).Max(),
		DBCacheHitRatio: ratio,
		MeanBotStepUs:   m.Window(WindowBotStepUs).Mean(),
		MeanTickMs:      m.Window(WindowTickMs).Mean(),
		Errors:          m.Counter(CounterErrors),
		Warnings:        m.Counter(CounterWarnings),
	}
}

// RecordHistory appends a snapshot to the bounded FIFO history. Callers
// invoke it at 1-minute granularity; older entries fall off the front.
func (m *Monitor) RecordHistory(s PerformanceSnapshot) {
	if m == nil {
		return
	}
	m.histMu.Lock()
	m.history = append(m.history, s)
	if over := len(m.history) - m.cfg.HistoryMinutes; over > 0 {
		m.history = m.history[over:]
	}
	m.histMu.Unlock()
}

func (m *Monitor) History() []PerformanceSnapshot {
	if m == nil {
		return nil
	}
	m.histMu.Lock()
	defer m.histMu.Unlock()
	out := make([]PerformanceSnapshot, len(m.history))
	copy(out, m.history)
	return out
}

// Trend reports last/min/max/mean for a named window.
func (m *Monitor) Trend(name string) (last, min, max, mean float64) {
	w := m.Window(name)
	return w.Last(), w.Min(), w.Max(), w.Mean()
}

func (m *Monitor) String() string {
	s := m.Snapshot()
	return fmt.Sprintf("bots=%d combat=%d questing=%d dead=%d cpu=%.1f%% tick=%.2fms errors=%d warnings=%d",
		s.Activity.BotsTotal, s.Activity.BotsInCombat, s.Activity.BotsQuesting, s.Activity.BotsDead,
		s.CPUFraction*100, s.MeanTickMs, s.Errors, s.Warnings)
}
