// Package engine owns the simulation loop. One goroutine runs the tick:
// spatial refresh, event drain, scheduler pass, action drain, second event
// drain, then monitor upkeep. Everything that mutates the host world or
// per-bot coordinator state happens inside that loop.
package engine

import (
	"context"
	"fmt"
	"log"
	"runtime"
	"sync"
	"time"

	"playerbots/internal/persistence/profiledb"
	"playerbots/internal/sim/actions"
	"playerbots/internal/sim/banking"
	"playerbots/internal/sim/botevent"
	"playerbots/internal/sim/bots"
	"playerbots/internal/sim/clock"
	"playerbots/internal/sim/economy"
	"playerbots/internal/sim/events"
	"playerbots/internal/sim/host"
	"playerbots/internal/sim/interact"
	"playerbots/internal/sim/monitor"
	"playerbots/internal/sim/profession"
	"playerbots/internal/sim/quest"
	"playerbots/internal/sim/spatial"
	"playerbots/internal/sim/tuning"
)

// InventorySource adapts the host's per-bot inventory for the banking
// checks. Nil disables banking coordinators.
type InventorySource interface {
	InventoryFor(bot host.BotID) banking.Inventory
}

// CoordinatorConfig carries the per-subsystem knobs every spawned bot gets.
type CoordinatorConfig struct {
	Quest      quest.Config
	Profession profession.Config
	Banking    banking.Config
	Interact   interact.Config
	Gather     economy.GatherConfig
	Auction    economy.AuctionConfig
	Pricing    economy.EngineConfig

	BankProfile banking.Profile
}

type Options struct {
	Tuning       tuning.Tuning
	Coordinators CoordinatorConfig

	World host.World
	Clock clock.Clock

	// Monitor overrides the engine-built monitor so callers constructing
	// persistence before the engine can share one instance.
	Monitor *monitor.Monitor

	// Optional integrations.
	Market      economy.Market   // nil: no pricing/auction bridges
	Inventories InventorySource  // nil: no banking coordinators
	Profiles    *profiledb.Store // nil: identities are volatile
	TxSink      banking.TxSink
	AlertSink   monitor.AlertSink

	Logger *log.Logger

	// ViewRadius bounds the spatial refresh around each bot.
	ViewRadius float64
}

type botHandle struct {
	bot   *bots.Bot
	prof  *profession.Coordinator
	quest *quest.Coordinator
	subs  []events.SubscriptionID
}

type Engine struct {
	opt   Options
	clk   clock.Clock
	log   *log.Logger
	world host.World

	mon      *monitor.Monitor
	grid     *spatial.Manager
	queue    *actions.Queue
	bus      *botevent.Bus
	sched    *bots.Scheduler
	interact *interact.Manager

	pricing *economy.Engine

	tick        uint64
	lastRSS     uint64
	lastHistory clock.Millis
	aggro       int
	nextID      host.BotID
	byName      map[string]host.BotID
	handles     map[host.BotID]*botHandle

	ops chan func()

	mu     sync.RWMutex
	mirror []*bots.Bot
}

func New(opt Options) (*Engine, error) {
	if opt.World == nil {
		return nil, fmt.Errorf("engine: nil world")
	}
	if opt.Clock == nil {
		opt.Clock = clock.System()
	}
	if opt.Logger == nil {
		opt.Logger = log.Default()
	}
	if opt.ViewRadius <= 0 {
		opt.ViewRadius = 300
	}
	tun := opt.Tuning
	if tun.TickIntervalMs <= 0 {
		tun = tuning.Defaults()
		opt.Tuning = tun
	}

	mon := opt.Monitor
	if mon == nil {
		mon = monitor.New(monitor.Config{
			WindowSamples:   tun.Monitor.WindowSamples,
			HistoryMinutes:  tun.Monitor.HistoryMinutes,
			AlertRing:       tun.Monitor.AlertRing,
			ActiveAlertMins: tun.Monitor.ActiveAlertMins,
		}, opt.Clock, opt.Logger)
	}
	if opt.AlertSink != nil {
		mon.SetAlertSink(opt.AlertSink)
	}

	queue := actions.NewQueue(tun.ActionQueueCap, opt.Clock, mon)
	bus := events.NewBus[botevent.Event](tun.EventQueueCap, opt.Clock, mon, opt.Logger)
	sched := bots.NewScheduler(bots.SchedulerConfig{
		TickBudget:    time.Duration(tun.SchedulerBudgetMs) * time.Millisecond,
		BotSoftBudget: time.Duration(tun.BotSoftBudgetUs) * time.Microsecond,
		CadenceMin:    time.Duration(tun.CadenceMinMs) * time.Millisecond,
		CadenceMax:    time.Duration(tun.CadenceMaxMs) * time.Millisecond,
		BackoffMax:    time.Duration(tun.BackoffMaxMs) * time.Millisecond,
		StarveTicks:   tun.StarveTicks,
	}, opt.Clock, mon, queue)

	e := &Engine{
		opt:      opt,
		clk:      opt.Clock,
		log:      opt.Logger,
		world:    opt.World,
		mon:      mon,
		grid:     spatial.NewManager(),
		queue:    queue,
		bus:      bus,
		sched:    sched,
		interact: interact.NewManager(opt.Coordinators.Interact, opt.Clock, mon, queue, opt.World),
		aggro:    1,
		nextID:   1,
		byName:   map[string]host.BotID{},
		handles:  map[host.BotID]*botHandle{},
		ops:      make(chan func(), 64),
	}
	e.lastHistory = e.clk.Now()

	if opt.Market != nil {
		e.pricing = economy.NewEngine(opt.Coordinators.Pricing, opt.Market)
		recipes := opt.Coordinators.Profession.Recipes
		e.pricing.SetRecipeSource(func(recipeID uint32) (map[uint32]int, time.Duration, bool) {
			r, found := recipes[recipeID]
			if !found {
				return nil, 0, false
			}
			need := map[uint32]int{}
			for _, rg := range r.Reagents {
				need[rg.ItemID] += rg.Count
			}
			return need, 5 * time.Second, true
		})
	}

	if opt.Profiles != nil {
		if err := e.restoreProfiles(); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func (e *Engine) Monitor() *monitor.Monitor       { return e.mon }
func (e *Engine) Bus() *botevent.Bus              { return e.bus }
func (e *Engine) Queue() *actions.Queue           { return e.queue }
func (e *Engine) Scheduler() *bots.Scheduler      { return e.sched }
func (e *Engine) Grid() *spatial.Manager          { return e.grid }
func (e *Engine) Interactions() *interact.Manager { return e.interact }

// restoreProfiles respawns every enabled persisted bot at startup.
func (e *Engine) restoreProfiles() error {
	profiles, err := e.opt.Profiles.ListProfiles()
	if err != nil {
		return fmt.Errorf("engine: restore profiles: %w", err)
	}
	for _, p := range profiles {
		if !p.Enabled {
			continue
		}
		if p.Bot >= e.nextID {
			e.nextID = p.Bot + 1
		}
		b, err := e.spawnWithID(p.Bot, p.Name, p.Race, p.Class)
		if err != nil {
			e.log.Printf("restore %s: %v", p.Name, err)
			continue
		}
		b.Enabled = p.Enabled
	}
	e.log.Printf("restored %d bot profiles", e.sched.Len())
	return nil
}

// Spawn registers a new bot with the full coordinator set. Sim thread only.
func (e *Engine) Spawn(name string, race, class uint8) (*bots.Bot, error) {
	if name == "" {
		return nil, fmt.Errorf("empty name")
	}
	if _, taken := e.byName[name]; taken {
		return nil, fmt.Errorf("name %q taken", name)
	}
	id := e.nextID
	e.nextID++
	b, err := e.spawnWithID(id, name, race, class)
	if err != nil {
		return nil, err
	}
	if e.opt.Profiles != nil {
		e.opt.Profiles.SaveProfile(profiledb.Profile{
			Bot: id, Name: name, Race: race, Class: class, Enabled: true,
		})
	}
	return b, nil
}

func (e *Engine) spawnWithID(id host.BotID, name string, race, class uint8) (*bots.Bot, error) {
	if _, taken := e.byName[name]; taken {
		return nil, fmt.Errorf("name %q taken", name)
	}
	b := bots.NewBot(id, name)
	b.Race, b.Class = race, class

	cc := e.opt.Coordinators
	pc := profession.NewCoordinator(cc.Profession, id, e.clk, e.mon, e.world, e.queue, e.bus)
	qc := quest.NewCoordinator(cc.Quest, id, e.clk, e.mon, e.world, e.grid, e.queue, e.bus)
	qc.SetAggression(e.aggro)
	b.AddCoordinator(interact.NewCoordinator(e.interact, id))
	b.AddCoordinator(qc)
	b.AddCoordinator(pc)

	subs := []events.SubscriptionID{
		e.bus.SubscribeFunc(pc.HandleEvent, profession.Kinds()...),
	}

	if e.opt.Inventories != nil {
		bc := banking.NewCoordinator(cc.Banking, id, e.clk, e.mon, e.world, e.grid, e.queue, e.bus,
			e.opt.Inventories.InventoryFor(id), pc, cc.BankProfile)
		if e.opt.TxSink != nil {
			bc.SetSink(e.opt.TxSink)
		}
		b.AddCoordinator(bc)
	}

	if e.pricing != nil {
		gb := economy.NewGatherBridge(cc.Gather, id, e.clk, e.mon, e.world, e.grid, e.queue, e.bus,
			e.pricing, profSkills{pc})
		ab := economy.NewAuctionBridge(cc.Auction, id, e.clk, e.mon, e.opt.Market, e.queue, e.bus)
		subs = append(subs,
			e.bus.SubscribeFunc(gb.HandleEvent, gb.Kinds()...),
			e.bus.SubscribeFunc(ab.HandleEvent, ab.Kinds()...),
		)
	}

	e.sched.Add(b)
	e.byName[name] = id
	e.handles[id] = &botHandle{bot: b, prof: pc, quest: qc, subs: subs}
	return b, nil
}

// Delete despawns a bot: pending actions cancelled, subscriptions removed,
// persisted rows dropped. Sim thread only.
func (e *Engine) Delete(name string) error {
	id, found := e.byName[name]
	if !found {
		return fmt.Errorf("no bot named %q", name)
	}
	h := e.handles[id]
	for _, sub := range h.subs {
		e.bus.UnsubscribeFunc(sub)
	}
	e.interact.Cancel(id)
	e.sched.Remove(id)
	delete(e.byName, name)
	delete(e.handles, id)
	if e.opt.Profiles != nil {
		e.opt.Profiles.DeleteBot(id)
	}
	return nil
}

// Find resolves a bot by name. Sim thread only.
func (e *Engine) Find(name string) (*bots.Bot, bool) {
	id, found := e.byName[name]
	if !found {
		return nil, false
	}
	return e.sched.Get(id), true
}

// All returns the last tick's roster mirror. Safe from any thread; the
// returned bots are copies.
func (e *Engine) All() []*bots.Bot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.mirror
}

// Profession returns a bot's profession coordinator, for host adapters
// that feed skill state. Sim thread only.
func (e *Engine) Profession(id host.BotID) *profession.Coordinator {
	if h := e.handles[id]; h != nil {
		return h.prof
	}
	return nil
}

// Quest returns a bot's quest coordinator. Sim thread only.
func (e *Engine) Quest(id host.BotID) *quest.Coordinator {
	if h := e.handles[id]; h != nil {
		return h.quest
	}
	return nil
}

// SetAggression applies a group combat-pull level to every current and
// future bot. Sim thread only.
func (e *Engine) SetAggression(level int) {
	e.aggro = level
	for _, h := range e.handles {
		h.quest.SetAggression(level)
	}
}

// HandlePacket routes a host packet to the interaction machine. Sim thread
// only.
func (e *Engine) HandlePacket(bot host.BotID, p interact.Packet) bool {
	return e.interact.HandlePacket(bot, p)
}

// TickStats reports one full engine tick.
type TickStats struct {
	Tick      uint64
	Scheduler bots.TickStats
	Actions   actions.DrainStats
	Events    events.DrainStats
}

// Tick runs one full simulation pass. Sim thread only.
func (e *Engine) Tick() TickStats {
	tickStart := time.Now()
	e.tick++
	var st TickStats
	st.Tick = e.tick

	tun := e.opt.Tuning

	if tun.SpatialRefreshTicks > 0 && e.tick%uint64(tun.SpatialRefreshTicks) == 0 {
		e.refreshSpatial()
	}

	eventBudget := time.Duration(tun.EventDrainMs) * time.Millisecond
	pre := e.bus.DrainBudget(tun.EventTickBudget, eventBudget)

	st.Scheduler = e.sched.RunTick()

	drainStart := time.Now()
	st.Actions = e.queue.Drain(e.world, time.Duration(tun.ActionDrainMs)*time.Millisecond)
	e.mon.Sample(monitor.WindowDrainMs, float64(time.Since(drainStart).Microseconds())/1000)

	post := e.bus.DrainBudget(tun.EventTickBudget, eventBudget)
	st.Events = events.DrainStats{
		Delivered: pre.Delivered + post.Delivered,
		Expired:   pre.Expired + post.Expired,
	}

	e.refreshMirror()
	e.mon.SetActivity(e.sched.Activity())

	elapsed := time.Since(tickStart)
	e.mon.Sample(monitor.WindowTickMs, float64(elapsed.Microseconds())/1000)
	e.updateResources(elapsed)
	e.mon.UpdateAlerts()

	// One history row per minute feeds the bounded snapshot FIFO.
	if now := e.clk.Now(); now.Sub(e.lastHistory) >= time.Minute {
		e.mon.RecordHistory(e.mon.Snapshot())
		e.lastHistory = now
	}

	return st
}

// refreshSpatial republishes one snapshot per map holding bots, centered
// on the roster's centroid and wide enough to cover every bot's view.
func (e *Engine) refreshSpatial() {
	type mapAcc struct {
		sum  host.Position
		pos  []host.Position
	}
	perMap := map[uint32]*mapAcc{}
	for id := range e.handles {
		info, live := e.world.ResolveEntity(id.Entity())
		if !live {
			continue
		}
		acc := perMap[info.Pos.Map]
		if acc == nil {
			acc = &mapAcc{}
			perMap[info.Pos.Map] = acc
		}
		acc.sum.X += info.Pos.X
		acc.sum.Y += info.Pos.Y
		acc.sum.Z += info.Pos.Z
		acc.pos = append(acc.pos, info.Pos)
	}
	for mapID, acc := range perMap {
		n := float64(len(acc.pos))
		center := host.Position{
			Map: mapID,
			X:   acc.sum.X / n,
			Y:   acc.sum.Y / n,
			Z:   acc.sum.Z / n,
		}
		radius := e.opt.ViewRadius
		for _, p := range acc.pos {
			if d := center.DistanceTo(p) + e.opt.ViewRadius; d > radius {
				radius = d
			}
		}
		e.grid.RefreshFromHost(e.world, mapID, e.tick, center, radius)
	}
}

func (e *Engine) refreshMirror() {
	all := e.sched.All()
	mirror := make([]*bots.Bot, 0, len(all))
	for _, b := range all {
		cp := *b
		mirror = append(mirror, &cp)
	}
	e.mu.Lock()
	e.mirror = mirror
	e.mu.Unlock()
}

// updateResources estimates CPU as tick time over tick interval and reads
// heap usage from the runtime every 64 ticks.
func (e *Engine) updateResources(elapsed time.Duration) {
	interval := time.Duration(e.opt.Tuning.TickIntervalMs) * time.Millisecond
	cpu := float64(elapsed) / float64(interval)
	if cpu > 1 {
		cpu = 1
	}
	if e.tick%64 == 1 || e.lastRSS == 0 {
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		e.lastRSS = ms.HeapInuse + ms.StackInuse
	}
	e.mon.SetResources(cpu, e.lastRSS)
}

// Do runs fn on the simulation thread between ticks. Blocks until staged;
// fn itself signals its own completion if the caller needs the result.
func (e *Engine) Do(fn func()) {
	e.ops <- fn
}

// Run drives Tick at the configured cadence until ctx is done. Staged ops
// run between ticks, on the same goroutine.
func (e *Engine) Run(ctx context.Context) {
	interval := time.Duration(e.opt.Tuning.TickIntervalMs) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	e.log.Printf("engine running, tick interval %v", interval)
	for {
		select {
		case <-ctx.Done():
			e.log.Printf("engine stopped after %d ticks", e.tick)
			return
		case fn := <-e.ops:
			fn()
		case <-ticker.C:
			e.Tick()
		}
	}
}

// Close flushes persisted state.
func (e *Engine) Close() error {
	if e.opt.Profiles != nil {
		e.opt.Profiles.Flush()
	}
	return nil
}

// profSkills adapts the profession coordinator to the pricing engine's
// skill lookups.
type profSkills struct{ pc *profession.Coordinator }

func (s profSkills) SkillLevel(skill uint32) (int, bool) {
	p := s.pc.Profession(skill)
	if p == nil {
		return 0, false
	}
	return p.Current, true
}
