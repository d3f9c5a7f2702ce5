package interact

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"playerbots/internal/sim/actions"
	"playerbots/internal/sim/bots"
	"playerbots/internal/sim/clock"
	"playerbots/internal/sim/host"
	"playerbots/internal/sim/monitor"
)

// Sampled once per finished session.
const WindowDurationMs = "interact.duration.ms"

// Action priorities used by interaction traffic. Above routine movement,
// below combat.
const (
	prioApproach = 6
	prioDialogue = 7
)

// StartRange is the farthest a target may be for a session to begin at
// all; beyond it the caller should path first.
const StartRange = 100.0

type dwellTable map[State]time.Duration

func defaultDwell() dwellTable {
	return dwellTable{
		StateApproaching:     10 * time.Second,
		StateInitiating:      2 * time.Second,
		StateWaitingGossip:   5 * time.Second,
		StateProcessingMenu:  5 * time.Second,
		StateExecutingAction: 10 * time.Second,
		StateCompleting:      2 * time.Second,
	}
}

// KindStats is the per-kind outcome tally.
type KindStats struct {
	Started   int
	Succeeded int
	Failed    int
	ByReason  map[FailReason]int
}

type Config struct {
	MaxAttempts    int           // dialogue retries before giving up, default 3
	SessionTimeout time.Duration // hard cap on a whole session, default 30 s
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = 30 * time.Second
	}
	return c
}

// Manager owns every live interaction session. Step, Start, Cancel and
// HandlePacket all run on the sim thread; only the read accessors take the
// mutex for the benefit of observers.
type Manager struct {
	cfg   Config
	clk   clock.Clock
	mon   *monitor.Monitor
	queue *actions.Queue
	world host.World
	dwell dwellTable

	mu       sync.Mutex
	sessions map[host.BotID]*Context
	last     map[host.BotID]Context
	stats    map[Kind]*KindStats
}

func NewManager(cfg Config, clk clock.Clock, mon *monitor.Monitor, q *actions.Queue, w host.World) *Manager {
	return &Manager{
		cfg:      cfg.withDefaults(),
		clk:      clk,
		mon:      mon,
		queue:    q,
		world:    w,
		dwell:    defaultDwell(),
		sessions: map[host.BotID]*Context{},
		last:     map[host.BotID]Context{},
		stats:    map[Kind]*KindStats{},
	}
}

// Start opens a session for the bot against the target. One session per
// bot; a second Start while one is live fails without touching it.
func (m *Manager) Start(bot host.BotID, target host.EntityID, kind Kind, p Params) error {
	m.mu.Lock()
	_, busy := m.sessions[bot]
	m.mu.Unlock()
	if busy {
		return ErrAlreadyBusy
	}

	info, ok := m.world.ResolveEntity(target)
	if !ok || !info.Visible {
		return ErrNotInteractable
	}
	if info.Kind == host.KindCreature && !info.Alive {
		return ErrNotInteractable
	}
	if info.Kind == host.KindGameObject && (!info.Spawned || info.InUse) {
		return ErrNotInteractable
	}
	self, ok := m.world.ResolveEntity(bot.Entity())
	if !ok {
		return ErrNotInteractable
	}
	dist := self.Pos.DistanceTo(info.Pos)
	if dist > StartRange {
		return ErrOutOfRange
	}

	now := m.clk.Now()
	ctx := &Context{
		Session:   uuid.New(),
		Bot:       bot,
		Target:    target,
		Kind:      kind,
		Params:    p,
		State:     StateApproaching,
		StartedAt: now,
		Deadline:  now.Add(m.cfg.SessionTimeout),
		enteredAt: now,
	}
	if dist <= InteractRange {
		ctx.State = StateInitiating
	}

	m.mu.Lock()
	m.sessions[bot] = ctx
	st := m.statsFor(kind)
	st.Started++
	m.mu.Unlock()
	return nil
}

// Active reports whether the bot has a live session.
func (m *Manager) Active(bot host.BotID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[bot] != nil
}

// Status returns a copy of the live session, if any.
func (m *Manager) Status(bot host.BotID) (Context, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c := m.sessions[bot]; c != nil {
		return *c, true
	}
	return Context{}, false
}

// Last returns the final record of the bot's most recent finished session.
func (m *Manager) Last(bot host.BotID) (Context, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.last[bot]
	return c, ok
}

// Stats returns the outcome tally for one kind.
func (m *Manager) Stats(kind Kind) KindStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.stats[kind]
	if st == nil {
		return KindStats{ByReason: map[FailReason]int{}}
	}
	out := *st
	out.ByReason = map[FailReason]int{}
	for k, v := range st.ByReason {
		out.ByReason[k] = v
	}
	return out
}

func (m *Manager) statsFor(kind Kind) *KindStats {
	st := m.stats[kind]
	if st == nil {
		st = &KindStats{ByReason: map[FailReason]int{}}
		m.stats[kind] = st
	}
	return st
}

// Cancel aborts the bot's session. Idempotent; cancelling an idle bot is a
// no-op.
func (m *Manager) Cancel(bot host.BotID) {
	m.mu.Lock()
	ctx := m.sessions[bot]
	m.mu.Unlock()
	if ctx == nil {
		return
	}
	m.fail(ctx, FailCancelled)
}

// Step advances the bot's session by at most one state. Dwell timeouts are
// evaluated first; dialogue states retry before failing, the approach does
// not.
func (m *Manager) Step(bot host.BotID) {
	m.mu.Lock()
	ctx := m.sessions[bot]
	m.mu.Unlock()
	if ctx == nil {
		return
	}
	now := m.clk.Now()

	if now > ctx.Deadline {
		m.fail(ctx, FailTimeout)
		return
	}
	if d := m.dwell[ctx.State]; d > 0 && now.Sub(ctx.enteredAt) > d {
		switch ctx.State {
		case StateApproaching:
			m.fail(ctx, FailTimeout)
		case StateCompleting:
			// No result packet arrived; the host applied the action
			// silently.
			m.succeed(ctx)
		default:
			m.retryOrFail(ctx, FailTimeout)
		}
		return
	}

	switch ctx.State {
	case StateApproaching:
		m.stepApproach(ctx)
	case StateInitiating:
		m.enqueueDialogue(ctx, "GOSSIP_HELLO", 0)
		ctx.awaitingPacket = PacketGossipMenu
		m.transition(ctx, StateWaitingGossip)
	case StateWaitingGossip, StateCompleting:
		// Packet-driven; nothing to do until HandlePacket fires.
	case StateProcessingMenu:
		m.stepMenu(ctx)
	case StateExecutingAction:
		m.stepExecute(ctx)
	}
}

func (m *Manager) stepApproach(ctx *Context) {
	info, ok := m.world.ResolveEntity(ctx.Target)
	if !ok {
		m.fail(ctx, FailUnavailable)
		return
	}
	self, ok := m.world.ResolveEntity(ctx.Bot.Entity())
	if !ok {
		m.fail(ctx, FailError)
		return
	}
	if self.Pos.DistanceTo(info.Pos) <= InteractRange {
		m.transition(ctx, StateInitiating)
		return
	}
	if !ctx.moveRequested {
		m.queue.Enqueue(actions.Action{
			Kind:     actions.KindMoveToEntity,
			Actor:    ctx.Bot,
			Target:   ctx.Target,
			Priority: prioApproach,
		})
		ctx.moveRequested = true
	}
}

func (m *Manager) stepMenu(ctx *Context) {
	if len(ctx.GossipOptions) > 0 {
		ctx.chosenOption = chooseOption(ctx.Kind, ctx.GossipOptions)
		m.enqueueDialogue(ctx, "GOSSIP_SELECT", ctx.chosenOption)
	}
	ctx.awaitingPacket = expectedMenu(ctx.Kind)
	m.transition(ctx, StateExecutingAction)
}

func (m *Manager) stepExecute(ctx *Context) {
	if ctx.awaitingPacket != "" {
		return
	}
	switch ctx.Kind {
	case KindBuy:
		m.enqueueDialogue(ctx, "VENDOR_BUY", ctx.Params.Count)
	case KindSell:
		m.enqueueDialogue(ctx, "VENDOR_SELL", ctx.Params.Count)
	case KindRepair:
		m.enqueueDialogue(ctx, "VENDOR_REPAIR", 0)
	case KindTrain:
		m.enqueueDialogue(ctx, "TRAINER_BUY", 0)
	case KindQuestAccept:
		m.queue.Enqueue(actions.Action{
			Kind: actions.KindAcceptQuest, Actor: ctx.Bot, Target: ctx.Target,
			QuestID: ctx.Params.QuestID, Priority: prioDialogue,
		})
	case KindQuestTurnIn:
		m.queue.Enqueue(actions.Action{
			Kind: actions.KindTurnInQuest, Actor: ctx.Bot, Target: ctx.Target,
			QuestID: ctx.Params.QuestID, Priority: prioDialogue,
		})
	case KindFlight:
		m.enqueueDialogue(ctx, "TAXI_FLY", int(ctx.Params.NodeID))
	case KindBind:
		m.enqueueDialogue(ctx, "BINDER_CONFIRM", 0)
	case KindBank, KindMail:
		// Opening the window is the whole interaction; follow-up traffic
		// goes through the banking coordinator.
	}
	m.transition(ctx, StateCompleting)
}

func (m *Manager) enqueueDialogue(ctx *Context, opcode string, n int) {
	m.queue.Enqueue(actions.Action{
		Kind:     actions.KindInteractNPC,
		Actor:    ctx.Bot,
		Target:   ctx.Target,
		Args:     opcode,
		Count:    n,
		ItemID:   ctx.Params.ItemID,
		SpellID:  ctx.Params.SpellID,
		Priority: prioDialogue,
	})
}

// HandlePacket routes one host packet to the bot's waiting session.
// Returns false when no session wanted it.
func (m *Manager) HandlePacket(bot host.BotID, p Packet) bool {
	m.mu.Lock()
	ctx := m.sessions[bot]
	m.mu.Unlock()
	if ctx == nil {
		return false
	}
	ctx.LastPacket = m.clk.Now()

	switch p.Opcode {
	case PacketGossipMenu:
		if ctx.State != StateWaitingGossip {
			return false
		}
		ctx.GossipOptions = p.Options
		m.transition(ctx, StateProcessingMenu)
		return true
	case PacketResult:
		if ctx.State != StateCompleting {
			return false
		}
		ctx.SubResult = p.Reason
		if p.OK {
			m.succeed(ctx)
		} else {
			m.fail(ctx, FailRejected)
		}
		return true
	default:
		if ctx.State == StateExecutingAction && ctx.awaitingPacket == p.Opcode {
			ctx.awaitingPacket = ""
			ctx.GossipOptions = p.Options
			return true
		}
	}
	return false
}

func (m *Manager) transition(ctx *Context, s State) {
	ctx.State = s
	ctx.enteredAt = m.clk.Now()
}

// retryOrFail restarts the dialogue from the hello packet, up to the
// attempt cap.
func (m *Manager) retryOrFail(ctx *Context, reason FailReason) {
	ctx.Retries++
	if ctx.Retries >= m.cfg.MaxAttempts {
		m.fail(ctx, reason)
		return
	}
	ctx.GossipOptions = nil
	ctx.awaitingPacket = ""
	m.transition(ctx, StateInitiating)
}

func (m *Manager) succeed(ctx *Context) {
	dur := m.clk.Now().Sub(ctx.StartedAt)
	m.mon.Sample(WindowDurationMs, float64(dur.Milliseconds()))
	m.mu.Lock()
	m.statsFor(ctx.Kind).Succeeded++
	m.finishLocked(ctx, StateCompleting, FailNone)
	m.mu.Unlock()
}

func (m *Manager) fail(ctx *Context, reason FailReason) {
	m.mon.Increment(monitor.CounterWarnings)
	m.mu.Lock()
	st := m.statsFor(ctx.Kind)
	st.Failed++
	st.ByReason[reason]++
	m.finishLocked(ctx, StateFailed, reason)
	m.mu.Unlock()
}

func (m *Manager) finishLocked(ctx *Context, final State, reason FailReason) {
	ctx.State = final
	ctx.Reason = reason
	m.last[ctx.Bot] = *ctx
	delete(m.sessions, ctx.Bot)
}

// expectedMenu names the packet that must arrive after the menu selection
// before the kind's action may fire. Empty means none.
func expectedMenu(k Kind) string {
	switch k {
	case KindBuy, KindSell, KindRepair:
		return PacketVendorList
	case KindTrain:
		return PacketTrainerList
	case KindBank:
		return PacketBankOpen
	case KindMail:
		return PacketMailOpen
	case KindFlight:
		return PacketTaxiMap
	case KindQuestAccept, KindQuestTurnIn:
		return PacketQuestDetails
	default:
		return ""
	}
}

// chooseOption picks the gossip entry whose icon matches the kind, falling
// back to the first option.
func chooseOption(k Kind, opts []GossipOption) int {
	var want string
	switch k {
	case KindBuy, KindSell, KindRepair:
		want = "vendor"
	case KindTrain:
		want = "trainer"
	case KindBank:
		want = "banker"
	case KindMail:
		want = "mail"
	case KindQuestAccept, KindQuestTurnIn:
		want = "quest"
	case KindFlight:
		want = "taxi"
	case KindBind:
		want = "binder"
	}
	for _, o := range opts {
		if o.Icon == want {
			return o.Index
		}
	}
	return opts[0].Index
}

// Coordinator adapts a bot's interaction sessions to the scheduler.
type Coordinator struct {
	mgr *Manager
	bot host.BotID
}

func NewCoordinator(m *Manager, bot host.BotID) *Coordinator {
	return &Coordinator{mgr: m, bot: bot}
}

func (c *Coordinator) Step(_ *bots.TickContext) { c.mgr.Step(c.bot) }

func (c *Coordinator) Band() bots.Band {
	if c.mgr.Active(c.bot) {
		return bots.BandInteraction
	}
	return bots.BandIdle
}
