package quest

import (
	"time"

	"playerbots/internal/sim/actions"
	"playerbots/internal/sim/botevent"
	"playerbots/internal/sim/bots"
	"playerbots/internal/sim/clock"
	"playerbots/internal/sim/events"
	"playerbots/internal/sim/host"
	"playerbots/internal/sim/monitor"
	"playerbots/internal/sim/spatial"
)

// Action priorities for quest work. Combat credit outranks travel.
const (
	prioAttack = 8
	prioUse    = 7
	prioMove   = 5
)

// arriveRadius is how close a travel step gets before the objective is
// considered on site.
const arriveRadius = 30.0

type Config struct {
	SearchRadius    float64       // initial target search radius, default 30
	MaxSearchRadius float64       // widened cap, default 240
	StuckAfter      time.Duration // no progress before flagging, default 2 min
	MaxRetries      int           // widenings before an objective fails, default 3
}

func (c Config) withDefaults() Config {
	if c.SearchRadius <= 0 {
		c.SearchRadius = 30
	}
	if c.MaxSearchRadius < c.SearchRadius {
		c.MaxSearchRadius = 240
	}
	if c.StuckAfter <= 0 {
		c.StuckAfter = 2 * time.Minute
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	return c
}

// Coordinator runs one bot's quest log. Sim thread only.
type Coordinator struct {
	cfg   Config
	bot   host.BotID
	clk   clock.Clock
	mon   *monitor.Monitor
	world host.World
	grid  *spatial.Manager
	queue *actions.Queue
	bus   *botevent.Bus

	quests map[uint32]*Quest
	aggro  int
}

// pullScale widens the combat search radius per aggression level; level 0
// is passive.
var pullScale = [4]float64{0, 1, 1.5, 2}

func NewCoordinator(cfg Config, bot host.BotID, clk clock.Clock, mon *monitor.Monitor,
	w host.World, grid *spatial.Manager, q *actions.Queue, bus *botevent.Bus) *Coordinator {
	return &Coordinator{
		cfg:    cfg.withDefaults(),
		bot:    bot,
		clk:    clk,
		mon:    mon,
		world:  w,
		grid:   grid,
		queue:  q,
		bus:    bus,
		quests: map[uint32]*Quest{},
		aggro:  1,
	}
}

// SetAggression sets the combat pull level, clamped to 0..3. Level 0 is
// passive: combat objectives stop engaging new targets.
func (c *Coordinator) SetAggression(level int) {
	if level < 0 {
		level = 0
	}
	if level > len(pullScale)-1 {
		level = len(pullScale) - 1
	}
	c.aggro = level
}

func (c *Coordinator) Aggression() int { return c.aggro }

// Track starts driving a quest. Objective target locations are resolved
// once from the host spawn tables; later steps reuse them.
func (c *Coordinator) Track(q *Quest) {
	if q == nil || q.QuestID == 0 || c.quests[q.QuestID] != nil {
		return
	}
	now := c.clk.Now()
	for _, o := range q.Objectives {
		if o.SearchRadius <= 0 {
			o.SearchRadius = c.cfg.SearchRadius
		}
		o.lastProgress = now
		if !o.HasLoc {
			if loc, ok := c.spawnLocation(o); ok {
				o.TargetLoc = loc
				o.HasLoc = true
			}
		}
	}
	q.LastUpdate = now
	c.quests[q.QuestID] = q
}

func (c *Coordinator) Untrack(questID uint32) { delete(c.quests, questID) }

// Abandon drops a quest and tells the host.
func (c *Coordinator) Abandon(questID uint32) {
	if c.quests[questID] == nil {
		return
	}
	delete(c.quests, questID)
	c.queue.Enqueue(actions.Action{Kind: actions.KindAbandonQuest, Actor: c.bot, QuestID: questID, Priority: prioMove})
	c.bus.Publish(botevent.Event{
		Kind: botevent.KindQuestAbandoned, Priority: events.PriorityMedium,
		At: c.clk.Now(), Bot: c.bot, QuestID: questID,
	})
}

func (c *Coordinator) Tracked(questID uint32) *Quest { return c.quests[questID] }

func (c *Coordinator) Len() int { return len(c.quests) }

// Band reports questing urgency: active work ranks at the quest band.
func (c *Coordinator) Band() bots.Band {
	for _, q := range c.quests {
		if !q.Complete() {
			return bots.BandQuest
		}
	}
	return bots.BandIdle
}

// Step refreshes objective counts from the host quest log, picks the
// best-scoring incomplete objective and advances it one move.
func (c *Coordinator) Step(ctx *bots.TickContext) {
	now := ctx.Now
	self, ok := c.world.ResolveEntity(c.bot.Entity())
	if !ok {
		return
	}

	for _, q := range c.quests {
		c.refresh(q, now)
		if q.Complete() {
			c.announceReady(q, now)
		}
	}

	q, o := c.pick(self.Pos)
	if o == nil {
		return
	}
	c.checkStuck(q, o, now)
	if o.Status.Done() {
		return
	}
	if o.lastStepAt > 0 {
		o.TimeSpentMs += now - o.lastStepAt
	}
	o.lastStepAt = now
	c.dispatch(q, o, self.Pos)
	q.LastUpdate = now
}

// refresh pulls current counts from the host and moves statuses forward.
func (c *Coordinator) refresh(q *Quest, now clock.Millis) {
	for _, o := range q.Objectives {
		if o.Status.Done() {
			continue
		}
		n := c.world.QuestObjectiveCount(c.bot, q.QuestID, o.Index)
		if n > o.CurrentCount {
			o.CurrentCount = n
			o.lastProgress = now
			o.moveIssued = false
			q.Stuck = false
		}
		switch {
		case o.CurrentCount >= o.RequiredCount:
			o.Status = StatusCompleted
		case o.CurrentCount > 0 && o.Status == StatusNotStarted:
			o.Status = StatusInProgress
		}
	}
}

func (c *Coordinator) announceReady(q *Quest, now clock.Millis) {
	if q.readyPublished {
		return
	}
	q.readyPublished = true
	c.bus.Publish(botevent.Event{
		Kind: botevent.KindQuestReadyForTurnIn, Priority: events.PriorityHigh,
		At: now, Bot: c.bot, QuestID: q.QuestID,
	})
}

// pick scores every incomplete objective across tracked quests and returns
// the best.
func (c *Coordinator) pick(pos host.Position) (*Quest, *Objective) {
	var bestQ *Quest
	var bestO *Objective
	best := -1.0
	for _, q := range c.quests {
		w := q.Strategy.weights()
		for _, o := range q.Objectives {
			if o.Status.Done() || o.Kind.Category() == CategoryPassive {
				continue
			}
			if s := score(w, o, pos); s > best {
				best, bestQ, bestO = s, q, o
			}
		}
	}
	return bestQ, bestO
}

// score is the weighted sum of urgency, ease, efficiency and proximity,
// each normalized to 0..1.
func score(w weights, o *Objective, pos host.Position) float64 {
	urgency := 1.0
	if o.RequiredCount > 0 {
		urgency = float64(o.Remaining()) / float64(o.RequiredCount)
	}
	ease := 1.0 / float64(1+o.Retries)
	efficiency := 0.5
	if o.TimeSpentMs > 0 {
		perCredit := float64(o.TimeSpentMs) / float64(o.CurrentCount+1)
		efficiency = 60000 / (60000 + perCredit)
	}
	proximity := 0.5
	if o.HasLoc {
		proximity = 100 / (100 + pos.DistanceTo(o.TargetLoc))
	}
	return w.urgency*urgency + w.ease*ease + w.efficiency*efficiency + w.proximity*proximity
}

// checkStuck flags objectives with no progress for the stuck window and
// escalates: widen the search, then fail, then strategy-dependent abandon.
func (c *Coordinator) checkStuck(q *Quest, o *Objective, now clock.Millis) {
	if now.Sub(o.lastProgress) < c.cfg.StuckAfter {
		return
	}
	q.Stuck = true
	o.Retries++
	o.lastProgress = now
	o.moveIssued = false
	c.mon.Increment(monitor.CounterWarnings)

	if o.Retries <= c.cfg.MaxRetries {
		o.SearchRadius *= 1.5
		if o.SearchRadius > c.cfg.MaxSearchRadius {
			o.SearchRadius = c.cfg.MaxSearchRadius
		}
		return
	}

	o.Status = StatusFailed
	q.ConsecutiveFailures++
	if q.Strategy.abandonsWhenStuck() {
		c.Abandon(q.QuestID)
	} else {
		o.Status = StatusSkipped
	}
}

// dispatch routes one objective to its category handler.
func (c *Coordinator) dispatch(q *Quest, o *Objective, pos host.Position) {
	switch o.Kind.Category() {
	case CategoryCombat:
		c.stepCombat(o, pos)
	case CategoryGather:
		c.stepGather(o, pos)
	case CategoryUse:
		c.stepUse(o, pos)
	case CategoryTravel:
		c.stepTravel(o, pos)
	}
}

// stepCombat attacks a live target creature in snapshot range, travelling
// to the known spawn area when none is visible.
func (c *Coordinator) stepCombat(o *Objective, pos host.Position) {
	if c.aggro == 0 {
		return
	}
	res := c.grid.Query(pos, o.SearchRadius*pullScale[c.aggro])
	for _, cr := range res.Creatures {
		if cr.Entry != o.TargetID || !cr.Alive || !cr.Visible {
			continue
		}
		c.queue.Enqueue(actions.Action{
			Kind: actions.KindAttackEntity, Actor: c.bot, Target: cr.ID, Priority: prioAttack,
		})
		return
	}
	c.travelToTarget(o, pos)
}

// stepGather loots spawned objects carrying the item, or kills droppers the
// same way combat does.
func (c *Coordinator) stepGather(o *Objective, pos host.Position) {
	res := c.grid.Query(pos, o.SearchRadius)
	for _, ob := range res.Objects {
		if ob.Entry != o.TargetID || !ob.Spawned || ob.InUse {
			continue
		}
		c.queue.Enqueue(actions.Action{
			Kind: actions.KindLootEntity, Actor: c.bot, Target: ob.ID, Priority: prioUse,
		})
		return
	}
	for _, cr := range res.Creatures {
		if cr.Entry != o.TargetID || !cr.Alive {
			continue
		}
		c.queue.Enqueue(actions.Action{
			Kind: actions.KindAttackEntity, Actor: c.bot, Target: cr.ID, Priority: prioAttack,
		})
		return
	}
	c.travelToTarget(o, pos)
}

// stepUse interacts with the target NPC/object, or casts the objective
// spell at it.
func (c *Coordinator) stepUse(o *Objective, pos host.Position) {
	res := c.grid.Query(pos, o.SearchRadius)
	var target host.EntityID
	for _, ob := range res.Objects {
		if ob.Entry == o.TargetID && ob.Spawned && !ob.InUse {
			target = ob.ID
			break
		}
	}
	if target == 0 {
		for _, cr := range res.Creatures {
			if cr.Entry == o.TargetID && cr.Alive {
				target = cr.ID
				break
			}
		}
	}
	if target == 0 {
		c.travelToTarget(o, pos)
		return
	}
	switch o.Kind {
	case ObjectiveCastSpell:
		c.queue.Enqueue(actions.Action{
			Kind: actions.KindCastSpell, Actor: c.bot, Target: target,
			SpellID: o.SpellID, Priority: prioUse,
		})
	default:
		c.queue.Enqueue(actions.Action{
			Kind: actions.KindUseObject, Actor: c.bot, Target: target, Priority: prioUse,
		})
	}
}

// stepTravel walks to the objective location; arrival is credited by the
// host area trigger.
func (c *Coordinator) stepTravel(o *Objective, pos host.Position) {
	if !o.HasLoc {
		o.Status = StatusBlocked
		return
	}
	if pos.DistanceTo(o.TargetLoc) <= arriveRadius {
		return
	}
	c.travelToTarget(o, pos)
}

// travelToTarget issues one move toward the objective's known location.
// The move is not re-issued until progress or a stuck widening resets it.
func (c *Coordinator) travelToTarget(o *Objective, pos host.Position) {
	if !o.HasLoc || o.moveIssued {
		return
	}
	if pos.DistanceTo(o.TargetLoc) <= arriveRadius {
		return
	}
	o.moveIssued = true
	c.queue.Enqueue(actions.Action{
		Kind: actions.KindMoveToPosition, Actor: c.bot, Pos: o.TargetLoc, Priority: prioMove,
	})
}

// spawnLocation asks the host spawn tables for a place to look.
func (c *Coordinator) spawnLocation(o *Objective) (host.Position, bool) {
	var kinds []host.EntityKind
	switch o.Kind.Category() {
	case CategoryCombat:
		kinds = []host.EntityKind{host.KindCreature}
	case CategoryGather, CategoryUse:
		kinds = []host.EntityKind{host.KindGameObject, host.KindCreature}
	default:
		return host.Position{}, false
	}
	for _, k := range kinds {
		if locs := c.world.SpawnTable(k, o.TargetID); len(locs) > 0 {
			return locs[0], true
		}
	}
	return host.Position{}, false
}
