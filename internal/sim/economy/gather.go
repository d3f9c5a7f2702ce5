package economy

import (
	"playerbots/internal/sim/actions"
	"playerbots/internal/sim/botevent"
	"playerbots/internal/sim/clock"
	"playerbots/internal/sim/events"
	"playerbots/internal/sim/host"
	"playerbots/internal/sim/monitor"
	"playerbots/internal/sim/spatial"
)

const (
	prioGatherUse  = 6
	prioGatherMove = 5
)

// nodeWeights score a candidate gathering node. Distance dominates;
// contested or camped nodes are discounted.
type nodeWeights struct {
	distance, yield, competition, skillUp, priority float64
}

func defaultNodeWeights() nodeWeights {
	return nodeWeights{distance: 0.35, yield: 0.2, competition: 0.2, skillUp: 0.1, priority: 0.15}
}

type GatherConfig struct {
	SearchRadius float64 // node scan radius, default 150
}

func (c GatherConfig) withDefaults() GatherConfig {
	if c.SearchRadius <= 0 {
		c.SearchRadius = 150
	}
	return c
}

// GatherBridge turns MaterialsNeeded into gathering runs when the engine
// favors gathering, and into PurchaseRequested events otherwise. One
// instance serves one bot.
type GatherBridge struct {
	cfg     GatherConfig
	bot     host.BotID
	clk     clock.Clock
	mon     *monitor.Monitor
	world   host.World
	grid    *spatial.Manager
	queue   *actions.Queue
	bus     *botevent.Bus
	engine  *Engine
	skills  SkillSource
	weights nodeWeights
}

func NewGatherBridge(cfg GatherConfig, bot host.BotID, clk clock.Clock, mon *monitor.Monitor,
	w host.World, grid *spatial.Manager, q *actions.Queue, bus *botevent.Bus,
	engine *Engine, skills SkillSource) *GatherBridge {
	return &GatherBridge{
		cfg: cfg.withDefaults(), bot: bot, clk: clk, mon: mon,
		world: w, grid: grid, queue: q, bus: bus,
		engine: engine, skills: skills,
		weights: defaultNodeWeights(),
	}
}

// HandleEvent consumes MaterialsNeeded for this bot.
func (g *GatherBridge) HandleEvent(e botevent.Event) {
	if e.Kind != botevent.KindMaterialsNeeded || e.Bot != g.bot {
		return
	}
	d := g.engine.Decide(g.skills, e.ItemID, e.Count)
	if d.Method == MethodGather {
		g.gather(e.ItemID)
		return
	}
	g.bus.Publish(botevent.Event{
		Kind: botevent.KindPurchaseRequested, Priority: events.PriorityMedium,
		At: g.clk.Now(), Bot: g.bot, ItemID: e.ItemID, Count: e.Count,
		MaxUnit: g.maxUnit(e.ItemID),
	})
}

// maxUnit caps the purchase at a modest premium over the typical price.
func (g *GatherBridge) maxUnit(itemID uint32) int64 {
	if p := g.engine.market.MarketPrice(itemID); p > 0 {
		return p + p/10
	}
	return 0
}

// gather picks the best visible node for the material and stages a use, or
// a move toward the node when it is out of interaction reach.
func (g *GatherBridge) gather(itemID uint32) {
	info := g.engine.cfg.Catalog[itemID]
	if info.NodeEntry == 0 {
		return
	}
	self, ok := g.world.ResolveEntity(g.bot.Entity())
	if !ok {
		return
	}
	res := g.grid.Query(self.Pos, g.cfg.SearchRadius)
	best, found := g.bestNode(res, self.Pos, info)
	if !found {
		return
	}
	if self.Pos.DistanceTo(best.Pos) > 5.5 {
		g.queue.Enqueue(actions.Action{
			Kind: actions.KindMoveToPosition, Actor: g.bot, Pos: best.Pos, Priority: prioGatherMove,
		})
		return
	}
	g.queue.Enqueue(actions.Action{
		Kind: actions.KindUseObject, Actor: g.bot, Target: best.ID, Priority: prioGatherUse,
	})
}

// bestNode scores spawned, unoccupied nodes of the material's entry.
func (g *GatherBridge) bestNode(res spatial.Result, pos host.Position, info MaterialInfo) (spatial.ObjectSnapshot, bool) {
	var best spatial.ObjectSnapshot
	bestScore := -1.0
	for _, o := range res.Objects {
		if o.Entry != info.NodeEntry || !o.Spawned || o.InUse || !o.Visible {
			continue
		}
		if s := g.scoreNode(res, pos, o, info); s > bestScore {
			bestScore, best = s, o
		}
	}
	return best, bestScore >= 0
}

// scoreNode composes distance, yield, competition, skill-up chance and
// material priority into one 0..1 figure.
func (g *GatherBridge) scoreNode(res spatial.Result, pos host.Position, o spatial.ObjectSnapshot, info MaterialInfo) float64 {
	w := g.weights
	dist := pos.DistanceTo(o.Pos)
	distScore := 1 - dist/g.cfg.SearchRadius
	if distScore < 0 {
		distScore = 0
	}

	// Yield estimate is flat per node kind today.
	yieldScore := 0.5

	// Competition: creatures in combat near the node make it expensive.
	hostiles := 0
	for _, c := range res.Creatures {
		if c.Alive && c.Pos.DistanceTo(o.Pos) <= 20 {
			hostiles++
		}
	}
	compScore := 1.0 / float64(1+hostiles)

	// Skill-up probability from the bracket distance.
	skillScore := 0.5
	if lvl, ok := g.skills.SkillLevel(info.GatherSkill); ok && lvl > 0 {
		skillScore = 1.0 / float64(1+lvl/75)
	}

	return w.distance*distScore + w.yield*yieldScore + w.competition*compScore +
		w.skillUp*skillScore + w.priority*info.Priority
}

// Kinds lists the bus subscriptions the bridge wants.
func (g *GatherBridge) Kinds() []events.Kind {
	return []events.Kind{botevent.KindMaterialsNeeded}
}
