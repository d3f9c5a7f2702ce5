package profession

import (
	"playerbots/internal/sim/actions"
	"playerbots/internal/sim/botevent"
	"playerbots/internal/sim/bots"
	"playerbots/internal/sim/clock"
	"playerbots/internal/sim/events"
	"playerbots/internal/sim/host"
	"playerbots/internal/sim/monitor"
)

const (
	prioCraft = 6
	prioMove  = 5
)

// Sampled once per finished farming session.
const WindowSessionMin = "profession.session.min"

// Coordinator owns one bot's professions. Step runs on the sim thread;
// HandleEvent is invoked from bus drains, also on the sim thread.
type Coordinator struct {
	cfg   Config
	bot   host.BotID
	clk   clock.Clock
	mon   *monitor.Monitor
	world host.World
	queue *actions.Queue
	bus   *botevent.Bus

	level     int
	profs     map[uint32]*Profession
	known     map[uint32]Recipe
	materials map[uint32]int
	orders    []*CraftOrder
	session   *FarmSession
	lastEnd   SessionEnd
}

func NewCoordinator(cfg Config, bot host.BotID, clk clock.Clock, mon *monitor.Monitor,
	w host.World, q *actions.Queue, bus *botevent.Bus) *Coordinator {
	return &Coordinator{
		cfg:       cfg.withDefaults(),
		bot:       bot,
		clk:       clk,
		mon:       mon,
		world:     w,
		queue:     q,
		bus:       bus,
		profs:     map[uint32]*Profession{},
		known:     map[uint32]Recipe{},
		materials: map[uint32]int{},
	}
}

func (c *Coordinator) SetLevel(l int) { c.level = l }

func (c *Coordinator) Learn(p Profession) { cp := p; c.profs[p.Skill] = &cp }

func (c *Coordinator) Profession(skill uint32) *Profession { return c.profs[skill] }

// LearnRecipe records a recipe from the catalog as known.
func (c *Coordinator) LearnRecipe(id uint32) {
	if r, ok := c.cfg.Recipes[id]; ok {
		c.known[id] = r
	}
}

// Enqueue appends a crafting order.
func (c *Coordinator) Enqueue(recipeID uint32, qty int) {
	if qty <= 0 {
		return
	}
	c.orders = append(c.orders, &CraftOrder{RecipeID: recipeID, Quantity: qty})
}

func (c *Coordinator) Orders() int { return len(c.orders) }

func (c *Coordinator) Material(itemID uint32) int { return c.materials[itemID] }

// AddMaterial credits the ledger directly (initial inventory sync).
func (c *Coordinator) AddMaterial(itemID uint32, n int) {
	if n > 0 {
		c.materials[itemID] += n
	}
}

func (c *Coordinator) Session() *FarmSession { return c.session }

func (c *Coordinator) LastSessionEnd() SessionEnd { return c.lastEnd }

// MaterialsNeeded reports the aggregate shortage across queued orders.
func (c *Coordinator) MaterialsNeeded() map[uint32]int {
	need := map[uint32]int{}
	have := map[uint32]int{}
	for k, v := range c.materials {
		have[k] = v
	}
	for _, o := range c.orders {
		r, ok := c.known[o.RecipeID]
		if !ok {
			continue
		}
		for _, rg := range r.Reagents {
			want := rg.Count * o.Quantity
			if have[rg.ItemID] >= want {
				have[rg.ItemID] -= want
				continue
			}
			need[rg.ItemID] += want - have[rg.ItemID]
			have[rg.ItemID] = 0
		}
	}
	return need
}

// targetSkill is the level-synced goal, clamped to the profession cap.
func (c *Coordinator) targetSkill(p *Profession) int {
	t := c.level * c.cfg.SkillPerLevel
	if t > p.Max {
		t = p.Max
	}
	return t
}

// Band reports quest-band urgency while profession work is pending: an
// active farming session, queued craft orders, or a skill gap wide enough
// to schedule farming.
func (c *Coordinator) Band() bots.Band {
	if c.session != nil || len(c.orders) > 0 || c.gapPending() {
		return bots.BandQuest
	}
	return bots.BandIdle
}

// gapPending reports whether any gathering profession lags its level-synced
// target by at least the gap threshold.
func (c *Coordinator) gapPending() bool {
	for _, p := range c.profs {
		if !p.Gathering {
			continue
		}
		if c.targetSkill(p)-p.Current >= c.cfg.GapThreshold {
			return true
		}
	}
	return false
}

// Step drives one slice of profession work: manage the farming session,
// then try the crafting queue head.
func (c *Coordinator) Step(ctx *bots.TickContext) {
	now := ctx.Now
	if c.session != nil {
		c.stepSession(now)
	} else {
		c.maybeStartSession(now)
	}
	c.stepCrafting(now)
}

func (c *Coordinator) stepSession(now clock.Millis) {
	s := c.session
	p := c.profs[s.Skill]
	switch {
	case p != nil && p.Current >= s.TargetSkill:
		c.endSession(now, EndTargetReached)
	case now >= s.Deadline:
		c.endSession(now, EndBudgetExhausted)
	}
}

// Interrupt aborts any active farming session (combat, despawn, pause).
func (c *Coordinator) Interrupt() {
	if c.session != nil {
		c.endSession(c.clk.Now(), EndInterrupted)
	}
}

func (c *Coordinator) endSession(now clock.Millis, why SessionEnd) {
	s := c.session
	c.session = nil
	c.lastEnd = why
	c.mon.Sample(WindowSessionMin, now.Sub(s.StartedAt).Minutes())
}

// maybeStartSession opens a farming run for the gathering profession with
// the widest level-sync gap.
func (c *Coordinator) maybeStartSession(now clock.Millis) {
	var pick *Profession
	gap := c.cfg.GapThreshold - 1
	for _, p := range c.profs {
		if !p.Gathering {
			continue
		}
		if g := c.targetSkill(p) - p.Current; g > gap {
			gap, pick = g, p
		}
	}
	if pick == nil {
		return
	}
	spot, ok := c.zoneFor(pick)
	if !ok {
		return
	}
	c.session = &FarmSession{
		Skill:       pick.Skill,
		ZoneID:      spot.ZoneID,
		Pos:         spot.Pos,
		TargetSkill: c.targetSkill(pick),
		StartedAt:   now,
		Deadline:    now.Add(c.cfg.MaxSession),
	}
	c.queue.Enqueue(actions.Action{
		Kind: actions.KindMoveToPosition, Actor: c.bot, Pos: spot.Pos, Priority: prioMove,
	})
}

// zoneFor picks the configured spot matching the profession's current
// bracket, falling back to the nearest lower bracket.
func (c *Coordinator) zoneFor(p *Profession) (ZoneSpot, bool) {
	var best ZoneSpot
	found := false
	for _, z := range c.cfg.Zones {
		if z.Skill != p.Skill || z.MinSkill > p.Current {
			continue
		}
		if p.Current <= z.MaxSkill {
			return z, true
		}
		if !found || z.MinSkill > best.MinSkill {
			best, found = z, true
		}
	}
	return best, found
}

// stepCrafting works the queue head: craft when reagents are on hand,
// otherwise announce the shortage once.
func (c *Coordinator) stepCrafting(now clock.Millis) {
	for len(c.orders) > 0 {
		o := c.orders[0]
		if o.Quantity <= 0 {
			c.orders = c.orders[1:]
			continue
		}
		r, ok := c.known[o.RecipeID]
		if !ok {
			// Unknown recipe; drop the order rather than wedge the queue.
			c.orders = c.orders[1:]
			c.mon.Increment(monitor.CounterWarnings)
			continue
		}
		if missing := c.shortage(r); len(missing) > 0 {
			if !o.announced {
				o.announced = true
				for item, n := range missing {
					c.bus.Publish(botevent.Event{
						Kind: botevent.KindMaterialsNeeded, Priority: events.PriorityMedium,
						At: now, Bot: c.bot, ItemID: item, Count: n, RecipeID: r.ID,
					})
				}
			}
			return
		}
		c.craftOne(o, r, now)
		return
	}
}

func (c *Coordinator) shortage(r Recipe) map[uint32]int {
	out := map[uint32]int{}
	for _, rg := range r.Reagents {
		if c.materials[rg.ItemID] < rg.Count {
			out[rg.ItemID] = rg.Count - c.materials[rg.ItemID]
		}
	}
	return out
}

// craftOne consumes reagents and stages the craft cast. One craft per step
// keeps the bot inside its soft budget.
func (c *Coordinator) craftOne(o *CraftOrder, r Recipe, now clock.Millis) {
	for _, rg := range r.Reagents {
		c.materials[rg.ItemID] -= rg.Count
	}
	o.Quantity--
	o.announced = false
	c.queue.Enqueue(actions.Action{
		Kind: actions.KindCastSpell, Actor: c.bot, SpellID: r.ID, Priority: prioCraft,
	})
	c.bus.Publish(botevent.Event{
		Kind: botevent.KindCraftingStarted, Priority: events.PriorityLow,
		At: now, Bot: c.bot, RecipeID: r.ID, ItemID: r.Yields, Count: r.YieldCount,
	})
	if o.Quantity <= 0 {
		c.orders = c.orders[1:]
	}
}

// HandleEvent consumes the profession-facing bus traffic.
func (c *Coordinator) HandleEvent(e botevent.Event) {
	if e.Bot != c.bot {
		return
	}
	switch e.Kind {
	case botevent.KindRecipeLearned:
		c.LearnRecipe(e.RecipeID)
	case botevent.KindSkillUp:
		if p := c.profs[e.Skill]; p != nil && e.Value > p.Current {
			p.Current = e.Value
			if p.Current > p.Max {
				p.Current = p.Max
			}
		}
	case botevent.KindMaterialGathered, botevent.KindMaterialPurchased:
		c.materials[e.ItemID] += e.Count
	case botevent.KindCraftingCompleted:
		c.materials[e.ItemID] += e.Count
	case botevent.KindCraftingFailed:
		c.mon.Increment(monitor.CounterWarnings)
	}
}

// Kinds lists the bus subscriptions this coordinator wants.
func Kinds() []events.Kind {
	return []events.Kind{
		botevent.KindRecipeLearned,
		botevent.KindSkillUp,
		botevent.KindMaterialGathered,
		botevent.KindMaterialPurchased,
		botevent.KindCraftingCompleted,
		botevent.KindCraftingFailed,
	}
}
