package banking

import (
	"sort"

	"playerbots/internal/sim/actions"
	"playerbots/internal/sim/botevent"
	"playerbots/internal/sim/bots"
	"playerbots/internal/sim/clock"
	"playerbots/internal/sim/events"
	"playerbots/internal/sim/host"
	"playerbots/internal/sim/monitor"
	"playerbots/internal/sim/spatial"
)

const prioBank = 4

// TxSink receives every staged transaction; used for the durable trail.
type TxSink interface {
	WriteTransaction(tx Transaction) error
}

// Coordinator runs one bot's banking policy. Sim thread only.
type Coordinator struct {
	cfg     Config
	bot     host.BotID
	clk     clock.Clock
	mon     *monitor.Monitor
	world   host.World
	grid    *spatial.Manager
	queue   *actions.Queue
	bus     *botevent.Bus
	inv     Inventory
	needs   MaterialNeeds
	sink    TxSink
	profile Profile

	checked   bool
	lastCheck clock.Millis
	log       []Transaction
}

func NewCoordinator(cfg Config, bot host.BotID, clk clock.Clock, mon *monitor.Monitor,
	w host.World, grid *spatial.Manager, q *actions.Queue, bus *botevent.Bus,
	inv Inventory, needs MaterialNeeds, profile Profile) *Coordinator {
	if profile.Rules == nil {
		profile.Rules = map[uint32]Rule{}
	}
	return &Coordinator{
		cfg: cfg.withDefaults(), bot: bot, clk: clk, mon: mon,
		world: w, grid: grid, queue: q, bus: bus,
		inv: inv, needs: needs, profile: profile,
	}
}

func (c *Coordinator) SetSink(s TxSink) { c.sink = s }

func (c *Coordinator) Profile() Profile { return c.profile }

func (c *Coordinator) SetRule(r Rule) { c.profile.Rules[r.ItemID] = r }

// Log returns a copy of the transaction log, oldest first.
func (c *Coordinator) Log() []Transaction {
	out := make([]Transaction, len(c.log))
	copy(out, c.log)
	return out
}

// Band reports quest-band urgency when the interval check is due, idle
// otherwise.
func (c *Coordinator) Band() bots.Band {
	if !c.checked || c.clk.Now().Sub(c.lastCheck) >= c.cfg.CheckInterval {
		return bots.BandQuest
	}
	return bots.BandIdle
}

// Step runs the interval check. Outside the interval, or with no banker in
// range, it does nothing.
func (c *Coordinator) Step(ctx *bots.TickContext) {
	now := ctx.Now
	if c.checked && now.Sub(c.lastCheck) < c.cfg.CheckInterval {
		return
	}
	self, ok := c.world.ResolveEntity(c.bot.Entity())
	if !ok || !self.Alive {
		return
	}
	if !c.bankerNear(self.Pos) {
		return
	}
	c.checked = true
	c.lastCheck = now
	c.checkGold(now)
	c.checkItems(now)
}

// bankerNear scans the snapshot for a configured banker entry.
func (c *Coordinator) bankerNear(pos host.Position) bool {
	res := c.grid.Query(pos, c.cfg.BankerRange)
	for _, cr := range res.Creatures {
		if !cr.Alive || !cr.Visible {
			continue
		}
		for _, entry := range c.cfg.BankerEntries {
			if cr.Entry == entry {
				return true
			}
		}
	}
	return false
}

func (c *Coordinator) checkGold(now clock.Millis) {
	gold := c.inv.Gold()
	switch {
	case c.profile.AutoDeposit && c.profile.GoldMax > 0 && gold > c.profile.GoldMax:
		c.stage(now, Transaction{Kind: TxDepositGold, Gold: gold - c.profile.GoldMax})
	case c.profile.AutoWithdraw && gold < c.profile.GoldMin:
		c.stage(now, Transaction{Kind: TxWithdrawGold, Gold: c.profile.GoldMin - gold})
	}
}

// checkItems applies rules in priority order; crafting needs raise the
// effective keep floor so materials stay on hand.
func (c *Coordinator) checkItems(now clock.Millis) {
	needed := map[uint32]int{}
	if c.needs != nil && c.profile.Strategy == StrategyCrafting {
		needed = c.needs.MaterialsNeeded()
	}

	rules := make([]Rule, 0, len(c.profile.Rules))
	for _, r := range c.profile.Rules {
		rules = append(rules, r)
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].Priority > rules[j].Priority })

	for _, r := range rules {
		have := c.inv.ItemCount(r.ItemID)
		keep := r.KeepMin
		if n := needed[r.ItemID]; n > keep {
			keep = n
		}
		switch {
		case c.profile.AutoDeposit && r.MaxInInventory > 0 && have > r.MaxInInventory && have > keep:
			over := have - r.MaxInInventory
			if have-over < keep {
				over = have - keep
			}
			if over > 0 {
				c.stage(now, Transaction{Kind: TxDepositItem, ItemID: r.ItemID, Count: over})
			}
		case c.profile.AutoWithdraw && have < keep:
			c.stage(now, Transaction{Kind: TxWithdrawItem, ItemID: r.ItemID, Count: keep - have})
		}
	}
}

// stage enqueues the host action, appends the log entry and announces the
// transaction.
func (c *Coordinator) stage(now clock.Millis, tx Transaction) {
	tx.At = now
	tx.Bot = c.bot

	a := actions.Action{Actor: c.bot, Priority: prioBank, ItemID: tx.ItemID, Count: tx.Count, Gold: tx.Gold}
	switch tx.Kind {
	case TxDepositItem, TxDepositGold:
		a.Kind = actions.KindDepositItem
	case TxWithdrawItem, TxWithdrawGold:
		a.Kind = actions.KindWithdrawItem
	}
	c.queue.Enqueue(a)

	c.log = append(c.log, tx)
	if over := len(c.log) - c.cfg.LogSize; over > 0 {
		c.log = c.log[over:]
	}
	if c.sink != nil {
		if err := c.sink.WriteTransaction(tx); err != nil {
			c.mon.Increment(monitor.CounterErrors)
		}
	}
	c.bus.Publish(botevent.Event{
		Kind: botevent.KindBankTransaction, Priority: events.PriorityLow,
		At: now, Bot: c.bot, ItemID: tx.ItemID, Count: tx.Count, Gold: tx.Gold,
		Reason: tx.Kind.String(),
	})
}
