package economy

import (
	"playerbots/internal/sim/actions"
	"playerbots/internal/sim/botevent"
	"playerbots/internal/sim/clock"
	"playerbots/internal/sim/events"
	"playerbots/internal/sim/host"
	"playerbots/internal/sim/monitor"
)

const prioAuction = 5

type AuctionConfig struct {
	MinMargin         float64 // listing floor over vendor price, default 1.25
	UndercutRate      float64 // shave off the market price, default 0.05
	StackSize         int     // units per listing, default 20
	DurationH         int     // listing duration hours, default 24
	MaxActiveListings int     // default 10
	Budget            int64   // copper available for purchases, default 100000
}

func (c AuctionConfig) withDefaults() AuctionConfig {
	if c.MinMargin <= 0 {
		c.MinMargin = 1.25
	}
	if c.UndercutRate <= 0 {
		c.UndercutRate = 0.05
	}
	if c.StackSize <= 0 {
		c.StackSize = 20
	}
	if c.DurationH <= 0 {
		c.DurationH = 24
	}
	if c.MaxActiveListings <= 0 {
		c.MaxActiveListings = 10
	}
	if c.Budget <= 0 {
		c.Budget = 100000
	}
	return c
}

// AuctionBridge lists crafted surplus and fills purchase requests against
// the market. One instance per bot; sim thread only.
type AuctionBridge struct {
	cfg    AuctionConfig
	bot    host.BotID
	clk    clock.Clock
	mon    *monitor.Monitor
	market Market
	queue  *actions.Queue
	bus    *botevent.Bus

	active int
	spent  int64
}

func NewAuctionBridge(cfg AuctionConfig, bot host.BotID, clk clock.Clock, mon *monitor.Monitor,
	market Market, q *actions.Queue, bus *botevent.Bus) *AuctionBridge {
	return &AuctionBridge{
		cfg: cfg.withDefaults(), bot: bot, clk: clk, mon: mon,
		market: market, queue: q, bus: bus,
	}
}

func (a *AuctionBridge) ActiveListings() int { return a.active }

func (a *AuctionBridge) Spent() int64 { return a.spent }

// ListingSold frees an active listing slot (host sale notification).
func (a *AuctionBridge) ListingSold() {
	if a.active > 0 {
		a.active--
	}
}

// ListPrice is the listing formula: never below vendor value with margin,
// never above an undercut market price when one is known.
func (a *AuctionBridge) ListPrice(itemID uint32) int64 {
	vendor := int64(float64(a.market.VendorPrice(itemID)) * a.cfg.MinMargin)
	market := int64(float64(a.market.MarketPrice(itemID)) * (1 - a.cfg.UndercutRate))
	if market > vendor {
		return market
	}
	return vendor
}

// HandleEvent consumes CraftingCompleted (list the output) and
// PurchaseRequested (buy materials).
func (a *AuctionBridge) HandleEvent(e botevent.Event) {
	if e.Bot != a.bot {
		return
	}
	switch e.Kind {
	case botevent.KindCraftingCompleted:
		a.list(e.ItemID, e.Count)
	case botevent.KindPurchaseRequested:
		a.buy(e.ItemID, e.Count, e.MaxUnit)
	}
}

// list stages one stack listing for crafted surplus.
func (a *AuctionBridge) list(itemID uint32, count int) {
	if count <= 0 || a.active >= a.cfg.MaxActiveListings {
		return
	}
	unit := a.ListPrice(itemID)
	if unit <= 0 {
		return
	}
	stack := a.cfg.StackSize
	if count < stack {
		stack = count
	}
	a.queue.Enqueue(actions.Action{
		Kind: actions.KindListAuction, Actor: a.bot, ItemID: itemID,
		Count: stack, Buyout: unit * int64(stack), Duration: a.cfg.DurationH,
		Priority: prioAuction,
	})
	a.active++
}

// buy fills a purchase request from the cheapest qualifying listings,
// stopping at the unit cap, the quantity or the budget.
func (a *AuctionBridge) buy(itemID uint32, count int, maxUnit int64) {
	remaining := count
	for _, l := range cheapestFirst(a.market.Search(itemID)) {
		if remaining <= 0 {
			break
		}
		if l.Count <= 0 || l.UnitPrice <= 0 {
			continue
		}
		if maxUnit > 0 && l.UnitPrice > maxUnit {
			continue
		}
		price := l.UnitPrice * int64(l.Count)
		if a.spent+price > a.cfg.Budget {
			a.mon.Increment(monitor.CounterWarnings)
			break
		}
		a.queue.Enqueue(actions.Action{
			Kind: actions.KindBuyAuction, Actor: a.bot, Listing: l.ID, Priority: prioAuction,
		})
		a.spent += price
		remaining -= l.Count
		a.bus.Publish(botevent.Event{
			Kind: botevent.KindMaterialPurchased, Priority: events.PriorityLow,
			At: a.clk.Now(), Bot: a.bot, ItemID: itemID, Count: l.Count, Gold: price,
		})
	}
}

func cheapestFirst(ls []Listing) []Listing {
	out := make([]Listing, len(ls))
	copy(out, ls)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].UnitPrice < out[j-1].UnitPrice; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// Kinds lists the bus subscriptions the bridge wants.
func (a *AuctionBridge) Kinds() []events.Kind {
	return []events.Kind{botevent.KindCraftingCompleted, botevent.KindPurchaseRequested}
}
