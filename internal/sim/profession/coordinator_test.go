package profession

import (
	"testing"
	"time"

	"playerbots/internal/sim/actions"
	"playerbots/internal/sim/botevent"
	"playerbots/internal/sim/bots"
	"playerbots/internal/sim/clock"
	"playerbots/internal/sim/events"
	"playerbots/internal/sim/host"
	"playerbots/internal/sim/monitor"
)

const (
	botID      = host.BotID(1)
	mining     = uint32(186)
	blacksmith = uint32(164)
)

type profEnv struct {
	c   *Coordinator
	f   *host.Fake
	q   *actions.Queue
	bus *botevent.Bus
	clk *clock.Manual
}

func newProfEnv(cfg Config) *profEnv {
	clk := clock.NewManual(0)
	mon := monitor.New(monitor.Config{}, clk, nil)
	f := host.NewFake()
	q := actions.NewQueue(1024, clk, mon)
	bus := events.NewBus[botevent.Event](1024, clk, mon, nil)
	f.PutEntity(host.EntityInfo{ID: botID.Entity(), Kind: host.KindPlayer, Alive: true, Visible: true})
	return &profEnv{c: NewCoordinator(cfg, botID, clk, mon, f, q, bus), f: f, q: q, bus: bus, clk: clk}
}

func (e *profEnv) step() {
	e.c.Step(&bots.TickContext{Now: e.clk.Now()})
	e.q.Drain(e.f, 10*time.Millisecond)
}

func copperBarRecipe() Recipe {
	return Recipe{
		ID: 2657, Skill: blacksmith, SkillReq: 1, Difficulty: 25,
		Yields: 2840, YieldCount: 1,
		Reagents: []Reagent{{ItemID: 2770, Count: 1}},
	}
}

func miningZones() []ZoneSpot {
	return []ZoneSpot{
		{Skill: mining, ZoneID: 12, MinSkill: 1, MaxSkill: 65, Pos: host.Position{X: 100}},
		{Skill: mining, ZoneID: 40, MinSkill: 66, MaxSkill: 125, Pos: host.Position{X: 900}},
	}
}

func TestFarming_StartsWhenSkillLagsLevel(t *testing.T) {
	e := newProfEnv(Config{Zones: miningZones()})
	e.c.SetLevel(10) // target 50
	e.c.Learn(Profession{Skill: mining, Name: "Mining", Current: 10, Max: 300, Gathering: true})

	e.step()
	s := e.c.Session()
	if s == nil {
		t.Fatalf("no session despite 40-point gap")
	}
	if s.ZoneID != 12 || s.TargetSkill != 50 {
		t.Fatalf("session: %+v", s)
	}
	muts := e.f.Mutations()
	if len(muts) != 1 || muts[0].Op != "MoveTo" || muts[0].Pos.X != 100 {
		t.Fatalf("travel to zone: %v", muts)
	}
}

func TestFarming_ZoneBracketFollowsSkill(t *testing.T) {
	e := newProfEnv(Config{Zones: miningZones()})
	e.c.SetLevel(30) // target 150, capped below by Max
	e.c.Learn(Profession{Skill: mining, Name: "Mining", Current: 80, Max: 300, Gathering: true})
	e.step()
	if s := e.c.Session(); s == nil || s.ZoneID != 40 {
		t.Fatalf("bracket: %+v", s)
	}
}

func TestFarming_NoSessionUnderThreshold(t *testing.T) {
	e := newProfEnv(Config{Zones: miningZones(), GapThreshold: 10})
	e.c.SetLevel(10)
	e.c.Learn(Profession{Skill: mining, Current: 45, Max: 300, Gathering: true})
	e.step()
	if e.c.Session() != nil {
		t.Fatalf("session for a 5-point gap")
	}
}

func TestFarming_EndsOnTargetReached(t *testing.T) {
	e := newProfEnv(Config{Zones: miningZones()})
	e.c.SetLevel(10)
	e.c.Learn(Profession{Skill: mining, Current: 10, Max: 300, Gathering: true})
	e.step()
	if e.c.Session() == nil {
		t.Fatalf("no session")
	}

	e.c.HandleEvent(botevent.Event{Kind: botevent.KindSkillUp, Bot: botID, Skill: mining, Value: 50})
	e.step()
	if e.c.Session() != nil || e.c.LastSessionEnd() != EndTargetReached {
		t.Fatalf("session=%v end=%v", e.c.Session(), e.c.LastSessionEnd())
	}
}

func TestFarming_EndsOnBudget(t *testing.T) {
	e := newProfEnv(Config{Zones: miningZones(), MaxSession: time.Minute})
	e.c.SetLevel(10)
	e.c.Learn(Profession{Skill: mining, Current: 10, Max: 300, Gathering: true})
	e.step()
	e.clk.Advance(61 * time.Second)
	e.step()
	if e.c.LastSessionEnd() != EndBudgetExhausted {
		t.Fatalf("end: %v", e.c.LastSessionEnd())
	}
	// A fresh session may start next step; the gap is still open.
	e.step()
	if e.c.Session() == nil {
		t.Fatalf("gap still open but no new session")
	}
}

func TestCrafting_ConsumesLedgerAndCasts(t *testing.T) {
	r := copperBarRecipe()
	e := newProfEnv(Config{Recipes: map[uint32]Recipe{r.ID: r}})
	e.c.Learn(Profession{Skill: blacksmith, Current: 1, Max: 300})
	e.c.LearnRecipe(r.ID)
	e.c.AddMaterial(2770, 3)
	e.c.Enqueue(r.ID, 2)

	var started []botevent.Event
	e.bus.SubscribeFunc(func(ev botevent.Event) { started = append(started, ev) }, botevent.KindCraftingStarted)

	e.step()
	e.bus.Drain(100)
	if e.c.Material(2770) != 2 {
		t.Fatalf("reagent not consumed: %d", e.c.Material(2770))
	}
	if len(started) != 1 || started[0].RecipeID != r.ID {
		t.Fatalf("started events: %v", started)
	}
	muts := e.f.Mutations()
	if len(muts) != 1 || muts[0].Op != "CastSpell" {
		t.Fatalf("cast: %v", muts)
	}

	e.step() // second unit of the order
	e.step() // order drained; nothing left
	if e.c.Material(2770) != 1 || e.c.Orders() != 0 {
		t.Fatalf("queue drain: material=%d orders=%d", e.c.Material(2770), e.c.Orders())
	}
}

func TestCrafting_ShortageAnnouncedOnce(t *testing.T) {
	r := copperBarRecipe()
	e := newProfEnv(Config{Recipes: map[uint32]Recipe{r.ID: r}})
	e.c.LearnRecipe(r.ID)
	e.c.Enqueue(r.ID, 4)

	var needed []botevent.Event
	e.bus.SubscribeFunc(func(ev botevent.Event) { needed = append(needed, ev) }, botevent.KindMaterialsNeeded)

	e.step()
	e.step()
	e.bus.Drain(100)
	if len(needed) != 1 {
		t.Fatalf("shortage spammed: %d", len(needed))
	}
	if needed[0].ItemID != 2770 || needed[0].Count != 1 || needed[0].RecipeID != r.ID {
		t.Fatalf("shortage payload: %+v", needed[0])
	}

	// Materials arriving over the bus unblock the craft.
	e.c.HandleEvent(botevent.Event{Kind: botevent.KindMaterialGathered, Bot: botID, ItemID: 2770, Count: 4})
	e.step()
	if len(e.f.Mutations()) != 1 || e.c.Material(2770) != 3 {
		t.Fatalf("craft after restock: muts=%d material=%d", len(e.f.Mutations()), e.c.Material(2770))
	}
}

func TestCrafting_UnknownRecipeDropped(t *testing.T) {
	e := newProfEnv(Config{})
	e.c.Enqueue(9999, 1)
	e.step()
	if e.c.Orders() != 0 {
		t.Fatalf("unknown recipe wedged the queue")
	}
}

func TestMaterialsNeeded_AggregatesAcrossOrders(t *testing.T) {
	r := copperBarRecipe()
	e := newProfEnv(Config{Recipes: map[uint32]Recipe{r.ID: r}})
	e.c.LearnRecipe(r.ID)
	e.c.AddMaterial(2770, 3)
	e.c.Enqueue(r.ID, 5)
	e.c.Enqueue(r.ID, 5)

	need := e.c.MaterialsNeeded()
	if need[2770] != 7 {
		t.Fatalf("aggregate shortage: %v", need)
	}
}

func TestHandleEvent_IgnoresOtherBots(t *testing.T) {
	e := newProfEnv(Config{})
	e.c.Learn(Profession{Skill: mining, Current: 10, Max: 300, Gathering: true})
	e.c.HandleEvent(botevent.Event{Kind: botevent.KindSkillUp, Bot: 99, Skill: mining, Value: 200})
	if e.c.Profession(mining).Current != 10 {
		t.Fatalf("foreign skill-up applied")
	}
	e.c.HandleEvent(botevent.Event{Kind: botevent.KindMaterialGathered, Bot: 99, ItemID: 2770, Count: 5})
	if e.c.Material(2770) != 0 {
		t.Fatalf("foreign material credited")
	}
}

func TestInterrupt_AbortsSession(t *testing.T) {
	e := newProfEnv(Config{Zones: miningZones()})
	e.c.SetLevel(10)
	e.c.Learn(Profession{Skill: mining, Current: 10, Max: 300, Gathering: true})
	e.step()
	e.c.Interrupt()
	if e.c.Session() != nil || e.c.LastSessionEnd() != EndInterrupted {
		t.Fatalf("interrupt: session=%v end=%v", e.c.Session(), e.c.LastSessionEnd())
	}
}

func TestBand_ReflectsPendingWork(t *testing.T) {
	e := newProfEnv(Config{Zones: miningZones(), Recipes: map[uint32]Recipe{2657: copperBarRecipe()}})
	if e.c.Band() != bots.BandIdle {
		t.Fatalf("fresh coordinator not idle: %v", e.c.Band())
	}

	e.c.LearnRecipe(2657)
	e.c.AddMaterial(2770, 1)
	e.c.Enqueue(2657, 1)
	if e.c.Band() != bots.BandQuest {
		t.Fatalf("queued order not reported: %v", e.c.Band())
	}
	e.step()
	if e.c.Orders() != 0 {
		t.Fatalf("order not crafted")
	}
	if e.c.Band() != bots.BandIdle {
		t.Fatalf("drained queue still reported: %v", e.c.Band())
	}

	e.c.SetLevel(10)
	e.c.Learn(Profession{Skill: mining, Name: "Mining", Current: 10, Max: 300, Gathering: true})
	if e.c.Band() != bots.BandQuest {
		t.Fatalf("skill gap not reported: %v", e.c.Band())
	}
}
