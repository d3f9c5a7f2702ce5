package engine

import (
	"path/filepath"
	"testing"
	"time"

	"playerbots/internal/persistence/profiledb"
	"playerbots/internal/sim/actions"
	"playerbots/internal/sim/botevent"
	"playerbots/internal/sim/clock"
	"playerbots/internal/sim/events"
	"playerbots/internal/sim/host"
	"playerbots/internal/sim/monitor"
	"playerbots/internal/sim/profession"
	"playerbots/internal/sim/tuning"
)

func newTestEngine(t *testing.T, mut func(*Options)) (*Engine, *host.Fake, *clock.Manual) {
	t.Helper()
	clk := clock.NewManual(0)
	world := host.NewFake()
	opt := Options{
		Tuning: tuning.Defaults(),
		World:  world,
		Clock:  clk,
	}
	if mut != nil {
		mut(&opt)
	}
	e, err := New(opt)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	t.Cleanup(func() { _ = e.Close() })
	return e, world, clk
}

func TestSpawnFindDelete(t *testing.T) {
	e, _, _ := newTestEngine(t, nil)

	b, err := e.Spawn("Alwin", 1, 2)
	if err != nil || b.ID == 0 {
		t.Fatalf("spawn: %v %v", b, err)
	}
	if _, err := e.Spawn("Alwin", 1, 2); err == nil {
		t.Fatalf("duplicate name accepted")
	}
	if _, err := e.Spawn("", 0, 0); err == nil {
		t.Fatalf("empty name accepted")
	}

	got, found := e.Find("Alwin")
	if !found || got.ID != b.ID {
		t.Fatalf("find: %v %v", got, found)
	}

	if err := e.Delete("Alwin"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, found := e.Find("Alwin"); found {
		t.Fatalf("deleted bot still found")
	}
	if err := e.Delete("Alwin"); err == nil {
		t.Fatalf("double delete succeeded")
	}
}

func TestDelete_CancelsPendingActions(t *testing.T) {
	e, world, clk := newTestEngine(t, nil)
	world.PutEntity(host.EntityInfo{ID: 1, Pos: host.Position{X: 1}, Alive: true, Visible: true})

	b, err := e.Spawn("Alwin", 0, 0)
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	e.Queue().Enqueue(actions.Action{
		Kind: actions.KindMoveToPosition, Actor: b.ID,
		Pos: host.Position{X: 50}, Priority: 5, EnqueuedAt: clk.Now(),
	})
	if err := e.Delete("Alwin"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	e.Tick()
	if n := len(world.Mutations()); n != 0 {
		t.Fatalf("cancelled action executed: %+v", world.Mutations())
	}
}

func TestTick_DeliversEventsToCoordinators(t *testing.T) {
	e, world, clk := newTestEngine(t, nil)
	world.PutEntity(host.EntityInfo{ID: 1, Alive: true, Visible: true})

	b, err := e.Spawn("Alwin", 0, 0)
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	pc := e.Profession(b.ID)
	if pc == nil {
		t.Fatalf("no profession coordinator")
	}
	pc.Learn(profession.Profession{Skill: 186, Name: "Mining", Current: 40, Max: 300, Gathering: true})

	e.Bus().Publish(botevent.Event{
		Kind: botevent.KindSkillUp, Priority: events.PriorityMedium,
		At: clk.Now(), Bot: b.ID, Skill: 186, Value: 75,
	})
	st := e.Tick()
	if st.Events.Delivered == 0 {
		t.Fatalf("nothing delivered: %+v", st)
	}
	if got := pc.Profession(186).Current; got != 75 {
		t.Fatalf("skill after event: %d", got)
	}
}

func TestTick_RunsCraftWorkThroughScheduler(t *testing.T) {
	recipe := profession.Recipe{
		ID: 2657, Skill: 164, SkillReq: 1, Difficulty: 25,
		Yields: 2840, YieldCount: 1,
		Reagents: []profession.Reagent{{ItemID: 2770, Count: 1}},
	}
	e, world, _ := newTestEngine(t, func(o *Options) {
		o.Coordinators.Profession.Recipes = map[uint32]profession.Recipe{recipe.ID: recipe}
	})
	world.PutEntity(host.EntityInfo{ID: 1, Alive: true, Visible: true})

	b, err := e.Spawn("Alwin", 0, 0)
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	pc := e.Profession(b.ID)
	pc.LearnRecipe(recipe.ID)
	pc.AddMaterial(2770, 1)
	pc.Enqueue(recipe.ID, 1)

	e.Tick()
	if pc.Orders() != 0 {
		t.Fatalf("craft order never worked: %d pending", pc.Orders())
	}
	cast := false
	for _, m := range world.Mutations() {
		if m.Op == "CastSpell" {
			cast = true
		}
	}
	if !cast {
		t.Fatalf("craft cast never reached the host: %+v", world.Mutations())
	}
}

func TestTick_RecordsMinuteHistory(t *testing.T) {
	e, world, clk := newTestEngine(t, nil)
	world.PutEntity(host.EntityInfo{ID: 1, Alive: true, Visible: true})
	if _, err := e.Spawn("Alwin", 0, 0); err != nil {
		t.Fatalf("spawn: %v", err)
	}

	e.Tick()
	if n := len(e.Monitor().History()); n != 0 {
		t.Fatalf("history before a minute elapsed: %d rows", n)
	}
	clk.Advance(61 * time.Second)
	e.Tick()
	if n := len(e.Monitor().History()); n != 1 {
		t.Fatalf("history rows after a minute: %d", n)
	}
}

func TestSetAggression_AppliesToCurrentAndFutureBots(t *testing.T) {
	e, _, _ := newTestEngine(t, nil)
	a, err := e.Spawn("Alwin", 0, 0)
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	e.SetAggression(3)
	b, err := e.Spawn("Berta", 0, 0)
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if e.Quest(a.ID).Aggression() != 3 || e.Quest(b.ID).Aggression() != 3 {
		t.Fatalf("aggro: %d %d", e.Quest(a.ID).Aggression(), e.Quest(b.ID).Aggression())
	}
}

func TestTick_RefreshesSpatialAndMonitor(t *testing.T) {
	e, world, _ := newTestEngine(t, nil)
	world.PutEntity(host.EntityInfo{ID: 1, Pos: host.Position{X: 10}, Alive: true, Visible: true})
	world.PutEntity(host.EntityInfo{ID: 900, Entry: 42, Pos: host.Position{X: 25}, Alive: true, Visible: true})

	if _, err := e.Spawn("Alwin", 0, 0); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	st := e.Tick()
	if st.Tick != 1 {
		t.Fatalf("tick count: %+v", st)
	}

	res := e.Grid().Query(host.Position{X: 20}, 50)
	found := false
	for _, c := range res.Creatures {
		if c.Entry == 42 {
			found = true
		}
	}
	if !found {
		t.Fatalf("creature not in snapshot: %+v", res)
	}

	snap := e.Monitor().Snapshot()
	if snap.Activity.BotsTotal != 1 {
		t.Fatalf("activity: %+v", snap.Activity)
	}
	if e.Monitor().Window(monitor.WindowTickMs).Len() == 0 {
		t.Fatalf("no tick samples")
	}
}

func TestAll_MirrorIsCopied(t *testing.T) {
	e, _, _ := newTestEngine(t, nil)
	if _, err := e.Spawn("Alwin", 0, 0); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	e.Tick()

	mirror := e.All()
	if len(mirror) != 1 || mirror[0].Name != "Alwin" {
		t.Fatalf("mirror: %+v", mirror)
	}
	// Mutating the live bot must not reach an already-taken mirror.
	live, _ := e.Find("Alwin")
	live.Dead = true
	if mirror[0].Dead {
		t.Fatalf("mirror aliases live bot")
	}
}

func TestRestore_RespawnsPersistedBots(t *testing.T) {
	clk := clock.NewManual(0)
	mon := monitor.New(monitor.Config{}, clk, nil)
	path := filepath.Join(t.TempDir(), "bots.db")

	store, err := profiledb.Open(path, clk, mon)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	e1, err := New(Options{World: host.NewFake(), Clock: clk, Profiles: store})
	if err != nil {
		t.Fatalf("engine 1: %v", err)
	}
	if _, err := e1.Spawn("Alwin", 1, 2); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if _, err := e1.Spawn("Berta", 3, 4); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if err := e1.Delete("Berta"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	_ = e1.Close()
	if err := store.Close(); err != nil {
		t.Fatalf("close db: %v", err)
	}

	store2, err := profiledb.Open(path, clk, mon)
	if err != nil {
		t.Fatalf("reopen db: %v", err)
	}
	defer store2.Close()
	e2, err := New(Options{World: host.NewFake(), Clock: clk, Profiles: store2})
	if err != nil {
		t.Fatalf("engine 2: %v", err)
	}
	defer e2.Close()

	b, found := e2.Find("Alwin")
	if !found || b.Race != 1 || b.Class != 2 {
		t.Fatalf("restored: %+v found=%v", b, found)
	}
	if _, found := e2.Find("Berta"); found {
		t.Fatalf("deleted bot restored")
	}
	// New spawns must not collide with restored ids.
	c, err := e2.Spawn("Ciri", 0, 0)
	if err != nil || c.ID <= b.ID {
		t.Fatalf("id allocation after restore: %+v err=%v", c, err)
	}
}
