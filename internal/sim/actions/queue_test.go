package actions

import (
	"sync"
	"testing"
	"time"

	"playerbots/internal/sim/clock"
	"playerbots/internal/sim/host"
	"playerbots/internal/sim/monitor"
)

func newTestQueue(cap int) (*Queue, *clock.Manual, *monitor.Monitor) {
	clk := clock.NewManual(0)
	mon := monitor.New(monitor.Config{}, clk, nil)
	return NewQueue(cap, clk, mon), clk, mon
}

func putBot(w *host.Fake, id host.BotID, alive bool) {
	w.PutEntity(host.EntityInfo{ID: id.Entity(), Kind: host.KindPlayer, Alive: alive})
}

func TestDrain_PriorityThenTimeOrder(t *testing.T) {
	q, _, _ := newTestQueue(100)
	w := host.NewFake()
	putBot(w, 1, true)
	w.PutEntity(host.EntityInfo{ID: 50, Kind: host.KindCreature, Alive: true})

	// move(X) p5 t10, move(Y) p5 t11, attack p9 t12 -> attack, X, Y.
	q.Enqueue(Action{Kind: KindMoveToPosition, Actor: 1, Pos: host.Position{X: 1}, Priority: 5, EnqueuedAt: 10})
	q.Enqueue(Action{Kind: KindMoveToPosition, Actor: 1, Pos: host.Position{X: 2}, Priority: 5, EnqueuedAt: 11})
	q.Enqueue(Action{Kind: KindAttackEntity, Actor: 1, Target: 50, Priority: 9, EnqueuedAt: 12})

	st := q.Drain(w, time.Second)
	if st.Executed != 3 {
		t.Fatalf("executed: %+v", st)
	}
	muts := w.Mutations()
	if muts[0].Op != "AttackStart" {
		t.Fatalf("first op: %s", muts[0].Op)
	}
	if muts[1].Op != "MoveTo" || muts[1].Pos.X != 1 {
		t.Fatalf("second op: %+v", muts[1])
	}
	if muts[2].Op != "MoveTo" || muts[2].Pos.X != 2 {
		t.Fatalf("third op: %+v", muts[2])
	}
}

func TestDrain_ValidityChecks(t *testing.T) {
	q, _, mon := newTestQueue(100)
	w := host.NewFake()
	putBot(w, 1, true)
	putBot(w, 2, false) // dead
	w.PutEntity(host.EntityInfo{ID: 60, Kind: host.KindCreature, Alive: true})

	q.Enqueue(Action{Kind: KindAttackEntity, Actor: 3, Target: 60, Priority: 5})  // unknown actor
	q.Enqueue(Action{Kind: KindAttackEntity, Actor: 2, Target: 60, Priority: 5})  // dead actor
	q.Enqueue(Action{Kind: KindAttackEntity, Actor: 1, Target: 999, Priority: 5}) // missing target
	q.Enqueue(Action{Kind: KindAbandonQuest, Actor: 2, QuestID: 7, Priority: 5})  // allowed while dead

	st := q.Drain(w, time.Second)
	if st.Dropped != 3 || st.Executed != 1 {
		t.Fatalf("stats: %+v", st)
	}
	if got := mon.Counter(monitor.CounterActionsDropped); got != 3 {
		t.Fatalf("dropped counter: %d", got)
	}
	muts := w.Mutations()
	if len(muts) != 1 || muts[0].Op != "QuestAbandon" {
		t.Fatalf("mutations: %+v", muts)
	}
}

func TestDrain_BudgetLeavesRestQueued(t *testing.T) {
	q, clk, _ := newTestQueue(100)
	w := host.NewFake()
	putBot(w, 1, true)
	for i := 0; i < 10; i++ {
		q.Enqueue(Action{Kind: KindMoveToPosition, Actor: 1, Priority: 5, EnqueuedAt: clock.Millis(i + 1)})
	}
	// Manual clock never advances inside Drain, so simulate an elapsed
	// budget by advancing past the deadline first.
	clk.Advance(10 * time.Millisecond)
	st := q.Drain(w, 0)
	if st.Executed != 0 {
		t.Fatalf("expected no executions with elapsed budget: %+v", st)
	}
	if q.Len() != 10 {
		t.Fatalf("backlog should remain queued: %d", q.Len())
	}
	st = q.Drain(w, time.Second)
	if st.Executed != 10 {
		t.Fatalf("full drain: %+v", st)
	}
}

func TestEnqueue_SoftCapDropsWorstAndWarns(t *testing.T) {
	q, _, mon := newTestQueue(3)
	w := host.NewFake()
	putBot(w, 1, true)

	q.Enqueue(Action{Kind: KindMoveToPosition, Actor: 1, Priority: 9, EnqueuedAt: 1, Pos: host.Position{X: 9}})
	q.Enqueue(Action{Kind: KindMoveToPosition, Actor: 1, Priority: 5, EnqueuedAt: 2, Pos: host.Position{X: 5}})
	q.Enqueue(Action{Kind: KindMoveToPosition, Actor: 1, Priority: 1, EnqueuedAt: 3, Pos: host.Position{X: 1}})
	q.Enqueue(Action{Kind: KindMoveToPosition, Actor: 1, Priority: 7, EnqueuedAt: 4, Pos: host.Position{X: 7}})

	if q.Len() != 3 {
		t.Fatalf("len: %d", q.Len())
	}
	if len(mon.ActiveAlerts(monitor.LevelWarning)) == 0 {
		t.Fatalf("expected a warning alert on cap overflow")
	}
	q.Drain(w, time.Second)
	muts := w.Mutations()
	want := []float64{9, 7, 5}
	for i, m := range muts {
		if m.Pos.X != want[i] {
			t.Fatalf("drain order after drop: %+v", muts)
		}
	}
}

func TestCancelBot_FiltersAtDrain(t *testing.T) {
	q, _, _ := newTestQueue(100)
	w := host.NewFake()
	putBot(w, 1, true)
	putBot(w, 2, true)
	q.Enqueue(Action{Kind: KindMoveToPosition, Actor: 1, Priority: 5})
	q.Enqueue(Action{Kind: KindMoveToPosition, Actor: 2, Priority: 5})
	q.CancelBot(1)
	st := q.Drain(w, time.Second)
	if st.Executed != 1 {
		t.Fatalf("stats: %+v", st)
	}
	if muts := w.Mutations(); len(muts) != 1 || muts[0].Bot != 2 {
		t.Fatalf("mutations: %+v", muts)
	}
}

func TestSimThreadExclusivity_WorkersNeverMutate(t *testing.T) {
	q, _, _ := newTestQueue(10000)
	w := host.NewFake()
	putBot(w, 1, true)
	w.AllowMutations.Store(false)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				q.Enqueue(Action{Kind: KindMoveToPosition, Actor: 1, Priority: uint8(j % 10)})
			}
		}(i)
	}
	wg.Wait()
	if v := w.Violations.Load(); v != 0 {
		t.Fatalf("mutations off the sim thread: %d", v)
	}

	// Only the draining (sim) thread touches the host.
	w.AllowMutations.Store(true)
	st := q.Drain(w, time.Second)
	if st.Executed != 1600 {
		t.Fatalf("executed: %+v", st)
	}
}
