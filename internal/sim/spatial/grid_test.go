package spatial

import (
	"sync"
	"sync/atomic"
	"testing"

	"playerbots/internal/sim/host"
)

func pos(x, y float64) host.Position { return host.Position{Map: 0, X: x, Y: y} }

func TestGrid_QueryFiltersByRadius(t *testing.T) {
	g := NewGrid()
	g.Publish(1,
		[]CreatureSnapshot{
			{ID: 1, Pos: pos(0, 0), Alive: true},
			{ID: 2, Pos: pos(100, 0), Alive: true},
		},
		[]ObjectSnapshot{
			{ID: 3, Pos: pos(5, 0), Spawned: true},
		})
	r := g.Query(pos(0, 0), 30)
	if len(r.Creatures) != 1 || r.Creatures[0].ID != 1 {
		t.Fatalf("creatures: %+v", r.Creatures)
	}
	if len(r.Objects) != 1 || r.Objects[0].ID != 3 {
		t.Fatalf("objects: %+v", r.Objects)
	}
	if r.Tick != 1 {
		t.Fatalf("tick: got %d want 1", r.Tick)
	}
}

func TestGrid_SnapshotIsolationUnderConcurrentPublish(t *testing.T) {
	g := NewGrid()
	// Each publish writes a generation where every creature's Entry equals
	// the tick. A torn read would mix generations inside one query.
	gen := func(tick uint64, n int) []CreatureSnapshot {
		out := make([]CreatureSnapshot, n)
		for i := range out {
			out[i] = CreatureSnapshot{ID: host.EntityID(i + 1), Entry: uint32(tick), Pos: pos(0, 0)}
		}
		return out
	}
	g.Publish(0, gen(0, 64), nil)

	var stop atomic.Bool
	var torn atomic.Int64
	var wg sync.WaitGroup
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for !stop.Load() {
				res := g.Query(pos(0, 0), 10)
				if len(res.Creatures) == 0 {
					continue
				}
				first := res.Creatures[0].Entry
				for _, c := range res.Creatures {
					if c.Entry != first {
						torn.Add(1)
					}
				}
				if uint64(first) != res.Tick {
					torn.Add(1)
				}
			}
		}()
	}
	for tick := uint64(1); tick <= 500; tick++ {
		g.Publish(tick, gen(tick, 64), nil)
	}
	stop.Store(true)
	wg.Wait()
	if n := torn.Load(); n != 0 {
		t.Fatalf("torn snapshots observed: %d", n)
	}
}

func TestManager_WorkerFirstTouchIsEmpty(t *testing.T) {
	m := NewManager()
	r := m.Query(host.Position{Map: 7, X: 0}, 50)
	if len(r.Creatures) != 0 || len(r.Objects) != 0 {
		t.Fatalf("expected empty result for absent map: %+v", r)
	}
	// Sim-thread construction makes the map visible.
	m.GridFor(7).Publish(3, []CreatureSnapshot{{ID: 9, Pos: host.Position{Map: 7}}}, nil)
	r = m.Query(host.Position{Map: 7}, 50)
	if len(r.Creatures) != 1 {
		t.Fatalf("expected 1 creature after publish: %+v", r)
	}
}

func TestManager_RefreshFromHostSplitsKinds(t *testing.T) {
	w := host.NewFake()
	w.PutEntity(host.EntityInfo{ID: 1, Kind: host.KindCreature, Entry: 42, Pos: pos(1, 1), Alive: true, HealthFraction: 0.5})
	w.PutEntity(host.EntityInfo{ID: 2, Kind: host.KindGameObject, Entry: 7, Pos: pos(2, 2), Spawned: true})
	w.PutEntity(host.EntityInfo{ID: 3, Kind: host.KindCreature, Entry: 42, Pos: pos(500, 500)})

	m := NewManager()
	m.RefreshFromHost(w, 0, 10, pos(0, 0), 100)
	r := m.Query(pos(0, 0), 100)
	if len(r.Creatures) != 1 || r.Creatures[0].HealthFraction != 0.5 {
		t.Fatalf("creatures: %+v", r.Creatures)
	}
	if len(r.Objects) != 1 || !r.Objects[0].Spawned {
		t.Fatalf("objects: %+v", r.Objects)
	}
}
