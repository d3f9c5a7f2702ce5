// Package spatial gives worker threads lock-free visibility into nearby
// entities. The sim thread publishes full snapshots into a double buffer;
// readers observe one internally consistent slot per query and never touch
// live entities.
package spatial

import (
	"sync"
	"sync/atomic"

	"playerbots/internal/sim/host"
)

// CreatureSnapshot is the flat per-creature read model. Everything a reader
// needs to decide without dereferencing the live entity, nothing more.
type CreatureSnapshot struct {
	ID             host.EntityID
	Entry          uint32
	Pos            host.Position
	Alive          bool
	Visible        bool
	InCombat       bool
	Faction        uint32
	ThreatCount    int
	Victim         host.EntityID
	HealthFraction float64
}

// ObjectSnapshot covers interactable gameobjects.
type ObjectSnapshot struct {
	ID      host.EntityID
	Entry   uint32
	Pos     host.Position
	Spawned bool
	InUse   bool
	Visible bool
}

// Result is returned by value; callers may hold it only for the duration of
// one query and must not cache it across ticks.
type Result struct {
	Tick      uint64
	Creatures []CreatureSnapshot
	Objects   []ObjectSnapshot
}

type slot struct {
	readers   atomic.Int32
	tick      uint64
	creatures []CreatureSnapshot
	objects   []ObjectSnapshot
}

// Grid is the double buffer for one map. Writes are serialized by the tick
// structure (sim thread only); reads take no locks.
type Grid struct {
	slots  [2]*slot
	active atomic.Int32
}

func NewGrid() *Grid {
	return &Grid{slots: [2]*slot{{}, {}}}
}

// Publish installs a new snapshot and flips the active index. Sim thread
// only. If the inactive slot is still pinned by a late reader it is
// abandoned to the GC and replaced rather than overwritten in place.
func (g *Grid) Publish(tick uint64, creatures []CreatureSnapshot, objects []ObjectSnapshot) {
	idx := 1 - g.active.Load()
	s := g.slots[idx]
	if s.readers.Load() != 0 {
		s = &slot{}
		g.slots[idx] = s
	}
	s.tick = tick
	s.creatures = append(s.creatures[:0], creatures...)
	s.objects = append(s.objects[:0], objects...)
	g.active.Store(idx)
}

// acquire pins the active slot against recycling. Release by readers.Add(-1).
func (g *Grid) acquire() *slot {
	for {
		idx := g.active.Load()
		s := g.slots[idx]
		s.readers.Add(1)
		if g.active.Load() == idx {
			return s
		}
		s.readers.Add(-1)
	}
}

// Query copies out all snapshot entries within radius of pos. Safe from any
// thread.
func (g *Grid) Query(pos host.Position, radius float64) Result {
	s := g.acquire()
	defer s.readers.Add(-1)

	out := Result{Tick: s.tick}
	for _, c := range s.creatures {
		if pos.DistanceTo(c.Pos) <= radius {
			out.Creatures = append(out.Creatures, c)
		}
	}
	for _, o := range s.objects {
		if pos.DistanceTo(o.Pos) <= radius {
			out.Objects = append(out.Objects, o)
		}
	}
	return out
}

// Tick reports the publication tick of the currently active snapshot.
func (g *Grid) Tick() uint64 {
	s := g.acquire()
	defer s.readers.Add(-1)
	return s.tick
}

// Manager holds one grid per map. Grids are constructed lazily on the sim
// thread; a worker-thread query against an absent map returns an empty
// result instead of racing a construction.
type Manager struct {
	mu    sync.RWMutex
	grids map[uint32]*Grid
}

func NewManager() *Manager {
	return &Manager{grids: map[uint32]*Grid{}}
}

// GridFor returns the grid for mapID, constructing it if needed. Sim thread
// only.
func (m *Manager) GridFor(mapID uint32) *Grid {
	m.mu.RLock()
	g := m.grids[mapID]
	m.mu.RUnlock()
	if g != nil {
		return g
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if g = m.grids[mapID]; g == nil {
		g = NewGrid()
		m.grids[mapID] = g
	}
	return g
}

// Query is the any-thread read path.
func (m *Manager) Query(pos host.Position, radius float64) Result {
	m.mu.RLock()
	g := m.grids[pos.Map]
	m.mu.RUnlock()
	if g == nil {
		return Result{}
	}
	return g.Query(pos, radius)
}

// RefreshFromHost rebuilds mapID's snapshot from the authoritative store.
// Sim thread only, once per tick (or every N ticks for cold maps).
func (m *Manager) RefreshFromHost(w host.World, mapID uint32, tick uint64, center host.Position, radius float64) {
	entities := w.EntitiesNear(center, radius)
	var creatures []CreatureSnapshot
	var objects []ObjectSnapshot
	for _, e := range entities {
		switch e.Kind {
		case host.KindGameObject:
			objects = append(objects, ObjectSnapshot{
				ID:      e.ID,
				Entry:   e.Entry,
				Pos:     e.Pos,
				Spawned: e.Spawned,
				InUse:   e.InUse,
				Visible: e.Visible,
			})
		default:
			creatures = append(creatures, CreatureSnapshot{
				ID:             e.ID,
				Entry:          e.Entry,
				Pos:            e.Pos,
				Alive:          e.Alive,
				Visible:        e.Visible,
				InCombat:       e.InCombat,
				Faction:        e.Faction,
				ThreatCount:    e.ThreatCount,
				Victim:         e.Victim,
				HealthFraction: e.HealthFraction,
			})
		}
	}
	m.GridFor(mapID).Publish(tick, creatures, objects)
}
