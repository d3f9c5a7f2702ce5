// Package events is a typed, priority-ordered intra-process pub/sub bus.
// Publish is safe from any thread; delivery happens on the sim thread
// during drain phases. Events are value types carrying no heap ownership.
package events

import (
	"container/heap"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"playerbots/internal/sim/clock"
	"playerbots/internal/sim/monitor"
)

type Priority int

const (
	PriorityBatch Priority = iota
	PriorityLow
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityBatch:
		return "BATCH"
	case PriorityLow:
		return "LOW"
	case PriorityMedium:
		return "MEDIUM"
	case PriorityHigh:
		return "HIGH"
	case PriorityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// DefaultTTL is the per-priority expiry applied when an event carries none
// and its kind has no override.
func DefaultTTL(p Priority) time.Duration {
	switch p {
	case PriorityCritical:
		return 30 * time.Second
	case PriorityHigh:
		return 5 * time.Minute
	case PriorityMedium:
		return 15 * time.Minute
	default:
		return 30 * time.Minute
	}
}

type Kind string

// Meta is the envelope every bus event exposes.
type Meta struct {
	Kind     Kind
	Priority Priority
	At       clock.Millis
	TTL      time.Duration
}

// Event is any value type routable by the bus.
type Event interface {
	EventMeta() Meta
	Valid() bool
}

// Handler is the object-subscriber form; invoked on the sim thread.
type Handler[E Event] interface {
	HandleEvent(e E)
}

type SubscriptionID string

type entry[E Event] struct {
	id      SubscriptionID
	kinds   map[Kind]bool
	handler Handler[E] // nil for callback entries
	fn      func(E)
}

type queued[E Event] struct {
	e   E
	at  clock.Millis
	pri Priority
	seq uint64
}

type eventHeap[E Event] []queued[E]

func (h eventHeap[E]) Len() int { return len(h) }
func (h eventHeap[E]) Less(i, j int) bool {
	if h[i].pri != h[j].pri {
		return h[i].pri > h[j].pri
	}
	if h[i].at != h[j].at {
		return h[i].at < h[j].at
	}
	return h[i].seq < h[j].seq
}
func (h eventHeap[E]) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *eventHeap[E]) Push(x any)   { *h = append(*h, x.(queued[E])) }
func (h *eventHeap[E]) Pop() any {
	old := *h
	n := len(old)
	q := old[n-1]
	*h = old[:n-1]
	return q
}

type Bus[E Event] struct {
	mu   sync.Mutex
	h    eventHeap[E]
	seq  uint64
	subs []*entry[E]

	ttlOverride map[Kind]time.Duration

	cap    int
	clk    clock.Clock
	mon    *monitor.Monitor
	logger *log.Logger
}

func NewBus[E Event](softCap int, clk clock.Clock, mon *monitor.Monitor, logger *log.Logger) *Bus[E] {
	if softCap < 1 {
		softCap = 8192
	}
	return &Bus[E]{
		ttlOverride: map[Kind]time.Duration{},
		cap:         softCap,
		clk:         clk,
		mon:         mon,
		logger:      logger,
	}
}

// SetKindTTL overrides the default TTL for one event kind.
func (b *Bus[E]) SetKindTTL(k Kind, ttl time.Duration) {
	b.mu.Lock()
	b.ttlOverride[k] = ttl
	b.mu.Unlock()
}

// Publish inserts an event unless it fails validation. Non-blocking; safe
// from any thread. Over the soft cap, the oldest Batch-priority backlog is
// dropped first (falling back to the globally worst entry).
func (b *Bus[E]) Publish(e E) bool {
	if !e.Valid() {
		return false
	}
	m := e.EventMeta()
	if m.Kind == "" {
		return false
	}
	at := m.At
	if at == 0 {
		at = b.clk.Now()
	}

	b.mu.Lock()
	b.seq++
	heap.Push(&b.h, queued[E]{e: e, at: at, pri: m.Priority, seq: b.seq})
	var dropped bool
	if len(b.h) > b.cap {
		b.dropOldestBatchLocked()
		dropped = true
	}
	b.mu.Unlock()

	b.mon.Increment(monitor.CounterEventsPublished)
	if dropped {
		b.mon.Increment(monitor.CounterEventsDropped)
	}
	return true
}

func (b *Bus[E]) dropOldestBatchLocked() {
	victim := -1
	for i := range b.h {
		if b.h[i].pri != PriorityBatch {
			continue
		}
		if victim == -1 || b.h[i].at < b.h[victim].at || (b.h[i].at == b.h[victim].at && b.h[i].seq < b.h[victim].seq) {
			victim = i
		}
	}
	if victim == -1 {
		// No batch backlog: shed the worst-ordered entry instead.
		victim = 0
		for i := 1; i < len(b.h); i++ {
			if b.h[victim].pri > b.h[i].pri || (b.h[victim].pri == b.h[i].pri && b.h[victim].at < b.h[i].at) {
				victim = i
			}
		}
	}
	heap.Remove(&b.h, victim)
}

func (b *Bus[E]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.h)
}

// Subscribe registers a handler object for a set of kinds. Idempotent on
// (handler, kind) pairs.
func (b *Bus[E]) Subscribe(h Handler[E], kinds ...Kind) {
	if h == nil || len(kinds) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs {
		if s.handler == h {
			for _, k := range kinds {
				s.kinds[k] = true
			}
			return
		}
	}
	e := &entry[E]{id: SubscriptionID(uuid.NewString()), kinds: map[Kind]bool{}, handler: h}
	for _, k := range kinds {
		e.kinds[k] = true
	}
	b.subs = append(b.subs, e)
}

// SubscribeFunc registers a closure; the returned id enables
// UnsubscribeFunc. The closure is retained until unsubscribed.
func (b *Bus[E]) SubscribeFunc(fn func(E), kinds ...Kind) SubscriptionID {
	if fn == nil || len(kinds) == 0 {
		return ""
	}
	e := &entry[E]{id: SubscriptionID(uuid.NewString()), kinds: map[Kind]bool{}, fn: fn}
	for _, k := range kinds {
		e.kinds[k] = true
	}
	b.mu.Lock()
	b.subs = append(b.subs, e)
	b.mu.Unlock()
	return e.id
}

// Unsubscribe removes every registration for a handler object.
func (b *Bus[E]) Unsubscribe(h Handler[E]) {
	if h == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.subs[:0]
	for _, s := range b.subs {
		if s.handler != h {
			out = append(out, s)
		}
	}
	b.subs = out
}

// UnsubscribeFunc drops a callback subscription. After it returns the
// closure is released and never invoked again.
func (b *Bus[E]) UnsubscribeFunc(id SubscriptionID) {
	if id == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.subs[:0]
	for _, s := range b.subs {
		if s.id != id {
			out = append(out, s)
		}
	}
	b.subs = out
}

// DrainStats reports one drain pass.
type DrainStats struct {
	Delivered int
	Expired   int
}

// Drain delivers up to maxEvents pending events in (priority desc,
// timestamp asc) order. Expired events are discarded and counted. Sim
// thread only; handler panics are caught and the subscription stays live.
func (b *Bus[E]) Drain(maxEvents int) DrainStats { return b.drain(maxEvents, 0) }

// DrainBudget is Drain with a wall-time bound: delivery stops once the
// budget is spent, leaving the rest queued for the next drain.
func (b *Bus[E]) DrainBudget(maxEvents int, budget time.Duration) DrainStats {
	return b.drain(maxEvents, budget)
}

func (b *Bus[E]) drain(maxEvents int, budget time.Duration) DrainStats {
	var st DrainStats
	if maxEvents < 1 {
		maxEvents = 1
	}
	start := time.Now()
	now := b.clk.Now()
	for i := 0; i < maxEvents; i++ {
		if budget > 0 && i > 0 && time.Since(start) >= budget {
			break
		}
		b.mu.Lock()
		if len(b.h) == 0 {
			b.mu.Unlock()
			break
		}
		q := heap.Pop(&b.h).(queued[E])
		ttl := q.e.EventMeta().TTL
		if ttl <= 0 {
			if o, ok := b.ttlOverride[q.e.EventMeta().Kind]; ok {
				ttl = o
			} else {
				ttl = DefaultTTL(q.pri)
			}
		}
		b.mu.Unlock()

		if now >= q.at.Add(ttl) {
			st.Expired++
			b.mon.Increment(monitor.CounterEventsExpired)
			continue
		}
		b.deliver(q.e)
		st.Delivered++
		b.mon.Increment(monitor.CounterEventsDelivered)
	}
	return st
}

// deliver invokes subscribers in registration order. Liveness is rechecked
// per id so an unsubscribe earlier in the same drain is honored.
func (b *Bus[E]) deliver(e E) {
	kind := e.EventMeta().Kind

	b.mu.Lock()
	ids := make([]SubscriptionID, 0, len(b.subs))
	for _, s := range b.subs {
		if s.kinds[kind] {
			ids = append(ids, s.id)
		}
	}
	b.mu.Unlock()

	for _, id := range ids {
		b.mu.Lock()
		var live *entry[E]
		for _, s := range b.subs {
			if s.id == id && s.kinds[kind] {
				live = s
				break
			}
		}
		b.mu.Unlock()
		if live == nil {
			continue
		}
		b.invoke(live, e)
	}
}

func (b *Bus[E]) invoke(s *entry[E], e E) {
	defer func() {
		if r := recover(); r != nil {
			if b.logger != nil {
				b.logger.Printf("event handler panic (kind=%s): %v", e.EventMeta().Kind, r)
			}
			b.mon.Increment(monitor.CounterErrors)
		}
	}()
	if s.handler != nil {
		s.handler.HandleEvent(e)
		return
	}
	s.fn(e)
}
