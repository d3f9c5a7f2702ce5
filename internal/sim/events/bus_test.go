package events

import (
	"math/rand"
	"sync"
	"testing"
	"time"

	"playerbots/internal/sim/clock"
	"playerbots/internal/sim/monitor"
)

type testEvent struct {
	kind Kind
	pri  Priority
	at   clock.Millis
	ttl  time.Duration
	n    int
	bad  bool
}

func (e testEvent) EventMeta() Meta { return Meta{Kind: e.kind, Priority: e.pri, At: e.at, TTL: e.ttl} }
func (e testEvent) Valid() bool     { return !e.bad }

type collector struct {
	got []testEvent
}

func (c *collector) HandleEvent(e testEvent) { c.got = append(c.got, e) }

func newTestBus(cap int) (*Bus[testEvent], *clock.Manual) {
	clk := clock.NewManual(0)
	mon := monitor.New(monitor.Config{}, clk, nil)
	return NewBus[testEvent](cap, clk, mon, nil), clk
}

func TestPublish_RejectsInvalid(t *testing.T) {
	b, _ := newTestBus(10)
	if b.Publish(testEvent{kind: "K", bad: true}) {
		t.Fatalf("invalid event accepted")
	}
	if b.Publish(testEvent{kind: ""}) {
		t.Fatalf("kindless event accepted")
	}
	if !b.Publish(testEvent{kind: "K"}) {
		t.Fatalf("valid event rejected")
	}
}

func TestDrain_PriorityThenTimestampOrder(t *testing.T) {
	b, _ := newTestBus(100)
	c := &collector{}
	b.Subscribe(c, "K")

	b.Publish(testEvent{kind: "K", pri: PriorityLow, at: 1, n: 1})
	b.Publish(testEvent{kind: "K", pri: PriorityCritical, at: 3, n: 2})
	b.Publish(testEvent{kind: "K", pri: PriorityLow, at: 2, n: 3})
	b.Publish(testEvent{kind: "K", pri: PriorityHigh, at: 1, n: 4})

	st := b.Drain(100)
	if st.Delivered != 4 {
		t.Fatalf("delivered: %+v", st)
	}
	want := []int{2, 4, 1, 3}
	for i, e := range c.got {
		if e.n != want[i] {
			t.Fatalf("order: got %v want %v", c.got, want)
		}
	}
}

func TestDrain_TTLExpiry(t *testing.T) {
	b, clk := newTestBus(100)
	c := &collector{}
	b.Subscribe(c, "MATERIAL_GATHERED")

	// Low priority, ttl 30 min, idle until t=31 min.
	b.Publish(testEvent{kind: "MATERIAL_GATHERED", pri: PriorityLow, at: 0, ttl: 30 * time.Minute})
	clk.Advance(31 * time.Minute)
	st := b.Drain(100)
	if st.Expired != 1 || st.Delivered != 0 {
		t.Fatalf("stats: %+v", st)
	}
	if len(c.got) != 0 {
		t.Fatalf("expired event delivered")
	}
}

func TestDrain_KindTTLOverride(t *testing.T) {
	b, clk := newTestBus(100)
	c := &collector{}
	b.Subscribe(c, "K")
	b.SetKindTTL("K", time.Second)

	b.Publish(testEvent{kind: "K", pri: PriorityHigh, at: 0})
	clk.Advance(2 * time.Second) // under the High default of 5 min, over the override
	if st := b.Drain(100); st.Expired != 1 {
		t.Fatalf("override ignored: %+v", st)
	}
}

func TestSubscribe_IdempotentPerHandlerKind(t *testing.T) {
	b, _ := newTestBus(100)
	c := &collector{}
	b.Subscribe(c, "K")
	b.Subscribe(c, "K", "L")
	b.Publish(testEvent{kind: "K", n: 1})
	b.Drain(100)
	if len(c.got) != 1 {
		t.Fatalf("duplicate delivery: %d", len(c.got))
	}
}

func TestUnsubscribe_Safety(t *testing.T) {
	b, _ := newTestBus(100)
	c := &collector{}
	b.Subscribe(c, "K")
	var fnCalls int
	id := b.SubscribeFunc(func(testEvent) { fnCalls++ }, "K")

	b.Publish(testEvent{kind: "K"})
	b.Drain(100)
	if len(c.got) != 1 || fnCalls != 1 {
		t.Fatalf("first delivery: handler=%d fn=%d", len(c.got), fnCalls)
	}

	b.Unsubscribe(c)
	b.UnsubscribeFunc(id)
	b.Publish(testEvent{kind: "K"})
	b.Drain(100)
	if len(c.got) != 1 || fnCalls != 1 {
		t.Fatalf("delivery after unsubscribe: handler=%d fn=%d", len(c.got), fnCalls)
	}
}

func TestUnsubscribe_DuringDrainStopsDelivery(t *testing.T) {
	b, _ := newTestBus(100)
	c := &collector{}
	// First subscriber unsubscribes the second mid-drain.
	b.SubscribeFunc(func(testEvent) { b.Unsubscribe(c) }, "K")
	b.Subscribe(c, "K")
	b.Publish(testEvent{kind: "K"})
	b.Drain(100)
	if len(c.got) != 0 {
		t.Fatalf("delivery reached handler after unsubscribe in same drain")
	}
}

func TestHandlerPanicDoesNotKillSubscription(t *testing.T) {
	b, _ := newTestBus(100)
	calls := 0
	b.SubscribeFunc(func(testEvent) {
		calls++
		panic("boom")
	}, "K")
	b.Publish(testEvent{kind: "K"})
	b.Drain(100)
	b.Publish(testEvent{kind: "K"})
	b.Drain(100)
	if calls != 2 {
		t.Fatalf("subscription should survive panics: calls=%d", calls)
	}
}

func TestCap_DropsOldestBatchFirst(t *testing.T) {
	b, _ := newTestBus(3)
	c := &collector{}
	b.Subscribe(c, "K")

	b.Publish(testEvent{kind: "K", pri: PriorityBatch, at: 1, n: 1})
	b.Publish(testEvent{kind: "K", pri: PriorityHigh, at: 2, n: 2})
	b.Publish(testEvent{kind: "K", pri: PriorityBatch, at: 3, n: 3})
	b.Publish(testEvent{kind: "K", pri: PriorityCritical, at: 4, n: 4})

	b.Drain(100)
	got := map[int]bool{}
	for _, e := range c.got {
		got[e.n] = true
	}
	if got[1] {
		t.Fatalf("oldest batch event should have been shed: %v", c.got)
	}
	if !got[2] || !got[3] || !got[4] {
		t.Fatalf("unexpected survivors: %v", c.got)
	}
}

func TestFuzzedSubscribeUnsubscribePublish(t *testing.T) {
	b, _ := newTestBus(10000)
	rng := rand.New(rand.NewSource(7))

	var mu sync.Mutex
	dead := map[SubscriptionID]bool{}
	var violations int

	var ids []SubscriptionID
	for i := 0; i < 50; i++ {
		var id SubscriptionID
		id = b.SubscribeFunc(func(testEvent) {
			mu.Lock()
			if dead[id] {
				violations++
			}
			mu.Unlock()
		}, "K")
		ids = append(ids, id)
	}

	for round := 0; round < 200; round++ {
		switch rng.Intn(3) {
		case 0:
			if len(ids) > 0 {
				i := rng.Intn(len(ids))
				mu.Lock()
				dead[ids[i]] = true
				mu.Unlock()
				b.UnsubscribeFunc(ids[i])
				ids = append(ids[:i], ids[i+1:]...)
			}
		case 1:
			var id SubscriptionID
			id = b.SubscribeFunc(func(testEvent) {
				mu.Lock()
				if dead[id] {
					violations++
				}
				mu.Unlock()
			}, "K")
			ids = append(ids, id)
		case 2:
			b.Publish(testEvent{kind: "K", pri: Priority(rng.Intn(5))})
			b.Drain(50)
		}
	}
	b.Drain(100000)
	if violations != 0 {
		t.Fatalf("deliveries after unsubscribe: %d", violations)
	}
}

func TestDrainBudget_StopsOnWallTime(t *testing.T) {
	b, _ := newTestBus(100)
	slow := &collector{}
	b.SubscribeFunc(func(e testEvent) {
		slow.got = append(slow.got, e)
		time.Sleep(2 * time.Millisecond)
	}, "K")

	for i := 0; i < 5; i++ {
		b.Publish(testEvent{kind: "K", n: i})
	}
	st := b.DrainBudget(100, time.Millisecond)
	if st.Delivered != 1 {
		t.Fatalf("budget ignored: delivered %d", st.Delivered)
	}
	rest := b.Drain(100)
	if st.Delivered+rest.Delivered != 5 {
		t.Fatalf("deferred events lost: %d + %d", st.Delivered, rest.Delivered)
	}
}
