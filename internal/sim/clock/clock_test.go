package clock

import (
	"testing"
	"time"
)

func TestManual_AdvanceAndSet(t *testing.T) {
	c := NewManual(100)
	if got := c.Now(); got != 100 {
		t.Fatalf("now: got %d want 100", got)
	}
	c.Advance(2 * time.Second)
	if got := c.Now(); got != 2100 {
		t.Fatalf("now: got %d want 2100", got)
	}
	c.Set(50)
	if got := c.Now(); got != 50 {
		t.Fatalf("now: got %d want 50", got)
	}
}

func TestSystem_Monotonic(t *testing.T) {
	c := System()
	a := c.Now()
	time.Sleep(2 * time.Millisecond)
	b := c.Now()
	if b < a {
		t.Fatalf("clock went backwards: %d then %d", a, b)
	}
}

func TestMillis_Arithmetic(t *testing.T) {
	var m Millis = 1000
	if got := m.Add(500 * time.Millisecond); got != 1500 {
		t.Fatalf("add: got %d want 1500", got)
	}
	if got := Millis(1500).Sub(m); got != 500*time.Millisecond {
		t.Fatalf("sub: got %v want 500ms", got)
	}
}
