package monitor

import (
	"sync"

	"playerbots/internal/sim/clock"
)

// Sample is one timestamped observation in a rolling window.
type Sample struct {
	At    clock.Millis
	Value float64
}

// Window is a fixed-capacity ring of samples. Appends take a short mutex;
// readers copy. A zero-capacity window is clamped to one slot.
type Window struct {
	mu    sync.Mutex
	buf   []Sample
	next  int
	count int
}

func NewWindow(capacity int) *Window {
	if capacity < 1 {
		capacity = 1
	}
	return &Window{buf: make([]Sample, capacity)}
}

func (w *Window) Append(at clock.Millis, v float64) {
	if w == nil {
		return
	}
	w.mu.Lock()
	w.buf[w.next] = Sample{At: at, Value: v}
	w.next = (w.next + 1) % len(w.buf)
	if w.count < len(w.buf) {
		w.count++
	}
	w.mu.Unlock()
}

func (w *Window) Len() int {
	if w == nil {
		return 0
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// Last returns the most recent sample value, or 0 for an empty window.
func (w *Window) Last() float64 {
	if w == nil {
		return 0
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.count == 0 {
		return 0
	}
	idx := (w.next - 1 + len(w.buf)) % len(w.buf)
	return w.buf[idx].Value
}

func (w *Window) Min() float64 {
	return w.fold(func(acc, v float64, first bool) float64 {
		if first || v < acc {
			return v
		}
		return acc
	})
}

func (w *Window) Max() float64 {
	return w.fold(func(acc, v float64, first bool) float64 {
		if first || v > acc {
			return v
		}
		return acc
	})
}

func (w *Window) Mean() float64 {
	if w == nil {
		return 0
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.count == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < w.count; i++ {
		sum += w.at(i).Value
	}
	return sum / float64(w.count)
}

func (w *Window) fold(f func(acc, v float64, first bool) float64) float64 {
	if w == nil {
		return 0
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.count == 0 {
		return 0
	}
	var acc float64
	for i := 0; i < w.count; i++ {
		acc = f(acc, w.at(i).Value, i == 0)
	}
	return acc
}

// at indexes samples oldest-first; callers hold w.mu.
func (w *Window) at(i int) Sample {
	start := w.next - w.count
	if start < 0 {
		start += len(w.buf)
	}
	return w.buf[(start+i)%len(w.buf)]
}
