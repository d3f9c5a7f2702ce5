// Package clock is the single definition of "now" for the bot core.
// All timestamps in events, actions and metrics are Millis drawn from one
// Clock; wall-clock time is used only for log presentation.
package clock

import (
	"sync/atomic"
	"time"
)

// Millis is a monotonic millisecond timestamp.
type Millis int64

func (m Millis) Add(d time.Duration) Millis { return m + Millis(d/time.Millisecond) }

func (m Millis) Sub(o Millis) time.Duration { return time.Duration(m-o) * time.Millisecond }

type Clock interface {
	Now() Millis
}

type systemClock struct {
	start time.Time
}

// System returns a monotonic clock anchored at process start.
func System() Clock {
	return &systemClock{start: time.Now()}
}

func (c *systemClock) Now() Millis {
	return Millis(time.Since(c.start) / time.Millisecond)
}

// Manual is a test clock advanced explicitly. Safe for concurrent use.
type Manual struct {
	now atomic.Int64
}

func NewManual(start Millis) *Manual {
	m := &Manual{}
	m.now.Store(int64(start))
	return m
}

func (m *Manual) Now() Millis              { return Millis(m.now.Load()) }
func (m *Manual) Advance(d time.Duration)  { m.now.Add(int64(d / time.Millisecond)) }
func (m *Manual) AdvanceMillis(ms Millis)  { m.now.Add(int64(ms)) }
func (m *Manual) Set(t Millis)             { m.now.Store(int64(t)) }
