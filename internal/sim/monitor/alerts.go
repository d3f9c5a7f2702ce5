package monitor

import (
	"sync"

	"playerbots/internal/sim/clock"
)

type Level int

const (
	LevelWarning Level = iota + 1
	LevelCritical
)

func (l Level) String() string {
	switch l {
	case LevelWarning:
		return "WARNING"
	case LevelCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// Threshold categories evaluated by UpdateAlerts.
const (
	ThresholdCPUPercent = "cpu_pct"
	ThresholdMemoryMB   = "memory_mb"
	ThresholdQueryMs    = "query_ms"
	ThresholdCrashRate  = "crash_rate_pct"
)

type Threshold struct {
	Warning  float64
	Critical float64
	Enabled  bool
}

type Alert struct {
	Level     Level        `json:"level"`
	Category  string       `json:"category"`
	Message   string       `json:"message"`
	At        clock.Millis `json:"at"`
	Current   float64      `json:"current"`
	Threshold float64      `json:"threshold"`
}

type alertRing struct {
	mu  sync.Mutex
	buf []Alert
	n   int // total appended
}

func newAlertRing(capacity int) *alertRing {
	if capacity < 1 {
		capacity = 1
	}
	return &alertRing{buf: make([]Alert, 0, capacity)}
}

func (r *alertRing) push(a Alert) {
	r.mu.Lock()
	if len(r.buf) == cap(r.buf) {
		copy(r.buf, r.buf[1:])
		r.buf[len(r.buf)-1] = a
	} else {
		r.buf = append(r.buf, a)
	}
	r.n++
	r.mu.Unlock()
}

// newestFirst copies alerts out, most recent leading.
func (r *alertRing) newestFirst() []Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Alert, len(r.buf))
	for i, a := range r.buf {
		out[len(r.buf)-1-i] = a
	}
	return out
}

func (r *alertRing) clear() {
	r.mu.Lock()
	r.buf = r.buf[:0]
	r.mu.Unlock()
}

type alertState struct {
	mu         sync.Mutex
	thresholds map[string]Threshold
	callbacks  []func(Alert)
	// Track the level last reported per category so a sustained breach
	// produces one alert per crossing, not one per update pass.
	lastLevel map[string]Level
}

func (m *Monitor) alertStateLazy() *alertState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.alertsCfg == nil {
		m.alertsCfg = &alertState{
			thresholds: map[string]Threshold{},
			lastLevel:  map[string]Level{},
		}
	}
	return m.alertsCfg
}

// SetThreshold configures (or disables) alerting for a category.
func (m *Monitor) SetThreshold(category string, t Threshold) {
	if m == nil {
		return
	}
	st := m.alertStateLazy()
	st.mu.Lock()
	st.thresholds[category] = t
	st.mu.Unlock()
}

// OnAlert registers a callback invoked synchronously on the update thread.
// Panics inside callbacks are caught and logged.
func (m *Monitor) OnAlert(fn func(Alert)) {
	if m == nil || fn == nil {
		return
	}
	st := m.alertStateLazy()
	st.mu.Lock()
	st.callbacks = append(st.callbacks, fn)
	st.mu.Unlock()
}

// UpdateAlerts evaluates active thresholds against current window values and
// emits an Alert for each new crossing.
func (m *Monitor) UpdateAlerts() {
	if m == nil {
		return
	}
	st := m.alertStateLazy()
	now := m.clk.Now()

	current := map[string]float64{
		ThresholdCPUPercent: m.Window(WindowCPUPercent).Last(),
		ThresholdMemoryMB:   m.Window(WindowMemoryMB).Last(),
		ThresholdQueryMs:    m.Window(WindowDBQueryMs).Last(),
		ThresholdCrashRate:  m.Window(WindowCrashRate).Last(),
	}

	st.mu.Lock()
	ths := make(map[string]Threshold, len(st.thresholds))
	for k, v := range st.thresholds {
		ths[k] = v
	}
	st.mu.Unlock()

	for cat, th := range ths {
		if !th.Enabled {
			continue
		}
		v := current[cat]
		level := Level(0)
		limit := 0.0
		switch {
		case th.Critical > 0 && v >= th.Critical:
			level, limit = LevelCritical, th.Critical
		case th.Warning > 0 && v >= th.Warning:
			level, limit = LevelWarning, th.Warning
		}

		st.mu.Lock()
		prev := st.lastLevel[cat]
		st.lastLevel[cat] = level
		st.mu.Unlock()
		if level == 0 || level == prev {
			continue
		}
		m.Emit(Alert{
			Level:     level,
			Category:  cat,
			Message:   cat + " over " + level.String() + " threshold",
			At:        now,
			Current:   v,
			Threshold: limit,
		})
	}
}

// Emit records an alert, persists it and fans out to callbacks.
func (m *Monitor) Emit(a Alert) {
	if m == nil {
		return
	}
	if a.At == 0 {
		a.At = m.clk.Now()
	}
	m.alerts.push(a)
	switch a.Level {
	case LevelCritical:
		m.Increment(CounterErrors)
	default:
		m.Increment(CounterWarnings)
	}
	if m.sink != nil {
		if err := m.sink.WriteAlert(a); err != nil && m.logger != nil {
			m.logger.Printf("alert sink: %v", err)
		}
	}

	st := m.alertStateLazy()
	st.mu.Lock()
	cbs := make([]func(Alert), len(st.callbacks))
	copy(cbs, st.callbacks)
	st.mu.Unlock()
	for _, fn := range cbs {
		m.safeCall(fn, a)
	}
}

func (m *Monitor) safeCall(fn func(Alert), a Alert) {
	defer func() {
		if r := recover(); r != nil {
			if m.logger != nil {
				m.logger.Printf("alert callback panic: %v", r)
			}
			m.Increment(CounterErrors)
		}
	}()
	fn(a)
}

// ActiveAlerts returns alerts emitted within the active window (default
// 5 minutes) at or above minLevel, newest first.
func (m *Monitor) ActiveAlerts(minLevel Level) []Alert {
	if m == nil {
		return nil
	}
	cutoff := m.clk.Now() - clock.Millis(m.cfg.ActiveAlertMins)*60_000
	var out []Alert
	for _, a := range m.alerts.newestFirst() {
		if a.At < cutoff || a.Level < minLevel {
			continue
		}
		out = append(out, a)
	}
	return out
}

// AlertHistory returns the bounded alert ring, newest first.
func (m *Monitor) AlertHistory() []Alert { return m.alerts.newestFirst() }

func (m *Monitor) ClearAlerts() {
	if m == nil {
		return
	}
	m.alerts.clear()
}
