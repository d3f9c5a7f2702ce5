package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Tuning carries the static budgets and caps of the bot core. Runtime
// toggles live in internal/config; everything here is fixed at startup.
type Tuning struct {
	TickIntervalMs int `yaml:"tick_interval_ms"`

	SchedulerBudgetMs int `yaml:"scheduler_budget_ms"`
	BotSoftBudgetUs   int `yaml:"bot_soft_budget_us"`
	ActionDrainMs     int `yaml:"action_drain_ms"`
	EventDrainMs      int `yaml:"event_drain_ms"`

	CadenceMinMs    int `yaml:"cadence_min_ms"`
	CadenceMaxMs    int `yaml:"cadence_max_ms"`
	BackoffMaxMs    int `yaml:"backoff_max_ms"`
	StarveTicks     int `yaml:"starve_ticks"`
	ActionQueueCap  int `yaml:"action_queue_cap"`
	EventQueueCap   int `yaml:"event_queue_cap"`
	EventTickBudget int `yaml:"event_tick_budget"`

	SpatialRefreshTicks int `yaml:"spatial_refresh_ticks"`

	Monitor Monitor `yaml:"monitor"`
}

type Monitor struct {
	WindowSamples   int `yaml:"window_samples"`
	HistoryMinutes  int `yaml:"history_minutes"`
	AlertRing       int `yaml:"alert_ring"`
	ActiveAlertMins int `yaml:"active_alert_mins"`
}

func Defaults() Tuning {
	return Tuning{
		TickIntervalMs:      100,
		SchedulerBudgetMs:   10,
		BotSoftBudgetUs:     1000,
		ActionDrainMs:       2,
		EventDrainMs:        2,
		CadenceMinMs:        100,
		CadenceMaxMs:        300,
		BackoffMaxMs:        1000,
		StarveTicks:         5,
		ActionQueueCap:      4096,
		EventQueueCap:       8192,
		EventTickBudget:     256,
		SpatialRefreshTicks: 1,
		Monitor: Monitor{
			WindowSamples:   60,
			HistoryMinutes:  24 * 60,
			AlertRing:       1000,
			ActiveAlertMins: 5,
		},
	}
}

func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}
