// Package profession keeps a bot's trade skills in sync with its level:
// gathering skills through farming sessions in skill-appropriate zones,
// crafting skills through a FIFO order queue fed by a materials ledger.
// Missing reagents are announced on the bus; the economy bridges decide how
// to source them.
package profession

import (
	"time"

	"playerbots/internal/sim/clock"
	"playerbots/internal/sim/host"
)

// Profession is one known trade skill.
type Profession struct {
	Skill     uint32
	Name      string
	Current   int
	Max       int
	Gathering bool
}

// Reagent is one ingredient requirement.
type Reagent struct {
	ItemID uint32
	Count  int
}

// Recipe describes a craftable. Difficulty is the skill at which the craft
// stops granting skill-ups.
type Recipe struct {
	ID         uint32
	Skill      uint32
	SkillReq   int
	Difficulty int
	Yields     uint32
	YieldCount int
	Reagents   []Reagent
}

// CraftOrder is one FIFO crafting queue entry.
type CraftOrder struct {
	RecipeID uint32
	Quantity int

	announced bool // MaterialsNeeded already published for the current shortage
}

// ZoneSpot maps a skill bracket of a gathering profession to a farming
// location.
type ZoneSpot struct {
	Skill    uint32
	ZoneID   uint32
	MinSkill int
	MaxSkill int
	Pos      host.Position
}

// FarmSession is one active gathering run.
type FarmSession struct {
	Skill       uint32
	ZoneID      uint32
	Pos         host.Position
	TargetSkill int
	StartedAt   clock.Millis
	Deadline    clock.Millis
}

// SessionEnd says why a farming session stopped.
type SessionEnd int

const (
	EndTargetReached SessionEnd = iota + 1
	EndBudgetExhausted
	EndInterrupted
)

func (e SessionEnd) String() string {
	switch e {
	case EndTargetReached:
		return "TARGET_REACHED"
	case EndBudgetExhausted:
		return "BUDGET_EXHAUSTED"
	case EndInterrupted:
		return "INTERRUPTED"
	default:
		return "UNKNOWN"
	}
}

type Config struct {
	SkillPerLevel int           // target skill per bot level, default 5
	GapThreshold  int           // skill deficit before a farming session, default 10
	MaxSession    time.Duration // farming session budget, default 10 min
	Zones         []ZoneSpot
	Recipes       map[uint32]Recipe // catalog keyed by recipe id
}

func (c Config) withDefaults() Config {
	if c.SkillPerLevel <= 0 {
		c.SkillPerLevel = 5
	}
	if c.GapThreshold <= 0 {
		c.GapThreshold = 10
	}
	if c.MaxSession <= 0 {
		c.MaxSession = 10 * time.Minute
	}
	if c.Recipes == nil {
		c.Recipes = map[uint32]Recipe{}
	}
	return c
}
