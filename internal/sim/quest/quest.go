// Package quest tracks per-bot quest progress and drives objective work:
// locating targets through spatial snapshots, staging kill/collect/interact
// actions, detecting stuck objectives and announcing turn-in readiness on
// the event bus.
package quest

import (
	"playerbots/internal/sim/clock"
	"playerbots/internal/sim/host"
)

type ObjectiveKind int

const (
	ObjectiveKill ObjectiveKind = iota + 1
	ObjectiveCollect
	ObjectiveInteract
	ObjectiveReachLocation
	ObjectiveCurrency
	ObjectiveReputation
	ObjectiveMoney
	ObjectiveLearnSpell
	ObjectiveEscort
	ObjectiveCastSpell
	ObjectiveEmote
	ObjectiveCriteriaTree
	ObjectiveProgressBar
)

func (k ObjectiveKind) String() string {
	switch k {
	case ObjectiveKill:
		return "KILL"
	case ObjectiveCollect:
		return "COLLECT"
	case ObjectiveInteract:
		return "INTERACT"
	case ObjectiveReachLocation:
		return "REACH_LOCATION"
	case ObjectiveCurrency:
		return "CURRENCY"
	case ObjectiveReputation:
		return "REPUTATION"
	case ObjectiveMoney:
		return "MONEY"
	case ObjectiveLearnSpell:
		return "LEARN_SPELL"
	case ObjectiveEscort:
		return "ESCORT"
	case ObjectiveCastSpell:
		return "CAST_SPELL"
	case ObjectiveEmote:
		return "EMOTE"
	case ObjectiveCriteriaTree:
		return "CRITERIA_TREE"
	case ObjectiveProgressBar:
		return "PROGRESS_BAR"
	default:
		return "UNKNOWN"
	}
}

// Category collapses kinds into handler groups.
type Category int

const (
	CategoryCombat  Category = iota + 1 // kill, escort
	CategoryGather                      // collect
	CategoryUse                         // interact, cast, emote
	CategoryTravel                      // reach-location
	CategoryPassive                     // accumulators and opaque pass-throughs
)

func (k ObjectiveKind) Category() Category {
	switch k {
	case ObjectiveKill, ObjectiveEscort:
		return CategoryCombat
	case ObjectiveCollect:
		return CategoryGather
	case ObjectiveInteract, ObjectiveCastSpell, ObjectiveEmote:
		return CategoryUse
	case ObjectiveReachLocation:
		return CategoryTravel
	default:
		return CategoryPassive
	}
}

type ObjectiveStatus int

const (
	StatusNotStarted ObjectiveStatus = iota
	StatusInProgress
	StatusCompleted
	StatusFailed
	StatusBlocked
	StatusSkipped
)

func (s ObjectiveStatus) String() string {
	switch s {
	case StatusInProgress:
		return "IN_PROGRESS"
	case StatusCompleted:
		return "COMPLETED"
	case StatusFailed:
		return "FAILED"
	case StatusBlocked:
		return "BLOCKED"
	case StatusSkipped:
		return "SKIPPED"
	default:
		return "NOT_STARTED"
	}
}

// Done reports a terminal status that needs no further work.
func (s ObjectiveStatus) Done() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusSkipped
}

// Objective is one quest requirement. All fields owned by the sim thread.
type Objective struct {
	Index         int
	Kind          ObjectiveKind
	TargetID      uint32 // creature/gameobject entry, item id or spell id
	RequiredCount int
	CurrentCount  int
	Status        ObjectiveStatus
	TargetLoc     host.Position
	HasLoc        bool
	SearchRadius  float64
	SpellID       uint32
	Retries       int
	TimeSpentMs   clock.Millis

	lastProgress clock.Millis
	lastStepAt   clock.Millis
	moveIssued   bool
}

// Remaining is the credit still owed.
func (o *Objective) Remaining() int {
	if o.CurrentCount >= o.RequiredCount {
		return 0
	}
	return o.RequiredCount - o.CurrentCount
}

type Strategy int

const (
	StrategyEfficient Strategy = iota
	StrategySafe
	StrategyGroup
	StrategySolo
	StrategyXPMax
	StrategySpeed
	StrategyExploration
)

func (s Strategy) String() string {
	switch s {
	case StrategySafe:
		return "SAFE"
	case StrategyGroup:
		return "GROUP"
	case StrategySolo:
		return "SOLO"
	case StrategyXPMax:
		return "XP_MAX"
	case StrategySpeed:
		return "SPEED"
	case StrategyExploration:
		return "EXPLORATION"
	default:
		return "EFFICIENT"
	}
}

// weights is the scoring profile a strategy applies to objective selection.
type weights struct {
	urgency, ease, efficiency, proximity float64
}

func (s Strategy) weights() weights {
	switch s {
	case StrategySafe:
		return weights{urgency: 0.2, ease: 0.5, efficiency: 0.1, proximity: 0.2}
	case StrategySpeed:
		return weights{urgency: 0.2, ease: 0.1, efficiency: 0.3, proximity: 0.4}
	case StrategyXPMax:
		return weights{urgency: 0.4, ease: 0.1, efficiency: 0.4, proximity: 0.1}
	case StrategyExploration:
		return weights{urgency: 0.1, ease: 0.2, efficiency: 0.2, proximity: 0.5}
	default:
		return weights{urgency: 0.3, ease: 0.2, efficiency: 0.3, proximity: 0.2}
	}
}

// abandonsWhenStuck reports whether repeated failure should drop the quest
// rather than park it.
func (s Strategy) abandonsWhenStuck() bool {
	switch s {
	case StrategySafe, StrategyGroup:
		return false
	default:
		return true
	}
}

// Quest is one tracked quest.
type Quest struct {
	QuestID             uint32
	Strategy            Strategy
	Giver               host.EntityID
	Objectives          []*Objective
	Stuck               bool
	ConsecutiveFailures int
	LastUpdate          clock.Millis

	readyPublished bool
}

// CompletionPct is completed objectives over total, 0..100.
func (q *Quest) CompletionPct() float64 {
	if len(q.Objectives) == 0 {
		return 100
	}
	done := 0
	for _, o := range q.Objectives {
		if o.Status == StatusCompleted || o.Status == StatusSkipped {
			done++
		}
	}
	return 100 * float64(done) / float64(len(q.Objectives))
}

// Complete reports whether every objective reached a terminal non-failed
// status.
func (q *Quest) Complete() bool {
	for _, o := range q.Objectives {
		if o.Status != StatusCompleted && o.Status != StatusSkipped {
			return false
		}
	}
	return len(q.Objectives) > 0
}
