// Package bots owns bot handles and the behavior scheduler that advances
// them each tick under a strict wall-time budget.
package bots

import (
	"playerbots/internal/sim/clock"
	"playerbots/internal/sim/host"
)

// Band is the coarse priority class a bot schedules under. Higher runs
// earlier.
type Band int

const (
	BandIdle Band = iota
	BandQuest
	BandInteraction
	BandCombat
)

func (b Band) String() string {
	switch b {
	case BandCombat:
		return "COMBAT"
	case BandInteraction:
		return "INTERACTION"
	case BandQuest:
		return "QUEST"
	default:
		return "IDLE"
	}
}

type Phase int

const (
	PhasePreUpdate Phase = iota
	PhaseUpdate
	PhasePostDrain
)

// TickContext is the transient per-tick view handed to coordinator steps.
// Constructed on the sim thread, dead at end of tick.
type TickContext struct {
	Now      clock.Millis
	Deadline clock.Millis
	Phase    Phase
}

// Coordinator advances one aspect of a bot's behavior. Step must not block
// and should return within the per-bot soft budget; long operations are
// state machines resumed on later ticks. Band reports the coordinator's
// current urgency (BandIdle when it has nothing to do).
type Coordinator interface {
	Step(ctx *TickContext)
	Band() Band
}

// Bot is one registered avatar handle. All fields are owned by the sim
// thread; workers address bots by ID only.
type Bot struct {
	ID    host.BotID
	Name  string
	Race  uint8
	Class uint8

	Enabled bool
	Dead    bool

	coordinators []Coordinator

	band       Band
	nextDue    clock.Millis
	lastUpdate clock.Millis
	penaltyMs  clock.Millis
	deferred   int
}

func NewBot(id host.BotID, name string, coords ...Coordinator) *Bot {
	return &Bot{ID: id, Name: name, Enabled: true, coordinators: coords}
}

func (b *Bot) AddCoordinator(c Coordinator) {
	b.coordinators = append(b.coordinators, c)
}

// recomputeBand derives the bot's band from coordinator state; the highest
// band wins.
func (b *Bot) recomputeBand() Band {
	band := BandIdle
	for _, c := range b.coordinators {
		if cb := c.Band(); cb > band {
			band = cb
		}
	}
	b.band = band
	return band
}

func (b *Bot) Band() Band               { return b.band }
func (b *Bot) NextDue() clock.Millis    { return b.nextDue }
func (b *Bot) LastUpdate() clock.Millis { return b.lastUpdate }
