// Package botevent defines the domain events flowing between the bot
// coordinators over the generic bus. One flat value type covers every
// kind; unused payload fields stay zero.
package botevent

import (
	"time"

	"playerbots/internal/sim/clock"
	"playerbots/internal/sim/events"
	"playerbots/internal/sim/host"
)

const (
	KindQuestReadyForTurnIn events.Kind = "QUEST_READY_FOR_TURNIN"
	KindQuestCompleted      events.Kind = "QUEST_COMPLETED"
	KindQuestAbandoned      events.Kind = "QUEST_ABANDONED"

	KindRecipeLearned     events.Kind = "RECIPE_LEARNED"
	KindSkillUp           events.Kind = "SKILL_UP"
	KindCraftingStarted   events.Kind = "CRAFTING_STARTED"
	KindCraftingCompleted events.Kind = "CRAFTING_COMPLETED"
	KindCraftingFailed    events.Kind = "CRAFTING_FAILED"

	KindMaterialsNeeded   events.Kind = "MATERIALS_NEEDED"
	KindMaterialGathered  events.Kind = "MATERIAL_GATHERED"
	KindMaterialPurchased events.Kind = "MATERIAL_PURCHASED"
	KindPurchaseRequested events.Kind = "PURCHASE_REQUESTED"

	KindBankTransaction events.Kind = "BANK_TRANSACTION"
)

// Event is a flat, copyable domain notification.
type Event struct {
	Kind     events.Kind
	Priority events.Priority
	At       clock.Millis
	TTL      time.Duration

	Bot host.BotID

	QuestID  uint32
	ItemID   uint32
	Count    int
	RecipeID uint32
	Skill    uint32
	Value    int
	ZoneID   uint32
	Gold     int64
	MaxUnit  int64 // max price per unit for purchase requests
	Reason   string
}

func (e Event) EventMeta() events.Meta {
	return events.Meta{Kind: e.Kind, Priority: e.Priority, At: e.At, TTL: e.TTL}
}

func (e Event) Valid() bool {
	return e.Kind != "" && e.Bot != 0
}

// Bus is the bot-core instantiation of the generic bus.
type Bus = events.Bus[Event]
