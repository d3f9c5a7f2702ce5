// Package actions is the single point of submission for work that must
// execute on the simulation thread. Producers on any thread stage flat
// Action values; the sim tick drains them in priority/time order against
// the host world.
package actions

import (
	"playerbots/internal/sim/clock"
	"playerbots/internal/sim/host"
)

type Kind int

const (
	KindMoveToPosition Kind = iota + 1
	KindMoveToEntity
	KindAttackEntity
	KindCastSpell
	KindUseObject
	KindInteractNPC
	KindLootEntity
	KindDepositItem
	KindWithdrawItem
	KindListAuction
	KindBuyAuction
	KindAcceptQuest
	KindCompleteQuest
	KindTurnInQuest
	KindAbandonQuest
)

var kindNames = map[Kind]string{
	KindMoveToPosition: "MOVE_TO_POSITION",
	KindMoveToEntity:   "MOVE_TO_ENTITY",
	KindAttackEntity:   "ATTACK_ENTITY",
	KindCastSpell:      "CAST_SPELL",
	KindUseObject:      "USE_OBJECT",
	KindInteractNPC:    "INTERACT_NPC",
	KindLootEntity:     "LOOT_ENTITY",
	KindDepositItem:    "DEPOSIT_ITEM",
	KindWithdrawItem:   "WITHDRAW_ITEM",
	KindListAuction:    "LIST_AUCTION",
	KindBuyAuction:     "BUY_AUCTION",
	KindAcceptQuest:    "ACCEPT_QUEST",
	KindCompleteQuest:  "COMPLETE_QUEST",
	KindTurnInQuest:    "TURN_IN_QUEST",
	KindAbandonQuest:   "ABANDON_QUEST",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "UNKNOWN"
}

// requiresAliveActor reports whether a drained action is only valid while
// the actor lives. Quest bookkeeping survives a corpse run; combat and
// world interaction do not.
func (k Kind) requiresAliveActor() bool {
	switch k {
	case KindAbandonQuest:
		return false
	default:
		return true
	}
}

// Action is a flat-copyable mutation request. No pointers into host
// entities cross threads; targets are identity handles resolved at drain.
type Action struct {
	Kind     Kind
	Actor    host.BotID
	Target   host.EntityID
	Pos      host.Position
	SpellID  uint32
	ItemID   uint32
	QuestID  uint32
	Listing  uint64
	Count    int
	Gold     int64
	Buyout   int64
	Duration int
	Args     string // opcode for INTERACT_NPC

	Priority   uint8
	EnqueuedAt clock.Millis

	seq uint64
}

// before orders the drain: priority desc, enqueue time asc, FIFO on ties.
func (a Action) before(b Action) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if a.EnqueuedAt != b.EnqueuedAt {
		return a.EnqueuedAt < b.EnqueuedAt
	}
	return a.seq < b.seq
}
