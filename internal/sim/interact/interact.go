// Package interact runs multi-step NPC dialogues and transactions as an
// explicit state machine. One state advances per step call; packet-handler
// callbacks resume a waiting session; every state has a dwell timeout.
package interact

import (
	"errors"

	"github.com/google/uuid"

	"playerbots/internal/sim/clock"
	"playerbots/internal/sim/host"
)

type Kind int

const (
	KindBuy Kind = iota + 1
	KindSell
	KindRepair
	KindTrain
	KindQuestAccept
	KindQuestTurnIn
	KindBank
	KindMail
	KindFlight
	KindBind
)

var kindNames = map[Kind]string{
	KindBuy:         "BUY",
	KindSell:        "SELL",
	KindRepair:      "REPAIR",
	KindTrain:       "TRAIN",
	KindQuestAccept: "QUEST_ACCEPT",
	KindQuestTurnIn: "QUEST_TURNIN",
	KindBank:        "BANK",
	KindMail:        "MAIL",
	KindFlight:      "FLIGHT",
	KindBind:        "BIND",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "UNKNOWN"
}

type State int

const (
	StateIdle State = iota
	StateApproaching
	StateInitiating
	StateWaitingGossip
	StateProcessingMenu
	StateExecutingAction
	StateCompleting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateApproaching:
		return "APPROACHING"
	case StateInitiating:
		return "INITIATING"
	case StateWaitingGossip:
		return "WAITING_GOSSIP"
	case StateProcessingMenu:
		return "PROCESSING_MENU"
	case StateExecutingAction:
		return "EXECUTING_ACTION"
	case StateCompleting:
		return "COMPLETING"
	case StateFailed:
		return "FAILED"
	default:
		return "IDLE"
	}
}

type FailReason int

const (
	FailNone FailReason = iota
	FailTimeout
	FailCancelled
	FailUnavailable
	FailRejected
	FailError
)

func (r FailReason) String() string {
	switch r {
	case FailTimeout:
		return "TIMEOUT"
	case FailCancelled:
		return "CANCELLED"
	case FailUnavailable:
		return "UNAVAILABLE"
	case FailRejected:
		return "REJECTED"
	case FailError:
		return "ERROR"
	default:
		return "NONE"
	}
}

// Start errors.
var (
	ErrOutOfRange      = errors.New("interact: target out of range")
	ErrNotInteractable = errors.New("interact: target not interactable")
	ErrAlreadyBusy     = errors.New("interact: bot already in an interaction")
)

// Params carries the kind-specific inputs of one interaction.
type Params struct {
	ItemID  uint32
	Count   int
	QuestID uint32
	Gold    int64
	SpellID uint32 // trainer purchases
	NodeID  uint32 // flight paths
}

// Context is the per-bot interaction record. Mutated on the sim thread
// only.
type Context struct {
	Session uuid.UUID
	Bot     host.BotID
	Target  host.EntityID
	Kind    Kind
	Params  Params

	State      State
	Reason     FailReason
	StartedAt  clock.Millis
	Deadline   clock.Millis
	enteredAt  clock.Millis
	LastPacket clock.Millis
	Retries    int

	GossipOptions  []GossipOption
	chosenOption   int
	awaitingPacket string
	moveRequested  bool
	SubResult      string
}

type GossipOption struct {
	Index int
	Icon  string
	Text  string
}

// Packet is one host packet payload routed to a waiting session.
type Packet struct {
	Opcode  string
	Options []GossipOption
	OK      bool
	Reason  string
}

// Packet opcodes the machine understands.
const (
	PacketGossipMenu   = "GOSSIP_MENU"
	PacketVendorList   = "VENDOR_LIST"
	PacketTrainerList  = "TRAINER_LIST"
	PacketBankOpen     = "BANK_OPEN"
	PacketMailOpen     = "MAIL_OPEN"
	PacketTaxiMap      = "TAXI_MAP"
	PacketQuestDetails = "QUEST_DETAILS"
	PacketResult       = "RESULT"
)

// InteractRange is the distance at which an NPC can be addressed.
const InteractRange = 5.5
