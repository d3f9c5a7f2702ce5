// Package banking keeps a bot's inventory and gold inside configured
// bounds. On a fixed check interval, and only when a banker is in snapshot
// range, it stages deposit and withdraw actions from per-item rules and the
// crafting queue's material needs, keeping a bounded transaction log.
package banking

import (
	"time"

	"playerbots/internal/sim/clock"
	"playerbots/internal/sim/host"
)

type Strategy int

const (
	StrategyConservative Strategy = iota // bank everything above the keep levels
	StrategyMinimal                      // only act when bounds are breached hard
	StrategyCrafting                     // keep crafting materials on hand first
)

func (s Strategy) String() string {
	switch s {
	case StrategyMinimal:
		return "MINIMAL"
	case StrategyCrafting:
		return "CRAFTING"
	default:
		return "CONSERVATIVE"
	}
}

// Rule bounds one item in the inventory.
type Rule struct {
	ItemID         uint32
	KeepMin        int // withdraw up to this floor
	MaxInInventory int // deposit above this ceiling
	Priority       int // higher rules are applied first
}

// Profile is one bot's banking policy.
type Profile struct {
	Strategy     Strategy
	GoldMin      int64 // withdraw when inventory gold drops below
	GoldMax      int64 // deposit the excess above
	AutoDeposit  bool
	AutoWithdraw bool
	Rules        map[uint32]Rule
}

// TxKind is a transaction direction.
type TxKind int

const (
	TxDepositItem TxKind = iota + 1
	TxWithdrawItem
	TxDepositGold
	TxWithdrawGold
)

func (k TxKind) String() string {
	switch k {
	case TxDepositItem:
		return "DEPOSIT_ITEM"
	case TxWithdrawItem:
		return "WITHDRAW_ITEM"
	case TxDepositGold:
		return "DEPOSIT_GOLD"
	case TxWithdrawGold:
		return "WITHDRAW_GOLD"
	default:
		return "UNKNOWN"
	}
}

// Transaction is one staged banking operation.
type Transaction struct {
	At     clock.Millis `json:"at"`
	Bot    host.BotID   `json:"bot"`
	Kind   TxKind       `json:"kind"`
	ItemID uint32       `json:"item_id,omitempty"`
	Count  int          `json:"count,omitempty"`
	Gold   int64        `json:"gold,omitempty"`
}

// Inventory is the host-side view of what the bot carries. Read on the sim
// thread during checks.
type Inventory interface {
	ItemCount(itemID uint32) int
	Gold() int64
}

// MaterialNeeds reports outstanding crafting shortages; the profession
// coordinator satisfies it.
type MaterialNeeds interface {
	MaterialsNeeded() map[uint32]int
}

type Config struct {
	CheckInterval time.Duration // default 5 min
	BankerRange   float64       // snapshot search radius, default 40
	BankerEntries []uint32      // creature entries that offer banking
	LogSize       int           // transaction log bound, default 100
}

func (c Config) withDefaults() Config {
	if c.CheckInterval <= 0 {
		c.CheckInterval = 5 * time.Minute
	}
	if c.BankerRange <= 0 {
		c.BankerRange = 40
	}
	if c.LogSize <= 0 {
		c.LogSize = 100
	}
	return c
}
