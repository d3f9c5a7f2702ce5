// Package economy sources crafting materials. A side-effect-free decision
// engine prices each acquisition method in gold-equivalents; two bridges
// execute the verdict, one by driving gathering against spatial snapshots,
// one by trading on the auction house.
package economy

import (
	"time"
)

// Method is one way to obtain a material.
type Method int

const (
	MethodGather Method = iota + 1
	MethodBuy
	MethodCraft
	MethodVendor
)

func (m Method) String() string {
	switch m {
	case MethodGather:
		return "GATHER"
	case MethodBuy:
		return "BUY"
	case MethodCraft:
		return "CRAFT"
	case MethodVendor:
		return "VENDOR"
	default:
		return "UNKNOWN"
	}
}

// Listing is one auction house entry. Prices are copper per the whole
// stack; UnitPrice is derived.
type Listing struct {
	ID        uint64
	ItemID    uint32
	Count     int
	UnitPrice int64
}

// Market is the pricing and search surface the host exposes for the
// auction house. Read-only; purchases go through the action queue.
type Market interface {
	Search(itemID uint32) []Listing
	MarketPrice(itemID uint32) int64 // typical unit price, 0 when unknown
	VendorPrice(itemID uint32) int64 // vendor sell price, 0 when not sold
}

// MaterialInfo is the static sourcing knowledge for one material.
type MaterialInfo struct {
	ItemID        uint32
	GatherSkill   uint32        // 0 when the item cannot be gathered
	GatherPerUnit time.Duration // expected time per unit when gathering
	NodeEntry     uint32        // gameobject entry of the gathering node
	CraftRecipe   uint32        // recipe producing it, 0 when none
	Priority      float64       // 0..1 material importance for node scoring
}

// Catalog maps item ids to sourcing knowledge.
type Catalog map[uint32]MaterialInfo

// Decision is the engine's verdict for one material.
type Decision struct {
	ItemID      uint32
	Count       int
	Method      Method
	Alternative Method
	Confidence  float64
	Rationale   string
	Cost        int64         // gold-equivalent of the chosen method
	Time        time.Duration // wall estimate of the chosen method
}

// RecipePlan aggregates per-material decisions for one recipe run.
type RecipePlan struct {
	RecipeID  uint32
	Decisions []Decision
	TotalCost int64
	TotalTime time.Duration
	// Efficiency is the plan's gold-equivalent cost per minute of work;
	// lower is better.
	Efficiency float64
}
