// Package host declares the contract between the bot core and the game
// world that owns entities. Every method on World is synchronous and must
// be called from the simulation thread only; worker threads see the world
// exclusively through spatial snapshots and identity handles.
package host

import "math"

// EntityID is a stable 64-bit identity, valid for the lifetime of a spawn.
type EntityID uint64

// BotID identifies one bot avatar. Bots are entities too; the separate type
// keeps actor and target parameters from being swapped silently.
type BotID uint64

func (b BotID) Entity() EntityID { return EntityID(b) }

type EntityKind int

const (
	KindCreature EntityKind = iota + 1
	KindGameObject
	KindPlayer
)

type Position struct {
	Map     uint32
	X, Y, Z float64
}

func (p Position) DistanceTo(o Position) float64 {
	if p.Map != o.Map {
		return math.Inf(1)
	}
	dx, dy, dz := p.X-o.X, p.Y-o.Y, p.Z-o.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// EntityInfo is the flat read-model the host exposes for one entity.
type EntityInfo struct {
	ID             EntityID
	Kind           EntityKind
	Entry          uint32
	Pos            Position
	Alive          bool
	Visible        bool
	InCombat       bool
	HealthFraction float64
	Faction        uint32
	Victim         EntityID
	ThreatCount    int
	Spawned        bool // gameobjects: spawned and not despawned by use
	InUse          bool // gameobjects: currently locked by another user
}

// World is the host-world interface. Implementations adapt the actual game
// server; the core never touches live entities directly.
type World interface {
	// Reads.
	ResolveEntity(id EntityID) (EntityInfo, bool)
	EntitiesNear(pos Position, radius float64) []EntityInfo
	SpawnTable(kind EntityKind, entry uint32) []Position
	QuestObjectiveCount(bot BotID, questID uint32, objective int) int

	// Mutations, sim thread only.
	Teleport(bot BotID, pos Position) error
	MoveTo(bot BotID, pos Position) error
	AttackStart(bot BotID, target EntityID) error
	CastSpell(bot BotID, spellID uint32, target EntityID) error
	UseObject(bot BotID, object EntityID) error
	Loot(bot BotID, object EntityID) error
	BankDeposit(bot BotID, itemID uint32, count int, gold int64) error
	BankWithdraw(bot BotID, itemID uint32, count int, gold int64) error
	AuctionList(bot BotID, itemID uint32, count int, buyout int64, durationH int) error
	AuctionBuy(bot BotID, listingID uint64) error
	QuestAccept(bot BotID, questID uint32, giver EntityID) error
	QuestComplete(bot BotID, questID uint32, receiver EntityID) error
	QuestAbandon(bot BotID, questID uint32) error
	SendInteractPacket(bot BotID, target EntityID, opcode string, args map[string]any) error
}
