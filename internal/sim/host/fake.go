package host

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// MutationRecord captures one host mutation for assertions.
type MutationRecord struct {
	Op     string
	Bot    BotID
	Target EntityID
	Pos    Position
	Args   map[string]any
}

// Fake is an in-memory World for tests. Mutations are recorded, and any
// mutation performed while AllowMutations is false is counted as a
// violation of the sim-thread invariant instead of panicking, so racy
// schedules surface as a single assertable number.
type Fake struct {
	mu        sync.Mutex
	entities  map[EntityID]EntityInfo
	spawns    map[spawnKey][]Position
	questLog  map[questKey]int
	mutations []MutationRecord
	packets   []MutationRecord

	AllowMutations atomic.Bool
	Violations     atomic.Int64

	// FailOps holds op names that return an error when invoked.
	FailOps map[string]bool
}

type spawnKey struct {
	kind  EntityKind
	entry uint32
}

type questKey struct {
	bot       BotID
	questID   uint32
	objective int
}

func NewFake() *Fake {
	f := &Fake{
		entities: map[EntityID]EntityInfo{},
		spawns:   map[spawnKey][]Position{},
		questLog: map[questKey]int{},
		FailOps:  map[string]bool{},
	}
	f.AllowMutations.Store(true)
	return f
}

func (f *Fake) PutEntity(e EntityInfo) {
	f.mu.Lock()
	f.entities[e.ID] = e
	f.mu.Unlock()
}

func (f *Fake) RemoveEntity(id EntityID) {
	f.mu.Lock()
	delete(f.entities, id)
	f.mu.Unlock()
}

func (f *Fake) PutSpawns(kind EntityKind, entry uint32, pos ...Position) {
	f.mu.Lock()
	f.spawns[spawnKey{kind, entry}] = pos
	f.mu.Unlock()
}

func (f *Fake) SetQuestCount(bot BotID, questID uint32, objective, count int) {
	f.mu.Lock()
	f.questLog[questKey{bot, questID, objective}] = count
	f.mu.Unlock()
}

func (f *Fake) ResolveEntity(id EntityID) (EntityInfo, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entities[id]
	return e, ok
}

func (f *Fake) EntitiesNear(pos Position, radius float64) []EntityInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []EntityInfo
	for _, e := range f.entities {
		if pos.DistanceTo(e.Pos) <= radius {
			out = append(out, e)
		}
	}
	return out
}

func (f *Fake) SpawnTable(kind EntityKind, entry uint32) []Position {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.spawns[spawnKey{kind, entry}]
}

func (f *Fake) QuestObjectiveCount(bot BotID, questID uint32, objective int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.questLog[questKey{bot, questID, objective}]
}

func (f *Fake) record(op string, bot BotID, target EntityID, pos Position, args map[string]any) error {
	if !f.AllowMutations.Load() {
		f.Violations.Add(1)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailOps[op] {
		return fmt.Errorf("host: %s failed", op)
	}
	f.mutations = append(f.mutations, MutationRecord{Op: op, Bot: bot, Target: target, Pos: pos, Args: args})
	return nil
}

func (f *Fake) Mutations() []MutationRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]MutationRecord, len(f.mutations))
	copy(out, f.mutations)
	return out
}

func (f *Fake) Teleport(bot BotID, pos Position) error { return f.record("Teleport", bot, 0, pos, nil) }
func (f *Fake) MoveTo(bot BotID, pos Position) error   { return f.record("MoveTo", bot, 0, pos, nil) }
func (f *Fake) AttackStart(bot BotID, target EntityID) error {
	return f.record("AttackStart", bot, target, Position{}, nil)
}
func (f *Fake) CastSpell(bot BotID, spellID uint32, target EntityID) error {
	return f.record("CastSpell", bot, target, Position{}, map[string]any{"spell": spellID})
}
func (f *Fake) UseObject(bot BotID, object EntityID) error {
	return f.record("UseObject", bot, object, Position{}, nil)
}
func (f *Fake) Loot(bot BotID, object EntityID) error {
	return f.record("Loot", bot, object, Position{}, nil)
}
func (f *Fake) BankDeposit(bot BotID, itemID uint32, count int, gold int64) error {
	return f.record("BankDeposit", bot, 0, Position{}, map[string]any{"item": itemID, "count": count, "gold": gold})
}
func (f *Fake) BankWithdraw(bot BotID, itemID uint32, count int, gold int64) error {
	return f.record("BankWithdraw", bot, 0, Position{}, map[string]any{"item": itemID, "count": count, "gold": gold})
}
func (f *Fake) AuctionList(bot BotID, itemID uint32, count int, buyout int64, durationH int) error {
	return f.record("AuctionList", bot, 0, Position{}, map[string]any{"item": itemID, "count": count, "buyout": buyout, "duration_h": durationH})
}
func (f *Fake) AuctionBuy(bot BotID, listingID uint64) error {
	return f.record("AuctionBuy", bot, 0, Position{}, map[string]any{"listing": listingID})
}
func (f *Fake) QuestAccept(bot BotID, questID uint32, giver EntityID) error {
	return f.record("QuestAccept", bot, giver, Position{}, map[string]any{"quest": questID})
}
func (f *Fake) QuestComplete(bot BotID, questID uint32, receiver EntityID) error {
	return f.record("QuestComplete", bot, receiver, Position{}, map[string]any{"quest": questID})
}
func (f *Fake) QuestAbandon(bot BotID, questID uint32) error {
	return f.record("QuestAbandon", bot, 0, Position{}, map[string]any{"quest": questID})
}
func (f *Fake) SendInteractPacket(bot BotID, target EntityID, opcode string, args map[string]any) error {
	if !f.AllowMutations.Load() {
		f.Violations.Add(1)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailOps["SendInteractPacket"] {
		return fmt.Errorf("host: SendInteractPacket failed")
	}
	f.packets = append(f.packets, MutationRecord{Op: opcode, Bot: bot, Target: target, Args: args})
	return nil
}

// Packets returns interaction packets sent so far.
func (f *Fake) Packets() []MutationRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]MutationRecord, len(f.packets))
	copy(out, f.packets)
	return out
}
