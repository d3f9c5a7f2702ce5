package economy

import (
	"fmt"
	"time"
)

// buyOverhead is the fixed time cost of an auction purchase.
const buyOverhead = time.Minute

type EngineConfig struct {
	GoldPerHour int64 // per-bot valuation of an hour of bot time, default 5000
	Catalog     Catalog
}

func (c EngineConfig) withDefaults() EngineConfig {
	if c.GoldPerHour <= 0 {
		c.GoldPerHour = 5000
	}
	if c.Catalog == nil {
		c.Catalog = Catalog{}
	}
	return c
}

// SkillSource answers whether a bot can gather with a given skill and at
// what level. The profession coordinator satisfies it.
type SkillSource interface {
	SkillLevel(skill uint32) (int, bool)
}

// Engine prices acquisition methods. It holds no bot state and performs no
// side effects; every query is a pure function of its inputs.
type Engine struct {
	cfg     EngineConfig
	market  Market
	recipes RecipeSource
}

func NewEngine(cfg EngineConfig, market Market) *Engine {
	return &Engine{cfg: cfg.withDefaults(), market: market}
}

// goldEquivalent prices time in copper through the bot's hour valuation.
func (e *Engine) goldEquivalent(gold int64, t time.Duration) int64 {
	return gold + int64(float64(e.cfg.GoldPerHour)*t.Hours())
}

type option struct {
	method Method
	gold   int64
	time   time.Duration
	total  int64
	why    string
}

// Decide picks the cheapest acquisition method for count units of item,
// in gold-equivalents. Craft recursion stops after one level; deeper
// chains are priced at market.
func (e *Engine) Decide(skills SkillSource, itemID uint32, count int) Decision {
	return e.decide(skills, itemID, count, 1)
}

func (e *Engine) decide(skills SkillSource, itemID uint32, count int, depth int) Decision {
	info := e.cfg.Catalog[itemID]
	var opts []option

	if info.GatherSkill != 0 && skills != nil {
		if _, ok := skills.SkillLevel(info.GatherSkill); ok {
			t := info.GatherPerUnit * time.Duration(count)
			opts = append(opts, option{
				method: MethodGather, time: t,
				total: e.goldEquivalent(0, t),
				why:   fmt.Sprintf("gatherable with skill %d in %s", info.GatherSkill, t),
			})
		}
	}

	if unit := e.cheapestUnit(itemID); unit > 0 {
		gold := unit * int64(count)
		opts = append(opts, option{
			method: MethodBuy, gold: gold, time: buyOverhead,
			total: e.goldEquivalent(gold, buyOverhead),
			why:   fmt.Sprintf("auction at %dc/unit", unit),
		})
	}

	if v := e.market.VendorPrice(itemID); v > 0 {
		gold := v * int64(count)
		opts = append(opts, option{
			method: MethodVendor, gold: gold, time: buyOverhead,
			total: e.goldEquivalent(gold, buyOverhead),
			why:   fmt.Sprintf("vendor at %dc/unit", v),
		})
	}

	if info.CraftRecipe != 0 && depth > 0 {
		// Price the craft as the sum of its own material decisions.
		if gold, t, ok := e.craftCost(skills, info.CraftRecipe, count, depth-1); ok {
			opts = append(opts, option{
				method: MethodCraft, gold: gold, time: t,
				total: e.goldEquivalent(gold, t),
				why:   fmt.Sprintf("craftable via recipe %d", info.CraftRecipe),
			})
		}
	}

	d := Decision{ItemID: itemID, Count: count}
	if len(opts) == 0 {
		d.Method = MethodBuy
		d.Confidence = 0
		d.Rationale = "no sourcing data; defaulting to auction"
		return d
	}

	best, second := pickTwo(opts)
	d.Method = best.method
	d.Cost = best.total
	d.Time = best.time
	d.Rationale = best.why
	if second == nil {
		d.Confidence = 1
		return d
	}
	d.Alternative = second.method
	// Confidence grows with the margin between best and runner-up.
	d.Confidence = float64(second.total) / float64(best.total+second.total)
	return d
}

func pickTwo(opts []option) (best, second *option) {
	for i := range opts {
		o := &opts[i]
		switch {
		case best == nil || o.total < best.total:
			second = best
			best = o
		case second == nil || o.total < second.total:
			second = o
		}
	}
	return best, second
}

// cheapestUnit scans live listings, falling back to the market typical.
func (e *Engine) cheapestUnit(itemID uint32) int64 {
	var unit int64
	for _, l := range e.market.Search(itemID) {
		if l.Count <= 0 || l.UnitPrice <= 0 {
			continue
		}
		if unit == 0 || l.UnitPrice < unit {
			unit = l.UnitPrice
		}
	}
	if unit == 0 {
		unit = e.market.MarketPrice(itemID)
	}
	return unit
}

// craftCost aggregates the recipe's reagent decisions. RecipeReagents is a
// small indirection so the engine does not depend on the profession
// package's recipe type.
func (e *Engine) craftCost(skills SkillSource, recipeID uint32, count int, depth int) (int64, time.Duration, bool) {
	reagents, craftTime, ok := e.recipeSource(recipeID)
	if !ok {
		return 0, 0, false
	}
	var gold int64
	t := craftTime * time.Duration(count)
	for item, per := range reagents {
		sub := e.decide(skills, item, per*count, depth)
		gold += sub.Cost
		t += sub.Time
	}
	return gold, t, true
}

// RecipeSource resolves a recipe id to its reagent needs and craft time.
type RecipeSource func(recipeID uint32) (reagents map[uint32]int, craftTime time.Duration, ok bool)

func (e *Engine) SetRecipeSource(rs RecipeSource) { e.recipes = rs }

func (e *Engine) recipeSource(recipeID uint32) (map[uint32]int, time.Duration, bool) {
	if e.recipes == nil {
		return nil, 0, false
	}
	return e.recipes(recipeID)
}

// Plan aggregates per-material decisions for count runs of a recipe.
func (e *Engine) Plan(skills SkillSource, recipeID uint32, count int) (RecipePlan, bool) {
	reagents, craftTime, ok := e.recipeSource(recipeID)
	if !ok {
		return RecipePlan{}, false
	}
	plan := RecipePlan{RecipeID: recipeID, TotalTime: craftTime * time.Duration(count)}
	for item, per := range reagents {
		d := e.Decide(skills, item, per*count)
		plan.Decisions = append(plan.Decisions, d)
		plan.TotalCost += d.Cost
		plan.TotalTime += d.Time
	}
	if mins := plan.TotalTime.Minutes(); mins > 0 {
		plan.Efficiency = float64(plan.TotalCost) / mins
	}
	return plan, true
}
