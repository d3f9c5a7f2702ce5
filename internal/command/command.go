// Package command adapts the .bot chat surface into calls on the core:
// roster management, movement orders, runtime config and monitor queries.
// Handlers run on the simulation thread; the host's chat hook marshals
// there before calling Execute.
package command

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"playerbots/internal/config"
	"playerbots/internal/sim/bots"
	"playerbots/internal/sim/formation"
	"playerbots/internal/sim/host"
	"playerbots/internal/sim/monitor"
)

// Roster creates and destroys bot avatars and carries the group-level
// combat knob. The engine implements it; tests stub it.
type Roster interface {
	Spawn(name string, race, class uint8) (*bots.Bot, error)
	Delete(name string) error
	Find(name string) (*bots.Bot, bool)
	All() []*bots.Bot
	SetAggression(level int)
}

// Result is one command outcome. Code 0 is success; any failure carries a
// one-line reason in Lines[0].
type Result struct {
	Code  int
	Lines []string
}

func ok(lines ...string) Result { return Result{Code: 0, Lines: lines} }
func fail(format string, args ...any) Result {
	return Result{Code: 1, Lines: []string{fmt.Sprintf(format, args...)}}
}

type dungeonState struct {
	enabled bool
	aggro   int
}

// Handler owns the command dispatch table and the group-level knobs the
// commands flip (formation shape, dungeon behavior).
type Handler struct {
	roster Roster
	world  host.World
	sched  *bots.Scheduler
	store  *config.Store
	mon    *monitor.Monitor

	shape   formation.Shape
	spacing float64
	dungeon dungeonState
}

func NewHandler(roster Roster, world host.World, sched *bots.Scheduler, store *config.Store, mon *monitor.Monitor) *Handler {
	return &Handler{
		roster:  roster,
		world:   world,
		sched:   sched,
		store:   store,
		mon:     mon,
		shape:   formation.ShapeLine,
		spacing: formation.DefaultSpacing,
		dungeon: dungeonState{enabled: true, aggro: 1},
	}
}

// Shape reports the active formation shape.
func (h *Handler) Shape() formation.Shape { return h.shape }

// Execute runs one command line. The ".bot" prefix is optional; origin is
// the invoker's position, the anchor for teleport/summon/formation.
func (h *Handler) Execute(origin host.Position, line string) Result {
	args := strings.Fields(strings.TrimSpace(line))
	if len(args) > 0 && strings.EqualFold(args[0], ".bot") {
		args = args[1:]
	}
	if len(args) == 0 {
		return fail("usage: .bot <spawn|delete|list|teleport|summon|formation|stats|info|config|monitor|alerts|dungeon>")
	}

	verb, rest := strings.ToLower(args[0]), args[1:]
	switch verb {
	case "spawn":
		return h.spawn(rest)
	case "delete":
		return h.delete(rest)
	case "list":
		return h.list()
	case "teleport":
		return h.teleport(origin, rest)
	case "summon":
		return h.summon(origin, rest)
	case "formation":
		return h.formation(origin, rest)
	case "stats":
		return h.stats()
	case "info":
		return h.info(rest)
	case "config":
		return h.config(rest)
	case "monitor":
		return h.monitorCmd(rest)
	case "alerts":
		return h.alerts(rest)
	case "dungeon":
		return h.dungeonCmd(rest)
	default:
		return fail("unknown command %q", verb)
	}
}

func (h *Handler) spawn(args []string) Result {
	if len(args) < 1 || len(args) > 3 {
		return fail("usage: .bot spawn <name> [race] [class]")
	}
	name := args[0]
	var race, class uint8
	if len(args) >= 2 {
		n, err := strconv.ParseUint(args[1], 10, 8)
		if err != nil {
			return fail("bad race %q", args[1])
		}
		race = uint8(n)
	}
	if len(args) == 3 {
		n, err := strconv.ParseUint(args[2], 10, 8)
		if err != nil {
			return fail("bad class %q", args[2])
		}
		class = uint8(n)
	}
	b, err := h.roster.Spawn(name, race, class)
	if err != nil {
		return fail("spawn %s: %v", name, err)
	}
	return ok(fmt.Sprintf("spawned %s (id %d)", b.Name, b.ID))
}

func (h *Handler) delete(args []string) Result {
	if len(args) != 1 {
		return fail("usage: .bot delete <name>")
	}
	if err := h.roster.Delete(args[0]); err != nil {
		return fail("delete %s: %v", args[0], err)
	}
	return ok(fmt.Sprintf("deleted %s", args[0]))
}

func (h *Handler) list() Result {
	all := h.sorted()
	lines := make([]string, 0, len(all)+1)
	lines = append(lines, fmt.Sprintf("%d bots", len(all)))
	for _, b := range all {
		state := "enabled"
		if !b.Enabled {
			state = "disabled"
		}
		if b.Dead {
			state = "dead"
		}
		lines = append(lines, fmt.Sprintf("  %s (id %d) %s %s", b.Name, b.ID, b.Band(), state))
	}
	return ok(lines...)
}

func (h *Handler) teleport(origin host.Position, args []string) Result {
	if len(args) != 1 {
		return fail("usage: .bot teleport <name>")
	}
	b, found := h.roster.Find(args[0])
	if !found {
		return fail("no bot named %q", args[0])
	}
	if err := h.world.Teleport(b.ID, origin); err != nil {
		return fail("teleport %s: %v", b.Name, err)
	}
	return ok(fmt.Sprintf("teleported %s", b.Name))
}

func (h *Handler) summon(origin host.Position, args []string) Result {
	if len(args) != 1 {
		return fail("usage: .bot summon <name> | summon all")
	}
	if strings.EqualFold(args[0], "all") {
		all := h.sorted()
		offs := formation.Offsets(h.shape, len(all), h.spacing)
		n := 0
		for i, b := range all {
			p := origin
			p.X += offs[i].X
			p.Y += offs[i].Y
			if err := h.world.Teleport(b.ID, p); err == nil {
				n++
			}
		}
		return ok(fmt.Sprintf("summoned %d bots", n))
	}
	b, found := h.roster.Find(args[0])
	if !found {
		return fail("no bot named %q", args[0])
	}
	if err := h.world.Teleport(b.ID, origin); err != nil {
		return fail("summon %s: %v", b.Name, err)
	}
	return ok(fmt.Sprintf("summoned %s", b.Name))
}

func (h *Handler) formation(origin host.Position, args []string) Result {
	if len(args) != 1 {
		return fail("usage: .bot formation <shape> | formation list")
	}
	if strings.EqualFold(args[0], "list") {
		return ok("formations: " + strings.Join(formation.Names(), " "))
	}
	shape, found := formation.Parse(args[0])
	if !found {
		return fail("unknown formation %q; try: %s", args[0], strings.Join(formation.Names(), " "))
	}
	h.shape = shape
	// Reposition with move orders, not teleports; bots walk into slot.
	all := h.sorted()
	offs := formation.Offsets(shape, len(all), h.spacing)
	for i, b := range all {
		p := origin
		p.X += offs[i].X
		p.Y += offs[i].Y
		_ = h.world.MoveTo(b.ID, p)
	}
	return ok(fmt.Sprintf("formation %s (%d bots)", shape, len(all)))
}

func (h *Handler) stats() Result {
	s := h.mon.Snapshot()
	return ok(
		fmt.Sprintf("bots: %d total, %d combat, %d questing, %d dead",
			s.Activity.BotsTotal, s.Activity.BotsInCombat, s.Activity.BotsQuesting, s.Activity.BotsDead),
		fmt.Sprintf("tick: %.2f ms mean, step: %.0f us mean", s.MeanTickMs, s.MeanBotStepUs),
		fmt.Sprintf("errors: %d, warnings: %d", s.Errors, s.Warnings),
	)
}

func (h *Handler) info(args []string) Result {
	if len(args) != 1 {
		return fail("usage: .bot info <name>")
	}
	b, found := h.roster.Find(args[0])
	if !found {
		return fail("no bot named %q", args[0])
	}
	lines := []string{
		fmt.Sprintf("%s id=%d race=%d class=%d band=%s enabled=%v",
			b.Name, b.ID, b.Race, b.Class, b.Band(), b.Enabled),
	}
	if info, live := h.world.ResolveEntity(b.ID.Entity()); live {
		lines = append(lines, fmt.Sprintf("pos=(%.1f, %.1f, %.1f) map=%d alive=%v combat=%v hp=%.0f%%",
			info.Pos.X, info.Pos.Y, info.Pos.Z, info.Pos.Map, info.Alive, info.InCombat, info.HealthFraction*100))
	} else {
		lines = append(lines, "not in world")
	}
	return ok(lines...)
}

func (h *Handler) config(args []string) Result {
	if len(args) == 1 && strings.EqualFold(args[0], "show") {
		keys := h.store.Keys()
		lines := make([]string, 0, len(keys))
		for _, k := range keys {
			v, _ := h.store.Get(k)
			lines = append(lines, fmt.Sprintf("  %s = %s (%s)", k, v, v.Type))
		}
		return ok(lines...)
	}
	if len(args) < 2 {
		return fail("usage: .bot config <key> <value> | config show")
	}
	// Values with spaces arrive as multiple tokens; rejoin them.
	key, text := args[0], strings.Join(args[1:], " ")
	if err := h.store.SetText(key, text); err != nil {
		return fail("%v", err)
	}
	v, _ := h.store.Get(key)
	return ok(fmt.Sprintf("%s = %s", key, v))
}

func (h *Handler) monitorCmd(args []string) Result {
	if len(args) == 1 && strings.EqualFold(args[0], "trends") {
		lines := []string{"trends (last/min/max/mean):"}
		for _, w := range []string{
			monitor.WindowTickMs,
			monitor.WindowBotStepUs,
			monitor.WindowDrainMs,
			monitor.WindowDBQueryMs,
			monitor.WindowCPUPercent,
			monitor.WindowMemoryMB,
		} {
			last, min, max, mean := h.mon.Trend(w)
			lines = append(lines, fmt.Sprintf("  %s: %.2f / %.2f / %.2f / %.2f", w, last, min, max, mean))
		}
		return ok(lines...)
	}
	if len(args) != 0 {
		return fail("usage: .bot monitor [trends]")
	}
	return ok(h.mon.String())
}

func (h *Handler) alerts(args []string) Result {
	if len(args) == 0 {
		active := h.mon.ActiveAlerts(monitor.LevelWarning)
		lines := []string{fmt.Sprintf("%d active alerts", len(active))}
		for _, a := range active {
			lines = append(lines, fmt.Sprintf("  [%s] %s: %s", a.Level, a.Category, a.Message))
		}
		return ok(lines...)
	}
	switch strings.ToLower(args[0]) {
	case "history":
		hist := h.mon.AlertHistory()
		lines := []string{fmt.Sprintf("%d alerts recorded", len(hist))}
		for _, a := range hist {
			lines = append(lines, fmt.Sprintf("  [%s] %s: %s", a.Level, a.Category, a.Message))
		}
		return ok(lines...)
	case "clear":
		h.mon.ClearAlerts()
		return ok("alerts cleared")
	default:
		return fail("usage: .bot alerts [history|clear]")
	}
}

func (h *Handler) dungeonCmd(args []string) Result {
	if len(args) == 0 {
		return fail("usage: .bot dungeon pause|resume|status|enable|disable|aggro <level>")
	}
	switch strings.ToLower(args[0]) {
	case "pause":
		h.sched.SetPaused(true)
		return ok("group autonomy paused")
	case "resume":
		h.sched.SetPaused(false)
		return ok("group autonomy resumed")
	case "status":
		state := "running"
		if h.sched.Paused() {
			state = "paused"
		}
		mode := "disabled"
		if h.dungeon.enabled {
			mode = "enabled"
		}
		return ok(fmt.Sprintf("dungeon behavior %s, autonomy %s, aggro level %d", mode, state, h.dungeon.aggro))
	case "enable":
		h.dungeon.enabled = true
		h.applyAggro()
		return ok("dungeon behavior enabled")
	case "disable":
		h.dungeon.enabled = false
		h.applyAggro()
		return ok("dungeon behavior disabled")
	case "aggro":
		if len(args) != 2 {
			return fail("usage: .bot dungeon aggro <level>")
		}
		n, err := strconv.Atoi(args[1])
		if err != nil || n < 0 || n > 3 {
			return fail("aggro level must be 0..3")
		}
		h.dungeon.aggro = n
		h.applyAggro()
		return ok(fmt.Sprintf("aggro level %d", n))
	default:
		return fail("unknown dungeon subcommand %q", args[0])
	}
}

// applyAggro pushes the effective combat-pull level to the roster:
// disabling dungeon behavior forces the passive level.
func (h *Handler) applyAggro() {
	level := h.dungeon.aggro
	if !h.dungeon.enabled {
		level = 0
	}
	h.roster.SetAggression(level)
}

// sorted returns the roster in id order so formation slot assignment is
// stable across commands.
func (h *Handler) sorted() []*bots.Bot {
	all := h.roster.All()
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return all
}
