// Package formation computes group movement slots: given a shape and a
// member count it yields per-slot offsets relative to the anchor, facing
// +X. Offsets are pure data; callers translate them into move orders.
package formation

import (
	"math"
	"sort"
	"strings"
)

type Shape int

const (
	ShapeWedge Shape = iota + 1
	ShapeDiamond
	ShapeDefensive
	ShapeLine
	ShapeColumn
	ShapeSpread
	ShapeCircle
	ShapeDungeon
	ShapeRaid
)

var shapeNames = map[Shape]string{
	ShapeWedge:     "wedge",
	ShapeDiamond:   "diamond",
	ShapeDefensive: "defensive",
	ShapeLine:      "line",
	ShapeColumn:    "column",
	ShapeSpread:    "spread",
	ShapeCircle:    "circle",
	ShapeDungeon:   "dungeon",
	ShapeRaid:      "raid",
}

func (s Shape) String() string {
	if n, ok := shapeNames[s]; ok {
		return n
	}
	return "unknown"
}

// Parse maps a shape name to its Shape, case-insensitive.
func Parse(name string) (Shape, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for s, n := range shapeNames {
		if n == name {
			return s, true
		}
	}
	return 0, false
}

// Names lists every shape name sorted.
func Names() []string {
	out := make([]string, 0, len(shapeNames))
	for _, n := range shapeNames {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Offset is one slot, relative to the anchor. X is forward, Y is left.
type Offset struct {
	X, Y float64
}

// DefaultSpacing is the slot pitch in world units.
const DefaultSpacing = 3.0

// Offsets returns n slots for the shape. Slot order is stable: the same
// member index always lands on the same slot.
func Offsets(s Shape, n int, spacing float64) []Offset {
	if n <= 0 {
		return nil
	}
	if spacing <= 0 {
		spacing = DefaultSpacing
	}
	out := make([]Offset, n)
	switch s {
	case ShapeWedge:
		// Two rearward arms growing outward: slot 0 left, 1 right, ...
		for i := 0; i < n; i++ {
			row := float64(i/2 + 1)
			side := 1.0
			if i%2 == 0 {
				side = -1
			}
			out[i] = Offset{X: -row * spacing, Y: side * row * spacing}
		}
	case ShapeDiamond:
		// Four cardinal points, then expanding rings of four.
		dirs := []Offset{{1, 0}, {0, 1}, {-1, 0}, {0, -1}}
		for i := 0; i < n; i++ {
			d := dirs[i%4]
			ring := float64(i/4 + 1)
			out[i] = Offset{X: d.X * ring * spacing, Y: d.Y * ring * spacing}
		}
	case ShapeDefensive:
		// Tight ring facing outward, one slot reserved behind the anchor.
		for i := 0; i < n; i++ {
			a := 2 * math.Pi * float64(i) / float64(n)
			out[i] = Offset{X: math.Cos(a+math.Pi) * spacing, Y: math.Sin(a+math.Pi) * spacing}
		}
	case ShapeLine:
		// Abreast: alternate left/right of the anchor.
		for i := 0; i < n; i++ {
			k := float64(i/2 + 1)
			if i%2 == 0 {
				out[i] = Offset{Y: k * spacing}
			} else {
				out[i] = Offset{Y: -k * spacing}
			}
		}
	case ShapeColumn:
		for i := 0; i < n; i++ {
			out[i] = Offset{X: -float64(i+1) * spacing}
		}
	case ShapeSpread:
		// Loose grid behind the anchor, double pitch.
		for i := 0; i < n; i++ {
			row, col := i/4, i%4
			out[i] = Offset{
				X: -float64(row+1) * 2 * spacing,
				Y: (float64(col) - 1.5) * 2 * spacing,
			}
		}
	case ShapeCircle:
		for i := 0; i < n; i++ {
			a := 2 * math.Pi * float64(i) / float64(n)
			r := 2 * spacing
			out[i] = Offset{X: math.Cos(a) * r, Y: math.Sin(a) * r}
		}
	case ShapeDungeon:
		// Corridor order: tank slot ahead, healer behind, damage in pairs.
		for i := 0; i < n; i++ {
			switch i {
			case 0:
				out[i] = Offset{X: spacing}
			case 1:
				out[i] = Offset{X: -spacing}
			default:
				k := i - 2
				side := 1.0
				if k%2 == 0 {
					side = -1
				}
				out[i] = Offset{X: -float64(k/2+2) * spacing, Y: side * spacing}
			}
		}
	case ShapeRaid:
		// Five-wide ranks behind the anchor.
		for i := 0; i < n; i++ {
			row, col := i/5, i%5
			out[i] = Offset{
				X: -float64(row+1) * spacing,
				Y: (float64(col) - 2) * spacing,
			}
		}
	default:
		for i := 0; i < n; i++ {
			out[i] = Offset{X: -float64(i+1) * spacing}
		}
	}
	return out
}
