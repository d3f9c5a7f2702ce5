package formation

import (
	"math"
	"testing"
)

func TestParse_KnownAndUnknown(t *testing.T) {
	for _, name := range Names() {
		s, ok := Parse(name)
		if !ok || s.String() != name {
			t.Fatalf("parse %q: %v %v", name, s, ok)
		}
	}
	if s, ok := Parse("WEDGE"); !ok || s != ShapeWedge {
		t.Fatalf("case-insensitive parse: %v %v", s, ok)
	}
	if _, ok := Parse("phalanx"); ok {
		t.Fatalf("unknown shape accepted")
	}
}

func TestOffsets_CountAndStability(t *testing.T) {
	for _, name := range Names() {
		s, _ := Parse(name)
		a := Offsets(s, 9, DefaultSpacing)
		b := Offsets(s, 9, DefaultSpacing)
		if len(a) != 9 {
			t.Fatalf("%s: %d slots", name, len(a))
		}
		for i := range a {
			if a[i] != b[i] {
				t.Fatalf("%s slot %d unstable", name, i)
			}
		}
	}
	if Offsets(ShapeLine, 0, 1) != nil {
		t.Fatalf("zero members yields slots")
	}
}

func TestColumn_StraightBehind(t *testing.T) {
	offs := Offsets(ShapeColumn, 3, 4)
	for i, o := range offs {
		if o.Y != 0 || o.X != -float64(i+1)*4 {
			t.Fatalf("slot %d: %+v", i, o)
		}
	}
}

func TestCircle_EquidistantFromAnchor(t *testing.T) {
	offs := Offsets(ShapeCircle, 6, 3)
	want := math.Hypot(offs[0].X, offs[0].Y)
	for i, o := range offs {
		if r := math.Hypot(o.X, o.Y); math.Abs(r-want) > 1e-9 {
			t.Fatalf("slot %d radius %v want %v", i, r, want)
		}
	}
}

func TestWedge_SymmetricArms(t *testing.T) {
	offs := Offsets(ShapeWedge, 4, 3)
	if offs[0].Y >= 0 || offs[1].Y <= 0 {
		t.Fatalf("first pair not split: %+v", offs[:2])
	}
	if offs[0].Y != -offs[1].Y || offs[0].X != offs[1].X {
		t.Fatalf("arms asymmetric: %+v", offs[:2])
	}
	if offs[2].X >= offs[0].X {
		t.Fatalf("second row not deeper: %+v", offs)
	}
}
