package coverage

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/coverage.explorer/internal/geometry"
)

func squareBoundary(t *testing.T) Boundary {
	t.Helper()
	b, err := NewBoundary("map", []r3.Vec{{X: 0, Y: 0}, {X: 4, Y: 0}, {X: 4, Y: 4}, {X: 0, Y: 4}})
	if err != nil {
		t.Fatalf("NewBoundary: %v", err)
	}
	return b
}

func TestNewBoundary_Arity(t *testing.T) {
	if _, err := NewBoundary("map", []r3.Vec{{}, {X: 1}, {X: 1, Y: 1}}); err == nil {
		t.Error("expected error for three points")
	}
	if _, err := NewBoundary("map", make([]r3.Vec, 5)); err == nil {
		t.Error("expected error for five points")
	}
}

func TestBoundary_ShortestSideAndArea(t *testing.T) {
	b, err := NewBoundary("map", []r3.Vec{{X: 0, Y: 0}, {X: 6, Y: 0}, {X: 6, Y: 2}, {X: 0, Y: 2}})
	if err != nil {
		t.Fatal(err)
	}
	if got := b.ShortestSide(); got != 2 {
		t.Errorf("ShortestSide = %v, want 2", got)
	}
	if got := Area(b.Polygon()); got != 12 {
		t.Errorf("Area = %v, want 12", got)
	}
	if !b.Contains(r3.Vec{X: 3, Y: 1}) {
		t.Error("centre should be contained")
	}
}

func TestPad_Square(t *testing.T) {
	p := Pad(squareBoundary(t), 0.5)

	want := [BoundaryVertices]r3.Vec{
		{X: 0.5, Y: 0.5},
		{X: 3.5, Y: 0.5},
		{X: 3.51, Y: 3.51},
		{X: 0.49, Y: 3.51},
	}
	approx := cmpopts.EquateApprox(0, 1e-9)
	if diff := cmp.Diff(want, p.Polygon, approx); diff != "" {
		t.Errorf("padded polygon mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(r3.Vec{X: 0.51, Y: 0.51}, p.LeftBasis.Position, approx); diff != "" {
		t.Errorf("left basis mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(r3.Vec{X: 3.49, Y: 0.51}, p.RightBasis.Position, approx); diff != "" {
		t.Errorf("right basis mismatch (-want +got):\n%s", diff)
	}

	if yaw := geometry.YawOf(p.LeftBasis.Orientation); math.Abs(yaw) > 1e-12 {
		t.Errorf("left basis yaw = %v, want 0", yaw)
	}
	if yaw := geometry.YawOf(p.RightBasis.Orientation); math.Abs(math.Abs(yaw)-math.Pi) > 1e-12 {
		t.Errorf("right basis yaw = %v, want ±pi", yaw)
	}
	if yaw := geometry.YawOf(p.RightUp); math.Abs(yaw-math.Pi/2) > 1e-12 {
		t.Errorf("right up yaw = %v, want pi/2", yaw)
	}
}

func TestPad_BasisInsidePadded(t *testing.T) {
	p := Pad(squareBoundary(t), 0.5)
	for name, pt := range map[string]r3.Vec{"left": p.LeftBasis.Position, "right": p.RightBasis.Position} {
		if !geometry.PointInPolygon(pt, p.PolygonSlice()) {
			t.Errorf("%s basis %+v not inside padded polygon", name, pt)
		}
	}
}

func TestPad_Idempotent(t *testing.T) {
	b := squareBoundary(t)
	first := Pad(b, 0.5)
	for i := 0; i < 10; i++ {
		if got := Pad(b, 0.5); got != first {
			t.Fatalf("Pad produced different output on run %d", i)
		}
	}
}

func TestPad_DegenerateEdge(t *testing.T) {
	b, err := NewBoundary("map", []r3.Vec{{X: 0, Y: 0}, {X: 0, Y: 0}, {X: 4, Y: 4}, {X: 0, Y: 4}})
	if err != nil {
		t.Fatal(err)
	}
	p := Pad(b, 0.5)
	if !math.IsNaN(p.Units.Bottom.X) {
		t.Errorf("bottom unit = %+v, want NaN for zero-length edge", p.Units.Bottom)
	}
}
