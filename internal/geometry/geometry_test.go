package geometry

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"
)

var square = []r3.Vec{{X: 0, Y: 0}, {X: 4, Y: 0}, {X: 4, Y: 4}, {X: 0, Y: 4}}

func TestDistance(t *testing.T) {
	if d := Distance(r3.Vec{}, r3.Vec{X: 3, Y: 4}); d != 5 {
		t.Errorf("Distance = %v, want 5", d)
	}
	if d := Distance(r3.Vec{X: 1, Y: 1, Z: 1}, r3.Vec{X: 1, Y: 1, Z: 1}); d != 0 {
		t.Errorf("Distance of identical points = %v, want 0", d)
	}
}

func TestUnitVector(t *testing.T) {
	u := UnitVector(r3.Vec{X: 1, Y: 1}, r3.Vec{X: 1, Y: 5})
	if u != (r3.Vec{Y: 1}) {
		t.Errorf("UnitVector = %+v, want (0,1,0)", u)
	}

	degenerate := UnitVector(r3.Vec{X: 2}, r3.Vec{X: 2})
	if !math.IsNaN(degenerate.X) || !math.IsNaN(degenerate.Y) {
		t.Errorf("UnitVector of identical points = %+v, want NaN", degenerate)
	}
}

func TestPointInPolygon(t *testing.T) {
	tests := []struct {
		name string
		p    r3.Vec
		want bool
	}{
		{"centre", r3.Vec{X: 2, Y: 2}, true},
		{"outside diagonal", r3.Vec{X: 5, Y: 5}, false},
		{"left of square", r3.Vec{X: -0.1, Y: 2}, false},
		{"z ignored", r3.Vec{X: 1, Y: 1, Z: 100}, true},
		{"near corner inside", r3.Vec{X: 0.01, Y: 0.01}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PointInPolygon(tt.p, square); got != tt.want {
				t.Errorf("PointInPolygon(%+v) = %v, want %v", tt.p, got, tt.want)
			}
		})
	}
}

func TestPointInPolygon_EdgeDeterministic(t *testing.T) {
	edge := r3.Vec{X: 4, Y: 2}
	first := PointInPolygon(edge, square)
	for i := 0; i < 100; i++ {
		if PointInPolygon(edge, square) != first {
			t.Fatal("edge containment changed between identical calls")
		}
	}
}

func TestPointInPolygon_Degenerate(t *testing.T) {
	if PointInPolygon(r3.Vec{}, square[:2]) {
		t.Error("a two-point polygon contains nothing")
	}
}

func TestHeadingRoundTrip(t *testing.T) {
	for _, yaw := range []float64{0, math.Pi / 4, math.Pi / 2, -math.Pi / 2, 3} {
		q := QuaternionFromYaw(yaw)
		if got := YawOf(q); math.Abs(got-yaw) > 1e-12 {
			t.Errorf("YawOf(QuaternionFromYaw(%v)) = %v", yaw, got)
		}
	}

	q := HeadingFromVector(-1, 0)
	if got := YawOf(q); math.Abs(math.Abs(got)-math.Pi) > 1e-12 {
		t.Errorf("heading along -X = %v, want ±pi", got)
	}
}

func TestYawOfVector(t *testing.T) {
	got := YawOfVector(r3.Vec{X: 1, Y: 1}, r3.Vec{X: 1, Y: 3})
	if math.Abs(got-math.Pi/2) > 1e-12 {
		t.Errorf("YawOfVector = %v, want pi/2", got)
	}
}
