package testutil

import (
	"errors"
	"net/http"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/coverage.explorer/internal/coverage"
)

// recordingTB counts failures instead of failing the real test.
type recordingTB struct {
	testing.TB
	failures int
}

func (r *recordingTB) Helper()                       {}
func (r *recordingTB) Errorf(string, ...interface{}) { r.failures++ }
func (r *recordingTB) Fatalf(string, ...interface{}) { r.failures++ }

func TestAssertions(t *testing.T) {
	tests := []struct {
		name string
		call func(tb testing.TB)
		fail bool
	}{
		{"status match", func(tb testing.TB) { AssertStatusCode(tb, http.StatusOK, http.StatusOK) }, false},
		{"status mismatch", func(tb testing.TB) { AssertStatusCode(tb, http.StatusOK, http.StatusBadRequest) }, true},
		{"nil error", func(tb testing.TB) { AssertNoError(tb, nil) }, false},
		{"unexpected error", func(tb testing.TB) { AssertNoError(tb, errors.New("boom")) }, true},
		{"near", func(tb testing.TB) { AssertNear(tb, r3.Vec{X: 1, Y: 2}, r3.Vec{X: 1.0004, Y: 1.9996}, 1e-3) }, false},
		{"too far", func(tb testing.TB) { AssertNear(tb, r3.Vec{X: 1}, r3.Vec{X: 1.1}, 1e-3) }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recordingTB{TB: t}
			tt.call(rec)
			if got := rec.failures > 0; got != tt.fail {
				t.Errorf("failed = %v, want %v", got, tt.fail)
			}
		})
	}
}

func TestSquarePlan(t *testing.T) {
	b := SquareBoundary(t, "map", 4)
	if b.Frame != "map" {
		t.Errorf("frame = %q", b.Frame)
	}
	plan := SquarePlan(t, "map", 4, coverage.Params{GoalSpacing: 1, RowWidth: 1, Padding: 0.5})
	if len(plan.Waypoints) == 0 {
		t.Fatal("plan has no waypoints")
	}
	for _, w := range plan.Waypoints {
		if p := w.Position; p.X < 0 || p.X > 4 || p.Y < 0 || p.Y > 4 {
			t.Errorf("waypoint %v outside the square", p)
		}
	}
}
