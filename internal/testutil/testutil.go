// Package testutil provides shared test fixtures for the explorer packages.
package testutil

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/coverage.explorer/internal/coverage"
)

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t testing.TB, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertNear fails the test unless got is within tol of want in every axis.
func AssertNear(t testing.TB, got, want r3.Vec, tol float64) {
	t.Helper()
	if math.Abs(got.X-want.X) > tol || math.Abs(got.Y-want.Y) > tol || math.Abs(got.Z-want.Z) > tol {
		t.Errorf("got (%.3f, %.3f, %.3f), want (%.3f, %.3f, %.3f) within %g",
			got.X, got.Y, got.Z, want.X, want.Y, want.Z, tol)
	}
}

// Square returns the corners of an axis-aligned square with its lower-left
// corner at the origin, counter-clockwise.
func Square(side float64) []r3.Vec {
	return []r3.Vec{{X: 0, Y: 0}, {X: side, Y: 0}, {X: side, Y: side}, {X: 0, Y: side}}
}

// SquareBoundary is Square as a boundary in frame.
func SquareBoundary(t testing.TB, frame string, side float64) coverage.Boundary {
	t.Helper()
	b, err := coverage.NewBoundary(frame, Square(side))
	if err != nil {
		t.Fatalf("NewBoundary: %v", err)
	}
	return b
}

// SquarePlan plans a side x side square with the given spacing, row width
// and padding.
func SquarePlan(t testing.TB, frame string, side float64, params coverage.Params) coverage.Plan {
	t.Helper()
	plan, err := coverage.NewPlan(SquareBoundary(t, frame, side), params)
	if err != nil {
		t.Fatalf("NewPlan: %v", err)
	}
	return plan
}
