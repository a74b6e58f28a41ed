package coverage

import "fmt"

// Params controls padding and spacing of a plan.
type Params struct {
	GoalSpacing float64 // step along a row
	RowWidth    float64 // distance between rows
	Padding     float64 // inset from the boundary
	// MaxWaypoints bounds the plan size; zero means DefaultMaxWaypoints.
	MaxWaypoints int
}

// Plan is a boundary together with everything derived from it.
type Plan struct {
	Boundary  Boundary
	Padded    Padded
	Waypoints []Waypoint
}

// NewPlan pads b and generates its sweep.
//
// Padding must stay below half the shortest side; this is not checked
// here because callers may deliberately plan against slivers for preview.
func NewPlan(b Boundary, params Params) (Plan, error) {
	padded := Pad(b, params.Padding)
	waypoints, err := GenerateLimited(padded, params.GoalSpacing, params.RowWidth, params.MaxWaypoints)
	if err != nil {
		return Plan{}, fmt.Errorf("plan for %s boundary: %w", b.Frame, err)
	}
	if len(waypoints) == 0 {
		return Plan{}, &PathConstructionError{Reason: "empty waypoint sequence"}
	}
	return Plan{Boundary: b, Padded: padded, Waypoints: waypoints}, nil
}
