package coverage

import (
	"fmt"
	"iter"
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/coverage.explorer/internal/geometry"
)

// Waypoint is one target pose of the sweep. Waypoints are immutable once
// generated; slice order is traversal order.
type Waypoint = geometry.Pose

// PathConstructionError reports that no valid sweep could be built.
type PathConstructionError struct {
	Reason  string
	Emitted int
}

func (e *PathConstructionError) Error() string {
	return fmt.Sprintf("path construction failed after %d waypoints: %s", e.Emitted, e.Reason)
}

// closing identifies which edge anchor left the padded polygon first.
type closing int

const (
	closeNone closing = iota
	closeFromLeft
	closeFromRight
)

// minBudget keeps tiny boundaries from tripping the iteration cap.
const minBudget = 64

// DefaultMaxWaypoints is the plan size limit used when none is given.
const DefaultMaxWaypoints = 250000

type sweeper struct {
	padded  Padded
	polygon []r3.Vec
	step    float64
	row     float64
	budget  int
	limit   int
	out     []Waypoint
}

// Generate walks the padded polygon row by row and returns the ordered
// waypoints. step is the spacing along a row, row the spacing between rows.
// The plan is limited to DefaultMaxWaypoints.
func Generate(p Padded, step, row float64) ([]Waypoint, error) {
	return GenerateLimited(p, step, row, DefaultMaxWaypoints)
}

// GenerateLimited is Generate with an explicit plan size limit. A limit of
// zero or less means DefaultMaxWaypoints.
//
// Every row advance moves a fixed distance along a fixed edge direction, so
// the anchors eventually leave the bounded polygon. The emit budget, derived
// from area / step² and capped by limit, turns any pathological or oversized
// input into a PathConstructionError instead of an endless walk.
func GenerateLimited(p Padded, step, row float64, limit int) ([]Waypoint, error) {
	if !(step > 0) || !(row > 0) {
		return nil, &PathConstructionError{Reason: fmt.Sprintf("goal spacing %g and row width %g must be positive", step, row)}
	}
	if hasNaN(p.Units.Right) || hasNaN(p.Units.Left) || hasNaN(p.Units.Bottom) {
		return nil, &PathConstructionError{Reason: "boundary has a zero-length edge"}
	}
	if limit <= 0 {
		limit = DefaultMaxWaypoints
	}

	s := &sweeper{
		padded:  p,
		polygon: p.PolygonSlice(),
		step:    step,
		row:     row,
		limit:   limit,
	}
	// Reject obviously oversized areas before walking them.
	if estimate := Area(s.polygon) / (step * row); !(estimate <= float64(limit)) {
		return nil, &PathConstructionError{
			Reason: fmt.Sprintf("plan needs about %.0f waypoints, limit is %d", estimate, limit),
		}
	}
	s.budget = min(budgetFor(s.polygon, step, row), limit)
	if err := s.walk(); err != nil {
		return nil, err
	}
	return s.out, nil
}

func budgetFor(polygon []r3.Vec, step, row float64) int {
	fine := math.Min(step, row)
	cells := Area(polygon) / (fine * fine)
	perimeter := 0.0
	for i := range polygon {
		perimeter += geometry.Distance(polygon[i], polygon[(i+1)%len(polygon)])
	}
	estimate := 4*cells + 4*perimeter/fine
	if math.IsInf(estimate, 0) || math.IsNaN(estimate) || estimate > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(estimate) + minBudget
}

func (s *sweeper) inside(p r3.Vec) bool {
	return geometry.PointInPolygon(p, s.polygon)
}

func (s *sweeper) emit(position r3.Vec, orientation quat.Number) error {
	if len(s.out) >= s.budget {
		if s.budget == s.limit {
			return &PathConstructionError{
				Reason:  fmt.Sprintf("plan exceeds %d waypoints", s.limit),
				Emitted: len(s.out),
			}
		}
		return &PathConstructionError{
			Reason:  fmt.Sprintf("iteration cap of %d waypoints exceeded", s.budget),
			Emitted: len(s.out),
		}
	}
	s.out = append(s.out, Waypoint{Position: position, Orientation: orientation})
	return nil
}

// along lazily yields the in-bound points reached by stepping from start in
// direction dir. start itself is not yielded.
func (s *sweeper) along(start, dir r3.Vec) iter.Seq[r3.Vec] {
	delta := r3.Scale(s.step, dir)
	return func(yield func(r3.Vec) bool) {
		p := start
		for {
			p = r3.Add(p, delta)
			if !s.inside(p) || !yield(p) {
				return
			}
		}
	}
}

// sweepRow emits every in-bound step from start along dir.
func (s *sweeper) sweepRow(start, dir r3.Vec, orientation quat.Number) error {
	for p := range s.along(start, dir) {
		if err := s.emit(p, orientation); err != nil {
			return err
		}
	}
	return nil
}

func (s *sweeper) walk() error {
	p := s.padded
	bottom := p.Units.Bottom
	back := r3.Scale(-1, bottom)

	// Row 0: left basis, across the bottom, then the right basis facing up.
	if err := s.emit(p.LeftBasis.Position, p.LeftBasis.Orientation); err != nil {
		return err
	}
	if err := s.sweepRow(p.LeftBasis.Position, bottom, p.LeftBasis.Orientation); err != nil {
		return err
	}
	if err := s.emit(p.RightBasis.Position, p.RightUp); err != nil {
		return err
	}

	right := p.RightBasis.Position
	left := p.LeftBasis.Position
	rightStep := r3.Scale(s.row, p.Units.Right)
	leftStep := r3.Scale(s.row, p.Units.Left)

	exit := closeNone
	for row := 1; exit == closeNone; row++ {
		if row%2 == 1 {
			// Enter from the right edge and sweep back toward the left.
			right = r3.Add(right, rightStep)
			if !s.inside(right) {
				exit = closeFromRight
				break
			}
			if err := s.emit(right, p.RightBasis.Orientation); err != nil {
				return err
			}
			if err := s.sweepRow(right, back, p.RightBasis.Orientation); err != nil {
				return err
			}
			left = r3.Add(left, leftStep)
			if s.inside(left) {
				if err := s.emit(left, p.LeftUp); err != nil {
					return err
				}
			}
			continue
		}

		// Enter from the left edge and sweep toward the right.
		left = r3.Add(left, leftStep)
		if !s.inside(left) {
			exit = closeFromLeft
			break
		}
		if err := s.emit(left, p.LeftBasis.Orientation); err != nil {
			return err
		}
		if err := s.sweepRow(left, bottom, p.LeftBasis.Orientation); err != nil {
			return err
		}
		right = r3.Add(right, rightStep)
		if s.inside(right) {
			if err := s.emit(right, p.RightUp); err != nil {
				return err
			}
		}
	}

	return s.cap(exit)
}

// cap closes the area along the top edge. The corner on the side that did
// not exit is visited last.
func (s *sweeper) cap(exit closing) error {
	p := s.padded
	topLeft, topRight := p.Polygon[3], p.Polygon[2]

	var first, last r3.Vec
	var firstHeading, lastHeading quat.Number
	var dir r3.Vec
	switch exit {
	case closeFromLeft:
		first, firstHeading = topLeft, p.LeftBasis.Orientation
		last, lastHeading = topRight, p.RightBasis.Orientation
		dir = p.Units.Bottom
	case closeFromRight:
		first, firstHeading = topRight, p.RightBasis.Orientation
		last, lastHeading = topLeft, p.LeftBasis.Orientation
		dir = r3.Scale(-1, p.Units.Bottom)
	default:
		return &PathConstructionError{Reason: "sweep ended without reaching the top edge", Emitted: len(s.out)}
	}

	if err := s.emit(first, firstHeading); err != nil {
		return err
	}
	if err := s.sweepRow(first, dir, firstHeading); err != nil {
		return err
	}
	return s.emit(last, lastHeading)
}

func hasNaN(v r3.Vec) bool {
	return math.IsNaN(v.X) || math.IsNaN(v.Y) || math.IsNaN(v.Z)
}
