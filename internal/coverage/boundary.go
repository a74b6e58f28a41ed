// Package coverage builds boustrophedon (lawnmower) coverage paths over a
// four-sided exploration boundary.
//
// Vertex order is fixed:
//
//	3 <--- 2    0 -> 1  bottom edge
//	^      ^    1 -> 2  right edge
//	|      |    0 -> 3  left edge
//	0 ---> 1    3 -> 2  top edge
//
// Edges 0-1 and 3-2 are expected to be roughly parallel. Nothing enforces
// this; the sweep simply follows the bottom edge direction on every row.
package coverage

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/coverage.explorer/internal/geometry"
)

// BoundaryVertices is the only supported boundary arity.
const BoundaryVertices = 4

// Boundary is the area to cover, expressed in a named reference frame.
type Boundary struct {
	Frame  string
	Points [BoundaryVertices]r3.Vec
}

// NewBoundary validates the vertex count and returns a Boundary.
func NewBoundary(frame string, points []r3.Vec) (Boundary, error) {
	if len(points) != BoundaryVertices {
		return Boundary{}, fmt.Errorf("boundary must have exactly %d points, got %d", BoundaryVertices, len(points))
	}
	b := Boundary{Frame: frame}
	copy(b.Points[:], points)
	return b, nil
}

// Polygon returns the vertices as a slice for containment tests.
func (b Boundary) Polygon() []r3.Vec {
	return b.Points[:]
}

// Contains reports whether p (in the boundary frame) is inside the boundary.
func (b Boundary) Contains(p r3.Vec) bool {
	return geometry.PointInPolygon(p, b.Points[:])
}

// ShortestSide returns the length of the shortest edge. Padding must stay
// below half of it or the padded polygon can fold over itself.
func (b Boundary) ShortestSide() float64 {
	shortest := geometry.Distance(b.Points[0], b.Points[1])
	for i := 1; i < BoundaryVertices; i++ {
		d := geometry.Distance(b.Points[i], b.Points[(i+1)%BoundaryVertices])
		if d < shortest {
			shortest = d
		}
	}
	return shortest
}

// Area returns the X-Y area of a polygon (shoelace formula).
func Area(polygon []r3.Vec) float64 {
	var twice float64
	n := len(polygon)
	for i := 0; i < n; i++ {
		a, b := polygon[i], polygon[(i+1)%n]
		twice += a.X*b.Y - b.X*a.Y
	}
	if twice < 0 {
		twice = -twice
	}
	return twice / 2
}
