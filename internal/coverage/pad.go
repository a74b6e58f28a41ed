package coverage

import (
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/coverage.explorer/internal/geometry"
)

// Epsilon nudges basis points strictly inside the padded polygon so they
// never sit exactly on a padded edge. It is independent of task config.
const Epsilon = 0.01

// UnitVectors are the edge directions of the source boundary.
type UnitVectors struct {
	Right  r3.Vec // vertex 1 -> 2
	Left   r3.Vec // vertex 0 -> 3
	Bottom r3.Vec // vertex 0 -> 1
}

// Padded is the inset polygon plus the anchors used to seed the sweep.
type Padded struct {
	Polygon    [BoundaryVertices]r3.Vec
	Units      UnitVectors
	LeftBasis  geometry.Pose
	RightBasis geometry.Pose

	// Orientations facing up the right and left edges, used for the
	// row-end anchors where the path turns onto the next row.
	RightUp quat.Number
	LeftUp  quat.Number
}

// PolygonSlice returns the padded vertices as a slice.
func (p Padded) PolygonSlice() []r3.Vec {
	return p.Polygon[:]
}

// Pad insets b by padding along the sum of the adjacent edge unit vectors.
// It is a pure function of its inputs. The top vertices use padding-Epsilon
// so the top row is not lost to rounding on the far edge.
//
// Unit vectors are NaN when a source edge has zero length.
func Pad(b Boundary, padding float64) Padded {
	v := b.Points
	units := UnitVectors{
		Right:  geometry.UnitVector(v[1], v[2]),
		Left:   geometry.UnitVector(v[0], v[3]),
		Bottom: geometry.UnitVector(v[0], v[1]),
	}
	leftIn := r3.Add(units.Left, units.Bottom)
	rightIn := r3.Sub(units.Right, units.Bottom)

	var out Padded
	out.Units = units
	out.Polygon[0] = r3.Add(v[0], r3.Scale(padding, leftIn))
	out.Polygon[1] = r3.Add(v[1], r3.Scale(padding, rightIn))
	out.Polygon[2] = r3.Add(v[2], r3.Scale(padding-Epsilon, r3.Scale(-1, r3.Add(units.Right, units.Bottom))))
	out.Polygon[3] = r3.Add(v[3], r3.Scale(padding-Epsilon, r3.Sub(units.Bottom, units.Left)))

	out.LeftBasis = geometry.Pose{
		Position:    r3.Add(out.Polygon[0], r3.Scale(Epsilon, leftIn)),
		Orientation: geometry.HeadingFromVector(v[1].X-v[0].X, v[1].Y-v[0].Y),
	}
	out.RightBasis = geometry.Pose{
		Position:    r3.Add(out.Polygon[1], r3.Scale(Epsilon, rightIn)),
		Orientation: geometry.HeadingFromVector(v[0].X-v[1].X, v[0].Y-v[1].Y),
	}
	out.RightUp = geometry.HeadingFromVector(units.Right.X, units.Right.Y)
	out.LeftUp = geometry.HeadingFromVector(units.Left.X, units.Left.Y)
	return out
}
