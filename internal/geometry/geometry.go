// Package geometry holds the small set of planar/spatial helpers shared by the
// coverage planner and the exploration controller. Points are gonum r3
// vectors; orientations are unit quaternions about the Z axis.
package geometry

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// zAxis is the rotation axis for every heading in this package.
var zAxis = r3.Vec{Z: 1}

// PointStamped is a point tagged with the reference frame it is expressed in.
type PointStamped struct {
	Frame string
	Point r3.Vec
}

// Pose is a position plus orientation.
type Pose struct {
	Position    r3.Vec
	Orientation quat.Number
}

// Distance returns the Euclidean distance between a and b.
// Callers using it as a normaliser must guard against a zero result.
func Distance(a, b r3.Vec) float64 {
	return r3.Norm(r3.Sub(b, a))
}

// UnitVector returns the unit vector pointing from a to b. The result is
// NaN in every component when a == b.
func UnitVector(a, b r3.Vec) r3.Vec {
	return r3.Scale(1/Distance(a, b), r3.Sub(b, a))
}

// PointInPolygon reports whether p lies inside polygon using the even-odd
// ray casting rule on the X-Y projection. Z is ignored. Points exactly on an
// edge may go either way, but the answer is deterministic for a given input.
func PointInPolygon(p r3.Vec, polygon []r3.Vec) bool {
	n := len(polygon)
	if n < 3 {
		return false
	}
	inside := false
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		a, b := polygon[i], polygon[j]
		if (a.Y > p.Y) != (b.Y > p.Y) {
			xCross := (b.X-a.X)*(p.Y-a.Y)/(b.Y-a.Y) + a.X
			if p.X < xCross {
				inside = !inside
			}
		}
	}
	return inside
}

// Yaw returns the heading angle of the direction (dx, dy) in radians.
func Yaw(dx, dy float64) float64 {
	return math.Atan2(dy, dx)
}

// QuaternionFromYaw builds the orientation for a rotation of yaw radians
// about the Z axis.
func QuaternionFromYaw(yaw float64) quat.Number {
	return quat.Number(r3.NewRotation(yaw, zAxis))
}

// HeadingFromVector converts a direction vector into an orientation.
func HeadingFromVector(dx, dy float64) quat.Number {
	return QuaternionFromYaw(Yaw(dx, dy))
}

// YawOfVector returns the heading from one point toward another.
func YawOfVector(from, to r3.Vec) float64 {
	return Yaw(to.X-from.X, to.Y-from.Y)
}

// YawOf extracts the Z rotation from an orientation quaternion.
func YawOf(q quat.Number) float64 {
	sinYaw := 2 * (q.Real*q.Kmag + q.Imag*q.Jmag)
	cosYaw := 1 - 2*(q.Jmag*q.Jmag+q.Kmag*q.Kmag)
	return math.Atan2(sinYaw, cosYaw)
}
