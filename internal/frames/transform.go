// Package frames resolves positions between named reference frames.
//
// A Transform maps points expressed in a source frame into a target frame.
// Tree stores a forest of parent/child transforms and answers lookups
// between any two connected frames.
package frames

import (
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Transform is a rigid motion: rotate, then translate.
type Transform struct {
	Translation r3.Vec
	Rotation    r3.Rotation
}

// Identity returns the transform that leaves points unchanged.
func Identity() Transform {
	return Transform{Rotation: r3.Rotation{Real: 1}}
}

// FromPose returns the transform placing a child frame at position with
// the given orientation in its parent.
func FromPose(position r3.Vec, orientation quat.Number) Transform {
	return Transform{Translation: position, Rotation: r3.Rotation(orientation)}
}

// rotation treats the zero value as identity so literal Transforms with
// only a translation behave as expected.
func (t Transform) rotation() r3.Rotation {
	if t.Rotation == (r3.Rotation{}) {
		return r3.Rotation{Real: 1}
	}
	return t.Rotation
}

// Apply maps p from the source frame into the target frame.
func (t Transform) Apply(p r3.Vec) r3.Vec {
	return r3.Add(t.rotation().Rotate(p), t.Translation)
}

// Compose returns the transform equivalent to applying inner, then t.
func (t Transform) Compose(inner Transform) Transform {
	rot := quat.Mul(quat.Number(t.rotation()), quat.Number(inner.rotation()))
	return Transform{
		Translation: t.Apply(inner.Translation),
		Rotation:    r3.Rotation(rot),
	}
}

// Inverse returns the transform mapping target points back to the source.
func (t Transform) Inverse() Transform {
	inv := r3.Rotation(quat.Conj(quat.Number(t.rotation())))
	return Transform{
		Translation: r3.Scale(-1, inv.Rotate(t.Translation)),
		Rotation:    inv,
	}
}

// Orientation returns the rotation as a quaternion.
func (t Transform) Orientation() quat.Number {
	return quat.Number(t.rotation())
}
