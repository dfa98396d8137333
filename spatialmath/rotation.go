package spatialmath

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// degenerateVectorNorm is the smallest vector norm RotationFromTo will accept
// before the rotation axis becomes meaningless.
const degenerateVectorNorm = 1e-12

// parallelDotTolerance is how close to ±1 the dot product of two unit vectors
// may be before they are treated as exactly parallel or antiparallel.
const parallelDotTolerance = 1e-12

// RotationFromTo returns the minimal rotation carrying the direction of from
// onto the direction of to. The rotation axis is the normalized cross product
// of the two and the angle is the arc cosine of their dot product, applied as
// an axis-angle (Rodrigues) rotation. Parallel inputs yield the identity;
// antiparallel inputs yield a half turn about an arbitrary but deterministic
// axis orthogonal to to.
func RotationFromTo(from, to r3.Vector) (Transform, error) {
	fromNorm := from.Norm()
	toNorm := to.Norm()
	if fromNorm < degenerateVectorNorm || toNorm < degenerateVectorNorm {
		return Transform{}, errors.New("cannot build a rotation from a zero-length vector")
	}
	f := from.Mul(1 / fromNorm)
	u := to.Mul(1 / toNorm)

	dot := f.Dot(u)
	// clamp for Acos; accumulated rounding can push |dot| past 1
	if dot > 1 {
		dot = 1
	} else if dot < -1 {
		dot = -1
	}

	switch {
	case dot >= 1-parallelDotTolerance:
		return Identity(), nil
	case dot <= -1+parallelDotTolerance:
		axis := anyOrthogonal(u)
		return Transform{mgl64.HomogRotate3D(math.Pi, mgl64.Vec3{axis.X, axis.Y, axis.Z})}, nil
	}

	axis := f.Cross(u).Normalize()
	angle := math.Acos(dot)
	return Transform{mgl64.HomogRotate3D(angle, mgl64.Vec3{axis.X, axis.Y, axis.Z})}, nil
}

// anyOrthogonal returns a unit vector orthogonal to v, chosen by crossing v
// with the coordinate axis it is least aligned with.
func anyOrthogonal(v r3.Vector) r3.Vector {
	ax, ay, az := math.Abs(v.X), math.Abs(v.Y), math.Abs(v.Z)
	var other r3.Vector
	switch {
	case ax <= ay && ax <= az:
		other = r3.Vector{X: 1}
	case ay <= az:
		other = r3.Vector{Y: 1}
	default:
		other = r3.Vector{Z: 1}
	}
	return v.Cross(other).Normalize()
}
