// Package planefit fits least-squares planes to vertex clouds by principal
// component analysis of their covariance.
package planefit

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

var (
	// ErrDegenerateGeometry is returned when the vertex cloud cannot span a
	// plane: fewer than three vertices, or every vertex coincident.
	ErrDegenerateGeometry = errors.New("degenerate geometry: cannot fit a plane")

	// ErrNumericalInstability is returned when the eigendecomposition of the
	// covariance matrix fails to converge.
	ErrNumericalInstability = errors.New("eigendecomposition of covariance failed to converge")
)

const (
	// degenerateEigenvalue bounds the largest covariance eigenvalue of a
	// cloud considered fully collapsed to a single point.
	degenerateEigenvalue = 1e-12

	// illConditionedRatio flags fits whose two smallest eigenvalues are this
	// close relative to the largest. Rod-like clouds have no unique normal
	// direction; they still fit, but the flag is raised.
	illConditionedRatio = 1e-6

	// heightEpsilonScale sets the signed-height deadband used while
	// orienting the normal, as a fraction of the cloud extent. Heights
	// within the deadband are rounding noise, not geometry.
	heightEpsilonScale = 1e-9

	// axisComponentEpsilon is the smallest normal component considered
	// meaningfully nonzero by the orientation tie-break.
	axisComponentEpsilon = 1e-9
)

// Plane is a least-squares plane fit to a vertex cloud.
type Plane struct {
	center         r3.Vector
	normal         r3.Vector
	basis          [3]r3.Vector
	eigenvalues    [3]float64
	illConditioned bool
}

// Fit computes the best-fit plane through pts. The plane passes through the
// centroid of the cloud and its normal is the direction of least variance,
// oriented so that at least as many vertices sit at non-negative signed
// height as under the opposite orientation.
func Fit(pts []r3.Vector) (*Plane, error) {
	if len(pts) < 3 {
		return nil, errors.Wrapf(ErrDegenerateGeometry, "%d vertices", len(pts))
	}

	n := float64(len(pts))
	var centroid r3.Vector
	for _, p := range pts {
		centroid = centroid.Add(p)
	}
	centroid = centroid.Mul(1 / n)

	// second pass accumulates the covariance without materializing the
	// centered cloud
	var xx, xy, xz, yy, yz, zz float64
	for _, p := range pts {
		d := p.Sub(centroid)
		xx += d.X * d.X
		xy += d.X * d.Y
		xz += d.X * d.Z
		yy += d.Y * d.Y
		yz += d.Y * d.Z
		zz += d.Z * d.Z
	}
	cov := mat.NewSymDense(3, []float64{
		xx / n, xy / n, xz / n,
		xy / n, yy / n, yz / n,
		xz / n, yz / n, zz / n,
	})

	var eig mat.EigenSym
	if ok := eig.Factorize(cov, true); !ok {
		return nil, ErrNumericalInstability
	}
	var eigenvalues [3]float64
	eig.Values(eigenvalues[:])
	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	if eigenvalues[2] <= degenerateEigenvalue {
		return nil, errors.Wrap(ErrDegenerateGeometry, "all vertices coincide")
	}

	// eigenvalues arrive in ascending order, so column 0 spans the
	// least-variance direction
	var basis [3]r3.Vector
	for j := 0; j < 3; j++ {
		basis[j] = r3.Vector{X: vecs.At(0, j), Y: vecs.At(1, j), Z: vecs.At(2, j)}
	}
	heightEps := math.Sqrt(eigenvalues[2]) * heightEpsilonScale
	basis[0] = orientNormal(basis[0], centroid, pts, heightEps)

	return &Plane{
		center:         centroid,
		normal:         basis[0],
		basis:          basis,
		eigenvalues:    eigenvalues,
		illConditioned: (eigenvalues[1]-eigenvalues[0])/eigenvalues[2] < illConditionedRatio,
	}, nil
}

// orientNormal resolves the sign ambiguity of the least-variance
// eigenvector: keep the direction under which more vertices sit strictly
// above the plane than strictly below it, flip for the converse, and break
// exact ties toward the +Z hemisphere (then +Y, then +X for normals lying in
// the horizontal plane). The tie-break keeps repeated fits of symmetric and
// exactly planar clouds deterministic.
func orientNormal(normal, centroid r3.Vector, pts []r3.Vector, heightEps float64) r3.Vector {
	normal = normal.Normalize()
	above, below := 0, 0
	for _, p := range pts {
		h := normal.Dot(p.Sub(centroid))
		switch {
		case h > heightEps:
			above++
		case h < -heightEps:
			below++
		}
	}
	switch {
	case above > below:
		return normal
	case below > above:
		return normal.Mul(-1)
	}

	switch {
	case math.Abs(normal.Z) > axisComponentEpsilon:
		if normal.Z < 0 {
			return normal.Mul(-1)
		}
	case math.Abs(normal.Y) > axisComponentEpsilon:
		if normal.Y < 0 {
			return normal.Mul(-1)
		}
	case normal.X < 0:
		return normal.Mul(-1)
	}
	return normal
}

// Center returns the centroid of the fitted cloud.
func (p *Plane) Center() r3.Vector {
	return p.center
}

// Normal returns the oriented unit normal of the plane.
func (p *Plane) Normal() r3.Vector {
	return p.normal
}

// Basis returns the principal directions of the cloud ordered by ascending
// variance. Basis()[0] is the oriented normal.
func (p *Plane) Basis() [3]r3.Vector {
	return p.basis
}

// Eigenvalues returns the covariance eigenvalues in ascending order.
func (p *Plane) Eigenvalues() [3]float64 {
	return p.eigenvalues
}

// Equation returns the plane as [a b c d] such that ax+by+cz+d = 0, with
// (a, b, c) the unit normal.
func (p *Plane) Equation() [4]float64 {
	return [4]float64{p.normal.X, p.normal.Y, p.normal.Z, -p.normal.Dot(p.center)}
}

// Distance returns the signed height of pt over the plane, positive on the
// normal side.
func (p *Plane) Distance(pt r3.Vector) float64 {
	return p.normal.Dot(pt.Sub(p.center))
}

// IllConditioned reports whether the two smallest variances were too close
// to pin down a unique normal direction, as with collinear clouds. The fit
// itself is still valid.
func (p *Plane) IllConditioned() bool {
	return p.illConditioned
}
