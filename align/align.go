// Package align runs the leveling pipeline: extract the vertices of a
// chunk's active mesh, fit their best-fit plane, and rewrite the chunk
// transform so that plane coincides with the horizontal plane through the
// origin. Orthomosaic renders of the chunk then look straight down onto the
// object.
package align

import (
	"context"
	"math"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"

	"github.com/orthotools/meshlevel/mesh"
	"github.com/orthotools/meshlevel/planefit"
	"github.com/orthotools/meshlevel/scene"
	"github.com/orthotools/meshlevel/spatialmath"
)

// up is the target direction for the fitted plane normal.
var up = r3.Vector{Z: 1}

// centroidTolerance bounds how far the re-measured centroid may sit from the
// origin after leveling before Align warns about it.
const centroidTolerance = 1e-6

// Leveling returns the rigid transform carrying the fitted plane onto the
// horizontal plane through the origin: first translate the centroid to the
// origin, then rotate the plane normal onto +Z.
func Leveling(centroid, normal r3.Vector) (spatialmath.Transform, error) {
	rot, err := spatialmath.RotationFromTo(normal, up)
	if err != nil {
		return spatialmath.Transform{}, errors.Wrap(err, "building leveling rotation")
	}
	return spatialmath.Compose(rot, spatialmath.NewTranslation(centroid.Mul(-1))), nil
}

// Report summarizes one leveling run.
type Report struct {
	// VertexCount is how many vertices the fit consumed.
	VertexCount int
	// OriginalCentroid is the world-space centroid of the mesh before
	// leveling.
	OriginalCentroid r3.Vector
	// FinalCentroid is the world-space centroid re-measured under the new
	// transform; it should sit at the origin.
	FinalCentroid r3.Vector
	// Heights are the signed vertex heights over the horizontal plane
	// after leveling, in mesh storage order.
	Heights []float64
	// MaxAbsHeight is the largest leveled height magnitude, a direct
	// measure of how non-planar the object is.
	MaxAbsHeight float64
	// MeanAbsHeight is the mean leveled height magnitude.
	MeanAbsHeight float64
	// StdDevHeight is the standard deviation of the signed heights.
	StdDevHeight float64
	// IllConditioned carries the fitter's conditioning flag.
	IllConditioned bool
	// Leveling is the rigid correction that was composed onto the prior
	// transform.
	Leveling spatialmath.Transform
	// NewTransform is the full transform written into the chunk.
	NewTransform spatialmath.Transform
}

// Aligner levels chunks. It carries no state between runs; every Align call
// is an independent one-shot pipeline.
type Aligner struct {
	logger golog.Logger
}

// New returns an Aligner that logs through the given logger.
func New(logger golog.Logger) *Aligner {
	return &Aligner{logger: logger}
}

// Align fits the best-fit plane of the chunk's active mesh and writes the
// leveling result into the chunk's transform slot.
//
// The fit runs on world-space vertices, i.e. local positions pushed through
// the chunk's current transform, and the leveling correction is composed
// onto that transform from the left. Host-side scale and registration are
// preserved. On any error the chunk is left untouched.
func (a *Aligner) Align(ctx context.Context, ch scene.Chunk) (*Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	src, err := ch.ActiveMesh()
	if err != nil {
		return nil, err
	}
	local, err := mesh.Extract(src)
	if err != nil {
		return nil, err
	}

	prior := ch.Transform()
	world := prior.ApplyAll(local)

	plane, err := planefit.Fit(world)
	if err != nil {
		return nil, err
	}
	a.logger.Infow("fitted plane",
		"vertices", len(world),
		"centroid", plane.Center(),
		"normal", plane.Normal(),
	)
	if plane.IllConditioned() {
		a.logger.Warnw("plane fit is ill conditioned; the leveled in-plane orientation is arbitrary")
	}

	leveling, err := Leveling(plane.Center(), plane.Normal())
	if err != nil {
		return nil, err
	}
	next := spatialmath.Compose(leveling, prior)

	report, err := buildReport(local, plane, leveling, next)
	if err != nil {
		return nil, err
	}

	ch.SetTransform(next)
	if resetter, ok := ch.(scene.RegionResetter); ok {
		resetter.ResetRegion()
	}

	if report.FinalCentroid.Norm() > centroidTolerance {
		a.logger.Warnw("leveled centroid drifted from the origin", "centroid", report.FinalCentroid)
	} else {
		a.logger.Infow("mesh leveled",
			"centroid", report.FinalCentroid,
			"maxAbsHeight", report.MaxAbsHeight,
		)
	}
	return report, nil
}

// buildReport re-measures the mesh under the transform about to be applied.
// It is pure; Align only mutates the chunk once the report succeeds.
func buildReport(local []r3.Vector, plane *planefit.Plane, leveling, next spatialmath.Transform) (*Report, error) {
	leveled := next.ApplyAll(local)
	heights := make([]float64, len(leveled))
	absHeights := make([]float64, len(leveled))
	var centroid r3.Vector
	for i, p := range leveled {
		centroid = centroid.Add(p)
		heights[i] = p.Z
		absHeights[i] = math.Abs(p.Z)
	}
	centroid = centroid.Mul(1 / float64(len(leveled)))

	maxAbs, err := stats.Max(absHeights)
	if err != nil {
		return nil, errors.Wrap(err, "height statistics")
	}
	meanAbs, err := stats.Mean(absHeights)
	if err != nil {
		return nil, errors.Wrap(err, "height statistics")
	}
	stdDev, err := stats.StandardDeviation(heights)
	if err != nil {
		return nil, errors.Wrap(err, "height statistics")
	}

	return &Report{
		VertexCount:      len(leveled),
		OriginalCentroid: plane.Center(),
		FinalCentroid:    centroid,
		Heights:          heights,
		MaxAbsHeight:     maxAbs,
		MeanAbsHeight:    meanAbs,
		StdDevHeight:     stdDev,
		IllConditioned:   plane.IllConditioned(),
		Leveling:         leveling,
		NewTransform:     next,
	}, nil
}
