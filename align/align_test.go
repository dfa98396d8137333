package align

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/edaniels/golog"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/orthotools/meshlevel/mesh"
	"github.com/orthotools/meshlevel/planefit"
	"github.com/orthotools/meshlevel/scene"
	"github.com/orthotools/meshlevel/spatialmath"
)

var unitSquare = []r3.Vector{
	{-0.5, -0.5, 0},
	{0.5, -0.5, 0},
	{0.5, 0.5, 0},
	{-0.5, 0.5, 0},
}

// tiltedSquare is the unit square rotated 30 degrees about X and moved to
// (5, 5, 5), expressed in mesh-local coordinates.
func tiltedSquare() []r3.Vector {
	tilt := spatialmath.NewFromMat4(mgl64.HomogRotate3DX(math.Pi / 6))
	place := spatialmath.Compose(spatialmath.NewTranslation(r3.Vector{X: 5, Y: 5, Z: 5}), tilt)
	return place.ApplyAll(unitSquare)
}

func TestLeveling(t *testing.T) {
	centroid := r3.Vector{X: 2, Y: -3, Z: 4}
	normal := r3.Vector{X: 1, Y: 1, Z: 1}.Normalize()

	leveling, err := Leveling(centroid, normal)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, leveling.RotationProper(1e-9), test.ShouldBeTrue)
	// the centroid lands on the origin and a unit step along the normal
	// lands straight up
	test.That(t, spatialmath.R3VectorAlmostEqual(leveling.Apply(centroid), r3.Vector{}, 1e-12), test.ShouldBeTrue)
	test.That(t, spatialmath.R3VectorAlmostEqual(leveling.Apply(centroid.Add(normal)), r3.Vector{Z: 1}, 1e-12), test.ShouldBeTrue)

	_, err = Leveling(centroid, r3.Vector{})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestAlignTiltedSquare(t *testing.T) {
	local := tiltedSquare()
	ch := scene.New(spatialmath.Identity(), mesh.NewStatic(local))
	aligner := New(golog.NewTestLogger(t))

	report, err := aligner.Align(context.Background(), ch)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, report.VertexCount, test.ShouldEqual, 4)
	test.That(t, spatialmath.R3VectorAlmostEqual(report.OriginalCentroid, r3.Vector{X: 5, Y: 5, Z: 5}, 1e-9), test.ShouldBeTrue)

	// the leveled square is centered on the origin and flat
	test.That(t, report.FinalCentroid.Norm(), test.ShouldBeLessThan, 1e-6)
	test.That(t, report.MaxAbsHeight, test.ShouldBeLessThan, 1e-6)
	test.That(t, report.NewTransform.RotationProper(1e-9), test.ShouldBeTrue)
	test.That(t, report.IllConditioned, test.ShouldBeFalse)

	// the chunk slot holds the transform the report describes
	test.That(t, ch.Transform().ApproxEqual(report.NewTransform, 0), test.ShouldBeTrue)
	for _, p := range ch.Transform().ApplyAll(local) {
		test.That(t, math.Abs(p.Z), test.ShouldBeLessThan, 1e-6)
	}
}

func TestAlignIdempotent(t *testing.T) {
	local := tiltedSquare()
	ch := scene.New(spatialmath.Identity(), mesh.NewStatic(local))
	aligner := New(golog.NewTestLogger(t))

	first, err := aligner.Align(context.Background(), ch)
	test.That(t, err, test.ShouldBeNil)
	after := ch.Transform()

	second, err := aligner.Align(context.Background(), ch)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, second.Leveling.ApproxEqual(spatialmath.Identity(), 1e-9), test.ShouldBeTrue)
	test.That(t, ch.Transform().ApproxEqual(after, 1e-9), test.ShouldBeTrue)
	test.That(t, second.FinalCentroid.Norm(), test.ShouldBeLessThan, 1e-6)
	test.That(t, second.MaxAbsHeight, test.ShouldBeLessThanOrEqualTo, first.MaxAbsHeight+1e-12)
}

func TestAlignPreservesPrior(t *testing.T) {
	prior := spatialmath.Compose(
		spatialmath.NewTranslation(r3.Vector{X: 1, Y: 2, Z: 3}),
		spatialmath.Compose(
			spatialmath.NewFromMat4(mgl64.HomogRotate3DX(math.Pi/9)),
			spatialmath.NewFromRowMajor([16]float64{
				2, 0, 0, 0,
				0, 2, 0, 0,
				0, 0, 2, 0,
				0, 0, 0, 1,
			}),
		),
	)
	local := tiltedSquare()
	ch := scene.New(prior, mesh.NewStatic(local))
	aligner := New(golog.NewTestLogger(t))

	report, err := aligner.Align(context.Background(), ch)
	test.That(t, err, test.ShouldBeNil)

	// the written transform is exactly the leveling correction composed
	// onto the prior
	want := spatialmath.Compose(report.Leveling, prior)
	test.That(t, ch.Transform().ApproxEqual(want, 1e-12), test.ShouldBeTrue)

	// leveling still flattens and centers the mesh under the scaled prior
	test.That(t, report.FinalCentroid.Norm(), test.ShouldBeLessThan, 1e-6)
	test.That(t, report.MaxAbsHeight, test.ShouldBeLessThan, 1e-6)

	// host scale survives: the leveled square spans twice the local one
	leveled := ch.Transform().ApplyAll(local)
	gotEdge := leveled[1].Sub(leveled[0]).Norm()
	localEdge := local[1].Sub(local[0]).Norm()
	test.That(t, gotEdge, test.ShouldAlmostEqual, 2*localEdge, 1e-9)
}

func TestAlignErrors(t *testing.T) {
	prior := spatialmath.NewTranslation(r3.Vector{X: 7})
	aligner := New(golog.NewTestLogger(t))
	ctx := context.Background()

	t.Run("no mesh", func(t *testing.T) {
		ch := scene.New(prior)
		_, err := aligner.Align(ctx, ch)
		test.That(t, errors.Is(err, scene.ErrNoMesh), test.ShouldBeTrue)
		test.That(t, ch.Transform().ApproxEqual(prior, 0), test.ShouldBeTrue)
	})

	t.Run("empty mesh", func(t *testing.T) {
		ch := scene.New(prior, mesh.NewStatic(nil))
		_, err := aligner.Align(ctx, ch)
		test.That(t, errors.Is(err, mesh.ErrEmptyMesh), test.ShouldBeTrue)
		test.That(t, ch.Transform().ApproxEqual(prior, 0), test.ShouldBeTrue)
	})

	t.Run("degenerate geometry", func(t *testing.T) {
		p := r3.Vector{X: 1, Y: 1, Z: 1}
		ch := scene.New(prior, mesh.NewStatic([]r3.Vector{p, p, p}))
		_, err := aligner.Align(ctx, ch)
		test.That(t, errors.Is(err, planefit.ErrDegenerateGeometry), test.ShouldBeTrue)
		test.That(t, ch.Transform().ApproxEqual(prior, 0), test.ShouldBeTrue)
	})

	t.Run("canceled context", func(t *testing.T) {
		canceled, cancel := context.WithCancel(ctx)
		cancel()
		ch := scene.New(prior, mesh.NewStatic(tiltedSquare()))
		_, err := aligner.Align(canceled, ch)
		test.That(t, errors.Is(err, context.Canceled), test.ShouldBeTrue)
		test.That(t, ch.Transform().ApproxEqual(prior, 0), test.ShouldBeTrue)
	})
}

type resettableChunk struct {
	scene.Chunk
	resets int
}

func (c *resettableChunk) ResetRegion() {
	c.resets++
}

func TestAlignResetsRegion(t *testing.T) {
	aligner := New(golog.NewTestLogger(t))

	ch := &resettableChunk{Chunk: scene.New(spatialmath.Identity(), mesh.NewStatic(tiltedSquare()))}
	_, err := aligner.Align(context.Background(), ch)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ch.resets, test.ShouldEqual, 1)

	empty := &resettableChunk{Chunk: scene.New(spatialmath.Identity())}
	_, err = aligner.Align(context.Background(), empty)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, empty.resets, test.ShouldEqual, 0)
}

func TestAlignNoisyPatch(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	u := r3.Vector{X: 1, Y: 0.2, Z: 0.3}.Normalize()
	vRaw := r3.Vector{X: -0.1, Y: 1, Z: 0.2}
	v := vRaw.Sub(u.Mul(vRaw.Dot(u))).Normalize()
	normal := u.Cross(v)
	center := r3.Vector{X: -4, Y: 9, Z: 2}

	const amp = 1e-3
	var local []r3.Vector
	for i := -6; i <= 6; i++ {
		for j := -6; j <= 6; j++ {
			p := center.Add(u.Mul(float64(i) * 0.25)).Add(v.Mul(float64(j) * 0.25))
			local = append(local, p.Add(normal.Mul((2*r.Float64()-1)*amp)))
		}
	}

	ch := scene.New(spatialmath.Identity(), mesh.NewStatic(local))
	aligner := New(golog.NewTestLogger(t))
	report, err := aligner.Align(context.Background(), ch)
	test.That(t, err, test.ShouldBeNil)

	// residual relief is bounded by the noise that produced it
	test.That(t, report.FinalCentroid.Norm(), test.ShouldBeLessThan, 1e-6)
	test.That(t, report.MaxAbsHeight, test.ShouldBeLessThan, 2*amp)
	test.That(t, report.Heights, test.ShouldHaveLength, len(local))
	test.That(t, report.MeanAbsHeight, test.ShouldBeLessThanOrEqualTo, report.MaxAbsHeight)
	test.That(t, report.StdDevHeight, test.ShouldBeGreaterThan, 0)

	// the leveled mesh re-levels to the same place
	second, err := aligner.Align(context.Background(), ch)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, second.Leveling.ApproxEqual(spatialmath.Identity(), 1e-9), test.ShouldBeTrue)
}
