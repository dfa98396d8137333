// Package spatialmath implements the homogeneous transform algebra used to
// re-orient scanned meshes. Transforms are immutable 4x4 matrices with value
// semantics; operations return new values rather than mutating in place.
package spatialmath

import (
	"fmt"
	"math"
	"strings"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/golang/geo/r3"
)

// Transform is a 4x4 homogeneous transformation. The zero value is not
// useful; construct with Identity, NewTranslation, RotationFromTo, or one of
// the matrix constructors.
type Transform struct {
	mat mgl64.Mat4
}

// Identity returns the identity transform.
func Identity() Transform {
	return Transform{mgl64.Ident4()}
}

// NewTranslation returns a transform that translates points by t.
func NewTranslation(t r3.Vector) Transform {
	return Transform{mgl64.Translate3D(t.X, t.Y, t.Z)}
}

// NewFromMat4 returns a transform backed by the given matrix.
func NewFromMat4(m mgl64.Mat4) Transform {
	return Transform{m}
}

// NewFromRowMajor builds a transform from 16 values in row-major order,
// i.e. vals[4*r+c] holds the entry at row r, column c.
func NewFromRowMajor(vals [16]float64) Transform {
	return Transform{mgl64.Mat4(vals).Transpose()}
}

// NewFromColMajor builds a transform from 16 values in column-major order,
// i.e. vals[4*c+r] holds the entry at row r, column c. This is the in-memory
// layout of mgl64.Mat4 and of OpenGL-style hosts.
func NewFromColMajor(vals [16]float64) Transform {
	return Transform{mgl64.Mat4(vals)}
}

// Compose returns the transform equivalent to applying b first and then a,
// so Compose(a, b).Apply(p) == a.Apply(b.Apply(p)).
func Compose(a, b Transform) Transform {
	return Transform{a.mat.Mul4(b.mat)}
}

// Mat4 returns the underlying column-major matrix.
func (t Transform) Mat4() mgl64.Mat4 {
	return t.mat
}

// At returns the entry at row r, column c.
func (t Transform) At(r, c int) float64 {
	return t.mat.At(r, c)
}

// RowMajor returns the matrix entries in row-major order, vals[4*r+c].
func (t Transform) RowMajor() [16]float64 {
	return [16]float64(t.mat.Transpose())
}

// ColMajor returns the matrix entries in column-major order, vals[4*c+r].
func (t Transform) ColMajor() [16]float64 {
	return [16]float64(t.mat)
}

// Apply maps a point through the transform. The matrix is assumed affine;
// the homogeneous coordinate is not renormalized.
func (t Transform) Apply(p r3.Vector) r3.Vector {
	out := t.mat.Mul4x1(mgl64.Vec4{p.X, p.Y, p.Z, 1})
	return r3.Vector{X: out.X(), Y: out.Y(), Z: out.Z()}
}

// ApplyAll maps every point through the transform, returning a new slice.
func (t Transform) ApplyAll(pts []r3.Vector) []r3.Vector {
	out := make([]r3.Vector, len(pts))
	for i, p := range pts {
		out[i] = t.Apply(p)
	}
	return out
}

// Rotation returns the upper left 3x3 block.
func (t Transform) Rotation() mgl64.Mat3 {
	return t.mat.Mat3()
}

// Translation returns the translation column.
func (t Transform) Translation() r3.Vector {
	col := t.mat.Col(3)
	return r3.Vector{X: col.X(), Y: col.Y(), Z: col.Z()}
}

// Det returns the determinant of the full 4x4 matrix.
func (t Transform) Det() float64 {
	return t.mat.Det()
}

// ApproxEqual reports whether every entry of the two matrices is within tol
// of its counterpart. The comparison is absolute, not relative, so it stays
// meaningful for the zero entries of near-identity matrices.
func (t Transform) ApproxEqual(other Transform, tol float64) bool {
	for i := range t.mat {
		if math.Abs(t.mat[i]-other.mat[i]) > tol {
			return false
		}
	}
	return true
}

// RotationProper reports whether the rotation block is a proper rotation,
// i.e. orthonormal with determinant +1, within tol.
func (t Transform) RotationProper(tol float64) bool {
	rot := t.Rotation()
	gram := rot.Mul3(rot.Transpose())
	ident := mgl64.Ident3()
	for i := range gram {
		if math.Abs(gram[i]-ident[i]) > tol {
			return false
		}
	}
	return math.Abs(rot.Det()-1) <= tol
}

// String formats the matrix one row per line.
func (t Transform) String() string {
	var b strings.Builder
	for r := 0; r < 4; r++ {
		fmt.Fprintf(&b, "% 12.6f % 12.6f % 12.6f % 12.6f\n",
			t.mat.At(r, 0), t.mat.At(r, 1), t.mat.At(r, 2), t.mat.At(r, 3))
	}
	return b.String()
}
