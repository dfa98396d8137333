// Package mesh provides read-only access to the vertex data of triangle
// meshes. Plane fitting only needs vertex positions, so faces, normals, and
// per-vertex attributes are never loaded.
package mesh

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// ErrEmptyMesh is returned when a mesh holds no vertices.
var ErrEmptyMesh = errors.New("mesh has no vertices")

// VertexSource is a read-only stream of vertex positions owned by a host.
// Indexing follows the host's storage order.
type VertexSource interface {
	// NumVertices returns how many vertices the mesh holds.
	NumVertices() int
	// Vertex returns the position of the vertex at index i,
	// 0 <= i < NumVertices().
	Vertex(i int) r3.Vector
}

// Extract copies every vertex of src into a new slice, preserving storage
// order. It returns ErrEmptyMesh if src holds no vertices.
func Extract(src VertexSource) ([]r3.Vector, error) {
	n := src.NumVertices()
	if n == 0 {
		return nil, ErrEmptyMesh
	}
	pts := make([]r3.Vector, n)
	for i := 0; i < n; i++ {
		pts[i] = src.Vertex(i)
	}
	return pts, nil
}
