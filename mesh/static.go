package mesh

import "github.com/golang/geo/r3"

// Static is an in-memory VertexSource backed by a slice.
type Static struct {
	pts []r3.Vector
}

// NewStatic wraps a slice of points as a VertexSource. The slice is not
// copied; the caller must not mutate it afterwards.
func NewStatic(pts []r3.Vector) *Static {
	return &Static{pts: pts}
}

// NumVertices returns the number of stored vertices.
func (s *Static) NumVertices() int {
	return len(s.pts)
}

// Vertex returns the vertex at index i.
func (s *Static) Vertex(i int) r3.Vector {
	return s.pts[i]
}
