// Package scene models the host boundary of the leveling pipeline: a chunk
// bundles mesh models with the single 4x4 transform slot that positions them
// in world space.
package scene

import (
	"github.com/pkg/errors"

	"github.com/orthotools/meshlevel/mesh"
	"github.com/orthotools/meshlevel/spatialmath"
)

// ErrNoMesh is returned when a chunk holds no mesh model.
var ErrNoMesh = errors.New("chunk has no mesh")

// Chunk is the host-side collaborator of the leveling pipeline: a read-only
// view of the active mesh plus one readable and writable transform slot.
type Chunk interface {
	// ActiveMesh returns the mesh leveling operates on, or ErrNoMesh.
	ActiveMesh() (mesh.VertexSource, error)
	// Transform returns the chunk's current transform.
	Transform() spatialmath.Transform
	// SetTransform replaces the chunk's transform.
	SetTransform(tf spatialmath.Transform)
}

// RegionResetter is an optional Chunk capability. Hosts that maintain a view
// region around their models have it reset after the transform changes.
type RegionResetter interface {
	ResetRegion()
}

type basicChunk struct {
	models []mesh.VertexSource
	tf     spatialmath.Transform
}

// New returns an in-memory Chunk starting at tf and holding the given mesh
// models. The first model is the active one.
func New(tf spatialmath.Transform, models ...mesh.VertexSource) Chunk {
	return &basicChunk{models: models, tf: tf}
}

func (c *basicChunk) ActiveMesh() (mesh.VertexSource, error) {
	if len(c.models) == 0 {
		return nil, ErrNoMesh
	}
	return c.models[0], nil
}

func (c *basicChunk) Transform() spatialmath.Transform {
	return c.tf
}

func (c *basicChunk) SetTransform(tf spatialmath.Transform) {
	c.tf = tf
}
