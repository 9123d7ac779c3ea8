// Package surface snaps points onto a triangle mesh.
package surface

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/mvlm/internal/mesh"
)

// ErrProjection is the error kind for meshes that cannot be projected onto.
var ErrProjection = errors.New("surface projection failed")

// ErrNoSurface is returned when a mesh has no face with non-zero area.
var ErrNoSurface = errors.New("mesh has no non-degenerate faces")

// ProjectionFailure reports why a Projector could not be built.
type ProjectionFailure struct {
	Mesh string
	Err  error
}

func (e *ProjectionFailure) Error() string {
	return fmt.Sprintf("project onto %s: %v", e.Mesh, e.Err)
}

// Unwrap exposes both ErrProjection and the cause to errors.Is.
func (e *ProjectionFailure) Unwrap() []error { return []error{ErrProjection, e.Err} }

// Projection is the nearest surface point to a query.
type Projection struct {
	Point    r3.Vec
	Face     int
	Distance float64
}

// Projector answers nearest-point queries against one mesh. It is read-only
// after construction and safe for concurrent use.
type Projector struct {
	tree     *bvh
	diagonal float64
	faces    int
}

// NewProjector indexes the non-degenerate faces of m.
func NewProjector(m *mesh.Mesh) (*Projector, error) {
	name := "<nil>"
	if m != nil {
		name = m.Name
	}
	if err := m.Validate(); err != nil {
		return nil, &ProjectionFailure{Mesh: name, Err: err}
	}

	tris := make([]r3.Triangle, len(m.Faces))
	var keep []int
	for i := range m.Faces {
		tris[i] = m.Triangle(i)
		if m.FaceArea(i) > 0 {
			keep = append(keep, i)
		}
	}
	if len(keep) == 0 {
		return nil, &ProjectionFailure{Mesh: name, Err: ErrNoSurface}
	}
	return &Projector{tree: newBVH(tris, keep), diagonal: m.Diagonal(), faces: len(keep)}, nil
}

// Diagonal returns the bounding box diagonal of the indexed mesh.
func (p *Projector) Diagonal() float64 { return p.diagonal }

// Faces returns the number of indexed faces.
func (p *Projector) Faces() int { return p.faces }

// Project returns the surface point nearest q. Points far from the mesh
// still get their nearest point; callers judge the Distance. A non-finite
// query yields Face -1 and a NaN point.
func (p *Projector) Project(q r3.Vec) Projection {
	if math.IsNaN(q.X+q.Y+q.Z) || math.IsInf(q.X+q.Y+q.Z, 0) {
		nan := math.NaN()
		return Projection{Point: r3.Vec{X: nan, Y: nan, Z: nan}, Face: -1, Distance: nan}
	}
	h := p.tree.nearest(q)
	return Projection{Point: h.point, Face: h.face, Distance: math.Sqrt(h.dist2)}
}
