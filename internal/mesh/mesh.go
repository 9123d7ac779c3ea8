package mesh

import (
	"errors"
	"fmt"
	"image/color"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Validation errors.
var (
	ErrNoVertices    = errors.New("mesh has no vertices")
	ErrNoFaces       = errors.New("mesh has no faces")
	ErrZeroExtent    = errors.New("mesh has zero spatial extent")
	ErrFaceIndex     = errors.New("face references a missing vertex")
	ErrNonFinite     = errors.New("mesh has a non-finite vertex coordinate")
	ErrColorMismatch = errors.New("vertex colour count does not match vertex count")
)

// Face is a triangle given as three vertex indices.
type Face [3]int

// Mesh is an indexed triangle surface.
type Mesh struct {
	Vertices []r3.Vec
	Faces    []Face
	// Colors holds optional per-vertex colours; nil means untextured.
	Colors []color.RGBA
	// Name is the source the mesh was loaded from, used in logs and reports.
	Name string
}

// Validate checks that the mesh can be rendered and projected onto.
func (m *Mesh) Validate() error {
	if m == nil || len(m.Vertices) == 0 {
		return ErrNoVertices
	}
	if len(m.Faces) == 0 {
		return ErrNoFaces
	}
	if m.Colors != nil && len(m.Colors) != len(m.Vertices) {
		return fmt.Errorf("%w: %d colours for %d vertices", ErrColorMismatch, len(m.Colors), len(m.Vertices))
	}
	for i, v := range m.Vertices {
		if !finite(v) {
			return fmt.Errorf("%w: vertex %d", ErrNonFinite, i)
		}
	}
	n := len(m.Vertices)
	for i, f := range m.Faces {
		for _, idx := range f {
			if idx < 0 || idx >= n {
				return fmt.Errorf("%w: face %d index %d (vertices=%d)", ErrFaceIndex, i, idx, n)
			}
		}
	}
	if m.Diagonal() == 0 {
		return ErrZeroExtent
	}
	return nil
}

func finite(v r3.Vec) bool {
	return !math.IsNaN(v.X) && !math.IsNaN(v.Y) && !math.IsNaN(v.Z) &&
		!math.IsInf(v.X, 0) && !math.IsInf(v.Y, 0) && !math.IsInf(v.Z, 0)
}

// Bounds returns the axis-aligned bounding box of the vertices.
func (m *Mesh) Bounds() r3.Box {
	if len(m.Vertices) == 0 {
		return r3.Box{}
	}
	b := r3.Box{Min: m.Vertices[0], Max: m.Vertices[0]}
	for _, v := range m.Vertices[1:] {
		b = ExtendBox(b, v)
	}
	return b
}

// ExtendBox grows b to contain p.
func ExtendBox(b r3.Box, p r3.Vec) r3.Box {
	b.Min = r3.Vec{X: math.Min(b.Min.X, p.X), Y: math.Min(b.Min.Y, p.Y), Z: math.Min(b.Min.Z, p.Z)}
	b.Max = r3.Vec{X: math.Max(b.Max.X, p.X), Y: math.Max(b.Max.Y, p.Y), Z: math.Max(b.Max.Z, p.Z)}
	return b
}

// Diagonal returns the length of the bounding-box diagonal. Distance
// thresholds that are configured relative to mesh size scale by it.
func (m *Mesh) Diagonal() float64 {
	b := m.Bounds()
	return r3.Norm(r3.Sub(b.Max, b.Min))
}

// BoundingSphere returns the bounding-box centre and the radius of the
// smallest sphere around that centre containing every vertex.
func (m *Mesh) BoundingSphere() (center r3.Vec, radius float64) {
	b := m.Bounds()
	center = r3.Scale(0.5, r3.Add(b.Min, b.Max))
	for _, v := range m.Vertices {
		if d := r3.Norm(r3.Sub(v, center)); d > radius {
			radius = d
		}
	}
	return center, radius
}

// Triangle returns the corner positions of face i.
func (m *Mesh) Triangle(i int) r3.Triangle {
	f := m.Faces[i]
	return r3.Triangle{m.Vertices[f[0]], m.Vertices[f[1]], m.Vertices[f[2]]}
}

// FaceNormal returns the unit normal of face i following the right-hand rule,
// or the zero vector for a degenerate face.
func (m *Mesh) FaceNormal(i int) r3.Vec {
	t := m.Triangle(i)
	n := r3.Cross(r3.Sub(t[1], t[0]), r3.Sub(t[2], t[0]))
	l := r3.Norm(n)
	if l == 0 {
		return r3.Vec{}
	}
	return r3.Scale(1/l, n)
}

// FaceArea returns the area of face i.
func (m *Mesh) FaceArea(i int) float64 {
	t := m.Triangle(i)
	return 0.5 * r3.Norm(r3.Cross(r3.Sub(t[1], t[0]), r3.Sub(t[2], t[0])))
}

// VertexColor returns the colour of vertex i, white when the mesh is untextured.
func (m *Mesh) VertexColor(i int) color.RGBA {
	if m.Colors == nil {
		return color.RGBA{R: 255, G: 255, B: 255, A: 255}
	}
	return m.Colors[i]
}

// String summarises the mesh for logs.
func (m *Mesh) String() string {
	return fmt.Sprintf("mesh %q: %d vertices, %d faces, diagonal %.4g", m.Name, len(m.Vertices), len(m.Faces), m.Diagonal())
}
