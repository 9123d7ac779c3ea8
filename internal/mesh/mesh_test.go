package mesh

import (
	"errors"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

func unitSquare() *Mesh {
	return &Mesh{
		Vertices: []r3.Vec{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 1, Y: 1}, {X: 0, Y: 1}},
		Faces:    []Face{{0, 1, 2}, {0, 2, 3}},
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		mesh *Mesh
		want error
	}{
		{name: "nil mesh", mesh: nil, want: ErrNoVertices},
		{name: "no vertices", mesh: &Mesh{}, want: ErrNoVertices},
		{name: "no faces", mesh: &Mesh{Vertices: []r3.Vec{{X: 1}}}, want: ErrNoFaces},
		{
			name: "index out of range",
			mesh: &Mesh{Vertices: []r3.Vec{{}, {X: 1}, {Y: 1}}, Faces: []Face{{0, 1, 3}}},
			want: ErrFaceIndex,
		},
		{
			name: "single point repeated",
			mesh: &Mesh{Vertices: []r3.Vec{{X: 2}, {X: 2}, {X: 2}}, Faces: []Face{{0, 1, 2}}},
			want: ErrZeroExtent,
		},
		{
			name: "NaN vertex",
			mesh: &Mesh{Vertices: []r3.Vec{{X: math.NaN()}, {X: 1}, {Y: 1}}, Faces: []Face{{0, 1, 2}}},
			want: ErrNonFinite,
		},
		{
			name: "colour count mismatch",
			mesh: func() *Mesh {
				m := unitSquare()
				m.Colors = []color.RGBA{{R: 1, A: 255}}
				return m
			}(),
			want: ErrColorMismatch,
		},
		{name: "valid square", mesh: unitSquare()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.mesh.Validate()
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, tt.want), "got %v, want %v", err, tt.want)
		})
	}
}

func TestBoundsAndDiagonal(t *testing.T) {
	m := unitSquare()
	b := m.Bounds()
	assert.Equal(t, r3.Vec{}, b.Min)
	assert.Equal(t, r3.Vec{X: 1, Y: 1}, b.Max)
	assert.InDelta(t, math.Sqrt2, m.Diagonal(), 1e-12)

	c, r := m.BoundingSphere()
	assert.Equal(t, r3.Vec{X: 0.5, Y: 0.5}, c)
	assert.InDelta(t, math.Sqrt2/2, r, 1e-12)
}

func TestFaceNormalAndArea(t *testing.T) {
	m := unitSquare()
	n := m.FaceNormal(0)
	assert.InDelta(t, 1, n.Z, 1e-12)
	assert.InDelta(t, 0.5, m.FaceArea(0), 1e-12)

	degenerate := &Mesh{Vertices: []r3.Vec{{}, {X: 1}, {X: 2}}, Faces: []Face{{0, 1, 2}}}
	assert.Equal(t, r3.Vec{}, degenerate.FaceNormal(0))
}

func TestIcosphere(t *testing.T) {
	center := r3.Vec{X: 1, Y: -2, Z: 3}
	m := Icosphere(center, 2.5, 2)
	require.NoError(t, m.Validate())

	// 20 * 4^2 faces, 10*4^2+2 vertices
	assert.Len(t, m.Faces, 320)
	assert.Len(t, m.Vertices, 162)
	for i, v := range m.Vertices {
		if d := r3.Norm(r3.Sub(v, center)); math.Abs(d-2.5) > 1e-9 {
			t.Fatalf("vertex %d at distance %f from centre", i, d)
		}
	}
	// outward winding
	for i := range m.Faces {
		tri := m.Triangle(i)
		centroid := r3.Scale(1.0/3, r3.Add(r3.Add(tri[0], tri[1]), tri[2]))
		if r3.Dot(m.FaceNormal(i), r3.Sub(centroid, center)) <= 0 {
			t.Fatalf("face %d winds inwards", i)
		}
	}
}

func TestReadOBJ(t *testing.T) {
	src := `# quad with colours
v 0 0 0 1 0 0
v 1 0 0 0 1 0
v 1 1 0 0 0 1
v 0 1 0 1 1 1
vn 0 0 1
f 1//1 2//1 3//1 4//1
f -4 -2 -1
`
	m, err := ReadOBJ(strings.NewReader(src))
	require.NoError(t, err)
	assert.Len(t, m.Vertices, 4)
	require.Len(t, m.Faces, 3)
	assert.Equal(t, Face{0, 1, 2}, m.Faces[0])
	assert.Equal(t, Face{0, 2, 3}, m.Faces[1])
	assert.Equal(t, Face{0, 2, 3}, m.Faces[2])
	require.Len(t, m.Colors, 4)
	assert.Equal(t, uint8(255), m.Colors[0].R)
	assert.Equal(t, uint8(0), m.Colors[0].G)

	_, err = ReadOBJ(strings.NewReader("v 1 2\n"))
	assert.Error(t, err)
	_, err = ReadOBJ(strings.NewReader("v 0 0 0\nv 1 0 0\nv 0 1 0\nf 0 1 2\n"))
	assert.Error(t, err)
}

func TestReadVTK(t *testing.T) {
	src := `# vtk DataFile Version 3.0
square
ASCII
DATASET POLYDATA
POINTS 4 float
0 0 0 1 0 0
1 1 0 0 1 0
POLYGONS 1 5
4 0 1 2 3
POINT_DATA 4
COLOR_SCALARS rgb 3
1 0 0 0 1 0 0 0 1 1 1 1
`
	m, err := ReadVTK(strings.NewReader(src))
	require.NoError(t, err)
	assert.Len(t, m.Vertices, 4)
	assert.Equal(t, []Face{{0, 1, 2}, {0, 2, 3}}, m.Faces)
	require.Len(t, m.Colors, 4)
	assert.Equal(t, uint8(255), m.Colors[2].B)

	_, err = ReadVTK(strings.NewReader("# vtk DataFile Version 3.0\nx\nASCII\nDATASET STRUCTURED_POINTS\n"))
	assert.Error(t, err)
}

func TestTriangleStrip(t *testing.T) {
	faces := triangulate([]int{0, 1, 2, 3}, true)
	assert.Equal(t, []Face{{0, 1, 2}, {2, 1, 3}}, faces)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()

	stlPath := filepath.Join(dir, "tri.stl")
	stlSrc := `solid tri
facet normal 0 0 1
 outer loop
  vertex 0 0 0
  vertex 1 0 0
  vertex 0 1 0
 endloop
endfacet
facet normal 0 0 1
 outer loop
  vertex 1 0 0
  vertex 1 1 0
  vertex 0 1 0
 endloop
endfacet
endsolid tri
`
	require.NoError(t, os.WriteFile(stlPath, []byte(stlSrc), 0644))
	m, err := Load(stlPath)
	require.NoError(t, err)
	assert.Len(t, m.Faces, 2)
	assert.Len(t, m.Vertices, 4, "shared corners should be welded")
	assert.Equal(t, "tri.stl", m.Name)

	objPath := filepath.Join(dir, "empty.obj")
	require.NoError(t, os.WriteFile(objPath, []byte("# nothing\n"), 0644))
	_, err = Load(objPath)
	assert.ErrorIs(t, err, ErrNoVertices)

	_, err = Load(filepath.Join(dir, "mesh.ply"))
	assert.Error(t, err)

	assert.True(t, SupportedExtension("a/B.OBJ"))
	assert.False(t, SupportedExtension("a/b.ply"))
}
