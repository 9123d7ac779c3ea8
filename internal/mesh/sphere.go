package mesh

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Icosphere returns a sphere of the given radius and centre built by
// subdividing an icosahedron. Every vertex lies on the sphere and the first
// twelve vertices are the icosahedron corners, which tests use as known
// on-surface points.
func Icosphere(center r3.Vec, radius float64, subdivisions int) *Mesh {
	t := (1 + math.Sqrt(5)) / 2
	verts := []r3.Vec{
		{X: -1, Y: t}, {X: 1, Y: t}, {X: -1, Y: -t}, {X: 1, Y: -t},
		{Y: -1, Z: t}, {Y: 1, Z: t}, {Y: -1, Z: -t}, {Y: 1, Z: -t},
		{X: t, Z: -1}, {X: t, Z: 1}, {X: -t, Z: -1}, {X: -t, Z: 1},
	}
	faces := []Face{
		{0, 11, 5}, {0, 5, 1}, {0, 1, 7}, {0, 7, 10}, {0, 10, 11},
		{1, 5, 9}, {5, 11, 4}, {11, 10, 2}, {10, 7, 6}, {7, 1, 8},
		{3, 9, 4}, {3, 4, 2}, {3, 2, 6}, {3, 6, 8}, {3, 8, 9},
		{4, 9, 5}, {2, 4, 11}, {6, 2, 10}, {8, 6, 7}, {9, 8, 1},
	}
	for i := range verts {
		verts[i] = r3.Unit(verts[i])
	}

	for s := 0; s < subdivisions; s++ {
		midpoints := make(map[[2]int]int)
		mid := func(a, b int) int {
			key := [2]int{a, b}
			if a > b {
				key = [2]int{b, a}
			}
			if idx, ok := midpoints[key]; ok {
				return idx
			}
			verts = append(verts, r3.Unit(r3.Add(verts[a], verts[b])))
			midpoints[key] = len(verts) - 1
			return len(verts) - 1
		}
		next := make([]Face, 0, len(faces)*4)
		for _, f := range faces {
			ab := mid(f[0], f[1])
			bc := mid(f[1], f[2])
			ca := mid(f[2], f[0])
			next = append(next,
				Face{f[0], ab, ca},
				Face{f[1], bc, ab},
				Face{f[2], ca, bc},
				Face{ab, bc, ca},
			)
		}
		faces = next
	}

	out := make([]r3.Vec, len(verts))
	for i, v := range verts {
		out[i] = r3.Add(center, r3.Scale(radius, v))
	}
	return &Mesh{Vertices: out, Faces: faces, Name: "icosphere"}
}
