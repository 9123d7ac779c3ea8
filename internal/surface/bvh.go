package surface

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/r3"
)

const leafSize = 4

// node is a bounding volume over faces[start:end] of the tree's face order.
// Leaves have no children.
type node struct {
	box         r3.Box
	start, end  int
	left, right int // child node indices, -1 for leaves
}

// bvh is an axis-aligned bounding volume hierarchy over triangles, built by
// splitting at the median face centroid along the longest box axis.
type bvh struct {
	tris  []r3.Triangle
	order []int // face indices in tree order
	nodes []node
}

func newBVH(tris []r3.Triangle, faces []int) *bvh {
	t := &bvh{tris: tris, order: append([]int(nil), faces...)}
	if len(faces) > 0 {
		t.build(0, len(faces))
	}
	return t
}

func (t *bvh) build(start, end int) int {
	idx := len(t.nodes)
	t.nodes = append(t.nodes, node{box: t.bounds(start, end), start: start, end: end, left: -1, right: -1})
	if end-start <= leafSize {
		return idx
	}

	axis := longestAxis(t.nodes[idx].box)
	faces := t.order[start:end]
	sort.SliceStable(faces, func(i, j int) bool {
		return centroidOn(t.tris[faces[i]], axis) < centroidOn(t.tris[faces[j]], axis)
	})
	mid := start + (end-start)/2
	left := t.build(start, mid)
	right := t.build(mid, end)
	t.nodes[idx].left, t.nodes[idx].right = left, right
	return idx
}

func (t *bvh) bounds(start, end int) r3.Box {
	inf := math.Inf(1)
	b := r3.Box{Min: r3.Vec{X: inf, Y: inf, Z: inf}, Max: r3.Vec{X: -inf, Y: -inf, Z: -inf}}
	for _, f := range t.order[start:end] {
		for _, p := range t.tris[f] {
			b.Min = r3.Vec{X: math.Min(b.Min.X, p.X), Y: math.Min(b.Min.Y, p.Y), Z: math.Min(b.Min.Z, p.Z)}
			b.Max = r3.Vec{X: math.Max(b.Max.X, p.X), Y: math.Max(b.Max.Y, p.Y), Z: math.Max(b.Max.Z, p.Z)}
		}
	}
	return b
}

func longestAxis(b r3.Box) int {
	s := r3.Sub(b.Max, b.Min)
	switch {
	case s.X >= s.Y && s.X >= s.Z:
		return 0
	case s.Y >= s.Z:
		return 1
	}
	return 2
}

func component(v r3.Vec, axis int) float64 {
	switch axis {
	case 0:
		return v.X
	case 1:
		return v.Y
	}
	return v.Z
}

func centroidOn(tri r3.Triangle, axis int) float64 {
	return (component(tri[0], axis) + component(tri[1], axis) + component(tri[2], axis)) / 3
}

// boxDist2 is the squared distance from p to the box, zero inside.
func boxDist2(b r3.Box, p r3.Vec) float64 {
	d := func(v, lo, hi float64) float64 {
		switch {
		case v < lo:
			return lo - v
		case v > hi:
			return v - hi
		}
		return 0
	}
	dx, dy, dz := d(p.X, b.Min.X, b.Max.X), d(p.Y, b.Min.Y, b.Max.Y), d(p.Z, b.Min.Z, b.Max.Z)
	return dx*dx + dy*dy + dz*dz
}

// hit is the best candidate found so far during a nearest query.
type hit struct {
	point r3.Vec
	face  int
	dist2 float64
}

// better orders candidates by distance, then by face index so equidistant
// faces resolve the same way on every query.
func (h hit) better(o hit) bool {
	return h.dist2 < o.dist2 || (h.dist2 == o.dist2 && h.face < o.face)
}

// nearest descends the nearer child first and prunes boxes that cannot beat
// the current best.
func (t *bvh) nearest(p r3.Vec) hit {
	best := hit{face: -1, dist2: math.Inf(1)}
	if len(t.nodes) == 0 {
		return best
	}
	var visit func(i int)
	visit = func(i int) {
		n := &t.nodes[i]
		if boxDist2(n.box, p) > best.dist2 {
			return
		}
		if n.left < 0 {
			for _, f := range t.order[n.start:n.end] {
				q := closestOnTriangle(p, t.tris[f])
				h := hit{point: q, face: f, dist2: r3.Norm2(r3.Sub(p, q))}
				if h.better(best) {
					best = h
				}
			}
			return
		}
		l, r := n.left, n.right
		if boxDist2(t.nodes[r].box, p) < boxDist2(t.nodes[l].box, p) {
			l, r = r, l
		}
		visit(l)
		visit(r)
	}
	visit(0)
	return best
}

// closestOnTriangle returns the point of tri nearest p using the Voronoi
// region tests from Ericson, Real-Time Collision Detection, 5.1.5.
func closestOnTriangle(p r3.Vec, tri r3.Triangle) r3.Vec {
	a, b, c := tri[0], tri[1], tri[2]
	ab, ac, ap := r3.Sub(b, a), r3.Sub(c, a), r3.Sub(p, a)
	d1, d2 := r3.Dot(ab, ap), r3.Dot(ac, ap)
	if d1 <= 0 && d2 <= 0 {
		return a
	}

	bp := r3.Sub(p, b)
	d3, d4 := r3.Dot(ab, bp), r3.Dot(ac, bp)
	if d3 >= 0 && d4 <= d3 {
		return b
	}

	vc := d1*d4 - d3*d2
	if vc <= 0 && d1 >= 0 && d3 <= 0 {
		return r3.Add(a, r3.Scale(d1/(d1-d3), ab))
	}

	cp := r3.Sub(p, c)
	d5, d6 := r3.Dot(ab, cp), r3.Dot(ac, cp)
	if d6 >= 0 && d5 <= d6 {
		return c
	}

	vb := d5*d2 - d1*d6
	if vb <= 0 && d2 >= 0 && d6 <= 0 {
		return r3.Add(a, r3.Scale(d2/(d2-d6), ac))
	}

	va := d3*d6 - d5*d4
	if va <= 0 && (d4-d3) >= 0 && (d5-d6) >= 0 {
		return r3.Add(b, r3.Scale((d4-d3)/((d4-d3)+(d5-d6)), r3.Sub(c, b)))
	}

	denom := 1 / (va + vb + vc)
	v, w := vb*denom, vc*denom
	return r3.Add(a, r3.Add(r3.Scale(v, ab), r3.Scale(w, ac)))
}
