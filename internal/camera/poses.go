package camera

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Layout selects how view directions are spread around the object.
type Layout int

const (
	// LayoutSphere covers the whole object evenly.
	LayoutSphere Layout = iota
	// LayoutFace covers a frontal cone around +Z, the orientation of the
	// face scans the detectors were trained on.
	LayoutFace
)

func (l Layout) String() string {
	switch l {
	case LayoutSphere:
		return "sphere"
	case LayoutFace:
		return "face"
	}
	return fmt.Sprintf("Layout(%d)", int(l))
}

// ParseLayout maps a configuration value onto a Layout.
func ParseLayout(s string) (Layout, error) {
	switch s {
	case "sphere":
		return LayoutSphere, nil
	case "face":
		return LayoutFace, nil
	}
	return 0, fmt.Errorf("unknown view layout %q", s)
}

var goldenAngle = math.Pi * (3 - math.Sqrt(5))

// Directions returns n unit vectors from the object centre towards the
// cameras. The Fibonacci lattice makes the set deterministic and roughly
// uniform; for LayoutFace it is restricted to the cap within coneDeg of +Z.
func Directions(layout Layout, n int, coneDeg float64) []r3.Vec {
	if n <= 0 {
		return nil
	}
	zMin := -1.0
	if layout == LayoutFace {
		zMin = math.Cos(coneDeg * math.Pi / 180)
	}
	out := make([]r3.Vec, n)
	for i := range out {
		// z is uniform in [zMin, 1], which is uniform in area on the cap
		z := 1 - (1-zMin)*(float64(i)+0.5)/float64(n)
		r := math.Sqrt(math.Max(0, 1-z*z))
		phi := float64(i) * goldenAngle
		out[i] = r3.Vec{X: r * math.Cos(phi), Y: r * math.Sin(phi), Z: z}
	}
	return out
}

// upFor picks a world up vector that is not parallel to dir.
func upFor(dir r3.Vec) r3.Vec {
	up := r3.Vec{Y: 1}
	if math.Abs(r3.Dot(r3.Unit(dir), up)) > 0.99 {
		up = r3.Vec{Z: 1}
	}
	return up
}

// Rig frames a bounding sphere for a lens.
type Rig struct {
	Lens   Lens
	Center r3.Vec
	Radius float64
	// Margin scales the framed radius so silhouettes do not touch the border.
	Margin float64
}

// Distance returns how far from the centre the eye sits so that the framed
// sphere fills the field of view.
func (r Rig) Distance() float64 {
	framed := r.Radius * r.margin()
	if r.Lens.Projection == Orthographic {
		return 3 * framed
	}
	half := r.Lens.FieldOfViewDeg * math.Pi / 360
	if r.Lens.Width < r.Lens.Height {
		// narrow images are limited by the horizontal field of view
		half = math.Atan(math.Tan(half) * float64(r.Lens.Width) / float64(r.Lens.Height))
	}
	return framed / math.Sin(half)
}

func (r Rig) margin() float64 {
	if r.Margin <= 0 {
		return 1.1
	}
	return r.Margin
}

// Views builds one ViewTransform per direction. Near and far planes hug the
// bounding sphere to keep depth precision.
func (r Rig) Views(dirs []r3.Vec) ([]*ViewTransform, error) {
	if r.Radius <= 0 {
		return nil, fmt.Errorf("rig radius must be positive, got %g", r.Radius)
	}
	if r.Lens.Width <= 0 || r.Lens.Height <= 0 {
		return nil, fmt.Errorf("lens size must be positive, got %dx%d", r.Lens.Width, r.Lens.Height)
	}
	dist := r.Distance()
	framed := r.Radius * r.margin()
	near := math.Max(dist-framed, dist*1e-3)
	far := dist + framed

	views := make([]*ViewTransform, 0, len(dirs))
	for i, d := range dirs {
		if r3.Norm(d) == 0 {
			return nil, fmt.Errorf("view %d: zero direction", i)
		}
		u := r3.Unit(d)
		pose := Pose{
			Eye:    r3.Add(r.Center, r3.Scale(dist, u)),
			Target: r.Center,
			Up:     upFor(u),
		}
		views = append(views, NewViewTransform(i, pose, r.Lens, near, far, framed))
	}
	return views, nil
}
