// Package camera places virtual cameras around a mesh and provides the
// per-view transform used to move between world space and rendered pixels.
//
// Pixel coordinates are continuous with the origin at the top-left corner of
// the image; pixel (i, j) covers [i, i+1) x [j, j+1) and is sampled at its
// centre. Depth values are OpenGL window depths in [0, 1] where 1 marks the
// far plane and is used for background pixels.
package camera

import (
	"errors"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"gonum.org/v1/gonum/spatial/r3"
)

// Projection selects the rendering model.
type Projection int

const (
	Perspective Projection = iota
	Orthographic
)

func (p Projection) String() string {
	switch p {
	case Perspective:
		return "perspective"
	case Orthographic:
		return "orthographic"
	}
	return fmt.Sprintf("Projection(%d)", int(p))
}

// ParseProjection maps a configuration value onto a Projection.
func ParseProjection(s string) (Projection, error) {
	switch s {
	case "perspective":
		return Perspective, nil
	case "orthographic":
		return Orthographic, nil
	}
	return 0, fmt.Errorf("unknown projection %q", s)
}

// Background is the window depth stored for pixels that do not cover the mesh.
const Background = 1.0

// ErrOutsideImage is returned when a pixel lies outside the viewport.
var ErrOutsideImage = errors.New("pixel outside image")

// Pose is a camera position looking at a target.
type Pose struct {
	Eye, Target, Up r3.Vec
}

// Lens describes the image the camera produces.
type Lens struct {
	Projection     Projection
	FieldOfViewDeg float64 // vertical, perspective only
	Width, Height  int
}

// ViewTransform holds everything needed to map between world space and the
// pixels of one rendered view. It is immutable once the renderer returns it.
type ViewTransform struct {
	Index      int
	Pose       Pose
	Projection Projection
	Width      int
	Height     int
	Near, Far  float64

	ModelView mgl64.Mat4
	Proj      mgl64.Mat4

	// Depth holds one window depth per pixel, row-major, top row first.
	// It is nil until the view has been rendered.
	Depth []float64
}

func toMGL(v r3.Vec) mgl64.Vec3   { return mgl64.Vec3{v.X, v.Y, v.Z} }
func fromMGL(v mgl64.Vec3) r3.Vec { return r3.Vec{X: v[0], Y: v[1], Z: v[2]} }

// NewViewTransform builds the matrices for a pose. For orthographic lenses
// halfExtent is the half-height of the visible window in world units; it is
// ignored for perspective lenses.
func NewViewTransform(index int, pose Pose, lens Lens, near, far, halfExtent float64) *ViewTransform {
	aspect := float64(lens.Width) / float64(lens.Height)
	var proj mgl64.Mat4
	switch lens.Projection {
	case Orthographic:
		proj = mgl64.Ortho(-halfExtent*aspect, halfExtent*aspect, -halfExtent, halfExtent, near, far)
	default:
		proj = mgl64.Perspective(mgl64.DegToRad(lens.FieldOfViewDeg), aspect, near, far)
	}
	return &ViewTransform{
		Index:      index,
		Pose:       pose,
		Projection: lens.Projection,
		Width:      lens.Width,
		Height:     lens.Height,
		Near:       near,
		Far:        far,
		ModelView:  mgl64.LookAtV(toMGL(pose.Eye), toMGL(pose.Target), toMGL(pose.Up)),
		Proj:       proj,
	}
}

// Forward returns the unit viewing direction.
func (v *ViewTransform) Forward() r3.Vec {
	return r3.Unit(r3.Sub(v.Pose.Target, v.Pose.Eye))
}

// Clip returns the homogeneous clip-space coordinates of p.
func (v *ViewTransform) Clip(p r3.Vec) mgl64.Vec4 {
	return v.Proj.Mul4(v.ModelView).Mul4x1(mgl64.Vec4{p.X, p.Y, p.Z, 1})
}

// Project maps a world point to continuous pixel coordinates and window
// depth. ok is false when the point is behind the camera or outside the
// near/far range; the pixel may still lie outside the image.
func (v *ViewTransform) Project(p r3.Vec) (x, y, depth float64, ok bool) {
	if c := v.Clip(p); c.W() <= 0 {
		return 0, 0, 0, false
	}
	win := mgl64.Project(toMGL(p), v.ModelView, v.Proj, 0, 0, v.Width, v.Height)
	x, y, depth = win[0], float64(v.Height)-win[1], win[2]
	return x, y, depth, depth >= 0 && depth <= 1
}

// InImage reports whether continuous pixel coordinates fall inside the image.
func (v *ViewTransform) InImage(x, y float64) bool {
	return x >= 0 && y >= 0 && x < float64(v.Width) && y < float64(v.Height)
}

// Unproject maps pixel coordinates and a window depth back to world space.
func (v *ViewTransform) Unproject(x, y, depth float64) (r3.Vec, error) {
	win := mgl64.Vec3{x, float64(v.Height) - y, depth}
	obj, err := mgl64.UnProject(win, v.ModelView, v.Proj, 0, 0, v.Width, v.Height)
	if err != nil {
		return r3.Vec{}, fmt.Errorf("view %d: unproject (%.2f, %.2f): %w", v.Index, x, y, err)
	}
	return fromMGL(obj), nil
}

// Ray returns the world-space line through a pixel: its point on the near
// plane and the unit direction towards the far plane. Orthographic rays are
// parallel to the viewing direction.
func (v *ViewTransform) Ray(x, y float64) (origin, dir r3.Vec, err error) {
	near, err := v.Unproject(x, y, 0)
	if err != nil {
		return r3.Vec{}, r3.Vec{}, err
	}
	far, err := v.Unproject(x, y, 1)
	if err != nil {
		return r3.Vec{}, r3.Vec{}, err
	}
	d := r3.Sub(far, near)
	if r3.Norm(d) == 0 {
		return r3.Vec{}, r3.Vec{}, fmt.Errorf("view %d: degenerate ray at (%.2f, %.2f)", v.Index, x, y)
	}
	return near, r3.Unit(d), nil
}

// DepthAt returns the recorded window depth of the pixel containing (x, y).
// ok is false outside the image, before rendering, or on background pixels.
func (v *ViewTransform) DepthAt(x, y float64) (depth float64, ok bool) {
	if v.Depth == nil || !v.InImage(x, y) {
		return Background, false
	}
	d := v.Depth[int(math.Floor(y))*v.Width+int(math.Floor(x))]
	return d, d < Background
}

// SurfacePoint unprojects the pixel containing (x, y) at its recorded depth,
// sampling the pixel at the given continuous position.
func (v *ViewTransform) SurfacePoint(x, y float64) (r3.Vec, bool, error) {
	d, ok := v.DepthAt(x, y)
	if !ok {
		return r3.Vec{}, false, nil
	}
	p, err := v.Unproject(x, y, d)
	if err != nil {
		return r3.Vec{}, false, err
	}
	return p, true, nil
}
