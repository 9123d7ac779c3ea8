// Package render rasterises a mesh from a set of virtual cameras.
//
// Each view produces an Image for the landmark detector and fills the depth
// buffer of its camera.ViewTransform so detections can later be lifted back
// into world space. Rendering is a plain z-buffer rasteriser sampling pixel
// centres; views are independent and rendered concurrently.
package render

import (
	"context"
	"errors"
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/mvlm/internal/camera"
	"github.com/banshee-data/mvlm/internal/mesh"
	"github.com/banshee-data/mvlm/internal/monitoring"
)

// ErrRender is the error kind for every rendering failure.
var ErrRender = errors.New("render failed")

// ErrBlankView marks a view in which no pixel covers the mesh.
var ErrBlankView = errors.New("view does not show the mesh")

// RenderError reports a rendering failure for a mesh, optionally for one view.
type RenderError struct {
	Mesh string
	View int // -1 when the failure is not specific to a view
	Err  error
}

func (e *RenderError) Error() string {
	if e.View < 0 {
		return fmt.Sprintf("render %s: %v", e.Mesh, e.Err)
	}
	return fmt.Sprintf("render %s view %d: %v", e.Mesh, e.View, e.Err)
}

// Unwrap exposes both ErrRender and the underlying cause to errors.Is.
func (e *RenderError) Unwrap() []error { return []error{ErrRender, e.Err} }

// Options configures a Renderer.
type Options struct {
	Mode ChannelMode
	Lens camera.Lens

	// Camera placement: explicit Directions win over Layout/Views/ConeDeg.
	Layout     camera.Layout
	Views      int
	ConeDeg    float64
	Directions []r3.Vec

	// Workers bounds the number of views rendered at once.
	Workers int
}

// DefaultOptions returns the production defaults: 100 face-layout views of
// 256x256 geometry images.
func DefaultOptions() Options {
	return Options{
		Mode:    Geometry,
		Lens:    camera.Lens{Projection: camera.Perspective, FieldOfViewDeg: 30, Width: 256, Height: 256},
		Layout:  camera.LayoutFace,
		Views:   100,
		ConeDeg: 75,
		Workers: 4,
	}
}

// Renderer produces the multi-view images and transforms for a mesh.
type Renderer struct {
	opts Options
	logf func(format string, v ...interface{})
}

// New validates the options and returns a Renderer.
func New(opts Options) (*Renderer, error) {
	if opts.Lens.Width <= 0 || opts.Lens.Height <= 0 {
		return nil, fmt.Errorf("image size must be positive, got %dx%d", opts.Lens.Width, opts.Lens.Height)
	}
	if len(opts.Directions) == 0 && opts.Views <= 0 {
		return nil, fmt.Errorf("view count must be positive, got %d", opts.Views)
	}
	if opts.Lens.Projection == camera.Perspective && (opts.Lens.FieldOfViewDeg <= 0 || opts.Lens.FieldOfViewDeg >= 180) {
		return nil, fmt.Errorf("field of view must be in (0, 180), got %g", opts.Lens.FieldOfViewDeg)
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	return &Renderer{opts: opts, logf: monitoring.Stage("render")}, nil
}

// Options returns the renderer configuration.
func (r *Renderer) Options() Options { return r.opts }

// Render rasterises m from every configured camera. The i-th image belongs
// to the i-th transform. A degenerate mesh or any blank view is a
// *RenderError.
func (r *Renderer) Render(ctx context.Context, m *mesh.Mesh) ([]*Image, []*camera.ViewTransform, error) {
	name := "<nil>"
	if m != nil {
		name = m.Name
	}
	if err := m.Validate(); err != nil {
		return nil, nil, &RenderError{Mesh: name, View: -1, Err: err}
	}

	center, radius := m.BoundingSphere()
	rig := camera.Rig{Lens: r.opts.Lens, Center: center, Radius: radius}
	dirs := r.opts.Directions
	if len(dirs) == 0 {
		dirs = camera.Directions(r.opts.Layout, r.opts.Views, r.opts.ConeDeg)
	}
	views, err := rig.Views(dirs)
	if err != nil {
		return nil, nil, &RenderError{Mesh: name, View: -1, Err: err}
	}

	normals := make([]r3.Vec, len(m.Faces))
	for i := range m.Faces {
		normals[i] = m.FaceNormal(i)
	}

	images := make([]*Image, len(views))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Workers)
	for i, v := range views {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			img := rasterize(m, normals, v, r.opts.Mode)
			if img.Coverage == 0 {
				return &RenderError{Mesh: name, View: i, Err: ErrBlankView}
			}
			images[i] = img
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	r.logf("%s: %d %s views at %dx%d (%s)", name, len(views), r.opts.Mode, r.opts.Lens.Width, r.opts.Lens.Height, r.opts.Lens.Projection)
	return images, views, nil
}

// screenVertex is a vertex in pixel space: x right, y down, z window depth.
type screenVertex struct {
	x, y, z float64
	visible bool
}

func toScreen(v *camera.ViewTransform, p r3.Vec) screenVertex {
	c := v.Clip(p)
	if c.W() <= 0 {
		return screenVertex{}
	}
	nx, ny, nz := c[0]/c.W(), c[1]/c.W(), c[2]/c.W()
	return screenVertex{
		x:       float64(v.Width) * (nx + 1) / 2,
		y:       float64(v.Height) - float64(v.Height)*(ny+1)/2,
		z:       (nz + 1) / 2,
		visible: true,
	}
}

// rasterize draws one view and stores its depth buffer on v.
func rasterize(m *mesh.Mesh, normals []r3.Vec, v *camera.ViewTransform, mode ChannelMode) *Image {
	w, h := v.Width, v.Height
	depth := make([]float64, w*h)
	for i := range depth {
		depth[i] = camera.Background
	}
	faceAt := make([]int32, w*h)
	bary := make([][3]float64, w*h)
	for i := range faceAt {
		faceAt[i] = -1
	}

	screen := make([]screenVertex, len(m.Vertices))
	for i, p := range m.Vertices {
		screen[i] = toScreen(v, p)
	}

	for fi, f := range m.Faces {
		a, b, c := screen[f[0]], screen[f[1]], screen[f[2]]
		if !a.visible || !b.visible || !c.visible {
			continue
		}
		area := edge(a.x, a.y, b.x, b.y, c.x, c.y)
		if area == 0 {
			continue
		}
		minX := clampInt(int(math.Floor(math.Min(a.x, math.Min(b.x, c.x)))), 0, w-1)
		maxX := clampInt(int(math.Ceil(math.Max(a.x, math.Max(b.x, c.x)))), 0, w-1)
		minY := clampInt(int(math.Floor(math.Min(a.y, math.Min(b.y, c.y)))), 0, h-1)
		maxY := clampInt(int(math.Ceil(math.Max(a.y, math.Max(b.y, c.y)))), 0, h-1)

		for py := minY; py <= maxY; py++ {
			sy := float64(py) + 0.5
			for px := minX; px <= maxX; px++ {
				sx := float64(px) + 0.5
				w0 := edge(b.x, b.y, c.x, c.y, sx, sy) / area
				w1 := edge(c.x, c.y, a.x, a.y, sx, sy) / area
				w2 := 1 - w0 - w1
				if w0 < 0 || w1 < 0 || w2 < 0 {
					continue
				}
				// window depth is affine in screen space, so this is exact
				z := w0*a.z + w1*b.z + w2*c.z
				idx := py*w + px
				if z < 0 || z >= depth[idx] {
					continue
				}
				depth[idx] = z
				faceAt[idx] = int32(fi)
				bary[idx] = [3]float64{w0, w1, w2}
			}
		}
	}

	v.Depth = depth
	return shade(m, normals, v, mode, faceAt, bary)
}

func edge(ax, ay, bx, by, px, py float64) float64 {
	return (bx-ax)*(py-ay) - (by-ay)*(px-ax)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

const ambient = 0.2

// shade fills the image channels from the rasterised face and depth buffers.
// Lighting is a two-sided headlight so meshes with mixed winding still render.
func shade(m *mesh.Mesh, normals []r3.Vec, v *camera.ViewTransform, mode ChannelMode, faceAt []int32, bary [][3]float64) *Image {
	img := NewImage(v.Width, v.Height, mode)
	img.View = v
	forward := v.Forward()

	zMin, zMax := math.Inf(1), math.Inf(-1)
	for i, f := range faceAt {
		if f < 0 {
			continue
		}
		img.Coverage++
		zMin = math.Min(zMin, v.Depth[i])
		zMax = math.Max(zMax, v.Depth[i])
	}
	zSpan := zMax - zMin

	for i, f := range faceAt {
		if f < 0 {
			continue
		}
		x, y := i%v.Width, i/v.Width
		light := float32(ambient + (1-ambient)*math.Abs(r3.Dot(normals[f], forward)))

		// near surfaces bright, the farthest covered pixel just above background
		near := float32(1)
		if zSpan > 0 {
			near = float32(1 - 0.9*(v.Depth[i]-zMin)/zSpan)
		}

		switch mode {
		case Geometry:
			img.Set(x, y, 0, light)
		case Depth:
			img.Set(x, y, 0, near)
		case RGB, RGBDepth:
			face := m.Faces[f]
			var rgb [3]float64
			for k := 0; k < 3; k++ {
				c := m.VertexColor(face[k])
				rgb[0] += bary[i][k] * float64(c.R)
				rgb[1] += bary[i][k] * float64(c.G)
				rgb[2] += bary[i][k] * float64(c.B)
			}
			for ch := 0; ch < 3; ch++ {
				img.Set(x, y, ch, light*float32(rgb[ch]/255))
			}
			if mode == RGBDepth {
				img.Set(x, y, 3, near)
			}
		}
	}
	return img
}
