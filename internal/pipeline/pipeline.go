// Package pipeline runs the landmarking stages over one mesh or a directory
// of meshes: render, detect, lift to view lines, fuse and snap to the
// surface. Each stage hands freshly built values to the next; nothing is
// shared between files.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/mvlm/internal/landmark"
	"github.com/banshee-data/mvlm/internal/mesh"
	"github.com/banshee-data/mvlm/internal/monitoring"
	"github.com/banshee-data/mvlm/internal/oracle"
	"github.com/banshee-data/mvlm/internal/render"
	"github.com/banshee-data/mvlm/internal/surface"
	"github.com/banshee-data/mvlm/internal/timeutil"
)

// Options configures a Predictor.
type Options struct {
	Render render.Options
	Lines  landmark.LineOptions

	// OutlierThreshold is the absolute fusion distance. When zero it is
	// OutlierThresholdRelative times the mesh bounding box diagonal.
	OutlierThreshold         float64
	OutlierThresholdRelative float64
	ParallelToleranceDeg     float64
	// Landmarks projected further than this fraction of the diagonal are
	// flagged FarFromSurface.
	MaxSurfaceDistanceRelative float64

	OracleWorkers int
	FusionWorkers int

	// Names labels the landmarks. When its length does not match the oracle
	// the oracle's own names are used, or index names when it has none.
	Names []string

	// Clock stamps results. Nil uses the wall clock.
	Clock timeutil.Clock
}

// DefaultOptions mirrors config/mvlm.defaults.json.
func DefaultOptions() Options {
	return Options{
		Render:                     render.DefaultOptions(),
		Lines:                      landmark.LineOptions{Mode: landmark.RayMode, ConfidenceThreshold: 0.4},
		OutlierThresholdRelative:   0.02,
		ParallelToleranceDeg:       1,
		MaxSurfaceDistanceRelative: 0.05,
		OracleWorkers:              4,
		FusionWorkers:              8,
	}
}

// Result is the outcome for one mesh.
type Result struct {
	Mesh      string
	Source    *mesh.Mesh // the mesh the landmarks lie on
	Vertices  int
	Faces     int
	Landmarks []landmark.Landmark

	Views            int
	Diagonal         float64
	OutlierThreshold float64

	Started  time.Time
	Duration time.Duration
}

// Counts tallies landmarks by status.
func (r *Result) Counts() (fused, single, missing int) {
	for _, l := range r.Landmarks {
		switch l.Status {
		case landmark.StatusFused:
			fused++
		case landmark.StatusSingleView:
			single++
		case landmark.StatusMissing:
			missing++
		}
	}
	return fused, single, missing
}

// Predictor wires a renderer and an oracle into the landmarking pipeline.
// It holds no per-file state and may be used from several goroutines.
type Predictor struct {
	opts     Options
	renderer *render.Renderer
	oracle   oracle.Oracle
	logf     func(format string, v ...interface{})
}

// New checks opts and returns a Predictor using o for detection.
func New(opts Options, o oracle.Oracle) (*Predictor, error) {
	if o == nil {
		return nil, errors.New("pipeline needs an oracle")
	}
	if opts.OutlierThreshold <= 0 && opts.OutlierThresholdRelative <= 0 {
		return nil, fmt.Errorf("outlier threshold must be positive")
	}
	if opts.OracleWorkers <= 0 {
		opts.OracleWorkers = 1
	}
	if opts.FusionWorkers <= 0 {
		opts.FusionWorkers = 1
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	r, err := render.New(opts.Render)
	if err != nil {
		return nil, err
	}
	return &Predictor{opts: opts, renderer: r, oracle: o, logf: monitoring.Stage("pipeline")}, nil
}

// Options returns the predictor configuration.
func (p *Predictor) Options() Options { return p.opts }

// PredictFile loads a mesh file and predicts its landmarks.
func (p *Predictor) PredictFile(ctx context.Context, path string) (*Result, error) {
	m, err := mesh.Load(path)
	if err != nil {
		return nil, &render.RenderError{Mesh: path, View: -1, Err: err}
	}
	return p.Predict(ctx, m)
}

// Predict runs every stage on m. Render, oracle and projection setup
// failures abort with an error of that kind; fusion problems only downgrade
// the affected landmark.
func (p *Predictor) Predict(ctx context.Context, m *mesh.Mesh) (*Result, error) {
	start := p.opts.Clock.Now()

	// an unreadable mesh is a render failure; a mesh with extent but no
	// face area to land on is a projection failure, found before rendering
	if err := m.Validate(); err != nil {
		name := "<nil>"
		if m != nil {
			name = m.Name
		}
		return nil, &render.RenderError{Mesh: name, View: -1, Err: err}
	}
	projector, err := surface.NewProjector(m)
	if err != nil {
		return nil, err
	}
	images, views, err := p.renderer.Render(ctx, m)
	if err != nil {
		return nil, err
	}

	maxima, err := oracle.PredictAll(ctx, p.oracle, images, p.opts.OracleWorkers)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", m.Name, err)
	}

	lines, err := landmark.BuildViewLines(maxima, views, p.opts.Lines)
	if err != nil {
		return nil, fmt.Errorf("%s: view lines: %w", m.Name, err)
	}

	diag := projector.Diagonal()
	thr := p.opts.OutlierThreshold
	if thr <= 0 {
		thr = p.opts.OutlierThresholdRelative * diag
	}
	fuser, err := landmark.NewFuser(landmark.FuserParams{
		OutlierThreshold:     thr,
		ParallelToleranceDeg: p.opts.ParallelToleranceDeg,
	})
	if err != nil {
		return nil, err
	}

	count := p.oracle.LandmarkCount()
	names := p.landmarkNames(count)
	maxDist := p.opts.MaxSurfaceDistanceRelative * diag

	// each goroutine writes only its own slot
	out := make([]landmark.Landmark, count)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.FusionWorkers)
	for j := 0; j < count; j++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out[j] = place(j, names[j], lines[j], len(views), fuser, projector, maxDist)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &Result{
		Mesh:             m.Name,
		Source:           m,
		Vertices:         len(m.Vertices),
		Faces:            len(m.Faces),
		Landmarks:        out,
		Views:            len(views),
		Diagonal:         diag,
		OutlierThreshold: thr,
		Started:          start,
		Duration:         p.opts.Clock.Since(start),
	}
	fused, single, missing := res.Counts()
	p.logf("%s: %d landmarks from %d views (%d fused, %d single-view, %d missing) in %s",
		m.Name, count, len(views), fused, single, missing, res.Duration.Round(time.Millisecond))
	for _, l := range out {
		if l.FarFromSurface {
			monitoring.Warnf("%s: landmark %s fused %.4g from the surface", m.Name, l.Name, l.ProjectionDistance)
		}
	}
	return res, nil
}

// place fuses one landmark and snaps it onto the surface.
func place(index int, name string, lines []landmark.ViewLine, views int, fuser *landmark.Fuser, projector *surface.Projector, maxDist float64) landmark.Landmark {
	f := fuser.Fuse(lines)
	if f.Status == landmark.StatusMissing {
		return landmark.Missing(index, name, views)
	}
	proj := projector.Project(f.Point)
	return landmark.Landmark{
		Index:              index,
		Name:               name,
		Point:              proj.Point,
		Face:               proj.Face,
		Fused:              f.Point,
		Status:             f.Status,
		ValidViews:         len(lines),
		InlierViews:        len(f.Inliers),
		TotalViews:         views,
		Confidence:         f.Confidence(views),
		ProjectionDistance: proj.Distance,
		FarFromSurface:     proj.Distance > maxDist,
	}
}

func (p *Predictor) landmarkNames(count int) []string {
	if len(p.opts.Names) == count {
		return p.opts.Names
	}
	if n, ok := p.oracle.(oracle.Named); ok {
		if names := n.LandmarkNames(); len(names) == count {
			return names
		}
	}
	return landmark.Names(count)
}
