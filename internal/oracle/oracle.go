// Package oracle is the boundary to the 2D landmark detector.
//
// The detector itself is external. An Oracle takes one rendered view and
// returns one HeatmapMaximum per landmark; the pipeline never depends on
// which implementation answers. Implementations are a fixed set selected
// from configuration at start-up.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/mvlm/internal/httputil"
	"github.com/banshee-data/mvlm/internal/landmark"
	"github.com/banshee-data/mvlm/internal/render"
)

// ErrOracle is the error kind for every detector failure.
var ErrOracle = errors.New("oracle failed")

// ErrLandmarkCount marks a detector reply with the wrong number of entries.
var ErrLandmarkCount = errors.New("wrong landmark count")

// OracleError reports a detector failure for one view.
type OracleError struct {
	View int
	Err  error
}

func (e *OracleError) Error() string {
	return fmt.Sprintf("oracle view %d: %v", e.View, e.Err)
}

// Unwrap exposes both ErrOracle and the cause to errors.Is.
func (e *OracleError) Unwrap() []error { return []error{ErrOracle, e.Err} }

// Oracle predicts landmark positions in one view. Predict must return
// exactly LandmarkCount entries; entries may be invalid.
type Oracle interface {
	Predict(ctx context.Context, img *render.Image) ([]landmark.HeatmapMaximum, error)
	LandmarkCount() int
}

// Named is implemented by oracles whose detector defines its own ordered
// landmark names.
type Named interface {
	LandmarkNames() []string
}

// Kind enumerates the Oracle implementations.
type Kind int

const (
	// KindSynthetic projects known 3D landmarks into each view.
	KindSynthetic Kind = iota
	// KindRemote asks an HTTP inference service.
	KindRemote
)

func (k Kind) String() string {
	switch k {
	case KindSynthetic:
		return "synthetic"
	case KindRemote:
		return "remote"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind maps a configuration value onto a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "synthetic":
		return KindSynthetic, nil
	case "remote":
		return KindRemote, nil
	}
	return 0, fmt.Errorf("unknown oracle %q", s)
}

// Options selects and configures an Oracle.
type Options struct {
	Kind     Kind
	Model    Model
	Channels render.ChannelMode

	// Remote
	URL       string
	Timeout   time.Duration
	InputSize int // pixels per side sent to the service; 0 keeps the render size
	Device    Device
	Client    httputil.Doer // nil means an *http.Client with Timeout

	// Synthetic
	Landmarks []r3.Vec
}

// New builds the Oracle selected by opts.Kind after checking that the model
// accepts the rendered channels.
func New(opts Options) (Oracle, error) {
	switch opts.Kind {
	case KindSynthetic:
		return NewSynthetic(opts.Landmarks)
	case KindRemote:
		if _, err := opts.Model.Checkpoint(opts.Channels); err != nil {
			return nil, err
		}
		return NewRemote(opts)
	}
	return nil, fmt.Errorf("unknown oracle kind %v", opts.Kind)
}

// PredictAll runs o over every image with at most workers calls in flight.
// The result is indexed [view][landmark]; the first failure cancels the rest.
func PredictAll(ctx context.Context, o Oracle, images []*render.Image, workers int) ([][]landmark.HeatmapMaximum, error) {
	if workers <= 0 {
		workers = 1
	}
	out := make([][]landmark.HeatmapMaximum, len(images))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, img := range images {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			maxima, err := o.Predict(gctx, img)
			if err != nil {
				var oe *OracleError
				if errors.As(err, &oe) {
					return err
				}
				return &OracleError{View: i, Err: err}
			}
			if len(maxima) != o.LandmarkCount() {
				return &OracleError{View: i, Err: fmt.Errorf("%w: got %d, want %d", ErrLandmarkCount, len(maxima), o.LandmarkCount())}
			}
			out[i] = maxima
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
