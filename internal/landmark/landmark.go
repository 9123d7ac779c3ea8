// Package landmark turns per-view 2D detections into 3D landmarks.
//
// BuildViewLines lifts each confident detection through its view's camera
// into a world-space line (or a point when the depth buffer is used), and a
// Fuser combines the lines of one landmark into a single robust estimate.
package landmark

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// ErrFusionDegenerate marks a landmark that was estimated from fewer than two
// agreeing views. It is recorded on the result and never aborts a file.
var ErrFusionDegenerate = errors.New("fusion degenerate")

// HeatmapMaximum is the detector output for one landmark in one view.
// X and Y are continuous pixel coordinates with the origin at the top-left.
type HeatmapMaximum struct {
	X, Y       float64
	Confidence float64
	Valid      bool
}

// Invalid is the maximum reported when a detector finds no plausible peak.
var Invalid = HeatmapMaximum{X: math.NaN(), Y: math.NaN()}

// ViewLine is the world-space evidence one view contributes for a landmark.
// Origin is always a point on the line; for IsPoint lines it is the point
// itself and Direction only records the viewing direction.
type ViewLine struct {
	View      int
	Origin    r3.Vec
	Direction r3.Vec
	IsPoint   bool
	Weight    float64
}

// Distance returns how far p lies from the line (or point).
func (l ViewLine) Distance(p r3.Vec) float64 {
	v := r3.Sub(p, l.Origin)
	if l.IsPoint {
		return r3.Norm(v)
	}
	return r3.Norm(r3.Sub(v, r3.Scale(r3.Dot(v, l.Direction), l.Direction)))
}

// ClosestPoint returns the point of the line nearest to p.
func (l ViewLine) ClosestPoint(p r3.Vec) r3.Vec {
	if l.IsPoint {
		return l.Origin
	}
	return r3.Add(l.Origin, r3.Scale(r3.Dot(r3.Sub(p, l.Origin), l.Direction), l.Direction))
}

// weight keeps zero-confidence lines from vanishing out of the solve.
func (l ViewLine) weight() float64 {
	if l.Weight > 0 {
		return l.Weight
	}
	return 1e-6
}

// Status is the outcome of fusing one landmark.
type Status int

const (
	// StatusFused means at least two views agreed on the position.
	StatusFused Status = iota
	// StatusSingleView means the position comes from one view only.
	StatusSingleView
	// StatusMissing means no view contributed and the point is NaN.
	StatusMissing
)

func (s Status) String() string {
	switch s {
	case StatusFused:
		return "fused"
	case StatusSingleView:
		return "single-view"
	case StatusMissing:
		return "missing"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(b []byte) error {
	v, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseStatus is the inverse of Status.String.
func ParseStatus(s string) (Status, error) {
	switch s {
	case "fused":
		return StatusFused, nil
	case "single-view":
		return StatusSingleView, nil
	case "missing":
		return StatusMissing, nil
	}
	return 0, fmt.Errorf("unknown landmark status %q", s)
}

// Landmark is the final placement of one landmark on the mesh surface.
type Landmark struct {
	Index int
	Name  string

	// Point is on the mesh surface, or NaN when the landmark is missing.
	Point r3.Vec
	// Face is the mesh face containing Point, -1 when missing.
	Face int
	// Fused is the estimate before surface projection.
	Fused r3.Vec

	Status      Status
	ValidViews  int
	InlierViews int
	TotalViews  int
	// Confidence is the summed inlier weight over the number of views.
	Confidence float64

	ProjectionDistance float64
	FarFromSurface     bool
}

// Missing returns the record for a landmark no view could place.
func Missing(index int, name string, totalViews int) Landmark {
	nan := r3.Vec{X: math.NaN(), Y: math.NaN(), Z: math.NaN()}
	return Landmark{
		Index:      index,
		Name:       name,
		Point:      nan,
		Fused:      nan,
		Face:       -1,
		Status:     StatusMissing,
		TotalViews: totalViews,
	}
}

// IsMissing reports whether the landmark has no coordinate.
func (l Landmark) IsMissing() bool {
	return l.Status == StatusMissing || math.IsNaN(l.Point.X)
}

// Names returns the ordered landmark names for a detector with n outputs.
// Detectors only define positions, so names are index based.
func Names(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("LM%02d", i+1)
	}
	return out
}
