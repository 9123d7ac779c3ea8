package oracle

import (
	"context"
	"errors"
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/mvlm/internal/landmark"
	"github.com/banshee-data/mvlm/internal/render"
)

// Synthetic is an Oracle that knows the true 3D landmarks and reports where
// each one appears in a view. Landmarks behind the surface or outside the
// image are reported invalid, like a detector that cannot see them.
type Synthetic struct {
	points []r3.Vec
	// Confidence is reported for every visible landmark. Zero means 1.
	Confidence float64
	// OcclusionTolerance is the fraction of the camera distance a landmark
	// may lie behind the rendered surface and still count as visible.
	// Zero means 0.01.
	OcclusionTolerance float64
}

var _ Oracle = (*Synthetic)(nil)

// NewSynthetic returns an oracle for the given landmark positions.
func NewSynthetic(points []r3.Vec) (*Synthetic, error) {
	if len(points) == 0 {
		return nil, errors.New("synthetic oracle needs at least one landmark")
	}
	return &Synthetic{points: append([]r3.Vec(nil), points...)}, nil
}

// LandmarkCount implements Oracle.
func (s *Synthetic) LandmarkCount() int { return len(s.points) }

// Predict implements Oracle. It needs the view transform attached to img.
func (s *Synthetic) Predict(ctx context.Context, img *render.Image) ([]landmark.HeatmapMaximum, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if img == nil || img.View == nil {
		return nil, &OracleError{View: -1, Err: fmt.Errorf("image has no view transform")}
	}
	v := img.View
	conf := s.Confidence
	if conf == 0 {
		conf = 1
	}
	tol := s.OcclusionTolerance
	if tol == 0 {
		tol = 0.01
	}
	camDist := r3.Norm(r3.Sub(v.Pose.Target, v.Pose.Eye))

	out := make([]landmark.HeatmapMaximum, len(s.points))
	for i, p := range s.points {
		out[i] = landmark.Invalid
		x, y, _, ok := v.Project(p)
		if !ok || !v.InImage(x, y) {
			continue
		}
		surf, covered, err := v.SurfacePoint(x, y)
		if err != nil {
			return nil, &OracleError{View: v.Index, Err: err}
		}
		if covered {
			behind := r3.Norm(r3.Sub(p, v.Pose.Eye)) - r3.Norm(r3.Sub(surf, v.Pose.Eye))
			if behind > tol*camDist {
				continue
			}
		}
		out[i] = landmark.HeatmapMaximum{X: x, Y: y, Confidence: conf, Valid: true}
	}
	return out, nil
}
