// Package report renders landmarking results for people: an interactive 3D
// scatter of the mesh and its landmarks and a PNG chart of per-landmark
// support.
package report

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/mvlm/internal/landmark"
)

// Summary holds aggregate figures over the placed landmarks of one result.
type Summary struct {
	Landmarks  int `json:"landmarks"`
	Fused      int `json:"fused"`
	SingleView int `json:"single_view"`
	Missing    int `json:"missing"`
	Far        int `json:"far_from_surface"`

	// Over placed (non-missing) landmarks only; zero when none are placed.
	MeanConfidence float64 `json:"mean_confidence"`
	MeanInliers    float64 `json:"mean_inlier_views"`
	MeanDistance   float64 `json:"mean_projection_distance"`
	StdDevDistance float64 `json:"stddev_projection_distance"`
	MaxDistance    float64 `json:"max_projection_distance"`
}

// Summarize computes the Summary of lms.
func Summarize(lms []landmark.Landmark) Summary {
	s := Summary{Landmarks: len(lms)}
	var conf, inliers, dist []float64
	for _, l := range lms {
		switch l.Status {
		case landmark.StatusFused:
			s.Fused++
		case landmark.StatusSingleView:
			s.SingleView++
		default:
			s.Missing++
			continue
		}
		if l.FarFromSurface {
			s.Far++
		}
		conf = append(conf, l.Confidence)
		inliers = append(inliers, float64(l.InlierViews))
		dist = append(dist, l.ProjectionDistance)
	}
	if len(dist) == 0 {
		return s
	}
	s.MeanConfidence = stat.Mean(conf, nil)
	s.MeanInliers = stat.Mean(inliers, nil)
	s.MeanDistance, s.StdDevDistance = stat.MeanStdDev(dist, nil)
	if len(dist) == 1 {
		s.StdDevDistance = 0
	}
	s.MaxDistance = floats.Max(dist)
	return s
}
