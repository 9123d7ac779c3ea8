package landmark

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/mvlm/internal/camera"
)

// LineMode selects how a detection is lifted into world space.
type LineMode int

const (
	// RayMode lifts a detection to the full camera ray through the pixel.
	RayMode LineMode = iota
	// DepthMode lifts a detection to the surface point recorded in the depth
	// buffer, falling back to the ray on background pixels.
	DepthMode
)

func (m LineMode) String() string {
	switch m {
	case RayMode:
		return "ray"
	case DepthMode:
		return "depth"
	}
	return fmt.Sprintf("LineMode(%d)", int(m))
}

// ParseLineMode maps a configuration value onto a LineMode.
func ParseLineMode(s string) (LineMode, error) {
	switch s {
	case "ray":
		return RayMode, nil
	case "depth":
		return DepthMode, nil
	}
	return 0, fmt.Errorf("unknown line mode %q", s)
}

// LineOptions configures BuildViewLines.
type LineOptions struct {
	Mode LineMode
	// Detections with confidence below the threshold are dropped.
	ConfidenceThreshold float64
}

// BuildViewLines converts detections into world-space lines. maxima is
// indexed [view][landmark] and must have one row per transform; the result
// is indexed [landmark] with lines in view order. Invalid, non-finite and
// low-confidence detections contribute no line.
func BuildViewLines(maxima [][]HeatmapMaximum, transforms []*camera.ViewTransform, opts LineOptions) ([][]ViewLine, error) {
	if len(maxima) != len(transforms) {
		return nil, fmt.Errorf("got detections for %d views but %d transforms", len(maxima), len(transforms))
	}
	if len(maxima) == 0 {
		return nil, nil
	}
	count := len(maxima[0])
	for v, row := range maxima {
		if len(row) != count {
			return nil, fmt.Errorf("view %d has %d landmarks, view 0 has %d", v, len(row), count)
		}
	}

	lines := make([][]ViewLine, count)
	for v, row := range maxima {
		t := transforms[v]
		for j, hm := range row {
			if !usable(hm, opts.ConfidenceThreshold) {
				continue
			}
			l, err := lift(t, hm, opts.Mode)
			if err != nil {
				return nil, fmt.Errorf("landmark %d: %w", j, err)
			}
			l.View = v
			lines[j] = append(lines[j], l)
		}
	}
	return lines, nil
}

func usable(hm HeatmapMaximum, threshold float64) bool {
	if !hm.Valid || math.IsNaN(hm.Confidence) || hm.Confidence < threshold {
		return false
	}
	return !math.IsNaN(hm.X) && !math.IsNaN(hm.Y) && !math.IsInf(hm.X, 0) && !math.IsInf(hm.Y, 0)
}

func lift(t *camera.ViewTransform, hm HeatmapMaximum, mode LineMode) (ViewLine, error) {
	origin, dir, err := t.Ray(hm.X, hm.Y)
	if err != nil {
		return ViewLine{}, err
	}
	l := ViewLine{Direction: dir, Weight: hm.Confidence}

	surface, ok, err := t.SurfacePoint(hm.X, hm.Y)
	if err != nil {
		return ViewLine{}, err
	}
	switch {
	case ok && mode == DepthMode:
		l.Origin = surface
		l.IsPoint = true
	case ok:
		// anchor the ray where it meets the surface
		l.Origin = r3.Add(origin, r3.Scale(r3.Dot(r3.Sub(surface, origin), dir), dir))
	default:
		l.Origin = r3.Add(origin, r3.Scale(r3.Dot(r3.Sub(t.Pose.Target, origin), dir), dir))
	}
	return l, nil
}
