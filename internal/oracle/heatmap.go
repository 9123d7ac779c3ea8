package oracle

import (
	"fmt"
	"math"

	"github.com/banshee-data/mvlm/internal/landmark"
)

// Heatmap is one landmark likelihood map, row-major, top row first.
type Heatmap struct {
	Width  int       `json:"width"`
	Height int       `json:"height"`
	Data   []float64 `json:"data"`
}

// DecodeHeatmap finds the peak of h and refines it to sub-pixel accuracy with
// the weighted centroid of its 3x3 neighbourhood. The returned coordinates are
// continuous pixels (cell i covers [i, i+1)) and the confidence is the peak
// value. A map whose peak is not positive yields an invalid maximum.
func DecodeHeatmap(h Heatmap) (landmark.HeatmapMaximum, error) {
	if h.Width <= 0 || h.Height <= 0 || len(h.Data) != h.Width*h.Height {
		return landmark.Invalid, fmt.Errorf("heatmap %dx%d has %d values", h.Width, h.Height, len(h.Data))
	}

	best := -1
	for i, v := range h.Data {
		if math.IsNaN(v) {
			continue
		}
		if best < 0 || v > h.Data[best] {
			best = i
		}
	}
	if best < 0 || !(h.Data[best] > 0) || math.IsInf(h.Data[best], 0) {
		return landmark.Invalid, nil
	}

	px, py := best%h.Width, best/h.Width
	var sx, sy, sw float64
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			x, y := px+dx, py+dy
			if x < 0 || y < 0 || x >= h.Width || y >= h.Height {
				continue
			}
			w := h.Data[y*h.Width+x]
			if !(w > 0) {
				continue
			}
			sx += w * float64(x)
			sy += w * float64(y)
			sw += w
		}
	}
	return landmark.HeatmapMaximum{
		X:          sx/sw + 0.5,
		Y:          sy/sw + 0.5,
		Confidence: h.Data[best],
		Valid:      true,
	}, nil
}
