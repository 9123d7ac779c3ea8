package report

import (
	"bytes"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/mvlm/internal/landmark"
	"github.com/banshee-data/mvlm/internal/mesh"
)

func sample() []landmark.Landmark {
	return []landmark.Landmark{
		{Index: 0, Name: "LM01", Point: r3.Vec{Z: 1}, Status: landmark.StatusFused,
			ValidViews: 10, InlierViews: 8, TotalViews: 10, Confidence: 0.8, ProjectionDistance: 0.01},
		{Index: 1, Name: "LM02", Point: r3.Vec{X: 1}, Status: landmark.StatusFused,
			ValidViews: 6, InlierViews: 6, TotalViews: 10, Confidence: 0.6, ProjectionDistance: 0.03, FarFromSurface: true},
		{Index: 2, Name: "LM03", Point: r3.Vec{Y: 1}, Status: landmark.StatusSingleView,
			ValidViews: 1, InlierViews: 1, TotalViews: 10, Confidence: 0.1, ProjectionDistance: 0.02},
		landmark.Missing(3, "LM04", 10),
	}
}

func TestSummarize(t *testing.T) {
	s := Summarize(sample())
	assert.Equal(t, 4, s.Landmarks)
	assert.Equal(t, 2, s.Fused)
	assert.Equal(t, 1, s.SingleView)
	assert.Equal(t, 1, s.Missing)
	assert.Equal(t, 1, s.Far)
	assert.InDelta(t, 0.5, s.MeanConfidence, 1e-12)
	assert.InDelta(t, 5, s.MeanInliers, 1e-12)
	assert.InDelta(t, 0.02, s.MeanDistance, 1e-12)
	assert.InDelta(t, 0.01, s.StdDevDistance, 1e-12)
	assert.Equal(t, 0.03, s.MaxDistance)

	one := Summarize(sample()[:1])
	assert.Zero(t, one.StdDevDistance)

	none := Summarize([]landmark.Landmark{landmark.Missing(0, "LM01", 3)})
	assert.Equal(t, 1, none.Missing)
	assert.Zero(t, none.MeanDistance)
	assert.False(t, math.IsNaN(none.MaxDistance))
}

func TestScatter3D(t *testing.T) {
	m := mesh.Icosphere(r3.Vec{}, 1, 1)
	var buf bytes.Buffer
	require.NoError(t, Scatter3D(&buf, "sphere.obj", m, sample()))
	html := buf.String()
	for _, want := range []string{"sphere.obj", "fused=2 single-view=1 missing=1", "surface", "single-view", "LM03"} {
		assert.Contains(t, html, want)
	}
	assert.NotContains(t, html, "LM04", "missing landmarks have no position to draw")

	buf.Reset()
	require.NoError(t, Scatter3D(&buf, "no mesh", nil, sample()))
	assert.NotContains(t, buf.String(), `"surface"`)
}

func TestSupportChart(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, SupportChart(&buf, "support", sample()))
	img, err := png.Decode(&buf)
	require.NoError(t, err)
	assert.Greater(t, img.Bounds().Dx(), img.Bounds().Dy())

	assert.Error(t, SupportChart(&buf, "empty", nil))
}

func TestWriteFiles(t *testing.T) {
	base := filepath.Join(t.TempDir(), "out", "head")
	m := mesh.Icosphere(r3.Vec{}, 1, 0)
	m.Name = "head.obj"
	paths, err := WriteFiles(base, m, sample())
	require.NoError(t, err)
	require.Equal(t, []string{base + ".html", base + ".png"}, paths)
	for _, p := range paths {
		info, err := os.Stat(p)
		require.NoError(t, err)
		assert.Positive(t, info.Size())
	}
	raw, err := os.ReadFile(base + ".html")
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(raw), "head.obj"))

	_, err = WriteFiles(filepath.Join(t.TempDir(), "empty"), nil, nil)
	assert.Error(t, err)
}
