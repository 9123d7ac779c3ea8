package report

import (
	"fmt"
	"image/color"
	"io"
	"math"
	"path/filepath"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/mvlm/internal/fsutil"
	"github.com/banshee-data/mvlm/internal/landmark"
	"github.com/banshee-data/mvlm/internal/mesh"
)

// MaxSurfacePoints bounds the mesh vertices drawn in the 3D scatter.
const MaxSurfacePoints = 8000

// AssetsHost serves the echarts scripts; empty uses the go-echarts default.
var AssetsHost = ""

var statusColors = map[landmark.Status]string{
	landmark.StatusFused:      "#35b779",
	landmark.StatusSingleView: "#fde725",
}

// Scatter3D writes an HTML page with the landmarks drawn over the mesh
// vertices. m may be nil, in which case only the landmarks are drawn.
// Missing landmarks have no position and are left out.
func Scatter3D(w io.Writer, title string, m *mesh.Mesh, lms []landmark.Landmark) error {
	initOpts := opts.Initialization{PageTitle: title, Theme: "dark", Width: "900px", Height: "900px"}
	if AssetsHost != "" {
		initOpts.AssetsHost = AssetsHost
	}
	s := Summarize(lms)
	scatter := charts.NewScatter3D()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(initOpts),
		charts.WithTitleOpts(opts.Title{
			Title:    title,
			Subtitle: fmt.Sprintf("fused=%d single-view=%d missing=%d", s.Fused, s.SingleView, s.Missing),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxis3DOpts(opts.XAxis3D{Name: "X"}),
		charts.WithYAxis3DOpts(opts.YAxis3D{Name: "Y"}),
		charts.WithZAxis3DOpts(opts.ZAxis3D{Name: "Z"}),
	)

	if m != nil && len(m.Vertices) > 0 {
		stride := 1
		if len(m.Vertices) > MaxSurfacePoints {
			stride = int(math.Ceil(float64(len(m.Vertices)) / MaxSurfacePoints))
		}
		surf := make([]opts.Chart3DData, 0, len(m.Vertices)/stride+1)
		for i := 0; i < len(m.Vertices); i += stride {
			v := m.Vertices[i]
			surf = append(surf, opts.Chart3DData{Value: []interface{}{v.X, v.Y, v.Z}})
		}
		scatter.AddSeries("surface", surf, charts.WithItemStyleOpts(opts.ItemStyle{Color: "#3e4989", Opacity: opts.Float(0.3)}))
	}

	for _, st := range []landmark.Status{landmark.StatusFused, landmark.StatusSingleView} {
		var data []opts.Chart3DData
		for _, l := range lms {
			if l.Status != st {
				continue
			}
			data = append(data, opts.Chart3DData{
				Name:  l.Name,
				Value: []interface{}{l.Point.X, l.Point.Y, l.Point.Z},
			})
		}
		if len(data) > 0 {
			scatter.AddSeries(st.String(), data, charts.WithItemStyleOpts(opts.ItemStyle{Color: statusColors[st]}))
		}
	}
	return scatter.Render(w)
}

// SupportChart writes a PNG bar chart of the inlier views behind each
// landmark, beside the valid views it had.
func SupportChart(w io.Writer, title string, lms []landmark.Landmark) error {
	if len(lms) == 0 {
		return fmt.Errorf("no landmarks to chart")
	}
	valid := make(plotter.Values, len(lms))
	inliers := make(plotter.Values, len(lms))
	names := make([]string, len(lms))
	for i, l := range lms {
		valid[i] = float64(l.ValidViews)
		inliers[i] = float64(l.InlierViews)
		names[i] = l.Name
	}

	p := plot.New()
	p.Title.Text = title
	p.Y.Label.Text = "Views"
	p.Y.Min = 0

	width := vg.Points(6)
	validBars, err := plotter.NewBarChart(valid, width)
	if err != nil {
		return err
	}
	validBars.Color = color.RGBA{R: 0x3e, G: 0x49, B: 0x89, A: 0xff}
	validBars.Offset = -width / 2
	inlierBars, err := plotter.NewBarChart(inliers, width)
	if err != nil {
		return err
	}
	inlierBars.Color = color.RGBA{R: 0x35, G: 0xb7, B: 0x79, A: 0xff}
	inlierBars.Offset = width / 2

	p.Add(validBars, inlierBars)
	p.Legend.Add("valid", validBars)
	p.Legend.Add("inliers", inlierBars)
	p.Legend.Top = true
	p.NominalX(names...)

	wt, err := p.WriterTo(14*vg.Inch, 6*vg.Inch, "png")
	if err != nil {
		return err
	}
	_, err = wt.WriteTo(w)
	return err
}

// WriteFiles writes base.html and base.png for one result next to each
// other and returns their paths.
func WriteFiles(base string, m *mesh.Mesh, lms []landmark.Landmark) ([]string, error) {
	title := filepath.Base(base)
	if m != nil && m.Name != "" {
		title = m.Name
	}
	htmlPath, pngPath := base+".html", base+".png"
	if err := fsutil.WriteAtomic(htmlPath, func(w io.Writer) error { return Scatter3D(w, title, m, lms) }); err != nil {
		return nil, fmt.Errorf("write %s: %w", htmlPath, err)
	}
	if err := fsutil.WriteAtomic(pngPath, func(w io.Writer) error { return SupportChart(w, title, lms) }); err != nil {
		return nil, fmt.Errorf("write %s: %w", pngPath, err)
	}
	return []string{htmlPath, pngPath}, nil
}
