package pointio

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/mvlm/internal/landmark"
)

func sampleLandmarks() []landmark.Landmark {
	lms := []landmark.Landmark{
		{Index: 0, Name: "LM01", Point: r3.Vec{X: 1.5, Y: -2.25, Z: 1e-7}, Fused: r3.Vec{X: 1.5, Y: -2.2, Z: 0}, Face: 12,
			Status: landmark.StatusFused, ValidViews: 7, InlierViews: 6, TotalViews: 10, Confidence: 0.55, ProjectionDistance: 0.05},
		landmark.Missing(1, "LM02", 10),
		{Index: 2, Name: "LM03", Point: r3.Vec{X: 0.1 + 0.2, Y: math.Pi, Z: -1e10}, Face: 3,
			Status: landmark.StatusSingleView, ValidViews: 1, InlierViews: 1, TotalViews: 10, Confidence: 0.09},
	}
	return lms
}

var approx = cmp.Options{cmpopts.EquateApprox(0, 1e-12), cmpopts.EquateNaNs()}

func TestRoundTrip(t *testing.T) {
	lms := sampleLandmarks()
	want := Points(lms)
	for _, name := range []string{"out.vtk", "out.txt", "out.json"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			if err := WriteFile(path, lms); err != nil {
				t.Fatalf("WriteFile: %v", err)
			}
			got, err := ReadFile(path)
			if err != nil {
				t.Fatalf("ReadFile: %v", err)
			}
			if diff := cmp.Diff(want, got, approx); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestVTKLayout(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, VTK, sampleLandmarks()); err != nil {
		t.Fatal(err)
	}
	text := buf.String()
	for _, want := range []string{
		"# vtk DataFile Version 3.0\n",
		"DATASET POLYDATA\n",
		"POINTS 3 double\n1.5 -2.25 1e-07\nnan nan nan\n",
		"VERTICES 3 6\n1 0\n1 1\n1 2\n",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("vtk output missing %q:\n%s", want, text)
		}
	}
}

func TestTXTLayout(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, TXT, sampleLandmarks()[:2]); err != nil {
		t.Fatal(err)
	}
	if got, want := buf.String(), "1.5 -2.25 1e-07\nnan nan nan\n"; got != want {
		t.Errorf("txt = %q, want %q", got, want)
	}
}

func TestJSONRecords(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, JSON, sampleLandmarks()); err != nil {
		t.Fatal(err)
	}
	var recs []Record
	if err := json.Unmarshal(buf.Bytes(), &recs); err != nil {
		t.Fatal(err)
	}
	if len(recs) != 3 {
		t.Fatalf("got %d records", len(recs))
	}
	if recs[1].Point != nil || recs[1].Status != landmark.StatusMissing || recs[1].ProjectionDistance != nil {
		t.Errorf("missing landmark record = %+v", recs[1])
	}
	if recs[0].Status != landmark.StatusFused || recs[0].InlierViews != 6 || *recs[0].ProjectionDistance != 0.05 {
		t.Errorf("record 0 = %+v", recs[0])
	}
	if !strings.Contains(buf.String(), `"status": "single-view"`) {
		t.Errorf("status should serialise as text:\n%s", buf.String())
	}
}

func TestReadTolerance(t *testing.T) {
	got, err := Read(strings.NewReader("# header\n1,2,3\n\n4 5 6\n"), TXT)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]r3.Vec{{X: 1, Y: 2, Z: 3}, {X: 4, Y: 5, Z: 6}}, got); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}

	// coordinates wrapped over lines, as other writers produce
	vtk := "# vtk DataFile Version 2.0\nx\nASCII\nDATASET POLYDATA\nPOINTS 2 float\n1 2 3 4\n5 6\n"
	got, err = Read(strings.NewReader(vtk), VTK)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]r3.Vec{{X: 1, Y: 2, Z: 3}, {X: 4, Y: 5, Z: 6}}, got); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestReadErrors(t *testing.T) {
	cases := []struct {
		name string
		in   string
		f    Format
	}{
		{"txt short", "1 2\n", TXT},
		{"txt word", "1 2 x\n", TXT},
		{"vtk truncated", "POINTS 2 float\n1 2 3\n", VTK},
		{"vtk no points", "DATASET POLYDATA\n", VTK},
		{"vtk binary", "BINARY\nPOINTS 1 float\n", VTK},
		{"vtk count", "POINTS -1 float\n", VTK},
		{"json", "{", JSON},
	}
	for _, tc := range cases {
		if _, err := Read(strings.NewReader(tc.in), tc.f); err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}
}

func TestFormatFor(t *testing.T) {
	for path, want := range map[string]Format{"a.vtk": VTK, "b.TXT": TXT, "dir/c.json": JSON} {
		got, err := FormatFor(path)
		if err != nil || got != want {
			t.Errorf("FormatFor(%q) = %v, %v", path, got, err)
		}
	}
	if _, err := FormatFor("x.ply"); !errors.Is(err, ErrUnknownFormat) {
		t.Errorf("err = %v", err)
	}
	if err := WriteFile(filepath.Join(t.TempDir(), "x.csv"), nil); !errors.Is(err, ErrUnknownFormat) {
		t.Errorf("err = %v", err)
	}
	if _, err := ReadFile(filepath.Join(t.TempDir(), "missing.txt")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("err = %v", err)
	}
}
