// Package pointio writes landmark point files and reads them back.
//
// Every format keeps one record per landmark in landmark index order.
// Missing landmarks are written as "nan nan nan" in the text formats and
// with a null point in JSON.
package pointio

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/mvlm/internal/fsutil"
	"github.com/banshee-data/mvlm/internal/landmark"
)

// Format is a point file format.
type Format int

const (
	// VTK is a legacy ASCII POLYDATA file with one vertex cell per point.
	VTK Format = iota
	// TXT has one "x y z" line per landmark.
	TXT
	// JSON is an array of full landmark records.
	JSON
)

func (f Format) String() string {
	switch f {
	case VTK:
		return "vtk"
	case TXT:
		return "txt"
	case JSON:
		return "json"
	}
	return fmt.Sprintf("Format(%d)", int(f))
}

// ErrUnknownFormat is returned for file extensions with no Format.
var ErrUnknownFormat = errors.New("unknown point file format")

// FormatFor picks the Format from a file extension.
func FormatFor(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".vtk":
		return VTK, nil
	case ".txt":
		return TXT, nil
	case ".json":
		return JSON, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownFormat, filepath.Ext(path))
}

// Record is the JSON form of a landmark. Point is null for missing landmarks.
type Record struct {
	Index              int             `json:"index"`
	Name               string          `json:"name"`
	Point              *[3]float64     `json:"point"`
	Fused              *[3]float64     `json:"fused,omitempty"`
	Face               int             `json:"face"`
	Status             landmark.Status `json:"status"`
	ValidViews         int             `json:"valid_views"`
	InlierViews        int             `json:"inlier_views"`
	TotalViews         int             `json:"total_views"`
	Confidence         float64         `json:"confidence"`
	ProjectionDistance *float64        `json:"projection_distance,omitempty"`
	FarFromSurface     bool            `json:"far_from_surface"`
}

func finite(v r3.Vec) bool {
	return !math.IsNaN(v.X+v.Y+v.Z) && !math.IsInf(v.X+v.Y+v.Z, 0)
}

func arr(v r3.Vec) *[3]float64 {
	if !finite(v) {
		return nil
	}
	return &[3]float64{v.X, v.Y, v.Z}
}

// NewRecord converts a landmark to its JSON form.
func NewRecord(l landmark.Landmark) Record {
	r := Record{
		Index:          l.Index,
		Name:           l.Name,
		Point:          arr(l.Point),
		Fused:          arr(l.Fused),
		Face:           l.Face,
		Status:         l.Status,
		ValidViews:     l.ValidViews,
		InlierViews:    l.InlierViews,
		TotalViews:     l.TotalViews,
		Confidence:     l.Confidence,
		FarFromSurface: l.FarFromSurface,
	}
	if !l.IsMissing() && !math.IsNaN(l.ProjectionDistance) {
		d := l.ProjectionDistance
		r.ProjectionDistance = &d
	}
	return r
}

// Points returns the landmark points in order.
func Points(lms []landmark.Landmark) []r3.Vec {
	out := make([]r3.Vec, len(lms))
	for i, l := range lms {
		out[i] = l.Point
	}
	return out
}

func formatCoord(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "nan"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func formatPoint(p r3.Vec) string {
	return formatCoord(p.X) + " " + formatCoord(p.Y) + " " + formatCoord(p.Z)
}

// Write encodes lms to w in format f.
func Write(w io.Writer, f Format, lms []landmark.Landmark) error {
	switch f {
	case VTK:
		return writeVTK(w, Points(lms))
	case TXT:
		return writeTXT(w, Points(lms))
	case JSON:
		recs := make([]Record, len(lms))
		for i, l := range lms {
			recs[i] = NewRecord(l)
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(recs)
	}
	return fmt.Errorf("%w: %v", ErrUnknownFormat, f)
}

// WriteFile writes lms to path in the format named by its extension. The
// file appears atomically.
func WriteFile(path string, lms []landmark.Landmark) error {
	f, err := FormatFor(path)
	if err != nil {
		return err
	}
	return fsutil.WriteAtomic(path, func(w io.Writer) error { return Write(w, f, lms) })
}

func writeVTK(w io.Writer, pts []r3.Vec) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "# vtk DataFile Version 3.0\nmvlm landmarks\nASCII\nDATASET POLYDATA\n")
	fmt.Fprintf(bw, "POINTS %d double\n", len(pts))
	for _, p := range pts {
		fmt.Fprintln(bw, formatPoint(p))
	}
	fmt.Fprintf(bw, "VERTICES %d %d\n", len(pts), 2*len(pts))
	for i := range pts {
		fmt.Fprintf(bw, "1 %d\n", i)
	}
	return bw.Flush()
}

func writeTXT(w io.Writer, pts []r3.Vec) error {
	bw := bufio.NewWriter(w)
	for _, p := range pts {
		fmt.Fprintln(bw, formatPoint(p))
	}
	return bw.Flush()
}

// Read decodes the points of a file in format f, in order. Missing
// landmarks come back as NaN points.
func Read(r io.Reader, f Format) ([]r3.Vec, error) {
	switch f {
	case VTK:
		return readVTK(r)
	case TXT:
		return readTXT(r)
	case JSON:
		var recs []Record
		if err := json.NewDecoder(r).Decode(&recs); err != nil {
			return nil, fmt.Errorf("decode landmark json: %w", err)
		}
		out := make([]r3.Vec, len(recs))
		for i, rec := range recs {
			out[i] = nanVec()
			if rec.Point != nil {
				out[i] = r3.Vec{X: rec.Point[0], Y: rec.Point[1], Z: rec.Point[2]}
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: %v", ErrUnknownFormat, f)
}

// ReadFile reads the points of path, choosing the format by extension.
func ReadFile(path string) ([]r3.Vec, error) {
	f, err := FormatFor(path)
	if err != nil {
		return nil, err
	}
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()
	pts, err := Read(fh, f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return pts, nil
}

func nanVec() r3.Vec {
	return r3.Vec{X: math.NaN(), Y: math.NaN(), Z: math.NaN()}
}

func parseCoords(fields []string) (r3.Vec, error) {
	if len(fields) != 3 {
		return r3.Vec{}, fmt.Errorf("want 3 coordinates, got %d", len(fields))
	}
	var c [3]float64
	for i, s := range fields {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return r3.Vec{}, fmt.Errorf("bad coordinate %q", s)
		}
		c[i] = v
	}
	return r3.Vec{X: c[0], Y: c[1], Z: c[2]}, nil
}

func readTXT(r io.Reader) ([]r3.Vec, error) {
	var out []r3.Vec
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		p, err := parseCoords(strings.Fields(strings.ReplaceAll(text, ",", " ")))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, p)
	}
	return out, sc.Err()
}

// readVTK reads the POINTS section of a legacy ASCII file. Coordinates may
// span lines, so the section is read as a stream of words.
func readVTK(r io.Reader) ([]r3.Vec, error) {
	sc := bufio.NewScanner(r)
	sc.Split(bufio.ScanWords)
	for sc.Scan() {
		word := sc.Text()
		if word == "BINARY" {
			return nil, errors.New("binary vtk point files are not supported")
		}
		if word != "POINTS" {
			continue
		}
		if !sc.Scan() {
			break
		}
		n, err := strconv.Atoi(sc.Text())
		if err != nil || n < 0 {
			return nil, fmt.Errorf("bad POINTS count %q", sc.Text())
		}
		if !sc.Scan() { // data type
			break
		}
		out := make([]r3.Vec, n)
		for i := range out {
			words := make([]string, 3)
			for k := range words {
				if !sc.Scan() {
					return nil, fmt.Errorf("point %d: unexpected end of file", i)
				}
				words[k] = sc.Text()
			}
			p, err := parseCoords(words)
			if err != nil {
				return nil, fmt.Errorf("point %d: %w", i, err)
			}
			out[i] = p
		}
		return out, nil
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return nil, errors.New("no POINTS section")
}
