package mesh

import (
	"bufio"
	"fmt"
	"image/color"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/hschendel/stl"
	"gonum.org/v1/gonum/spatial/r3"
)

// Load reads a surface mesh, choosing the reader by file extension, and
// validates the result.
func Load(path string) (*Mesh, error) {
	var (
		m   *Mesh
		err error
	)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".obj":
		m, err = readFile(path, ReadOBJ)
	case ".vtk":
		m, err = readFile(path, ReadVTK)
	case ".stl":
		m, err = ReadSTL(path)
	default:
		return nil, fmt.Errorf("unsupported mesh format %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	m.Name = filepath.Base(path)
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid mesh %s: %w", path, err)
	}
	return m, nil
}

// SupportedExtension reports whether Load can read files with this name.
func SupportedExtension(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".obj", ".vtk", ".stl":
		return true
	}
	return false
}

func readFile(path string, read func(io.Reader) (*Mesh, error)) (*Mesh, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return read(bufio.NewReader(f))
}

// ReadSTL reads an ASCII or binary STL file. STL stores unshared triangle
// corners, so identical positions are welded into one vertex.
func ReadSTL(path string) (*Mesh, error) {
	solid, err := stl.ReadFile(path)
	if err != nil {
		return nil, err
	}
	m := &Mesh{Faces: make([]Face, 0, len(solid.Triangles))}
	index := make(map[r3.Vec]int)
	weld := func(v stl.Vec3) int {
		p := r3.Vec{X: float64(v[0]), Y: float64(v[1]), Z: float64(v[2])}
		if i, ok := index[p]; ok {
			return i
		}
		m.Vertices = append(m.Vertices, p)
		index[p] = len(m.Vertices) - 1
		return len(m.Vertices) - 1
	}
	for _, t := range solid.Triangles {
		m.Faces = append(m.Faces, Face{weld(t.Vertices[0]), weld(t.Vertices[1]), weld(t.Vertices[2])})
	}
	return m, nil
}

// ReadOBJ parses the geometry of a Wavefront OBJ stream: "v" records (with
// optional r g b colour in [0,1]) and "f" records. Polygons are fan
// triangulated; negative (relative) indices are resolved.
func ReadOBJ(r io.Reader) (*Mesh, error) {
	m := &Mesh{}
	var colors []r3.Vec
	hasColor := false

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
			continue
		}
		switch fields[0] {
		case "v":
			if len(fields) < 4 {
				return nil, fmt.Errorf("line %d: vertex needs 3 coordinates", lineNo)
			}
			vals, err := parseFloats(fields[1:])
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			m.Vertices = append(m.Vertices, r3.Vec{X: vals[0], Y: vals[1], Z: vals[2]})
			if len(vals) >= 6 {
				hasColor = true
				colors = append(colors, r3.Vec{X: vals[3], Y: vals[4], Z: vals[5]})
			} else {
				colors = append(colors, r3.Vec{X: 1, Y: 1, Z: 1})
			}
		case "f":
			if len(fields) < 4 {
				return nil, fmt.Errorf("line %d: face needs at least 3 vertices", lineNo)
			}
			idx := make([]int, 0, len(fields)-1)
			for _, tok := range fields[1:] {
				// v, v/vt, v//vn or v/vt/vn
				if slash := strings.IndexByte(tok, '/'); slash >= 0 {
					tok = tok[:slash]
				}
				n, err := strconv.Atoi(tok)
				if err != nil {
					return nil, fmt.Errorf("line %d: bad face index %q", lineNo, tok)
				}
				switch {
				case n > 0:
					n--
				case n < 0:
					n = len(m.Vertices) + n
				default:
					return nil, fmt.Errorf("line %d: face index 0 is invalid", lineNo)
				}
				idx = append(idx, n)
			}
			for k := 1; k+1 < len(idx); k++ {
				m.Faces = append(m.Faces, Face{idx[0], idx[k], idx[k+1]})
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if hasColor {
		m.Colors = unitColors(colors)
	}
	return m, nil
}

// ReadVTK parses a legacy ASCII VTK POLYDATA file: POINTS, POLYGONS (or
// TRIANGLE_STRIPS) and an optional POINT_DATA COLOR_SCALARS block with 3 or 4
// components.
func ReadVTK(r io.Reader) (*Mesh, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	sc.Split(bufio.ScanWords)

	next := func() (string, bool) {
		if !sc.Scan() {
			return "", false
		}
		return sc.Text(), true
	}
	nextInt := func() (int, error) {
		tok, ok := next()
		if !ok {
			return 0, io.ErrUnexpectedEOF
		}
		return strconv.Atoi(tok)
	}
	nextFloat := func() (float64, error) {
		tok, ok := next()
		if !ok {
			return 0, io.ErrUnexpectedEOF
		}
		return strconv.ParseFloat(tok, 64)
	}

	m := &Mesh{}
	sawDataset := false
	for {
		tok, ok := next()
		if !ok {
			break
		}
		switch strings.ToUpper(tok) {
		case "BINARY":
			return nil, fmt.Errorf("binary VTK files are not supported")
		case "DATASET":
			kind, _ := next()
			if strings.ToUpper(kind) != "POLYDATA" {
				return nil, fmt.Errorf("unsupported VTK dataset %q", kind)
			}
			sawDataset = true
		case "POINTS":
			n, err := nextInt()
			if err != nil {
				return nil, fmt.Errorf("POINTS count: %w", err)
			}
			next() // data type
			m.Vertices = make([]r3.Vec, n)
			for i := 0; i < n; i++ {
				var c [3]float64
				for k := range c {
					if c[k], err = nextFloat(); err != nil {
						return nil, fmt.Errorf("point %d: %w", i, err)
					}
				}
				m.Vertices[i] = r3.Vec{X: c[0], Y: c[1], Z: c[2]}
			}
		case "POLYGONS", "TRIANGLE_STRIPS":
			strips := strings.ToUpper(tok) == "TRIANGLE_STRIPS"
			cells, err := nextInt()
			if err != nil {
				return nil, fmt.Errorf("%s count: %w", tok, err)
			}
			if _, err := nextInt(); err != nil {
				return nil, fmt.Errorf("%s size: %w", tok, err)
			}
			for c := 0; c < cells; c++ {
				k, err := nextInt()
				if err != nil {
					return nil, fmt.Errorf("cell %d: %w", c, err)
				}
				idx := make([]int, k)
				for j := range idx {
					if idx[j], err = nextInt(); err != nil {
						return nil, fmt.Errorf("cell %d: %w", c, err)
					}
				}
				m.Faces = append(m.Faces, triangulate(idx, strips)...)
			}
		case "COLOR_SCALARS":
			next() // name
			nc, err := nextInt()
			if err != nil {
				return nil, fmt.Errorf("COLOR_SCALARS components: %w", err)
			}
			if nc < 3 {
				continue
			}
			colors := make([]r3.Vec, len(m.Vertices))
			for i := range colors {
				var c [4]float64
				for k := 0; k < nc; k++ {
					v, err := nextFloat()
					if err != nil {
						return nil, fmt.Errorf("colour %d: %w", i, err)
					}
					if k < 4 {
						c[k] = v
					}
				}
				colors[i] = r3.Vec{X: c[0], Y: c[1], Z: c[2]}
			}
			m.Colors = unitColors(colors)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if !sawDataset {
		return nil, fmt.Errorf("missing DATASET POLYDATA header")
	}
	return m, nil
}

func triangulate(idx []int, strip bool) []Face {
	if len(idx) < 3 {
		return nil
	}
	out := make([]Face, 0, len(idx)-2)
	for k := 1; k+1 < len(idx); k++ {
		if strip {
			// alternate winding so strip triangles keep a consistent orientation
			if k%2 == 1 {
				out = append(out, Face{idx[k-1], idx[k], idx[k+1]})
			} else {
				out = append(out, Face{idx[k], idx[k-1], idx[k+1]})
			}
			continue
		}
		out = append(out, Face{idx[0], idx[k], idx[k+1]})
	}
	return out
}

func parseFloats(fields []string) ([]float64, error) {
	out := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("bad number %q", f)
		}
		out[i] = v
	}
	return out, nil
}

// unitColors converts colour triples to RGBA. Values are taken as [0,1]
// unless any component exceeds 1, in which case the block is read as 0-255.
func unitColors(in []r3.Vec) []color.RGBA {
	scale := 255.0
	for _, c := range in {
		if c.X > 1 || c.Y > 1 || c.Z > 1 {
			scale = 1
			break
		}
	}
	clamp := func(v float64) uint8 {
		return uint8(math.Max(0, math.Min(255, math.Round(v*scale))))
	}
	out := make([]color.RGBA, len(in))
	for i, c := range in {
		out[i] = color.RGBA{R: clamp(c.X), G: clamp(c.Y), B: clamp(c.Z), A: 255}
	}
	return out
}
