// Package testutil provides shared test helpers and mesh fixtures.
package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/mvlm/internal/mesh"
)

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t testing.TB, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t testing.TB, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// AssertVecNear fails the test when got is further than tol from want.
func AssertVecNear(t testing.TB, got, want r3.Vec, tol float64) {
	t.Helper()
	if d := r3.Norm(r3.Sub(got, want)); !(d <= tol) {
		t.Errorf("point = %v, want %v (distance %.3g > %.3g)", got, want, d, tol)
	}
}

// NewTestRequest creates a test HTTP request.
func NewTestRequest(method, path string) *http.Request {
	return httptest.NewRequest(method, path, nil)
}

// NewTestRecorder creates a test response recorder.
func NewTestRecorder() *httptest.ResponseRecorder {
	return httptest.NewRecorder()
}

// Sphere returns a unit icosphere at the origin and its vertex with the
// largest Z, a point the frontal views all see.
func Sphere() (*mesh.Mesh, r3.Vec) {
	m := mesh.Icosphere(r3.Vec{}, 1, 3)
	m.Name = "sphere"
	top := m.Vertices[0]
	for _, v := range m.Vertices {
		if v.Z > top.Z {
			top = v
		}
	}
	return m, top
}

// FrontalDirections are four camera directions around +Z.
func FrontalDirections() []r3.Vec {
	return []r3.Vec{{Z: 1}, {X: 1, Z: 1}, {Y: 1, Z: 1}, {X: -1, Z: 1}}
}

// OBJ encodes m as Wavefront OBJ text.
func OBJ(m *mesh.Mesh) string {
	var b strings.Builder
	for _, v := range m.Vertices {
		fmt.Fprintf(&b, "v %g %g %g\n", v.X, v.Y, v.Z)
	}
	for _, f := range m.Faces {
		fmt.Fprintf(&b, "f %d %d %d\n", f[0]+1, f[1]+1, f[2]+1)
	}
	return b.String()
}

// WriteFile writes content to name inside dir and returns the path.
func WriteFile(t testing.TB, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}
