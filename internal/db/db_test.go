package db

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/mvlm/internal/landmark"
	"github.com/banshee-data/mvlm/internal/monitoring"
)

func init() { monitoring.SetLogger(nil) }

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("failed to create test DB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func sampleLandmarks() []landmark.Landmark {
	return []landmark.Landmark{
		{Index: 0, Name: "LM01", Point: r3.Vec{X: 1, Y: 2, Z: 3}, Fused: r3.Vec{X: 1, Y: 2, Z: 3.01}, Face: 7,
			Status: landmark.StatusFused, ValidViews: 9, InlierViews: 8, TotalViews: 10, Confidence: 0.8, ProjectionDistance: 0.01},
		{Index: 1, Name: "LM02", Point: r3.Vec{X: -1, Y: 0, Z: 0}, Fused: r3.Vec{X: -1, Y: 0, Z: 0}, Face: 2,
			Status: landmark.StatusSingleView, ValidViews: 1, InlierViews: 1, TotalViews: 10, Confidence: 0.1, FarFromSurface: true},
		landmark.Missing(2, "LM03", 10),
	}
}

func sampleRun(mesh string, started time.Time) *Run {
	return &Run{
		Mesh: mesh, Vertices: 642, Faces: 1280, Views: 10, Diagonal: 3.46, OutlierThreshold: 0.07,
		Oracle: "synthetic", Model: "MVLMModel_DTU3D", Channels: "geometry", LineMode: "ray",
		Started: started, Duration: 1500 * time.Millisecond,
	}
}

func TestRecordAndReadRun(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	run := sampleRun("head.obj", started)
	id, err := db.RecordRun(ctx, run, sampleLandmarks())
	if err != nil {
		t.Fatalf("RecordRun: %v", err)
	}
	if id == "" || id != run.ID {
		t.Fatalf("id = %q, run.ID = %q", id, run.ID)
	}
	if run.Fused != 1 || run.SingleView != 1 || run.Missing != 1 {
		t.Errorf("counts = %d/%d/%d", run.Fused, run.SingleView, run.Missing)
	}

	got, err := db.GetRun(ctx, id)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if diff := cmp.Diff(*run, got, cmpopts.EquateApproxTime(time.Millisecond), cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Errorf("run mismatch (-want +got):\n%s", diff)
	}

	lms, err := db.RunLandmarks(ctx, id)
	if err != nil {
		t.Fatalf("RunLandmarks: %v", err)
	}
	if diff := cmp.Diff(sampleLandmarks(), lms, cmpopts.EquateNaNs()); diff != "" {
		t.Errorf("landmarks mismatch (-want +got):\n%s", diff)
	}
}

func TestListRunsNewestFirst(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, name := range []string{"a.obj", "b.obj", "c.obj"} {
		if _, err := db.RecordRun(ctx, sampleRun(name, base.Add(time.Duration(i)*time.Hour)), nil); err != nil {
			t.Fatal(err)
		}
	}

	runs, err := db.ListRuns(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, r := range runs {
		names = append(names, r.Mesh)
	}
	if diff := cmp.Diff([]string{"c.obj", "b.obj", "a.obj"}, names); diff != "" {
		t.Errorf("order (-want +got):\n%s", diff)
	}

	runs, err = db.ListRuns(ctx, 2)
	if err != nil || len(runs) != 2 {
		t.Fatalf("limit 2: %d runs, %v", len(runs), err)
	}
}

func TestRunNotFound(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	if _, err := db.GetRun(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetRun err = %v", err)
	}
	if _, err := db.RunLandmarks(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("RunLandmarks err = %v", err)
	}
	if err := db.DeleteRun(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("DeleteRun err = %v", err)
	}
}

func TestDeleteRunCascades(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	id, err := db.RecordRun(ctx, sampleRun("x.obj", time.Now()), sampleLandmarks())
	if err != nil {
		t.Fatal(err)
	}
	if err := db.DeleteRun(ctx, id); err != nil {
		t.Fatal(err)
	}
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM landmarks WHERE run_id = ?`, id).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("%d landmark rows survived the run", n)
	}
}

func TestRecordRunRollsBack(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	lms := sampleLandmarks()
	lms[1].Index = 0 // duplicate primary key

	run := sampleRun("dup.obj", time.Now())
	if _, err := db.RecordRun(ctx, run, lms); err == nil {
		t.Fatal("expected duplicate landmark index to fail")
	}
	if _, err := db.GetRun(ctx, run.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("run should have been rolled back, err = %v", err)
	}
}

func TestNullableCoordinates(t *testing.T) {
	if nullable(math.NaN()).Valid || nullable(math.Inf(1)).Valid {
		t.Error("non-finite values should be NULL")
	}
	if v := nullable(2.5); !v.Valid || v.Float64 != 2.5 {
		t.Errorf("nullable(2.5) = %+v", v)
	}
}

func TestMigrations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m.db")
	db, err := OpenDB(path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	migrations := MigrationsFS()

	latest, err := LatestMigrationVersion(migrations)
	if err != nil || latest != 2 {
		t.Fatalf("latest = %d, %v", latest, err)
	}
	st, err := db.GetMigrationStatus(migrations)
	if err != nil {
		t.Fatal(err)
	}
	if st.Current != 0 || !st.Pending() {
		t.Errorf("fresh status = %+v", st)
	}

	if err := db.MigrateUp(migrations); err != nil {
		t.Fatal(err)
	}
	if err := db.MigrateUp(migrations); err != nil {
		t.Errorf("second MigrateUp should be a no-op: %v", err)
	}
	if v, dirty, err := db.MigrateVersion(migrations); err != nil || v != 2 || dirty {
		t.Errorf("version = %d dirty=%v err=%v", v, dirty, err)
	}

	if err := db.MigrateDown(migrations); err != nil {
		t.Fatal(err)
	}
	if v, _, _ := db.MigrateVersion(migrations); v != 1 {
		t.Errorf("after down version = %d", v)
	}
	if err := db.MigrateTo(migrations, 2); err != nil {
		t.Fatal(err)
	}
	if err := db.MigrateForce(migrations, 1); err != nil {
		t.Fatal(err)
	}
	if v, _, _ := db.MigrateVersion(migrations); v != 1 {
		t.Errorf("after force version = %d", v)
	}

	if _, err := LatestMigrationVersion(fstest.MapFS{"README": {Data: []byte("x")}}); err == nil {
		t.Error("expected error for a filesystem with no migrations")
	}
	if err := db.MigrateUp(nil); err == nil {
		t.Error("expected error for nil migrations")
	}
}

func TestRunMigrateCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cli.db")
	var out bytes.Buffer

	if err := RunMigrateCommand(nil, path, &out); err == nil {
		t.Error("expected error without an action")
	}
	out.Reset()
	if err := RunMigrateCommand([]string{"status"}, path, &out); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "2 migration(s) pending") {
		t.Errorf("status output:\n%s", out.String())
	}
	out.Reset()
	if err := RunMigrateCommand([]string{"up"}, path, &out); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "Current version: 2 (dirty: false)") {
		t.Errorf("up output:\n%s", out.String())
	}
	if err := RunMigrateCommand([]string{"version", "1"}, path, io.Discard); err != nil {
		t.Fatal(err)
	}
	for _, args := range [][]string{{"version"}, {"force", "x"}, {"sideways"}} {
		if err := RunMigrateCommand(args, path, io.Discard); err == nil {
			t.Errorf("%v: expected error", args)
		}
	}
	out.Reset()
	if err := RunMigrateCommand([]string{"help"}, path, &out); err != nil || !strings.Contains(out.String(), "Usage: mvlm migrate") {
		t.Errorf("help: %v\n%s", err, out.String())
	}
}

func TestAdminRoutes(t *testing.T) {
	db := setupTestDB(t)
	if _, err := db.RecordRun(context.Background(), sampleRun("a.obj", time.Now()), sampleLandmarks()); err != nil {
		t.Fatal(err)
	}
	mux := http.NewServeMux()
	if err := db.AttachAdminRoutes(mux); err != nil {
		t.Fatal(err)
	}

	// exercise the handler directly; the debug mux only serves loopback peers
	rec := httptest.NewRecorder()
	db.serveBackup(rec, httptest.NewRequest(http.MethodGet, "/debug/backup", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("backup status = %d: %s", rec.Code, rec.Body.String())
	}
	gz, err := gzip.NewReader(rec.Body)
	if err != nil {
		t.Fatal(err)
	}
	raw, err := io.ReadAll(gz)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(raw, []byte("SQLite format 3")) {
		t.Errorf("backup is not a sqlite file (%d bytes)", len(raw))
	}
}
