package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/mvlm/internal/landmark"
)

// ErrNotFound is returned when a run ID has no row.
var ErrNotFound = errors.New("run not found")

// Run is one landmarking pass over one mesh.
type Run struct {
	ID               string        `json:"run_id"`
	Mesh             string        `json:"mesh"`
	Vertices         int           `json:"vertices"`
	Faces            int           `json:"faces"`
	Views            int           `json:"views"`
	Diagonal         float64       `json:"diagonal"`
	OutlierThreshold float64       `json:"outlier_threshold"`
	Oracle           string        `json:"oracle"`
	Model            string        `json:"model"`
	Channels         string        `json:"channels"`
	LineMode         string        `json:"line_mode"`
	Fused            int           `json:"fused"`
	SingleView       int           `json:"single_view"`
	Missing          int           `json:"missing"`
	Started          time.Time     `json:"started"`
	Duration         time.Duration `json:"duration_ns"`
}

// CountStatuses fills the per-status tallies from lms.
func (r *Run) CountStatuses(lms []landmark.Landmark) {
	r.Fused, r.SingleView, r.Missing = 0, 0, 0
	for _, l := range lms {
		switch l.Status {
		case landmark.StatusFused:
			r.Fused++
		case landmark.StatusSingleView:
			r.SingleView++
		default:
			r.Missing++
		}
	}
}

func nullable(v float64) sql.NullFloat64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

func orNaN(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}

// RecordRun stores run and its landmarks in one transaction. An empty
// run.ID is replaced with a new UUID; the ID used is returned.
func (db *DB) RecordRun(ctx context.Context, run *Run, lms []landmark.Landmark) (string, error) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	run.CountStatuses(lms)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT INTO runs (
			run_id, mesh, vertices, faces, views, diagonal, outlier_threshold,
			oracle, model, channels, line_mode, fused, single_view, missing,
			started_unix, duration_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Mesh, run.Vertices, run.Faces, run.Views, run.Diagonal, run.OutlierThreshold,
		run.Oracle, run.Model, run.Channels, run.LineMode, run.Fused, run.SingleView, run.Missing,
		float64(run.Started.UnixNano())/1e9, float64(run.Duration)/float64(time.Millisecond),
	)
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO landmarks (
			run_id, landmark_index, name, status, x, y, z, fused_x, fused_y, fused_z,
			face, valid_views, inlier_views, total_views, confidence,
			projection_distance, far_from_surface
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return "", err
	}
	defer stmt.Close()
	for _, l := range lms {
		_, err := stmt.ExecContext(ctx,
			run.ID, l.Index, l.Name, l.Status.String(),
			nullable(l.Point.X), nullable(l.Point.Y), nullable(l.Point.Z),
			nullable(l.Fused.X), nullable(l.Fused.Y), nullable(l.Fused.Z),
			l.Face, l.ValidViews, l.InlierViews, l.TotalViews, l.Confidence,
			nullable(l.ProjectionDistance), l.FarFromSurface,
		)
		if err != nil {
			return "", fmt.Errorf("insert landmark %d: %w", l.Index, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return run.ID, nil
}

const runColumns = `run_id, mesh, vertices, faces, views, diagonal, outlier_threshold,
	oracle, model, channels, line_mode, fused, single_view, missing, started_unix, duration_ms`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var (
		r          Run
		started    float64
		durationMS float64
	)
	err := row.Scan(&r.ID, &r.Mesh, &r.Vertices, &r.Faces, &r.Views, &r.Diagonal, &r.OutlierThreshold,
		&r.Oracle, &r.Model, &r.Channels, &r.LineMode, &r.Fused, &r.SingleView, &r.Missing,
		&started, &durationMS)
	if err != nil {
		return Run{}, err
	}
	sec, frac := math.Modf(started)
	r.Started = time.Unix(int64(sec), int64(frac*1e9)).UTC()
	r.Duration = time.Duration(durationMS * float64(time.Millisecond))
	return r, nil
}

// ListRuns returns the most recent runs first, at most limit of them. A
// non-positive limit means 100.
func (db *DB) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs
		ORDER BY started_unix DESC, run_id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetRun returns one run by ID.
func (db *DB) GetRun(ctx context.Context, id string) (Run, error) {
	r, err := scanRun(db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return r, err
}

// RunLandmarks returns the landmarks of a run in index order.
func (db *DB) RunLandmarks(ctx context.Context, id string) ([]landmark.Landmark, error) {
	if _, err := db.GetRun(ctx, id); err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `SELECT landmark_index, name, status, x, y, z, fused_x, fused_y, fused_z,
			face, valid_views, inlier_views, total_views, confidence, projection_distance, far_from_surface
		FROM landmarks WHERE run_id = ? ORDER BY landmark_index`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []landmark.Landmark{}
	for rows.Next() {
		var (
			l                      landmark.Landmark
			status                 string
			x, y, z, fx, fy, fz, d sql.NullFloat64
		)
		if err := rows.Scan(&l.Index, &l.Name, &status, &x, &y, &z, &fx, &fy, &fz,
			&l.Face, &l.ValidViews, &l.InlierViews, &l.TotalViews, &l.Confidence, &d, &l.FarFromSurface); err != nil {
			return nil, err
		}
		if l.Status, err = landmark.ParseStatus(status); err != nil {
			return nil, err
		}
		l.Point = r3.Vec{X: orNaN(x), Y: orNaN(y), Z: orNaN(z)}
		l.Fused = r3.Vec{X: orNaN(fx), Y: orNaN(fy), Z: orNaN(fz)}
		l.ProjectionDistance = orNaN(d)
		out = append(out, l)
	}
	return out, rows.Err()
}

// DeleteRun removes a run and its landmarks.
func (db *DB) DeleteRun(ctx context.Context, id string) error {
	res, err := db.ExecContext(ctx, `DELETE FROM runs WHERE run_id = ?`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}
