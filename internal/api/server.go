// Package api serves stored landmarking runs over HTTP.
package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/mvlm/internal/db"
	"github.com/banshee-data/mvlm/internal/httputil"
	"github.com/banshee-data/mvlm/internal/landmark"
	"github.com/banshee-data/mvlm/internal/monitoring"
	"github.com/banshee-data/mvlm/internal/pointio"
	"github.com/banshee-data/mvlm/internal/report"
	"github.com/banshee-data/mvlm/internal/security"
)

// ANSI escape codes for status colouring in the request log
const (
	colorCyan      = "\033[36m"
	colorReset     = "\033[0m"
	colorYellow    = "\033[33m"
	colorBoldGreen = "\033[1;32m"
	colorBoldRed   = "\033[1;31m"
)

// RunStore is the part of the results database the server reads.
type RunStore interface {
	ListRuns(ctx context.Context, limit int) ([]db.Run, error)
	GetRun(ctx context.Context, id string) (db.Run, error)
	RunLandmarks(ctx context.Context, id string) ([]landmark.Landmark, error)
	DeleteRun(ctx context.Context, id string) error
}

type Server struct {
	store RunStore
}

func NewServer(store RunStore) *Server {
	return &Server{store: store}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, status and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/runs", s.listRuns)
	mux.HandleFunc("GET /api/runs/{id}", s.showRun)
	mux.HandleFunc("DELETE /api/runs/{id}", s.deleteRun)
	mux.HandleFunc("GET /api/runs/{id}/landmarks", s.runLandmarks)
	mux.HandleFunc("GET /runs/{id}/chart", s.runChart)
	mux.HandleFunc("GET /runs/{id}/support.png", s.runSupport)
	return mux
}

// RunDetail is a run with its landmark summary.
type RunDetail struct {
	db.Run
	Summary report.Summary `json:"summary"`
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			httputil.BadRequest(w, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}
	runs, err := s.store.ListRuns(r.Context(), limit)
	if err != nil {
		httputil.InternalError(w, fmt.Sprintf("failed to list runs: %v", err))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, runs)
}

// loadRun fetches the run named in the path and its landmarks, replying with
// an error itself when that fails.
func (s *Server) loadRun(w http.ResponseWriter, r *http.Request) (db.Run, []landmark.Landmark, bool) {
	id := r.PathValue("id")
	run, err := s.store.GetRun(r.Context(), id)
	if err == nil {
		var lms []landmark.Landmark
		if lms, err = s.store.RunLandmarks(r.Context(), id); err == nil {
			return run, lms, true
		}
	}
	if errors.Is(err, db.ErrNotFound) {
		httputil.NotFound(w, fmt.Sprintf("run %q not found", id))
	} else {
		httputil.InternalError(w, fmt.Sprintf("failed to load run: %v", err))
	}
	return db.Run{}, nil, false
}

func (s *Server) showRun(w http.ResponseWriter, r *http.Request) {
	run, lms, ok := s.loadRun(w, r)
	if !ok {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, RunDetail{Run: run, Summary: report.Summarize(lms)})
}

func (s *Server) deleteRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.DeleteRun(r.Context(), id); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			httputil.NotFound(w, fmt.Sprintf("run %q not found", id))
			return
		}
		httputil.InternalError(w, fmt.Sprintf("failed to delete run: %v", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// runLandmarks serves the landmarks as JSON records, or as a point file
// when ?format=vtk or ?format=txt is given.
func (s *Server) runLandmarks(w http.ResponseWriter, r *http.Request) {
	format := pointio.JSON
	switch f := r.URL.Query().Get("format"); f {
	case "", "json":
	case "vtk":
		format = pointio.VTK
	case "txt":
		format = pointio.TXT
	default:
		httputil.BadRequest(w, fmt.Sprintf("unknown format %q", f))
		return
	}
	run, lms, ok := s.loadRun(w, r)
	if !ok {
		return
	}

	var buf bytes.Buffer
	if err := pointio.Write(&buf, format, lms); err != nil {
		httputil.InternalError(w, fmt.Sprintf("failed to encode landmarks: %v", err))
		return
	}
	if format == pointio.JSON {
		w.Header().Set("Content-Type", "application/json")
	} else {
		base := strings.TrimSuffix(run.Mesh, filepath.Ext(run.Mesh))
		name := security.SanitizeFilename(base) + "_landmarks." + format.String()
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	}
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) runChart(w http.ResponseWriter, r *http.Request) {
	run, lms, ok := s.loadRun(w, r)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := report.Scatter3D(&buf, run.Mesh, nil, lms); err != nil {
		httputil.InternalError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) runSupport(w http.ResponseWriter, r *http.Request) {
	run, lms, ok := s.loadRun(w, r)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := report.SupportChart(&buf, run.Mesh, lms); err != nil {
		httputil.InternalError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(buf.Bytes())
}
