package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"strconv"
	"time"

	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/coverage.explorer/internal/coverage"
	"github.com/banshee-data/coverage.explorer/internal/db"
	"github.com/banshee-data/coverage.explorer/internal/explore"
	"github.com/banshee-data/coverage.explorer/internal/httputil"
	"github.com/banshee-data/coverage.explorer/internal/monitoring"
	"github.com/banshee-data/coverage.explorer/internal/render"
	"github.com/banshee-data/coverage.explorer/internal/version"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// RunStore is the run history the API can browse.
type RunStore interface {
	ListRuns(limit int) ([]db.RunRecord, error)
	GetRun(id string) (*db.RunRecord, error)
	Recenters(id string) ([]db.RecenterRecord, error)
}

// SnapshotStore serves the plan image saved when a run started.
type SnapshotStore interface {
	Snapshot(id string) ([]byte, error)
}

type Server struct {
	ctx       context.Context
	explorer  *explore.Server
	runs      RunStore
	snapshots SnapshotStore
}

// NewServer serves explorer over HTTP. Tasks run under ctx, not under the
// request that started them. runs may be nil.
func NewServer(ctx context.Context, explorer *explore.Server, runs RunStore) *Server {
	return &Server{ctx: ctx, explorer: explorer, runs: runs}
}

// WithSnapshots enables GET /api/runs/{id}/snapshot.png.
func (s *Server) WithSnapshots(snaps SnapshotStore) *Server {
	s.snapshots = snaps
	return s
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
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

// LoggingMiddleware logs method, path, query, status, and duration
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
	mux.HandleFunc("/api/explore", s.startTask)
	mux.HandleFunc("/api/explore/preempt", s.preemptTask)
	mux.HandleFunc("/api/explore/status", s.showStatus)
	mux.HandleFunc("/api/explore/feedback", s.streamFeedback)
	mux.HandleFunc("/api/explore/plan", s.showActivePlan)
	mux.HandleFunc("/api/plan", s.previewPlan)
	mux.HandleFunc("/api/runs", s.listRuns)
	mux.HandleFunc("/api/runs/{id}", s.showRun)
	mux.HandleFunc("/api/runs/{id}/snapshot.png", s.showSnapshot)
	mux.HandleFunc("/api/config", s.showConfig)
	mux.HandleFunc("/api/version", s.showVersion)
	return mux
}

func (s *Server) startTask(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	var req TaskRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	task, err := req.Task()
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	run, err := s.explorer.Start(s.ctx, task)
	if errors.Is(err, explore.ErrTaskActive) || errors.Is(err, explore.ErrDuplicateTask) {
		httputil.Conflict(w, err.Error())
		return
	}
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to start task: %v", err))
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, StartResponse{TaskID: run.ID(), State: run.Status().State.String()})
}

func (s *Server) preemptTask(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, PreemptResponse{Preempted: s.explorer.Preempt()})
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	st, ok := s.explorer.Status()
	if !ok {
		httputil.NotFound(w, "no task has been started")
		return
	}
	httputil.WriteJSONOK(w, statusResponse(st))
}

// streamFeedback relays the current task's positions as server-sent
// events and finishes with its outcome.
func (s *Server) streamFeedback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	run := s.explorer.Current()
	if run == nil {
		httputil.NotFound(w, "no task has been started")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.InternalServerError(w, "Streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	feedback := run.Feedback()
	defer run.Unsubscribe(feedback)

	w.Write([]byte(": ping\n\n"))
	flusher.Flush()

	send := func(event string, v interface{}) bool {
		data, err := json.Marshal(v)
		if err != nil {
			monitoring.Logf("[api] ERROR: encode %s event: %v", event, err)
			return false
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	for {
		select {
		case fb, ok := <-feedback:
			if !ok {
				out, err := run.Wait(r.Context())
				if err != nil {
					return
				}
				send("outcome", OutcomeEvent{TaskID: run.ID(), State: out.State.String(), Reason: out.Reason})
				return
			}
			if !send("feedback", FeedbackEvent{Position: pointOf(fb.Position), At: fb.At}) {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) showActivePlan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	run := s.explorer.Current()
	if run == nil {
		httputil.NotFound(w, "no task has been started")
		return
	}
	plan := run.Plan()
	if len(plan.Waypoints) == 0 {
		httputil.NotFound(w, "task has no plan")
		return
	}
	robot := run.Status().Position
	s.writePlan(w, r, plan, &robot)
}

func (s *Server) previewPlan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	var req TaskRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	task, err := req.Task()
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	plan, err := s.explorer.Preview(task.Boundary)
	if err != nil {
		httputil.WriteJSONError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	s.writePlan(w, r, plan, nil)
}

// writePlan answers with JSON, or with a chart when ?format=html|png.
func (s *Server) writePlan(w http.ResponseWriter, r *http.Request, plan coverage.Plan, robot *r3.Vec) {
	opts := render.Options{Robot: robot}
	var (
		buf         bytes.Buffer
		contentType string
		err         error
	)
	switch format := r.URL.Query().Get("format"); format {
	case "", "json":
		httputil.WriteJSONOK(w, NewPlanResponse(plan))
		return
	case "html":
		contentType = "text/html; charset=utf-8"
		err = render.PlanHTML(&buf, plan, opts)
	case "png":
		contentType = "image/png"
		err = render.WritePlanPNG(&buf, plan, 6*vg.Inch, opts)
	default:
		httputil.BadRequest(w, fmt.Sprintf("unknown format %q", format))
		return
	}
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to render plan: %v", err))
		return
	}
	w.Header().Set("Content-Type", contentType)
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.runs == nil {
		httputil.NotFound(w, "run history is disabled")
		return
	}
	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 || parsed > 1000 {
			httputil.BadRequest(w, "Invalid 'limit' parameter")
			return
		}
		limit = parsed
	}
	runs, err := s.runs.ListRuns(limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to retrieve runs: %v", err))
		return
	}
	if runs == nil {
		runs = []db.RunRecord{}
	}
	httputil.WriteJSONOK(w, runs)
}

func (s *Server) showRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.runs == nil {
		httputil.NotFound(w, "run history is disabled")
		return
	}
	id := r.PathValue("id")
	run, err := s.runs.GetRun(id)
	if errors.Is(err, db.ErrRunNotFound) {
		httputil.NotFound(w, err.Error())
		return
	}
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to retrieve run: %v", err))
		return
	}
	recenters, err := s.runs.Recenters(id)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to retrieve recenters: %v", err))
		return
	}
	if recenters == nil {
		recenters = []db.RecenterRecord{}
	}
	httputil.WriteJSONOK(w, struct {
		*db.RunRecord
		RecenterLog []db.RecenterRecord `json:"recenter_log"`
	}{run, recenters})
}

func (s *Server) showSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.snapshots == nil {
		httputil.NotFound(w, "plan snapshots are disabled")
		return
	}
	data, err := s.snapshots.Snapshot(r.PathValue("id"))
	if errors.Is(err, fs.ErrNotExist) {
		httputil.NotFound(w, "no snapshot for this run")
		return
	}
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to read snapshot: %v", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	_, _ = w.Write(data)
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	p := s.explorer.Params()
	httputil.WriteJSONOK(w, map[string]interface{}{
		"goal_spacing":      p.Coverage.GoalSpacing,
		"row_width":         p.Coverage.RowWidth,
		"padding":           p.Coverage.Padding,
		"max_waypoints":     p.Coverage.MaxWaypoints,
		"global_frame":      p.GlobalFrame,
		"base_frame":        p.BaseFrame,
		"tick_interval":     p.TickInterval.String(),
		"transform_timeout": p.TransformTimeout.String(),
		"transform_retry":   p.TransformRetry.String(),
		"server_timeout":    p.ServerTimeout.String(),
	})
}

func (s *Server) showVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, version.Get())
}
