// Package api exposes the coordinator over HTTP: worker endpoints for
// registration, heartbeats, assignment polling and reporting, run endpoints
// for clients, SSE streams for realtime progress, and admin snapshots.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/KareOne/MarketNavigator2.0-sub000/internal/coordinator"
	"github.com/KareOne/MarketNavigator2.0-sub000/internal/observability"
	"github.com/KareOne/MarketNavigator2.0-sub000/internal/queue"
	"github.com/KareOne/MarketNavigator2.0-sub000/internal/registry"
	"github.com/KareOne/MarketNavigator2.0-sub000/internal/stream"
	"github.com/KareOne/MarketNavigator2.0-sub000/pkg/mnapi"
)

type Server struct {
	log       *zap.Logger
	co        *coordinator.Coordinator
	hub       *stream.Hub
	limiter   *rate.Limiter
	keepalive time.Duration
}

type Options struct {
	RunsPerSecond float64
	Burst         int
	Keepalive     time.Duration
}

func NewServer(log *zap.Logger, co *coordinator.Coordinator, hub *stream.Hub, opts Options) *Server {
	if opts.RunsPerSecond <= 0 {
		opts.RunsPerSecond = 5
	}
	if opts.Burst <= 0 {
		opts.Burst = 10
	}
	if opts.Keepalive <= 0 {
		opts.Keepalive = 15 * time.Second
	}
	return &Server{
		log:       log,
		co:        co,
		hub:       hub,
		limiter:   rate.NewLimiter(rate.Limit(opts.RunsPerSecond), opts.Burst),
		keepalive: opts.Keepalive,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/v1/metrics", s.handleMetrics)
	mux.HandleFunc("/v1/metrics/prometheus", s.handleMetricsPrometheus)
	mux.HandleFunc("/v1/workers/register", s.handleRegisterWorker)
	mux.HandleFunc("/v1/workers/", s.handleWorkerSubresource)
	mux.HandleFunc("/v1/tasks/progress", s.handleTaskProgress)
	mux.HandleFunc("/v1/tasks/report", s.handleTaskReport)
	mux.HandleFunc("/v1/runs", s.handleRuns)
	mux.HandleFunc("/v1/runs/", s.handleRunByID)
	mux.HandleFunc("/v1/admin/workers", s.handleAdminWorkers)
	mux.HandleFunc("/v1/admin/queue", s.handleAdminQueue)
	mux.HandleFunc("/v1/admin/stream", s.handleAdminStream)
	return withTracing(s.withLogging(mux))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.co.Health(r.Context()))
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, observability.Default.Snapshot())
}

func (s *Server) handleMetricsPrometheus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_, _ = w.Write([]byte(observability.Default.RenderPrometheus()))
}

func (s *Server) handleRegisterWorker(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req mnapi.RegisterWorkerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	resp, err := s.co.RegisterWorker(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleWorkerSubresource routes /v1/workers/{id}[/heartbeat|/assignments].
func (s *Server) handleWorkerSubresource(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/workers/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusNotFound, "worker id required")
		return
	}
	workerID := parts[0]

	switch {
	case len(parts) == 1 && r.Method == http.MethodDelete:
		if err := s.co.RemoveWorker(workerID); err != nil {
			writeWorkerError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"removed": true})
	case len(parts) == 2 && parts[1] == "heartbeat" && r.Method == http.MethodPost:
		resp, err := s.co.Heartbeat(workerID)
		if err != nil {
			writeWorkerError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	case len(parts) == 2 && parts[1] == "assignments" && r.Method == http.MethodGet:
		resp, err := s.co.PollAssignments(workerID)
		if err != nil {
			writeWorkerError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) handleTaskProgress(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var ev mnapi.StepEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	accepted, err := s.co.ReportStep(r.Context(), ev)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, mnapi.StepEventResponse{Accepted: accepted})
}

func (s *Server) handleTaskReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req mnapi.ReportTaskResultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	accepted, err := s.co.ReportTaskResult(r.Context(), req)
	if err != nil {
		if errors.Is(err, queue.ErrUnknownTask) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, mnapi.ReportTaskResultResponse{Accepted: accepted})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !s.limiter.Allow() {
		writeError(w, http.StatusTooManyRequests, "run submission rate exceeded")
		return
	}
	var req mnapi.StartRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	resp, err := s.co.StartRun(r.Context(), req)
	if err != nil {
		if errors.Is(err, coordinator.ErrUnknownKind) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, resp)
}

// handleRunByID routes /v1/runs/{id}[/stream].
func (s *Server) handleRunByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/runs/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusNotFound, "run id required")
		return
	}
	runID := parts[0]

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		snap, err := s.co.RunSnapshot(r.Context(), runID)
		if err != nil {
			writeRunError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	case len(parts) == 1 && r.Method == http.MethodDelete:
		if err := s.co.CancelRun(r.Context(), runID); err != nil {
			writeRunError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, mnapi.CancelRunResponse{Accepted: true})
	case len(parts) == 2 && parts[1] == "stream" && r.Method == http.MethodGet:
		s.streamRunEvents(w, r, runID)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

// streamRunEvents serves SSE: a history snapshot first, then live events
// until the run finishes or the client goes away.
func (s *Server) streamRunEvents(w http.ResponseWriter, r *http.Request, runID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// Subscribe before reading the snapshot so no event falls in the gap.
	sub := s.hub.Subscribe(stream.RunScope(runID))
	defer sub.Close()

	snap, err := s.co.RunSnapshot(r.Context(), runID)
	if err != nil {
		if errors.Is(err, coordinator.ErrUnknownRun) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	_ = writeSSEEvent(w, "history", snap)
	flusher.Flush()
	if snap.Status == "completed" || snap.Status == "failed" {
		return
	}

	keepaliveTicker := time.NewTicker(s.keepalive)
	defer keepaliveTicker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepaliveTicker.C:
			_, _ = w.Write([]byte(": keepalive\n\n"))
			flusher.Flush()
		case ev, open := <-sub.Events():
			if !open {
				return
			}
			_ = writeSSEEvent(w, ev.Name, ev.Payload)
			flusher.Flush()
			if rs, ok := ev.Payload.(mnapi.RunSnapshot); ok && (rs.Status == "completed" || rs.Status == "failed") {
				return
			}
		}
	}
}

func (s *Server) handleAdminWorkers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.co.WorkersSnapshot())
}

func (s *Server) handleAdminQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.co.QueueSnapshot())
}

// handleAdminStream serves every event in the system over one SSE channel.
func (s *Server) handleAdminStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	sub := s.hub.Subscribe(stream.ScopeAdmin)
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	_ = writeSSEEvent(w, "history", map[string]any{
		"workers": s.co.WorkersSnapshot(),
		"queue":   s.co.QueueSnapshot(),
		"health":  s.co.Health(r.Context()),
	})
	flusher.Flush()

	keepaliveTicker := time.NewTicker(s.keepalive)
	defer keepaliveTicker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepaliveTicker.C:
			_, _ = w.Write([]byte(": keepalive\n\n"))
			flusher.Flush()
		case ev, open := <-sub.Events():
			if !open {
				return
			}
			_ = writeSSEEvent(w, ev.Name, ev.Payload)
			flusher.Flush()
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, event string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := w.Write([]byte("event: " + event + "\n")); err != nil {
		return err
	}
	if _, err := w.Write([]byte("data: " + string(b) + "\n\n")); err != nil {
		return err
	}
	return nil
}

func writeWorkerError(w http.ResponseWriter, err error) {
	if errors.Is(err, registry.ErrUnknownWorker) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeError(w, http.StatusBadRequest, err.Error())
}

func writeRunError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, coordinator.ErrUnknownRun):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeError(w, http.StatusConflict, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		s.log.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", sw.status),
			zap.Duration("duration", time.Since(start)))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func withTracing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := observability.StartSpan(r.Context(), "http.request",
			attribute.String("http.method", r.Method),
			attribute.String("http.path", r.URL.Path),
		)
		defer span.End()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		traceID := span.SpanContext().TraceID().String()
		if traceID != "" {
			sw.Header().Set("X-Trace-ID", traceID)
		}
		next.ServeHTTP(sw, r.WithContext(ctx))
		span.SetAttributes(attribute.Int("http.status_code", sw.status))
	})
}
