package httphandler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ericfisherdev/qabot/internal/application"
	"github.com/ericfisherdev/qabot/internal/domain/port/driven"
)

const (
	defaultVerdictLimit = 50
	maxVerdictLimit     = 500
)

// PassControl triggers and reports orchestrator passes. *application.Scheduler
// implements it.
type PassControl interface {
	RunNow(ctx context.Context) (application.PassSummary, error)
	Last() (application.PassSummary, bool)
	NextRun() time.Time
}

// Handler is the HTTP driving adapter that serves the REST API.
type Handler struct {
	health   *application.HealthService
	passes   PassControl
	verdicts driven.VerdictStore
	builds   driven.BuildStore
	logger   *slog.Logger
}

// NewHandler creates a Handler. verdicts and builds may be nil when the
// audit store is disabled; their endpoints then answer 503.
func NewHandler(
	health *application.HealthService,
	passes PassControl,
	verdicts driven.VerdictStore,
	builds driven.BuildStore,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		health:   health,
		passes:   passes,
		verdicts: verdicts,
		builds:   builds,
		logger:   logger,
	}
}

// NewServeMux creates an http.Handler with all routes registered and wrapped
// with request id, logging and recovery middleware.
func NewServeMux(h *Handler, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/health", h.Health)
	mux.HandleFunc("GET /api/v1/passes/last", h.LastPass)
	mux.HandleFunc("POST /api/v1/passes", h.RunPass)
	mux.HandleFunc("GET /api/v1/verdicts", h.ListVerdicts)
	mux.HandleFunc("GET /api/v1/requests/{id}/verdict", h.GetVerdict)
	mux.HandleFunc("GET /api/v1/builds", h.ListBuilds)
	mux.HandleFunc("GET /requests/{id}/report", h.Report)

	// Recovery innermost so panics are caught before logging.
	wrapped := recoveryMiddleware(logger, mux)
	wrapped = loggingMiddleware(logger, wrapped)
	wrapped = requestIDMiddleware(wrapped)

	return wrapped
}

// Health reports service health derived from the last pass. A degraded
// service answers 503 so container probes notice.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	summary := h.health.Summary()

	resp := HealthResponse{
		Status: summary.Status,
		Reason: summary.Reason,
		Time:   time.Now().UTC().Format(time.RFC3339),
	}
	if summary.LastPass != nil {
		resp.LastPassID = summary.LastPass.ID
		resp.LastPassAt = formatTime(summary.LastPass.FinishedAt)
	}

	status := http.StatusOK
	if summary.Status == application.HealthDegraded {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// LastPass returns the summary of the most recent pass.
func (h *Handler) LastPass(w http.ResponseWriter, _ *http.Request) {
	last, ok := h.passes.Last()
	if !ok {
		writeError(w, http.StatusNotFound, "no pass has run yet")
		return
	}

	resp := toPassResponse(last)
	resp.NextRunAt = formatTime(h.passes.NextRun())
	writeJSON(w, http.StatusOK, resp)
}

// RunPass runs a pass immediately and returns its summary. It blocks until
// the pass ends.
func (h *Handler) RunPass(w http.ResponseWriter, r *http.Request) {
	summary, err := h.passes.RunNow(r.Context())
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			writeError(w, http.StatusServiceUnavailable, "pass did not complete")
			return
		}
		h.logger.Error("manual pass failed", "pass", summary.ID, "error", err)
		writeJSON(w, http.StatusBadGateway, toPassResponse(summary))
		return
	}

	writeJSON(w, http.StatusOK, toPassResponse(summary))
}

// ListVerdicts returns the most recent verdicts, newest first.
func (h *Handler) ListVerdicts(w http.ResponseWriter, r *http.Request) {
	if h.verdicts == nil {
		writeError(w, http.StatusServiceUnavailable, "audit store disabled")
		return
	}

	limit := defaultVerdictLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxVerdictLimit)
	}

	records, err := h.verdicts.ListVerdicts(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list verdicts", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]VerdictResponse, 0, len(records))
	for _, rec := range records {
		resp = append(resp, toVerdictResponse(rec))
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetVerdict returns the latest verdict recorded for a request.
func (h *Handler) GetVerdict(w http.ResponseWriter, r *http.Request) {
	if h.verdicts == nil {
		writeError(w, http.StatusServiceUnavailable, "audit store disabled")
		return
	}

	id := r.PathValue("id")
	rec, err := h.verdicts.LatestVerdict(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to get verdict", "request", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if rec == nil {
		writeError(w, http.StatusNotFound, "no verdict for request")
		return
	}

	writeJSON(w, http.StatusOK, toVerdictResponse(*rec))
}

// ListBuilds returns the latest recorded build of every fixed target.
func (h *Handler) ListBuilds(w http.ResponseWriter, r *http.Request) {
	if h.builds == nil {
		writeError(w, http.StatusServiceUnavailable, "audit store disabled")
		return
	}

	records, err := h.builds.ListLatestBuilds(r.Context())
	if err != nil {
		h.logger.Error("failed to list builds", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]BuildResponse, 0, len(records))
	for _, rec := range records {
		resp = append(resp, toBuildResponse(rec))
	}

	writeJSON(w, http.StatusOK, resp)
}
