// Package api provides the HTTP API handlers and routing for the waitpoint service.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"waitpoint/internal/apperrors"
	"waitpoint/internal/health"
	"waitpoint/internal/job"
	"waitpoint/internal/poller"
	"waitpoint/internal/registrar"
	"waitpoint/internal/token"
)

// maxRequestBodySize limits request body to 1MB to prevent memory exhaustion
const maxRequestBodySize = 1 << 20 // 1 MB

// Handler contains HTTP handlers for the waitpoint API
type Handler struct {
	registrar *registrar.Service
	poller    *poller.Poller
	tokens    token.Store
	jobs      job.Store
	health    *health.Checker
}

// NewHandler creates a new API handler
func NewHandler(reg *registrar.Service, p *poller.Poller, tokens token.Store, jobs job.Store, healthChecker *health.Checker) *Handler {
	return &Handler{
		registrar: reg,
		poller:    p,
		tokens:    tokens,
		jobs:      jobs,
		health:    healthChecker,
	}
}

// JobView is the combined token + job status returned by GetJob.
type JobView struct {
	Token *token.Record `json:"token"`
	Job   *job.Job      `json:"job,omitempty"`
}

// ListResponse is the response for ListJobs.
type ListResponse struct {
	Jobs []*token.Record `json:"jobs"`
}

// CreateJob handles POST /v1/jobs
func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	// Limit request body size to prevent memory exhaustion
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req registrar.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	resp, err := h.registrar.Create(r.Context(), &req)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusAccepted, resp)
}

// Poll handles POST /v1/jobs/{jobId}/poll
func (h *Handler) Poll(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("jobId")
	if jobID == "" {
		h.writeError(w, http.StatusBadRequest, "Job ID is required")
		return
	}

	res, err := h.poller.Poll(r.Context(), jobID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, res)
}

// Expire handles POST /v1/jobs/{jobId}/expire
func (h *Handler) Expire(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("jobId")
	if jobID == "" {
		h.writeError(w, http.StatusBadRequest, "Job ID is required")
		return
	}

	res, err := h.poller.Expire(r.Context(), jobID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, res)
}

// GetJob handles GET /v1/jobs/{jobId}
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("jobId")
	if jobID == "" {
		h.writeError(w, http.StatusBadRequest, "Job ID is required")
		return
	}

	rec, err := h.tokens.Get(r.Context(), jobID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	view := &JobView{Token: rec}
	j, err := h.jobs.Get(r.Context(), jobID)
	switch {
	case err == nil:
		view.Job = j
	case !errors.Is(err, apperrors.ErrNotFound):
		h.handleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, view)
}

// ListJobs handles GET /v1/jobs
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	records, err := h.tokens.List(r.Context())
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, &ListResponse{Jobs: records})
}

// Livez handles GET /livez - liveness probe.
// Returns 200 if the process is alive. Does not check dependencies.
func (h *Handler) Livez(w http.ResponseWriter, r *http.Request) {
	response := h.health.Liveness(r.Context())
	h.writeJSON(w, http.StatusOK, response)
}

// Readyz handles GET /readyz - readiness probe.
// Returns 200 if the service is ready to accept traffic.
// Returns 503 if dependencies (store, job backend) are unavailable.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	response := h.health.Readiness(r.Context())

	status := http.StatusOK
	if !response.IsHealthy() {
		status = http.StatusServiceUnavailable
	}

	h.writeJSON(w, status, response)
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// writeError writes an error response
func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// handleError handles errors from service layer with appropriate HTTP status codes.
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatus(err)
	if status >= 500 {
		slog.Error("Internal error", "error", err, "path", r.URL.Path)
	} else {
		slog.Warn("Client error", "error", err, "path", r.URL.Path, "status", status)
	}
	h.writeError(w, status, err.Error())
}
