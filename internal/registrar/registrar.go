// Package registrar creates jobs and registers their resumption tokens.
package registrar

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"waitpoint/internal/apperrors"
	"waitpoint/internal/job"
	"waitpoint/internal/observability"
	"waitpoint/internal/token"
)

// Validation limits
const (
	maxTaskTokenLength   = 4096
	maxExecutionIDLength = 256
	maxRecordIDLength    = 128
	maxAttemptsLimit     = 100
	maxTimeoutMinutes    = 1440 // 24 hours
	maxIntervalMinutes   = 60
)

// recordIDPattern allows alphanumeric, hyphens, and underscores
var recordIDPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]*$`)

// Request registers one waiting workflow step.
type Request struct {
	TaskToken   string              `json:"taskToken"`
	ExecutionID string              `json:"executionId"`
	Polling     token.PollingConfig `json:"pollingConfig"`
	Record      *job.Record         `json:"record"`
}

// Response acknowledges registration; the job is created and polling begins.
type Response struct {
	JobID       string       `json:"jobId"`
	Status      token.Status `json:"status"`
	MaxAttempts int          `json:"maxAttempts"`
	ExpiresAt   time.Time    `json:"expiresAt"`
}

// Service creates jobs on a backend and persists the token alongside.
//
// The Service is stateless - token and job state live in the stores.
// Creation is job-first: if the token persist fails after the job was
// started, the error propagates and the caller never observes success.
// The orphan job is harmless; no token means nothing will ever poll it.
type Service struct {
	backend job.Backend
	tokens  token.Store
	metrics *observability.Metrics
	now     func() time.Time
}

// NewService creates a registrar service.
func NewService(backend job.Backend, tokens token.Store, metrics *observability.Metrics) *Service {
	return &Service{
		backend: backend,
		tokens:  tokens,
		metrics: metrics,
		now:     time.Now,
	}
}

// Create validates the request, starts the job, and registers its token.
// Note: This method applies defaults to the request before validation.
func (s *Service) Create(ctx context.Context, req *Request) (*Response, error) {
	applyDefaults(req)
	if err := validate(req); err != nil {
		return nil, err
	}

	created, err := s.backend.Create(ctx, req.Record)
	if err != nil {
		slog.Error("Job creation failed", "executionId", req.ExecutionID, "error", err)
		return nil, err
	}

	logger := slog.With("jobId", created.ID, "executionId", req.ExecutionID)

	now := s.now().UTC()
	rec := &token.Record{
		JobID:        created.ID,
		TaskToken:    req.TaskToken,
		ExecutionID:  req.ExecutionID,
		AttemptCount: 0,
		MaxAttempts:  req.Polling.MaxAttempts,
		Status:       token.StatusPolling,
		CreatedAt:    now,
		ExpiresAt:    now.Add(time.Duration(req.Polling.TimeoutMinutes) * time.Minute),
	}
	if err := s.tokens.Put(ctx, rec); err != nil {
		logger.Error("Token registration failed after job creation", "error", err)
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.RecordTokenCreated(ctx)
	}

	logger.Info("Job registered", "maxAttempts", rec.MaxAttempts, "expiresAt", rec.ExpiresAt)

	return &Response{
		JobID:       created.ID,
		Status:      token.StatusPolling,
		MaxAttempts: rec.MaxAttempts,
		ExpiresAt:   rec.ExpiresAt,
	}, nil
}

// applyDefaults sets default values for unspecified request fields.
func applyDefaults(req *Request) {
	if req.Record == nil {
		req.Record = &job.Record{}
	}
	if req.Polling.IntervalMinutes <= 0 {
		req.Polling.IntervalMinutes = 1
	}
	if req.Polling.MaxAttempts <= 0 {
		req.Polling.MaxAttempts = 3
	}
	if req.Polling.TimeoutMinutes <= 0 {
		req.Polling.TimeoutMinutes = 10
	}
}

// validate validates a registration request. Does not modify the request.
func validate(req *Request) error {
	if req.TaskToken == "" {
		return apperrors.Validation("taskToken", "task token is required")
	}
	if len(req.TaskToken) > maxTaskTokenLength {
		return apperrors.Validation("taskToken", fmt.Sprintf("task token exceeds maximum length of %d", maxTaskTokenLength))
	}

	if req.ExecutionID == "" {
		return apperrors.Validation("executionId", "execution ID is required")
	}
	if len(req.ExecutionID) > maxExecutionIDLength {
		return apperrors.Validation("executionId", fmt.Sprintf("execution ID exceeds maximum length of %d", maxExecutionIDLength))
	}

	if req.Record.ID != "" {
		if len(req.Record.ID) > maxRecordIDLength {
			return apperrors.Validation("record.id", fmt.Sprintf("record ID exceeds maximum length of %d", maxRecordIDLength))
		}
		if !recordIDPattern.MatchString(req.Record.ID) {
			return apperrors.Validation("record.id", "record ID must be alphanumeric (hyphens and underscores allowed, cannot start with hyphen/underscore)")
		}
	}

	if req.Polling.MaxAttempts > maxAttemptsLimit {
		return apperrors.Validation("pollingConfig.maxAttempts", fmt.Sprintf("maxAttempts exceeds maximum of %d", maxAttemptsLimit))
	}
	if req.Polling.TimeoutMinutes > maxTimeoutMinutes {
		return apperrors.Validation("pollingConfig.timeoutMinutes", fmt.Sprintf("timeoutMinutes exceeds maximum of %d", maxTimeoutMinutes))
	}
	if req.Polling.IntervalMinutes > maxIntervalMinutes {
		return apperrors.Validation("pollingConfig.intervalMinutes", fmt.Sprintf("intervalMinutes exceeds maximum of %d", maxIntervalMinutes))
	}

	return nil
}
