// Package poller drives the token state machine.
//
// Each Poll invocation is one attempt: the attempt counter is durably
// incremented before the job is consulted, the POLLING→terminal transition
// is a compare-and-swap, and the resume notification is issued only by the
// invocation that won the swap, only after the terminal status is committed.
// Losing the swap is not an error; the loser reports the current terminal
// status without side effects, which is what makes duplicate and concurrent
// polls safe.
package poller

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"waitpoint/internal/job"
	"waitpoint/internal/observability"
	"waitpoint/internal/resume"
	"waitpoint/internal/token"
)

// StatusInProgress is the poll outcome while the job is still running.
// It mirrors the job's status; the token stays POLLING underneath.
const StatusInProgress = token.Status(job.StatusInProgress)

// Result is the outcome of one poll invocation.
//
// Status reports IN_PROGRESS while the job is still running (the token
// itself stays POLLING) and the token's terminal status otherwise.
// Reconnected is true exactly when this invocation performed the
// POLLING→terminal transition and issued the resume notification.
// Error carries a notification-delivery failure; the token is already
// terminal when it is set.
type Result struct {
	JobID       string       `json:"jobId"`
	Status      token.Status `json:"status"`
	Attempt     int          `json:"attempt,omitempty"`
	MaxAttempts int          `json:"maxAttempts,omitempty"`
	Reconnected bool         `json:"reconnected,omitempty"`
	Error       string       `json:"error,omitempty"`
}

// Poller checks job progress and resumes the workflow on completion.
type Poller struct {
	backend  job.Backend
	tokens   token.Store
	notifier resume.Notifier
	metrics  *observability.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a poller.
func New(backend job.Backend, tokens token.Store, notifier resume.Notifier, metrics *observability.Metrics) *Poller {
	return &Poller{
		backend:  backend,
		tokens:   tokens,
		notifier: notifier,
		metrics:  metrics,
		logger:   slog.With("component", "poller"),
		now:      time.Now,
	}
}

// Poll runs one attempt of the state machine for the given job.
// Unknown job IDs return apperrors.NotFound; store failures propagate.
func (p *Poller) Poll(ctx context.Context, jobID string) (*Result, error) {
	start := p.now()
	res, err := p.poll(ctx, jobID)
	if err == nil && p.metrics != nil {
		p.metrics.RecordPoll(ctx, string(res.Status), p.now().Sub(start).Seconds())
	}
	return res, err
}

func (p *Poller) poll(ctx context.Context, jobID string) (*Result, error) {
	rec, err := p.tokens.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	// Idempotency gate: a terminal token means the workflow was already
	// resumed (or resume is in flight on the winning invocation).
	if rec.Status.Terminal() {
		p.logger.Info("Poll on terminal token, no-op", "jobId", jobID, "status", rec.Status)
		return &Result{JobID: jobID, Status: rec.Status, Attempt: rec.AttemptCount, MaxAttempts: rec.MaxAttempts}, nil
	}

	// Count the attempt before consulting the job so a crash mid-poll
	// can never under-count.
	attempt, err := p.tokens.IncrementAttempts(ctx, jobID)
	if err != nil {
		return nil, err
	}
	logger := p.logger.With("jobId", jobID, "attempt", attempt, "maxAttempts", rec.MaxAttempts)

	if attempt > rec.MaxAttempts {
		cause := fmt.Sprintf("attempt count %d exceeds limit %d", attempt, rec.MaxAttempts)
		return p.finish(ctx, logger, rec, attempt, token.StatusMaxAttempts, nil, resume.FailureMaxAttempts, cause)
	}

	j, err := p.backend.CheckStatus(ctx, jobID)
	if err != nil {
		return nil, err
	}
	logger = logger.With("jobStatus", j.Status, "pollCount", j.PollCount)

	if !j.Status.Terminal() {
		logger.Info("Job still in progress")
		return &Result{JobID: jobID, Status: StatusInProgress, Attempt: attempt, MaxAttempts: rec.MaxAttempts}, nil
	}

	if j.Status == job.StatusFailed {
		return p.finish(ctx, logger, rec, attempt, token.StatusFailed, nil, resume.FailureJobFailed, fmt.Sprintf("job %s failed", jobID))
	}

	result := map[string]any{
		"jobId":       j.ID,
		"status":      string(j.Status),
		"pollCount":   j.PollCount,
		"attempt":     attempt,
		"completedAt": j.CompletedAt,
	}
	return p.finish(ctx, logger, rec, attempt, token.StatusCompleted, result, "", "")
}

// Expire transitions a token whose polling window has elapsed to TIMEOUT
// and resumes the workflow with a failure. Terminal tokens are a no-op;
// a token that has not yet expired is left untouched and reported as such.
func (p *Poller) Expire(ctx context.Context, jobID string) (*Result, error) {
	rec, err := p.tokens.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if rec.Status.Terminal() {
		return &Result{JobID: jobID, Status: rec.Status, Attempt: rec.AttemptCount, MaxAttempts: rec.MaxAttempts}, nil
	}

	now := p.now().UTC()
	if !now.After(rec.ExpiresAt) {
		return &Result{JobID: jobID, Status: rec.Status, Attempt: rec.AttemptCount, MaxAttempts: rec.MaxAttempts}, nil
	}

	logger := p.logger.With("jobId", jobID, "expiresAt", rec.ExpiresAt)
	cause := fmt.Sprintf("polling window expired at %s", rec.ExpiresAt.Format(time.RFC3339))
	return p.finish(ctx, logger, rec, rec.AttemptCount, token.StatusTimeout, nil, resume.FailureTimeout, cause)
}

// finish commits the POLLING→to transition and, if this invocation won the
// swap, notifies the workflow engine. The notification runs strictly after
// the commit: a crash between the two leaves a terminal-but-unnotified
// token, never a resumed-but-polling one.
func (p *Poller) finish(ctx context.Context, logger *slog.Logger, rec *token.Record, attempt int, to token.Status, result map[string]any, failureKind, cause string) (*Result, error) {
	won, err := p.tokens.TransitionStatus(ctx, rec.JobID, token.StatusPolling, to, p.now().UTC())
	if err != nil {
		return nil, err
	}

	if !won {
		// A concurrent invocation got there first; report its outcome.
		current, err := p.tokens.Get(ctx, rec.JobID)
		if err != nil {
			return nil, err
		}
		logger.Info("Lost terminal transition to concurrent poll", "status", current.Status)
		return &Result{JobID: rec.JobID, Status: current.Status, Attempt: attempt, MaxAttempts: rec.MaxAttempts}, nil
	}

	if p.metrics != nil {
		p.metrics.RecordTokenResolved(ctx, string(to))
	}
	logger.Info("Token resolved", "status", to)

	res := &Result{JobID: rec.JobID, Status: to, Attempt: attempt, MaxAttempts: rec.MaxAttempts, Reconnected: true}

	var notifyErr error
	if to == token.StatusCompleted {
		notifyErr = p.notifier.ResumeSuccess(ctx, rec.TaskToken, result)
	} else {
		notifyErr = p.notifier.ResumeFailure(ctx, rec.TaskToken, failureKind, cause)
	}
	if notifyErr != nil {
		// The terminal status is already durable; surface the delivery
		// failure without undoing the transition.
		logger.Error("Resume notification failed", "error", notifyErr)
		res.Error = notifyErr.Error()
	}

	return res, nil
}
