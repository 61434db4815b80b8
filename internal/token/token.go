// Package token defines the TaskToken record and its persistence contract.
//
// A TaskToken record maps a job ID to the opaque resumption token the
// workflow engine issued when it suspended. The record starts in POLLING
// and moves to exactly one terminal status; once terminal, no further
// resume call may be issued for the token.
package token

import "time"

// Status is the lifecycle status of a TaskToken record.
type Status string

const (
	StatusPolling     Status = "POLLING"
	StatusCompleted   Status = "COMPLETED"
	StatusFailed      Status = "FAILED"
	StatusMaxAttempts Status = "MAX_ATTEMPTS"
	StatusTimeout     Status = "TIMEOUT"
)

// Terminal reports whether no further transition or resume call is
// permitted from this status.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusMaxAttempts, StatusTimeout:
		return true
	default:
		return false
	}
}

// Record is the persisted TaskToken entry, keyed by JobID.
// Exactly one token exists per job.
type Record struct {
	JobID        string     `json:"jobId"`
	TaskToken    string     `json:"taskToken"`
	ExecutionID  string     `json:"executionId"`
	AttemptCount int        `json:"attemptCount"`
	MaxAttempts  int        `json:"maxAttempts"`
	Status       Status     `json:"status"`
	CreatedAt    time.Time  `json:"createdAt"`
	ExpiresAt    time.Time  `json:"expiresAt"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
}

// PollingConfig carries the retry/timeout bounds the workflow engine
// requested for one waiting step.
type PollingConfig struct {
	IntervalMinutes int `json:"intervalMinutes"`
	MaxAttempts     int `json:"maxAttempts"`
	TimeoutMinutes  int `json:"timeoutMinutes"`
}

// Expired reports whether the record outlived its polling window at
// the given instant while still non-terminal.
func (r *Record) Expired(now time.Time) bool {
	return r.Status == StatusPolling && now.After(r.ExpiresAt)
}
