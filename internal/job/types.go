// Package job defines the Backend interface and job-related types.
package job

import "time"

// Status is the lifecycle status of an external job.
type Status string

const (
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// Terminal reports whether the job has finished, successfully or not.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job is the persisted state of one external job, keyed by ID.
//
// PollCount advances by exactly 1 per status check and never decreases.
// Status moves IN_PROGRESS→COMPLETED (or →FAILED) exactly once, at the
// check where PollCount first reaches CompletionPolls. A finished job
// never re-enters IN_PROGRESS.
type Job struct {
	ID              string            `json:"jobId"`
	Status          Status            `json:"status"`
	PollCount       int               `json:"pollCount"`
	CompletionPolls int               `json:"completionPolls"`
	Outcome         Status            `json:"outcome"`        // terminal status reached at the threshold
	Meta            map[string]string `json:"meta,omitempty"` // backend bookkeeping (e.g., container ID)
	CreatedAt       time.Time         `json:"createdAt"`
	CompletedAt     *time.Time        `json:"completedAt,omitempty"`
}

// Record is the workflow-side payload describing the work to run.
// Data is opaque to the token lifecycle; backends may interpret it.
type Record struct {
	ID   string         `json:"id"`
	Data map[string]any `json:"data"`
}
