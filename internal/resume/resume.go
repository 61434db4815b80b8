// Package resume delivers workflow resumption callbacks.
//
// When a poll observes a terminal job state, the poller commits the token
// transition first and then notifies the workflow engine through a Notifier.
// Delivery is at-least-once; the engine deduplicates on the task token.
package resume

import "context"

// FailureKind classifies why a workflow is resumed with a failure.
const (
	FailureJobFailed   = "JobFailed"
	FailureMaxAttempts = "MaxAttemptsExceeded"
	FailureTimeout     = "TimeoutExceeded"
)

// Notifier resumes a suspended workflow execution identified by its task token.
type Notifier interface {
	// ResumeSuccess signals successful job completion with the job's result.
	ResumeSuccess(ctx context.Context, taskToken string, result map[string]any) error

	// ResumeFailure signals that the wait cannot complete, with a failure
	// classification and a human-readable cause.
	ResumeFailure(ctx context.Context, taskToken string, kind, cause string) error
}
