package job

import "context"

// Backend is the pluggable job system behind the poller.
//
// The default Simulator stands in for a real external system's status
// endpoint; a container-backed implementation can be substituted without
// touching the token state machine.
//
// CheckStatus is deliberately NOT idempotent - each invocation advances
// the job's observed progress. Invocation discipline belongs to the
// caller: the poller only checks jobs whose token is still POLLING.
type Backend interface {
	// Create starts a new job for the given record and returns its
	// initial state (status IN_PROGRESS, pollCount 0).
	Create(ctx context.Context, rec *Record) (*Job, error)

	// CheckStatus loads the job, increments its poll count by exactly 1,
	// and returns the post-update state. Returns apperrors.NotFound for
	// an unknown job ID.
	CheckStatus(ctx context.Context, jobID string) (*Job, error)

	// Ready checks that the backend is reachable.
	Ready(ctx context.Context) error
}

// Store is the persistence contract for Job records.
type Store interface {
	// Put persists a new job. Returns apperrors.Conflict if the ID exists.
	Put(ctx context.Context, j *Job) error

	// Get returns the job for an ID, or apperrors.NotFound.
	Get(ctx context.Context, jobID string) (*Job, error)

	// Update overwrites an existing job. Returns apperrors.NotFound if
	// the ID does not exist.
	Update(ctx context.Context, j *Job) error
}
