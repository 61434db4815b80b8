package token

import (
	"context"
	"time"
)

// Store is the persistence contract for TaskToken records.
//
// Implementations must make IncrementAttempts and TransitionStatus atomic:
// two pollers racing on the same record must never both observe a
// successful POLLING→terminal transition. TransitionStatus is a
// compare-and-swap, not a read-modify-write.
type Store interface {
	// Put persists a new record. Returns apperrors.Conflict if a record
	// already exists for the job ID.
	Put(ctx context.Context, rec *Record) error

	// Get returns the record for a job ID, or apperrors.NotFound.
	Get(ctx context.Context, jobID string) (*Record, error)

	// IncrementAttempts atomically adds 1 to the attempt counter and
	// persists it, returning the post-increment value. The increment is
	// durable before the caller checks the job so a crash cannot silently
	// lose the attempt.
	IncrementAttempts(ctx context.Context, jobID string) (int, error)

	// TransitionStatus atomically sets the status to `to` if and only if
	// the current status equals `from`, recording completedAt for terminal
	// transitions. It returns false (and no error) when the current status
	// differs from `from` - the caller treats that as "another poll already
	// resolved this token" and falls into the idempotent no-op path.
	TransitionStatus(ctx context.Context, jobID string, from, to Status, completedAt time.Time) (bool, error)

	// List returns all records.
	List(ctx context.Context) ([]*Record, error)

	// ListExpired returns records still in POLLING whose expiresAt is
	// before now. Used by the timeout reaper.
	ListExpired(ctx context.Context, now time.Time) ([]*Record, error)

	// Ready checks that the underlying storage is reachable.
	Ready(ctx context.Context) error
}
