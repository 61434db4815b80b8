// Package memory provides an in-memory implementation of the job and
// token stores. Safe for concurrent access. Intended for development,
// testing, and single-instance deployments.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"waitpoint/internal/apperrors"
	"waitpoint/internal/job"
	"waitpoint/internal/token"
)

// Store holds job and token records behind one mutex.
//
// The conditional status transition is implemented under the write lock,
// which gives the same guarantee a storage-level compare-and-swap would:
// of two racing pollers, exactly one observes POLLING and wins.
type Store struct {
	mu     sync.RWMutex
	jobs   map[string]*job.Job
	tokens map[string]*token.Record
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		jobs:   make(map[string]*job.Job),
		tokens: make(map[string]*token.Record),
	}
}

// Put persists a new job.
func (s *Store) Put(_ context.Context, j *job.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[j.ID]; exists {
		return apperrors.Conflict("job", j.ID, "job already exists")
	}
	s.jobs[j.ID] = cloneJob(j)
	return nil
}

// Get returns the job for an ID.
func (s *Store) Get(_ context.Context, jobID string) (*job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, exists := s.jobs[jobID]
	if !exists {
		return nil, apperrors.NotFound("job", jobID)
	}
	return cloneJob(j), nil
}

// Update overwrites an existing job.
func (s *Store) Update(_ context.Context, j *job.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[j.ID]; !exists {
		return apperrors.NotFound("job", j.ID)
	}
	s.jobs[j.ID] = cloneJob(j)
	return nil
}

// PutToken persists a new token record. See Tokens for interface access.
func (s *Store) PutToken(_ context.Context, rec *token.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tokens[rec.JobID]; exists {
		return apperrors.Conflict("token", rec.JobID, "token already registered for job")
	}
	s.tokens[rec.JobID] = cloneToken(rec)
	return nil
}

// GetToken returns the token record for a job ID.
func (s *Store) GetToken(_ context.Context, jobID string) (*token.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.tokens[jobID]
	if !exists {
		return nil, apperrors.NotFound("token", jobID)
	}
	return cloneToken(rec), nil
}

// IncrementAttempts atomically bumps the attempt counter.
func (s *Store) IncrementAttempts(_ context.Context, jobID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.tokens[jobID]
	if !exists {
		return 0, apperrors.NotFound("token", jobID)
	}
	rec.AttemptCount++
	return rec.AttemptCount, nil
}

// TransitionStatus sets status to `to` only if the current status is `from`.
func (s *Store) TransitionStatus(_ context.Context, jobID string, from, to token.Status, completedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.tokens[jobID]
	if !exists {
		return false, apperrors.NotFound("token", jobID)
	}
	if rec.Status != from {
		return false, nil
	}
	rec.Status = to
	if to.Terminal() {
		t := completedAt
		rec.CompletedAt = &t
	}
	return true, nil
}

// ListTokens returns all token records ordered by creation time.
func (s *Store) ListTokens(_ context.Context) ([]*token.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]*token.Record, 0, len(s.tokens))
	for _, rec := range s.tokens {
		records = append(records, cloneToken(rec))
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
	return records, nil
}

// ListExpiredTokens returns POLLING records past their expiry.
func (s *Store) ListExpiredTokens(_ context.Context, now time.Time) ([]*token.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var expired []*token.Record
	for _, rec := range s.tokens {
		if rec.Expired(now) {
			expired = append(expired, cloneToken(rec))
		}
	}
	return expired, nil
}

// Ready always succeeds for the memory store.
func (s *Store) Ready(_ context.Context) error { return nil }

// Tokens exposes the store through the token.Store interface.
func (s *Store) Tokens() token.Store { return &tokenView{s} }

// tokenView adapts Store's token methods to the token.Store names.
type tokenView struct{ s *Store }

func (v *tokenView) Put(ctx context.Context, rec *token.Record) error {
	return v.s.PutToken(ctx, rec)
}

func (v *tokenView) Get(ctx context.Context, jobID string) (*token.Record, error) {
	return v.s.GetToken(ctx, jobID)
}

func (v *tokenView) IncrementAttempts(ctx context.Context, jobID string) (int, error) {
	return v.s.IncrementAttempts(ctx, jobID)
}

func (v *tokenView) TransitionStatus(ctx context.Context, jobID string, from, to token.Status, completedAt time.Time) (bool, error) {
	return v.s.TransitionStatus(ctx, jobID, from, to, completedAt)
}

func (v *tokenView) List(ctx context.Context) ([]*token.Record, error) {
	return v.s.ListTokens(ctx)
}

func (v *tokenView) ListExpired(ctx context.Context, now time.Time) ([]*token.Record, error) {
	return v.s.ListExpiredTokens(ctx, now)
}

func (v *tokenView) Ready(ctx context.Context) error { return v.s.Ready(ctx) }

func cloneJob(j *job.Job) *job.Job {
	c := *j
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	if j.Meta != nil {
		c.Meta = make(map[string]string, len(j.Meta))
		for k, v := range j.Meta {
			c.Meta[k] = v
		}
	}
	return &c
}

func cloneToken(rec *token.Record) *token.Record {
	c := *rec
	if rec.CompletedAt != nil {
		t := *rec.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// Verify interface conformance
var (
	_ job.Store   = (*Store)(nil)
	_ token.Store = (*tokenView)(nil)
)
