package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"

	"waitpoint/internal/apperrors"
	"waitpoint/internal/config"
)

// SimulatorConfig controls the simulated completion threshold.
type SimulatorConfig struct {
	MinCompletionPolls int // inclusive lower bound (default: 2)
	MaxCompletionPolls int // inclusive upper bound (default: 3)
}

// LoadSimulatorConfigFromEnv loads simulator configuration from environment variables.
func LoadSimulatorConfigFromEnv() SimulatorConfig {
	cfg := SimulatorConfig{
		MinCompletionPolls: config.GetIntEnv("SIMULATOR_MIN_POLLS", 2),
		MaxCompletionPolls: config.GetIntEnv("SIMULATOR_MAX_POLLS", 3),
	}
	return cfg.withDefaults()
}

// withDefaults fills in zero or inverted values with defaults.
func (c SimulatorConfig) withDefaults() SimulatorConfig {
	if c.MinCompletionPolls <= 0 {
		c.MinCompletionPolls = 2
	}
	if c.MaxCompletionPolls < c.MinCompletionPolls {
		c.MaxCompletionPolls = c.MinCompletionPolls
	}
	return c
}

// Simulator is a Backend that fakes a long-running external job: each
// status check advances a counter, and the job finishes when the counter
// reaches a threshold fixed at creation.
type Simulator struct {
	store  Store
	config SimulatorConfig
	logger *slog.Logger
}

// NewSimulator creates a simulator backed by the given job store.
func NewSimulator(store Store, cfg SimulatorConfig) *Simulator {
	return &Simulator{
		store:  store,
		config: cfg.withDefaults(),
		logger: slog.With("component", "simulator"),
	}
}

// Create persists a new simulated job with a randomized completion
// threshold. A record whose data carries "outcome": "failure" will reach
// FAILED at the threshold instead of COMPLETED - the hook for exercising
// the failure path end to end.
func (s *Simulator) Create(ctx context.Context, rec *Record) (*Job, error) {
	span := s.config.MaxCompletionPolls - s.config.MinCompletionPolls + 1
	j := &Job{
		ID:              NewID(),
		Status:          StatusInProgress,
		PollCount:       0,
		CompletionPolls: s.config.MinCompletionPolls + rand.IntN(span),
		Outcome:         outcomeFor(rec),
		CreatedAt:       time.Now().UTC(),
	}

	if err := s.store.Put(ctx, j); err != nil {
		return nil, err
	}

	s.logger.Info("Job created", "jobId", j.ID, "completionPolls", j.CompletionPolls)
	return j, nil
}

// CheckStatus advances the job by one poll and returns the post-update
// state. The IN_PROGRESS→terminal transition happens exactly once, in the
// same logical update as the count reaching the threshold.
func (s *Simulator) CheckStatus(ctx context.Context, jobID string) (*Job, error) {
	j, err := s.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	j.PollCount++
	if j.Status == StatusInProgress && j.PollCount >= j.CompletionPolls {
		now := time.Now().UTC()
		j.Status = j.Outcome
		j.CompletedAt = &now
	}

	if err := s.store.Update(ctx, j); err != nil {
		return nil, err
	}

	return j, nil
}

// Ready reports whether the backing store is reachable. A not-found for
// the probe key means the store answered, which is all readiness needs.
func (s *Simulator) Ready(ctx context.Context) error {
	_, err := s.store.Get(ctx, "readiness-probe")
	if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		return err
	}
	return nil
}

// NewID generates a job identifier in the form job-<unix-ms>-<random>.
func NewID() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("job-%d-%s", time.Now().UnixMilli(), suffix)
}

// outcomeFor picks the terminal status the job will reach.
func outcomeFor(rec *Record) Status {
	if rec != nil && rec.Data != nil {
		if v, ok := rec.Data["outcome"].(string); ok && v == "failure" {
			return StatusFailed
		}
	}
	return StatusCompleted
}

// Verify Simulator implements Backend
var _ Backend = (*Simulator)(nil)
