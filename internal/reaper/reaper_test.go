package reaper

import (
	"context"
	"sync"
	"testing"
	"time"

	"waitpoint/internal/job"
	"waitpoint/internal/poller"
	"waitpoint/internal/store/memory"
	"waitpoint/internal/testutil"
	"waitpoint/internal/token"
)

type countingNotifier struct {
	mu       sync.Mutex
	failures int
}

func (c *countingNotifier) ResumeSuccess(ctx context.Context, taskToken string, result map[string]any) error {
	return nil
}

func (c *countingNotifier) ResumeFailure(ctx context.Context, taskToken string, kind, cause string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures++
	return nil
}

func (c *countingNotifier) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failures
}

func seedToken(t *testing.T, store *memory.Store, jobID string, expiresIn time.Duration) {
	t.Helper()
	now := time.Now().UTC()
	err := store.Tokens().Put(context.Background(), &token.Record{
		JobID:       jobID,
		TaskToken:   "token-" + jobID,
		ExecutionID: "exec-1",
		MaxAttempts: 3,
		Status:      token.StatusPolling,
		CreatedAt:   now,
		ExpiresAt:   now.Add(expiresIn),
	})
	if err != nil {
		t.Fatalf("put token: %v", err)
	}
}

func TestReaper_ExpiresOverdueTokens(t *testing.T) {
	store := memory.New()
	backend := job.NewSimulator(store, job.SimulatorConfig{})
	notifier := &countingNotifier{}
	p := poller.New(backend, store.Tokens(), notifier, nil)

	seedToken(t, store, "job-1-expired", -time.Minute)
	seedToken(t, store, "job-2-live", time.Hour)

	r := New(store.Tokens(), p, 10*time.Millisecond)
	r.Start()
	defer r.Stop()

	testutil.MustWaitFor(t, func() bool {
		return notifier.count() >= 1
	}, testutil.WithTimeout(5*time.Second))

	rec, err := store.Tokens().Get(context.Background(), "job-1-expired")
	if err != nil {
		t.Fatalf("get expired token: %v", err)
	}
	if rec.Status != token.StatusTimeout {
		t.Errorf("expected TIMEOUT, got %s", rec.Status)
	}

	live, err := store.Tokens().Get(context.Background(), "job-2-live")
	if err != nil {
		t.Fatalf("get live token: %v", err)
	}
	if live.Status != token.StatusPolling {
		t.Errorf("live token must stay POLLING, got %s", live.Status)
	}

	// Sweeps after the transition must not resume again.
	time.Sleep(50 * time.Millisecond)
	if notifier.count() != 1 {
		t.Errorf("expected exactly 1 timeout notification, got %d", notifier.count())
	}
}

func TestReaper_DisabledWithZeroInterval(t *testing.T) {
	t.Parallel()
	store := memory.New()
	backend := job.NewSimulator(store, job.SimulatorConfig{})
	p := poller.New(backend, store.Tokens(), &countingNotifier{}, nil)

	r := New(store.Tokens(), p, 0)
	r.Start()
	r.Stop() // must not hang
}
