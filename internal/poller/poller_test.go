package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"waitpoint/internal/apperrors"
	"waitpoint/internal/job"
	"waitpoint/internal/resume"
	"waitpoint/internal/store/memory"
	"waitpoint/internal/token"
)

type successCall struct {
	taskToken string
	result    map[string]any
}

type failureCall struct {
	taskToken string
	kind      string
	cause     string
}

// recordingNotifier captures resume calls for assertions.
type recordingNotifier struct {
	mu        sync.Mutex
	successes []successCall
	failures  []failureCall
	err       error
}

func (r *recordingNotifier) ResumeSuccess(ctx context.Context, taskToken string, result map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.successes = append(r.successes, successCall{taskToken, result})
	return nil
}

func (r *recordingNotifier) ResumeFailure(ctx context.Context, taskToken string, kind, cause string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.failures = append(r.failures, failureCall{taskToken, kind, cause})
	return nil
}

func (r *recordingNotifier) calls() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.successes), len(r.failures)
}

type fixture struct {
	poller   *Poller
	store    *memory.Store
	backend  *job.Simulator
	notifier *recordingNotifier
}

func newFixture(t *testing.T, simCfg job.SimulatorConfig) *fixture {
	t.Helper()
	store := memory.New()
	backend := job.NewSimulator(store, simCfg)
	notifier := &recordingNotifier{}
	return &fixture{
		poller:   New(backend, store.Tokens(), notifier, nil),
		store:    store,
		backend:  backend,
		notifier: notifier,
	}
}

// seed creates a job through the backend and registers its token.
func (f *fixture) seed(t *testing.T, maxAttempts int, expiresIn time.Duration, data map[string]any) string {
	t.Helper()
	ctx := context.Background()
	j, err := f.backend.Create(ctx, &job.Record{Data: data})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	now := time.Now().UTC()
	err = f.store.Tokens().Put(ctx, &token.Record{
		JobID:       j.ID,
		TaskToken:   "token-" + j.ID,
		ExecutionID: "exec-1",
		MaxAttempts: maxAttempts,
		Status:      token.StatusPolling,
		CreatedAt:   now,
		ExpiresAt:   now.Add(expiresIn),
	})
	if err != nil {
		t.Fatalf("put token: %v", err)
	}
	return j.ID
}

func TestPoller_CompletesAtThreshold(t *testing.T) {
	t.Parallel()
	// Pin completion to exactly the third check.
	f := newFixture(t, job.SimulatorConfig{MinCompletionPolls: 3, MaxCompletionPolls: 3})
	jobID := f.seed(t, 10, time.Hour, nil)
	ctx := context.Background()

	for want := 1; want <= 2; want++ {
		res, err := f.poller.Poll(ctx, jobID)
		if err != nil {
			t.Fatalf("poll %d: %v", want, err)
		}
		if res.Status != StatusInProgress {
			t.Fatalf("poll %d: expected IN_PROGRESS, got %s", want, res.Status)
		}
		if res.Attempt != want {
			t.Errorf("poll %d: expected attempt %d, got %d", want, want, res.Attempt)
		}
		if res.Reconnected {
			t.Errorf("poll %d: unexpected reconnect", want)
		}
	}

	res, err := f.poller.Poll(ctx, jobID)
	if err != nil {
		t.Fatalf("poll 3: %v", err)
	}
	if res.Status != token.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", res.Status)
	}
	if !res.Reconnected {
		t.Error("expected the completing poll to reconnect the workflow")
	}
	successes, failures := f.notifier.calls()
	if successes != 1 || failures != 0 {
		t.Errorf("expected exactly 1 success notification, got %d successes, %d failures", successes, failures)
	}

	// The resume payload carries the job snapshot the workflow resumes with.
	f.notifier.mu.Lock()
	payload := f.notifier.successes[0].result
	f.notifier.mu.Unlock()
	if payload["jobId"] != jobID {
		t.Errorf("payload jobId: expected %s, got %v", jobID, payload["jobId"])
	}
	if payload["status"] != string(job.StatusCompleted) {
		t.Errorf("payload status: expected COMPLETED, got %v", payload["status"])
	}
	if payload["pollCount"] != 3 {
		t.Errorf("payload pollCount: expected 3, got %v", payload["pollCount"])
	}
	if payload["attempt"] != 3 {
		t.Errorf("payload attempt: expected 3, got %v", payload["attempt"])
	}
	if completedAt, ok := payload["completedAt"].(*time.Time); !ok || completedAt == nil {
		t.Errorf("payload completedAt: expected a timestamp, got %v", payload["completedAt"])
	}

	rec, err := f.store.Tokens().Get(ctx, jobID)
	if err != nil {
		t.Fatalf("get token: %v", err)
	}
	if rec.Status != token.StatusCompleted {
		t.Errorf("expected persisted COMPLETED, got %s", rec.Status)
	}
	if rec.CompletedAt == nil {
		t.Error("expected completedAt to be set")
	}
}

func TestPoller_TerminalTokenIsNoOp(t *testing.T) {
	t.Parallel()
	f := newFixture(t, job.SimulatorConfig{MinCompletionPolls: 1, MaxCompletionPolls: 1})
	jobID := f.seed(t, 10, time.Hour, nil)
	ctx := context.Background()

	first, err := f.poller.Poll(ctx, jobID)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if first.Status != token.StatusCompleted || !first.Reconnected {
		t.Fatalf("expected completing poll, got %+v", first)
	}

	second, err := f.poller.Poll(ctx, jobID)
	if err != nil {
		t.Fatalf("duplicate poll: %v", err)
	}
	if second.Status != token.StatusCompleted {
		t.Errorf("expected COMPLETED on duplicate poll, got %s", second.Status)
	}
	if second.Reconnected {
		t.Error("duplicate poll must not reconnect")
	}
	if second.Attempt != first.Attempt {
		t.Errorf("duplicate poll must not advance the attempt counter: %d != %d", second.Attempt, first.Attempt)
	}

	successes, failures := f.notifier.calls()
	if successes != 1 || failures != 0 {
		t.Errorf("expected exactly 1 notification total, got %d successes, %d failures", successes, failures)
	}
}

func TestPoller_ConcurrentPollsResumeExactlyOnce(t *testing.T) {
	t.Parallel()
	// Job completes on the first check so every concurrent poll observes
	// a terminal job and races for the transition.
	f := newFixture(t, job.SimulatorConfig{MinCompletionPolls: 1, MaxCompletionPolls: 1})
	jobID := f.seed(t, 100, time.Hour, nil)
	ctx := context.Background()

	const n = 16
	results := make([]*Result, n)
	errs := make([]error, n)

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.poller.Poll(ctx, jobID)
		}(i)
	}
	wg.Wait()

	reconnects := 0
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("poll %d failed: %v", i, errs[i])
		}
		if results[i].Reconnected {
			reconnects++
		}
		if results[i].Status != token.StatusCompleted && results[i].Status != StatusInProgress {
			t.Errorf("poll %d: unexpected status %s", i, results[i].Status)
		}
	}
	if reconnects != 1 {
		t.Errorf("expected exactly 1 reconnect across concurrent polls, got %d", reconnects)
	}

	successes, failures := f.notifier.calls()
	if successes != 1 || failures != 0 {
		t.Errorf("expected exactly 1 notification, got %d successes, %d failures", successes, failures)
	}
}

func TestPoller_MaxAttemptsBoundary(t *testing.T) {
	t.Parallel()
	// Job never completes within the attempt budget.
	f := newFixture(t, job.SimulatorConfig{MinCompletionPolls: 10, MaxCompletionPolls: 10})
	jobID := f.seed(t, 3, time.Hour, nil)
	ctx := context.Background()

	// Attempts 1..3: attempt == maxAttempts still proceeds to the job check.
	for want := 1; want <= 3; want++ {
		res, err := f.poller.Poll(ctx, jobID)
		if err != nil {
			t.Fatalf("poll %d: %v", want, err)
		}
		if res.Status != StatusInProgress {
			t.Fatalf("poll %d: expected IN_PROGRESS, got %s", want, res.Status)
		}
	}

	// Attempt 4 exceeds the budget without checking the job.
	j, _ := f.store.Get(ctx, jobID)
	pollsBefore := j.PollCount

	res, err := f.poller.Poll(ctx, jobID)
	if err != nil {
		t.Fatalf("poll 4: %v", err)
	}
	if res.Status != token.StatusMaxAttempts {
		t.Fatalf("expected MAX_ATTEMPTS, got %s", res.Status)
	}
	if !res.Reconnected {
		t.Error("expected the exhausting poll to reconnect with a failure")
	}
	if res.Attempt != 4 {
		t.Errorf("expected attempt 4, got %d", res.Attempt)
	}

	j, _ = f.store.Get(ctx, jobID)
	if j.PollCount != pollsBefore {
		t.Errorf("exhausted poll must not check the job: pollCount %d -> %d", pollsBefore, j.PollCount)
	}

	f.notifier.mu.Lock()
	defer f.notifier.mu.Unlock()
	if len(f.notifier.failures) != 1 {
		t.Fatalf("expected 1 failure notification, got %d", len(f.notifier.failures))
	}
	if f.notifier.failures[0].kind != resume.FailureMaxAttempts {
		t.Errorf("expected %s, got %s", resume.FailureMaxAttempts, f.notifier.failures[0].kind)
	}
}

func TestPoller_JobFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t, job.SimulatorConfig{MinCompletionPolls: 1, MaxCompletionPolls: 1})
	jobID := f.seed(t, 10, time.Hour, map[string]any{"outcome": "failure"})

	res, err := f.poller.Poll(context.Background(), jobID)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if res.Status != token.StatusFailed {
		t.Fatalf("expected FAILED, got %s", res.Status)
	}
	if !res.Reconnected {
		t.Error("expected failing poll to reconnect with a failure")
	}

	f.notifier.mu.Lock()
	defer f.notifier.mu.Unlock()
	if len(f.notifier.failures) != 1 || f.notifier.failures[0].kind != resume.FailureJobFailed {
		t.Errorf("expected 1 JobFailed notification, got %+v", f.notifier.failures)
	}
}

func TestPoller_UnknownJob(t *testing.T) {
	t.Parallel()
	f := newFixture(t, job.SimulatorConfig{})

	_, err := f.poller.Poll(context.Background(), "job-0-missing")
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestPoller_NotifyFailureKeepsTerminalStatus(t *testing.T) {
	t.Parallel()
	f := newFixture(t, job.SimulatorConfig{MinCompletionPolls: 1, MaxCompletionPolls: 1})
	f.notifier.err = errors.New("callback endpoint unreachable")
	jobID := f.seed(t, 10, time.Hour, nil)
	ctx := context.Background()

	res, err := f.poller.Poll(ctx, jobID)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if res.Status != token.StatusCompleted || !res.Reconnected {
		t.Fatalf("expected completed reconnect, got %+v", res)
	}
	if res.Error == "" {
		t.Error("expected the delivery failure to surface in the result")
	}

	rec, err := f.store.Tokens().Get(ctx, jobID)
	if err != nil {
		t.Fatalf("get token: %v", err)
	}
	if rec.Status != token.StatusCompleted {
		t.Errorf("terminal commit must survive a notify failure, got %s", rec.Status)
	}
}

func TestPoller_Expire(t *testing.T) {
	t.Parallel()
	f := newFixture(t, job.SimulatorConfig{MinCompletionPolls: 10, MaxCompletionPolls: 10})
	ctx := context.Background()

	t.Run("not yet expired", func(t *testing.T) {
		jobID := f.seed(t, 3, time.Hour, nil)
		res, err := f.poller.Expire(ctx, jobID)
		if err != nil {
			t.Fatalf("expire: %v", err)
		}
		if res.Status != token.StatusPolling || res.Reconnected {
			t.Errorf("expire before the window must be a no-op, got %+v", res)
		}
	})

	t.Run("expired", func(t *testing.T) {
		jobID := f.seed(t, 3, -time.Minute, nil)
		res, err := f.poller.Expire(ctx, jobID)
		if err != nil {
			t.Fatalf("expire: %v", err)
		}
		if res.Status != token.StatusTimeout {
			t.Fatalf("expected TIMEOUT, got %s", res.Status)
		}
		if !res.Reconnected {
			t.Error("expected the expiring call to reconnect with a failure")
		}

		f.notifier.mu.Lock()
		var timeouts int
		for _, c := range f.notifier.failures {
			if c.kind == resume.FailureTimeout {
				timeouts++
			}
		}
		f.notifier.mu.Unlock()
		if timeouts != 1 {
			t.Errorf("expected 1 TimeoutExceeded notification, got %d", timeouts)
		}

		// A later poll sees the terminal token and does nothing.
		after, err := f.poller.Poll(ctx, jobID)
		if err != nil {
			t.Fatalf("poll after expire: %v", err)
		}
		if after.Status != token.StatusTimeout || after.Reconnected {
			t.Errorf("expected idempotent TIMEOUT, got %+v", after)
		}
	})

	t.Run("terminal token", func(t *testing.T) {
		jobID := f.seed(t, 3, -time.Minute, nil)
		if _, err := f.poller.Expire(ctx, jobID); err != nil {
			t.Fatalf("first expire: %v", err)
		}
		res, err := f.poller.Expire(ctx, jobID)
		if err != nil {
			t.Fatalf("second expire: %v", err)
		}
		if res.Status != token.StatusTimeout || res.Reconnected {
			t.Errorf("expire on terminal token must be a no-op, got %+v", res)
		}
	})
}

func TestPoller_AttemptsAreMonotonic(t *testing.T) {
	t.Parallel()
	f := newFixture(t, job.SimulatorConfig{MinCompletionPolls: 10, MaxCompletionPolls: 10})
	jobID := f.seed(t, 5, time.Hour, nil)
	ctx := context.Background()

	prev := 0
	for i := 0; i < 5; i++ {
		res, err := f.poller.Poll(ctx, jobID)
		if err != nil {
			t.Fatalf("poll %d: %v", i+1, err)
		}
		if res.Attempt != prev+1 {
			t.Errorf("poll %d: expected attempt %d, got %d", i+1, prev+1, res.Attempt)
		}
		prev = res.Attempt
	}
}
