// Package reaper times out tokens whose polling window has elapsed.
//
// The reaper is optional: by default timeouts are driven externally through
// the expire endpoint, and the loop only runs when an interval is configured.
// Every transition funnels through the poller's Expire path, so reaper and
// endpoint can coexist without double resumption.
package reaper

import (
	"context"
	"log/slog"
	"time"

	"waitpoint/internal/poller"
	"waitpoint/internal/token"
)

// Reaper periodically scans for expired POLLING tokens and expires them.
type Reaper struct {
	tokens   token.Store
	poller   *poller.Poller
	interval time.Duration
	logger   *slog.Logger
	cancel   context.CancelFunc
	done     chan struct{}
	now      func() time.Time
}

// New creates a reaper. interval <= 0 disables it; Start becomes a no-op.
func New(tokens token.Store, p *poller.Poller, interval time.Duration) *Reaper {
	return &Reaper{
		tokens:   tokens,
		poller:   p,
		interval: interval,
		logger:   slog.With("component", "reaper"),
		done:     make(chan struct{}),
		now:      time.Now,
	}
}

// Start launches the background loop.
func (r *Reaper) Start() {
	if r.interval <= 0 {
		r.logger.Info("Reaper disabled")
		close(r.done)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	go r.run(ctx)
	r.logger.Info("Reaper started", "interval", r.interval)
}

// Stop terminates the loop and waits for the in-flight sweep to finish.
func (r *Reaper) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	<-r.done
}

func (r *Reaper) run(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

// sweep expires every token past its window. Individual failures are
// logged and skipped; the next sweep retries them.
func (r *Reaper) sweep(ctx context.Context) {
	expired, err := r.tokens.ListExpired(ctx, r.now().UTC())
	if err != nil {
		r.logger.Error("Failed to list expired tokens", "error", err)
		return
	}
	if len(expired) == 0 {
		return
	}

	r.logger.Info("Expiring tokens", "count", len(expired))
	for _, rec := range expired {
		if ctx.Err() != nil {
			return
		}
		res, err := r.poller.Expire(ctx, rec.JobID)
		if err != nil {
			r.logger.Error("Failed to expire token", "jobId", rec.JobID, "error", err)
			continue
		}
		if res.Reconnected {
			r.logger.Info("Token timed out", "jobId", rec.JobID)
		}
	}
}
