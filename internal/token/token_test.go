package token

import (
	"testing"
	"time"
)

func TestStatusTerminal(t *testing.T) {
	t.Parallel()
	tests := []struct {
		status   Status
		terminal bool
	}{
		{StatusPolling, false},
		{StatusCompleted, true},
		{StatusFailed, true},
		{StatusMaxAttempts, true},
		{StatusTimeout, true},
	}

	for _, tt := range tests {
		if got := tt.status.Terminal(); got != tt.terminal {
			t.Errorf("%s.Terminal() = %v, want %v", tt.status, got, tt.terminal)
		}
	}
}

func TestRecordExpired(t *testing.T) {
	t.Parallel()
	now := time.Now()

	rec := &Record{Status: StatusPolling, ExpiresAt: now.Add(-time.Minute)}
	if !rec.Expired(now) {
		t.Error("expected POLLING record past expiresAt to be expired")
	}

	rec = &Record{Status: StatusPolling, ExpiresAt: now.Add(time.Minute)}
	if rec.Expired(now) {
		t.Error("expected POLLING record within window to not be expired")
	}

	// Terminal records never expire, regardless of expiresAt.
	rec = &Record{Status: StatusCompleted, ExpiresAt: now.Add(-time.Hour)}
	if rec.Expired(now) {
		t.Error("expected terminal record to not be expired")
	}
}
