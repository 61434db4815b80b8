package resume

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"waitpoint/internal/dispatcher"
	"waitpoint/pkg/cloudevent"
)

// Event types for workflow resumption callbacks
const (
	EventTypeResumeSuccess = "waitpoint.resume.success"
	EventTypeResumeFailure = "waitpoint.resume.failure"
)

const eventSource = "waitpoint/poller"

// WebhookNotifier resumes workflows by dispatching signed CloudEvents to the
// engine's callback URL. Dispatch is async; the dispatcher handles retry and
// circuit breaking per destination host.
type WebhookNotifier struct {
	dispatcher  dispatcher.Dispatcher
	callbackURL string
	signingKey  string
	logger      *slog.Logger
}

// NewWebhookNotifier creates a notifier delivering to callbackURL.
// signingKey may be empty to disable HMAC signing.
func NewWebhookNotifier(d dispatcher.Dispatcher, callbackURL, signingKey string) *WebhookNotifier {
	return &WebhookNotifier{
		dispatcher:  d,
		callbackURL: callbackURL,
		signingKey:  signingKey,
		logger:      slog.With("component", "resume"),
	}
}

// ResumeSuccess queues a resume.success event for the given task token.
func (n *WebhookNotifier) ResumeSuccess(ctx context.Context, taskToken string, result map[string]any) error {
	data := map[string]any{
		"taskToken": taskToken,
	}
	if result != nil {
		data["result"] = result
	}
	return n.send(taskToken, EventTypeResumeSuccess, data)
}

// ResumeFailure queues a resume.failure event for the given task token.
func (n *WebhookNotifier) ResumeFailure(ctx context.Context, taskToken string, kind, cause string) error {
	data := map[string]any{
		"taskToken": taskToken,
		"error":     kind,
		"cause":     cause,
	}
	return n.send(taskToken, EventTypeResumeFailure, data)
}

func (n *WebhookNotifier) send(taskToken, eventType string, data map[string]any) error {
	eventID := fmt.Sprintf("%s-%d", eventType, time.Now().UnixNano())
	event := &dispatcher.Event{
		Payload:     cloudevent.New(eventType, eventSource, taskToken, eventID, data),
		Destination: n.callbackURL,
		SigningKey:  n.signingKey,
	}

	if err := n.dispatcher.Dispatch(event); err != nil {
		n.logger.Error("Failed to queue resume event", "type", eventType, "error", err)
		return fmt.Errorf("queue resume event: %w", err)
	}
	return nil
}

// Verify WebhookNotifier implements Notifier
var _ Notifier = (*WebhookNotifier)(nil)
