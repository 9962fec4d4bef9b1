// Package messagequeue defines the message queue port (interface).
package messagequeue

import "context"

// Handler processes a message received from the queue.
// The context carries request-scoped values such as the request ID.
type Handler func(ctx context.Context, subject string, data []byte) error

// Queue is the port interface for publishing and subscribing to messages.
type Queue interface {
	// Publish sends a message to the given subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers a handler for messages on the given subject.
	// The returned function cancels the subscription.
	Subscribe(ctx context.Context, subject string, handler Handler) (cancel func(), err error)

	// Drain gracefully drains all subscriptions before closing.
	// Pending messages are processed; no new messages are accepted.
	Drain() error

	// Close shuts down the queue connection immediately.
	Close() error

	// IsConnected reports whether the queue is currently connected.
	IsConnected() bool
}

// Subject constants for NATS subjects used by the cockpit.
const (
	// SubjectPlanDispatch carries plan dispatches produced by the plan
	// screens; the cockpit dedups them by dispatch id and starts runs.
	SubjectPlanDispatch = "plans.dispatch"

	// SubjectRunStatusPrefix is the per-session status relay:
	// runs.status.{session_id} carries every status transition so
	// background listeners never need their own channel.
	SubjectRunStatusPrefix = "runs.status."
)

// RunStatusSubject returns the status relay subject for a session.
func RunStatusSubject(sessionID string) string {
	return SubjectRunStatusPrefix + sessionID
}
