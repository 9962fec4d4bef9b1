package plansync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/relaywork/cockpit/internal/domain"
	"github.com/relaywork/cockpit/internal/domain/plan"
	"github.com/relaywork/cockpit/internal/port/cache"
)

// Dispatch is an externally-selected saved plan to apply to a session's
// current run. ID is the dispatch id, not the plan id: redelivery of the
// same signal reuses the id.
type Dispatch struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Plan      plan.Plan `json:"plan"`
}

// ApplyFunc starts the dispatched plan on the session's current run.
type ApplyFunc func(ctx context.Context, d Dispatch) error

// Dispatcher applies saved-plan dispatches exactly once per
// (session_id, dispatch_id). Seen ids are tracked in a TTL cache so a
// redelivered signal never starts a duplicate run.
type Dispatcher struct {
	cache cache.Cache
	ttl   time.Duration
	apply ApplyFunc
	log   *slog.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(c cache.Cache, ttl time.Duration, apply ApplyFunc, log *slog.Logger) *Dispatcher {
	return &Dispatcher{cache: c, ttl: ttl, apply: apply, log: log}
}

// Dispatch applies d to its session's current run. Duplicate dispatch
// ids and unknown sessions are no-ops: they represent stale background
// events and are logged rather than surfaced.
func (dp *Dispatcher) Dispatch(ctx context.Context, d Dispatch) error {
	if d.ID == "" || d.SessionID == "" {
		return fmt.Errorf("plansync: dispatch requires id and session_id")
	}

	key := dedupKey(d.SessionID, d.ID)
	if _, seen, err := dp.cache.Get(ctx, key); err == nil && seen {
		dp.log.Debug("duplicate plan dispatch ignored", "session_id", d.SessionID, "dispatch_id", d.ID)
		return nil
	}

	if err := dp.apply(ctx, d); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			dp.log.Warn("plan dispatch for unknown session dropped", "session_id", d.SessionID, "dispatch_id", d.ID)
			return nil
		}
		return fmt.Errorf("plansync: apply dispatch %s: %w", d.ID, err)
	}

	if err := dp.cache.Set(ctx, key, []byte{1}, dp.ttl); err != nil {
		dp.log.Warn("failed to record dispatch id", "dispatch_id", d.ID, "error", err)
	}
	return nil
}

func dedupKey(sessionID, dispatchID string) string {
	return "dispatch:" + sessionID + ":" + dispatchID
}
