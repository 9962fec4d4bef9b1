package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/relaywork/cockpit/internal/resilience"
)

// ErrNoChannel is returned by Acquire with ExistingOnly when the session
// has no open channel. The caller must not open one.
var ErrNoChannel = errors.New("channel: no open channel for session")

// Options controls how Acquire resolves a session's channel.
type Options struct {
	// ForceFresh always closes any existing channel and opens a new one.
	ForceFresh bool
	// ExistingOnly never opens a channel; used for passive background
	// status listening.
	ExistingOnly bool
}

// Dialer opens a raw connection for a run. The default dialer speaks
// WebSocket to the agent runtime; tests inject fakes.
type Dialer func(ctx context.Context, sessionID, runID string) (Conn, error)

// WebSocketDialer returns a Dialer connecting to the runtime's channel
// endpoint under baseURL.
func WebSocketDialer(baseURL string) Dialer {
	return func(ctx context.Context, _, runID string) (Conn, error) {
		conn, _, err := websocket.Dial(ctx, fmt.Sprintf("%s/runs/%s", baseURL, runID), nil)
		if err != nil {
			return nil, fmt.Errorf("dial run %s: %w", runID, err)
		}
		return conn, nil
	}
}

// Registry owns the session id -> channel mapping and preserves the
// at-most-one-open-channel-per-session invariant. All writers go through
// Acquire and Release; nothing else touches the map.
type Registry struct {
	dial          Dialer
	poll          resilience.Poller
	idleTimeout   time.Duration
	timeoutReason string
	log           *slog.Logger

	mu    sync.Mutex
	chans map[string]*Channel
	group singleflight.Group
}

// NewRegistry creates a Registry. The poller bounds the connect
// handshake: dialing is retried within its budget before an open fails.
func NewRegistry(dial Dialer, poll resilience.Poller, idleTimeout time.Duration, timeoutReason string, log *slog.Logger) *Registry {
	return &Registry{
		dial:          dial,
		poll:          poll,
		idleTimeout:   idleTimeout,
		timeoutReason: timeoutReason,
		log:           log,
		chans:         make(map[string]*Channel),
	}
}

// Acquire resolves the channel for a session:
//   - ForceFresh closes any existing channel and opens a new one.
//   - An open channel for the same run id is returned unchanged.
//   - ExistingOnly returns ErrNoChannel instead of opening.
//   - Otherwise a new channel is opened, replacing any stale one.
//
// Concurrent acquires for one session collapse into a single dial.
func (r *Registry) Acquire(ctx context.Context, sessionID, runID string, opts Options, h Handlers) (*Channel, error) {
	if opts.ForceFresh {
		r.Release(sessionID)
	} else {
		if ch := r.lookup(sessionID, runID); ch != nil {
			return ch, nil
		}
		if opts.ExistingOnly {
			return nil, ErrNoChannel
		}
	}

	v, err, _ := r.group.Do(sessionID, func() (any, error) {
		if !opts.ForceFresh {
			if ch := r.lookup(sessionID, runID); ch != nil {
				return ch, nil
			}
		}
		return r.open(ctx, sessionID, runID, h)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Channel), nil
}

// Release force-closes and removes the session's channel, if any. Used
// on page teardown, network-loss signals, and user-initiated stops.
func (r *Registry) Release(sessionID string) {
	r.mu.Lock()
	ch := r.chans[sessionID]
	r.mu.Unlock()
	if ch != nil {
		ch.Close(websocket.StatusNormalClosure, "released")
	}
}

// CloseAll force-closes every channel. Used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	open := make([]*Channel, 0, len(r.chans))
	for _, ch := range r.chans {
		open = append(open, ch)
	}
	r.mu.Unlock()

	for _, ch := range open {
		ch.Close(websocket.StatusGoingAway, "shutting down")
	}
}

// Len returns the number of open channels.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.chans)
}

// lookup returns the session's channel only if it is open and was
// opened for the same run.
func (r *Registry) lookup(sessionID, runID string) *Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch := r.chans[sessionID]
	if ch == nil || ch.Closed() || ch.runID != runID {
		return nil
	}
	return ch
}

func (r *Registry) open(ctx context.Context, sessionID, runID string, h Handlers) (*Channel, error) {
	var conn Conn
	err := r.poll.Do(ctx, func(ctx context.Context) error {
		var dialErr error
		conn, dialErr = r.dial(ctx, sessionID, runID)
		return dialErr
	})
	if err != nil {
		return nil, fmt.Errorf("channel: open session %s: %w", sessionID, err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	ch := &Channel{
		id:            uuid.NewString(),
		sessionID:     sessionID,
		runID:         runID,
		conn:          conn,
		cancel:        cancel,
		handlers:      h,
		log:           r.log,
		idleTimeout:   r.idleTimeout,
		timeoutReason: r.timeoutReason,
	}
	ch.release = func() { r.remove(sessionID, ch) }

	r.mu.Lock()
	stale := r.chans[sessionID]
	r.chans[sessionID] = ch
	r.mu.Unlock()

	// A stale channel (closed or opened for another run) is replaced.
	if stale != nil {
		stale.Close(websocket.StatusNormalClosure, "replaced")
	}

	go ch.readLoop(loopCtx)

	r.log.Info("channel opened", "session_id", sessionID, "run_id", runID, "channel_id", ch.id)
	return ch, nil
}

// remove deletes the entry only if it still points at ch, so a
// replacement opened in the meantime is never evicted.
func (r *Registry) remove(sessionID string, ch *Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.chans[sessionID] == ch {
		delete(r.chans, sessionID)
	}
}
