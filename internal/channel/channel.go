// Package channel owns the per-session WebSocket channels to the agent
// runtime: at most one open channel exists per session id, frames are
// delivered strictly in channel order, and an idle-input timeout closes
// channels nobody is answering.
package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/relaywork/cockpit/internal/wire"
)

// CloseCodeInputTimeout is the distinguished close code used when the
// idle-input timeout expires while a run is awaiting input.
const CloseCodeInputTimeout websocket.StatusCode = 4408

// Conn is the minimal connection surface the channel needs. It is
// satisfied by *websocket.Conn and by fakes in tests.
type Conn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, data []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// Handlers receives a channel's inbound frames and its close event.
// OnFrame is called once per frame in delivery order; OnClose fires
// exactly once, with the timeout close code distinguishing idle expiry
// from other transport closures.
type Handlers struct {
	OnFrame func(f *wire.Frame)
	OnClose func(code websocket.StatusCode, reason string)
}

// Channel wraps one connection opened for one run.
type Channel struct {
	id        string
	sessionID string
	runID     string
	conn      Conn
	cancel    context.CancelFunc
	handlers  Handlers
	log       *slog.Logger

	idleTimeout   time.Duration
	timeoutReason string

	mu        sync.Mutex
	closed    bool
	idleTimer *time.Timer
	release   func() // removes this channel from the registry
}

// ID returns the channel instance id.
func (c *Channel) ID() string { return c.id }

// SessionID returns the owning session id.
func (c *Channel) SessionID() string { return c.sessionID }

// RunID returns the run this channel was opened for.
func (c *Channel) RunID() string { return c.runID }

// Closed reports whether the channel has shut down.
func (c *Channel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Send marshals frame and writes it to the connection.
func (c *Channel) Send(ctx context.Context, frame any) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("channel %s: send on closed channel", c.id)
	}
	c.mu.Unlock()

	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("channel %s: marshal frame: %w", c.id, err)
	}
	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("channel %s: write: %w", c.id, err)
	}
	return nil
}

// StartInputTimer arms the idle-input timeout. On expiry the channel is
// closed with CloseCodeInputTimeout and the configured timeout message.
func (c *Channel) StartInputTimer() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.idleTimeout <= 0 {
		return
	}
	if c.idleTimer != nil {
		c.idleTimer.Stop()
	}
	c.idleTimer = time.AfterFunc(c.idleTimeout, func() {
		c.log.Warn("input request timed out, closing channel",
			"session_id", c.sessionID, "run_id", c.runID)
		c.Close(CloseCodeInputTimeout, c.timeoutReason)
	})
}

// CancelInputTimer disarms the idle-input timeout.
func (c *Channel) CancelInputTimer() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.idleTimer != nil {
		c.idleTimer.Stop()
		c.idleTimer = nil
	}
}

// Close shuts the channel down. It is idempotent; the close handler
// fires once with the given code and reason.
func (c *Channel) Close(code websocket.StatusCode, reason string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.idleTimer != nil {
		c.idleTimer.Stop()
		c.idleTimer = nil
	}
	release := c.release
	c.mu.Unlock()

	c.cancel()
	_ = c.conn.Close(code, reason)
	if release != nil {
		release()
	}
	if c.handlers.OnClose != nil {
		c.handlers.OnClose(code, reason)
	}
}

// readLoop decodes inbound frames in delivery order until the
// connection dies. Unknown frame types are skipped; undecodable frames
// are logged and skipped rather than killing the channel.
func (c *Channel) readLoop(ctx context.Context) {
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			code := websocket.CloseStatus(err)
			if code == -1 {
				code = websocket.StatusAbnormalClosure
			}
			c.Close(code, "connection lost")
			return
		}

		frame, err := wire.ParseFrame(data)
		if err != nil {
			c.log.Warn("dropping undecodable frame",
				"session_id", c.sessionID, "run_id", c.runID, "error", err)
			continue
		}
		if frame.Type == wire.FrameUnknown {
			continue
		}
		if c.handlers.OnFrame != nil {
			c.handlers.OnFrame(frame)
		}
	}
}
