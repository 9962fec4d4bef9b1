package ws

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/relaywork/cockpit/internal/domain/run"
	"github.com/relaywork/cockpit/internal/handoff"
	"github.com/relaywork/cockpit/internal/runstate"
	"github.com/relaywork/cockpit/internal/surface"
)

// Event type constants for WebSocket messages.
const (
	EventRunStatus   = "run.status"
	EventRunMessage  = "run.message"
	EventRunProgress = "run.progress"
	EventRunNotice   = "run.notice"
	EventOverlay     = "control.overlay"
	EventSurfaceView = "surface.view"
)

// RunStatusEvent is broadcast on every status transition. Display is
// the derived display status, which may differ from Status while a
// final answer is awaiting input.
type RunStatusEvent struct {
	SessionID string                 `json:"session_id"`
	RunID     string                 `json:"run_id"`
	Status    run.Status             `json:"status"`
	Display   runstate.DisplayStatus `json:"display"`
}

// RunMessageEvent is broadcast when a message is appended to a run.
type RunMessageEvent struct {
	SessionID string      `json:"session_id"`
	RunID     string      `json:"run_id"`
	Message   run.Message `json:"message"`
}

// RunProgressEvent is broadcast when step progress changes.
type RunProgressEvent struct {
	SessionID string `json:"session_id"`
	RunID     string `json:"run_id"`
	Completed int    `json:"completed"`
	Total     int    `json:"total"`
}

// RunNoticeEvent is a dismissible user-facing notice, used for
// transport errors and input timeouts.
type RunNoticeEvent struct {
	SessionID string `json:"session_id"`
	RunID     string `json:"run_id,omitempty"`
	Message   string `json:"message"`
}

// OverlayEvent is broadcast when the control-handoff overlay changes.
type OverlayEvent struct {
	SessionID string          `json:"session_id"`
	Mode      handoff.Mode    `json:"mode"`
	Overlay   handoff.Overlay `json:"overlay"`
}

// SurfaceViewEvent is broadcast when the remote surface view changes.
type SurfaceViewEvent struct {
	SessionID string       `json:"session_id"`
	View      surface.View `json:"view"`
}

// BroadcastEvent is a convenience method that marshals a typed event and broadcasts it.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}

	h.Broadcast(ctx, Message{
		Type:    eventType,
		Payload: json.RawMessage(data),
	})
}
