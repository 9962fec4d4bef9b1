// Package wire defines the typed envelopes exchanged with the agent
// runtime over a session channel, and the tolerant parser for inbound
// frames.
package wire

import (
	"encoding/json"
	"fmt"

	"github.com/relaywork/cockpit/internal/domain/plan"
	"github.com/relaywork/cockpit/internal/domain/run"
)

// FrameType identifies an inbound frame kind.
type FrameType string

const (
	FrameMessage      FrameType = "message"
	FrameInputRequest FrameType = "input_request"
	FrameSystem       FrameType = "system"
	FrameResult       FrameType = "result"
	FrameCompletion   FrameType = "completion"
	FrameError        FrameType = "error"

	// FrameUnknown marks a frame whose type is not recognized. Callers
	// skip these rather than failing, so newer servers keep working.
	FrameUnknown FrameType = ""
)

// Frame is one parsed inbound frame. Only the fields matching Type are
// populated.
type Frame struct {
	Type FrameType

	// FrameMessage
	Message *run.AgentMessageConfig

	// FrameInputRequest
	InputType run.InputType
	Prompt    string

	// FrameSystem, FrameResult, FrameCompletion
	Status string

	// FrameResult, FrameCompletion
	Data json.RawMessage

	// FrameError
	Error string
}

// rawFrame mirrors the wire shape of every inbound frame; fields not
// matching the declared type are simply left unset.
type rawFrame struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	InputType string          `json:"input_type,omitempty"`
	Prompt    string          `json:"prompt,omitempty"`
	Status    string          `json:"status,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// ParseFrame decodes one inbound frame. Unknown frame types produce a
// FrameUnknown result and no error; unknown fields are ignored. Only
// malformed JSON or an undecodable message payload is an error.
func ParseFrame(data []byte) (*Frame, error) {
	var raw rawFrame
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("wire: malformed frame: %w", err)
	}

	switch FrameType(raw.Type) {
	case FrameMessage:
		var cfg run.AgentMessageConfig
		if err := json.Unmarshal(raw.Data, &cfg); err != nil {
			return nil, fmt.Errorf("wire: message payload: %w", err)
		}
		return &Frame{Type: FrameMessage, Message: &cfg}, nil

	case FrameInputRequest:
		// text_input is the default when the server omits the type.
		it := run.InputType(raw.InputType)
		if it != run.InputTypeApproval {
			it = run.InputTypeText
		}
		return &Frame{Type: FrameInputRequest, InputType: it, Prompt: raw.Prompt}, nil

	case FrameSystem:
		return &Frame{Type: FrameSystem, Status: raw.Status}, nil

	case FrameResult, FrameCompletion:
		return &Frame{Type: FrameResult, Status: raw.Status, Data: raw.Data}, nil

	case FrameError:
		return &Frame{Type: FrameError, Error: raw.Error}, nil
	}

	return &Frame{Type: FrameUnknown}, nil
}

// TerminalStatus maps a result frame's status token onto the closed
// terminal set: complete and error pass through, everything else is
// treated as stopped.
func TerminalStatus(token string) run.Status {
	switch run.Status(token) {
	case run.StatusComplete:
		return run.StatusComplete
	case run.StatusError:
		return run.StatusError
	default:
		return run.StatusStopped
	}
}

// FileBlob is a content-addressed attachment on a start frame.
type FileBlob struct {
	Name    string `json:"name"`
	Content string `json:"content"` // base64
	Type    string `json:"type,omitempty"`
}

// StartFrame asks the runtime to begin a new run.
type StartFrame struct {
	Type           string          `json:"type"`
	Task           string          `json:"task"` // JSON string of taskPayload
	Files          []FileBlob      `json:"files,omitempty"`
	TeamConfig     json.RawMessage `json:"team_config,omitempty"`
	SettingsConfig json.RawMessage `json:"settings_config,omitempty"`
}

type taskPayload struct {
	Content string     `json:"content"`
	Plan    *plan.Plan `json:"plan,omitempty"`
}

// NewStartFrame builds a start frame, serializing the task content and
// optional plan into the nested task JSON string.
func NewStartFrame(content string, p *plan.Plan, files []FileBlob, teamConfig, settingsConfig json.RawMessage) (StartFrame, error) {
	task, err := json.Marshal(taskPayload{Content: content, Plan: p})
	if err != nil {
		return StartFrame{}, fmt.Errorf("wire: encode task: %w", err)
	}
	return StartFrame{
		Type:           "start",
		Task:           string(task),
		Files:          files,
		TeamConfig:     teamConfig,
		SettingsConfig: settingsConfig,
	}, nil
}

// InputResponsePayload is the JSON-encoded envelope nested inside an
// input_response frame.
type InputResponsePayload struct {
	Accepted bool       `json:"accepted"`
	Content  string     `json:"content"`
	Plan     *plan.Plan `json:"plan,omitempty"`
}

// InputResponseFrame answers a pending input request.
type InputResponseFrame struct {
	Type     string `json:"type"`
	Response string `json:"response"` // JSON string of InputResponsePayload
}

// NewInputResponse builds an input_response frame with its nested payload.
func NewInputResponse(accepted bool, content string, p *plan.Plan) (InputResponseFrame, error) {
	payload, err := json.Marshal(InputResponsePayload{Accepted: accepted, Content: content, Plan: p})
	if err != nil {
		return InputResponseFrame{}, fmt.Errorf("wire: encode response: %w", err)
	}
	return InputResponseFrame{Type: "input_response", Response: string(payload)}, nil
}

// PauseFrame asks the runtime to pause the current run.
type PauseFrame struct {
	Type string `json:"type"`
}

// NewPause builds a pause frame.
func NewPause() PauseFrame { return PauseFrame{Type: "pause"} }

// StopFrame asks the runtime to stop the current run.
type StopFrame struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// NewStop builds a stop frame with a human-readable reason.
func NewStop(reason string) StopFrame { return StopFrame{Type: "stop", Reason: reason} }
