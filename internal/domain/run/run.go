// Package run defines the Run domain entity, one execution attempt of a
// task within a session, together with its message log and input state.
package run

import "time"

// Status represents the current state of a run.
type Status string

const (
	StatusConnected     Status = "connected"
	StatusActive        Status = "active"
	StatusAwaitingInput Status = "awaiting_input"
	StatusPausing       Status = "pausing"
	StatusPaused        Status = "paused"
	StatusResuming      Status = "resuming"
	StatusStopped       Status = "stopped"
	StatusError         Status = "error"
	StatusComplete      Status = "complete"
)

// IsTerminal returns true if the run is in a final state.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusStopped, StatusError, StatusComplete:
		return true
	}
	return false
}

// Valid returns true if s is a member of the closed status set.
func (s Status) Valid() bool {
	switch s {
	case StatusConnected, StatusActive, StatusAwaitingInput, StatusPausing,
		StatusPaused, StatusResuming, StatusStopped, StatusError, StatusComplete:
		return true
	}
	return false
}

// InputType distinguishes the two kinds of input the runtime can request.
type InputType string

const (
	InputTypeText     InputType = "text_input"
	InputTypeApproval InputType = "approval"
)

// InputRequest is the transient record of a pending input request.
// It is non-nil exactly while the run status is awaiting_input.
type InputRequest struct {
	InputType InputType `json:"input_type"`
	Prompt    string    `json:"prompt,omitempty"`
}

// Run represents a single execution attempt of a task within a session.
// It is mutated only through the runstate reducer; Messages grow
// monotonically while a channel is open.
type Run struct {
	ID           string        `json:"id"`
	SessionID    string        `json:"session_id"`
	Status       Status        `json:"status"`
	Messages     []Message     `json:"messages"`
	InputRequest *InputRequest `json:"input_request,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty"`
	TeamResult   *TeamResult   `json:"team_result,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
}

// LastMessage returns the most recent message, or nil when the log is empty.
func (r *Run) LastMessage() *Message {
	if len(r.Messages) == 0 {
		return nil
	}
	return &r.Messages[len(r.Messages)-1]
}
