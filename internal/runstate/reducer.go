// Package runstate implements the run state machine as a pure reducer:
// (State, inbound frame) -> (State, effects). All channel, timer, and
// observer work is returned as effects for the caller to execute, which
// keeps the state machine unit-testable without a live channel.
package runstate

import (
	"time"

	"github.com/relaywork/cockpit/internal/domain/run"
	"github.com/relaywork/cockpit/internal/wire"
)

// CloseCodeNormal is the close code for an orderly channel shutdown.
const CloseCodeNormal = 1000

// CloseCodeRuntimeError is the close code used when the server sends an
// error frame; the close reason carries the error description.
const CloseCodeRuntimeError = 4500

// State is a run plus the channel bookkeeping the wire protocol itself
// does not carry. Once ChannelClosed is set, further frames are ignored.
type State struct {
	Run           run.Run
	ChannelClosed bool
}

// Reducer folds inbound frames and user commands into run state.
type Reducer struct {
	now func() time.Time
}

// New creates a Reducer using the wall clock.
func New() *Reducer {
	return &Reducer{now: time.Now}
}

// NewWithClock creates a Reducer with an injected clock, for tests.
func NewWithClock(now func() time.Time) *Reducer {
	return &Reducer{now: now}
}

// Reduce applies one inbound frame. It never mutates its input.
func (rd *Reducer) Reduce(s State, f *wire.Frame) (State, []Effect) {
	if s.ChannelClosed || f == nil {
		return s, nil
	}

	switch f.Type {
	case wire.FrameMessage:
		return rd.reduceMessage(s, f)
	case wire.FrameInputRequest:
		return rd.reduceInputRequest(s, f)
	case wire.FrameSystem:
		return rd.reduceSystem(s, f)
	case wire.FrameResult:
		return rd.reduceResult(s, f)
	case wire.FrameError:
		return rd.reduceError(s, f)
	}

	// Unknown frame types are skipped for forward compatibility.
	return s, nil
}

func (rd *Reducer) reduceMessage(s State, f *wire.Frame) (State, []Effect) {
	msg := run.Message{
		Config:    *f.Message,
		SessionID: s.Run.SessionID,
		RunID:     s.Run.ID,
		CreatedAt: rd.now(),
	}
	s.Run.Messages = appendMessage(s.Run.Messages, msg)
	return s, nil
}

func (rd *Reducer) reduceInputRequest(s State, f *wire.Frame) (State, []Effect) {
	s.Run.Status = run.StatusAwaitingInput
	s.Run.InputRequest = &run.InputRequest{InputType: f.InputType, Prompt: f.Prompt}
	return s, []Effect{
		{Kind: EffectClearPlanEdits},
		{Kind: EffectStartInputTimer},
		publishStatus(run.StatusAwaitingInput),
	}
}

func (rd *Reducer) reduceSystem(s State, f *wire.Frame) (State, []Effect) {
	// The server-declared status is adopted verbatim; it is authoritative
	// over any optimistic local transition.
	next := run.Status(f.Status)

	// awaiting_input is declared by input_request frames, which carry the
	// request payload. A bare system token cannot, so adopting it would
	// leave InputRequest nil while the status says otherwise.
	if next == run.StatusAwaitingInput && s.Run.InputRequest == nil {
		return s, nil
	}

	var effects []Effect
	if s.Run.Status == run.StatusAwaitingInput && next != run.StatusAwaitingInput {
		s.Run.InputRequest = nil
		effects = append(effects, Effect{Kind: EffectCancelInputTimer})
	}
	if next != s.Run.Status {
		effects = append(effects, publishStatus(next))
	}
	s.Run.Status = next
	return s, effects
}

func (rd *Reducer) reduceResult(s State, f *wire.Frame) (State, []Effect) {
	s.Run.Status = wire.TerminalStatus(f.Status)
	s.Run.InputRequest = nil
	s.ChannelClosed = true

	if tr, ok := run.ParseTeamResult(f.Data); ok {
		s.Run.TeamResult = tr
	}

	return s, []Effect{
		{Kind: EffectCancelInputTimer},
		closeChannel(CloseCodeNormal, "run finished"),
		publishStatus(s.Run.Status),
	}
}

// reduceError handles a transport-level error frame. The channel is
// closed but the run status is deliberately not set to error: logical
// run errors arrive as result frames, and the two are surfaced
// differently. The description is recorded on the run and travels as
// the close reason so the close handler can surface it.
func (rd *Reducer) reduceError(s State, f *wire.Frame) (State, []Effect) {
	reason := f.Error
	if reason == "" {
		reason = "the agent runtime reported an error"
	}
	s.Run.ErrorMessage = reason
	s.ChannelClosed = true
	return s, []Effect{
		{Kind: EffectCancelInputTimer},
		closeChannel(CloseCodeRuntimeError, reason),
	}
}

// appendMessage copies the log before appending so prior State values
// handed to observers stay stable.
func appendMessage(msgs []run.Message, m run.Message) []run.Message {
	out := make([]run.Message, len(msgs), len(msgs)+1)
	copy(out, msgs)
	return append(out, m)
}
