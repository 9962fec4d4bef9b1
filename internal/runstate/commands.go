package runstate

import (
	"errors"

	"github.com/relaywork/cockpit/internal/domain/plan"
	"github.com/relaywork/cockpit/internal/domain/run"
	"github.com/relaywork/cockpit/internal/wire"
)

// ErrNotAwaitingInput is returned when an input response is submitted
// while the run has no pending input request.
var ErrNotAwaitingInput = errors.New("run is not awaiting input")

// ErrRunFinished is returned for commands against a terminal run.
var ErrRunFinished = errors.New("run is in a terminal state")

// ApplyStart returns the effects for launching a new task. The status is
// not changed optimistically; the server declares it via system frames.
func (rd *Reducer) ApplyStart(s State, f wire.StartFrame) (State, []Effect) {
	return s, []Effect{sendFrame(f)}
}

// ApplyInputResponse answers the pending input request. The local status
// transitions optimistically to active; the server's next system or
// result frame is authoritative and overwrites it.
func (rd *Reducer) ApplyInputResponse(s State, accepted bool, content string, p *plan.Plan) (State, []Effect, error) {
	if s.Run.Status != run.StatusAwaitingInput {
		return s, nil, ErrNotAwaitingInput
	}

	frame, err := wire.NewInputResponse(accepted, content, p)
	if err != nil {
		return s, nil, err
	}

	s.Run.Messages = appendMessage(s.Run.Messages, run.Message{
		Config: run.AgentMessageConfig{
			Source:  "user",
			Content: run.TextContent(content),
		},
		SessionID: s.Run.SessionID,
		RunID:     s.Run.ID,
		CreatedAt: rd.now(),
	})
	s.Run.Status = run.StatusActive
	s.Run.InputRequest = nil

	return s, []Effect{
		{Kind: EffectCancelInputTimer},
		sendFrame(frame),
		publishStatus(run.StatusActive),
	}, nil
}

// ApplyPause requests a pause, optimistically moving to pausing.
func (rd *Reducer) ApplyPause(s State) (State, []Effect, error) {
	if s.Run.Status.IsTerminal() || s.ChannelClosed {
		return s, nil, ErrRunFinished
	}

	s.Run.Status = run.StatusPausing
	return s, []Effect{
		sendFrame(wire.NewPause()),
		publishStatus(run.StatusPausing),
	}, nil
}

// ApplyStop requests a stop, optimistically moving to stopped. The
// channel stays open until the server confirms with a result frame.
func (rd *Reducer) ApplyStop(s State, reason string) (State, []Effect, error) {
	if s.Run.Status.IsTerminal() || s.ChannelClosed {
		return s, nil, ErrRunFinished
	}

	s.Run.Status = run.StatusStopped
	s.Run.InputRequest = nil
	return s, []Effect{
		{Kind: EffectCancelInputTimer},
		sendFrame(wire.NewStop(reason)),
		publishStatus(run.StatusStopped),
	}, nil
}
