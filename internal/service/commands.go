package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/relaywork/cockpit/internal/adapter/otel"
	"github.com/relaywork/cockpit/internal/adapter/ws"
	"github.com/relaywork/cockpit/internal/domain/plan"
	"github.com/relaywork/cockpit/internal/domain/run"
	"github.com/relaywork/cockpit/internal/handoff"
	"github.com/relaywork/cockpit/internal/plansync"
	"github.com/relaywork/cockpit/internal/wire"
)

// StartTask launches a new run on the session with the given task
// content, optional plan, and file attachments. The session is
// re-activated on a fresh channel first.
func (s *ConsoleService) StartTask(ctx context.Context, sessionID, content string, p *plan.Plan, files []wire.FileBlob) error {
	ctx, span := otel.StartCommandSpan(ctx, sessionID, "", "start")
	defer span.End()

	if _, err := s.ActivateSession(ctx, sessionID, true); err != nil {
		return err
	}
	ss, err := s.active(sessionID)
	if err != nil {
		return err
	}

	frame, err := wire.NewStartFrame(content, p, files, nil, nil)
	if err != nil {
		return fmt.Errorf("start task: %w", err)
	}

	ss.mu.Lock()
	next, effects := s.reducer.ApplyStart(ss.state, frame)
	ss.state = next
	ss.mu.Unlock()

	s.execute(ctx, ss, effects)
	if s.metrics != nil {
		s.metrics.RunsStarted.Add(ctx, 1)
	}
	s.log.Info("task started", "session_id", sessionID, "with_plan", p != nil)
	return nil
}

// SubmitInput answers the run's pending input request. A non-nil plan
// is the user's edited step list: it travels with the response and the
// nearest preceding plan message is rewritten to match it.
func (s *ConsoleService) SubmitInput(ctx context.Context, sessionID string, accepted bool, content string, p *plan.Plan) error {
	ctx, span := otel.StartCommandSpan(ctx, sessionID, "", "input_response")
	defer span.End()

	ss, err := s.active(sessionID)
	if err != nil {
		return err
	}
	if p != nil {
		// The explicit submission supersedes any scheduled autosave.
		ss.autosave.Cancel()
	}

	ss.mu.Lock()
	next, effects, err := s.reducer.ApplyInputResponse(ss.state, accepted, content, p)
	if err != nil {
		ss.mu.Unlock()
		return fmt.Errorf("submit input: %w", err)
	}
	ss.state = next
	if p != nil {
		plansync.RewritePrecedingPlan(ss.state.Run.Messages, len(ss.state.Run.Messages)-1, p)
	}
	r := ss.state.Run
	msg := r.Messages[len(r.Messages)-1]
	ss.mu.Unlock()

	s.hub.BroadcastEvent(ctx, ws.EventRunMessage, ws.RunMessageEvent{
		SessionID: r.SessionID,
		RunID:     r.ID,
		Message:   msg,
	})
	s.execute(ctx, ss, effects)
	return nil
}

// Approve accepts a pending approval request.
func (s *ConsoleService) Approve(ctx context.Context, sessionID string) error {
	return s.SubmitInput(ctx, sessionID, true, "approve", nil)
}

// Deny rejects a pending approval request with an optional reason.
func (s *ConsoleService) Deny(ctx context.Context, sessionID, reason string) error {
	if reason == "" {
		reason = "deny"
	}
	return s.SubmitInput(ctx, sessionID, false, reason, nil)
}

// Pause asks the runtime to pause the current run.
func (s *ConsoleService) Pause(ctx context.Context, sessionID string) error {
	ctx, span := otel.StartCommandSpan(ctx, sessionID, "", "pause")
	defer span.End()

	ss, err := s.active(sessionID)
	if err != nil {
		return err
	}

	ss.mu.Lock()
	next, effects, err := s.reducer.ApplyPause(ss.state)
	if err != nil {
		ss.mu.Unlock()
		return fmt.Errorf("pause: %w", err)
	}
	ss.state = next
	ss.mu.Unlock()

	s.execute(ctx, ss, effects)
	return nil
}

// Stop asks the runtime to stop the current run.
func (s *ConsoleService) Stop(ctx context.Context, sessionID, reason string) error {
	ctx, span := otel.StartCommandSpan(ctx, sessionID, "", "stop")
	defer span.End()

	ss, err := s.active(sessionID)
	if err != nil {
		return err
	}

	ss.mu.Lock()
	next, effects, err := s.reducer.ApplyStop(ss.state, reason)
	if err != nil {
		ss.mu.Unlock()
		return fmt.Errorf("stop: %w", err)
	}
	ss.state = next
	ss.mu.Unlock()

	s.execute(ctx, ss, effects)
	return nil
}

// TakeControl hands the remote surface to the human: the run pauses and
// the input-capture overlay is raised.
func (s *ConsoleService) TakeControl(ctx context.Context, sessionID string) error {
	ss, err := s.active(sessionID)
	if err != nil {
		return err
	}
	if err := ss.control.TakeControl(ctx); err != nil {
		return err
	}
	s.broadcastOverlay(ctx, sessionID, ss)
	return nil
}

// GiveControlBack returns control to the agent, reporting what the
// human did as an accepted input response.
func (s *ConsoleService) GiveControlBack(ctx context.Context, sessionID, feedback string) error {
	ss := s.lookup(sessionID)
	if ss == nil {
		return fmt.Errorf("session %s: %w", sessionID, ErrNoActiveSession)
	}
	if err := ss.control.GiveControlBack(ctx, feedback); err != nil {
		return err
	}
	s.broadcastOverlay(ctx, sessionID, ss)
	return nil
}

// resumeFromHuman sends the handoff feedback as an accepted input
// response. The run was paused by TakeControl rather than awaiting
// input, so this bypasses the awaiting-input guard.
func (s *ConsoleService) resumeFromHuman(ctx context.Context, sessionID, content string) error {
	ss, err := s.active(sessionID)
	if err != nil {
		return err
	}

	frame, err := wire.NewInputResponse(true, content, nil)
	if err != nil {
		return fmt.Errorf("resume from human: %w", err)
	}

	ss.mu.Lock()
	ch := ss.ch
	ss.mu.Unlock()
	if err := ch.Send(ctx, frame); err != nil {
		return fmt.Errorf("resume from human: %w", err)
	}
	if s.metrics != nil {
		s.metrics.FramesSent.Add(ctx, 1)
	}
	ch.CancelInputTimer()

	ss.mu.Lock()
	ss.state.Run.Status = run.StatusActive
	ss.state.Run.InputRequest = nil
	ss.mu.Unlock()

	s.publishStatus(ctx, ss, run.StatusActive)
	return nil
}

func (s *ConsoleService) broadcastOverlay(ctx context.Context, sessionID string, ss *sessionState) {
	s.hub.BroadcastEvent(ctx, ws.EventOverlay, ws.OverlayEvent{
		SessionID: sessionID,
		Mode:      ss.control.Mode(),
		Overlay:   ss.control.Overlay(),
	})
}

// EditPlan records the user's latest working copy of the live plan.
// Edits debounce into commitPlanEdit; nothing is sent on the wire until
// the user submits.
func (s *ConsoleService) EditPlan(sessionID string, p plan.Plan) error {
	ss := s.lookup(sessionID)
	if ss == nil {
		return fmt.Errorf("session %s: %w", sessionID, ErrNoActiveSession)
	}
	ss.autosave.Touch(p)
	return nil
}

// commitPlanEdit rewrites the live plan message with the debounced
// working copy. Fires from the autosave timer.
func (s *ConsoleService) commitPlanEdit(sessionID string, p plan.Plan) {
	ss := s.lookup(sessionID)
	if ss == nil {
		return
	}

	data, err := json.Marshal(&p)
	if err != nil {
		s.log.Error("encode plan edit", "session_id", sessionID, "error", err)
		return
	}

	ss.mu.Lock()
	idx := plansync.LiveIndex(ss.state.Run.Messages)
	if idx < 0 {
		ss.mu.Unlock()
		return
	}
	ss.state.Run.Messages[idx].Config.Content = run.TextContent(string(data))
	ss.state.Run.Messages[idx].Version++
	r := ss.state.Run
	msg := r.Messages[idx]
	ss.mu.Unlock()

	s.hub.BroadcastEvent(context.Background(), ws.EventRunMessage, ws.RunMessageEvent{
		SessionID: r.SessionID,
		RunID:     r.ID,
		Message:   msg,
	})
}

// ControlMode reports who controls the session's remote surface.
func (s *ConsoleService) ControlMode(sessionID string) (handoff.Mode, error) {
	ss := s.lookup(sessionID)
	if ss == nil {
		return "", fmt.Errorf("session %s: %w", sessionID, ErrNoActiveSession)
	}
	return ss.control.Mode(), nil
}
