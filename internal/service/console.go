// Package service composes the cockpit: it owns per-session run state,
// pumps inbound channel frames through the reducer, executes the
// resulting effects, and fans state changes out to UI clients and the
// status relay.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/relaywork/cockpit/internal/adapter/otel"
	"github.com/relaywork/cockpit/internal/adapter/planstore"
	"github.com/relaywork/cockpit/internal/adapter/runtimeapi"
	"github.com/relaywork/cockpit/internal/adapter/ws"
	"github.com/relaywork/cockpit/internal/channel"
	"github.com/relaywork/cockpit/internal/domain"
	"github.com/relaywork/cockpit/internal/domain/plan"
	"github.com/relaywork/cockpit/internal/domain/run"
	"github.com/relaywork/cockpit/internal/handoff"
	"github.com/relaywork/cockpit/internal/plansync"
	"github.com/relaywork/cockpit/internal/port/cache"
	"github.com/relaywork/cockpit/internal/port/messagequeue"
	"github.com/relaywork/cockpit/internal/runstate"
	"github.com/relaywork/cockpit/internal/wire"
)

// ErrNoActiveSession is returned for commands against a session with no
// open channel.
var ErrNoActiveSession = errors.New("no active session channel")

// Deps carries the collaborators a ConsoleService composes. Queue and
// Metrics are optional; the service degrades to hub-only publishing
// and no instrumentation when they are nil.
type Deps struct {
	Registry      *channel.Registry
	Runtime       *runtimeapi.Client
	Plans         *planstore.Client
	Hub           *ws.Hub
	Queue         messagequeue.Queue
	Metrics       *otel.Metrics
	DedupCache    cache.Cache
	DedupTTL      time.Duration
	AutosaveDelay time.Duration
	Log           *slog.Logger
}

// ConsoleService orchestrates multi-turn agent runs for the UI.
type ConsoleService struct {
	registry      *channel.Registry
	reducer       *runstate.Reducer
	runtime       *runtimeapi.Client
	plans         *planstore.Client
	hub           *ws.Hub
	queue         messagequeue.Queue
	metrics       *otel.Metrics
	dispatcher    *plansync.Dispatcher
	autosaveDelay time.Duration
	log           *slog.Logger

	mu       sync.Mutex
	sessions map[string]*sessionState
}

// sessionState is the mutable per-session core: the reducer state plus
// the live channel and the session's handoff and autosave machinery.
type sessionState struct {
	mu       sync.Mutex
	state    runstate.State
	ch       *channel.Channel
	autosave *plansync.Autosave
	control  *handoff.Controller
}

// NewConsole creates a ConsoleService.
func NewConsole(d Deps) *ConsoleService {
	if d.AutosaveDelay <= 0 {
		d.AutosaveDelay = 800 * time.Millisecond
	}
	s := &ConsoleService{
		registry:      d.Registry,
		reducer:       runstate.New(),
		runtime:       d.Runtime,
		plans:         d.Plans,
		hub:           d.Hub,
		queue:         d.Queue,
		metrics:       d.Metrics,
		autosaveDelay: d.AutosaveDelay,
		log:           d.Log,
		sessions:      make(map[string]*sessionState),
	}
	s.dispatcher = plansync.NewDispatcher(d.DedupCache, d.DedupTTL, s.applyDispatch, d.Log)
	return s
}

// View is a read-only snapshot of a session handed to the gateway.
type View struct {
	Run         run.Run                `json:"run"`
	Display     runstate.DisplayStatus `json:"display"`
	Progress    runstate.Progress      `json:"progress"`
	Mode        handoff.Mode           `json:"mode"`
	Overlay     handoff.Overlay        `json:"overlay"`
	ChannelOpen bool                   `json:"channel_open"`
}

// ActivateSession seeds the session's latest run from the REST store
// and opens its channel. Re-activating a session whose channel is still
// open for the same run is a no-op returning the current view.
func (s *ConsoleService) ActivateSession(ctx context.Context, sessionID string, forceFresh bool) (View, error) {
	ctx, span := otel.StartActivationSpan(ctx, sessionID)
	defer span.End()

	ss := s.session(sessionID)

	ss.mu.Lock()
	if !forceFresh && ss.ch != nil && !ss.state.ChannelClosed {
		v := s.viewLocked(ss)
		ss.mu.Unlock()
		return v, nil
	}
	ss.mu.Unlock()

	seeded, err := s.runtime.LatestRun(ctx, sessionID)
	if forceFresh {
		// A fresh activation starts a new run when there is nothing to
		// resume: the session has no runs yet, or its latest already
		// finished. Resumable runs are re-attached instead.
		switch {
		case errors.Is(err, domain.ErrNotFound):
			seeded, err = s.runtime.CreateRun(ctx, sessionID)
		case err == nil && seeded.Status.IsTerminal():
			seeded, err = s.runtime.CreateRun(ctx, sessionID)
		}
	}
	if err != nil {
		return View{}, fmt.Errorf("activate session %s: %w", sessionID, err)
	}

	ss.mu.Lock()
	ss.state = runstate.State{Run: *seeded}
	terminal := seeded.Status.IsTerminal()
	if terminal {
		ss.state.ChannelClosed = true
		v := s.viewLocked(ss)
		ss.mu.Unlock()
		return v, nil
	}
	ss.mu.Unlock()

	ch, err := s.registry.Acquire(ctx, sessionID, seeded.ID,
		channel.Options{ForceFresh: forceFresh},
		channel.Handlers{
			OnFrame: func(f *wire.Frame) { s.onFrame(ss, f) },
			OnClose: func(code websocket.StatusCode, reason string) { s.onClose(ss, code, reason) },
		})
	if err != nil {
		s.notice(context.WithoutCancel(ctx), sessionID, seeded.ID, "Could not connect to the agent runtime.")
		return View{}, fmt.Errorf("activate session %s: %w", sessionID, err)
	}

	ss.mu.Lock()
	ss.ch = ch
	ss.state.ChannelClosed = false
	ss.state.Run.Status = run.StatusConnected
	v := s.viewLocked(ss)
	ss.mu.Unlock()

	if s.metrics != nil {
		s.metrics.ChannelsOpened.Add(ctx, 1)
	}
	s.publishStatus(ctx, ss, run.StatusConnected)
	s.log.Info("session activated", "session_id", sessionID, "run_id", seeded.ID)
	return v, nil
}

// WatchStatus returns the session's view for background summary
// indicators. It never opens a channel: sessions without one report
// their last known state with ChannelOpen false.
func (s *ConsoleService) WatchStatus(ctx context.Context, sessionID string) (View, error) {
	ss := s.lookup(sessionID)
	if ss == nil {
		return View{}, fmt.Errorf("watch session %s: %w", sessionID, ErrNoActiveSession)
	}

	// ExistingOnly keeps the no-open invariant even if the channel map
	// and our session map ever disagree.
	ss.mu.Lock()
	runID := ss.state.Run.ID
	ss.mu.Unlock()
	_, err := s.registry.Acquire(ctx, sessionID, runID, channel.Options{ExistingOnly: true}, channel.Handlers{})
	open := err == nil

	ss.mu.Lock()
	defer ss.mu.Unlock()
	v := s.viewLocked(ss)
	v.ChannelOpen = open
	return v, nil
}

// Snapshot returns the session's current view.
func (s *ConsoleService) Snapshot(sessionID string) (View, error) {
	ss := s.lookup(sessionID)
	if ss == nil {
		return View{}, fmt.Errorf("session %s: %w", sessionID, ErrNoActiveSession)
	}
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return s.viewLocked(ss), nil
}

// ReleaseSession force-closes the session's channel, as on page
// teardown or a network-loss signal.
func (s *ConsoleService) ReleaseSession(sessionID string) {
	s.registry.Release(sessionID)
}

// Shutdown closes every channel.
func (s *ConsoleService) Shutdown() {
	s.registry.CloseAll()
}

// session returns the session's state, creating it on first use.
func (s *ConsoleService) session(sessionID string) *sessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ss, ok := s.sessions[sessionID]; ok {
		return ss
	}

	ss := &sessionState{}
	ss.autosave = plansync.NewAutosave(s.autosaveDelay, func(p plan.Plan) {
		s.commitPlanEdit(sessionID, p)
	})
	ss.control = handoff.New(
		func(ctx context.Context) error { return s.Pause(ctx, sessionID) },
		func(ctx context.Context, content string) error { return s.resumeFromHuman(ctx, sessionID, content) },
		s.log,
	)
	s.sessions[sessionID] = ss
	return ss
}

func (s *ConsoleService) lookup(sessionID string) *sessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[sessionID]
}

// active returns the session's state only if its channel is open.
func (s *ConsoleService) active(sessionID string) (*sessionState, error) {
	ss := s.lookup(sessionID)
	if ss == nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrNoActiveSession)
	}
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if ss.ch == nil || ss.state.ChannelClosed {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrNoActiveSession)
	}
	return ss, nil
}

// viewLocked builds a View; ss.mu must be held.
func (s *ConsoleService) viewLocked(ss *sessionState) View {
	r := ss.state.Run
	return View{
		Run:         r,
		Display:     runstate.DeriveDisplayStatus(&r),
		Progress:    runstate.StepProgress(&r),
		Mode:        ss.control.Mode(),
		Overlay:     ss.control.Overlay(),
		ChannelOpen: ss.ch != nil && !ss.state.ChannelClosed,
	}
}

// onFrame folds one inbound frame into the session's state and executes
// the resulting effects. Runs on the channel's read loop.
func (s *ConsoleService) onFrame(ss *sessionState, f *wire.Frame) {
	ctx := context.Background()

	ss.mu.Lock()
	before := len(ss.state.Run.Messages)
	next, effects := s.reducer.Reduce(ss.state, f)
	ss.state = next
	appended := ss.state.Run.Messages[before:]
	r := ss.state.Run
	ss.mu.Unlock()

	if s.metrics != nil {
		s.metrics.FramesReceived.Add(ctx, 1)
	}

	progressChanged := false
	for _, m := range appended {
		s.hub.BroadcastEvent(ctx, ws.EventRunMessage, ws.RunMessageEvent{
			SessionID: r.SessionID,
			RunID:     r.ID,
			Message:   m,
		})
		t := m.Config.Metadata[run.MetaType]
		if t == run.MetaPlanMessage || t == run.MetaStepExecution {
			progressChanged = true
		}
	}
	if progressChanged {
		prog := runstate.StepProgress(&r)
		s.hub.BroadcastEvent(ctx, ws.EventRunProgress, ws.RunProgressEvent{
			SessionID: r.SessionID,
			RunID:     r.ID,
			Completed: prog.Completed,
			Total:     prog.Total,
		})
	}

	s.execute(ctx, ss, effects)
}

// onClose handles the channel's close event. Idle-input timeouts and
// abnormal closures surface a dismissible notice; orderly closures are
// silent.
func (s *ConsoleService) onClose(ss *sessionState, code websocket.StatusCode, reason string) {
	ctx := context.Background()

	ss.mu.Lock()
	ss.state.ChannelClosed = true
	r := ss.state.Run
	ss.mu.Unlock()

	if s.metrics != nil {
		s.metrics.ChannelsClosed.Add(ctx, 1)
	}

	switch code {
	case channel.CloseCodeInputTimeout:
		if s.metrics != nil {
			s.metrics.InputTimeouts.Add(ctx, 1)
		}
		s.notice(ctx, r.SessionID, r.ID, reason)
	case websocket.StatusCode(runstate.CloseCodeRuntimeError):
		// The close reason carries the server's error description.
		s.notice(ctx, r.SessionID, r.ID, reason)
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
	default:
		s.notice(ctx, r.SessionID, r.ID, "Connection to the agent runtime was lost.")
	}

	s.log.Info("session channel closed",
		"session_id", r.SessionID, "run_id", r.ID, "code", int(code), "reason", reason)
}

// execute runs the reducer's effects. Must not be called with ss.mu
// held: closing the channel re-enters onClose.
func (s *ConsoleService) execute(ctx context.Context, ss *sessionState, effects []runstate.Effect) {
	ss.mu.Lock()
	ch := ss.ch
	ss.mu.Unlock()

	for _, e := range effects {
		switch e.Kind {
		case runstate.EffectSendFrame:
			if ch == nil {
				continue
			}
			if err := ch.Send(ctx, e.Frame); err != nil {
				s.log.Error("send frame failed", "error", err)
				continue
			}
			if s.metrics != nil {
				s.metrics.FramesSent.Add(ctx, 1)
			}
		case runstate.EffectCloseChannel:
			if ch != nil {
				ch.Close(websocket.StatusCode(e.Code), e.Reason)
			}
		case runstate.EffectStartInputTimer:
			if ch != nil {
				ch.StartInputTimer()
			}
		case runstate.EffectCancelInputTimer:
			if ch != nil {
				ch.CancelInputTimer()
			}
		case runstate.EffectClearPlanEdits:
			ss.autosave.Cancel()
		case runstate.EffectPublishStatus:
			s.publishStatus(ctx, ss, e.Status)
		}
	}
}

// publishStatus fans a status transition out to UI clients and, when
// NATS is configured, the per-session status relay.
func (s *ConsoleService) publishStatus(ctx context.Context, ss *sessionState, status run.Status) {
	ss.mu.Lock()
	r := ss.state.Run
	ss.mu.Unlock()

	s.hub.BroadcastEvent(ctx, ws.EventRunStatus, ws.RunStatusEvent{
		SessionID: r.SessionID,
		RunID:     r.ID,
		Status:    status,
		Display:   runstate.DeriveDisplayStatus(&r),
	})

	if s.queue != nil {
		payload, err := json.Marshal(messagequeue.RunStatusPayload{
			SessionID: r.SessionID,
			RunID:     r.ID,
			Status:    string(status),
		})
		if err == nil {
			if err := s.queue.Publish(ctx, messagequeue.RunStatusSubject(r.SessionID), payload); err != nil {
				s.log.Warn("status relay publish failed", "session_id", r.SessionID, "error", err)
			}
		}
	}

	if s.metrics != nil && status.IsTerminal() {
		s.metrics.RunsCompleted.Add(ctx, 1)
		if r.TeamResult != nil {
			s.metrics.RunDuration.Record(ctx, r.TeamResult.Duration)
		}
	}
}

// notice broadcasts a dismissible user-facing notice.
func (s *ConsoleService) notice(ctx context.Context, sessionID, runID, message string) {
	s.hub.BroadcastEvent(ctx, ws.EventRunNotice, ws.RunNoticeEvent{
		SessionID: sessionID,
		RunID:     runID,
		Message:   message,
	})
}
