package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/relaywork/cockpit/internal/adapter/planstore"
	"github.com/relaywork/cockpit/internal/adapter/runtimeapi"
	"github.com/relaywork/cockpit/internal/adapter/ws"
	"github.com/relaywork/cockpit/internal/channel"
	"github.com/relaywork/cockpit/internal/domain/plan"
	"github.com/relaywork/cockpit/internal/domain/run"
	"github.com/relaywork/cockpit/internal/handoff"
	"github.com/relaywork/cockpit/internal/plansync"
	"github.com/relaywork/cockpit/internal/resilience"
	"github.com/relaywork/cockpit/internal/runstate"
)

// fakeConn is an in-memory channel connection for driving the service
// without a runtime.
type fakeConn struct {
	mu    sync.Mutex
	sent  [][]byte
	inbox chan []byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{inbox: make(chan []byte, 16)}
}

func (f *fakeConn) deliver(t *testing.T, data string) {
	t.Helper()
	f.inbox <- []byte(data)
}

func (f *fakeConn) Read(ctx context.Context) (websocket.MessageType, []byte, error) {
	select {
	case data, ok := <-f.inbox:
		if !ok {
			return 0, nil, errors.New("closed")
		}
		return websocket.MessageText, data, nil
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

func (f *fakeConn) Write(_ context.Context, _ websocket.MessageType, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, append([]byte(nil), data...))
	return nil
}

func (f *fakeConn) Close(websocket.StatusCode, string) error { return nil }

func (f *fakeConn) sentFrames() []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]map[string]any, 0, len(f.sent))
	for _, data := range f.sent {
		var m map[string]any
		_ = json.Unmarshal(data, &m)
		out = append(out, m)
	}
	return out
}

type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemCache() *memCache { return &memCache{data: make(map[string][]byte)} }

func (m *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memCache) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// testHarness wires a ConsoleService against an in-memory runtime: a
// stub REST store keeping per-session run histories, and a dialer
// producing fakeConns.
type testHarness struct {
	svc    *ConsoleService
	hub    *ws.Hub
	conns  []*fakeConn
	dials  int
	runs   map[string][]run.Run
	nextID int
	mu     sync.Mutex
}

func (h *testHarness) conn(i int) *fakeConn {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conns[i]
}

func (h *testHarness) dialCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dials
}

// setRuns replaces a session's run history in the stub store. A call
// with no runs registers the session as known but without any run yet.
func (h *testHarness) setRuns(sessionID string, runs ...run.Run) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.runs[sessionID] = runs
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()

	h := &testHarness{
		hub: ws.NewHub(),
		runs: map[string][]run.Run{
			"1": {{ID: "7", SessionID: "1", Status: run.StatusConnected}},
		},
		nextID: 100,
	}

	runtimeSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		if len(parts) != 3 || parts[0] != "sessions" || parts[2] != "runs" {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		h.mu.Lock()
		defer h.mu.Unlock()
		runs, known := h.runs[parts[1]]
		if !known {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if r.Method == http.MethodPost {
			created := run.Run{ID: strconv.Itoa(h.nextID), SessionID: parts[1], Status: run.StatusConnected}
			h.nextID++
			h.runs[parts[1]] = append(runs, created)
			_ = json.NewEncoder(w).Encode(created)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"runs": runs})
	}))
	t.Cleanup(runtimeSrv.Close)

	dial := func(context.Context, string, string) (channel.Conn, error) {
		h.mu.Lock()
		defer h.mu.Unlock()
		c := newFakeConn()
		h.conns = append(h.conns, c)
		h.dials++
		return c, nil
	}

	log := slog.New(slog.DiscardHandler)
	registry := channel.NewRegistry(dial,
		resilience.Poller{Attempts: 2, Interval: time.Millisecond},
		time.Minute, "Input request timed out", log)

	h.svc = NewConsole(Deps{
		Registry:   registry,
		Runtime:    runtimeapi.NewClient(runtimeSrv.URL),
		Plans:      planstore.NewClient(runtimeSrv.URL),
		Hub:        h.hub,
		DedupCache: newMemCache(),
		DedupTTL:   time.Minute,
		Log:        log,
	})
	t.Cleanup(h.svc.Shutdown)
	return h
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never held")
}

func (h *testHarness) status(t *testing.T) run.Status {
	t.Helper()
	v, err := h.svc.Snapshot("1")
	if err != nil {
		t.Fatal(err)
	}
	return v.Run.Status
}

func TestActivateSession_SeedsAndConnects(t *testing.T) {
	h := newHarness(t)

	v, err := h.svc.ActivateSession(context.Background(), "1", false)
	if err != nil {
		t.Fatal(err)
	}
	if v.Run.ID != "7" || v.Run.SessionID != "1" {
		t.Fatalf("unexpected seeded run: %+v", v.Run)
	}
	if v.Run.Status != run.StatusConnected {
		t.Errorf("expected connected, got %s", v.Run.Status)
	}
	if !v.ChannelOpen {
		t.Error("expected an open channel")
	}

	// Re-activation reuses the open channel.
	if _, err := h.svc.ActivateSession(context.Background(), "1", false); err != nil {
		t.Fatal(err)
	}
	if h.dialCount() != 1 {
		t.Errorf("expected 1 dial, got %d", h.dialCount())
	}
}

func TestActivateSession_UnknownSession(t *testing.T) {
	h := newHarness(t)

	if _, err := h.svc.ActivateSession(context.Background(), "nope", false); err == nil {
		t.Fatal("expected error for unknown session")
	}
}

func TestApprovalFlow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.svc.ActivateSession(ctx, "1", false); err != nil {
		t.Fatal(err)
	}
	conn := h.conn(0)

	conn.deliver(t, `{"type":"input_request","input_type":"approval","prompt":"Proceed?"}`)
	waitFor(t, func() bool { return h.status(t) == run.StatusAwaitingInput })

	v, _ := h.svc.Snapshot("1")
	if v.Run.InputRequest == nil || v.Run.InputRequest.Prompt != "Proceed?" {
		t.Fatalf("unexpected input request: %+v", v.Run.InputRequest)
	}

	if err := h.svc.Approve(ctx, "1"); err != nil {
		t.Fatal(err)
	}

	// The optimistic transition lands immediately.
	if got := h.status(t); got != run.StatusActive {
		t.Errorf("expected active after approve, got %s", got)
	}

	frames := conn.sentFrames()
	if len(frames) != 1 || frames[0]["type"] != "input_response" {
		t.Fatalf("expected one input_response frame, got %v", frames)
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(frames[0]["response"].(string)), &payload); err != nil {
		t.Fatal(err)
	}
	if payload["accepted"] != true || payload["content"] != "approve" {
		t.Errorf("unexpected response payload: %v", payload)
	}

	// The server confirms; the status stays active and the request is gone.
	conn.deliver(t, `{"type":"system","status":"active"}`)
	waitFor(t, func() bool {
		v, _ := h.svc.Snapshot("1")
		return v.Run.Status == run.StatusActive && v.Run.InputRequest == nil
	})
}

func TestResultClosesChannel(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.svc.ActivateSession(ctx, "1", false); err != nil {
		t.Fatal(err)
	}
	conn := h.conn(0)

	conn.deliver(t, `{"type":"result","status":"complete"}`)
	waitFor(t, func() bool { return h.status(t) == run.StatusComplete })

	v, _ := h.svc.Snapshot("1")
	if v.ChannelOpen {
		t.Error("channel must be closed after a result frame")
	}

	// Frames after the result are ignored.
	conn.deliver(t, `{"type":"system","status":"active"}`)
	time.Sleep(50 * time.Millisecond)
	if got := h.status(t); got != run.StatusComplete {
		t.Errorf("terminal run must ignore later frames, got %s", got)
	}

	if err := h.svc.Pause(ctx, "1"); !errors.Is(err, ErrNoActiveSession) {
		t.Errorf("expected ErrNoActiveSession, got %v", err)
	}
}

// Starting a task on a session whose latest run already finished must
// create a fresh run instead of refusing to attach to the old one.
func TestStartTask_AfterCompletedRun(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.setRuns("1", run.Run{ID: "7", SessionID: "1", Status: run.StatusComplete})

	if err := h.svc.StartTask(ctx, "1", "take it from the top", nil, nil); err != nil {
		t.Fatal(err)
	}

	if h.dialCount() != 1 {
		t.Fatalf("expected 1 dial, got %d", h.dialCount())
	}
	frames := h.conn(0).sentFrames()
	if len(frames) != 1 || frames[0]["type"] != "start" {
		t.Fatalf("expected one start frame, got %v", frames)
	}

	v, err := h.svc.Snapshot("1")
	if err != nil {
		t.Fatal(err)
	}
	if v.Run.ID == "7" {
		t.Error("expected a new run, still on the finished one")
	}
	if !v.ChannelOpen {
		t.Error("expected an open channel for the new run")
	}
}

func TestStartTask_SessionWithoutRuns(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.setRuns("2")

	if err := h.svc.StartTask(ctx, "2", "first task ever", nil, nil); err != nil {
		t.Fatal(err)
	}
	if h.dialCount() != 1 {
		t.Fatalf("expected 1 dial, got %d", h.dialCount())
	}
	frames := h.conn(0).sentFrames()
	if len(frames) != 1 || frames[0]["type"] != "start" {
		t.Fatalf("expected one start frame, got %v", frames)
	}
}

// An error frame closes the channel and must leave a trace: the run
// records the description and UI clients get a dismissible notice. The
// stored status stays whatever the last system frame set.
func TestErrorFrameSurfacesNotice(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	uiSrv := httptest.NewServer(http.HandlerFunc(h.hub.HandleWS))
	t.Cleanup(uiSrv.Close)
	client, _, err := websocket.Dial(ctx, uiSrv.URL, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = client.Close(websocket.StatusNormalClosure, "") }()
	waitFor(t, func() bool { return h.hub.ConnectionCount() == 1 })

	if _, err := h.svc.ActivateSession(ctx, "1", false); err != nil {
		t.Fatal(err)
	}
	h.conn(0).deliver(t, `{"type":"error","error":"agent runtime exploded"}`)

	waitFor(t, func() bool {
		v, _ := h.svc.Snapshot("1")
		return !v.ChannelOpen
	})
	v, _ := h.svc.Snapshot("1")
	if v.Run.ErrorMessage != "agent runtime exploded" {
		t.Errorf("expected the error description on the run, got %q", v.Run.ErrorMessage)
	}
	if v.Run.Status == run.StatusError {
		t.Error("an error frame must not set the stored status to error")
	}

	// Skip past status events to the notice.
	for {
		_, data, err := client.Read(ctx)
		if err != nil {
			t.Fatalf("notice never arrived: %v", err)
		}
		var msg ws.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatal(err)
		}
		if msg.Type != ws.EventRunNotice {
			continue
		}
		var evt ws.RunNoticeEvent
		if err := json.Unmarshal(msg.Payload, &evt); err != nil {
			t.Fatal(err)
		}
		if evt.SessionID != "1" || evt.Message != "agent runtime exploded" {
			t.Errorf("unexpected notice: %+v", evt)
		}
		return
	}
}

func TestFinalAnswerDisplayStatus(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.svc.ActivateSession(ctx, "1", false); err != nil {
		t.Fatal(err)
	}
	conn := h.conn(0)

	conn.deliver(t, `{"type":"message","data":{"source":"coder","content":"done!","metadata":{"type":"final_answer"}}}`)
	conn.deliver(t, `{"type":"input_request","input_type":"text_input"}`)
	waitFor(t, func() bool { return h.status(t) == run.StatusAwaitingInput })

	v, _ := h.svc.Snapshot("1")
	if v.Display != runstate.DisplayFinalAnswerAwaitingInput {
		t.Errorf("expected final_answer_awaiting_input, got %s", v.Display)
	}
}

func TestDispatchPlan_Dedup(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	d := dispatchFor("1", "d1")
	for range 3 {
		if err := h.svc.DispatchPlan(ctx, d); err != nil {
			t.Fatal(err)
		}
	}

	// Each applied dispatch force-opens a fresh channel and sends one
	// start frame; dedup keeps it to exactly one.
	if h.dialCount() != 1 {
		t.Errorf("expected 1 dial for 3 identical dispatches, got %d", h.dialCount())
	}
	frames := h.conn(0).sentFrames()
	if len(frames) != 1 || frames[0]["type"] != "start" {
		t.Fatalf("expected one start frame, got %v", frames)
	}
}

func TestDispatchPlan_UnknownSessionDropped(t *testing.T) {
	h := newHarness(t)

	if err := h.svc.DispatchPlan(context.Background(), dispatchFor("ghost", "d1")); err != nil {
		t.Fatalf("unknown session must be a silent drop, got %v", err)
	}
	if h.dialCount() != 0 {
		t.Error("no channel must open for an unknown session")
	}
}

func TestControlHandoffFlow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.svc.ActivateSession(ctx, "1", false); err != nil {
		t.Fatal(err)
	}
	conn := h.conn(0)
	conn.deliver(t, `{"type":"system","status":"active"}`)
	waitFor(t, func() bool { return h.status(t) == run.StatusActive })

	if err := h.svc.TakeControl(ctx, "1"); err != nil {
		t.Fatal(err)
	}
	if mode, _ := h.svc.ControlMode("1"); mode != handoff.ModeHuman {
		t.Errorf("expected human mode, got %s", mode)
	}
	if got := h.status(t); got != run.StatusPausing {
		t.Errorf("expected pausing after take-control, got %s", got)
	}

	if err := h.svc.GiveControlBack(ctx, "1", "clicked login"); err != nil {
		t.Fatal(err)
	}
	if mode, _ := h.svc.ControlMode("1"); mode != handoff.ModeAgent {
		t.Errorf("expected agent mode, got %s", mode)
	}

	frames := conn.sentFrames()
	last := frames[len(frames)-1]
	if last["type"] != "input_response" {
		t.Fatalf("expected input_response, got %v", last)
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(last["response"].(string)), &payload); err != nil {
		t.Fatal(err)
	}
	if payload["accepted"] != true || payload["content"] != "clicked login" {
		t.Errorf("unexpected handoff payload: %v", payload)
	}
	if got := h.status(t); got != run.StatusActive {
		t.Errorf("expected active after give-back, got %s", got)
	}
}

func TestSubmitInputWithPlanRewritesPlanMessage(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.svc.ActivateSession(ctx, "1", false); err != nil {
		t.Fatal(err)
	}
	conn := h.conn(0)

	conn.deliver(t, `{"type":"message","data":{"source":"planner","content":"{\"task\":\"t\",\"steps\":[{\"title\":\"a\"},{\"title\":\"b\"}]}","metadata":{"type":"plan_message"}}}`)
	conn.deliver(t, `{"type":"input_request","input_type":"approval","prompt":"Run this plan?"}`)
	waitFor(t, func() bool { return h.status(t) == run.StatusAwaitingInput })

	edited := &plan.Plan{Task: "t", Steps: []plan.Step{
		{Title: "a", Enabled: true},
		{Title: "b", Enabled: false},
	}}
	if err := h.svc.SubmitInput(ctx, "1", true, "approve", edited); err != nil {
		t.Fatal(err)
	}

	v, _ := h.svc.Snapshot("1")
	var planMsg *run.Message
	for i := range v.Run.Messages {
		if v.Run.Messages[i].IsPlanMessage() {
			planMsg = &v.Run.Messages[i]
		}
	}
	if planMsg == nil {
		t.Fatal("plan message missing")
	}
	if planMsg.Version != 1 {
		t.Errorf("expected rewritten plan message version 1, got %d", planMsg.Version)
	}
	rewritten, err := plan.Parse(planMsg.Config.Content.String())
	if err != nil {
		t.Fatal(err)
	}
	if len(rewritten.Steps) != 2 || rewritten.Steps[1].Enabled {
		t.Errorf("rewrite did not apply the edited steps: %+v", rewritten.Steps)
	}
}

func TestWatchStatusNeverOpens(t *testing.T) {
	h := newHarness(t)

	if _, err := h.svc.WatchStatus(context.Background(), "1"); !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("expected ErrNoActiveSession, got %v", err)
	}
	if h.dialCount() != 0 {
		t.Error("watch must never dial")
	}
}

func dispatchFor(sessionID, id string) plansync.Dispatch {
	return plansync.Dispatch{
		ID:        id,
		SessionID: sessionID,
		Plan: plan.Plan{
			Task:  "migrate billing",
			Steps: []plan.Step{{Title: "inventory tables", Enabled: true}},
		},
	}
}
