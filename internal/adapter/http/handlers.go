package http

import (
	"net/http"

	"github.com/relaywork/cockpit/internal/adapter/runtimeapi"
	"github.com/relaywork/cockpit/internal/adapter/ws"
	"github.com/relaywork/cockpit/internal/domain/plan"
	"github.com/relaywork/cockpit/internal/service"
	"github.com/relaywork/cockpit/internal/surface"
	"github.com/relaywork/cockpit/internal/wire"
)

// Handlers bundles the gateway's dependencies.
type Handlers struct {
	console  *service.ConsoleService
	runtime  *runtimeapi.Client
	renderer *surface.Renderer
	hub      *ws.Hub
}

// NewHandlers creates the gateway handlers.
func NewHandlers(console *service.ConsoleService, runtime *runtimeapi.Client, renderer *surface.Renderer, hub *ws.Hub) *Handlers {
	return &Handlers{console: console, runtime: runtime, renderer: renderer, hub: hub}
}

// Health reports liveness plus basic connectivity counters.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"ws_clients": h.hub.ConnectionCount(),
	})
}

// ---------------------------------------------------------------------------
// Sessions
// ---------------------------------------------------------------------------

// ListSessions proxies the runtime's session list.
func (h *Handlers) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.runtime.ListSessions(r.Context())
	if err != nil {
		writeDomainError(w, err, "sessions not available")
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

// CreateSession creates a session in the runtime.
func (h *Handlers) CreateSession(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[struct {
		Name string `json:"name"`
	}](w, r)
	if !ok {
		return
	}
	if !requireField(w, req.Name, "name") {
		return
	}

	s, err := h.runtime.CreateSession(r.Context(), req.Name)
	if err != nil {
		writeDomainError(w, err, "session not created")
		return
	}
	writeJSON(w, http.StatusCreated, s)
}

// GetSession proxies one session.
func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.runtime.GetSession(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// ActivateSession seeds the session's run and opens its channel.
func (h *Handlers) ActivateSession(w http.ResponseWriter, r *http.Request) {
	req, ok := readOptionalJSON[struct {
		ForceFresh bool `json:"force_fresh"`
	}](w, r)
	if !ok {
		return
	}

	v, err := h.console.ActivateSession(r.Context(), urlParam(r, "id"), req.ForceFresh)
	if err != nil {
		writeDomainError(w, err, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// SessionStatus returns the background status view without opening a
// channel.
func (h *Handlers) SessionStatus(w http.ResponseWriter, r *http.Request) {
	v, err := h.console.WatchStatus(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "session not activated")
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// ReleaseSession force-closes the session's channel and drops its
// surface state.
func (h *Handlers) ReleaseSession(w http.ResponseWriter, r *http.Request) {
	sessionID := urlParam(r, "id")
	h.console.ReleaseSession(sessionID)
	h.renderer.Forget(sessionID)
	w.WriteHeader(http.StatusNoContent)
}

// ---------------------------------------------------------------------------
// Run commands
// ---------------------------------------------------------------------------

// StartTask launches a new run.
func (h *Handlers) StartTask(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[struct {
		Content string          `json:"content"`
		Plan    *plan.Plan      `json:"plan,omitempty"`
		Files   []wire.FileBlob `json:"files,omitempty"`
	}](w, r)
	if !ok {
		return
	}
	if !requireField(w, req.Content, "content") {
		return
	}

	if err := h.console.StartTask(r.Context(), urlParam(r, "id"), req.Content, req.Plan, req.Files); err != nil {
		writeDomainError(w, err, "session not found")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// SubmitInput answers a pending input request.
func (h *Handlers) SubmitInput(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[struct {
		Accepted bool       `json:"accepted"`
		Content  string     `json:"content"`
		Plan     *plan.Plan `json:"plan,omitempty"`
	}](w, r)
	if !ok {
		return
	}

	if err := h.console.SubmitInput(r.Context(), urlParam(r, "id"), req.Accepted, req.Content, req.Plan); err != nil {
		writeDomainError(w, err, "session not found")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// Approve accepts a pending approval request.
func (h *Handlers) Approve(w http.ResponseWriter, r *http.Request) {
	if err := h.console.Approve(r.Context(), urlParam(r, "id")); err != nil {
		writeDomainError(w, err, "session not found")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// Deny rejects a pending approval request.
func (h *Handlers) Deny(w http.ResponseWriter, r *http.Request) {
	req, ok := readOptionalJSON[struct {
		Reason string `json:"reason"`
	}](w, r)
	if !ok {
		return
	}

	if err := h.console.Deny(r.Context(), urlParam(r, "id"), req.Reason); err != nil {
		writeDomainError(w, err, "session not found")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// Pause asks the runtime to pause the current run.
func (h *Handlers) Pause(w http.ResponseWriter, r *http.Request) {
	if err := h.console.Pause(r.Context(), urlParam(r, "id")); err != nil {
		writeDomainError(w, err, "session not found")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// Stop asks the runtime to stop the current run.
func (h *Handlers) Stop(w http.ResponseWriter, r *http.Request) {
	req, ok := readOptionalJSON[struct {
		Reason string `json:"reason"`
	}](w, r)
	if !ok {
		return
	}
	if req.Reason == "" {
		req.Reason = "stopped by user"
	}

	if err := h.console.Stop(r.Context(), urlParam(r, "id"), req.Reason); err != nil {
		writeDomainError(w, err, "session not found")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// ---------------------------------------------------------------------------
// Control handoff
// ---------------------------------------------------------------------------

// TakeControl hands the remote surface to the human.
func (h *Handlers) TakeControl(w http.ResponseWriter, r *http.Request) {
	if err := h.console.TakeControl(r.Context(), urlParam(r, "id")); err != nil {
		writeDomainError(w, err, "session not found")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// ReturnControl gives control back to the agent with optional feedback.
func (h *Handlers) ReturnControl(w http.ResponseWriter, r *http.Request) {
	req, ok := readOptionalJSON[struct {
		Feedback string `json:"feedback"`
	}](w, r)
	if !ok {
		return
	}

	if err := h.console.GiveControlBack(r.Context(), urlParam(r, "id"), req.Feedback); err != nil {
		writeDomainError(w, err, "session not found")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// ---------------------------------------------------------------------------
// Plans
// ---------------------------------------------------------------------------

// EditPlan records a live plan edit; commits are debounced.
func (h *Handlers) EditPlan(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[plan.Plan](w, r)
	if !ok {
		return
	}

	if err := h.console.EditPlan(urlParam(r, "id"), req); err != nil {
		writeDomainError(w, err, "session not found")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// ListSavedPlans lists the caller's stored plans.
func (h *Handlers) ListSavedPlans(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if !requireField(w, userID, "user_id") {
		return
	}

	plans, err := h.console.SavedPlans(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err, "plans not available")
		return
	}
	writeJSON(w, http.StatusOK, plans)
}

// SavePlan persists a plan for later dispatch.
func (h *Handlers) SavePlan(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[plan.SavedPlan](w, r)
	if !ok {
		return
	}
	if !requireField(w, req.UserID, "user_id") {
		return
	}

	saved, err := h.console.SavePlan(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

// DeleteSavedPlan removes a stored plan.
func (h *Handlers) DeleteSavedPlan(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if !requireField(w, userID, "user_id") {
		return
	}

	if err := h.console.DeleteSavedPlan(r.Context(), urlParam(r, "id"), userID); err != nil {
		writeDomainError(w, err, "plan not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DispatchSavedPlan starts a stored plan on a session.
func (h *Handlers) DispatchSavedPlan(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[struct {
		DispatchID string `json:"dispatch_id"`
		UserID     string `json:"user_id"`
		SessionID  string `json:"session_id"`
	}](w, r)
	if !ok {
		return
	}
	if !requireField(w, req.DispatchID, "dispatch_id") ||
		!requireField(w, req.UserID, "user_id") ||
		!requireField(w, req.SessionID, "session_id") {
		return
	}

	if err := h.console.DispatchSavedPlan(r.Context(), req.DispatchID, urlParam(r, "id"), req.UserID, req.SessionID); err != nil {
		writeDomainError(w, err, "plan not found")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// ---------------------------------------------------------------------------
// Remote surface
// ---------------------------------------------------------------------------

// SetSurfacePort records the session's forwarding port.
func (h *Handlers) SetSurfacePort(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[struct {
		Port int `json:"port"`
	}](w, r)
	if !ok {
		return
	}
	if req.Port <= 0 || req.Port > 65535 {
		writeError(w, http.StatusBadRequest, "port must be between 1 and 65535")
		return
	}

	h.renderer.SetPort(urlParam(r, "id"), req.Port)
	w.WriteHeader(http.StatusNoContent)
}

// StartSurface begins rendering the remote surface.
func (h *Handlers) StartSurface(w http.ResponseWriter, r *http.Request) {
	req, ok := readOptionalJSON[struct {
		ViewOnly bool `json:"view_only"`
	}](w, r)
	if !ok {
		return
	}

	sessionID := urlParam(r, "id")
	view, err := h.renderer.Start(sessionID, req.ViewOnly)
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	h.hub.BroadcastEvent(r.Context(), ws.EventSurfaceView, ws.SurfaceViewEvent{
		SessionID: sessionID,
		View:      view,
	})
	writeJSON(w, http.StatusOK, view)
}

// StopSurface halts rendering.
func (h *Handlers) StopSurface(w http.ResponseWriter, r *http.Request) {
	sessionID := urlParam(r, "id")
	view := h.renderer.Stop(sessionID)

	h.hub.BroadcastEvent(r.Context(), ws.EventSurfaceView, ws.SurfaceViewEvent{
		SessionID: sessionID,
		View:      view,
	})
	writeJSON(w, http.StatusOK, view)
}
