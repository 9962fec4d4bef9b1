package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Get("/healthz", h.Health)

	r.Route("/api/v1", func(r chi.Router) {
		// Version
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		// Sessions
		r.Get("/sessions", h.ListSessions)
		r.Post("/sessions", h.CreateSession)
		r.Get("/sessions/{id}", h.GetSession)
		r.Post("/sessions/{id}/activate", h.ActivateSession)
		r.Get("/sessions/{id}/status", h.SessionStatus)
		r.Post("/sessions/{id}/release", h.ReleaseSession)

		// Run commands
		r.Post("/sessions/{id}/start", h.StartTask)
		r.Post("/sessions/{id}/input", h.SubmitInput)
		r.Post("/sessions/{id}/approve", h.Approve)
		r.Post("/sessions/{id}/deny", h.Deny)
		r.Post("/sessions/{id}/pause", h.Pause)
		r.Post("/sessions/{id}/stop", h.Stop)

		// Control handoff
		r.Post("/sessions/{id}/control/take", h.TakeControl)
		r.Post("/sessions/{id}/control/return", h.ReturnControl)

		// Live plan editing
		r.Put("/sessions/{id}/plan", h.EditPlan)

		// Saved plans
		r.Get("/plans", h.ListSavedPlans)
		r.Post("/plans", h.SavePlan)
		r.Delete("/plans/{id}", h.DeleteSavedPlan)
		r.Post("/plans/{id}/dispatch", h.DispatchSavedPlan)

		// Remote surface
		r.Put("/sessions/{id}/surface/port", h.SetSurfacePort)
		r.Post("/sessions/{id}/surface/start", h.StartSurface)
		r.Post("/sessions/{id}/surface/stop", h.StopSurface)
	})

	// Run-state fan-out to UI clients.
	r.Get("/ws", h.hub.HandleWS)
}
