package messagequeue

import "github.com/relaywork/cockpit/internal/domain/plan"

// PlanDispatchPayload is the schema for plans.dispatch messages.
type PlanDispatchPayload struct {
	DispatchID string     `json:"dispatch_id"`
	SessionID  string     `json:"session_id"`
	Plan       *plan.Plan `json:"plan,omitempty"`
}

// RunStatusPayload is the schema for runs.status.{session_id} messages.
type RunStatusPayload struct {
	SessionID string `json:"session_id"`
	RunID     string `json:"run_id"`
	Status    string `json:"status"`
}
