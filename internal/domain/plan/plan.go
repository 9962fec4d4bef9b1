// Package plan defines the Plan domain entity, an ordered list of steps
// guiding how a task will be executed.
package plan

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Plan is an ordered list of steps for a task. A plan embedded in a
// message is immutable wire data; a plan being edited is a working copy
// reconciled back into the message log by the plansync engine.
type Plan struct {
	Task      string `json:"task"`
	Steps     []Step `json:"steps"`
	SessionID string `json:"session_id,omitempty"`
	MessageID string `json:"message_id,omitempty"`
}

// Step is one unit of a plan.
type Step struct {
	Title     string `json:"title"`
	Details   string `json:"details"`
	Enabled   bool   `json:"enabled"`
	AgentName string `json:"agent_name,omitempty"`
}

// UnmarshalJSON decodes a step, defaulting Enabled to true when the field
// is absent from the wire payload.
func (s *Step) UnmarshalJSON(data []byte) error {
	type alias Step
	aux := alias{Enabled: true}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*s = Step(aux)
	return nil
}

// Parse decodes a plan from the JSON text a plan message carries.
func Parse(s string) (*Plan, error) {
	var p Plan
	if err := json.Unmarshal([]byte(s), &p); err != nil {
		return nil, fmt.Errorf("plan: parse: %w", err)
	}
	return &p, nil
}

// Validate checks that the plan is well-formed enough to dispatch.
func (p *Plan) Validate() error {
	if p.Task == "" {
		return errors.New("plan: task is required")
	}
	if len(p.Steps) == 0 {
		return errors.New("plan: at least one step is required")
	}
	for i, st := range p.Steps {
		if st.Title == "" {
			return fmt.Errorf("plan: step %d title is required", i)
		}
	}
	return nil
}

// EnabledSteps returns only the steps the user left enabled.
func (p *Plan) EnabledSteps() []Step {
	out := make([]Step, 0, len(p.Steps))
	for _, st := range p.Steps {
		if st.Enabled {
			out = append(out, st)
		}
	}
	return out
}

// Clone returns a deep copy suitable for use as an editing working copy.
func (p *Plan) Clone() *Plan {
	cp := *p
	cp.Steps = make([]Step, len(p.Steps))
	copy(cp.Steps, p.Steps)
	return &cp
}

// SavedPlan is a plan persisted in the external plan store.
type SavedPlan struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Task      string    `json:"task"`
	Steps     []Step    `json:"steps"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
