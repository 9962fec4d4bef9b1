// Package plansync reconciles plans flowing between the user, the
// channel, and the external plan store: it tracks which embedded plan is
// live-editable, applies the retroactive plan rewrite, debounces
// autosave commits, and deduplicates saved-plan dispatches.
package plansync

import (
	"encoding/json"

	"github.com/relaywork/cockpit/internal/domain/plan"
	"github.com/relaywork/cockpit/internal/domain/run"
)

// LiveIndex returns the index of the only live-editable plan message,
// the most recent one in the log. Earlier plan messages are rendered
// read-only. Returns -1 when the log has no plan message.
func LiveIndex(msgs []run.Message) int {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].IsPlanMessage() {
			return i
		}
	}
	return -1
}

// RewritePrecedingPlan applies the one permitted post-append mutation:
// when the user's message at userIdx carries an edited plan, the nearest
// preceding plan message is rewritten to match it and its version is
// bumped, keeping the rendered step list consistent with what the user
// actually approved. Returns true if a rewrite happened.
func RewritePrecedingPlan(msgs []run.Message, userIdx int, p *plan.Plan) bool {
	if p == nil || userIdx <= 0 || userIdx > len(msgs) {
		return false
	}

	for i := userIdx - 1; i >= 0; i-- {
		if !msgs[i].IsPlanMessage() {
			continue
		}
		data, err := json.Marshal(p)
		if err != nil {
			return false
		}
		msgs[i].Config.Content = run.TextContent(string(data))
		msgs[i].Version++
		return true
	}
	return false
}

// PlanInMessage extracts the plan embedded in a plan message.
func PlanInMessage(m *run.Message) (*plan.Plan, bool) {
	if !m.IsPlanMessage() {
		return nil, false
	}
	p, err := plan.Parse(m.Config.Content.String())
	if err != nil {
		return nil, false
	}
	return p, true
}
