package runstate

import (
	"strconv"

	"github.com/relaywork/cockpit/internal/domain/plan"
	"github.com/relaywork/cockpit/internal/domain/run"
)

// DisplayStatus is the UI-facing status of a run. It is a superset of
// run.Status: the wire protocol never sends final_answer_awaiting_input,
// it is derived here and consumed by every summary view.
type DisplayStatus string

// DisplayFinalAnswerAwaitingInput marks a run waiting for the user to
// confirm the agent's final answer.
const DisplayFinalAnswerAwaitingInput DisplayStatus = "final_answer_awaiting_input"

// DeriveDisplayStatus computes the display status for a run. While
// awaiting input, a final-answer tag on the last or second-to-last
// message upgrades the status; the stored run.Status is never changed.
func DeriveDisplayStatus(r *run.Run) DisplayStatus {
	if r.Status == run.StatusAwaitingInput {
		n := len(r.Messages)
		for i := n - 1; i >= 0 && i >= n-2; i-- {
			if r.Messages[i].IsFinalAnswer() {
				return DisplayFinalAnswerAwaitingInput
			}
		}
	}
	return DisplayStatus(r.Status)
}

// Progress is the derived step-completion state of a run.
type Progress struct {
	Completed int `json:"completed"`
	Total     int `json:"total"`
}

// StepProgress recomputes plan-step progress from the message log: the
// latest plan message fixes the step list, and step_execution markers
// after it advance the completed count.
func StepProgress(r *run.Run) Progress {
	planIdx := -1
	var p *plan.Plan
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if !r.Messages[i].IsPlanMessage() {
			continue
		}
		// An unparseable plan message cannot fix the step list; keep
		// scanning for an older one that can.
		parsed, err := plan.Parse(r.Messages[i].Config.Content.String())
		if err != nil {
			continue
		}
		planIdx = i
		p = parsed
		break
	}
	if p == nil {
		return Progress{}
	}

	prog := Progress{Total: len(p.Steps)}
	for _, m := range r.Messages[planIdx+1:] {
		if m.Config.Metadata[run.MetaType] != run.MetaStepExecution {
			continue
		}
		idx, err := strconv.Atoi(m.Config.Metadata[run.MetaIndex])
		if err != nil {
			continue
		}
		if idx+1 > prog.Completed {
			prog.Completed = idx + 1
		}
	}
	if prog.Completed > prog.Total {
		prog.Completed = prog.Total
	}
	return prog
}
