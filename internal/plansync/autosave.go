package plansync

import (
	"sync"
	"time"

	"github.com/relaywork/cockpit/internal/domain/plan"
)

// Autosave debounces plan working-copy commits: edits accumulate a
// pending copy and the commit callback fires only after the debounce
// delay elapses without further edits, on explicit Flush, or never if
// the edits are cancelled. It replaces closure-captured mutable flags
// with an explicit cancellable timer.
type Autosave struct {
	mu      sync.Mutex
	delay   time.Duration
	commit  func(plan.Plan)
	timer   *time.Timer
	pending *plan.Plan
}

// NewAutosave creates an Autosave committing via the given callback.
func NewAutosave(delay time.Duration, commit func(plan.Plan)) *Autosave {
	return &Autosave{delay: delay, commit: commit}
}

// Touch records the latest working copy and restarts the debounce timer.
// Nothing reaches the wire until the commit callback fires.
func (a *Autosave) Touch(p plan.Plan) {
	a.mu.Lock()
	defer a.mu.Unlock()

	cp := p.Clone()
	a.pending = cp
	if a.timer != nil {
		a.timer.Stop()
	}
	a.timer = time.AfterFunc(a.delay, a.fire)
}

// Flush commits the pending working copy immediately, if any. Used when
// the user explicitly submits while an autosave is still scheduled.
func (a *Autosave) Flush() {
	a.mu.Lock()
	p := a.take()
	a.mu.Unlock()

	if p != nil {
		a.commit(*p)
	}
}

// Cancel drops the pending working copy without committing.
func (a *Autosave) Cancel() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.take()
}

// Pending reports whether an uncommitted working copy exists.
func (a *Autosave) Pending() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pending != nil
}

func (a *Autosave) fire() {
	a.mu.Lock()
	p := a.take()
	a.mu.Unlock()

	if p != nil {
		a.commit(*p)
	}
}

// take must be called with a.mu held.
func (a *Autosave) take() *plan.Plan {
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	p := a.pending
	a.pending = nil
	return p
}
