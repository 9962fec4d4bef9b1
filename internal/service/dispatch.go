package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/relaywork/cockpit/internal/adapter/otel"
	"github.com/relaywork/cockpit/internal/domain/plan"
	"github.com/relaywork/cockpit/internal/plansync"
	"github.com/relaywork/cockpit/internal/port/messagequeue"
)

// DispatchPlan applies a plan dispatch to its session, deduplicated by
// dispatch id. Duplicates and unknown sessions are dropped as stale
// background events.
func (s *ConsoleService) DispatchPlan(ctx context.Context, d plansync.Dispatch) error {
	return s.dispatcher.Dispatch(ctx, d)
}

// DispatchSavedPlan loads a stored plan and dispatches it to the
// session under the given dispatch id.
func (s *ConsoleService) DispatchSavedPlan(ctx context.Context, dispatchID, planID, userID, sessionID string) error {
	saved, err := s.plans.GetPlan(ctx, planID, userID)
	if err != nil {
		return fmt.Errorf("dispatch saved plan: %w", err)
	}
	return s.dispatcher.Dispatch(ctx, plansync.Dispatch{
		ID:        dispatchID,
		SessionID: sessionID,
		Plan:      plan.Plan{Task: saved.Task, Steps: saved.Steps, SessionID: sessionID},
	})
}

// applyDispatch is the dedup-guarded dispatch body: it starts the
// dispatched plan as a new run on the session.
func (s *ConsoleService) applyDispatch(ctx context.Context, d plansync.Dispatch) error {
	ctx, span := otel.StartDispatchSpan(ctx, d.SessionID, d.ID)
	defer span.End()

	if err := d.Plan.Validate(); err != nil {
		return fmt.Errorf("dispatch %s: %w", d.ID, err)
	}
	if err := s.StartTask(ctx, d.SessionID, d.Plan.Task, &d.Plan, nil); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.PlanDispatches.Add(ctx, 1)
	}
	return nil
}

// SubscribePlanDispatches consumes plan dispatches from the queue and
// feeds them through the dedup dispatcher. The returned function cancels
// the subscription.
func (s *ConsoleService) SubscribePlanDispatches(ctx context.Context) (func(), error) {
	if s.queue == nil {
		return func() {}, nil
	}
	return s.queue.Subscribe(ctx, messagequeue.SubjectPlanDispatch,
		func(ctx context.Context, _ string, data []byte) error {
			var p messagequeue.PlanDispatchPayload
			if err := json.Unmarshal(data, &p); err != nil {
				return fmt.Errorf("decode plan dispatch: %w", err)
			}
			d := plansync.Dispatch{ID: p.DispatchID, SessionID: p.SessionID}
			if p.Plan != nil {
				d.Plan = *p.Plan
			}
			return s.dispatcher.Dispatch(ctx, d)
		})
}

// SavedPlans lists the stored plans owned by userID.
func (s *ConsoleService) SavedPlans(ctx context.Context, userID string) ([]plan.SavedPlan, error) {
	return s.plans.ListPlans(ctx, userID)
}

// SavePlan persists a plan for later dispatch.
func (s *ConsoleService) SavePlan(ctx context.Context, p plan.SavedPlan) (*plan.SavedPlan, error) {
	if err := (&plan.Plan{Task: p.Task, Steps: p.Steps}).Validate(); err != nil {
		return nil, err
	}
	return s.plans.CreatePlan(ctx, p)
}

// DeleteSavedPlan removes a stored plan.
func (s *ConsoleService) DeleteSavedPlan(ctx context.Context, id, userID string) error {
	return s.plans.DeletePlan(ctx, id, userID)
}
