package runstate

import "github.com/relaywork/cockpit/internal/domain/run"

// EffectKind identifies a side effect requested by the reducer.
type EffectKind int

const (
	// EffectSendFrame asks the channel to serialize and send Frame.
	EffectSendFrame EffectKind = iota
	// EffectCloseChannel asks the channel to close with Code and Reason.
	EffectCloseChannel
	// EffectStartInputTimer arms the idle-input timeout.
	EffectStartInputTimer
	// EffectCancelInputTimer disarms the idle-input timeout.
	EffectCancelInputTimer
	// EffectClearPlanEdits discards the plansync working copy.
	EffectClearPlanEdits
	// EffectPublishStatus announces a status transition to observers.
	EffectPublishStatus
)

// Effect is one side effect for the caller to execute after a reduction.
// The reducer itself never touches the channel, timers, or observers.
type Effect struct {
	Kind   EffectKind
	Frame  any // outbound frame for EffectSendFrame
	Code   int
	Reason string
	Status run.Status
}

func sendFrame(frame any) Effect      { return Effect{Kind: EffectSendFrame, Frame: frame} }
func closeChannel(code int, reason string) Effect {
	return Effect{Kind: EffectCloseChannel, Code: code, Reason: reason}
}
func publishStatus(s run.Status) Effect { return Effect{Kind: EffectPublishStatus, Status: s} }
