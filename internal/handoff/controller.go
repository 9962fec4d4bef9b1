// Package handoff manages exclusive human/agent control of the remote
// interactive surface, including the input-capture overlay raised while
// a human is in control.
package handoff

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Mode is who currently controls the remote surface.
type Mode string

const (
	ModeAgent Mode = "agent"
	ModeHuman Mode = "human"
)

// FallbackResume is sent as the action description when the human gives
// control back without describing what they did.
const FallbackResume = "Resume"

// Overlay passthrough targets: input aimed at these keeps flowing while
// the capture overlay is up; everything else is intercepted so the page
// behind the overlay never reacts to clicks meant for the surface.
const (
	TargetRemoteSurface  = "remote-surface"
	TargetControlledView = "control-handoff"
)

// Overlay is the input-capture state published to the UI.
type Overlay struct {
	Active      bool     `json:"active"`
	Passthrough []string `json:"passthrough,omitempty"`
}

// ErrNotHumanControlled is returned when giving control back without
// holding it.
var ErrNotHumanControlled = errors.New("handoff: surface is not human-controlled")

// ErrAlreadyHumanControlled is returned when taking control twice.
var ErrAlreadyHumanControlled = errors.New("handoff: surface is already human-controlled")

// Controller cycles the surface between agent and human control. The
// remote surface itself is opaque: the controller only pauses the run,
// manages the overlay, and reports the human's out-of-band actions back
// through an input response.
type Controller struct {
	pause   func(ctx context.Context) error
	respond func(ctx context.Context, content string) error
	log     *slog.Logger

	mu      sync.Mutex
	mode    Mode
	overlay Overlay
}

// New creates a Controller in agent-controlled mode. pause sends the
// pause frame; respond sends the accepted input response that resumes
// the run.
func New(pause func(ctx context.Context) error, respond func(ctx context.Context, content string) error, log *slog.Logger) *Controller {
	return &Controller{
		pause:   pause,
		respond: respond,
		log:     log,
		mode:    ModeAgent,
	}
}

// Mode returns who controls the surface.
func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Overlay returns the current input-capture overlay state.
func (c *Controller) Overlay() Overlay {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.overlay
}

// TakeControl pauses the run and raises the capture overlay, leaving
// only the remote surface and the handoff confirmation interactive.
func (c *Controller) TakeControl(ctx context.Context) error {
	c.mu.Lock()
	if c.mode == ModeHuman {
		c.mu.Unlock()
		return ErrAlreadyHumanControlled
	}
	c.mu.Unlock()

	if err := c.pause(ctx); err != nil {
		return fmt.Errorf("handoff: pause run: %w", err)
	}

	c.mu.Lock()
	c.mode = ModeHuman
	c.overlay = Overlay{
		Active:      true,
		Passthrough: []string{TargetRemoteSurface, TargetControlledView},
	}
	c.mu.Unlock()

	c.log.Info("human took control of remote surface")
	return nil
}

// GiveControlBack reports the human's out-of-band actions and returns
// control to the agent. A blank description falls back to "Resume".
func (c *Controller) GiveControlBack(ctx context.Context, feedback string) error {
	c.mu.Lock()
	if c.mode != ModeHuman {
		c.mu.Unlock()
		return ErrNotHumanControlled
	}
	c.mu.Unlock()

	if feedback == "" {
		feedback = FallbackResume
	}
	if err := c.respond(ctx, feedback); err != nil {
		return fmt.Errorf("handoff: resume run: %w", err)
	}

	c.mu.Lock()
	c.mode = ModeAgent
	c.overlay = Overlay{}
	c.mu.Unlock()

	c.log.Info("control returned to agent", "feedback", feedback)
	return nil
}
