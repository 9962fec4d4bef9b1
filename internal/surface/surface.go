// Package surface addresses the remote interactive display surface.
// The surface itself is opaque: the cockpit only builds the URL it is
// reachable at and signals when rendering should start or stop.
package surface

import (
	"errors"
	"strconv"
	"strings"
	"sync"
)

// Template placeholders. Each occurrence in the URL template is
// substituted when the view is built.
const (
	PlaceholderPort     = "{port}"
	PlaceholderViewOnly = "{view_only}"
	PlaceholderQuality  = "{quality}"
)

// ErrNoPort is returned when a view is requested before a forwarding
// port is known for the session.
var ErrNoPort = errors.New("surface: no forwarding port for session")

// View is the rendering state published to the UI: where the surface
// lives and whether it is currently shown.
type View struct {
	URL      string `json:"url"`
	Visible  bool   `json:"visible"`
	ViewOnly bool   `json:"view_only"`
}

// Builder renders surface URLs from a configured template.
type Builder struct {
	template string
	quality  int
}

// NewBuilder creates a Builder. The template may reference {port},
// {view_only} and {quality}.
func NewBuilder(template string, quality int) *Builder {
	return &Builder{template: template, quality: quality}
}

// URL substitutes the template placeholders. viewOnly is rendered as
// "1" or "0" to match the embedded viewer's query contract.
func (b *Builder) URL(port int, viewOnly bool) string {
	vo := "0"
	if viewOnly {
		vo = "1"
	}
	r := strings.NewReplacer(
		PlaceholderPort, strconv.Itoa(port),
		PlaceholderViewOnly, vo,
		PlaceholderQuality, strconv.Itoa(b.quality),
	)
	return r.Replace(b.template)
}

// Renderer tracks per-session rendering state. It never loads or
// inspects the surface; it only decides what URL the UI should embed
// and whether it should be visible.
type Renderer struct {
	builder *Builder

	mu    sync.Mutex
	ports map[string]int
	shown map[string]bool
}

// NewRenderer creates a Renderer over the given Builder.
func NewRenderer(b *Builder) *Renderer {
	return &Renderer{
		builder: b,
		ports:   make(map[string]int),
		shown:   make(map[string]bool),
	}
}

// SetPort records the forwarding port for a session, as reported by the
// runtime when the session's workspace comes up.
func (r *Renderer) SetPort(sessionID string, port int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ports[sessionID] = port
}

// Start begins rendering the session's surface and returns the view.
// viewOnly is true while the agent is in control; interactive mode is
// granted on control handoff.
func (r *Renderer) Start(sessionID string, viewOnly bool) (View, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	port, ok := r.ports[sessionID]
	if !ok {
		return View{}, ErrNoPort
	}
	r.shown[sessionID] = true
	return View{
		URL:      r.builder.URL(port, viewOnly),
		Visible:  true,
		ViewOnly: viewOnly,
	}, nil
}

// Stop halts rendering for the session.
func (r *Renderer) Stop(sessionID string) View {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.shown, sessionID)
	return View{Visible: false}
}

// Visible reports whether the session's surface is currently rendered.
func (r *Renderer) Visible(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.shown[sessionID]
}

// Forget drops all state for a session. Called on session teardown.
func (r *Renderer) Forget(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.ports, sessionID)
	delete(r.shown, sessionID)
}
