// Package session defines the Session domain entity, a persistent
// conversation that owns at most one open channel at a time.
package session

import "time"

// Session identifies a persistent conversation with the agent runtime.
// The session store itself is external; Cockpit only reads sessions to
// seed runs before opening a channel.
type Session struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}
