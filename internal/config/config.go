// Package config provides hierarchical configuration loading for Cockpit.
// Precedence: defaults < YAML file < environment variables.
package config

import "time"

// Config holds all runtime configuration for the Cockpit console service.
type Config struct {
	Server    Server    `yaml:"server"`
	Runtime   Runtime   `yaml:"runtime"`
	PlanStore PlanStore `yaml:"plan_store"`
	NATS      NATS      `yaml:"nats"`
	Timeouts  Timeouts  `yaml:"timeouts"`
	Surface   Surface   `yaml:"surface"`
	Logging   Logging   `yaml:"logging"`
	Breaker   Breaker   `yaml:"breaker"`
	Cache     Cache     `yaml:"cache"`
}

// Server holds HTTP gateway configuration.
type Server struct {
	Port       string `yaml:"port"`
	CORSOrigin string `yaml:"cors_origin"`
}

// Runtime holds agent runtime collaborator configuration.
type Runtime struct {
	BaseURL          string        `yaml:"base_url"`          // REST session/run store
	WSURL            string        `yaml:"ws_url"`            // WebSocket channel endpoint
	HandshakePolls   int           `yaml:"handshake_polls"`   // Liveness poll attempts before a start is failed
	HandshakeBackoff time.Duration `yaml:"handshake_backoff"` // Delay between liveness polls
}

// PlanStore holds saved-plan store collaborator configuration.
type PlanStore struct {
	BaseURL string `yaml:"base_url"`
}

// NATS holds the dispatch/status relay configuration.
// When URL is empty the relay is disabled and plan dispatches arrive only via HTTP.
type NATS struct {
	URL string `yaml:"url"`
}

// Timeouts holds channel-level timing configuration.
type Timeouts struct {
	InputIdle      time.Duration `yaml:"input_idle"`      // Close the channel after this long awaiting input
	TimeoutMessage string        `yaml:"timeout_message"` // User-facing message on input-idle expiry
}

// Surface holds remote interactive surface configuration.
type Surface struct {
	URLTemplate string `yaml:"url_template"`
	Quality     int    `yaml:"quality"`
}

// Logging holds structured logging configuration.
type Logging struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
	Async   bool   `yaml:"async"`
}

// Breaker holds circuit breaker configuration for the REST collaborators.
type Breaker struct {
	MaxFailures int           `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Cache holds the dispatch idempotency cache configuration.
type Cache struct {
	MaxSizeMB   int64         `yaml:"max_size_mb"`
	DispatchTTL time.Duration `yaml:"dispatch_ttl"`
}

// Defaults returns a Config with sensible default values for local development.
func Defaults() Config {
	return Config{
		Server: Server{
			Port:       "8081",
			CORSOrigin: "http://localhost:3000",
		},
		Runtime: Runtime{
			BaseURL:          "http://localhost:8080/api",
			WSURL:            "ws://localhost:8080/api/ws",
			HandshakePolls:   5,
			HandshakeBackoff: 2 * time.Second,
		},
		PlanStore: PlanStore{
			BaseURL: "http://localhost:8080/api/plans",
		},
		NATS: NATS{
			URL: "",
		},
		Timeouts: Timeouts{
			InputIdle:      20 * time.Minute,
			TimeoutMessage: "Input request timed out after 20 minutes of inactivity",
		},
		Surface: Surface{
			URLTemplate: "http://localhost:{port}/vnc.html?view_only={view_only}&quality={quality}",
			Quality:     5,
		},
		Logging: Logging{
			Level:   "info",
			Service: "cockpit",
		},
		Breaker: Breaker{
			MaxFailures: 5,
			Timeout:     30 * time.Second,
		},
		Cache: Cache{
			MaxSizeMB:   16,
			DispatchTTL: time.Hour,
		},
	}
}
