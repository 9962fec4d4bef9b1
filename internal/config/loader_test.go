package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Server.Port != "8081" {
		t.Errorf("expected port 8081, got %s", cfg.Server.Port)
	}
	if cfg.Timeouts.InputIdle != 20*time.Minute {
		t.Errorf("expected input idle 20m, got %v", cfg.Timeouts.InputIdle)
	}
	if cfg.Runtime.HandshakePolls != 5 {
		t.Errorf("expected 5 handshake polls, got %d", cfg.Runtime.HandshakePolls)
	}
	if cfg.Breaker.Timeout != 30*time.Second {
		t.Errorf("expected breaker timeout 30s, got %v", cfg.Breaker.Timeout)
	}
}

func TestLoadYAMLOverride(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "test.yaml")

	content := `
server:
  port: "9090"
  cors_origin: "http://example.com"
runtime:
  ws_url: "ws://agent:9000/ws"
timeouts:
  input_idle: 5m
logging:
  level: "debug"
`
	if err := os.WriteFile(yamlPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := Defaults()
	if err := loadYAML(&cfg, yamlPath); err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Server.Port)
	}
	if cfg.Server.CORSOrigin != "http://example.com" {
		t.Errorf("expected cors http://example.com, got %s", cfg.Server.CORSOrigin)
	}
	if cfg.Runtime.WSURL != "ws://agent:9000/ws" {
		t.Errorf("expected overridden ws url, got %s", cfg.Runtime.WSURL)
	}
	if cfg.Timeouts.InputIdle != 5*time.Minute {
		t.Errorf("expected input idle 5m, got %v", cfg.Timeouts.InputIdle)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected log level debug, got %s", cfg.Logging.Level)
	}
	// Unchanged fields keep defaults
	if cfg.Runtime.BaseURL != "http://localhost:8080/api" {
		t.Errorf("expected default runtime base URL, got %s", cfg.Runtime.BaseURL)
	}
}

func TestLoadYAMLMissing(t *testing.T) {
	cfg := Defaults()
	err := loadYAML(&cfg, "/nonexistent/path.yaml")
	if err != nil {
		t.Errorf("missing YAML should not error, got %v", err)
	}
}

func TestEnvOverride(t *testing.T) {
	cfg := Defaults()

	t.Setenv("COCKPIT_PORT", "7070")
	t.Setenv("COCKPIT_RUNTIME_WS_URL", "ws://env:8080/ws")
	t.Setenv("COCKPIT_INPUT_IDLE_TIMEOUT", "10m")
	t.Setenv("COCKPIT_LOG_LEVEL", "warn")
	t.Setenv("COCKPIT_BREAKER_TIMEOUT", "1m")

	loadEnv(&cfg)

	if cfg.Server.Port != "7070" {
		t.Errorf("expected port 7070, got %s", cfg.Server.Port)
	}
	if cfg.Runtime.WSURL != "ws://env:8080/ws" {
		t.Errorf("expected env ws url, got %s", cfg.Runtime.WSURL)
	}
	if cfg.Timeouts.InputIdle != 10*time.Minute {
		t.Errorf("expected input idle 10m, got %v", cfg.Timeouts.InputIdle)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("expected log level warn, got %s", cfg.Logging.Level)
	}
	if cfg.Breaker.Timeout != time.Minute {
		t.Errorf("expected breaker timeout 1m, got %v", cfg.Breaker.Timeout)
	}
}

func TestValidateRequired(t *testing.T) {
	cfg := Defaults()
	cfg.Runtime.WSURL = ""
	if err := validate(&cfg); err == nil {
		t.Error("expected error for missing ws_url")
	}

	cfg = Defaults()
	cfg.Timeouts.InputIdle = 0
	if err := validate(&cfg); err == nil {
		t.Error("expected error for zero input_idle")
	}

	cfg = Defaults()
	cfg.Runtime.HandshakePolls = 0
	if err := validate(&cfg); err == nil {
		t.Error("expected error for zero handshake_polls")
	}
}
