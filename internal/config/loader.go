package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "cockpit.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "COCKPIT_PORT")
	setString(&cfg.Server.CORSOrigin, "COCKPIT_CORS_ORIGIN")
	setString(&cfg.Runtime.BaseURL, "COCKPIT_RUNTIME_URL")
	setString(&cfg.Runtime.WSURL, "COCKPIT_RUNTIME_WS_URL")
	setInt(&cfg.Runtime.HandshakePolls, "COCKPIT_HANDSHAKE_POLLS")
	setDuration(&cfg.Runtime.HandshakeBackoff, "COCKPIT_HANDSHAKE_BACKOFF")
	setString(&cfg.PlanStore.BaseURL, "COCKPIT_PLAN_STORE_URL")
	setString(&cfg.NATS.URL, "NATS_URL")
	setDuration(&cfg.Timeouts.InputIdle, "COCKPIT_INPUT_IDLE_TIMEOUT")
	setString(&cfg.Timeouts.TimeoutMessage, "COCKPIT_TIMEOUT_MESSAGE")
	setString(&cfg.Surface.URLTemplate, "COCKPIT_SURFACE_URL_TEMPLATE")
	setInt(&cfg.Surface.Quality, "COCKPIT_SURFACE_QUALITY")
	setString(&cfg.Logging.Level, "COCKPIT_LOG_LEVEL")
	setString(&cfg.Logging.Service, "COCKPIT_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "COCKPIT_LOG_ASYNC")
	setInt(&cfg.Breaker.MaxFailures, "COCKPIT_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "COCKPIT_BREAKER_TIMEOUT")
	setInt64(&cfg.Cache.MaxSizeMB, "COCKPIT_CACHE_SIZE_MB")
	setDuration(&cfg.Cache.DispatchTTL, "COCKPIT_DISPATCH_TTL")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Runtime.BaseURL == "" {
		return errors.New("runtime.base_url is required")
	}
	if cfg.Runtime.WSURL == "" {
		return errors.New("runtime.ws_url is required")
	}
	if cfg.Runtime.HandshakePolls < 1 {
		return errors.New("runtime.handshake_polls must be >= 1")
	}
	if cfg.Timeouts.InputIdle <= 0 {
		return errors.New("timeouts.input_idle must be positive")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
