package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Load loads configuration from a YAML file, applies defaults and
// RELAY_* environment overrides, and validates the result.
//
// The loading sequence is:
//  1. Parse YAML from file
//  2. Apply default values
//  3. Apply environment variable overrides
//  4. Validate final configuration
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	ApplyDefaults(&cfg)
	applyEnvOverrides(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverrides applies RELAY_SECTION_FIELD environment variables
// on top of the loaded configuration.
func applyEnvOverrides(cfg *Config) {
	setString := func(key string, dst *string) {
		if val := os.Getenv(key); val != "" {
			*dst = val
		}
	}
	setDuration := func(key string, dst *time.Duration) {
		if val := os.Getenv(key); val != "" {
			if d, err := time.ParseDuration(val); err == nil {
				*dst = d
			}
		}
	}
	setInt := func(key string, dst *int) {
		if val := os.Getenv(key); val != "" {
			if i, err := strconv.Atoi(val); err == nil {
				*dst = i
			}
		}
	}
	setBool := func(key string, dst *bool) {
		if val := os.Getenv(key); val != "" {
			if b, err := strconv.ParseBool(val); err == nil {
				*dst = b
			}
		}
	}

	setString("RELAY_SERVER_LISTEN_ADDRESS", &cfg.Server.ListenAddress)
	setDuration("RELAY_SERVER_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	setDuration("RELAY_SERVER_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	setDuration("RELAY_SERVER_IDLE_TIMEOUT", &cfg.Server.IdleTimeout)
	setDuration("RELAY_SERVER_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)

	setString("RELAY_UPSTREAM_BASE_URL", &cfg.Upstream.BaseURL)
	setDuration("RELAY_UPSTREAM_TIMEOUT", &cfg.Upstream.Timeout)
	setString("RELAY_UPSTREAM_DEFAULT_MODEL", &cfg.Upstream.DefaultModel)
	setBool("RELAY_UPSTREAM_STRICT_DECODING", &cfg.Upstream.StrictDecoding)

	setInt("RELAY_POOL_MAX_CLIENTS", &cfg.Pool.MaxClients)

	setBool("RELAY_RELAY_CLOSE_ON_UPSTREAM_ERROR", &cfg.Relay.CloseOnUpstreamError)

	setString("RELAY_AUTH_SESSION_SECRET", &cfg.Auth.SessionSecret)
	setDuration("RELAY_AUTH_SESSION_TTL", &cfg.Auth.SessionTTL)
	setBool("RELAY_AUTH_SECURE_COOKIES", &cfg.Auth.SecureCookies)

	setString("RELAY_STORE_PATH", &cfg.Store.Path)
	setString("RELAY_STORE_PRUNE_SCHEDULE", &cfg.Store.PruneSchedule)
	setDuration("RELAY_STORE_RETENTION", &cfg.Store.Retention)

	setString("RELAY_TELEMETRY_LOGGING_LEVEL", &cfg.Telemetry.Logging.Level)
	setString("RELAY_TELEMETRY_LOGGING_FORMAT", &cfg.Telemetry.Logging.Format)
	// ApplyDefaults has run by now, so the pointer is set.
	setBool("RELAY_TELEMETRY_METRICS_ENABLED", cfg.Telemetry.Metrics.Enabled)
	setString("RELAY_TELEMETRY_METRICS_PATH", &cfg.Telemetry.Metrics.Path)
}
