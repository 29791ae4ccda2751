package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/robfig/cron/v3"
)

// Validate checks the configuration for invalid or inconsistent
// values. It is called after defaults and environment overrides are
// applied.
func Validate(cfg *Config) error {
	var errs []string

	if _, _, err := net.SplitHostPort(cfg.Server.ListenAddress); err != nil {
		errs = append(errs, fmt.Sprintf("server.listen_address %q is not host:port", cfg.Server.ListenAddress))
	}
	if cfg.Server.ReadTimeout < 0 {
		errs = append(errs, "server.read_timeout must not be negative")
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		errs = append(errs, "server.shutdown_timeout must be positive")
	}

	if !strings.HasPrefix(cfg.Upstream.BaseURL, "http://") &&
		!strings.HasPrefix(cfg.Upstream.BaseURL, "https://") {
		errs = append(errs, fmt.Sprintf("upstream.base_url %q must be an http(s) URL", cfg.Upstream.BaseURL))
	}
	if cfg.Upstream.Timeout <= 0 {
		errs = append(errs, "upstream.timeout must be positive")
	}

	if cfg.Pool.MaxClients <= 0 {
		errs = append(errs, "pool.max_clients must be positive")
	}

	if cfg.Auth.SessionSecret == "" {
		errs = append(errs, "auth.session_secret is required")
	}
	if cfg.Auth.SessionTTL <= 0 {
		errs = append(errs, "auth.session_ttl must be positive")
	}

	if cfg.Store.Path == "" {
		errs = append(errs, "store.path is required")
	}
	if cfg.Store.PruneSchedule != "" {
		if _, err := cron.ParseStandard(cfg.Store.PruneSchedule); err != nil {
			errs = append(errs, fmt.Sprintf("store.prune_schedule %q: %v", cfg.Store.PruneSchedule, err))
		}
	}

	switch cfg.Telemetry.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("telemetry.logging.level %q must be debug, info, warn, or error", cfg.Telemetry.Logging.Level))
	}
	switch cfg.Telemetry.Logging.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Sprintf("telemetry.logging.format %q must be json or text", cfg.Telemetry.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return nil
}
