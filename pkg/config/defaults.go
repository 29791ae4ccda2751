package config

import "time"

// ApplyDefaults fills in default values for unset fields. It never
// overrides a value the user has set.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = "127.0.0.1:8080"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = 120 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30 * time.Second
	}

	if cfg.Upstream.BaseURL == "" {
		cfg.Upstream.BaseURL = "https://openrouter.ai/api/v1"
	}
	if cfg.Upstream.Timeout == 0 {
		cfg.Upstream.Timeout = 60 * time.Second
	}
	if cfg.Upstream.DefaultModel == "" {
		cfg.Upstream.DefaultModel = "deepseek/deepseek-chat-v3-0324:free"
	}

	if cfg.Pool.MaxClients == 0 {
		cfg.Pool.MaxClients = 10
	}

	if cfg.Auth.SessionTTL == 0 {
		cfg.Auth.SessionTTL = 24 * time.Hour
	}

	if cfg.Store.Path == "" {
		cfg.Store.Path = "relay.db"
	}
	if cfg.Store.Retention == 0 {
		cfg.Store.Retention = 30 * 24 * time.Hour
	}

	if cfg.Telemetry.Logging.Level == "" {
		cfg.Telemetry.Logging.Level = "info"
	}
	if cfg.Telemetry.Logging.Format == "" {
		cfg.Telemetry.Logging.Format = "json"
	}
	if cfg.Telemetry.Metrics.Path == "" {
		cfg.Telemetry.Metrics.Path = "/metrics"
	}
	if cfg.Telemetry.Metrics.Enabled == nil {
		enabled := true
		cfg.Telemetry.Metrics.Enabled = &enabled
	}
}
