package config

import "time"

// Config is the root configuration for the relay.
type Config struct {
	// Server contains HTTP server configuration including listen
	// address and timeouts.
	Server ServerConfig `yaml:"server"`

	// Upstream contains the OpenRouter endpoint configuration shared
	// by every pooled client.
	Upstream UpstreamConfig `yaml:"upstream"`

	// Pool contains client pool sizing.
	Pool PoolConfig `yaml:"pool"`

	// Relay contains WebSocket chat behavior.
	Relay RelayConfig `yaml:"relay"`

	// Auth contains session signing settings.
	Auth AuthConfig `yaml:"auth"`

	// Store contains SQLite persistence settings.
	Store StoreConfig `yaml:"store"`

	// Telemetry contains logging and metrics settings.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig contains configuration for the HTTP server.
type ServerConfig struct {
	// ListenAddress is the address and port to listen on.
	// Default: "127.0.0.1:8080"
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout is the maximum duration for reading the entire
	// request. Default: 30s
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out response
	// writes. Zero disables it, which streaming responses and
	// WebSocket connections require. Default: 0
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// IdleTimeout is the keep-alive idle limit. Default: 120s
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ShutdownTimeout bounds graceful shutdown. Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// UpstreamConfig contains the OpenRouter endpoint settings.
type UpstreamConfig struct {
	// BaseURL is the OpenRouter API base URL.
	// Default: "https://openrouter.ai/api/v1"
	BaseURL string `yaml:"base_url"`

	// Timeout is the per-request upstream timeout. Default: 60s
	Timeout time.Duration `yaml:"timeout"`

	// DefaultModel is used when a chat request names no model.
	DefaultModel string `yaml:"default_model"`

	// StrictDecoding rejects upstream responses with unknown fields.
	// Default: false
	StrictDecoding bool `yaml:"strict_decoding"`
}

// PoolConfig contains client pool sizing.
type PoolConfig struct {
	// MaxClients caps the number of per-credential clients kept open.
	// Default: 10
	MaxClients int `yaml:"max_clients"`
}

// RelayConfig contains WebSocket chat behavior.
type RelayConfig struct {
	// CloseOnUpstreamError closes the whole connection when one
	// transaction fails upstream instead of scoping the failure to
	// that transaction. Default: false
	CloseOnUpstreamError bool `yaml:"close_on_upstream_error"`
}

// AuthConfig contains session signing settings.
type AuthConfig struct {
	// SessionSecret signs session cookies. Required.
	SessionSecret string `yaml:"session_secret"`

	// SessionTTL is the session lifetime. Default: 24h
	SessionTTL time.Duration `yaml:"session_ttl"`

	// SecureCookies sets the cookie Secure attribute. Enable behind
	// TLS. Default: false
	SecureCookies bool `yaml:"secure_cookies"`
}

// StoreConfig contains SQLite persistence settings.
type StoreConfig struct {
	// Path is the SQLite database file. Default: "relay.db"
	Path string `yaml:"path"`

	// PruneSchedule is a cron expression for conversation retention
	// pruning. Empty disables pruning.
	PruneSchedule string `yaml:"prune_schedule"`

	// Retention is how long idle conversations are kept.
	// Default: 720h (30 days)
	Retention time.Duration `yaml:"retention"`
}

// TelemetryConfig contains logging and metrics settings.
type TelemetryConfig struct {
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// LoggingConfig contains structured logging settings.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error. Default: "info"
	Level string `yaml:"level"`

	// Format is "json" or "text". Default: "json"
	Format string `yaml:"format"`
}

// MetricsConfig contains Prometheus exposition settings.
type MetricsConfig struct {
	// Enabled controls the /metrics endpoint. Unset means enabled, so
	// configuring only a custom path keeps exposition on. Default: true
	Enabled *bool `yaml:"enabled"`

	// Path is the exposition path. Default: "/metrics"
	Path string `yaml:"path"`
}
