// Package config loads and validates the relay configuration.
//
// Configuration is read from a YAML file, overlaid with defaults, and
// then with environment variables of the form RELAY_SECTION_FIELD
// (e.g. RELAY_SERVER_LISTEN_ADDRESS). Environment variables always
// take precedence over file values.
//
// Watch observes the configuration file with fsnotify and invokes a
// reload callback after a debounce interval, which the server uses for
// runtime log-level changes.
package config
