// Package logging configures the process-wide structured logger.
//
// Loggers are slog-based with JSON or text output. When secret
// redaction is enabled, attributes keyed or shaped like credentials
// (API keys, bearer headers, session cookies) are scrubbed before they
// reach the output.
package logging
