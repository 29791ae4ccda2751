package logging

import (
	"log/slog"
	"regexp"
	"strings"
)

// redactedValue replaces any attribute value that looks like, or is
// keyed as, a secret.
const redactedValue = "[REDACTED]"

// secretKeys are attribute keys whose values are always scrubbed.
// Provider credentials must never reach the logs.
var secretKeys = map[string]struct{}{
	"api_key":       {},
	"apikey":        {},
	"authorization": {},
	"credential":    {},
	"password":      {},
	"secret":        {},
	"session":       {},
	"token":         {},
}

// secretValuePattern matches secrets embedded in values: bearer
// headers and OpenRouter-style API keys.
var secretValuePattern = regexp.MustCompile(`(?i)(bearer\s+\S+|sk-or-[A-Za-z0-9_-]+)`)

// redactAttr is a slog ReplaceAttr hook scrubbing secret material.
func redactAttr(_ []string, attr slog.Attr) slog.Attr {
	if _, ok := secretKeys[strings.ToLower(attr.Key)]; ok {
		attr.Value = slog.StringValue(redactedValue)
		return attr
	}
	if attr.Value.Kind() == slog.KindString {
		value := attr.Value.String()
		if secretValuePattern.MatchString(value) {
			attr.Value = slog.StringValue(secretValuePattern.ReplaceAllString(value, redactedValue))
		}
	}
	return attr
}
