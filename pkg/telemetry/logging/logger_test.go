package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewRejectsBadConfig(t *testing.T) {
	if _, err := New(Config{Level: "loud", Format: "json"}); err == nil {
		t.Error("expected error for bad level")
	}
	if _, err := New(Config{Level: "info", Format: "xml"}); err == nil {
		t.Error("expected error for bad format")
	}
}

func TestJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Level: "info", Format: "json", Writer: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	logger.Info("request completed", "status", 200)

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if record["msg"] != "request completed" {
		t.Errorf("msg = %v", record["msg"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Level: "warn", Format: "text", Writer: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	logger.Info("quiet")
	if buf.Len() != 0 {
		t.Errorf("info passed a warn filter: %q", buf.String())
	}
	logger.Warn("loud")
	if !strings.Contains(buf.String(), "loud") {
		t.Errorf("warn missing: %q", buf.String())
	}
}

func TestSetLevelAtRuntime(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Level: "info", Format: "text", Writer: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	logger.Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug visible at info level: %q", buf.String())
	}

	if err := SetLevel("debug"); err != nil {
		t.Fatalf("SetLevel: %v", err)
	}
	defer SetLevel("info")

	logger.Debug("visible")
	if !strings.Contains(buf.String(), "visible") {
		t.Errorf("debug missing after SetLevel: %q", buf.String())
	}
}

func TestRedaction(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Level: "info", Format: "json", Writer: &buf, RedactSecrets: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	logger.Info("call",
		"api_key", "sk-or-verysecret",
		"authorization", "Bearer abc123",
		"detail", "header was Bearer abc123 today",
		"user", "alice",
	)

	out := buf.String()
	if strings.Contains(out, "verysecret") || strings.Contains(out, "abc123") {
		t.Errorf("secret leaked: %s", out)
	}
	if !strings.Contains(out, redactedValue) {
		t.Errorf("no redaction marker: %s", out)
	}
	if !strings.Contains(out, "alice") {
		t.Errorf("non-secret value scrubbed: %s", out)
	}
}
