package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestLoggerRedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "debug")
	logger.Info("issued", slog.String("token", "abc"), slog.String("user_id", "u-1"))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if entry["token"] != "[redacted]" {
		t.Fatalf("expected token to be redacted, got %v", entry["token"])
	}
	if entry["user_id"] != "u-1" {
		t.Fatalf("expected user_id to be kept, got %v", entry["user_id"])
	}
}

func TestLoggerFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "loud")
	logger.Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug output should be filtered at info level")
	}
	logger.Info("shown")
	if buf.Len() == 0 {
		t.Fatalf("expected info output")
	}
}
