package logging

import (
	"bytes"
	"encoding/json"
	"log"
	"log/slog"
	"strings"
	"testing"
)

func TestInitJSONUsesEventKeys(t *testing.T) {
	var buf bytes.Buffer
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("LOG_LEVEL", "info")

	logger := Init("harbor", &buf)
	logger.Info("harbor.message_processed", "client_id", "dental-demo")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode: %v (%s)", err, buf.String())
	}
	if rec["event"] != "harbor.message_processed" {
		t.Errorf("event: %v", rec["event"])
	}
	if rec["service"] != "harbor" {
		t.Errorf("service: %v", rec["service"])
	}
	if rec["client_id"] != "dental-demo" {
		t.Errorf("client_id: %v", rec["client_id"])
	}
	ts, _ := rec["timestamp"].(string)
	if !strings.HasSuffix(ts, "Z") {
		t.Errorf("timestamp not UTC: %q", ts)
	}
	if _, ok := rec["msg"]; ok {
		t.Errorf("msg key should be renamed")
	}
}

func TestInitText(t *testing.T) {
	var buf bytes.Buffer
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("LOG_LEVEL", "debug")

	logger := Init("harbor-worker", &buf)
	logger.Debug("debug msg")

	out := buf.String()
	if !strings.Contains(out, "debug msg") {
		t.Errorf("expected debug msg, got: %s", out)
	}
	if !strings.Contains(out, "service=harbor-worker") {
		t.Errorf("expected service attr, got: %s", out)
	}
}

func TestInitLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("LOG_LEVEL", "warn")

	logger := Init("test", &buf)
	logger.Info("should not appear")
	if buf.Len() > 0 {
		t.Errorf("info message should be filtered at warn level, got: %s", buf.String())
	}
	logger.Warn("should appear")
	if !strings.Contains(buf.String(), "should appear") {
		t.Errorf("warn message should appear at warn level")
	}
}

func TestStdlibLogRedirected(t *testing.T) {
	var buf bytes.Buffer
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("LOG_LEVEL", "info")
	Init("harbor", &buf)
	log.Printf("legacy %d", 7)
	if !strings.Contains(buf.String(), `"source":"stdlib"`) || !strings.Contains(buf.String(), "legacy 7") {
		t.Errorf("stdlib log not redirected: %s", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{" info ", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"unknown", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.input); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}
