package observe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log output as JSON: %v\nOutput: %s", err, buf.String())
	}
	return entry
}

func TestLogger_IncludesCallFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("info", "json", &buf)

	logger.WithCall(CallMeta{Key: "search", Provider: "perplexity"}).
		Info(context.Background(), "call completed", Field{Key: "duration_ms", Value: 50.5})

	entry := decodeLine(t, &buf)
	if entry["call.key"] != "search" {
		t.Errorf("call.key = %v, want search", entry["call.key"])
	}
	if entry["call.provider"] != "perplexity" {
		t.Errorf("call.provider = %v, want perplexity", entry["call.provider"])
	}
	if entry["duration_ms"] != 50.5 {
		t.Errorf("duration_ms = %v, want 50.5", entry["duration_ms"])
	}
	if entry["msg"] != "call completed" || entry["level"] != "INFO" {
		t.Errorf("unexpected msg/level: %v", entry)
	}
}

func TestLogger_RedactsSensitiveFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("debug", "json", &buf)

	logger.Info(context.Background(), "request",
		Field{Key: "args", Value: map[string]any{"query": "private"}},
		Field{Key: "Authorization", Value: "Bearer abc"},
		Field{Key: "api_key", Value: "sk-123"},
		Field{Key: "attempt", Value: 2},
	)

	out := buf.String()
	for _, secret := range []string{"private", "Bearer abc", "sk-123"} {
		if strings.Contains(out, secret) {
			t.Errorf("log output leaked %q: %s", secret, out)
		}
	}
	entry := decodeLine(t, &buf)
	if entry["attempt"] != float64(2) {
		t.Errorf("attempt = %v, want 2", entry["attempt"])
	}
}

func TestLogger_ErrorValuesRendered(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("info", "json", &buf)

	logger.Error(context.Background(), "failed", Field{Key: "error", Value: errors.New("boom")})

	if entry := decodeLine(t, &buf); entry["error"] != "boom" {
		t.Errorf("error = %v, want boom", entry["error"])
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	tests := []struct {
		level   string
		log     func(Logger)
		written bool
	}{
		{"info", func(l Logger) { l.Debug(context.Background(), "x") }, false},
		{"info", func(l Logger) { l.Info(context.Background(), "x") }, true},
		{"warn", func(l Logger) { l.Info(context.Background(), "x") }, false},
		{"warn", func(l Logger) { l.Warn(context.Background(), "x") }, true},
		{"error", func(l Logger) { l.Warn(context.Background(), "x") }, false},
		{"error", func(l Logger) { l.Error(context.Background(), "x") }, true},
		{"debug", func(l Logger) { l.Debug(context.Background(), "x") }, true},
	}

	for _, tt := range tests {
		var buf bytes.Buffer
		tt.log(NewLoggerWithWriter(tt.level, "json", &buf))
		if got := buf.Len() > 0; got != tt.written {
			t.Errorf("level %s: written = %v, want %v", tt.level, got, tt.written)
		}
	}
}

func TestLogger_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LoggingConfig{Level: "info", Format: "text", Writer: &buf})

	logger.With(Field{Key: "component", Value: "cache"}).Warn(context.Background(), "store degraded")

	out := buf.String()
	if !strings.Contains(out, "level=WARN") || !strings.Contains(out, "component=cache") {
		t.Errorf("unexpected text output: %s", out)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLogLevel(in); got != want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNopLogger(t *testing.T) {
	l := NopLogger()
	l.Info(context.Background(), "ignored")
	if l.WithCall(CallMeta{Key: "x"}) == nil || l.With() == nil {
		t.Fatal("NopLogger derivatives should be non-nil")
	}
	if FromSlog(nil) == nil {
		t.Fatal("FromSlog(nil) should return a usable logger")
	}
}
