package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"storyloom/internal/services"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for _, tc := range cases {
		if got := parseLevel(tc.input); got != tc.want {
			t.Fatalf("parseLevel(%q) = %v, want %v", tc.input, got, tc.want)
		}
	}
}

func TestJSONHandlerFieldNames(t *testing.T) {
	var buf bytes.Buffer
	lvl := new(slog.LevelVar)
	logger := slog.New(newJSONHandler(&lockedWriter{w: &buf}, lvl))
	logger.Info("run advanced", String(FieldRunID, "r1"), String(FieldPhase, "scripting"))

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("unmarshal log record: %v", err)
	}
	if record["msg"] != "run advanced" {
		t.Fatalf("unexpected msg field: %v", record["msg"])
	}
	if record["level"] != "info" {
		t.Fatalf("unexpected level field: %v", record["level"])
	}
	if record[FieldRunID] != "r1" || record[FieldPhase] != "scripting" {
		t.Fatalf("missing structured fields: %v", record)
	}
}

func TestConsoleHandlerIncludesComponentAndFields(t *testing.T) {
	var buf bytes.Buffer
	lvl := new(slog.LevelVar)
	logger := slog.New(newConsoleHandler(&lockedWriter{w: &buf}, lvl))
	NewComponentLogger(logger, "engine").Info("advance", String(FieldPhase, "narrating"))

	line := buf.String()
	for _, fragment := range []string{"[engine]", "advance", "phase=narrating"} {
		if !strings.Contains(line, fragment) {
			t.Fatalf("expected %q in console output %q", fragment, line)
		}
	}
}

func TestWithContextAddsFields(t *testing.T) {
	var buf bytes.Buffer
	lvl := new(slog.LevelVar)
	logger := slog.New(newConsoleHandler(&lockedWriter{w: &buf}, lvl))

	ctx := services.WithRunID(context.Background(), "run-9")
	ctx = services.WithPhase(ctx, "rendering")
	WithContext(ctx, logger).Info("status read")

	line := buf.String()
	if !strings.Contains(line, "run_id=run-9") || !strings.Contains(line, "phase=rendering") {
		t.Fatalf("expected context fields in output %q", line)
	}
}

func TestNewNopDiscards(t *testing.T) {
	logger := NewNop()
	logger.Error("should not panic", Error(nil))
}
