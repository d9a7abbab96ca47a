package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestNewLoggerDefaultConfig(t *testing.T) {
	logger := NewLogger(nil)
	if logger == nil {
		t.Fatal("NewLogger(nil) returned nil")
	}
	if logger.level != LevelInfo {
		t.Errorf("expected default level Info, got %v", logger.level)
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelWarn, Output: &buf})

	logger.Debug("should not appear")
	logger.Info("also hidden")
	if buf.Len() != 0 {
		t.Errorf("expected no output below configured level, got %q", buf.String())
	}

	logger.Warn("warn message", "queue", 3)
	out := buf.String()
	if !strings.Contains(out, "warn message") || !strings.Contains(out, "queue=3") {
		t.Errorf("expected warn message with fields, got %q", out)
	}
}

func TestLoggerErrorf(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelDebug, Output: &buf})

	logger.Errorf("handle %d recycled (gen %d != %d)", 7, 2, 1)
	out := buf.String()
	if !strings.Contains(out, "handle 7 recycled (gen 2 != 1)") {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestDefaultLoggerSingleton(t *testing.T) {
	a := Default()
	b := Default()
	if a != b {
		t.Error("Default() should return the same logger instance")
	}
}

func TestSetDefault(t *testing.T) {
	var buf bytes.Buffer
	custom := NewLogger(&Config{Level: LevelDebug, Output: &buf})
	SetDefault(custom)
	defer SetDefault(NewLogger(nil))

	Info("routed through package-level helper")
	if !strings.Contains(buf.String(), "routed through package-level helper") {
		t.Errorf("expected message via package-level Info, got %q", buf.String())
	}
}
