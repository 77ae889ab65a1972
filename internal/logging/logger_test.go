package logging

import (
	"bytes"
	"io"
	"strings"
	"testing"
)

func TestLoggerWritesToBuffer(t *testing.T) {
	buffer := NewLogBuffer(10)
	logger := NewLoggerWithOutput(buffer, LevelInfo, io.Discard)

	logger.Info("published", map[string]string{"key": "abc"})

	entries := buffer.List()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Level != LevelInfo {
		t.Fatalf("expected info level, got %q", entry.Level)
	}
	if entry.Message != "published" {
		t.Fatalf("expected message published, got %q", entry.Message)
	}
	if entry.Context["key"] != "abc" {
		t.Fatalf("expected context key=abc, got %v", entry.Context)
	}
}

func TestLoggerFiltersByLevel(t *testing.T) {
	buffer := NewLogBuffer(10)
	logger := NewLoggerWithOutput(buffer, LevelWarning, io.Discard)

	logger.Info("info", nil)
	logger.Warn("warn", nil)

	entries := buffer.List()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Level != LevelWarning {
		t.Fatalf("expected warning level, got %q", entries[0].Level)
	}
}

func TestLoggerWithSharesLevel(t *testing.T) {
	buffer := NewLogBuffer(10)
	parent := NewLoggerWithOutput(buffer, LevelInfo, io.Discard)
	child := parent.With(map[string]string{"component": "store"})

	parent.SetLevel(LevelError)
	child.Warn("ignored", nil)
	child.Error("kept", map[string]string{"path": "/tmp"})

	entries := buffer.List()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Context["component"] != "store" || entries[0].Context["path"] != "/tmp" {
		t.Fatalf("unexpected context %v", entries[0].Context)
	}
}

func TestLoggerFormatsSortedFields(t *testing.T) {
	var out bytes.Buffer
	logger := NewLoggerWithOutput(nil, LevelDebug, &out)

	logger.Debug("event", map[string]string{"b": "2", "a": "1"})

	line := out.String()
	if !strings.Contains(line, `level=debug msg="event" a="1" b="2"`) {
		t.Fatalf("unexpected output %q", line)
	}
}

func TestLogBufferWrapsOldest(t *testing.T) {
	buffer := NewLogBuffer(2)
	buffer.Add(LogEntry{Message: "one"})
	buffer.Add(LogEntry{Message: "two"})
	buffer.Add(LogEntry{Message: "three"})

	entries := buffer.List()
	if len(entries) != 2 || entries[0].Message != "two" || entries[1].Message != "three" {
		t.Fatalf("unexpected entries %+v", entries)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   LevelDebug,
		" INFO ":  LevelInfo,
		"warn":    LevelWarning,
		"warning": LevelWarning,
		"error":   LevelError,
	}
	for input, want := range cases {
		got, ok := ParseLevel(input)
		if !ok || got != want {
			t.Fatalf("ParseLevel(%q) = %q, %v; want %q", input, got, ok, want)
		}
	}
	if _, ok := ParseLevel("verbose"); ok {
		t.Fatal("expected unknown level to fail")
	}
}
