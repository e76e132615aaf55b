package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNilLoggerIsSafe(t *testing.T) {
	var l *Logger
	l.Debug("debug %d", 1)
	l.Info("info")
	l.Stream("fragment", "abc")
	l.State("idle", "streaming")
	l.Close()
}

func TestNewDisabledReturnsNil(t *testing.T) {
	l, err := New(t.TempDir(), false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if l != nil {
		t.Fatalf("expected nil logger when disabled")
	}
}

func TestNewCreatesLogFile(t *testing.T) {
	dir := t.TempDir()
	l, err := New(dir, true)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	l.Debug("parse tick %d", 3)
	l.Close()

	entries, err := os.ReadDir(filepath.Join(dir, "logs"))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one log file, got %d", len(entries))
	}
	data, err := os.ReadFile(filepath.Join(dir, "logs", entries[0].Name()))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "DEBUG: parse tick 3") {
		t.Errorf("log missing debug line:\n%s", data)
	}
}

func TestStreamTruncates(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf)
	l.Stream("fragment", strings.Repeat("x", 500))
	line := buf.String()
	if !strings.Contains(line, "STREAM [fragment]") {
		t.Errorf("unexpected line: %s", line)
	}
	if !strings.HasSuffix(strings.TrimSpace(line), "...") {
		t.Errorf("payload not truncated: %s", line)
	}
}
