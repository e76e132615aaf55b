package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// EnvDebug enables debug logging when set to "1".
const EnvDebug = "STREAMEDIT_DEBUG"

// Logger writes timestamped diagnostics to a log file. A nil *Logger is
// valid and discards everything except errors, which still reach stderr.
type Logger struct {
	mu     sync.Mutex
	out    io.Writer
	closer io.Closer
	stderr io.Writer
}

// Enabled reports whether debug logging was requested by flag or environment.
func Enabled(flag bool) bool {
	return flag || os.Getenv(EnvDebug) == "1"
}

// New opens streamedit-<timestamp>.log under dir/logs. It returns a nil
// logger when logging is disabled.
func New(dir string, enabled bool) (*Logger, error) {
	if !enabled {
		return nil, nil
	}
	logsDir := filepath.Join(dir, "logs")
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create logs dir %s: %w", logsDir, err)
	}
	timestamp := time.Now().Format("2006-01-02_15-04-05")
	logPath := filepath.Join(logsDir, fmt.Sprintf("streamedit-%s.log", timestamp))
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", logPath, err)
	}
	l := &Logger{out: file, closer: file, stderr: os.Stderr}
	l.Info("Log file: %s", logPath)
	return l, nil
}

// NewWriter logs to w. Used by tests and embedders that own the sink.
func NewWriter(w io.Writer) *Logger {
	return &Logger{out: w, stderr: io.Discard}
}

func (l *Logger) logf(level, component, format string, args ...any) {
	if l == nil || l.out == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	timestamp := time.Now().Format("15:04:05.000")
	msg := fmt.Sprintf(format, args...)
	if component == "" {
		fmt.Fprintf(l.out, "[%s] %s: %s\n", timestamp, level, msg)
		return
	}
	fmt.Fprintf(l.out, "[%s] %s [%s]: %s\n", timestamp, level, component, msg)
}

// Debug logs a debug message.
func (l *Logger) Debug(format string, args ...any) {
	l.logf("DEBUG", "", format, args...)
}

// Info logs an info message.
func (l *Logger) Info(format string, args ...any) {
	l.logf("INFO", "", format, args...)
}

// Error logs an error message to the file and to stderr.
func (l *Logger) Error(format string, args ...any) {
	var w io.Writer = os.Stderr
	if l != nil && l.stderr != nil {
		w = l.stderr
	}
	fmt.Fprintf(w, "streamedit error: %s\n", fmt.Sprintf(format, args...))
	l.logf("ERROR", "", format, args...)
}

// Stream logs a stream event with its payload truncated.
func (l *Logger) Stream(event, content string) {
	l.logf("STREAM", event, "%s", truncate(content, 200))
}

// State logs an agent state transition.
func (l *Logger) State(from, to string) {
	l.logf("STATE", "", "%s -> %s", from, to)
}

// Close closes the underlying log file.
func (l *Logger) Close() {
	if l == nil || l.closer == nil {
		return
	}
	l.closer.Close()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
