// Package logging writes the run log (scan.log) and mirrors operator-
// facing lines to the console. Every message passes the redactor before
// it reaches either sink, and file writes go through one serialized
// writer so concurrent stages never interleave lines.
package logging

import (
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"reconmaster/internal/redact"
)

// Logger is the run-scoped log sink.
type Logger struct {
	mu      sync.Mutex
	file    *os.File
	console *zap.SugaredLogger
	debug   bool
}

// New opens path for appending and returns a Logger. console may be nil
// (tests); debug enables Debugf lines in the file.
func New(path string, console *zap.SugaredLogger, debug bool) (*Logger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logging: open %s: %w", path, err)
	}
	return &Logger{file: f, console: console, debug: debug}, nil
}

// NewDiscard returns a Logger that writes nowhere, for tests.
func NewDiscard() *Logger {
	return &Logger{}
}

func (l *Logger) write(level, format string, args ...any) string {
	msg := redact.String(fmt.Sprintf(format, args...))
	if l.file != nil {
		line := fmt.Sprintf("%s [%s] %s\n", time.Now().UTC().Format(time.RFC3339), level, msg)
		l.mu.Lock()
		_, _ = l.file.WriteString(line)
		l.mu.Unlock()
	}
	return msg
}

// Debugf logs at debug level, file only.
func (l *Logger) Debugf(format string, args ...any) {
	if !l.debug {
		return
	}
	msg := l.write("DEBUG", format, args...)
	if l.console != nil {
		l.console.Debug(msg)
	}
}

// Infof logs at info level.
func (l *Logger) Infof(format string, args ...any) {
	msg := l.write("INFO", format, args...)
	if l.console != nil {
		l.console.Info(msg)
	}
}

// Warnf logs at warn level. Skipped stages and missing tools land here.
func (l *Logger) Warnf(format string, args ...any) {
	msg := l.write("WARN", format, args...)
	if l.console != nil {
		l.console.Warn(msg)
	}
}

// Errorf logs at error level. Failed stages land here.
func (l *Logger) Errorf(format string, args ...any) {
	msg := l.write("ERROR", format, args...)
	if l.console != nil {
		l.console.Error(msg)
	}
}

// Close flushes and closes the file sink.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// Timer measures an operation and logs its duration on Stop.
type Timer struct {
	l     *Logger
	op    string
	start time.Time
}

// StartTimer begins timing op.
func (l *Logger) StartTimer(op string) *Timer {
	return &Timer{l: l, op: op, start: time.Now()}
}

// Stop logs the elapsed time and returns it.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	t.l.Debugf("%s completed in %s", t.op, elapsed.Round(time.Millisecond))
	return elapsed
}
