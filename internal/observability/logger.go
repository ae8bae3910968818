// Package observability defines shared logging primitives.
package observability

import (
	"fmt"
	"log"
	"os"
	"strings"
)

// Logger captures structured logging behaviours shared across layers.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
}

// Field represents a key/value pair for structured logging.
type Field struct {
	Key   string
	Value any
}

// F constructs a logging field.
func F(key string, value any) Field {
	return Field{Key: key, Value: value}
}

var defaultLogger Logger = noopLogger{}

// SetLogger overrides the global logger used by the system.
func SetLogger(logger Logger) {
	if logger == nil {
		defaultLogger = noopLogger{}
		return
	}
	defaultLogger = logger
}

// Log returns the current global logger instance.
func Log() Logger {
	return defaultLogger
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...Field) {}
func (noopLogger) Info(string, ...Field)  {}
func (noopLogger) Warn(string, ...Field)  {}
func (noopLogger) Error(string, ...Field) {}

// StdLogger writes structured lines through the standard library logger.
type StdLogger struct {
	logger *log.Logger
	debug  bool
}

// NewStdLogger creates a logger writing to stderr with the given prefix.
func NewStdLogger(prefix string, debug bool) *StdLogger {
	return &StdLogger{
		logger: log.New(os.Stderr, prefix, log.LstdFlags|log.Lmicroseconds),
		debug:  debug,
	}
}

// Debug logs at debug level when enabled.
func (l *StdLogger) Debug(msg string, fields ...Field) {
	if !l.debug {
		return
	}
	l.emit("DEBUG", msg, fields)
}

// Info logs at info level.
func (l *StdLogger) Info(msg string, fields ...Field) {
	l.emit("INFO", msg, fields)
}

// Warn logs at warning level.
func (l *StdLogger) Warn(msg string, fields ...Field) {
	l.emit("WARN", msg, fields)
}

// Error logs at error level.
func (l *StdLogger) Error(msg string, fields ...Field) {
	l.emit("ERROR", msg, fields)
}

func (l *StdLogger) emit(level, msg string, fields []Field) {
	if len(fields) == 0 {
		l.logger.Printf("%s %s", level, msg)
		return
	}
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, fmt.Sprintf("%s=%v", f.Key, f.Value))
	}
	l.logger.Printf("%s %s %s", level, msg, strings.Join(parts, " "))
}
