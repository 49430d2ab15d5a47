// Package logger provides structured logging utilities.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"
)

type ctxKey string

const (
	// RunIDKey is the context key under which an evaluation run id is stored.
	RunIDKey ctxKey = "run_id"
	// RequestIDKey is the context key under which an HTTP request id is stored.
	RequestIDKey ctxKey = "request_id"
)

// Logger wraps slog.Logger with additional context.
type Logger struct {
	*slog.Logger
}

// New creates a new logger with the specified level and format.
// Output goes to stderr so that command output on stdout stays parseable.
func New(level, format string) *Logger {
	return NewWithWriter(os.Stderr, level, format)
}

// NewWithWriter creates a logger writing to w.
func NewWithWriter(w io.Writer, level, format string) *Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: parseLevel(level),
	}

	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return &Logger{
		Logger: slog.New(handler),
	}
}

// Discard returns a logger that drops every record.
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// WithContext returns a logger with context values.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	var attrs []any
	if reqID := ctx.Value(RequestIDKey); reqID != nil {
		attrs = append(attrs, "request_id", reqID)
	}
	if runID := ctx.Value(RunIDKey); runID != nil {
		attrs = append(attrs, "run_id", runID)
	}
	if len(attrs) == 0 {
		return l
	}
	return &Logger{
		Logger: l.With(attrs...),
	}
}

// WithComponent returns a logger tagged with a component name.
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{
		Logger: l.With("component", name),
	}
}

// WithCutoff returns a logger with cutoff context.
func (l *Logger) WithCutoff(cutoff int) *Logger {
	return &Logger{
		Logger: l.With("cutoff", cutoff),
	}
}

// WithError returns a logger with error context.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{
		Logger: l.With("error", err.Error()),
	}
}

// Timed starts a timer for op and returns a function that logs the elapsed
// time at debug level when called.
//
//	defer log.Timed("select_topk")()
func (l *Logger) Timed(op string) func() {
	start := time.Now()
	return func() {
		l.Debug("operation completed", "op", op, "elapsed", time.Since(start))
	}
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Default returns the default logger.
func Default() *Logger {
	return New("info", "text")
}
