// Package telemetry provides the ambient observability stack shared by every
// component of the agent core: structured logging, Prometheus metrics, and
// OpenTelemetry tracing.
package telemetry

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// Logger wraps log/slog with context-correlated fields and redaction of
// secret-shaped substrings, so provider credentials never reach a log sink
// even when an error message happens to echo a request body.
type Logger struct {
	logger  *slog.Logger
	redacts []*regexp.Regexp
}

// LogConfig configures Logger construction.
type LogConfig struct {
	// Level is one of "debug", "info", "warn", "error". Defaults to "info".
	Level string
	// Format is "json" or "text". Defaults to "json".
	Format string
	// Output defaults to os.Stdout.
	Output io.Writer
	// AddSource includes file:line in every record.
	AddSource bool
	// RedactPatterns supplements DefaultRedactPatterns.
	RedactPatterns []string
}

type contextKey string

const (
	// ThreadIDKey correlates log lines with the thread being processed.
	ThreadIDKey contextKey = "thread_id"
	// TurnIDKey correlates log lines with a single turn.
	TurnIDKey contextKey = "turn_id"
)

// DefaultRedactPatterns matches the shapes of common provider credentials.
var DefaultRedactPatterns = []string{
	`(?i)(api[_-]?key|apikey)[\s:=]+["']?([a-zA-Z0-9_\-]{16,})["']?`,
	`(?i)(bearer|token)[\s:]+([a-zA-Z0-9_\-.]{16,})`,
	`(?i)(secret|password|passwd|pwd)[\s:=]+["']?([^\s"']{8,})["']?`,
	`sk-ant-[a-zA-Z0-9_-]{95,}`,
	`sk-[a-zA-Z0-9]{48,}`,
	`eyJ[a-zA-Z0-9_-]*\.eyJ[a-zA-Z0-9_-]*\.[a-zA-Z0-9_-]*`,
}

// NewLogger builds a Logger from config, applying defaults for any zero field.
func NewLogger(config LogConfig) *Logger {
	if config.Output == nil {
		config.Output = os.Stdout
	}
	if config.Format == "" {
		config.Format = "json"
	}

	var level slog.Level
	switch strings.ToLower(config.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level, AddSource: config.AddSource}
	var handler slog.Handler
	if config.Format == "text" {
		handler = slog.NewTextHandler(config.Output, opts)
	} else {
		handler = slog.NewJSONHandler(config.Output, opts)
	}

	var redacts []*regexp.Regexp
	for _, pattern := range append(append([]string{}, DefaultRedactPatterns...), config.RedactPatterns...) {
		if re, err := regexp.Compile(pattern); err == nil {
			redacts = append(redacts, re)
		}
	}

	return &Logger{logger: slog.New(handler), redacts: redacts}
}

// WithFields returns a derived logger that always includes the given attrs.
func (l *Logger) WithFields(args ...any) *Logger {
	return &Logger{logger: l.logger.With(args...), redacts: l.redacts}
}

func (l *Logger) Debug(ctx context.Context, msg string, args ...any) { l.log(ctx, slog.LevelDebug, msg, args...) }
func (l *Logger) Info(ctx context.Context, msg string, args ...any)  { l.log(ctx, slog.LevelInfo, msg, args...) }
func (l *Logger) Warn(ctx context.Context, msg string, args ...any)  { l.log(ctx, slog.LevelWarn, msg, args...) }
func (l *Logger) Error(ctx context.Context, msg string, args ...any) { l.log(ctx, slog.LevelError, msg, args...) }

func (l *Logger) log(ctx context.Context, level slog.Level, msg string, args ...any) {
	msg = l.redactString(msg)

	redacted := make([]any, len(args))
	for i, a := range args {
		redacted[i] = l.redactValue(a)
	}

	attrs := make([]any, 0, len(redacted)+4)
	if threadID, ok := ctx.Value(ThreadIDKey).(string); ok && threadID != "" {
		attrs = append(attrs, "thread_id", threadID)
	}
	if turnID, ok := ctx.Value(TurnIDKey).(string); ok && turnID != "" {
		attrs = append(attrs, "turn_id", turnID)
	}
	attrs = append(attrs, redacted...)

	l.logger.Log(ctx, level, msg, attrs...)
}

func (l *Logger) redactValue(v any) any {
	switch val := v.(type) {
	case string:
		return l.redactString(val)
	case error:
		return l.redactString(val.Error())
	case []byte:
		return l.redactString(string(val))
	default:
		if b, err := json.Marshal(v); err == nil {
			return l.redactString(string(b))
		}
		return v
	}
}

func (l *Logger) redactString(s string) string {
	for _, re := range l.redacts {
		s = re.ReplaceAllString(s, "[REDACTED]")
	}
	return s
}

// WithThread returns a context carrying a thread id for log correlation.
func WithThread(ctx context.Context, threadID string) context.Context {
	return context.WithValue(ctx, ThreadIDKey, threadID)
}

// WithTurn returns a context carrying a turn id for log correlation.
func WithTurn(ctx context.Context, turnID string) context.Context {
	return context.WithValue(ctx, TurnIDKey, turnID)
}
