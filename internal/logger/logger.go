package logger

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ContextKey is the type for context keys used by the logger
type ContextKey string

const (
	// LoggerKey is the context key for the logger instance
	LoggerKey ContextKey = "logger"
)

// Format selects how log lines are rendered.
type Format string

const (
	// FormatConsole renders human-readable lines for local development.
	FormatConsole Format = "console"
	// FormatJSON renders one JSON object per line for log collectors.
	FormatJSON Format = "json"
)

// New creates a new structured logger with default configuration
func New() zerolog.Logger {
	return NewWithOptions(os.Stdout, FormatConsole, zerolog.InfoLevel)
}

// NewFromConfig builds the service logger from the LOG_FORMAT and LOG_LEVEL
// settings. Unknown levels fall back to info.
func NewFromConfig(format, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return NewWithOptions(os.Stdout, Format(strings.ToLower(format)), lvl)
}

// NewWithOptions creates a logger writing to w in the given format.
func NewWithOptions(w io.Writer, format Format, level zerolog.Level) zerolog.Logger {
	out := w
	if format != FormatJSON {
		out = zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: time.RFC3339,
		}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Caller().Logger()
}

// WithContext adds the logger to the context
func WithContext(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// FromContext retrieves the logger from the context or returns a default logger
func FromContext(ctx context.Context) zerolog.Logger {
	if logger, ok := ctx.Value(LoggerKey).(zerolog.Logger); ok {
		return logger
	}
	return New()
}

// WithFields adds structured fields to a logger
func WithFields(logger zerolog.Logger, fields map[string]interface{}) zerolog.Logger {
	ctx := logger.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return ctx.Logger()
}
