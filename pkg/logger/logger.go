// Package logger provides the structured logger used across vulncatalog.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger is a slog.Logger whose With keeps the *Logger type, so components
// can derive tagged loggers without losing WithContext.
type Logger struct {
	*slog.Logger
}

// Config holds logger configuration.
type Config struct {
	Level  string
	Format string // "json" (default) or "text"
	Output io.Writer

	// Sampling thins out repeated messages, such as per-row store failures
	// during a large batch.
	Sampling SamplingConfig
}

// New creates a logger. Debug level also records the source position.
func New(cfg Config) *Logger {
	level := ParseLevel(cfg.Level)
	opts := &slog.HandlerOptions{
		Level:       level,
		AddSource:   level == slog.LevelDebug,
		ReplaceAttr: redact,
	}

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}

	var h slog.Handler = slog.NewJSONHandler(out, opts)
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(out, opts)
	}
	return &Logger{Logger: slog.New(NewSamplingHandler(h, cfg.Sampling))}
}

// NewNop returns a logger that discards everything. Used in tests.
func NewNop() *Logger {
	return &Logger{Logger: slog.New(slog.DiscardHandler)}
}

// Attribute keys containing one of these fragments are masked. The config
// layer decrypts secrets in place, so a stray log of a config struct must
// not print them.
var sensitiveKeys = []string{
	"password",
	"passwd",
	"secret",
	"token",
	"authorization",
	"api_key",
	"apikey",
	"access_key",
	"private_key",
	"encryption_key",
	"credential",
	"dsn",
	"external_id",
}

func redact(_ []string, a slog.Attr) slog.Attr {
	key := strings.ToLower(a.Key)
	for _, fragment := range sensitiveKeys {
		if strings.Contains(key, fragment) {
			return slog.String(a.Key, "[REDACTED]")
		}
	}
	return a
}

// With returns a Logger that adds args to every record.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// ContextKey is the type of the context values WithContext copies onto
// records.
type ContextKey string

const (
	ContextKeyScanID    ContextKey = "scan_id"
	ContextKeyTaskID    ContextKey = "task_id"
	ContextKeyRequestID ContextKey = "request_id"
)

var contextKeys = []ContextKey{ContextKeyScanID, ContextKeyTaskID, ContextKeyRequestID}

// WithContext returns a Logger tagged with the scan, task and request ids
// found in ctx.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	var attrs []any
	for _, key := range contextKeys {
		if v, _ := ctx.Value(key).(string); v != "" {
			attrs = append(attrs, slog.String(string(key), v))
		}
	}
	if len(attrs) == 0 {
		return l
	}
	return l.With(attrs...)
}

// SetDefault makes l the process wide slog default.
func (l *Logger) SetDefault() {
	slog.SetDefault(l.Logger)
}

// ParseLevel parses a level name. Unknown names map to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
