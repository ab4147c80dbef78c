package observability

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	slogmulti "github.com/samber/slog-multi"
)

// Logger wraps slog for structured logging
type Logger struct {
	logger *slog.Logger
	closer io.Closer
}

// LogConfig configures the logger
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, text
	Output io.Writer
	// File, when set, receives a JSON copy of every record.
	File string
}

func parseLevel(value string) slog.Level {
	switch strings.ToLower(value) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a new structured logger. Console and file handlers are
// fanned out so every record reaches both.
func NewLogger(config LogConfig) *Logger {
	level := parseLevel(config.Level)

	output := config.Output
	if output == nil {
		output = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: level}
	var handlers []slog.Handler
	if config.Format == "json" {
		handlers = append(handlers, slog.NewJSONHandler(output, opts))
	} else {
		handlers = append(handlers, slog.NewTextHandler(output, opts))
	}

	var closer io.Closer
	if config.File != "" {
		file, err := openLogFile(config.File)
		if err != nil {
			record := slog.New(handlers[0])
			record.Warn("log file unavailable, continuing with console only", "path", config.File, "error", err)
		} else {
			handlers = append(handlers, slog.NewJSONHandler(file, opts))
			closer = file
		}
	}

	return &Logger{
		logger: slog.New(slogmulti.Fanout(handlers...)),
		closer: closer,
	}
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

// Close releases the log file, if any.
func (l *Logger) Close() error {
	if l == nil || l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

// Slog exposes the underlying slog logger.
func (l *Logger) Slog() *slog.Logger {
	return l.logger
}

// WithContext adds run and agent ids from ctx to the logger
func (l *Logger) WithContext(ctx context.Context) *Logger {
	var args []any
	if runID := RunIDFromContext(ctx); runID != "" {
		args = append(args, "run_id", runID)
	}
	if agentID := AgentIDFromContext(ctx); agentID != "" {
		args = append(args, "agent_id", agentID)
	}
	if len(args) == 0 {
		return l
	}
	return l.With(args...)
}

// With adds additional fields to the logger
func (l *Logger) With(args ...any) *Logger {
	return &Logger{logger: l.logger.With(args...), closer: l.closer}
}

// Debug logs at debug level
func (l *Logger) Debug(msg string, args ...any) {
	l.logger.Debug(msg, args...)
}

// Info logs at info level
func (l *Logger) Info(msg string, args ...any) {
	l.logger.Info(msg, args...)
}

// Warn logs at warn level
func (l *Logger) Warn(msg string, args ...any) {
	l.logger.Warn(msg, args...)
}

// Error logs at error level
func (l *Logger) Error(msg string, args ...any) {
	l.logger.Error(msg, args...)
}

type contextKey string

const (
	runIDKey   contextKey = "run_id"
	agentIDKey contextKey = "agent_id"
)

// ContextWithRunID adds a run id to context
func ContextWithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// RunIDFromContext extracts the run id from context
func RunIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if runID, ok := ctx.Value(runIDKey).(string); ok {
		return runID
	}
	return ""
}

// ContextWithAgentID adds an agent id to context
func ContextWithAgentID(ctx context.Context, agentID string) context.Context {
	return context.WithValue(ctx, agentIDKey, agentID)
}

// AgentIDFromContext extracts the agent id from context
func AgentIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if agentID, ok := ctx.Value(agentIDKey).(string); ok {
		return agentID
	}
	return ""
}
