// Package logging is the printf-style logging facade components depend on.
// Output goes through the slog logger installed with SetDefault.
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync/atomic"

	"republic/internal/observability"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

type nop struct{}

func (nop) Debug(string, ...any) {}
func (nop) Info(string, ...any)  {}
func (nop) Warn(string, ...any)  {}
func (nop) Error(string, ...any) {}

// Nop discards everything.
func Nop() Logger { return nop{} }

// IsNil also catches a typed nil pointer stored in the interface.
func IsNil(logger Logger) bool {
	if logger == nil {
		return true
	}
	v := reflect.ValueOf(logger)
	switch v.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Func, reflect.Slice:
		return v.IsNil()
	}
	return false
}

func OrNop(logger Logger) Logger {
	if IsNil(logger) {
		return Nop()
	}
	return logger
}

var root atomic.Pointer[observability.Logger]

// SetDefault installs the process logger. Pass nil to silence component
// loggers again.
func SetDefault(logger *observability.Logger) {
	root.Store(logger)
}

// NewComponentLogger returns a logger tagged with component. It resolves
// the default on every line, so it may be created before SetDefault runs;
// lines logged while no default is installed are dropped.
func NewComponentLogger(component string) Logger {
	return &scoped{attrs: []any{"component", component}}
}

// WithRunID tags every line with run_id. Component loggers carry it as a
// structured attribute; other loggers get a run= prefix.
func WithRunID(logger Logger, runID string) Logger {
	if IsNil(logger) {
		return Nop()
	}
	if runID == "" {
		return logger
	}
	if s, ok := logger.(*scoped); ok {
		attrs := append(append([]any(nil), s.attrs...), "run_id", runID)
		return &scoped{attrs: attrs}
	}
	return prefixed{next: logger, prefix: "run=" + runID + " "}
}

type scoped struct {
	attrs []any
}

func (s *scoped) log(level slog.Level, format string, args []any) {
	base := root.Load()
	if base == nil {
		return
	}
	sl := base.Slog()
	if !sl.Enabled(context.Background(), level) {
		return
	}
	sl.Log(context.Background(), level, fmt.Sprintf(format, args...), s.attrs...)
}

func (s *scoped) Debug(format string, args ...any) { s.log(slog.LevelDebug, format, args) }
func (s *scoped) Info(format string, args ...any)  { s.log(slog.LevelInfo, format, args) }
func (s *scoped) Warn(format string, args ...any)  { s.log(slog.LevelWarn, format, args) }
func (s *scoped) Error(format string, args ...any) { s.log(slog.LevelError, format, args) }

type prefixed struct {
	next   Logger
	prefix string
}

func (p prefixed) Debug(format string, args ...any) { p.next.Debug(p.prefix+format, args...) }
func (p prefixed) Info(format string, args ...any)  { p.next.Info(p.prefix+format, args...) }
func (p prefixed) Warn(format string, args ...any)  { p.next.Warn(p.prefix+format, args...) }
func (p prefixed) Error(format string, args ...any) { p.next.Error(p.prefix+format, args...) }
