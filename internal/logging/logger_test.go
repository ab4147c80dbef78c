package logging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"republic/internal/observability"
)

type nilPtrLogger struct{}

func (*nilPtrLogger) Debug(string, ...any) {}
func (*nilPtrLogger) Info(string, ...any)  {}
func (*nilPtrLogger) Warn(string, ...any)  {}
func (*nilPtrLogger) Error(string, ...any) {}

type captureLogger struct {
	lines []string
}

func (c *captureLogger) Debug(format string, args ...any) { c.lines = append(c.lines, format) }
func (c *captureLogger) Info(format string, args ...any)  { c.lines = append(c.lines, format) }
func (c *captureLogger) Warn(format string, args ...any)  { c.lines = append(c.lines, format) }
func (c *captureLogger) Error(format string, args ...any) { c.lines = append(c.lines, format) }

func installDefault(t *testing.T, level string) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	SetDefault(observability.NewLogger(observability.LogConfig{Level: level, Format: "text", Output: buf}))
	t.Cleanup(func() { SetDefault(nil) })
	return buf
}

func TestOrNopHandlesTypedNil(t *testing.T) {
	var typed *nilPtrLogger
	var logger Logger = typed
	assert.True(t, IsNil(logger))
	safe := OrNop(logger)
	require.False(t, IsNil(safe))
	safe.Info("hello %s", "world")
}

func TestComponentLoggerFollowsDefault(t *testing.T) {
	logger := NewComponentLogger("guard")
	logger.Info("dropped before default is set")

	buf := installDefault(t, "debug")
	logger.Warn("denied %s", "publish_deploy")

	assert.Contains(t, buf.String(), "denied publish_deploy")
	assert.Contains(t, buf.String(), "component=guard")
	assert.NotContains(t, buf.String(), "dropped before")
}

func TestComponentLoggerRespectsLevel(t *testing.T) {
	buf := installDefault(t, "warn")
	logger := NewComponentLogger("runtime")
	logger.Debug("noise")
	logger.Info("noise")
	logger.Error("boom")
	assert.NotContains(t, buf.String(), "noise")
	assert.Contains(t, buf.String(), "boom")
}

func TestWithRunIDTagsLines(t *testing.T) {
	buf := installDefault(t, "info")
	base := NewComponentLogger("trace")
	WithRunID(base, "run_abc").Info("step %d", 1)
	assert.Contains(t, buf.String(), "run_id=run_abc")
	assert.Contains(t, buf.String(), "step 1")

	buf.Reset()
	base.Info("untagged")
	assert.NotContains(t, buf.String(), "run_id")

	capture := &captureLogger{}
	WithRunID(capture, "run_abc").Info("step %d", 1)
	assert.Equal(t, []string{"run=run_abc step %d"}, capture.lines)

	assert.Same(t, Logger(capture), WithRunID(capture, ""))
	assert.Equal(t, Nop(), WithRunID(nil, "run_abc"))
}
