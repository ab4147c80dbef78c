package tools

import (
	"context"
	"sync"
	"time"

	"republic/internal/agent/ports"
	agenterrors "republic/internal/errors"
	"republic/internal/toolregistry"
)

// MockTools is the tool list served by Mock.
var MockTools = []string{
	toolregistry.ToolWriteFile,
	toolregistry.ToolReadFile,
	toolregistry.ToolOpenURL,
	toolregistry.ToolClick,
	toolregistry.ToolType,
	toolregistry.ToolScreenshot,
	toolregistry.ToolExtractText,
	toolregistry.ToolRunCode,
}

// Mock is an offline executor. Every tool accepts any object and echoes
// its arguments back, unless a failure has been queued for it.
type Mock struct {
	mu       sync.Mutex
	tools    []string
	failures map[string][]*agenterrors.ToolError
	calls    map[string]int
	latency  time.Duration
}

// NewMock returns a mock serving MockTools, or the given names.
func NewMock(names ...string) *Mock {
	if len(names) == 0 {
		names = MockTools
	}
	return &Mock{
		tools:    append([]string(nil), names...),
		failures: map[string][]*agenterrors.ToolError{},
		calls:    map[string]int{},
	}
}

// FailNext queues errors returned, in order, by the next calls to tool.
func (m *Mock) FailNext(tool string, errs ...*agenterrors.ToolError) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[tool] = append(m.failures[tool], errs...)
	return m
}

// WithLatency makes every call take d, or less if ctx ends first.
func (m *Mock) WithLatency(d time.Duration) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latency = d
	return m
}

// Calls returns how often tool was executed.
func (m *Mock) Calls(tool string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[tool]
}

// Execute implements ports.ToolExecutor.
func (m *Mock) Execute(ctx context.Context, name string, args map[string]any, _ time.Duration) (ports.ToolResult, error) {
	start := time.Now()
	m.mu.Lock()
	m.calls[name]++
	latency := m.latency
	var failure *agenterrors.ToolError
	if queue := m.failures[name]; len(queue) > 0 {
		failure, m.failures[name] = queue[0], queue[1:]
	}
	m.mu.Unlock()

	if latency > 0 {
		timer := time.NewTimer(latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ports.ToolResult{}, ctx.Err()
		case <-timer.C:
		}
	}
	if failure != nil {
		return ports.Failed(name, failure, time.Since(start)), nil
	}
	return ports.OK(name, map[string]any{"mock": true, "args": args}, time.Since(start)), nil
}

// Contract returns a permissive contract for any tool.
func (m *Mock) Contract(name string) (ports.ToolContract, bool) {
	return ports.ToolContract{
		Name:        name,
		Description: "Mock " + name,
		InputSchema: map[string]any{"type": "object", "properties": map[string]any{}, "additionalProperties": true},
		Idempotent:  true,
	}, true
}

// ListTools implements ports.ToolExecutor.
func (m *Mock) ListTools() []string {
	return append([]string(nil), m.tools...)
}
