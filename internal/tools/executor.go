package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"republic/internal/agent/ports"
	agenterrors "republic/internal/errors"
	"republic/internal/logging"
	"republic/internal/toolregistry"
)

const defaultToolTimeout = 30 * time.Second

// LocalExecutor runs tools in-process against a workspace directory, a page
// session and a Starlark sandbox. Each tool has its own circuit breaker.
type LocalExecutor struct {
	registry *toolregistry.Registry
	breakers *agenterrors.CircuitBreakerManager
	logger   logging.Logger

	mu       sync.RWMutex
	handlers map[string]Handler

	workspace *Workspace
	session   *Session
	sandbox   *Sandbox
}

// ExecutorOption customizes a LocalExecutor.
type ExecutorOption func(*executorOptions)

type executorOptions struct {
	registry  *toolregistry.Registry
	workspace *Workspace
	session   *Session
	sandbox   *Sandbox
	breaker   agenterrors.CircuitBreakerConfig
	logger    logging.Logger
	handlers  map[string]Handler
}

// WithRegistry sets the contracts the executor serves.
func WithRegistry(registry *toolregistry.Registry) ExecutorOption {
	return func(o *executorOptions) { o.registry = registry }
}

// WithWorkspace enables read_file and write_file.
func WithWorkspace(ws *Workspace) ExecutorOption {
	return func(o *executorOptions) { o.workspace = ws }
}

// WithSession enables open_url and extract_text.
func WithSession(session *Session) ExecutorOption {
	return func(o *executorOptions) { o.session = session }
}

// WithSandbox enables run_code.
func WithSandbox(sandbox *Sandbox) ExecutorOption {
	return func(o *executorOptions) { o.sandbox = sandbox }
}

// WithHandler registers or replaces the handler for one tool. The tool
// still needs a contract in the registry.
func WithHandler(name string, handler Handler) ExecutorOption {
	return func(o *executorOptions) {
		if o.handlers == nil {
			o.handlers = map[string]Handler{}
		}
		o.handlers[name] = handler
	}
}

// WithBreakerConfig sets the per-tool circuit breaker configuration.
func WithBreakerConfig(cfg agenterrors.CircuitBreakerConfig) ExecutorOption {
	return func(o *executorOptions) { o.breaker = cfg }
}

// WithLogger sets the executor logger.
func WithLogger(logger logging.Logger) ExecutorOption {
	return func(o *executorOptions) { o.logger = logger }
}

// NewLocalExecutor builds an executor. Without options it serves the
// default contracts but has no handlers.
func NewLocalExecutor(opts ...ExecutorOption) *LocalExecutor {
	o := executorOptions{breaker: agenterrors.DefaultCircuitBreakerConfig()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.registry == nil {
		o.registry = toolregistry.NewDefault()
	}
	if logging.IsNil(o.logger) {
		o.logger = logging.NewComponentLogger("tools")
	}

	handlers := builtinHandlers(o.workspace, o.session, o.sandbox)
	for name, handler := range o.handlers {
		handlers[name] = handler
	}
	return &LocalExecutor{
		registry:  o.registry,
		breakers:  agenterrors.NewCircuitBreakerManager(o.breaker),
		logger:    o.logger,
		handlers:  handlers,
		workspace: o.workspace,
		session:   o.session,
		sandbox:   o.sandbox,
	}
}

type outcome struct {
	data any
	err  error
}

// Execute runs name with args. Tool failures come back as failed results;
// the error return is only used when ctx itself ends.
func (e *LocalExecutor) Execute(ctx context.Context, name string, args map[string]any, timeout time.Duration) (ports.ToolResult, error) {
	start := time.Now()
	if _, ok := e.registry.Get(name); !ok {
		return ports.Failed(name, agenterrors.New(agenterrors.CodeNotFound, "%s", (&toolregistry.NotFoundError{Name: name, Available: e.ListTools()}).Error()), 0), nil
	}
	e.mu.RLock()
	handler, ok := e.handlers[name]
	e.mu.RUnlock()
	if !ok {
		return ports.Failed(name, missingHandler(name), 0), nil
	}

	breaker := e.breakers.Get(name)
	if err := breaker.Allow(); err != nil {
		return ports.Failed(name, agenterrors.FromError(err), 0), nil
	}

	if timeout <= 0 {
		timeout = defaultToolTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: agenterrors.New(agenterrors.CodeToolError, "tool %s panicked: %v", name, r)}
			}
		}()
		data, err := handler(callCtx, args)
		done <- outcome{data: data, err: err}
	}()

	select {
	case out := <-done:
		elapsed := time.Since(start)
		if out.err != nil {
			if ctx.Err() != nil {
				return ports.Failed(name, agenterrors.FromError(out.err), elapsed), ctx.Err()
			}
			toolErr := agenterrors.FromError(out.err)
			if callCtx.Err() == context.DeadlineExceeded && toolErr.Code != agenterrors.CodeTimeout {
				toolErr = agenterrors.Timeout("tool "+name, timeout)
			}
			e.mark(breaker, toolErr)
			e.logger.Debug("tool %s failed after %v: %v", name, elapsed, toolErr)
			return ports.Failed(name, toolErr, elapsed), nil
		}
		breaker.Mark(nil)
		return ports.OK(name, out.data, elapsed), nil
	case <-callCtx.Done():
		elapsed := time.Since(start)
		if err := ctx.Err(); err != nil {
			return ports.Failed(name, agenterrors.Wrap(agenterrors.CodeToolError, err, "tool "+name+" cancelled"), elapsed), err
		}
		toolErr := agenterrors.Timeout("tool "+name, timeout)
		e.mark(breaker, toolErr)
		e.logger.Warn("tool %s timed out after %v", name, timeout)
		return ports.Failed(name, toolErr, elapsed), nil
	}
}

// mark counts only transient failures against the breaker; a bad argument
// says nothing about the tool's health.
func (e *LocalExecutor) mark(breaker *agenterrors.CircuitBreaker, err *agenterrors.ToolError) {
	if err.Retryable() {
		breaker.Mark(err)
	}
}

// Contract returns the registered contract for name.
func (e *LocalExecutor) Contract(name string) (ports.ToolContract, bool) {
	return e.registry.Get(name)
}

// ListTools returns the registered tools that have a handler, in
// registration order.
func (e *LocalExecutor) ListTools() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.handlers))
	for _, name := range e.registry.List() {
		if _, ok := e.handlers[name]; ok {
			names = append(names, name)
		}
	}
	return names
}

// BreakerStates reports the circuit state of every tool called so far.
func (e *LocalExecutor) BreakerStates() map[string]string {
	states := e.breakers.States()
	out := make(map[string]string, len(states))
	for name, state := range states {
		out[name] = state.String()
	}
	return out
}

// Describe lists the executor's tools with their backing adapter.
func (e *LocalExecutor) Describe() []string {
	names := e.ListTools()
	sort.Strings(names)
	lines := make([]string, 0, len(names))
	for _, name := range names {
		backing := "custom"
		switch name {
		case toolregistry.ToolReadFile, toolregistry.ToolWriteFile:
			if e.workspace != nil {
				backing = "workspace " + e.workspace.Root()
			}
		case toolregistry.ToolOpenURL, toolregistry.ToolExtractText:
			if e.session != nil {
				backing = "http session"
			}
		case toolregistry.ToolRunCode:
			if e.sandbox != nil {
				backing = "starlark sandbox"
			}
		}
		lines = append(lines, fmt.Sprintf("%s (%s)", name, backing))
	}
	return lines
}

// Close releases the page session.
func (e *LocalExecutor) Close() error {
	if e.session != nil {
		return e.session.Close()
	}
	return nil
}
