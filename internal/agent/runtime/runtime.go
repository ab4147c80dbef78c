// Package runtime drives one agent run through the Plan, Execute, Verify
// state machine under step, cost and permission guardrails.
package runtime

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"republic/internal/agent/memory"
	"republic/internal/agent/ports"
	"republic/internal/agent/trace"
	agenterrors "republic/internal/errors"
	"republic/internal/logging"
	"republic/internal/observability"
	"republic/internal/utils/id"
)

const (
	// DefaultMaxSchemaFailures bounds consecutive schema violations on the
	// same tool before the run escalates.
	DefaultMaxSchemaFailures = 3
	// ResultPreviewChars bounds the tool result text kept in memory.
	ResultPreviewChars = 500
	// DefaultConstitution is handed to the oracle when a request has none.
	DefaultConstitution = "Default Republic Constitution"
)

// Terminal reasons recorded as trail events and reported in Result.Reason.
const (
	ReasonGoalComplete           = "goal_complete"
	ReasonCancelled              = "cancelled"
	ReasonMaxSteps               = "max_steps_exceeded"
	ReasonCostBudget             = "cost_budget_exceeded"
	ReasonPlanError              = "plan_error"
	ReasonVerifyError            = "verify_error"
	ReasonPermissionDenied       = "permission_denied"
	ReasonHITLRequired           = "hitl_required"
	ReasonUnknownTool            = "unknown_tool"
	ReasonSchemaRetriesExhausted = "schema_retries_exhausted"
	ReasonToolExhaustedRetries   = "tool_exhausted_retries"
	ReasonToolFailed             = "tool_failed"
	ReasonUnexpectedState        = "unexpected_state"
)

// Request is one invocation of the loop.
type Request struct {
	Goal         string
	Manifest     ports.Manifest
	Oracle       ports.Oracle
	Tools        ports.ToolExecutor
	Constitution string
	Context      string
	// RunID overrides the generated run id.
	RunID string
}

// TraceRef points at the audit trail of a finished run.
type TraceRef struct {
	RunID       string `json:"run_id"`
	SpanCount   int    `json:"span_count"`
	EventCount  int    `json:"event_count"`
	StoragePath string `json:"storage_path"`
}

// Result summarizes a run that reached a terminal state.
type Result struct {
	RunID         string        `json:"run_id"`
	AgentID       string        `json:"agent_id"`
	Goal          string        `json:"goal"`
	State         ports.State   `json:"status"`
	Reason        string        `json:"reason,omitempty"`
	StepsExecuted int           `json:"steps_executed"`
	TotalCostUSD  float64       `json:"total_cost_usd"`
	Usage         ports.Usage   `json:"usage"`
	Duration      time.Duration `json:"duration"`
	StartedAt     time.Time     `json:"started_at"`
	Trace         TraceRef      `json:"trace"`
	Error         string        `json:"error,omitempty"`
}

// Escalated reports whether a human must decide how to continue.
func (r *Result) Escalated() bool {
	return r != nil && r.State == ports.StateEscalated
}

// Option customizes a Runtime.
type Option func(*Runtime)

// WithSink sets where audit records are written.
func WithSink(sink trace.Sink) Option {
	return func(rt *Runtime) {
		rt.sink = sink
	}
}

// WithLogger sets the runtime logger.
func WithLogger(logger logging.Logger) Option {
	return func(rt *Runtime) {
		rt.logger = logging.OrNop(logger)
	}
}

// WithMetrics records run, oracle and tool metrics.
func WithMetrics(metrics *observability.MetricsCollector) Option {
	return func(rt *Runtime) {
		rt.metrics = metrics
	}
}

// WithTracer emits OpenTelemetry spans for runs and phases.
func WithTracer(tracer *observability.TracerProvider) Option {
	return func(rt *Runtime) {
		if tracer != nil {
			rt.tracer = tracer
		}
	}
}

// WithClock sets the clock used for timing.
func WithClock(clock ports.Clock) Option {
	return func(rt *Runtime) {
		if clock != nil {
			rt.clock = clock
		}
	}
}

// WithRunIDs replaces the run id generator.
func WithRunIDs(next func() string) Option {
	return func(rt *Runtime) {
		if next != nil {
			rt.newRunID = next
		}
	}
}

// WithRetry sets the policy for tool calls and oracle timeouts.
func WithRetry(config agenterrors.RetryConfig) Option {
	return func(rt *Runtime) {
		rt.retry = config
	}
}

// WithMaxSchemaFailures sets how many consecutive schema violations on one
// tool are tolerated before escalating.
func WithMaxSchemaFailures(n int) Option {
	return func(rt *Runtime) {
		if n > 0 {
			rt.maxSchemaFailures = n
		}
	}
}

// WithMemoryOptions configures the working memory of each run.
func WithMemoryOptions(opts ...memory.Option) Option {
	return func(rt *Runtime) {
		rt.memoryOptions = append(rt.memoryOptions, opts...)
	}
}

// WithObserver registers a callback invoked with every finished run.
func WithObserver(observer func(Result)) Option {
	return func(rt *Runtime) {
		if observer != nil {
			rt.observers = append(rt.observers, observer)
		}
	}
}

// Runtime runs agents. It holds no per-run state and is safe for
// concurrent use; every Run owns its own memory and trail.
type Runtime struct {
	sink              trace.Sink
	logger            logging.Logger
	metrics           *observability.MetricsCollector
	tracer            *observability.TracerProvider
	clock             ports.Clock
	newRunID          func() string
	retry             agenterrors.RetryConfig
	maxSchemaFailures int
	memoryOptions     []memory.Option
	observers         []func(Result)
}

// New creates a Runtime.
func New(opts ...Option) *Runtime {
	rt := &Runtime{
		sink:              trace.Discard,
		logger:            logging.NewComponentLogger("runtime"),
		tracer:            observability.NoopTracer(),
		clock:             ports.SystemClock{},
		newRunID:          id.NewRunID,
		retry:             agenterrors.DefaultRetryConfig(),
		maxSchemaFailures: DefaultMaxSchemaFailures,
	}
	for _, opt := range opts {
		opt(rt)
	}
	if rt.sink == nil {
		rt.sink = trace.Discard
	}
	return rt
}

// ErrInvalidRequest is returned for requests the loop cannot start.
var ErrInvalidRequest = errors.New("runtime: invalid request")

// Run drives the request to a terminal state. The error return is reserved
// for malformed requests; every other outcome is reported in the Result.
func (rt *Runtime) Run(ctx context.Context, req Request) (*Result, error) {
	if req.Oracle == nil {
		return nil, errors.Join(ErrInvalidRequest, errors.New("oracle is required"))
	}
	if req.Tools == nil {
		return nil, errors.Join(ErrInvalidRequest, errors.New("tool executor is required"))
	}
	if req.Constitution == "" {
		req.Constitution = DefaultConstitution
	}
	manifest := req.Manifest.WithDefaults(ports.BuiltinDefaults())

	runID := req.RunID
	if runID == "" {
		runID = rt.newRunID()
	} else if err := trace.ValidateRunID(runID); err != nil {
		return nil, errors.Join(ErrInvalidRequest, err)
	}
	ctx = observability.ContextWithRunID(ctx, runID)
	ctx = observability.ContextWithAgentID(ctx, manifest.AgentID)
	ctx, span := rt.tracer.StartSpan(ctx, observability.SpanRun)
	defer span.End()

	r := newRun(rt, ctx, req, manifest, runID)
	rt.metrics.RunStarted(ctx)
	r.execute()
	result := r.finish()

	span.SetAttributes(
		attribute.String(observability.AttrState, string(result.State)),
		attribute.Int(observability.AttrStep, result.StepsExecuted),
		attribute.Float64(observability.AttrCost, result.TotalCostUSD),
	)
	if result.State != ports.StateComplete {
		span.SetStatus(codes.Error, result.Reason)
	}

	reason := ""
	if result.State == ports.StateEscalated {
		reason = result.Reason
	}
	rt.metrics.RunFinished(context.WithoutCancel(ctx), manifest.AgentID, string(result.State), reason)
	for _, observer := range rt.observers {
		observer(*result)
	}
	return result, nil
}
