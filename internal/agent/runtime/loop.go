package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"republic/internal/agent/guard"
	"republic/internal/agent/memory"
	"republic/internal/agent/ports"
	"republic/internal/agent/schema"
	"republic/internal/agent/trace"
	agenterrors "republic/internal/errors"
	"republic/internal/logging"
	"republic/internal/observability"
	"republic/internal/toolregistry"
)

// run is the state of one execution. It is confined to the goroutine that
// called Runtime.Run.
type run struct {
	rt       *Runtime
	ctx      context.Context
	req      Request
	manifest ports.Manifest
	logger   logging.Logger

	guard    *guard.Guard
	gate     *schema.Gate
	registry *toolregistry.Registry
	memory   *memory.Memory
	trail    *trace.Trail
	tools    []string

	state   ports.State
	step    int
	usage   ports.Usage
	reason  string
	failure string
	started time.Time

	plan       ports.Plan
	lastAction ports.Action
	lastResult ports.ToolResult

	schemaTool     string
	schemaFailures int
}

func newRun(rt *Runtime, ctx context.Context, req Request, manifest ports.Manifest, runID string) *run {
	r := &run{
		rt:       rt,
		ctx:      ctx,
		req:      req,
		manifest: manifest,
		logger:   logging.WithRunID(rt.logger, runID),
		guard:    guard.New(manifest),
		gate:     schema.NewGate(),
		memory:   memory.New(manifest.Memory.ScratchpadMaxTokens, rt.memoryOptions...),
		state:    ports.StateInit,
		started:  rt.clock.Now(),
	}
	r.trail = trace.Open(runID, manifest.AgentID, rt.sink,
		trace.WithClock(rt.clock),
		trace.WithLogger(logging.WithRunID(logging.NewComponentLogger("trace"), runID)),
	)
	return r
}

func (r *run) execute() {
	r.initialize()
	for !r.state.Terminal() {
		if r.checkGuards() {
			break
		}

		switch r.state {
		case ports.StatePlanning:
			r.planPhase()
		case ports.StateExecuting:
			r.executePhase()
		case ports.StateVerifying:
			r.verifyPhase()
		default:
			r.event(ReasonUnexpectedState, map[string]any{"state": string(r.state)})
			r.terminate(ports.StateFailed, ReasonUnexpectedState, fmt.Sprintf("unexpected state %s", r.state))
		}

		if r.state.Terminal() {
			break
		}
		r.step++
	}
}

func (r *run) initialize() {
	r.event("protocol_zero", map[string]any{
		"agent_id":     r.manifest.AgentID,
		"goal":         r.req.Goal,
		"constitution": r.req.Constitution != DefaultConstitution,
	})

	registry, err := toolregistry.FromExecutor(r.req.Tools)
	if err != nil {
		r.event("registry_error", map[string]any{"error": err.Error()})
		r.terminate(ports.StateFailed, "registry_error", err.Error())
		return
	}
	r.registry = registry
	r.tools = r.guard.Filter(registry.List())
	r.memory.Init(r.req.Goal, r.req.Context, r.tools)

	for _, warning := range guard.ValidateManifest(r.manifest) {
		r.logger.Warn("manifest %s: %s", r.manifest.AgentID, warning)
	}
	r.event("init_complete", map[string]any{
		"tools":           r.tools,
		"tool_count":      len(r.tools),
		"max_steps":       r.manifest.MaxSteps,
		"cost_budget_usd": r.manifest.CostBudgetUSD,
	})
	r.transition(ports.StatePlanning)
}

// checkGuards runs before any work in a cycle, so a run that is over a
// limit never issues another oracle call.
func (r *run) checkGuards() bool {
	if err := r.ctx.Err(); err != nil {
		r.escalate(ReasonCancelled, map[string]any{"error": err.Error(), "step": r.step})
		return true
	}
	if r.step >= r.manifest.MaxSteps {
		r.escalate(ReasonMaxSteps, map[string]any{"step_count": r.step, "max_steps": r.manifest.MaxSteps})
		return true
	}
	if decision := r.guard.AllowsCost(r.usage.CostUSD, 0); !decision.Allowed {
		r.escalate(ReasonCostBudget, map[string]any{
			"total_cost_usd":  r.usage.CostUSD,
			"cost_budget_usd": r.manifest.CostBudgetUSD,
			"reason":          decision.Reason,
		})
		return true
	}
	return false
}

func (r *run) planPhase() {
	ctx, span := r.rt.tracer.StartSpan(r.ctx, observability.SpanPlan, attribute.Int(observability.AttrStep, r.step))
	defer span.End()

	start := r.rt.clock.Now()
	plan, attempts, err := callOracle(ctx, r, "plan", func(callCtx context.Context) (ports.Plan, error) {
		return r.req.Oracle.Plan(callCtx, ports.PlanRequest{
			Goal:         r.req.Goal,
			Memory:       r.memory.Current(),
			Tools:        r.tools,
			Constitution: r.req.Constitution,
			Step:         r.step,
		})
	})
	elapsed := r.rt.clock.Now().Sub(start)

	if err != nil {
		r.recordOracle(ctx, span, "plan", elapsed, ports.Usage{}, err)
		r.span(trace.Span{
			Kind:       trace.KindPlan,
			Input:      map[string]any{"goal": r.req.Goal, "memory_entries": r.memory.Len()},
			DurationMs: elapsed.Milliseconds(),
			Status:     trace.StatusError,
			Error:      err.Error(),
		})
		if r.cancelled() {
			return
		}
		r.event(ReasonPlanError, map[string]any{"error": err.Error(), "attempts": attempts})
		r.terminate(ports.StateFailed, ReasonPlanError, err.Error())
		return
	}

	r.plan = plan
	r.usage = r.usage.Add(plan.Usage)
	r.recordOracle(ctx, span, "plan", elapsed, plan.Usage, nil)
	r.span(trace.Span{
		Kind:  trace.KindPlan,
		Input: map[string]any{"goal": r.req.Goal, "memory_entries": r.memory.Len()},
		Output: map[string]any{
			"tool":          plan.NextAction.Tool,
			"goal_complete": plan.GoalComplete,
			"confidence":    plan.Confidence,
		},
		DurationMs: elapsed.Milliseconds(),
		TokensIn:   plan.Usage.InputTokens,
		TokensOut:  plan.Usage.OutputTokens,
		CostUSD:    plan.Usage.CostUSD,
	})

	if plan.GoalComplete {
		r.event(ReasonGoalComplete, map[string]any{"reasoning": plan.Reasoning, "confidence": plan.Confidence})
		r.terminate(ports.StateComplete, ReasonGoalComplete, "")
		return
	}

	r.memory.Add(memory.EntryPlan, fmt.Sprintf("Next action %s: %s", plan.NextAction.Tool, firstNonEmpty(plan.NextAction.Reasoning, plan.Reasoning)))
	r.transition(ports.StateExecuting)
}

func (r *run) executePhase() {
	action := r.plan.NextAction
	r.lastAction = action

	decision := r.guard.Allows(action.Tool)
	if !decision.Allowed {
		r.memory.Add(memory.EntryError, "Permission denied: "+decision.Reason)
		r.escalate(ReasonPermissionDenied, map[string]any{"tool": action.Tool, "reason": decision.Reason})
		return
	}
	if decision.RequiresApproval {
		r.memory.Add(memory.EntryNote, "Human approval required for: "+action.Tool)
		r.escalate(ReasonHITLRequired, map[string]any{"tool": action.Tool, "reason": decision.Reason})
		return
	}

	contract, err := r.registry.Lookup(action.Tool)
	if err != nil {
		r.memory.Add(memory.EntryError, err.Error())
		r.event(ReasonUnknownTool, map[string]any{"tool": action.Tool, "available": r.registry.List(), "error": err.Error()})
		r.terminate(ports.StateFailed, ReasonUnknownTool, err.Error())
		return
	}

	if validation := r.gate.ValidateInput(contract, action.Args); !validation.OK {
		r.schemaViolation(action.Tool, validation)
		return
	}
	r.schemaTool, r.schemaFailures = "", 0

	r.invokeTool(contract, action)
}

func (r *run) schemaViolation(tool string, validation schema.Result) {
	if tool == r.schemaTool {
		r.schemaFailures++
	} else {
		r.schemaTool, r.schemaFailures = tool, 1
	}
	r.rt.metrics.RecordSchemaViolation(r.ctx, tool)
	r.memory.Add(memory.EntryError, fmt.Sprintf("Schema validation failed for %s: %s", tool, schema.Format(validation)))
	r.event("schema_validation_failed", map[string]any{
		"tool":        tool,
		"errors":      validation.Errors,
		"consecutive": r.schemaFailures,
	})

	if r.schemaFailures >= r.rt.maxSchemaFailures {
		r.escalate(ReasonSchemaRetriesExhausted, map[string]any{"tool": tool, "consecutive": r.schemaFailures})
		return
	}
	r.transition(ports.StatePlanning)
}

func (r *run) invokeTool(contract ports.ToolContract, action ports.Action) {
	ctx, span := r.rt.tracer.StartSpan(r.ctx, observability.SpanToolCall, observability.ToolAttrs(action.Tool)...)
	defer span.End()

	timeout := r.manifest.ToolTimeout()
	start := r.rt.clock.Now()
	outcome, err := agenterrors.WithRetry(ctx, r.rt.retry, func(callCtx context.Context) (ports.ToolResult, error) {
		return r.callTool(callCtx, action, timeout)
	}, func(event agenterrors.RetryEvent) {
		r.rt.metrics.RecordToolRetry(ctx, action.Tool, string(event.Code))
		r.event("retry", map[string]any{
			"tool":     action.Tool,
			"attempt":  event.Attempt,
			"delay_ms": event.Delay.Milliseconds(),
			"code":     string(event.Code),
			"error":    errorText(event.Err),
		})
	})
	elapsed := r.rt.clock.Now().Sub(start)
	span.SetAttributes(attribute.Int(observability.AttrAttempts, outcome.Attempts))

	if err == nil && outcome.Success {
		r.lastResult = outcome.Value
		r.rt.metrics.RecordToolExecution(ctx, action.Tool, "success", elapsed)
		r.span(trace.Span{
			Kind:       trace.KindToolCall,
			Tool:       action.Tool,
			Input:      action.Args,
			Output:     outcome.Value.Data,
			DurationMs: elapsed.Milliseconds(),
		})
		r.memory.Add(memory.EntryAction, "Executed "+action.Tool)
		r.memory.Add(memory.EntryResult, "Result: "+preview(outcome.Value.Data))

		if validation := r.gate.ValidateOutput(contract, outcome.Value.Data); !validation.OK {
			r.memory.Add(memory.EntryError, fmt.Sprintf("Output of %s violates its contract: %s", action.Tool, schema.Format(validation)))
			r.event("output_schema_violation", map[string]any{"tool": action.Tool, "errors": validation.Errors})
		}
		r.transition(ports.StateVerifying)
		return
	}

	lastErr := outcome.LastErr
	if lastErr == nil {
		lastErr = err
	}
	span.SetAttributes(observability.ErrorAttrs(lastErr)...)
	r.rt.metrics.RecordToolExecution(ctx, action.Tool, "error", elapsed)
	r.span(trace.Span{
		Kind:       trace.KindToolCall,
		Tool:       action.Tool,
		Input:      action.Args,
		DurationMs: elapsed.Milliseconds(),
		Status:     trace.StatusError,
		Error:      errorText(lastErr),
	})

	if r.cancelled() {
		return
	}
	if err == nil {
		r.memory.Add(memory.EntryError, fmt.Sprintf("Tool %s failed after %d attempts", action.Tool, outcome.Attempts))
		r.event(ReasonToolExhaustedRetries, map[string]any{
			"tool":       action.Tool,
			"attempts":   outcome.Attempts,
			"last_error": errorText(lastErr),
			"code":       string(agenterrors.CodeOf(lastErr)),
		})
		r.terminate(ports.StateFailed, ReasonToolExhaustedRetries, errorText(lastErr))
		return
	}
	r.memory.Add(memory.EntryError, fmt.Sprintf("Tool %s failed: %s", action.Tool, errorText(err)))
	r.event(ReasonToolFailed, map[string]any{
		"tool":     action.Tool,
		"attempts": outcome.Attempts,
		"error":    errorText(err),
		"code":     string(agenterrors.CodeOf(err)),
	})
	r.terminate(ports.StateFailed, ReasonToolFailed, errorText(err))
}

// callTool runs one attempt. Failed results and executor errors both come
// back as *ToolError so the retry policy can judge them.
func (r *run) callTool(ctx context.Context, action ports.Action, timeout time.Duration) (ports.ToolResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := r.req.Tools.Execute(callCtx, action.Tool, action.Args, timeout)
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return result, agenterrors.Timeout("tool "+action.Tool, timeout)
		}
		return result, agenterrors.FromError(err)
	}
	if !result.Succeeded() {
		return result, result.Err()
	}
	return result, nil
}

func (r *run) verifyPhase() {
	ctx, span := r.rt.tracer.StartSpan(r.ctx, observability.SpanVerify, attribute.Int(observability.AttrStep, r.step))
	defer span.End()

	start := r.rt.clock.Now()
	verification, attempts, err := callOracle(ctx, r, "verify", func(callCtx context.Context) (ports.Verification, error) {
		return r.req.Oracle.Verify(callCtx, ports.VerifyRequest{
			Goal:   r.req.Goal,
			Action: r.lastAction,
			Result: r.lastResult,
			Memory: r.memory.Current(),
		})
	})
	elapsed := r.rt.clock.Now().Sub(start)

	if err != nil {
		r.recordOracle(ctx, span, "verify", elapsed, ports.Usage{}, err)
		r.span(trace.Span{
			Kind:       trace.KindVerify,
			Tool:       r.lastAction.Tool,
			DurationMs: elapsed.Milliseconds(),
			Status:     trace.StatusError,
			Error:      err.Error(),
		})
		if r.cancelled() {
			return
		}
		r.event(ReasonVerifyError, map[string]any{"error": err.Error(), "attempts": attempts})
		r.terminate(ports.StateFailed, ReasonVerifyError, err.Error())
		return
	}

	r.usage = r.usage.Add(verification.Usage)
	r.recordOracle(ctx, span, "verify", elapsed, verification.Usage, nil)
	status := trace.StatusOK
	if !verification.Passed {
		status = trace.StatusError
	}
	r.span(trace.Span{
		Kind:  trace.KindVerify,
		Tool:  r.lastAction.Tool,
		Input: map[string]any{"tool": r.lastAction.Tool},
		Output: map[string]any{
			"passed":        verification.Passed,
			"goal_complete": verification.GoalComplete,
			"confidence":    verification.Confidence,
		},
		DurationMs: elapsed.Milliseconds(),
		TokensIn:   verification.Usage.InputTokens,
		TokensOut:  verification.Usage.OutputTokens,
		CostUSD:    verification.Usage.CostUSD,
		Status:     status,
	})

	switch {
	case !verification.Passed:
		r.memory.Add(memory.EntryVerification, "Failed: "+verification.Reason)
		r.transition(ports.StatePlanning)
	case verification.GoalComplete:
		r.event(ReasonGoalComplete, map[string]any{"reasoning": verification.Reason, "confidence": verification.Confidence})
		r.terminate(ports.StateComplete, ReasonGoalComplete, "")
	default:
		r.transition(ports.StatePlanning)
	}
}

// callOracle bounds an oracle call by the tool timeout. Deadline overruns
// are retried; any other failure ends the attempt loop at once.
func callOracle[T any](ctx context.Context, r *run, kind string, call func(context.Context) (T, error)) (T, int, error) {
	timeout := r.manifest.ToolTimeout()
	outcome, err := agenterrors.WithRetry(ctx, r.rt.retry, func(parent context.Context) (T, error) {
		callCtx, cancel := context.WithTimeout(parent, timeout)
		defer cancel()
		value, err := call(callCtx)
		if err == nil {
			return value, nil
		}
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && parent.Err() == nil {
			return value, agenterrors.Timeout("oracle "+kind, timeout)
		}
		return value, oracleFailure{err: err}
	}, func(event agenterrors.RetryEvent) {
		r.event("retry", map[string]any{
			"phase":    kind,
			"attempt":  event.Attempt,
			"delay_ms": event.Delay.Milliseconds(),
			"code":     string(event.Code),
			"error":    errorText(event.Err),
		})
	})
	if err != nil {
		return outcome.Value, outcome.Attempts, err
	}
	if !outcome.Success {
		return outcome.Value, outcome.Attempts, fmt.Errorf("oracle %s: %d attempts exhausted: %w", kind, outcome.Attempts, outcome.LastErr)
	}
	return outcome.Value, outcome.Attempts, nil
}

// oracleFailure hides the cause from the retry policy: only deadline
// overruns of oracle calls are retried.
type oracleFailure struct {
	err error
}

func (e oracleFailure) Error() string {
	return e.err.Error()
}

func (r *run) recordOracle(ctx context.Context, span oteltrace.Span, kind string, elapsed time.Duration, usage ports.Usage, err error) {
	status := "success"
	if err != nil {
		status = "error"
		span.SetAttributes(observability.ErrorAttrs(err)...)
	} else {
		span.SetAttributes(observability.UsageAttrs(usage.InputTokens, usage.OutputTokens, usage.CostUSD)...)
	}
	r.rt.metrics.RecordOracleCall(ctx, kind, status, elapsed, usage.InputTokens, usage.OutputTokens, usage.CostUSD)
}

func (r *run) cancelled() bool {
	if err := r.ctx.Err(); err != nil {
		r.escalate(ReasonCancelled, map[string]any{"error": err.Error(), "step": r.step})
		return true
	}
	return false
}

func (r *run) escalate(reason string, data map[string]any) {
	r.event(reason, data)
	r.terminate(ports.StateEscalated, reason, "")
}

func (r *run) terminate(state ports.State, reason, failure string) {
	r.reason = reason
	r.failure = failure
	r.transition(state)
}

func (r *run) transition(next ports.State) {
	if r.state == next {
		return
	}
	r.logger.Debug("state %s -> %s (step %d)", r.state, next, r.step)
	r.state = next
}

func (r *run) event(eventType string, data map[string]any) {
	if _, err := r.trail.AddEvent(eventType, data); err != nil {
		r.logger.Error("record %s: %v", eventType, err)
	}
}

func (r *run) span(span trace.Span) {
	if _, err := r.trail.AddSpan(span); err != nil {
		r.logger.Error("record %s span: %v", span.Kind, err)
	}
}

func (r *run) finish() *Result {
	if err := r.trail.Close(r.state); err != nil {
		r.logger.Error("close trail: %v", err)
	}
	summary := r.trail.Summary()
	result := &Result{
		RunID:         r.trail.RunID(),
		AgentID:       r.manifest.AgentID,
		Goal:          r.req.Goal,
		State:         r.state,
		Reason:        r.reason,
		StepsExecuted: r.step,
		TotalCostUSD:  r.usage.CostUSD,
		Usage:         r.usage,
		Duration:      r.rt.clock.Now().Sub(r.started),
		StartedAt:     r.started,
		Trace: TraceRef{
			RunID:       summary.RunID,
			SpanCount:   summary.SpanCount,
			EventCount:  summary.EventCount,
			StoragePath: summary.StoragePath,
		},
		Error: r.failure,
	}
	r.logger.Info("run finished: agent=%s state=%s reason=%s steps=%d cost=$%.4f", result.AgentID, result.State, result.Reason, result.StepsExecuted, result.TotalCostUSD)
	return result
}

func preview(data any) string {
	raw, err := json.Marshal(data)
	text := string(raw)
	if err != nil {
		text = fmt.Sprintf("%v", data)
	}
	runes := []rune(text)
	if len(runes) > ResultPreviewChars {
		return string(runes[:ResultPreviewChars])
	}
	return text
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
