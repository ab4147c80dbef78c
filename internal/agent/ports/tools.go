package ports

import (
	"context"
	"time"

	agenterrors "republic/internal/errors"
)

// ToolExecutor runs tools on behalf of the control loop.
type ToolExecutor interface {
	// Execute runs the named tool. Tool-level failures are reported in the
	// result; the error return is reserved for failures of the executor
	// itself.
	Execute(ctx context.Context, name string, args map[string]any, timeout time.Duration) (ToolResult, error)

	// Contract returns the tool's contract, if the executor knows it.
	Contract(name string) (ToolContract, bool)

	// ListTools returns every tool the executor can run.
	ListTools() []string
}

// ToolStatus tags a ToolResult.
type ToolStatus string

const (
	ToolStatusOK    ToolStatus = "ok"
	ToolStatusError ToolStatus = "error"
)

// ToolResult is the outcome of one tool call. Error is set iff Status is
// ToolStatusError.
type ToolResult struct {
	Tool           string                 `json:"tool"`
	Status         ToolStatus             `json:"status"`
	Data           any                    `json:"data,omitempty"`
	Error          *agenterrors.ToolError `json:"error,omitempty"`
	Duration       time.Duration          `json:"-"`
	IdempotencyKey string                 `json:"idempotency_key,omitempty"`
}

// OK builds a successful result.
func OK(tool string, data any, duration time.Duration) ToolResult {
	return ToolResult{Tool: tool, Status: ToolStatusOK, Data: data, Duration: duration}
}

// Failed builds a failed result.
func Failed(tool string, err *agenterrors.ToolError, duration time.Duration) ToolResult {
	if err == nil {
		err = agenterrors.New(agenterrors.CodeToolError, "tool %s failed", tool)
	}
	return ToolResult{Tool: tool, Status: ToolStatusError, Error: err, Duration: duration}
}

// Succeeded reports whether the result is the ok variant.
func (r ToolResult) Succeeded() bool {
	return r.Status == ToolStatusOK
}

// Err returns the result's error, or nil for successful results.
func (r ToolResult) Err() error {
	if r.Succeeded() {
		return nil
	}
	if r.Error == nil {
		return agenterrors.New(agenterrors.CodeToolError, "tool %s failed", r.Tool)
	}
	return r.Error
}

// ToolContract describes a tool's interface and safety properties.
type ToolContract struct {
	Name             string         `json:"name" yaml:"name"`
	Description      string         `json:"description,omitempty" yaml:"description,omitempty"`
	InputSchema      map[string]any `json:"input_schema" yaml:"input_schema"`
	OutputSchema     map[string]any `json:"output_schema,omitempty" yaml:"output_schema,omitempty"`
	SideEffects      bool           `json:"side_effects" yaml:"side_effects"`
	Idempotent       bool           `json:"idempotent" yaml:"idempotent"`
	IdempotencyNote  string         `json:"idempotency_note,omitempty" yaml:"idempotency_note,omitempty"`
	RateLimit        string         `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty"`
	RequiresApproval bool           `json:"requires_approval,omitempty" yaml:"requires_approval,omitempty"`
	ApprovalRoles    []string       `json:"approval_roles,omitempty" yaml:"approval_roles,omitempty"`
	Safety           string         `json:"safety,omitempty" yaml:"safety,omitempty"`
}

// Cacheable reports whether repeated calls with equal arguments may share a
// result.
func (c ToolContract) Cacheable() bool {
	return c.Idempotent && !c.SideEffects && !c.RequiresApproval
}
