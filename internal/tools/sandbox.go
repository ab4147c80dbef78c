package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	agenterrors "republic/internal/errors"
)

// DefaultMaxSteps bounds the computation of one run_code call.
const DefaultMaxSteps = 10_000_000

// SandboxResult is the outcome of a sandboxed script.
type SandboxResult struct {
	Stdout   string `json:"stdout"`
	Result   any    `json:"result"`
	ExitCode int    `json:"exit_code"`
	Error    string `json:"error,omitempty"`
}

// Sandbox runs Starlark scripts with no file, network or clock access. A
// script reports its answer by assigning the global "result".
type Sandbox struct {
	maxSteps uint64
}

// NewSandbox returns a sandbox that stops scripts after maxSteps
// operations. Zero uses DefaultMaxSteps.
func NewSandbox(maxSteps uint64) *Sandbox {
	if maxSteps == 0 {
		maxSteps = DefaultMaxSteps
	}
	return &Sandbox{maxSteps: maxSteps}
}

// Run executes code. Script errors are reported in the result with a
// non-zero exit code; only cancellation and step exhaustion are errors.
func (s *Sandbox) Run(ctx context.Context, code string) (SandboxResult, error) {
	var stdout strings.Builder
	thread := &starlark.Thread{
		Name: "run_code",
		Print: func(_ *starlark.Thread, msg string) {
			stdout.WriteString(msg)
			stdout.WriteByte('\n')
		},
		Load: func(_ *starlark.Thread, module string) (starlark.StringDict, error) {
			return nil, fmt.Errorf("load(%q) is not available in the sandbox", module)
		},
	}
	thread.SetMaxExecutionSteps(s.maxSteps)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			thread.Cancel(ctx.Err().Error())
		case <-done:
		}
	}()

	globals, err := starlark.ExecFileOptions(&syntax.FileOptions{}, thread, "run_code.star", code, nil)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return SandboxResult{Stdout: stdout.String(), ExitCode: 1}, ctxErr
	}
	if err != nil {
		if strings.Contains(err.Error(), "too many steps") {
			return SandboxResult{Stdout: stdout.String(), ExitCode: 1}, agenterrors.Wrap(agenterrors.CodeValidation, err, "script exceeded its step budget")
		}
		var evalErr *starlark.EvalError
		message := err.Error()
		if errors.As(err, &evalErr) {
			message = evalErr.Backtrace()
		}
		return SandboxResult{Stdout: stdout.String(), ExitCode: 1, Error: message}, nil
	}

	result := SandboxResult{Stdout: stdout.String()}
	if value, ok := globals["result"]; ok {
		converted, convErr := fromStarlark(value)
		if convErr != nil {
			result.ExitCode = 1
			result.Error = convErr.Error()
			return result, nil
		}
		result.Result = converted
	}
	return result, nil
}

// fromStarlark converts a Starlark value into plain Go data that encodes
// as JSON.
func fromStarlark(v starlark.Value) (any, error) {
	switch v := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(v), nil
	case starlark.String:
		return string(v), nil
	case starlark.Int:
		if i, ok := v.Int64(); ok {
			return i, nil
		}
		return v.String(), nil
	case starlark.Float:
		return float64(v), nil
	case *starlark.List:
		out := make([]any, 0, v.Len())
		for i := 0; i < v.Len(); i++ {
			elem, err := fromStarlark(v.Index(i))
			if err != nil {
				return nil, err
			}
			out = append(out, elem)
		}
		return out, nil
	case starlark.Tuple:
		out := make([]any, 0, len(v))
		for _, item := range v {
			elem, err := fromStarlark(item)
			if err != nil {
				return nil, err
			}
			out = append(out, elem)
		}
		return out, nil
	case *starlark.Dict:
		out := make(map[string]any, v.Len())
		for _, item := range v.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("result dict keys must be strings, got %s", item[0].Type())
			}
			elem, err := fromStarlark(item[1])
			if err != nil {
				return nil, err
			}
			out[string(key)] = elem
		}
		return out, nil
	}
	return nil, fmt.Errorf("result of type %s cannot be returned", v.Type())
}
