package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	agenterrors "republic/internal/errors"
)

func TestSandboxPrintAndResult(t *testing.T) {
	out, err := NewSandbox(0).Run(context.Background(), `
print("hello")
def total(xs):
    s = 0
    for x in xs:
        s += x
    return s
result = {"sum": total([1, 2, 3]), "items": [1, "a", None], "ok": True, "ratio": 0.5}
`)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", out.Stdout)
	assert.Zero(t, out.ExitCode)
	assert.Equal(t, map[string]any{
		"sum":   int64(6),
		"items": []any{int64(1), "a", nil},
		"ok":    true,
		"ratio": 0.5,
	}, out.Result)
}

func TestSandboxScriptErrorIsReported(t *testing.T) {
	out, err := NewSandbox(0).Run(context.Background(), `print("before")
fail("boom")`)
	require.NoError(t, err)
	assert.Equal(t, 1, out.ExitCode)
	assert.Equal(t, "before\n", out.Stdout)
	assert.Contains(t, out.Error, "boom")
}

func TestSandboxRejectsLoad(t *testing.T) {
	out, err := NewSandbox(0).Run(context.Background(), `load("os.star", "system")`)
	require.NoError(t, err)
	assert.Equal(t, 1, out.ExitCode)
	assert.Contains(t, out.Error, "not available")
}

func TestSandboxUnconvertibleResult(t *testing.T) {
	out, err := NewSandbox(0).Run(context.Background(), `result = lambda: 1`)
	require.NoError(t, err)
	assert.Equal(t, 1, out.ExitCode)
	assert.Contains(t, out.Error, "cannot be returned")
}

func TestSandboxStepBudget(t *testing.T) {
	_, err := NewSandbox(1000).Run(context.Background(), `
def spin():
    x = 0
    for i in range(1000000):
        x += i
    return x
result = spin()
`)
	require.Error(t, err)
	assert.Equal(t, agenterrors.CodeValidation, agenterrors.CodeOf(err))
}

func TestSandboxHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewSandbox(0).Run(ctx, `result = 1`)
	assert.ErrorIs(t, err, context.Canceled)
}
