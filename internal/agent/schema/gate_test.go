package schema

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"republic/internal/agent/ports"
)

func writeFileContract() ports.ToolContract {
	return ports.ToolContract{
		Name: "write_file",
		InputSchema: map[string]any{
			"type":     "object",
			"required": []any{"path", "content"},
			"properties": map[string]any{
				"path":    map[string]any{"type": "string", "pattern": "^[a-zA-Z0-9_./-]+$"},
				"content": map[string]any{"type": "string"},
			},
			"additionalProperties": false,
		},
		OutputSchema: map[string]any{
			"type":     "object",
			"required": []any{"bytes_written"},
			"properties": map[string]any{
				"bytes_written": map[string]any{"type": "integer", "minimum": 0},
			},
		},
	}
}

func TestValidateInputAcceptsConformingArgs(t *testing.T) {
	g := NewGate()
	res := g.ValidateInput(writeFileContract(), map[string]any{"path": "out/index.html", "content": "<h1>hi</h1>"})
	assert.True(t, res.OK)
	assert.Empty(t, res.Errors)
}

func TestValidateInputReportsEachViolation(t *testing.T) {
	g := NewGate()
	res := g.ValidateInput(writeFileContract(), map[string]any{"path": "../etc/passwd;", "extra": true})
	require.False(t, res.OK)

	keywords := map[string]Violation{}
	for _, v := range res.Errors {
		keywords[v.Keyword] = v
		assert.NotEmpty(t, v.Message)
	}
	require.Contains(t, keywords, "required")
	require.Contains(t, keywords, "pattern")
	require.Contains(t, keywords, "additionalProperties")
	assert.Equal(t, "/", keywords["required"].Path)
	assert.Equal(t, "/path", keywords["pattern"].Path)
}

func TestValidateInputTypeMismatch(t *testing.T) {
	g := NewGate()
	res := g.ValidateInput(writeFileContract(), map[string]any{"path": 42, "content": "x"})
	require.False(t, res.OK)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "type", res.Errors[0].Keyword)
	assert.Equal(t, "/path", res.Errors[0].Path)
}

func TestValidateOutput(t *testing.T) {
	g := NewGate()
	c := writeFileContract()

	type writeOutput struct {
		BytesWritten int `json:"bytes_written"`
	}
	assert.True(t, g.ValidateOutput(c, writeOutput{BytesWritten: 12}).OK, "typed values are normalized through JSON")
	assert.False(t, g.ValidateOutput(c, map[string]any{"bytes_written": -1}).OK)

	c.OutputSchema = nil
	assert.True(t, g.ValidateOutput(c, "anything").OK, "no output schema means pass")
}

func TestInvalidSchemaYieldsSchemaError(t *testing.T) {
	g := NewGate()
	res := g.Validate(map[string]any{"type": 5}, map[string]any{}, "broken")
	require.False(t, res.OK)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, KeywordSchemaError, res.Errors[0].Keyword)
}

func TestUnencodableValue(t *testing.T) {
	g := NewGate()
	res := g.Validate(map[string]any{}, map[string]any{"ch": make(chan int)}, "chan")
	require.False(t, res.OK)
}

func TestFormatFeedsOracle(t *testing.T) {
	g := NewGate()
	res := g.ValidateInput(writeFileContract(), map[string]any{"path": "a"})
	text := Format(res)
	assert.True(t, strings.HasPrefix(text, "Schema violations:"))
	assert.Contains(t, text, "(required)")
	assert.Equal(t, "valid", Format(Result{OK: true}))
}

func TestGateIsSafeForConcurrentUse(t *testing.T) {
	g := NewGate()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := g.ValidateInput(writeFileContract(), map[string]any{"path": "a.txt", "content": ""})
			assert.True(t, res.OK)
		}()
	}
	wg.Wait()
}
