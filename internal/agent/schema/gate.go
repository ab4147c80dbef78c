// Package schema validates tool arguments and outputs against the JSON
// Schemas declared in tool contracts.
package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"republic/internal/agent/ports"
)

// KeywordSchemaError marks a violation caused by an invalid schema rather
// than by the data.
const KeywordSchemaError = "schema_error"

// Violation is one failed constraint.
type Violation struct {
	Path    string `json:"path"`
	Message string `json:"message"`
	Keyword string `json:"keyword"`
}

// Result is the outcome of a validation.
type Result struct {
	OK     bool        `json:"ok"`
	Errors []Violation `json:"errors,omitempty"`
}

func pass() Result {
	return Result{OK: true}
}

func fail(violations ...Violation) Result {
	return Result{OK: false, Errors: violations}
}

// Gate compiles and applies schemas. The zero value is ready to use and safe
// for concurrent use.
type Gate struct {
	seq atomic.Uint64
}

// NewGate returns a Gate.
func NewGate() *Gate {
	return &Gate{}
}

// ValidateInput checks tool arguments against the contract's input schema.
func (g *Gate) ValidateInput(contract ports.ToolContract, args map[string]any) Result {
	if args == nil {
		args = map[string]any{}
	}
	return g.Validate(contract.InputSchema, args, contract.Name+"-input")
}

// ValidateOutput checks tool output against the contract's output schema.
// Contracts without an output schema always pass.
func (g *Gate) ValidateOutput(contract ports.ToolContract, output any) Result {
	if len(contract.OutputSchema) == 0 {
		return pass()
	}
	return g.Validate(contract.OutputSchema, output, contract.Name+"-output")
}

// Validate checks data against schema. Every call compiles the schema under
// a fresh resource id, so schemas never collide in the compiler cache. A
// schema that fails to compile yields a single schema_error violation.
func (g *Gate) Validate(schema map[string]any, data any, label string) Result {
	compiled, err := g.Compile(schema, label)
	if err != nil {
		return fail(Violation{Path: "/", Message: err.Error(), Keyword: KeywordSchemaError})
	}

	value, err := normalize(data)
	if err != nil {
		return fail(Violation{Path: "/", Message: fmt.Sprintf("value is not JSON-encodable: %v", err), Keyword: "type"})
	}

	if err := compiled.Validate(value); err != nil {
		var validationErr *jsonschema.ValidationError
		if errors.As(err, &validationErr) {
			return fail(collect(validationErr)...)
		}
		return fail(Violation{Path: "/", Message: err.Error(), Keyword: KeywordSchemaError})
	}
	return pass()
}

// Compile compiles schema under a unique resource id.
func (g *Gate) Compile(schema map[string]any, label string) (*jsonschema.Schema, error) {
	if schema == nil {
		schema = map[string]any{}
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("encode schema: %w", err)
	}

	resource := fmt.Sprintf("mem://republic/%s/%d.json", url.PathEscape(label), g.seq.Add(1))
	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true
	if err := compiler.AddResource(resource, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}
	compiled, err := compiler.Compile(resource)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return compiled, nil
}

// normalize round-trips data through JSON so typed Go values validate the
// same way as decoded oracle output.
func normalize(data any) (any, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}
	return value, nil
}

// collect flattens the validation tree into its leaf failures.
func collect(root *jsonschema.ValidationError) []Violation {
	var out []Violation
	var walk func(*jsonschema.ValidationError)
	walk = func(node *jsonschema.ValidationError) {
		if len(node.Causes) == 0 {
			out = append(out, Violation{
				Path:    instancePath(node.InstanceLocation),
				Message: node.Message,
				Keyword: keywordOf(node.KeywordLocation),
			})
			return
		}
		for _, cause := range node.Causes {
			walk(cause)
		}
	}
	walk(root)
	return out
}

func instancePath(location string) string {
	if location == "" {
		return "/"
	}
	return location
}

func keywordOf(location string) string {
	location = strings.TrimRight(location, "/")
	if idx := strings.LastIndex(location, "/"); idx >= 0 {
		location = location[idx+1:]
	}
	if location == "" {
		return "schema"
	}
	return location
}

// Format renders violations as feedback for the planning oracle.
func Format(result Result) string {
	if result.OK || len(result.Errors) == 0 {
		return "valid"
	}
	lines := make([]string, 0, len(result.Errors))
	for _, v := range result.Errors {
		lines = append(lines, fmt.Sprintf("  - %s: %s (%s)", v.Path, v.Message, v.Keyword))
	}
	return "Schema violations:\n" + strings.Join(lines, "\n")
}
