package toolregistry

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"republic/internal/agent/ports"
	"republic/internal/agent/schema"
)

var (
	// ErrToolNotFound marks lookups of unregistered tools.
	ErrToolNotFound = errors.New("tool not found")
	// ErrDuplicateTool marks a second registration under the same name.
	ErrDuplicateTool = errors.New("tool already registered")
)

// NotFoundError reports a lookup of a tool the registry does not know,
// typically a name the oracle hallucinated.
type NotFoundError struct {
	Name      string
	Available []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("tool %q not found in registry. Available tools: %s", e.Name, strings.Join(e.Available, ", "))
}

func (e *NotFoundError) Unwrap() error {
	return ErrToolNotFound
}

// Registry is a namespace of tool contracts. Contracts are read-only once
// registered and may be shared across runs.
type Registry struct {
	mu        sync.RWMutex
	order     []string
	contracts map[string]ports.ToolContract
	gate      *schema.Gate
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		contracts: make(map[string]ports.ToolContract),
		gate:      schema.NewGate(),
	}
}

// NewDefault returns a registry holding DefaultContracts.
func NewDefault() *Registry {
	r := NewRegistry()
	if err := r.RegisterAll(DefaultContracts()); err != nil {
		panic(fmt.Sprintf("default tool contracts: %v", err))
	}
	return r
}

// FromExecutor builds a registry from every contract the executor exposes.
// Tools the executor lists without a contract stay unregistered, so the
// loop can never call them.
func FromExecutor(executor ports.ToolExecutor) (*Registry, error) {
	r := NewRegistry()
	if executor == nil {
		return r, nil
	}
	for _, name := range executor.ListTools() {
		if r.Has(name) {
			continue
		}
		contract, ok := executor.Contract(name)
		if !ok {
			continue
		}
		if contract.Name == "" {
			contract.Name = name
		}
		if err := r.Register(contract); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a contract. Empty and duplicate names are rejected.
func (r *Registry) Register(contract ports.ToolContract) error {
	name := strings.TrimSpace(contract.Name)
	if name == "" {
		return fmt.Errorf("register tool: name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.contracts[name]; exists {
		return fmt.Errorf("register %s: %w", name, ErrDuplicateTool)
	}
	contract.Name = name
	r.contracts[name] = contract
	r.order = append(r.order, name)
	return nil
}

// RegisterAll registers contracts in order, stopping at the first error.
func (r *Registry) RegisterAll(contracts []ports.ToolContract) error {
	for _, contract := range contracts {
		if err := r.Register(contract); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the named contract.
func (r *Registry) Get(name string) (ports.ToolContract, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	contract, ok := r.contracts[name]
	return contract, ok
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Lookup is the hot-path lookup used before any invocation. Unknown names
// yield a *NotFoundError listing the valid names.
func (r *Registry) Lookup(name string) (ports.ToolContract, error) {
	if contract, ok := r.Get(name); ok {
		return contract, nil
	}
	return ports.ToolContract{}, &NotFoundError{Name: name, Available: r.List()}
}

// List returns tool names in registration order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Contracts returns contracts in registration order.
func (r *Registry) Contracts() []ports.ToolContract {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ports.ToolContract, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.contracts[name])
	}
	return out
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// ValidateInput checks args against the named tool's input schema.
func (r *Registry) ValidateInput(name string, args map[string]any) (schema.Result, error) {
	contract, err := r.Lookup(name)
	if err != nil {
		return schema.Result{}, err
	}
	return r.gate.ValidateInput(contract, args), nil
}

// ValidateOutput checks output against the named tool's output schema.
func (r *Registry) ValidateOutput(name string, output any) (schema.Result, error) {
	contract, err := r.Lookup(name)
	if err != nil {
		return schema.Result{}, err
	}
	return r.gate.ValidateOutput(contract, output), nil
}

// Inventory renders the registry as a tool listing for oracle prompts.
func (r *Registry) Inventory() string {
	return inventory(r.Contracts())
}

// InventoryOf lists only the named tools, in the order given. Unknown
// names are skipped.
func (r *Registry) InventoryOf(names []string) string {
	contracts := make([]ports.ToolContract, 0, len(names))
	for _, name := range names {
		if c, ok := r.Get(name); ok {
			contracts = append(contracts, c)
		}
	}
	return inventory(contracts)
}

func inventory(contracts []ports.ToolContract) string {
	lines := make([]string, 0, len(contracts))
	for _, c := range contracts {
		flags := []string{"read-only"}
		if c.SideEffects {
			flags[0] = "side-effects"
		}
		if c.Idempotent {
			flags = append(flags, "idempotent")
		} else {
			flags = append(flags, "non-idempotent")
		}
		if c.RequiresApproval {
			flags = append(flags, "REQUIRES-APPROVAL")
		}
		if c.RateLimit != "" {
			flags = append(flags, "rate-limit:"+c.RateLimit)
		}
		description := c.Description
		if description == "" {
			description = "No description"
		}
		lines = append(lines, fmt.Sprintf("- %s: %s [%s]", c.Name, description, strings.Join(flags, ", ")))
	}
	return strings.Join(lines, "\n")
}

// Problem is one defect found by Check.
type Problem struct {
	Tool    string `json:"tool"`
	Message string `json:"message"`
}

func (p Problem) String() string {
	return p.Tool + ": " + p.Message
}

// Check validates every contract: schemas must be present and compile, and
// approval-gated tools must name who approves them.
func (r *Registry) Check() []Problem {
	var problems []Problem
	for _, c := range r.Contracts() {
		if len(c.InputSchema) == 0 {
			problems = append(problems, Problem{Tool: c.Name, Message: "missing input schema"})
		} else if _, err := r.gate.Compile(c.InputSchema, c.Name+"-input"); err != nil {
			problems = append(problems, Problem{Tool: c.Name, Message: "input schema does not compile: " + err.Error()})
		}
		if len(c.OutputSchema) > 0 {
			if _, err := r.gate.Compile(c.OutputSchema, c.Name+"-output"); err != nil {
				problems = append(problems, Problem{Tool: c.Name, Message: "output schema does not compile: " + err.Error()})
			}
		}
		if c.RequiresApproval && len(c.ApprovalRoles) == 0 {
			problems = append(problems, Problem{Tool: c.Name, Message: "requires approval but lists no approval roles"})
		}
	}
	return problems
}
