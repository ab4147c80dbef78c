package ports

import (
	"fmt"
	"strings"
	"time"
)

const (
	DefaultMaxSteps            = 25
	DefaultToolTimeoutMs       = 15000
	DefaultCostBudgetUSD       = 2.00
	DefaultScratchpadMaxTokens = 8000
)

// Manifest declares what one agent type may do. It is loaded once and
// never mutated by a run.
type Manifest struct {
	AgentID            string       `json:"agent_id" yaml:"agent_id"`
	Version            string       `json:"version" yaml:"version"`
	District           string       `json:"district,omitempty" yaml:"district,omitempty"`
	Description        string       `json:"description,omitempty" yaml:"description,omitempty"`
	Capabilities       []string     `json:"capabilities" yaml:"capabilities"`
	DeniedCapabilities []string     `json:"denied_capabilities,omitempty" yaml:"denied_capabilities,omitempty"`
	HITLActions        []string     `json:"hitl_actions,omitempty" yaml:"hitl_actions,omitempty"`
	MaxSteps           int          `json:"max_steps" yaml:"max_steps"`
	ToolTimeoutMs      int          `json:"tool_timeout_ms" yaml:"tool_timeout_ms"`
	CostBudgetUSD      float64      `json:"cost_budget_usd" yaml:"cost_budget_usd"`
	Memory             MemoryConfig `json:"memory" yaml:"memory"`
	EvalSuite          string       `json:"eval_suite,omitempty" yaml:"eval_suite,omitempty"`
	Owner              string       `json:"owner,omitempty" yaml:"owner,omitempty"`
	Created            string       `json:"created,omitempty" yaml:"created,omitempty"`
}

// MemoryConfig sizes the working memory of a run.
type MemoryConfig struct {
	ScratchpadMaxTokens int `json:"scratchpad_max_tokens" yaml:"scratchpad_max_tokens"`
}

// ToolTimeout bounds every oracle and tool call of a run.
func (m Manifest) ToolTimeout() time.Duration {
	return time.Duration(m.ToolTimeoutMs) * time.Millisecond
}

// Defaults holds the values applied to unset manifest limits.
type Defaults struct {
	MaxSteps            int
	ToolTimeoutMs       int
	CostBudgetUSD       float64
	ScratchpadMaxTokens int
}

// BuiltinDefaults returns the stock manifest limits.
func BuiltinDefaults() Defaults {
	return Defaults{
		MaxSteps:            DefaultMaxSteps,
		ToolTimeoutMs:       DefaultToolTimeoutMs,
		CostBudgetUSD:       DefaultCostBudgetUSD,
		ScratchpadMaxTokens: DefaultScratchpadMaxTokens,
	}
}

// WithDefaults returns a copy with unset timeout and memory limits filled
// in. MaxSteps and CostBudgetUSD are only filled when negative; an
// explicit zero is kept as a limit.
func (m Manifest) WithDefaults(d Defaults) Manifest {
	if m.MaxSteps < 0 {
		m.MaxSteps = d.MaxSteps
	}
	if m.ToolTimeoutMs <= 0 {
		m.ToolTimeoutMs = d.ToolTimeoutMs
	}
	if m.CostBudgetUSD < 0 {
		m.CostBudgetUSD = d.CostBudgetUSD
	}
	if m.Memory.ScratchpadMaxTokens <= 0 {
		m.Memory.ScratchpadMaxTokens = d.ScratchpadMaxTokens
	}
	m.Capabilities = cloneStrings(m.Capabilities)
	m.DeniedCapabilities = cloneStrings(m.DeniedCapabilities)
	m.HITLActions = cloneStrings(m.HITLActions)
	return m
}

// Validate checks structural requirements of a manifest.
func (m Manifest) Validate() error {
	var problems []string
	if strings.TrimSpace(m.AgentID) == "" {
		problems = append(problems, "agent_id is required")
	}
	if m.MaxSteps < 0 {
		problems = append(problems, "max_steps must be >= 0")
	}
	if m.ToolTimeoutMs <= 0 {
		problems = append(problems, "tool_timeout_ms must be > 0")
	}
	if m.CostBudgetUSD < 0 {
		problems = append(problems, "cost_budget_usd must be >= 0")
	}
	if m.Memory.ScratchpadMaxTokens <= 0 {
		problems = append(problems, "memory.scratchpad_max_tokens must be > 0")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid manifest %q: %s", m.AgentID, strings.Join(problems, "; "))
	}
	return nil
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in...)
}
