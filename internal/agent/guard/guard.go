// Package guard decides whether a run may call a tool or spend more money.
package guard

import (
	"fmt"

	"republic/internal/agent/ports"
)

// Decision is the guard's verdict on a tool or cost check.
type Decision struct {
	Allowed          bool
	RequiresApproval bool
	Reason           string
}

// Guard evaluates tool calls against one manifest. It is immutable after
// construction and safe for concurrent use.
type Guard struct {
	agentID    string
	allowed    map[string]struct{}
	denied     map[string]struct{}
	approval   map[string]struct{}
	ordered    []string
	costBudget float64
}

// New builds a guard for the manifest.
func New(manifest ports.Manifest) *Guard {
	return &Guard{
		agentID:    manifest.AgentID,
		allowed:    toSet(manifest.Capabilities),
		denied:     toSet(manifest.DeniedCapabilities),
		approval:   toSet(manifest.HITLActions),
		ordered:    append([]string(nil), manifest.Capabilities...),
		costBudget: manifest.CostBudgetUSD,
	}
}

// Allows checks a tool name. Denial takes precedence over the allow list;
// tools missing from the allow list are denied; allowed tools in the
// approval set are flagged for a human.
func (g *Guard) Allows(tool string) Decision {
	if _, denied := g.denied[tool]; denied {
		return Decision{
			Reason: fmt.Sprintf("tool %q is explicitly denied for agent %q", tool, g.agentID),
		}
	}
	if _, allowed := g.allowed[tool]; !allowed {
		return Decision{
			Reason: fmt.Sprintf("tool %q is not in the capabilities of agent %q", tool, g.agentID),
		}
	}
	if _, hitl := g.approval[tool]; hitl {
		return Decision{
			Allowed:          true,
			RequiresApproval: true,
			Reason:           fmt.Sprintf("tool %q requires human approval", tool),
		}
	}
	return Decision{Allowed: true}
}

// AllowsCost checks whether spending additional on top of current stays
// within budget. Landing exactly on the budget is allowed.
func (g *Guard) AllowsCost(current, additional float64) Decision {
	projected := current + additional
	if projected > g.costBudget {
		return Decision{
			Reason: fmt.Sprintf("projected cost $%.4f exceeds budget $%.2f", projected, g.costBudget),
		}
	}
	return Decision{Allowed: true}
}

// RequiresApproval reports whether tool is in the approval set.
func (g *Guard) RequiresApproval(tool string) bool {
	_, ok := g.approval[tool]
	return ok
}

// Filter returns the tools the guard allows, preserving order.
func (g *Guard) Filter(tools []string) []string {
	out := make([]string, 0, len(tools))
	for _, tool := range tools {
		if g.Allows(tool).Allowed {
			out = append(out, tool)
		}
	}
	return out
}

// Capabilities returns the manifest allow list in declaration order.
func (g *Guard) Capabilities() []string {
	return append([]string(nil), g.ordered...)
}

// CostBudget returns the manifest budget in USD.
func (g *Guard) CostBudget() float64 {
	return g.costBudget
}

// ValidateManifest reports suspicious permission combinations. The
// warnings do not block a run.
func ValidateManifest(manifest ports.Manifest) []string {
	var warnings []string
	denied := toSet(manifest.DeniedCapabilities)
	allowed := toSet(manifest.Capabilities)

	for _, tool := range manifest.Capabilities {
		if _, ok := denied[tool]; ok {
			warnings = append(warnings, fmt.Sprintf("tool %q is in both capabilities and denied_capabilities; deny wins", tool))
		}
	}
	for _, tool := range manifest.HITLActions {
		if _, ok := allowed[tool]; !ok {
			warnings = append(warnings, fmt.Sprintf("hitl action %q is not in capabilities and can never be reached", tool))
		}
	}
	return warnings
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		set[item] = struct{}{}
	}
	return set
}
