package ports

import (
	"context"
	"fmt"
	"strings"
)

// Oracle proposes the next action and judges its outcome. Implementations
// must return an error rather than panic; the loop treats any error as
// fatal for the run, except deadline overruns which are retried.
type Oracle interface {
	Plan(ctx context.Context, req PlanRequest) (Plan, error)
	Verify(ctx context.Context, req VerifyRequest) (Verification, error)
}

// PlanRequest is the input of a planning call.
type PlanRequest struct {
	Goal         string
	Memory       string
	Tools        []string
	Constitution string
	Step         int
}

// VerifyRequest is the input of a verification call.
type VerifyRequest struct {
	Goal   string
	Action Action
	Result ToolResult
	Memory string
}

// Action is a single tool invocation proposed by the oracle.
type Action struct {
	Tool      string         `json:"tool"`
	Args      map[string]any `json:"args"`
	Reasoning string         `json:"reasoning,omitempty"`
}

// Plan is the oracle's answer to "what next".
type Plan struct {
	NextAction   Action  `json:"next_action"`
	GoalComplete bool    `json:"goal_complete"`
	Confidence   float64 `json:"confidence"`
	Reasoning    string  `json:"reasoning"`
	Usage        Usage   `json:"-"`
}

// Verification is the oracle's judgment of an executed action.
type Verification struct {
	Passed       bool    `json:"passed"`
	GoalComplete bool    `json:"goal_complete"`
	Reason       string  `json:"reason"`
	Confidence   float64 `json:"confidence"`
	Usage        Usage   `json:"-"`
}

// Usage is the token and cost accounting of one oracle call.
type Usage struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// Add returns the sum of two usages.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		InputTokens:  u.InputTokens + other.InputTokens,
		OutputTokens: u.OutputTokens + other.OutputTokens,
		CostUSD:      u.CostUSD + other.CostUSD,
	}
}

// Constitution is the rule set handed to the planning oracle.
type Constitution struct {
	Version     string                `json:"version" yaml:"version"`
	LastUpdated string                `json:"last_updated,omitempty" yaml:"last_updated,omitempty"`
	Articles    []ConstitutionArticle `json:"articles" yaml:"articles"`
}

// ConstitutionArticle groups related rules.
type ConstitutionArticle struct {
	Number int      `json:"number" yaml:"number"`
	Title  string   `json:"title" yaml:"title"`
	Rules  []string `json:"rules" yaml:"rules"`
}

// Render formats the constitution as prompt text.
func (c Constitution) Render() string {
	if len(c.Articles) == 0 {
		return ""
	}
	var b strings.Builder
	if c.Version != "" {
		fmt.Fprintf(&b, "Constitution v%s\n", c.Version)
	}
	for _, article := range c.Articles {
		fmt.Fprintf(&b, "Article %d: %s\n", article.Number, article.Title)
		for _, rule := range article.Rules {
			fmt.Fprintf(&b, "  - %s\n", rule)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
