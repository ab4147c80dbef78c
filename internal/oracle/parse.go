package oracle

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"republic/internal/agent/ports"
)

// ErrInvalidReply is returned when a model reply cannot be read as JSON.
var ErrInvalidReply = errors.New("oracle: invalid reply")

var (
	openingFence = regexp.MustCompile("^```(?:json|JSON)?\\s*")
	closingFence = regexp.MustCompile("\\s*```$")
)

type planReply struct {
	NextAction struct {
		Tool      string         `json:"tool"`
		Args      map[string]any `json:"args"`
		Reasoning string         `json:"reasoning"`
	} `json:"nextAction"`
	GoalComplete bool    `json:"goalComplete"`
	Confidence   float64 `json:"confidence"`
	Reasoning    string  `json:"reasoning"`
}

func (r planReply) plan() ports.Plan {
	args := r.NextAction.Args
	if args == nil {
		args = map[string]any{}
	}
	return ports.Plan{
		NextAction: ports.Action{
			Tool:      r.NextAction.Tool,
			Args:      args,
			Reasoning: r.NextAction.Reasoning,
		},
		GoalComplete: r.GoalComplete,
		Confidence:   r.Confidence,
		Reasoning:    r.Reasoning,
	}
}

type verifyReply struct {
	Passed       bool    `json:"passed"`
	GoalComplete bool    `json:"goalComplete"`
	Reason       string  `json:"reason"`
	Confidence   float64 `json:"confidence"`
}

func (r verifyReply) verification() ports.Verification {
	return ports.Verification{
		Passed:       r.Passed,
		GoalComplete: r.GoalComplete,
		Reason:       r.Reason,
		Confidence:   r.Confidence,
	}
}

// stripFences removes a surrounding markdown code fence and any prose
// around the outermost JSON object.
func stripFences(text string) string {
	cleaned := strings.TrimSpace(text)
	if strings.HasPrefix(cleaned, "```") {
		cleaned = openingFence.ReplaceAllString(cleaned, "")
		cleaned = closingFence.ReplaceAllString(cleaned, "")
	}
	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start > 0 && end > start {
		cleaned = cleaned[start : end+1]
	}
	return strings.TrimSpace(cleaned)
}

// decodeReply parses a model reply into out. Malformed JSON gets one repair
// attempt before the reply is rejected.
func decodeReply(text, label string, out any) error {
	cleaned := stripFences(text)
	if err := json.Unmarshal([]byte(cleaned), out); err == nil {
		return nil
	}
	repaired, repairErr := jsonrepair.JSONRepair(cleaned)
	if repairErr == nil {
		if err := json.Unmarshal([]byte(repaired), out); err == nil {
			return nil
		}
	}
	raw := text
	if len(raw) > 300 {
		raw = raw[:300]
	}
	return fmt.Errorf("%w: %s returned invalid JSON. Raw: %s", ErrInvalidReply, label, raw)
}
