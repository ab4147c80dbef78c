package oracle

import (
	"encoding/json"
	"fmt"
	"strings"

	"republic/internal/agent/ports"
)

const planSystemPrompt = `You are a planning module inside the Agent Republic runtime.
Given a GOAL, SCRATCHPAD (working memory), available TOOLS, and CONSTITUTION, decide the next action.

Respond with EXACTLY this JSON format, no markdown fences:
{
  "nextAction": {
    "tool": "<tool_name>",
    "args": { <tool_arguments> },
    "reasoning": "<why this tool and these args>"
  },
  "goalComplete": false,
  "confidence": 0.8,
  "reasoning": "<overall reasoning>"
}

Rules:
- If the goal is fully achieved, set goalComplete=true and tool="noop" with empty args.
- Only use tools from the TOOLS list. Never hallucinate tool names.
- Arguments must satisfy the tool's input schema; schema errors are reported in the scratchpad.
- Use write_file to create files in the workspace and read_file to inspect them.
- Keep args minimal and well-typed.`

const verifySystemPrompt = `You are a verification module inside the Agent Republic runtime.
Given a GOAL, the ACTION that was just taken, its RESULT, and the SCRATCHPAD, verify the outcome.

Respond with EXACTLY this JSON format, no markdown fences:
{
  "passed": true,
  "goalComplete": false,
  "reason": "<what you verified and why it passed/failed>",
  "confidence": 0.85
}

Rules:
- passed=true means the action produced a valid result toward the goal.
- goalComplete=true means ALL parts of the goal are now satisfied.
- Be rigorous. Check that every required part of the goal is present.`

// resultPreviewChars bounds the tool output shown to the verifier.
const resultPreviewChars = 2000

func planMessage(req ports.PlanRequest, inventory string) string {
	tools := strings.Join(req.Tools, ", ")
	if inventory != "" {
		tools = inventory
	}
	return strings.Join([]string{
		"## GOAL\n" + req.Goal,
		"## SCRATCHPAD\n" + req.Memory,
		"## AVAILABLE TOOLS\n" + tools,
		"## CONSTITUTION\n" + req.Constitution,
	}, "\n\n")
}

func verifyMessage(req ports.VerifyRequest) string {
	args, _ := json.Marshal(req.Action.Args)
	reasoning := req.Action.Reasoning
	if reasoning == "" {
		reasoning = "none"
	}
	data, err := json.Marshal(req.Result.Data)
	if err != nil {
		data = []byte(fmt.Sprintf("%v", req.Result.Data))
	}
	preview := string(data)
	if len(preview) > resultPreviewChars {
		preview = preview[:resultPreviewChars]
	}
	result := fmt.Sprintf("## RESULT\nStatus: %s\nData: %s", req.Result.Status, preview)
	if req.Result.Error != nil {
		result += "\nError: " + req.Result.Error.Error()
	}
	return strings.Join([]string{
		"## GOAL\n" + req.Goal,
		fmt.Sprintf("## ACTION TAKEN\nTool: %s\nArgs: %s\nReasoning: %s", req.Action.Tool, args, reasoning),
		result,
		"## SCRATCHPAD\n" + req.Memory,
	}, "\n\n")
}
