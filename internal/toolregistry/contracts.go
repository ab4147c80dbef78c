package toolregistry

import "republic/internal/agent/ports"

// Builtin tool names.
const (
	ToolOpenURL       = "open_url"
	ToolClick         = "click"
	ToolType          = "type"
	ToolScreenshot    = "screenshot"
	ToolExtractText   = "extract_text"
	ToolRunCode       = "run_code"
	ToolReadFile      = "read_file"
	ToolWriteFile     = "write_file"
	ToolPublishDeploy = "publish_deploy"
)

// WorkspacePathPattern restricts file tool paths to relative names whose
// segments never start with a dot, which rules out "..", "." and absolute
// paths.
const WorkspacePathPattern = `^(?:[A-Za-z0-9_-][A-Za-z0-9_.-]*/)*[A-Za-z0-9_-][A-Za-z0-9_.-]*$`

type object = map[string]any

func props(required []string, properties object) object {
	s := object{"type": "object", "properties": properties}
	if len(required) > 0 {
		req := make([]any, len(required))
		for i, name := range required {
			req[i] = name
		}
		s["required"] = req
	}
	return s
}

// DefaultContracts returns fresh copies of the builtin contracts in
// registration order.
func DefaultContracts() []ports.ToolContract {
	return []ports.ToolContract{
		{
			Name:        ToolOpenURL,
			Description: "Navigate to URL and load the page into the browser session.",
			InputSchema: props([]string{"url"}, object{
				"url":           object{"type": "string", "format": "uri"},
				"wait_for":      object{"type": "string", "enum": []any{"networkidle", "domcontentloaded", "load", "selector"}, "default": "networkidle"},
				"wait_selector": object{"type": "string"},
				"timeout_ms":    object{"type": "integer", "default": 30000, "minimum": 1000, "maximum": 120000},
			}),
			OutputSchema: props(nil, object{
				"success":     object{"type": "boolean"},
				"final_url":   object{"type": "string"},
				"status_code": object{"type": "integer"},
				"title":       object{"type": "string"},
			}),
			Idempotent: true,
		},
		{
			Name:        ToolClick,
			Description: "Click an element identified by CSS selector.",
			InputSchema: props([]string{"selector"}, object{
				"selector":   object{"type": "string"},
				"timeout_ms": object{"type": "integer", "default": 5000},
				"force":      object{"type": "boolean", "default": false},
			}),
			SideEffects: true,
		},
		{
			Name:        ToolType,
			Description: "Type text into an input element.",
			InputSchema: props([]string{"selector", "text"}, object{
				"selector":    object{"type": "string"},
				"text":        object{"type": "string", "maxLength": 10000},
				"clear_first": object{"type": "boolean", "default": true},
				"delay_ms":    object{"type": "integer", "default": 50},
			}),
			SideEffects:     true,
			Idempotent:      true,
			IdempotencyNote: "Idempotent when clear_first=true",
		},
		{
			Name:        ToolScreenshot,
			Description: "Capture a screenshot of the current page or a specific element.",
			InputSchema: props(nil, object{
				"full_page": object{"type": "boolean", "default": false},
				"selector":  object{"type": "string"},
				"format":    object{"type": "string", "enum": []any{"png", "jpeg"}, "default": "png"},
			}),
			Idempotent: true,
			RateLimit:  "10/min",
		},
		{
			Name:        ToolExtractText,
			Description: "Extract text content from an element of the current page.",
			InputSchema: props(nil, object{
				"selector":  object{"type": "string", "default": "body"},
				"max_chars": object{"type": "integer", "default": 50000, "minimum": 1},
			}),
			OutputSchema: props(nil, object{
				"text":       object{"type": "string"},
				"selector":   object{"type": "string"},
				"char_count": object{"type": "integer"},
			}),
			Idempotent: true,
		},
		{
			Name:        ToolRunCode,
			Description: "Execute code in a sandboxed interpreter.",
			InputSchema: props([]string{"language", "code"}, object{
				"language":   object{"type": "string", "enum": []any{"starlark", "python", "javascript", "bash"}},
				"code":       object{"type": "string", "maxLength": 50000},
				"timeout_ms": object{"type": "integer", "default": 30000, "maximum": 300000},
				"sandbox":    object{"type": "boolean", "default": true},
			}),
			OutputSchema: props(nil, object{
				"stdout":    object{"type": "string"},
				"result":    object{},
				"exit_code": object{"type": "integer"},
			}),
			SideEffects: true,
			Safety:      "MUST run in sandboxed environment. No network access unless explicitly granted.",
		},
		{
			Name:        ToolReadFile,
			Description: "Read file contents within the agent workspace.",
			InputSchema: props([]string{"path"}, object{
				"path":     object{"type": "string", "pattern": WorkspacePathPattern},
				"encoding": object{"type": "string", "default": "utf-8"},
			}),
			OutputSchema: props(nil, object{
				"content":    object{"type": "string"},
				"size_bytes": object{"type": "integer"},
				"encoding":   object{"type": "string"},
			}),
			Idempotent: true,
		},
		{
			Name:        ToolWriteFile,
			Description: "Write content to a file within the agent workspace.",
			InputSchema: props([]string{"path", "content"}, object{
				"path":     object{"type": "string", "pattern": WorkspacePathPattern},
				"content":  object{"type": "string"},
				"encoding": object{"type": "string", "default": "utf-8"},
			}),
			OutputSchema: props(nil, object{
				"path":          object{"type": "string"},
				"bytes_written": object{"type": "integer", "minimum": 0},
				"diff":          object{"type": "string"},
			}),
			SideEffects: true,
			Idempotent:  true,
		},
		{
			Name:        ToolPublishDeploy,
			Description: "Deploy an artifact to staging or production. Requires human approval.",
			InputSchema: props([]string{"artifact_ref", "target"}, object{
				"artifact_ref":   object{"type": "string"},
				"target":         object{"type": "string", "enum": []any{"staging", "production"}},
				"canary_percent": object{"type": "integer", "default": 10, "minimum": 0, "maximum": 100},
			}),
			SideEffects:      true,
			RequiresApproval: true,
			ApprovalRoles:    []string{"release_manager", "human_operator"},
		},
	}
}
