package toolregistry

import (
	"errors"
	"strings"
	"testing"

	"republic/internal/agent/ports"
)

func TestDefaultRegistryHasNineTools(t *testing.T) {
	r := NewDefault()
	if r.Len() != 9 {
		t.Fatalf("expected 9 builtin tools, got %d", r.Len())
	}
	want := []string{"open_url", "click", "type", "screenshot", "extract_text", "run_code", "read_file", "write_file", "publish_deploy"}
	got := r.List()
	for i, name := range want {
		if got[i] != name {
			t.Fatalf("registration order mismatch at %d: got %s want %s", i, got[i], name)
		}
	}
	if problems := r.Check(); len(problems) != 0 {
		t.Fatalf("builtin contracts should pass Check, got %v", problems)
	}
}

func TestRegisterRejectsDuplicatesAndEmptyNames(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(ports.ToolContract{Name: "a", InputSchema: map[string]any{}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := r.Register(ports.ToolContract{Name: "a"})
	if !errors.Is(err, ErrDuplicateTool) {
		t.Fatalf("expected ErrDuplicateTool, got %v", err)
	}
	if err := r.Register(ports.ToolContract{Name: "  "}); err == nil {
		t.Fatalf("expected empty name to be rejected")
	}
}

func TestLookupNamesHallucinatedTool(t *testing.T) {
	r := NewDefault()
	_, err := r.Lookup("hallucinated_tool_xyz")
	if !errors.Is(err, ErrToolNotFound) {
		t.Fatalf("expected ErrToolNotFound, got %v", err)
	}
	var notFound *NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected *NotFoundError, got %T", err)
	}
	if notFound.Name != "hallucinated_tool_xyz" {
		t.Fatalf("unexpected name %q", notFound.Name)
	}
	if !strings.Contains(err.Error(), "read_file") || !strings.Contains(err.Error(), "publish_deploy") {
		t.Fatalf("error should list valid tools: %v", err)
	}

	c, err := r.Lookup("publish_deploy")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !c.RequiresApproval || len(c.ApprovalRoles) != 2 {
		t.Fatalf("publish_deploy must require approval by two roles: %+v", c)
	}
}

func TestValidateInputThroughRegistry(t *testing.T) {
	r := NewDefault()
	res, err := r.ValidateInput("write_file", map[string]any{"path": "../../etc/passwd", "content": "x"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.OK {
		t.Fatalf("path traversal should violate the path pattern")
	}
	res, err = r.ValidateInput("write_file", map[string]any{"path": "site/index.html", "content": "<p>ok</p>"})
	if err != nil || !res.OK {
		t.Fatalf("expected valid args, got %+v err=%v", res, err)
	}
	if _, err := r.ValidateInput("nope", nil); !errors.Is(err, ErrToolNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	out, err := r.ValidateOutput("read_file", map[string]any{"content": "x", "size_bytes": 1, "encoding": "utf-8"})
	if err != nil || !out.OK {
		t.Fatalf("expected valid output, got %+v err=%v", out, err)
	}
}

func TestFilePathsStayInWorkspace(t *testing.T) {
	r := NewDefault()
	cases := map[string]bool{
		"index.html":         true,
		"site/a.b/c.txt":     true,
		"dist/app-v1_2.js":   true,
		"..":                 false,
		"../x":               false,
		"a/../b":             false,
		"a/..":               false,
		"./x":                false,
		".env":               false,
		"/etc/passwd":        false,
		"a//b":               false,
		"a/b/":               false,
		`..\windows\win.ini`: false,
	}
	for path, want := range cases {
		res, err := r.ValidateInput("read_file", map[string]any{"path": path})
		if err != nil {
			t.Fatalf("%q: unexpected error: %v", path, err)
		}
		if res.OK != want {
			t.Fatalf("%q: expected valid=%v, got %+v", path, want, res)
		}
	}
}

func TestInventoryListsFlags(t *testing.T) {
	inv := NewDefault().Inventory()
	for _, name := range NewDefault().List() {
		if !strings.Contains(inv, "- "+name+":") {
			t.Fatalf("inventory missing %s:\n%s", name, inv)
		}
	}
	if !strings.Contains(inv, "publish_deploy: Deploy an artifact to staging or production. Requires human approval. [side-effects, non-idempotent, REQUIRES-APPROVAL]") {
		t.Fatalf("unexpected publish_deploy line:\n%s", inv)
	}
	if !strings.Contains(inv, "rate-limit:10/min") {
		t.Fatalf("expected screenshot rate limit in inventory")
	}
}

func TestCheckReportsBrokenContracts(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(ports.ToolContract{Name: "no_schema"})
	_ = r.Register(ports.ToolContract{Name: "bad_schema", InputSchema: map[string]any{"type": 12}})
	_ = r.Register(ports.ToolContract{Name: "gated", InputSchema: map[string]any{"type": "object"}, RequiresApproval: true})

	problems := r.Check()
	if len(problems) != 3 {
		t.Fatalf("expected 3 problems, got %v", problems)
	}
	if problems[0].Tool != "no_schema" || problems[1].Tool != "bad_schema" || problems[2].Tool != "gated" {
		t.Fatalf("unexpected problems: %v", problems)
	}
}

func TestFromExecutorSkipsToolsWithoutContract(t *testing.T) {
	exec := newFakeExecutor()
	exec.names = append(exec.names, "mystery", "read_file")
	r, err := FromExecutor(exec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Has("mystery") {
		t.Fatalf("tool without contract must not be registered")
	}
	if r.Len() != 2 {
		t.Fatalf("expected read_file and write_file, got %v", r.List())
	}
}
