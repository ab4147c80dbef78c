package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"republic/internal/agent/ports"
	agenterrors "republic/internal/errors"
	"republic/internal/logging"
)

type capturedRequest struct {
	Auth string
	Body chatRequest
}

func chatServer(t *testing.T, reply string, status int, seen *[]capturedRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		var body chatRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if seen != nil {
			*seen = append(*seen, capturedRequest{Auth: r.Header.Get("Authorization"), Body: body})
		}
		if status != http.StatusOK {
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"type":"rate_limit","message":"slow down"}}`))
			return
		}
		content, _ := json.Marshal(reply)
		_, _ = fmt.Fprintf(w, `{"choices":[{"message":{"content":%s},"finish_reason":"stop"}],"usage":{"prompt_tokens":1200,"completion_tokens":300}}`, content)
	}))
}

func newTestLLM(t *testing.T, url string) *LLM {
	t.Helper()
	llm, err := NewLLM(LLMConfig{
		Provider: "anthropic",
		BaseURL:  url,
		APIKey:   "sk-test",
		Logger:   logging.Nop(),
	})
	require.NoError(t, err)
	return llm
}

func TestLLMPlanParsesReplyAndCost(t *testing.T) {
	var seen []capturedRequest
	reply := "```json\n{\"nextAction\":{\"tool\":\"write_file\",\"args\":{\"path\":\"index.html\",\"content\":\"<h1>x</h1>\"},\"reasoning\":\"scaffold\"},\"goalComplete\":false,\"confidence\":0.7,\"reasoning\":\"start\"}\n```"
	srv := chatServer(t, reply, http.StatusOK, &seen)
	defer srv.Close()

	llm := newTestLLM(t, srv.URL)
	plan, err := llm.Plan(context.Background(), ports.PlanRequest{
		Goal:         "Build a landing page",
		Memory:       "[INIT] Goal: Build a landing page",
		Tools:        []string{"write_file", "read_file"},
		Constitution: "Be kind",
	})
	require.NoError(t, err)

	assert.Equal(t, "write_file", plan.NextAction.Tool)
	assert.Equal(t, "index.html", plan.NextAction.Args["path"])
	assert.Equal(t, 0.7, plan.Confidence)
	assert.Equal(t, 1200, plan.Usage.InputTokens)
	assert.InDelta(t, (1200*3.0+300*15.0)/1e6, plan.Usage.CostUSD, 1e-12)

	require.Len(t, seen, 1)
	assert.Equal(t, "Bearer sk-test", seen[0].Auth)
	assert.Equal(t, "claude-sonnet-4-20250514", seen[0].Body.Model)
	assert.Equal(t, defaultPlanMaxTokens, seen[0].Body.MaxTokens)
	require.Len(t, seen[0].Body.Messages, 2)
	user := seen[0].Body.Messages[1].Content
	assert.Contains(t, user, "## GOAL\nBuild a landing page")
	assert.Contains(t, user, "## AVAILABLE TOOLS\nwrite_file, read_file")
	assert.Contains(t, user, "## CONSTITUTION\nBe kind")
}

func TestLLMPlanUsesInventory(t *testing.T) {
	var seen []capturedRequest
	srv := chatServer(t, `{"nextAction":{"tool":"noop","args":{}},"goalComplete":true}`, http.StatusOK, &seen)
	defer srv.Close()

	llm, err := NewLLM(LLMConfig{
		BaseURL:   srv.URL,
		APIKey:    "k",
		Logger:    logging.Nop(),
		Inventory: func(tools []string) string { return "- " + strings.Join(tools, "\n- ") },
	})
	require.NoError(t, err)
	plan, err := llm.Plan(context.Background(), ports.PlanRequest{Tools: []string{"read_file"}})
	require.NoError(t, err)
	assert.True(t, plan.GoalComplete)
	assert.Contains(t, seen[0].Body.Messages[1].Content, "## AVAILABLE TOOLS\n- read_file")
}

func TestLLMVerifyRepairsMalformedJSON(t *testing.T) {
	var seen []capturedRequest
	srv := chatServer(t, `Here you go: {"passed": true, "goalComplete": true, "reason": "all sections present", "confidence": 0.9,}`, http.StatusOK, &seen)
	defer srv.Close()

	llm := newTestLLM(t, srv.URL)
	v, err := llm.Verify(context.Background(), ports.VerifyRequest{
		Goal:   "g",
		Action: ports.Action{Tool: "write_file", Args: map[string]any{"path": "a"}},
		Result: ports.OK("write_file", map[string]any{"bytes_written": 3}, 0),
	})
	require.NoError(t, err)
	assert.True(t, v.Passed)
	assert.True(t, v.GoalComplete)
	assert.Equal(t, "all sections present", v.Reason)
	assert.Greater(t, v.Usage.CostUSD, 0.0)

	user := seen[0].Body.Messages[1].Content
	assert.Contains(t, user, "Tool: write_file")
	assert.Contains(t, user, "Reasoning: none")
	assert.Contains(t, user, `Data: {"bytes_written":3}`)
}

func TestLLMRejectsGarbage(t *testing.T) {
	srv := chatServer(t, "I cannot help with that.", http.StatusOK, nil)
	defer srv.Close()

	_, err := newTestLLM(t, srv.URL).Plan(context.Background(), ports.PlanRequest{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidReply), "got %v", err)
}

func TestLLMMapsHTTPErrors(t *testing.T) {
	srv := chatServer(t, "", http.StatusTooManyRequests, nil)
	defer srv.Close()

	_, err := newTestLLM(t, srv.URL).Plan(context.Background(), ports.PlanRequest{})
	require.Error(t, err)
	var statusErr *agenterrors.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusTooManyRequests, statusErr.StatusCode)
	assert.Equal(t, "7s", statusErr.RetryAfter.String())
	assert.Equal(t, agenterrors.CodeRateLimited, agenterrors.CodeOf(err))
}

func TestNewLLMValidatesConfig(t *testing.T) {
	_, err := NewLLM(LLMConfig{Provider: "openai"})
	assert.ErrorIs(t, err, ErrMissingAPIKey)

	_, err = NewLLM(LLMConfig{Provider: "custom", APIKey: "k"})
	assert.Error(t, err)

	local, err := NewLLM(LLMConfig{Provider: "ollama", Logger: logging.Nop()})
	require.NoError(t, err)
	assert.Equal(t, "llama3.1", local.Model())
	assert.Zero(t, local.pricing.Cost(local.Model(), 1000, 1000))
}

func TestStripFences(t *testing.T) {
	cases := map[string]string{
		"```json\n{\"a\":1}\n```": `{"a":1}`,
		"```\n{\"a\":1}```":       `{"a":1}`,
		"Sure! {\"a\":1} Thanks":  `{"a":1}`,
		`{"a":1}`:                 `{"a":1}`,
	}
	for in, want := range cases {
		if got := stripFences(in); got != want {
			t.Fatalf("stripFences(%q) = %q, want %q", in, got, want)
		}
	}
}
