package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"republic/internal/agent/ports"
	"republic/internal/httpclient"
	"republic/internal/logging"
)

const (
	defaultPlanMaxTokens   = 2048
	defaultVerifyMaxTokens = 1024
	defaultResponseLimit   = 4 << 20
	defaultHTTPTimeout     = 120 * time.Second
)

// Provider base URLs and default models.
var providerDefaults = map[string]struct {
	baseURL string
	model   string
}{
	"anthropic":  {baseURL: "https://api.anthropic.com/v1", model: "claude-sonnet-4-20250514"},
	"openai":     {baseURL: "https://api.openai.com/v1", model: "gpt-4o"},
	"openrouter": {baseURL: "https://openrouter.ai/api/v1", model: "anthropic/claude-sonnet-4-20250514"},
	"ollama":     {baseURL: "http://localhost:11434/v1", model: "llama3.1"},
}

// LLMConfig configures an LLM oracle.
type LLMConfig struct {
	Provider    string
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	Headers     map[string]string
	Pricing     Pricing
	// Inventory renders tool descriptions for the plan prompt. When nil
	// only tool names are listed.
	Inventory func(tools []string) string

	HTTPClient *http.Client
	Logger     logging.Logger
}

// LLM asks a chat-completions endpoint to plan and verify. It speaks the
// OpenAI-compatible wire format, which every supported provider accepts.
type LLM struct {
	provider    string
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	headers     map[string]string
	pricing     Pricing
	inventory   func([]string) string
	client      *http.Client
	logger      logging.Logger
}

// ErrMissingAPIKey is returned when a hosted provider has no key.
var ErrMissingAPIKey = errors.New("oracle: api key is required")

// NewLLM builds an LLM oracle.
func NewLLM(config LLMConfig) (*LLM, error) {
	provider := strings.ToLower(strings.TrimSpace(config.Provider))
	if provider == "" {
		provider = "anthropic"
	}
	defaults, known := providerDefaults[provider]
	baseURL := config.BaseURL
	if baseURL == "" {
		if !known {
			return nil, fmt.Errorf("oracle: unknown provider %q and no base url", config.Provider)
		}
		baseURL = defaults.baseURL
	}
	model := config.Model
	if model == "" {
		model = defaults.model
	}
	if model == "" {
		return nil, fmt.Errorf("oracle: model is required for provider %q", provider)
	}
	if config.APIKey == "" && provider != "ollama" {
		return nil, fmt.Errorf("%w for provider %q", ErrMissingAPIKey, provider)
	}

	logger := config.Logger
	if logging.IsNil(logger) {
		logger = logging.NewComponentLogger("oracle")
	}
	client := config.HTTPClient
	if client == nil {
		client = httpclient.NewGuarded(defaultHTTPTimeout, logger, "oracle-"+provider)
	}
	pricing := config.Pricing
	if pricing == nil {
		pricing = DefaultPricing()
	}
	if provider == "ollama" && config.Pricing == nil {
		pricing = Pricing{model: {}}
	}

	return &LLM{
		provider:    provider,
		baseURL:     strings.TrimRight(baseURL, "/"),
		apiKey:      config.APIKey,
		model:       model,
		temperature: config.Temperature,
		headers:     config.Headers,
		pricing:     pricing,
		inventory:   config.Inventory,
		client:      client,
		logger:      logger,
	}, nil
}

// Model returns the model name sent with every request.
func (l *LLM) Model() string {
	return l.model
}

// Plan implements ports.Oracle.
func (l *LLM) Plan(ctx context.Context, req ports.PlanRequest) (ports.Plan, error) {
	inventory := ""
	if l.inventory != nil {
		inventory = l.inventory(req.Tools)
	}
	text, usage, err := l.complete(ctx, "plan", planSystemPrompt, planMessage(req, inventory), defaultPlanMaxTokens)
	if err != nil {
		return ports.Plan{}, err
	}
	var reply planReply
	if err := decodeReply(text, "plan", &reply); err != nil {
		l.logger.Error("[oracle:plan] unparseable reply: %s", text)
		return ports.Plan{}, err
	}
	plan := reply.plan()
	plan.Usage = usage
	return plan, nil
}

// Verify implements ports.Oracle.
func (l *LLM) Verify(ctx context.Context, req ports.VerifyRequest) (ports.Verification, error) {
	text, usage, err := l.complete(ctx, "verify", verifySystemPrompt, verifyMessage(req), defaultVerifyMaxTokens)
	if err != nil {
		return ports.Verification{}, err
	}
	var reply verifyReply
	if err := decodeReply(text, "verify", &reply); err != nil {
		l.logger.Error("[oracle:verify] unparseable reply: %s", text)
		return ports.Verification{}, err
	}
	verification := reply.verification()
	verification.Usage = usage
	return verification, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (l *LLM) complete(ctx context.Context, label, system, user string, maxTokens int) (string, ports.Usage, error) {
	body, err := json.Marshal(chatRequest{
		Model: l.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		MaxTokens:   maxTokens,
		Temperature: l.temperature,
	})
	if err != nil {
		return "", ports.Usage{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", ports.Usage{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if l.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+l.apiKey)
	}
	for k, v := range l.headers {
		httpReq.Header.Set(k, v)
	}

	l.logger.Debug("[oracle:%s] POST %s/chat/completions model=%s", label, l.baseURL, l.model)
	resp, err := l.client.Do(httpReq)
	if err != nil {
		return "", ports.Usage{}, fmt.Errorf("%s request: %w", label, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := httpclient.ReadBody(resp.Body, defaultResponseLimit)
	if err != nil {
		return "", ports.Usage{}, fmt.Errorf("read %s response: %w", label, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", ports.Usage{}, fmt.Errorf("%s: %w", label, httpclient.StatusError(resp, respBody))
	}

	var decoded chatResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return "", ports.Usage{}, fmt.Errorf("decode %s response: %w", label, err)
	}
	if decoded.Error != nil {
		return "", ports.Usage{}, fmt.Errorf("%s: provider error %s: %s", label, decoded.Error.Type, decoded.Error.Message)
	}
	if len(decoded.Choices) == 0 {
		return "", ports.Usage{}, fmt.Errorf("%w: %s response has no choices", ErrInvalidReply, label)
	}

	usage := ports.Usage{
		InputTokens:  decoded.Usage.PromptTokens,
		OutputTokens: decoded.Usage.CompletionTokens,
	}
	usage.CostUSD = l.pricing.Cost(l.model, usage.InputTokens, usage.OutputTokens)
	l.logger.Info("[oracle:%s] %d in / %d out, $%.6f", label, usage.InputTokens, usage.OutputTokens, usage.CostUSD)

	return decoded.Choices[0].Message.Content, usage, nil
}

var _ ports.Oracle = (*LLM)(nil)
