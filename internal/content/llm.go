package content

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"autopost/internal/failure"
	"autopost/internal/httpx"
)

// Completion request for a language model.
type Request struct {
	System      string
	Prompt      string
	Model       string // overrides the client default when set
	MaxTokens   int
	Temperature *float64
}

type Completion struct {
	Text  string
	Model string
}

// Client is a non-streaming language-model API.
type Client interface {
	Complete(ctx context.Context, req Request) (Completion, error)
}

// ClientConfig selects and configures a Client.
type ClientConfig struct {
	Provider  string // openai | anthropic | ollama | mock
	Model     string
	APIKey    string
	APIURL    string
	MaxTokens int
	Timeout   time.Duration
}

// NewClient builds the configured client.
func NewClient(cfg ClientConfig) (Client, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "openai":
		return NewOpenAIClient(cfg), nil
	case "anthropic":
		return NewAnthropicClient(cfg), nil
	case "ollama":
		return NewOllamaClient(cfg), nil
	case "", "mock":
		return MockClient{}, nil
	default:
		return nil, fmt.Errorf("unknown content provider %q", cfg.Provider)
	}
}

func classify(err error) error {
	return httpx.Classify(err, failure.Provider, failure.ReasonInvalidTemplate)
}

// emptyCompletion is returned when a 2xx response carried no text.
func emptyCompletion(provider string) error {
	return failure.Provider(failure.Transient, failure.ReasonProviderUnavailable,
		fmt.Errorf("%s: empty completion", provider))
}

// OpenAIClient talks to the chat completions API (and compatible servers).
type OpenAIClient struct {
	client    *http.Client
	apiKey    string
	apiURL    string
	model     string
	maxTokens int
	name      string
}

func NewOpenAIClient(cfg ClientConfig) *OpenAIClient {
	apiURL := strings.TrimRight(cfg.APIURL, "/")
	if apiURL == "" {
		apiURL = "https://api.openai.com/v1"
	}
	return &OpenAIClient{
		client:    httpx.NewClient(cfg.Timeout),
		apiKey:    cfg.APIKey,
		apiURL:    apiURL,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		name:      "openai",
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
}

type openAIResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (c *OpenAIClient) Complete(ctx context.Context, req Request) (Completion, error) {
	model := firstNonEmpty(req.Model, c.model)
	if model == "" {
		return Completion{}, failure.Provider(failure.Permanent, failure.ReasonInvalidTemplate,
			fmt.Errorf("%s: model is required", c.name))
	}
	body := openAIRequest{Model: model, MaxTokens: firstPositive(req.MaxTokens, c.maxTokens), Temperature: req.Temperature}
	if req.System != "" {
		body.Messages = append(body.Messages, chatMessage{Role: "system", Content: req.System})
	}
	body.Messages = append(body.Messages, chatMessage{Role: "user", Content: req.Prompt})

	header := http.Header{}
	if c.apiKey != "" {
		header.Set("Authorization", "Bearer "+c.apiKey)
	}
	var out openAIResponse
	err := httpx.Do(ctx, c.client, httpx.Request{URL: c.apiURL + "/chat/completions", Header: header, JSON: body}, &out)
	if err != nil {
		return Completion{}, classify(fmt.Errorf("%s: %w", c.name, err))
	}
	if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		return Completion{}, emptyCompletion(c.name)
	}
	return Completion{Text: strings.TrimSpace(out.Choices[0].Message.Content), Model: firstNonEmpty(out.Model, model)}, nil
}

// NewOllamaClient uses Ollama's OpenAI-compatible endpoint.
func NewOllamaClient(cfg ClientConfig) *OpenAIClient {
	if strings.TrimSpace(cfg.APIURL) == "" {
		cfg.APIURL = "http://localhost:11434/v1"
	}
	c := NewOpenAIClient(cfg)
	c.name = "ollama"
	return c
}

// AnthropicClient talks to the Messages API.
type AnthropicClient struct {
	client    *http.Client
	apiKey    string
	apiURL    string
	model     string
	maxTokens int
}

const defaultAnthropicMaxTokens = 1024

func NewAnthropicClient(cfg ClientConfig) *AnthropicClient {
	apiURL := strings.TrimRight(cfg.APIURL, "/")
	if apiURL == "" {
		apiURL = "https://api.anthropic.com"
	}
	return &AnthropicClient{
		client:    httpx.NewClient(cfg.Timeout),
		apiKey:    cfg.APIKey,
		apiURL:    apiURL,
		model:     cfg.Model,
		maxTokens: firstPositive(cfg.MaxTokens, defaultAnthropicMaxTokens),
	}
}

type anthropicRequest struct {
	Model       string        `json:"model"`
	MaxTokens   int           `json:"max_tokens"`
	System      string        `json:"system,omitempty"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
}

type anthropicResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

func (c *AnthropicClient) Complete(ctx context.Context, req Request) (Completion, error) {
	model := firstNonEmpty(req.Model, c.model)
	if model == "" {
		return Completion{}, failure.Provider(failure.Permanent, failure.ReasonInvalidTemplate,
			fmt.Errorf("anthropic: model is required"))
	}
	body := anthropicRequest{
		Model:       model,
		MaxTokens:   firstPositive(req.MaxTokens, c.maxTokens),
		System:      req.System,
		Messages:    []chatMessage{{Role: "user", Content: req.Prompt}},
		Temperature: req.Temperature,
	}
	header := http.Header{}
	if c.apiKey != "" {
		header.Set("X-API-Key", c.apiKey)
	}
	header.Set("Anthropic-Version", "2023-06-01")

	var out anthropicResponse
	err := httpx.Do(ctx, c.client, httpx.Request{URL: c.apiURL + "/v1/messages", Header: header, JSON: body}, &out)
	if err != nil {
		return Completion{}, classify(fmt.Errorf("anthropic: %w", err))
	}
	var sb strings.Builder
	for _, block := range out.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return Completion{}, emptyCompletion("anthropic")
	}
	return Completion{Text: text, Model: firstNonEmpty(out.Model, model)}, nil
}

// MockClient echoes the prompt. Used for dry runs and tests.
type MockClient struct{}

func (MockClient) Complete(ctx context.Context, req Request) (Completion, error) {
	if err := ctx.Err(); err != nil {
		return Completion{}, err
	}
	return Completion{Text: "[mock output for prompt: " + strings.TrimSpace(req.Prompt) + "]", Model: "mock"}, nil
}

func firstNonEmpty(vs ...string) string {
	for _, v := range vs {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func firstPositive(vs ...int) int {
	for _, v := range vs {
		if v > 0 {
			return v
		}
	}
	return 0
}
