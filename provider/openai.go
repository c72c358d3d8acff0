package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/reqforge/reqpipe/internal/perr"
)

// openAIProvider speaks the OpenAI chat-completions wire format, also
// used by most OpenAI-compatible self-hosted gateways.
type openAIProvider struct {
	cfg    Config
	client *http.Client
}

func newOpenAIProvider(cfg Config) *openAIProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &openAIProvider{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

func (p *openAIProvider) Name() string       { return p.cfg.Name }
func (p *openAIProvider) Protocol() Protocol { return ProtocolOpenAIChat }

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature float32         `json:"temperature,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
}

type openAIChoice struct {
	Message      openAIMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type openAIChatResponse struct {
	Model   string         `json:"model"`
	Choices []openAIChoice `json:"choices"`
	Usage   openAIUsage    `json:"usage"`
}

type openAIErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (p *openAIProvider) Call(ctx context.Context, prompt, system string, opts CallOptions) (CallResult, error) {
	model := chooseModel(opts.Model, p.cfg.Model, "gpt-4o-mini")
	messages := []openAIMessage{}
	if system != "" {
		messages = append(messages, openAIMessage{Role: "system", Content: system})
	}
	messages = append(messages, openAIMessage{Role: "user", Content: prompt})

	body := openAIChatRequest{
		Model:       model,
		Messages:    messages,
		Temperature: chooseTemperature(opts.Temperature, p.cfg.Temperature),
		MaxTokens:   chooseMaxTokens(opts.MaxTokens, p.cfg.MaxTokens),
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return CallResult{}, perr.Wrap(err)
	}

	start := time.Now()
	endpoint := strings.TrimRight(p.cfg.BaseURL, "/") + "/v1/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return CallResult{}, perr.Wrap(err)
	}
	if p.cfg.APIKey != "" && p.cfg.APIKey != "ollama" {
		httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return CallResult{}, perr.New(perr.CodeProvider, err.Error()).WithRetryable(true).WithCause(err)
	}
	defer resp.Body.Close()
	latency := time.Since(start)

	if resp.StatusCode >= 400 {
		return CallResult{}, mapHTTPError(resp.StatusCode, readErrMsg(resp.Body))
	}

	var parsed openAIChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return CallResult{}, perr.New(perr.CodeProvider, "malformed response: "+err.Error()).WithRetryable(true)
	}
	if len(parsed.Choices) == 0 {
		return CallResult{}, perr.New(perr.CodeProvider, "empty choices in response")
	}

	return CallResult{
		Text:             parsed.Choices[0].Message.Content,
		Model:            parsed.Model,
		PromptTokens:     parsed.Usage.PromptTokens,
		CompletionTokens: parsed.Usage.CompletionTokens,
		Latency:          latency,
	}, nil
}

func (p *openAIProvider) Probe(ctx context.Context) error {
	endpoint := strings.TrimRight(p.cfg.BaseURL, "/") + "/v1/models"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return perr.Wrap(err)
	}
	if p.cfg.APIKey != "" && p.cfg.APIKey != "ollama" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return perr.New(perr.CodeProvider, err.Error()).WithRetryable(true)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return mapHTTPError(resp.StatusCode, readErrMsg(resp.Body))
	}
	return nil
}

func readErrMsg(body io.Reader) string {
	data, _ := io.ReadAll(body)
	var parsed openAIErrorResponse
	if err := json.Unmarshal(data, &parsed); err == nil && parsed.Error.Message != "" {
		return parsed.Error.Message
	}
	return string(data)
}

func mapHTTPError(status int, msg string) error {
	code := perr.CodeProvider
	retryable := status >= 500 || status == http.StatusTooManyRequests
	switch status {
	case http.StatusUnauthorized:
		code = perr.CodeUnauthorized
	case http.StatusForbidden:
		code = perr.CodeForbidden
	case http.StatusTooManyRequests:
		code = perr.CodeTooManyRequests
	case http.StatusBadRequest:
		code = perr.CodeValidation
	}
	return perr.New(code, fmt.Sprintf("provider error (status %d): %s", status, msg)).WithRetryable(retryable)
}

func chooseModel(requested, configured, fallback string) string {
	if requested != "" {
		return requested
	}
	if configured != "" {
		return configured
	}
	return fallback
}

func chooseTemperature(requested, configured float32) float32 {
	if requested != 0 {
		return requested
	}
	return configured
}

func chooseMaxTokens(requested, configured int) int {
	if requested > 0 {
		return requested
	}
	if configured > 0 {
		return configured
	}
	return 4096
}
