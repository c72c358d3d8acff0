package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/reqforge/reqpipe/internal/perr"
)

// anthropicProvider speaks Claude's messages API: x-api-key auth, a
// separate top-level system field, and a required max_tokens.
// Grounded on the teacher's providers/anthropic.ClaudeProvider,
// trimmed to the single-turn text-only case.
type anthropicProvider struct {
	cfg    Config
	client *http.Client
}

func newAnthropicProvider(cfg Config) *anthropicProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.anthropic.com"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &anthropicProvider{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

func (p *anthropicProvider) Name() string       { return p.cfg.Name }
func (p *anthropicProvider) Protocol() Protocol { return ProtocolAnthropicMessages }

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type anthropicMessage struct {
	Role    string             `json:"role"`
	Content []anthropicContent `json:"content"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
	MaxTokens int                `json:"max_tokens"`
	Temp      float32            `json:"temperature,omitempty"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicResponse struct {
	Model   string             `json:"model"`
	Content []anthropicContent `json:"content"`
	Usage   anthropicUsage     `json:"usage"`
}

func (p *anthropicProvider) Call(ctx context.Context, prompt, system string, opts CallOptions) (CallResult, error) {
	model := chooseModel(opts.Model, p.cfg.Model, "claude-3-5-sonnet-20241022")
	body := anthropicRequest{
		Model:  model,
		System: system,
		Messages: []anthropicMessage{
			{Role: "user", Content: []anthropicContent{{Type: "text", Text: prompt}}},
		},
		MaxTokens: chooseMaxTokens(opts.MaxTokens, p.cfg.MaxTokens),
		Temp:      chooseTemperature(opts.Temperature, p.cfg.Temperature),
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return CallResult{}, perr.Wrap(err)
	}

	start := time.Now()
	endpoint := strings.TrimRight(p.cfg.BaseURL, "/") + "/v1/messages"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return CallResult{}, perr.Wrap(err)
	}
	p.buildHeaders(httpReq)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return CallResult{}, perr.New(perr.CodeProvider, err.Error()).WithRetryable(true)
	}
	defer resp.Body.Close()
	latency := time.Since(start)

	if resp.StatusCode >= 400 {
		if resp.StatusCode == 529 {
			return CallResult{}, perr.New(perr.CodeProvider, "provider overloaded").WithRetryable(true)
		}
		return CallResult{}, mapHTTPError(resp.StatusCode, readErrMsg(resp.Body))
	}

	var parsed anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return CallResult{}, perr.New(perr.CodeProvider, "malformed response: "+err.Error()).WithRetryable(true)
	}
	if len(parsed.Content) == 0 {
		return CallResult{}, perr.New(perr.CodeProvider, "malformed response: missing content")
	}

	var text strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return CallResult{
		Text:             text.String(),
		Model:            parsed.Model,
		PromptTokens:     parsed.Usage.InputTokens,
		CompletionTokens: parsed.Usage.OutputTokens,
		Latency:          latency,
	}, nil
}

func (p *anthropicProvider) Probe(ctx context.Context) error {
	endpoint := strings.TrimRight(p.cfg.BaseURL, "/") + "/v1/models"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return perr.Wrap(err)
	}
	p.buildHeaders(req)
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

func (p *anthropicProvider) buildHeaders(req *http.Request) {
	req.Header.Set("x-api-key", p.cfg.APIKey)
	req.Header.Set("anthropic-version", "2023-06-01")
	req.Header.Set("Content-Type", "application/json")
}
