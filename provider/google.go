package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/reqforge/reqpipe/internal/perr"
)

// googleProvider speaks Google's generateContent API: x-goog-api-key
// header, systemInstruction as a separate top-level field, and a
// parts-array content shape. Grounded on the teacher's
// providers/gemini.GeminiProvider, trimmed to plain text generation.
type googleProvider struct {
	cfg    Config
	client *http.Client
}

func newGoogleProvider(cfg Config) *googleProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://generativelanguage.googleapis.com"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &googleProvider{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

func (p *googleProvider) Name() string       { return p.cfg.Name }
func (p *googleProvider) Protocol() Protocol { return ProtocolGoogleGenerate }

type googlePart struct {
	Text string `json:"text"`
}

type googleContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []googlePart `json:"parts"`
}

type googleGenerationConfig struct {
	Temperature     float32 `json:"temperature,omitempty"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type googleRequest struct {
	Contents          []googleContent        `json:"contents"`
	SystemInstruction *googleContent         `json:"systemInstruction,omitempty"`
	GenerationConfig  googleGenerationConfig `json:"generationConfig,omitempty"`
}

type googleCandidate struct {
	Content googleContent `json:"content"`
}

type googleUsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
}

type googleResponse struct {
	Candidates    []googleCandidate   `json:"candidates"`
	UsageMetadata googleUsageMetadata `json:"usageMetadata"`
}

func (p *googleProvider) Call(ctx context.Context, prompt, system string, opts CallOptions) (CallResult, error) {
	model := chooseModel(opts.Model, p.cfg.Model, "gemini-1.5-flash")
	body := googleRequest{
		Contents: []googleContent{
			{Role: "user", Parts: []googlePart{{Text: prompt}}},
		},
		GenerationConfig: googleGenerationConfig{
			Temperature:     chooseTemperature(opts.Temperature, p.cfg.Temperature),
			MaxOutputTokens: chooseMaxTokens(opts.MaxTokens, p.cfg.MaxTokens),
		},
	}
	if system != "" {
		body.SystemInstruction = &googleContent{Parts: []googlePart{{Text: system}}}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return CallResult{}, perr.Wrap(err)
	}

	start := time.Now()
	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", strings.TrimRight(p.cfg.BaseURL, "/"), model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return CallResult{}, perr.Wrap(err)
	}
	httpReq.Header.Set("x-goog-api-key", p.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return CallResult{}, perr.New(perr.CodeProvider, err.Error()).WithRetryable(true)
	}
	defer resp.Body.Close()
	latency := time.Since(start)

	if resp.StatusCode >= 400 {
		return CallResult{}, mapHTTPError(resp.StatusCode, readErrMsg(resp.Body))
	}

	var parsed googleResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return CallResult{}, perr.New(perr.CodeProvider, "malformed response: "+err.Error()).WithRetryable(true)
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return CallResult{}, perr.New(perr.CodeProvider, "empty candidates in response")
	}

	var text strings.Builder
	for _, part := range parsed.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}

	return CallResult{
		Text:             text.String(),
		Model:            model,
		PromptTokens:     parsed.UsageMetadata.PromptTokenCount,
		CompletionTokens: parsed.UsageMetadata.CandidatesTokenCount,
		Latency:          latency,
	}, nil
}

func (p *googleProvider) Probe(ctx context.Context) error {
	endpoint := strings.TrimRight(p.cfg.BaseURL, "/") + "/v1beta/models"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return perr.Wrap(err)
	}
	req.Header.Set("x-goog-api-key", p.cfg.APIKey)
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
