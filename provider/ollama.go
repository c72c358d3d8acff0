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

// ollamaProvider speaks Ollama's /api/generate endpoint: no auth
// header, a single combined prompt (system is prepended), and a
// non-streaming JSON response when stream=false. Modeled on the same
// request/response adapter shape as the other three protocols, since
// the corpus carries no dedicated local-model provider of its own.
type ollamaProvider struct {
	cfg    Config
	client *http.Client
}

func newOllamaProvider(cfg Config) *ollamaProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &ollamaProvider{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

func (p *ollamaProvider) Name() string       { return p.cfg.Name }
func (p *ollamaProvider) Protocol() Protocol { return ProtocolOllamaGenerate }

type ollamaOptions struct {
	Temperature float32 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaGenerateRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	System  string        `json:"system,omitempty"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options,omitempty"`
}

type ollamaGenerateResponse struct {
	Model           string `json:"model"`
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

func (p *ollamaProvider) Call(ctx context.Context, prompt, system string, opts CallOptions) (CallResult, error) {
	model := chooseModel(opts.Model, p.cfg.Model, "llama3")
	fullPrompt := prompt
	if system != "" {
		fullPrompt = system + "\n\n" + prompt
	}
	body := ollamaGenerateRequest{
		Model:  model,
		Prompt: fullPrompt,
		Stream: false,
		Options: ollamaOptions{
			Temperature: chooseTemperature(opts.Temperature, p.cfg.Temperature),
			NumPredict:  chooseMaxTokens(opts.MaxTokens, p.cfg.MaxTokens),
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return CallResult{}, perr.Wrap(err)
	}

	start := time.Now()
	endpoint := strings.TrimRight(p.cfg.BaseURL, "/") + "/api/generate"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return CallResult{}, perr.Wrap(err)
	}
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

	var parsed ollamaGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return CallResult{}, perr.New(perr.CodeProvider, "malformed response: "+err.Error()).WithRetryable(true)
	}

	return CallResult{
		Text:             parsed.Response,
		Model:            parsed.Model,
		PromptTokens:     parsed.PromptEvalCount,
		CompletionTokens: parsed.EvalCount,
		Latency:          latency,
	}, nil
}

func (p *ollamaProvider) Probe(ctx context.Context) error {
	endpoint := strings.TrimRight(p.cfg.BaseURL, "/") + "/api/tags"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return perr.Wrap(err)
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
