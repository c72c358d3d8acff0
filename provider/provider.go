// Package provider implements the LLM Provider Registry of spec.md
// §4.1: a uniform Call contract over several vendor HTTP protocols,
// with fallback-chain routing and availability probing. The per-vendor
// request/response shapes are grounded on the teacher's
// providers/anthropic and providers/gemini packages, simplified to the
// single-turn prompt/system/response contract this pipeline needs —
// no streaming, tool-calling, or multi-turn history, since the
// Analyzer and Generator only ever issue one-shot completions.
package provider

import (
	"context"
	"time"
)

// Protocol identifies the wire format a Provider speaks. spec.md §4.1
// names these four as the supported adapters.
type Protocol string

const (
	ProtocolOpenAIChat        Protocol = "openai-chat"
	ProtocolAnthropicMessages Protocol = "anthropic-messages"
	ProtocolGoogleGenerate    Protocol = "google-generate"
	ProtocolOllamaGenerate    Protocol = "ollama-generate"
)

// CallOptions tunes a single Call invocation and, for
// Registry.CallWithFallback, the fallback-chain routing described in
// spec.md §4.1.
type CallOptions struct {
	Model       string
	Temperature float32
	MaxTokens   int

	// Provider names the provider to route to when the caller passes
	// an empty explicit chain to CallWithFallback; falls back to the
	// Registry's configured default provider when also empty.
	Provider string

	// UseFallback, when true, extends CallWithFallback's candidate
	// list with every other enabled, non-excluded provider registered
	// on the Registry once the explicit chain is exhausted (spec.md
	// §4.1: "then any remaining enabled providers not listed"). The
	// Go zero value (false) preserves prior behavior of trying only
	// the caller-supplied chain — callers that want the wider
	// spec-mandated fallback set it explicitly.
	UseFallback bool

	// ExcludeProviders names providers CallWithFallback must never
	// try, whether or not they appear in the explicit chain.
	ExcludeProviders []string
}

// CallResult is the uniform shape every protocol adapter normalizes
// its vendor response into.
type CallResult struct {
	Text             string
	Model            string
	PromptTokens     int
	CompletionTokens int
	Latency          time.Duration
}

// Provider is a single configured LLM endpoint. Name identifies it
// within a Registry (e.g. "primary-anthropic"); Protocol determines
// which adapter handles Call/Probe.
type Provider interface {
	Name() string
	Protocol() Protocol

	// Call issues one prompt/system completion request.
	Call(ctx context.Context, prompt, system string, opts CallOptions) (CallResult, error)

	// Probe reports whether the provider is currently reachable and
	// authenticated, without consuming a full completion.
	Probe(ctx context.Context) error
}

// Config describes one provider entry, as loaded by the caller from
// its own configuration surface (internal/config, out of this
// package's scope per spec.md §1's Non-goals on config loading).
type Config struct {
	Name        string
	Protocol    Protocol
	BaseURL     string
	APIKey      string
	Model       string
	Timeout     time.Duration
	RPS         float64 // outbound rate limit, requests per second
	Temperature float32
	MaxTokens   int

	// Enabled marks this entry eligible for CallWithFallback's
	// implicit chain extension (spec.md §3's "enabled flag" on the
	// LLM Provider Config). The Go zero value is false: a provider
	// must be explicitly enabled to be picked up by fallback
	// extension, matching an explicit-opt-in configuration style. A
	// disabled provider can still be called by name directly.
	Enabled bool
}
