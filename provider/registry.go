package provider

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/reqforge/reqpipe/internal/perr"
)

// Registry holds configured Providers and routes calls across a
// caller-supplied fallback chain, rate-limiting each provider's
// outbound calls independently. Grounded on the teacher's
// llm/factory.Factory, simplified to this pipeline's single-call
// contract (no streaming registry, no per-session routing).
type Registry struct {
	mu              sync.RWMutex
	providers       map[string]Provider
	limiters        map[string]*rate.Limiter
	enabled         map[string]bool
	order           []string // registration order, for deterministic fallback extension
	defaultProvider string
	logger          *zap.Logger
}

// NewRegistry builds a Registry from a set of provider configs,
// constructing the matching protocol adapter for each.
func NewRegistry(configs []Config, logger *zap.Logger) (*Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		providers: make(map[string]Provider),
		limiters:  make(map[string]*rate.Limiter),
		enabled:   make(map[string]bool),
		logger:    logger.With(zap.String("component", "provider_registry")),
	}
	for _, cfg := range configs {
		if err := r.Register(cfg); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds or replaces a provider built from cfg.
func (r *Registry) Register(cfg Config) error {
	var p Provider
	switch cfg.Protocol {
	case ProtocolOpenAIChat:
		p = newOpenAIProvider(cfg)
	case ProtocolAnthropicMessages:
		p = newAnthropicProvider(cfg)
	case ProtocolGoogleGenerate:
		p = newGoogleProvider(cfg)
	case ProtocolOllamaGenerate:
		p = newOllamaProvider(cfg)
	default:
		return perr.New(perr.CodeConfig, fmt.Sprintf("unknown provider protocol %q", cfg.Protocol))
	}

	rps := cfg.RPS
	if rps <= 0 {
		rps = 2
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[cfg.Name]; !exists {
		r.order = append(r.order, cfg.Name)
	}
	r.providers[cfg.Name] = p
	r.limiters[cfg.Name] = rate.NewLimiter(rate.Limit(rps), 1)
	r.enabled[cfg.Name] = cfg.Enabled
	return nil
}

// NewRegistryFromProviders builds a Registry directly from
// already-constructed Providers, each given an unlimited rate limiter
// and marked enabled, bypassing protocol-based adapter construction.
// Useful for tests and for callers supplying a custom Provider
// implementation outside the four built-in protocol adapters.
func NewRegistryFromProviders(providers map[string]Provider, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	sort.Strings(names) // deterministic order; map iteration isn't

	r := &Registry{
		providers: make(map[string]Provider, len(providers)),
		limiters:  make(map[string]*rate.Limiter, len(providers)),
		enabled:   make(map[string]bool, len(providers)),
		order:     names,
		logger:    logger.With(zap.String("component", "provider_registry")),
	}
	for _, name := range names {
		r.providers[name] = providers[name]
		r.limiters[name] = rate.NewLimiter(rate.Inf, 1)
		r.enabled[name] = true
	}
	return r
}

// SetDefaultProvider records the provider CallWithFallback seeds its
// candidate chain with when the caller passes an empty explicit chain
// and opts.Provider is also empty (spec.md §3's registry-level
// `defaultProvider`).
func (r *Registry) SetDefaultProvider(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultProvider = name
}

// Get returns the named provider, or perr.CodeNotFound if absent.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, perr.New(perr.CodeNotFound, fmt.Sprintf("provider %q not registered", name))
	}
	return p, nil
}

// ListAvailable returns the names of every registered provider.
func (r *Registry) ListAvailable() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}

// Call rate-limits and invokes the named provider directly, without
// fallback.
func (r *Registry) Call(ctx context.Context, name, prompt, system string, opts CallOptions) (CallResult, error) {
	p, err := r.Get(name)
	if err != nil {
		return CallResult{}, err
	}
	r.mu.RLock()
	limiter := r.limiters[name]
	r.mu.RUnlock()
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return CallResult{}, perr.Wrap(err)
		}
	}
	return p.Call(ctx, prompt, system, opts)
}

// CallWithFallback tries each provider in the resolved candidate chain
// in order, moving to the next only when the current provider returns
// a retryable error (spec.md §4.1's fallback-chain routing). The
// first non-retryable error or success short-circuits the chain.
//
// The candidate chain is built by buildCandidateChain: the caller's
// explicit chain (or, if empty, opts.Provider / the registry default)
// first, then — when opts.UseFallback is set — any remaining enabled
// providers not already listed, always skipping opts.ExcludeProviders
// (spec.md §4.1).
func (r *Registry) CallWithFallback(ctx context.Context, chain []string, prompt, system string, opts CallOptions) (CallResult, error) {
	candidates := r.buildCandidateChain(chain, opts)
	if len(candidates) == 0 {
		return CallResult{}, perr.New(perr.CodeConfig, "provider fallback chain is empty")
	}

	var lastErr error
	for i, name := range candidates {
		result, err := r.Call(ctx, name, prompt, system, opts)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !perr.IsRetryable(err) {
			return CallResult{}, err
		}
		r.logger.Warn("provider call failed, trying next in fallback chain",
			zap.String("provider", name), zap.Int("position", i), zap.Error(err))
	}
	return CallResult{}, perr.New(perr.CodeProvider, "all providers in fallback chain failed").WithCause(lastErr)
}

// buildCandidateChain assembles the ordered, deduplicated list of
// provider names CallWithFallback tries, per spec.md §4.1: start from
// the caller-supplied chain; if that's empty, seed from opts.Provider
// or the registry's default provider; then, only when opts.UseFallback
// is true, append every other registered provider marked Enabled, in
// registration order, that isn't already a candidate. Names in
// opts.ExcludeProviders are dropped at every stage.
func (r *Registry) buildCandidateChain(chain []string, opts CallOptions) []string {
	excluded := make(map[string]bool, len(opts.ExcludeProviders))
	for _, name := range opts.ExcludeProviders {
		excluded[name] = true
	}

	seed := chain
	if len(seed) == 0 {
		r.mu.RLock()
		start := opts.Provider
		if start == "" {
			start = r.defaultProvider
		}
		r.mu.RUnlock()
		if start != "" {
			seed = []string{start}
		}
	}

	seen := make(map[string]bool, len(seed))
	candidates := make([]string, 0, len(seed))
	for _, name := range seed {
		if excluded[name] || seen[name] {
			continue
		}
		candidates = append(candidates, name)
		seen[name] = true
	}

	if !opts.UseFallback {
		return candidates
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range r.order {
		if !r.enabled[name] || excluded[name] || seen[name] {
			continue
		}
		candidates = append(candidates, name)
		seen[name] = true
	}
	return candidates
}

// Probe checks every registered provider and returns each provider's
// probe result keyed by name; a nil entry means that provider
// responded healthy.
func (r *Registry) Probe(ctx context.Context) map[string]error {
	r.mu.RLock()
	snapshot := make(map[string]Provider, len(r.providers))
	for name, p := range r.providers {
		snapshot[name] = p
	}
	r.mu.RUnlock()

	results := make(map[string]error, len(snapshot))
	for name, p := range snapshot {
		results[name] = p.Probe(ctx)
	}
	return results
}
