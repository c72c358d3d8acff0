package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/reqforge/reqpipe/analyzer"
	"github.com/reqforge/reqpipe/internal/llmparse"
	"github.com/reqforge/reqpipe/internal/perr"
	"github.com/reqforge/reqpipe/provider"
)

// Generator maps an Analysis to a Generated Artifact via an LLM call,
// per spec.md §4.5.
type Generator struct {
	registry      *provider.Registry
	FallbackChain []string
	// MaxParallelProviders bounds the multi-model comparison fan-out
	// (default 3).
	MaxParallelProviders int
}

// New builds a Generator around a shared provider registry.
func New(registry *provider.Registry, fallbackChain []string) *Generator {
	return &Generator{registry: registry, FallbackChain: fallbackChain, MaxParallelProviders: 3}
}

const generatorSystemPrompt = "You are a senior software engineer. Produce production-quality source files for the given analysis."

// Generate produces a single Artifact using the Generator's fallback
// chain.
func (g *Generator) Generate(ctx context.Context, analysis analyzer.Analysis, language string) (Artifact, error) {
	if len(g.FallbackChain) == 0 {
		return nil, perr.New(perr.CodeConfig, "generator: no provider configured")
	}
	prompt := g.buildPrompt(analysis, language)
	result, err := g.registry.CallWithFallback(ctx, g.FallbackChain, prompt, generatorSystemPrompt, provider.CallOptions{Temperature: 0.2})
	if err != nil {
		return nil, fmt.Errorf("generator: %w", err)
	}
	return parseArtifact(result.Text), nil
}

// ComparisonResult pairs one provider's generated artifact with the
// provider name that produced it, for multi-model comparison mode.
type ComparisonResult struct {
	Provider string
	Artifact Artifact
}

// GenerateComparison runs the Generator prompt against every provider
// in providers (bounded by MaxParallelProviders), per spec.md §4.5's
// multi-model comparison mode and §9's resolution of the Open Question
// ("iterate the configured providers, skipping disabled ones" —
// disabled providers are simply absent from the providers slice the
// caller supplies). The artifact with the greatest file count is
// returned as best; the rest are returned as comparison candidates in
// input order, excluding empty artifacts and failed calls.
func (g *Generator) GenerateComparison(ctx context.Context, analysis analyzer.Analysis, language string, providers []string) (best ComparisonResult, candidates []ComparisonResult, err error) {
	if len(providers) == 0 {
		return ComparisonResult{}, nil, perr.New(perr.CodeConfig, "generator: no providers configured for comparison mode")
	}
	prompt := g.buildPrompt(analysis, language)

	limit := g.MaxParallelProviders
	if limit <= 0 {
		limit = 3
	}

	results := make([]ComparisonResult, len(providers))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(limit)

	for i, name := range providers {
		i, name := i, name
		group.Go(func() error {
			result, callErr := g.registry.Call(groupCtx, name, prompt, generatorSystemPrompt, provider.CallOptions{Temperature: 0.2})
			if callErr != nil {
				return nil // a single provider's failure does not abort the comparison
			}
			results[i] = ComparisonResult{Provider: name, Artifact: parseArtifact(result.Text)}
			return nil
		})
	}
	if waitErr := group.Wait(); waitErr != nil {
		return ComparisonResult{}, nil, perr.Wrap(waitErr)
	}

	var nonEmpty []ComparisonResult
	for _, r := range results {
		if r.Provider != "" && len(r.Artifact) > 0 {
			nonEmpty = append(nonEmpty, r)
		}
	}
	if len(nonEmpty) == 0 {
		return ComparisonResult{}, nil, perr.New(perr.CodeProvider, "generator: every provider failed in comparison mode")
	}

	best = nonEmpty[0]
	for _, r := range nonEmpty[1:] {
		if r.Artifact.FileCount() > best.Artifact.FileCount() {
			best = r
		}
	}
	for _, r := range nonEmpty {
		if r.Provider != best.Provider {
			candidates = append(candidates, r)
		}
	}
	return best, candidates, nil
}

func (g *Generator) buildPrompt(a analyzer.Analysis, language string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\n", a.Title)
	fmt.Fprintf(&b, "Functionality: %s\n", a.Functionality)
	fmt.Fprintf(&b, "Components:\n")
	for _, c := range a.Components {
		fmt.Fprintf(&b, "- %s\n", c)
	}
	fmt.Fprintf(&b, "Inputs/Outputs: %s\n", a.InputsOutputs)
	fmt.Fprintf(&b, "Dependencies: %s\n", a.Dependencies)
	fmt.Fprintf(&b, "File structure:\n")
	for _, f := range a.FileStructure {
		fmt.Fprintf(&b, "- %s\n", f)
	}
	fmt.Fprintf(&b, "\nTarget language: %s\n%s\n\n", language, LanguageContext(language))
	b.WriteString("Respond with a JSON object whose keys are relative file paths and whose values are complete file contents.")
	return b.String()
}

// parseArtifact runs the strict-JSON → fenced-JSON → heuristic cascade
// of spec.md §4.5, including its two additional fallbacks.
func parseArtifact(text string) Artifact {
	if raw, ok := llmparse.ExtractJSON(text); ok {
		var files map[string]string
		if err := json.Unmarshal(raw, &files); err == nil && len(files) > 0 {
			return NewArtifact(files)
		}
	}
	if files := llmparse.PathHeaderFences(text); len(files) > 0 {
		return NewArtifact(files)
	}
	if files := llmparse.FileHeaderBlocks(text); len(files) > 0 {
		return NewArtifact(files)
	}
	return NewArtifact(nil)
}

// DefaultOutputPathFor derives the output sub-path for a task from the
// Analysis's file-structure: the mode (most common value) of the first
// path segment across all listed paths, or the per-language default
// when file-structure is empty (spec.md §4.5).
func DefaultOutputPathFor(a analyzer.Analysis, language string) string {
	if len(a.FileStructure) == 0 {
		return DefaultOutputPath(language)
	}
	counts := make(map[string]int)
	order := make([]string, 0)
	for _, path := range a.FileStructure {
		segment := strings.SplitN(strings.TrimPrefix(path, "/"), "/", 2)[0]
		if segment == "" {
			continue
		}
		if counts[segment] == 0 {
			order = append(order, segment)
		}
		counts[segment]++
	}
	if len(order) == 0 {
		return DefaultOutputPath(language)
	}
	best := order[0]
	for _, segment := range order[1:] {
		if counts[segment] > counts[best] {
			best = segment
		}
	}
	return best
}
