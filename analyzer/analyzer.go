package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/reqforge/reqpipe/internal/llmparse"
	"github.com/reqforge/reqpipe/internal/perr"
	"github.com/reqforge/reqpipe/provider"
	"github.com/reqforge/reqpipe/store"
)

// Analyzer maps a requirement to an Analysis via an LLM call, per
// spec.md §4.4.
type Analyzer struct {
	registry *provider.Registry
	// PreferredProvider, if set, is tried before the registry's
	// fallback chain for analysis calls.
	PreferredProvider string
	FallbackChain      []string
}

// New builds an Analyzer around a shared provider registry.
func New(registry *provider.Registry, fallbackChain []string) *Analyzer {
	return &Analyzer{registry: registry, FallbackChain: fallbackChain}
}

const systemPrompt = "You are a senior software architect. Decompose the given requirement into a structured analysis."

// Analyze requests an Analysis for requirementText in the given
// target language, optionally seeded with a code template's content.
func (a *Analyzer) Analyze(ctx context.Context, requirementText, language string, template *store.CodeTemplate) (Analysis, error) {
	prompt := a.buildPrompt(requirementText, language, template)

	chain := a.FallbackChain
	if a.PreferredProvider != "" {
		chain = prepend(a.PreferredProvider, chain)
	}
	if len(chain) == 0 {
		return Analysis{}, perr.New(perr.CodeConfig, "analyzer: no provider configured")
	}

	result, err := a.registry.CallWithFallback(ctx, chain, prompt, systemPrompt, provider.CallOptions{Temperature: 0.15})
	if err != nil {
		return Analysis{}, fmt.Errorf("analyzer: %w", err)
	}

	analysis, err := parseAnalysis(result.Text)
	if err != nil {
		return Analysis{}, fmt.Errorf("analyzer: %w", err)
	}
	return analysis, nil
}

func (a *Analyzer) buildPrompt(requirementText, language string, template *store.CodeTemplate) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Target language: %s\n\n", language)
	fmt.Fprintf(&b, "Requirement:\n%s\n\n", requirementText)
	if template != nil {
		fmt.Fprintf(&b, "Reference template (%s):\n%s\n\n", template.Name, template.Content)
	}
	b.WriteString("Respond with a JSON object with keys: title, functionality, components (array), " +
		"inputsOutputs, dependencies, fileStructure (array of relative paths), implementationStrategy.")
	return b.String()
}

func prepend(head string, rest []string) []string {
	out := make([]string, 0, len(rest)+1)
	out = append(out, head)
	for _, p := range rest {
		if p != head {
			out = append(out, p)
		}
	}
	return out
}

type rawAnalysis struct {
	Title                  string      `json:"title"`
	Functionality          string      `json:"functionality"`
	Components             interface{} `json:"components"`
	InputsOutputs          string      `json:"inputsOutputs"`
	Dependencies           string      `json:"dependencies"`
	FileStructure          interface{} `json:"fileStructure"`
	ImplementationStrategy string      `json:"implementationStrategy"`
}

// parseAnalysis runs the strict-JSON → fenced-JSON → heuristic cascade
// of spec.md §4.4.
func parseAnalysis(text string) (Analysis, error) {
	if raw, ok := llmparse.ExtractJSON(text); ok {
		var parsed rawAnalysis
		if err := json.Unmarshal(raw, &parsed); err == nil {
			return Analysis{
				Title:                  parsed.Title,
				Functionality:          parsed.Functionality,
				Components:             toStringList(parsed.Components),
				InputsOutputs:          parsed.InputsOutputs,
				Dependencies:           parsed.Dependencies,
				FileStructure:          normalizeFileStructure(toStringList(parsed.FileStructure)),
				ImplementationStrategy: parsed.ImplementationStrategy,
			}, nil
		}
	}
	return heuristicAnalysis(text), nil
}

// toStringList accepts either a JSON array or a newline/bullet string
// and normalizes it to a string slice, since LLMs don't reliably
// respect the requested array type.
func toStringList(v interface{}) []string {
	switch t := v.(type) {
	case nil:
		return []string{}
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
		return out
	case string:
		return llmparse.SplitList(t)
	default:
		return []string{}
	}
}

func normalizeFileStructure(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		out = append(out, strings.ReplaceAll(p, "\\", "/"))
	}
	return out
}

var sections = []llmparse.Section{
	llmparse.NewSection("title", `title`),
	llmparse.NewSection("functionality", `main functionality`),
	llmparse.NewSection("components", `components|modules`),
	llmparse.NewSection("inputsOutputs", `inputs and outputs`),
	llmparse.NewSection("dependencies", `dependencies or constraints`),
	llmparse.NewSection("fileStructure", `file structure`),
	llmparse.NewSection("implementationStrategy", `implementation strategy`),
}

func heuristicAnalysis(text string) Analysis {
	values := make(map[string]string, len(sections))
	for _, s := range sections {
		values[s.Name] = s.Extract(text)
	}
	return Analysis{
		Title:                  values["title"],
		Functionality:          values["functionality"],
		Components:             llmparse.SplitList(values["components"]),
		InputsOutputs:          values["inputsOutputs"],
		Dependencies:           values["dependencies"],
		FileStructure:          normalizeFileStructure(llmparse.SplitList(values["fileStructure"])),
		ImplementationStrategy: values["implementationStrategy"],
	}
}
