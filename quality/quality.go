// Package quality implements the Quality Checker of spec.md §4.6: the
// four-step algorithm producing three sub-scores, a weighted
// aggregate, and a pass/fail verdict against the gate.
package quality

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/reqforge/reqpipe/analyzer"
	"github.com/reqforge/reqpipe/generator"
	"github.com/reqforge/reqpipe/internal/llmparse"
	"github.com/reqforge/reqpipe/provider"
	"github.com/reqforge/reqpipe/store"
)

// Checker runs the quality-check algorithm against a provider
// registry.
type Checker struct {
	registry      *provider.Registry
	FallbackChain []string
}

// New builds a Checker around a shared provider registry.
func New(registry *provider.Registry, fallbackChain []string) *Checker {
	return &Checker{registry: registry, FallbackChain: fallbackChain}
}

// Result is the Checker's verdict (spec.md §4.6).
type Result struct {
	Passed                  bool
	CodeQualityScore        float64
	RequirementCoverageScore float64
	SyntaxValidityScore     float64
	Feedback                string
	StaticAnalysis          map[string]any
}

// codeExtensions maps a lower-cased language to its known source
// extensions for the syntax-validity step (spec.md §4.6 step 1).
var codeExtensions = map[string][]string{
	"typescript": {".ts", ".tsx"},
	"javascript": {".js", ".jsx"},
	"python":     {".py"},
	"java":       {".java"},
	"go":         {".go"},
	"rust":       {".rs"},
	"c++":        {".cpp", ".hpp", ".h"},
	"csharp":     {".cs"},
	"ruby":       {".rb"},
	"php":        {".php"},
}

// Check runs all four steps of spec.md §4.6 against artifact and
// returns the verdict, without persisting it — the caller (the
// orchestrator) persists via store.TaskStore.UpsertMetrics.
func (c *Checker) Check(ctx context.Context, a analyzer.Analysis, artifact generator.Artifact, language string) (Result, error) {
	syntaxScore, err := c.syntaxValidity(ctx, artifact, language)
	if err != nil {
		return Result{}, fmt.Errorf("quality: syntax validity: %w", err)
	}

	codeQuality, staticAnalysis, feedback, err := c.codeQuality(ctx, a, artifact)
	if err != nil {
		return Result{}, fmt.Errorf("quality: code quality: %w", err)
	}

	coverage, err := c.requirementCoverage(ctx, a, artifact)
	if err != nil {
		return Result{}, fmt.Errorf("quality: requirement coverage: %w", err)
	}

	scores := store.QualityScores{
		CodeQuality:         codeQuality,
		RequirementCoverage: coverage,
		SyntaxValidity:      syntaxScore,
	}

	return Result{
		Passed:                   scores.Aggregate() >= store.QualityGate,
		CodeQualityScore:         codeQuality,
		RequirementCoverageScore: coverage,
		SyntaxValidityScore:      syntaxScore,
		Feedback:                 feedback,
		StaticAnalysis:           staticAnalysis,
	}, nil
}

// syntaxValidity implements step 1: for every code file matching the
// language's known extensions, ask an LLM validator for a single-word
// verdict and score the valid fraction.
func (c *Checker) syntaxValidity(ctx context.Context, artifact generator.Artifact, language string) (float64, error) {
	extensions := codeExtensions[strings.ToLower(language)]
	var codeFiles []string
	for path := range artifact {
		ext := filepath.Ext(path)
		for _, allowed := range extensions {
			if ext == allowed {
				codeFiles = append(codeFiles, path)
				break
			}
		}
	}
	if len(codeFiles) == 0 {
		return 0, nil
	}

	validCount := 0
	for _, path := range codeFiles {
		prompt := fmt.Sprintf("Respond with exactly one word, \"valid\" or \"invalid\": is the following %s source syntactically valid?\n\n%s", language, artifact[path])
		result, err := c.registry.CallWithFallback(ctx, c.FallbackChain, prompt, "", provider.CallOptions{Temperature: 0})
		if err != nil {
			continue
		}
		if strings.Contains(strings.ToLower(result.Text), "valid") && !strings.Contains(strings.ToLower(result.Text), "invalid") {
			validCount++
		}
	}
	return float64(validCount) / float64(len(codeFiles)) * 100, nil
}

type rubricResponse struct {
	TotalScore float64        `json:"totalScore"`
	Scores     map[string]any `json:"scores"`
	Feedback   string         `json:"feedback"`
	Issues     []string       `json:"issues"`
}

// codeQuality implements step 2: submit a truncated corpus plus the
// Analysis to a rubric-evaluation prompt.
func (c *Checker) codeQuality(ctx context.Context, a analyzer.Analysis, artifact generator.Artifact) (float64, map[string]any, string, error) {
	corpus := truncatedCorpus(artifact, 1000, 8000)
	prompt := fmt.Sprintf(
		"Evaluate the following code against this analysis on a 100-point rubric "+
			"(weights: correctness 30, completeness 25, codeQuality 25, errorHandling 10, security 10). "+
			"Respond with JSON: {\"totalScore\":number,\"scores\":{\"correctness\":n,\"completeness\":n,\"codeQuality\":n,\"errorHandling\":n,\"security\":n},\"feedback\":string,\"issues\":[string]}.\n\n"+
			"Analysis title: %s\nFunctionality: %s\n\nCode:\n%s",
		a.Title, a.Functionality, corpus,
	)
	result, err := c.registry.CallWithFallback(ctx, c.FallbackChain, prompt, "", provider.CallOptions{Temperature: 0})
	if err != nil {
		return 0, nil, "", err
	}

	raw, ok := llmparse.ExtractJSON(result.Text)
	if !ok {
		return 0, nil, "", nil
	}
	var parsed rubricResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return 0, nil, "", nil
	}
	return parsed.TotalScore, parsed.Scores, parsed.Feedback, nil
}

type coverageResponse struct {
	CoverageScore float64 `json:"coverageScore"`
	Reason        string  `json:"reason"`
}

// requirementCoverage implements step 3: a weighted blend of
// file-structure coverage (fraction of required filenames present in
// the artifact) and an LLM-judged functional coverage score.
func (c *Checker) requirementCoverage(ctx context.Context, a analyzer.Analysis, artifact generator.Artifact) (float64, error) {
	fileCoverage := 1.0
	if len(a.FileStructure) > 0 {
		matched := 0
		for _, required := range a.FileStructure {
			requiredName := filepath.Base(required)
			requiredStem := strings.TrimSuffix(requiredName, filepath.Ext(requiredName))
			found := false
			for path := range artifact {
				name := filepath.Base(path)
				if name == requiredName || strings.Contains(name, requiredStem) {
					found = true
					break
				}
			}
			if found {
				matched++
			}
		}
		fileCoverage = float64(matched) / float64(len(a.FileStructure))
	}

	corpus := truncatedCorpus(artifact, 0, 8000)
	prompt := fmt.Sprintf(
		"Given this functionality and components, how well does the following code cover the requirements? "+
			"Respond with JSON: {\"coverageScore\":number 0-100,\"reason\":string}.\n\n"+
			"Functionality: %s\nComponents: %s\n\nCode:\n%s",
		a.Functionality, strings.Join(a.Components, ", "), corpus,
	)
	result, err := c.registry.CallWithFallback(ctx, c.FallbackChain, prompt, "", provider.CallOptions{Temperature: 0})
	functionalCoverage := 0.0
	if err == nil {
		if raw, ok := llmparse.ExtractJSON(result.Text); ok {
			var parsed coverageResponse
			if json.Unmarshal(raw, &parsed) == nil {
				functionalCoverage = parsed.CoverageScore
			}
		}
	}

	return 0.3*fileCoverage*100 + 0.7*functionalCoverage, nil
}

// truncatedCorpus joins artifact files (each capped at perFileCap
// characters, 0 means unlimited) and caps the overall result at
// totalCap characters, per spec.md §4.6's token-budget rules.
func truncatedCorpus(artifact generator.Artifact, perFileCap, totalCap int) string {
	var b strings.Builder
	for path, content := range artifact {
		if perFileCap > 0 && len(content) > perFileCap {
			content = content[:perFileCap]
		}
		fmt.Fprintf(&b, "// %s\n%s\n\n", path, content)
		if b.Len() >= totalCap {
			break
		}
	}
	out := b.String()
	if len(out) > totalCap {
		out = out[:totalCap]
	}
	return out
}
