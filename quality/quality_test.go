package quality

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reqforge/reqpipe/analyzer"
	"github.com/reqforge/reqpipe/generator"
	"github.com/reqforge/reqpipe/provider"
)

// scriptedProvider returns whatever fn picks for the prompt (fn keys
// on a substring of it), so a single fake can stand in for the
// syntax/code-quality/coverage calls the Checker issues in sequence.
type scriptedProvider struct {
	name string
	fn   func(prompt string) string
}

func (p *scriptedProvider) Name() string                  { return p.name }
func (p *scriptedProvider) Protocol() provider.Protocol   { return provider.ProtocolOpenAIChat }
func (p *scriptedProvider) Probe(ctx context.Context) error { return nil }
func (p *scriptedProvider) Call(ctx context.Context, prompt, system string, opts provider.CallOptions) (provider.CallResult, error) {
	return provider.CallResult{Text: p.fn(prompt)}, nil
}

func newTestChecker(t *testing.T, fn func(prompt string) string) *Checker {
	t.Helper()
	reg := provider.NewRegistryFromProviders(map[string]provider.Provider{
		"fake": &scriptedProvider{name: "fake", fn: fn},
	}, nil)
	return New(reg, []string{"fake"})
}

func TestCheckPassingScoresAggregateAboveGate(t *testing.T) {
	c := newTestChecker(t, func(prompt string) string {
		switch {
		case strings.Contains(prompt, "syntactically valid"):
			return "valid"
		case strings.Contains(prompt, "rubric"):
			return `{"totalScore":95,"scores":{"correctness":30},"feedback":"solid","issues":[]}`
		default:
			return `{"coverageScore":90,"reason":"covers everything"}`
		}
	})

	a := analyzer.Analysis{Title: "t", Functionality: "f", FileStructure: []string{"src/main.go"}}
	artifact := generator.NewArtifact(map[string]string{"src/main.go": "package main\nfunc main() {}"})

	result, err := c.Check(context.Background(), a, artifact, "go")
	require.NoError(t, err)
	assert.True(t, result.Passed)
	assert.Equal(t, 100.0, result.SyntaxValidityScore)
	assert.Equal(t, 95.0, result.CodeQualityScore)
}

func TestCheckFailingScoresBelowGate(t *testing.T) {
	c := newTestChecker(t, func(prompt string) string {
		switch {
		case strings.Contains(prompt, "syntactically valid"):
			return "invalid"
		case strings.Contains(prompt, "rubric"):
			return `{"totalScore":40,"scores":{},"feedback":"needs work","issues":["no error handling"]}`
		default:
			return `{"coverageScore":30,"reason":"missing pieces"}`
		}
	})

	a := analyzer.Analysis{Title: "t", Functionality: "f"}
	artifact := generator.NewArtifact(map[string]string{"src/main.go": "package main"})

	result, err := c.Check(context.Background(), a, artifact, "go")
	require.NoError(t, err)
	assert.False(t, result.Passed)
}

func TestSyntaxValidityReturnsZeroForNoCodeFiles(t *testing.T) {
	c := newTestChecker(t, func(prompt string) string { return "valid" })
	artifact := generator.NewArtifact(map[string]string{"README.md": "docs"})

	score, err := c.syntaxValidity(context.Background(), artifact, "go")
	require.NoError(t, err)
	assert.Equal(t, 0.0, score)
}

func TestRequirementCoverageFileCoverageWithNoFileStructure(t *testing.T) {
	c := newTestChecker(t, func(prompt string) string {
		return `{"coverageScore":50,"reason":"ok"}`
	})
	a := analyzer.Analysis{}
	artifact := generator.NewArtifact(map[string]string{"src/main.go": "package main"})

	score, err := c.requirementCoverage(context.Background(), a, artifact)
	require.NoError(t, err)
	// fileCoverage defaults to 1.0 when FileStructure is empty: 0.3*100 + 0.7*50
	assert.InDelta(t, 65.0, score, 0.0001)
}

func TestTruncatedCorpusCapsPerFileAndTotal(t *testing.T) {
	artifact := generator.Artifact{"a.go": "0123456789"}
	out := truncatedCorpus(artifact, 4, 1000)
	assert.Contains(t, out, "0123")
	assert.NotContains(t, out, "456789")
}
