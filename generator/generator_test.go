package generator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/reqforge/reqpipe/analyzer"
)

func TestNewArtifactCleansAndDropsInvalidPaths(t *testing.T) {
	raw := map[string]string{
		"./src/main.go":      "package main",
		`src\utils\helper.go`: "package utils",
		"../escape.go":       "malicious",
		"":                   "empty path",
		"/leading/slash.go":  "content",
	}
	artifact := NewArtifact(raw)

	assert.Equal(t, "package main", artifact["src/main.go"])
	assert.Equal(t, "package utils", artifact["src/utils/helper.go"])
	assert.Equal(t, "content", artifact["leading/slash.go"])
	assert.NotContains(t, artifact, "../escape.go")
	assert.Len(t, artifact, 3)
}

func TestParseArtifactStrictJSON(t *testing.T) {
	text := `{"src/main.go": "package main\n\nfunc main() {}", "src/util.go": "package main"}`
	artifact := parseArtifact(text)
	assert.Equal(t, 2, artifact.FileCount())
	assert.Contains(t, artifact["src/main.go"], "package main")
}

func TestParseArtifactPathHeaderFences(t *testing.T) {
	text := "```go\nsrc/main.go\npackage main\n\nfunc main() {}\n```\n\n" +
		"```go\nsrc/util.go\npackage main\n```"
	artifact := parseArtifact(text)
	assert.Equal(t, 2, artifact.FileCount())
	assert.Contains(t, artifact, "src/main.go")
	assert.Contains(t, artifact, "src/util.go")
}

func TestParseArtifactFileHeaderBlocks(t *testing.T) {
	text := "### src/main.go\n```go\npackage main\n```\n\n### src/util.go\n```go\npackage main\n```"
	artifact := parseArtifact(text)
	assert.Equal(t, 2, artifact.FileCount())
}

func TestParseArtifactEmptyWhenUnparseable(t *testing.T) {
	artifact := parseArtifact("no structured content here at all")
	assert.Equal(t, 0, artifact.FileCount())
}

func TestDefaultOutputPathForUsesModeOfFirstSegment(t *testing.T) {
	a := analyzer.Analysis{FileStructure: []string{"src/a.go", "src/b.go", "pkg/c.go"}}
	assert.Equal(t, "src", DefaultOutputPathFor(a, "go"))
}

func TestDefaultOutputPathForFallsBackToLanguageDefault(t *testing.T) {
	a := analyzer.Analysis{}
	assert.Equal(t, "pkg", DefaultOutputPathFor(a, "go"))
	assert.Equal(t, "src/main/java", DefaultOutputPathFor(a, "java"))
}

func TestLanguageContextCaseInsensitiveWithFallback(t *testing.T) {
	assert.NotEmpty(t, LanguageContext("Go"))
	assert.Equal(t, genericLanguageContext, LanguageContext("cobol"))
}

func TestBuildPromptIncludesComponentsAndFileStructure(t *testing.T) {
	g := New(nil, nil)
	a := analyzer.Analysis{Title: "Thing", Components: []string{"api"}, FileStructure: []string{"src/x.go"}}
	prompt := g.buildPrompt(a, "go")
	assert.Contains(t, prompt, "Thing")
	assert.Contains(t, prompt, "- api")
	assert.Contains(t, prompt, "- src/x.go")
}
