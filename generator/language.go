package generator

import "strings"

// languageContext gives per-language style guidance injected into the
// Generator prompt (spec.md §4.5). Extended (expansion) beyond the
// spec's minimum four to cover every store.TargetLanguage value so the
// Generator never falls through to the generic fallback for a task
// language the Task Store itself considers valid.
var languageContext = map[string]string{
	"typescript": "Use TypeScript with strict typing, ES modules, and idiomatic async/await.",
	"javascript": "Use modern JavaScript (ES2020+), CommonJS or ES modules consistent with the rest of the project.",
	"python":     "Use Python 3 with type hints (PEP 484), PEP 8 style, and standard library first.",
	"java":       "Use Java 17+, standard package layout, and explicit access modifiers.",
	"csharp":     "Use C# with nullable reference types enabled and standard .NET naming conventions.",
	"go":         "Use idiomatic Go: explicit error returns, small interfaces, gofmt-standard layout.",
	"ruby":       "Use idiomatic Ruby with RSpec-friendly structure and standard Ruby style guide conventions.",
	"php":        "Use PHP 8+ with strict_types, PSR-12 style, and namespaced classes.",
}

const genericLanguageContext = "Follow standard conventions for the target language."

// LanguageContext returns the style guidance for language, matched
// case-insensitively, or the generic fallback for unknown languages.
func LanguageContext(language string) string {
	if ctx, ok := languageContext[strings.ToLower(language)]; ok {
		return ctx
	}
	return genericLanguageContext
}

// defaultOutputPath maps a target language to its default output
// sub-path, used when the Analysis's file-structure is empty
// (spec.md §4.5).
var defaultOutputPath = map[string]string{
	"typescript": "src",
	"javascript": "src",
	"python":     "src",
	"rust":       "src",
	"csharp":     "src",
	"php":        "src",
	"java":       "src/main/java",
	"go":         "pkg",
	"ruby":       "lib",
}

// DefaultOutputPath returns the per-language default output sub-path,
// or "src" for any language absent from the table.
func DefaultOutputPath(language string) string {
	if path, ok := defaultOutputPath[strings.ToLower(language)]; ok {
		return path
	}
	return "src"
}
