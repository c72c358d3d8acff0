// Package generator implements the Generator of spec.md §4.5: it
// turns an analyzer.Analysis plus a target language into a Generated
// Artifact (a relative-path → content mapping) via an LLM call, with
// the same parsing cascade as the analyzer plus code-fence and
// header-pairing fallbacks, and an opt-in multi-model comparison mode.
package generator

import (
	"strings"

	"github.com/reqforge/reqpipe/internal/perr"
)

// Artifact is the path → content mapping produced by the Generator
// (spec.md §3). Constructed only via NewArtifact so every instance in
// circulation already satisfies the path invariants.
type Artifact map[string]string

// NewArtifact validates raw and returns a clean Artifact: every key is
// a non-empty relative forward-slash path with no ".." segment;
// invalid entries are dropped rather than rejecting the whole
// artifact, since a single malformed path from the LLM should not
// discard an otherwise usable generation.
func NewArtifact(raw map[string]string) Artifact {
	out := make(Artifact, len(raw))
	for path, content := range raw {
		clean, ok := cleanPath(path)
		if !ok {
			continue
		}
		out[clean] = content
	}
	return out
}

func cleanPath(path string) (string, bool) {
	p := strings.ReplaceAll(strings.TrimSpace(path), "\\", "/")
	p = strings.TrimPrefix(p, "./")
	p = strings.Trim(p, "/")
	if p == "" {
		return "", false
	}
	for _, segment := range strings.Split(p, "/") {
		if segment == ".." || segment == "" {
			return "", false
		}
	}
	return p, true
}

// FileCount reports the number of files in a, used by multi-model
// comparison mode to pick the "best" artifact (spec.md §4.5).
func (a Artifact) FileCount() int { return len(a) }

// ErrEmptyArtifact is returned by callers that require a non-empty
// result; the Generator itself permits empty artifacts (spec.md §4.8
// "empty inputs allowed").
var ErrEmptyArtifact = perr.New(perr.CodeValidation, "generated artifact is empty")
