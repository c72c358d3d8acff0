// Package analyzer implements the Analyzer of spec.md §4.4: it turns
// a natural-language requirement into a structured Analysis by
// prompting an LLM provider and parsing its response through a
// strict-JSON → fenced-JSON-block → heuristic-regex-section cascade.
// Grounded on the teacher's JSON/text extraction helpers
// (llm/response_helpers.go) and on providers/anthropic for the
// request-shaping idiom.
package analyzer

import (
	"encoding/json"
)

// Analysis is the transient record threaded through the remaining
// pipeline stages (spec.md §3). It carries no persistence tags; the
// orchestrator stores its JSON encoding in store.Details.Analysis.
type Analysis struct {
	Title                string   `json:"title"`
	Functionality        string   `json:"functionality"`
	Components           []string `json:"components"`
	InputsOutputs        string   `json:"inputsOutputs"`
	Dependencies         string   `json:"dependencies"`
	FileStructure        []string `json:"fileStructure"`
	ImplementationStrategy string `json:"implementationStrategy,omitempty"`
}

// Priority is the Analyzer's normalized priority classification,
// distinct from store.TaskPriority: the former describes a requirement
// facet the LLM surfaced in free text, the latter the caller's queue
// priority.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// ConstraintType classifies a dependency/constraint mentioned by the
// requirement. security is kept distinct from business — the known
// English/Chinese substring-collapsing defect from the source system
// is not reproduced here (spec.md §9).
type ConstraintType string

const (
	ConstraintTechnical ConstraintType = "technical"
	ConstraintBusiness  ConstraintType = "business"
	ConstraintSecurity  ConstraintType = "security"
)

// Marshal returns a's canonical JSON encoding, used by the
// orchestrator to populate store.Details.Analysis.
func (a Analysis) Marshal() (json.RawMessage, error) {
	return json.Marshal(a)
}
