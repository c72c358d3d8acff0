package store

import "time"

// QualityMetric is one row per task (spec.md §3); UpsertMetrics
// overwrites that row on each later check attempt.
// The aggregate score is derived, never stored, per that section's
// invariant — see QualityScores.Aggregate.
type QualityMetric struct {
	ID                  string         `gorm:"primaryKey;type:uuid" json:"id"`
	TaskID              string         `gorm:"index" json:"taskId"`
	CodeQualityScore    float64        `json:"codeQualityScore"`
	RequirementCoverage float64        `json:"requirementCoverageScore"`
	SyntaxValidity      float64        `json:"syntaxValidityScore"`
	StaticAnalysis      map[string]any `gorm:"serializer:json" json:"staticAnalysis,omitempty"`
	Feedback            string         `json:"feedback,omitempty"`
	CreatedAt           time.Time      `json:"createdAt"`
}

// Scores projects m onto the QualityScores triple used for Task.Details
// and the aggregate/gate computation.
func (m QualityMetric) Scores() QualityScores {
	return QualityScores{
		CodeQuality:         m.CodeQualityScore,
		RequirementCoverage: m.RequirementCoverage,
		SyntaxValidity:      m.SyntaxValidity,
	}
}

// Aggregate returns the derived weighted aggregate score for m.
func (m QualityMetric) Aggregate() float64 {
	return m.Scores().Aggregate()
}

// QualityGate is the aggregate-score threshold that determines
// pass/fail (spec.md §4.5 step 4 and the Glossary's "Gate").
const QualityGate = 85.0

// Passed reports whether m's aggregate clears the quality gate.
// Boundary: an aggregate of exactly 85 passes (spec.md §8).
func (m QualityMetric) Passed() bool {
	return m.Aggregate() >= QualityGate
}

// CodeTemplate is a named, language-tagged reusable code template
// (spec.md §6's code_templates table). The Analyzer may be given one
// as optional context (spec.md §4.4).
type CodeTemplate struct {
	ID        string    `gorm:"primaryKey;type:uuid" json:"id"`
	Language  string    `json:"language"`
	Name      string    `json:"name"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// TaskFilter constrains ListTasks (spec.md §4.2, §6).
type TaskFilter struct {
	ProjectID string
	Status    TaskStatus
	Limit     int
	Offset    int
}

// QueueStats mirrors the GET /requirement-tasks/queue/stats response
// shape of spec.md §6, computed from the queue package but defined
// here so store and queue can share it without an import cycle.
type QueueStats struct {
	Waiting   int64     `json:"waiting"`
	Active    int64     `json:"active"`
	Completed int64     `json:"completed"`
	Failed    int64     `json:"failed"`
	Delayed   int64     `json:"delayed"`
	Total     int64     `json:"total"`
	Timestamp time.Time `json:"timestamp"`
}
