// Package store is the durable source of truth for requirement tasks
// and their quality metrics (spec.md §4.2). It exposes one interface,
// TaskStore, with a GORM-backed implementation for production and an
// in-memory implementation for tests, following the dual-backend shape
// of the teacher's agent/persistence package.
package store

import (
	"encoding/json"
	"time"
)

// TaskPriority is the caller-chosen urgency of a requirement task.
type TaskPriority string

const (
	PriorityLow      TaskPriority = "low"
	PriorityMedium   TaskPriority = "medium"
	PriorityHigh     TaskPriority = "high"
	PriorityCritical TaskPriority = "critical"
)

// IsValid reports whether p is one of the four defined priorities.
func (p TaskPriority) IsValid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	default:
		return false
	}
}

// Rank returns the queue priority rank for p — lower dequeues sooner,
// matching spec.md §4.3's mapping (critical=1 ... low=4).
func (p TaskPriority) Rank() int {
	switch p {
	case PriorityCritical:
		return 1
	case PriorityHigh:
		return 2
	case PriorityLow:
		return 4
	default: // medium, and any unrecognized value, defaults to medium's rank
		return 3
	}
}

// TargetLanguage is the language the Generator produces source files in.
type TargetLanguage string

const (
	LangTypeScript TargetLanguage = "typescript"
	LangJavaScript TargetLanguage = "javascript"
	LangPython     TargetLanguage = "python"
	LangJava       TargetLanguage = "java"
	LangCSharp     TargetLanguage = "csharp"
	LangGo         TargetLanguage = "go"
	LangRuby       TargetLanguage = "ruby"
	LangPHP        TargetLanguage = "php"
)

// IsValid reports whether l is one of the eight defined target languages.
func (l TargetLanguage) IsValid() bool {
	switch l {
	case LangTypeScript, LangJavaScript, LangPython, LangJava, LangCSharp, LangGo, LangRuby, LangPHP:
		return true
	default:
		return false
	}
}

// TaskStatus is the task's position in the pipeline state machine
// (spec.md §4.8). Unlike the teacher's six-state AsyncTask, the
// requirement pipeline only has four terminal/non-terminal states;
// the in-progress sub-stage is tracked in Details.Stage instead.
type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusInProgress TaskStatus = "in_progress"
	StatusCompleted  TaskStatus = "completed"
	StatusFailed     TaskStatus = "failed"
)

// IsTerminal reports whether s is a terminal status.
func (s TaskStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanAdvanceTo enforces the transition table from spec.md §3:
// pending -> in_progress; in_progress -> in_progress (progress update);
// in_progress -> completed; any -> failed. Re-entry into in_progress
// from a terminal state is only permitted through Requeue, never
// through this check.
func (s TaskStatus) CanAdvanceTo(next TaskStatus) bool {
	if next == StatusFailed {
		return true
	}
	switch s {
	case StatusPending:
		return next == StatusInProgress
	case StatusInProgress:
		return next == StatusInProgress || next == StatusCompleted
	default:
		return false
	}
}

// Details is the structured diagnostics payload threaded through every
// stage of the pipeline (spec.md §3 and §4.8). It is persisted as a
// single JSON column.
type Details struct {
	Stage              string            `json:"stage,omitempty"`
	Message            string            `json:"message,omitempty"`
	Error              string            `json:"error,omitempty"`
	AnalysisModel      string            `json:"analysisModel,omitempty"`
	Analysis           json.RawMessage   `json:"analysis,omitempty"`
	CommitHash         string            `json:"commitHash,omitempty"`
	FilesChanged       []string          `json:"filesChanged,omitempty"`
	QualityPassed      *bool             `json:"qualityPassed,omitempty"`
	QualityScores      *QualityScores    `json:"qualityScores,omitempty"`
	ComparisonBranches map[string]string `json:"comparisonBranches,omitempty"`
}

// QualityScores is the subset of QualityMetric surfaced in Task.Details
// once the quality-check stage has run.
type QualityScores struct {
	CodeQuality         float64 `json:"codeQualityScore"`
	RequirementCoverage float64 `json:"requirementCoverageScore"`
	SyntaxValidity      float64 `json:"syntaxValidityScore"`
}

// Aggregate computes the weighted aggregate score for s, per the
// invariant in spec.md §3: 0.5*cq + 0.3*rc + 0.2*sv.
func (s QualityScores) Aggregate() float64 {
	return 0.5*s.CodeQuality + 0.3*s.RequirementCoverage + 0.2*s.SyntaxValidity
}

// Task is one requirement submission and all of its pipeline state
// (spec.md §3).
type Task struct {
	ID               string         `gorm:"primaryKey;type:uuid" json:"taskId"`
	ProjectID        string         `gorm:"index" json:"projectId"`
	RepositoryURL    string         `json:"repositoryUrl"`
	Branch           string         `json:"branch"`
	RequirementText  string         `json:"requirementText"`
	Priority         TaskPriority   `json:"priority"`
	AdditionalContext string        `json:"additionalContext,omitempty"`
	Language         TargetLanguage `json:"language"`
	OutputPath       string         `json:"outputPath,omitempty"`
	TemplateID       string         `json:"templateId,omitempty"`

	// CompareProviders opts this task into multi-model comparison mode
	// (spec.md §4.5): when non-empty, the Generator fans its prompt out
	// to each named provider instead of using the fallback chain, and
	// the orchestrator pushes one comparison branch per non-selected
	// candidate (spec.md §8 Scenario 4).
	CompareProviders []string `gorm:"serializer:json" json:"compareProviders,omitempty"`

	Status   TaskStatus `gorm:"index" json:"status"`
	Progress float64    `json:"progress"`
	Details  Details    `gorm:"serializer:json" json:"details"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TableName maps Task onto the requirement_tasks table.
func (Task) TableName() string { return "requirement_tasks" }

// Advance applies a status/progress/details transition in place,
// enforcing the monotonic-progress and status-transition invariants
// of spec.md §3. Callers (the orchestrator) are expected to hold no
// other reference to this Task while mutating it; the store layer
// serializes the actual persistence.
func (t *Task) Advance(next TaskStatus, progress float64, details Details) error {
	if !t.Status.CanAdvanceTo(next) {
		return illegalTransitionErr(t.Status, next)
	}
	if next == StatusFailed {
		progress = 0
	} else if progress < t.Progress {
		progress = t.Progress // progress is monotonically non-decreasing until failure
	}
	t.Status = next
	t.Progress = progress
	t.Details = details
	return nil
}

// Requeue is the single explicit escape hatch that returns a
// terminal-state task to pending, per the invariant in spec.md §3.
func (t *Task) Requeue() {
	t.Status = StatusPending
	t.Progress = 0
	t.Details = Details{}
}
