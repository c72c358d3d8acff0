// Package api defines the wire-shape DTOs named in spec.md §6. No
// net/http routing, middleware, or auth guard lives here — that
// handler layer is entirely the caller's responsibility. These
// structs exist so a caller-supplied handler has something concrete
// to marshal pipeline results against.
package api

import "time"

// CreateTaskRequest is the request body for submitting a new task.
type CreateTaskRequest struct {
	ProjectID          string `json:"projectId"`
	RepositoryURL      string `json:"repositoryUrl"`
	Branch             string `json:"branch"`
	RequirementText    string `json:"requirementText"`
	Priority           string `json:"priority,omitempty"`
	AdditionalContext  string `json:"additionalContext,omitempty"`
	Language           string `json:"language"`
	OutputPath         string `json:"outputPath,omitempty"`
	TemplateID         string `json:"templateId,omitempty"`
}

// TaskResponse is the response body describing a task's current state.
type TaskResponse struct {
	ID                string         `json:"id"`
	ProjectID         string         `json:"projectId"`
	RepositoryURL     string         `json:"repositoryUrl"`
	Branch            string         `json:"branch"`
	Status            string         `json:"status"`
	Progress          float64        `json:"progress"`
	Language          string         `json:"language"`
	Details           TaskDetailsDTO `json:"details"`
	CreatedAt         time.Time      `json:"createdAt"`
	UpdatedAt         time.Time      `json:"updatedAt"`
}

// TaskDetailsDTO mirrors store.Details for the wire format.
type TaskDetailsDTO struct {
	Stage               string            `json:"stage,omitempty"`
	Message             string            `json:"message,omitempty"`
	Error               string            `json:"error,omitempty"`
	CommitHash          string            `json:"commitHash,omitempty"`
	FilesChanged        []string          `json:"filesChanged,omitempty"`
	QualityPassed       *bool             `json:"qualityPassed,omitempty"`
	QualityScores       *QualityScoresDTO `json:"qualityScores,omitempty"`
	ComparisonBranches  map[string]string `json:"comparisonBranches,omitempty"`
}

// QualityScoresDTO mirrors store.QualityScores for the wire format.
type QualityScoresDTO struct {
	CodeQuality         float64 `json:"codeQuality"`
	RequirementCoverage float64 `json:"requirementCoverage"`
	SyntaxValidity      float64 `json:"syntaxValidity"`
	Aggregate           float64 `json:"aggregate"`
}

// QueueStatsResponse mirrors store.QueueStats for the wire format.
type QueueStatsResponse struct {
	Waiting   int64     `json:"waiting"`
	Active    int64     `json:"active"`
	Completed int64     `json:"completed"`
	Failed    int64     `json:"failed"`
	Delayed   int64     `json:"delayed"`
	Total     int64     `json:"total"`
	Timestamp time.Time `json:"timestamp"`
}

// CleanQueueRequest is the request body for purging terminal jobs.
type CleanQueueRequest struct {
	GraceSeconds int64 `json:"graceSeconds"`
}

// CleanQueueResponse reports how many jobs were purged.
type CleanQueueResponse struct {
	Removed int64 `json:"removed"`
}
