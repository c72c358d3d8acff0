package store

import "context"

// TaskStore is the durable source of truth described in spec.md §4.2.
// CreateTask additionally enqueues the task's job once the row is
// persisted, and does not keep a row whose enqueue failed (see
// GormTaskStore.CreateTask and DESIGN.md's note on the outbox pattern
// used to reconcile a SQL transaction with a separately-durable Redis
// queue).
type TaskStore interface {
	// CreateTask persists a new task and enqueues its job; if the
	// enqueue fails, the task is not kept and the error is returned.
	CreateTask(ctx context.Context, task *Task) error

	// UpdateStatus is a single-row write; progress and details replace
	// prior values, updated-at is refreshed.
	UpdateStatus(ctx context.Context, taskID string, status TaskStatus, progress float64, details Details) error

	// Requeue returns a terminal-state task to pending and re-enqueues it.
	Requeue(ctx context.Context, taskID string) error

	// GetTask retrieves a task by id. Returns ErrNotFound if absent.
	GetTask(ctx context.Context, taskID string) (*Task, error)

	// ListTasks retrieves tasks matching filter.
	ListTasks(ctx context.Context, filter TaskFilter) ([]*Task, error)

	// UpsertMetrics creates a quality-metric row if none exists for
	// the task, otherwise overwrites scores/payload/feedback on the
	// existing row (spec.md §4.2).
	UpsertMetrics(ctx context.Context, taskID string, scores QualityScores, staticAnalysis map[string]any, feedback string) (*QualityMetric, error)

	// GetMetricsByTask returns every quality-metric row for a task,
	// most recent first.
	GetMetricsByTask(ctx context.Context, taskID string) ([]*QualityMetric, error)

	// GetTemplate looks up a code template by id, used by the Analyzer
	// when a task supplies templateId (spec.md §4.4, §6).
	GetTemplate(ctx context.Context, templateID string) (*CodeTemplate, error)

	// Close releases the store's resources.
	Close() error
}

// Enqueuer is implemented by the queue package; the TaskStore calls it
// from inside CreateTask/Requeue so that a task row never exists
// without a corresponding job (spec.md §3 invariant (iii)), and a job
// is never created for a task that failed to persist.
type Enqueuer interface {
	AddTask(ctx context.Context, taskID string, priority TaskPriority) (string, error)
}
