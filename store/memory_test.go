package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEnqueuer struct {
	calls    []string
	failNext bool
}

func (f *fakeEnqueuer) AddTask(ctx context.Context, taskID string, priority TaskPriority) (string, error) {
	if f.failNext {
		f.failNext = false
		return "", errors.New("enqueue failed")
	}
	f.calls = append(f.calls, taskID)
	return taskID, nil
}

func TestMemoryTaskStoreCreateTaskEnqueues(t *testing.T) {
	enq := &fakeEnqueuer{}
	s := NewMemoryTaskStore(enq)

	task := &Task{ProjectID: "proj-1", Priority: PriorityHigh, Language: LangGo}
	require.NoError(t, s.CreateTask(context.Background(), task))
	assert.NotEmpty(t, task.ID)
	assert.Equal(t, StatusPending, task.Status)
	assert.Equal(t, []string{task.ID}, enq.calls)

	got, err := s.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, task.ProjectID, got.ProjectID)
}

func TestMemoryTaskStoreCreateTaskRollsBackOnEnqueueFailure(t *testing.T) {
	enq := &fakeEnqueuer{failNext: true}
	s := NewMemoryTaskStore(enq)

	task := &Task{ProjectID: "proj-1"}
	err := s.CreateTask(context.Background(), task)
	assert.Error(t, err)

	_, getErr := s.GetTask(context.Background(), task.ID)
	assert.ErrorIs(t, getErr, ErrNotFound, "a task whose enqueue failed must not remain visible")
}

func TestMemoryTaskStoreGetTaskNotFound(t *testing.T) {
	s := NewMemoryTaskStore(nil)
	_, err := s.GetTask(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryTaskStoreUpdateStatusRejectsIllegalTransition(t *testing.T) {
	s := NewMemoryTaskStore(nil)
	task := &Task{}
	require.NoError(t, s.CreateTask(context.Background(), task))

	require.NoError(t, s.UpdateStatus(context.Background(), task.ID, StatusInProgress, 0.5, Details{}))
	require.NoError(t, s.UpdateStatus(context.Background(), task.ID, StatusCompleted, 1.0, Details{}))

	err := s.UpdateStatus(context.Background(), task.ID, StatusInProgress, 0.5, Details{})
	assert.Error(t, err, "completed -> in_progress must be rejected")
}

func TestMemoryTaskStoreRequeueReenqueues(t *testing.T) {
	enq := &fakeEnqueuer{}
	s := NewMemoryTaskStore(enq)
	task := &Task{Priority: PriorityLow}
	require.NoError(t, s.CreateTask(context.Background(), task))
	require.NoError(t, s.UpdateStatus(context.Background(), task.ID, StatusFailed, 0, Details{Error: "boom"}))

	require.NoError(t, s.Requeue(context.Background(), task.ID))

	got, err := s.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, []string{task.ID, task.ID}, enq.calls, "requeue must enqueue a second job")
}

func TestMemoryTaskStoreListTasksFiltersAndPaginates(t *testing.T) {
	s := NewMemoryTaskStore(nil)
	for i := 0; i < 5; i++ {
		task := &Task{ProjectID: "proj-a"}
		require.NoError(t, s.CreateTask(context.Background(), task))
	}
	other := &Task{ProjectID: "proj-b"}
	require.NoError(t, s.CreateTask(context.Background(), other))

	all, err := s.ListTasks(context.Background(), TaskFilter{ProjectID: "proj-a"})
	require.NoError(t, err)
	assert.Len(t, all, 5)

	page, err := s.ListTasks(context.Background(), TaskFilter{ProjectID: "proj-a", Limit: 2, Offset: 1})
	require.NoError(t, err)
	assert.Len(t, page, 2)
}

func TestMemoryTaskStoreUpsertMetricsOverwritesSingleRow(t *testing.T) {
	s := NewMemoryTaskStore(nil)
	task := &Task{}
	require.NoError(t, s.CreateTask(context.Background(), task))

	_, err := s.UpsertMetrics(context.Background(), task.ID, QualityScores{CodeQuality: 50, RequirementCoverage: 50, SyntaxValidity: 50}, nil, "first pass")
	require.NoError(t, err)
	_, err = s.UpsertMetrics(context.Background(), task.ID, QualityScores{CodeQuality: 90, RequirementCoverage: 90, SyntaxValidity: 90}, nil, "second pass")
	require.NoError(t, err)

	rows, err := s.GetMetricsByTask(context.Background(), task.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1, "UpsertMetrics overwrites the single row for a task rather than appending")
	assert.Equal(t, 90.0, rows[0].CodeQualityScore)
	assert.Equal(t, "second pass", rows[0].Feedback)
}

func TestMemoryTaskStoreGetTemplate(t *testing.T) {
	s := NewMemoryTaskStore(nil)
	s.SeedTemplate(&CodeTemplate{ID: "tmpl-1", Language: "go", Name: "service"})

	got, err := s.GetTemplate(context.Background(), "tmpl-1")
	require.NoError(t, err)
	assert.Equal(t, "service", got.Name)

	_, err = s.GetTemplate(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
