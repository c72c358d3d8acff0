package store

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/reqforge/reqpipe/internal/dbpool"
)

func newTestGormStore(t *testing.T, enq Enqueuer) *GormTaskStore {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	pool, err := dbpool.NewManager(db, dbpool.Config{MaxOpenConns: 1, MaxIdleConns: 1}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	s, err := NewGormTaskStore(pool, enq, nil)
	require.NoError(t, err)
	return s
}

func TestGormTaskStoreCreateAndGetTask(t *testing.T) {
	enq := &fakeEnqueuer{}
	s := newTestGormStore(t, enq)

	task := &Task{ProjectID: "proj-1", RepositoryURL: "https://example.com/repo.git", Branch: "main", Priority: PriorityHigh, Language: LangGo}
	require.NoError(t, s.CreateTask(context.Background(), task))
	assert.NotEmpty(t, task.ID)
	assert.Equal(t, []string{task.ID}, enq.calls)

	got, err := s.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, "proj-1", got.ProjectID)
	assert.Equal(t, StatusPending, got.Status)
}

func TestGormTaskStoreUpdateStatusPersists(t *testing.T) {
	s := newTestGormStore(t, nil)
	task := &Task{}
	require.NoError(t, s.CreateTask(context.Background(), task))

	require.NoError(t, s.UpdateStatus(context.Background(), task.ID, StatusInProgress, 0.4, Details{Stage: "analyzing"}))

	got, err := s.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, got.Status)
	assert.Equal(t, 0.4, got.Progress)
	assert.Equal(t, "analyzing", got.Details.Stage)
}

func TestGormTaskStoreUpdateStatusNotFound(t *testing.T) {
	s := newTestGormStore(t, nil)
	err := s.UpdateStatus(context.Background(), "missing", StatusCompleted, 1.0, Details{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGormTaskStoreUpsertMetricsOverwritesSingleRow(t *testing.T) {
	s := newTestGormStore(t, nil)
	task := &Task{}
	require.NoError(t, s.CreateTask(context.Background(), task))

	_, err := s.UpsertMetrics(context.Background(), task.ID, QualityScores{CodeQuality: 40, RequirementCoverage: 40, SyntaxValidity: 40}, nil, "first")
	require.NoError(t, err)
	_, err = s.UpsertMetrics(context.Background(), task.ID, QualityScores{CodeQuality: 96, RequirementCoverage: 96, SyntaxValidity: 96}, nil, "second")
	require.NoError(t, err)

	rows, err := s.GetMetricsByTask(context.Background(), task.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 96.0, rows[0].CodeQualityScore)
	assert.Equal(t, "second", rows[0].Feedback)
}

func TestGormTaskStoreListTasksFilterByStatus(t *testing.T) {
	s := newTestGormStore(t, nil)
	a := &Task{ProjectID: "p"}
	b := &Task{ProjectID: "p"}
	require.NoError(t, s.CreateTask(context.Background(), a))
	require.NoError(t, s.CreateTask(context.Background(), b))
	require.NoError(t, s.UpdateStatus(context.Background(), a.ID, StatusInProgress, 0.5, Details{}))
	require.NoError(t, s.UpdateStatus(context.Background(), a.ID, StatusCompleted, 1.0, Details{}))

	completed, err := s.ListTasks(context.Background(), TaskFilter{ProjectID: "p", Status: StatusCompleted})
	require.NoError(t, err)
	require.Len(t, completed, 1)
	assert.Equal(t, a.ID, completed[0].ID)
}

func TestGormTaskStoreGetTemplateNotFound(t *testing.T) {
	s := newTestGormStore(t, nil)
	_, err := s.GetTemplate(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
