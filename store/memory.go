package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryTaskStore is an in-memory TaskStore, adapted from the
// teacher's agent/persistence.MemoryTaskStore for use in tests that
// don't need a real database. Data is lost on process exit.
type MemoryTaskStore struct {
	mu        sync.RWMutex
	tasks     map[string]*Task
	metrics   map[string][]*QualityMetric
	templates map[string]*CodeTemplate
	enqueuer  Enqueuer
	closed    bool
}

// NewMemoryTaskStore creates an in-memory task store. enqueuer may be
// nil, in which case CreateTask/Requeue skip enqueueing (useful for
// store-only unit tests).
func NewMemoryTaskStore(enqueuer Enqueuer) *MemoryTaskStore {
	return &MemoryTaskStore{
		tasks:     make(map[string]*Task),
		metrics:   make(map[string][]*QualityMetric),
		templates: make(map[string]*CodeTemplate),
		enqueuer:  enqueuer,
	}
}

// SeedTemplate installs a code template for tests, bypassing any
// notion of an admin CRUD surface (out of scope per spec.md §1).
func (s *MemoryTaskStore) SeedTemplate(t *CodeTemplate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates[t.ID] = t
}

func (s *MemoryTaskStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *MemoryTaskStore) CreateTask(ctx context.Context, task *Task) error {
	if task == nil {
		return ErrNotFound
	}
	s.mu.Lock()
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	now := time.Now()
	task.CreatedAt = now
	task.UpdatedAt = now
	if task.Status == "" {
		task.Status = StatusPending
	}
	s.tasks[task.ID] = task
	s.mu.Unlock()

	if s.enqueuer != nil {
		if _, err := s.enqueuer.AddTask(ctx, task.ID, task.Priority); err != nil {
			s.mu.Lock()
			delete(s.tasks, task.ID)
			s.mu.Unlock()
			return err
		}
	}
	return nil
}

func (s *MemoryTaskStore) UpdateStatus(ctx context.Context, taskID string, status TaskStatus, progress float64, details Details) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if !ok {
		return ErrNotFound
	}
	if err := task.Advance(status, progress, details); err != nil {
		return err
	}
	task.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryTaskStore) Requeue(ctx context.Context, taskID string) error {
	s.mu.Lock()
	task, ok := s.tasks[taskID]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	task.Requeue()
	task.UpdatedAt = time.Now()
	priority := task.Priority
	s.mu.Unlock()

	if s.enqueuer != nil {
		_, err := s.enqueuer.AddTask(ctx, taskID, priority)
		return err
	}
	return nil
}

func (s *MemoryTaskStore) GetTask(ctx context.Context, taskID string) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *task
	return &cp, nil
}

func (s *MemoryTaskStore) ListTasks(ctx context.Context, filter TaskFilter) ([]*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		if filter.ProjectID != "" && t.ProjectID != filter.ProjectID {
			continue
		}
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		cp := *t
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return []*Task{}, nil
		}
		result = result[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(result) {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (s *MemoryTaskStore) UpsertMetrics(ctx context.Context, taskID string, scores QualityScores, staticAnalysis map[string]any, feedback string) (*QualityMetric, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := s.metrics[taskID]
	var row *QualityMetric
	if len(rows) > 0 {
		row = rows[len(rows)-1]
	} else {
		row = &QualityMetric{ID: uuid.New().String(), TaskID: taskID, CreatedAt: time.Now()}
		s.metrics[taskID] = append(s.metrics[taskID], row)
	}
	row.CodeQualityScore = scores.CodeQuality
	row.RequirementCoverage = scores.RequirementCoverage
	row.SyntaxValidity = scores.SyntaxValidity
	row.StaticAnalysis = staticAnalysis
	row.Feedback = feedback

	cp := *row
	return &cp, nil
}

func (s *MemoryTaskStore) GetMetricsByTask(ctx context.Context, taskID string) ([]*QualityMetric, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := s.metrics[taskID]
	result := make([]*QualityMetric, len(rows))
	for i := range rows {
		cp := *rows[len(rows)-1-i]
		result[i] = &cp
	}
	return result, nil
}

func (s *MemoryTaskStore) GetTemplate(ctx context.Context, templateID string) (*CodeTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.templates[templateID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

var _ TaskStore = (*MemoryTaskStore)(nil)
