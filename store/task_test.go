package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskStatusCanAdvanceTo(t *testing.T) {
	cases := []struct {
		from, to TaskStatus
		want     bool
	}{
		{StatusPending, StatusInProgress, true},
		{StatusInProgress, StatusInProgress, true},
		{StatusInProgress, StatusCompleted, true},
		{StatusInProgress, StatusFailed, true},
		{StatusPending, StatusFailed, true},
		{StatusCompleted, StatusFailed, true},
		{StatusPending, StatusCompleted, false},
		{StatusCompleted, StatusInProgress, false},
		{StatusFailed, StatusInProgress, false},
	}
	for _, c := range cases {
		got := c.from.CanAdvanceTo(c.to)
		assert.Equalf(t, c.want, got, "%s -> %s", c.from, c.to)
	}
}

func TestTaskAdvanceProgressMonotonic(t *testing.T) {
	task := &Task{Status: StatusPending, Progress: 0}
	require.NoError(t, task.Advance(StatusInProgress, 0.5, Details{Stage: "analyzing"}))
	assert.Equal(t, 0.5, task.Progress)

	require.NoError(t, task.Advance(StatusInProgress, 0.3, Details{Stage: "regress"}))
	assert.Equal(t, 0.5, task.Progress, "progress must not regress within in_progress")

	require.NoError(t, task.Advance(StatusInProgress, 0.9, Details{Stage: "generated"}))
	assert.Equal(t, 0.9, task.Progress)
}

func TestTaskAdvanceResetsProgressOnFailure(t *testing.T) {
	task := &Task{Status: StatusInProgress, Progress: 0.8}
	require.NoError(t, task.Advance(StatusFailed, 0.1, Details{Stage: "code_commit", Error: "push failed"}))
	assert.Equal(t, 0.0, task.Progress)
	assert.Equal(t, StatusFailed, task.Status)
	assert.Equal(t, "push failed", task.Details.Error)
}

func TestTaskAdvanceRejectsIllegalTransition(t *testing.T) {
	task := &Task{Status: StatusCompleted, Progress: 1.0}
	err := task.Advance(StatusInProgress, 0.2, Details{})
	assert.Error(t, err)
	assert.Equal(t, StatusCompleted, task.Status, "task must remain in its prior state after a rejected transition")
}

func TestTaskRequeueResetsFromTerminal(t *testing.T) {
	task := &Task{Status: StatusFailed, Progress: 0, Details: Details{Error: "boom"}}
	task.Requeue()
	assert.Equal(t, StatusPending, task.Status)
	assert.Equal(t, 0.0, task.Progress)
	assert.Empty(t, task.Details.Error)
}

func TestQualityScoresAggregate(t *testing.T) {
	scores := QualityScores{CodeQuality: 90, RequirementCoverage: 80, SyntaxValidity: 100}
	assert.InDelta(t, 0.5*90+0.3*80+0.2*100, scores.Aggregate(), 0.0001)
}

func TestQualityMetricPassedBoundary(t *testing.T) {
	passing := QualityMetric{CodeQualityScore: 85, RequirementCoverage: 85, SyntaxValidity: 85}
	assert.True(t, passing.Passed(), "exactly 85 must pass the gate")

	failing := QualityMetric{CodeQualityScore: 84, RequirementCoverage: 84, SyntaxValidity: 84}
	assert.False(t, failing.Passed())
}
