package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDB(t *testing.T) *SQLiteDB {
	t.Helper()
	db, err := NewSQLiteDB(filepath.Join(t.TempDir(), "webloop.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestRunLifecycle(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	run := &RunRecord{
		RunID:          "20260101T120000-abcd1234",
		Task:           "Landing page",
		Status:         "running",
		PlannerModel:   "planner-x",
		EvaluatorModel: "evaluator-y",
		RubricID:       "web-quality-v1",
		StartedAt:      time.Now().UTC(),
	}
	require.NoError(t, db.CreateRun(ctx, run))
	assert.NotZero(t, run.ID)

	now := time.Now().UTC()
	run.Status = "completed"
	run.StopReason = "passed"
	run.FinalScore = 82
	run.FinalPassed = true
	run.IterationCount = 1
	run.CompletedAt = &now
	require.NoError(t, db.UpdateRun(ctx, run))

	got, err := db.GetRun(ctx, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, "passed", got.StopReason)
	assert.Equal(t, 82, got.FinalScore)
	assert.True(t, got.FinalPassed)
	require.NotNil(t, got.CompletedAt)
}

func TestUpdateMissingRunFails(t *testing.T) {
	db := testDB(t)
	err := db.UpdateRun(context.Background(), &RunRecord{RunID: "missing"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestIterationsOrderedAndUnique(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	run := &RunRecord{RunID: "run-1", Task: "t", Status: "running", StartedAt: time.Now().UTC()}
	require.NoError(t, db.CreateRun(ctx, run))

	for i, score := range []int{55, 78} {
		require.NoError(t, db.AddIteration(ctx, &IterationRecord{
			RunID:     "run-1",
			Iteration: i + 1,
			Score:     score,
			Passed:    score >= 70,
			StartedAt: time.Now().UTC(),
		}))
	}

	// Duplicate iteration number violates the unique constraint.
	err := db.AddIteration(ctx, &IterationRecord{RunID: "run-1", Iteration: 1, StartedAt: time.Now().UTC()})
	require.Error(t, err)

	iterations, err := db.ListIterations(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, iterations, 2)
	assert.Equal(t, 55, iterations[0].Score)
	assert.Equal(t, 78, iterations[1].Score)
	assert.True(t, iterations[1].Passed)
}

func TestListRunsNewestFirst(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	older := time.Now().UTC().Add(-time.Hour)
	newer := time.Now().UTC()
	require.NoError(t, db.CreateRun(ctx, &RunRecord{RunID: "old", Task: "a", Status: "completed", StartedAt: older}))
	require.NoError(t, db.CreateRun(ctx, &RunRecord{RunID: "new", Task: "b", Status: "running", StartedAt: newer}))

	runs, err := db.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "new", runs[0].RunID)
	assert.Equal(t, "old", runs[1].RunID)
}
