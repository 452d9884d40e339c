package database

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteDB implements Database over a local sqlite file.
type SQLiteDB struct {
	db *sql.DB
}

// NewSQLiteDB opens (creating if needed) the run-history database and
// applies pending migrations.
func NewSQLiteDB(dbPath string) (*SQLiteDB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := migrate(db); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return &SQLiteDB{db: db}, nil
}

func (s *SQLiteDB) Close() error { return s.db.Close() }

func (s *SQLiteDB) CreateRun(ctx context.Context, run *RunRecord) error {
	query := `
		INSERT INTO runs (run_id, task, status, planner_model, evaluator_model, rubric_id, base_dir, preview_url, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	res, err := s.db.ExecContext(ctx, query,
		run.RunID, run.Task, run.Status, run.PlannerModel, run.EvaluatorModel,
		run.RubricID, run.BaseDir, run.PreviewURL, run.StartedAt)
	if err != nil {
		return fmt.Errorf("create run %s: %w", run.RunID, err)
	}
	run.ID, _ = res.LastInsertId()
	return nil
}

func (s *SQLiteDB) UpdateRun(ctx context.Context, run *RunRecord) error {
	query := `
		UPDATE runs
		SET status = ?, stop_reason = ?, final_score = ?, final_passed = ?,
		    iteration_count = ?, error_message = ?, completed_at = ?
		WHERE run_id = ?
	`
	res, err := s.db.ExecContext(ctx, query,
		run.Status, run.StopReason, run.FinalScore, run.FinalPassed,
		run.IterationCount, run.ErrorMessage, run.CompletedAt, run.RunID)
	if err != nil {
		return fmt.Errorf("update run %s: %w", run.RunID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update run %s: not found", run.RunID)
	}
	return nil
}

func (s *SQLiteDB) GetRun(ctx context.Context, runID string) (*RunRecord, error) {
	query := `
		SELECT id, run_id, task, status, COALESCE(stop_reason, ''), final_score, final_passed,
		       iteration_count, COALESCE(planner_model, ''), COALESCE(evaluator_model, ''),
		       COALESCE(rubric_id, ''), COALESCE(base_dir, ''), COALESCE(preview_url, ''),
		       COALESCE(error_message, ''), started_at, completed_at
		FROM runs WHERE run_id = ?
	`
	run := &RunRecord{}
	err := s.db.QueryRowContext(ctx, query, runID).Scan(
		&run.ID, &run.RunID, &run.Task, &run.Status, &run.StopReason,
		&run.FinalScore, &run.FinalPassed, &run.IterationCount,
		&run.PlannerModel, &run.EvaluatorModel, &run.RubricID,
		&run.BaseDir, &run.PreviewURL, &run.ErrorMessage,
		&run.StartedAt, &run.CompletedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run %s not found", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}
	return run, nil
}

func (s *SQLiteDB) ListRuns(ctx context.Context, limit int) ([]*RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, run_id, task, status, COALESCE(stop_reason, ''), final_score, final_passed,
		       iteration_count, COALESCE(planner_model, ''), COALESCE(evaluator_model, ''),
		       COALESCE(rubric_id, ''), COALESCE(base_dir, ''), COALESCE(preview_url, ''),
		       COALESCE(error_message, ''), started_at, completed_at
		FROM runs ORDER BY started_at DESC LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*RunRecord
	for rows.Next() {
		run := &RunRecord{}
		if err := rows.Scan(
			&run.ID, &run.RunID, &run.Task, &run.Status, &run.StopReason,
			&run.FinalScore, &run.FinalPassed, &run.IterationCount,
			&run.PlannerModel, &run.EvaluatorModel, &run.RubricID,
			&run.BaseDir, &run.PreviewURL, &run.ErrorMessage,
			&run.StartedAt, &run.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (s *SQLiteDB) AddIteration(ctx context.Context, it *IterationRecord) error {
	query := `
		INSERT INTO iterations (run_id, iteration, score, passed, issues_count, files_modified, commit_id, duration_ms, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	res, err := s.db.ExecContext(ctx, query,
		it.RunID, it.Iteration, it.Score, it.Passed, it.IssuesCount,
		it.FilesModified, it.CommitID, it.DurationMs, it.StartedAt, it.CompletedAt)
	if err != nil {
		return fmt.Errorf("add iteration %d for run %s: %w", it.Iteration, it.RunID, err)
	}
	it.ID, _ = res.LastInsertId()
	return nil
}

func (s *SQLiteDB) ListIterations(ctx context.Context, runID string) ([]*IterationRecord, error) {
	query := `
		SELECT id, run_id, iteration, score, passed, issues_count, files_modified,
		       COALESCE(commit_id, ''), duration_ms, started_at, completed_at
		FROM iterations WHERE run_id = ? ORDER BY iteration
	`
	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("list iterations for %s: %w", runID, err)
	}
	defer rows.Close()

	var iterations []*IterationRecord
	for rows.Next() {
		it := &IterationRecord{}
		if err := rows.Scan(
			&it.ID, &it.RunID, &it.Iteration, &it.Score, &it.Passed,
			&it.IssuesCount, &it.FilesModified, &it.CommitID,
			&it.DurationMs, &it.StartedAt, &it.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan iteration: %w", err)
		}
		iterations = append(iterations, it)
	}
	return iterations, rows.Err()
}

var _ Database = (*SQLiteDB)(nil)
