package database

import (
	"database/sql"
	"fmt"
)

// migrations run in order; schema_version records the last applied
// index so upgrades are incremental.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL UNIQUE,
		task TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'running',
		stop_reason TEXT,
		final_score INTEGER NOT NULL DEFAULT 0,
		final_passed INTEGER NOT NULL DEFAULT 0,
		iteration_count INTEGER NOT NULL DEFAULT 0,
		planner_model TEXT,
		evaluator_model TEXT,
		rubric_id TEXT,
		base_dir TEXT,
		preview_url TEXT,
		error_message TEXT,
		started_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		completed_at DATETIME
	)`,
	`CREATE TABLE IF NOT EXISTS iterations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		iteration INTEGER NOT NULL,
		score INTEGER NOT NULL DEFAULT 0,
		passed INTEGER NOT NULL DEFAULT 0,
		issues_count INTEGER NOT NULL DEFAULT 0,
		files_modified INTEGER NOT NULL DEFAULT 0,
		commit_id TEXT,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		started_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		completed_at DATETIME,
		UNIQUE(run_id, iteration),
		FOREIGN KEY(run_id) REFERENCES runs(run_id) ON DELETE CASCADE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_iterations_run_id ON iterations(run_id)`,
	`CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at)`,
}

// migrate applies pending migrations inside a transaction each.
func migrate(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	var version int
	row := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`)
	if err := row.Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for i := version; i < len(migrations); i++ {
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec(migrations[i]); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec(`DELETE FROM schema_version`); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("bump schema version: %w", err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_version (version) VALUES (?)`, i+1); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("bump schema version: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", i+1, err)
		}
	}
	return nil
}
