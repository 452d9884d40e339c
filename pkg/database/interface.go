// Package database persists run history to sqlite: one row per run,
// one per iteration. The status API and the report command read from
// it; the run controller writes to it at finalize.
package database

import "context"

// Database is the run-history store contract.
type Database interface {
	CreateRun(ctx context.Context, run *RunRecord) error
	UpdateRun(ctx context.Context, run *RunRecord) error
	GetRun(ctx context.Context, runID string) (*RunRecord, error)
	ListRuns(ctx context.Context, limit int) ([]*RunRecord, error)

	AddIteration(ctx context.Context, it *IterationRecord) error
	ListIterations(ctx context.Context, runID string) ([]*IterationRecord, error)

	Close() error
}
