package database

import "time"

// RunRecord is one orchestration run as stored in the runs table.
type RunRecord struct {
	ID             int64      `json:"id"`
	RunID          string     `json:"run_id"`
	Task           string     `json:"task"`
	Status         string     `json:"status"`
	StopReason     string     `json:"stop_reason,omitempty"`
	FinalScore     int        `json:"final_score"`
	FinalPassed    bool       `json:"final_passed"`
	IterationCount int        `json:"iteration_count"`
	PlannerModel   string     `json:"planner_model,omitempty"`
	EvaluatorModel string     `json:"evaluator_model,omitempty"`
	RubricID       string     `json:"rubric_id,omitempty"`
	BaseDir        string     `json:"base_dir,omitempty"`
	PreviewURL     string     `json:"preview_url,omitempty"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	StartedAt      time.Time  `json:"started_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// IterationRecord is one iteration of a run as stored in the
// iterations table.
type IterationRecord struct {
	ID            int64      `json:"id"`
	RunID         string     `json:"run_id"`
	Iteration     int        `json:"iteration"`
	Score         int        `json:"score"`
	Passed        bool       `json:"passed"`
	IssuesCount   int        `json:"issues_count"`
	FilesModified int        `json:"files_modified"`
	CommitID      string     `json:"commit_id,omitempty"`
	DurationMs    int64      `json:"duration_ms"`
	StartedAt     time.Time  `json:"started_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}
