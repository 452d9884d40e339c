package runner

import "time"

// State names one node of the run state machine.
type State string

const (
	StateSetup     State = "setup"
	StateBootstrap State = "bootstrap"
	StatePlan      State = "plan"
	StateGenerate  State = "generate"
	StateEvaluate  State = "evaluate"
	StatePatch     State = "patch"

	// Terminal states.
	StatePassed        State = "passed"
	StateMaxIterations State = "max_iterations"
	StateError         State = "error"
)

// StopReason is why the run ended.
type StopReason string

const (
	StopPassed        StopReason = "passed"
	StopMaxIterations StopReason = "max_iterations"
	StopError         StopReason = "error"
)

// Iteration is one generate/evaluate/patch cycle. Finalized once after
// evaluation and immutable after that.
type Iteration struct {
	Index                int               `json:"index"`
	FilesTouched         map[string]string `json:"files_touched"` // relative path -> absolute path
	GenerationDurationMs int64             `json:"generation_duration_ms"`
	EvaluationDurationMs int64             `json:"evaluation_duration_ms"`
	Score                int               `json:"score"`
	Passed               bool              `json:"passed"`
	Feedback             string            `json:"feedback,omitempty"`
	ScreenshotPaths      []string          `json:"screenshot_paths,omitempty"`
	Verdict              interface{}       `json:"verdict,omitempty"`
}

// Manifest is the run's single self-describing summary document.
type Manifest struct {
	RunID           string     `json:"run_id"`
	Task            string     `json:"task"`
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     time.Time  `json:"completed_at"`
	DurationSeconds float64    `json:"duration_seconds"`
	PlannerModel    string     `json:"planner_model,omitempty"`
	EvaluatorModel  string     `json:"evaluator_model,omitempty"`
	RubricID        string     `json:"rubric_id,omitempty"`
	IterationCount  int        `json:"iteration_count"`
	FinalScore      int        `json:"final_score"`
	FinalPassed     bool       `json:"final_passed"`
	StopReason      StopReason `json:"stop_reason"`
	GitBranch       string     `json:"git_branch,omitempty"`
	CommitIDs       []string   `json:"commit_ids,omitempty"`
	WorkspaceDir    string     `json:"workspace_dir"`
	ArtifactsDir    string     `json:"artifacts_dir"`
	SiteDir         string     `json:"site_dir"`
	PreviewURL      string     `json:"preview_url"`
	ErrorMessage    string     `json:"error_message,omitempty"`
}

// Report is the per-iteration detail document written beside the
// manifest.
type Report struct {
	RunID      string      `json:"run_id"`
	Task       string      `json:"task"`
	FinalScore int         `json:"final_score"`
	StopReason StopReason  `json:"stop_reason"`
	Iterations []Iteration `json:"iterations"`
}

// stateTransition is one entry of state.json's history.
type stateTransition struct {
	State State     `json:"state"`
	At    time.Time `json:"at"`
}

// runState is the on-disk state machine document, rewritten on every
// transition so a crashed run is inspectable.
type runState struct {
	RunID     string            `json:"run_id"`
	State     State             `json:"state"`
	Iteration int               `json:"iteration"`
	UpdatedAt time.Time         `json:"updated_at"`
	History   []stateTransition `json:"history"`
}
