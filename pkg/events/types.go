package events

import (
	"time"
)

// EventType identifies a run lifecycle event on the bus.
type EventType string

const (
	// Run lifecycle
	RunStart EventType = "run_start"
	RunEnd   EventType = "run_end"
	RunError EventType = "run_error"

	// Phase transitions
	PhaseTransition EventType = "phase_transition"

	// Iteration lifecycle
	IterationStart EventType = "iteration_start"
	IterationEnd   EventType = "iteration_end"

	// Planning
	PlanningStart EventType = "planning_start"
	PlanningEnd   EventType = "planning_end"

	// Generation
	GenerationStart EventType = "generation_start"
	GenerationEnd   EventType = "generation_end"
	TodoStart       EventType = "todo_start"
	TodoEnd         EventType = "todo_end"

	// Evaluation
	EvaluationStart EventType = "evaluation_start"
	EvaluationEnd   EventType = "evaluation_end"
	ExplorationStep EventType = "exploration_step"
	ScreenshotTaken EventType = "screenshot_taken"

	// Patching
	PatchPlanCreated EventType = "patch_plan_created"
	PatchApplied     EventType = "patch_applied"

	// Publishing
	SnapshotPublished EventType = "snapshot_published"
)

// Event is one message on the run event bus.
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	RunID     string                 `json:"run_id,omitempty"`
	Iteration int                    `json:"iteration,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
}
