// Package planner expands a natural-language task into a structured
// build plan with an ordered todo list.
package planner

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"

	"webloop/internal/jsonx"
	"webloop/internal/llm"
	"webloop/internal/utils"
)

// Planner calls the planning model and parses its response
// defensively. A Planner is safe for sequential reuse; calls never run
// concurrently within a run.
type Planner struct {
	model   llms.Model
	modelID string
	retryer *llm.Retryer
	logger  utils.ExtendedLogger
}

// New creates a planner over the given chat model.
func New(model llms.Model, modelID string, logger utils.ExtendedLogger) *Planner {
	return &Planner{
		model:   model,
		modelID: modelID,
		retryer: llm.NewRetryer(logger),
		logger:  logger,
	}
}

// WithRetryer replaces the rate-limit retry policy. Used by tests.
func (p *Planner) WithRetryer(r *llm.Retryer) *Planner {
	p.retryer = r
	return p
}

// ModelID returns the configured planning model identifier.
func (p *Planner) ModelID() string { return p.modelID }

// Plan expands task (and optional supplementary notes and reference
// videos) into a Plan. Rate limiting is retried with bounded backoff;
// an unparseable response degrades into a prose-only Plan rather than
// failing the run.
func (p *Planner) Plan(ctx context.Context, task, notes string, referenceVideos []string) (*Plan, error) {
	prompt, err := buildPrompt(task, notes, referenceVideos)
	if err != nil {
		return nil, fmt.Errorf("build planning prompt: %w", err)
	}

	p.logger.Infof("🧠 Planning task with model %s (prompt %d chars)", p.modelID, len(prompt))

	var raw string
	err = p.retryer.Do(ctx, "planner", func(ctx context.Context) error {
		resp, err := llms.GenerateFromSinglePrompt(ctx, p.model, prompt)
		if err != nil {
			return err
		}
		raw = resp
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("planning model call: %w", err)
	}

	plan := p.parse(raw, task)
	p.logger.Infof("🧠 Plan ready: modules=%d, todos=%d, degraded=%v",
		len(plan.Overview.Modules), len(plan.TodoList), plan.Degraded)
	return plan, nil
}

// parse converts the raw model output into a Plan. On failure the
// planner returns a degraded Plan whose BuildPrompt is the raw text;
// the caller records the degradation and proceeds.
func (p *Planner) parse(raw, task string) *Plan {
	var wire planWire
	if err := jsonx.ExtractObject(raw, &wire); err != nil || wire.BuildPrompt == "" {
		p.logger.Warnf("⚠️ Planner response unparseable, returning degraded plan: %v", err)
		return &Plan{
			Overview:    Overview{Title: task},
			BuildPrompt: raw,
			Degraded:    true,
		}
	}

	plan := &Plan{
		Overview:    wire.CourseOverview,
		UISpec:      wire.GlobalUISpec,
		BuildPrompt: wire.BuildPrompt,
		Thinking:    wire.Thinking,
	}
	plan.TodoList = buildTodoList(plan.Overview, plan.BuildPrompt)
	return plan
}

// buildTodoList derives the ordered todo list from the overview: a
// single setup item, one module item per overview module with a
// stable module id, and a single trailing validation item.
func buildTodoList(overview Overview, buildPrompt string) []Todo {
	priority := 0
	next := func() int { priority++; return priority }

	todos := []Todo{{
		ID:          "todo-setup",
		Type:        TodoSetup,
		Title:       "Set up project scaffold",
		Description: "Create the base page structure, stylesheet, and script files the modules build on.",
		Requirements: map[string]string{
			"build_prompt": buildPrompt,
		},
		Priority: next(),
	}}

	for i := range overview.Modules {
		idx := i
		m := overview.Modules[i]
		todos = append(todos, Todo{
			ID:          fmt.Sprintf("todo-module-%d", i+1),
			Type:        TodoModule,
			Title:       m.Title,
			Description: m.Description,
			ModuleIndex: &idx,
			ModuleID:    fmt.Sprintf("module-%d", i+1),
			Requirements: map[string]string{
				"features": joinFeatures(m.Features),
			},
			Priority: next(),
		})
	}

	todos = append(todos, Todo{
		ID:          "todo-validation",
		Type:        TodoValidation,
		Title:       "Validate the assembled page",
		Description: "Confirm all modules render together, navigation works, and the page loads without console errors.",
		Priority:    next(),
	})
	return todos
}

func joinFeatures(features []string) string {
	if len(features) == 0 {
		return ""
	}
	out := ""
	for i, f := range features {
		if i > 0 {
			out += "; "
		}
		out += f
	}
	return out
}
