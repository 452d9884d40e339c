// Package runner drives one full orchestration run: bootstrap, plan,
// generate, and the evaluate/patch loop, with every transition traced
// and every artifact persisted.
package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"webloop/internal/utils"
	"webloop/pkg/agent"
	"webloop/pkg/artifacts"
	"webloop/pkg/bootstrap"
	"webloop/pkg/database"
	"webloop/pkg/evaluator"
	"webloop/pkg/events"
	"webloop/pkg/gitops"
	"webloop/pkg/patch"
	"webloop/pkg/paths"
	"webloop/pkg/planner"
	"webloop/pkg/preview"
	"webloop/pkg/trace"
)

// PlannerAPI is the slice of the planner the controller uses.
type PlannerAPI interface {
	Plan(ctx context.Context, task, notes string, referenceVideos []string) (*planner.Plan, error)
	ModelID() string
}

// EvaluatorAPI is the slice of the evaluator the controller uses.
type EvaluatorAPI interface {
	Evaluate(ctx context.Context, task, url string, iteration int) (*evaluator.Result, error)
	ModelID() string
}

// BrowserSession is the browser subprocess lifecycle the controller
// owns during evaluation phases.
type BrowserSession interface {
	Connect(ctx context.Context) error
	Disconnect() error
}

// Options configures one run.
type Options struct {
	Task          string
	Notes         string
	MaxIterations int
	RubricID      string
	Bootstrap     bootstrap.Options

	// IterationBudget is a soft per-iteration wall-clock budget.
	// Exceeding it is recorded, never fatal.
	IterationBudget time.Duration
}

// Deps are the collaborators a run needs. Publisher, DB, Bus, and
// Browser are optional.
type Deps struct {
	Planner   PlannerAPI
	Evaluator EvaluatorAPI
	Agent     *agent.Client
	Store     *artifacts.Store
	Browser   BrowserSession
	Publisher *gitops.Publisher
	DB        database.Database
	Bus       *events.Bus
}

// Controller owns one run end to end: one PathConfig, one preview
// server, one trace, one artifact store, and (during evaluation) one
// browser session.
type Controller struct {
	paths   *paths.PathConfig
	opts    Options
	deps    Deps
	logger  utils.ExtendedLogger
	preview *preview.Server
	trace   *trace.Trace

	state            runState
	commitIDs        []string
	browserConnected bool
}

// NewController wires a controller over an established path layout.
func NewController(p *paths.PathConfig, opts Options, deps Deps, logger utils.ExtendedLogger) (*Controller, error) {
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = 10
	}
	tr, err := trace.New(filepath.Join(p.WorkspaceDir, "trace.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("create trace: %w", err)
	}
	return &Controller{
		paths:   p,
		opts:    opts,
		deps:    deps,
		logger:  logger,
		trace:   tr,
		preview: preview.New(p.ProjectRoot, p.PreviewHost, p.PreviewPort, logger),
		state:   runState{RunID: p.RunID, State: StateSetup},
	}, nil
}

// TracePath returns the run's trace file location.
func (c *Controller) TracePath() string { return c.trace.Path() }

// Run executes the full phase sequence and always finalizes: manifest,
// report, state, and view.html are written on every exit path.
func (c *Controller) Run(ctx context.Context) (*Manifest, error) {
	startedAt := time.Now().UTC()
	c.logger.Infof("🚀 Starting run %s: %s", c.paths.RunID, c.opts.Task)

	// Phase 0 — setup.
	c.transition(StateSetup, 0)
	if err := c.preview.Start(); err != nil {
		return c.finalize(startedAt, nil, StopError, fmt.Sprintf("preview server: %v", err))
	}
	defer c.preview.Stop()
	defer c.disconnectBrowser()

	c.trace.InfoEvent(trace.RunStart, "run started", map[string]interface{}{
		"run_id": c.paths.RunID,
		"task":   c.opts.Task,
	})
	c.busEmit(events.RunStart, 0, c.opts.Task, nil)
	c.recordRunStart(ctx, startedAt)

	iterations, stopReason, errMsg := c.runPhases(ctx)
	return c.finalize(startedAt, iterations, stopReason, errMsg)
}

// runPhases executes bootstrap, plan, and the iteration loop.
func (c *Controller) runPhases(ctx context.Context) ([]Iteration, StopReason, string) {
	// Phase 1 — bootstrap. Failure is recorded; generation proceeds
	// from an empty workspace.
	c.transition(StateBootstrap, 0)
	boot := bootstrap.New(c.paths, c.opts.Bootstrap, c.logger)
	if err := boot.Run(ctx); err != nil {
		c.logger.Errorf("❌ Bootstrap failed, continuing from empty workspace: %v", err)
		c.trace.WarningEvent("bootstrap failed", map[string]interface{}{"error": err.Error()})
	}

	// Phase 2 — plan.
	c.transition(StatePlan, 0)
	c.busEmit(events.PlanningStart, 0, "", nil)
	plan, err := c.deps.Planner.Plan(ctx, c.opts.Task, c.opts.Notes, nil)
	if err != nil {
		return nil, StopError, fmt.Sprintf("planning: %v", err)
	}
	c.persistPlan(plan)
	c.busEmit(events.PlanningEnd, 0, "", map[string]interface{}{"todos": len(plan.TodoList), "degraded": plan.Degraded})

	var iterations []Iteration
	allTouched := map[string]string{}

	for iter := 1; iter <= c.opts.MaxIterations; iter++ {
		iterStart := time.Now()
		c.trace.InfoEvent(trace.IterationStart, fmt.Sprintf("iteration %d", iter), map[string]interface{}{"iteration": iter})
		c.busEmit(events.IterationStart, iter, "", nil)

		it := Iteration{Index: iter, FilesTouched: map[string]string{}}

		// Phase 3 — generate, iteration 1 only.
		if iter == 1 {
			c.transition(StateGenerate, iter)
			genStart := time.Now()
			touched, genErr := c.generate(ctx, plan)
			it.GenerationDurationMs = time.Since(genStart).Milliseconds()
			if genErr != nil {
				return iterations, StopError, fmt.Sprintf("generation: %v", genErr)
			}
			for rel, abs := range touched {
				it.FilesTouched[rel] = abs
				allTouched[rel] = abs
			}
		}

		// Phase 4 — evaluate.
		c.transition(StateEvaluate, iter)
		c.trace.InfoEvent(trace.TestingStart, "verifying preview", map[string]interface{}{"url": c.paths.PreviewURL()})
		c.ensureIndex()
		c.trace.InfoEvent(trace.TestingEnd, "preview verified", nil)
		if err := c.connectBrowser(ctx); err != nil {
			c.logger.Errorf("❌ Browser connect failed: %v", err)
			c.trace.ErrorEvent("browser connect failed", map[string]interface{}{"error": err.Error()})
		}

		c.trace.InfoEvent(trace.EvaluationStart, fmt.Sprintf("evaluating iteration %d", iter), nil)
		c.busEmit(events.EvaluationStart, iter, "", nil)
		evalStart := time.Now()
		res, evalErr := c.deps.Evaluator.Evaluate(ctx, c.opts.Task, c.paths.PreviewURL(), iter)
		it.EvaluationDurationMs = time.Since(evalStart).Milliseconds()
		if evalErr != nil {
			return iterations, StopError, fmt.Sprintf("evaluation: %v", evalErr)
		}

		it.Score = res.Verdict.Score
		it.Passed = res.Verdict.Passed
		it.Feedback = res.Verdict.Feedback
		it.Verdict = res.Verdict
		it.ScreenshotPaths = c.registerScreenshots(iter, res.Screenshots)

		if _, err := c.deps.Store.SaveEvaluation(iter, res.Verdict, float64(res.Verdict.Score), res.Verdict.Passed); err != nil {
			c.logger.Warnf("⚠️ Could not save evaluation artifact: %v", err)
		}
		c.trace.InfoEvent(trace.EvaluationEnd, fmt.Sprintf("score %d/100", res.Verdict.Score), map[string]interface{}{
			"score":  res.Verdict.Score,
			"passed": res.Verdict.Passed,
		})
		c.busEmit(events.EvaluationEnd, iter, "", map[string]interface{}{"score": res.Verdict.Score, "passed": res.Verdict.Passed})

		iterations = append(iterations, it)
		c.recordIteration(ctx, &it, iterStart)
		c.trace.InfoEvent(trace.IterationEnd, fmt.Sprintf("iteration %d done", iter), map[string]interface{}{
			"score": it.Score, "passed": it.Passed,
		})
		c.busEmit(events.IterationEnd, iter, "", map[string]interface{}{"score": it.Score})

		if c.opts.IterationBudget > 0 && time.Since(iterStart) > c.opts.IterationBudget {
			c.trace.WarningEvent("iteration exceeded soft budget", map[string]interface{}{
				"iteration": iter,
				"budget_ms": c.opts.IterationBudget.Milliseconds(),
				"actual_ms": time.Since(iterStart).Milliseconds(),
			})
		}

		// Phase 5 — decide.
		if it.Passed {
			return iterations, StopPassed, ""
		}
		if iter == c.opts.MaxIterations {
			return iterations, StopMaxIterations, ""
		}

		// Phase 6 — patch.
		c.transition(StatePatch, iter)
		patchPlan := patch.BuildPlan(&res.Verdict, c.opts.Task, relPaths(allTouched))
		if _, err := c.deps.Store.SaveJSON(fmt.Sprintf("patch_plan_iter_%d.json", iter), "patch_plan", patchPlan); err != nil {
			c.logger.Warnf("⚠️ Could not save patch plan artifact: %v", err)
		}
		c.busEmit(events.PatchPlanCreated, iter, "", map[string]interface{}{"files": len(patchPlan.Files)})

		patchRes := c.deps.Agent.ApplyPatch(ctx, c.paths.WorkspaceDir, patchPlan)
		if patchRes.OK {
			touched, syncErr := c.syncToTargets(patchRes.FilesModified)
			if syncErr != nil {
				return iterations, StopError, fmt.Sprintf("sync patched files: %v", syncErr)
			}
			for rel, abs := range touched {
				allTouched[rel] = abs
			}
			c.busEmit(events.PatchApplied, iter, "", map[string]interface{}{"files": len(patchRes.FilesModified)})
			c.publishSnapshot(ctx, iter, it.Score)
		} else {
			c.trace.WarningEvent("patch application failed", map[string]interface{}{"iteration": iter})
		}
	}

	return iterations, StopMaxIterations, ""
}

// generate runs phase 3: every todo in priority order, outputs synced
// into project root and site dir after each one. A degraded plan with
// no todos falls back to a single full generation call.
func (c *Controller) generate(ctx context.Context, plan *planner.Plan) (map[string]string, error) {
	c.trace.InfoEvent(trace.GenerationStart, "generation started", map[string]interface{}{"todos": len(plan.TodoList)})
	c.busEmit(events.GenerationStart, 1, "", nil)

	touched := map[string]string{}
	if len(plan.TodoList) == 0 {
		res, err := c.deps.Agent.Generate(ctx, plan.BuildPrompt, c.paths.WorkspaceDir, nil)
		if err != nil {
			return nil, err
		}
		synced, err := c.syncToTargets(res.FilesTouched)
		if err != nil {
			return nil, err
		}
		for rel, abs := range synced {
			touched[rel] = abs
		}
	} else {
		for _, todo := range plan.TodoList {
			c.busEmit(events.TodoStart, 1, todo.Title, map[string]interface{}{"todo_id": todo.ID})
			res := c.deps.Agent.ExecuteTodo(ctx, todo, c.paths.WorkspaceDir, plan.BuildPrompt)
			if !res.OK {
				// Recorded; the run continues with the next todo.
				c.trace.WarningEvent("todo failed", map[string]interface{}{"todo_id": todo.ID})
				c.busEmit(events.TodoEnd, 1, todo.Title, map[string]interface{}{"todo_id": todo.ID, "ok": false})
				continue
			}
			synced, err := c.syncToTargets(res.FilesTouched)
			if err != nil {
				return nil, err
			}
			for rel, abs := range synced {
				touched[rel] = abs
			}
			c.busEmit(events.TodoEnd, 1, todo.Title, map[string]interface{}{"todo_id": todo.ID, "ok": true})
		}
	}

	c.ensureIndex()
	c.trace.InfoEvent(trace.GenerationEnd, "generation finished", map[string]interface{}{"files": len(touched)})
	c.busEmit(events.GenerationEnd, 1, "", map[string]interface{}{"files": len(touched)})
	return touched, nil
}

// persistPlan writes the plan documents under the artifacts dir.
func (c *Controller) persistPlan(plan *planner.Plan) {
	if _, err := c.deps.Store.SaveJSON("plan.json", "plan", plan); err != nil {
		c.logger.Warnf("⚠️ Could not save plan artifact: %v", err)
	}
	if _, err := c.deps.Store.SaveJSON("todo_list.json", "plan", plan.TodoList); err != nil {
		c.logger.Warnf("⚠️ Could not save todo list artifact: %v", err)
	}
	if _, err := c.deps.Store.SaveFile("build_prompt.txt", "plan", []byte(plan.BuildPrompt), nil); err != nil {
		c.logger.Warnf("⚠️ Could not save build prompt artifact: %v", err)
	}
	if plan.Thinking != "" {
		if _, err := c.deps.Store.SaveFile("planner_thinking.txt", "plan", []byte(plan.Thinking), nil); err != nil {
			c.logger.Warnf("⚠️ Could not save thinking artifact: %v", err)
		}
	}
	if plan.Degraded {
		c.trace.WarningEvent("planner returned a degraded plan", nil)
	}
}

// registerScreenshots copies evaluator screenshots into the artifact
// store and returns the stored paths.
func (c *Controller) registerScreenshots(iteration int, srcs []string) []string {
	var stored []string
	for _, src := range srcs {
		dst, err := c.deps.Store.SaveScreenshot(iteration, filepath.Base(src), src, nil)
		if err != nil {
			c.logger.Warnf("⚠️ Could not register screenshot %s: %v", src, err)
			continue
		}
		stored = append(stored, dst)
		c.trace.InfoEvent(trace.ScreenshotTaken, filepath.Base(dst), map[string]interface{}{"path": dst})
	}
	return stored
}

func (c *Controller) connectBrowser(ctx context.Context) error {
	if c.deps.Browser == nil || c.browserConnected {
		return nil
	}
	if err := c.deps.Browser.Connect(ctx); err != nil {
		return err
	}
	c.browserConnected = true
	return nil
}

func (c *Controller) disconnectBrowser() {
	if c.deps.Browser == nil || !c.browserConnected {
		return
	}
	if err := c.deps.Browser.Disconnect(); err != nil {
		c.logger.Warnf("⚠️ Browser disconnect: %v", err)
	}
	c.browserConnected = false
}

func (c *Controller) publishSnapshot(ctx context.Context, iteration, score int) {
	if c.deps.Publisher == nil || !c.deps.Publisher.Enabled() {
		return
	}
	commitID, err := c.deps.Publisher.PublishIteration(ctx, iteration, score)
	if err != nil {
		c.logger.Warnf("⚠️ Snapshot publish failed for iteration %d: %v", iteration, err)
		return
	}
	c.commitIDs = append(c.commitIDs, commitID)
	c.busEmit(events.SnapshotPublished, iteration, "", map[string]interface{}{"commit": commitID})
}

// finalize writes report.json, state.json, manifest.json, and
// view.html, records the run in the database, and emits RunEnd.
func (c *Controller) finalize(startedAt time.Time, iterations []Iteration, stopReason StopReason, errMsg string) (*Manifest, error) {
	completedAt := time.Now().UTC()

	finalScore := 0
	finalPassed := false
	if n := len(iterations); n > 0 {
		finalScore = iterations[n-1].Score
		finalPassed = iterations[n-1].Passed
	}

	switch stopReason {
	case StopPassed:
		c.transition(StatePassed, len(iterations))
	case StopMaxIterations:
		c.transition(StateMaxIterations, len(iterations))
	default:
		c.transition(StateError, len(iterations))
	}

	manifest := &Manifest{
		RunID:           c.paths.RunID,
		Task:            c.opts.Task,
		StartedAt:       startedAt,
		CompletedAt:     completedAt,
		DurationSeconds: completedAt.Sub(startedAt).Seconds(),
		PlannerModel:    c.deps.Planner.ModelID(),
		EvaluatorModel:  c.deps.Evaluator.ModelID(),
		RubricID:        c.opts.RubricID,
		IterationCount:  len(iterations),
		FinalScore:      finalScore,
		FinalPassed:     finalPassed,
		StopReason:      stopReason,
		CommitIDs:       c.commitIDs,
		WorkspaceDir:    c.paths.WorkspaceDir,
		ArtifactsDir:    c.paths.ArtifactsDir,
		SiteDir:         c.paths.SiteDir,
		PreviewURL:      c.paths.PreviewURL(),
		ErrorMessage:    errMsg,
	}
	if c.deps.Publisher != nil && c.deps.Publisher.Enabled() {
		manifest.GitBranch = c.deps.Publisher.Branch()
	}

	report := &Report{
		RunID:      c.paths.RunID,
		Task:       c.opts.Task,
		FinalScore: finalScore,
		StopReason: stopReason,
		Iterations: iterations,
	}

	if err := writeJSON(filepath.Join(c.paths.WorkspaceDir, "manifest.json"), manifest); err != nil {
		c.logger.Errorf("❌ Could not write manifest: %v", err)
	}
	if err := writeJSON(filepath.Join(c.paths.WorkspaceDir, "report.json"), report); err != nil {
		c.logger.Errorf("❌ Could not write report: %v", err)
	}
	if err := c.writeView(manifest, report); err != nil {
		c.logger.Errorf("❌ Could not write view.html: %v", err)
	}

	counts := c.deps.Store.Counts()
	c.logger.Infof("📦 Artifacts: %v", counts)

	c.trace.InfoEvent(trace.RunEnd, fmt.Sprintf("run finished: %s", stopReason), map[string]interface{}{
		"stop_reason": string(stopReason),
		"final_score": finalScore,
		"passed":      finalPassed,
	})
	c.busEmit(events.RunEnd, len(iterations), string(stopReason), map[string]interface{}{"final_score": finalScore})

	c.recordRunEnd(manifest)
	if err := c.trace.Close(); err != nil {
		c.logger.Warnf("⚠️ Trace close: %v", err)
	}

	c.logger.Infof("🏁 Run %s finished: %s, score %d/100, %d iteration(s)",
		c.paths.RunID, stopReason, finalScore, len(iterations))

	if stopReason == StopError {
		return manifest, fmt.Errorf("run failed: %s", errMsg)
	}
	return manifest, nil
}

// transition moves the state machine and persists state.json.
func (c *Controller) transition(state State, iteration int) {
	c.state.State = state
	c.state.Iteration = iteration
	c.state.UpdatedAt = time.Now().UTC()
	c.state.History = append(c.state.History, stateTransition{State: state, At: c.state.UpdatedAt})
	if err := writeJSON(filepath.Join(c.paths.WorkspaceDir, "state.json"), &c.state); err != nil {
		c.logger.Warnf("⚠️ Could not persist state: %v", err)
	}
	c.busEmit(events.PhaseTransition, iteration, string(state), nil)
}

func (c *Controller) busEmit(eventType events.EventType, iteration int, message string, data map[string]interface{}) {
	if c.deps.Bus == nil {
		return
	}
	c.deps.Bus.Emit(eventType, c.paths.RunID, iteration, message, data)
}

func (c *Controller) recordRunStart(ctx context.Context, startedAt time.Time) {
	if c.deps.DB == nil {
		return
	}
	err := c.deps.DB.CreateRun(ctx, &database.RunRecord{
		RunID:          c.paths.RunID,
		Task:           c.opts.Task,
		Status:         "running",
		PlannerModel:   c.deps.Planner.ModelID(),
		EvaluatorModel: c.deps.Evaluator.ModelID(),
		RubricID:       c.opts.RubricID,
		BaseDir:        c.paths.BaseDir,
		PreviewURL:     c.paths.PreviewURL(),
		StartedAt:      startedAt,
	})
	if err != nil {
		c.logger.Warnf("⚠️ Could not record run start: %v", err)
	}
}

func (c *Controller) recordIteration(ctx context.Context, it *Iteration, startedAt time.Time) {
	if c.deps.DB == nil {
		return
	}
	now := time.Now().UTC()
	err := c.deps.DB.AddIteration(ctx, &database.IterationRecord{
		RunID:         c.paths.RunID,
		Iteration:     it.Index,
		Score:         it.Score,
		Passed:        it.Passed,
		FilesModified: len(it.FilesTouched),
		DurationMs:    it.GenerationDurationMs + it.EvaluationDurationMs,
		StartedAt:     startedAt.UTC(),
		CompletedAt:   &now,
	})
	if err != nil {
		c.logger.Warnf("⚠️ Could not record iteration %d: %v", it.Index, err)
	}
}

func (c *Controller) recordRunEnd(manifest *Manifest) {
	if c.deps.DB == nil {
		return
	}
	completed := manifest.CompletedAt
	err := c.deps.DB.UpdateRun(context.Background(), &database.RunRecord{
		RunID:          manifest.RunID,
		Status:         "completed",
		StopReason:     string(manifest.StopReason),
		FinalScore:     manifest.FinalScore,
		FinalPassed:    manifest.FinalPassed,
		IterationCount: manifest.IterationCount,
		ErrorMessage:   manifest.ErrorMessage,
		CompletedAt:    &completed,
	})
	if err != nil {
		c.logger.Warnf("⚠️ Could not record run end: %v", err)
	}
}

func relPaths(touched map[string]string) []string {
	out := make([]string, 0, len(touched))
	for rel := range touched {
		out = append(out, rel)
	}
	return out
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
