// Package evaluator drives a browser through the generated page,
// verifying every interaction against observed page state, and scores
// the result against a weighted rubric.
package evaluator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tmc/langchaingo/llms"

	"webloop/internal/llm"
	"webloop/internal/utils"
)

// DefaultMaxTurns bounds the exploration loop.
const DefaultMaxTurns = 30

// stabilizationWait gives the page time to settle after navigation
// before the dialog guard and first observation.
const stabilizationWait = 2 * time.Second

// Options configures an evaluation run.
type Options struct {
	MaxTurns      int
	ScreenshotDir string
	Rubric        Rubric
}

// Result is the outcome of one evaluation: the verdict, the full
// exploration log, and every screenshot taken along the way.
type Result struct {
	Verdict     Verdict  `json:"verdict"`
	Steps       []Step   `json:"steps"`
	Screenshots []string `json:"screenshots"`
	Degraded    bool     `json:"degraded"`
}

// Evaluator explores and scores a running page. Safe for sequential
// reuse; the browser session is per-run.
type Evaluator struct {
	model   llms.Model
	modelID string
	browser Browser
	retryer *llm.Retryer
	logger  utils.ExtendedLogger
	opts    Options

	// Sleep is the stabilization wait, injectable for tests.
	Sleep func(ctx context.Context, d time.Duration) error

	// OnStep, when set, is called after every recorded exploration
	// step. Used to stream progress into the trace.
	OnStep func(Step)
}

// New creates an evaluator over a chat model and a browser session.
func New(model llms.Model, modelID string, browser Browser, opts Options, logger utils.ExtendedLogger) *Evaluator {
	if opts.MaxTurns <= 0 {
		opts.MaxTurns = DefaultMaxTurns
	}
	if opts.Rubric.ID == "" {
		opts.Rubric = DefaultRubric()
	}
	return &Evaluator{
		model:   model,
		modelID: modelID,
		browser: browser,
		retryer: llm.NewRetryer(logger),
		logger:  logger,
		opts:    opts,
		Sleep: func(ctx context.Context, d time.Duration) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d):
				return nil
			}
		},
	}
}

// WithRetryer replaces the rate-limit retry policy. Used by tests.
func (e *Evaluator) WithRetryer(r *llm.Retryer) *Evaluator {
	e.retryer = r
	return e
}

// ModelID returns the configured evaluation model identifier.
func (e *Evaluator) ModelID() string { return e.modelID }

// Evaluate navigates to url, explores the page for up to MaxTurns
// verified interactions, and scores what it saw against the rubric.
// A dead browser or an unrecoverable model failure produces a
// degraded verdict, never an error that kills the run.
func (e *Evaluator) Evaluate(ctx context.Context, task, url string, iteration int) (*Result, error) {
	e.logger.Infof("🔍 Evaluating %s (iteration %d, max %d turns)", url, iteration, e.opts.MaxTurns)

	if _, err := e.browser.Navigate(ctx, url); err != nil {
		e.logger.Errorf("❌ Navigation failed: %v", err)
		return e.degraded(fmt.Sprintf("navigation to %s failed: %v", url, err)), nil
	}
	if err := e.Sleep(ctx, stabilizationWait); err != nil {
		return nil, err
	}
	if err := e.installDialogGuard(ctx); err != nil {
		e.logger.Errorf("❌ Dialog guard install failed: %v", err)
		return e.degraded(err.Error()), nil
	}

	result := &Result{}

	current, err := e.observe(ctx, e.screenshotPath(iteration, 0))
	if err != nil {
		e.logger.Errorf("❌ Initial observation failed: %v", err)
		return e.degraded(err.Error()), nil
	}
	if current.DesktopScreenshotPath != "" {
		result.Screenshots = append(result.Screenshots, current.DesktopScreenshotPath)
	}

	for turn := 1; turn <= e.opts.MaxTurns; turn++ {
		call, summary, err := e.nextAction(ctx, task, result.Steps, current, result.Screenshots)
		if err != nil {
			e.logger.Errorf("❌ Exploration model failed on turn %d: %v", turn, err)
			break
		}
		if call == nil {
			e.logger.Infof("🔍 Exploration ended by model on turn %d", turn)
			if summary != "" && len(result.Steps) > 0 {
				result.Steps[len(result.Steps)-1].Summary = summary
			}
			break
		}

		args := map[string]interface{}{}
		if call.FunctionCall.Arguments != "" {
			_ = json.Unmarshal([]byte(call.FunctionCall.Arguments), &args)
		}
		if call.FunctionCall.Name == finishToolName {
			e.logger.Infof("🔍 Exploration finished: %v", args["reason"])
			break
		}

		step := Step{
			Turn:            turn,
			Tool:            call.FunctionCall.Name,
			Args:            args,
			BeforeSignature: current.DOMSignature,
		}

		toolErr := e.executeTool(ctx, call.FunctionCall.Name, args)
		if toolErr != nil {
			step.Error = toolErr.Error()
		}

		after, obsErr := e.observe(ctx, e.screenshotPath(iteration, turn))
		if obsErr != nil {
			e.logger.Errorf("❌ Observation failed after turn %d, browser presumed dead: %v", turn, obsErr)
			step.Error = joinErrors(step.Error, obsErr.Error())
			result.Steps = append(result.Steps, step)
			e.emitStep(step)
			res := e.degraded(obsErr.Error())
			res.Steps = result.Steps
			res.Screenshots = result.Screenshots
			return res, nil
		}

		step.AfterSignature = after.DOMSignature
		step.Verification = verify(current, after)
		step.ScreenshotPath = after.DesktopScreenshotPath
		if after.DesktopScreenshotPath != "" {
			result.Screenshots = append(result.Screenshots, after.DesktopScreenshotPath)
		}
		result.Steps = append(result.Steps, step)
		e.emitStep(step)
		current = after
	}

	verdict, err := e.score(ctx, task, result.Steps, current, result.Screenshots)
	if err != nil {
		e.logger.Errorf("❌ Scoring failed: %v", err)
		res := e.degraded(err.Error())
		res.Steps = result.Steps
		res.Screenshots = result.Screenshots
		return res, nil
	}
	result.Verdict = *verdict
	e.logger.Infof("🔍 Evaluation complete: score=%d passed=%v issues=%d",
		verdict.Score, verdict.Passed, len(verdict.Issues))
	return result, nil
}

// nextAction presents the current state to the model and returns its
// chosen tool call, or (nil, summary) when the model stops calling
// tools.
func (e *Evaluator) nextAction(ctx context.Context, task string, steps []Step, current *Observation, screenshots []string) (*llms.ToolCall, string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, explorationSystemPrompt),
	}

	userParts := []llms.ContentPart{
		llms.TextPart(fmt.Sprintf("Task being evaluated:\n%s\n\nExploration so far:\n%s\nCurrent page state:\n%s",
			task, compactLog(steps), compactObservation(current))),
	}
	for _, part := range recentScreenshotParts(screenshots, 3) {
		userParts = append(userParts, part)
	}
	messages = append(messages, llms.MessageContent{Role: llms.ChatMessageTypeHuman, Parts: userParts})

	var resp *llms.ContentResponse
	err := e.retryer.Do(ctx, "evaluator-explore", func(ctx context.Context) error {
		var callErr error
		resp, callErr = e.model.GenerateContent(ctx, messages, llms.WithTools(explorationTools()))
		return callErr
	})
	if err != nil {
		return nil, "", err
	}
	if len(resp.Choices) == 0 {
		return nil, "", fmt.Errorf("empty model response")
	}
	choice := resp.Choices[0]
	if len(choice.ToolCalls) == 0 {
		return nil, choice.Content, nil
	}
	return &choice.ToolCalls[0], "", nil
}

// executeTool dispatches one exploration tool call to the browser.
// Unknown tools and missing arguments are reported as errors the
// model sees in its next observation.
func (e *Evaluator) executeTool(ctx context.Context, name string, args map[string]interface{}) error {
	str := func(key string) string {
		v, _ := args[key].(string)
		return v
	}
	num := func(key string, def int) int {
		if v, ok := args[key].(float64); ok {
			return int(v)
		}
		return def
	}

	var err error
	switch name {
	case "browser_click":
		if str("selector") == "" {
			return fmt.Errorf("browser_click requires a selector")
		}
		_, err = e.browser.Click(ctx, str("selector"))
	case "browser_type":
		if str("selector") == "" {
			return fmt.Errorf("browser_type requires a selector")
		}
		_, err = e.browser.Type(ctx, str("selector"), str("text"))
	case "browser_scroll":
		_, err = e.browser.Scroll(ctx, str("direction"), num("amount", 600))
	case "browser_hover":
		if str("selector") == "" {
			return fmt.Errorf("browser_hover requires a selector")
		}
		_, err = e.browser.Hover(ctx, str("selector"))
	case "browser_press_key":
		_, err = e.browser.PressKey(ctx, str("key"))
	case "browser_evaluate":
		if str("expression") == "" {
			return fmt.Errorf("browser_evaluate requires an expression")
		}
		_, err = e.browser.Evaluate(ctx, str("expression"))
	case "browser_wait_for":
		_, err = e.browser.WaitFor(ctx, str("condition"), num("timeout_ms", 5000))
	case "browser_get_url":
		_, err = e.browser.Evaluate(ctx, "window.location.href")
	case "browser_dom_snapshot":
		_, err = e.browser.Snapshot(ctx)
	default:
		return fmt.Errorf("unknown tool %q", name)
	}
	return err
}

func (e *Evaluator) screenshotPath(iteration, turn int) string {
	if e.opts.ScreenshotDir == "" {
		return ""
	}
	return filepath.Join(e.opts.ScreenshotDir, fmt.Sprintf("iter_%d_turn_%d.png", iteration, turn))
}

// degraded builds the fixed fallback verdict used when evaluation
// itself failed. The run records the issue and proceeds.
func (e *Evaluator) degraded(reason string) *Result {
	return &Result{
		Degraded: true,
		Verdict: Verdict{
			Score:    50,
			Passed:   false,
			RubricID: e.opts.Rubric.ID,
			Feedback: "Evaluation could not be completed: " + reason,
			Issues: []Issue{{
				Category:    "robustness",
				Severity:    SeverityHigh,
				Description: "evaluation failed: " + reason,
			}},
		},
	}
}

func (e *Evaluator) emitStep(step Step) {
	if e.OnStep != nil {
		e.OnStep(step)
	}
}

// recentScreenshotParts loads the last n screenshots as binary prompt
// parts. Unreadable files are skipped silently.
func recentScreenshotParts(paths []string, n int) []llms.ContentPart {
	if len(paths) > n {
		paths = paths[len(paths)-n:]
	}
	var parts []llms.ContentPart
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		parts = append(parts, llms.BinaryPart("image/png", data))
	}
	return parts
}

func joinErrors(a, b string) string {
	if a == "" {
		return b
	}
	return a + "; " + b
}

const explorationSystemPrompt = `You are a meticulous QA engineer evaluating a generated web page in a real browser.

Each turn you receive the task description, your exploration log, the current page state (visible text, interactive targets with stable CSS selectors, console errors, intercepted dialogs), and recent screenshots.

Rules:
- Use only the selectors listed as interactive targets, or ids you discovered via browser_evaluate.
- Exercise every advertised feature at least once: click buttons, fill forms, follow navigation.
- Each action is verified against the page; "no visible change" after a click usually means the control is broken. Record that.
- Prefer breadth over depth: visit every module before drilling into one.
- Call finish_exploration once every feature has been exercised or the turn budget nears exhaustion.`
