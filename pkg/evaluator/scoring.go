package evaluator

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"

	"webloop/internal/jsonx"
)

// brokenInteractiveCap is the score ceiling when a core interactive
// element was found broken (critical functionality issue).
const brokenInteractiveCap = 40

// verdictWire mirrors the JSON the scoring model returns.
type verdictWire struct {
	CategoryScores map[string]int `json:"category_scores"`
	Issues         []Issue        `json:"issues"`
	FixSuggestions []string       `json:"fix_suggestions"`
	Feedback       string         `json:"feedback"`
}

// score makes the final scoring call over the exploration evidence and
// normalizes the model's output into a Verdict the loop can trust:
// scores are clamped to category weights, the total is recomputed, and
// the robustness and broken-interactive rules are enforced in code.
func (e *Evaluator) score(ctx context.Context, task string, steps []Step, final *Observation, screenshots []string) (*Verdict, error) {
	prompt := e.scoringPrompt(task, steps, final)

	parts := []llms.ContentPart{llms.TextPart(prompt)}
	for _, p := range recentScreenshotParts(keyScreenshots(screenshots), 3) {
		parts = append(parts, p)
	}
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, scoringSystemPrompt),
		{Role: llms.ChatMessageTypeHuman, Parts: parts},
	}

	var resp *llms.ContentResponse
	err := e.retryer.Do(ctx, "evaluator-score", func(ctx context.Context) error {
		var callErr error
		resp, callErr = e.model.GenerateContent(ctx, messages)
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("scoring model call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("empty scoring response")
	}

	var wire verdictWire
	if err := jsonx.ExtractObject(resp.Choices[0].Content, &wire); err != nil {
		return nil, fmt.Errorf("parse scoring response: %w", err)
	}
	return e.normalize(wire, steps, final), nil
}

// normalize converts the model's raw scores into a Verdict, enforcing
// the rubric rules the model cannot be trusted to apply itself.
func (e *Evaluator) normalize(wire verdictWire, steps []Step, final *Observation) *Verdict {
	rubric := e.opts.Rubric

	scores := make(map[string]int, len(rubric.Categories))
	for _, cat := range rubric.Categories {
		s := wire.CategoryScores[cat.Name]
		if s < 0 {
			s = 0
		}
		if s > cat.Weight {
			s = cat.Weight
		}
		scores[cat.Name] = s
	}

	v := &Verdict{
		CategoryScores: scores,
		Issues:         wire.Issues,
		FixSuggestions: wire.FixSuggestions,
		Feedback:       wire.Feedback,
		RubricID:       rubric.ID,
	}

	// Any console error zeroes robustness, whatever the model said.
	if consoleErrorsSeen(steps, final) && scores["robustness"] > 0 {
		e.logger.Infof("🔍 Console errors observed, zeroing robustness score")
		scores["robustness"] = 0
	}

	total := 0
	for _, s := range scores {
		total += s
	}
	v.Score = total

	// A broken core control caps the total: a page whose buttons do
	// nothing cannot pass on looks alone. The reduction comes out of
	// the category scores as well, functionality first, so the verdict
	// always satisfies sum(categoryScores) == score.
	if hasCriticalFunctionalityIssue(v.Issues) && v.Score > brokenInteractiveCap {
		e.logger.Infof("🔍 Critical functionality issue, capping score at %d", brokenInteractiveCap)
		excess := v.Score - brokenInteractiveCap
		excess = reduceCategory(scores, "functionality", excess)
		for _, cat := range rubric.Categories {
			if excess == 0 {
				break
			}
			excess = reduceCategory(scores, cat.Name, excess)
		}
		v.Score = brokenInteractiveCap
	}

	v.Passed = v.Score >= PassThreshold
	return v
}

// reduceCategory takes up to excess points out of one category and
// returns what is still left to remove.
func reduceCategory(scores map[string]int, name string, excess int) int {
	if excess <= 0 {
		return 0
	}
	cut := scores[name]
	if cut > excess {
		cut = excess
	}
	scores[name] -= cut
	return excess - cut
}

func consoleErrorsSeen(steps []Step, final *Observation) bool {
	if final != nil && len(final.ConsoleErrors) > 0 {
		return true
	}
	for _, s := range steps {
		if len(s.Verification.NewConsoleErrors) > 0 {
			return true
		}
	}
	return false
}

func hasCriticalFunctionalityIssue(issues []Issue) bool {
	for _, is := range issues {
		if is.Category == "functionality" && is.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

// keyScreenshots picks the first, middle, and last screenshots as the
// visual evidence for scoring.
func keyScreenshots(paths []string) []string {
	if len(paths) <= 3 {
		return paths
	}
	return []string{paths[0], paths[len(paths)/2], paths[len(paths)-1]}
}

func (e *Evaluator) scoringPrompt(task string, steps []Step, final *Observation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task the page was built for:\n%s\n\n", task)

	b.WriteString("Rubric categories (score each from 0 to its weight):\n")
	for _, cat := range e.opts.Rubric.Categories {
		fmt.Fprintf(&b, "  - %s: weight %d\n", cat.Name, cat.Weight)
	}

	fmt.Fprintf(&b, "\nVerified exploration log:\n%s\n", compactLog(steps))
	if final != nil {
		fmt.Fprintf(&b, "Final page state:\n%s\n", compactObservation(final))
	}

	b.WriteString(`
Respond with a single JSON object:
{
  "category_scores": {"functionality": 0, "visual_design": 0, "ux": 0, "accessibility": 0, "responsiveness": 0, "robustness": 0},
  "issues": [{"category": "...", "severity": "critical|high|medium|low", "description": "...", "repro_steps": ["..."]}],
  "fix_suggestions": ["..."],
  "feedback": "..."
}
Base scores only on verified evidence from the log and screenshots. An interaction whose verification shows no change is a broken control: file a critical functionality issue for it.`)
	return b.String()
}

const scoringSystemPrompt = `You are a strict web-quality judge. You score only what the exploration log and screenshots prove, never what the page merely claims. Respond with JSON only.`
