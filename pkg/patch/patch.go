// Package patch turns an evaluation verdict into a concrete patch
// plan: focused instructions for the generation agent plus the file
// set it should touch. Planning is deterministic; no model call is
// involved.
package patch

import (
	"fmt"
	"sort"
	"strings"

	"webloop/pkg/evaluator"
)

// Action says what happens to a file in the plan.
type Action string

const (
	ActionModify Action = "modify"
	ActionCreate Action = "create"
	ActionDelete Action = "delete"
)

// File is one file entry of a patch plan.
type File struct {
	Path        string   `json:"path"`
	Action      Action   `json:"action"`
	Description string   `json:"description"`
	Changes     []string `json:"changes,omitempty"`
}

// Plan is the patch plan for one iteration.
type Plan struct {
	Instructions  string `json:"instructions"`
	Files         []File `json:"files"`
	OriginalScore int    `json:"original_score"`
	IssuesCount   int    `json:"issues_count"`
}

// categoryFileHints maps rubric categories to the files most likely to
// need changes for issues in that category.
var categoryFileHints = map[string][]string{
	"visual_design":  {"styles.css", "css/styles.css"},
	"responsiveness": {"styles.css", "css/styles.css"},
	"functionality":  {"script.js", "js/script.js", "index.html"},
	"ux":             {"index.html", "script.js"},
	"accessibility":  {"index.html"},
	"robustness":     {"script.js", "js/script.js"},
}

// changeHintKeywords maps issue-description keywords to concrete
// change suggestions appended to the matching file entry.
var changeHintKeywords = []struct {
	keyword string
	hint    string
}{
	{"color", "adjust the color palette and contrast ratios"},
	{"colour", "adjust the color palette and contrast ratios"},
	{"contrast", "adjust the color palette and contrast ratios"},
	{"spacing", "normalize margins and padding"},
	{"padding", "normalize margins and padding"},
	{"margin", "normalize margins and padding"},
	{"font", "review typography: sizes, weights, line height"},
	{"typograph", "review typography: sizes, weights, line height"},
	{"responsive", "add or fix media queries for small viewports"},
	{"mobile", "add or fix media queries for small viewports"},
	{"overflow", "fix layout overflow and clipping"},
	{"error", "guard against runtime errors and add missing null checks"},
	{"console", "guard against runtime errors and add missing null checks"},
	{"click", "wire up the event handler so the control responds"},
	{"button", "wire up the event handler so the control responds"},
	{"alt", "add descriptive alt text and ARIA labels"},
	{"aria", "add descriptive alt text and ARIA labels"},
	{"label", "add descriptive alt text and ARIA labels"},
}

// BuildPlan derives a patch plan from a failing verdict. task is the
// original build task; filesTouched is the relative file set the
// generation agent produced so far.
func BuildPlan(verdict *evaluator.Verdict, task string, filesTouched []string) *Plan {
	plan := &Plan{
		OriginalScore: verdict.Score,
		IssuesCount:   len(verdict.Issues),
	}

	fileSet := map[string]*File{}
	touched := map[string]bool{}
	for _, f := range filesTouched {
		touched[f] = true
	}

	entry := func(path string) *File {
		if f, ok := fileSet[path]; ok {
			return f
		}
		action := ActionModify
		if !touched[path] {
			action = ActionCreate
		}
		f := &File{Path: path, Action: action}
		fileSet[path] = f
		return f
	}

	for _, issue := range verdict.Issues {
		target := pinFile(issue, filesTouched)
		if target == "" {
			continue
		}
		f := entry(target)
		f.Description = appendClause(f.Description, issue.Description)
		for _, hint := range changeHints(issue.Description) {
			if !contains(f.Changes, hint) {
				f.Changes = append(f.Changes, hint)
			}
		}
	}

	// No issue pinned to a concrete file: the agent reviews everything
	// it produced.
	if len(fileSet) == 0 {
		for _, path := range filesTouched {
			f := entry(path)
			f.Description = "Review against the reported issues and fix what applies."
		}
	}

	for _, f := range fileSet {
		plan.Files = append(plan.Files, *f)
	}
	sort.Slice(plan.Files, func(i, j int) bool { return plan.Files[i].Path < plan.Files[j].Path })

	plan.Instructions = buildInstructions(verdict, task, plan.Files)
	return plan
}

// pinFile picks the file an issue most plausibly lives in: an existing
// touched file from the category's hint list, else the first hint for
// the category, else empty.
func pinFile(issue evaluator.Issue, filesTouched []string) string {
	hints := categoryFileHints[issue.Category]
	if len(hints) == 0 {
		return ""
	}
	for _, h := range hints {
		for _, f := range filesTouched {
			if f == h || strings.HasSuffix(f, "/"+h) {
				return f
			}
		}
	}
	return hints[0]
}

func changeHints(description string) []string {
	lower := strings.ToLower(description)
	var hints []string
	for _, kw := range changeHintKeywords {
		if strings.Contains(lower, kw.keyword) && !contains(hints, kw.hint) {
			hints = append(hints, kw.hint)
		}
	}
	return hints
}

// buildInstructions renders the agent-facing prompt. The first line
// always carries the original task so the agent never loses the goal
// while patching.
func buildInstructions(verdict *evaluator.Verdict, task string, files []File) string {
	var b strings.Builder
	fmt.Fprintf(&b, "TASK: %s\n\n", strings.ReplaceAll(task, "\n", " "))
	fmt.Fprintf(&b, "The previous build scored %d/100 and did not pass. Fix the issues below without rewriting working parts.\n\n", verdict.Score)

	if len(verdict.Issues) > 0 {
		b.WriteString("Issues found during evaluation:\n")
		for i, issue := range verdict.Issues {
			fmt.Fprintf(&b, "%d. [%s/%s] %s\n", i+1, issue.Category, issue.Severity, issue.Description)
			for _, step := range issue.ReproSteps {
				fmt.Fprintf(&b, "   repro: %s\n", step)
			}
		}
		b.WriteString("\n")
	}

	if len(verdict.FixSuggestions) > 0 {
		b.WriteString("Suggested fixes:\n")
		for _, s := range verdict.FixSuggestions {
			fmt.Fprintf(&b, "- %s\n", s)
		}
		b.WriteString("\n")
	}

	if len(files) > 0 {
		b.WriteString("Files to change:\n")
		for _, f := range files {
			fmt.Fprintf(&b, "- %s (%s): %s\n", f.Path, f.Action, f.Description)
			for _, c := range f.Changes {
				fmt.Fprintf(&b, "  - %s\n", c)
			}
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func appendClause(existing, clause string) string {
	if existing == "" {
		return clause
	}
	return existing + " Also: " + clause
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
