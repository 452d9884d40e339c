package patch

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webloop/pkg/evaluator"
)

func failingVerdict() *evaluator.Verdict {
	return &evaluator.Verdict{
		Score:  55,
		Passed: false,
		Issues: []evaluator.Issue{
			{Category: "visual_design", Severity: evaluator.SeverityMedium, Description: "Poor color contrast on the hero heading"},
			{Category: "functionality", Severity: evaluator.SeverityCritical, Description: "Submit button click does nothing"},
		},
		FixSuggestions: []string{"darken the heading text"},
		RubricID:       "web-quality-v1",
	}
}

func TestInstructionsStartWithTask(t *testing.T) {
	plan := BuildPlan(failingVerdict(), "Build a signup landing page", []string{"index.html", "styles.css", "script.js"})

	lines := strings.Split(plan.Instructions, "\n")
	require.NotEmpty(t, lines)
	assert.Contains(t, lines[0], "TASK:")
	assert.Contains(t, lines[0], "signup landing page")
}

func TestIssuesPinFilesWithHints(t *testing.T) {
	plan := BuildPlan(failingVerdict(), "task", []string{"index.html", "styles.css", "script.js"})

	byPath := map[string]File{}
	for _, f := range plan.Files {
		byPath[f.Path] = f
	}

	css, ok := byPath["styles.css"]
	require.True(t, ok, "visual_design issue should pin the stylesheet")
	assert.Equal(t, ActionModify, css.Action)
	assert.Contains(t, strings.Join(css.Changes, " "), "contrast")

	js, ok := byPath["script.js"]
	require.True(t, ok, "functionality issue should pin the script")
	assert.Contains(t, strings.Join(js.Changes, " "), "event handler")

	assert.Equal(t, 55, plan.OriginalScore)
	assert.Equal(t, 2, plan.IssuesCount)
}

func TestMissingHintFileIsCreated(t *testing.T) {
	verdict := &evaluator.Verdict{
		Score:  40,
		Issues: []evaluator.Issue{{Category: "visual_design", Severity: evaluator.SeverityHigh, Description: "no spacing between sections"}},
	}
	plan := BuildPlan(verdict, "task", []string{"index.html"})

	require.Len(t, plan.Files, 1)
	assert.Equal(t, "styles.css", plan.Files[0].Path)
	assert.Equal(t, ActionCreate, plan.Files[0].Action)
}

func TestNoPinnedIssuesFallsBackToAllFiles(t *testing.T) {
	verdict := &evaluator.Verdict{
		Score:  60,
		Issues: []evaluator.Issue{{Category: "unmapped_category", Severity: evaluator.SeverityLow, Description: "vague"}},
	}
	plan := BuildPlan(verdict, "task", []string{"a.html", "b.css"})

	require.Len(t, plan.Files, 2)
	for _, f := range plan.Files {
		assert.Equal(t, ActionModify, f.Action)
	}
}

func TestInstructionsListIssuesAndSuggestions(t *testing.T) {
	plan := BuildPlan(failingVerdict(), "task", []string{"index.html", "styles.css", "script.js"})

	assert.Contains(t, plan.Instructions, "55/100")
	assert.Contains(t, plan.Instructions, "Submit button click does nothing")
	assert.Contains(t, plan.Instructions, "darken the heading text")
	assert.Contains(t, plan.Instructions, "Files to change:")
}
