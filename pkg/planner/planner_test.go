package planner

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"webloop/internal/llm"
	"webloop/pkg/logger"
)

// fakeModel scripts responses (or errors) in sequence.
type fakeModel struct {
	responses []string
	errs      []error
	calls     int
	prompts   []string
}

func (f *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	idx := f.calls
	f.calls++
	for _, m := range messages {
		for _, part := range m.Parts {
			if tp, ok := part.(llms.TextContent); ok {
				f.prompts = append(f.prompts, tp.Text)
			}
		}
	}
	if idx < len(f.errs) && f.errs[idx] != nil {
		return nil, f.errs[idx]
	}
	resp := ""
	if idx < len(f.responses) {
		resp = f.responses[idx]
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: resp}}}, nil
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	resp, err := f.GenerateContent(ctx, []llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, prompt)}, options...)
	if err != nil {
		return "", err
	}
	return resp.Choices[0].Content, nil
}

func testPlanner(t *testing.T, model llms.Model) *Planner {
	t.Helper()
	log := logger.CreateTestLogger(filepath.Join(t.TempDir(), "test.log"), "debug")
	p := New(model, "test-model", log)
	fast := llm.NewRetryer(log)
	fast.Sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return p.WithRetryer(fast)
}

const validPlanResponse = "```json\n" + `{
  "course_overview": {
    "title": "Landing page",
    "outline": ["hero", "cta"],
    "modules": [
      {"title": "Hero section", "description": "Big headline with imagery", "features": ["headline", "subtitle"]},
      {"title": "Call to action", "description": "Signup button block", "features": ["button"]}
    ]
  },
  "global_ui_spec": {"layout": "single-column", "components": ["hero", "cta"]},
  "openhands_build_prompt": "Build a landing page with a hero section and a call to action.",
  "thinking": "hero first, then cta"
}` + "\n```"

func TestPlanParsesStructuredResponse(t *testing.T) {
	model := &fakeModel{responses: []string{validPlanResponse}}
	p := testPlanner(t, model)

	plan, err := p.Plan(context.Background(), "Landing page with a hero and CTA", "", nil)
	require.NoError(t, err)
	assert.False(t, plan.Degraded)
	assert.Equal(t, "Landing page", plan.Overview.Title)
	assert.Contains(t, plan.BuildPrompt, "landing page")
	assert.Equal(t, "hero first, then cta", plan.Thinking)
}

func TestTodoListShape(t *testing.T) {
	model := &fakeModel{responses: []string{validPlanResponse}}
	p := testPlanner(t, model)

	plan, err := p.Plan(context.Background(), "task", "", nil)
	require.NoError(t, err)

	require.Len(t, plan.TodoList, 4)
	assert.Equal(t, TodoSetup, plan.TodoList[0].Type)
	assert.Equal(t, TodoValidation, plan.TodoList[len(plan.TodoList)-1].Type)

	// Module todos carry stable, non-overlapping module indices and
	// monotonic priorities.
	seen := map[int]bool{}
	for i, todo := range plan.TodoList {
		assert.Equal(t, i+1, todo.Priority)
		if todo.Type == TodoModule {
			require.NotNil(t, todo.ModuleIndex)
			assert.False(t, seen[*todo.ModuleIndex], "module index reused")
			seen[*todo.ModuleIndex] = true
			assert.NotEmpty(t, todo.ModuleID)
		}
	}
}

func TestPromptSubstitutesPlaceholdersOnce(t *testing.T) {
	model := &fakeModel{responses: []string{validPlanResponse}}
	p := testPlanner(t, model)

	_, err := p.Plan(context.Background(), "my unique task", "my unique notes", []string{"http://video/1"})
	require.NoError(t, err)

	require.Len(t, model.prompts, 1)
	prompt := model.prompts[0]
	assert.Equal(t, 1, strings.Count(prompt, "my unique task"))
	assert.Equal(t, 1, strings.Count(prompt, "my unique notes"))
	assert.Equal(t, 1, strings.Count(prompt, "http://video/1"))
	assert.NotContains(t, prompt, "{{TASK}}")
	assert.NotContains(t, prompt, "{{NOTES}}")
}

func TestDegradedPlanOnUnparseableResponse(t *testing.T) {
	model := &fakeModel{responses: []string{"I would build a nice page with a hero."}}
	p := testPlanner(t, model)

	plan, err := p.Plan(context.Background(), "task", "", nil)
	require.NoError(t, err)
	assert.True(t, plan.Degraded)
	assert.Equal(t, "I would build a nice page with a hero.", plan.BuildPrompt)
	assert.Empty(t, plan.TodoList)
}

func TestRateLimitedPlannerRetries(t *testing.T) {
	model := &fakeModel{
		errs:      []error{errors.New("429 resource exhausted"), errors.New("rate limit"), nil},
		responses: []string{"", "", validPlanResponse},
	}
	p := testPlanner(t, model)

	plan, err := p.Plan(context.Background(), "task", "", nil)
	require.NoError(t, err)
	assert.False(t, plan.Degraded)
	assert.Equal(t, 3, model.calls)
}

func TestNonRateLimitErrorFails(t *testing.T) {
	model := &fakeModel{errs: []error{errors.New("model not found")}}
	p := testPlanner(t, model)

	_, err := p.Plan(context.Background(), "task", "", nil)
	require.Error(t, err)
	assert.Equal(t, 1, model.calls)
}
