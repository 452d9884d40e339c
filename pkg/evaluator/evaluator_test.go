package evaluator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"webloop/internal/llm"
	"webloop/pkg/logger"
	"webloop/pkg/mcpclient"
)

func textResult(s string) *mcpclient.ToolResult {
	return &mcpclient.ToolResult{Content: []mcpclient.ToolContent{{Type: "text", Text: s}}}
}

// fakeBrowser simulates a page with one button. Clicking it bumps the
// page state (changing text and structure) and can trigger a dialog or
// a console error.
type fakeBrowser struct {
	state               int
	pendingDialogs      []string
	consoleLines        []string
	clickTriggersDialog bool
	clickTriggersError  bool
	failObserveAt       int
	observations        int
}

func (f *fakeBrowser) observationJSON() string {
	dialogs := "[]"
	if len(f.pendingDialogs) > 0 {
		var items []string
		for _, d := range f.pendingDialogs {
			items = append(items, fmt.Sprintf(`{"kind":"alert","message":"%s"}`, d))
		}
		dialogs = "[" + strings.Join(items, ",") + "]"
		f.pendingDialogs = nil
	}
	return fmt.Sprintf(`{
		"url": "http://127.0.0.1:9999/",
		"text": "Counter value %d",
		"targets": [{"selector": "#btn", "role": "button", "label": "Increment"}],
		"structure": "BODY(BUTTON#btn)|state-%d",
		"dialogs": %s
	}`, f.state, f.state, dialogs)
}

func (f *fakeBrowser) Evaluate(ctx context.Context, expression string) (*mcpclient.ToolResult, error) {
	if expression == dialogInterceptScript {
		return textResult("installed"), nil
	}
	if expression == observeScript {
		f.observations++
		if f.failObserveAt > 0 && f.observations >= f.failObserveAt {
			return nil, errors.New("browser process exited")
		}
		return textResult(f.observationJSON()), nil
	}
	return textResult("ok"), nil
}

func (f *fakeBrowser) Navigate(ctx context.Context, url string) (*mcpclient.ToolResult, error) {
	return textResult("navigated"), nil
}

func (f *fakeBrowser) Screenshot(ctx context.Context, path string, fullPage bool) (*mcpclient.ToolResult, error) {
	return textResult("saved"), nil
}

func (f *fakeBrowser) Snapshot(ctx context.Context) (*mcpclient.ToolResult, error) {
	return textResult("snapshot"), nil
}

func (f *fakeBrowser) ConsoleMessages(ctx context.Context) (*mcpclient.ToolResult, error) {
	return textResult(strings.Join(f.consoleLines, "\n")), nil
}

func (f *fakeBrowser) Click(ctx context.Context, selector string) (*mcpclient.ToolResult, error) {
	f.state++
	if f.clickTriggersDialog {
		f.pendingDialogs = append(f.pendingDialogs, "hello")
	}
	if f.clickTriggersError {
		f.consoleLines = append(f.consoleLines, "[error] Uncaught TypeError: undefined is not a function")
	}
	return textResult("clicked"), nil
}

func (f *fakeBrowser) Type(ctx context.Context, selector, text string) (*mcpclient.ToolResult, error) {
	return textResult("typed"), nil
}

func (f *fakeBrowser) Scroll(ctx context.Context, direction string, amount int) (*mcpclient.ToolResult, error) {
	return textResult("scrolled"), nil
}

func (f *fakeBrowser) PressKey(ctx context.Context, key string) (*mcpclient.ToolResult, error) {
	return textResult("pressed"), nil
}

func (f *fakeBrowser) Hover(ctx context.Context, selector string) (*mcpclient.ToolResult, error) {
	return textResult("hovered"), nil
}

func (f *fakeBrowser) WaitFor(ctx context.Context, condition string, timeoutMs int) (*mcpclient.ToolResult, error) {
	return textResult("done"), nil
}

// fakeEvalModel scripts a sequence of content responses.
type fakeEvalModel struct {
	responses []*llms.ContentResponse
	calls     int
}

func (f *fakeEvalModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	idx := f.calls
	f.calls++
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	return f.responses[idx], nil
}

func (f *fakeEvalModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	resp, err := f.GenerateContent(ctx, []llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, prompt)}, options...)
	if err != nil {
		return "", err
	}
	return resp.Choices[0].Content, nil
}

func toolCallResp(name, args string) *llms.ContentResponse {
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{
		ToolCalls: []llms.ToolCall{{
			ID:           "call-1",
			Type:         "function",
			FunctionCall: &llms.FunctionCall{Name: name, Arguments: args},
		}},
	}}}
}

func textResp(content string) *llms.ContentResponse {
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: content}}}
}

const scoringResponse = `{
	"category_scores": {"functionality": 20, "visual_design": 20, "ux": 12, "accessibility": 12, "responsiveness": 12, "robustness": 5},
	"issues": [],
	"fix_suggestions": ["increase contrast on the button"],
	"feedback": "Solid page, button works."
}`

func testEvaluator(t *testing.T, model llms.Model, browser Browser) *Evaluator {
	t.Helper()
	log := logger.CreateTestLogger(filepath.Join(t.TempDir(), "test.log"), "debug")
	e := New(model, "test-model", browser, Options{MaxTurns: 5}, log)
	e.Sleep = func(ctx context.Context, d time.Duration) error { return nil }
	fast := llm.NewRetryer(log)
	fast.Sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return e.WithRetryer(fast)
}

func TestEvaluateHappyPath(t *testing.T) {
	browser := &fakeBrowser{}
	model := &fakeEvalModel{responses: []*llms.ContentResponse{
		toolCallResp("browser_click", `{"selector": "#btn"}`),
		toolCallResp(finishToolName, `{"reason": "all features exercised"}`),
		textResp(scoringResponse),
	}}
	e := testEvaluator(t, model, browser)

	res, err := e.Evaluate(context.Background(), "counter page", "http://127.0.0.1:9999/", 1)
	require.NoError(t, err)
	assert.False(t, res.Degraded)

	require.Len(t, res.Steps, 1)
	step := res.Steps[0]
	assert.Equal(t, "browser_click", step.Tool)
	assert.True(t, step.Verification.DOMChanged)
	assert.True(t, step.Verification.TextChanged)
	assert.NotEqual(t, step.BeforeSignature, step.AfterSignature)

	assert.Equal(t, 81, res.Verdict.Score)
	assert.True(t, res.Verdict.Passed)
	assert.Equal(t, "web-quality-v1", res.Verdict.RubricID)
}

func TestDialogInterceptionDoesNotBlock(t *testing.T) {
	browser := &fakeBrowser{clickTriggersDialog: true}
	model := &fakeEvalModel{responses: []*llms.ContentResponse{
		toolCallResp("browser_click", `{"selector": "#btn"}`),
		toolCallResp(finishToolName, `{"reason": "done"}`),
		textResp(scoringResponse),
	}}
	e := testEvaluator(t, model, browser)

	done := make(chan struct{})
	var res *Result
	var err error
	go func() {
		res, err = e.Evaluate(context.Background(), "page with alert", "http://127.0.0.1:9999/", 1)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("evaluation blocked on a dialog")
	}

	require.NoError(t, err)
	require.Len(t, res.Steps, 1)
	assert.Equal(t, 1, res.Steps[0].Verification.DialogsInvoked)
}

func TestConsoleErrorsZeroRobustness(t *testing.T) {
	browser := &fakeBrowser{clickTriggersError: true}
	model := &fakeEvalModel{responses: []*llms.ContentResponse{
		toolCallResp("browser_click", `{"selector": "#btn"}`),
		toolCallResp(finishToolName, `{"reason": "done"}`),
		textResp(scoringResponse),
	}}
	e := testEvaluator(t, model, browser)

	res, err := e.Evaluate(context.Background(), "buggy page", "http://127.0.0.1:9999/", 1)
	require.NoError(t, err)

	require.Len(t, res.Steps, 1)
	assert.NotEmpty(t, res.Steps[0].Verification.NewConsoleErrors)
	assert.Equal(t, 0, res.Verdict.CategoryScores["robustness"])
	assert.Equal(t, 76, res.Verdict.Score)
}

func TestDegradedVerdictWhenBrowserDies(t *testing.T) {
	browser := &fakeBrowser{failObserveAt: 2}
	model := &fakeEvalModel{responses: []*llms.ContentResponse{
		toolCallResp("browser_click", `{"selector": "#btn"}`),
	}}
	e := testEvaluator(t, model, browser)

	res, err := e.Evaluate(context.Background(), "page", "http://127.0.0.1:9999/", 1)
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	assert.Equal(t, 50, res.Verdict.Score)
	assert.False(t, res.Verdict.Passed)
	require.Len(t, res.Verdict.Issues, 1)
	assert.Equal(t, "robustness", res.Verdict.Issues[0].Category)
	assert.Equal(t, SeverityHigh, res.Verdict.Issues[0].Severity)
}

func TestTurnBudgetBoundsExploration(t *testing.T) {
	browser := &fakeBrowser{}
	model := &fakeEvalModel{responses: []*llms.ContentResponse{
		toolCallResp("browser_click", `{"selector": "#btn"}`),
		toolCallResp("browser_click", `{"selector": "#btn"}`),
		toolCallResp("browser_click", `{"selector": "#btn"}`),
		textResp(scoringResponse),
	}}
	log := logger.CreateTestLogger(filepath.Join(t.TempDir(), "test.log"), "debug")
	e := New(model, "test-model", browser, Options{MaxTurns: 3}, log)
	e.Sleep = func(ctx context.Context, d time.Duration) error { return nil }
	fast := llm.NewRetryer(log)
	fast.Sleep = func(ctx context.Context, d time.Duration) error { return nil }
	e = e.WithRetryer(fast)

	res, err := e.Evaluate(context.Background(), "page", "http://127.0.0.1:9999/", 1)
	require.NoError(t, err)
	assert.False(t, res.Degraded)
	assert.Len(t, res.Steps, 3)
}

func TestNormalizeClampsAndCaps(t *testing.T) {
	log := logger.CreateTestLogger(filepath.Join(t.TempDir(), "test.log"), "debug")
	e := New(&fakeEvalModel{responses: []*llms.ContentResponse{textResp("")}}, "m", &fakeBrowser{}, Options{}, log)

	wire := verdictWire{
		CategoryScores: map[string]int{
			"functionality": 99, // above the 25-point weight
			"visual_design": 25,
			"ux":            15,
			"accessibility": -3, // below zero
			"robustness":    5,
		},
	}
	v := e.normalize(wire, nil, &Observation{})

	assert.Equal(t, 25, v.CategoryScores["functionality"])
	assert.Equal(t, 0, v.CategoryScores["accessibility"])
	assert.Equal(t, 70, v.Score)
	assert.True(t, v.Passed)

	// A critical functionality issue caps the total, and the cap is
	// taken out of the categories (functionality first) so the verdict
	// stays internally consistent.
	wire.Issues = []Issue{{
		Category:    "functionality",
		Severity:    SeverityCritical,
		Description: "submit button does nothing",
	}}
	v = e.normalize(wire, nil, &Observation{})

	assert.Equal(t, brokenInteractiveCap, v.Score)
	assert.False(t, v.Passed)
	assert.Equal(t, 0, v.CategoryScores["functionality"])
	sum := 0
	for _, s := range v.CategoryScores {
		sum += s
	}
	assert.Equal(t, v.Score, sum)
}

func TestParseConsoleErrors(t *testing.T) {
	structured := `[{"type":"error","text":"boom"},{"type":"log","text":"fine"}]`
	assert.Equal(t, []string{"boom"}, parseConsoleErrors(structured))

	plain := "[log] loaded\n[error] Uncaught ReferenceError: x is not defined\n[warning] slow"
	errs := parseConsoleErrors(plain)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "ReferenceError")

	assert.Empty(t, parseConsoleErrors(""))
}
