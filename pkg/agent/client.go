// Package agent adapts a code-generation engine behind a uniform
// client: every call is wrapped in a workspace snapshot so the caller
// gets the touched file set and unified diffs regardless of backend.
package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"webloop/internal/utils"
	"webloop/pkg/artifacts"
	"webloop/pkg/patch"
	"webloop/pkg/planner"
)

// GenerateResult is the outcome of a full generation call.
type GenerateResult struct {
	FilesTouched []string          `json:"files_touched"`
	Diffs        map[string]string `json:"-"`
	DurationMs   int64             `json:"duration_ms"`
}

// TodoResult is the outcome of one todo execution. A failing todo is
// reported, not propagated.
type TodoResult struct {
	FilesTouched []string `json:"files_touched"`
	DurationMs   int64    `json:"duration_ms"`
	OK           bool     `json:"ok"`
}

// PatchResult is the outcome of a patch application.
type PatchResult struct {
	FilesModified []string `json:"files_modified"`
	Stdout        string   `json:"stdout,omitempty"`
	Stderr        string   `json:"stderr,omitempty"`
	DurationMs    int64    `json:"duration_ms"`
	OK            bool     `json:"ok"`
}

// Client wraps a Backend with the snapshot-diff discipline.
type Client struct {
	backend Backend
	store   *artifacts.Store
	logger  utils.ExtendedLogger
}

// NewClient creates an agent client. store may be nil to skip diff
// artifact persistence.
func NewClient(backend Backend, store *artifacts.Store, logger utils.ExtendedLogger) *Client {
	return &Client{backend: backend, store: store, logger: logger}
}

// BackendName identifies the active backend.
func (c *Client) BackendName() string { return c.backend.Name() }

// Generate runs a full generation pass over the workspace.
func (c *Client) Generate(ctx context.Context, task, workspace string, requirements map[string]string) (*GenerateResult, error) {
	instructions := task
	if len(requirements) > 0 {
		var b strings.Builder
		b.WriteString(task)
		b.WriteString("\n\nRequirements:\n")
		for k, v := range requirements {
			if v != "" {
				fmt.Fprintf(&b, "- %s: %s\n", k, v)
			}
		}
		instructions = b.String()
	}

	c.logger.Infof("🤖 Generating with %s backend (%d chars of instructions)", c.backend.Name(), len(instructions))

	touched, diffs, _, _, duration, err := c.runDiffed(ctx, instructions, workspace)
	if err != nil {
		return nil, fmt.Errorf("generation failed: %w", err)
	}

	c.saveDiffs("generate", diffs)
	c.logger.Infof("🤖 Generation done in %dms, %d files touched", duration.Milliseconds(), len(touched))
	return &GenerateResult{
		FilesTouched: touched,
		Diffs:        diffs,
		DurationMs:   duration.Milliseconds(),
	}, nil
}

// ExecuteTodo runs one todo. Backend failures are logged and reported
// through OK=false; the run continues with the next todo.
func (c *Client) ExecuteTodo(ctx context.Context, todo planner.Todo, workspace, planContext string) *TodoResult {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n%s\n", todo.Title, todo.Description)
	for k, v := range todo.Requirements {
		if v != "" {
			fmt.Fprintf(&b, "%s: %s\n", k, v)
		}
	}
	if planContext != "" {
		fmt.Fprintf(&b, "\nOverall plan context:\n%s\n", planContext)
	}

	c.logger.Infof("🤖 Executing todo %s (%s)", todo.ID, todo.Title)

	touched, diffs, _, _, duration, err := c.runDiffed(ctx, b.String(), workspace)
	if err != nil {
		c.logger.Errorf("❌ Todo %s failed: %v", todo.ID, err)
		return &TodoResult{DurationMs: duration.Milliseconds(), OK: false}
	}

	c.saveDiffs("todo_"+todo.ID, diffs)
	return &TodoResult{
		FilesTouched: touched,
		DurationMs:   duration.Milliseconds(),
		OK:           true,
	}
}

// ApplyPatch feeds a patch plan's instructions to the backend.
func (c *Client) ApplyPatch(ctx context.Context, workspace string, plan *patch.Plan) *PatchResult {
	c.logger.Infof("🤖 Applying patch plan: %d files, %d issues", len(plan.Files), plan.IssuesCount)

	touched, diffs, stdout, stderr, duration, err := c.runDiffed(ctx, plan.Instructions, workspace)
	result := &PatchResult{
		FilesModified: touched,
		Stdout:        stdout,
		Stderr:        stderr,
		DurationMs:    duration.Milliseconds(),
		OK:            err == nil,
	}
	if err != nil {
		c.logger.Errorf("❌ Patch application failed: %v", err)
		return result
	}

	c.saveDiffs("patch", diffs)
	c.logger.Infof("🤖 Patch applied in %dms, %d files modified", duration.Milliseconds(), len(touched))
	return result
}

// runDiffed wraps one backend call in before/after snapshots.
func (c *Client) runDiffed(ctx context.Context, instructions, workspace string) (touched []string, diffs map[string]string, stdout, stderr string, duration time.Duration, err error) {
	before, err := TakeSnapshot(workspace)
	if err != nil {
		return nil, nil, "", "", 0, fmt.Errorf("snapshot workspace: %w", err)
	}

	start := time.Now()
	stdout, stderr, err = c.backend.Run(ctx, instructions, workspace)
	duration = time.Since(start)
	if err != nil {
		return nil, nil, stdout, stderr, duration, err
	}

	after, snapErr := TakeSnapshot(workspace)
	if snapErr != nil {
		return nil, nil, stdout, stderr, duration, fmt.Errorf("snapshot workspace: %w", snapErr)
	}
	return ChangedFiles(before, after), DiffSnapshots(before, after), stdout, stderr, duration, nil
}

func (c *Client) saveDiffs(label string, diffs map[string]string) {
	if c.store == nil {
		return
	}
	for path, diff := range diffs {
		name := fmt.Sprintf("%s_%s.diff", label, strings.ReplaceAll(path, "/", "_"))
		if _, err := c.store.SaveFile(name, "diff", []byte(diff), map[string]string{"file": path}); err != nil {
			c.logger.Warnf("⚠️ Failed to save diff artifact %s: %v", name, err)
		}
	}
}
