// Package bootstrap initializes the project workspace from an
// optional template repository: safe clean, shallow clone, ref
// checkout, and a bounded init hook.
package bootstrap

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"webloop/internal/utils"
	"webloop/pkg/paths"
)

// initHookBudget bounds the optional template init hook.
const initHookBudget = 5 * time.Minute

// initHookName is the script the template may ship; run only when
// RunInit is set.
const initHookName = "init.sh"

// Options configures a bootstrap pass.
type Options struct {
	TemplateRepoURL string
	TemplateRef     string
	RunInit         bool
}

// Bootstrapper prepares the project root before generation. Failures
// are reported, not fatal: the run may continue from an empty
// workspace.
type Bootstrapper struct {
	paths  *paths.PathConfig
	opts   Options
	logger utils.ExtendedLogger
}

// New creates a bootstrapper for the run's path layout.
func New(p *paths.PathConfig, opts Options, logger utils.ExtendedLogger) *Bootstrapper {
	if opts.TemplateRef == "" {
		opts.TemplateRef = "main"
	}
	return &Bootstrapper{paths: p, opts: opts, logger: logger}
}

// Run cleans the project root and, when a template is configured,
// populates it from the template repository.
func (b *Bootstrapper) Run(ctx context.Context) error {
	if err := b.cleanProjectRoot(); err != nil {
		return err
	}

	if b.opts.TemplateRepoURL == "" {
		b.logger.Infof("🧱 No template configured, starting from an empty project root")
		return nil
	}

	if err := b.cloneTemplate(ctx); err != nil {
		return err
	}
	if b.opts.RunInit {
		if err := b.runInitHook(ctx); err != nil {
			return err
		}
	}
	b.logStructure()
	return nil
}

// cleanProjectRoot removes and recreates the project root. Refuses to
// touch anything outside the workspace root.
func (b *Bootstrapper) cleanProjectRoot() error {
	root := b.paths.ProjectRoot
	if !paths.ValidateInside(b.paths.WorkspaceDir, root) || root == b.paths.WorkspaceDir {
		return fmt.Errorf("refusing to clean %s: not strictly inside workspace %s", root, b.paths.WorkspaceDir)
	}
	b.logger.Infof("🧱 Cleaning project root %s", root)
	if err := os.RemoveAll(root); err != nil {
		return fmt.Errorf("clean project root: %w", err)
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return fmt.Errorf("recreate project root: %w", err)
	}
	return nil
}

// cloneTemplate shallow-clones the template at the configured ref into
// the project root.
func (b *Bootstrapper) cloneTemplate(ctx context.Context) error {
	b.logger.Infof("🧱 Cloning template %s@%s", b.opts.TemplateRepoURL, b.opts.TemplateRef)

	err := b.git(ctx, "", "clone", "--depth", "1", "--branch", b.opts.TemplateRef,
		b.opts.TemplateRepoURL, b.paths.ProjectRoot)
	if err != nil {
		// Ref may be a commit rather than a branch: full clone then
		// checkout.
		b.logger.Warnf("⚠️ Shallow clone of %s failed, retrying with full clone: %v", b.opts.TemplateRef, err)
		if err := os.RemoveAll(b.paths.ProjectRoot); err != nil {
			return fmt.Errorf("clean failed clone: %w", err)
		}
		if err := b.git(ctx, "", "clone", b.opts.TemplateRepoURL, b.paths.ProjectRoot); err != nil {
			return err
		}
		if err := b.git(ctx, b.paths.ProjectRoot, "checkout", b.opts.TemplateRef); err != nil {
			return err
		}
	}

	// The template's history is not the run's history.
	if err := os.RemoveAll(filepath.Join(b.paths.ProjectRoot, ".git")); err != nil {
		b.logger.Warnf("⚠️ Could not remove template .git directory: %v", err)
	}
	return nil
}

// runInitHook executes the template's init script when present,
// bounded by initHookBudget.
func (b *Bootstrapper) runInitHook(ctx context.Context) error {
	hook := filepath.Join(b.paths.ProjectRoot, initHookName)
	if _, err := os.Stat(hook); err != nil {
		b.logger.Infof("🧱 No %s in template, skipping init hook", initHookName)
		return nil
	}

	b.logger.Infof("🧱 Running template init hook (budget %s)", initHookBudget)
	ctx, cancel := context.WithTimeout(ctx, initHookBudget)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", hook)
	cmd.Dir = b.paths.ProjectRoot
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("init hook exceeded %s budget", initHookBudget)
		}
		exitCode := -1
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
		return &utils.SubprocessError{Command: initHookName, ExitCode: exitCode, Stderr: stderr.String(), Err: err}
	}
	return nil
}

// logStructure logs the top-level entries of the project root.
func (b *Bootstrapper) logStructure() {
	entries, err := os.ReadDir(b.paths.ProjectRoot)
	if err != nil {
		b.logger.Warnf("⚠️ Could not list project root: %v", err)
		return
	}
	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	b.logger.Infof("🧱 Project root ready: [%s]", strings.Join(names, ", "))
}

// git runs one git command, capturing stderr for diagnostics.
func (b *Bootstrapper) git(ctx context.Context, dir string, args ...string) error {
	cmd := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		exitCode := -1
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
		return &utils.SubprocessError{
			Command:  "git " + strings.Join(args, " "),
			ExitCode: exitCode,
			Stderr:   stderr.String(),
			Err:      err,
		}
	}
	return nil
}
