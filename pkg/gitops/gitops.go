// Package gitops publishes per-iteration snapshots of the generated
// project to a git remote. The whole package is optional: without a
// remote URL every operation is a no-op.
package gitops

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"os/exec"
	"strings"

	"webloop/internal/utils"
)

// Options configures snapshot publishing. An empty RemoteURL disables
// it. Token, when set, is injected into the push URL and never written
// to disk or artifacts.
type Options struct {
	RemoteURL  string
	Token      string
	BaseBranch string
}

// Publisher commits and pushes iteration snapshots on a run branch.
type Publisher struct {
	dir    string
	opts   Options
	branch string
	logger utils.ExtendedLogger

	initialized bool
}

// New creates a publisher for the project directory. runID names the
// branch: run/<runID>.
func New(dir, runID string, opts Options, logger utils.ExtendedLogger) *Publisher {
	if opts.BaseBranch == "" {
		opts.BaseBranch = "main"
	}
	return &Publisher{
		dir:    dir,
		opts:   opts,
		branch: "run/" + runID,
		logger: logger,
	}
}

// Enabled reports whether publishing is configured.
func (p *Publisher) Enabled() bool { return p.opts.RemoteURL != "" }

// Branch returns the run branch name.
func (p *Publisher) Branch() string { return p.branch }

// PublishIteration commits the current project state and pushes it.
// Returns the commit id for the manifest, or "" when disabled.
// Failures are logged and returned; the caller records them without
// stopping the run.
func (p *Publisher) PublishIteration(ctx context.Context, iteration, score int) (string, error) {
	if !p.Enabled() {
		return "", nil
	}
	if err := p.ensureRepo(ctx); err != nil {
		return "", err
	}

	if err := p.git(ctx, "add", "-A"); err != nil {
		return "", err
	}

	message := fmt.Sprintf("[Iteration %d] Apply patch (score: %d/100)", iteration, score)
	if err := p.git(ctx, "commit", "--allow-empty", "-m", message); err != nil {
		return "", err
	}

	commitID, err := p.gitOutput(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	commitID = strings.TrimSpace(commitID)

	if err := p.git(ctx, "push", "-u", p.pushURL(), p.branch); err != nil {
		return commitID, err
	}
	p.logger.Infof("📤 Published iteration %d snapshot %s on %s", iteration, commitID[:min(8, len(commitID))], p.branch)
	return commitID, nil
}

// ensureRepo initializes the repository and run branch on first use.
func (p *Publisher) ensureRepo(ctx context.Context) error {
	if p.initialized {
		return nil
	}
	if err := p.git(ctx, "init", "-b", p.opts.BaseBranch); err != nil {
		return err
	}
	if err := p.git(ctx, "checkout", "-B", p.branch); err != nil {
		return err
	}
	p.initialized = true
	return nil
}

// pushURL injects the token as basic-auth userinfo. The token never
// appears in logs or errors.
func (p *Publisher) pushURL() string {
	if p.opts.Token == "" {
		return p.opts.RemoteURL
	}
	u, err := url.Parse(p.opts.RemoteURL)
	if err != nil {
		return p.opts.RemoteURL
	}
	u.User = url.UserPassword("token", p.opts.Token)
	return u.String()
}

func (p *Publisher) git(ctx context.Context, args ...string) error {
	_, err := p.gitOutput(ctx, args...)
	return err
}

func (p *Publisher) gitOutput(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = p.dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		exitCode := -1
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
		return stdout.String(), &utils.SubprocessError{
			Command:  "git " + sanitizeArgs(args),
			ExitCode: exitCode,
			Stderr:   sanitize(stderr.String(), p.opts.Token),
			Err:      err,
		}
	}
	return stdout.String(), nil
}

// sanitizeArgs hides any URL userinfo from error text.
func sanitizeArgs(args []string) string {
	parts := make([]string, len(args))
	for i, a := range args {
		if strings.Contains(a, "://") && strings.Contains(a, "@") {
			if u, err := url.Parse(a); err == nil && u.User != nil {
				u.User = nil
				a = u.String()
			}
		}
		parts[i] = a
	}
	return strings.Join(parts, " ")
}

func sanitize(s, token string) string {
	if token == "" {
		return s
	}
	return strings.ReplaceAll(s, token, "***")
}
