package agent

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"webloop/internal/utils"
)

// agentCallBudget is the hard wall-clock budget for one CLI agent
// invocation.
const agentCallBudget = 5 * time.Minute

// LocalBackend runs an external agent CLI for each generation call.
// The instruction block is piped to stdin and the workspace passed as
// the working directory; the command is never auto-detected, it comes
// from configuration.
type LocalBackend struct {
	command string
	args    []string
}

// NewLocalBackend creates a CLI backend from a configured command
// line. The first field is the binary, the rest fixed arguments.
func NewLocalBackend(commandLine string) (*LocalBackend, error) {
	fields := strings.Fields(commandLine)
	if len(fields) == 0 {
		return nil, fmt.Errorf("agent command is empty")
	}
	return &LocalBackend{command: fields[0], args: fields[1:]}, nil
}

func (l *LocalBackend) Name() string { return "local:" + l.command }

func (l *LocalBackend) Run(ctx context.Context, instructions, workspace string) (string, string, error) {
	ctx, cancel := context.WithTimeout(ctx, agentCallBudget)
	defer cancel()

	cmd := exec.CommandContext(ctx, l.command, l.args...)
	cmd.Dir = workspace
	cmd.Stdin = strings.NewReader(instructions)
	cmd.Env = append(cmd.Environ(), "WEBLOOP_WORKSPACE="+workspace)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return stdout.String(), stderr.String(), fmt.Errorf("agent call exceeded %s budget", agentCallBudget)
	}
	if err != nil {
		exitCode := -1
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
		return stdout.String(), stderr.String(), &utils.SubprocessError{
			Command:  l.command,
			ExitCode: exitCode,
			Stderr:   stderr.String(),
			Err:      err,
		}
	}
	return stdout.String(), stderr.String(), nil
}
