package utils

import "fmt"

// SubprocessError wraps a non-zero exit from an external command
// (git, agent CLI, init hook). The caller records it; most phases can
// continue past one.
type SubprocessError struct {
	Command  string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *SubprocessError) Error() string {
	msg := fmt.Sprintf("command %q exited with code %d", e.Command, e.ExitCode)
	if e.Stderr != "" {
		msg += ": " + truncate(e.Stderr, 500)
	}
	return msg
}

func (e *SubprocessError) Unwrap() error { return e.Err }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
