package agent

import "context"

// Backend is the code-generation engine behind the client. It receives
// a natural-language instruction block and mutates the workspace in
// place; the client handles snapshots and diffing around it.
type Backend interface {
	// Run executes one generation call against the workspace. stdout
	// and stderr carry whatever the engine printed.
	Run(ctx context.Context, instructions, workspace string) (stdout, stderr string, err error)

	// Name identifies the backend in logs and manifests.
	Name() string
}
