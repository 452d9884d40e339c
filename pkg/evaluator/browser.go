package evaluator

import (
	"context"

	"webloop/pkg/mcpclient"
)

// Browser is the slice of the MCP client the evaluator drives. It is
// an interface so tests can substitute a scripted browser.
type Browser interface {
	Navigate(ctx context.Context, url string) (*mcpclient.ToolResult, error)
	Screenshot(ctx context.Context, path string, fullPage bool) (*mcpclient.ToolResult, error)
	Snapshot(ctx context.Context) (*mcpclient.ToolResult, error)
	Evaluate(ctx context.Context, expression string) (*mcpclient.ToolResult, error)
	ConsoleMessages(ctx context.Context) (*mcpclient.ToolResult, error)
	Click(ctx context.Context, selector string) (*mcpclient.ToolResult, error)
	Type(ctx context.Context, selector, text string) (*mcpclient.ToolResult, error)
	Scroll(ctx context.Context, direction string, amount int) (*mcpclient.ToolResult, error)
	PressKey(ctx context.Context, key string) (*mcpclient.ToolResult, error)
	Hover(ctx context.Context, selector string) (*mcpclient.ToolResult, error)
	WaitFor(ctx context.Context, condition string, timeoutMs int) (*mcpclient.ToolResult, error)
}

var _ Browser = (*mcpclient.Client)(nil)
