package mcpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ToolContent is one content item of a tools/call result.
type ToolContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	Data string `json:"data,omitempty"`
}

// ToolResult is the structured result of a tools/call request.
type ToolResult struct {
	Content []ToolContent `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

// Text concatenates the textual content items of a result.
func (r *ToolResult) Text() string {
	var parts []string
	for _, c := range r.Content {
		if c.Type == "text" && c.Text != "" {
			parts = append(parts, c.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// CallTool invokes a named browser tool via tools/call.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]interface{}, timeout time.Duration) (*ToolResult, error) {
	params := map[string]interface{}{
		"name":      name,
		"arguments": args,
	}
	raw, err := c.Call(ctx, "tools/call", params, timeout)
	if err != nil {
		return nil, err
	}

	var result ToolResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, &ProtocolError{Method: "tools/call:" + name, Reason: fmt.Sprintf("unparseable result: %v", err)}
	}
	if result.IsError {
		return &result, &ProtocolError{Method: "tools/call:" + name, Reason: result.Text()}
	}
	return &result, nil
}

// Navigate loads url in the browser.
func (c *Client) Navigate(ctx context.Context, url string) (*ToolResult, error) {
	return c.CallTool(ctx, "browser_navigate", map[string]interface{}{"url": url}, DefaultCallTimeout)
}

// Screenshot captures the page to path. fullPage captures the whole
// scrollable page rather than the viewport.
func (c *Client) Screenshot(ctx context.Context, path string, fullPage bool) (*ToolResult, error) {
	return c.CallTool(ctx, "browser_take_screenshot", map[string]interface{}{
		"path":     path,
		"fullPage": fullPage,
	}, DefaultCallTimeout)
}

// Snapshot returns the page title, visible text, and interactive
// anchors.
func (c *Client) Snapshot(ctx context.Context) (*ToolResult, error) {
	return c.CallTool(ctx, "browser_snapshot", map[string]interface{}{}, DefaultCallTimeout)
}

// Evaluate runs a JavaScript expression in the page.
func (c *Client) Evaluate(ctx context.Context, expression string) (*ToolResult, error) {
	return c.CallTool(ctx, "browser_evaluate", map[string]interface{}{"expression": expression}, DefaultCallTimeout)
}

// ConsoleMessages returns the console output collected so far.
func (c *Client) ConsoleMessages(ctx context.Context) (*ToolResult, error) {
	return c.CallTool(ctx, "browser_console_messages", map[string]interface{}{}, DefaultCallTimeout)
}

// Click clicks the element matching selector.
func (c *Client) Click(ctx context.Context, selector string) (*ToolResult, error) {
	return c.CallTool(ctx, "browser_click", map[string]interface{}{"selector": selector}, DefaultCallTimeout)
}

// Type types text into the element matching selector.
func (c *Client) Type(ctx context.Context, selector, text string) (*ToolResult, error) {
	return c.CallTool(ctx, "browser_type", map[string]interface{}{
		"selector": selector,
		"text":     text,
	}, DefaultCallTimeout)
}

// Scroll scrolls the page in direction by amount pixels.
func (c *Client) Scroll(ctx context.Context, direction string, amount int) (*ToolResult, error) {
	return c.CallTool(ctx, "browser_scroll", map[string]interface{}{
		"direction": direction,
		"amount":    amount,
	}, DefaultCallTimeout)
}

// PressKey presses a keyboard key.
func (c *Client) PressKey(ctx context.Context, key string) (*ToolResult, error) {
	return c.CallTool(ctx, "browser_press_key", map[string]interface{}{"key": key}, DefaultCallTimeout)
}

// Hover hovers the element matching selector.
func (c *Client) Hover(ctx context.Context, selector string) (*ToolResult, error) {
	return c.CallTool(ctx, "browser_hover", map[string]interface{}{"selector": selector}, DefaultCallTimeout)
}

// WaitFor waits for a condition with the given timeout in
// milliseconds.
func (c *Client) WaitFor(ctx context.Context, condition string, timeoutMs int) (*ToolResult, error) {
	callTimeout := time.Duration(timeoutMs)*time.Millisecond + 10*time.Second
	return c.CallTool(ctx, "browser_wait_for", map[string]interface{}{
		"condition": condition,
		"timeout":   timeoutMs,
	}, callTimeout)
}

// StartRecording begins a screen recording written to path.
func (c *Client) StartRecording(ctx context.Context, path string) (*ToolResult, error) {
	return c.CallTool(ctx, "browser_start_recording", map[string]interface{}{"path": path}, DefaultCallTimeout)
}

// StopRecording stops the current screen recording.
func (c *Client) StopRecording(ctx context.Context) (*ToolResult, error) {
	return c.CallTool(ctx, "browser_stop_recording", map[string]interface{}{}, DefaultCallTimeout)
}
