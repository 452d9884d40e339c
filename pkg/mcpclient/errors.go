package mcpclient

import (
	"errors"
	"fmt"
	"time"
)

// ErrDisconnected fails every pending call when the browser subprocess
// dies or the client is closed. No reconnection is attempted within a
// run.
var ErrDisconnected = errors.New("mcp: subprocess disconnected")

// TimeoutError fails a single in-flight call whose response did not
// arrive within its per-call timeout. The subprocess keeps running.
type TimeoutError struct {
	Method  string
	Elapsed time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("mcp: %s timed out after %s", e.Method, e.Elapsed)
}

// ProtocolError marks a malformed response or a server-side JSON-RPC
// error for one call. The connection is not torn down.
type ProtocolError struct {
	Method string
	Code   int
	Reason string
}

func (e *ProtocolError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("mcp: %s failed: %s (code %d)", e.Method, e.Reason, e.Code)
	}
	return fmt.Sprintf("mcp: %s failed: %s", e.Method, e.Reason)
}
