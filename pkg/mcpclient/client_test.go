package mcpclient

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webloop/pkg/logger"
)

// fakeServer drives the wire protocol from the server side of a pair
// of in-memory pipes.
type fakeServer struct {
	in  *bufio.Scanner // requests from the client
	out io.WriteCloser // responses to the client
}

func newClientWithFakeServer(t *testing.T) (*Client, *fakeServer) {
	t.Helper()
	clientToServer, clientStdin := io.Pipe()
	serverToClient, serverOut := io.Pipe()

	log := logger.CreateTestLogger(filepath.Join(t.TempDir(), "test.log"), "debug")
	c := NewWithPipes(clientStdin, serverToClient, log)
	t.Cleanup(func() { _ = c.Disconnect() })

	scanner := bufio.NewScanner(clientToServer)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	return c, &fakeServer{in: scanner, out: serverOut}
}

func (s *fakeServer) readRequest(t *testing.T) map[string]interface{} {
	t.Helper()
	require.True(t, s.in.Scan(), "expected a request frame")
	var req map[string]interface{}
	require.NoError(t, json.Unmarshal(s.in.Bytes(), &req))
	return req
}

func (s *fakeServer) respond(t *testing.T, id float64, result string) {
	t.Helper()
	frame := fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":%s}`, int64(id), result)
	_, err := s.out.Write([]byte(frame + "\n"))
	require.NoError(t, err)
}

func TestInitializeHandshake(t *testing.T) {
	c, srv := newClientWithFakeServer(t)

	done := make(chan error, 1)
	go func() {
		done <- c.Initialize(context.Background())
	}()

	req := srv.readRequest(t)
	assert.Equal(t, "initialize", req["method"])
	params := req["params"].(map[string]interface{})
	assert.Equal(t, ProtocolVersion, params["protocolVersion"])
	srv.respond(t, req["id"].(float64), `{"serverInfo":{"name":"browser","version":"1.0"}}`)

	// The one-way initialized notification carries no id.
	notif := srv.readRequest(t)
	assert.Equal(t, "notifications/initialized", notif["method"])
	_, hasID := notif["id"]
	assert.False(t, hasID)

	require.NoError(t, <-done)
	assert.True(t, c.Initialized())
}

func TestMultiplexedOutOfOrderResponses(t *testing.T) {
	c, srv := newClientWithFakeServer(t)

	type result struct {
		raw json.RawMessage
		err error
	}
	resA := make(chan result, 1)
	resB := make(chan result, 1)

	go func() {
		raw, err := c.Call(context.Background(), "tools/call", map[string]interface{}{"name": "a"}, 5*time.Second)
		resA <- result{raw, err}
	}()
	reqA := srv.readRequest(t)

	go func() {
		raw, err := c.Call(context.Background(), "tools/call", map[string]interface{}{"name": "b"}, 5*time.Second)
		resB <- result{raw, err}
	}()
	reqB := srv.readRequest(t)

	// Answer B first, then A.
	srv.respond(t, reqB["id"].(float64), `{"content":[{"type":"text","text":"for-b"}]}`)
	srv.respond(t, reqA["id"].(float64), `{"content":[{"type":"text","text":"for-a"}]}`)

	rb := <-resB
	require.NoError(t, rb.err)
	assert.Contains(t, string(rb.raw), "for-b")

	ra := <-resA
	require.NoError(t, ra.err)
	assert.Contains(t, string(ra.raw), "for-a")
}

func TestCallTimeoutFailsOnlyThatCall(t *testing.T) {
	c, srv := newClientWithFakeServer(t)

	_, err := c.Call(context.Background(), "browser_snapshot", nil, 100*time.Millisecond)
	var te *TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "browser_snapshot", te.Method)
	assert.GreaterOrEqual(t, te.Elapsed, 100*time.Millisecond)

	// Drain the request the fake server never answered.
	_ = srv.readRequest(t)

	// The connection survives: a subsequent call still works.
	done := make(chan error, 1)
	go func() {
		_, err := c.Call(context.Background(), "browser_get_url", nil, 5*time.Second)
		done <- err
	}()
	req := srv.readRequest(t)
	srv.respond(t, req["id"].(float64), `{"content":[{"type":"text","text":"http://x/"}]}`)
	require.NoError(t, <-done)
}

func TestOversizedFrameDelivered(t *testing.T) {
	c, srv := newClientWithFakeServer(t)

	// 128 KiB of payload on a single line, well past the 64 KiB
	// reader buffer.
	big := strings.Repeat("x", 128*1024)

	done := make(chan struct{})
	var raw json.RawMessage
	var callErr error
	go func() {
		raw, callErr = c.Call(context.Background(), "tools/call", map[string]interface{}{"name": "big"}, 10*time.Second)
		close(done)
	}()

	req := srv.readRequest(t)
	srv.respond(t, req["id"].(float64), fmt.Sprintf(`{"content":[{"type":"text","text":"%s"}]}`, big))

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("oversized frame deadlocked the client")
	}
	require.NoError(t, callErr)

	var result ToolResult
	require.NoError(t, json.Unmarshal(raw, &result))
	assert.Len(t, result.Text(), 128*1024)
}

func TestServerErrorIsProtocolError(t *testing.T) {
	c, srv := newClientWithFakeServer(t)

	done := make(chan error, 1)
	go func() {
		_, err := c.Call(context.Background(), "tools/call", map[string]interface{}{"name": "bad"}, 5*time.Second)
		done <- err
	}()
	req := srv.readRequest(t)
	frame := fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"error":{"code":-32602,"message":"unknown tool"}}`, int64(req["id"].(float64)))
	_, err := srv.out.Write([]byte(frame + "\n"))
	require.NoError(t, err)

	callErr := <-done
	var pe *ProtocolError
	require.ErrorAs(t, callErr, &pe)
	assert.Equal(t, -32602, pe.Code)
}

func TestDisconnectFailsPendingCalls(t *testing.T) {
	c, srv := newClientWithFakeServer(t)

	done := make(chan error, 1)
	go func() {
		_, err := c.Call(context.Background(), "browser_snapshot", nil, 30*time.Second)
		done <- err
	}()
	_ = srv.readRequest(t)

	// Server side dies: closing the pipe ends the reader, which must
	// fail the pending call.
	require.NoError(t, srv.out.Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrDisconnected)
	case <-time.After(5 * time.Second):
		t.Fatal("pending call not failed on disconnect")
	}

	// Further calls fail fast.
	_, err := c.Call(context.Background(), "browser_snapshot", nil, time.Second)
	assert.ErrorIs(t, err, ErrDisconnected)
}

func TestConnectHandshakeFailureReleasesClient(t *testing.T) {
	log := logger.CreateTestLogger(filepath.Join(t.TempDir(), "test.log"), "debug")

	// A server that never answers the handshake and exits as soon as
	// its stdin closes. The context deadline fails the initialize call;
	// the subprocess must be released, not orphaned.
	c := New("sh", []string{"-c", "read line"}, log)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	require.Error(t, c.Connect(ctx))

	assert.False(t, c.Initialized())
	assert.Nil(t, c.cmd)

	// The client is back in its pre-Connect state: no half-open
	// connection remains to serve tool calls on.
	_, callErr := c.Call(context.Background(), "tools/list", nil, time.Second)
	require.Error(t, callErr)
	assert.Contains(t, callErr.Error(), "not connected")
}

func TestToolResultText(t *testing.T) {
	r := ToolResult{Content: []ToolContent{
		{Type: "text", Text: "line one"},
		{Type: "image", Data: "base64"},
		{Type: "text", Text: "line two"},
	}}
	assert.Equal(t, "line one\nline two", r.Text())
}
