package mcpclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"webloop/internal/utils"
)

const (
	// ProtocolVersion is the MCP protocol revision spoken on the wire.
	ProtocolVersion = "2024-11-05"

	// DefaultCallTimeout applies to browser tool calls unless a caller
	// overrides it.
	DefaultCallTimeout = 90 * time.Second

	// defaultReaderBuffer is the reader's line buffer. Frames larger
	// than this take the oversized path.
	defaultReaderBuffer = 64 * 1024

	// oversizedChunkSize is the chunk size used to drain an oversized
	// frame until its terminating newline.
	oversizedChunkSize = 8 * 1024

	// disconnectGrace is how long Disconnect waits for the subprocess
	// to exit before killing it.
	disconnectGrace = 5 * time.Second
)

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      *int64      `json:"id,omitempty"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

// Client speaks JSON-RPC 2.0 over stdio to the browser automation
// subprocess. One background reader splits stdout on newlines and
// completes pending calls by request ID. The client owns the
// subprocess and releases it on every termination path.
type Client struct {
	command string
	args    []string
	logger  utils.ExtendedLogger

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.Reader
	stderr io.ReadCloser

	writeMu sync.Mutex

	mu           sync.Mutex
	pending      map[int64]chan *rpcResponse
	nextID       int64
	connected    bool
	disconnected bool
	initialized  bool

	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a client for the given browser automation server
// command. Connect must be called before any tool call.
func New(command string, args []string, logger utils.ExtendedLogger) *Client {
	return &Client{
		command: command,
		args:    args,
		logger:  logger,
		pending: make(map[int64]chan *rpcResponse),
		nextID:  1,
		done:    make(chan struct{}),
	}
}

// NewWithPipes creates a client over an existing transport instead of
// a spawned subprocess. Used by tests to drive the wire protocol over
// in-memory pipes.
func NewWithPipes(stdin io.WriteCloser, stdout io.Reader, logger utils.ExtendedLogger) *Client {
	c := &Client{
		logger:  logger,
		stdin:   stdin,
		stdout:  stdout,
		pending: make(map[int64]chan *rpcResponse),
		nextID:  1,
		done:    make(chan struct{}),
	}
	c.connected = true
	c.wg.Add(1)
	go c.readLoop()
	return c
}

// Connect spawns the subprocess, starts the response reader, performs
// the initialize handshake, and sends notifications/initialized.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return nil
	}

	if c.command == "" {
		c.mu.Unlock()
		return fmt.Errorf("mcp: empty server command")
	}

	c.logger.Infof("🔌 Starting browser automation server: %s %v", c.command, c.args)

	cmd := exec.Command(c.command, c.args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("mcp: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("mcp: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("mcp: stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("mcp: start %s: %w", c.command, err)
	}

	c.cmd = cmd
	c.stdin = stdin
	c.stdout = stdout
	c.stderr = stderr
	c.connected = true

	c.wg.Add(2)
	go c.readLoop()
	go c.readStderr()
	c.mu.Unlock()

	if err := c.Initialize(ctx); err != nil {
		// A half-open connection must not survive a failed handshake:
		// release the subprocess and reset so a later Connect retries
		// from scratch.
		_ = c.Disconnect()
		c.reset()
		return err
	}
	return nil
}

// reset returns the client to its pre-Connect state after a failed
// handshake. Only valid once Disconnect has released the subprocess
// and stopped the reader.
func (c *Client) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cmd = nil
	c.stdin = nil
	c.stdout = nil
	c.stderr = nil
	c.connected = false
	c.disconnected = false
	c.initialized = false
	c.pending = make(map[int64]chan *rpcResponse)
	c.done = make(chan struct{})
}

// Initialize performs the JSON-RPC initialize handshake followed by
// the one-way notifications/initialized. Called once per connection.
func (c *Client) Initialize(ctx context.Context) error {
	params := map[string]interface{}{
		"protocolVersion": ProtocolVersion,
		"capabilities":    map[string]interface{}{},
		"clientInfo": map[string]interface{}{
			"name":    "webloop",
			"version": "1.0.0",
		},
	}
	if _, err := c.Call(ctx, "initialize", params, DefaultCallTimeout); err != nil {
		return fmt.Errorf("mcp: initialize: %w", err)
	}
	if err := c.notify("notifications/initialized", map[string]interface{}{}); err != nil {
		return fmt.Errorf("mcp: initialized notification: %w", err)
	}

	c.mu.Lock()
	c.initialized = true
	c.mu.Unlock()

	c.logger.Infof("✅ Browser automation server initialized (protocol %s)", ProtocolVersion)
	return nil
}

// Initialized reports whether the handshake completed.
func (c *Client) Initialized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initialized
}

// Call sends one request and waits for its response or the per-call
// timeout. The per-call timeout argument is the single source of
// truth; there is no client-wide request timeout.
func (c *Client) Call(ctx context.Context, method string, params interface{}, timeout time.Duration) (json.RawMessage, error) {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}

	c.mu.Lock()
	if c.disconnected {
		c.mu.Unlock()
		return nil, ErrDisconnected
	}
	if !c.connected {
		c.mu.Unlock()
		return nil, fmt.Errorf("mcp: not connected")
	}
	id := c.nextID
	c.nextID++
	ch := make(chan *rpcResponse, 1)
	// The pending entry is inserted before the request bytes are
	// written so the reader cannot miss a prompt response.
	c.pending[id] = ch
	c.mu.Unlock()

	req := rpcRequest{JSONRPC: "2.0", ID: &id, Method: method, Params: params}
	if err := c.writeFrame(req); err != nil {
		c.removePending(id)
		return nil, fmt.Errorf("mcp: write %s: %w", method, err)
	}

	start := time.Now()
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp, ok := <-ch:
		if !ok || resp == nil {
			return nil, ErrDisconnected
		}
		if resp.Error != nil {
			return nil, &ProtocolError{Method: method, Code: resp.Error.Code, Reason: resp.Error.Message}
		}
		return resp.Result, nil
	case <-timer.C:
		c.removePending(id)
		return nil, &TimeoutError{Method: method, Elapsed: time.Since(start)}
	case <-ctx.Done():
		c.removePending(id)
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrDisconnected
	}
}

// notify sends a one-way notification (no id, no response).
func (c *Client) notify(method string, params interface{}) error {
	return c.writeFrame(rpcRequest{JSONRPC: "2.0", Method: method, Params: params})
}

func (c *Client) writeFrame(req rpcRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err = c.stdin.Write(append(data, '\n'))
	return err
}

func (c *Client) removePending(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// readLoop splits stdout on newlines and routes responses by ID.
// When the stream ends (subprocess death or Disconnect) every pending
// call fails with ErrDisconnected.
func (c *Client) readLoop() {
	defer c.wg.Done()
	defer c.failAllPending()

	reader := bufio.NewReaderSize(c.stdout, defaultReaderBuffer)
	for {
		select {
		case <-c.done:
			return
		default:
		}

		line, err := reader.ReadSlice('\n')
		if err == bufio.ErrBufferFull {
			frame := append([]byte(nil), line...)
			frame, err = c.readOversizedRemainder(reader, frame)
			if err != nil {
				c.logger.Warnf("⚠️ MCP stream ended inside oversized frame: %v", err)
				return
			}
			c.dispatch(frame)
			continue
		}
		if len(line) > 0 {
			c.dispatch(bytes.TrimRight(line, "\n"))
		}
		if err != nil {
			if err != io.EOF {
				c.logger.Debugf("MCP reader stopped: %v", err)
			}
			return
		}
	}
}

// readOversizedRemainder drains the rest of an over-limit frame in
// 8 KiB chunks until the terminating newline. Bytes after that newline
// within the same chunk read are discarded; this is a rare, accepted
// edge case and is noted in the log.
func (c *Client) readOversizedRemainder(r io.Reader, frame []byte) ([]byte, error) {
	chunk := make([]byte, oversizedChunkSize)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			if idx := bytes.IndexByte(chunk[:n], '\n'); idx >= 0 {
				frame = append(frame, chunk[:idx]...)
				if discarded := n - idx - 1; discarded > 0 {
					c.logger.Infof("ℹ️ Oversized MCP frame: %d bytes read, %d bytes after newline discarded", len(frame), discarded)
				} else {
					c.logger.Infof("ℹ️ Oversized MCP frame: %d bytes read in %d-byte chunks", len(frame), oversizedChunkSize)
				}
				return frame, nil
			}
			frame = append(frame, chunk[:n]...)
		}
		if err != nil {
			return frame, err
		}
	}
}

// dispatch routes one frame to its pending call. Responses whose ID is
// not pending and malformed frames are logged and dropped; the
// connection stays up.
func (c *Client) dispatch(frame []byte) {
	if len(bytes.TrimSpace(frame)) == 0 {
		return
	}

	var resp rpcResponse
	if err := json.Unmarshal(frame, &resp); err != nil {
		c.logger.Warnf("⚠️ Malformed MCP frame (%d bytes): %v", len(frame), err)
		return
	}
	if resp.ID == nil {
		// Server notification; nothing is waiting on it.
		c.logger.Debugf("MCP notification frame: %s", truncate(string(frame), 200))
		return
	}

	c.mu.Lock()
	ch, ok := c.pending[*resp.ID]
	if ok {
		delete(c.pending, *resp.ID)
	}
	c.mu.Unlock()

	if !ok {
		// Late response for a timed-out call.
		c.logger.Warnf("⚠️ MCP response for unknown request id %d", *resp.ID)
		return
	}
	ch <- &resp
}

func (c *Client) readStderr() {
	defer c.wg.Done()
	scanner := bufio.NewScanner(c.stderr)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		c.logger.Debugf("[browser-server] %s", scanner.Text())
	}
}

func (c *Client) failAllPending() {
	c.mu.Lock()
	c.disconnected = true
	for id, ch := range c.pending {
		delete(c.pending, id)
		close(ch)
	}
	c.mu.Unlock()
}

// Disconnect stops the reader, closes stdin, and terminates the child
// with a grace period before kill. Idempotent.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	if !c.connected || c.disconnected {
		c.disconnected = true
		c.mu.Unlock()
		return nil
	}
	c.disconnected = true
	c.mu.Unlock()

	close(c.done)
	if c.stdin != nil {
		_ = c.stdin.Close()
	}
	// Unblock the reader; subprocess stdout is closed by Wait, the
	// pipe transport needs an explicit close.
	if rc, ok := c.stdout.(io.Closer); ok && c.cmd == nil {
		_ = rc.Close()
	}

	if c.cmd != nil && c.cmd.Process != nil {
		exited := make(chan error, 1)
		go func() { exited <- c.cmd.Wait() }()

		select {
		case <-exited:
		case <-time.After(disconnectGrace):
			c.logger.Warnf("⚠️ Browser automation server did not exit within %s, killing", disconnectGrace)
			_ = c.cmd.Process.Kill()
			<-exited
		}
	}

	c.failAllPending()
	c.wg.Wait()
	c.logger.Infof("🔌 Browser automation server disconnected")
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
