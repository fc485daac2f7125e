package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/perrymanuk/radbot/internal/common/logger"
)

const (
	// stdioReadyFallback is how long to wait for a readiness line on
	// stderr before assuming the server is up anyway.
	stdioReadyFallback = 10 * time.Second

	// stdioKillGrace is how long SIGTERM gets before SIGKILL.
	stdioKillGrace = 5 * time.Second
)

// readyTokens are substrings on stderr that signal the subprocess is
// serving. Matched case-insensitively.
var readyTokens = []string{"ready", "listening", "started", "server running"}

// StdioTransport runs an MCP server as a subprocess speaking
// line-delimited JSON-RPC on stdin/stdout.
type StdioTransport struct {
	command string
	args    []string
	env     map[string]string
	log     *logger.Logger

	cmd       *exec.Cmd
	stdin     *json.Encoder
	requestID atomic.Int64

	mu      sync.Mutex // guards pending and dead
	pending map[any]chan *rpcResponse
	dead    bool

	writeMu sync.Mutex // serializes stdin writes

	ready chan struct{}
	done  chan struct{}
}

// NewStdioTransport creates an unstarted stdio transport.
func NewStdioTransport(command string, args []string, env map[string]string, log *logger.Logger) *StdioTransport {
	return &StdioTransport{
		command: command,
		args:    args,
		env:     env,
		log:     log,
		pending: make(map[any]chan *rpcResponse),
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start spawns the subprocess and waits for it to look ready: either a
// recognized line on stderr or the fallback delay.
func (t *StdioTransport) Start(ctx context.Context) error {
	cmd := exec.Command(t.command, t.args...)
	cmd.Env = os.Environ()
	for k, v := range t.env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", t.command, err)
	}
	t.cmd = cmd
	t.stdin = json.NewEncoder(stdin)

	go func() {
		scanner := bufio.NewScanner(stdout)
		buf := make([]byte, 0, 64*1024)
		scanner.Buffer(buf, 1024*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			var resp rpcResponse
			if err := json.Unmarshal(line, &resp); err != nil {
				t.log.Debug("mcp stdio: unparseable line", zap.Error(err))
				continue
			}
			if resp.ID == nil {
				// Notification from the server; nothing listens yet.
				continue
			}
			t.dispatch(&resp)
		}
		t.markDead("subprocess stdout closed")
	}()

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			line := scanner.Text()
			t.log.Debug("mcp stdio stderr", zap.String("line", line))
			lower := strings.ToLower(line)
			for _, token := range readyTokens {
				if strings.Contains(lower, token) {
					t.signalReady()
					break
				}
			}
		}
	}()

	go func() {
		if err := cmd.Wait(); err != nil {
			t.log.Debug("mcp subprocess exited", zap.Error(err))
		}
		t.markDead("subprocess exited")
	}()

	select {
	case <-t.ready:
	case <-time.After(stdioReadyFallback):
		t.log.Debug("mcp stdio: no readiness line, proceeding",
			zap.String("command", t.command))
	case <-t.done:
		return fmt.Errorf("mcp subprocess %s died during startup", t.command)
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (t *StdioTransport) signalReady() {
	t.mu.Lock()
	defer t.mu.Unlock()
	select {
	case <-t.ready:
	default:
		close(t.ready)
	}
}

// markDead fails every pending call and rejects future ones.
func (t *StdioTransport) markDead(reason string) {
	t.mu.Lock()
	if t.dead {
		t.mu.Unlock()
		return
	}
	t.dead = true
	for id, ch := range t.pending {
		close(ch)
		delete(t.pending, id)
	}
	select {
	case <-t.done:
	default:
		close(t.done)
	}
	t.mu.Unlock()
	t.log.Warn("mcp stdio transport down", zap.String("reason", reason))
}

func (t *StdioTransport) dispatch(resp *rpcResponse) {
	id := normalizeID(resp.ID)
	t.mu.Lock()
	ch, ok := t.pending[id]
	if ok {
		delete(t.pending, id)
	}
	t.mu.Unlock()
	if ok {
		ch <- resp
	} else {
		t.log.Debug("mcp stdio: response for unknown id", zap.Any("id", resp.ID))
	}
}

// Call sends one request and waits for the matching response.
func (t *StdioTransport) Call(ctx context.Context, method string, params any) (*rpcResponse, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}

	id := t.requestID.Add(1)
	respCh := make(chan *rpcResponse, 1)

	t.mu.Lock()
	if t.dead {
		t.mu.Unlock()
		return nil, fmt.Errorf("mcp subprocess is not running")
	}
	t.pending[id] = respCh
	t.mu.Unlock()

	// The write happens outside t.mu so a wedged pipe stalls only other
	// writers; response dispatch and death handling keep moving.
	t.writeMu.Lock()
	err = t.stdin.Encode(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: raw})
	t.writeMu.Unlock()

	if err != nil {
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
		return nil, fmt.Errorf("write to subprocess: %w", err)
	}

	select {
	case resp, ok := <-respCh:
		if !ok {
			return nil, fmt.Errorf("mcp subprocess died mid-call")
		}
		return resp, nil
	case <-ctx.Done():
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
		return nil, ctx.Err()
	}
}

// Close stops the subprocess: SIGTERM, a grace period, then SIGKILL.
func (t *StdioTransport) Close() error {
	if t.cmd == nil || t.cmd.Process == nil {
		return nil
	}
	_ = t.cmd.Process.Signal(syscall.SIGTERM)

	select {
	case <-t.done:
		return nil
	case <-time.After(stdioKillGrace):
	}
	t.log.Warn("mcp subprocess ignored SIGTERM, killing",
		zap.String("command", t.command))
	return t.cmd.Process.Kill()
}
