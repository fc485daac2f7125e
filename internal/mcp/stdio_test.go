package mcp

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoScript is a stand-in MCP server: it announces readiness on stderr,
// answers the first request with a canned response, then swallows input.
const echoScript = `echo "server ready" >&2
read line
echo '{"jsonrpc":"2.0","id":1,"result":{"ok":true}}'
cat > /dev/null`

func TestStdioCallRoundTrip(t *testing.T) {
	tr := NewStdioTransport("sh", []string{"-c", echoScript}, nil, testLog(t))
	t.Cleanup(func() { tr.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, tr.Start(ctx))

	resp, err := tr.Call(ctx, "initialize", map[string]any{})
	require.NoError(t, err)
	require.Nil(t, resp.Error)
	assert.JSONEq(t, `{"ok":true}`, string(resp.Result))
}

func TestStdioStartFailsWhenProcessDies(t *testing.T) {
	tr := NewStdioTransport("sh", []string{"-c", "exit 1"}, nil, testLog(t))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := tr.Start(ctx)
	assert.Error(t, err)
}

func TestStdioCallAfterDeath(t *testing.T) {
	tr := NewStdioTransport("true", nil, nil, testLog(t))
	tr.markDead("test")

	_, err := tr.Call(context.Background(), "tools/list", nil)
	assert.Error(t, err)
}

func TestStdioBlockedWriteDoesNotStallDispatch(t *testing.T) {
	// The server reads one request, stops draining stdin, and answers the
	// first request after a delay. A second caller wedged in the full pipe
	// must not keep that answer from being dispatched.
	script := `echo "server ready" >&2
read line
sleep 1
echo '{"jsonrpc":"2.0","id":1,"result":{"ok":true}}'
sleep 30`

	tr := NewStdioTransport("sh", []string{"-c", script}, nil, testLog(t))
	t.Cleanup(func() { tr.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, tr.Start(ctx))

	first := make(chan error, 1)
	go func() {
		_, err := tr.Call(ctx, "slow", nil)
		first <- err
	}()

	// Let the first request reach the server, then jam the pipe with a
	// payload far larger than its buffer.
	time.Sleep(200 * time.Millisecond)
	go tr.Call(ctx, "noisy", map[string]any{"blob": strings.Repeat("x", 1<<20)})

	select {
	case err := <-first:
		require.NoError(t, err)
	case <-time.After(8 * time.Second):
		t.Fatal("pending call stalled behind a blocked write")
	}
}

func TestStdioCloseWithoutStart(t *testing.T) {
	tr := NewStdioTransport("true", nil, nil, testLog(t))
	assert.NoError(t, tr.Close())
}

func TestStdioEnvPassedToSubprocess(t *testing.T) {
	script := `echo ready >&2
read line
printf '{"jsonrpc":"2.0","id":1,"result":{"value":"%s"}}\n' "$RADBOT_TEST_VALUE"
cat > /dev/null`

	tr := NewStdioTransport("sh", []string{"-c", script},
		map[string]string{"RADBOT_TEST_VALUE": "from-env"}, testLog(t))
	t.Cleanup(func() { tr.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, tr.Start(ctx))

	resp, err := tr.Call(ctx, "ping", nil)
	require.NoError(t, err)

	var result struct {
		Value string `json:"value"`
	}
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	assert.Equal(t, "from-env", result.Value)
}
