package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sseServer is a minimal MCP SSE peer: the GET stream announces the POST
// endpoint and stays open; POSTs are answered by the configured handler.
type sseServer struct {
	t      *testing.T
	server *httptest.Server

	// onPost answers one JSON-RPC request. The bool selects inline (200)
	// versus stream-delivered (202) responses.
	onPost func(req rpcRequest) (rpcResponse, bool)

	stream chan string
}

func newSSEServer(t *testing.T, onPost func(req rpcRequest) (rpcResponse, bool)) *sseServer {
	s := &sseServer{t: t, onPost: onPost, stream: make(chan string, 16)}

	mux := http.NewServeMux()
	mux.HandleFunc("/sse", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "text/event-stream" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)

		fmt.Fprintf(w, "event: endpoint\ndata: /messages\n\n")
		flusher.Flush()

		for {
			select {
			case payload := <-s.stream:
				fmt.Fprintf(w, "event: message\ndata: %s\n\n", payload)
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
	mux.HandleFunc("/messages", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var req rpcRequest
		require.NoError(t, json.Unmarshal(body, &req))

		resp, inline := s.onPost(req)
		resp.JSONRPC = "2.0"
		resp.ID = req.ID
		if inline {
			w.Header().Set("Content-Type", "application/json")
			data, err := json.Marshal(resp)
			require.NoError(t, err)
			w.Write(data)
			return
		}

		w.WriteHeader(http.StatusAccepted)
		data, err := json.Marshal(resp)
		require.NoError(t, err)
		s.stream <- string(data)
	})

	s.server = httptest.NewServer(mux)
	t.Cleanup(s.server.Close)
	return s
}

func startedTransport(t *testing.T, s *sseServer) *SSETransport {
	t.Helper()
	tr := NewSSETransport(s.server.URL+"/sse", Auth{}, s.server.Client(), testLog(t))
	t.Cleanup(func() { tr.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, tr.Start(ctx))
	return tr
}

func TestSSEStartResolvesEndpoint(t *testing.T) {
	s := newSSEServer(t, func(req rpcRequest) (rpcResponse, bool) {
		return rpcResponse{Result: json.RawMessage(`{}`)}, true
	})
	tr := startedTransport(t, s)

	tr.mu.Lock()
	postURL := tr.postURL
	tr.mu.Unlock()
	assert.Equal(t, s.server.URL+"/messages", postURL)
}

func TestSSECallInlineResponse(t *testing.T) {
	s := newSSEServer(t, func(req rpcRequest) (rpcResponse, bool) {
		assert.Equal(t, "tools/list", req.Method)
		return rpcResponse{Result: json.RawMessage(`{"tools":[]}`)}, true
	})
	tr := startedTransport(t, s)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := tr.Call(ctx, "tools/list", struct{}{})
	require.NoError(t, err)
	require.Nil(t, resp.Error)
	assert.JSONEq(t, `{"tools":[]}`, string(resp.Result))
}

func TestSSECallStreamCorrelatedResponse(t *testing.T) {
	s := newSSEServer(t, func(req rpcRequest) (rpcResponse, bool) {
		return rpcResponse{Result: json.RawMessage(`{"ok":true}`)}, false
	})
	tr := startedTransport(t, s)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := tr.Call(ctx, "tools/call", map[string]any{"name": "x"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(resp.Result))
}

func TestSSECallErrorResponse(t *testing.T) {
	s := newSSEServer(t, func(req rpcRequest) (rpcResponse, bool) {
		return rpcResponse{Error: &rpcError{Code: -32601, Message: "method not found"}}, true
	})
	tr := startedTransport(t, s)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := tr.Call(ctx, "bogus/method", nil)
	require.NoError(t, err)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "method not found", resp.Error.Message)
}

func TestSSECallAfterClose(t *testing.T) {
	s := newSSEServer(t, func(req rpcRequest) (rpcResponse, bool) {
		return rpcResponse{Result: json.RawMessage(`{}`)}, true
	})
	tr := startedTransport(t, s)
	tr.Close()

	_, err := tr.Call(context.Background(), "tools/list", nil)
	assert.Error(t, err)
}

func TestSSEStartRejectsNonOK(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	t.Cleanup(server.Close)

	tr := NewSSETransport(server.URL, Auth{}, server.Client(), testLog(t))
	err := tr.Start(context.Background())
	assert.Error(t, err)
}

func TestAuthApply(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://example.test/", nil)
	Auth{BearerToken: "tok", Headers: map[string]string{"X-Extra": "1"}}.apply(req)
	assert.Equal(t, "Bearer tok", req.Header.Get("Authorization"))
	assert.Equal(t, "1", req.Header.Get("X-Extra"))

	req = httptest.NewRequest(http.MethodGet, "http://example.test/", nil)
	Auth{BasicUser: "u", BasicPass: "p"}.apply(req)
	user, pass, ok := req.BasicAuth()
	require.True(t, ok)
	assert.Equal(t, "u", user)
	assert.Equal(t, "p", pass)
}

func TestOrigin(t *testing.T) {
	assert.Equal(t, "http://host:8000", origin("http://host:8000/sse"))
	assert.Equal(t, "https://host", origin("https://host/a/b/c"))
	assert.Equal(t, "http://host", origin("http://host"))
}
