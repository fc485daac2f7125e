package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/perrymanuk/radbot/internal/common/logger"
)

// Auth carries the optional credentials for HTTP transports.
type Auth struct {
	BearerToken string
	BasicUser   string
	BasicPass   string
	Headers     map[string]string
}

func (a Auth) apply(req *http.Request) {
	switch {
	case a.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+a.BearerToken)
	case a.BasicUser != "":
		req.SetBasicAuth(a.BasicUser, a.BasicPass)
	}
	for k, v := range a.Headers {
		req.Header.Set(k, v)
	}
}

// endpointWait is how long to wait for the server's endpoint event before
// assuming the conventional messages path.
const endpointWait = 3 * time.Second

// SSETransport speaks MCP over a long-lived Server-Sent Events stream:
// one GET holds the event channel open, requests go out as POSTs to the
// endpoint the stream announces. A dead stream is terminal; the caller
// decides whether to rebuild the transport.
type SSETransport struct {
	url    string
	auth   Auth
	client *http.Client
	log    *logger.Logger

	requestID atomic.Int64

	mu       sync.Mutex
	pending  map[any]chan *rpcResponse
	postURL  string
	dead     bool
	endpoint chan struct{}
	done     chan struct{}

	cancelStream context.CancelFunc
}

// NewSSETransport creates an unstarted SSE transport.
func NewSSETransport(url string, auth Auth, client *http.Client, log *logger.Logger) *SSETransport {
	if client == nil {
		client = http.DefaultClient
	}
	return &SSETransport{
		url:      url,
		auth:     auth,
		client:   client,
		log:      log,
		pending:  make(map[any]chan *rpcResponse),
		endpoint: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start opens the event stream and resolves the POST endpoint, either
// from the server's endpoint event or the conventional fallback path.
func (t *SSETransport) Start(ctx context.Context) error {
	streamCtx, cancel := context.WithCancel(context.Background())
	t.cancelStream = cancel

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, t.url, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("build stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	t.auth.apply(req)

	resp, err := t.client.Do(req)
	if err != nil {
		cancel()
		return fmt.Errorf("open event stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return fmt.Errorf("event stream rejected: %s", resp.Status)
	}

	go t.readStream(resp.Body)

	// Wait for the endpoint event; some servers never send one, so fall
	// back to the conventional messages path after a short grace period.
	select {
	case <-t.endpoint:
	case <-time.After(endpointWait):
		t.fallbackEndpoint()
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	case <-t.done:
		return fmt.Errorf("event stream closed during startup")
	}
	return nil
}

// readStream consumes SSE events until the stream dies.
func (t *SSETransport) readStream(body io.ReadCloser) {
	defer body.Close()

	scanner := bufio.NewScanner(body)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	eventName := ""
	var data strings.Builder

	flush := func() {
		defer func() {
			eventName = ""
			data.Reset()
		}()
		payload := strings.TrimSpace(data.String())
		if payload == "" {
			return
		}
		switch eventName {
		case "endpoint":
			t.setEndpoint(payload)
		default:
			// message events carry JSON-RPC responses for 202-accepted
			// POSTs.
			var resp rpcResponse
			if err := json.Unmarshal([]byte(payload), &resp); err != nil {
				t.log.Debug("mcp sse: unparseable event", zap.Error(err))
				return
			}
			if resp.ID != nil {
				t.dispatch(&resp)
			}
		}
	}

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			flush()
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue // comment / keepalive
		}
		if name, ok := strings.CutPrefix(line, "event:"); ok {
			eventName = strings.TrimSpace(name)
			continue
		}
		if d, ok := strings.CutPrefix(line, "data:"); ok {
			data.WriteString(strings.TrimSpace(d))
		}
	}
	flush()
	t.markDead("event stream closed")
}

// setEndpoint records the POST target announced by the server. Relative
// endpoints resolve against the stream URL's origin.
func (t *SSETransport) setEndpoint(raw string) {
	postURL := raw
	if strings.HasPrefix(raw, "/") {
		postURL = origin(t.url) + raw
	}
	t.mu.Lock()
	t.postURL = postURL
	t.mu.Unlock()
	t.signalEndpoint()
	t.log.Debug("mcp sse endpoint resolved", zap.String("post_url", postURL))
}

// fallbackEndpoint is used when the server sends no endpoint event.
func (t *SSETransport) fallbackEndpoint() {
	t.mu.Lock()
	if t.postURL == "" {
		t.postURL = strings.TrimRight(t.url, "/") + "/messages/?session_id=" + uuid.NewString()
	}
	t.mu.Unlock()
	t.signalEndpoint()
}

func (t *SSETransport) signalEndpoint() {
	t.mu.Lock()
	defer t.mu.Unlock()
	select {
	case <-t.endpoint:
	default:
		close(t.endpoint)
	}
}

func origin(rawURL string) string {
	// scheme://host portion only.
	if idx := strings.Index(rawURL, "://"); idx >= 0 {
		rest := rawURL[idx+3:]
		if slash := strings.Index(rest, "/"); slash >= 0 {
			return rawURL[:idx+3+slash]
		}
	}
	return rawURL
}

func (t *SSETransport) markDead(reason string) {
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
	t.log.Warn("mcp sse transport down", zap.String("reason", reason))
}

func (t *SSETransport) dispatch(resp *rpcResponse) {
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
		t.log.Debug("mcp sse: response for unknown id", zap.Any("id", resp.ID))
	}
}

// Call POSTs one request. A 200 carries the response inline; a 202 means
// the response arrives on the event stream, correlated by id.
func (t *SSETransport) Call(ctx context.Context, method string, params any) (*rpcResponse, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	if t.dead {
		t.mu.Unlock()
		return nil, fmt.Errorf("mcp event stream is closed")
	}
	postURL := t.postURL
	t.mu.Unlock()
	if postURL == "" {
		return nil, fmt.Errorf("mcp endpoint not resolved")
	}

	id := t.requestID.Add(1)
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: raw})
	if err != nil {
		return nil, err
	}

	respCh := make(chan *rpcResponse, 1)
	t.mu.Lock()
	t.pending[id] = respCh
	t.mu.Unlock()
	cleanup := func() {
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, postURL, bytes.NewReader(body))
	if err != nil {
		cleanup()
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	t.auth.apply(req)

	httpResp, err := t.client.Do(req)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("post request: %w", err)
	}
	defer httpResp.Body.Close()

	switch {
	case httpResp.StatusCode == http.StatusOK:
		cleanup()
		data, err := io.ReadAll(httpResp.Body)
		if err != nil {
			return nil, err
		}
		var resp rpcResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			return nil, fmt.Errorf("parse inline response: %w", err)
		}
		return &resp, nil

	case httpResp.StatusCode == http.StatusAccepted:
		// Response arrives on the stream.
		select {
		case resp, ok := <-respCh:
			if !ok {
				return nil, fmt.Errorf("event stream closed mid-call")
			}
			return resp, nil
		case <-ctx.Done():
			cleanup()
			return nil, ctx.Err()
		}

	default:
		cleanup()
		return nil, fmt.Errorf("mcp server returned %s", httpResp.Status)
	}
}

// Close tears the stream down.
func (t *SSETransport) Close() error {
	if t.cancelStream != nil {
		t.cancelStream()
	}
	t.markDead("closed")
	return nil
}
