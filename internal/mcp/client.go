package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/perrymanuk/radbot/internal/common/config"
	"github.com/perrymanuk/radbot/internal/common/logger"
	"github.com/perrymanuk/radbot/internal/sanitize"
	"github.com/perrymanuk/radbot/internal/tool"
)

const (
	// protocolVersion is what we negotiate; acceptedVersions is what we
	// tolerate back.
	protocolVersion = "2025-03-26"

	// defaultCallTimeout bounds a single tools/call round trip.
	defaultCallTimeout = 30 * time.Second
)

var acceptedVersions = map[string]bool{
	"2025-03-26": true,
	"2024-04-18": true,
	"2024-02-15": true,
}

// Transport carries JSON-RPC requests to one MCP server.
type Transport interface {
	Start(ctx context.Context) error
	Call(ctx context.Context, method string, params any) (*rpcResponse, error)
	Close() error
}

// Client talks to one MCP server and proxies its tools into the local
// registry.
type Client struct {
	cfg       config.MCPServer
	transport Transport
	timeout   time.Duration
	log       *logger.Logger

	tools []toolDef
}

// toolDef is a normalised advertised tool.
type toolDef struct {
	Name        string
	Description string
	Schema      map[string]any
}

type initializeParams struct {
	ProtocolVersion string             `json:"protocolVersion"`
	ClientInfo      clientInfo         `json:"clientInfo"`
	Capabilities    clientCapabilities `json:"capabilities"`
}

type clientInfo struct {
	Name            string `json:"name"`
	Version         string `json:"version"`
	ProtocolVersion string `json:"protocol_version"`
}

type clientCapabilities struct {
	Completions bool `json:"completions"`
	Prompts     bool `json:"prompts"`
	Resources   bool `json:"resources"`
	Tools       bool `json:"tools"`
}

type initializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	ServerInfo      mcp.Implementation `json:"serverInfo"`
}

// NewClient builds a client for one configured server. The transport is
// picked from the config: a command means stdio, otherwise SSE.
func NewClient(cfg config.MCPServer, log *logger.Logger) (*Client, error) {
	c := &Client{
		cfg:     cfg,
		timeout: defaultCallTimeout,
		log:     log.WithFields(zap.String("mcp_server", cfg.Name)),
	}
	if cfg.TimeoutSeconds > 0 {
		c.timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	if err := c.buildTransport(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) buildTransport() error {
	switch {
	case c.cfg.Command != "" || c.cfg.Transport == "stdio":
		if c.cfg.Command == "" {
			return fmt.Errorf("mcp server %s: stdio transport requires a command", c.cfg.Name)
		}
		c.transport = NewStdioTransport(c.cfg.Command, c.cfg.Args, c.cfg.Env, c.log)
	case c.cfg.URL != "":
		auth := Auth{
			BearerToken: c.cfg.AuthToken,
			BasicUser:   c.cfg.BasicUser,
			BasicPass:   c.cfg.BasicPass,
			Headers:     c.cfg.Headers,
		}
		c.transport = NewSSETransport(c.cfg.URL, auth, &http.Client{}, c.log)
	default:
		return fmt.Errorf("mcp server %s: neither url nor command configured", c.cfg.Name)
	}
	return nil
}

// Name returns the configured server name.
func (c *Client) Name() string {
	return c.cfg.Name
}

// Initialize connects, performs the handshake, and lists the server's
// tools.
func (c *Client) Initialize(ctx context.Context) error {
	if err := c.transport.Start(ctx); err != nil {
		return err
	}

	if c.cfg.PostInitDelayMs > 0 {
		select {
		case <-time.After(time.Duration(c.cfg.PostInitDelayMs) * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	resp, err := c.transport.Call(callCtx, "initialize", initializeParams{
		ProtocolVersion: protocolVersion,
		ClientInfo: clientInfo{
			Name:            "radbot",
			Version:         "0.1.0",
			ProtocolVersion: protocolVersion,
		},
		Capabilities: clientCapabilities{Tools: true},
	})
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	if resp.Error != nil {
		return fmt.Errorf("initialize rejected: %s", resp.Error.Message)
	}

	var init initializeResult
	if err := json.Unmarshal(resp.Result, &init); err == nil {
		if init.ProtocolVersion != "" && !acceptedVersions[init.ProtocolVersion] {
			c.log.Warn("mcp server negotiated unexpected protocol version",
				zap.String("version", init.ProtocolVersion))
		}
		c.log.Info("mcp server connected",
			zap.String("server_name", init.ServerInfo.Name),
			zap.String("server_version", init.ServerInfo.Version))
	}

	return c.listTools(ctx)
}

// Reinitialize tears the transport down and rebuilds the connection.
func (c *Client) Reinitialize(ctx context.Context) error {
	_ = c.transport.Close()
	if err := c.buildTransport(); err != nil {
		return err
	}
	return c.Initialize(ctx)
}

// Close releases the transport.
func (c *Client) Close() error {
	return c.transport.Close()
}

// listTools fetches and normalises the server's tool catalogue.
func (c *Client) listTools(ctx context.Context) error {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	resp, err := c.transport.Call(callCtx, "tools/list", struct{}{})
	if err != nil {
		return fmt.Errorf("tools/list: %w", err)
	}
	if resp.Error != nil {
		return fmt.Errorf("tools/list rejected: %s", resp.Error.Message)
	}

	var listing struct {
		Tools []json.RawMessage `json:"tools"`
	}
	if err := json.Unmarshal(resp.Result, &listing); err != nil {
		return fmt.Errorf("tools/list result: %w", err)
	}

	c.tools = c.tools[:0]
	for _, raw := range listing.Tools {
		def, err := normalizeToolDef(raw)
		if err != nil {
			c.log.Warn("skipping malformed tool definition", zap.Error(err))
			continue
		}
		c.tools = append(c.tools, def)
	}
	c.log.Info("mcp tools discovered", zap.Int("count", len(c.tools)))
	return nil
}

// normalizeToolDef accepts the schema shapes seen in the wild: the
// standard dict form, or a (name, description, schema) tuple.
func normalizeToolDef(raw json.RawMessage) (toolDef, error) {
	var mcpTool mcp.Tool
	if err := json.Unmarshal(raw, &mcpTool); err == nil && mcpTool.Name != "" {
		return toolDef{
			Name:        mcpTool.Name,
			Description: mcpTool.Description,
			Schema:      schemaToMap(mcpTool.InputSchema),
		}, nil
	}

	var tuple []json.RawMessage
	if err := json.Unmarshal(raw, &tuple); err == nil && len(tuple) >= 1 {
		def := toolDef{}
		if err := json.Unmarshal(tuple[0], &def.Name); err != nil || def.Name == "" {
			return toolDef{}, errors.New("tuple form without a name")
		}
		if len(tuple) >= 2 {
			_ = json.Unmarshal(tuple[1], &def.Description)
		}
		if len(tuple) >= 3 {
			_ = json.Unmarshal(tuple[2], &def.Schema)
		}
		return def, nil
	}

	return toolDef{}, errors.New("unrecognised tool definition shape")
}

func schemaToMap(schema mcp.ToolInputSchema) map[string]any {
	data, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}

// RegisterTools proxies the advertised tools into the registry, dropping
// blocklisted names and sanitising every result.
func (c *Client) RegisterTools(reg *tool.Registry, bl *tool.Blocklist, san *sanitize.Sanitizer) int {
	proxies := make([]*tool.Tool, 0, len(c.tools))
	for _, def := range c.tools {
		name := def.Name
		proxies = append(proxies, &tool.Tool{
			Name:        name,
			Description: def.Description,
			Schema:      def.Schema,
			Handler: func(ctx context.Context, args map[string]any) (map[string]any, error) {
				result := c.CallTool(ctx, name, args)
				if san != nil {
					if cleaned, ok := san.CleanAny(result, sanitize.SourceMCPTool).(map[string]any); ok {
						return cleaned, nil
					}
				}
				return result, nil
			},
		})
	}

	proxies = bl.Filter(proxies, c.cfg.Name, c.log)

	registered := 0
	for _, p := range proxies {
		if err := reg.Register(p); err != nil {
			c.log.Warn("mcp tool name collision, skipped",
				zap.String("tool", p.Name), zap.Error(err))
			continue
		}
		registered++
	}
	return registered
}

// CallTool invokes one tool. Failures come back as an error payload, never
// as a Go error: the agent sees what went wrong and carries on.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) map[string]any {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.transport.Call(callCtx, "tools/call", map[string]any{
		"name":      name,
		"arguments": args,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			c.log.Warn("mcp tool call timed out", zap.String("tool", name))
			return map[string]any{"error": "timeout"}
		}
		return map[string]any{"error": "call_failed", "message": err.Error()}
	}
	if resp.Error != nil {
		return map[string]any{"error": "mcp_error", "message": resp.Error.Message}
	}
	return extractResult(resp.Result)
}

// extractResult unwraps a tools/call result. Order: content blocks from a
// standard envelope, then an output field, then the whole body.
func extractResult(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return map[string]any{"result": nil}
	}

	var asMap map[string]any
	if err := json.Unmarshal(raw, &asMap); err != nil {
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return map[string]any{"result": string(raw)}
		}
		return map[string]any{"result": v}
	}

	if content, ok := asMap["content"].([]any); ok {
		texts := collectText(content)
		if isError, _ := asMap["isError"].(bool); isError {
			msg := "unknown error"
			if len(texts) > 0 {
				msg = texts[0]
			}
			return map[string]any{"error": "tool_error", "message": msg}
		}
		switch len(texts) {
		case 0:
			return map[string]any{"result": nil}
		case 1:
			return map[string]any{"result": texts[0]}
		default:
			return map[string]any{"results": texts}
		}
	}

	if output, ok := asMap["output"]; ok {
		return map[string]any{"result": output}
	}
	return asMap
}

func collectText(content []any) []string {
	var texts []string
	for _, item := range content {
		block, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if block["type"] == "text" {
			if text, ok := block["text"].(string); ok {
				texts = append(texts, text)
			}
		}
	}
	return texts
}
