package mcp

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/perrymanuk/radbot/internal/common/config"
	"github.com/perrymanuk/radbot/internal/common/logger"
	"github.com/perrymanuk/radbot/internal/sanitize"
	"github.com/perrymanuk/radbot/internal/tool"
)

// Manager owns the configured MCP clients. A server that fails to connect
// is logged and skipped; the rest of the process keeps booting.
type Manager struct {
	clients []*Client
	log     *logger.Logger
}

// NewManager builds clients for every configured server.
func NewManager(cfgs []config.MCPServer, log *logger.Logger) *Manager {
	m := &Manager{log: log}
	for _, cfg := range cfgs {
		c, err := NewClient(cfg, log)
		if err != nil {
			log.WithError(err).Warn("mcp server misconfigured, skipped",
				zap.String("mcp_server", cfg.Name))
			continue
		}
		m.clients = append(m.clients, c)
	}
	return m
}

// ConnectAll initializes every client in parallel and proxies its tools
// into the registry. A slow or down server must not hold up boot behind
// the healthy ones. Returns the number of tools registered.
func (m *Manager) ConnectAll(ctx context.Context, reg *tool.Registry, bl *tool.Blocklist, san *sanitize.Sanitizer) int {
	var total atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	for _, c := range m.clients {
		c := c
		g.Go(func() error {
			if err := c.Initialize(gctx); err != nil {
				m.log.WithError(err).Warn("mcp server unreachable, skipped",
					zap.String("mcp_server", c.Name()))
				return nil
			}
			total.Add(int64(c.RegisterTools(reg, bl, san)))
			return nil
		})
	}
	_ = g.Wait()
	return int(total.Load())
}

// Clients returns the managed clients.
func (m *Manager) Clients() []*Client {
	return m.clients
}

// Close releases every transport.
func (m *Manager) Close() {
	for _, c := range m.clients {
		if err := c.Close(); err != nil {
			m.log.WithError(err).Debug("mcp client close failed",
				zap.String("mcp_server", c.Name()))
		}
	}
}
