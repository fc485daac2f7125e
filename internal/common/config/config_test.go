package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadWithPath(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "radbot_chathistory", cfg.Database.ChatSchema)
	assert.Equal(t, "beto", cfg.Agent.RootAgentName)
	assert.Equal(t, "radbot_memories", cfg.Qdrant.Collection)
	assert.Equal(t, 768, cfg.Qdrant.VectorSize)
	assert.Equal(t, 4096, cfg.Scheduler.ResultCap)
	assert.Equal(t, 16384, cfg.Sanitize.MaxLen)
	assert.Equal(t, "info", cfg.Logging.Level)

	// NATS is off by default; the in-memory bus is selected by empty URL.
	assert.Empty(t, cfg.NATS.URL)

	// The default price table carries a fallback row.
	_, ok := cfg.Telemetry.Prices["_default"]
	assert.True(t, ok)
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	content := []byte(`
server:
  port: 9999
agent:
  rootAgentName: custom
mcp:
  - name: weather
    url: http://weather.test/sse
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), content, 0o644))

	cfg, err := LoadWithPath(dir)
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "custom", cfg.Agent.RootAgentName)
	require.Len(t, cfg.MCP, 1)
	assert.Equal(t, "weather", cfg.MCP[0].Name)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("RADBOT_SERVER_PORT", "7070")
	t.Setenv("RADBOT_MAIN_MODEL", "gemini-2.5-flash")

	cfg, err := LoadWithPath(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "gemini-2.5-flash", cfg.Agent.MainModel)
}

func TestValidateRejectsBadPort(t *testing.T) {
	cfg := validConfig()
	cfg.Server.Port = 0
	assert.Error(t, validate(cfg))
}

func TestValidateRejectsBadConnBounds(t *testing.T) {
	cfg := validConfig()
	cfg.Database.MinConns = 10
	cfg.Database.MaxConns = 2
	assert.Error(t, validate(cfg))
}

func TestValidateRejectsMisconfiguredMCP(t *testing.T) {
	cfg := validConfig()
	cfg.MCP = []MCPServer{{Name: "broken", Transport: "sse"}}
	assert.Error(t, validate(cfg))

	cfg.MCP = []MCPServer{{Name: "broken", Transport: "stdio"}}
	assert.Error(t, validate(cfg))

	cfg.MCP = []MCPServer{{Name: "broken", Transport: "carrier-pigeon", URL: "x"}}
	assert.Error(t, validate(cfg))
}

func TestValidateRejectsBadLogLevel(t *testing.T) {
	cfg := validConfig()
	cfg.Logging.Level = "loud"
	assert.Error(t, validate(cfg))
}

func TestApplyOverrides(t *testing.T) {
	cfg := validConfig()
	unknown := cfg.ApplyOverrides(map[string]string{
		"agent.mainModel": "gemini-9",
		"push.enabled":    "TRUE",
		"push.topic":      "alerts",
		"made.up.key":     "x",
	})

	assert.Equal(t, "gemini-9", cfg.Agent.MainModel)
	assert.True(t, cfg.Push.Enabled)
	assert.Equal(t, "alerts", cfg.Push.Topic)
	assert.Equal(t, []string{"made.up.key"}, unknown)
}

func TestDSN(t *testing.T) {
	d := DatabaseConfig{
		Host: "db", Port: 5432, User: "radbot", Password: "pw",
		DBName: "radbot", SSLMode: "disable",
	}
	assert.Equal(t,
		"host=db port=5432 user=radbot password=pw dbname=radbot sslmode=disable",
		d.DSN())
}

func validConfig() *Config {
	return &Config{
		Server:   ServerConfig{Port: 8080},
		Database: DatabaseConfig{MaxConns: 5, MinConns: 1},
		Sanitize: SanitizeConfig{MaxLen: 1024},
		Logging:  LoggingConfig{Level: "info"},
	}
}
