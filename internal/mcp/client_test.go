package mcp

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perrymanuk/radbot/internal/common/config"
	"github.com/perrymanuk/radbot/internal/common/logger"
)

func testLog(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      "error",
		Format:     "console",
		OutputPath: "stdout",
	})
	require.NoError(t, err)
	return log
}

func TestNormalizeID(t *testing.T) {
	assert.Equal(t, int64(7), normalizeID(float64(7)))
	assert.Equal(t, int64(7), normalizeID(json.Number("7")))
	assert.Equal(t, int64(7), normalizeID(int64(7)))
	assert.Equal(t, "abc", normalizeID("abc"))
	assert.Nil(t, normalizeID(nil))
}

func TestExtractResultContentBlocks(t *testing.T) {
	raw := json.RawMessage(`{"content":[{"type":"text","text":"hello"}],"isError":false}`)
	out := extractResult(raw)
	assert.Equal(t, "hello", out["result"])
}

func TestExtractResultMultipleTexts(t *testing.T) {
	raw := json.RawMessage(`{"content":[
		{"type":"text","text":"one"},
		{"type":"image","data":"..."},
		{"type":"text","text":"two"}]}`)
	out := extractResult(raw)
	assert.Equal(t, []string{"one", "two"}, out["results"])
}

func TestExtractResultIsError(t *testing.T) {
	raw := json.RawMessage(`{"content":[{"type":"text","text":"file not found"}],"isError":true}`)
	out := extractResult(raw)
	assert.Equal(t, "tool_error", out["error"])
	assert.Equal(t, "file not found", out["message"])
}

func TestExtractResultIsErrorWithoutText(t *testing.T) {
	raw := json.RawMessage(`{"content":[],"isError":true}`)
	out := extractResult(raw)
	assert.Equal(t, "tool_error", out["error"])
	assert.Equal(t, "unknown error", out["message"])
}

func TestExtractResultEmptyContent(t *testing.T) {
	raw := json.RawMessage(`{"content":[]}`)
	out := extractResult(raw)
	require.Contains(t, out, "result")
	assert.Nil(t, out["result"])
}

func TestExtractResultOutputField(t *testing.T) {
	raw := json.RawMessage(`{"output":{"temp":21.5}}`)
	out := extractResult(raw)
	assert.Equal(t, map[string]any{"temp": 21.5}, out["result"])
}

func TestExtractResultWholeBody(t *testing.T) {
	raw := json.RawMessage(`{"temp":21.5,"unit":"C"}`)
	out := extractResult(raw)
	assert.Equal(t, 21.5, out["temp"])
	assert.Equal(t, "C", out["unit"])
}

func TestExtractResultScalar(t *testing.T) {
	out := extractResult(json.RawMessage(`"just a string"`))
	assert.Equal(t, "just a string", out["result"])

	out = extractResult(json.RawMessage(`42`))
	assert.Equal(t, float64(42), out["result"])

	out = extractResult(nil)
	require.Contains(t, out, "result")
	assert.Nil(t, out["result"])
}

func TestNormalizeToolDefDictForm(t *testing.T) {
	raw := json.RawMessage(`{
		"name": "get_weather",
		"description": "Current weather",
		"inputSchema": {
			"type": "object",
			"properties": {"city": {"type": "string"}},
			"required": ["city"]
		}
	}`)
	def, err := normalizeToolDef(raw)
	require.NoError(t, err)
	assert.Equal(t, "get_weather", def.Name)
	assert.Equal(t, "Current weather", def.Description)
	require.NotNil(t, def.Schema)
	assert.Equal(t, "object", def.Schema["type"])
}

func TestNormalizeToolDefTupleForm(t *testing.T) {
	raw := json.RawMessage(`["lookup", "Find a record", {"type": "object"}]`)
	def, err := normalizeToolDef(raw)
	require.NoError(t, err)
	assert.Equal(t, "lookup", def.Name)
	assert.Equal(t, "Find a record", def.Description)
	assert.Equal(t, "object", def.Schema["type"])
}

func TestNormalizeToolDefNameOnlyTuple(t *testing.T) {
	def, err := normalizeToolDef(json.RawMessage(`["bare"]`))
	require.NoError(t, err)
	assert.Equal(t, "bare", def.Name)
}

func TestNormalizeToolDefRejectsJunk(t *testing.T) {
	_, err := normalizeToolDef(json.RawMessage(`{"description": "nameless"}`))
	assert.Error(t, err)

	_, err = normalizeToolDef(json.RawMessage(`[]`))
	assert.Error(t, err)

	_, err = normalizeToolDef(json.RawMessage(`42`))
	assert.Error(t, err)
}

func TestNewClientPicksTransport(t *testing.T) {
	log := testLog(t)

	c, err := NewClient(config.MCPServer{Name: "local", Command: "mcp-server"}, log)
	require.NoError(t, err)
	_, ok := c.transport.(*StdioTransport)
	assert.True(t, ok)

	c, err = NewClient(config.MCPServer{Name: "remote", URL: "http://example.test/sse"}, log)
	require.NoError(t, err)
	_, ok = c.transport.(*SSETransport)
	assert.True(t, ok)
}

func TestNewClientRejectsMisconfigured(t *testing.T) {
	log := testLog(t)

	_, err := NewClient(config.MCPServer{Name: "empty"}, log)
	assert.Error(t, err)

	_, err = NewClient(config.MCPServer{Name: "stdio-no-cmd", Transport: "stdio"}, log)
	assert.Error(t, err)
}
