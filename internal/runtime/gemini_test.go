package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func TestToGenaiSchemaMapsTypeNames(t *testing.T) {
	s := toGenaiSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"title":    map[string]any{"type": "string", "description": "Task title"},
			"count":    map[string]any{"type": "integer"},
			"ratio":    map[string]any{"type": "number"},
			"done":     map[string]any{"type": "boolean"},
			"tags":     map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"untagged": map[string]any{"type": "vector"},
		},
		"required": []any{"title"},
	})
	require.NotNil(t, s)

	assert.Equal(t, genai.TypeObject, s.Type)
	assert.Equal(t, genai.TypeString, s.Properties["title"].Type)
	assert.Equal(t, "Task title", s.Properties["title"].Description)
	assert.Equal(t, genai.TypeInteger, s.Properties["count"].Type)
	assert.Equal(t, genai.TypeNumber, s.Properties["ratio"].Type)
	assert.Equal(t, genai.TypeBoolean, s.Properties["done"].Type)
	assert.Equal(t, genai.TypeArray, s.Properties["tags"].Type)
	assert.Equal(t, genai.TypeString, s.Properties["tags"].Items.Type)
	assert.Equal(t, genai.TypeUnspecified, s.Properties["untagged"].Type)
	assert.Equal(t, []string{"title"}, s.Required)
}

func TestToGenaiSchemaEnumForms(t *testing.T) {
	// MCP servers advertise enums as []any, local tool schemas as []string.
	s := toGenaiSchema(map[string]any{
		"type": "string",
		"enum": []any{"backlog", "done"},
	})
	require.NotNil(t, s)
	assert.Equal(t, []string{"backlog", "done"}, s.Enum)

	s = toGenaiSchema(map[string]any{
		"type": "string",
		"enum": []string{"backlog", "done"},
	})
	require.NotNil(t, s)
	assert.Equal(t, []string{"backlog", "done"}, s.Enum)
}

func TestToGenaiSchemaNil(t *testing.T) {
	assert.Nil(t, toGenaiSchema(nil))
}
