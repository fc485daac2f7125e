package tool

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoTool(name string) *Tool {
	return &Tool{
		Name: name,
		Handler: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			return map[string]any{"tool": name}, nil
		},
	}
}

func TestRegisterAndCall(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(echoTool("alpha")))

	out, err := reg.Call(context.Background(), "alpha", nil)
	require.NoError(t, err)
	assert.Equal(t, "alpha", out["tool"])
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(echoTool("alpha")))
	assert.Error(t, reg.Register(echoTool("alpha")))
}

func TestRegisterRejectsInvalid(t *testing.T) {
	reg := NewRegistry()
	assert.Error(t, reg.Register(nil))
	assert.Error(t, reg.Register(&Tool{Handler: echoTool("x").Handler}))
	assert.Error(t, reg.Register(&Tool{Name: "no-handler"}))
}

func TestCallUnknownTool(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Call(context.Background(), "missing", nil)
	assert.Error(t, err)
}

func TestListAndNamesSorted(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(echoTool("zeta")))
	require.NoError(t, reg.Register(echoTool("alpha")))
	require.NoError(t, reg.Register(echoTool("mid")))

	assert.Equal(t, []string{"alpha", "mid", "zeta"}, reg.Names())

	list := reg.List()
	require.Len(t, list, 3)
	assert.Equal(t, "alpha", list[0].Name)
	assert.Equal(t, "zeta", list[2].Name)
}

func TestRemove(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(echoTool("alpha")))
	reg.Remove("alpha")

	_, ok := reg.Get("alpha")
	assert.False(t, ok)
	assert.NoError(t, reg.Register(echoTool("alpha")))
}

func TestBlocklistDefaults(t *testing.T) {
	bl := NewBlocklist(nil)
	assert.True(t, bl.Blocked("Bash"))
	assert.True(t, bl.Blocked("execute_command"))
	assert.False(t, bl.Blocked("search_memory"))
}

func TestBlocklistCustomNames(t *testing.T) {
	bl := NewBlocklist([]string{"evil"})
	assert.True(t, bl.Blocked("evil"))
	assert.False(t, bl.Blocked("Bash"))
}

func TestBlocklistEmptyBlocksNothing(t *testing.T) {
	bl := NewBlocklist([]string{})
	assert.False(t, bl.Blocked("Bash"))
}

func TestFilterDropsBlockedTools(t *testing.T) {
	bl := NewBlocklist(nil)
	tools := []*Tool{echoTool("Bash"), echoTool("lookup"), echoTool("shell")}

	kept := bl.Filter(tools, "test-server", nil)
	require.Len(t, kept, 1)
	assert.Equal(t, "lookup", kept[0].Name)
}
