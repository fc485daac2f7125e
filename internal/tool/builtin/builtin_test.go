package builtin

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perrymanuk/radbot/internal/tool"
)

func TestRegisterAddsAllTools(t *testing.T) {
	reg := tool.NewRegistry()
	require.NoError(t, Register(reg, Deps{AppName: "beto", UserID: "radbot"}))

	assert.Equal(t, []string{
		"create_reminder",
		"create_task",
		"delete_task",
		"list_tasks",
		"search_memory",
		"store_memory",
		"update_task_status",
	}, reg.Names())
}

func TestResolveRemindAtDelayMinutes(t *testing.T) {
	before := time.Now().UTC().Add(29 * time.Minute)
	got, err := resolveRemindAt(map[string]any{"delay_minutes": float64(30)})
	require.NoError(t, err)
	after := time.Now().UTC().Add(31 * time.Minute)

	assert.True(t, got.After(before))
	assert.True(t, got.Before(after))
}

func TestResolveRemindAtDelayWinsOverAbsolute(t *testing.T) {
	got, err := resolveRemindAt(map[string]any{
		"delay_minutes": float64(5),
		"remind_at":     "2030-01-01T00:00:00Z",
	})
	require.NoError(t, err)
	assert.True(t, got.Before(time.Now().UTC().Add(6*time.Minute)))
}

func TestResolveRemindAtLayouts(t *testing.T) {
	got, err := resolveRemindAt(map[string]any{"remind_at": "2030-06-01T08:00:00Z"})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2030, 6, 1, 8, 0, 0, 0, time.UTC), got)

	got, err = resolveRemindAt(map[string]any{"remind_at": "2030-06-01 08:00"})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2030, 6, 1, 8, 0, 0, 0, time.UTC), got)

	got, err = resolveRemindAt(map[string]any{"remind_at": "2030-06-01 08:00:30"})
	require.NoError(t, err)
	assert.Equal(t, 30, got.Second())
}

func TestResolveRemindAtErrors(t *testing.T) {
	_, err := resolveRemindAt(map[string]any{})
	assert.Error(t, err)

	_, err = resolveRemindAt(map[string]any{"remind_at": "whenever"})
	assert.Error(t, err)
}

func TestIntArgNumberShapes(t *testing.T) {
	args := map[string]any{
		"float": float64(7),
		"int":   3,
		"str":   "nope",
	}
	assert.Equal(t, 7, intArg(args, "float", 0))
	assert.Equal(t, 3, intArg(args, "int", 0))
	assert.Equal(t, 9, intArg(args, "str", 9))
	assert.Equal(t, 9, intArg(args, "missing", 9))
}

func TestStringArg(t *testing.T) {
	args := map[string]any{"a": "x", "b": 1}
	assert.Equal(t, "x", stringArg(args, "a"))
	assert.Equal(t, "", stringArg(args, "b"))
	assert.Equal(t, "", stringArg(args, "missing"))
}
