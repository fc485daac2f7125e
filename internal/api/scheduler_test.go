package api

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRemindAtRFC3339(t *testing.T) {
	got, err := parseRemindAt("2026-09-01T10:30:00+02:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 9, 1, 8, 30, 0, 0, time.UTC), got)
}

func TestParseRemindAtNaiveUTC(t *testing.T) {
	got, err := parseRemindAt("2026-09-01 10:30")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 9, 1, 10, 30, 0, 0, time.UTC), got)

	got, err = parseRemindAt("2026-09-01 10:30:45")
	require.NoError(t, err)
	assert.Equal(t, 45, got.Second())
}

func TestParseRemindAtRejectsGarbage(t *testing.T) {
	_, err := parseRemindAt("tomorrow at noon")
	assert.Error(t, err)

	_, err = parseRemindAt("")
	assert.Error(t, err)
}
