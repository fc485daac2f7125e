package telemetry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPrices() map[string]Price {
	return map[string]Price{
		"gemini-2.5-pro":   {Input: 1.25, Cached: 0.31, Output: 10.00},
		"gemini-2.5":       {Input: 0.50, Cached: 0.10, Output: 3.00},
		"gemini-2.0-flash": {Input: 0.10, Cached: 0.025, Output: 0.40},
		"_default":         {Input: 1.00, Cached: 0.25, Output: 4.00},
	}
}

func TestRecordAccumulates(t *testing.T) {
	acc := New(testPrices())

	acc.Record(1000, 0, 500, "beto", "gemini-2.0-flash-001")
	acc.Record(2000, 0, 100, "beto", "gemini-2.0-flash-001")

	snap := acc.Snapshot()
	assert.Equal(t, int64(3000), snap.PromptTokens)
	assert.Equal(t, int64(600), snap.OutputTokens)
	assert.Equal(t, int64(2), snap.Calls)

	wantCost := 3000.0/1e6*0.10 + 600.0/1e6*0.40
	assert.InDelta(t, wantCost, snap.Cost, 1e-9)
}

func TestPriceLongestPrefixWins(t *testing.T) {
	acc := New(testPrices())

	// "gemini-2.5-pro" is longer than "gemini-2.5" and must win.
	acc.Record(1_000_000, 0, 0, "beto", "gemini-2.5-pro-latest")
	snap := acc.Snapshot()
	assert.InDelta(t, 1.25, snap.Cost, 1e-9)
}

func TestPriceFallsBackToDefault(t *testing.T) {
	acc := New(testPrices())

	acc.Record(1_000_000, 0, 0, "beto", "some-unknown-model")
	snap := acc.Snapshot()
	assert.InDelta(t, 1.00, snap.Cost, 1e-9)
}

func TestPriceNoDefaultCostsZero(t *testing.T) {
	acc := New(map[string]Price{
		"gemini-2.5-pro": {Input: 1.25, Output: 10.00},
	})

	acc.Record(1_000_000, 0, 1_000_000, "beto", "unknown")
	snap := acc.Snapshot()
	assert.Equal(t, int64(1_000_000), snap.PromptTokens)
	assert.Zero(t, snap.Cost)
}

func TestRecordClampsNegativeCounts(t *testing.T) {
	acc := New(testPrices())

	acc.Record(-5, -5, -5, "beto", "gemini-2.0-flash")
	snap := acc.Snapshot()
	assert.Zero(t, snap.PromptTokens)
	assert.Zero(t, snap.CachedTokens)
	assert.Zero(t, snap.OutputTokens)
	assert.Equal(t, int64(1), snap.Calls)
	assert.Zero(t, snap.Cost)
}

func TestRecordClampsCachedToPrompt(t *testing.T) {
	acc := New(testPrices())

	acc.Record(100, 500, 0, "beto", "gemini-2.0-flash")
	snap := acc.Snapshot()
	assert.Equal(t, int64(100), snap.PromptTokens)
	assert.Equal(t, int64(100), snap.CachedTokens)
}

func TestCacheSavings(t *testing.T) {
	acc := New(testPrices())

	// Half the prompt cached at the cheaper rate.
	acc.Record(2_000_000, 1_000_000, 0, "beto", "gemini-2.5-pro")
	snap := acc.Snapshot()

	wantCost := 1.25 + 0.31
	assert.InDelta(t, wantCost, snap.Cost, 1e-9)
	assert.InDelta(t, 1.25-0.31, snap.CacheSavings, 1e-9)
}

func TestPerAgentBreakdown(t *testing.T) {
	acc := New(testPrices())

	acc.Record(100, 0, 50, "beto", "gemini-2.5-pro")
	acc.Record(200, 0, 10, "scout", "gemini-2.0-flash")
	acc.Record(300, 0, 30, "", "gemini-2.0-flash")

	snap := acc.Snapshot()
	require.Len(t, snap.Agents, 3)
	assert.Equal(t, int64(100), snap.Agents["beto"].PromptTokens)
	assert.Equal(t, int64(200), snap.Agents["scout"].PromptTokens)
	assert.Equal(t, int64(300), snap.Agents["unknown"].PromptTokens)
	assert.Equal(t, int64(1), snap.Agents["scout"].Calls)
}

func TestReset(t *testing.T) {
	acc := New(testPrices())
	acc.Record(100, 0, 50, "beto", "gemini-2.5-pro")

	acc.Reset()
	snap := acc.Snapshot()
	assert.Zero(t, snap.PromptTokens)
	assert.Zero(t, snap.Calls)
	assert.Zero(t, snap.Cost)
	assert.Empty(t, snap.Agents)
}

func TestRecordConcurrent(t *testing.T) {
	acc := New(testPrices())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			acc.Record(10, 0, 5, "beto", "gemini-2.0-flash")
		}()
	}
	wg.Wait()

	snap := acc.Snapshot()
	assert.Equal(t, int64(500), snap.PromptTokens)
	assert.Equal(t, int64(50), snap.Calls)
}
