// Package telemetry accumulates token usage and estimated cost across every
// model response the server processes.
package telemetry

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// Price holds dollars per million tokens for one model-name prefix.
type Price struct {
	Input  float64
	Cached float64
	Output float64
}

// AgentUsage is the per-agent breakdown returned by Snapshot.
type AgentUsage struct {
	PromptTokens int64   `json:"prompt_tokens"`
	CachedTokens int64   `json:"cached_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	Calls        int64   `json:"calls"`
	Cost         float64 `json:"cost"`
}

// Snapshot is a point-in-time copy of the accumulator.
type Snapshot struct {
	PromptTokens  int64                 `json:"prompt_tokens"`
	CachedTokens  int64                 `json:"cached_tokens"`
	OutputTokens  int64                 `json:"output_tokens"`
	Calls         int64                 `json:"calls"`
	Cost          float64               `json:"cost"`
	CacheSavings  float64               `json:"cache_savings"`
	UptimeSeconds float64               `json:"uptime_seconds"`
	Agents        map[string]AgentUsage `json:"agents"`
}

// Accumulator is a process-wide token/cost counter. All methods are safe
// for concurrent use; Record never blocks for measurable time and never
// fails.
type Accumulator struct {
	mu sync.Mutex

	prices   map[string]Price
	prefixes []string // price keys sorted longest first

	prompt  int64
	cached  int64
	output  int64
	calls   int64
	cost    float64
	savings float64
	agents  map[string]AgentUsage
	started time.Time
}

// New creates an Accumulator with the given price table. A "_default" row
// is used when no prefix matches; if absent, unmatched models cost zero.
func New(prices map[string]Price) *Accumulator {
	prefixes := make([]string, 0, len(prices))
	for k := range prices {
		if k != "_default" {
			prefixes = append(prefixes, k)
		}
	}
	sort.Slice(prefixes, func(i, j int) bool {
		return len(prefixes[i]) > len(prefixes[j])
	})
	return &Accumulator{
		prices:   prices,
		prefixes: prefixes,
		agents:   make(map[string]AgentUsage),
		started:  time.Now(),
	}
}

// priceFor resolves the price row by longest model-prefix match.
func (a *Accumulator) priceFor(model string) Price {
	for _, prefix := range a.prefixes {
		if strings.HasPrefix(model, prefix) {
			return a.prices[prefix]
		}
	}
	return a.prices["_default"]
}

// Record adds one model response's usage. Telemetry is observability only;
// internal panics are recovered and the pipeline is never affected.
func (a *Accumulator) Record(promptTokens, cachedTokens, outputTokens int, agent, model string) {
	defer func() { _ = recover() }()

	if promptTokens < 0 {
		promptTokens = 0
	}
	if cachedTokens < 0 {
		cachedTokens = 0
	}
	if cachedTokens > promptTokens {
		cachedTokens = promptTokens
	}
	if outputTokens < 0 {
		outputTokens = 0
	}

	price := a.priceFor(model)
	cost := float64(promptTokens-cachedTokens)/1e6*price.Input +
		float64(cachedTokens)/1e6*price.Cached +
		float64(outputTokens)/1e6*price.Output
	saving := float64(cachedTokens) / 1e6 * (price.Input - price.Cached)

	if agent == "" {
		agent = "unknown"
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.prompt += int64(promptTokens)
	a.cached += int64(cachedTokens)
	a.output += int64(outputTokens)
	a.calls++
	a.cost += cost
	a.savings += saving

	u := a.agents[agent]
	u.PromptTokens += int64(promptTokens)
	u.CachedTokens += int64(cachedTokens)
	u.OutputTokens += int64(outputTokens)
	u.Calls++
	u.Cost += cost
	a.agents[agent] = u
}

// Snapshot returns a copy of all counters.
func (a *Accumulator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	agents := make(map[string]AgentUsage, len(a.agents))
	for k, v := range a.agents {
		agents[k] = v
	}
	return Snapshot{
		PromptTokens:  a.prompt,
		CachedTokens:  a.cached,
		OutputTokens:  a.output,
		Calls:         a.calls,
		Cost:          a.cost,
		CacheSavings:  a.savings,
		UptimeSeconds: time.Since(a.started).Seconds(),
		Agents:        agents,
	}
}

// Reset zeroes all counters and restarts the uptime clock.
func (a *Accumulator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.prompt, a.cached, a.output, a.calls = 0, 0, 0, 0
	a.cost, a.savings = 0, 0
	a.agents = make(map[string]AgentUsage)
	a.started = time.Now()
}
