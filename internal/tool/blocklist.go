package tool

import (
	"go.uber.org/zap"

	"github.com/perrymanuk/radbot/internal/common/logger"
)

// Blocklist is a static set of internal tool names that must never be
// re-imported from an untrusted source, such as an MCP server exposing a
// host agent's own toolbox back at us.
type Blocklist struct {
	names map[string]struct{}
}

// defaultBlockedNames covers the common host-agent toolbox names observed
// in the wild.
var defaultBlockedNames = []string{
	"Bash", "Read", "Write", "Edit", "MultiEdit", "Glob", "Grep", "LS",
	"NotebookRead", "NotebookEdit", "WebFetch", "WebSearch", "TodoRead",
	"TodoWrite", "Task", "exit_plan_mode", "str_replace_editor",
	"computer", "bash", "shell", "execute_command",
}

// NewBlocklist creates a blocklist from the given names; nil uses the
// default set.
func NewBlocklist(names []string) *Blocklist {
	if names == nil {
		names = defaultBlockedNames
	}
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return &Blocklist{names: set}
}

// Blocked reports whether a tool name is blocklisted.
func (b *Blocklist) Blocked(name string) bool {
	_, ok := b.names[name]
	return ok
}

// Filter returns the tools whose names are not blocklisted. Dropped tools
// produce a single warning line with the count.
func (b *Blocklist) Filter(tools []*Tool, source string, log *logger.Logger) []*Tool {
	kept := make([]*Tool, 0, len(tools))
	var dropped []string
	for _, t := range tools {
		if b.Blocked(t.Name) {
			dropped = append(dropped, t.Name)
			continue
		}
		kept = append(kept, t)
	}
	if len(dropped) > 0 && log != nil {
		log.Warn("filtered blocklisted tools",
			zap.String("source", source),
			zap.Int("count", len(dropped)),
			zap.Strings("tools", dropped))
	}
	return kept
}
