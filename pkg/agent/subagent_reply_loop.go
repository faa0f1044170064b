package agent

import (
	"github.com/sipeed/picoclaw/pkg/tools"
)

// subagentSpawningTools names every registry tool that would let a subagent
// spawn another subagent. A subagent's tool set must never include one of
// these, regardless of what its parent's registry carries.
var subagentSpawningTools = map[string]bool{
	"spawn":           true,
	"spawn_sub_agent": true,
	"subagent":        true,
}

// NewSubagentReplyLoop builds a constrained ReplyLoop for a recursive
// subagent run: the same collaborators as the parent loop, except its tool
// registry drops anything that could spawn a further subagent, and its
// platform tool set drops platform__manage_extensions/platform__manage_schedule
// — those two remain available only to the top-level agent.
func NewSubagentReplyLoop(parent ReplyLoopConfig) *ReplyLoop {
	cfg := parent
	cfg.Tools = filterSpawningTools(parent.Tools)
	cfg.IsSubagent = true
	return NewReplyLoop(cfg)
}

// filterSpawningTools copies every tool from src except the ones that would
// let the resulting registry spawn another subagent. Returns nil if src is
// nil, matching ReplyLoop's handling of a tool-less config.
func filterSpawningTools(src *tools.ToolRegistry) *tools.ToolRegistry {
	if src == nil {
		return nil
	}
	out := tools.NewToolRegistry()
	for _, name := range src.List() {
		if subagentSpawningTools[name] {
			continue
		}
		if t, ok := src.Get(name); ok {
			out.Register(t)
		}
	}
	return out
}
