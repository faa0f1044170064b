package sandbox

import (
	"context"

	"github.com/sipeed/picoclaw/pkg/config"
)

// NewFromConfig builds a sandbox instance for an agent's workspace and starts
// it before returning. Tool execution always runs inside a HostSandbox rooted
// at workspace; cfg is accepted for call-site symmetry with
// NewFromConfigWithAgent and future per-agent sandbox policy.
func NewFromConfig(workspace string, restrict bool, cfg *config.Config) Sandbox {
	return NewFromConfigWithAgent(workspace, restrict, cfg, "")
}

// NewFromConfigWithAgent builds a sandbox instance scoped to agentID. The
// agent ID carries no weight today (there is one shared HostSandbox per
// workspace) but is threaded through so callers that already know their
// agent/job identity (e.g. the cron tool) don't need to special-case it.
func NewFromConfigWithAgent(workspace string, restrict bool, _ *config.Config, _ string) Sandbox {
	host := NewHostSandbox(workspace, restrict)
	_ = host.Start(context.Background())
	return host
}
