package agent

import (
	"github.com/sipeed/picoclaw/pkg/config"
	"github.com/sipeed/picoclaw/pkg/mcp"
)

// bootstrapMCP constructs the MCP manager for an agent from its tools
// config. Connections are lazy (mcp.Manager.ensureRunning starts a server on
// first GetTools/CallTool/ReadResource), so this never blocks on process
// startup — it returns nil when no servers are configured.
func bootstrapMCP(cfg *config.Config) *mcp.Manager {
	if cfg == nil || len(cfg.Tools.MCP) == 0 {
		return nil
	}
	return mcp.NewManager(cfg.Tools.MCP)
}
