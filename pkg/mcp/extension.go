package mcp

import (
	"context"
	"fmt"
	"strings"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/google/jsonschema-go/jsonschema"
	"github.com/sipeed/picoclaw/pkg/config"
	"github.com/sipeed/picoclaw/pkg/logger"
)

// QualifiedTool is a tool definition rewritten with its extension prefix, so
// the reply loop can hand it to a provider without the provider ever seeing
// per-server naming collisions.
type QualifiedTool struct {
	Name         string // e.g. "mcp_github__search_issues"
	Server       string
	OriginalName string
	Description  string
	InputSchema  *jsonschema.Schema
}

// AddExtension registers (or replaces) a server config at runtime. If a
// server of the same name is already running under the old config, it is
// stopped so the next call reconnects with the new settings.
func (m *Manager) AddExtension(name string, cfg config.MCPServerConfig) {
	m.mu.Lock()
	m.configs[name] = cfg
	inst, running := m.servers[name]
	delete(m.servers, name)
	m.mu.Unlock()

	if running {
		inst.mu.Lock()
		if inst.session != nil {
			inst.session.Close()
		}
		inst.mu.Unlock()
	}

	logger.InfoCF("mcp", fmt.Sprintf("Extension %q added/updated", name), map[string]interface{}{"server": name})
}

// RemoveExtension stops the server (if running) and drops its config, so it
// no longer appears in ListServers/GetTools/dispatch.
func (m *Manager) RemoveExtension(name string) error {
	m.mu.Lock()
	if _, ok := m.configs[name]; !ok {
		m.mu.Unlock()
		return fmt.Errorf("unknown MCP server: %q", name)
	}
	inst := m.servers[name]
	delete(m.configs, name)
	delete(m.servers, name)
	m.mu.Unlock()

	if inst != nil {
		inst.mu.Lock()
		if inst.session != nil {
			inst.session.Close()
		}
		inst.mu.Unlock()
	}

	logger.InfoCF("mcp", fmt.Sprintf("Extension %q removed", name), map[string]interface{}{"server": name})
	return nil
}

// SetExtensionEnabled flips a registered extension's Enabled flag without
// forgetting its connection details, for a pause/resume that AddExtension's
// replace-whole-config shape doesn't fit cleanly.
func (m *Manager) SetExtensionEnabled(name string, enabled bool) error {
	m.mu.Lock()
	cfg, ok := m.configs[name]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("unknown MCP server: %q", name)
	}
	cfg.Enabled = enabled
	m.configs[name] = cfg
	inst := m.servers[name]
	if !enabled {
		delete(m.servers, name)
	}
	m.mu.Unlock()

	if !enabled && inst != nil {
		inst.mu.Lock()
		if inst.session != nil {
			inst.session.Close()
		}
		inst.mu.Unlock()
	}
	return nil
}

// SearchAvailableExtensions lists every enabled extension without
// starting any process, for the reply loop's platform__search_available_extensions tool.
func (m *Manager) SearchAvailableExtensions() []ServerSummary {
	return m.ListServers()
}

// SupportsResources reports whether a running (or freshly started) server
// advertises the MCP resources capability.
func (m *Manager) SupportsResources(ctx context.Context, serverName string) (bool, error) {
	inst, err := m.ensureRunning(ctx, serverName)
	if err != nil {
		return false, err
	}

	inst.mu.Lock()
	defer inst.mu.Unlock()
	if inst.session == nil {
		return false, nil
	}
	caps := inst.session.InitializeResult().Capabilities
	return caps != nil && caps.Resources != nil, nil
}

// ListResources lists the resources a server exposes, starting it if needed.
func (m *Manager) ListResources(ctx context.Context, serverName string) ([]*sdkmcp.Resource, error) {
	inst, err := m.ensureRunning(ctx, serverName)
	if err != nil {
		return nil, err
	}

	inst.mu.Lock()
	defer inst.mu.Unlock()

	result, err := inst.session.ListResources(ctx, nil)
	if err != nil {
		m.handleSessionError(serverName, inst, err)
		return nil, fmt.Errorf("resources/list %s: %w", serverName, err)
	}
	return result.Resources, nil
}

// GetPrefixedTools returns the tool set for one extension (or every enabled
// extension when name is ""), with names rewritten through
// QualifiedToolName so a provider's flat tool namespace never collides
// across servers.
func (m *Manager) GetPrefixedTools(ctx context.Context, extension string) ([]QualifiedTool, error) {
	names := []string{extension}
	if extension == "" {
		m.mu.RLock()
		names = names[:0]
		for name, cfg := range m.configs {
			if cfg.Enabled {
				names = append(names, name)
			}
		}
		m.mu.RUnlock()
	}

	var out []QualifiedTool
	for _, name := range names {
		tools, err := m.GetTools(ctx, name)
		if err != nil {
			if extension != "" {
				return nil, err
			}
			logger.WarnCF("mcp", fmt.Sprintf("Extension %q unavailable for tool listing: %v", name, err), nil)
			continue
		}
		for _, t := range tools {
			out = append(out, QualifiedTool{
				Name:         QualifiedToolName(name, t.Name),
				Server:       name,
				OriginalName: t.Name,
				Description:  t.Description,
				InputSchema:  t.InputSchema,
			})
		}
	}
	return out, nil
}

// DispatchToolCall resolves a qualified tool name back to its (server,
// original-tool-name) pair and calls it. The primary lookup path rebuilds
// the qualified name from each enabled server's real tool list (handles the
// 64-char truncation QualifiedToolName applies); the fallback is a literal
// "mcp_<server>__<tool>" split for callers that already know the exact
// server name.
func (m *Manager) DispatchToolCall(ctx context.Context, qualifiedName string, args map[string]interface{}) (string, error) {
	server, original, err := m.resolveQualifiedTool(ctx, qualifiedName)
	if err != nil {
		return "", err
	}
	return m.CallTool(ctx, server, original, args)
}

func (m *Manager) resolveQualifiedTool(ctx context.Context, qualifiedName string) (server, original string, err error) {
	tools, lerr := m.GetPrefixedTools(ctx, "")
	if lerr == nil {
		for _, t := range tools {
			if t.Name == qualifiedName {
				return t.Server, t.OriginalName, nil
			}
		}
	}

	const prefix = "mcp_"
	rest := strings.TrimPrefix(qualifiedName, prefix)
	idx := strings.Index(rest, "__")
	if idx < 0 {
		return "", "", fmt.Errorf("not a qualified MCP tool name: %q", qualifiedName)
	}
	return rest[:idx], rest[idx+2:], nil
}
