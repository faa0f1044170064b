package agent

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sipeed/picoclaw/pkg/agent/sandbox"
	"github.com/sipeed/picoclaw/pkg/config"
	"github.com/sipeed/picoclaw/pkg/cron"
	"github.com/sipeed/picoclaw/pkg/logger"
	"github.com/sipeed/picoclaw/pkg/mcp"
	"github.com/sipeed/picoclaw/pkg/providers"
	"github.com/sipeed/picoclaw/pkg/session"
	"github.com/sipeed/picoclaw/pkg/tools"
)

const defaultAgentID = "main"

// AgentInstance represents a fully configured agent with its own workspace,
// session manager, context builder, and tool registry.
type AgentInstance struct {
	ID              string
	Name            string
	Model           string
	Fallbacks       []string
	Workspace       string
	MaxIterations   int
	MaxTokens       int
	Temperature     float64
	ContextWindow   int
	Provider        providers.LLMProvider
	Sessions        *session.Manager
	ContextBuilder  *ContextBuilder
	Tools           *tools.ToolRegistry
	SandboxManager  sandbox.Sandbox
	Subagents       *config.SubagentsConfig
	SkillsFilter    []string
	Candidates      []providers.FallbackCandidate
	SubagentManager *tools.SubagentManager

	// MCP is the extension manager backing the platform__read_resource,
	// platform__list_resources, platform__search_available_extensions, and
	// platform__manage_extensions platform tools. Nil when no MCP servers
	// are configured.
	MCP *mcp.Manager
	// Cron is the scheduler backing the platform__manage_schedule platform
	// tool. Persisted jobs are loaded but not ticked here — the owning
	// command is responsible for calling Start when it wants jobs to fire.
	Cron *cron.CronService

	skillsMu sync.RWMutex
}

// NewAgentInstance creates an agent instance from config.
func NewAgentInstance(
	agentCfg *config.AgentConfig,
	defaults *config.AgentDefaults,
	cfg *config.Config,
	provider providers.LLMProvider,
) *AgentInstance {
	workspace := resolveAgentWorkspace(agentCfg, defaults)
	os.MkdirAll(workspace, 0o755)

	model := resolveAgentModel(agentCfg, defaults)
	fallbacks := resolveAgentFallbacks(agentCfg, defaults)

	agentID := defaultAgentID
	agentName := ""
	var subagents *config.SubagentsConfig
	var skillsFilter []string
	if agentCfg != nil {
		agentID = normalizeAgentID(agentCfg.ID)
		agentName = agentCfg.Name
		subagents = agentCfg.Subagents
		skillsFilter = agentCfg.Skills
	}

	restrict := defaults.RestrictToWorkspace
	roContainer := isContainerReadOnlySandbox(cfg)
	toolsRegistry := tools.NewToolRegistry()

	sandboxManager := sandbox.NewFromConfigWithAgent(workspace, restrict, cfg, agentID)
	isToolEnabled := func(toolName string) bool {
		if isSandboxModeOff(cfg) {
			return true
		}
		return sandbox.IsToolSandboxEnabled(cfg, toolName)
	}

	if isToolEnabled("read_file") {
		toolsRegistry.Register(tools.NewReadFileTool(workspace, restrict))
	}
	if !roContainer && isToolEnabled("write_file") {
		toolsRegistry.Register(tools.NewWriteFileTool(workspace, restrict))
	}
	if isToolEnabled("list_dir") {
		toolsRegistry.Register(tools.NewListDirTool(workspace, restrict))
	}
	if isToolEnabled("exec") {
		toolsRegistry.Register(tools.NewExecToolWithConfig(workspace, restrict, cfg))
	}
	if !roContainer {
		if isToolEnabled("edit_file") {
			toolsRegistry.Register(tools.NewEditFileTool(workspace, restrict))
		}
		if isToolEnabled("append_file") {
			toolsRegistry.Register(tools.NewAppendFileTool(workspace, restrict))
		}
	}

	memoryStore := NewMemoryStore(workspace)
	if isToolEnabled("memory_search") {
		toolsRegistry.Register(NewMemorySearchTool(memoryStore, 5, 0.2))
	}
	if isToolEnabled("memory_get") {
		toolsRegistry.Register(NewMemoryGetTool(memoryStore))
	}

	sessionsDir := filepath.Join(workspace, "sessions")
	sessionsManager := session.NewManager(sessionsDir)

	contextBuilder := NewContextBuilder(workspace)

	maxIter := defaults.MaxToolIterations
	if maxIter == 0 {
		maxIter = 20
	}

	maxTokens := defaults.MaxTokens
	if maxTokens == 0 {
		maxTokens = 8192
	}

	temperature := 0.7
	if defaults.Temperature != nil {
		temperature = *defaults.Temperature
	}

	defaultProvider := ""
	if defaults != nil {
		defaultProvider = defaults.Provider
	}
	candidates := resolveModelCandidates(cfg, model, fallbacks, defaultProvider)

	mcpManager := bootstrapMCP(cfg)

	cronStorePath := filepath.Join(workspace, "cron", "jobs.json")
	cronService := cron.NewCronService(cronStorePath, nil)
	if err := cronService.Load(); err != nil {
		logger.WarnCF("agent", "failed to load cron store", map[string]any{"path": cronStorePath, "error": err.Error()})
	}

	return &AgentInstance{
		ID:              agentID,
		Name:            agentName,
		Model:           model,
		Fallbacks:       fallbacks,
		Workspace:       workspace,
		MaxIterations:   maxIter,
		MaxTokens:       maxTokens,
		Temperature:     temperature,
		ContextWindow:   maxTokens,
		Provider:        provider,
		Sessions:        sessionsManager,
		ContextBuilder:  contextBuilder,
		Tools:           toolsRegistry,
		SandboxManager:  sandboxManager,
		Subagents:       subagents,
		SkillsFilter:    append([]string(nil), skillsFilter...),
		Candidates:      candidates,
		MCP:             mcpManager,
		Cron:            cronService,
	}
}

// SetSkillsFilter replaces the set of skill names this agent is restricted
// to. A copy of filter is stored so later mutation of the caller's slice
// does not affect the agent.
func (a *AgentInstance) SetSkillsFilter(filter []string) {
	a.skillsMu.Lock()
	defer a.skillsMu.Unlock()
	a.SkillsFilter = append([]string(nil), filter...)
}

// GetSkillsFilter returns a copy of the agent's current skill name
// restriction so callers cannot mutate internal state through the
// returned slice.
func (a *AgentInstance) GetSkillsFilter() []string {
	a.skillsMu.RLock()
	defer a.skillsMu.RUnlock()
	return append([]string(nil), a.SkillsFilter...)
}

// resolveAgentWorkspace determines the workspace directory for an agent.
func resolveAgentWorkspace(agentCfg *config.AgentConfig, defaults *config.AgentDefaults) string {
	if agentCfg != nil && strings.TrimSpace(agentCfg.Workspace) != "" {
		return expandHome(strings.TrimSpace(agentCfg.Workspace))
	}
	defaultWS := expandHome(defaults.Workspace)
	if agentCfg == nil || agentCfg.Default || agentCfg.ID == "" || normalizeAgentID(agentCfg.ID) == defaultAgentID {
		return defaultWS
	}
	parent := filepath.Dir(defaultWS)
	id := normalizeAgentID(agentCfg.ID)
	return filepath.Join(parent, "workspace-"+id)
}

// resolveAgentModel resolves the primary model for an agent.
func resolveAgentModel(agentCfg *config.AgentConfig, defaults *config.AgentDefaults) string {
	if agentCfg != nil && agentCfg.Model != nil && strings.TrimSpace(agentCfg.Model.Primary) != "" {
		return strings.TrimSpace(agentCfg.Model.Primary)
	}
	return defaults.GetModelName()
}

// resolveAgentFallbacks resolves the fallback models for an agent.
func resolveAgentFallbacks(agentCfg *config.AgentConfig, defaults *config.AgentDefaults) []string {
	if agentCfg != nil && agentCfg.Model != nil && agentCfg.Model.Fallbacks != nil {
		return agentCfg.Model.Fallbacks
	}
	return defaults.ModelFallbacks
}

// resolveModelCandidates turns a model name and fallback list into a
// deduplicated fallback chain. Model names are first looked up against
// cfg.ModelList so short aliases (e.g. "step-3.5-flash") resolve to their
// full "provider/model" form before being parsed.
func resolveModelCandidates(cfg *config.Config, model string, fallbacks []string, defaultProvider string) []providers.FallbackCandidate {
	resolve := func(raw string) string {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			return raw
		}
		if cfg != nil {
			if mc, err := cfg.GetModelConfig(raw); err == nil && mc != nil && strings.TrimSpace(mc.Model) != "" {
				return ensureProtocol(mc.Model)
			}
		}
		return raw
	}

	modelCfg := providers.ModelConfig{Primary: resolve(model)}
	for _, fb := range fallbacks {
		modelCfg.Fallbacks = append(modelCfg.Fallbacks, resolve(fb))
	}
	return providers.ResolveCandidates(modelCfg, defaultProvider)
}

// ensureProtocol prefixes a bare model name with the "openai/" protocol so
// it parses as an explicit provider reference rather than falling back to
// whatever default provider happens to be in scope.
func ensureProtocol(model string) string {
	model = strings.TrimSpace(model)
	if model == "" || strings.Contains(model, "/") {
		return model
	}
	return "openai/" + model
}

// normalizeAgentID canonicalizes a configured agent ID: trimmed, lowercased,
// with interior whitespace collapsed to hyphens. An empty result maps to
// the default agent ID.
func normalizeAgentID(id string) string {
	id = strings.ToLower(strings.TrimSpace(id))
	id = strings.Join(strings.Fields(id), "-")
	if id == "" {
		return defaultAgentID
	}
	return id
}

func isContainerReadOnlySandbox(cfg *config.Config) bool {
	if cfg == nil {
		return false
	}
	return cfg.Agents.Defaults.Sandbox.Mode == "all" &&
		cfg.Agents.Defaults.Sandbox.WorkspaceAccess == "ro"
}

func isSandboxModeOff(cfg *config.Config) bool {
	if cfg == nil {
		return false
	}
	return cfg.Agents.Defaults.Sandbox.Mode == "off"
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
