package tools

import (
	"context"
	"fmt"
	"strings"
)

// SpawnTool launches a background subagent task and returns immediately with
// a task id; the result is delivered asynchronously (via the manager's bus
// announcement) rather than returned from Execute. Unlike SubagentTool and
// SpawnSubAgentTool, which block until the delegated task completes, this is
// the fire-and-forget entry point used by the main agent loop.
type SpawnTool struct {
	manager          *SubagentManager
	originChannel    string
	originChatID     string
	allowlistChecker func(targetAgentID string) bool
}

func NewSpawnTool(manager *SubagentManager) *SpawnTool {
	return &SpawnTool{
		manager:       manager,
		originChannel: "cli",
		originChatID:  "direct",
	}
}

func (t *SpawnTool) Name() string {
	return "spawn"
}

func (t *SpawnTool) Description() string {
	base := "Spawn a subagent to work on a task in the background. Returns immediately with a task id; the subagent's result is delivered as a follow-up message once it finishes."
	if t.manager != nil {
		if hint := t.manager.ModelCapabilityHint(); hint != "" {
			return base + "\n\n" + hint
		}
	}
	return base
}

func (t *SpawnTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"task": map[string]any{
				"type":        "string",
				"description": "The task for the subagent to complete",
			},
			"label": map[string]any{
				"type":        "string",
				"description": "Optional short label for the task (for display)",
			},
			"agent_id": map[string]any{
				"type":        "string",
				"description": "Optional target agent id to spawn the subagent under",
			},
		},
		"required": []string{"task"},
	}
}

func (t *SpawnTool) SetContext(channel, chatID string) {
	t.originChannel = channel
	t.originChatID = chatID
}

// SetAllowlistChecker restricts which agent ids this tool may spawn under.
// nil (the default) allows any agent id.
func (t *SpawnTool) SetAllowlistChecker(checker func(targetAgentID string) bool) {
	t.allowlistChecker = checker
}

func (t *SpawnTool) Execute(ctx context.Context, args map[string]any) *ToolResult {
	if t.manager == nil {
		return ErrorResult("Subagent manager not configured").WithError(fmt.Errorf("manager is nil"))
	}

	task, ok := args["task"].(string)
	if !ok || strings.TrimSpace(task) == "" {
		return ErrorResult("task is required").WithError(fmt.Errorf("task parameter is required"))
	}
	task = strings.TrimSpace(task)

	label, _ := args["label"].(string)
	label = strings.TrimSpace(label)

	agentID, _ := args["agent_id"].(string)
	agentID = strings.TrimSpace(agentID)
	if agentID != "" && t.allowlistChecker != nil && !t.allowlistChecker(agentID) {
		return ErrorResult(fmt.Sprintf("not allowed to spawn agent '%s'", agentID)).WithError(fmt.Errorf("spawn target not allowed"))
	}

	subagentTask, err := t.manager.SpawnTask(ctx, task, label, agentID, t.originChannel, t.originChatID, nil)
	if err != nil {
		return ErrorResult(err.Error()).WithError(err)
	}

	var msg string
	if label != "" {
		msg = fmt.Sprintf("Spawned subagent '%s' for task: %s (id: %s)", label, task, subagentTask.ID)
	} else {
		msg = fmt.Sprintf("Spawned subagent for task: %s (id: %s)", task, subagentTask.ID)
	}

	return AsyncResult(msg)
}
