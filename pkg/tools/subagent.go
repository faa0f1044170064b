package tools

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sipeed/picoclaw/pkg/bus"
	"github.com/sipeed/picoclaw/pkg/providers"
)

// ModelTag constants define the recognized capability labels for models in config.json.
// These are set via `"tags": ["vision", "code"]` under each model in the model list.
const (
	ModelTagVision      = "vision"       // Supports image/screenshot input (multimodal)
	ModelTagImageGen    = "image-gen"    // Supports image generation output (e.g. DALL-E, Stable Diffusion)
	ModelTagCode        = "code"         // Specialized for code generation and analysis
	ModelTagFast        = "fast"         // Low-latency model, suited for lightweight tasks
	ModelTagLongContext = "long-context" // Supports very long context windows (>100k tokens)
	ModelTagReasoning   = "reasoning"    // Strong logical/math reasoning (e.g., o1, deepseek-r1)
)

// modelTagDescriptions provides LLM-readable explanations of each known tag,
// injected at runtime into the tool description to guide model selection.
var modelTagDescriptions = map[string]string{
	ModelTagVision:      "can analyze images and screenshots (multimodal input)",
	ModelTagImageGen:    "can generate images from text descriptions (e.g. DALL-E, Stable Diffusion)",
	ModelTagCode:        "specialized in code generation and debugging",
	ModelTagFast:        "fast and lightweight, ideal for simple or high-frequency tasks",
	ModelTagLongContext: "handles very long inputs (>100k tokens)",
	ModelTagReasoning:   "excels at logical reasoning, math, and multi-step planning",
}

type SubagentTask struct {
	ID            string
	Task          string
	Label         string
	AgentID       string
	OriginChannel string
	OriginChatID  string
	ParentTaskID  string
	Depth         int
	Status        string
	Result        string
	Created       int64
}

type SubagentManager struct {
	tasks          map[string]*SubagentTask
	taskCancels    map[string]context.CancelFunc
	mu             sync.RWMutex
	provider       providers.LLMProvider
	defaultModel   string
	allowedModels  []providers.FallbackCandidate
	bus            *bus.MessageBus
	workspace      string
	tools          *ToolRegistry
	maxIterations  int
	maxTokens      int
	temperature    float64
	hasMaxTokens   bool
	hasTemperature bool
	maxConcurrent  int
	maxTasks       int
	maxDepth       int
	nextID         int
}

func NewSubagentManager(
	provider providers.LLMProvider,
	defaultModel, workspace string,
	bus *bus.MessageBus,
) *SubagentManager {
	return &SubagentManager{
		tasks:         make(map[string]*SubagentTask),
		taskCancels:   make(map[string]context.CancelFunc),
		provider:      provider,
		defaultModel:  defaultModel,
		bus:           bus,
		workspace:     workspace,
		tools:         NewToolRegistry(),
		maxIterations: 10,
		nextID:        1,
	}
}

// SetLimits bounds how many subagents this manager will run at once
// (maxConcurrent, reserved for future per-window throttling), how many may
// be actively running at any moment (maxTasks), and how deeply spawn chains
// may nest (maxDepth). Zero disables the corresponding check.
func (sm *SubagentManager) SetLimits(maxConcurrent, maxTasks, maxDepth int) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.maxConcurrent = maxConcurrent
	sm.maxTasks = maxTasks
	sm.maxDepth = maxDepth
}

// cancelTaskTree cancels every descendant of rootID (not rootID itself),
// walking the ParentTaskID chain recorded at spawn time.
func (sm *SubagentManager) cancelTaskTree(rootID string) {
	sm.mu.RLock()
	var descendants []string
	var collect func(id string)
	collect = func(id string) {
		for taskID, task := range sm.tasks {
			if task.ParentTaskID == id {
				descendants = append(descendants, taskID)
				collect(taskID)
			}
		}
	}
	collect(rootID)
	cancels := make([]context.CancelFunc, 0, len(descendants))
	for _, id := range descendants {
		if cancel, ok := sm.taskCancels[id]; ok {
			cancels = append(cancels, cancel)
		}
	}
	sm.mu.RUnlock()

	for _, cancel := range cancels {
		cancel()
	}
}

func parseSpawnParentID(senderID string) string {
	const prefix = "subagent:"
	if !strings.HasPrefix(senderID, prefix) {
		return ""
	}
	return strings.TrimPrefix(senderID, prefix)
}

// SetAllowedModels restricts which models a subagent-spawning tool may
// request, beyond the manager's own default. Optional; with none set,
// ModelCapabilityHint reports nothing and IsModelAllowed only accepts the
// default model.
func (sm *SubagentManager) SetAllowedModels(candidates []providers.FallbackCandidate) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.allowedModels = candidates
}

// IsModelAllowed checks if a specific requested model exists in the permitted candidates list.
func (sm *SubagentManager) IsModelAllowed(model string) bool {
	// If the user requested the default model directly, that's automatically allowed
	if model == sm.defaultModel {
		return true
	}

	// Otherwise, check against the resolved candidates (primary + fallbacks + explicitly configured)
	for _, cand := range sm.allowedModels {
		if cand.Model == model {
			return true
		}
	}
	return false
}

// ModelCapabilityHint generates a human-readable summary of allowed models and their tags.
// This is injected into the coordinator's tool descriptions so the LLM can make better routing decisions.
func (sm *SubagentManager) ModelCapabilityHint() string {
	if len(sm.allowedModels) == 0 {
		return ""
	}

	var modelLines []string
	for _, cand := range sm.allowedModels {
		if len(cand.Tags) == 0 {
			modelLines = append(modelLines, fmt.Sprintf("  - %s (general purpose)", cand.Model))
			continue
		}
		var descs []string
		for _, tag := range cand.Tags {
			if desc, known := modelTagDescriptions[tag]; known {
				descs = append(descs, fmt.Sprintf("%s (%s)", tag, desc))
			} else {
				descs = append(descs, tag)
			}
		}
		modelLines = append(modelLines, fmt.Sprintf("  - %s [%s]", cand.Model, strings.Join(descs, ", ")))
	}

	hint := "When selecting a 'model' for sub-agents, use ONLY these configured models:\n"
	hint += strings.Join(modelLines, "\n")
	hint += "\nIf a task requires vision/image analysis, you MUST select a model with the 'vision' tag. If no suitable model is available, omit the 'model' field to use the default."
	return hint
}

// SetLLMOptions sets max tokens and temperature for subagent LLM calls.
func (sm *SubagentManager) SetLLMOptions(maxTokens int, temperature float64) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.maxTokens = maxTokens
	sm.hasMaxTokens = true
	sm.temperature = temperature
	sm.hasTemperature = true
}

// SetTools sets the tool registry for subagent execution.
// If not set, subagent will have access to the provided tools.
func (sm *SubagentManager) SetTools(tools *ToolRegistry) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.tools = tools
}

// RegisterTool registers a tool for subagent execution.
func (sm *SubagentManager) RegisterTool(tool Tool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.tools.Register(tool)
}

// SpawnTask creates and starts a background subagent task, returning its
// tracking record immediately (the task itself runs in a goroutine). The
// spawn depth and parent task are inferred from the calling tool's
// execution context (a "subagent:<parentTaskID>" sender id), so callers
// outside a subagent tool invocation (audit remediation, sessions_spawn)
// naturally land at depth 1 with no parent.
func (sm *SubagentManager) SpawnTask(
	ctx context.Context,
	task, label, agentID, originChannel, originChatID string,
	callback AsyncCallback,
) (*SubagentTask, error) {
	parentTaskID := parseSpawnParentID(toolExecutionSenderID(ctx))
	depth := 1
	if parentTaskID != "" {
		parentDepth := 1
		if parent, ok := sm.GetTask(parentTaskID); ok {
			parentDepth = parent.Depth
		}
		depth = parentDepth + 1
	}

	sm.mu.Lock()

	if sm.maxDepth > 0 && depth > sm.maxDepth {
		sm.mu.Unlock()
		return nil, fmt.Errorf("max spawn depth reached")
	}

	if sm.maxTasks > 0 {
		active := 0
		for _, existing := range sm.tasks {
			if existing.Status == "running" {
				active++
			}
		}
		if active >= sm.maxTasks {
			sm.mu.Unlock()
			return nil, fmt.Errorf("max task limit reached")
		}
	}

	taskID := fmt.Sprintf("subagent-%d", sm.nextID)
	sm.nextID++

	runCtx, cancel := context.WithCancel(ctx)
	subagentTask := &SubagentTask{
		ID:            taskID,
		Task:          task,
		Label:         label,
		AgentID:       agentID,
		OriginChannel: originChannel,
		OriginChatID:  originChatID,
		ParentTaskID:  parentTaskID,
		Depth:         depth,
		Status:        "running",
		Created:       time.Now().UnixMilli(),
	}
	sm.tasks[taskID] = subagentTask
	sm.taskCancels[taskID] = cancel
	sm.mu.Unlock()

	go sm.runTask(runCtx, subagentTask, callback)

	return subagentTask, nil
}

func (sm *SubagentManager) runTask(ctx context.Context, task *SubagentTask, callback AsyncCallback) {
	task.Status = "running"
	task.Created = time.Now().UnixMilli()

	// Build system prompt for subagent
	systemPrompt := `You are a subagent. Complete the given task independently and report the result.
You have access to tools - use them as needed to complete your task.
After completing the task, provide a clear summary of what was done.`

	messages := []providers.Message{
		{
			Role:    "system",
			Content: systemPrompt,
		},
		{
			Role:    "user",
			Content: task.Task,
		},
	}

	// Check if context is already canceled before starting
	select {
	case <-ctx.Done():
		sm.mu.Lock()
		task.Status = "canceled"
		task.Result = "Task canceled before execution"
		sm.mu.Unlock()
		return
	default:
	}

	// Run tool loop with access to tools
	sm.mu.RLock()
	tools := sm.tools
	maxIter := sm.maxIterations
	maxTokens := sm.maxTokens
	temperature := sm.temperature
	hasMaxTokens := sm.hasMaxTokens
	hasTemperature := sm.hasTemperature
	sm.mu.RUnlock()

	var llmOptions map[string]any
	if hasMaxTokens || hasTemperature {
		llmOptions = map[string]any{}
		if hasMaxTokens {
			llmOptions["max_tokens"] = maxTokens
		}
		if hasTemperature {
			llmOptions["temperature"] = temperature
		}
	}

	loopResult, err := RunToolLoop(ctx, ToolLoopConfig{
		Provider:      sm.provider,
		Model:         sm.defaultModel,
		Tools:         tools,
		MaxIterations: maxIter,
		LLMOptions:    llmOptions,
	}, messages, task.OriginChannel, task.OriginChatID)

	sm.mu.Lock()
	var result *ToolResult
	defer func() {
		sm.mu.Unlock()
		// Call callback if provided and result is set
		if callback != nil && result != nil {
			callback(result)
		}
	}()

	if err != nil {
		task.Status = "failed"
		task.Result = fmt.Sprintf("Error: %v", err)
		// Check if it was canceled
		if ctx.Err() != nil {
			task.Status = "canceled"
			task.Result = "Task canceled during execution"
		}
		result = &ToolResult{
			ForLLM:  task.Result,
			ForUser: "",
			Silent:  false,
			IsError: true,
			Async:   false,
			Err:     err,
		}
	} else {
		task.Status = "completed"
		task.Result = loopResult.Content
		result = &ToolResult{
			ForLLM: fmt.Sprintf(
				"Subagent '%s' completed (iterations: %d): %s",
				task.Label,
				loopResult.Iterations,
				loopResult.Content,
			),
			ForUser: loopResult.Content,
			Silent:  false,
			IsError: false,
			Async:   false,
		}
	}

	// Send announce message back to main agent
	if sm.bus != nil {
		announceContent := fmt.Sprintf("Task '%s' completed.\n\nResult:\n%s", task.Label, task.Result)
		sm.bus.PublishInbound(bus.InboundMessage{
			Channel:  "system",
			SenderID: fmt.Sprintf("subagent:%s", task.ID),
			// Format: "original_channel:original_chat_id" for routing back
			ChatID:  fmt.Sprintf("%s:%s", task.OriginChannel, task.OriginChatID),
			Content: announceContent,
		})
	}
}

func (sm *SubagentManager) GetTask(taskID string) (*SubagentTask, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	task, ok := sm.tasks[taskID]
	return task, ok
}

func (sm *SubagentManager) ListTasks() []*SubagentTask {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	tasks := make([]*SubagentTask, 0, len(sm.tasks))
	for _, task := range sm.tasks {
		tasks = append(tasks, task)
	}
	return tasks
}

// BuildBaseWorkerConfig returns a base ToolLoopConfig that can be customized for isolated workers.
func (sm *SubagentManager) BuildBaseWorkerConfig(ctx context.Context) ToolLoopConfig {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	var llmOptions map[string]any
	if sm.hasMaxTokens || sm.hasTemperature {
		llmOptions = map[string]any{}
		if sm.hasMaxTokens {
			llmOptions["max_tokens"] = sm.maxTokens
		}
		if sm.hasTemperature {
			llmOptions["temperature"] = sm.temperature
		}
	}

	return ToolLoopConfig{
		Provider:      sm.provider,
		Model:         sm.defaultModel,
		Tools:         sm.tools, // Note: Caller should replace this for isolated registry
		MaxIterations: sm.maxIterations,
		LLMOptions:    llmOptions,
	}
}

// SubagentTool executes a subagent task synchronously and returns the result.
// Unlike SpawnTool which runs tasks asynchronously, SubagentTool waits for completion
// and returns the result directly in the ToolResult.
type SubagentTool struct {
	manager       *SubagentManager
	originChannel string
	originChatID  string
}

func NewSubagentTool(manager *SubagentManager) *SubagentTool {
	return &SubagentTool{
		manager:       manager,
		originChannel: "cli",
		originChatID:  "direct",
	}
}

func (t *SubagentTool) Name() string {
	return "subagent"
}

func (t *SubagentTool) Description() string {
	return "Execute a subagent task synchronously and return the result. Use this for delegating specific tasks to an independent agent instance. Returns execution summary to user and full details to LLM."
}

func (t *SubagentTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"task": map[string]any{
				"type":        "string",
				"description": "The task for subagent to complete",
			},
			"label": map[string]any{
				"type":        "string",
				"description": "Optional short label for the task (for display)",
			},
		},
		"required": []string{"task"},
	}
}

func (t *SubagentTool) SetContext(channel, chatID string) {
	t.originChannel = channel
	t.originChatID = chatID
}

func (t *SubagentTool) Execute(ctx context.Context, args map[string]any) *ToolResult {
	task, ok := args["task"].(string)
	if !ok {
		return ErrorResult("task is required").WithError(fmt.Errorf("task parameter is required"))
	}

	label, _ := args["label"].(string)

	if t.manager == nil {
		return ErrorResult("Subagent manager not configured").WithError(fmt.Errorf("manager is nil"))
	}

	// Build messages for subagent
	messages := []providers.Message{
		{
			Role:    "system",
			Content: "You are a subagent. Complete the given task independently and provide a clear, concise result.",
		},
		{
			Role:    "user",
			Content: task,
		},
	}

	// Use RunToolLoop to execute with tools (same as async SpawnTool)
	sm := t.manager
	sm.mu.RLock()
	tools := sm.tools
	maxIter := sm.maxIterations
	maxTokens := sm.maxTokens
	temperature := sm.temperature
	hasMaxTokens := sm.hasMaxTokens
	hasTemperature := sm.hasTemperature
	sm.mu.RUnlock()

	var llmOptions map[string]any
	if hasMaxTokens || hasTemperature {
		llmOptions = map[string]any{}
		if hasMaxTokens {
			llmOptions["max_tokens"] = maxTokens
		}
		if hasTemperature {
			llmOptions["temperature"] = temperature
		}
	}

	loopResult, err := RunToolLoop(ctx, ToolLoopConfig{
		Provider:      sm.provider,
		Model:         sm.defaultModel,
		Tools:         tools,
		MaxIterations: maxIter,
		LLMOptions:    llmOptions,
	}, messages, t.originChannel, t.originChatID)
	if err != nil {
		return ErrorResult(fmt.Sprintf("Subagent execution failed: %v", err)).WithError(err)
	}

	// ForUser: Brief summary for user (truncated if too long)
	userContent := loopResult.Content
	maxUserLen := 500
	if len(userContent) > maxUserLen {
		userContent = userContent[:maxUserLen] + "..."
	}

	// ForLLM: Full execution details
	labelStr := label
	if labelStr == "" {
		labelStr = "(unnamed)"
	}
	llmContent := fmt.Sprintf("Subagent task completed:\nLabel: %s\nIterations: %d\nResult: %s",
		labelStr, loopResult.Iterations, loopResult.Content)

	return &ToolResult{
		ForLLM:  llmContent,
		ForUser: userContent,
		Silent:  false,
		IsError: false,
		Async:   false,
	}
}
