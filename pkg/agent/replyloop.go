package agent

import (
	"context"
	"fmt"

	"github.com/sipeed/picoclaw/pkg/cron"
	"github.com/sipeed/picoclaw/pkg/logger"
	"github.com/sipeed/picoclaw/pkg/mcp"
	"github.com/sipeed/picoclaw/pkg/message"
	"github.com/sipeed/picoclaw/pkg/providers"
	"github.com/sipeed/picoclaw/pkg/session"
	"github.com/sipeed/picoclaw/pkg/tokenizer"
	"github.com/sipeed/picoclaw/pkg/tools"
)

// EventKind tags what an AgentEvent carries.
type EventKind string

const (
	// EventMessage is emitted once per assistant/tool-response message
	// appended to the transcript.
	EventMessage EventKind = "message"
	// EventConfirmationNeeded is emitted when a tool call's permission rule
	// is ask_before; the call then waits on ReplyLoopConfig.Confirm and is
	// denied when Confirm is nil.
	EventConfirmationNeeded EventKind = "confirmation_needed"
	// EventModelChange tags a switch of the active provider by the
	// lead/worker router. Run does not emit it.
	EventModelChange EventKind = "model_change"
	// EventMcpNotification tags an out-of-band notification from an MCP
	// server (progress, logging) unrelated to a tool result. Run does not
	// emit it.
	EventMcpNotification EventKind = "mcp_notification"
	// EventDone is emitted once, after the loop produces its final answer.
	EventDone EventKind = "done"
)

// AgentEvent is one item in the stream a ReplyLoop emits while it runs.
type AgentEvent struct {
	Kind    EventKind
	Message message.Message
	Model   string
	Notice  string
	Err     error
}

// ConfirmFunc blocks until a human approves or denies one tool call whose
// standing rule is ask_before. Implementations surface ToolName/Args however
// fits their channel (CLI prompt, chat button, ...).
type ConfirmFunc func(ctx context.Context, sessionKey, toolName string, args map[string]any) (bool, error)

// ReplyLoopConfig wires the components the reply loop drives each turn.
type ReplyLoopConfig struct {
	Provider     providers.CompletionProvider
	Tools        *tools.ToolRegistry
	Sessions     *session.Manager
	Permissions  *tools.PermissionStore
	LoopDetector *tools.LoopDetector
	Retry        *RetryController
	Counter      *tokenizer.Counter
	ContextLimit int
	MaxTurns     int
	SystemPrompt string
	Confirm      ConfirmFunc

	// Parallel configures in-turn tool call concurrency, forwarded as-is to
	// tools.ExecuteToolCalls.
	Parallel tools.ToolCallParallelConfig

	// MCP, if non-nil, backs the platform__read_resource,
	// platform__list_resources, platform__search_available_extensions, and
	// platform__manage_extensions platform tools.
	MCP *mcp.Manager
	// Cron, if non-nil, backs the platform__manage_schedule platform tool.
	Cron *cron.CronService
	// IsSubagent withholds platform__manage_extensions and
	// platform__manage_schedule from a subagent's tool set.
	IsSubagent bool
}

const defaultMaxTurns = 25

// ReplyLoop drives one conversation turn at a time: build context, call the
// active completion provider, dispatch any requested tool calls through the
// permission gate and loop detector, persist the transcript, and repeat
// until the model stops requesting tools or MaxTurns is reached.
type ReplyLoop struct {
	cfg ReplyLoopConfig
}

func NewReplyLoop(cfg ReplyLoopConfig) *ReplyLoop {
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = defaultMaxTurns
	}
	if cfg.Counter == nil {
		cfg.Counter = tokenizer.NewCounter()
	}
	return &ReplyLoop{cfg: cfg}
}

// Run appends userText to the session, drives turns until the model gives a
// final text-only answer (or MaxTurns is hit), and returns that final text.
// Every intermediate message is also sent to events, if non-nil.
func (rl *ReplyLoop) Run(ctx context.Context, sessionKey, userText string, events chan<- AgentEvent) (string, error) {
	emit := func(ev AgentEvent) {
		if events != nil {
			events <- ev
		}
	}

	rl.cfg.Sessions.GetOrCreate(sessionKey)
	userMsg := message.User().WithText(userText)
	rl.cfg.Sessions.AddMessage(sessionKey, userMsg)

	ctx = tools.WithSessionKey(ctx, sessionKey)

	toolDefs := rl.buildToolDefs()
	initial := rl.cfg.Sessions.GetHistory(sessionKey)

	var final string
	for turn := 0; turn < rl.cfg.MaxTurns; turn++ {
		history := rl.cfg.Sessions.GetHistory(sessionKey)

		fitted, removed, err := TruncateMessages(history, rl.cfg.Counter, rl.cfg.ContextLimit)
		if err != nil {
			emit(AgentEvent{Kind: EventDone, Err: err})
			return "", fmt.Errorf("fit context: %w", err)
		}
		if len(removed) > 0 {
			logger.InfoCF("agent", "truncated session history to fit context window",
				map[string]any{"session_key": sessionKey, "removed": len(removed)})
		}

		resp, _, err := rl.cfg.Provider.Complete(ctx, rl.cfg.SystemPrompt, fitted, toolDefs)
		if err != nil {
			emit(AgentEvent{Kind: EventDone, Err: err})
			return "", fmt.Errorf("completion: %w", err)
		}

		rl.cfg.Sessions.AddMessage(sessionKey, resp)
		emit(AgentEvent{Kind: EventMessage, Message: resp})

		requests := toolRequestsOf(resp)
		if len(requests) == 0 {
			final = resp.AsConcatText()
			break
		}

		responseMsg := rl.dispatchToolRequests(ctx, sessionKey, requests, emit)
		rl.cfg.Sessions.AddMessage(sessionKey, responseMsg)
		emit(AgentEvent{Kind: EventMessage, Message: responseMsg})

		if rl.cfg.Retry != nil {
			messages := rl.cfg.Sessions.GetHistory(sessionKey)
			result, retryErr := rl.cfg.Retry.HandleRetryLogic(ctx, &messages, initial)
			if retryErr != nil {
				logger.WarnCF("agent", "retry controller error", map[string]any{"error": retryErr.Error()})
			} else if result == RetryRetried || result == RetryMaxAttemptsReached {
				rl.cfg.Sessions.SetHistory(sessionKey, messages)
				if result == RetryMaxAttemptsReached {
					final = messages[len(messages)-1].AsConcatText()
					break
				}
			}
		}
	}

	if err := rl.cfg.Sessions.Save(sessionKey); err != nil {
		logger.WarnCF("agent", "failed to save session", map[string]any{"session_key": sessionKey, "error": err.Error()})
	}

	emit(AgentEvent{Kind: EventDone, Message: message.Assistant().WithText(final)})
	return final, nil
}

func toolRequestsOf(m message.Message) []message.MessageContent {
	var out []message.MessageContent
	for _, c := range m.Content {
		if c.Type == message.ContentToolRequest && c.ToolCall != nil {
			out = append(out, c)
		}
	}
	return out
}

// dispatchToolRequests gates each request through the permission store and
// loop detector, executes the permitted ones via tools.ExecuteToolCalls
// (preserving order), and folds every outcome into one user message of
// ContentToolResponse fragments — exactly the shape the provider adapter
// expects to see paired against the assistant's tool calls.
func (rl *ReplyLoop) dispatchToolRequests(ctx context.Context, sessionKey string, requests []message.MessageContent, emit func(AgentEvent)) message.Message {
	out := message.User()

	permitted := make([]message.MessageContent, 0, len(requests))
	var toolCalls []providers.ToolCall

	for _, req := range requests {
		name := req.ToolCall.Name

		if isPlatformTool(name) {
			text, isError := rl.executePlatformTool(ctx, name, req.ToolCall.Arguments)
			if isError {
				out = out.WithToolResponse(req.ToolRequestID, nil, text)
			} else {
				out = out.WithToolResponse(req.ToolRequestID, []message.Content{message.TextContent(text)}, "")
			}
			continue
		}

		decision := rl.cfg.Permissions.Check(name)

		if decision == tools.DecisionAskBefore {
			emit(AgentEvent{Kind: EventConfirmationNeeded, Message: message.User().WithToolConfirmation(req.ToolRequestID, name, req.ToolCall.Arguments)})
			approved := false
			var confirmErr error
			if rl.cfg.Confirm != nil {
				approved, confirmErr = rl.cfg.Confirm(ctx, sessionKey, name, req.ToolCall.Arguments)
			}
			if confirmErr != nil || !approved {
				out = out.WithToolResponse(req.ToolRequestID, nil, "denied: user did not approve this tool call")
				continue
			}
		} else if decision == tools.DecisionDeny {
			out = out.WithToolResponse(req.ToolRequestID, nil, fmt.Sprintf("denied: %s is not permitted", name))
			continue
		}

		if err := rl.cfg.LoopDetector.BeforeExecute(ctx, name, req.ToolCall.Arguments); err != nil {
			out = out.WithToolResponse(req.ToolRequestID, nil, err.Error())
			continue
		}

		permitted = append(permitted, req)
		toolCalls = append(toolCalls, providers.ToolCall{
			ID:        req.ToolRequestID,
			Type:      "function",
			Name:      name,
			Arguments: req.ToolCall.Arguments,
		})
	}

	if len(toolCalls) > 0 {
		executions := tools.ExecuteToolCalls(ctx, rl.cfg.Tools, toolCalls, tools.ToolCallExecutionOptions{
			Parallel: rl.cfg.Parallel,
		})
		for i, exec := range executions {
			req := permitted[i]
			rl.cfg.LoopDetector.AfterExecute(ctx, req.ToolCall.Name, req.ToolCall.Arguments, exec.Result)
			if exec.Result == nil {
				out = out.WithToolResponse(req.ToolRequestID, nil, "tool produced no result")
				continue
			}
			if exec.Result.IsError {
				out = out.WithToolResponse(req.ToolRequestID, nil, exec.Result.ForLLM)
				continue
			}
			out = out.WithToolResponse(req.ToolRequestID, []message.Content{message.TextContent(exec.Result.ForLLM)}, "")
		}
	}

	return out
}

func (rl *ReplyLoop) buildToolDefs() []providers.ToolDef {
	var out []providers.ToolDef
	if rl.cfg.Tools != nil {
		defs := rl.cfg.Tools.ToProviderDefs()
		out = make([]providers.ToolDef, 0, len(defs)+2)
		for _, d := range defs {
			out = append(out, providers.ToolDef{
				Name:        d.Function.Name,
				Description: d.Function.Description,
				Parameters:  d.Function.Parameters,
			})
		}
	}

	for _, pd := range platformToolDefs(rl.cfg.MCP != nil, rl.cfg.Cron != nil, rl.cfg.IsSubagent) {
		out = append(out, providers.ToolDef{
			Name:        pd["name"].(string),
			Description: pd["description"].(string),
			Parameters:  pd["parameters"].(map[string]any),
		})
	}
	return out
}
