package common

import "context"

// Tool is the interface every platform tool and MCP-backed tool adapter
// implements. Registered tools are looked up by Name() and invoked through
// Execute, which must never panic — failures are reported on the returned
// ToolResult.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) *ToolResult
}

// ContextualTool is implemented by tools whose behavior depends on the
// channel/chat the call originated from (e.g. sending a follow-up message).
type ContextualTool interface {
	SetContext(channel, chatID string)
}

// AsyncCallback is invoked by a tool that completes work after Execute
// returns (e.g. a long-running shell command or subagent run).
type AsyncCallback func(result *ToolResult)

// AsyncTool is implemented by tools that may return an Async result and
// later deliver the real result via a callback set before Execute runs.
type AsyncTool interface {
	SetCallback(cb AsyncCallback)
}

// ToolParallelPolicy describes whether a tool call may be run concurrently
// with other tool calls in the same turn.
type ToolParallelPolicy string

const (
	ToolParallelSerialOnly ToolParallelPolicy = "serial_only"
	ToolParallelReadOnly   ToolParallelPolicy = "parallel_read_only"
)

const (
	ParallelToolsModeAll          = "all"
	ParallelToolsModeReadOnlyOnly = "read_only_only"
)

// ParallelPolicyProvider is implemented by tools that know whether they are
// safe to run in parallel with other calls (typically read-only tools).
type ParallelPolicyProvider interface {
	ParallelPolicy() ToolParallelPolicy
}

// ConcurrentSafeTool is implemented by tools whose single shared instance
// may be invoked from multiple goroutines at once.
type ConcurrentSafeTool interface {
	SupportsConcurrentExecution() bool
}

// ToolResult is the outcome of a single tool invocation.
//
// ForLLM is always populated and is what gets appended to the transcript as
// the tool-response content; ForUser is optional additional text the loop
// may deliver to the user directly (e.g. a notification) independent of
// what the model sees. Silent suppresses that direct delivery even when
// ForUser is set. Async signals that the real result will arrive later via
// an AsyncCallback rather than in this return value.
type ToolResult struct {
	ForLLM  string
	ForUser string
	IsError bool
	Silent  bool
	Async   bool
	err     error
}

func NewToolResult(forLLM string) *ToolResult {
	return &ToolResult{ForLLM: forLLM}
}

// SilentResult is a successful result that should not be echoed to the user
// outside of the model's own reply.
func SilentResult(forLLM string) *ToolResult {
	return &ToolResult{ForLLM: forLLM, Silent: true}
}

// AsyncResult marks a tool call as still running; the real outcome arrives
// later through the tool's AsyncCallback.
func AsyncResult(forLLM string) *ToolResult {
	return &ToolResult{ForLLM: forLLM, Async: true}
}

func ErrorResult(message string) *ToolResult {
	return &ToolResult{ForLLM: message, IsError: true}
}

// UserResult produces a result whose content is meant to be delivered to
// the user directly, in addition to being visible to the model.
func UserResult(content string) *ToolResult {
	return &ToolResult{ForLLM: content, ForUser: content}
}

// WithError attaches the underlying Go error that produced this result,
// for logging; it does not change ForLLM/IsError.
func (r *ToolResult) WithError(err error) *ToolResult {
	r.err = err
	return r
}

func (r *ToolResult) Unwrap() error {
	return r.err
}
