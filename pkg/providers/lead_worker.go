package providers

import (
	"context"
	"strings"
	"sync"

	"github.com/sipeed/picoclaw/pkg/logger"
	"github.com/sipeed/picoclaw/pkg/message"
)

// Usage reports token accounting for one completion call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// ToolDef is the provider-agnostic shape of a tool definition passed to
// CompletionProvider.Complete.
type ToolDef struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// CompletionProvider is the domain-level interface the lead/worker router
// switches between. It operates on pkg/message.Message rather than any one
// vendor's wire format; FlatProviderAdapter bridges to the existing
// LLMProvider implementations in this package.
type CompletionProvider interface {
	Complete(ctx context.Context, system string, messages []message.Message, tools []ToolDef) (message.Message, Usage, error)
	Name() string
}

const (
	defaultLeadTurns              = 3
	defaultMaxFailuresBeforeFallback = 2
	defaultFallbackTurns           = 2
)

// LeadWorkerProvider switches between a stronger "lead" model for the first
// turns of a conversation and a cheaper "worker" model afterward, falling
// back to the lead model for a few turns whenever the worker appears to be
// failing the task repeatedly.
type LeadWorkerProvider struct {
	mu sync.Mutex

	lead   CompletionProvider
	worker CompletionProvider

	leadTurns                    int
	maxFailuresBeforeFallback     int
	fallbackTurns                int

	turnCount       int
	failureCount    int
	inFallbackMode  bool
	fallbackRemain  int
}

func NewLeadWorkerProvider(lead, worker CompletionProvider) *LeadWorkerProvider {
	return &LeadWorkerProvider{
		lead:                      lead,
		worker:                    worker,
		leadTurns:                 defaultLeadTurns,
		maxFailuresBeforeFallback: defaultMaxFailuresBeforeFallback,
		fallbackTurns:             defaultFallbackTurns,
	}
}

func (p *LeadWorkerProvider) WithLeadTurns(n int) *LeadWorkerProvider {
	p.leadTurns = n
	return p
}

func (p *LeadWorkerProvider) WithMaxFailuresBeforeFallback(n int) *LeadWorkerProvider {
	p.maxFailuresBeforeFallback = n
	return p
}

func (p *LeadWorkerProvider) WithFallbackTurns(n int) *LeadWorkerProvider {
	p.fallbackTurns = n
	return p
}

func (p *LeadWorkerProvider) Name() string {
	return "lead_worker"
}

// activeProvider returns the lead provider if still within its initial
// turns, or forced there by a live fallback window; otherwise the worker.
func (p *LeadWorkerProvider) activeProvider() CompletionProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.activeProviderLocked()
}

func (p *LeadWorkerProvider) activeProviderLocked() CompletionProvider {
	if p.turnCount < p.leadTurns || p.inFallbackMode {
		return p.lead
	}
	return p.worker
}

// Complete dispatches to the active provider. A technical failure (the
// provider call itself erroring, e.g. network/auth) triggers exactly one
// retry against the lead provider; that retry's outcome never touches the
// failure/turn counters. A successful call (technical or retried) is then
// scanned for task-failure indicators, which do drive the counters.
func (p *LeadWorkerProvider) Complete(ctx context.Context, system string, messages []message.Message, tools []ToolDef) (message.Message, Usage, error) {
	active := p.activeProvider()

	resp, usage, err := active.Complete(ctx, system, messages, tools)
	if err != nil {
		logger.WarnCF("lead_worker", "technical failure, retrying once with lead provider", map[string]any{"error": err.Error()})
		resp, usage, err = p.lead.Complete(ctx, system, messages, tools)
		if err != nil {
			return message.Message{}, Usage{}, err
		}
		p.handleCompletionResult(append(messages, resp))
		return resp, usage, nil
	}

	p.handleCompletionResult(append(messages, resp))
	return resp, usage, nil
}

// handleCompletionResult updates turn/failure/fallback state after a
// successful completion: detects whether the turn looks like a task
// failure, and on success decrements any live fallback window.
func (p *LeadWorkerProvider) handleCompletionResult(conversation []message.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.turnCount++

	if detectTaskFailure(conversation) {
		p.failureCount++
		if p.turnCount >= p.leadTurns && !p.inFallbackMode && p.failureCount >= p.maxFailuresBeforeFallback {
			p.inFallbackMode = true
			p.fallbackRemain = p.fallbackTurns
			p.failureCount = 0
			logger.WarnC("lead_worker", "entering fallback mode: worker repeatedly failed the task")
		}
		return
	}

	p.failureCount = 0
	if p.inFallbackMode {
		p.fallbackRemain--
		if p.fallbackRemain <= 0 {
			p.inFallbackMode = false
			logger.InfoC("lead_worker", "exiting fallback mode")
		}
	}
}

// errorIndicators are substrings in tool-response text that suggest the
// tool call itself reported a failure.
var errorIndicators = []string{
	"error:", "failed:", "exception:", "traceback",
	"syntax error", "permission denied", "file not found",
	"command not found", "compilation failed", "test failed",
	"assertion failed",
}

// userCorrectionPhrases are substrings in assistant text that suggest the
// model is walking back or apologizing for a previous wrong answer —
// itself a signal the previous turn's task failed.
var userCorrectionPhrases = []string{
	"that's wrong", "that's not right", "that doesn't work", "try again",
	"let me correct", "actually, ", "no, that's", "that's incorrect",
	"fix this", "this is broken", "this doesn't",
}

func detectTaskFailure(conversation []message.Message) bool {
	if len(conversation) == 0 {
		return false
	}
	last := conversation[len(conversation)-1]

	for _, c := range last.Content {
		switch c.Type {
		case message.ContentToolRequest:
			if c.ToolCallError != "" {
				return true
			}
		case message.ContentToolResponse:
			if c.ToolResultError != "" {
				return true
			}
			for _, item := range c.ToolResult {
				if containsErrorIndicator(item.Text) {
					return true
				}
			}
		case message.ContentText:
			if last.Role == message.RoleAssistant && containsUserCorrectionPhrase(c.Text) {
				return true
			}
		}
	}
	return false
}

func containsErrorIndicator(text string) bool {
	lower := strings.ToLower(text)
	for _, indicator := range errorIndicators {
		if strings.Contains(lower, indicator) {
			return true
		}
	}
	return false
}

func containsUserCorrectionPhrase(text string) bool {
	lower := strings.ToLower(strings.TrimSpace(text))
	for _, phrase := range userCorrectionPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return strings.HasPrefix(lower, "no,") || strings.HasPrefix(lower, "wrong") || strings.HasPrefix(lower, "incorrect")
}

// InFallbackMode reports whether the router is currently forcing the lead
// provider due to recent task failures, for observability/status surfaces.
func (p *LeadWorkerProvider) InFallbackMode() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inFallbackMode
}

// TurnCount returns how many completions have been handled so far.
func (p *LeadWorkerProvider) TurnCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.turnCount
}
