package providers

import (
	"context"

	"github.com/sipeed/picoclaw/pkg/providers/protocoltypes"
)

// These are aliases, not copies: every vendor adapter package (anthropic,
// anthropic_compat, gemini_sdk, openai_compat, openai_sdk) speaks
// protocoltypes directly so it can be imported from here without an import
// cycle, and this package re-exports the same types under its own names so
// callers never need to know protocoltypes exists.
type (
	FunctionCall           = protocoltypes.FunctionCall
	GoogleExtra            = protocoltypes.GoogleExtra
	ExtraContent           = protocoltypes.ExtraContent
	ToolCall               = protocoltypes.ToolCall
	UsageInfo              = protocoltypes.UsageInfo
	LLMResponse            = protocoltypes.LLMResponse
	ContentPart            = protocoltypes.ContentPart
	ImageURL               = protocoltypes.ImageURL
	Message                = protocoltypes.Message
	ToolFunctionDefinition = protocoltypes.ToolFunctionDefinition
	ToolDefinition         = protocoltypes.ToolDefinition
)

// LLMProvider is the flat wire-format interface every vendor adapter
// implements: one Chat call in, one LLMResponse out, no knowledge of
// sessions, tool registries, or fallback policy.
type LLMProvider interface {
	Chat(ctx context.Context, messages []Message, tools []ToolDefinition, model string, options map[string]interface{}) (*LLMResponse, error)
	GetDefaultModel() string
}
