// Package protocoltypes holds the flat LLM wire-format types shared between
// pkg/providers and the vendor-SDK-backed adapters (pkg/providers/anthropic,
// pkg/providers/anthropic_compat, pkg/providers/gemini_sdk,
// pkg/providers/openai_compat, pkg/providers/openai_sdk) that must not import
// pkg/providers directly, to avoid an import cycle at the provider-adapter
// boundary. pkg/providers.Message/.ToolCall/etc are type aliases of these.
package protocoltypes

import "encoding/json"

type FunctionCall struct {
	Name             string `json:"name"`
	Arguments        string `json:"arguments"`
	ThoughtSignature string `json:"-"`
}

// GoogleExtra carries Gemini-specific round-trip state that doesn't fit the
// OpenAI-shaped tool call (a thought_signature token Gemini 3 requires back
// on the next turn's tool-result message).
type GoogleExtra struct {
	ThoughtSignature string `json:"thought_signature,omitempty"`
}

// ExtraContent is a vendor-extension slot on ToolCall, keyed by vendor so
// adapters from different SDKs can stash round-trip state without colliding.
type ExtraContent struct {
	Google *GoogleExtra `json:"google,omitempty"`
}

type ToolCall struct {
	ID               string                 `json:"id"`
	Type             string                 `json:"type,omitempty"`
	Function         *FunctionCall          `json:"function,omitempty"`
	ExtraContent     *ExtraContent          `json:"extra_content,omitempty"`
	Name             string                 `json:"name,omitempty"`
	Arguments        map[string]interface{} `json:"arguments,omitempty"`
	ThoughtSignature string                 `json:"-"`
}

type UsageInfo struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type LLMResponse struct {
	Content             string          `json:"content"`
	ToolCalls           []ToolCall      `json:"tool_calls,omitempty"`
	FinishReason        string          `json:"finish_reason"`
	Usage               *UsageInfo      `json:"usage,omitempty"`
	RawAssistantMessage json.RawMessage `json:"-"`
}

type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

type ImageURL struct {
	URL string `json:"url"`
}

type Message struct {
	Role          string          `json:"role"`
	Content       string          `json:"content"`
	ContentParts  []ContentPart   `json:"content_parts,omitempty"`
	ToolCalls     []ToolCall      `json:"tool_calls,omitempty"`
	ToolCallID    string          `json:"tool_call_id,omitempty"`
	RawAPIMessage json.RawMessage `json:"raw_api_message,omitempty"`
}

type ToolFunctionDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

type ToolDefinition struct {
	Type     string                 `json:"type"`
	Function ToolFunctionDefinition `json:"function"`
}
