package providers

import (
	"context"

	"github.com/sipeed/picoclaw/pkg/providers/openai_sdk"
)

// OpenAIAdapter implements LLMProvider on top of openai_sdk.Provider, which
// speaks openai-go/v3 directly. Message/ToolCall/etc are aliases of the same
// protocoltypes.* structs on both sides, so no field translation is needed.
type OpenAIAdapter struct {
	provider     *openai_sdk.Provider
	defaultModel string
}

func NewOpenAIAdapter(apiKey, apiBase, proxy, defaultModel string) *OpenAIAdapter {
	return &OpenAIAdapter{
		provider:     openai_sdk.NewProvider(apiKey, apiBase, proxy),
		defaultModel: defaultModel,
	}
}

func (a *OpenAIAdapter) GetDefaultModel() string {
	if a.defaultModel != "" {
		return a.defaultModel
	}
	return a.provider.GetDefaultModel()
}

func (a *OpenAIAdapter) Chat(ctx context.Context, messages []Message, tools []ToolDefinition, model string, options map[string]interface{}) (*LLMResponse, error) {
	return a.provider.Chat(ctx, messages, tools, model, options)
}
