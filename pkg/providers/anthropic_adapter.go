package providers

import (
	"context"

	anthropicprovider "github.com/sipeed/picoclaw/pkg/providers/anthropic"
)

// AnthropicAdapter implements LLMProvider on top of anthropicprovider.Provider,
// which speaks anthropic-sdk-go directly.
type AnthropicAdapter struct {
	provider *anthropicprovider.Provider
}

func NewAnthropicAdapter(apiKey string) *AnthropicAdapter {
	return &AnthropicAdapter{provider: anthropicprovider.NewProvider(apiKey)}
}

func NewAnthropicAdapterWithTokenSource(apiKey string, tokenSource func() (string, error)) *AnthropicAdapter {
	return &AnthropicAdapter{provider: anthropicprovider.NewProviderWithTokenSource(apiKey, tokenSource)}
}

func (a *AnthropicAdapter) GetDefaultModel() string {
	return a.provider.GetDefaultModel()
}

func (a *AnthropicAdapter) Chat(ctx context.Context, messages []Message, tools []ToolDefinition, model string, options map[string]interface{}) (*LLMResponse, error) {
	return a.provider.Chat(ctx, messages, tools, model, options)
}
