package providers

import (
	"context"

	"github.com/sipeed/picoclaw/pkg/providers/gemini_sdk"
)

// GeminiAdapter implements LLMProvider on top of gemini_sdk.Provider, which
// speaks google.golang.org/genai directly.
type GeminiAdapter struct {
	provider *gemini_sdk.Provider
}

func NewGeminiAdapter(apiKey, apiBase, proxy string) *GeminiAdapter {
	return &GeminiAdapter{provider: gemini_sdk.NewProvider(apiKey, apiBase, proxy)}
}

func (a *GeminiAdapter) GetDefaultModel() string {
	return a.provider.GetDefaultModel()
}

func (a *GeminiAdapter) Chat(ctx context.Context, messages []Message, tools []ToolDefinition, model string, options map[string]interface{}) (*LLMResponse, error) {
	return a.provider.Chat(ctx, messages, tools, model, options)
}
