package providers

import (
	"strings"

	"github.com/sipeed/picoclaw/pkg/config"
)

// CreateProvider is the single entry point for constructing an LLMProvider
// from the ambient LLM config. It picks an adapter by inspecting the model
// name: Claude models go to the Anthropic SDK, Gemini models go to the
// genai SDK, everything else goes to the OpenAI-compatible SDK adapter
// (which also covers any OpenAI-compatible endpoint reachable via BaseURL,
// e.g. a local gateway or another vendor's OpenAI-shaped API).
func CreateProvider(cfg *config.Config) (LLMProvider, error) {
	model := strings.TrimSpace(cfg.LLM.Model)
	lower := strings.ToLower(model)

	switch {
	case strings.HasPrefix(lower, "claude") || strings.HasPrefix(lower, "anthropic/") || strings.Contains(lower, "claude-"):
		return NewAnthropicAdapter(cfg.LLM.APIKey), nil
	case strings.HasPrefix(lower, "gemini") || strings.HasPrefix(lower, "google/") || strings.Contains(lower, "gemini-"):
		return NewGeminiAdapter(cfg.LLM.APIKey, cfg.LLM.BaseURL, ""), nil
	default:
		return NewOpenAIAdapter(cfg.LLM.APIKey, cfg.LLM.BaseURL, "", model), nil
	}
}
