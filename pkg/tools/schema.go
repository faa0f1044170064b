package tools

// ToolToSchema converts a registered Tool into the OpenAI/Anthropic-style
// function-calling schema shape consumed by provider adapters:
//
//	{"type": "function", "function": {"name", "description", "parameters"}}
func ToolToSchema(tool Tool) map[string]any {
	return map[string]any{
		"type": "function",
		"function": map[string]any{
			"name":        tool.Name(),
			"description": tool.Description(),
			"parameters":  tool.Parameters(),
		},
	}
}
