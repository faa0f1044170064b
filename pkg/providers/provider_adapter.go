package providers

import (
	"context"
	"encoding/json"

	"github.com/sipeed/picoclaw/pkg/message"
)

// FlatProviderAdapter bridges an existing LLMProvider (a flat wire-level
// Message) to CompletionProvider (the richer domain Message).
// This is the one place the two message models meet; everything upstream
// of it (context manager, session store, lead/worker router, reply loop)
// only ever sees pkg/message.Message.
type FlatProviderAdapter struct {
	provider LLMProvider
	model    string
	name     string
}

func NewFlatProviderAdapter(name string, provider LLMProvider, model string) *FlatProviderAdapter {
	return &FlatProviderAdapter{provider: provider, model: model, name: name}
}

func (a *FlatProviderAdapter) Name() string { return a.name }

func (a *FlatProviderAdapter) Complete(ctx context.Context, system string, messages []message.Message, tools []ToolDef) (message.Message, Usage, error) {
	flat := make([]Message, 0, len(messages)+1)
	if system != "" {
		flat = append(flat, Message{Role: "system", Content: system})
	}
	for _, m := range messages {
		flat = append(flat, toFlatMessages(m)...)
	}

	defs := make([]ToolDefinition, 0, len(tools))
	for _, t := range tools {
		defs = append(defs, ToolDefinition{
			Type: "function",
			Function: ToolFunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}

	resp, err := a.provider.Chat(ctx, flat, defs, a.model, nil)
	if err != nil {
		return message.Message{}, Usage{}, err
	}

	out := fromFlatResponse(resp)
	usage := Usage{}
	if resp.Usage != nil {
		usage = Usage{InputTokens: resp.Usage.PromptTokens, OutputTokens: resp.Usage.CompletionTokens}
	}
	return out, usage, nil
}

func toFlatMessages(m message.Message) []Message {
	var out []Message
	role := string(m.Role)

	base := Message{Role: role}
	var toolCalls []ToolCall
	var texts []string

	for _, c := range m.Content {
		switch c.Type {
		case message.ContentText, message.ContentThinking:
			if c.Text != "" {
				texts = append(texts, c.Text)
			}
		case message.ContentToolRequest:
			if c.ToolCall != nil {
				argsJSON, _ := json.Marshal(c.ToolCall.Arguments)
				toolCalls = append(toolCalls, ToolCall{
					ID:   c.ToolRequestID,
					Type: "function",
					Function: &FunctionCall{
						Name:      c.ToolCall.Name,
						Arguments: string(argsJSON),
					},
				})
			}
		case message.ContentToolResponse:
			text := ""
			for i, item := range c.ToolResult {
				if i > 0 {
					text += "\n"
				}
				text += item.Text
			}
			if c.ToolResultError != "" {
				text = c.ToolResultError
			}
			out = append(out, Message{Role: "tool", Content: text, ToolCallID: c.ToolResponseID})
		}
	}

	if len(texts) > 0 {
		base.Content = joinLines(texts)
	}
	base.ToolCalls = toolCalls
	if base.Content != "" || len(base.ToolCalls) > 0 {
		out = append([]Message{base}, out...)
	}
	return out
}

func joinLines(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += "\n"
		}
		out += p
	}
	return out
}

func fromFlatResponse(resp *LLMResponse) message.Message {
	m := message.Assistant()
	if resp.Content != "" {
		m = m.WithText(resp.Content)
	}
	for _, tc := range resp.ToolCalls {
		var args map[string]any
		name := tc.Name
		if tc.Function != nil {
			name = tc.Function.Name
			_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		}
		if args == nil {
			args = tc.Arguments
		}
		m = m.WithToolRequest(tc.ID, &message.ToolCall{Name: name, Arguments: args}, "")
	}
	return m
}
