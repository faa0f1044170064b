// Package message is the agent's domain message model (component A of the
// reply loop): a role plus an ordered sequence of typed content fragments.
// It is deliberately independent of any one provider's wire format — the
// provider adapter layer (pkg/providers) translates to and from it.
package message

import "encoding/json"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one transcript entry: a role and its content fragments.
// Mutated only by appending a new Message; existing messages are never
// rewritten in place.
type Message struct {
	Role      Role             `json:"role"`
	CreatedAt int64            `json:"created"` // unix seconds
	Content   []MessageContent `json:"content"`
}

func User() Message {
	return Message{Role: RoleUser}
}

func Assistant() Message {
	return Message{Role: RoleAssistant}
}

func (m Message) WithText(text string) Message {
	m.Content = append(m.Content, MessageContent{Type: ContentText, Text: text})
	return m
}

func (m Message) WithImage(dataBase64, mimeType string) Message {
	m.Content = append(m.Content, MessageContent{Type: ContentImage, ImageData: dataBase64, MimeType: mimeType})
	return m
}

func (m Message) WithToolRequest(id string, call *ToolCall, callErr string) Message {
	m.Content = append(m.Content, MessageContent{Type: ContentToolRequest, ToolRequestID: id, ToolCall: call, ToolCallError: callErr})
	return m
}

func (m Message) WithToolResponse(id string, result []Content, resultErr string) Message {
	m.Content = append(m.Content, MessageContent{Type: ContentToolResponse, ToolResponseID: id, ToolResult: result, ToolResultError: resultErr})
	return m
}

func (m Message) WithToolConfirmation(id, toolName string, args map[string]any) Message {
	m.Content = append(m.Content, MessageContent{
		Type:               ContentToolConfirmationRequest,
		ToolRequestID:      id,
		ConfirmToolName:    toolName,
		ConfirmToolArgs:    args,
		NeedsConfirmation:  true,
	})
	return m
}

func (m Message) WithThinking(text, signature string) Message {
	m.Content = append(m.Content, MessageContent{Type: ContentThinking, Text: text, Signature: signature})
	return m
}

func (m Message) WithRedactedThinking(blob string) Message {
	m.Content = append(m.Content, MessageContent{Type: ContentRedactedThinking, OpaqueBlob: blob})
	return m
}

func (m Message) WithContextLengthExceeded(text string) Message {
	m.Content = append(m.Content, MessageContent{Type: ContentContextLengthExceeded, Text: text})
	return m
}

func (m Message) WithSummarizationRequested() Message {
	m.Content = append(m.Content, MessageContent{Type: ContentSummarizationRequested})
	return m
}

// ContentKind tags a MessageContent variant.
type ContentKind string

const (
	ContentText                     ContentKind = "text"
	ContentImage                    ContentKind = "image"
	ContentToolRequest              ContentKind = "toolRequest"
	ContentToolResponse             ContentKind = "toolResponse"
	ContentToolConfirmationRequest  ContentKind = "toolConfirmationRequest"
	ContentThinking                 ContentKind = "thinking"
	ContentRedactedThinking         ContentKind = "redactedThinking"
	ContentContextLengthExceeded    ContentKind = "contextLengthExceeded"
	ContentSummarizationRequested   ContentKind = "summarizationRequested"
)

// MessageContent is a tagged union over every content fragment the reply
// loop can place in a transcript. Only the fields relevant to Type are set.
type MessageContent struct {
	Type ContentKind `json:"type"`

	// Text / Thinking / ContextLengthExceeded
	Text string `json:"text,omitempty"`

	// Image
	ImageData string `json:"image_data,omitempty"`
	MimeType  string `json:"mime_type,omitempty"`

	// ToolRequest
	ToolRequestID string   `json:"id,omitempty"`
	ToolCall      *ToolCall `json:"tool_call,omitempty"`
	ToolCallError string   `json:"tool_call_error,omitempty"`

	// ToolResponse
	ToolResponseID  string    `json:"-"` // shares ToolRequestID's "id" on the wire
	ToolResult      []Content `json:"tool_result,omitempty"`
	ToolResultError string    `json:"tool_result_error,omitempty"`

	// ToolConfirmationRequest
	ConfirmToolName   string         `json:"tool_name,omitempty"`
	ConfirmToolArgs   map[string]any `json:"arguments,omitempty"`
	NeedsConfirmation bool           `json:"needs_confirmation,omitempty"`

	// Thinking
	Signature string `json:"signature,omitempty"`

	// RedactedThinking
	OpaqueBlob string `json:"data,omitempty"`
}

// MarshalJSON flattens ToolResponseID onto the wire "id" field shared with
// ToolRequestID, and marshals {status, value|error} for tool call/result
// round-tripping.
func (c MessageContent) MarshalJSON() ([]byte, error) {
	type alias MessageContent
	a := alias(c)
	raw := map[string]any{}
	data, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if c.Type == ContentToolResponse {
		raw["id"] = c.ToolResponseID
		delete(raw, "tool_result_error")
		if c.ToolResultError != "" {
			raw["status"] = "error"
			raw["error"] = c.ToolResultError
		} else {
			raw["status"] = "success"
		}
	}
	if c.Type == ContentToolRequest {
		delete(raw, "tool_call_error")
		if c.ToolCallError != "" {
			raw["status"] = "error"
			raw["error"] = c.ToolCallError
		} else {
			raw["status"] = "success"
		}
	}
	return json.Marshal(raw)
}

func (c *MessageContent) UnmarshalJSON(data []byte) error {
	type alias MessageContent
	a := (*alias)(c)
	if err := json.Unmarshal(data, a); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if c.Type == ContentToolResponse {
		if idRaw, ok := raw["id"]; ok {
			_ = json.Unmarshal(idRaw, &c.ToolResponseID)
		}
		if statusRaw, ok := raw["status"]; ok {
			var status string
			_ = json.Unmarshal(statusRaw, &status)
			if status == "error" {
				if errRaw, ok := raw["error"]; ok {
					_ = json.Unmarshal(errRaw, &c.ToolResultError)
				}
			}
		}
	}
	if c.Type == ContentToolRequest {
		if statusRaw, ok := raw["status"]; ok {
			var status string
			_ = json.Unmarshal(statusRaw, &status)
			if status == "error" {
				if errRaw, ok := raw["error"]; ok {
					_ = json.Unmarshal(errRaw, &c.ToolCallError)
				}
			}
		}
	}
	return nil
}

// ToolCall is a parsed tool invocation request: a name and JSON arguments.
type ToolCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Content is the payload of a successful tool response: text, an image, or
// an embedded resource carrying text.
type Content struct {
	Type         string `json:"type"` // "text" | "image" | "resource"
	Text         string `json:"text,omitempty"`
	ImageData    string `json:"data,omitempty"`
	MimeType     string `json:"mimeType,omitempty"`
	ResourceURI  string `json:"uri,omitempty"`
	ResourceText string `json:"resourceText,omitempty"`
}

func TextContent(text string) Content {
	return Content{Type: "text", Text: text}
}

// --- Predicates ---

func (m Message) ContainsToolCall() bool {
	for _, c := range m.Content {
		if c.Type == ContentToolRequest {
			return true
		}
	}
	return false
}

func (m Message) ContainsToolResponse() bool {
	for _, c := range m.Content {
		if c.Type == ContentToolResponse {
			return true
		}
	}
	return false
}

func (m Message) IsToolCall() bool      { return m.ContainsToolCall() }
func (m Message) IsToolResponse() bool  { return m.ContainsToolResponse() }

func (m Message) ToolRequestIDs() []string {
	var ids []string
	for _, c := range m.Content {
		if c.Type == ContentToolRequest {
			ids = append(ids, c.ToolRequestID)
		}
	}
	return ids
}

func (m Message) ToolResponseIDs() []string {
	var ids []string
	for _, c := range m.Content {
		if c.Type == ContentToolResponse {
			ids = append(ids, c.ToolResponseID)
		}
	}
	return ids
}

// GetToolIDs returns every tool-request or tool-response id referenced by
// this message, used by the truncation strategy to keep request/response
// pairs together.
func (m Message) GetToolIDs() []string {
	ids := m.ToolRequestIDs()
	ids = append(ids, m.ToolResponseIDs()...)
	return ids
}

// HasOnlyTextContent reports whether every content fragment is plain text
// (required of the transcript's first and last messages after truncation).
func (m Message) HasOnlyTextContent() bool {
	if len(m.Content) == 0 {
		return false
	}
	for _, c := range m.Content {
		if c.Type != ContentText {
			return false
		}
	}
	return true
}

// AsConcatText joins every text-bearing fragment with a newline.
func (m Message) AsConcatText() string {
	var parts []string
	for _, c := range m.Content {
		switch c.Type {
		case ContentText, ContentThinking, ContentContextLengthExceeded:
			if c.Text != "" {
				parts = append(parts, c.Text)
			}
		}
	}
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += "\n"
		}
		out += p
	}
	return out
}
