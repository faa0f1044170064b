// Package tokenizer provides deterministic token counting for the reply
// loop's context-fit checks. The teacher's own context compressor
// (pkg/agent/context_compressor.go) estimates tokens with a chars/2.5
// heuristic; that is too coarse for truncation decisions that must be
// stable across runs and cacheable per message, so this package counts with
// a real BPE encoder instead.
package tokenizer

import (
	"encoding/json"
	"sync"

	tiktoken "github.com/pkoukk/tiktoken-go"

	"github.com/sipeed/picoclaw/pkg/message"
)

const encodingName = "o200k_base"

const maxCacheEntries = 10000

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
	encErr  error
)

func encoding() (*tiktoken.Tiktoken, error) {
	encOnce.Do(func() {
		enc, encErr = tiktoken.GetEncoding(encodingName)
	})
	return enc, encErr
}

// Counter counts tokens for plain strings and for full messages/tool
// definitions, with a bounded LRU-free cache keyed on text content (callers
// that need eviction ordering shouldn't rely on cache survival).
type Counter struct {
	mu    sync.Mutex
	cache map[string]int
}

func NewCounter() *Counter {
	return &Counter{cache: make(map[string]int)}
}

// Count returns the exact token count of text, using o200k_base BPE. Falls
// back to a conservative chars/4 estimate if the encoder failed to load
// (should not happen in practice; guards against a missing vocab file).
func (c *Counter) Count(text string) int {
	if text == "" {
		return 0
	}
	c.mu.Lock()
	if n, ok := c.cache[text]; ok {
		c.mu.Unlock()
		return n
	}
	c.mu.Unlock()

	n := c.countUncached(text)

	c.mu.Lock()
	if len(c.cache) >= maxCacheEntries {
		// Arbitrary eviction: the cache is a speed optimization, not a
		// correctness requirement, so a random drop is enough to bound memory.
		for k := range c.cache {
			delete(c.cache, k)
			break
		}
	}
	c.cache[text] = n
	c.mu.Unlock()

	return n
}

func (c *Counter) countUncached(text string) int {
	e, err := encoding()
	if err != nil {
		return len(text)/4 + 1
	}
	return len(e.Encode(text, nil, nil))
}

// perMessageOverhead accounts for role/name wrapping tokens added by chat
// templating, independent of content tokens.
const perMessageOverhead = 4

// endOfPrimerTokens accounts for the assistant-turn priming tokens appended
// after the last message.
const endOfPrimerTokens = 3

// CountMessage returns the token cost of a single message: per-message
// overhead plus every content fragment's text, with tool requests counted
// as "id:name:arguments_json" and tool responses as their concatenated
// result text.
func (c *Counter) CountMessage(m message.Message) int {
	total := perMessageOverhead
	for _, content := range m.Content {
		switch content.Type {
		case message.ContentText, message.ContentThinking, message.ContentContextLengthExceeded:
			total += c.Count(content.Text)
		case message.ContentToolRequest:
			total += c.Count(toolRequestText(content))
		case message.ContentToolResponse:
			total += c.Count(toolResponseText(content))
		case message.ContentToolConfirmationRequest:
			total += c.Count(content.ConfirmToolName)
		}
	}
	return total
}

func toolRequestText(c message.MessageContent) string {
	name := ""
	args := ""
	if c.ToolCall != nil {
		name = c.ToolCall.Name
		if b, err := json.Marshal(c.ToolCall.Arguments); err == nil {
			args = string(b)
		}
	}
	return c.ToolRequestID + ":" + name + ":" + args
}

func toolResponseText(c message.MessageContent) string {
	out := ""
	for i, item := range c.ToolResult {
		if i > 0 {
			out += "\n"
		}
		out += item.Text
	}
	if c.ToolResultError != "" {
		out += c.ToolResultError
	}
	return out
}

// CountMessages sums CountMessage over a transcript plus the trailing
// end-of-sequence primer.
func (c *Counter) CountMessages(messages []message.Message) int {
	total := endOfPrimerTokens
	for _, m := range messages {
		total += c.CountMessage(m)
	}
	return total
}

// ToolSpec is the minimal shape CountTools needs from a tool definition.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]any
}

const perToolOverhead = 7
const perPropertyOverhead = 3

// perEnumValueOverhead and enumOpeningOverhead model an enum property
// expanding to its full value list on the wire: a (negative) opening
// allowance offset by a per-value cost.
const enumOpeningOverhead = -3
const perEnumValueOverhead = 3

// CountTools estimates the token cost of a tool-definitions block appended
// to the system prompt: a fixed per-tool overhead, tokens of
// "name:description", and a per-property overhead for each parameter
// (tokens of "name:type:description" plus enum adjustments for
// enum-valued properties, which expand to their full value list on the
// wire).
func (c *Counter) CountTools(tools []ToolSpec) int {
	total := 0
	for _, t := range tools {
		total += perToolOverhead
		total += c.Count(t.Name + ":" + t.Description)
		total += c.countProperties(t.Parameters)
	}
	return total
}

func (c *Counter) countProperties(params map[string]any) int {
	if params == nil {
		return 0
	}
	props, ok := params["properties"].(map[string]any)
	if !ok {
		return 0
	}
	total := 0
	for name, raw := range props {
		total += perPropertyOverhead

		prop, _ := raw.(map[string]any)
		propType, _ := prop["type"].(string)
		propDesc, _ := prop["description"].(string)
		total += c.Count(name + ":" + propType + ":" + propDesc)

		if enum, ok := prop["enum"].([]any); ok {
			total += enumOpeningOverhead + len(enum)*perEnumValueOverhead
		}
	}
	return total
}
