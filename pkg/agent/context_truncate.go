package agent

import (
	"errors"
	"fmt"

	"github.com/sipeed/picoclaw/pkg/message"
	"github.com/sipeed/picoclaw/pkg/tokenizer"
)

// ErrNotTruncatable is returned when truncation leaves no message to keep,
// e.g. when a single message still cannot fit inside the context window on
// its own after salvage.
var ErrNotTruncatable = errors.New("context: message cannot be truncated to fit the context window")

// ErrCannotFit is returned when, even after removing every removable
// message, the remaining transcript still exceeds the context limit.
var ErrCannotFit = errors.New("context: conversation cannot fit within the context window")

// maxTruncatedContentSize bounds how much of a single oversized text
// fragment survives salvage, in characters (not tokens) — consistent with
// the conservative chars-based sizing used elsewhere in pkg/agent.
const maxTruncatedContentSize = 5000

// truncationNoticeFmt documents in-band, in the surviving text, that content
// was cut so neither the model nor a human reviewer mistakes it for the
// original.
const truncationNoticeFmt = "\n\n[... content truncated from %d to %d characters ...]\n\n"

// TruncateMessages fits messages within contextLimit tokens, removing whole
// messages oldest-first and keeping tool-request/response pairs together.
// It first salvages any single oversized message by capping its text
// content, then removes messages until the running total fits, then trims
// any leading/trailing message that isn't plain user text so the remaining
// transcript starts and ends on a clean boundary.
func TruncateMessages(messages []message.Message, counter *tokenizer.Counter, contextLimit int) ([]message.Message, []int, error) {
	tokenCounts := make([]int, len(messages))
	for i, m := range messages {
		tokenCounts[i] = counter.CountMessage(m)
	}

	messages, tokenCounts = handleOversizedMessages(messages, tokenCounts, contextLimit, counter)

	total := sum(tokenCounts)
	if total <= contextLimit {
		return messages, tokenCounts, nil
	}

	removeSet, err := determineIndicesToRemove(messages, tokenCounts, contextLimit)
	if err != nil {
		return nil, nil, err
	}

	messages, tokenCounts = removeIndices(messages, tokenCounts, removeSet)
	messages, tokenCounts = trimToTextBoundary(messages, tokenCounts)

	if sum(tokenCounts) > contextLimit {
		return nil, nil, ErrCannotFit
	}
	if len(messages) == 0 {
		return nil, nil, ErrNotTruncatable
	}

	return messages, tokenCounts, nil
}

// handleOversizedMessages salvages any message whose own token count alone
// exceeds the context limit by truncating its text content to
// maxTruncatedContentSize characters, then recounts it.
func handleOversizedMessages(messages []message.Message, tokenCounts []int, contextLimit int, counter *tokenizer.Counter) ([]message.Message, []int) {
	out := make([]message.Message, len(messages))
	copy(out, messages)
	counts := make([]int, len(tokenCounts))
	copy(counts, tokenCounts)

	for i := range out {
		if counts[i] <= contextLimit {
			continue
		}
		out[i] = truncateMessageContentFields(out[i])
		counts[i] = counter.CountMessage(out[i])
	}
	return out, counts
}

func truncateMessageContentFields(m message.Message) message.Message {
	for i, c := range m.Content {
		if c.Type != message.ContentText && c.Type != message.ContentThinking {
			continue
		}
		if len(c.Text) <= maxTruncatedContentSize {
			continue
		}
		original := len(c.Text)
		half := maxTruncatedContentSize / 2
		notice := fmt.Sprintf(truncationNoticeFmt, original, maxTruncatedContentSize)
		c.Text = c.Text[:half] + notice + c.Text[len(c.Text)-half:]
		m.Content[i] = c
	}
	return m
}

// determineIndicesToRemove implements the OldestFirstTruncation strategy:
// walk messages from the oldest, marking them (and their tool-call/
// tool-response partner, wherever it sits in the transcript) for removal
// until the remaining token total fits.
func determineIndicesToRemove(messages []message.Message, tokenCounts []int, contextLimit int) (map[int]bool, error) {
	total := sum(tokenCounts)
	toRemove := map[int]bool{}

	toolIDToIndices := map[string][]int{}
	for i, m := range messages {
		for _, id := range m.GetToolIDs() {
			toolIDToIndices[id] = append(toolIDToIndices[id], i)
		}
	}

	for i := 0; i < len(messages) && total > contextLimit; i++ {
		if toRemove[i] {
			continue
		}
		toRemove[i] = true
		total -= tokenCounts[i]

		for _, id := range messages[i].GetToolIDs() {
			for _, partner := range toolIDToIndices[id] {
				if !toRemove[partner] {
					toRemove[partner] = true
					total -= tokenCounts[partner]
				}
			}
		}
	}

	if total > contextLimit {
		return nil, ErrNotTruncatable
	}
	return toRemove, nil
}

// removeIndices copies every unmarked message (and its token count) into
// new slices, preserving order, so the marked indices all refer to the
// original positions.
func removeIndices(messages []message.Message, tokenCounts []int, remove map[int]bool) ([]message.Message, []int) {
	outMsgs := make([]message.Message, 0, len(messages))
	outCounts := make([]int, 0, len(tokenCounts))
	for i := range messages {
		if remove[i] {
			continue
		}
		outMsgs = append(outMsgs, messages[i])
		outCounts = append(outCounts, tokenCounts[i])
	}
	return outMsgs, outCounts
}

// trimToTextBoundary drops trailing and then leading messages until both
// ends are a user message containing only text, so the surviving transcript
// never starts or ends mid-tool-call and never ends on an assistant turn
// awaiting a response.
func trimToTextBoundary(messages []message.Message, tokenCounts []int) ([]message.Message, []int) {
	isUserTextBoundary := func(m message.Message) bool {
		return m.Role == message.RoleUser && m.HasOnlyTextContent()
	}

	end := len(messages)
	for end > 0 && !isUserTextBoundary(messages[end-1]) {
		end--
	}
	messages = messages[:end]
	tokenCounts = tokenCounts[:end]

	start := 0
	for start < len(messages) && !isUserTextBoundary(messages[start]) {
		start++
	}
	return messages[start:], tokenCounts[start:]
}

func sum(xs []int) int {
	total := 0
	for _, x := range xs {
		total += x
	}
	return total
}
