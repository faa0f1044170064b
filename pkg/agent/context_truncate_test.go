package agent

import (
	"strings"
	"testing"

	"github.com/sipeed/picoclaw/pkg/message"
	"github.com/sipeed/picoclaw/pkg/tokenizer"
)

func textMsg(role message.Role, text string) message.Message {
	m := message.Message{Role: role}
	return m.WithText(text)
}

func TestTruncateMessages_NoTruncationNeeded(t *testing.T) {
	counter := tokenizer.NewCounter()
	msgs := []message.Message{
		textMsg(message.RoleUser, "hello"),
		textMsg(message.RoleAssistant, "hi there"),
	}

	got, counts, err := TruncateMessages(msgs, counter, 100000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(got) = %d, want 2", len(got))
	}
	if len(counts) != 2 {
		t.Fatalf("len(counts) = %d, want 2", len(counts))
	}
}

func TestTruncateMessages_OldestFirstRemoval(t *testing.T) {
	counter := tokenizer.NewCounter()
	var msgs []message.Message
	for i := 0; i < 20; i++ {
		msgs = append(msgs, textMsg(message.RoleUser, strings.Repeat("word ", 200)))
		msgs = append(msgs, textMsg(message.RoleAssistant, strings.Repeat("reply ", 200)))
	}

	got, counts, err := TruncateMessages(msgs, counter, 2000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) >= len(msgs) {
		t.Fatalf("expected some messages removed, got %d of %d", len(got), len(msgs))
	}
	total := sum(counts)
	if total > 2000 {
		t.Fatalf("total tokens %d exceeds limit", total)
	}
	if got[0].Role != message.RoleUser || !got[0].HasOnlyTextContent() {
		t.Fatalf("first surviving message must be user-role plain text")
	}
	if got[len(got)-1].Role != message.RoleUser || !got[len(got)-1].HasOnlyTextContent() {
		t.Fatalf("last surviving message must be user-role plain text")
	}
}

func TestTrimToTextBoundary_DropsTrailingAssistantMessage(t *testing.T) {
	msgs := []message.Message{
		textMsg(message.RoleUser, "hi"),
		textMsg(message.RoleAssistant, "ok"),
	}
	counts := []int{1, 1}

	got, gotCounts := trimToTextBoundary(msgs, counts)

	if len(got) != 1 {
		t.Fatalf("len(got) = %d, want 1 (trailing assistant-only message must be trimmed)", len(got))
	}
	if got[0].Role != message.RoleUser {
		t.Fatalf("surviving message role = %q, want user", got[0].Role)
	}
	if len(gotCounts) != len(got) {
		t.Fatalf("counts/messages length mismatch: %d vs %d", len(gotCounts), len(got))
	}
}

func TestTrimToTextBoundary_DropsLeadingAssistantMessage(t *testing.T) {
	msgs := []message.Message{
		textMsg(message.RoleAssistant, "ok"),
		textMsg(message.RoleUser, "hi"),
	}
	counts := []int{1, 1}

	got, _ := trimToTextBoundary(msgs, counts)

	if len(got) != 1 || got[0].Role != message.RoleUser {
		t.Fatalf("expected only the trailing user message to survive, got %+v", got)
	}
}

func TestTruncateMessages_KeepsToolPairsTogether(t *testing.T) {
	counter := tokenizer.NewCounter()
	msgs := []message.Message{
		textMsg(message.RoleUser, "do the thing"),
		message.Assistant().WithToolRequest("call1", &message.ToolCall{Name: "read_file", Arguments: map[string]any{"path": "a"}}, ""),
		message.User().WithToolResponse("call1", []message.Content{message.TextContent(strings.Repeat("x", 50))}, ""),
		textMsg(message.RoleAssistant, "done"),
	}

	got, _, err := TruncateMessages(msgs, counter, 100000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("len(got) = %d, want all 4 kept under generous limit", len(got))
	}
}

func TestTruncateMessages_OversizedMessageSalvaged(t *testing.T) {
	counter := tokenizer.NewCounter()
	huge := textMsg(message.RoleUser, strings.Repeat("a", 50000))
	msgs := []message.Message{huge}

	got, _, err := TruncateMessages(msgs, counter, 2000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len(got) = %d, want 1", len(got))
	}
	if !strings.Contains(got[0].Content[0].Text, "content truncated from") {
		t.Fatalf("expected truncation notice in salvaged content")
	}
	if len(got[0].Content[0].Text) >= 50000 {
		t.Fatalf("expected content to shrink, got length %d", len(got[0].Content[0].Text))
	}
}

func TestTruncateMessages_CannotFitReturnsError(t *testing.T) {
	counter := tokenizer.NewCounter()
	msgs := []message.Message{
		textMsg(message.RoleUser, strings.Repeat("word ", 5000)),
	}

	_, _, err := TruncateMessages(msgs, counter, 10)
	if err == nil {
		t.Fatalf("expected an error when nothing can fit")
	}
}
