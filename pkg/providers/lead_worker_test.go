package providers

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sipeed/picoclaw/pkg/message"
)

type mockCompletionProvider struct {
	name     string
	response message.Message
	err      error
	calls    int
}

func (m *mockCompletionProvider) Name() string { return m.name }

func (m *mockCompletionProvider) Complete(_ context.Context, _ string, _ []message.Message, _ []ToolDef) (message.Message, Usage, error) {
	m.calls++
	if m.err != nil {
		return message.Message{}, Usage{}, m.err
	}
	return m.response, Usage{}, nil
}

func TestLeadWorkerProvider_UsesLeadForInitialTurns(t *testing.T) {
	lead := &mockCompletionProvider{name: "lead", response: message.Assistant().WithText("ok")}
	worker := &mockCompletionProvider{name: "worker", response: message.Assistant().WithText("ok")}
	p := NewLeadWorkerProvider(lead, worker).WithLeadTurns(2)

	for i := 0; i < 2; i++ {
		_, _, err := p.Complete(context.Background(), "", []message.Message{message.User().WithText("hi")}, nil)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, lead.calls)
	assert.Equal(t, 0, worker.calls)

	_, _, err := p.Complete(context.Background(), "", []message.Message{message.User().WithText("hi")}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, worker.calls)
}

func TestLeadWorkerProvider_TechnicalFailureRetriesOnceWithLead(t *testing.T) {
	lead := &mockCompletionProvider{name: "lead", response: message.Assistant().WithText("recovered")}
	worker := &mockCompletionProvider{name: "worker", err: errors.New("network down")}
	p := NewLeadWorkerProvider(lead, worker).WithLeadTurns(0)

	resp, _, err := p.Complete(context.Background(), "", []message.Message{message.User().WithText("hi")}, nil)
	require.NoError(t, err)
	assert.Equal(t, "recovered", resp.AsConcatText())
	assert.Equal(t, 1, worker.calls)
	assert.Equal(t, 1, lead.calls)
}

func TestLeadWorkerProvider_FallbackAfterRepeatedTaskFailures(t *testing.T) {
	failing := message.User().WithToolResponse("id1", nil, "command not found: foo")
	lead := &mockCompletionProvider{name: "lead", response: message.Assistant().WithText("ok")}
	worker := &mockCompletionProvider{name: "worker", response: failing}
	p := NewLeadWorkerProvider(lead, worker).WithLeadTurns(0).WithMaxFailuresBeforeFallback(2).WithFallbackTurns(2)

	for i := 0; i < 2; i++ {
		_, _, err := p.Complete(context.Background(), "", []message.Message{message.User().WithText("hi")}, nil)
		require.NoError(t, err)
	}
	assert.True(t, p.InFallbackMode())

	_, _, err := p.Complete(context.Background(), "", []message.Message{message.User().WithText("hi")}, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, worker.calls)
}

func TestDetectTaskFailure_ErrorIndicatorInToolResult(t *testing.T) {
	conv := []message.Message{
		message.User().WithToolResponse("id1", []message.Content{message.TextContent("permission denied: cannot write")}, ""),
	}
	assert.True(t, detectTaskFailure(conv))
}

func TestDetectTaskFailure_UserCorrectionPhrase(t *testing.T) {
	conv := []message.Message{
		message.Assistant().WithText("Actually, that's wrong, let me correct it"),
	}
	assert.True(t, detectTaskFailure(conv))
}

func TestDetectTaskFailure_CleanTurnIsNotAFailure(t *testing.T) {
	conv := []message.Message{
		message.Assistant().WithText("Here is the result you asked for."),
	}
	assert.False(t, detectTaskFailure(conv))
}
