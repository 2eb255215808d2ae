package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewConversationProvisionalTitle(t *testing.T) {
	conv := NewConversation()
	require.Len(t, conv.ID, 36)
	require.Equal(t, "Conversation "+conv.ID[:8], conv.Title)
	require.Empty(t, conv.Messages)
}

func TestExtractTags(t *testing.T) {
	conv := &Conversation{Messages: []Message{
		{Role: "user", Content: "<!-- tags: #go #llm-council | draft -->\nWhat is MCP?"},
	}}
	require.Equal(t, []string{"go", "llm-council"}, conv.ExtractTags())

	none := &Conversation{Messages: []Message{{Role: "user", Content: "plain question"}}}
	require.Nil(t, none.ExtractTags())
}

func TestLastUserMessage(t *testing.T) {
	conv := &Conversation{Messages: []Message{
		{Role: "user", Content: "first"},
		{Role: "assistant", Direct: &DirectResponse{Response: "a"}},
		{Role: "user", Content: "second"},
	}}
	last, ok := conv.LastUserMessage()
	require.True(t, ok)
	require.Equal(t, "second", last)
}

func TestInMemStoreAppendAndGet(t *testing.T) {
	store := NewInMemStore()
	conv, err := store.Create(context.Background())
	require.NoError(t, err)

	require.NoError(t, store.AppendMessage(context.Background(), conv.ID, Message{Role: "user", Content: "hi"}))
	require.NoError(t, store.AppendMessage(context.Background(), conv.ID, Message{Role: "assistant", Direct: &DirectResponse{Model: "m", Response: "hello"}}))

	got, err := store.Get(context.Background(), conv.ID)
	require.NoError(t, err)
	require.Len(t, got.Messages, 2)

	// Get returns a copy; mutating it must not touch the stored document.
	got.Messages[0].Content = "mutated"
	again, _ := store.Get(context.Background(), conv.ID)
	require.Equal(t, "hi", again.Messages[0].Content)

	_, err = store.Get(context.Background(), "missing")
	require.Error(t, err)
	require.Error(t, store.AppendMessage(context.Background(), "missing", Message{}))
}
