package openaicompat

import (
	"context"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/require"

	"github.com/council-ai/orchestrator/internal/modelclient"
	"github.com/council-ai/orchestrator/internal/toolerrors"
)

type fakeChat struct {
	resp openai.ChatCompletionResponse
	err  error
	last openai.ChatCompletionRequest
}

func (f *fakeChat) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.last = req
	return f.resp, f.err
}

func (f *fakeChat) CreateChatCompletionStream(ctx context.Context, req openai.ChatCompletionRequest) (*openai.ChatCompletionStream, error) {
	return nil, f.err
}

func TestQueryTranslatesContentAndReasoning(t *testing.T) {
	fake := &fakeChat{resp: openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{
			Message: openai.ChatCompletionMessage{
				Content:          "final answer",
				ReasoningContent: "thinking out loud",
			},
			FinishReason: openai.FinishReasonStop,
		}},
		Usage: openai.Usage{PromptTokens: 10, CompletionTokens: 4, TotalTokens: 14},
	}}
	c := New(fake)

	resp, err := c.Query(context.Background(), modelclient.Request{
		Model:    "llama3",
		Messages: []modelclient.Message{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	require.Equal(t, "final answer", resp.Content)
	require.Equal(t, "thinking out loud", resp.ReasoningContent)
	require.Equal(t, "final answer", resp.Text())
	require.Equal(t, 14, resp.Usage.TotalTokens)
	require.Equal(t, "stop", resp.StopReason)
	require.Equal(t, "llama3", fake.last.Model)
}

func TestReasoningOnlyResponseFallsBack(t *testing.T) {
	resp := modelclient.Response{ReasoningContent: "only reasoning"}
	require.Equal(t, "only reasoning", resp.Text())
}

func TestQueryRequiresMessages(t *testing.T) {
	c := New(&fakeChat{})
	_, err := c.Query(context.Background(), modelclient.Request{Model: "m"})
	require.True(t, toolerrors.Is(err, toolerrors.KindParse))
}

func TestQueryClassifiesAPIError(t *testing.T) {
	fake := &fakeChat{err: &openai.APIError{HTTPStatusCode: 500, Message: "boom"}}
	c := New(fake)
	_, err := c.Query(context.Background(), modelclient.Request{
		Model:    "m",
		Messages: []modelclient.Message{{Role: "user", Content: "hi"}},
	})
	require.True(t, toolerrors.Is(err, toolerrors.KindTransport))
}

func TestQueryClassifiesTimeout(t *testing.T) {
	fake := &fakeChat{err: context.DeadlineExceeded}
	c := New(fake)
	_, err := c.Query(context.Background(), modelclient.Request{
		Model:    "m",
		Messages: []modelclient.Message{{Role: "user", Content: "hi"}},
	})
	require.True(t, toolerrors.Is(err, toolerrors.KindTimeout))
}
