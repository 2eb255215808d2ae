// Package openaicompat implements modelclient.Backend against any
// OpenAI-compatible chat-completions endpoint (local model servers such as
// LM Studio/Ollama's OpenAI shim, or the real OpenAI API), including
// streaming with per-chunk timeouts and reasoning-channel capture.
package openaicompat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/council-ai/orchestrator/internal/modelclient"
	"github.com/council-ai/orchestrator/internal/toolerrors"
)

// ChatClient captures the subset of the go-openai client this adapter uses,
// so tests can substitute a fake.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
	CreateChatCompletionStream(ctx context.Context, req openai.ChatCompletionRequest) (*openai.ChatCompletionStream, error)
}

// Client adapts a ChatClient pinned at one base URL/API key to
// modelclient.Backend. One Client is constructed per resolved (base URL, API
// key) pair; the Registry maps model names to the Client that should serve
// them, following the per-model connection resolution.
type Client struct {
	chat ChatClient
}

// New wraps an existing ChatClient (typically built via NewChatClient).
func New(chat ChatClient) *Client {
	return &Client{chat: chat}
}

// NewChatClient constructs a go-openai client pointed at baseURL with apiKey,
// (config.Catalog.ResolveBaseURL/ResolveAPIKey feed this).
func NewChatClient(baseURL, apiKey string) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return openai.NewClientWithConfig(cfg)
}

// Query implements modelclient.Backend.
func (c *Client) Query(ctx context.Context, req modelclient.Request) (modelclient.Response, error) {
	if len(req.Messages) == 0 {
		return modelclient.Response{}, toolerrors.New(toolerrors.KindParse, "openaicompat: messages are required")
	}
	oreq, err := encodeRequest(req)
	if err != nil {
		return modelclient.Response{}, err
	}
	ctx, cancel := withTimeout(ctx, req.Timeout)
	defer cancel()
	resp, err := c.chat.CreateChatCompletion(ctx, oreq)
	if err != nil {
		return modelclient.Response{}, classifyErr(err)
	}
	return translate(resp), nil
}

// Stream implements modelclient.Backend, returning a lazily-read sequence of
// StreamEvents. The read timeout applied to each Recv is per-chunk, not
// total: chatStream.Recv applies a fresh deadline on every call.
func (c *Client) Stream(ctx context.Context, req modelclient.Request) (modelclient.Stream, error) {
	if len(req.Messages) == 0 {
		return nil, toolerrors.New(toolerrors.KindParse, "openaicompat: messages are required")
	}
	oreq, err := encodeRequest(req)
	if err != nil {
		return nil, err
	}
	oreq.Stream = true
	stream, err := c.chat.CreateChatCompletionStream(ctx, oreq)
	if err != nil {
		return nil, classifyErr(err)
	}
	return &chatStream{raw: stream, chunkTimeout: req.Timeout}, nil
}

func encodeRequest(req modelclient.Request) (openai.ChatCompletionRequest, error) {
	messages := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}
	oreq := openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if len(req.Tools) > 0 {
		tools, err := encodeTools(req.Tools)
		if err != nil {
			return openai.ChatCompletionRequest{}, err
		}
		oreq.Tools = tools
	}
	return oreq, nil
}

func encodeTools(defs []modelclient.ToolDefinition) ([]openai.Tool, error) {
	tools := make([]openai.Tool, 0, len(defs))
	for _, def := range defs {
		params, err := json.Marshal(def.InputSchema)
		if err != nil {
			return nil, toolerrors.Wrap(toolerrors.KindParse, err, "openaicompat: marshal tool %s schema", def.Name)
		}
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  json.RawMessage(params),
			},
		})
	}
	return tools, nil
}

func translate(resp openai.ChatCompletionResponse) modelclient.Response {
	var content, reasoning string
	var calls []modelclient.ToolCall
	if len(resp.Choices) > 0 {
		msg := resp.Choices[0].Message
		content = msg.Content
		reasoning = msg.ReasoningContent
		for _, tc := range msg.ToolCalls {
			calls = append(calls, modelclient.ToolCall{Name: tc.Function.Name, Payload: parseArgs(tc.Function.Arguments)})
		}
	}
	out := modelclient.Response{
		Content:          content,
		ReasoningContent: reasoning,
		ToolCalls:        calls,
		Usage: modelclient.TokenUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
	}
	if len(resp.Choices) > 0 {
		out.StopReason = string(resp.Choices[0].FinishReason)
	}
	return out
}

func parseArgs(raw string) any {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var payload any
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return map[string]any{"raw": raw}
	}
	return payload
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}

func classifyErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return toolerrors.Wrap(toolerrors.KindTimeout, err, "openaicompat: request timed out")
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return toolerrors.Wrap(toolerrors.KindTransport, err, "openaicompat: api error status=%d", apiErr.HTTPStatusCode)
	}
	return toolerrors.Wrap(toolerrors.KindTransport, err, "openaicompat: request failed")
}

// chatStream adapts *openai.ChatCompletionStream to modelclient.Stream,
// accumulating cumulative Content across chunks.
type chatStream struct {
	raw          *openai.ChatCompletionStream
	chunkTimeout time.Duration
	accContent   string
	accReasoning string
	done         bool
}

func (s *chatStream) Recv(ctx context.Context) (modelclient.StreamEvent, bool, error) {
	if s.done {
		return modelclient.StreamEvent{}, false, nil
	}
	recvCtx, cancel := withTimeout(ctx, s.chunkTimeout)
	defer cancel()

	type result struct {
		resp openai.ChatCompletionStreamResponse
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		resp, err := s.raw.Recv()
		ch <- result{resp: resp, err: err}
	}()

	select {
	case <-recvCtx.Done():
		return modelclient.StreamEvent{}, false, toolerrors.Wrap(toolerrors.KindTimeout, recvCtx.Err(), "openaicompat: stream chunk timeout")
	case r := <-ch:
		if r.err != nil {
			s.done = true
			if errors.Is(r.err, io.EOF) {
				return modelclient.StreamEvent{
					Type:             modelclient.StreamComplete,
					Content:          s.accContent,
					ReasoningContent: s.accReasoning,
				}, true, nil
			}
			return modelclient.StreamEvent{}, false, classifyErr(r.err)
		}
		if len(r.resp.Choices) == 0 {
			return s.Recv(ctx)
		}
		delta := r.resp.Choices[0].Delta
		evtType := modelclient.StreamToken
		var deltaText string
		if delta.ReasoningContent != "" {
			s.accReasoning += delta.ReasoningContent
			deltaText = delta.ReasoningContent
			evtType = modelclient.StreamThinking
		} else if delta.Content != "" {
			s.accContent += delta.Content
			deltaText = delta.Content
		} else {
			return s.Recv(ctx)
		}
		return modelclient.StreamEvent{
			Type:             evtType,
			Delta:            deltaText,
			Content:          s.accContent,
			ReasoningContent: s.accReasoning,
		}, true, nil
	}
}

func (s *chatStream) Close() error {
	s.done = true
	return s.raw.Close()
}

var _ modelclient.Backend = (*Client)(nil)
