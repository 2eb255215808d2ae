// Package anthropic implements modelclient.Backend on top of the Anthropic
// Claude Messages API for council/chairman/formatter models whose config
// entry carries `provider: "anthropic"`. Covers the plain text surface this
// module's Request/Response types need; no thinking-budget or tool-choice
// plumbing, since tool selection happens in internal/toolorchestrator
// against the tool-calling model only.
package anthropic

import (
	"context"
	"errors"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/council-ai/orchestrator/internal/modelclient"
	"github.com/council-ai/orchestrator/internal/toolerrors"
)

// MessagesClient captures the subset of the Anthropic SDK used by this
// adapter, so tests can substitute a fake.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
	NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
}

// Client adapts MessagesClient to modelclient.Backend.
type Client struct {
	msg MessagesClient
}

// New wraps an existing MessagesClient.
func New(msg MessagesClient) *Client { return &Client{msg: msg} }

// NewFromAPIKey constructs a Client using the default Anthropic HTTP
// transport, for models whose connection override supplies a direct
// Anthropic API key instead of a local OpenAI-compatible base URL.
func NewFromAPIKey(apiKey string) *Client {
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&ac.Messages)
}

func (c *Client) prepare(req modelclient.Request) (sdk.MessageNewParams, error) {
	if len(req.Messages) == 0 {
		return sdk.MessageNewParams{}, toolerrors.New(toolerrors.KindParse, "anthropic: messages are required")
	}
	var system []sdk.TextBlockParam
	msgs := make([]sdk.MessageParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			system = append(system, sdk.TextBlockParam{Text: m.Content})
		case "assistant":
			msgs = append(msgs, sdk.NewAssistantMessage(sdk.NewTextBlock(m.Content)))
		default:
			msgs = append(msgs, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
		}
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	params := sdk.MessageNewParams{
		Model:     sdk.Model(req.Model),
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
	}
	if len(system) > 0 {
		params.System = system
	}
	if req.Temperature > 0 {
		params.Temperature = sdk.Float(float64(req.Temperature))
	}
	return params, nil
}

// Query implements modelclient.Backend.
func (c *Client) Query(ctx context.Context, req modelclient.Request) (modelclient.Response, error) {
	params, err := c.prepare(req)
	if err != nil {
		return modelclient.Response{}, err
	}
	ctx, cancel := withTimeout(ctx, req.Timeout)
	defer cancel()
	msg, err := c.msg.New(ctx, params)
	if err != nil {
		return modelclient.Response{}, classifyErr(err)
	}
	return translate(msg), nil
}

// Stream implements modelclient.Backend.
func (c *Client) Stream(ctx context.Context, req modelclient.Request) (modelclient.Stream, error) {
	params, err := c.prepare(req)
	if err != nil {
		return nil, err
	}
	stream := c.msg.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		return nil, classifyErr(err)
	}
	return &messageStream{raw: stream, chunkTimeout: req.Timeout}, nil
}

func translate(msg *sdk.Message) modelclient.Response {
	var content string
	for _, block := range msg.Content {
		if tb, ok := block.AsAny().(sdk.TextBlock); ok {
			content += tb.Text
		}
	}
	return modelclient.Response{
		Content: content,
		Usage: modelclient.TokenUsage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
			TotalTokens:  int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
		StopReason: string(msg.StopReason),
	}
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
		return toolerrors.Wrap(toolerrors.KindTimeout, err, "anthropic: request timed out")
	}
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return toolerrors.Wrap(toolerrors.KindTransport, err, "anthropic: api error status=%d", apiErr.StatusCode)
	}
	return toolerrors.Wrap(toolerrors.KindTransport, err, "anthropic: request failed")
}

// messageStream adapts the Anthropic SSE stream to modelclient.Stream,
// accumulating cumulative text across delta events.
type messageStream struct {
	raw          *ssestream.Stream[sdk.MessageStreamEventUnion]
	chunkTimeout time.Duration
	acc          string
	done         bool
}

func (s *messageStream) Recv(ctx context.Context) (modelclient.StreamEvent, bool, error) {
	if s.done {
		return modelclient.StreamEvent{}, false, nil
	}
	if !s.raw.Next() {
		s.done = true
		if err := s.raw.Err(); err != nil {
			return modelclient.StreamEvent{}, false, classifyErr(err)
		}
		return modelclient.StreamEvent{Type: modelclient.StreamComplete, Content: s.acc}, true, nil
	}
	event := s.raw.Current()
	switch variant := event.AsAny().(type) {
	case sdk.ContentBlockDeltaEvent:
		if tb, ok := variant.Delta.AsAny().(sdk.TextDelta); ok {
			s.acc += tb.Text
			return modelclient.StreamEvent{Type: modelclient.StreamToken, Delta: tb.Text, Content: s.acc}, true, nil
		}
		return s.Recv(ctx)
	case sdk.MessageStopEvent:
		s.done = true
		return modelclient.StreamEvent{Type: modelclient.StreamComplete, Content: s.acc}, true, nil
	default:
		return s.Recv(ctx)
	}
}

func (s *messageStream) Close() error {
	s.done = true
	return s.raw.Close()
}

var _ modelclient.Backend = (*Client)(nil)
