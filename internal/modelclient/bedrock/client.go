// Package bedrock implements modelclient.Backend on top of the AWS Bedrock
// Converse API, for models whose config entry carries `provider: "bedrock"`.
// Only the plain text request/response surface is covered; tool definitions
// never reach Bedrock directly.
package bedrock

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"

	"github.com/council-ai/orchestrator/internal/modelclient"
	"github.com/council-ai/orchestrator/internal/toolerrors"
)

// RuntimeClient is the subset of *bedrockruntime.Client this adapter uses, so
// tests can substitute a fake.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
	ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
}

// Client adapts RuntimeClient to modelclient.Backend.
type Client struct {
	runtime RuntimeClient
}

// New wraps an existing RuntimeClient.
func New(runtime RuntimeClient) (*Client, error) {
	if runtime == nil {
		return nil, errors.New("bedrock: runtime client is required")
	}
	return &Client{runtime: runtime}, nil
}

func encode(req modelclient.Request) (*bedrockruntime.ConverseInput, error) {
	if len(req.Messages) == 0 {
		return nil, toolerrors.New(toolerrors.KindParse, "bedrock: messages are required")
	}
	var system []brtypes.SystemContentBlock
	var msgs []brtypes.Message
	for _, m := range req.Messages {
		block := brtypes.ContentBlockMemberText{Value: m.Content}
		switch m.Role {
		case "system":
			system = append(system, &brtypes.SystemContentBlockMemberText{Value: m.Content})
		case "assistant":
			msgs = append(msgs, brtypes.Message{Role: brtypes.ConversationRoleAssistant, Content: []brtypes.ContentBlock{&block}})
		default:
			msgs = append(msgs, brtypes.Message{Role: brtypes.ConversationRoleUser, Content: []brtypes.ContentBlock{&block}})
		}
	}
	in := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(req.Model),
		Messages: msgs,
	}
	if len(system) > 0 {
		in.System = system
	}
	cfg := &brtypes.InferenceConfiguration{}
	hasCfg := false
	if req.MaxTokens > 0 {
		mt := int32(req.MaxTokens)
		cfg.MaxTokens = &mt
		hasCfg = true
	}
	if req.Temperature > 0 {
		t := req.Temperature
		cfg.Temperature = &t
		hasCfg = true
	}
	if hasCfg {
		in.InferenceConfig = cfg
	}
	return in, nil
}

// Query implements modelclient.Backend.
func (c *Client) Query(ctx context.Context, req modelclient.Request) (modelclient.Response, error) {
	in, err := encode(req)
	if err != nil {
		return modelclient.Response{}, err
	}
	out, err := c.runtime.Converse(ctx, in)
	if err != nil {
		return modelclient.Response{}, classifyErr(err)
	}
	return translate(out)
}

func translate(out *bedrockruntime.ConverseOutput) (modelclient.Response, error) {
	member, ok := out.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return modelclient.Response{}, toolerrors.New(toolerrors.KindEmpty, "bedrock: no message in response")
	}
	var content string
	for _, block := range member.Value.Content {
		if tb, ok := block.(*brtypes.ContentBlockMemberText); ok {
			content += tb.Value
		}
	}
	resp := modelclient.Response{Content: content, StopReason: string(out.StopReason)}
	if out.Usage != nil {
		resp.Usage = modelclient.TokenUsage{
			InputTokens:  int(aws.ToInt32(out.Usage.InputTokens)),
			OutputTokens: int(aws.ToInt32(out.Usage.OutputTokens)),
			TotalTokens:  int(aws.ToInt32(out.Usage.TotalTokens)),
		}
	}
	return resp, nil
}

// Stream implements modelclient.Backend.
func (c *Client) Stream(ctx context.Context, req modelclient.Request) (modelclient.Stream, error) {
	in, err := encode(req)
	if err != nil {
		return nil, err
	}
	streamIn := &bedrockruntime.ConverseStreamInput{
		ModelId:         in.ModelId,
		Messages:        in.Messages,
		System:          in.System,
		InferenceConfig: in.InferenceConfig,
	}
	out, err := c.runtime.ConverseStream(ctx, streamIn)
	if err != nil {
		return nil, classifyErr(err)
	}
	return &converseStream{stream: out.GetStream(), events: out.GetStream().Events()}, nil
}

type converseStream struct {
	stream *bedrockruntime.ConverseStreamEventStream
	events <-chan brtypes.ConverseStreamOutput
	acc    string
	done   bool
}

func (s *converseStream) Recv(ctx context.Context) (modelclient.StreamEvent, bool, error) {
	if s.done {
		return modelclient.StreamEvent{}, false, nil
	}
	select {
	case <-ctx.Done():
		s.done = true
		return modelclient.StreamEvent{}, false, toolerrors.Wrap(toolerrors.KindTimeout, ctx.Err(), "bedrock: stream chunk timeout")
	case ev, ok := <-s.events:
		if !ok {
			s.done = true
			return modelclient.StreamEvent{Type: modelclient.StreamComplete, Content: s.acc}, true, nil
		}
		switch e := ev.(type) {
		case *brtypes.ConverseStreamOutputMemberContentBlockDelta:
			if tb, ok := e.Value.Delta.(*brtypes.ContentBlockDeltaMemberText); ok {
				s.acc += tb.Value
				return modelclient.StreamEvent{Type: modelclient.StreamToken, Delta: tb.Value, Content: s.acc}, true, nil
			}
			return s.Recv(ctx)
		case *brtypes.ConverseStreamOutputMemberMessageStop:
			s.done = true
			return modelclient.StreamEvent{Type: modelclient.StreamComplete, Content: s.acc}, true, nil
		default:
			return s.Recv(ctx)
		}
	}
}

func (s *converseStream) Close() error {
	s.done = true
	if s.stream != nil {
		return s.stream.Close()
	}
	return nil
}

func classifyErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return toolerrors.Wrap(toolerrors.KindTimeout, err, "bedrock: request timed out")
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return toolerrors.Wrap(toolerrors.KindTransport, err, "bedrock: api error code=%s", apiErr.ErrorCode())
	}
	return toolerrors.Wrap(toolerrors.KindTransport, err, "bedrock: request failed")
}

var _ modelclient.Backend = (*Client)(nil)
