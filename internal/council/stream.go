package council

import (
	"context"

	"github.com/council-ai/orchestrator/internal/modelclient"
	"github.com/council-ai/orchestrator/internal/streaming"
	"github.com/council-ai/orchestrator/internal/tokentracker"
	"github.com/council-ai/orchestrator/internal/toolerrors"
)

// streamEvents names the event types one streamed model call emits.
type streamEvents struct {
	Token    streaming.EventType
	Thinking streaming.EventType
}

// streamOnce drives a single streaming completion to the end, emitting
// token/thinking events annotated with the tracker's timing. Returns the
// accumulated content and reasoning content. A stream that ends without a
// complete event still returns whatever accumulated.
func (e *Engine) streamOnce(ctx context.Context, req modelclient.Request, trackerKey string, tracker *tokentracker.Tracker, events streamEvents, emit Emitter) (string, string, error) {
	stream, err := e.models.QueryStream(ctx, req)
	if err != nil {
		return "", "", err
	}
	defer func() { _ = stream.Close() }()

	tracker.Start(trackerKey)
	var content, reasoning string
	for {
		event, ok, err := stream.Recv(ctx)
		if err != nil {
			return content, reasoning, err
		}
		if !ok {
			break
		}
		switch event.Type {
		case modelclient.StreamThinking:
			reasoning = event.ReasoningContent
			tracker.AddTokens(trackerKey, 1, true)
			emit(streaming.NewEvent(events.Thinking, withTiming(map[string]any{
				"delta":   event.Delta,
				"content": event.ReasoningContent,
			}, tracker.Snapshot(trackerKey))).WithModel(req.Model))
		case modelclient.StreamToken:
			content = event.Content
			tracker.AddTokens(trackerKey, 1, false)
			emit(streaming.NewEvent(events.Token, withTiming(map[string]any{
				"delta":   event.Delta,
				"content": event.Content,
			}, tracker.Snapshot(trackerKey))).WithModel(req.Model))
		case modelclient.StreamComplete:
			content = event.Content
			reasoning = event.ReasoningContent
		case modelclient.StreamError:
			if event.Err != nil {
				return content, reasoning, event.Err
			}
		}
	}
	return content, reasoning, nil
}

// streamWithRetry retries streamOnce up to maxAttempts on stream errors and
// empty output, falling back to the reasoning channel when a model emits
// content only there. onRetry fires before
// each re-attempt.
func (e *Engine) streamWithRetry(ctx context.Context, req modelclient.Request, trackerKey string, tracker *tokentracker.Tracker, events streamEvents, emit Emitter, maxAttempts int, onRetry func(attempt int, cause string)) (string, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 && onRetry != nil {
			cause := "empty response"
			if lastErr != nil {
				cause = lastErr.Error()
			}
			onRetry(attempt, cause)
		}
		content, reasoning, err := e.streamOnce(ctx, req, trackerKey, tracker, events, emit)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			continue
		}
		if content != "" {
			return content, nil
		}
		if reasoning != "" {
			return reasoning, nil
		}
		lastErr = toolerrors.New(toolerrors.KindEmpty, "model %s returned no content", req.Model)
	}
	return "", lastErr
}

func withTiming(fields map[string]any, timing tokentracker.Timing) map[string]any {
	for k, v := range timing.Fields() {
		fields[k] = v
	}
	return fields
}
