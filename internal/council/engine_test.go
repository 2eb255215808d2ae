package council

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/council-ai/orchestrator/internal/config"
	"github.com/council-ai/orchestrator/internal/mcp"
	"github.com/council-ai/orchestrator/internal/modelclient"
	"github.com/council-ai/orchestrator/internal/streaming"
)

// fakeStream replays a full text as word-level token events.
type fakeStream struct {
	events []modelclient.StreamEvent
	i      int
}

func streamFromText(text string) *fakeStream {
	words := strings.SplitAfter(text, " ")
	var events []modelclient.StreamEvent
	acc := ""
	for _, w := range words {
		acc += w
		events = append(events, modelclient.StreamEvent{Type: modelclient.StreamToken, Delta: w, Content: acc})
	}
	events = append(events, modelclient.StreamEvent{Type: modelclient.StreamComplete, Content: text})
	return &fakeStream{events: events}
}

func (s *fakeStream) Recv(ctx context.Context) (modelclient.StreamEvent, bool, error) {
	if s.i >= len(s.events) {
		return modelclient.StreamEvent{}, false, nil
	}
	e := s.events[s.i]
	s.i++
	return e, true, nil
}

func (s *fakeStream) Close() error { return nil }

// scriptedCouncilBackend answers by prompt shape: ranking prompts get the
// model's scripted ranking, refinement prompts a refined answer, synthesis
// prompts the synthesis, everything else the stage-1 answer.
type scriptedCouncilBackend struct {
	mu           sync.Mutex
	model        string
	stage1       string
	rankings     []string // one per round, last reused
	rankingCalls int
	refined      string
	synthesis    string
}

func (b *scriptedCouncilBackend) respond(req modelclient.Request) string {
	prompt := req.Messages[len(req.Messages)-1].Content
	switch {
	case strings.Contains(prompt, "FINAL RANKING block"):
		b.mu.Lock()
		idx := b.rankingCalls
		if idx >= len(b.rankings) {
			idx = len(b.rankings) - 1
		}
		b.rankingCalls++
		b.mu.Unlock()
		return b.rankings[idx]
	case strings.Contains(prompt, "rated poorly by peer reviewers"):
		return b.refined
	case strings.Contains(prompt, "chairman of an AI council"):
		return b.synthesis
	default:
		return b.stage1
	}
}

func (b *scriptedCouncilBackend) Query(ctx context.Context, req modelclient.Request) (modelclient.Response, error) {
	return modelclient.Response{Content: b.respond(req)}, nil
}

func (b *scriptedCouncilBackend) Stream(ctx context.Context, req modelclient.Request) (modelclient.Stream, error) {
	return streamFromText(b.respond(req)), nil
}

func councilConfig(models ...string) *config.Catalog {
	cfg := &config.Catalog{}
	for _, m := range models {
		cfg.Models.Council = append(cfg.Models.Council, config.ModelEntry{Name: m})
	}
	cfg.Models.Chairman = config.ModelEntry{Name: "chairman"}
	cfg.Deliberation = config.Deliberation{MaxRounds: 3}
	return cfg
}

func TestDeliberateFullPipelineWithRefinement(t *testing.T) {
	goodRanking := `FINAL RANKING:
1. Response A (5/5) - strong
2. Response B (4/5) - solid`
	badRanking := `Response B misses key tradeoffs.

FINAL RANKING:
1. Response A (5/5) - strong
2. Response B (1/5) - too shallow`

	registry := modelclient.NewRegistry()
	registry.Register("m1", &scriptedCouncilBackend{
		model:  "m1",
		stage1: "Python favors readability; JavaScript runs everywhere.",
		// Round 1 flags Response B, round 2 is satisfied.
		rankings:  []string{badRanking, goodRanking},
		refined:   "refined",
		synthesis: "unused",
	})
	registry.Register("m2", &scriptedCouncilBackend{
		model:     "m2",
		stage1:    "JS.",
		rankings:  []string{goodRanking, goodRanking},
		refined:   "JavaScript dominates the browser; Python dominates data work. | Tradeoffs expanded.",
		synthesis: "unused",
	})
	registry.Register("chairman", &scriptedCouncilBackend{
		model: "chairman",
		synthesis: `# Verdict

| Language | Strength |
|---|---|
| Python | readability |
| JavaScript | ubiquity |

![chart](https://via.placeholder.com/300)`,
	})

	engine := NewEngine(registry, councilConfig("m1", "m2"), nil, nil)

	var mu sync.Mutex
	var events []streaming.Event
	result := engine.Deliberate(context.Background(), "Which is better, Python or JavaScript?", nil, func(e streaming.Event) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	})

	require.Len(t, result.Stage1, 2)
	require.Len(t, result.LabelToModel, 2)
	require.Equal(t, 2, result.Metadata["rounds"], "low rating in round 1 must trigger a second round")

	// The refinement replaced Response B's text before round 2.
	var sawRefinementComplete bool
	counts := map[streaming.EventType]int{}
	for _, e := range events {
		counts[e.Type]++
		if e.Type == streaming.EventRefinementComplete {
			sawRefinementComplete = true
		}
	}
	require.True(t, sawRefinementComplete)
	require.Equal(t, 1, counts[streaming.EventStage1Start])
	require.Equal(t, 2, counts[streaming.EventStage1ModelComplete])
	require.Equal(t, 1, counts[streaming.EventStage1Complete])
	require.Equal(t, 2, counts[streaming.EventRoundStart])
	require.Equal(t, 2, counts[streaming.EventRoundComplete])
	require.Equal(t, 1, counts[streaming.EventStage3Complete])
	require.Zero(t, counts[streaming.EventStage3Error])

	// Synthesis carries the markdown table and loses the placeholder image.
	require.Contains(t, result.Stage3.Response, "| Language | Strength |")
	require.NotContains(t, result.Stage3.Response, "via.placeholder.com")
	require.Equal(t, "chairman", result.Stage3.Model)

	// Aggregate ranking orders Response A's model first.
	require.NotEmpty(t, result.AggregateRanking)
	require.Equal(t, result.LabelToModel["Response A"], result.AggregateRanking[0].Model)
}

func TestDeliberateEmptyCouncil(t *testing.T) {
	registry := modelclient.NewRegistry()
	engine := NewEngine(registry, councilConfig(), nil, nil)
	result := engine.Deliberate(context.Background(), "anything", nil, nil)
	require.Empty(t, result.Stage1)
	require.Equal(t, "no council model responded", result.Metadata["failure"])
}

func TestDeliberateSingleModelCouncil(t *testing.T) {
	registry := modelclient.NewRegistry()
	registry.Register("solo", &scriptedCouncilBackend{
		model:  "solo",
		stage1: "only answer",
		rankings: []string{`FINAL RANKING:
1. Response A (5/5) - only one`},
		synthesis: "unused",
	})
	registry.Register("chairman", &scriptedCouncilBackend{model: "chairman", synthesis: "final"})

	engine := NewEngine(registry, councilConfig("solo"), nil, nil)
	result := engine.Deliberate(context.Background(), "q", nil, nil)
	require.Len(t, result.Stage1, 1)
	require.Equal(t, []string{"Response A"}, result.Stage2[0].ParsedRanking)
	require.Equal(t, "final", result.Stage3.Response)
}

func TestMaxRoundsOneNeverRefines(t *testing.T) {
	lowRanking := `FINAL RANKING:
1. Response A (1/5) - bad`
	registry := modelclient.NewRegistry()
	registry.Register("solo", &scriptedCouncilBackend{
		model: "solo", stage1: "x", rankings: []string{lowRanking}, refined: "should never appear",
	})
	registry.Register("chairman", &scriptedCouncilBackend{model: "chairman", synthesis: "final"})

	cfg := councilConfig("solo")
	cfg.Deliberation.MaxRounds = 1
	engine := NewEngine(registry, cfg, nil, nil)

	var events []streaming.Event
	result := engine.Deliberate(context.Background(), "q", nil, func(e streaming.Event) { events = append(events, e) })
	require.Equal(t, 1, result.Metadata["rounds"])
	for _, e := range events {
		require.NotEqual(t, streaming.EventRefinementStart, e.Type)
	}
}

func TestStage1ToolFailurePromptInstructsHonesty(t *testing.T) {
	failed := &mcp.ToolResult{Success: false, Server: "websearch", Tool: "search", Error: "network"}
	system, user := stage1Prompt("What happened this week?", failed, "")
	require.Contains(t, system, "FAILED")
	require.Contains(t, user, "network")
	require.Contains(t, system, "Do NOT fabricate")
}

func TestStage3FallbackOnFailure(t *testing.T) {
	registry := modelclient.NewRegistry()
	registry.Register("solo", &scriptedCouncilBackend{
		model: "solo", stage1: "x", rankings: []string{"FINAL RANKING:\n1. Response A (5/5) - fine"},
	})
	// No chairman registered: stage 3 stream creation fails.
	cfg := councilConfig("solo")
	engine := NewEngine(registry, cfg, nil, nil)
	result := engine.Deliberate(context.Background(), "q", nil, nil)
	require.Equal(t, "Error: Unable to generate final synthesis.", result.Stage3.Response)
}
