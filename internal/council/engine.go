// Package council implements the three-stage deliberation engine:
// parallel candidate answers, anonymized peer ranking with
// quality-threshold-driven refinement rounds, and a final synthesis.
package council

import (
	"context"
	"time"

	"github.com/council-ai/orchestrator/internal/config"
	"github.com/council-ai/orchestrator/internal/mcp"
	"github.com/council-ai/orchestrator/internal/modelclient"
	"github.com/council-ai/orchestrator/internal/streaming"
	"github.com/council-ai/orchestrator/internal/tokentracker"
)

// Emitter receives streaming events produced by the engine. An alias, so
// any plain func(streaming.Event), such as the router's queue push or a
// test recorder, passes through without conversion.
type Emitter = func(streaming.Event)

type (
	// Assessor is the mid-deliberation tool hook: after Stage 1 and again
	// after Stage 2 it may run a supplemental web search
	// (toolorchestrator.Orchestrator satisfies it).
	Assessor interface {
		AssessStageOutput(ctx context.Context, query, stageSummary string, priorResults []mcp.ToolResult, emit func(streaming.Event)) *mcp.ToolResult
	}

	// Stage1Entry is one council model's candidate answer.
	Stage1Entry struct {
		Model    string `json:"model"`
		Response string `json:"response"`
	}

	// Stage2Entry is one ranker's output for one round.
	Stage2Entry struct {
		Model          string             `json:"model"`
		RankingText    string             `json:"ranking_text"`
		ParsedRanking  []string           `json:"parsed_ranking"`
		QualityRatings map[string]float64 `json:"quality_ratings"`
		Round          int                `json:"round"`
	}

	// Stage3Result names whichever model actually produced the final text.
	Stage3Result struct {
		Model    string `json:"model"`
		Response string `json:"response"`
	}

	// AggregateRank is one model's averaged position over the final round.
	AggregateRank struct {
		Model           string  `json:"model"`
		Label           string  `json:"label"`
		AveragePosition float64 `json:"average_position"`
	}

	// Result is a full deliberation outcome.
	Result struct {
		Stage1           []Stage1Entry      `json:"stage1"`
		Stage2           []Stage2Entry      `json:"stage2"`
		Stage3           Stage3Result       `json:"stage3"`
		AggregateRanking []AggregateRank    `json:"aggregate_ranking"`
		LabelToModel     map[string]string  `json:"label_to_model"`
		Metadata         map[string]any     `json:"metadata"`
	}

	// Engine runs the stages. One Engine serves all requests; the per-request
	// emitter is passed into Deliberate, which creates its own token tracker.
	Engine struct {
		models    *modelclient.Registry
		cfg       *config.Catalog
		assessor  Assessor
		evaluator *Evaluator
	}
)

// NewEngine constructs an Engine. assessor and evaluator may be nil to
// disable mid-deliberation tool checks and background peer evaluation.
func NewEngine(models *modelclient.Registry, cfg *config.Catalog, assessor Assessor, evaluator *Evaluator) *Engine {
	return &Engine{
		models:    models,
		cfg:       cfg,
		assessor:  assessor,
		evaluator: evaluator,
	}
}

// councilModels returns the configured council model names.
func (e *Engine) councilModels() []string {
	names := make([]string, 0, len(e.cfg.Models.Council))
	for _, entry := range e.cfg.Models.Council {
		names = append(names, entry.Name)
	}
	return names
}

// formatterModel defaults to the chairman when no distinct formatter is
// configured.
func (e *Engine) formatterModel() string {
	if e.cfg.Models.Formatter != nil && e.cfg.Models.Formatter.Name != "" {
		return e.cfg.Models.Formatter.Name
	}
	return e.cfg.Models.Chairman.Name
}

func (e *Engine) maxRounds() int {
	if e.cfg.Deliberation.MaxRounds > 0 {
		return e.cfg.Deliberation.MaxRounds
	}
	return 3
}

// qualityFloor is the 1-5 rating below which a response queues for
// refinement: quality_threshold (fraction, default 0.3) times 5.
func (e *Engine) qualityFloor() float64 {
	threshold := e.cfg.Deliberation.QualityThreshold
	if threshold == 0 {
		threshold = 0.3
	}
	return threshold * 5
}

func (e *Engine) stageMaxTokens(stage string) int {
	if e.cfg.ResponseStyle.MaxTokensByStage == nil {
		return 0
	}
	return e.cfg.ResponseStyle.MaxTokensByStage[stage]
}

func (e *Engine) streamTimeout() time.Duration {
	if e.cfg.Timeouts.StreamingChunkSeconds > 0 {
		return time.Duration(e.cfg.Timeouts.StreamingChunkSeconds) * time.Second
	}
	return 300 * time.Second
}

// Deliberate runs all three stages and returns the assembled Result. A tool
// result from the router's pre-flight check, if any, is woven into the
// Stage 1 prompts. Mid-deliberation assessments may append further tool
// results after Stage 1 and Stage 2.
func (e *Engine) Deliberate(ctx context.Context, query string, toolResult *mcp.ToolResult, emit Emitter) Result {
	if emit == nil {
		emit = func(streaming.Event) {}
	}
	tracker := tokentracker.New()

	var priorTools []mcp.ToolResult
	if toolResult != nil {
		priorTools = append(priorTools, *toolResult)
	}

	stage1 := e.RunStage1(ctx, query, toolResult, tracker, emit)
	if len(stage1) == 0 {
		return Result{Metadata: map[string]any{"failure": "no council model responded"}}
	}

	if e.assessor != nil {
		if extra := e.assessor.AssessStageOutput(ctx, query, summarizeStage1(stage1), priorTools, emit); extra != nil {
			priorTools = append(priorTools, *extra)
		}
	}

	stage2, labelToModel, aggregate, rounds := e.RunStage2(ctx, query, stage1, tracker, emit)

	if e.assessor != nil {
		if extra := e.assessor.AssessStageOutput(ctx, query, summarizeStage2(stage2), priorTools, emit); extra != nil {
			priorTools = append(priorTools, *extra)
		}
	}

	stage3 := e.RunStage3(ctx, query, stage1, stage2, priorTools, tracker, emit)

	return Result{
		Stage1:           stage1,
		Stage2:           stage2,
		Stage3:           stage3,
		AggregateRanking: aggregate,
		LabelToModel:     labelToModel,
		Metadata: map[string]any{
			"rounds":        rounds,
			"council_size":  len(stage1),
			"tool_results":  len(priorTools),
			"quality_floor": e.qualityFloor(),
		},
	}
}
