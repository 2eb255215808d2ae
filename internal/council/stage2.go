package council

import (
	"context"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"goa.design/clue/log"
	"golang.org/x/sync/errgroup"

	"github.com/council-ai/orchestrator/internal/modelclient"
	"github.com/council-ai/orchestrator/internal/streaming"
	"github.com/council-ai/orchestrator/internal/tokentracker"
)

// maxFeedbackItems caps the consolidated refinement feedback.
const maxFeedbackItems = 3

// RunStage2 runs the ranking rounds with refinement. It
// returns the final round's entries, the label-to-model mapping, the
// aggregate ranking over the final round, and the number of rounds run.
func (e *Engine) RunStage2(ctx context.Context, query string, stage1 []Stage1Entry, tracker *tokentracker.Tracker, emit Emitter) ([]Stage2Entry, map[string]string, []AggregateRank, int) {
	labels, labelToModel := AssignLabels(stage1)
	responses := make(map[string]string, len(stage1))
	for i, entry := range stage1 {
		responses[labels[i]] = entry.Response
	}
	states := newLabelStates(labels)
	maxRounds := e.maxRounds()
	floor := e.qualityFloor()

	emit(streaming.NewEvent(streaming.EventStage2Start, map[string]any{
		"labels":     labels,
		"max_rounds": maxRounds,
	}))

	var entries []Stage2Entry
	round := 0
	for {
		round++
		emit(streaming.NewEvent(streaming.EventRoundStart, map[string]any{"round": round}))

		entries = e.rankOnce(ctx, query, labels, responses, round, tracker, emit)
		for _, label := range labels {
			states.transition(label, stateRanked)
		}

		lowRated := lowRatedLabels(entries, labels, floor)
		converged := len(lowRated) == 0
		if converged || round >= maxRounds {
			for _, label := range labels {
				states.transition(label, stateFinal)
			}
			emit(streaming.NewEvent(streaming.EventRoundComplete, map[string]any{
				"round":     round,
				"converged": converged,
				"states":    states.snapshot(),
			}))
			break
		}

		for _, label := range lowRated {
			states.transition(label, stateRefinementQueued)
			feedback := collectFeedback(entries, label)
			refined := e.refineResponse(ctx, query, label, labelToModel[label], responses[label], feedback, round, tracker, emit)
			if refined != "" {
				responses[label] = refined
			}
			states.transition(label, stateRefined)
		}
		emit(streaming.NewEvent(streaming.EventRoundComplete, map[string]any{
			"round":   round,
			"refined": lowRated,
			"states":  states.snapshot(),
		}))
	}

	aggregate := aggregateRanking(entries, labels, labelToModel)
	emit(streaming.NewEvent(streaming.EventStage2Complete, map[string]any{
		"rounds":    round,
		"aggregate": aggregate,
	}))
	return entries, labelToModel, aggregate, round
}

// rankOnce issues the ranking prompt to all council models in parallel and
// parses each output.
func (e *Engine) rankOnce(ctx context.Context, query string, labels []string, responses map[string]string, round int, tracker *tokentracker.Tracker, emit Emitter) []Stage2Entry {
	prompt := rankingPrompt(query, labels, responses)
	events := streamEvents{Token: streaming.EventStage2Token, Thinking: streaming.EventStage2Thinking}

	models := e.councilModels()
	results := make([]*Stage2Entry, len(models))
	var wg errgroup.Group
	for i, model := range models {
		i, model := i, model
		wg.Go(func() error {
			req := modelclient.Request{
				Model:     model,
				Messages:  []modelclient.Message{{Role: "user", Content: prompt}},
				MaxTokens: e.stageMaxTokens("stage2"),
				Timeout:   e.streamTimeout(),
			}
			key := "stage2:" + model + ":" + strconv.Itoa(round)
			text, err := e.streamWithRetry(ctx, req, key, tracker, events, emit, 2, nil)
			if err != nil {
				log.Printf(ctx, "council: stage2 ranker %s dropped: %v", model, err)
				return nil
			}
			parsed, ratings := parseRanking(text, labels)
			emit(streaming.NewEvent(streaming.EventStage2ModelComplete, withTiming(map[string]any{
				"parsed_ranking":  parsed,
				"quality_ratings": ratings,
				"round":           round,
			}, tracker.Snapshot(key))).WithModel(model))
			results[i] = &Stage2Entry{
				Model:          model,
				RankingText:    text,
				ParsedRanking:  parsed,
				QualityRatings: ratings,
				Round:          round,
			}
			return nil
		})
	}
	_ = wg.Wait()

	var entries []Stage2Entry
	for _, r := range results {
		if r != nil {
			entries = append(entries, *r)
		}
	}
	return entries
}

// refineResponse re-calls the owning model with consolidated feedback and
// streams the replacement answer.
func (e *Engine) refineResponse(ctx context.Context, query, label, model, previous string, feedback []string, round int, tracker *tokentracker.Tracker, emit Emitter) string {
	emit(streaming.NewEvent(streaming.EventRefinementStart, map[string]any{
		"label": label,
		"round": round,
	}).WithModel(model))

	consolidated := strings.Join(feedback, "|")
	if consolidated == "" {
		consolidated = "Reviewers rated this answer poorly. Improve its accuracy, completeness, and clarity."
	}
	req := modelclient.Request{
		Model:     model,
		Messages:  []modelclient.Message{{Role: "user", Content: refinementPrompt(query, previous, consolidated)}},
		MaxTokens: e.stageMaxTokens("stage2"),
		Timeout:   e.streamTimeout(),
	}
	key := "refinement:" + model + ":" + strconv.Itoa(round)
	events := streamEvents{Token: streaming.EventRefinementToken, Thinking: streaming.EventStage2Thinking}
	refined, err := e.streamWithRetry(ctx, req, key, tracker, events, emit, 2, nil)
	if err != nil {
		log.Printf(ctx, "council: refinement of %s (%s) failed: %v", label, model, err)
		emit(streaming.NewEvent(streaming.EventRefinementComplete, map[string]any{
			"label": label,
			"round": round,
			"error": err.Error(),
		}).WithModel(model))
		return ""
	}
	emit(streaming.NewEvent(streaming.EventRefinementComplete, withTiming(map[string]any{
		"label":   label,
		"round":   round,
		"content": refined,
	}, tracker.Snapshot(key))).WithModel(model))
	return refined
}

var (
	rankingLineRE = regexp.MustCompile(`(?m)^\s*(\d+)\.\s*(Response\s+[A-Z]+)(.*)$`)
	// Rating extraction tries "(N/5)" then ": N/5" then "- N/5".
	ratingParenRE  = regexp.MustCompile(`\((\d+(?:\.\d+)?)\s*/\s*5\)`)
	ratingColonRE  = regexp.MustCompile(`:\s*(\d+(?:\.\d+)?)\s*/\s*5`)
	ratingHyphenRE = regexp.MustCompile(`-\s*(\d+(?:\.\d+)?)\s*/\s*5`)
)

// parseRanking recovers the ordered label list and the label-to-rating map
// from a ranker's output. Ratings fall back to position (1st=5, 2nd=4, ...,
// floor 1) when no explicit rating appears; labels the ranker never
// mentioned are appended in label order with positional ratings.
func parseRanking(text string, labels []string) ([]string, map[string]float64) {
	valid := make(map[string]bool, len(labels))
	for _, label := range labels {
		valid[label] = true
	}

	section := text
	if idx := strings.LastIndex(text, "FINAL RANKING"); idx >= 0 {
		section = text[idx:]
	}

	var ordered []string
	ratings := make(map[string]float64)
	seen := make(map[string]bool)

	for _, match := range rankingLineRE.FindAllStringSubmatch(section, -1) {
		label := normalizeLabel(match[2])
		if !valid[label] || seen[label] {
			continue
		}
		seen[label] = true
		ordered = append(ordered, label)
		if rating, ok := extractRating(match[3]); ok {
			ratings[label] = rating
		}
	}

	// Positional fallback for labels ranked without an explicit rating.
	for i, label := range ordered {
		if _, ok := ratings[label]; !ok {
			ratings[label] = positionalRating(i)
		}
	}

	// Unmentioned labels append in stable label order.
	for _, label := range labels {
		if !seen[label] {
			ordered = append(ordered, label)
			ratings[label] = positionalRating(len(ordered) - 1)
		}
	}
	return ordered, ratings
}

func normalizeLabel(raw string) string {
	fields := strings.Fields(raw)
	return strings.Join(fields, " ")
}

func extractRating(s string) (float64, bool) {
	for _, re := range []*regexp.Regexp{ratingParenRE, ratingColonRE, ratingHyphenRE} {
		if m := re.FindStringSubmatch(s); m != nil {
			if v, err := strconv.ParseFloat(m[1], 64); err == nil {
				return v, true
			}
		}
	}
	return 0, false
}

func positionalRating(position int) float64 {
	rating := 5 - position
	if rating < 1 {
		rating = 1
	}
	return float64(rating)
}

// lowRatedLabels returns, in label order, every label any ranker rated
// below floor.
func lowRatedLabels(entries []Stage2Entry, labels []string, floor float64) []string {
	low := make(map[string]bool)
	for _, entry := range entries {
		for label, rating := range entry.QualityRatings {
			if rating < floor {
				low[label] = true
			}
		}
	}
	var out []string
	for _, label := range labels {
		if low[label] {
			out = append(out, label)
		}
	}
	return out
}

var sentenceSplitRE = regexp.MustCompile(`[.!?\n]+`)

// collectFeedback gathers up to maxFeedbackItems sentences mentioning the
// label from the round's ranking texts. The sentence regex can miss
// multi-sentence feedback; only the first sentence of each remark is kept.
func collectFeedback(entries []Stage2Entry, label string) []string {
	var items []string
	for _, entry := range entries {
		for _, sentence := range sentenceSplitRE.Split(entry.RankingText, -1) {
			sentence = strings.TrimSpace(sentence)
			if sentence == "" || !strings.Contains(sentence, label) {
				continue
			}
			items = append(items, sentence)
			if len(items) >= maxFeedbackItems {
				return items
			}
		}
	}
	return items
}

// aggregateRanking averages each label's 1-based position across all
// rankings that reference it. Lower is better; ties break by insertion
// (label) order via the stable sort.
func aggregateRanking(entries []Stage2Entry, labels []string, labelToModel map[string]string) []AggregateRank {
	sums := make(map[string]float64)
	counts := make(map[string]int)
	for _, entry := range entries {
		for pos, label := range entry.ParsedRanking {
			sums[label] += float64(pos + 1)
			counts[label]++
		}
	}
	out := make([]AggregateRank, 0, len(labels))
	for _, label := range labels {
		if counts[label] == 0 {
			continue
		}
		out = append(out, AggregateRank{
			Model:           labelToModel[label],
			Label:           label,
			AveragePosition: sums[label] / float64(counts[label]),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].AveragePosition < out[j].AveragePosition })
	return out
}
