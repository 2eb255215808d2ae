package council

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"goa.design/clue/log"

	"github.com/council-ai/orchestrator/internal/config"
	"github.com/council-ai/orchestrator/internal/modelclient"
)

type (
	// EvalJob is one stage-1 response queued for background peer
	// evaluation. Fields are plain copies; the originating request context
	// is gone by the time a worker runs.
	EvalJob struct {
		Query    string
		Model    string
		Response string
	}

	// EvalScore is the extracted 1-5 rubric.
	EvalScore struct {
		Model     string
		Evaluator string
		Verbosity float64
		Expertise float64
		Adherence float64
		Clarity   float64
		Overall   float64
	}

	// ScoreSink receives finished evaluations; the metrics collaborator
	// implements it. May be nil to discard.
	ScoreSink func(EvalScore)

	// Evaluator is the detached worker pool: the request path enqueues and
	// returns, workers own their lifetime and error reporting.
	Evaluator struct {
		models  *modelclient.Registry
		cfg     *config.Catalog
		sink    ScoreSink
		jobs    chan EvalJob
		wg      sync.WaitGroup
		mu      sync.Mutex
		rrIndex int
		closed  bool
	}
)

// NewEvaluator starts workers goroutines draining the evaluation queue.
func NewEvaluator(models *modelclient.Registry, cfg *config.Catalog, workers int, sink ScoreSink) *Evaluator {
	if workers < 1 {
		workers = 2
	}
	e := &Evaluator{
		models: models,
		cfg:    cfg,
		sink:   sink,
		jobs:   make(chan EvalJob, 64),
	}
	for i := 0; i < workers; i++ {
		e.wg.Add(1)
		go e.worker()
	}
	return e
}

// Enqueue adds a job without blocking; when the buffer is full the job is
// dropped (evaluation is advisory, never backpressure on requests). The
// lock is held through the send so Enqueue never races Close's channel
// close.
func (e *Evaluator) Enqueue(job EvalJob) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	select {
	case e.jobs <- job:
	default:
	}
}

// Close stops intake and waits for in-flight evaluations to finish.
func (e *Evaluator) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	close(e.jobs)
	e.mu.Unlock()
	e.wg.Wait()
}

func (e *Evaluator) worker() {
	defer e.wg.Done()
	for job := range e.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), e.evalTimeout())
		e.evaluate(ctx, job)
		cancel()
	}
}

func (e *Evaluator) evalTimeout() time.Duration {
	if e.cfg.Timeouts.EvaluationSeconds > 0 {
		return time.Duration(e.cfg.Timeouts.EvaluationSeconds) * time.Second
	}
	return 60 * time.Second
}

// pickEvaluator round-robins over the other council models in
// configuration order, never the evaluated model itself and never the
// chairman.
func (e *Evaluator) pickEvaluator(evaluated string) string {
	var candidates []string
	for _, entry := range e.cfg.Models.Council {
		if entry.Name != evaluated && entry.Name != e.cfg.Models.Chairman.Name {
			candidates = append(candidates, entry.Name)
		}
	}
	if len(candidates) == 0 {
		return ""
	}
	e.mu.Lock()
	pick := candidates[e.rrIndex%len(candidates)]
	e.rrIndex++
	e.mu.Unlock()
	return pick
}

var scoreLineRE = regexp.MustCompile(`(?mi)^\s*(verbosity|expertise|adherence|clarity|overall)\s*[:=]\s*(\d+(?:\.\d+)?)`)

func (e *Evaluator) evaluate(ctx context.Context, job EvalJob) {
	evaluator := e.pickEvaluator(job.Model)
	if evaluator == "" {
		return
	}
	prompt := fmt.Sprintf(`Rate the following answer on a 1-5 scale for each criterion. Respond with
exactly five lines, "criterion: N" each, nothing else.

Criteria: verbosity, expertise, adherence, clarity, overall.

QUESTION: %s

ANSWER (by an anonymous model):
%s`, job.Query, job.Response)

	resp, err := e.models.QueryWithRetry(ctx, modelclient.Request{
		Model:       evaluator,
		Messages:    []modelclient.Message{{Role: "user", Content: prompt}},
		Temperature: 0,
		Timeout:     e.evalTimeout(),
	}, modelclient.RetryOptions{MaxRetries: 1})
	if err != nil {
		log.Printf(ctx, "council: evaluation of %s by %s failed: %v", job.Model, evaluator, err)
		return
	}

	score := EvalScore{Model: job.Model, Evaluator: evaluator}
	for _, match := range scoreLineRE.FindAllStringSubmatch(resp.Text(), -1) {
		value, err := strconv.ParseFloat(match[2], 64)
		if err != nil {
			continue
		}
		if value < 1 {
			value = 1
		}
		if value > 5 {
			value = 5
		}
		switch strings.ToLower(match[1]) {
		case "verbosity":
			score.Verbosity = value
		case "expertise":
			score.Expertise = value
		case "adherence":
			score.Adherence = value
		case "clarity":
			score.Clarity = value
		case "overall":
			score.Overall = value
		}
	}
	if score.Overall == 0 {
		return
	}
	if e.sink != nil {
		e.sink(score)
	}
}
