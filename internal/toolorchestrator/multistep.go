package toolorchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"goa.design/clue/log"

	"github.com/council-ai/orchestrator/internal/mcp"
	"github.com/council-ai/orchestrator/internal/streaming"
)

// ResearchStatus tracks a multi-step run.
type ResearchStatus string

const (
	StatusWorking  ResearchStatus = "WORKING"
	StatusFinished ResearchStatus = "FINISHED"
	StatusError    ResearchStatus = "ERROR"
)

type (
	// PlanStep is one step of an LLM-authored execution plan. Parameters may
	// contain $step_N.field references and symbolic date tokens, resolved at
	// execution time.
	PlanStep struct {
		StepNumber  int            `json:"step_number"`
		Description string         `json:"description"`
		Tool        string         `json:"tool"`
		DependsOn   []int          `json:"depends_on"`
		Parameters  map[string]any `json:"parameters"`
	}

	// ResearchState is the running state of one multi-step orchestration.
	ResearchState struct {
		UserQuery    string
		Steps        []PlanStep
		StepResults  map[int]any
		CurrentRound int
		MaxRounds    int
		Status       ResearchStatus
	}
)

// weekdayWords feeds the multi-step trigger patterns.
var weekdayWords = []string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"}

// NeedsMultiStep reports whether the query's shape calls for a multi-step
// plan: a time-relative pattern combined with a data need, or a
// location+time+weather combination.
func NeedsMultiStep(query string) bool {
	lower := strings.ToLower(query)

	for _, day := range weekdayWords {
		if strings.Contains(lower, "last "+day) || strings.Contains(lower, "next "+day) || strings.Contains(lower, "this "+day) {
			for _, word := range []string{"weather", "forecast", "temperature", "rain"} {
				if strings.Contains(lower, word) {
					return true
				}
			}
		}
	}

	timeRelative := []struct {
		pattern string
		context []string
	}{
		{"yesterday", []string{"weather", "news", "events", "happened"}},
		{"last week", []string{"weather", "news", "events", "happened"}},
		{"tomorrow", []string{"weather", "forecast"}},
		{"next week", []string{"weather", "forecast"}},
		{"last month", []string{"weather", "news", "events"}},
	}
	for _, tr := range timeRelative {
		if strings.Contains(lower, tr.pattern) {
			for _, word := range tr.context {
				if strings.Contains(lower, word) {
					return true
				}
			}
		}
	}

	multiContext := [][2]string{
		{"weather", "here"},
		{"weather", "now"},
		{"weather", "in"},
		{"time", "in"},
	}
	for _, pair := range multiContext {
		if strings.Contains(lower, pair[0]) && strings.Contains(lower, pair[1]) {
			return true
		}
	}
	return false
}

// executeMultiStep plans and runs a multi-step tool workflow, collecting
// per-step outputs into one combined ToolResult. Returns nil when planning
// fails, so the caller can fall through to the simpler paths.
func (o *Orchestrator) executeMultiStep(ctx context.Context, query string, emit Emitter) *mcp.ToolResult {
	steps, err := o.planExecution(ctx, query)
	if err != nil || len(steps) == 0 {
		if err != nil {
			log.Printf(ctx, "toolorchestrator: plan generation failed: %v", err)
		}
		return nil
	}

	state := &ResearchState{
		UserQuery:   query,
		Steps:       steps,
		StepResults: make(map[int]any),
		MaxRounds:   1,
		Status:      StatusWorking,
	}

	now := o.now()
	type stepOutput struct {
		Step        int    `json:"step"`
		Description string `json:"description"`
		Tool        string `json:"tool"`
		Output      any    `json:"output"`
	}
	var outputs []stepOutput

	for _, step := range state.Steps {
		for _, dep := range step.DependsOn {
			if _, ok := state.StepResults[dep]; !ok {
				log.Printf(ctx, "toolorchestrator: step %d missing dependency %d", step.StepNumber, dep)
			}
		}
		resolved := ResolveStepReferences(step.Parameters, state.StepResults, now)
		result := o.callTool(ctx, step.Tool, resolved, emit, map[string]any{
			"step":        step.StepNumber,
			"description": step.Description,
		})
		state.StepResults[step.StepNumber] = ExtractToolOutput(result)
		if !result.Failed() {
			outputs = append(outputs, stepOutput{
				Step:        step.StepNumber,
				Description: step.Description,
				Tool:        step.Tool,
				Output:      state.StepResults[step.StepNumber],
			})
		}
	}
	state.Status = StatusFinished
	if len(outputs) == 0 {
		state.Status = StatusError
		return nil
	}

	var lastStep int
	for n := range state.StepResults {
		if n > lastStep {
			lastStep = n
		}
	}
	combined := map[string]any{
		"query":          query,
		"steps_executed": len(outputs),
		"results":        outputs,
		"final_data":     state.StepResults[lastStep],
	}
	text, err := json.Marshal(combined)
	if err != nil {
		return nil
	}
	result := mcp.ToolResult{
		Success: true,
		Server:  "orchestration",
		Tool:    "orchestration",
		Input:   map[string]any{"query": query},
		Output:  mcp.Envelope(string(text)),
	}
	emit(streaming.NewEvent(streaming.EventToolResult, map[string]any{"result": result}))
	return &result
}

// planExecution asks the tool-calling model for an ordered step plan.
func (o *Orchestrator) planExecution(ctx context.Context, query string) ([]PlanStep, error) {
	tools := o.registry.AllTools()
	if len(tools) == 0 {
		return nil, nil
	}
	names := make([]string, 0, len(tools))
	for name := range tools {
		names = append(names, name)
	}
	sort.Strings(names)
	var toolLines []string
	for i, name := range names {
		if i >= 15 {
			break
		}
		info := tools[name]
		toolLines = append(toolLines, fmt.Sprintf("- %s: %s", name, info.Description))
	}

	prompt := fmt.Sprintf(`You are a tool orchestration planner. Given a user query and available tools, create an execution plan.

USER QUERY: %q

AVAILABLE TOOLS:
%s

Rules:
1. Use the minimum number of steps necessary.
2. A step can reference a previous step's output with $step_N.field syntax.
3. Include all required parameters for each tool call.

Date reference keywords (resolved automatically at execution time):
YESTERDAY, TODAY, TOMORROW, LAST WEEK, NEXT WEEK,
LAST <DAYNAME> (most recent past occurrence),
THIS <DAYNAME> (this week's occurrence),
NEXT <DAYNAME> (next week's occurrence).

Output ONLY valid JSON:
{"steps": [{"step_number": 1, "description": "...", "tool": "server.tool", "depends_on": [], "parameters": {}}]}`,
		query, strings.Join(toolLines, "\n"))

	content, err := o.queryToolModel(ctx, prompt, 30*time.Second)
	if err != nil {
		return nil, err
	}
	var plan struct {
		Steps []PlanStep `json:"steps"`
	}
	if err := decodeJSON(content, &plan); err != nil {
		return nil, err
	}
	return plan.Steps, nil
}

// ResolveStepReferences resolves $step_N.field references against recorded
// step outputs and symbolic date tokens against now. A reference to a
// missing step, and any other value, passes through unchanged.
func ResolveStepReferences(parameters map[string]any, stepResults map[int]any, now time.Time) map[string]any {
	resolved := make(map[string]any, len(parameters))
	for key, value := range parameters {
		str, isString := value.(string)
		if !isString {
			resolved[key] = value
			continue
		}
		switch {
		case strings.HasPrefix(str, "$step_"):
			resolved[key] = resolveStepPath(str, stepResults)
		case IsDateReference(str):
			resolved[key] = ResolveDateReference(str, now)
		default:
			resolved[key] = str
		}
	}
	return resolved
}

// resolveStepPath walks "$step_N.field.subfield" through the recorded
// outputs. A missing or malformed step number returns the reference
// unchanged; a missing field is skipped and a non-object value ends the
// walk, so the value reached so far is returned.
func resolveStepPath(ref string, stepResults map[int]any) any {
	parts := strings.Split(strings.TrimPrefix(ref, "$"), ".")
	stepNum, err := strconv.Atoi(strings.TrimPrefix(parts[0], "step_"))
	if err != nil {
		return ref
	}
	result, ok := stepResults[stepNum]
	if !ok {
		return ref
	}
	for _, field := range parts[1:] {
		obj, ok := result.(map[string]any)
		if !ok {
			break
		}
		if next, ok := obj[field]; ok {
			result = next
		}
	}
	return result
}

// ExtractToolOutput pulls the useful payload out of a ToolResult for use by
// later plan steps: the inner JSON when it parses, the inner text otherwise,
// the error string on failure.
func ExtractToolOutput(result mcp.ToolResult) any {
	if !result.Success {
		if result.Error != "" {
			return result.Error
		}
		return "failed"
	}
	if inner, ok := result.InnerJSON(); ok {
		return inner
	}
	if text, ok := result.InnerText(); ok {
		return text
	}
	return result.Output
}
