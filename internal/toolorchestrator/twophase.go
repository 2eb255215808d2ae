package toolorchestrator

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"goa.design/clue/log"

	"github.com/council-ai/orchestrator/internal/mcp"
	"github.com/council-ai/orchestrator/internal/streaming"
)

// dataType is the normalized expectation-analysis category.
type dataType string

const (
	dataCurrentTime dataType = "current_time"
	dataLocation    dataType = "location"
	dataNews        dataType = "news"
	dataWeather     dataType = "weather"
	dataCalculation dataType = "calculation"
	dataWebContent  dataType = "web_content"
	dataNone        dataType = "none"
)

// toolMapping is one row of the deterministic confidence table.
type toolMapping struct {
	Tool       string
	Server     string
	Confidence float64
}

// confidenceTable maps each data type to its serving tool. These are the
// literal tool and server names the rest of the pipeline keys on.
var confidenceTable = map[dataType]toolMapping{
	dataCurrentTime: {Tool: "get_current_time", Server: "location_time", Confidence: 0.95},
	dataLocation:    {Tool: "get_location", Server: "location_time", Confidence: 0.9},
	dataWeather:     {Tool: "get_weather_forecast", Server: "location_time", Confidence: 0.85},
	dataNews:        {Tool: "search", Server: "websearch", Confidence: 0.75},
	dataCalculation: {Tool: "calculate", Server: "calculator", Confidence: 0.95},
	dataWebContent:  {Tool: "scrape", Server: "websearch", Confidence: 0.7},
}

// confidenceThreshold gates phase 1: a mapping fires at >= 0.5, not >.
const confidenceThreshold = 0.5

type expectation struct {
	NeedsExternalData bool     `json:"needs_external_data"`
	DataTypes         []string `json:"data_types"`
	Reasoning         string   `json:"reasoning"`
}

// executeTwoPhase runs expectation analysis, the confidence mapping, and
// argument generation, then calls the selected tool. Returns nil when no
// tool should fire.
func (o *Orchestrator) executeTwoPhase(ctx context.Context, query string, emit Emitter) *mcp.ToolResult {
	exp, err := o.analyzeExpectations(ctx, query)
	if err != nil {
		log.Printf(ctx, "toolorchestrator: expectation analysis failed, skipping tools: %v", err)
		return nil
	}
	if !exp.NeedsExternalData {
		return nil
	}

	best, ok := o.pickMapping(exp.DataTypes)
	if !ok {
		return nil
	}

	// Calculator fast path: parse the expression directly and call the
	// operation-named tool, bypassing argument generation entirely.
	if best.Server == "calculator" {
		if op, args, ok := parseCalculation(query); ok {
			fast := "calculator." + op
			if _, registered := o.registry.AllTools()[fast]; registered {
				result := o.callTool(ctx, fast, args, emit, nil)
				emit(streaming.NewEvent(streaming.EventToolResult, map[string]any{"result": result}))
				return &result
			}
		}
	}

	fullName := best.Server + "." + best.Tool
	if _, registered := o.registry.AllTools()[fullName]; !registered {
		log.Printf(ctx, "toolorchestrator: mapped tool %s not registered", fullName)
		return nil
	}

	args, ok := o.generateArguments(ctx, query, fullName, best)
	if !ok {
		return nil
	}

	result := o.callTool(ctx, fullName, args, emit, nil)
	emit(streaming.NewEvent(streaming.EventToolResult, map[string]any{"result": result}))
	return &result
}

// analyzeExpectations asks the tool-calling model to classify what external
// data the query needs.
func (o *Orchestrator) analyzeExpectations(ctx context.Context, query string) (expectation, error) {
	prompt := fmt.Sprintf(`Analyze what external data this user query needs, if any.

USER QUERY: %q

Data type categories:
- current_time: asks for the current time or date
- location: asks where the user is
- news: asks about current events or headlines
- weather: asks about weather or forecasts
- calculation: asks for arithmetic
- web_content: asks about the content of a specific web page
- none: answerable from general knowledge

Respond with ONLY this JSON:
{"needs_external_data": true|false, "data_types": ["..."], "reasoning": "one sentence"}`, query)

	content, err := o.queryToolModel(ctx, prompt, 30*time.Second)
	if err != nil {
		return expectation{}, err
	}
	var exp expectation
	if err := decodeJSON(content, &exp); err != nil {
		return expectation{}, err
	}
	return exp, nil
}

// pickMapping normalizes the model's data types through the confidence
// table and returns the highest-confidence mapping at or above threshold.
func (o *Orchestrator) pickMapping(types []string) (toolMapping, bool) {
	var best toolMapping
	found := false
	for _, raw := range types {
		dt := dataType(strings.ToLower(strings.TrimSpace(raw)))
		if dt == dataNone {
			continue
		}
		mapping, ok := confidenceTable[dt]
		if !ok {
			continue
		}
		if !found || mapping.Confidence > best.Confidence {
			best = mapping
			found = true
		}
	}
	if !found || best.Confidence < confidenceThreshold {
		return toolMapping{}, false
	}
	return best, true
}

// generateArguments asks the LLM for the selected tool's argument object,
// with a concrete date-context block so generated dates stay in the right
// year.
func (o *Orchestrator) generateArguments(ctx context.Context, query, fullName string, mapping toolMapping) (map[string]any, bool) {
	info := o.registry.AllTools()[fullName]
	prompt := fmt.Sprintf(`%s
Generate the arguments for a tool call answering this user query.

USER QUERY: %q

TOOL: %s
DESCRIPTION: %s
INPUT SCHEMA: %s

Use concrete values. Dates must be YYYY-MM-DD and derived from the date
context above, never from memory of older dates.

Respond with ONLY this JSON:
{"tool": %q, "arguments": { ... }}`,
		dateContext(o.now()), query, fullName, info.Description, string(info.InputSchema), fullName)

	content, err := o.queryToolModel(ctx, prompt, 30*time.Second)
	if err != nil {
		log.Printf(ctx, "toolorchestrator: argument generation failed for %s: %v", fullName, err)
		return nil, false
	}
	var decoded struct {
		Tool      string         `json:"tool"`
		Arguments map[string]any `json:"arguments"`
	}
	if err := decodeJSON(content, &decoded); err != nil {
		log.Printf(ctx, "toolorchestrator: argument parse failed for %s: %v", fullName, err)
		return nil, false
	}
	if decoded.Arguments == nil {
		decoded.Arguments = map[string]any{}
	}
	return decoded.Arguments, true
}

var calcNumberRE = regexp.MustCompile(`-?\d+(?:\.\d+)?`)

// calcOperators maps the spoken operator keywords the calculator fast path
// recognizes to the calculator server's operation names.
var calcOperators = []struct {
	keyword   string
	operation string
}{
	{"plus", "add"},
	{"add", "add"},
	{"+", "add"},
	{"minus", "subtract"},
	{"subtract", "subtract"},
	{"-", "subtract"},
	{"times", "multiply"},
	{"multiplied", "multiply"},
	{"multiply", "multiply"},
	{"*", "multiply"},
	{"divided", "divide"},
	{"divide", "divide"},
	{"/", "divide"},
}

// parseCalculation extracts two numbers and an operator keyword from the
// query. The returned operation names the calculator tool to call
// (calculator.add, calculator.subtract, ...).
func parseCalculation(query string) (operation string, args map[string]any, ok bool) {
	numbers := calcNumberRE.FindAllString(query, -1)
	if len(numbers) < 2 {
		return "", nil, false
	}
	lower := strings.ToLower(query)
	for _, op := range calcOperators {
		if strings.Contains(lower, op.keyword) {
			operation = op.operation
			break
		}
	}
	if operation == "" {
		return "", nil, false
	}
	a, err := strconv.ParseFloat(numbers[0], 64)
	if err != nil {
		return "", nil, false
	}
	b, err := strconv.ParseFloat(numbers[1], 64)
	if err != nil {
		return "", nil, false
	}
	return operation, map[string]any{"a": a, "b": b}, true
}
