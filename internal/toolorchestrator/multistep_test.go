package toolorchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/council-ai/orchestrator/internal/mcp"
)

func TestNeedsMultiStep(t *testing.T) {
	require.True(t, NeedsMultiStep("What was the weather like last Tuesday?"))
	require.True(t, NeedsMultiStep("What happened yesterday?"))
	require.True(t, NeedsMultiStep("weather forecast for tomorrow"))
	require.True(t, NeedsMultiStep("what's the weather in Tokyo?"))
	require.True(t, NeedsMultiStep("what time is it in London?"))
	require.False(t, NeedsMultiStep("Explain quicksort"))
	require.False(t, NeedsMultiStep("last tuesday I went hiking"))
}

func TestResolveStepReferences(t *testing.T) {
	now := aWednesday
	stepResults := map[int]any{
		1: map[string]any{"city": "Berlin", "coords": map[string]any{"lat": 52.5}},
	}
	params := map[string]any{
		"location": "$step_1.city",
		"lat":      "$step_1.coords.lat",
		"date":     "LAST TUESDAY",
		"units":    "metric",
		"count":    3,
	}
	resolved := ResolveStepReferences(params, stepResults, now)
	require.Equal(t, "Berlin", resolved["location"])
	require.Equal(t, 52.5, resolved["lat"])
	require.Equal(t, "2026-07-28", resolved["date"])
	require.Equal(t, "metric", resolved["units"])
	require.Equal(t, 3, resolved["count"])
}

func TestResolveStepReferencesMissingStepPassesThrough(t *testing.T) {
	resolved := ResolveStepReferences(map[string]any{"x": "$step_9.val"}, map[int]any{}, time.Now())
	require.Equal(t, "$step_9.val", resolved["x"])
}

func TestExecuteMultiStepResolvesPlanAndChainsResults(t *testing.T) {
	backend := &scriptedBackend{responses: []string{
		`{"steps": [
			{"step_number": 1, "description": "Get current location", "tool": "location_time.get_location", "depends_on": [], "parameters": {}},
			{"step_number": 2, "description": "Get weather for last Tuesday", "tool": "location_time.get_weather_forecast", "depends_on": [1], "parameters": {"location": "$step_1.city", "date": "LAST TUESDAY"}}
		]}`,
	}}
	registry := newFakeToolRegistry("location_time.get_location", "location_time.get_weather_forecast")
	registry.results["location_time.get_location"] = mcp.ToolResult{
		Success: true, Server: "location_time", Tool: "get_location",
		Output: mcp.Envelope(`{"city":"Berlin","country":"DE"}`),
	}
	registry.results["location_time.get_weather_forecast"] = mcp.ToolResult{
		Success: true, Server: "location_time", Tool: "get_weather_forecast",
		Output: mcp.Envelope(`{"temp_c":19,"conditions":"cloudy"}`),
	}
	o := newTestOrchestrator(backend, registry)
	o.now = func() time.Time { return aWednesday }

	result := o.CheckAndExecute(context.Background(), "What was the weather like last Tuesday?", nil)
	require.NotNil(t, result)
	require.True(t, result.Success)
	require.Equal(t, "orchestration", result.Server)

	require.Len(t, registry.calls, 2)
	weatherArgs := registry.calls[1].Args
	require.Equal(t, "Berlin", weatherArgs["location"])
	require.Equal(t, "2026-07-28", weatherArgs["date"], "most recent past Tuesday")

	inner, ok := result.InnerJSON()
	require.True(t, ok)
	require.Equal(t, float64(2), inner["steps_executed"])
}

func TestExtractToolOutput(t *testing.T) {
	ok := mcp.ToolResult{Success: true, Output: mcp.Envelope(`{"x":1}`)}
	out := ExtractToolOutput(ok)
	require.Equal(t, map[string]any{"x": float64(1)}, out)

	plain := mcp.ToolResult{Success: true, Output: mcp.Envelope("just text")}
	require.Equal(t, "just text", ExtractToolOutput(plain))

	failed := mcp.ToolResult{Success: false, Error: "network"}
	require.Equal(t, "network", ExtractToolOutput(failed))
}
