// Package telemetry wraps the OTEL tracing and metrics surface used by the
// model client and tool orchestrator. Providers are globals configured by
// the host process (typically via clue.ConfigureOpenTelemetry); this package
// only acquires tracers/meters and offers small helpers so instrumentation
// at call sites stays one line.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const scope = "github.com/council-ai/orchestrator"

type (
	// Instruments bundles the counters and histograms the orchestrator
	// records per model query and per tool call.
	Instruments struct {
		tracer        trace.Tracer
		modelQueries  metric.Int64Counter
		toolCalls     metric.Int64Counter
		toolDuration  metric.Float64Histogram
		queryDuration metric.Float64Histogram
	}
)

// New acquires a tracer and meter from the global providers and registers
// the orchestrator's instruments. Instrument creation errors are ignored:
// the no-op meter never fails, and a misconfigured provider should not stop
// the request path.
func New() *Instruments {
	meter := otel.Meter(scope)
	modelQueries, _ := meter.Int64Counter("council.model.queries")
	toolCalls, _ := meter.Int64Counter("council.tool.calls")
	toolDuration, _ := meter.Float64Histogram("council.tool.duration_seconds")
	queryDuration, _ := meter.Float64Histogram("council.model.query_duration_seconds")
	return &Instruments{
		tracer:        otel.Tracer(scope),
		modelQueries:  modelQueries,
		toolCalls:     toolCalls,
		toolDuration:  toolDuration,
		queryDuration: queryDuration,
	}
}

// StartSpan opens a span named name with the given attributes. Callers must
// call the returned end function on every exit path.
func (i *Instruments) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(err error)) {
	ctx, span := i.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

// RecordModelQuery counts one model query and its duration.
func (i *Instruments) RecordModelQuery(ctx context.Context, model string, d time.Duration, err error) {
	attrs := metric.WithAttributes(
		attribute.String("model", model),
		attribute.Bool("error", err != nil),
	)
	i.modelQueries.Add(ctx, 1, attrs)
	i.queryDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordToolCall counts one MCP tool call and its wall-clock duration.
func (i *Instruments) RecordToolCall(ctx context.Context, tool string, d time.Duration, success bool) {
	attrs := metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.Bool("success", success),
	)
	i.toolCalls.Add(ctx, 1, attrs)
	i.toolDuration.Record(ctx, d.Seconds(), attrs)
}
