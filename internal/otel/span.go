// Package otel holds span helpers shared by the executors, the coordinator and the API.
package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys attached to execution spans
const (
	AttrAgentID        = attribute.Key("agent.id")
	AttrAgentName      = attribute.Key("agent.name")
	AttrRunProfile     = attribute.Key("run_profile.name")
	AttrRunProfileType = attribute.Key("run_profile.type")
	AttrPartition      = attribute.Key("partition.name")
	AttrJobSource      = attribute.Key("job.source")
	AttrQueueID        = attribute.Key("job.queue_id")
	AttrExecutionID    = attribute.Key("execution.id")
	AttrRunResult      = attribute.Key("run.result")
	AttrAttempts       = attribute.Key("run.attempts")
	AttrExclusive      = attribute.Key("lock.exclusive")
)

// StartSpan starts a span on tracer, or returns the span already in ctx when tracer is nil
func StartSpan(
	ctx context.Context,
	tracer trace.Tracer,
	name string,
	opts ...trace.SpanStartOption,
) (context.Context, trace.Span) {
	if tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return tracer.Start(ctx, name, opts...)
}

// RecordError records err on span and marks the span failed.
// The status description stays generic; the error text is kept in the exception event.
func RecordError(span trace.Span, err error) {
	if err != nil && span != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "operation failed")
	}
}

// RecordResult sets the run result attribute, marking the span failed for any result
// other than "success"
func RecordResult(span trace.Span, result string) {
	if span == nil {
		return
	}
	span.SetAttributes(AttrRunResult.String(result))
	if result != "success" {
		span.SetStatus(codes.Error, "run failed")
	}
}
