package usecase

import (
	"context"

	"github.com/riskibarqy/statharvest/internal/domain/ingest"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var usecaseTracer = otel.Tracer("statharvest/internal/usecase")

// startUsecaseSpan nests under the caller's span and is a no-op without one.
func startUsecaseSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	parent := trace.SpanFromContext(ctx)
	if !parent.SpanContext().IsValid() {
		return ctx, parent
	}
	return usecaseTracer.Start(ctx, name)
}

// startTaskSpan opens a root span for one fetch task. Worker goroutines
// never carry a request span.
func startTaskSpan(ctx context.Context, name string, task ingest.Task) (context.Context, trace.Span) {
	return usecaseTracer.Start(ctx, name,
		trace.WithNewRoot(),
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(taskAttributes(task)...),
	)
}

func taskAttributes(task ingest.Task) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("statharvest.source_id", task.SourceID),
		attribute.String("statharvest.resource_key", task.ResourceKey),
		attribute.Int("statharvest.attempt_count", task.AttemptCount),
		attribute.String("statharvest.origin", string(task.Origin)),
	}
}

func markSpanError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, string(ingest.KindOf(err)))
}
