package httpapi

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const handlerSpanPrefix = "httpapi.Handler."

var (
	apiTracer = otel.Tracer("statharvest/internal/interfaces/httpapi")
	noopSpan  = trace.SpanFromContext(context.Background())
)

// startSpan only opens handler spans, and only below the request span that
// RequestTracing started. Middleware and response helpers pass through.
func startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if !isHandlerSpan(name) || !trace.SpanFromContext(ctx).SpanContext().IsValid() {
		return ctx, noopSpan
	}
	return apiTracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindInternal))
}

func isHandlerSpan(name string) bool {
	return strings.HasPrefix(name, handlerSpanPrefix) && len(name) > len(handlerSpanPrefix)
}

// tagSource labels a handler span with the source and, when known, the
// resource it acts on.
func tagSource(span trace.Span, sourceID, resourceKey string) {
	if sourceID == "" {
		return
	}
	attrs := []attribute.KeyValue{attribute.String("statharvest.source_id", sourceID)}
	if resourceKey != "" {
		attrs = append(attrs, attribute.String("statharvest.resource_key", resourceKey))
	}
	span.SetAttributes(attrs...)
}
