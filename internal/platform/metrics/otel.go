package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTel exports observations as OpenTelemetry instruments.
type OTel struct {
	fetches  metric.Int64Counter
	duration metric.Float64Histogram
	records  metric.Int64Counter
	gaps     metric.Int64Gauge
}

func NewOTel(meter metric.Meter) (*OTel, error) {
	fetches, err := meter.Int64Counter("statharvest.fetch.attempts",
		metric.WithDescription("Upstream fetch attempts by source and outcome."))
	if err != nil {
		return nil, fmt.Errorf("create fetch counter: %w", err)
	}
	duration, err := meter.Float64Histogram("statharvest.fetch.duration",
		metric.WithDescription("Upstream fetch latency."),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("create fetch histogram: %w", err)
	}
	records, err := meter.Int64Counter("statharvest.records",
		metric.WithDescription("Canonical records written by validity."))
	if err != nil {
		return nil, fmt.Errorf("create records counter: %w", err)
	}
	gaps, err := meter.Int64Gauge("statharvest.reconcile.gaps",
		metric.WithDescription("Inventory gaps found by the last reconciliation cycle."))
	if err != nil {
		return nil, fmt.Errorf("create gaps gauge: %w", err)
	}

	return &OTel{fetches: fetches, duration: duration, records: records, gaps: gaps}, nil
}

func (o *OTel) ObserveFetch(ctx context.Context, sourceID string, outcome FetchOutcome, latency time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("source_id", sourceID),
		attribute.String("outcome", string(outcome)),
	)
	o.fetches.Add(ctx, 1, attrs)
	if outcome != FetchCircuitOpen {
		o.duration.Record(ctx, latency.Seconds(), attrs)
	}
}

func (o *OTel) ObserveRecords(ctx context.Context, sourceID string, valid, invalid int) {
	if valid > 0 {
		o.records.Add(ctx, int64(valid), metric.WithAttributes(
			attribute.String("source_id", sourceID),
			attribute.Bool("valid", true),
		))
	}
	if invalid > 0 {
		o.records.Add(ctx, int64(invalid), metric.WithAttributes(
			attribute.String("source_id", sourceID),
			attribute.Bool("valid", false),
		))
	}
}

func (o *OTel) ObserveGaps(ctx context.Context, sourceID string, gaps, persistent int) {
	o.gaps.Record(ctx, int64(gaps), metric.WithAttributes(
		attribute.String("source_id", sourceID),
		attribute.String("kind", "open"),
	))
	o.gaps.Record(ctx, int64(persistent), metric.WithAttributes(
		attribute.String("source_id", sourceID),
		attribute.String("kind", "persistent"),
	))
}
