package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/riskibarqy/statharvest/internal/domain/ingest"
	qb "github.com/riskibarqy/statharvest/internal/platform/querybuilder"
)

type TaskEventRepository struct {
	db *sqlx.DB
}

func NewTaskEventRepository(db *sqlx.DB) *TaskEventRepository {
	return &TaskEventRepository{db: db}
}

func (r *TaskEventRepository) UpsertEvent(ctx context.Context, event ingest.TaskEvent) error {
	eventID := strings.TrimSpace(event.EventID)
	if eventID == "" {
		return fmt.Errorf("event id is required")
	}

	occurredAt := event.OccurredAt.UTC()
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	payloadJSON, err := marshalPayload(event.Payload)
	if err != nil {
		return fmt.Errorf("marshal task event payload: %w", err)
	}

	model := taskEventModel{
		EventID:      eventID,
		SourceID:     event.SourceID,
		ResourceKey:  event.ResourceKey,
		Outcome:      string(event.Outcome),
		FailureKind:  optionalString(string(event.FailureKind)),
		AttemptCount: event.AttemptCount,
		ErrorMessage: optionalString(event.ErrorMessage),
		Payload:      payloadJSON,
		OccurredAt:   occurredAt,
		TraceID:      optionalString(event.TraceID),
		SpanID:       optionalString(event.SpanID),
	}

	query, args, err := qb.InsertModel("task_events", model, `ON CONFLICT (event_id)
DO UPDATE SET
    outcome = EXCLUDED.outcome,
    failure_kind = EXCLUDED.failure_kind,
    attempt_count = EXCLUDED.attempt_count,
    error_message = EXCLUDED.error_message,
    payload = EXCLUDED.payload,
    occurred_at = EXCLUDED.occurred_at,
    trace_id = COALESCE(EXCLUDED.trace_id, task_events.trace_id),
    span_id = COALESCE(EXCLUDED.span_id, task_events.span_id)`)
	if err != nil {
		return fmt.Errorf("build upsert task event query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert task event event_id=%s outcome=%s: %w", eventID, event.Outcome, err)
	}
	return nil
}

// ListEvents returns the newest events first; an empty outcome matches all.
func (r *TaskEventRepository) ListEvents(ctx context.Context, outcome ingest.TaskOutcome, limit int) ([]ingest.TaskEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	builder := qb.Select(
		"event_id", "source_id", "resource_key", "outcome", "failure_kind", "attempt_count",
		"error_message", "payload", "occurred_at", "trace_id", "span_id",
	).From("task_events")
	if outcome != "" {
		builder = builder.Where(qb.Eq("outcome", string(outcome)))
	}
	query, args, err := builder.OrderBy("occurred_at DESC", "event_id DESC").Limit(limit).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list task events query: %w", err)
	}

	var rows []taskEventModel
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list task events: %w", err)
	}

	out := make([]ingest.TaskEvent, 0, len(rows))
	for _, row := range rows {
		out = append(out, ingest.TaskEvent{
			EventID:      row.EventID,
			SourceID:     row.SourceID,
			ResourceKey:  row.ResourceKey,
			Outcome:      ingest.TaskOutcome(row.Outcome),
			FailureKind:  ingest.FailureKind(derefString(row.FailureKind)),
			AttemptCount: row.AttemptCount,
			ErrorMessage: derefString(row.ErrorMessage),
			Payload:      unmarshalPayload(row.Payload),
			OccurredAt:   row.OccurredAt.UTC(),
			TraceID:      derefString(row.TraceID),
			SpanID:       derefString(row.SpanID),
		})
	}
	return out, nil
}
