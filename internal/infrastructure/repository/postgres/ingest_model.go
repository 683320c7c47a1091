package postgres

import "time"

type recordInsertModel struct {
	SourceID          string    `db:"source_id"`
	Kind              string    `db:"kind"`
	RecordKey         string    `db:"record_key"`
	SourceResourceKey string    `db:"source_resource_key"`
	Format            string    `db:"format"`
	Payload           string    `db:"payload"`
	IsValid           bool      `db:"is_valid"`
	QualityScore      float64   `db:"quality_score"`
	CompletenessScore float64   `db:"completeness_score"`
	ConsistencyScore  float64   `db:"consistency_score"`
	AccuracyScore     float64   `db:"accuracy_score"`
	Errors            string    `db:"errors"`
	Warnings          string    `db:"warnings"`
	IngestedAt        time.Time `db:"ingested_at"`
}

type taskEventModel struct {
	EventID      string    `db:"event_id"`
	SourceID     string    `db:"source_id"`
	ResourceKey  string    `db:"resource_key"`
	Outcome      string    `db:"outcome"`
	FailureKind  *string   `db:"failure_kind"`
	AttemptCount int       `db:"attempt_count"`
	ErrorMessage *string   `db:"error_message"`
	Payload      string    `db:"payload"`
	OccurredAt   time.Time `db:"occurred_at"`
	TraceID      *string   `db:"trace_id"`
	SpanID       *string   `db:"span_id"`
}

type resourceFlagModel struct {
	SourceID    string     `db:"source_id"`
	ResourceKey string     `db:"resource_key"`
	Reason      string     `db:"reason"`
	Format      *string    `db:"format"`
	Detail      *string    `db:"detail"`
	FlaggedAt   time.Time  `db:"flagged_at"`
	ResolvedAt  *time.Time `db:"resolved_at"`
}
