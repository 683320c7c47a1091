package ingest

import (
	"context"
	"time"
)

// Task is one idempotent "fetch resource X from source Y" unit of work.
type Task struct {
	SourceID     string    `json:"source_id"`
	ResourceKey  string    `json:"resource_key"`
	Priority     int       `json:"priority"`
	AttemptCount int       `json:"attempt_count"`
	LastError    string    `json:"last_error,omitempty"`
	NotBefore    time.Time `json:"not_before"`
	EnqueuedAt   time.Time `json:"enqueued_at"`
	Origin       Origin    `json:"origin"`
}

func (t Task) Key() string {
	return TaskKey(t.SourceID, t.ResourceKey)
}

func TaskKey(sourceID, resourceKey string) string {
	return sourceID + "|" + resourceKey
}

func (t Task) Ready(now time.Time) bool {
	return !now.Before(t.NotBefore)
}

// Origin records who asked for a task.
type Origin string

const (
	OriginManual    Origin = "manual"
	OriginReconcile Origin = "reconcile"
	OriginRequeue   Origin = "requeue"
)

// RawPayload is an unparsed upstream response. It is never mutated after
// the fetch that produced it.
type RawPayload struct {
	SourceID        string
	ResourceKey     string
	Body            []byte
	FetchedAt       time.Time
	ContentTypeHint string
	StatusCode      int
}

// FetchFunc retrieves one resource from a provider.
type FetchFunc func(ctx context.Context, resourceKey string) (RawPayload, error)

// TaskOutcome is the terminal or intermediate state reported for a task.
type TaskOutcome string

const (
	OutcomeSucceeded        TaskOutcome = "succeeded"
	OutcomeRequeued         TaskOutcome = "requeued"
	OutcomePermanentFailure TaskOutcome = "permanent_failure"
	OutcomeDeadLetter       TaskOutcome = "dead_letter"
	OutcomePersistentGap    TaskOutcome = "persistent_gap"
)

// TaskEvent is persisted for every task that leaves the normal retry path.
type TaskEvent struct {
	EventID      string
	SourceID     string
	ResourceKey  string
	Outcome      TaskOutcome
	FailureKind  FailureKind
	AttemptCount int
	ErrorMessage string
	Payload      map[string]any
	OccurredAt   time.Time
	TraceID      string
	SpanID       string
}

// FlagReason explains why a fetched resource needs re-inspection.
type FlagReason string

const (
	FlagMalformedPayload    FlagReason = "malformed_payload"
	FlagExpectedDataMissing FlagReason = "expected_data_missing"
)

// ResourceFlag marks a resource whose payload could not be fully trusted.
type ResourceFlag struct {
	SourceID    string
	ResourceKey string
	Reason      FlagReason
	Format      FormatTag
	Detail      string
	FlaggedAt   time.Time
	ResolvedAt  *time.Time
}
