package ingest

import "context"

type TaskEventRepository interface {
	UpsertEvent(ctx context.Context, event TaskEvent) error
	ListEvents(ctx context.Context, outcome TaskOutcome, limit int) ([]TaskEvent, error)
}

type FlagRepository interface {
	Flag(ctx context.Context, flag ResourceFlag) error
	Resolve(ctx context.Context, sourceID, resourceKey string) error
	ListOpen(ctx context.Context, sourceID string) ([]ResourceFlag, error)
}
