package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/riskibarqy/statharvest/internal/domain/ingest"
	qb "github.com/riskibarqy/statharvest/internal/platform/querybuilder"
)

type ResourceFlagRepository struct {
	db  *sqlx.DB
	now func() time.Time
}

func NewResourceFlagRepository(db *sqlx.DB) *ResourceFlagRepository {
	return &ResourceFlagRepository{db: db, now: time.Now}
}

// Flag opens or replaces the flag of a resource.
func (r *ResourceFlagRepository) Flag(ctx context.Context, flag ingest.ResourceFlag) error {
	flaggedAt := flag.FlaggedAt.UTC()
	if flaggedAt.IsZero() {
		flaggedAt = r.now().UTC()
	}

	model := resourceFlagModel{
		SourceID:    flag.SourceID,
		ResourceKey: flag.ResourceKey,
		Reason:      string(flag.Reason),
		Format:      optionalString(string(flag.Format)),
		Detail:      optionalString(flag.Detail),
		FlaggedAt:   flaggedAt,
	}
	query, args, err := qb.InsertModel("resource_flags", model, `ON CONFLICT (source_id, resource_key)
DO UPDATE SET
    reason = EXCLUDED.reason,
    format = EXCLUDED.format,
    detail = EXCLUDED.detail,
    flagged_at = EXCLUDED.flagged_at,
    resolved_at = NULL`)
	if err != nil {
		return fmt.Errorf("build flag resource query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("flag resource %s/%s: %w", flag.SourceID, flag.ResourceKey, err)
	}
	return nil
}

func (r *ResourceFlagRepository) Resolve(ctx context.Context, sourceID, resourceKey string) error {
	query, args, err := qb.Update("resource_flags").
		Set("resolved_at", r.now().UTC()).
		Where(
			qb.Eq("source_id", sourceID),
			qb.Eq("resource_key", resourceKey),
			qb.IsNull("resolved_at"),
		).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build resolve flag query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("resolve flag %s/%s: %w", sourceID, resourceKey, err)
	}
	return nil
}

func (r *ResourceFlagRepository) ListOpen(ctx context.Context, sourceID string) ([]ingest.ResourceFlag, error) {
	conds := []qb.Condition{qb.IsNull("resolved_at")}
	if sourceID != "" {
		conds = append(conds, qb.Eq("source_id", sourceID))
	}
	query, args, err := qb.Select("source_id", "resource_key", "reason", "format", "detail", "flagged_at", "resolved_at").
		From("resource_flags").
		Where(conds...).
		OrderBy("source_id", "resource_key").
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list flags query: %w", err)
	}

	var rows []resourceFlagModel
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list open flags: %w", err)
	}

	out := make([]ingest.ResourceFlag, 0, len(rows))
	for _, row := range rows {
		out = append(out, ingest.ResourceFlag{
			SourceID:    row.SourceID,
			ResourceKey: row.ResourceKey,
			Reason:      ingest.FlagReason(row.Reason),
			Format:      ingest.FormatTag(derefString(row.Format)),
			Detail:      derefString(row.Detail),
			FlaggedAt:   row.FlaggedAt.UTC(),
		})
	}
	return out, nil
}
