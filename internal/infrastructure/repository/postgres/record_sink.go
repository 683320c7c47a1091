package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/riskibarqy/statharvest/internal/domain/ingest"
	"github.com/riskibarqy/statharvest/internal/domain/quality"
	qb "github.com/riskibarqy/statharvest/internal/platform/querybuilder"
)

const recordChunkSize = 200

const upsertRecordSuffix = `ON CONFLICT (source_id, kind, record_key)
DO UPDATE SET
    source_resource_key = EXCLUDED.source_resource_key,
    format = EXCLUDED.format,
    payload = EXCLUDED.payload,
    is_valid = EXCLUDED.is_valid,
    quality_score = EXCLUDED.quality_score,
    completeness_score = EXCLUDED.completeness_score,
    consistency_score = EXCLUDED.consistency_score,
    accuracy_score = EXCLUDED.accuracy_score,
    errors = EXCLUDED.errors,
    warnings = EXCLUDED.warnings,
    ingested_at = EXCLUDED.ingested_at`

// RecordSink upserts validated records with their quality results. Invalid
// records are stored too; is_valid tells them apart.
type RecordSink struct {
	db  *sqlx.DB
	now func() time.Time
}

func NewRecordSink(db *sqlx.DB) *RecordSink {
	return &RecordSink{db: db, now: time.Now}
}

// WriteBatch writes every result in one transaction.
func (s *RecordSink) WriteBatch(ctx context.Context, results []quality.Result) (int64, error) {
	if len(results) == 0 {
		return 0, nil
	}

	ingestedAt := s.now().UTC()
	models := make([]any, 0, len(results))
	seen := make(map[string]int, len(results))
	for _, res := range results {
		model, err := recordModel(res, ingestedAt)
		if err != nil {
			return 0, err
		}
		// Postgres rejects a statement touching the same conflict key twice.
		key := model.SourceID + "|" + model.Kind + "|" + model.RecordKey
		if idx, dup := seen[key]; dup {
			models[idx] = model
			continue
		}
		seen[key] = len(models)
		models = append(models, model)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin record batch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var affected int64
	for start := 0; start < len(models); start += recordChunkSize {
		end := min(start+recordChunkSize, len(models))
		query, args, err := qb.InsertModels("records", models[start:end], upsertRecordSuffix)
		if err != nil {
			return 0, fmt.Errorf("build record batch query: %w", err)
		}
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return 0, fmt.Errorf("upsert %d records: %w", end-start, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			affected += n
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit record batch: %w", err)
	}
	return affected, nil
}

func recordModel(res quality.Result, ingestedAt time.Time) (recordInsertModel, error) {
	rec := res.Record
	key := rec.Key()
	if key == "" {
		return recordInsertModel{}, fmt.Errorf("%w: record of kind %s from %s has no key", ingest.ErrUnstorableRecord, rec.Kind, rec.Provenance.SourceResourceKey)
	}

	payload, err := marshalJSON(rec, "{}")
	if err != nil {
		return recordInsertModel{}, fmt.Errorf("marshal record payload: %w: %w", ingest.ErrUnstorableRecord, err)
	}
	issues, err := marshalJSON(res.Errors, "[]")
	if err != nil {
		return recordInsertModel{}, fmt.Errorf("marshal record errors: %w: %w", ingest.ErrUnstorableRecord, err)
	}
	warnings, err := marshalJSON(res.Warnings, "[]")
	if err != nil {
		return recordInsertModel{}, fmt.Errorf("marshal record warnings: %w: %w", ingest.ErrUnstorableRecord, err)
	}

	return recordInsertModel{
		SourceID:          rec.Provenance.SourceID,
		Kind:              string(rec.Kind),
		RecordKey:         key,
		SourceResourceKey: rec.Provenance.SourceResourceKey,
		Format:            rec.Provenance.Format,
		Payload:           payload,
		IsValid:           res.IsValid,
		QualityScore:      res.QualityScore,
		CompletenessScore: res.CompletenessScore,
		ConsistencyScore:  res.ConsistencyScore,
		AccuracyScore:     res.AccuracyScore,
		Errors:            issues,
		Warnings:          warnings,
		IngestedAt:        ingestedAt,
	}, nil
}
