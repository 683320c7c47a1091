package quality

import (
	"context"

	"github.com/riskibarqy/statharvest/internal/domain/record"
)

// Issue is one failed required field or rule.
type Issue struct {
	Field  string `json:"field"`
	Check  string `json:"check"`
	Reason string `json:"reason"`
}

// Result is the outcome of validating a single record. Invalid records are
// still persisted together with their result.
type Result struct {
	Record            record.Record `json:"record"`
	IsValid           bool          `json:"is_valid"`
	QualityScore      float64       `json:"quality_score"`
	CompletenessScore float64       `json:"completeness_score"`
	ConsistencyScore  float64       `json:"consistency_score"`
	AccuracyScore     float64       `json:"accuracy_score"`
	Errors            []Issue       `json:"errors"`
	Warnings          []Issue       `json:"warnings"`
}

// Sink persists validated records. A batch is written entirely or not at
// all; on error the caller retries the whole batch.
type Sink interface {
	WriteBatch(ctx context.Context, results []Result) (int64, error)
}
