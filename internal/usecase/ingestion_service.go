package usecase

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/riskibarqy/statharvest/internal/domain/ingest"
	"github.com/riskibarqy/statharvest/internal/domain/inventory"
	"github.com/riskibarqy/statharvest/internal/domain/quality"
	"github.com/riskibarqy/statharvest/internal/domain/record"
	"github.com/riskibarqy/statharvest/internal/platform/logging"
	"github.com/riskibarqy/statharvest/internal/platform/metrics"
)

type AdapterLookup interface {
	Get(sourceID string) (ingest.Adapter, error)
}

type IngestionConfig struct {
	BlobPrefix string
	// SourceRules overrides the scorer's rules for one source, e.g. a
	// source publishing 48-minute games.
	SourceRules map[string]quality.Rules
}

// IngestionResult summarizes one handled payload.
type IngestionResult struct {
	Format       ingest.FormatTag  `json:"format,omitempty"`
	Records      int               `json:"records"`
	Valid        int               `json:"valid"`
	Invalid      int               `json:"invalid"`
	RowsAffected int64             `json:"rows_affected"`
	Flagged      ingest.FlagReason `json:"flagged,omitempty"`
}

// IngestionService archives, parses, scores and persists fetched payloads.
// It runs synchronously on the fetch worker.
type IngestionService struct {
	adapters AdapterLookup
	blobs    inventory.BlobStore
	sink     quality.Sink
	scorer   *quality.Scorer
	scorers  map[string]*quality.Scorer
	catalog  inventory.Catalog
	flags    ingest.FlagRepository
	metrics  metrics.Hook
	recent   *RecentFetches
	cfg      IngestionConfig
	logger   *logging.Logger
	now      func() time.Time
}

func NewIngestionService(
	pipe *PipelineContext,
	adapters AdapterLookup,
	blobs inventory.BlobStore,
	sink quality.Sink,
	scorer *quality.Scorer,
	catalog inventory.Catalog,
	flags ingest.FlagRepository,
	cfg IngestionConfig,
) *IngestionService {
	if scorer == nil {
		scorer = quality.NewScorer(quality.DefaultRules())
	}
	scorers := make(map[string]*quality.Scorer, len(cfg.SourceRules))
	for sourceID, rules := range cfg.SourceRules {
		scorers[sourceID] = quality.NewScorer(rules)
	}

	return &IngestionService{
		adapters: adapters,
		blobs:    blobs,
		sink:     sink,
		scorer:   scorer,
		scorers:  scorers,
		catalog:  catalog,
		flags:    flags,
		metrics:  pipe.Metrics,
		recent:   pipe.Recent,
		cfg:      cfg,
		logger:   pipe.Logger.Named("ingestion"),
		now:      time.Now,
	}
}

// Handle is the FetchHandler of the worker pool.
func (s *IngestionService) Handle(ctx context.Context, _ ingest.Task, raw ingest.RawPayload) error {
	_, err := s.Ingest(ctx, raw)
	return err
}

// Ingest archives the raw payload first, then parses and persists its
// records. Malformed payloads are flagged and reported as a zero-record
// success. Storage failures are returned for a retry; records the sink can
// never encode are flagged and fail the task as a validation error.
func (s *IngestionService) Ingest(ctx context.Context, raw ingest.RawPayload) (IngestionResult, error) {
	ctx, span := startUsecaseSpan(ctx, "usecase.IngestionService.Ingest")
	defer span.End()

	key := inventory.Key{SourceID: raw.SourceID, ResourceKey: raw.ResourceKey}
	if key.SourceID == "" || strings.TrimSpace(key.ResourceKey) == "" {
		return IngestionResult{}, fmt.Errorf("%w: payload source id and resource key are required", ErrInvalidInput)
	}

	contentType := raw.ContentTypeHint
	if contentType == "" {
		contentType = "application/json"
	}
	if err := s.blobs.Put(ctx, inventory.BlobKey(s.cfg.BlobPrefix, key), raw.Body, contentType); err != nil {
		return IngestionResult{}, ingest.NewStorageError("archive raw payload", err)
	}
	s.recent.Mark(key, s.now())

	records, tag, err := s.Parse(raw)
	if err != nil {
		var payloadErr *ingest.PayloadError
		if !stderrors.As(err, &payloadErr) {
			return IngestionResult{}, err
		}
		s.logger.WarnContext(ctx, "payload rejected by adapter",
			"source_id", key.SourceID,
			"resource_key", key.ResourceKey,
			"format", payloadErr.Format,
			"field", payloadErr.Field,
			"error", err,
		)
		s.flag(ctx, key, ingest.FlagMalformedPayload, payloadErr.Format, payloadErr.Error())
		return IngestionResult{Format: payloadErr.Format, Flagged: ingest.FlagMalformedPayload}, nil
	}

	result := IngestionResult{Format: tag, Records: len(records)}
	results := make([]quality.Result, 0, len(records))
	scorer := s.scorerFor(key.SourceID)
	for _, rec := range records {
		res := scorer.Validate(rec)
		if res.IsValid {
			result.Valid++
		} else {
			result.Invalid++
		}
		results = append(results, res)
	}

	if len(results) > 0 {
		rows, err := s.sink.WriteBatch(ctx, results)
		if stderrors.Is(err, ingest.ErrUnstorableRecord) {
			s.flag(ctx, key, ingest.FlagMalformedPayload, tag, err.Error())
			return IngestionResult{}, fmt.Errorf("write record batch: %w", err)
		}
		if err != nil {
			return IngestionResult{}, ingest.NewStorageError("write record batch", err)
		}
		result.RowsAffected = rows
	}
	s.metrics.ObserveRecords(ctx, key.SourceID, result.Valid, result.Invalid)

	missing, err := s.missingKinds(ctx, key, records)
	if err != nil {
		s.logger.WarnContext(ctx, "lookup expected resource failed", "resource", key.String(), "error", err)
	}
	if len(missing) > 0 {
		detail := fmt.Sprintf("expected %s records, none produced", joinKinds(missing))
		s.flag(ctx, key, ingest.FlagExpectedDataMissing, tag, detail)
		result.Flagged = ingest.FlagExpectedDataMissing
	} else if err == nil {
		s.resolve(ctx, key)
	}

	s.logger.DebugContext(ctx, "payload ingested",
		"source_id", key.SourceID,
		"resource_key", key.ResourceKey,
		"format", tag,
		"records", result.Records,
		"invalid", result.Invalid,
	)
	return result, nil
}

// Parse detects the payload format and runs the matching parser.
func (s *IngestionService) Parse(raw ingest.RawPayload) ([]record.Record, ingest.FormatTag, error) {
	adapter, err := s.adapters.Get(raw.SourceID)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	tag, err := adapter.DetectFormat(raw)
	if err != nil {
		return nil, "", err
	}
	records, err := adapter.Parse(raw, tag)
	if err != nil {
		return nil, tag, err
	}
	return records, tag, nil
}

// missingKinds compares produced records with the catalog expectation of
// the resource. Resources outside the catalog expect nothing.
func (s *IngestionService) missingKinds(ctx context.Context, key inventory.Key, records []record.Record) ([]record.Kind, error) {
	if s.catalog == nil {
		return nil, nil
	}
	expected, ok, err := s.catalog.Lookup(ctx, key.SourceID, key.ResourceKey)
	if err != nil || !ok {
		return nil, err
	}

	produced := make(map[record.Kind]bool, 3)
	for _, rec := range records {
		produced[rec.Kind] = true
	}
	missing := make([]record.Kind, 0, len(expected.ExpectedKinds))
	for _, kind := range expected.ExpectedKinds {
		if !produced[kind] {
			missing = append(missing, kind)
		}
	}
	return missing, nil
}

func (s *IngestionService) flag(ctx context.Context, key inventory.Key, reason ingest.FlagReason, format ingest.FormatTag, detail string) {
	if s.flags == nil {
		return
	}
	err := s.flags.Flag(ctx, ingest.ResourceFlag{
		SourceID:    key.SourceID,
		ResourceKey: key.ResourceKey,
		Reason:      reason,
		Format:      format,
		Detail:      detail,
		FlaggedAt:   s.now().UTC(),
	})
	if err != nil {
		s.logger.WarnContext(ctx, "flag resource failed", "resource", key.String(), "reason", reason, "error", err)
	}
}

func (s *IngestionService) resolve(ctx context.Context, key inventory.Key) {
	if s.flags == nil {
		return
	}
	if err := s.flags.Resolve(ctx, key.SourceID, key.ResourceKey); err != nil {
		s.logger.WarnContext(ctx, "resolve resource flag failed", "resource", key.String(), "error", err)
	}
}

func joinKinds(kinds []record.Kind) string {
	parts := make([]string, 0, len(kinds))
	for _, kind := range kinds {
		parts = append(parts, string(kind))
	}
	return strings.Join(parts, ",")
}

func (s *IngestionService) scorerFor(sourceID string) *quality.Scorer {
	if scorer, ok := s.scorers[sourceID]; ok {
		return scorer
	}
	return s.scorer
}
