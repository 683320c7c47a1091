// Package app assembles the ingestion pipeline from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/riskibarqy/statharvest/external/httpfetch"
	"github.com/riskibarqy/statharvest/external/providers"
	"github.com/riskibarqy/statharvest/internal/config"
	"github.com/riskibarqy/statharvest/internal/domain/ingest"
	"github.com/riskibarqy/statharvest/internal/domain/inventory"
	"github.com/riskibarqy/statharvest/internal/domain/quality"
	blobmemory "github.com/riskibarqy/statharvest/internal/infrastructure/blobstore/memory"
	blobminio "github.com/riskibarqy/statharvest/internal/infrastructure/blobstore/minio"
	blobs3 "github.com/riskibarqy/statharvest/internal/infrastructure/blobstore/s3"
	"github.com/riskibarqy/statharvest/internal/infrastructure/catalog"
	"github.com/riskibarqy/statharvest/internal/infrastructure/repository/memory"
	"github.com/riskibarqy/statharvest/internal/infrastructure/repository/postgres"
	"github.com/riskibarqy/statharvest/internal/interfaces/httpapi"
	"github.com/riskibarqy/statharvest/internal/platform/logging"
	"github.com/riskibarqy/statharvest/internal/platform/metrics"
	"github.com/riskibarqy/statharvest/internal/platform/ratelimit"
	"github.com/riskibarqy/statharvest/internal/platform/resilience"
	"github.com/riskibarqy/statharvest/internal/usecase"
	"go.opentelemetry.io/otel"
)

// App holds the assembled pipeline and the resources it owns.
type App struct {
	Config       config.Config
	Orchestrator *usecase.Orchestrator
	Reconciler   *usecase.ReconciliationService
	Ingestion    *usecase.IngestionService
	Events       ingest.TaskEventRepository
	Flags        ingest.FlagRepository
	Catalog      *catalog.Cached

	logger  *logging.Logger
	closers []func() error
}

// Build wires every component. Nothing starts until Orchestrator.Start.
func Build(ctx context.Context, cfg config.Config, logger *logging.Logger) (*App, error) {
	if logger == nil {
		logger = logging.Default()
	}
	a := &App{Config: cfg, logger: logger}

	policy, err := usecase.ParsePriorityPolicy(cfg.Reconcile.Policy)
	if err != nil {
		return nil, err
	}

	otelHook, err := metrics.NewOTel(otel.Meter("statharvest/internal/usecase"))
	if err != nil {
		return nil, err
	}
	pipe := usecase.NewPipelineContext(pipelineConfig(cfg.Pipeline), logger, otelHook)

	blobs, err := newBlobStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var sink quality.Sink
	switch cfg.SinkBackend {
	case config.SinkPostgres:
		db, err := openDB(ctx, cfg.DBURL, cfg.DBDisablePreparedBinary)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db.Close)
		sink = postgres.NewRecordSink(db)
		a.Events = postgres.NewTaskEventRepository(db)
		a.Flags = postgres.NewResourceFlagRepository(db)
	default:
		sink = memory.NewRecordSink()
		a.Events = memory.NewTaskEventRepository()
		a.Flags = memory.NewResourceFlagRepository()
	}

	a.Catalog = catalog.NewCached(catalog.NewFile(cfg.CatalogPath), cfg.CatalogCacheTTL)

	adapters := providers.Default()
	sourceRules := make(map[string]quality.Rules)
	for _, src := range cfg.Sources {
		if src.ContestFormat == "" {
			continue
		}
		rules, err := quality.RulesForFormat(src.ContestFormat)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", src.ID, err)
		}
		sourceRules[src.ID] = rules
	}
	a.Ingestion = usecase.NewIngestionService(
		pipe,
		adapters,
		blobs,
		sink,
		quality.NewScorer(quality.DefaultRules()),
		a.Catalog,
		a.Flags,
		usecase.IngestionConfig{BlobPrefix: cfg.BlobPrefix, SourceRules: sourceRules},
	)

	pool := usecase.NewFetchWorkerPool(pipe, a.Ingestion.Handle, a.Events, usecase.FetchPoolConfig{
		DefaultWorkers:   cfg.Pipeline.Workers,
		MaxTotalAttempts: cfg.Pipeline.MaxTotalAttempts,
	})
	for _, src := range cfg.Sources {
		if _, err := adapters.Get(src.ID); err != nil {
			return nil, fmt.Errorf("source %s: %w (known: %s)", src.ID, err, strings.Join(adapters.SourceIDs(), ","))
		}
		pipe.ConfigureSource(src.ID, sourceSettings(cfg.Pipeline, src))

		client := httpfetch.New(httpfetch.Config{
			SourceID:     src.ID,
			BaseURL:      src.BaseURL,
			PathTemplate: src.PathTemplate,
			Token:        src.Token,
			TokenParam:   src.TokenParam,
			Timeout:      src.Timeout,
			UserAgent:    cfg.ServiceName + "/" + cfg.ServiceVersion,
			Logger:       logger.Named("httpfetch"),
		})
		if err := pool.AddSource(usecase.FetchSource{SourceID: src.ID, Workers: src.Workers, Fetch: client.Fetch}); err != nil {
			return nil, err
		}
	}

	a.Reconciler, err = usecase.NewReconciliationService(pipe, a.Catalog, blobs, a.Events, usecase.ReconciliationConfig{
		Interval:         cfg.Reconcile.Interval,
		Schedule:         cfg.Reconcile.Schedule,
		GraceWindow:      cfg.Reconcile.GraceWindow,
		PersistentAfter:  cfg.Reconcile.PersistentAfter,
		Policy:           policy,
		BasePriority:     cfg.Reconcile.BasePriority,
		ScanRetryBackoff: cfg.Reconcile.ScanRetryBackoff,
		BlobPrefix:       cfg.BlobPrefix,
	})
	if err != nil {
		return nil, err
	}

	a.Orchestrator = usecase.NewOrchestrator(pipe, pool, a.Reconciler)
	return a, nil
}

// NewHTTPServer exposes the admin API of an assembled app.
func (a *App) NewHTTPServer() (*http.Server, error) {
	if strings.TrimSpace(a.Config.HTTPAddr) == "" {
		return nil, fmt.Errorf("http server addr cannot be empty")
	}

	handler := httpapi.NewHandler(a.Orchestrator, a.Events, a.Flags, a.Catalog, a.logger)
	router := httpapi.NewRouter(handler, httpapi.RouterConfig{
		InternalJobToken: a.Config.InternalJobToken,
		ServiceName:      a.Config.ServiceName,
	}, a.logger)

	return &http.Server{
		Addr:         a.Config.HTTPAddr,
		Handler:      router,
		ReadTimeout:  a.Config.ReadTimeout,
		WriteTimeout: a.Config.WriteTimeout,
	}, nil
}

// Close releases the resources Build opened. Shut the orchestrator down
// first.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func newBlobStore(ctx context.Context, cfg config.Config) (inventory.BlobStore, error) {
	switch cfg.BlobBackend {
	case config.BlobS3:
		return blobs3.New(ctx, blobs3.Config{
			Bucket:          cfg.BlobBucket,
			Region:          cfg.BlobRegion,
			Endpoint:        cfg.BlobEndpoint,
			AccessKeyID:     cfg.BlobAccessKey,
			SecretAccessKey: cfg.BlobSecretKey,
			ForcePathStyle:  cfg.BlobPathStyle,
		})
	case config.BlobMinIO:
		return blobminio.New(blobminio.Config{
			Endpoint:  cfg.BlobEndpoint,
			AccessKey: cfg.BlobAccessKey,
			SecretKey: cfg.BlobSecretKey,
			Bucket:    cfg.BlobBucket,
			Region:    cfg.BlobRegion,
			UseSSL:    cfg.BlobUseSSL,
		})
	default:
		return blobmemory.NewStore(), nil
	}
}

func pipelineConfig(p config.PipelineConfig) usecase.PipelineConfig {
	return usecase.PipelineConfig{
		RateLimit: ratelimit.Config{Rate: p.RateLimit, Burst: p.RateBurst},
		Retry: resilience.RetryConfig{
			MaxAttempts: p.RetryMaxAttempts,
			BaseDelay:   p.RetryBaseDelay,
			MaxDelay:    p.RetryMaxDelay,
			CallTimeout: p.CallTimeout,
		},
		CircuitBreaker: resilience.CircuitBreakerConfig{
			FailureThreshold: p.BreakerThreshold,
			OpenTimeout:      p.BreakerOpenTimeout,
			HalfOpenMaxReq:   p.BreakerHalfOpenMax,
		},
	}
}

// sourceSettings overlays the non-zero source overrides on the pipeline
// defaults.
func sourceSettings(defaults config.PipelineConfig, src config.SourceConfig) usecase.SourceSettings {
	out := pipelineConfig(defaults)
	if src.RateLimit > 0 {
		out.RateLimit.Rate = src.RateLimit
	}
	if src.RateBurst > 0 {
		out.RateLimit.Burst = src.RateBurst
	}
	if src.RetryMaxAttempts > 0 {
		out.Retry.MaxAttempts = src.RetryMaxAttempts
	}
	if src.Timeout > 0 {
		out.Retry.CallTimeout = src.Timeout
	}
	if src.BreakerThreshold > 0 {
		out.CircuitBreaker.FailureThreshold = src.BreakerThreshold
	}
	if src.BreakerOpenTimeout > 0 {
		out.CircuitBreaker.OpenTimeout = src.BreakerOpenTimeout
	}
	return usecase.SourceSettings{
		RateLimit:      out.RateLimit,
		Retry:          out.Retry,
		CircuitBreaker: out.CircuitBreaker,
	}
}
