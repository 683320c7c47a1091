package config

import (
	"testing"
	"time"
)

func setSourceEnv(t *testing.T) {
	t.Helper()
	t.Setenv("SOURCES", "courtside,hoops-ref")
	t.Setenv("SOURCE_COURTSIDE_BASE_URL", "https://courtside.test/v2")
	t.Setenv("SOURCE_HOOPS_REF_BASE_URL", "https://hoopsref.test")
}

func TestLoad_AppEnvValidation(t *testing.T) {
	t.Setenv("APP_ENV", "invalid")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for invalid APP_ENV")
	}
}

func TestLoad_UptraceRequiresDSNWhenEnabled(t *testing.T) {
	setSourceEnv(t)
	t.Setenv("APP_ENV", EnvDev)
	t.Setenv("UPTRACE_ENABLED", "true")
	t.Setenv("UPTRACE_DSN", "")
	t.Setenv("OTEL_EXPORTER_OTLP_HEADERS", "")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error when UPTRACE_ENABLED=true without UPTRACE_DSN")
	}
}

func TestLoad_UptraceDSNFromOTLPHeaders(t *testing.T) {
	setSourceEnv(t)
	t.Setenv("UPTRACE_ENABLED", "true")
	t.Setenv("UPTRACE_DSN", "")
	t.Setenv("OTEL_EXPORTER_OTLP_HEADERS", "foo=bar, uptrace-dsn=\"https://token@api.uptrace.dev/1\"")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.UptraceDSN != "https://token@api.uptrace.dev/1" {
		t.Fatalf("unexpected UptraceDSN: %q", cfg.UptraceDSN)
	}
}

func TestLoad_Defaults(t *testing.T) {
	setSourceEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.SinkBackend != SinkPostgres || cfg.BlobBackend != BlobMemory {
		t.Fatalf("unexpected backends: sink=%s blob=%s", cfg.SinkBackend, cfg.BlobBackend)
	}
	if cfg.BlobPrefix != "raw" {
		t.Fatalf("unexpected BlobPrefix: %q", cfg.BlobPrefix)
	}
	if cfg.Pipeline.MaxTotalAttempts != 5 || cfg.Pipeline.BreakerThreshold != 5 {
		t.Fatalf("unexpected pipeline defaults: %+v", cfg.Pipeline)
	}
	if cfg.Pipeline.BreakerOpenTimeout != 30*time.Second {
		t.Fatalf("unexpected BreakerOpenTimeout: %s", cfg.Pipeline.BreakerOpenTimeout)
	}
	if cfg.Reconcile.Interval != 15*time.Minute || cfg.Reconcile.PersistentAfter != 3 {
		t.Fatalf("unexpected reconcile defaults: %+v", cfg.Reconcile)
	}
	if cfg.Reconcile.Policy != "recency_first" {
		t.Fatalf("unexpected Policy: %q", cfg.Reconcile.Policy)
	}
	if len(cfg.Sources) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(cfg.Sources))
	}
	if cfg.Sources[0].PathTemplate != "/{key}.json" {
		t.Fatalf("unexpected PathTemplate: %q", cfg.Sources[0].PathTemplate)
	}
}

func TestLoad_SourceOverrides(t *testing.T) {
	setSourceEnv(t)
	t.Setenv("SOURCE_COURTSIDE_WORKERS", "4")
	t.Setenv("SOURCE_COURTSIDE_RATE_LIMIT", "0.5")
	t.Setenv("SOURCE_COURTSIDE_BREAKER_OPEN_TIMEOUT", "2m")
	t.Setenv("SOURCE_COURTSIDE_TOKEN", "secret")
	t.Setenv("SOURCE_COURTSIDE_TOKEN_PARAM", "api_key")
	t.Setenv("SOURCE_COURTSIDE_CONTEST_FORMAT", " NBA ")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	src := cfg.Sources[0]
	if src.ID != "courtside" || src.BaseURL != "https://courtside.test/v2" {
		t.Fatalf("unexpected source: %+v", src)
	}
	if src.Workers != 4 || src.RateLimit != 0.5 || src.BreakerOpenTimeout != 2*time.Minute {
		t.Fatalf("unexpected overrides: %+v", src)
	}
	if src.Token != "secret" || src.TokenParam != "api_key" {
		t.Fatalf("unexpected token settings: %+v", src)
	}
	if src.ContestFormat != "nba" || cfg.Sources[1].ContestFormat != "" {
		t.Fatalf("unexpected contest formats: %q, %q", src.ContestFormat, cfg.Sources[1].ContestFormat)
	}
	if cfg.Sources[1].ID != "hoops-ref" || cfg.Sources[1].Workers != 0 {
		t.Fatalf("unexpected second source: %+v", cfg.Sources[1])
	}
}

func TestLoad_Validation(t *testing.T) {
	cases := []struct {
		name string
		key  string
		val  string
	}{
		{name: "unknown sink", key: "SINK_BACKEND", val: "mongo"},
		{name: "unknown blob backend", key: "BLOB_BACKEND", val: "gcs"},
		{name: "s3 without bucket", key: "BLOB_BACKEND", val: "s3"},
		{name: "minio without endpoint", key: "BLOB_BACKEND", val: "minio"},
		{name: "zero attempts", key: "PIPELINE_MAX_TOTAL_ATTEMPTS", val: "0"},
		{name: "negative rate", key: "PIPELINE_RATE_LIMIT", val: "-1"},
		{name: "bad interval", key: "RECONCILE_INTERVAL", val: "soon"},
		{name: "negative source workers", key: "SOURCE_COURTSIDE_WORKERS", val: "-2"},
		{name: "duplicate source", key: "SOURCES", val: "courtside,courtside"},
		{name: "invalid source id", key: "SOURCES", val: "Court Side"},
		{name: "missing base url", key: "SOURCE_COURTSIDE_BASE_URL", val: " "},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			setSourceEnv(t)
			t.Setenv(tc.key, tc.val)
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%q", tc.key, tc.val)
			}
		})
	}
}

func TestSplitCSV(t *testing.T) {
	got := splitCSV(" courtside, ,hoopsref ,")
	if len(got) != 2 || got[0] != "courtside" || got[1] != "hoopsref" {
		t.Fatalf("unexpected split: %+v", got)
	}
}
