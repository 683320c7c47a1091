package app

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/uptrace/opentelemetry-go-extra/otelsql"
	"github.com/uptrace/opentelemetry-go-extra/otelsqlx"
)

const maxTracedQueryLength = 512

var (
	queryWhitespace = regexp.MustCompile(`\s+`)
	// Matches the placeholder tuples of a batched insert after the first.
	extraValueTuples = regexp.MustCompile(`(\(\$\d+(?:, ?\$\d+)*\))(?:, ?\(\$\d+(?:, ?\$\d+)*\))+`)
)

// openDB opens the record sink database with query spans and pool metrics.
func openDB(ctx context.Context, rawURL string, disablePreparedBinary bool) (*sqlx.DB, error) {
	dbURL := rawURL
	if disablePreparedBinary {
		dbURL = withoutPreparedBinary(rawURL)
	}

	opts := []otelsql.Option{
		otelsql.WithDBSystem("postgresql"),
		otelsql.WithQueryFormatter(traceQuery),
	}
	if name := databaseName(dbURL); name != "" {
		opts = append(opts, otelsql.WithDBName(name))
	}

	db, err := otelsqlx.Open("postgres", dbURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	otelsql.ReportDBStatsMetrics(db.DB, opts...)
	return db, nil
}

// withoutPreparedBinary asks pq for text results, which poolers in
// transaction mode need. An explicit setting in the URL wins.
func withoutPreparedBinary(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Scheme == "" {
		return raw
	}

	query := parsed.Query()
	if query.Get("disable_prepared_binary_result") != "" {
		return raw
	}
	query.Set("disable_prepared_binary_result", "yes")
	parsed.RawQuery = query.Encode()
	return parsed.String()
}

// databaseName accepts both URL and key=value DSNs.
func databaseName(raw string) string {
	raw = strings.TrimSpace(raw)
	if parsed, err := url.Parse(raw); err == nil && parsed.Scheme != "" {
		return strings.Trim(parsed.Path, "/ ")
	}

	for _, token := range strings.Fields(raw) {
		if name, ok := strings.CutPrefix(token, "dbname="); ok {
			return strings.Trim(name, `"'`)
		}
	}
	return ""
}

// traceQuery flattens whitespace and keeps one tuple of a batched insert so
// record sink spans stay readable.
func traceQuery(query string) string {
	query = strings.TrimSpace(queryWhitespace.ReplaceAllString(query, " "))
	query = extraValueTuples.ReplaceAllString(query, "$1, ...")
	if len(query) <= maxTracedQueryLength {
		return query
	}
	return query[:maxTracedQueryLength] + "..."
}
