package postgres

import (
	"context"
	"errors"
	"math"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/riskibarqy/statharvest/internal/domain/ingest"
	"github.com/riskibarqy/statharvest/internal/domain/quality"
	"github.com/riskibarqy/statharvest/internal/domain/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return sqlx.NewDb(db, "postgres"), mock
}

func gameResult(gameID string, valid bool) quality.Result {
	rec := record.NewGame(
		record.Provenance{SourceID: "courtside", SourceResourceKey: "2026/10/16/" + gameID, Format: "courtside.summary"},
		record.Game{GameID: gameID},
	)
	return quality.Result{Record: rec, IsValid: valid, QualityScore: 0.9}
}

func TestRecordSinkWriteBatch(t *testing.T) {
	db, mock := setupMockDB(t)
	sink := NewRecordSink(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO records (source_id, kind, record_key")).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	rows, err := sink.WriteBatch(context.Background(), []quality.Result{
		gameResult("g1", true),
		gameResult("g2", false),
		gameResult("g1", true),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), rows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordSinkRollsBackOnFailure(t *testing.T) {
	db, mock := setupMockDB(t)
	sink := NewRecordSink(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO records").WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	_, err := sink.WriteBatch(context.Background(), []quality.Result{gameResult("g1", true)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordSinkRejectsKeylessRecord(t *testing.T) {
	db, mock := setupMockDB(t)
	sink := NewRecordSink(db)

	_, err := sink.WriteBatch(context.Background(), []quality.Result{{Record: record.Record{Kind: record.KindGame}}})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	rows, err := sink.WriteBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, rows)
}

func TestRecordSinkUnencodableRecordIsNotAStorageFailure(t *testing.T) {
	db, mock := setupMockDB(t)
	sink := NewRecordSink(db)

	rec := record.NewPlayerStats(
		record.Provenance{SourceID: "hoopsref", SourceResourceKey: "boxscores/202510210LAL", Format: "hoopsref_page"},
		record.PlayerStats{GameID: "202510210LAL", PlayerID: "jamesle01", Minutes: record.Float(math.NaN())},
	)
	_, err := sink.WriteBatch(context.Background(), []quality.Result{gameResult("202510210LAL", true), {Record: rec, IsValid: true}})
	require.ErrorIs(t, err, ingest.ErrUnstorableRecord)
	assert.NotErrorIs(t, err, ingest.ErrStorageUnreachable)
	assert.Equal(t, ingest.FailureValidation, ingest.KindOf(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskEventRepositoryUpsert(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewTaskEventRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO task_events")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpsertEvent(context.Background(), ingest.TaskEvent{
		EventID:      "evt-1",
		SourceID:     "courtside",
		ResourceKey:  "2026/10/16/g1",
		Outcome:      ingest.OutcomeDeadLetter,
		FailureKind:  ingest.FailureTransient,
		AttemptCount: 5,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	err = repo.UpsertEvent(context.Background(), ingest.TaskEvent{EventID: " "})
	require.Error(t, err)
}

func TestTaskEventRepositoryListEvents(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewTaskEventRepository(db)

	occurred := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{
		"event_id", "source_id", "resource_key", "outcome", "failure_kind", "attempt_count",
		"error_message", "payload", "occurred_at", "trace_id", "span_id",
	}).AddRow("evt-1", "courtside", "2026/10/16/g1", "persistent_gap", nil, 0, nil, `{"cycles":3}`, occurred, nil, nil)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT event_id, source_id, resource_key, outcome, failure_kind, attempt_count, error_message, payload, occurred_at, trace_id, span_id FROM task_events WHERE outcome = $1 ORDER BY occurred_at DESC, event_id DESC LIMIT 100")).
		WithArgs("persistent_gap").
		WillReturnRows(rows)

	events, err := repo.ListEvents(context.Background(), ingest.OutcomePersistentGap, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, ingest.OutcomePersistentGap, events[0].Outcome)
	assert.Equal(t, float64(3), events[0].Payload["cycles"])
	assert.Empty(t, events[0].FailureKind)
	assert.True(t, occurred.Equal(events[0].OccurredAt))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResourceFlagRepository(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewResourceFlagRepository(db)
	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return now }

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO resource_flags")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Flag(context.Background(), ingest.ResourceFlag{
		SourceID:    "courtside",
		ResourceKey: "2026/10/16/g1",
		Reason:      ingest.FlagMalformedPayload,
		Detail:      "missing header",
	}))

	mock.ExpectExec(regexp.QuoteMeta("UPDATE resource_flags SET resolved_at = $1 WHERE source_id = $2 AND resource_key = $3 AND resolved_at IS NULL")).
		WithArgs(now, "courtside", "2026/10/16/g1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Resolve(context.Background(), "courtside", "2026/10/16/g1"))

	rows := sqlmock.NewRows([]string{"source_id", "resource_key", "reason", "format", "detail", "flagged_at", "resolved_at"}).
		AddRow("courtside", "2026/10/16/g2", "expected_data_missing", "courtside.summary", "expected PLAYER_STATS records, none produced", now, nil)
	mock.ExpectQuery(regexp.QuoteMeta("FROM resource_flags WHERE resolved_at IS NULL AND source_id = $1 ORDER BY source_id, resource_key")).
		WithArgs("courtside").
		WillReturnRows(rows)

	flags, err := repo.ListOpen(context.Background(), "courtside")
	require.NoError(t, err)
	require.Len(t, flags, 1)
	assert.Equal(t, ingest.FlagExpectedDataMissing, flags[0].Reason)
	assert.Equal(t, ingest.FormatTag("courtside.summary"), flags[0].Format)
	require.NoError(t, mock.ExpectationsWereMet())
}
