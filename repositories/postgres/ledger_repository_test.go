package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/opswatch/llm-orchestrator/models"
)

func newMockRepo(t *testing.T) (*LedgerRepository, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })

	logger, _ := zap.NewDevelopment()
	db := &DB{DB: mockDB, logger: logger}
	txManager := NewTransactionManager(db, logger)
	repo := NewLedgerRepository(db, txManager, logger).(*LedgerRepository)
	return repo, mock
}

func TestInsertUsage(t *testing.T) {
	repo, mock := newMockRepo(t)

	record := models.NewUsageRecord("req-1", "openai-primary", "gpt-4o-mini")
	record.InputTokens = 100
	record.OutputTokens = 40
	record.Cost = 0.0001
	record.LatencyMs = 250
	record.Success = true

	mock.ExpectExec("INSERT INTO usage_records").
		WithArgs(record.ID, "req-1", "openai-primary", "gpt-4o-mini",
			100, 40, 0, 0.0001, int64(250), true, nil, record.Timestamp).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.InsertUsage(context.Background(), record))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertUsage_FailureKeepsErrorKind(t *testing.T) {
	repo, mock := newMockRepo(t)

	record := models.NewUsageRecord("req-2", "openai-primary", "gpt-4o-mini")
	record.Success = false
	record.ErrorKind = "rate_limit"

	mock.ExpectExec("INSERT INTO usage_records").
		WithArgs(record.ID, "req-2", "openai-primary", "gpt-4o-mini",
			0, 0, 0, 0.0, int64(0), false, "rate_limit", record.Timestamp).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.InsertUsage(context.Background(), record))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertFallback(t *testing.T) {
	repo, mock := newMockRepo(t)

	event := models.NewFallbackEvent("req-1", "openai-primary", models.TriggerServerError)
	event.ToProvider = "anthropic-secondary"
	event.Detail = "upstream server error (status 503)"

	mock.ExpectExec("INSERT INTO fallback_events").
		WithArgs(event.ID, "req-1", "openai-primary", "anthropic-secondary",
			"server_error", "upstream server error (status 503)", event.Timestamp).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.InsertFallback(context.Background(), event))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecentUsage(t *testing.T) {
	repo, mock := newMockRepo(t)

	rec := models.NewUsageRecord("req-1", "openai-primary", "gpt-4o-mini")
	rows := sqlmock.NewRows([]string{
		"id", "request_id", "provider", "model", "input_tokens", "output_tokens",
		"cache_read_tokens", "cost", "latency_ms", "success", "error_kind", "timestamp",
	}).AddRow(rec.ID.String(), rec.RequestID, rec.Provider, rec.Model, 100, 40, 0, 0.0001, 250, true, "", rec.Timestamp)

	mock.ExpectQuery("SELECT (.+) FROM usage_records").
		WithArgs("openai-primary", 10).
		WillReturnRows(rows)

	records, err := repo.RecentUsage(context.Background(), "openai-primary", 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "req-1", records[0].RequestID)
	assert.Equal(t, 100, records[0].InputTokens)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecentUsage_DefaultLimit(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery("SELECT (.+) FROM usage_records").
		WithArgs("", 100).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "request_id", "provider", "model", "input_tokens", "output_tokens",
			"cache_read_tokens", "cost", "latency_ms", "success", "error_kind", "timestamp",
		}))

	records, err := repo.RecentUsage(context.Background(), "", 0)
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteOlderThan(t *testing.T) {
	repo, mock := newMockRepo(t)
	cutoff := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM usage_records").
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 7))
	mock.ExpectExec("DELETE FROM fallback_events").
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	removed, err := repo.DeleteOlderThan(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(10), removed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteOlderThan_RollsBackOnFailure(t *testing.T) {
	repo, mock := newMockRepo(t)
	cutoff := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM usage_records").
		WithArgs(cutoff).
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	_, err := repo.DeleteOlderThan(context.Background(), cutoff)
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInitSchema(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS usage_records").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.InitSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
