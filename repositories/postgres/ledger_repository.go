package postgres

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/opswatch/llm-orchestrator/models"
	"github.com/opswatch/llm-orchestrator/repositories"
)

// LedgerRepository implements repositories.LedgerRepository
type LedgerRepository struct {
	db        *DB
	txManager repositories.TransactionManager
	logger    *zap.Logger
}

// NewLedgerRepository creates a ledger repository
func NewLedgerRepository(db *DB, txManager repositories.TransactionManager, logger *zap.Logger) repositories.LedgerRepository {
	return &LedgerRepository{
		db:        db,
		txManager: txManager,
		logger:    logger,
	}
}

// InitSchema creates the ledger tables when they do not exist
func (r *LedgerRepository) InitSchema(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS usage_records (
			id UUID PRIMARY KEY,
			request_id VARCHAR(64) NOT NULL,
			provider VARCHAR(100) NOT NULL,
			model VARCHAR(100),
			input_tokens INTEGER NOT NULL DEFAULT 0,
			output_tokens INTEGER NOT NULL DEFAULT 0,
			cache_read_tokens INTEGER NOT NULL DEFAULT 0,
			cost DECIMAL(12, 8) NOT NULL DEFAULT 0,
			latency_ms BIGINT NOT NULL DEFAULT 0,
			success BOOLEAN NOT NULL,
			error_kind VARCHAR(32),
			timestamp TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS fallback_events (
			id UUID PRIMARY KEY,
			request_id VARCHAR(64) NOT NULL,
			from_provider VARCHAR(100) NOT NULL,
			to_provider VARCHAR(100),
			trigger VARCHAR(32) NOT NULL,
			detail TEXT,
			timestamp TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		CREATE INDEX IF NOT EXISTS idx_usage_records_provider ON usage_records(provider);
		CREATE INDEX IF NOT EXISTS idx_usage_records_timestamp ON usage_records(timestamp);
		CREATE INDEX IF NOT EXISTS idx_usage_records_request_id ON usage_records(request_id);

		CREATE INDEX IF NOT EXISTS idx_fallback_events_from_provider ON fallback_events(from_provider);
		CREATE INDEX IF NOT EXISTS idx_fallback_events_timestamp ON fallback_events(timestamp);
	`

	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize ledger schema: %w", err)
	}

	r.logger.Info("ledger schema initialized")
	return nil
}

// InsertUsage persists one completed-call record
func (r *LedgerRepository) InsertUsage(ctx context.Context, record *models.UsageRecord) error {
	query := `
		INSERT INTO usage_records (
			id, request_id, provider, model, input_tokens, output_tokens,
			cache_read_tokens, cost, latency_ms, success, error_kind, timestamp
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
		)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		record.ID,
		record.RequestID,
		record.Provider,
		record.Model,
		record.InputTokens,
		record.OutputTokens,
		record.CacheReadTokens,
		record.Cost,
		record.LatencyMs,
		record.Success,
		nullEmpty(record.ErrorKind),
		record.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert usage record: %w", err)
	}

	r.logger.Debug("usage record inserted",
		zap.String("id", record.ID.String()),
		zap.String("provider", record.Provider))
	return nil
}

// InsertFallback persists one fallback event
func (r *LedgerRepository) InsertFallback(ctx context.Context, event *models.FallbackEvent) error {
	query := `
		INSERT INTO fallback_events (
			id, request_id, from_provider, to_provider, trigger, detail, timestamp
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7
		)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		event.ID,
		event.RequestID,
		event.FromProvider,
		nullEmpty(event.ToProvider),
		string(event.Trigger),
		nullEmpty(event.Detail),
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert fallback event: %w", err)
	}

	r.logger.Debug("fallback event inserted",
		zap.String("id", event.ID.String()),
		zap.String("from_provider", event.FromProvider))
	return nil
}

// RecentUsage returns the newest usage records, newest first. provider empty
// means all providers.
func (r *LedgerRepository) RecentUsage(ctx context.Context, provider string, limit int) ([]*models.UsageRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, request_id, provider, model, input_tokens, output_tokens,
		       cache_read_tokens, cost, latency_ms, success, COALESCE(error_kind, ''), timestamp
		FROM usage_records
		WHERE ($1 = '' OR provider = $1)
		ORDER BY timestamp DESC
		LIMIT $2
	`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, provider, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage records: %w", err)
	}
	defer rows.Close()

	var records []*models.UsageRecord
	for rows.Next() {
		record := &models.UsageRecord{}
		if err := rows.Scan(
			&record.ID,
			&record.RequestID,
			&record.Provider,
			&record.Model,
			&record.InputTokens,
			&record.OutputTokens,
			&record.CacheReadTokens,
			&record.Cost,
			&record.LatencyMs,
			&record.Success,
			&record.ErrorKind,
			&record.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan usage record: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read usage records: %w", err)
	}

	return records, nil
}

// DeleteOlderThan removes rows with timestamps before cutoff from both
// tables in one transaction and reports how many went away
func (r *LedgerRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var total int64

	err := r.txManager.InTransaction(ctx, func(txCtx context.Context, _ repositories.Transaction) error {
		executor := GetExecutor(txCtx, r.db)

		result, err := executor.ExecContext(txCtx,
			`DELETE FROM usage_records WHERE timestamp < $1`, cutoff)
		if err != nil {
			return fmt.Errorf("failed to delete usage records: %w", err)
		}
		if n, err := result.RowsAffected(); err == nil {
			total += n
		}

		result, err = executor.ExecContext(txCtx,
			`DELETE FROM fallback_events WHERE timestamp < $1`, cutoff)
		if err != nil {
			return fmt.Errorf("failed to delete fallback events: %w", err)
		}
		if n, err := result.RowsAffected(); err == nil {
			total += n
		}

		return nil
	})
	if err != nil {
		return 0, err
	}

	return total, nil
}

// nullEmpty maps "" to NULL for nullable text columns
func nullEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
