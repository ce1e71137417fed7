// Package repositories defines the persistence interfaces consumed by the
// ledger. Implementations live in subpackages; the rest of the system only
// ever sees these interfaces.
package repositories

import (
	"context"
	"time"

	"github.com/opswatch/llm-orchestrator/models"
)

// LedgerRepository stores usage records and fallback events
type LedgerRepository interface {
	// InitSchema creates the ledger tables when they do not exist
	InitSchema(ctx context.Context) error

	// InsertUsage persists one completed-call record
	InsertUsage(ctx context.Context, record *models.UsageRecord) error

	// InsertFallback persists one fallback event
	InsertFallback(ctx context.Context, event *models.FallbackEvent) error

	// RecentUsage returns the newest usage records for a provider, newest
	// first. provider empty means all providers.
	RecentUsage(ctx context.Context, provider string, limit int) ([]*models.UsageRecord, error)

	// DeleteOlderThan removes rows with timestamps before cutoff from both
	// tables and reports how many went away
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// TransactionManager manages database transactions
type TransactionManager interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) (Transaction, error)

	// InTransaction executes fn within a transaction, committing on success
	// and rolling back on error
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}

// Transaction represents a database transaction
type Transaction interface {
	// Commit commits the transaction
	Commit() error

	// Rollback rolls back the transaction
	Rollback() error

	// Context returns the transaction context
	Context() context.Context
}
