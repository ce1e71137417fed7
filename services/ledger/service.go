// Package ledger persists usage records and fallback events asynchronously.
// Writes are enqueued without blocking the request path; a worker pool drains
// the buffer into the repository, and overflow drops the entry with a counter
// rather than stalling a caller.
package ledger

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/opswatch/llm-orchestrator/models"
	"github.com/opswatch/llm-orchestrator/repositories"
)

// insertTimeout bounds one repository write
const insertTimeout = 5 * time.Second

// entry is one queued write: exactly one of the fields is set
type entry struct {
	usage    *models.UsageRecord
	fallback *models.FallbackEvent
}

// Config holds ledger buffering and retention settings
type Config struct {
	BufferSize  int
	WorkerCount int

	// Retention is how long persisted rows are kept; the cleanup worker
	// deletes anything older
	Retention time.Duration

	// CleanupInterval is how often the cleanup worker runs
	CleanupInterval time.Duration
}

// DefaultConfig returns the standard ledger settings
func DefaultConfig() Config {
	return Config{
		BufferSize:      10000,
		WorkerCount:     4,
		Retention:       30 * 24 * time.Hour,
		CleanupInterval: time.Hour,
	}
}

// Service is the asynchronous persistence pipeline
type Service struct {
	repo   repositories.LedgerRepository
	logger *zap.Logger
	cfg    Config

	entries chan entry
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc

	mu      sync.Mutex
	started bool

	inserted atomic.Int64
	dropped  atomic.Int64
}

// Stats reports the ledger pipeline state
type Stats struct {
	Pending  int   `json:"pending"`
	Inserted int64 `json:"inserted"`
	Dropped  int64 `json:"dropped"`
	Workers  int   `json:"workers"`
	Started  bool  `json:"started"`
}

// NewService creates a ledger service over the given repository
func NewService(repo repositories.LedgerRepository, cfg Config, logger *zap.Logger) *Service {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = DefaultConfig().WorkerCount
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		repo:    repo,
		logger:  logger,
		cfg:     cfg,
		entries: make(chan entry, cfg.BufferSize),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the worker pool and the retention cleanup worker
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("ledger service already started")
	}

	for i := 0; i < s.cfg.WorkerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
	if s.cfg.Retention > 0 && s.cfg.CleanupInterval > 0 {
		go s.cleanupWorker()
	}

	s.started = true
	s.logger.Info("started ledger service",
		zap.Int("worker_count", s.cfg.WorkerCount),
		zap.Int("buffer_size", s.cfg.BufferSize),
		zap.Duration("retention", s.cfg.Retention))
	return nil
}

// Stop drains queued entries, waiting up to timeout
func (s *Service) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return fmt.Errorf("ledger service not started")
	}
	s.started = false
	s.mu.Unlock()

	s.logger.Info("stopping ledger service", zap.Int("pending", len(s.entries)))
	close(s.entries)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		s.logger.Info("ledger service stopped")
		return nil
	case <-time.After(timeout):
		s.cancel()
		return fmt.Errorf("ledger service stop timed out after %v", timeout)
	}
}

// RecordUsage enqueues a usage record without blocking
func (s *Service) RecordUsage(record *models.UsageRecord) {
	s.enqueue(entry{usage: record})
}

// RecordFallback enqueues a fallback event without blocking
func (s *Service) RecordFallback(event *models.FallbackEvent) {
	s.enqueue(entry{fallback: event})
}

// RecentUsage reads back the newest persisted usage records, newest first.
// provider empty means all providers.
func (s *Service) RecentUsage(ctx context.Context, provider string, limit int) ([]*models.UsageRecord, error) {
	return s.repo.RecentUsage(ctx, provider, limit)
}

// GetStats reports the pipeline state
func (s *Service) GetStats() Stats {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()

	return Stats{
		Pending:  len(s.entries),
		Inserted: s.inserted.Load(),
		Dropped:  s.dropped.Load(),
		Workers:  s.cfg.WorkerCount,
		Started:  started,
	}
}

func (s *Service) enqueue(e entry) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		s.dropped.Add(1)
		return
	}
	s.mu.Unlock()

	select {
	case s.entries <- e:
	default:
		s.dropped.Add(1)
		s.logger.Warn("ledger buffer full, dropping entry",
			zap.Int64("dropped_total", s.dropped.Load()))
	}
}

func (s *Service) worker(id int) {
	defer s.wg.Done()

	s.logger.Debug("ledger worker started", zap.Int("worker_id", id))
	for e := range s.entries {
		if err := s.process(e); err != nil {
			s.logger.Error("failed to persist ledger entry",
				zap.Int("worker_id", id),
				zap.Error(err))
			continue
		}
		s.inserted.Add(1)
	}
	s.logger.Debug("ledger worker stopped", zap.Int("worker_id", id))
}

func (s *Service) process(e entry) error {
	ctx, cancel := context.WithTimeout(context.Background(), insertTimeout)
	defer cancel()

	switch {
	case e.usage != nil:
		return s.repo.InsertUsage(ctx, e.usage)
	case e.fallback != nil:
		return s.repo.InsertFallback(ctx, e.fallback)
	}
	return nil
}

// cleanupWorker deletes rows past the retention horizon on a ticker
func (s *Service) cleanupWorker() {
	ticker := time.NewTicker(s.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().Add(-s.cfg.Retention)
			ctx, cancel := context.WithTimeout(s.ctx, time.Minute)
			removed, err := s.repo.DeleteOlderThan(ctx, cutoff)
			cancel()
			if err != nil {
				s.logger.Error("ledger retention cleanup failed", zap.Error(err))
				continue
			}
			if removed > 0 {
				s.logger.Info("ledger retention cleanup",
					zap.Int64("rows_removed", removed),
					zap.Time("cutoff", cutoff))
			}
		case <-s.ctx.Done():
			return
		}
	}
}
