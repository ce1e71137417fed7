// Package diagnostics assembles a read-only operational snapshot from the
// limiter, health monitor and fallback orchestrator. Collection takes the
// same short-held locks as the live path and never waits on an in-flight
// provider call.
package diagnostics

import (
	"time"

	"github.com/opswatch/llm-orchestrator/models"
	"github.com/opswatch/llm-orchestrator/observability"
	"github.com/opswatch/llm-orchestrator/services/fallback"
	"github.com/opswatch/llm-orchestrator/services/health"
	"github.com/opswatch/llm-orchestrator/services/ledger"
	"github.com/opswatch/llm-orchestrator/services/providers"
	"github.com/opswatch/llm-orchestrator/services/ratelimit"
)

// recentEvents caps the events included in one snapshot
const recentEvents = 20

// ProviderDiagnostics is one provider's slice of the snapshot
type ProviderDiagnostics struct {
	Name     string              `json:"name"`
	Kind     models.ProviderKind `json:"kind"`
	Model    string              `json:"model"`
	Priority int                 `json:"priority"`

	RateLimits      []ratelimit.Utilization `json:"rate_limits,omitempty"`
	Health          health.ProviderHealth   `json:"health"`
	RecentFallbacks int64                   `json:"recent_fallbacks"`
}

// Totals covers process-wide aggregates
type Totals struct {
	UptimeSeconds  int64          `json:"uptime_seconds"`
	TotalRequests  int64          `json:"total_requests"`
	TotalFallbacks int64          `json:"total_fallbacks"`
	Fallbacks      fallback.Stats `json:"fallbacks"`
}

// Snapshot is the full diagnostics view, JSON-serializable
type Snapshot struct {
	Timestamp time.Time              `json:"timestamp"`
	Providers []ProviderDiagnostics  `json:"providers"`
	Totals    Totals                 `json:"totals"`
	Events    []models.FallbackEvent `json:"recent_events,omitempty"`
	Ledger    *ledger.Stats          `json:"ledger,omitempty"`
}

// Service collects snapshots on demand; it holds no state of its own beyond
// the process start time.
type Service struct {
	registry     *providers.Registry
	limiter      *ratelimit.Service
	monitor      *health.Monitor
	orchestrator *fallback.Service
	ledger       *ledger.Service // nil when persistence is disabled
	startedAt    time.Time
}

// NewService creates a diagnostics collector. ledgerSvc may be nil.
func NewService(
	registry *providers.Registry,
	limiter *ratelimit.Service,
	monitor *health.Monitor,
	orchestrator *fallback.Service,
	ledgerSvc *ledger.Service,
) *Service {
	return &Service{
		registry:     registry,
		limiter:      limiter,
		monitor:      monitor,
		orchestrator: orchestrator,
		ledger:       ledgerSvc,
		startedAt:    time.Now(),
	}
}

// Collect assembles a fresh snapshot. Nothing is cached; each call reflects
// the state at now.
func (s *Service) Collect(now time.Time) *Snapshot {
	events := s.orchestrator.Events()
	stats := events.Stats()

	entries := s.registry.All()
	out := make([]ProviderDiagnostics, 0, len(entries))
	for _, entry := range entries {
		name := entry.Spec.Name
		h := s.monitor.Snapshot(name, now)
		observability.SetHealthStatus(name, string(h.Status))

		out = append(out, ProviderDiagnostics{
			Name:            name,
			Kind:            entry.Spec.Kind,
			Model:           entry.Spec.Model,
			Priority:        entry.Spec.Priority,
			RateLimits:      s.limiter.Utilization(name, now),
			Health:          h,
			RecentFallbacks: events.CountFor(name),
		})
	}

	snapshot := &Snapshot{
		Timestamp: now,
		Providers: out,
		Totals: Totals{
			UptimeSeconds:  int64(now.Sub(s.startedAt) / time.Second),
			TotalRequests:  s.orchestrator.TotalRequests(),
			TotalFallbacks: stats.Total,
			Fallbacks:      stats,
		},
		Events: events.Recent(recentEvents),
	}

	if s.ledger != nil {
		ls := s.ledger.GetStats()
		snapshot.Ledger = &ls
	}
	return snapshot
}
