// Package ratelimit enforces per-provider request, token and cost limits
// over fixed minute, hour and day windows, entirely in memory.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/opswatch/llm-orchestrator/models"
)

// Window represents the time window for rate limiting
type Window string

const (
	WindowMinute Window = "minute"
	WindowHour   Window = "hour"
	WindowDay    Window = "day"
)

// windows in check order; the first violated window wins
var windows = []Window{WindowMinute, WindowHour, WindowDay}

// Duration returns the window length
func (w Window) Duration() time.Duration {
	switch w {
	case WindowMinute:
		return time.Minute
	case WindowHour:
		return time.Hour
	case WindowDay:
		return 24 * time.Hour
	}
	return 0
}

// Seconds returns the window length in seconds
func (w Window) Seconds() int64 {
	return int64(w.Duration() / time.Second)
}

// Dimension represents what a limit counts
type Dimension string

const (
	DimensionRequests Dimension = "requests"
	DimensionTokens   Dimension = "tokens"
	DimensionCost     Dimension = "cost"
)

// Decision is the outcome of an admission check
type Decision struct {
	Allowed bool

	// Violated window and dimension, set only on denial
	Window    Window
	Dimension Dimension

	// Reason is a human-readable denial explanation
	Reason string

	// WaitSeconds is the time until the violated window rolls over
	WaitSeconds int64
}

// Utilization reports current usage against one configured limit
type Utilization struct {
	Window    Window    `json:"window"`
	Dimension Dimension `json:"dimension"`
	Used      float64   `json:"used"`
	Limit     float64   `json:"limit"`
	Fraction  float64   `json:"fraction"`
}

// counters accumulates usage within one window
type counters struct {
	requests int64
	tokens   int64
	cost     float64
}

// providerCounters holds one provider's window counters. Each provider has
// its own mutex so checks against one provider never block another.
type providerCounters struct {
	mu      sync.Mutex
	windows map[string]*counters // key "minute:<epoch-minute>" etc.
}

// Service is an in-memory multi-window rate limiter keyed by provider name
type Service struct {
	mu     sync.RWMutex
	limits map[string]models.LimitSpec

	counters sync.Map // provider name -> *providerCounters
	logger   *zap.Logger
}

// NewService creates a Service with no limits configured
func NewService(logger *zap.Logger) *Service {
	return &Service{
		limits: make(map[string]models.LimitSpec),
		logger: logger,
	}
}

// Configure replaces the limit table from a provider spec set. Counters
// survive reconfiguration so a reload cannot reset spent budgets.
func (s *Service) Configure(specs []models.ProviderSpec) {
	limits := make(map[string]models.LimitSpec, len(specs))
	for _, spec := range specs {
		limits[spec.Name] = spec.Limits
	}

	s.mu.Lock()
	s.limits = limits
	s.mu.Unlock()
}

// Check decides whether one more call may proceed for the provider, given
// estimated token and cost footprints. The check is conservative: estimates
// may deny a call that actual usage would have admitted, but a passing check
// never admits usage beyond a configured limit as of check time.
func (s *Service) Check(provider string, estTokens int, estCost float64, now time.Time) Decision {
	limits, ok := s.limitsFor(provider)
	if !ok || limits.IsZero() {
		return Decision{Allowed: true}
	}

	entry := s.entryFor(provider)
	entry.mu.Lock()
	defer entry.mu.Unlock()
	entry.prune(now)

	for _, w := range windows {
		if limit := requestLimit(limits, w); limit > 0 {
			if entry.read(w, now).requests+1 > limit {
				return denied(w, DimensionRequests,
					fmt.Sprintf("exceeded %d requests per %s", limit, w), now)
			}
		}
	}

	for _, w := range windows {
		if limit := tokenLimit(limits, w); limit > 0 {
			if entry.read(w, now).tokens+int64(estTokens) > limit {
				return denied(w, DimensionTokens,
					fmt.Sprintf("exceeded %d tokens per %s", limit, w), now)
			}
		}
	}

	for _, w := range windows {
		if limit := costLimit(limits, w); limit > 0 {
			current := entry.read(w, now).cost
			if current+estCost > limit {
				return denied(w, DimensionCost,
					fmt.Sprintf("would exceed cost limit of $%.4f per %s (current: $%.4f, estimated: $%.4f)",
						limit, w, current, estCost), now)
			}
		}
	}

	return Decision{Allowed: true}
}

// Record folds the actual usage of a completed call into every window.
// Estimates used at check time never persist; only actuals accumulate.
func (s *Service) Record(provider string, tokens int, cost float64, now time.Time) {
	entry := s.entryFor(provider)
	entry.mu.Lock()
	defer entry.mu.Unlock()
	entry.prune(now)

	for _, w := range windows {
		c := entry.write(w, now)
		c.requests++
		c.tokens += int64(tokens)
		c.cost += cost
	}
}

// Utilization reports current usage against each configured limit for the
// provider. Unconfigured dimensions are omitted.
func (s *Service) Utilization(provider string, now time.Time) []Utilization {
	limits, ok := s.limitsFor(provider)
	if !ok || limits.IsZero() {
		return nil
	}

	entry := s.entryFor(provider)
	entry.mu.Lock()
	defer entry.mu.Unlock()
	entry.prune(now)

	var out []Utilization
	for _, w := range windows {
		current := entry.read(w, now)
		if limit := requestLimit(limits, w); limit > 0 {
			out = append(out, utilization(w, DimensionRequests, float64(current.requests), float64(limit)))
		}
		if limit := tokenLimit(limits, w); limit > 0 {
			out = append(out, utilization(w, DimensionTokens, float64(current.tokens), float64(limit)))
		}
		if limit := costLimit(limits, w); limit > 0 {
			out = append(out, utilization(w, DimensionCost, current.cost, limit))
		}
	}
	return out
}

// Cleanup prunes stale window counters across all providers and returns the
// number of entries removed. Admission checks already prune lazily; this
// covers providers that have gone idle.
func (s *Service) Cleanup(now time.Time) int {
	removed := 0
	s.counters.Range(func(_, value any) bool {
		entry := value.(*providerCounters)
		entry.mu.Lock()
		removed += entry.prune(now)
		entry.mu.Unlock()
		return true
	})
	return removed
}

// StartCleanupWorker runs Cleanup on a ticker until ctx is cancelled
func (s *Service) StartCleanupWorker(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("started rate limit cleanup worker",
		zap.Duration("interval", interval))

	for {
		select {
		case <-ticker.C:
			if removed := s.Cleanup(time.Now()); removed > 0 {
				s.logger.Debug("pruned stale rate limit windows",
					zap.Int("removed", removed))
			}
		case <-ctx.Done():
			s.logger.Info("stopping rate limit cleanup worker")
			return
		}
	}
}

func (s *Service) limitsFor(provider string) (models.LimitSpec, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limits, ok := s.limits[provider]
	return limits, ok
}

func (s *Service) entryFor(provider string) *providerCounters {
	if entry, ok := s.counters.Load(provider); ok {
		return entry.(*providerCounters)
	}
	entry, _ := s.counters.LoadOrStore(provider, &providerCounters{
		windows: make(map[string]*counters),
	})
	return entry.(*providerCounters)
}

// windowKey identifies the window bucket containing now
func windowKey(w Window, now time.Time) string {
	return fmt.Sprintf("%s:%d", w, now.Unix()/w.Seconds())
}

// read returns the counters for the current window, zero when absent.
// Caller holds the entry mutex.
func (p *providerCounters) read(w Window, now time.Time) counters {
	if c, ok := p.windows[windowKey(w, now)]; ok {
		return *c
	}
	return counters{}
}

// write returns the mutable counters for the current window, creating them
// when absent. Caller holds the entry mutex.
func (p *providerCounters) write(w Window, now time.Time) *counters {
	key := windowKey(w, now)
	c, ok := p.windows[key]
	if !ok {
		c = &counters{}
		p.windows[key] = c
	}
	return c
}

// prune drops every key outside the current window set. Checks and records
// only ever consult current windows, so anything else is dead weight.
// Caller holds the entry mutex.
func (p *providerCounters) prune(now time.Time) int {
	live := map[string]bool{
		windowKey(WindowMinute, now): true,
		windowKey(WindowHour, now):   true,
		windowKey(WindowDay, now):    true,
	}

	removed := 0
	for key := range p.windows {
		if !live[key] {
			delete(p.windows, key)
			removed++
		}
	}
	return removed
}

// denied builds a denial carrying the seconds until the window rolls over
func denied(w Window, d Dimension, reason string, now time.Time) Decision {
	return Decision{
		Allowed:     false,
		Window:      w,
		Dimension:   d,
		Reason:      reason,
		WaitSeconds: w.Seconds() - now.Unix()%w.Seconds(),
	}
}

func utilization(w Window, d Dimension, used, limit float64) Utilization {
	return Utilization{
		Window:    w,
		Dimension: d,
		Used:      used,
		Limit:     limit,
		Fraction:  used / limit,
	}
}

func requestLimit(l models.LimitSpec, w Window) int64 {
	switch w {
	case WindowMinute:
		return l.RequestsPerMinute
	case WindowHour:
		return l.RequestsPerHour
	case WindowDay:
		return l.RequestsPerDay
	}
	return 0
}

func tokenLimit(l models.LimitSpec, w Window) int64 {
	switch w {
	case WindowMinute:
		return l.TokensPerMinute
	case WindowHour:
		return l.TokensPerHour
	case WindowDay:
		return l.TokensPerDay
	}
	return 0
}

func costLimit(l models.LimitSpec, w Window) float64 {
	switch w {
	case WindowMinute:
		return l.MaxCostPerMinute
	case WindowHour:
		return l.MaxCostPerHour
	case WindowDay:
		return l.MaxCostPerDay
	}
	return 0
}
