// Package health tracks per-provider call telemetry over a rolling window
// and derives availability status and trends from it on demand.
package health

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/opswatch/llm-orchestrator/services/providers"
)

// Status is the derived availability classification of a provider
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Trend describes how a provider's telemetry is moving across the window
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendStable    Trend = "stable"
	TrendDegrading Trend = "degrading"
	TrendUnknown   Trend = "unknown"
)

// emaAlpha is the smoothing factor for the latency moving average
const emaAlpha = 0.3

// Config holds the thresholds that drive status and trend derivation
type Config struct {
	// Horizon is the rolling retention window for samples
	Horizon time.Duration

	// MaxSamples caps retained samples per provider; oldest evict first
	MaxSamples int

	// SoftLatencyCeilingMs marks a provider degraded when mean latency passes it
	SoftLatencyCeilingMs float64

	// HardLatencyCeilingMs marks a provider unhealthy when mean latency passes it
	HardLatencyCeilingMs float64

	// DegradedErrorRate and UnhealthyErrorRate are the error-rate boundaries
	DegradedErrorRate  float64
	UnhealthyErrorRate float64

	// TrendThreshold is the relative change that separates stable from moving
	TrendThreshold float64
}

// DefaultConfig returns the standard thresholds
func DefaultConfig() Config {
	return Config{
		Horizon:              24 * time.Hour,
		MaxSamples:           5000,
		SoftLatencyCeilingMs: 2000,
		HardLatencyCeilingMs: 10000,
		DegradedErrorRate:    0.10,
		UnhealthyErrorRate:   0.50,
		TrendThreshold:       0.10,
	}
}

// sample is one observed call outcome
type sample struct {
	at        time.Time
	latencyMs float64
	success   bool
	kind      providers.ErrorKind
}

// providerStore holds one provider's retained samples. Each provider has its
// own mutex so observing one provider never blocks reads of another.
type providerStore struct {
	mu         sync.Mutex
	samples    []sample
	latencyEMA float64
}

// HourlyBucket aggregates one hour of samples for trend analysis
type HourlyBucket struct {
	Hour          time.Time `json:"hour"`
	Calls         int64     `json:"calls"`
	Errors        int64     `json:"errors"`
	MeanLatencyMs float64   `json:"mean_latency_ms"`
}

// ProviderHealth is a point-in-time view derived from retained samples.
// Status and Trend are recomputed on every read; nothing here is stored.
type ProviderHealth struct {
	Provider     string           `json:"provider"`
	Status       Status           `json:"status"`
	Trend        Trend            `json:"trend"`
	TotalCalls   int64            `json:"total_calls"`
	SuccessCount int64            `json:"success_count"`
	FailureCount int64            `json:"failure_count"`
	ErrorRate    float64          `json:"error_rate"`
	ErrorsByKind map[string]int64 `json:"errors_by_kind,omitempty"`

	// Latency aggregates cover successful calls; failures carry timings
	// dominated by the failure mode rather than serving speed.
	LatencyMeanMs float64 `json:"latency_mean_ms"`
	LatencyEMAMs  float64 `json:"latency_ema_ms"`
	LatencyP95Ms  float64 `json:"latency_p95_ms"`
	LatencyMaxMs  float64 `json:"latency_max_ms"`

	Hourly []HourlyBucket `json:"hourly,omitempty"`
}

// Monitor retains rolling telemetry for every provider it has observed
type Monitor struct {
	cfg    Config
	stores sync.Map // provider name -> *providerStore
	logger *zap.Logger
}

// NewMonitor creates a Monitor with the given thresholds
func NewMonitor(cfg Config, logger *zap.Logger) *Monitor {
	if cfg.Horizon <= 0 {
		cfg.Horizon = DefaultConfig().Horizon
	}
	if cfg.MaxSamples <= 0 {
		cfg.MaxSamples = DefaultConfig().MaxSamples
	}
	return &Monitor{cfg: cfg, logger: logger}
}

// Observe records the outcome of one provider call. err nil means success;
// otherwise the error's taxonomy kind is retained for breakdowns.
func (m *Monitor) Observe(provider string, latencyMs float64, err error, now time.Time) {
	s := sample{at: now, latencyMs: latencyMs, success: err == nil}
	if err != nil {
		s.kind = providers.KindOf(err)
	}

	store := m.storeFor(provider)
	store.mu.Lock()
	defer store.mu.Unlock()

	store.samples = append(store.samples, s)
	store.evict(now, m.cfg)

	if s.success {
		if store.latencyEMA == 0 {
			store.latencyEMA = latencyMs
		} else {
			store.latencyEMA = emaAlpha*latencyMs + (1-emaAlpha)*store.latencyEMA
		}
	}
}

// Snapshot derives the current health view for one provider. A provider with
// no retained samples reports healthy with an unknown trend.
func (m *Monitor) Snapshot(provider string, now time.Time) ProviderHealth {
	store := m.storeFor(provider)

	store.mu.Lock()
	store.evict(now, m.cfg)
	samples := make([]sample, len(store.samples))
	copy(samples, store.samples)
	ema := store.latencyEMA
	store.mu.Unlock()

	return m.derive(provider, samples, ema)
}

// SnapshotAll derives health views for every provider observed so far
func (m *Monitor) SnapshotAll(now time.Time) map[string]ProviderHealth {
	out := make(map[string]ProviderHealth)
	m.stores.Range(func(key, _ any) bool {
		name := key.(string)
		out[name] = m.Snapshot(name, now)
		return true
	})
	return out
}

func (m *Monitor) storeFor(provider string) *providerStore {
	if store, ok := m.stores.Load(provider); ok {
		return store.(*providerStore)
	}
	store, _ := m.stores.LoadOrStore(provider, &providerStore{})
	return store.(*providerStore)
}

// evict drops samples beyond the horizon or the size cap. Caller holds mu.
func (p *providerStore) evict(now time.Time, cfg Config) {
	cutoff := now.Add(-cfg.Horizon)
	firstLive := 0
	for firstLive < len(p.samples) && p.samples[firstLive].at.Before(cutoff) {
		firstLive++
	}
	if firstLive > 0 {
		p.samples = p.samples[firstLive:]
	}
	if len(p.samples) > cfg.MaxSamples {
		p.samples = p.samples[len(p.samples)-cfg.MaxSamples:]
	}
	// Reallocate once the backing array is mostly dead weight
	if cap(p.samples) > 2*cfg.MaxSamples && len(p.samples) < cap(p.samples)/2 {
		trimmed := make([]sample, len(p.samples))
		copy(trimmed, p.samples)
		p.samples = trimmed
	}
}

// derive computes the full health view from a sample snapshot
func (m *Monitor) derive(provider string, samples []sample, ema float64) ProviderHealth {
	h := ProviderHealth{
		Provider:     provider,
		Status:       StatusHealthy,
		Trend:        TrendUnknown,
		LatencyEMAMs: ema,
	}
	if len(samples) == 0 {
		return h
	}

	var latencies []float64
	errsByKind := make(map[string]int64)

	for _, s := range samples {
		h.TotalCalls++
		if s.success {
			h.SuccessCount++
			latencies = append(latencies, s.latencyMs)
		} else {
			h.FailureCount++
			errsByKind[string(s.kind)]++
		}
	}
	if len(errsByKind) > 0 {
		h.ErrorsByKind = errsByKind
	}
	h.ErrorRate = float64(h.FailureCount) / float64(h.TotalCalls)

	if len(latencies) > 0 {
		var sum, max float64
		for _, v := range latencies {
			sum += v
			if v > max {
				max = v
			}
		}
		h.LatencyMeanMs = sum / float64(len(latencies))
		h.LatencyMaxMs = max
		h.LatencyP95Ms = percentile(latencies, 0.95)
	}

	switch {
	case h.ErrorRate > m.cfg.UnhealthyErrorRate || h.LatencyMeanMs > m.cfg.HardLatencyCeilingMs:
		h.Status = StatusUnhealthy
	case h.ErrorRate > m.cfg.DegradedErrorRate || h.LatencyMeanMs > m.cfg.SoftLatencyCeilingMs:
		h.Status = StatusDegraded
	}

	h.Hourly = bucketByHour(samples)
	h.Trend = m.trend(h.Hourly)

	return h
}

// bucketByHour groups samples into ascending hourly buckets
func bucketByHour(samples []sample) []HourlyBucket {
	type acc struct {
		calls, errors int64
		latencySum    float64
		successes     int64
	}
	byHour := make(map[time.Time]*acc)

	for _, s := range samples {
		hour := s.at.Truncate(time.Hour)
		a, ok := byHour[hour]
		if !ok {
			a = &acc{}
			byHour[hour] = a
		}
		a.calls++
		if s.success {
			a.successes++
			a.latencySum += s.latencyMs
		} else {
			a.errors++
		}
	}

	hours := make([]time.Time, 0, len(byHour))
	for hour := range byHour {
		hours = append(hours, hour)
	}
	sort.Slice(hours, func(i, j int) bool { return hours[i].Before(hours[j]) })

	out := make([]HourlyBucket, 0, len(hours))
	for _, hour := range hours {
		a := byHour[hour]
		b := HourlyBucket{Hour: hour, Calls: a.calls, Errors: a.errors}
		if a.successes > 0 {
			b.MeanLatencyMs = a.latencySum / float64(a.successes)
		}
		out = append(out, b)
	}
	return out
}

// trend compares the earliest third of hourly buckets against the latest
// third. Error rate decides first; when both thirds are error-free the mean
// latency breaks the tie. Lower is better for both metrics.
func (m *Monitor) trend(buckets []HourlyBucket) Trend {
	if len(buckets) < 3 {
		return TrendUnknown
	}

	third := len(buckets) / 3
	early := buckets[:third]
	late := buckets[len(buckets)-third:]

	earlyErr, earlyLatency := bucketMeans(early)
	lateErr, lateLatency := bucketMeans(late)

	if t := compare(earlyErr, lateErr, m.cfg.TrendThreshold); t != TrendStable {
		return t
	}
	return compare(earlyLatency, lateLatency, m.cfg.TrendThreshold)
}

// bucketMeans returns the mean error rate and mean latency across buckets
func bucketMeans(buckets []HourlyBucket) (errRate, latency float64) {
	var calls, errors int64
	var latencySum float64
	var latencyBuckets int

	for _, b := range buckets {
		calls += b.Calls
		errors += b.Errors
		if b.MeanLatencyMs > 0 {
			latencySum += b.MeanLatencyMs
			latencyBuckets++
		}
	}
	if calls > 0 {
		errRate = float64(errors) / float64(calls)
	}
	if latencyBuckets > 0 {
		latency = latencySum / float64(latencyBuckets)
	}
	return errRate, latency
}

// compare classifies the relative change from early to late; lower is better
func compare(early, late, threshold float64) Trend {
	switch {
	case early == 0 && late == 0:
		return TrendStable
	case early == 0:
		return TrendDegrading
	}
	change := (late - early) / early
	switch {
	case change > threshold:
		return TrendDegrading
	case change < -threshold:
		return TrendImproving
	default:
		return TrendStable
	}
}

// percentile computes the pth percentile with linear interpolation over a
// copy of the input
func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	if len(sorted) == 1 {
		return sorted[0]
	}

	rank := p * float64(len(sorted)-1)
	lower := int(rank)
	upper := lower + 1
	if upper >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	weight := rank - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}
