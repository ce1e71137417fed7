package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_orchestrator_requests_total",
			Help: "Provider calls by outcome",
		},
		[]string{"provider", "status"},
	)

	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_orchestrator_request_duration_seconds",
			Help:    "Provider call latency",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"provider"},
	)

	tokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_orchestrator_tokens_total",
			Help: "Tokens consumed by direction",
		},
		[]string{"provider", "direction"},
	)

	costTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_orchestrator_request_cost_dollars_total",
			Help: "Accumulated spend in USD",
		},
		[]string{"provider"},
	)

	fallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_orchestrator_fallbacks_total",
			Help: "Fallback transitions by origin and trigger",
		},
		[]string{"from_provider", "trigger"},
	)

	rateLimitDenials = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_orchestrator_rate_limit_denials_total",
			Help: "Admission checks denied by window and dimension",
		},
		[]string{"provider", "window", "dimension"},
	)

	healthStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "llm_orchestrator_provider_health_status",
			Help: "Derived provider health (0 healthy, 1 degraded, 2 unhealthy)",
		},
		[]string{"provider"},
	)
)

// RecordRequest counts one provider call outcome. status is "success" or the
// error kind.
func RecordRequest(provider, status string) {
	if status == "" {
		status = "unknown"
	}
	requestsTotal.WithLabelValues(provider, status).Inc()
}

// RecordRequestDuration observes one provider call latency in seconds
func RecordRequestDuration(provider string, seconds float64) {
	requestDuration.WithLabelValues(provider).Observe(seconds)
}

// RecordTokens counts consumed tokens for one call
func RecordTokens(provider string, input, output int) {
	tokensTotal.WithLabelValues(provider, "input").Add(float64(input))
	tokensTotal.WithLabelValues(provider, "output").Add(float64(output))
}

// RecordCost accumulates the cost of one call
func RecordCost(provider string, cost float64) {
	if cost <= 0 {
		return
	}
	costTotal.WithLabelValues(provider).Add(cost)
}

// RecordFallback counts one fallback transition
func RecordFallback(fromProvider, trigger string) {
	fallbacksTotal.WithLabelValues(fromProvider, trigger).Inc()
}

// RecordRateLimitDenial counts one denied admission check
func RecordRateLimitDenial(provider, window, dimension string) {
	rateLimitDenials.WithLabelValues(provider, window, dimension).Inc()
}

// SetHealthStatus exposes a provider's derived status as a gauge
func SetHealthStatus(provider string, status string) {
	var v float64
	switch status {
	case "degraded":
		v = 1
	case "unhealthy":
		v = 2
	}
	healthStatus.WithLabelValues(provider).Set(v)
}

// MetricsHandler serves the Prometheus scrape endpoint
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
