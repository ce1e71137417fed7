package fallback

import (
	"fmt"
	"strings"
	"time"

	"github.com/opswatch/llm-orchestrator/models"
	"github.com/opswatch/llm-orchestrator/services/providers"
)

// Attempt records one provider tried during a request, successful or not
type Attempt struct {
	Provider  string              `json:"provider"`
	ErrorKind providers.ErrorKind `json:"error_kind,omitempty"`
	Detail    string              `json:"detail,omitempty"`
	LatencyMs int64               `json:"latency_ms"`
}

// Result is the outcome of a successfully orchestrated generate call
type Result struct {
	RequestID string                      `json:"request_id"`
	Provider  string                      `json:"provider"`
	Response  *providers.GenerateResponse `json:"response"`
	Cost      float64                     `json:"cost"`

	// Attempts holds the full trail, the answering provider last
	Attempts []Attempt `json:"attempts"`
}

// Selection identifies the provider committed to answer a streaming call
type Selection struct {
	RequestID string `json:"request_id"`
	Provider  string `json:"provider"`
	Model     string `json:"model"`

	// Attempts holds the providers tried before the selection, selection last
	Attempts []Attempt `json:"attempts"`
}

// ExhaustedError reports that every candidate, the terminal stub included,
// failed to answer. Reaching it means the configuration is broken.
type ExhaustedError struct {
	RequestID string
	Attempts  []Attempt
}

func (e *ExhaustedError) Error() string {
	parts := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		parts[i] = fmt.Sprintf("%s (%s)", a.Provider, a.ErrorKind)
	}
	return "all providers exhausted: " + strings.Join(parts, ", ")
}

// Config holds orchestrator tuning knobs
type Config struct {
	// Budget bounds the search for a replacement provider, measured from
	// the first failure of a request
	Budget time.Duration

	// EventLogSize caps the in-memory fallback event ring
	EventLogSize int
}

// DefaultConfig returns the standard orchestrator settings
func DefaultConfig() Config {
	return Config{
		Budget:       3 * time.Second,
		EventLogSize: 256,
	}
}

// Sink receives completed-call records for asynchronous persistence. The
// orchestrator never blocks on a sink; implementations must return promptly.
type Sink interface {
	RecordUsage(record *models.UsageRecord)
	RecordFallback(event *models.FallbackEvent)
}

// triggerFor maps an error's taxonomy kind to the fallback trigger vocabulary
func triggerFor(err error) models.FallbackTrigger {
	switch providers.KindOf(err) {
	case providers.KindRateLimit:
		return models.TriggerRateLimited
	case providers.KindTimeout:
		return models.TriggerTimeout
	case providers.KindAuth:
		return models.TriggerAuth
	case providers.KindQuota:
		return models.TriggerQuota
	case providers.KindServer:
		return models.TriggerServerError
	case providers.KindNetwork:
		return models.TriggerNetwork
	default:
		return models.TriggerUnknown
	}
}
