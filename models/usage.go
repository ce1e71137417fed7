package models

import (
	"time"

	"github.com/google/uuid"
)

// UsageRecord captures one completed provider call, successful or not
type UsageRecord struct {
	ID              uuid.UUID `json:"id" db:"id"`
	RequestID       string    `json:"request_id" db:"request_id"`
	Provider        string    `json:"provider" db:"provider"`
	Model           string    `json:"model" db:"model"`
	InputTokens     int       `json:"input_tokens" db:"input_tokens"`
	OutputTokens    int       `json:"output_tokens" db:"output_tokens"`
	CacheReadTokens int       `json:"cache_read_tokens" db:"cache_read_tokens"`
	Cost            float64   `json:"cost" db:"cost"`
	LatencyMs       int64     `json:"latency_ms" db:"latency_ms"`
	Success         bool      `json:"success" db:"success"`
	ErrorKind       string    `json:"error_kind,omitempty" db:"error_kind"` // Empty on success
	Timestamp       time.Time `json:"timestamp" db:"timestamp"`
}

// TableName returns the table name for the UsageRecord model
func (UsageRecord) TableName() string {
	return "usage_records"
}

// NewUsageRecord creates a UsageRecord stamped with a fresh id and the current time
func NewUsageRecord(requestID, provider, model string) *UsageRecord {
	return &UsageRecord{
		ID:        uuid.New(),
		RequestID: requestID,
		Provider:  provider,
		Model:     model,
		Timestamp: time.Now(),
	}
}

// TotalTokens returns input plus output tokens
func (r *UsageRecord) TotalTokens() int {
	return r.InputTokens + r.OutputTokens
}
