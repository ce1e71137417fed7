package models

import (
	"time"

	"github.com/google/uuid"
)

// FallbackTrigger names the condition that moved the orchestrator off a provider
type FallbackTrigger string

const (
	TriggerRateLimited FallbackTrigger = "rate_limited"
	TriggerTimeout     FallbackTrigger = "timeout"
	TriggerAuth        FallbackTrigger = "auth"
	TriggerQuota       FallbackTrigger = "quota"
	TriggerServerError FallbackTrigger = "server_error"
	TriggerNetwork     FallbackTrigger = "network"
	TriggerProbeFailed FallbackTrigger = "probe_failed"
	TriggerUnknown     FallbackTrigger = "unknown"
)

// FallbackEvent records one transition away from a provider during a request
type FallbackEvent struct {
	ID           uuid.UUID       `json:"id" db:"id"`
	RequestID    string          `json:"request_id" db:"request_id"`
	FromProvider string          `json:"from_provider" db:"from_provider"`
	ToProvider   string          `json:"to_provider,omitempty" db:"to_provider"` // Empty when the chain ended here
	Trigger      FallbackTrigger `json:"trigger" db:"trigger"`
	Detail       string          `json:"detail,omitempty" db:"detail"`
	Timestamp    time.Time       `json:"timestamp" db:"timestamp"`
}

// TableName returns the table name for the FallbackEvent model
func (FallbackEvent) TableName() string {
	return "fallback_events"
}

// NewFallbackEvent creates a FallbackEvent stamped with a fresh id and the current time
func NewFallbackEvent(requestID, fromProvider string, trigger FallbackTrigger) *FallbackEvent {
	return &FallbackEvent{
		ID:           uuid.New(),
		RequestID:    requestID,
		FromProvider: fromProvider,
		Trigger:      trigger,
		Timestamp:    time.Now(),
	}
}
