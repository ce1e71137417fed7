package models

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSpec(name string, priority int) ProviderSpec {
	return ProviderSpec{
		Name:      name,
		Kind:      ProviderKindOpenAI,
		APIKeyEnv: "OPENAI_API_KEY",
		Model:     "gpt-4o-mini",
		Priority:  priority,
	}
}

func TestProviderSpec_Validate(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		spec := validSpec("openai-primary", 1)
		assert.NoError(t, spec.Validate())
	})

	t.Run("MissingAPIKeyEnv", func(t *testing.T) {
		spec := validSpec("openai-primary", 1)
		spec.APIKeyEnv = ""
		err := spec.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "api_key_env is required")
	})

	t.Run("MissingModel", func(t *testing.T) {
		spec := validSpec("openai-primary", 1)
		spec.Model = ""
		err := spec.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "model is required")
	})

	t.Run("StubNeedsNeitherKeyNorModel", func(t *testing.T) {
		spec := ProviderSpec{Name: "local-stub", Kind: ProviderKindStub, Priority: 10}
		assert.NoError(t, spec.Validate())
	})
}

func TestValidateSpecSet(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		specs := []ProviderSpec{validSpec("a", 1), validSpec("b", 2)}
		assert.NoError(t, ValidateSpecSet(specs))
	})

	t.Run("DuplicateName", func(t *testing.T) {
		specs := []ProviderSpec{validSpec("a", 1), validSpec("a", 2)}
		err := ValidateSpecSet(specs)
		require.Error(t, err)
		assert.Contains(t, err.Error(), `duplicate provider name "a"`)
	})

	t.Run("DuplicatePriority", func(t *testing.T) {
		specs := []ProviderSpec{validSpec("a", 1), validSpec("b", 1)}
		err := ValidateSpecSet(specs)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "share priority 1")
	})

	t.Run("PropagatesSpecError", func(t *testing.T) {
		bad := validSpec("a", 1)
		bad.APIKeyEnv = ""
		err := ValidateSpecSet([]ProviderSpec{bad, validSpec("b", 2)})
		assert.Error(t, err)
	})

	t.Run("Empty", func(t *testing.T) {
		assert.NoError(t, ValidateSpecSet(nil))
	})
}

func TestLimitSpec_IsZero(t *testing.T) {
	assert.True(t, LimitSpec{}.IsZero())
	assert.False(t, LimitSpec{RequestsPerMinute: 1}.IsZero())
	assert.False(t, LimitSpec{MaxCostPerDay: 0.5}.IsZero())
}

func TestNewUsageRecord(t *testing.T) {
	record := NewUsageRecord("req-1", "openai-primary", "gpt-4o-mini")

	assert.NotEqual(t, uuid.Nil, record.ID)
	assert.Equal(t, "req-1", record.RequestID)
	assert.Equal(t, "openai-primary", record.Provider)
	assert.Equal(t, "gpt-4o-mini", record.Model)
	assert.False(t, record.Timestamp.IsZero())
}

func TestUsageRecord_TotalTokens(t *testing.T) {
	record := NewUsageRecord("req-1", "p", "m")
	record.InputTokens = 120
	record.OutputTokens = 30
	assert.Equal(t, 150, record.TotalTokens())
}

func TestUsageRecord_TableName(t *testing.T) {
	assert.Equal(t, "usage_records", UsageRecord{}.TableName())
}

func TestNewFallbackEvent(t *testing.T) {
	event := NewFallbackEvent("req-1", "openai-primary", TriggerRateLimited)

	assert.NotEqual(t, uuid.Nil, event.ID)
	assert.Equal(t, "req-1", event.RequestID)
	assert.Equal(t, "openai-primary", event.FromProvider)
	assert.Equal(t, TriggerRateLimited, event.Trigger)
	assert.Empty(t, event.ToProvider)
	assert.False(t, event.Timestamp.IsZero())
}

func TestFallbackEvent_TableName(t *testing.T) {
	assert.Equal(t, "fallback_events", FallbackEvent{}.TableName())
}
