package fallback

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opswatch/llm-orchestrator/models"
)

func appendEvent(l *EventLog, requestID, from string, trigger models.FallbackTrigger) {
	l.Append(*models.NewFallbackEvent(requestID, from, trigger))
}

func TestEventLog_AppendAndRecent(t *testing.T) {
	l := NewEventLog(4)

	appendEvent(l, "r1", "a", models.TriggerServerError)
	appendEvent(l, "r2", "b", models.TriggerTimeout)

	recent := l.Recent(10)
	require.Len(t, recent, 2)
	assert.Equal(t, "r1", recent[0].RequestID)
	assert.Equal(t, "r2", recent[1].RequestID)

	t.Run("n limits to the newest events", func(t *testing.T) {
		limited := l.Recent(1)
		require.Len(t, limited, 1)
		assert.Equal(t, "r2", limited[0].RequestID)
	})
}

func TestEventLog_RingWrapKeepsNewest(t *testing.T) {
	l := NewEventLog(3)

	for i := 1; i <= 5; i++ {
		appendEvent(l, fmt.Sprintf("r%d", i), "a", models.TriggerServerError)
	}

	recent := l.Recent(10)
	require.Len(t, recent, 3)
	assert.Equal(t, "r3", recent[0].RequestID)
	assert.Equal(t, "r4", recent[1].RequestID)
	assert.Equal(t, "r5", recent[2].RequestID)
}

func TestEventLog_StatsSurviveWrap(t *testing.T) {
	l := NewEventLog(2)

	appendEvent(l, "r1", "a", models.TriggerServerError)
	appendEvent(l, "r2", "a", models.TriggerRateLimited)
	appendEvent(l, "r3", "b", models.TriggerServerError)
	appendEvent(l, "r4", "b", models.TriggerServerError)

	stats := l.Stats()
	assert.Equal(t, int64(4), stats.Total)
	assert.Equal(t, int64(3), stats.ByTrigger[models.TriggerServerError])
	assert.Equal(t, int64(1), stats.ByTrigger[models.TriggerRateLimited])
	assert.Equal(t, int64(2), stats.ByProvider["a"])
	assert.Equal(t, int64(2), stats.ByProvider["b"])

	assert.Equal(t, int64(2), l.CountFor("a"))
	assert.Zero(t, l.CountFor("never"))
}

func TestEventLog_ZeroSizeFallsBackToDefault(t *testing.T) {
	l := NewEventLog(0)
	appendEvent(l, "r1", "a", models.TriggerUnknown)
	assert.Len(t, l.Recent(10), 1)
}
