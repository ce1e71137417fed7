package fallback

import (
	"sync"

	"github.com/opswatch/llm-orchestrator/models"
)

// EventLog is a bounded in-memory ring of fallback events plus running
// aggregate counters. Appends are O(1); the newest events win when the ring
// wraps. Timestamps are non-decreasing in append order.
type EventLog struct {
	mu     sync.Mutex
	ring   []models.FallbackEvent
	next   int
	filled bool

	total      int64
	byTrigger  map[models.FallbackTrigger]int64
	byProvider map[string]int64
}

// Stats aggregates the fallback history since process start. Counters cover
// every event ever appended, not only those still in the ring.
type Stats struct {
	Total      int64                            `json:"total"`
	ByTrigger  map[models.FallbackTrigger]int64 `json:"by_trigger,omitempty"`
	ByProvider map[string]int64                 `json:"by_provider,omitempty"`
}

// NewEventLog creates a ring holding up to size events
func NewEventLog(size int) *EventLog {
	if size <= 0 {
		size = DefaultConfig().EventLogSize
	}
	return &EventLog{
		ring:       make([]models.FallbackEvent, size),
		byTrigger:  make(map[models.FallbackTrigger]int64),
		byProvider: make(map[string]int64),
	}
}

// Append records one event
func (l *EventLog) Append(event models.FallbackEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.ring[l.next] = event
	l.next = (l.next + 1) % len(l.ring)
	if l.next == 0 {
		l.filled = true
	}

	l.total++
	l.byTrigger[event.Trigger]++
	l.byProvider[event.FromProvider]++
}

// Recent returns up to n retained events, oldest first
func (l *EventLog) Recent(n int) []models.FallbackEvent {
	l.mu.Lock()
	defer l.mu.Unlock()

	var ordered []models.FallbackEvent
	if l.filled {
		ordered = append(ordered, l.ring[l.next:]...)
		ordered = append(ordered, l.ring[:l.next]...)
	} else {
		ordered = append(ordered, l.ring[:l.next]...)
	}

	if n > 0 && len(ordered) > n {
		ordered = ordered[len(ordered)-n:]
	}
	return ordered
}

// CountFor returns how many events ever left the given provider
func (l *EventLog) CountFor(provider string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.byProvider[provider]
}

// Stats returns a copy of the aggregate counters
func (l *EventLog) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := Stats{
		Total:      l.total,
		ByTrigger:  make(map[models.FallbackTrigger]int64, len(l.byTrigger)),
		ByProvider: make(map[string]int64, len(l.byProvider)),
	}
	for k, v := range l.byTrigger {
		s.ByTrigger[k] = v
	}
	for k, v := range l.byProvider {
		s.ByProvider[k] = v
	}
	return s
}
