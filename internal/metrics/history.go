package metrics

import (
	"sync"
	"time"
)

// DefaultHistoryCap bounds the run history ring.
const DefaultHistoryCap = 1000

// HistoryEntry summarizes one finished workflow run.
type HistoryEntry struct {
	ID                 string    `json:"id"`
	WorkflowID         string    `json:"workflow_id"`
	Status             string    `json:"status"`
	StartTime          time.Time `json:"start_time"`
	EndTime            time.Time `json:"end_time"`
	DurationMs         int64     `json:"duration_ms"`
	CompletedNodeCount int       `json:"completed_node_count"`
	NodeCount          int       `json:"node_count"`
	Error              string    `json:"error,omitempty"`
}

// History keeps the most recent finished runs, newest first, evicting the
// oldest entry once the cap is reached.
type History struct {
	mu      sync.Mutex
	entries []HistoryEntry
	cap     int
}

// NewHistory creates a History with the given capacity. A non-positive
// capacity falls back to DefaultHistoryCap.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistoryCap
	}
	return &History{cap: capacity}
}

// Append records a finished run.
func (h *History) Append(e HistoryEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.entries = append(h.entries, e)
	if len(h.entries) > h.cap {
		h.entries = h.entries[len(h.entries)-h.cap:]
	}
}

// Recent returns up to limit entries, newest first. limit <= 0 returns all.
func (h *History) Recent(limit int) []HistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := len(h.entries)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]HistoryEntry, limit)
	for i := 0; i < limit; i++ {
		out[i] = h.entries[n-1-i]
	}
	return out
}

// Len returns the number of stored entries.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}
