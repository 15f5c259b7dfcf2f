package streaming

import (
	"context"
	"time"
)

// StreamEvent is a real-time event emitted during workflow execution.
type StreamEvent struct {
	WorkflowID string    `json:"workflow_id"`
	NodeID     string    `json:"node_id,omitempty"`
	EventType  string    `json:"event_type"`
	Payload    any       `json:"payload,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// EventFilter selects which events a subscriber receives. Zero fields match
// everything; set fields are ANDed.
type EventFilter struct {
	WorkflowID string   `json:"workflow_id,omitempty"`
	NodeID     string   `json:"node_id,omitempty"`
	EventTypes []string `json:"event_types,omitempty"`
}

// matches reports whether an event passes the filter.
func (f EventFilter) matches(e StreamEvent) bool {
	if f.WorkflowID != "" && f.WorkflowID != e.WorkflowID {
		return false
	}
	if f.NodeID != "" && f.NodeID != e.NodeID {
		return false
	}
	if len(f.EventTypes) == 0 {
		return true
	}
	for _, t := range f.EventTypes {
		if t == e.EventType {
			return true
		}
	}
	return false
}

// EventHub provides pub/sub for real-time workflow events. The engine
// publishes fire-and-forget: a failing or slow sink must never fail or
// block a run.
type EventHub interface {
	Publish(ctx context.Context, event StreamEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error)
}
