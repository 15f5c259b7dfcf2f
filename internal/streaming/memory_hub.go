package streaming

import (
	"context"
	"sync"
	"sync/atomic"
)

const defaultChannelBuffer = 64

// subscription pairs a delivery channel with the filter it was opened with.
type subscription struct {
	ch     chan StreamEvent
	filter EventFilter
}

// MemoryHub is the in-process EventHub: fan-out over buffered channels with
// drop-on-full backpressure, so a stalled consumer never blocks a run.
type MemoryHub struct {
	mu     sync.RWMutex
	subs   map[uint64]subscription
	nextID atomic.Uint64
}

// NewMemoryHub creates an empty hub.
func NewMemoryHub() *MemoryHub {
	return &MemoryHub{
		subs: make(map[uint64]subscription),
	}
}

// Publish fans the event out to every subscription whose filter matches.
// Non-blocking: a full channel drops the event for that subscriber only.
func (h *MemoryHub) Publish(ctx context.Context, event StreamEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subs {
		if !sub.filter.matches(event) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			// slow consumer, shed rather than stall
		}
	}
	return nil
}

// Subscribe registers a filtered consumer. The returned cancel releases the
// subscription; the channel is never closed.
func (h *MemoryHub) Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	id := h.nextID.Add(1)
	sub := subscription{ch: make(chan StreamEvent, defaultChannelBuffer), filter: filter}

	h.mu.Lock()
	h.subs[id] = sub
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
	}
	return sub.ch, cancel, nil
}

var _ EventHub = (*MemoryHub)(nil)
