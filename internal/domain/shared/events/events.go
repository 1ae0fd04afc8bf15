// Package events carries the facts the inbox raises about conversations
// from the component that observed them to the outbox.
package events

import (
	"context"
	"sync"
	"time"
)

// DomainEvent is one fact about a conversation. AggregateID is the
// conversation key in its wire form.
type DomainEvent interface {
	EventName() string
	AggregateID() string
	OccurredAt() time.Time
}

// EventRecorder buffers events until the owner flushes them.
// It is safe for concurrent use.
type EventRecorder struct {
	mu      sync.Mutex
	pending []DomainEvent
}

// Record appends evs in order, skipping nils.
func (r *EventRecorder) Record(evs ...DomainEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range evs {
		if ev != nil {
			r.pending = append(r.pending, ev)
		}
	}
}

func (r *EventRecorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Drain returns the buffered events and empties the recorder.
func (r *EventRecorder) Drain() []DomainEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.pending
	r.pending = nil
	return out
}

// Flush drains the recorder into write. A nil write discards the batch.
// Failed batches are not requeued.
func (r *EventRecorder) Flush(ctx context.Context, write func(context.Context, []DomainEvent) error) error {
	batch := r.Drain()
	if write == nil || len(batch) == 0 {
		return nil
	}
	return write(ctx, batch)
}
