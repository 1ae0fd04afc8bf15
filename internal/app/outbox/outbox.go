// Package outbox turns conversation events into records the relay publishes.
package outbox

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"estatedesk/internal/domain/shared/events"
)

// EventRecord is one event as stored for relay. IDs are ULIDs so the relay
// claims records in the order they were raised.
type EventRecord struct {
	ID              string
	Name            string
	ConversationKey string
	Payload         []byte
	OccurredAt      time.Time
	Headers         map[string]string
}

// Outbox appends records for the relay in the given order.
type Outbox interface {
	Append(ctx context.Context, records ...EventRecord) error
}

// Encoder builds records from events.
type Encoder struct {
	// NewID defaults to a monotonic ULID.
	NewID func() string
}

func (e Encoder) Encode(ev events.DomainEvent) (EventRecord, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return EventRecord{}, fmt.Errorf("outbox: encode %s: %w", ev.EventName(), err)
	}
	newID := e.NewID
	if newID == nil {
		newID = nextULID
	}
	return EventRecord{
		ID:              newID(),
		Name:            ev.EventName(),
		ConversationKey: ev.AggregateID(),
		Payload:         payload,
		OccurredAt:      ev.OccurredAt().UTC(),
		Headers:         map[string]string{},
	}, nil
}

// Sink is the engine's event sink. Headers, when set, adds correlation
// headers taken from the request context to every record of a batch.
type Sink struct {
	Box     Outbox
	Encoder Encoder
	Headers func(ctx context.Context) map[string]string
}

func (s Sink) Record(ctx context.Context, evs []events.DomainEvent) error {
	if s.Box == nil || len(evs) == 0 {
		return nil
	}
	var extra map[string]string
	if s.Headers != nil {
		extra = s.Headers(ctx)
	}
	batch := make([]EventRecord, 0, len(evs))
	for _, ev := range evs {
		rec, err := s.Encoder.Encode(ev)
		if err != nil {
			return err
		}
		for k, v := range extra {
			rec.Headers[k] = v
		}
		batch = append(batch, rec)
	}
	return s.Box.Append(ctx, batch...)
}

var (
	entropyMu sync.Mutex
	entropy   io.Reader = ulid.Monotonic(rand.Reader, 0)
)

func nextULID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}
