package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	appoutbox "estatedesk/internal/app/outbox"
	infraoutbox "estatedesk/internal/infra/outbox"
)

// Outbox keeps event documents in memory until the relay marks them sent.
type Outbox struct {
	mu   sync.Mutex
	docs map[string]*infraoutbox.EventDocument
}

func NewOutbox() *Outbox {
	return &Outbox{docs: make(map[string]*infraoutbox.EventDocument)}
}

func (o *Outbox) Append(ctx context.Context, records ...appoutbox.EventRecord) error {
	now := time.Now().UTC()
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, rec := range records {
		doc := infraoutbox.NewDocument(rec, now)
		o.docs[rec.ID] = &doc
	}
	return nil
}

func (o *Outbox) Claim(ctx context.Context, workerID string) (*infraoutbox.EventDocument, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	now := time.Now().UTC()
	var next *infraoutbox.EventDocument
	for _, doc := range o.docs {
		if doc.State != infraoutbox.StateNew && doc.State != infraoutbox.StateFailed {
			continue
		}
		if doc.NextAttempt.After(now) {
			continue
		}
		if next == nil || doc.ID < next.ID {
			next = doc
		}
	}
	if next == nil {
		return nil, nil
	}
	next.State = infraoutbox.StateClaimed
	next.ClaimedBy = workerID
	next.ClaimedAt = now
	claimed := *next
	return &claimed, nil
}

func (o *Outbox) MarkSent(ctx context.Context, id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if doc, ok := o.docs[id]; ok {
		doc.State = infraoutbox.StateSent
		doc.SentAt = time.Now().UTC()
	}
	return nil
}

func (o *Outbox) MarkFailed(ctx context.Context, id string, next time.Time, errMsg string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if doc, ok := o.docs[id]; ok {
		doc.State = infraoutbox.StateFailed
		doc.NextAttempt = next
		doc.LastError = errMsg
		doc.Attempts++
	}
	return nil
}

func (o *Outbox) MarkDead(ctx context.Context, id string, errMsg string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if doc, ok := o.docs[id]; ok {
		doc.State = infraoutbox.StateDead
		doc.LastError = errMsg
		doc.Attempts++
	}
	return nil
}

// Documents returns a copy of every document ordered by id.
func (o *Outbox) Documents() []infraoutbox.EventDocument {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]infraoutbox.EventDocument, 0, len(o.docs))
	for _, doc := range o.docs {
		out = append(out, *doc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

var (
	_ appoutbox.Outbox  = (*Outbox)(nil)
	_ infraoutbox.Queue = (*Outbox)(nil)
)
