package memory

import (
	"context"
	"sync"

	"estatedesk/internal/app/middleware"
)

// IdempotencyStore keeps command outcomes in memory.
type IdempotencyStore struct {
	mu    sync.RWMutex
	items map[string]middleware.IdempotencyRecord
}

func NewIdempotencyStore() *IdempotencyStore {
	return &IdempotencyStore{items: make(map[string]middleware.IdempotencyRecord)}
}

func (s *IdempotencyStore) Get(ctx context.Context, key string) (middleware.IdempotencyRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.items[key]
	return rec, ok, nil
}

func (s *IdempotencyStore) Save(ctx context.Context, rec middleware.IdempotencyRecord) error {
	s.mu.Lock()
	s.items[rec.Key] = rec
	s.mu.Unlock()
	return nil
}

// ProcessedEvents remembers consumed broker event ids.
type ProcessedEvents struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewProcessedEvents() *ProcessedEvents {
	return &ProcessedEvents{seen: make(map[string]struct{})}
}

// Seen records eventID and reports whether it was recorded before.
func (p *ProcessedEvents) Seen(ctx context.Context, eventID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.seen[eventID]; ok {
		return true, nil
	}
	p.seen[eventID] = struct{}{}
	return false, nil
}

var _ middleware.IdempotencyStore = (*IdempotencyStore)(nil)
