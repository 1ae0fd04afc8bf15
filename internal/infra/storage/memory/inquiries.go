package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"estatedesk/internal/domain/conversation"
)

var (
	ErrInquiryNotFound = errors.New("memory: inquiry not found")
	ErrBuyerNotFound   = errors.New("memory: buyer not found")
)

// InquiryRepository keeps inquiry rows in memory. Rows sharing a key are kept as is.
type InquiryRepository struct {
	mu    sync.RWMutex
	items map[string]conversation.Inquiry
	// Fail makes every call return the error, for exercising degraded refreshes.
	Fail error
}

func NewInquiryRepository(seed ...conversation.Inquiry) *InquiryRepository {
	r := &InquiryRepository{items: make(map[string]conversation.Inquiry)}
	for _, inq := range seed {
		r.items[inq.ID] = inq
	}
	return r
}

func (r *InquiryRepository) Save(ctx context.Context, inq conversation.Inquiry) error {
	if err := inq.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[inq.ID] = inq
	return nil
}

// List returns rows ordered by creation time, newest first.
func (r *InquiryRepository) List(ctx context.Context) ([]conversation.Inquiry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.Fail != nil {
		return nil, r.Fail
	}
	out := make([]conversation.Inquiry, 0, len(r.items))
	for _, inq := range r.items {
		out = append(out, inq)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *InquiryRepository) UpdateStatus(ctx context.Context, id string, status conversation.Status) error {
	if !status.Valid() {
		return conversation.ErrInvalidStatus
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Fail != nil {
		return r.Fail
	}
	inq, ok := r.items[id]
	if !ok {
		return ErrInquiryNotFound
	}
	inq.Status = status
	r.items[id] = inq
	return nil
}

func (r *InquiryRepository) ByID(ctx context.Context, id string) (conversation.Inquiry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inq, ok := r.items[id]
	if !ok {
		return conversation.Inquiry{}, ErrInquiryNotFound
	}
	return inq, nil
}

// BuyerDirectory resolves buyer profiles from memory.
type BuyerDirectory struct {
	mu     sync.RWMutex
	buyers map[string]conversation.BuyerProfile
}

func NewBuyerDirectory() *BuyerDirectory {
	return &BuyerDirectory{buyers: make(map[string]conversation.BuyerProfile)}
}

func (d *BuyerDirectory) Put(buyerID string, profile conversation.BuyerProfile) {
	d.mu.Lock()
	d.buyers[buyerID] = profile
	d.mu.Unlock()
}

func (d *BuyerDirectory) GetBuyer(ctx context.Context, buyerID string) (conversation.BuyerProfile, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	profile, ok := d.buyers[buyerID]
	if !ok {
		return conversation.BuyerProfile{}, ErrBuyerNotFound
	}
	return profile, nil
}
