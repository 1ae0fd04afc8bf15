package inbox

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"estatedesk/internal/domain/conversation"
)

// MessageStream keeps at most one live message subscription, the one of the open
// conversation.
type MessageStream struct {
	Chat   ChatStore
	Logger *slog.Logger

	mu          sync.Mutex
	generation  uint64
	roomID      string
	unsubscribe func()
}

// Subscribe replaces the current subscription. The previous stream is cancelled before
// the new one is opened, and snapshots from it are dropped even if already in flight.
func (s *MessageStream) Subscribe(ctx context.Context, roomID string, onMessages func([]conversation.Message)) (func(), error) {
	s.mu.Lock()
	previous := s.detachLocked()
	gen := s.generation
	s.roomID = roomID
	s.mu.Unlock()
	previous()

	deliver := func(raw []conversation.RawMessage) {
		s.mu.Lock()
		current := s.generation == gen
		s.mu.Unlock()
		if !current {
			return
		}
		onMessages(NormalizeMessages(roomID, raw, s.Logger))
	}

	unsubscribe, err := s.Chat.SubscribeMessages(ctx, roomID, deliver)
	if err != nil {
		s.mu.Lock()
		if s.generation == gen {
			s.roomID = ""
		}
		s.mu.Unlock()
		return func() {}, err
	}

	s.mu.Lock()
	if s.generation != gen {
		// superseded while subscribing
		s.mu.Unlock()
		unsubscribe()
		return func() {}, nil
	}
	s.unsubscribe = unsubscribe
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		cancel := func() {}
		if s.generation == gen {
			cancel = s.detachLocked()
		}
		s.mu.Unlock()
		cancel()
	}, nil
}

// RoomID is the room of the active subscription, or empty.
func (s *MessageStream) RoomID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomID
}

// Close cancels the active subscription.
func (s *MessageStream) Close() {
	s.mu.Lock()
	cancel := s.detachLocked()
	s.mu.Unlock()
	cancel()
}

// detachLocked invalidates the active subscription and returns its cancel function,
// which the caller runs after releasing the lock.
func (s *MessageStream) detachLocked() func() {
	s.generation++
	s.roomID = ""
	cancel := s.unsubscribe
	s.unsubscribe = nil
	if cancel == nil {
		return func() {}
	}
	return cancel
}

// NormalizeMessages types a raw snapshot and sorts it by timestamp ascending.
// Messages without an id or timestamp are skipped.
func NormalizeMessages(roomID string, raw []conversation.RawMessage, logger *slog.Logger) []conversation.Message {
	out := make([]conversation.Message, 0, len(raw))
	for _, r := range raw {
		if strings.TrimSpace(r.ID) == "" || r.Timestamp.IsZero() {
			if logger != nil {
				logger.Warn("skipping malformed message", "room_id", roomID, "message_id", r.ID, "error", conversation.ErrMalformedRecord)
			}
			continue
		}
		out = append(out, conversation.Message{
			ID:        r.ID,
			RoomID:    roomID,
			SenderID:  r.SenderID,
			Text:      r.Text,
			Role:      conversation.ParseRole(r.SenderRole),
			Timestamp: r.Timestamp.UTC(),
		})
	}
	sortMessages(out)
	return out
}

func sortMessages(msgs []conversation.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if !msgs[i].Timestamp.Equal(msgs[j].Timestamp) {
			return msgs[i].Timestamp.Before(msgs[j].Timestamp)
		}
		return msgs[i].ID < msgs[j].ID
	})
}
