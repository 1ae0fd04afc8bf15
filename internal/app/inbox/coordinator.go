package inbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"estatedesk/internal/domain/conversation"
	"estatedesk/internal/domain/shared/events"
)

// Target addresses a conversation for a write.
type Target struct {
	Key       conversation.Key
	RoomID    string
	InquiryID string
	Status    conversation.Status
}

// SendResult carries what the caller needs to update local state after a send.
type SendResult struct {
	RoomID  string
	Message conversation.Message
	Status  conversation.Status
}

// Coordinator performs local-first writes against both stores and guards the
// local "replied" status against stale snapshots.
type Coordinator struct {
	Inquiries InquiryStore
	Chat      ChatStore
	AgentID   string
	Events    EventSink
	Logger    *slog.Logger
	Now       func() time.Time

	mu       sync.Mutex
	holds    map[conversation.Key]struct{}
	recorder events.EventRecorder
}

// Guard returns the status to display for key given a remote snapshot value.
// A held "replied" wins over "new" and "read" until the remote reports "replied".
func (c *Coordinator) Guard(key conversation.Key, remote conversation.Status) conversation.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, held := c.holds[key]; !held {
		return remote
	}
	if remote.Rank() >= conversation.StatusReplied.Rank() {
		delete(c.holds, key)
		return remote
	}
	return conversation.StatusReplied
}

// Peek is Guard without releasing the hold.
func (c *Coordinator) Peek(key conversation.Key, remote conversation.Status) conversation.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, held := c.holds[key]; held && remote.Rank() < conversation.StatusReplied.Rank() {
		return conversation.StatusReplied
	}
	return remote
}

// Holding reports whether a local "replied" is waiting for remote confirmation.
func (c *Coordinator) Holding(key conversation.Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, held := c.holds[key]
	return held
}

// SendMessage appends text to the conversation's room, creating the room on first
// message, and marks the conversation replied. Nothing local changes when the append
// fails; the error wraps ErrSendFailed.
func (c *Coordinator) SendMessage(ctx context.Context, target Target, text string) (SendResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return SendResult{}, ErrEmptyMessage
	}
	roomID, err := c.resolveRoom(ctx, target)
	if err != nil {
		if errors.Is(err, ErrGuestBuyer) {
			return SendResult{}, err
		}
		return SendResult{}, fmt.Errorf("%w: %v", ErrSendFailed, err)
	}

	raw, err := c.Chat.AppendMessage(ctx, roomID, c.AgentID, conversation.RoleAgent, text)
	if err != nil {
		if c.Logger != nil {
			c.Logger.Error("message append failed", "room_id", roomID, "conversation", target.Key.String(), "error", err)
		}
		return SendResult{}, fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	if raw.Timestamp.IsZero() {
		raw.Timestamp = c.now()
	}
	msg := conversation.Message{
		ID:        raw.ID,
		RoomID:    roomID,
		SenderID:  c.AgentID,
		Text:      raw.Text,
		Role:      conversation.RoleAgent,
		Timestamp: raw.Timestamp.UTC(),
	}
	if msg.Text == "" {
		msg.Text = text
	}
	c.recorder.Record(conversation.MessageSent{
		ConversationKey: target.Key.String(),
		RoomID:          roomID,
		MessageID:       msg.ID,
		SenderID:        c.AgentID,
		At:              msg.Timestamp,
	})

	status, written := c.markReplied(ctx, target, roomID)
	if written {
		c.mirror(ctx, target.InquiryID, conversation.StatusReplied)
	}
	c.flush(ctx)
	return SendResult{RoomID: roomID, Message: msg, Status: status}, nil
}

// markReplied writes "replied" to the chat store and returns the status read back
// from it. A successful write is held at "replied" until a snapshot confirms it. A
// failed write places no hold, and the store's current status is returned.
func (c *Coordinator) markReplied(ctx context.Context, target Target, roomID string) (conversation.Status, bool) {
	held := c.hold(target.Key)
	if err := c.Chat.SetReadStatus(ctx, roomID, c.AgentID, conversation.StatusReplied); err != nil {
		if !held {
			c.release(target.Key)
		}
		if c.Logger != nil {
			c.Logger.Warn("replied status write failed", "room_id", roomID, "error", err)
		}
		return c.Peek(target.Key, c.readBack(ctx, roomID, target.Status)), false
	}
	c.recorder.Record(conversation.StatusChanged{
		ConversationKey: target.Key.String(),
		RoomID:          roomID,
		UserID:          c.AgentID,
		From:            target.Status,
		To:              conversation.StatusReplied,
		At:              c.now(),
	})
	return c.Peek(target.Key, c.readBack(ctx, roomID, conversation.StatusReplied)), true
}

// readBack returns the agent's status on the room, or fallback when the room
// cannot be read.
func (c *Coordinator) readBack(ctx context.Context, roomID string, fallback conversation.Status) conversation.Status {
	room, err := c.Chat.GetRoom(ctx, roomID)
	if err != nil {
		if c.Logger != nil {
			c.Logger.Warn("room read-back failed", "room_id", roomID, "error", err)
		}
		return fallback
	}
	if mark, ok := room.MarkFor(c.AgentID); ok && mark.Status.Valid() {
		return mark.Status
	}
	return conversation.StatusNew
}

// SetStatus writes status to the chat store, which is authoritative, then mirrors it
// to the inquiry store. Only the chat store write can fail the call.
func (c *Coordinator) SetStatus(ctx context.Context, target Target, status conversation.Status) (string, error) {
	if !status.Valid() {
		return "", conversation.ErrInvalidStatus
	}
	roomID, err := c.resolveRoom(ctx, target)
	if err != nil {
		if errors.Is(err, ErrGuestBuyer) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", ErrStatusWriteFailed, err)
	}
	if err := c.Chat.SetReadStatus(ctx, roomID, c.AgentID, status); err != nil {
		if c.Logger != nil {
			c.Logger.Error("status write failed", "room_id", roomID, "status", status, "error", err)
		}
		return roomID, fmt.Errorf("%w: %v", ErrStatusWriteFailed, err)
	}
	if status == conversation.StatusReplied {
		c.hold(target.Key)
	} else {
		c.release(target.Key)
	}
	c.recorder.Record(conversation.StatusChanged{
		ConversationKey: target.Key.String(),
		RoomID:          roomID,
		UserID:          c.AgentID,
		From:            target.Status,
		To:              status,
		At:              c.now(),
	})
	c.mirror(ctx, target.InquiryID, status)
	c.flush(ctx)
	return roomID, nil
}

func (c *Coordinator) resolveRoom(ctx context.Context, target Target) (string, error) {
	if target.RoomID != "" {
		return target.RoomID, nil
	}
	if target.Key.IsGuest() {
		return "", ErrGuestBuyer
	}
	roomID, err := c.Chat.CreateOrGetRoom(ctx, target.Key.BuyerID, c.AgentID, target.Key.PropertyID)
	if err != nil {
		return "", fmt.Errorf("create room: %w", err)
	}
	return roomID, nil
}

// mirror copies a status to the inquiry store. Failures are logged and dropped.
func (c *Coordinator) mirror(ctx context.Context, inquiryID string, status conversation.Status) {
	if c.Inquiries == nil || inquiryID == "" {
		return
	}
	if err := c.Inquiries.UpdateStatus(ctx, inquiryID, status); err != nil && c.Logger != nil {
		c.Logger.Warn("inquiry status mirror failed", "inquiry_id", inquiryID, "status", status, "error", err)
	}
}

// hold reports whether key was already held.
func (c *Coordinator) hold(key conversation.Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.holds == nil {
		c.holds = make(map[conversation.Key]struct{})
	}
	_, held := c.holds[key]
	c.holds[key] = struct{}{}
	return held
}

func (c *Coordinator) release(key conversation.Key) {
	c.mu.Lock()
	delete(c.holds, key)
	c.mu.Unlock()
}

func (c *Coordinator) flush(ctx context.Context) {
	var write func(context.Context, []events.DomainEvent) error
	if c.Events != nil {
		write = c.Events.Record
	}
	if err := c.recorder.Flush(ctx, write); err != nil && c.Logger != nil {
		c.Logger.Warn("write events not recorded", "error", err)
	}
}

func (c *Coordinator) now() time.Time {
	if c.Now != nil {
		return c.Now().UTC()
	}
	return time.Now().UTC()
}
