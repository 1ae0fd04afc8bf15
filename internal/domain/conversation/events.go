package conversation

import (
	"time"

	"estatedesk/internal/domain/shared/events"
)

type MessageSent struct {
	ConversationKey string    `json:"conversation_key"`
	RoomID          string    `json:"room_id"`
	MessageID       string    `json:"message_id"`
	SenderID        string    `json:"sender_id"`
	At              time.Time `json:"at"`
}

func (e MessageSent) EventName() string     { return "conversation.message_sent" }
func (e MessageSent) AggregateID() string   { return e.ConversationKey }
func (e MessageSent) OccurredAt() time.Time { return e.At }

type StatusChanged struct {
	ConversationKey string    `json:"conversation_key"`
	RoomID          string    `json:"room_id"`
	UserID          string    `json:"user_id"`
	From            Status    `json:"from,omitempty"`
	To              Status    `json:"to"`
	At              time.Time `json:"at"`
}

func (e StatusChanged) EventName() string     { return "conversation.status_changed" }
func (e StatusChanged) AggregateID() string   { return e.ConversationKey }
func (e StatusChanged) OccurredAt() time.Time { return e.At }

type ConversationRead struct {
	ConversationKey string    `json:"conversation_key"`
	RoomID          string    `json:"room_id"`
	UserID          string    `json:"user_id"`
	ReadAt          time.Time `json:"read_at"`
}

func (e ConversationRead) EventName() string     { return "conversation.read" }
func (e ConversationRead) AggregateID() string   { return e.ConversationKey }
func (e ConversationRead) OccurredAt() time.Time { return e.ReadAt }

var (
	_ events.DomainEvent = MessageSent{}
	_ events.DomainEvent = StatusChanged{}
	_ events.DomainEvent = ConversationRead{}
)
