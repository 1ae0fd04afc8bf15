package inbox

import (
	"context"

	"estatedesk/internal/domain/conversation"
	"estatedesk/internal/domain/shared/events"
)

// InquiryStore is the relational store of buyer inquiries. Rows are not deduplicated.
type InquiryStore interface {
	List(ctx context.Context) ([]conversation.Inquiry, error)
	UpdateStatus(ctx context.Context, id string, status conversation.Status) error
}

// ChatStore is the realtime store of chat rooms and their messages.
type ChatStore interface {
	ListRoomsForUser(ctx context.Context, userID string) ([]conversation.Room, error)
	GetRoom(ctx context.Context, roomID string) (conversation.Room, error)
	CreateOrGetRoom(ctx context.Context, buyerID, agentID, propertyID string) (string, error)
	// SubscribeMessages delivers the room's full message snapshot on every change
	// until the returned function is called.
	SubscribeMessages(ctx context.Context, roomID string, fn func([]conversation.RawMessage)) (func(), error)
	ListMessages(ctx context.Context, roomID string) ([]conversation.RawMessage, error)
	AppendMessage(ctx context.Context, roomID, senderID string, role conversation.Role, text string) (conversation.RawMessage, error)
	SetReadStatus(ctx context.Context, roomID, userID string, status conversation.Status) error
}

// BuyerDirectory resolves buyer contact details. Lookups are best-effort.
type BuyerDirectory interface {
	GetBuyer(ctx context.Context, buyerID string) (conversation.BuyerProfile, error)
}

// EventSink receives domain events raised by engine writes.
type EventSink interface {
	Record(ctx context.Context, evs []events.DomainEvent) error
}
