package dto

import (
	"time"

	"estatedesk/internal/domain/conversation"
)

// Conversation is one merged row of the agent inbox.
type Conversation struct {
	Key           string    `json:"key"`
	BuyerID       string    `json:"buyer_id"`
	PropertyID    string    `json:"property_id"`
	BuyerName     string    `json:"buyer_name"`
	BuyerEmail    string    `json:"buyer_email,omitempty"`
	BuyerPhone    string    `json:"buyer_phone,omitempty"`
	PropertyTitle string    `json:"property_title,omitempty"`
	LastMessage   string    `json:"last_message"`
	LastActivity  time.Time `json:"last_activity"`
	Status        string    `json:"status"`
	ChatRoomID    string    `json:"chat_room_id,omitempty"`
	IsChatOnly    bool      `json:"is_chat_only"`
	UnreadCount   int       `json:"unread_count"`
}

type SourceError struct {
	Source  string `json:"source"`
	Message string `json:"message"`
}

// InboxView is the conversation list with its badge and error banner.
type InboxView struct {
	Items       []Conversation `json:"items"`
	UnreadBadge int            `json:"unread_badge"`
	Banner      []SourceError  `json:"banner,omitempty"`
	State       string         `json:"state"`
	OpenKey     string         `json:"open_key,omitempty"`
	OpenTab     string         `json:"open_tab,omitempty"`
	RefreshedAt time.Time      `json:"refreshed_at,omitempty"`
}

type ChatMessage struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"room_id"`
	SenderID  string    `json:"sender_id"`
	Text      string    `json:"text"`
	Role      string    `json:"role"`
	BuyerSide bool      `json:"buyer_side"`
	Timestamp time.Time `json:"timestamp"`
}

type ChatMessageList struct {
	Items []ChatMessage `json:"items"`
}

func MapConversation(c conversation.Conversation) Conversation {
	return Conversation{
		Key:           c.Key.String(),
		BuyerID:       c.BuyerID,
		PropertyID:    c.PropertyID,
		BuyerName:     c.BuyerName,
		BuyerEmail:    c.BuyerEmail,
		BuyerPhone:    c.BuyerPhone,
		PropertyTitle: c.PropertyTitle,
		LastMessage:   c.LastMessage,
		LastActivity:  c.LastActivity,
		Status:        string(c.Status),
		ChatRoomID:    c.ChatRoomID,
		IsChatOnly:    c.IsChatOnly,
		UnreadCount:   c.UnreadCount,
	}
}

func MapMessage(m conversation.Message) ChatMessage {
	return ChatMessage{
		ID:        m.ID,
		RoomID:    m.RoomID,
		SenderID:  m.SenderID,
		Text:      m.Text,
		Role:      string(m.Role),
		BuyerSide: m.RendersAsBuyer(),
		Timestamp: m.Timestamp,
	}
}

func MapMessages(msgs []conversation.Message) ChatMessageList {
	items := make([]ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		items = append(items, MapMessage(m))
	}
	return ChatMessageList{Items: items}
}
