package conversation

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrMalformedRecord = errors.New("conversation: malformed record")
	ErrInvalidStatus   = errors.New("conversation: invalid status")
)

// Status is a user's read state for a conversation.
type Status string

const (
	StatusNew     Status = "new"
	StatusRead    Status = "read"
	StatusReplied Status = "replied"
)

// Rank orders statuses: new < read < replied. Unknown values rank lowest.
func (s Status) Rank() int {
	switch s {
	case StatusRead:
		return 1
	case StatusReplied:
		return 2
	default:
		return 0
	}
}

func (s Status) Valid() bool {
	switch s {
	case StatusNew, StatusRead, StatusReplied:
		return true
	}
	return false
}

// ParseStatus accepts the wire form case-insensitively.
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", ErrInvalidStatus
	}
	return s, nil
}

// MaxStatus returns the higher ranked of a and b.
func MaxStatus(a, b Status) Status {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// Role attributes a message to one side of the conversation.
type Role string

const (
	RoleBuyer   Role = "buyer"
	RoleAgent   Role = "agent"
	RoleUnknown Role = "unknown"
)

// ParseRole maps anything other than buyer/agent to RoleUnknown.
func ParseRole(raw string) Role {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleBuyer:
		return RoleBuyer
	case RoleAgent:
		return RoleAgent
	default:
		return RoleUnknown
	}
}

// Inquiry is one row of the relational inquiry store. Several rows may share a key.
type Inquiry struct {
	ID            string
	Key           Key
	BuyerName     string
	BuyerEmail    string
	BuyerPhone    string
	PropertyTitle string
	Message       string
	Status        Status
	CreatedAt     time.Time
}

func (i Inquiry) Validate() error {
	if strings.TrimSpace(i.ID) == "" || i.Key.PropertyID == "" || i.CreatedAt.IsZero() {
		return ErrMalformedRecord
	}
	return nil
}

// ReadMark is one entry of a room's read-status map. At is the server time of the write.
type ReadMark struct {
	Status Status
	At     time.Time
}

// Room is a realtime chat room; one per key.
type Room struct {
	ID             string
	Key            Key
	ReceiverID     string
	LastMessage    string
	LastSenderRole Role
	UpdatedAt      time.Time
	CreatedAt      time.Time
	ReadStatus     map[string]ReadMark
}

func (r Room) Validate() error {
	if strings.TrimSpace(r.ID) == "" || r.Key.PropertyID == "" {
		return ErrMalformedRecord
	}
	return nil
}

// MarkFor returns the read mark of userID, if any.
func (r Room) MarkFor(userID string) (ReadMark, bool) {
	mark, ok := r.ReadStatus[userID]
	return mark, ok
}

// Activity is UpdatedAt, falling back to CreatedAt for rooms without messages.
func (r Room) Activity() time.Time {
	if !r.UpdatedAt.IsZero() {
		return r.UpdatedAt
	}
	return r.CreatedAt
}

// RawMessage is a message as delivered by the chat store, before normalisation.
type RawMessage struct {
	ID         string
	SenderID   string
	SenderRole string
	Text       string
	Timestamp  time.Time
}

// Message is a normalised chat message.
type Message struct {
	ID        string
	RoomID    string
	SenderID  string
	Text      string
	Role      Role
	Timestamp time.Time
}

// RendersAsBuyer reports whether the UI draws the message on the buyer side.
func (m Message) RendersAsBuyer() bool {
	return m.Role != RoleAgent
}

// Conversation is the merged view of an inquiry group and its chat room.
type Conversation struct {
	Key           Key
	BuyerID       string
	PropertyID    string
	BuyerName     string
	BuyerEmail    string
	BuyerPhone    string
	PropertyTitle string
	LastMessage   string
	LastActivity  time.Time
	Status        Status
	ChatRoomID    string
	InquiryID     string
	IsChatOnly    bool
	UnreadCount   int
}

// ReadState holds the current user's last read time for a conversation.
type ReadState struct {
	Key        Key
	LastReadAt time.Time
}

func (rs ReadState) NeverRead() bool {
	return rs.LastReadAt.IsZero()
}

// BuyerProfile is the result of a buyer lookup.
type BuyerProfile struct {
	Name      string
	Email     string
	Phone     string
	AvatarURL string
}

// PlaceholderBuyer is shown when a buyer cannot be resolved.
func PlaceholderBuyer() BuyerProfile {
	return BuyerProfile{Name: "Buyer"}
}
