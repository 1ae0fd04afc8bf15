package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"estatedesk/internal/domain/conversation"
)

var ErrRoomNotFound = errors.New("memory: chat room not found")

type chatRoom struct {
	room     conversation.Room
	messages []conversation.RawMessage
}

// ChatStore is an in-memory realtime chat store. Subscribers receive the full
// message snapshot of a room on subscribe and after every append.
type ChatStore struct {
	// Now stamps messages and read marks; defaults to time.Now.
	Now func() time.Time
	// Fault injection for tests.
	FailRooms      error
	FailAppend     error
	FailReadStatus error
	FailGetRoom    error

	mu      sync.Mutex
	seq     uint64
	rooms   map[string]*chatRoom
	byKey   map[string]string
	subs    map[string]map[uint64]func([]conversation.RawMessage)
	nextSub uint64
}

func NewChatStore() *ChatStore {
	return &ChatStore{
		rooms: make(map[string]*chatRoom),
		byKey: make(map[string]string),
		subs:  make(map[string]map[uint64]func([]conversation.RawMessage)),
	}
}

// PutRoom stores room as is, replacing any room with the same id.
func (s *ChatStore) PutRoom(room conversation.Room) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room.ReadStatus = cloneMarks(room.ReadStatus)
	if existing, ok := s.rooms[room.ID]; ok {
		existing.room = room
	} else {
		s.rooms[room.ID] = &chatRoom{room: room}
	}
	s.byKey[roomIndex(room.Key, room.ReceiverID)] = room.ID
}

func (s *ChatStore) ListRoomsForUser(ctx context.Context, userID string) ([]conversation.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailRooms != nil {
		return nil, s.FailRooms
	}
	out := make([]conversation.Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		if r.room.ReceiverID == userID || r.room.Key.BuyerID == userID {
			out = append(out, cloneRoom(r.room))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *ChatStore) GetRoom(ctx context.Context, roomID string) (conversation.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailGetRoom != nil {
		return conversation.Room{}, s.FailGetRoom
	}
	r, ok := s.rooms[roomID]
	if !ok {
		return conversation.Room{}, ErrRoomNotFound
	}
	return cloneRoom(r.room), nil
}

func (s *ChatStore) CreateOrGetRoom(ctx context.Context, buyerID, agentID, propertyID string) (string, error) {
	key := conversation.NewKey(buyerID, propertyID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byKey[roomIndex(key, agentID)]; ok {
		return id, nil
	}
	s.seq++
	id := fmt.Sprintf("room-%d", s.seq)
	now := s.now()
	s.rooms[id] = &chatRoom{room: conversation.Room{
		ID:         id,
		Key:        key,
		ReceiverID: agentID,
		CreatedAt:  now,
		ReadStatus: map[string]conversation.ReadMark{},
	}}
	s.byKey[roomIndex(key, agentID)] = id
	return id, nil
}

func (s *ChatStore) ListMessages(ctx context.Context, roomID string) ([]conversation.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return append([]conversation.RawMessage(nil), r.messages...), nil
}

func (s *ChatStore) AppendMessage(ctx context.Context, roomID, senderID string, role conversation.Role, text string) (conversation.RawMessage, error) {
	s.mu.Lock()
	if s.FailAppend != nil {
		s.mu.Unlock()
		return conversation.RawMessage{}, s.FailAppend
	}
	r, ok := s.rooms[roomID]
	if !ok {
		s.mu.Unlock()
		return conversation.RawMessage{}, ErrRoomNotFound
	}
	s.seq++
	msg := conversation.RawMessage{
		ID:         fmt.Sprintf("msg-%d", s.seq),
		SenderID:   senderID,
		SenderRole: string(role),
		Text:       text,
		Timestamp:  s.now(),
	}
	r.messages = append(r.messages, msg)
	r.room.LastMessage = text
	r.room.LastSenderRole = role
	r.room.UpdatedAt = msg.Timestamp
	snapshot, listeners := s.fanoutLocked(roomID)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(snapshot)
	}
	return msg, nil
}

func (s *ChatStore) SetReadStatus(ctx context.Context, roomID, userID string, status conversation.Status) error {
	if !status.Valid() {
		return conversation.ErrInvalidStatus
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailReadStatus != nil {
		return s.FailReadStatus
	}
	r, ok := s.rooms[roomID]
	if !ok {
		return ErrRoomNotFound
	}
	if r.room.ReadStatus == nil {
		r.room.ReadStatus = map[string]conversation.ReadMark{}
	}
	r.room.ReadStatus[userID] = conversation.ReadMark{Status: status, At: s.now()}
	return nil
}

// SubscribeMessages delivers the current snapshot before returning.
func (s *ChatStore) SubscribeMessages(ctx context.Context, roomID string, fn func([]conversation.RawMessage)) (func(), error) {
	s.mu.Lock()
	r, ok := s.rooms[roomID]
	if !ok {
		s.mu.Unlock()
		return nil, ErrRoomNotFound
	}
	s.nextSub++
	id := s.nextSub
	if s.subs[roomID] == nil {
		s.subs[roomID] = make(map[uint64]func([]conversation.RawMessage))
	}
	s.subs[roomID][id] = fn
	snapshot := append([]conversation.RawMessage(nil), r.messages...)
	s.mu.Unlock()

	fn(snapshot)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs[roomID], id)
			s.mu.Unlock()
		})
	}, nil
}

// Subscribers counts the live subscriptions of a room.
func (s *ChatStore) Subscribers(roomID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs[roomID])
}

func (s *ChatStore) fanoutLocked(roomID string) ([]conversation.RawMessage, []func([]conversation.RawMessage)) {
	r := s.rooms[roomID]
	snapshot := append([]conversation.RawMessage(nil), r.messages...)
	listeners := make([]func([]conversation.RawMessage), 0, len(s.subs[roomID]))
	for _, fn := range s.subs[roomID] {
		listeners = append(listeners, fn)
	}
	return snapshot, listeners
}

func (s *ChatStore) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func roomIndex(key conversation.Key, agentID string) string {
	return key.String() + "|" + agentID
}

func cloneRoom(r conversation.Room) conversation.Room {
	r.ReadStatus = cloneMarks(r.ReadStatus)
	return r
}

func cloneMarks(in map[string]conversation.ReadMark) map[string]conversation.ReadMark {
	out := make(map[string]conversation.ReadMark, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
