package inbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"estatedesk/internal/domain/conversation"
	"estatedesk/internal/domain/shared/events"
)

var errBoom = errors.New("boom")

// fakeChat is a scriptable ChatStore. Subscriptions never push on their own; tests call push.
type fakeChat struct {
	mu        sync.Mutex
	rooms     map[string]conversation.Room
	messages  map[string][]conversation.RawMessage
	subs      map[string]func([]conversation.RawMessage)
	subCalls  []string
	unsubs    []string
	writes    []string
	serverNow time.Time
	seq       int

	appendErr error
	statusErr error
	getErr    error
	createErr error
}

func newFakeChat() *fakeChat {
	return &fakeChat{
		rooms:    map[string]conversation.Room{},
		messages: map[string][]conversation.RawMessage{},
		subs:     map[string]func([]conversation.RawMessage){},
	}
}

func (f *fakeChat) put(r conversation.Room) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r.ReadStatus == nil {
		r.ReadStatus = map[string]conversation.ReadMark{}
	}
	f.rooms[r.ID] = r
}

func (f *fakeChat) ListRoomsForUser(ctx context.Context, userID string) ([]conversation.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]conversation.Room, 0, len(f.rooms))
	for _, r := range f.rooms {
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeChat) GetRoom(ctx context.Context, roomID string) (conversation.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return conversation.Room{}, f.getErr
	}
	r, ok := f.rooms[roomID]
	if !ok {
		return conversation.Room{}, errors.New("no room")
	}
	marks := make(map[string]conversation.ReadMark, len(r.ReadStatus))
	for k, v := range r.ReadStatus {
		marks[k] = v
	}
	r.ReadStatus = marks
	return r, nil
}

func (f *fakeChat) CreateOrGetRoom(ctx context.Context, buyerID, agentID, propertyID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	key := conversation.NewKey(buyerID, propertyID)
	for id, r := range f.rooms {
		if r.Key == key && r.ReceiverID == agentID {
			return id, nil
		}
	}
	f.seq++
	id := fmt.Sprintf("created-%d", f.seq)
	f.rooms[id] = conversation.Room{ID: id, Key: key, ReceiverID: agentID, ReadStatus: map[string]conversation.ReadMark{}}
	return id, nil
}

func (f *fakeChat) SubscribeMessages(ctx context.Context, roomID string, fn func([]conversation.RawMessage)) (func(), error) {
	f.mu.Lock()
	f.subs[roomID] = fn
	f.subCalls = append(f.subCalls, roomID)
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		delete(f.subs, roomID)
		f.unsubs = append(f.unsubs, roomID)
		f.mu.Unlock()
	}, nil
}

// push delivers a snapshot to the room's subscriber, if any.
func (f *fakeChat) push(roomID string, msgs []conversation.RawMessage) bool {
	f.mu.Lock()
	fn := f.subs[roomID]
	f.mu.Unlock()
	if fn == nil {
		return false
	}
	fn(msgs)
	return true
}

func (f *fakeChat) ListMessages(ctx context.Context, roomID string) ([]conversation.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]conversation.RawMessage(nil), f.messages[roomID]...), nil
}

func (f *fakeChat) AppendMessage(ctx context.Context, roomID, senderID string, role conversation.Role, text string) (conversation.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return conversation.RawMessage{}, f.appendErr
	}
	f.seq++
	msg := conversation.RawMessage{
		ID:         fmt.Sprintf("m-%d", f.seq),
		SenderID:   senderID,
		SenderRole: string(role),
		Text:       text,
		Timestamp:  f.serverNow,
	}
	f.messages[roomID] = append(f.messages[roomID], msg)
	return msg, nil
}

func (f *fakeChat) SetReadStatus(ctx context.Context, roomID, userID string, status conversation.Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, roomID+":"+string(status))
	if f.statusErr != nil {
		return f.statusErr
	}
	r, ok := f.rooms[roomID]
	if !ok {
		return errors.New("no room")
	}
	if r.ReadStatus == nil {
		r.ReadStatus = map[string]conversation.ReadMark{}
	}
	r.ReadStatus[userID] = conversation.ReadMark{Status: status, At: f.serverNow}
	f.rooms[roomID] = r
	return nil
}

func (f *fakeChat) statusWrites() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.writes...)
}

type fakeInquiries struct {
	mu      sync.Mutex
	rows    []conversation.Inquiry
	listErr error
	updErr  error
	updates []string
}

func (f *fakeInquiries) List(ctx context.Context) ([]conversation.Inquiry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]conversation.Inquiry(nil), f.rows...), nil
}

func (f *fakeInquiries) UpdateStatus(ctx context.Context, id string, status conversation.Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, id+":"+string(status))
	return f.updErr
}

type recordingSink struct {
	mu     sync.Mutex
	events []events.DomainEvent
}

func (s *recordingSink) Record(ctx context.Context, evs []events.DomainEvent) error {
	s.mu.Lock()
	s.events = append(s.events, evs...)
	s.mu.Unlock()
	return nil
}

func (s *recordingSink) names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev.EventName())
	}
	return out
}
