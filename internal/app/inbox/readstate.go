package inbox

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"estatedesk/internal/domain/conversation"
	"estatedesk/internal/domain/shared/events"
)

// Tab is the pane of the open conversation that has focus.
type Tab string

const (
	TabDetails  Tab = "details"
	TabMessages Tab = "messages"
)

func (t Tab) Valid() bool {
	return t == TabDetails || t == TabMessages
}

// IsUnread reports whether m counts toward the unread badge under rs.
// Only buyer-authored messages count; unknown roles never do.
func IsUnread(m conversation.Message, rs conversation.ReadState) bool {
	if m.Role != conversation.RoleBuyer {
		return false
	}
	return rs.NeverRead() || m.Timestamp.After(rs.LastReadAt)
}

func UnreadCount(messages []conversation.Message, rs conversation.ReadState) int {
	count := 0
	for _, m := range messages {
		if IsUnread(m, rs) {
			count++
		}
	}
	return count
}

// ReadStateTracker owns the current user's read states and the focus state.
type ReadStateTracker struct {
	Chat   ChatStore
	UserID string
	Events EventSink
	Logger *slog.Logger
	Now    func() time.Time

	mu       sync.Mutex
	states   map[conversation.Key]conversation.ReadState
	inflight map[conversation.Key]int
	settled  map[conversation.Key]time.Time
	open     conversation.Key
	tab      Tab
	recorder events.EventRecorder
}

// State returns the read state of key; the zero LastReadAt means never read.
func (t *ReadStateTracker) State(key conversation.Key) conversation.ReadState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stateLocked(key)
}

func (t *ReadStateTracker) stateLocked(key conversation.Key) conversation.ReadState {
	if rs, ok := t.states[key]; ok {
		return rs
	}
	return conversation.ReadState{Key: key}
}

// Observe adopts the server-side read marks carried by rooms from a refresh cycle.
// Keys with a mark-read in flight keep their local value, and a mark older than
// the last server value already settled is stale and ignored.
func (t *ReadStateTracker) Observe(rooms []conversation.Room) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ensureLocked()
	for _, room := range rooms {
		mark, ok := room.MarkFor(t.UserID)
		if !ok || mark.At.IsZero() {
			continue
		}
		if t.inflight[room.Key] > 0 {
			continue
		}
		if !t.settleLocked(room.Key, mark.At) {
			continue
		}
		t.states[room.Key] = conversation.ReadState{Key: room.Key, LastReadAt: mark.At}
	}
}

// Focus records the open conversation and tab. It reports whether the change is a
// mark-read trigger, which is only the case when the messages tab gains focus.
func (t *ReadStateTracker) Focus(key conversation.Key, tab Tab) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	trigger := tab == TabMessages && (t.open != key || t.tab != TabMessages)
	t.open = key
	t.tab = tab
	return trigger
}

// Blur clears the focus state.
func (t *ReadStateTracker) Blur() {
	t.mu.Lock()
	t.open = conversation.Key{}
	t.tab = ""
	t.mu.Unlock()
}

// Focused returns the open conversation and tab.
func (t *ReadStateTracker) Focused() (conversation.Key, Tab) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.open, t.tab
}

// IsReading reports whether key is open with the messages tab focused.
func (t *ReadStateTracker) IsReading(key conversation.Key) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.isReadingLocked(key)
}

func (t *ReadStateTracker) isReadingLocked(key conversation.Key) bool {
	return !key.IsZero() && t.open == key && t.tab == TabMessages
}

// UnreadFor is the unread count of key; the conversation being read counts as zero.
func (t *ReadStateTracker) UnreadFor(key conversation.Key, messages []conversation.Message) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.isReadingLocked(key) {
		return 0
	}
	return UnreadCount(messages, t.stateLocked(key))
}

// Badge sums unread messages across conversations except the one being read.
func (t *ReadStateTracker) Badge(messages map[conversation.Key][]conversation.Message) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	total := 0
	for key, msgs := range messages {
		if t.isReadingLocked(key) {
			continue
		}
		total += UnreadCount(msgs, t.stateLocked(key))
	}
	return total
}

// MarkRead sets lastReadAt to now, writes the read status and then adopts the
// server's mark time. current is the conversation's status; "replied" is never lowered.
func (t *ReadStateTracker) MarkRead(ctx context.Context, key conversation.Key, roomID string, current conversation.Status) (conversation.Status, error) {
	now := t.now()
	t.mu.Lock()
	t.ensureLocked()
	t.states[key] = conversation.ReadState{Key: key, LastReadAt: now}
	if roomID == "" || t.Chat == nil {
		t.mu.Unlock()
		return current, nil
	}
	t.inflight[key]++
	t.mu.Unlock()
	defer t.release(key)

	status := conversation.MaxStatus(current, conversation.StatusRead)
	if err := t.Chat.SetReadStatus(ctx, roomID, t.UserID, status); err != nil {
		if t.Logger != nil {
			t.Logger.Warn("read status write failed", "room_id", roomID, "user_id", t.UserID, "error", err)
		}
		return current, err
	}

	readAt := now
	room, err := t.Chat.GetRoom(ctx, roomID)
	switch {
	case err != nil:
		if t.Logger != nil {
			t.Logger.Warn("read status read-back failed", "room_id", roomID, "error", err)
		}
	default:
		if mark, ok := room.MarkFor(t.UserID); ok {
			if mark.Status.Valid() {
				status = mark.Status
			}
			if !mark.At.IsZero() {
				readAt = mark.At
				t.mu.Lock()
				t.settled[key] = mark.At
				t.states[key] = conversation.ReadState{Key: key, LastReadAt: mark.At}
				t.mu.Unlock()
			}
		}
	}

	t.recorder.Record(conversation.ConversationRead{
		ConversationKey: key.String(),
		RoomID:          roomID,
		UserID:          t.UserID,
		ReadAt:          readAt,
	})
	t.flush(ctx)
	return status, nil
}

// Pending reports whether a mark-read write for key has not completed yet.
func (t *ReadStateTracker) Pending(key conversation.Key) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inflight[key] > 0
}

func (t *ReadStateTracker) release(key conversation.Key) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.inflight[key] <= 1 {
		delete(t.inflight, key)
		return
	}
	t.inflight[key]--
}

func (t *ReadStateTracker) flush(ctx context.Context) {
	var write func(context.Context, []events.DomainEvent) error
	if t.Events != nil {
		write = t.Events.Record
	}
	if err := t.recorder.Flush(ctx, write); err != nil && t.Logger != nil {
		t.Logger.Warn("read events not recorded", "error", err)
	}
}

// settleLocked records at as the server's mark for key. It reports false, and
// records nothing, when at is older than the mark already settled.
func (t *ReadStateTracker) settleLocked(key conversation.Key, at time.Time) bool {
	if prev, ok := t.settled[key]; ok && at.Before(prev) {
		return false
	}
	t.settled[key] = at
	return true
}

func (t *ReadStateTracker) ensureLocked() {
	if t.states == nil {
		t.states = make(map[conversation.Key]conversation.ReadState)
	}
	if t.inflight == nil {
		t.inflight = make(map[conversation.Key]int)
	}
	if t.settled == nil {
		t.settled = make(map[conversation.Key]time.Time)
	}
}

func (t *ReadStateTracker) now() time.Time {
	if t.Now != nil {
		return t.Now().UTC()
	}
	return time.Now().UTC()
}
