package inbox

import (
	"context"
	"testing"
	"time"

	"estatedesk/internal/domain/conversation"
)

func buyerMsg(id string, ts time.Time) conversation.Message {
	return conversation.Message{ID: id, Role: conversation.RoleBuyer, Timestamp: ts}
}

func TestUnreadCountAfterLastRead(t *testing.T) {
	key := conversation.NewKey("B1", "P1")
	msgs := []conversation.Message{buyerMsg("1", at(1)), buyerMsg("2", at(2)), buyerMsg("3", at(3))}
	rs := conversation.ReadState{Key: key, LastReadAt: at(2)}
	if got := UnreadCount(msgs, rs); got != 1 {
		t.Fatalf("expected 1 unread, got %d", got)
	}
}

func TestUnreadCountNeverReadCountsAllBuyerMessages(t *testing.T) {
	msgs := []conversation.Message{
		buyerMsg("1", at(1)),
		{ID: "2", Role: conversation.RoleAgent, Timestamp: at(2)},
		{ID: "3", Role: conversation.RoleUnknown, Timestamp: at(3)},
		buyerMsg("4", at(4)),
	}
	if got := UnreadCount(msgs, conversation.ReadState{}); got != 2 {
		t.Fatalf("expected only buyer messages to count, got %d", got)
	}
}

func TestUnknownRoleRendersBuyerSideButNeverUnread(t *testing.T) {
	m := conversation.Message{ID: "x", Role: conversation.ParseRole("system"), Timestamp: at(1)}
	if !m.RendersAsBuyer() {
		t.Fatalf("expected unknown role to render on the buyer side")
	}
	if IsUnread(m, conversation.ReadState{}) {
		t.Fatalf("expected unknown role to be excluded from unread")
	}
}

func TestOpenConversationCountsAsRead(t *testing.T) {
	tr := &ReadStateTracker{UserID: agent}
	open := conversation.NewKey("B1", "P1")
	other := conversation.NewKey("B2", "P1")
	msgs := map[conversation.Key][]conversation.Message{
		open:  {buyerMsg("1", at(1)), buyerMsg("2", at(2))},
		other: {buyerMsg("3", at(1))},
	}
	if got := tr.Badge(msgs); got != 3 {
		t.Fatalf("expected badge 3 before focus, got %d", got)
	}

	tr.Focus(open, TabMessages)
	msgs[open] = append(msgs[open], buyerMsg("4", at(9)))
	if got := tr.UnreadFor(open, msgs[open]); got != 0 {
		t.Fatalf("expected open conversation to report 0 unread, got %d", got)
	}
	if got := tr.Badge(msgs); got != 1 {
		t.Fatalf("expected badge to skip open conversation, got %d", got)
	}

	tr.Focus(open, TabDetails)
	if got := tr.UnreadFor(open, msgs[open]); got != 3 {
		t.Fatalf("expected details tab not to hide unread, got %d", got)
	}
}

func TestFocusTriggersOnlyOnMessagesTab(t *testing.T) {
	tr := &ReadStateTracker{}
	k1 := conversation.NewKey("B1", "P1")
	k2 := conversation.NewKey("B2", "P1")

	if tr.Focus(k1, TabDetails) {
		t.Fatalf("selecting a row must not trigger mark-read")
	}
	if !tr.Focus(k1, TabMessages) {
		t.Fatalf("switching to messages tab must trigger mark-read")
	}
	if tr.Focus(k1, TabMessages) {
		t.Fatalf("re-focusing the same tab must not trigger again")
	}
	if !tr.Focus(k2, TabMessages) {
		t.Fatalf("opening another conversation on messages tab must trigger")
	}
	tr.Blur()
	if key, tab := tr.Focused(); !key.IsZero() || tab != "" {
		t.Fatalf("expected blur to clear focus, got %v %q", key, tab)
	}
}

func TestMarkReadAdoptsServerTimestamp(t *testing.T) {
	chat := newFakeChat()
	key := conversation.NewKey("B1", "P1")
	chat.put(conversation.Room{ID: "r1", Key: key, ReceiverID: agent})
	chat.serverNow = at(10)
	sink := &recordingSink{}

	tr := &ReadStateTracker{Chat: chat, UserID: agent, Events: sink, Now: func() time.Time { return at(30) }}
	status, err := tr.MarkRead(context.Background(), key, "r1", conversation.StatusNew)
	if err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if status != conversation.StatusRead {
		t.Fatalf("expected status read, got %s", status)
	}
	if got := tr.State(key).LastReadAt; !got.Equal(at(10)) {
		t.Fatalf("expected server time to win over local clock, got %v", got)
	}
	if names := sink.names(); len(names) != 1 || names[0] != "conversation.read" {
		t.Fatalf("expected one read event, got %v", names)
	}
	if tr.Pending(key) {
		t.Fatalf("expected no pending mark after completion")
	}
}

func TestMarkReadNeverLowersReplied(t *testing.T) {
	chat := newFakeChat()
	key := conversation.NewKey("B1", "P1")
	chat.put(conversation.Room{ID: "r1", Key: key, ReceiverID: agent})
	tr := &ReadStateTracker{Chat: chat, UserID: agent}

	status, err := tr.MarkRead(context.Background(), key, "r1", conversation.StatusReplied)
	if err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if status != conversation.StatusReplied {
		t.Fatalf("expected replied to be kept, got %s", status)
	}
	writes := chat.statusWrites()
	if len(writes) != 1 || writes[0] != "r1:replied" {
		t.Fatalf("expected replied write, got %v", writes)
	}
}

func TestMarkReadKeepsLocalValueWhenWriteFails(t *testing.T) {
	chat := newFakeChat()
	chat.statusErr = errBoom
	key := conversation.NewKey("B1", "P1")
	chat.put(conversation.Room{ID: "r1", Key: key, ReceiverID: agent})
	tr := &ReadStateTracker{Chat: chat, UserID: agent, Now: func() time.Time { return at(5) }}

	status, err := tr.MarkRead(context.Background(), key, "r1", conversation.StatusNew)
	if err == nil {
		t.Fatalf("expected write error")
	}
	if status != conversation.StatusNew {
		t.Fatalf("expected unchanged status, got %s", status)
	}
	if got := tr.State(key).LastReadAt; !got.Equal(at(5)) {
		t.Fatalf("expected optimistic local read time, got %v", got)
	}
}

func TestMarkReadWithoutRoomIsLocalOnly(t *testing.T) {
	chat := newFakeChat()
	key := conversation.NewKey("B1", "P1")
	tr := &ReadStateTracker{Chat: chat, UserID: agent, Now: func() time.Time { return at(7) }}
	if _, err := tr.MarkRead(context.Background(), key, "", conversation.StatusNew); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if len(chat.statusWrites()) != 0 {
		t.Fatalf("expected no remote write without a room")
	}
	if got := tr.State(key).LastReadAt; !got.Equal(at(7)) {
		t.Fatalf("expected local read time, got %v", got)
	}
}

func TestObserveAdoptsMarksOfCurrentUser(t *testing.T) {
	tr := &ReadStateTracker{UserID: agent}
	key := conversation.NewKey("B1", "P1")
	tr.Observe([]conversation.Room{{
		ID:  "r1",
		Key: key,
		ReadStatus: map[string]conversation.ReadMark{
			agent:   {Status: conversation.StatusRead, At: at(4)},
			"other": {Status: conversation.StatusRead, At: at(8)},
		},
	}})
	if got := tr.State(key).LastReadAt; !got.Equal(at(4)) {
		t.Fatalf("expected agent mark, got %v", got)
	}
}

func TestObserveIgnoresMarkOlderThanSettledMarkRead(t *testing.T) {
	chat := newFakeChat()
	key := conversation.NewKey("B1", "P1")
	chat.put(conversation.Room{
		ID:         "r1",
		Key:        key,
		ReceiverID: agent,
		ReadStatus: map[string]conversation.ReadMark{agent: {Status: conversation.StatusRead, At: at(4)}},
	})
	stale, err := chat.GetRoom(context.Background(), "r1")
	if err != nil {
		t.Fatalf("get room: %v", err)
	}
	msgs := []conversation.Message{buyerMsg("1", at(6))}

	tr := &ReadStateTracker{Chat: chat, UserID: agent}
	tr.Observe([]conversation.Room{stale})
	chat.serverNow = at(10)
	if _, err := tr.MarkRead(context.Background(), key, "r1", conversation.StatusRead); err != nil {
		t.Fatalf("mark read: %v", err)
	}

	tr.Observe([]conversation.Room{stale})
	if got := tr.State(key).LastReadAt; !got.Equal(at(10)) {
		t.Fatalf("stale refresh rolled the mark back to %v", got)
	}
	if got := tr.UnreadFor(key, msgs); got != 0 {
		t.Fatalf("expected read message to stay read, got %d unread", got)
	}

	fresh := stale
	fresh.ReadStatus = map[string]conversation.ReadMark{agent: {Status: conversation.StatusRead, At: at(12)}}
	tr.Observe([]conversation.Room{fresh})
	if got := tr.State(key).LastReadAt; !got.Equal(at(12)) {
		t.Fatalf("expected newer server mark to be adopted, got %v", got)
	}
}
