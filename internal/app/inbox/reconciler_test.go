package inbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"estatedesk/internal/domain/conversation"
)

const agent = "agent-1"

var t0 = time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)

func at(minutes int) time.Time {
	return t0.Add(time.Duration(minutes) * time.Minute)
}

type stubBuyers map[string]conversation.BuyerProfile

func (s stubBuyers) GetBuyer(ctx context.Context, buyerID string) (conversation.BuyerProfile, error) {
	p, ok := s[buyerID]
	if !ok {
		return conversation.BuyerProfile{}, errors.New("buyer not found")
	}
	return p, nil
}

func inquiry(id, buyer, property string, created time.Time, status conversation.Status, message string) conversation.Inquiry {
	return conversation.Inquiry{
		ID:            id,
		Key:           conversation.NewKey(buyer, property),
		BuyerName:     "Name " + id,
		PropertyTitle: "Title " + property,
		Message:       message,
		Status:        status,
		CreatedAt:     created,
	}
}

func room(id, buyer, property, receiver string, updated time.Time, last string) conversation.Room {
	return conversation.Room{
		ID:          id,
		Key:         conversation.NewKey(buyer, property),
		ReceiverID:  receiver,
		LastMessage: last,
		UpdatedAt:   updated,
		CreatedAt:   t0,
		ReadStatus:  map[string]conversation.ReadMark{},
	}
}

func TestReconcileInquiryWithoutRoom(t *testing.T) {
	r := Reconciler{}
	out := r.Reconcile(context.Background(), []conversation.Inquiry{
		inquiry("i1", "B1", "P1", at(0), conversation.StatusNew, "hello"),
	}, nil, agent)

	if len(out) != 1 {
		t.Fatalf("expected 1 conversation, got %d", len(out))
	}
	c := out[0]
	if c.Status != conversation.StatusNew || c.IsChatOnly {
		t.Fatalf("unexpected conversation: %+v", c)
	}
	if c.LastMessage != "hello" || !c.LastActivity.Equal(at(0)) {
		t.Fatalf("expected inquiry message and createdAt, got %q %v", c.LastMessage, c.LastActivity)
	}
	if c.InquiryID != "i1" {
		t.Fatalf("expected inquiry id to be kept, got %q", c.InquiryID)
	}
}

func TestReconcileChatOnlyRoom(t *testing.T) {
	r := Reconciler{Buyers: stubBuyers{"B2": {Name: "Bea", Email: "bea@example.com"}}}
	out := r.Reconcile(context.Background(), nil, []conversation.Room{
		room("r1", "B2", "P1", agent, at(3), "ping"),
	}, agent)

	if len(out) != 1 {
		t.Fatalf("expected 1 conversation, got %d", len(out))
	}
	c := out[0]
	if !c.IsChatOnly || c.Status != conversation.StatusNew {
		t.Fatalf("expected chat-only conversation with status new, got %+v", c)
	}
	if c.BuyerName != "Bea" || c.BuyerEmail != "bea@example.com" {
		t.Fatalf("expected buyer profile from directory, got %q %q", c.BuyerName, c.BuyerEmail)
	}
	if c.ChatRoomID != "r1" {
		t.Fatalf("expected chat room id, got %q", c.ChatRoomID)
	}
}

func TestReconcileChatOnlyFallsBackToPlaceholder(t *testing.T) {
	r := Reconciler{Buyers: stubBuyers{}}
	out := r.Reconcile(context.Background(), nil, []conversation.Room{
		room("r1", "B9", "P1", agent, at(1), ""),
	}, agent)
	if out[0].BuyerName != "Buyer" || out[0].BuyerEmail != "" || out[0].BuyerPhone != "" {
		t.Fatalf("expected placeholder buyer, got %+v", out[0])
	}
}

func TestReconcileMergesRoomIntoInquiry(t *testing.T) {
	rm := room("r3", "B3", "P2", agent, at(5), "Hi")
	out := Reconciler{}.Reconcile(context.Background(), []conversation.Inquiry{
		inquiry("i3", "B3", "P2", at(1), conversation.StatusNew, "original"),
	}, []conversation.Room{rm}, agent)

	if len(out) != 1 {
		t.Fatalf("expected 1 conversation, got %d", len(out))
	}
	c := out[0]
	if c.LastMessage != "Hi" || !c.LastActivity.Equal(at(5)) {
		t.Fatalf("expected room metadata, got %q %v", c.LastMessage, c.LastActivity)
	}
	if c.IsChatOnly || c.ChatRoomID != "r3" || c.PropertyTitle != "Title P2" {
		t.Fatalf("unexpected merge result: %+v", c)
	}
}

func TestReconcileStatusPrefersReadStatusOfCurrentUser(t *testing.T) {
	rm := room("r1", "B1", "P1", agent, at(2), "x")
	rm.ReadStatus["someone-else"] = conversation.ReadMark{Status: conversation.StatusReplied}
	inq := inquiry("i1", "B1", "P1", at(1), conversation.StatusRead, "m")

	out := Reconciler{}.Reconcile(context.Background(), []conversation.Inquiry{inq}, []conversation.Room{rm}, agent)
	if out[0].Status != conversation.StatusRead {
		t.Fatalf("expected inquiry status without a mark for the agent, got %s", out[0].Status)
	}

	rm.ReadStatus[agent] = conversation.ReadMark{Status: conversation.StatusReplied, At: at(2)}
	out = Reconciler{}.Reconcile(context.Background(), []conversation.Inquiry{inq}, []conversation.Room{rm}, agent)
	if out[0].Status != conversation.StatusReplied {
		t.Fatalf("expected agent read status, got %s", out[0].Status)
	}
}

func TestReconcileKeepsMostRecentInquiry(t *testing.T) {
	out := Reconciler{}.Reconcile(context.Background(), []conversation.Inquiry{
		inquiry("old", "B1", "P1", at(1), conversation.StatusNew, "first"),
		inquiry("new", "B1", "P1", at(2), conversation.StatusRead, "second"),
		inquiry("tie", "B1", "P1", at(2), conversation.StatusNew, "tie"),
	}, nil, agent)

	if len(out) != 1 {
		t.Fatalf("expected one conversation per key, got %d", len(out))
	}
	if out[0].InquiryID != "new" || out[0].LastMessage != "second" {
		t.Fatalf("expected newest inquiry with first-seen tie-break, got %+v", out[0])
	}
}

func TestReconcileDeduplicatesGuestsAndRooms(t *testing.T) {
	out := Reconciler{}.Reconcile(context.Background(),
		[]conversation.Inquiry{
			inquiry("g1", "", "P1", at(1), conversation.StatusNew, "a"),
			inquiry("g2", "", "P1", at(4), conversation.StatusNew, "b"),
			inquiry("x1", "B1", "P1", at(2), conversation.StatusNew, "c"),
		},
		[]conversation.Room{
			room("r-old", "B2", "P2", agent, at(1), "old"),
			room("r-new", "B2", "P2", agent, at(6), "new"),
		}, agent)

	seen := map[conversation.Key]int{}
	for _, c := range out {
		seen[c.Key]++
	}
	for key, n := range seen {
		if n != 1 {
			t.Fatalf("key %s appears %d times", key, n)
		}
	}
	if len(out) != 3 {
		t.Fatalf("expected 3 conversations, got %d", len(out))
	}
	if out[0].ChatRoomID != "r-new" || out[0].LastMessage != "new" {
		t.Fatalf("expected most recently updated room first, got %+v", out[0])
	}
	guest := conversation.NewKey("", "P1")
	for _, c := range out {
		if c.Key == guest && c.InquiryID != "g2" {
			t.Fatalf("expected latest guest inquiry, got %s", c.InquiryID)
		}
	}
}

func TestReconcileDropsRoomsOfOtherAgents(t *testing.T) {
	out := Reconciler{}.Reconcile(context.Background(), nil, []conversation.Room{
		room("mine", "B1", "P1", agent, at(1), ""),
		room("theirs", "B2", "P1", "agent-2", at(2), ""),
	}, agent)
	if len(out) != 1 || out[0].ChatRoomID != "mine" {
		t.Fatalf("expected only the agent's own room, got %+v", out)
	}
}

func TestReconcileSkipsMalformedRecords(t *testing.T) {
	bad := inquiry("", "B1", "P1", at(1), conversation.StatusNew, "")
	noTime := inquiry("i2", "B1", "P1", time.Time{}, conversation.StatusNew, "")
	badRoom := room("", "B1", "P2", agent, at(1), "")
	out := Reconciler{}.Reconcile(context.Background(),
		[]conversation.Inquiry{bad, noTime, inquiry("ok", "B3", "P3", at(1), conversation.StatusNew, "")},
		[]conversation.Room{badRoom}, agent)
	if len(out) != 1 || out[0].InquiryID != "ok" {
		t.Fatalf("expected only the valid inquiry, got %+v", out)
	}
}

func TestReconcileSortsByActivityDescending(t *testing.T) {
	out := Reconciler{}.Reconcile(context.Background(), []conversation.Inquiry{
		inquiry("a", "B1", "P1", at(1), conversation.StatusNew, ""),
		inquiry("b", "B2", "P1", at(9), conversation.StatusNew, ""),
		inquiry("c", "B3", "P1", at(5), conversation.StatusNew, ""),
	}, nil, agent)
	got := []string{out[0].InquiryID, out[1].InquiryID, out[2].InquiryID}
	want := []string{"b", "c", "a"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, got)
		}
	}
}
