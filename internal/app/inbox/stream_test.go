package inbox

import (
	"context"
	"testing"

	"estatedesk/internal/domain/conversation"
)

func TestStreamSwitchUnsubscribesPreviousFirst(t *testing.T) {
	chat := newFakeChat()
	s := &MessageStream{Chat: chat}
	var got []string
	record := func(msgs []conversation.Message) {
		for _, m := range msgs {
			got = append(got, m.RoomID+"/"+m.ID)
		}
	}

	if _, err := s.Subscribe(context.Background(), "r1", record); err != nil {
		t.Fatalf("subscribe r1: %v", err)
	}
	old := chat.subs["r1"]
	if _, err := s.Subscribe(context.Background(), "r2", record); err != nil {
		t.Fatalf("subscribe r2: %v", err)
	}
	if len(chat.unsubs) != 1 || chat.unsubs[0] != "r1" {
		t.Fatalf("expected r1 to be unsubscribed, got %v", chat.unsubs)
	}
	if s.RoomID() != "r2" {
		t.Fatalf("expected active room r2, got %q", s.RoomID())
	}

	// a snapshot already in flight from the old stream is dropped
	old([]conversation.RawMessage{{ID: "late", SenderRole: "buyer", Timestamp: at(1)}})
	chat.push("r2", []conversation.RawMessage{{ID: "m1", SenderRole: "buyer", Timestamp: at(2)}})

	if len(got) != 1 || got[0] != "r2/m1" {
		t.Fatalf("expected only the current stream's snapshot, got %v", got)
	}
}

func TestStreamDeliversSortedSnapshots(t *testing.T) {
	chat := newFakeChat()
	s := &MessageStream{Chat: chat}
	var last []conversation.Message
	if _, err := s.Subscribe(context.Background(), "r1", func(msgs []conversation.Message) { last = msgs }); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	chat.push("r1", []conversation.RawMessage{
		{ID: "b", SenderRole: "agent", Timestamp: at(3)},
		{ID: "a", SenderRole: "buyer", Timestamp: at(1)},
		{ID: "", SenderRole: "buyer", Timestamp: at(2)},
		{ID: "c", SenderRole: "bot", Timestamp: at(2)},
	})
	if len(last) != 3 {
		t.Fatalf("expected malformed message to be skipped, got %d", len(last))
	}
	if last[0].ID != "a" || last[1].ID != "c" || last[2].ID != "b" {
		t.Fatalf("expected timestamp order, got %v %v %v", last[0].ID, last[1].ID, last[2].ID)
	}
	if last[1].Role != conversation.RoleUnknown || last[2].Role != conversation.RoleAgent {
		t.Fatalf("unexpected roles: %s %s", last[1].Role, last[2].Role)
	}
}

func TestStreamUnsubscribeIsScopedToItsGeneration(t *testing.T) {
	chat := newFakeChat()
	s := &MessageStream{Chat: chat}
	stop1, _ := s.Subscribe(context.Background(), "r1", func([]conversation.Message) {})
	if _, err := s.Subscribe(context.Background(), "r2", func([]conversation.Message) {}); err != nil {
		t.Fatalf("subscribe r2: %v", err)
	}
	stop1()
	if s.RoomID() != "r2" {
		t.Fatalf("stale unsubscribe must not cancel the current stream")
	}
	s.Close()
	if s.RoomID() != "" || len(chat.subs) != 0 {
		t.Fatalf("expected close to cancel every subscription")
	}
}
