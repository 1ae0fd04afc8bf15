package outbox_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	appoutbox "estatedesk/internal/app/outbox"
	"estatedesk/internal/domain/conversation"
	"estatedesk/internal/domain/shared/events"
	"estatedesk/internal/infra/outbox"
	"estatedesk/internal/infra/storage/memory"
)

type published struct {
	topic   string
	key     string
	payload []byte
	headers map[string]string
}

type fakeProducer struct {
	mu   sync.Mutex
	fail error
	sent []published
}

func (p *fakeProducer) Publish(_ context.Context, topic, key string, payload []byte, headers map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return p.fail
	}
	p.sent = append(p.sent, published{topic: topic, key: key, payload: payload, headers: headers})
	return nil
}

func seed(t *testing.T, box *memory.Outbox) {
	t.Helper()
	at := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	ids := []string{"01A", "01B"}
	n := 0
	sink := appoutbox.Sink{
		Box: box,
		Encoder: appoutbox.Encoder{NewID: func() string {
			id := ids[n]
			n++
			return id
		}},
		Headers: func(context.Context) map[string]string {
			return map[string]string{"x-request-id": "req-1"}
		},
	}
	err := sink.Record(context.Background(), []events.DomainEvent{
		conversation.MessageSent{ConversationKey: "B1|P1", RoomID: "r1", MessageID: "m1", SenderID: "agent-1", At: at},
		conversation.StatusChanged{ConversationKey: "B1|P1", RoomID: "r1", UserID: "agent-1", From: conversation.StatusNew, To: conversation.StatusReplied, At: at},
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
}

func TestWorkerDrainPublishesCloudEvents(t *testing.T) {
	box := memory.NewOutbox()
	seed(t, box)
	producer := &fakeProducer{}
	w := &outbox.Worker{Store: box, Producer: producer, TopicPrefix: "dev.", ID: "w1"}

	n, err := w.Drain(context.Background())
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if n != 2 || len(producer.sent) != 2 {
		t.Fatalf("expected 2 published events, got %d", n)
	}
	first := producer.sent[0]
	if first.topic != "dev.conversation.events.v1" || first.key != "B1|P1" {
		t.Fatalf("unexpected routing %s / %s", first.topic, first.key)
	}
	if first.headers["ce-id"] != "01A" || first.headers["ce-type"] != "conversation.message_sent.v1" || first.headers["x-request-id"] != "req-1" {
		t.Fatalf("unexpected headers %v", first.headers)
	}
	var evt map[string]any
	if err := json.Unmarshal(first.payload, &evt); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if evt["specversion"] != "1.0" || evt["subject"] != "B1|P1" {
		t.Fatalf("unexpected envelope %v", evt)
	}
	for _, doc := range box.Documents() {
		if doc.State != outbox.StateSent {
			t.Fatalf("expected %s sent, got %s", doc.ID, doc.State)
		}
	}
	if n, _ := w.Drain(context.Background()); n != 0 {
		t.Fatalf("expected nothing left, drained %d", n)
	}
}

func TestWorkerMarksFailedWithBackoff(t *testing.T) {
	box := memory.NewOutbox()
	seed(t, box)
	producer := &fakeProducer{fail: errors.New("broker down")}
	w := &outbox.Worker{Store: box, Producer: producer, Backoff: []time.Duration{time.Hour}}

	if _, err := w.Drain(context.Background()); err != nil {
		t.Fatalf("a failed publish is recorded, not returned: %v", err)
	}
	docs := box.Documents()
	if docs[0].State != outbox.StateFailed || docs[0].Attempts != 1 || docs[0].LastError != "broker down" {
		t.Fatalf("unexpected failed document %+v", docs[0])
	}
	if !docs[0].NextAttempt.After(time.Now().Add(30 * time.Minute)) {
		t.Fatalf("expected backoff to push the next attempt out")
	}
	if docs[1].State != outbox.StateNew {
		t.Fatalf("drain stops at the first failure, got %s", docs[1].State)
	}
}

func TestWorkerRequiresDependencies(t *testing.T) {
	w := &outbox.Worker{}
	if err := w.Run(context.Background()); !errors.Is(err, outbox.ErrWorkerNotConfigured) {
		t.Fatalf("expected ErrWorkerNotConfigured, got %v", err)
	}
}

func TestWorkerParksEventAfterMaxAttempts(t *testing.T) {
	box := memory.NewOutbox()
	seed(t, box)
	producer := &fakeProducer{fail: errors.New("topic missing")}
	w := &outbox.Worker{Store: box, Producer: producer, MaxAttempts: 1}

	if _, err := w.Drain(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}
	docs := box.Documents()
	if docs[0].State != outbox.StateDead || docs[0].LastError != "topic missing" {
		t.Fatalf("expected dead document, got %+v", docs[0])
	}

	producer.fail = nil
	n, err := w.Drain(context.Background())
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if n != 1 || producer.sent[0].headers["ce-id"] != "01B" {
		t.Fatalf("dead document must not be retried, sent %d", n)
	}
}
