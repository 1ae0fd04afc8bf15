package kafka

import (
	"errors"
	"testing"

	"github.com/IBM/sarama"
)

func TestRecordHeadersSortedByName(t *testing.T) {
	hs := recordHeaders(map[string]string{"ce_type": "t", "ce_id": "1", "content-type": "application/json"})
	want := []string{"ce_id", "ce_type", "content-type"}
	if len(hs) != len(want) {
		t.Fatalf("expected %d headers, got %d", len(want), len(hs))
	}
	for i, name := range want {
		if string(hs[i].Key) != name {
			t.Fatalf("header %d: expected %s, got %s", i, name, hs[i].Key)
		}
	}
}

func TestRelayConfigForcesIdempotentDelivery(t *testing.T) {
	cfg := relayConfig(nil)
	if cfg.ClientID != producerClientID {
		t.Fatalf("unexpected client id %q", cfg.ClientID)
	}
	if !cfg.Producer.Idempotent || cfg.Producer.RequiredAcks != sarama.WaitForAll || cfg.Net.MaxOpenRequests != 1 {
		t.Fatalf("relay config must be idempotent with acks=all")
	}
	custom := sarama.NewConfig()
	custom.ClientID = "custom"
	if relayConfig(custom).ClientID != "custom" {
		t.Fatalf("caller client id overwritten")
	}
}

func TestNewProducerRequiresBrokers(t *testing.T) {
	if _, err := NewProducer(nil, nil); !errors.Is(err, ErrNoBrokers) {
		t.Fatalf("expected ErrNoBrokers, got %v", err)
	}
}

func TestGroupConfigStartsAtNewest(t *testing.T) {
	cfg := groupConfig(nil)
	if cfg.Consumer.Offsets.Initial != sarama.OffsetNewest || !cfg.Consumer.Return.Errors {
		t.Fatalf("unexpected consumer config")
	}
	if cfg.ClientID != consumerClientID {
		t.Fatalf("unexpected client id %q", cfg.ClientID)
	}
}

func TestNewConsumerRequiresTopics(t *testing.T) {
	if _, err := NewConsumer([]string{"localhost:9092"}, "g", nil, nil, nil, nil); err == nil {
		t.Fatalf("expected error without topics")
	}
}
