package config

import (
	"testing"
	"time"

	"github.com/gocql/gocql"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	for _, key := range []string{"APP_ENV", "INQUIRY_STORE", "CHAT_STORE", "BROKER", "POLL_INTERVAL", "RETRY_BACKOFF", "SCYLLA_CONSISTENCY"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.PollInterval != 30*time.Second {
		t.Fatalf("expected 30s poll interval, got %s", cfg.PollInterval)
	}
	if cfg.InquiryStore != "memory" || cfg.ChatStore != "memory" || cfg.Broker != "none" {
		t.Fatalf("unexpected store defaults: %+v", cfg)
	}
	if len(cfg.RetryBackoff) != 3 || cfg.RetryBackoff[2] != 30*time.Second {
		t.Fatalf("unexpected retry backoff: %v", cfg.RetryBackoff)
	}
	if cfg.ScyllaConsistency != gocql.Quorum {
		t.Fatalf("expected quorum consistency, got %v", cfg.ScyllaConsistency)
	}
	if !cfg.IsDev() {
		t.Fatalf("expected dev environment by default")
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Chdir(t.TempDir())
	cases := map[string][2]string{
		"bad duration":      {"POLL_INTERVAL", "soon"},
		"unknown store":     {"INQUIRY_STORE", "oracle"},
		"missing dsn":       {"INQUIRY_STORE", "postgres"},
		"kafka w/o brokers": {"BROKER", "kafka"},
		"bad consistency":   {"SCYLLA_CONSISTENCY", "three"},
		"bad concurrency":   {"MESSAGE_FETCH_CONCURRENCY", "0"},
		"bad relay flag":    {"OUTBOX_RELAY_ENABLED", "maybe"},
	}
	for name, kv := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv("INQUIRY_DSN", "")
			t.Setenv("KAFKA_BROKERS", "")
			t.Setenv(kv[0], kv[1])
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%s", kv[0], kv[1])
			}
		})
	}
}
