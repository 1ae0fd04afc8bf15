package scylla

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/gocql/gocql"

	"estatedesk/internal/infra/config"
)

var keyspacePattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// NewSession ensures the chat schema exists and returns a session bound to the keyspace.
func NewSession(ctx context.Context, cfg config.Config, logger *slog.Logger) (*gocql.Session, error) {
	if !keyspacePattern.MatchString(cfg.ScyllaKeyspace) {
		return nil, fmt.Errorf("invalid keyspace name: %s", cfg.ScyllaKeyspace)
	}

	baseCluster := newCluster(cfg)
	baseSession, err := baseCluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("connect to scylla: %w", err)
	}
	defer baseSession.Close()
	if err := ensureKeyspace(ctx, baseSession, cfg); err != nil {
		return nil, err
	}

	cluster := newCluster(cfg)
	cluster.Keyspace = cfg.ScyllaKeyspace
	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("connect to keyspace %s: %w", cfg.ScyllaKeyspace, err)
	}
	if err := ensureTables(ctx, session, cfg.ScyllaKeyspace); err != nil {
		session.Close()
		return nil, err
	}
	if logger != nil {
		logger.Info("scylla connected", "hosts", cfg.ScyllaHosts, "keyspace", cfg.ScyllaKeyspace)
	}
	return session, nil
}

func newCluster(cfg config.Config) *gocql.ClusterConfig {
	cluster := gocql.NewCluster(cfg.ScyllaHosts...)
	cluster.Timeout = cfg.ScyllaTimeout
	cluster.Consistency = cfg.ScyllaConsistency
	if cfg.ScyllaUsername != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: cfg.ScyllaUsername,
			Password: cfg.ScyllaPassword,
		}
		cluster.ConnectTimeout = cfg.ScyllaTimeout
	}
	return cluster
}

func ensureKeyspace(ctx context.Context, session *gocql.Session, cfg config.Config) error {
	rf := cfg.ReplicationFactor
	if rf < 1 {
		rf = 1
	}
	cql := fmt.Sprintf(
		"CREATE KEYSPACE IF NOT EXISTS %s WITH replication = {'class': 'SimpleStrategy', 'replication_factor': %d}",
		cfg.ScyllaKeyspace, rf,
	)
	if err := session.Query(cql).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("create keyspace: %w", err)
	}
	return nil
}

func ensureTables(ctx context.Context, session *gocql.Session, keyspace string) error {
	stmts := []struct {
		name string
		cql  string
	}{
		{"chat_rooms", `
CREATE TABLE IF NOT EXISTS %s.chat_rooms (
	id timeuuid PRIMARY KEY,
	buyer_id text,
	property_id text,
	receiver_id text,
	participants set<text>,
	last_message text,
	last_sender_role text,
	created_at timestamp,
	updated_at timestamp,
	read_status map<text, text>,
	read_at map<text, timestamp>
);`},
		{"chat_room_keys", `
CREATE TABLE IF NOT EXISTS %s.chat_room_keys (
	buyer_id text,
	property_id text,
	receiver_id text,
	room_id timeuuid,
	PRIMARY KEY ((buyer_id, property_id, receiver_id))
);`},
		{"chat_messages", `
CREATE TABLE IF NOT EXISTS %s.chat_messages (
	room_id timeuuid,
	message_id timeuuid,
	sender_id text,
	sender_role text,
	text text,
	created_at timestamp,
	PRIMARY KEY (room_id, message_id)
) WITH CLUSTERING ORDER BY (message_id ASC);`},
	}
	for _, stmt := range stmts {
		if err := session.Query(fmt.Sprintf(stmt.cql, keyspace)).WithContext(ctx).Exec(); err != nil {
			return fmt.Errorf("create %s table: %w", stmt.name, err)
		}
	}
	return nil
}
