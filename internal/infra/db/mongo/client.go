package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	appName        = "estatedesk-inbox"
	connectTimeout = 10 * time.Second
)

// Client owns the connection to the inbox database, which holds buyer
// profiles, send idempotency records and consumed event ids.
type Client struct {
	DB *mongo.Database
}

// New connects and pings the primary, so a bad URI fails at startup.
func New(ctx context.Context, uri, database string) (*Client, error) {
	if strings.TrimSpace(database) == "" {
		return nil, errors.New("mongo: database name required")
	}
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	opts := options.Client().
		ApplyURI(uri).
		SetAppName(appName).
		SetRetryWrites(true).
		SetServerSelectionTimeout(connectTimeout)
	m, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo: connect: %w", err)
	}
	if err := m.Ping(ctx, readpref.Primary()); err != nil {
		_ = m.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo: ping: %w", err)
	}
	return &Client{DB: m.Database(database)}, nil
}

// Ping backs the readiness probe; a secondary is enough to serve reads.
func (c *Client) Ping(ctx context.Context) error {
	return c.DB.Client().Ping(ctx, readpref.PrimaryPreferred())
}

func (c *Client) Close(ctx context.Context) error {
	return c.DB.Client().Disconnect(ctx)
}
