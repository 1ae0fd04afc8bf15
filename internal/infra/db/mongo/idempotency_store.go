package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"estatedesk/internal/app/middleware"
)

const (
	idempotencyCollection = "inbox_send_replays"
	// A client retrying a send after a day gets a fresh send.
	idempotencyTTL = 24 * time.Hour
)

// IdempotencyStore keeps the result of each keyed send so a retried request
// replays the original message instead of posting it twice.
type IdempotencyStore struct {
	col *mongo.Collection
	now func() time.Time
}

// NewIdempotencyStore ensures the expiry index exists.
func NewIdempotencyStore(ctx context.Context, db *mongo.Database) (*IdempotencyStore, error) {
	col := db.Collection(idempotencyCollection)
	_, err := col.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "stored_at", Value: 1}},
		Options: options.Index().SetName("stored_at_ttl").SetExpireAfterSeconds(int32(idempotencyTTL.Seconds())),
	})
	if err != nil {
		return nil, fmt.Errorf("mongo: idempotency index: %w", err)
	}
	return &IdempotencyStore{col: col, now: time.Now}, nil
}

func (s *IdempotencyStore) Get(ctx context.Context, key string) (middleware.IdempotencyRecord, bool, error) {
	var doc replayDocument
	err := s.col.FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		return middleware.IdempotencyRecord{}, false, nil
	case err != nil:
		return middleware.IdempotencyRecord{}, false, fmt.Errorf("mongo: replay %s: %w", key, err)
	}
	// Expired documents linger until the TTL monitor runs.
	if s.now().Sub(doc.StoredAt) > idempotencyTTL {
		return middleware.IdempotencyRecord{}, false, nil
	}
	return middleware.IdempotencyRecord{
		Key:         doc.Key,
		Fingerprint: doc.Fingerprint,
		Payload:     doc.Result,
		OccurredAt:  doc.OccurredAt,
	}, true, nil
}

func (s *IdempotencyStore) Save(ctx context.Context, rec middleware.IdempotencyRecord) error {
	doc := replayDocument{
		Key:         rec.Key,
		Fingerprint: rec.Fingerprint,
		Result:      rec.Payload,
		OccurredAt:  rec.OccurredAt,
		StoredAt:    s.now().UTC(),
	}
	_, err := s.col.ReplaceOne(ctx, bson.M{"_id": rec.Key}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("mongo: store replay %s: %w", rec.Key, err)
	}
	return nil
}

type replayDocument struct {
	Key         string    `bson:"_id"`
	Fingerprint string    `bson:"fingerprint,omitempty"`
	Result      []byte    `bson:"result,omitempty"`
	OccurredAt  time.Time `bson:"occurred_at"`
	StoredAt    time.Time `bson:"stored_at"`
}

var _ middleware.IdempotencyStore = (*IdempotencyStore)(nil)
