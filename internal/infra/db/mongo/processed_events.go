package mongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ProcessedEvents deduplicates broker deliveries per consumer.
type ProcessedEvents struct {
	col      *mongo.Collection
	consumer string
}

func NewProcessedEvents(db *mongo.Database, consumer string) *ProcessedEvents {
	col := db.Collection("inbox_processed_events")
	_, _ = col.Indexes().CreateOne(context.Background(), mongo.IndexModel{
		Keys:    bson.D{{Key: "event_id", Value: 1}, {Key: "consumer", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return &ProcessedEvents{col: col, consumer: consumer}
}

// Seen records eventID and reports whether this consumer recorded it before.
func (s *ProcessedEvents) Seen(ctx context.Context, eventID string) (bool, error) {
	doc := bson.M{"event_id": eventID, "consumer": s.consumer, "received_at": time.Now().UTC()}
	_, err := s.col.InsertOne(ctx, doc)
	if err == nil {
		return false, nil
	}
	if mongo.IsDuplicateKeyError(err) {
		return true, nil
	}
	return false, err
}
