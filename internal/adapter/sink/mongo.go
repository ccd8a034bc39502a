package sink

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"

	"legisrag/internal/domain"
)

// MongoSink appends query events to a collection.
type MongoSink struct {
	coll    *mongo.Collection
	timeout time.Duration
}

func NewMongoSink(client *mongo.Client, database, collection string, timeout time.Duration) *MongoSink {
	return &MongoSink{
		coll:    client.Database(database).Collection(collection),
		timeout: timeout,
	}
}

func (s *MongoSink) Record(ctx context.Context, ev domain.QueryEvent) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	if _, err := s.coll.InsertOne(ctx, ev); err != nil {
		return fmt.Errorf("failed to record query %s: %w", ev.RequestID, err)
	}
	return nil
}
