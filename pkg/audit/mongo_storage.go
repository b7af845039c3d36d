package audit

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// MongoStorage stores events in a MongoDB collection.
type MongoStorage struct {
	coll *mongo.Collection
}

// NewMongoStorage uses the "audit_events" collection of db.
func NewMongoStorage(db *mongo.Database) *MongoStorage {
	return &MongoStorage{coll: db.Collection("audit_events")}
}

// EnsureIndexes creates the query indexes.
func (s *MongoStorage) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "resource_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "workspace_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "action", Value: 1}, {Key: "created_at", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("create audit indexes: %w", err)
	}
	return nil
}

func (s *MongoStorage) Store(ctx context.Context, events ...Event) error {
	if len(events) == 0 {
		return nil
	}
	docs := make([]any, len(events))
	for i, e := range events {
		docs[i] = e
	}
	if _, err := s.coll.InsertMany(ctx, docs); err != nil {
		return errors.Join(ErrStorageNotAvailable, err)
	}
	return nil
}

func (s *MongoStorage) Query(ctx context.Context, c Criteria) ([]Event, error) {
	filter := bson.D{}
	if c.Action != "" {
		filter = append(filter, bson.E{Key: "action", Value: c.Action})
	}
	if c.ResourceID != "" {
		filter = append(filter, bson.E{Key: "resource_id", Value: c.ResourceID})
	}
	if c.WorkspaceID != "" {
		filter = append(filter, bson.E{Key: "workspace_id", Value: c.WorkspaceID})
	}
	created := bson.D{}
	if !c.Since.IsZero() {
		created = append(created, bson.E{Key: "$gte", Value: c.Since})
	}
	if !c.Until.IsZero() {
		created = append(created, bson.E{Key: "$lt", Value: c.Until})
	}
	if len(created) > 0 {
		filter = append(filter, bson.E{Key: "created_at", Value: created})
	}

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if c.Limit > 0 {
		opts.SetLimit(int64(c.Limit))
	}

	cur, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, errors.Join(ErrStorageNotAvailable, err)
	}

	out := make([]Event, 0)
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode audit events: %w", err)
	}
	return out, nil
}
