// Package state: MongoDB-backed Store implementation for production
// deployments needing durability and multi-node visibility, grounded on
// registry/store/mongo/mongo.go's upsert-by-_id pattern, adapted for
// optimistic-version compare-and-swap semantics via a filtered replace.
package state

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// MongoStore persists world-state entries to a MongoDB collection. Each
// document's _id is the state key; the version field backs optimistic
// concurrency via conditional replace/delete filters.
type MongoStore struct {
	collection *mongo.Collection
}

// Compile-time check that MongoStore implements Store.
var _ Store = (*MongoStore)(nil)

type stateDocument struct {
	Key      string            `bson:"_id"`
	Value    string            `bson:"value"` // base64-encoded
	Version  int64             `bson:"version"`
	Metadata map[string]string `bson:"metadata,omitempty"`
}

// NewMongoStore constructs a MongoStore using the provided collection. The
// collection should come from a connected *mongo.Client.
func NewMongoStore(collection *mongo.Collection) *MongoStore {
	return &MongoStore{collection: collection}
}

func (s *MongoStore) Create(ctx context.Context, key string, value []byte, metadata map[string]string) (Entry, error) {
	doc := stateDocument{Key: key, Value: base64.StdEncoding.EncodeToString(value), Version: 1, Metadata: metadata}
	_, err := s.collection.InsertOne(ctx, doc)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return Entry{}, ErrVersionConflict
		}
		return Entry{}, fmt.Errorf("state: mongo insert %q: %w", key, err)
	}
	return Entry{Key: key, Value: append([]byte(nil), value...), Version: 1, Metadata: metadata}, nil
}

func (s *MongoStore) Read(ctx context.Context, key string) (Entry, error) {
	var doc stateDocument
	err := s.collection.FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, fmt.Errorf("state: mongo read %q: %w", key, err)
	}
	return fromDocument(doc)
}

func (s *MongoStore) Update(ctx context.Context, key string, value []byte, expectedVersion int64, metadata map[string]string) (Entry, error) {
	next := stateDocument{Key: key, Value: base64.StdEncoding.EncodeToString(value), Version: expectedVersion + 1, Metadata: metadata}
	opts := options.Replace()
	res, err := s.collection.ReplaceOne(ctx, bson.M{"_id": key, "version": expectedVersion}, next, opts)
	if err != nil {
		return Entry{}, fmt.Errorf("state: mongo update %q: %w", key, err)
	}
	if res.MatchedCount == 0 {
		if _, err := s.Read(ctx, key); errors.Is(err, ErrNotFound) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, ErrVersionConflict
	}
	return Entry{Key: key, Value: append([]byte(nil), value...), Version: expectedVersion + 1, Metadata: metadata}, nil
}

func (s *MongoStore) Delete(ctx context.Context, key string, expectedVersion int64) error {
	res, err := s.collection.DeleteOne(ctx, bson.M{"_id": key, "version": expectedVersion})
	if err != nil {
		return fmt.Errorf("state: mongo delete %q: %w", key, err)
	}
	if res.DeletedCount == 0 {
		if _, err := s.Read(ctx, key); errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return ErrVersionConflict
	}
	return nil
}

func (s *MongoStore) Keys(ctx context.Context) ([]string, error) {
	cur, err := s.collection.Find(ctx, bson.M{}, options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, fmt.Errorf("state: mongo keys: %w", err)
	}
	defer cur.Close(ctx)
	var keys []string
	for cur.Next(ctx) {
		var doc struct {
			Key string `bson:"_id"`
		}
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		keys = append(keys, doc.Key)
	}
	return keys, cur.Err()
}

func (s *MongoStore) Snapshot(ctx context.Context) (Snapshot, error) {
	cur, err := s.collection.Find(ctx, bson.M{})
	if err != nil {
		return Snapshot{}, fmt.Errorf("state: mongo snapshot: %w", err)
	}
	defer cur.Close(ctx)
	out := make(map[string]Entry)
	for cur.Next(ctx) {
		var doc stateDocument
		if err := cur.Decode(&doc); err != nil {
			return Snapshot{}, err
		}
		e, err := fromDocument(doc)
		if err != nil {
			return Snapshot{}, err
		}
		out[e.Key] = e
	}
	return Snapshot{Entries: out}, cur.Err()
}

func fromDocument(doc stateDocument) (Entry, error) {
	value, err := base64.StdEncoding.DecodeString(doc.Value)
	if err != nil {
		return Entry{}, fmt.Errorf("state: decode value for %q: %w", doc.Key, err)
	}
	return Entry{Key: doc.Key, Value: value, Version: doc.Version, Metadata: doc.Metadata}, nil
}
