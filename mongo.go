package sessionstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// MongoStore implements Backend with one document per session in a MongoDB
// collection owned by the caller. Times are stored as BSON dates, which
// keep millisecond precision.
type MongoStore struct {
	coll            *mongo.Collection
	maxSessionBytes int
}

// MongoConfig holds configuration for the MongoDB store.
type MongoConfig struct {
	Collection      string // Defaults to "sessions".
	MaxSessionBytes int
	// SkipIndexes leaves index creation to the caller.
	SkipIndexes bool
}

type mongoSession struct {
	ID        string            `bson:"_id"`
	Data      map[string][]byte `bson:"data"`
	CreatedAt time.Time         `bson:"created_at"`
	ExpiresAt time.Time         `bson:"expires_at"`
	Longterm  bool              `bson:"longterm"`
	Storable  bool              `bson:"storable"`
	StoreID   string            `bson:"store_id"`
}

// NewMongoStore returns a store on db, creating the expires_at index unless
// told otherwise.
func NewMongoStore(ctx context.Context, db *mongo.Database, cfg MongoConfig) (*MongoStore, error) {
	name, err := sqlTableName(cfg.Collection)
	if err != nil {
		return nil, err
	}
	coll := db.Collection(name)
	if !cfg.SkipIndexes {
		_, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
			Keys: bson.D{{Key: "expires_at", Value: 1}},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create expires_at index: %w", err)
		}
	}
	return &MongoStore{coll: coll, maxSessionBytes: cfg.MaxSessionBytes}, nil
}

func (s *MongoStore) Load(ctx context.Context, id string) (*Record, error) {
	filter := bson.D{
		{Key: "_id", Value: id},
		{Key: "expires_at", Value: bson.D{{Key: "$gt", Value: time.Now()}}},
	}
	var doc mongoSession
	err := s.coll.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if s.maxSessionBytes > 0 && dataSize(doc.Data) > s.maxSessionBytes {
		return nil, ErrSessionTooLarge
	}
	if doc.Data == nil {
		doc.Data = make(map[string][]byte)
	}
	return &Record{
		ID:        doc.ID,
		Data:      doc.Data,
		CreatedAt: doc.CreatedAt,
		ExpiresAt: doc.ExpiresAt,
		Longterm:  doc.Longterm,
		Storable:  doc.Storable,
		StoreID:   doc.StoreID,
	}, nil
}

func (s *MongoStore) Save(ctx context.Context, r *Record) error {
	if r == nil || r.ID == "" {
		return ErrInvalidSessionID
	}
	if s.maxSessionBytes > 0 && dataSize(r.Data) > s.maxSessionBytes {
		return ErrSessionTooLarge
	}
	doc := mongoSession{
		ID:        r.ID,
		Data:      r.Data,
		CreatedAt: r.CreatedAt,
		ExpiresAt: ceilTime(r.ExpiresAt, time.Millisecond), // BSON dates hold milliseconds
		Longterm:  r.Longterm,
		Storable:  r.Storable,
		StoreID:   r.StoreID,
	}
	_, err := s.coll.ReplaceOne(ctx, bson.D{{Key: "_id", Value: r.ID}}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (s *MongoStore) Delete(ctx context.Context, id string) error {
	if _, err := s.coll.DeleteOne(ctx, bson.D{{Key: "_id", Value: id}}); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (s *MongoStore) CleanupExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := s.coll.DeleteMany(ctx, bson.D{
		{Key: "expires_at", Value: bson.D{{Key: "$lt", Value: now}}},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup expired sessions: %w", err)
	}
	return int(res.DeletedCount), nil
}

func (s *MongoStore) Count(ctx context.Context) (int, error) {
	n, err := s.coll.CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, fmt.Errorf("failed to count sessions: %w", err)
	}
	return int(n), nil
}

// Close is a no-op: the client belongs to the caller.
func (s *MongoStore) Close() error {
	return nil
}

// dataSize is the payload size used for MaxSessionBytes on backends that
// do not store a single blob.
func dataSize(data map[string][]byte) int {
	n := 0
	for k, v := range data {
		n += len(k) + len(v)
	}
	return n
}
