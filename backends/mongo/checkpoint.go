// Package mongo provides a MongoDB-backed checkpoint.Store for durable,
// multi-process resumable runs. Each checkpoint is indexed by its own ID,
// graph ID, and run ID for the store's List/Delete-by-run queries, with the
// Checkpoint itself (including its message.Message payload, whose Data
// blackboard can hold arbitrary node-specific values) kept as an opaque JSON
// blob rather than a hand-mapped bson schema, mirroring how the registry's
// Mongo store keeps provider-specific schema bytes opaque.
package mongo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"goa.design/flowengine/checkpoint"
)

const defaultCollection = "flowengine_checkpoints"

// Options configures a Store.
type Options struct {
	// Client is a connected Mongo client. Required.
	Client *mongo.Client
	// Database names the database checkpoints are stored in. Required.
	Database string
	// Collection names the collection. Defaults to "flowengine_checkpoints".
	Collection string
	// Timeout bounds each individual operation. Defaults to 5s.
	Timeout time.Duration
}

// Store is a MongoDB-backed checkpoint.Store.
type Store struct {
	coll    *mongo.Collection
	timeout time.Duration
}

var _ checkpoint.Store = (*Store)(nil)

type document struct {
	ID        string    `bson:"_id"`
	GraphID   string    `bson:"graph_id"`
	RunID     string    `bson:"run_id"`
	ExpiresAt time.Time `bson:"expires_at"`
	CreatedAt time.Time `bson:"created_at"`
	Payload   []byte    `bson:"payload"`
}

// New constructs a Store, ensuring the graph_id/run_id/expires_at indexes
// used by ListByGraph/ListByRun/DeleteExpired exist.
func New(ctx context.Context, opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	collName := opts.Collection
	if collName == "" {
		collName = defaultCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	coll := opts.Client.Database(opts.Database).Collection(collName)

	ictx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	_, err := coll.Indexes().CreateMany(ictx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "graph_id", Value: 1}}},
		{Keys: bson.D{{Key: "run_id", Value: 1}}},
		{Keys: bson.D{{Key: "expires_at", Value: 1}}},
	})
	if err != nil {
		return nil, fmt.Errorf("mongo checkpoint: create indexes: %w", err)
	}
	return &Store{coll: coll, timeout: timeout}, nil
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

func toDocument(cp checkpoint.Checkpoint) (document, error) {
	payload, err := json.Marshal(cp)
	if err != nil {
		return document{}, fmt.Errorf("mongo checkpoint: encode: %w", err)
	}
	return document{
		ID:        cp.ID,
		GraphID:   cp.GraphID,
		RunID:     cp.RunID,
		ExpiresAt: cp.ExpiresAt,
		CreatedAt: cp.CreatedAt,
		Payload:   payload,
	}, nil
}

func (d document) toCheckpoint() (checkpoint.Checkpoint, error) {
	var cp checkpoint.Checkpoint
	if err := json.Unmarshal(d.Payload, &cp); err != nil {
		return checkpoint.Checkpoint{}, fmt.Errorf("mongo checkpoint: decode: %w", err)
	}
	return cp, nil
}

// Save implements checkpoint.Store.
func (s *Store) Save(ctx context.Context, cp checkpoint.Checkpoint) error {
	doc, err := toDocument(cp)
	if err != nil {
		return err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, err = s.coll.UpdateOne(ctx,
		bson.M{"_id": doc.ID},
		bson.M{"$set": doc},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("mongo checkpoint: save: %w", err)
	}
	return nil
}

// Load implements checkpoint.Store.
func (s *Store) Load(ctx context.Context, id string) (checkpoint.Checkpoint, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var doc document
	if err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return checkpoint.Checkpoint{}, checkpoint.ErrCheckpointMissing
		}
		return checkpoint.Checkpoint{}, fmt.Errorf("mongo checkpoint: load: %w", err)
	}
	if !doc.ExpiresAt.IsZero() && time.Now().UTC().After(doc.ExpiresAt) {
		return checkpoint.Checkpoint{}, checkpoint.ErrCheckpointExpired
	}
	return doc.toCheckpoint()
}

// ListByGraph implements checkpoint.Store.
func (s *Store) ListByGraph(ctx context.Context, graphID string) ([]checkpoint.Checkpoint, error) {
	return s.list(ctx, bson.M{"graph_id": graphID})
}

// ListByRun implements checkpoint.Store.
func (s *Store) ListByRun(ctx context.Context, runID string) ([]checkpoint.Checkpoint, error) {
	return s.list(ctx, bson.M{"run_id": runID})
}

func (s *Store) list(ctx context.Context, filter bson.M) ([]checkpoint.Checkpoint, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	now := time.Now().UTC()
	filter["$or"] = bson.A{
		bson.M{"expires_at": bson.M{"$eq": time.Time{}}},
		bson.M{"expires_at": bson.M{"$gt": now}},
	}
	cur, err := s.coll.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("mongo checkpoint: list: %w", err)
	}
	defer cur.Close(ctx)

	var out []checkpoint.Checkpoint
	for cur.Next(ctx) {
		var doc document
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("mongo checkpoint: decode: %w", err)
		}
		cp, err := doc.toCheckpoint()
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, cur.Err()
}

// Delete implements checkpoint.Store.
func (s *Store) Delete(ctx context.Context, id string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	res, err := s.coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("mongo checkpoint: delete: %w", err)
	}
	if res.DeletedCount == 0 {
		return checkpoint.ErrCheckpointMissing
	}
	return nil
}

// DeleteByRun implements checkpoint.Store.
func (s *Store) DeleteByRun(ctx context.Context, runID string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, err := s.coll.DeleteMany(ctx, bson.M{"run_id": runID})
	if err != nil {
		return fmt.Errorf("mongo checkpoint: deleteByRun: %w", err)
	}
	return nil
}

// DeleteExpired implements checkpoint.Store.
func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	res, err := s.coll.DeleteMany(ctx, bson.M{
		"expires_at": bson.M{"$ne": time.Time{}, "$lte": now},
	})
	if err != nil {
		return 0, fmt.Errorf("mongo checkpoint: deleteExpired: %w", err)
	}
	return int(res.DeletedCount), nil
}

// Exists implements checkpoint.Store.
func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	n, err := s.coll.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return false, fmt.Errorf("mongo checkpoint: exists: %w", err)
	}
	return n > 0, nil
}
