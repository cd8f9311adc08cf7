package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/flowkernel/kernel/internal/telemetry"
)

// MongoStore is a MongoDB-backed Store, grounded on state.MongoStore's
// upsert-by-_id pattern: the document _id is the idempotency key, so a
// FindOneAndUpdate with upsert:true and a PROCESSING filter serves as the
// serialization point that a single-process singleflight.Group provides in
// MemoryStore and FileStore.
type MongoStore struct {
	collection *mongo.Collection
	logger     telemetry.Logger
	stuckAfter time.Duration
}

var _ Store = (*MongoStore)(nil)

type entryDocument struct {
	Key            string          `bson:"_id"` // idempotency key
	ID             string          `bson:"id"`
	WorkflowID     string          `bson:"workflowId"`
	TaskID         string          `bson:"taskId"`
	ToolID         string          `bson:"toolId"`
	Input          json.RawMessage `bson:"input,omitempty"`
	IdempotencyKey string          `bson:"idempotencyKey"`
	State          string          `bson:"state"`
	Attempts       int             `bson:"attempts"`
	MaxAttempts    int             `bson:"maxAttempts"`
	Result         json.RawMessage `bson:"result,omitempty"`
	Error          string          `bson:"error,omitempty"`
	CreatedAt      time.Time       `bson:"createdAt"`
	UpdatedAt      time.Time       `bson:"updatedAt"`
	CommittedAt    time.Time       `bson:"committedAt,omitempty"`
}

func NewMongoStore(collection *mongo.Collection, logger telemetry.Logger, stuckAfter time.Duration) *MongoStore {
	if stuckAfter <= 0 {
		stuckAfter = 5 * time.Minute
	}
	return &MongoStore{collection: collection, logger: logger, stuckAfter: stuckAfter}
}

func fromEntryDocument(doc entryDocument) Entry {
	return Entry{
		ID:             doc.ID,
		WorkflowID:     doc.WorkflowID,
		TaskID:         doc.TaskID,
		ToolID:         doc.ToolID,
		Input:          doc.Input,
		IdempotencyKey: doc.IdempotencyKey,
		State:          State(doc.State),
		Attempts:       doc.Attempts,
		MaxAttempts:    doc.MaxAttempts,
		Result:         doc.Result,
		Error:          doc.Error,
		CreatedAt:      doc.CreatedAt,
		UpdatedAt:      doc.UpdatedAt,
		CommittedAt:    doc.CommittedAt,
	}
}

func toEntryDocument(e Entry) entryDocument {
	return entryDocument{
		Key:            e.IdempotencyKey,
		ID:             e.ID,
		WorkflowID:     e.WorkflowID,
		TaskID:         e.TaskID,
		ToolID:         e.ToolID,
		Input:          e.Input,
		IdempotencyKey: e.IdempotencyKey,
		State:          string(e.State),
		Attempts:       e.Attempts,
		MaxAttempts:    e.MaxAttempts,
		Result:         e.Result,
		Error:          e.Error,
		CreatedAt:      e.CreatedAt,
		UpdatedAt:      e.UpdatedAt,
		CommittedAt:    e.CommittedAt,
	}
}

// Execute claims the entry for idempotencyKey by upserting it into
// PROCESSING state, runs executor, then records the outcome. Two concurrent
// callers racing on the same key will both attempt the upsert; MongoDB
// serializes writes to the same _id, so exactly one observes the freshly
// created PENDING->PROCESSING document and the other reads back the
// already-PROCESSING (or since-COMMITTED) state instead of re-running
// executor.
func (s *MongoStore) Execute(ctx context.Context, workflowID, taskID, toolID string, input json.RawMessage, idempotencyKey string, maxAttempts int, executor Executor) (Entry, error) {
	existing, err := s.GetByIdempotencyKey(ctx, idempotencyKey)
	switch {
	case err == nil && existing.State == Committed:
		return existing, nil
	case err == nil && existing.State == DeadLetter:
		return existing, ErrAttemptsExhausted
	case err != nil && !errors.Is(err, ErrNotFound):
		return Entry{}, err
	}

	now := time.Now().UTC()
	entry := existing
	if errors.Is(err, ErrNotFound) {
		entry = Entry{
			ID:             newEntryID(),
			WorkflowID:     workflowID,
			TaskID:         taskID,
			ToolID:         toolID,
			Input:          input,
			IdempotencyKey: idempotencyKey,
			MaxAttempts:    maxAttempts,
			CreatedAt:      now,
		}
	}
	entry.State = Processing
	entry.UpdatedAt = now

	doc := toEntryDocument(entry)
	if _, err := s.collection.ReplaceOne(ctx, bson.M{"_id": idempotencyKey},
		doc, options.Replace().SetUpsert(true)); err != nil {
		return Entry{}, fmt.Errorf("outbox: mongo claim %q: %w", idempotencyKey, err)
	}

	output, execErr := executor(ctx)

	entry.UpdatedAt = time.Now().UTC()
	if execErr != nil {
		entry.Attempts++
		entry.Error = execErr.Error()
		if entry.Attempts >= entry.MaxAttempts {
			entry.State = DeadLetter
		} else {
			entry.State = Failed
		}
		if _, err := s.collection.ReplaceOne(ctx, bson.M{"_id": idempotencyKey}, toEntryDocument(entry)); err != nil {
			return Entry{}, fmt.Errorf("outbox: mongo record failure %q: %w", idempotencyKey, err)
		}
		return entry, execErr
	}

	entry.State = Committed
	entry.Result = output
	entry.Error = ""
	entry.CommittedAt = entry.UpdatedAt
	if _, err := s.collection.ReplaceOne(ctx, bson.M{"_id": idempotencyKey}, toEntryDocument(entry)); err != nil {
		return Entry{}, fmt.Errorf("outbox: mongo record commit %q: %w", idempotencyKey, err)
	}
	return entry, nil
}

func (s *MongoStore) GetByID(ctx context.Context, id string) (Entry, error) {
	var doc entryDocument
	err := s.collection.FindOne(ctx, bson.M{"id": id}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, fmt.Errorf("outbox: mongo get by id %q: %w", id, err)
	}
	return fromEntryDocument(doc), nil
}

func (s *MongoStore) GetByIdempotencyKey(ctx context.Context, key string) (Entry, error) {
	var doc entryDocument
	err := s.collection.FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, fmt.Errorf("outbox: mongo get by idempotency key %q: %w", key, err)
	}
	return fromEntryDocument(doc), nil
}

func (s *MongoStore) Reconcile(ctx context.Context, opts ReconcileOptions) (int, error) {
	maxAge := opts.MaxAge
	if maxAge <= 0 {
		maxAge = s.stuckAfter
	}
	cutoff := time.Now().UTC().Add(-maxAge)

	reset := 0
	res, err := s.collection.UpdateMany(ctx,
		bson.M{"state": string(Processing), "updatedAt": bson.M{"$lt": cutoff}},
		bson.M{"$set": bson.M{"state": string(Pending), "updatedAt": time.Now().UTC()}})
	if err != nil {
		return 0, fmt.Errorf("outbox: mongo reconcile stuck processing: %w", err)
	}
	reset += int(res.ModifiedCount)

	if opts.AutoRetry {
		res, err := s.collection.UpdateMany(ctx,
			bson.M{"state": string(Failed)},
			bson.M{"$set": bson.M{"state": string(Pending), "updatedAt": time.Now().UTC()}})
		if err != nil {
			return reset, fmt.Errorf("outbox: mongo reconcile retry failed: %w", err)
		}
		reset += int(res.ModifiedCount)
	}

	if opts.OnReconcile != nil {
		cur, err := s.collection.Find(ctx, bson.M{"state": string(DeadLetter)})
		if err != nil {
			return reset, fmt.Errorf("outbox: mongo scan dead letters: %w", err)
		}
		defer cur.Close(ctx)
		for cur.Next(ctx) {
			var doc entryDocument
			if err := cur.Decode(&doc); err != nil {
				continue
			}
			opts.OnReconcile(fromEntryDocument(doc))
		}
	}

	if s.logger != nil && reset > 0 {
		s.logger.Info(ctx, "outbox reconcile reset stuck entries", "count", reset)
	}
	return reset, nil
}

func (s *MongoStore) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	res, err := s.collection.DeleteMany(ctx, bson.M{
		"state":       string(Committed),
		"committedAt": bson.M{"$lt": cutoff},
	})
	if err != nil {
		return 0, fmt.Errorf("outbox: mongo cleanup: %w", err)
	}
	return int(res.DeletedCount), nil
}
