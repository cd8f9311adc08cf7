package outbox_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/flowkernel/kernel/internal/outbox"
	"github.com/flowkernel/kernel/internal/telemetry"
)

var (
	testOutboxMongoClient    *mongo.Client
	testOutboxMongoContainer testcontainers.Container
	skipOutboxMongoTests     bool
)

func setupOutboxMongoDB(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	var containerErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				containerErr = fmt.Errorf("docker not available: %v", r)
			}
		}()
		req := testcontainers.ContainerRequest{
			Image:        "mongo:7",
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   wait.ForLog("Waiting for connections"),
			Tmpfs:        map[string]string{"/data/db": "rw"},
		}
		testOutboxMongoContainer, containerErr = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: req,
			Started:          true,
		})
	}()
	if containerErr != nil {
		skipOutboxMongoTests = true
		return
	}

	host, err := testOutboxMongoContainer.Host(ctx)
	if err != nil {
		skipOutboxMongoTests = true
		return
	}
	port, err := testOutboxMongoContainer.MappedPort(ctx, "27017")
	if err != nil {
		skipOutboxMongoTests = true
		return
	}

	uri := fmt.Sprintf("mongodb://%s:%s", host, port.Port())
	testOutboxMongoClient, err = mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		skipOutboxMongoTests = true
		return
	}
	if err := testOutboxMongoClient.Ping(ctx, nil); err != nil {
		skipOutboxMongoTests = true
	}
}

func getOutboxMongoStore(t *testing.T) *outbox.MongoStore {
	t.Helper()
	if testOutboxMongoClient == nil && !skipOutboxMongoTests {
		setupOutboxMongoDB(t)
	}
	if skipOutboxMongoTests {
		t.Skip("Docker not available, skipping MongoDB test")
	}
	collection := testOutboxMongoClient.Database("kernel_test").Collection(t.Name())
	_ = collection.Drop(context.Background())
	return outbox.NewMongoStore(collection, telemetry.NoopLogger{}, 0)
}

func TestMongoStoreRetryWithIdempotencySucceedsOnSecondAttempt(t *testing.T) {
	store := getOutboxMongoStore(t)
	ctx := context.Background()

	var calls int32
	executor := func(ctx context.Context) (json.RawMessage, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return nil, errors.New("transient failure")
		}
		return json.RawMessage(`{"written":true}`), nil
	}

	_, err := store.Execute(ctx, "wf1", "t1", "write-file", nil, "k1", 3, executor)
	require.Error(t, err)

	entry, err := store.Execute(ctx, "wf1", "t1", "write-file", nil, "k1", 3, executor)
	require.NoError(t, err)
	require.Equal(t, outbox.Committed, entry.State)
	require.JSONEq(t, `{"written":true}`, string(entry.Result))
}

func TestMongoStoreAttemptsReachingMaxYieldsDeadLetterNotFailed(t *testing.T) {
	store := getOutboxMongoStore(t)
	ctx := context.Background()

	executor := func(ctx context.Context) (json.RawMessage, error) {
		return nil, errors.New("permanent failure")
	}

	var entry outbox.Entry
	var err error
	for i := 0; i < 2; i++ {
		entry, err = store.Execute(ctx, "wf1", "t1", "tool", nil, "k1", 2, executor)
		require.Error(t, err)
	}

	require.Equal(t, outbox.DeadLetter, entry.State)
	require.Equal(t, 2, entry.Attempts)

	_, err = store.Execute(ctx, "wf1", "t1", "tool", nil, "k1", 2, executor)
	require.ErrorIs(t, err, outbox.ErrAttemptsExhausted)
}

func TestMongoStoreCleanupDeletesOldCommittedEntries(t *testing.T) {
	store := getOutboxMongoStore(t)
	ctx := context.Background()

	executor := func(ctx context.Context) (json.RawMessage, error) {
		return json.RawMessage(`{}`), nil
	}
	entry, err := store.Execute(ctx, "wf1", "t1", "tool", nil, "k1", 1, executor)
	require.NoError(t, err)

	deleted, err := store.Cleanup(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, 1, deleted)

	_, err = store.GetByID(ctx, entry.ID)
	require.ErrorIs(t, err, outbox.ErrNotFound)
}
