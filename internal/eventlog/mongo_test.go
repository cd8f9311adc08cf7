package eventlog_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/flowkernel/kernel/internal/eventlog"
)

var (
	testMongoClient    *mongo.Client
	testMongoContainer testcontainers.Container
	skipMongoTests     bool
)

func setupMongoDB(t *testing.T) {
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
		testMongoContainer, containerErr = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: req,
			Started:          true,
		})
	}()
	if containerErr != nil {
		skipMongoTests = true
		return
	}

	host, err := testMongoContainer.Host(ctx)
	if err != nil {
		skipMongoTests = true
		return
	}
	port, err := testMongoContainer.MappedPort(ctx, "27017")
	if err != nil {
		skipMongoTests = true
		return
	}

	uri := fmt.Sprintf("mongodb://%s:%s", host, port.Port())
	testMongoClient, err = mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		skipMongoTests = true
		return
	}
	if err := testMongoClient.Ping(ctx, nil); err != nil {
		skipMongoTests = true
	}
}

func getMongoLog(t *testing.T) *eventlog.MongoLog {
	t.Helper()
	if testMongoClient == nil && !skipMongoTests {
		setupMongoDB(t)
	}
	if skipMongoTests {
		t.Skip("Docker not available, skipping MongoDB test")
	}
	collection := testMongoClient.Database("kernel_test").Collection(t.Name())
	_ = collection.Drop(context.Background())
	return eventlog.NewMongoLog(collection)
}

// TestMongoLogPreservesAppendOrder mirrors end-to-end scenario coverage for
// the durable event log backend: records come back sorted by insertion
// sequence regardless of read concern.
func TestMongoLogPreservesAppendOrder(t *testing.T) {
	log := getMongoLog(t)
	ctx := context.Background()

	for i, typ := range []eventlog.Type{eventlog.TaskStarted, eventlog.TaskCompleted, eventlog.LockReleased} {
		require.NoError(t, log.Append(ctx, eventlog.Record{
			Timestamp:  time.Now(),
			WorkflowID: "wf-1",
			TaskID:     fmt.Sprintf("t%d", i),
			Type:       typ,
		}))
	}

	got, err := log.Read(ctx, "wf-1")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, eventlog.TaskStarted, got[0].Type)
	assert.Equal(t, eventlog.TaskCompleted, got[1].Type)
	assert.Equal(t, eventlog.LockReleased, got[2].Type)
}
