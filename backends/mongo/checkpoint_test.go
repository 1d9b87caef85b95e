package mongo_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	backendmongo "goa.design/flowengine/backends/mongo"
	"goa.design/flowengine/checkpoint"
	"goa.design/flowengine/message"
)

func newTestStore(t *testing.T) *backendmongo.Store {
	t.Helper()
	ctx := context.Background()

	var containerErr error
	var container testcontainers.Container
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
		container, containerErr = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: req,
			Started:          true,
		})
	}()
	if containerErr != nil {
		t.Skipf("docker not available, skipping mongo integration test: %v", containerErr)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "27017")
	require.NoError(t, err)

	uri := fmt.Sprintf("mongodb://%s:%s", host, port.Port())
	client, err := mongodriver.Connect(options.Client().ApplyURI(uri))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Disconnect(ctx) })

	store, err := backendmongo.New(ctx, backendmongo.Options{
		Client:   client,
		Database: "flowengine_test",
		Collection: t.Name(),
	})
	require.NoError(t, err)
	return store
}

func TestMongoStoreSaveThenLoadRoundTrips(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	cp := checkpoint.Checkpoint{
		ID:      "cp-1",
		GraphID: "g1",
		RunID:   "r1",
		NodeID:  "approve",
		Message: message.New("hello"),
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.Save(ctx, cp))

	got, err := store.Load(ctx, "cp-1")
	require.NoError(t, err)
	assert.Equal(t, "g1", got.GraphID)
	assert.Equal(t, "hello", got.Message.Content)
}

func TestMongoStoreLoadMissingReturnsErrCheckpointMissing(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Load(context.Background(), "ghost")
	require.ErrorIs(t, err, checkpoint.ErrCheckpointMissing)
}

func TestMongoStoreDeleteByRunRemovesEveryCheckpointForThatRun(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, checkpoint.Checkpoint{ID: "a", GraphID: "g", RunID: "r1", Message: message.New("x"), CreatedAt: time.Now().UTC()}))
	require.NoError(t, store.Save(ctx, checkpoint.Checkpoint{ID: "b", GraphID: "g", RunID: "r1", Message: message.New("x"), CreatedAt: time.Now().UTC()}))

	require.NoError(t, store.DeleteByRun(ctx, "r1"))
	list, err := store.ListByRun(ctx, "r1")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestMongoStoreExistsReflectsPresence(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	ok, err := store.Exists(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Save(ctx, checkpoint.Checkpoint{ID: "present", GraphID: "g", RunID: "r", Message: message.New("x"), CreatedAt: time.Now().UTC()}))
	ok, err = store.Exists(ctx, "present")
	require.NoError(t, err)
	assert.True(t, ok)
}
