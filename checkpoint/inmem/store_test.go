package inmem_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/flowengine/checkpoint"
	"goa.design/flowengine/checkpoint/inmem"
	"goa.design/flowengine/message"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	store := inmem.New()
	ctx := context.Background()
	cp := checkpoint.Checkpoint{
		ID:          "cp-1",
		GraphID:     "g-1",
		RunID:       "r-1",
		NodeID:      "wait-for-approval",
		Message:     message.New("hi"),
		VisitCounts: map[string]int{"a": 2},
		CreatedAt:   time.Now().UTC(),
	}
	require.NoError(t, store.Save(ctx, cp))

	loaded, err := store.Load(ctx, "cp-1")
	require.NoError(t, err)
	assert.Equal(t, cp.GraphID, loaded.GraphID)
	assert.Equal(t, cp.NodeID, loaded.NodeID)
	assert.Equal(t, 2, loaded.VisitCounts["a"])
}

func TestLoadMissingReturnsErrCheckpointMissing(t *testing.T) {
	store := inmem.New()
	_, err := store.Load(context.Background(), "nope")
	assert.ErrorIs(t, err, checkpoint.ErrCheckpointMissing)
}

func TestLoadExpiredReturnsErrCheckpointExpired(t *testing.T) {
	store := inmem.New()
	ctx := context.Background()
	cp := checkpoint.Checkpoint{
		ID:        "cp-expired",
		CreatedAt: time.Now().UTC().Add(-2 * time.Hour),
		ExpiresAt: time.Now().UTC().Add(-time.Hour),
	}
	require.NoError(t, store.Save(ctx, cp))

	_, err := store.Load(ctx, "cp-expired")
	assert.ErrorIs(t, err, checkpoint.ErrCheckpointExpired)
}

func TestDeleteByRunRemovesEveryCheckpointForThatRun(t *testing.T) {
	store := inmem.New()
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, checkpoint.Checkpoint{ID: "a", RunID: "r-1", CreatedAt: time.Now()}))
	require.NoError(t, store.Save(ctx, checkpoint.Checkpoint{ID: "b", RunID: "r-1", CreatedAt: time.Now()}))
	require.NoError(t, store.Save(ctx, checkpoint.Checkpoint{ID: "c", RunID: "r-2", CreatedAt: time.Now()}))

	require.NoError(t, store.DeleteByRun(ctx, "r-1"))

	remaining, err := store.ListByRun(ctx, "r-1")
	require.NoError(t, err)
	assert.Empty(t, remaining)

	other, err := store.ListByRun(ctx, "r-2")
	require.NoError(t, err)
	assert.Len(t, other, 1)
}

func TestListByGraphOrdersMostRecentFirst(t *testing.T) {
	store := inmem.New()
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, store.Save(ctx, checkpoint.Checkpoint{ID: "older", GraphID: "g", CreatedAt: now.Add(-time.Minute)}))
	require.NoError(t, store.Save(ctx, checkpoint.Checkpoint{ID: "newer", GraphID: "g", CreatedAt: now}))

	cps, err := store.ListByGraph(ctx, "g")
	require.NoError(t, err)
	require.Len(t, cps, 2)
	assert.Equal(t, "newer", cps[0].ID)
	assert.Equal(t, "older", cps[1].ID)
}

func TestMutatingReturnedCheckpointDoesNotAffectStore(t *testing.T) {
	store := inmem.New()
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, checkpoint.Checkpoint{ID: "cp", VisitCounts: map[string]int{"n": 1}}))

	loaded, err := store.Load(ctx, "cp")
	require.NoError(t, err)
	loaded.VisitCounts["n"] = 99

	reloaded, err := store.Load(ctx, "cp")
	require.NoError(t, err)
	assert.Equal(t, 1, reloaded.VisitCounts["n"])
}
