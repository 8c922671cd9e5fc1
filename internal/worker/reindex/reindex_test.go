package reindex_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bramble-social/bramble/internal/friends"
	"github.com/bramble-social/bramble/internal/store"
	"github.com/bramble-social/bramble/internal/store/memstore"
	"github.com/bramble-social/bramble/internal/worker/reindex"
)

func putEdge(t *testing.T, s *memstore.Store, owner, peer string) *store.Item {
	t.Helper()

	now := time.Now()
	item, err := friends.EdgeItem(&friends.Edge{
		OwnerID:      owner,
		PeerID:       peer,
		Role:         friends.RoleRequester,
		Status:       friends.StatusAccepted,
		FriendshipID: owner + "-" + peer,
		RequestedAt:  now,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	require.NoError(t, err)
	require.NoError(t, s.Put(t.Context(), item))
	return item
}

func TestRunRewritesProjections(t *testing.T) {
	t.Parallel()

	logger, err := zap.NewDevelopment()
	require.NoError(t, err)

	s := memstore.New()
	item := putEdge(t, s, "alice", "bob")
	putEdge(t, s, "bob", "alice")
	putEdge(t, s, "carol", "dave")

	// Corrupt one projection, as after a key layout change.
	ctx := t.Context()
	damaged, err := s.Get(ctx, item.PK, item.SK)
	require.NoError(t, err)
	damaged.GSI1PK, damaged.GSI1SK = "", ""
	damaged.GSI3PK, damaged.GSI3SK = "", ""
	require.NoError(t, s.Put(ctx, damaged))

	worker := reindex.New(s, 4, logger)
	stats, err := worker.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, int64(3), stats.Scanned)
	assert.Equal(t, int64(3), stats.Rewritten)
	assert.Equal(t, int64(0), stats.Skipped)

	repaired, err := s.Get(ctx, item.PK, item.SK)
	require.NoError(t, err)
	assert.Equal(t, item.GSI1PK, repaired.GSI1PK)
	assert.Equal(t, item.GSI1SK, repaired.GSI1SK)
	assert.Equal(t, item.GSI3PK, repaired.GSI3PK)
	assert.Equal(t, item.GSI3SK, repaired.GSI3SK)
}

func TestRunSkipsUndecodableRecords(t *testing.T) {
	t.Parallel()

	logger, err := zap.NewDevelopment()
	require.NoError(t, err)

	s := memstore.New()
	putEdge(t, s, "alice", "bob")

	ctx := t.Context()
	require.NoError(t, s.Put(ctx, &store.Item{
		PK:   "USER#broken",
		SK:   "FRIEND#record",
		Data: []byte("not json"),
	}))

	worker := reindex.New(s, 2, logger)
	stats, err := worker.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, int64(2), stats.Scanned)
	assert.Equal(t, int64(1), stats.Rewritten)
	assert.Equal(t, int64(1), stats.Skipped)
}

func TestRunIgnoresNonEdgeRecords(t *testing.T) {
	t.Parallel()

	logger, err := zap.NewDevelopment()
	require.NoError(t, err)

	s := memstore.New()
	putEdge(t, s, "alice", "bob")

	ctx := t.Context()
	require.NoError(t, s.Put(ctx, &store.Item{
		PK:   "USER#alice",
		SK:   "POST#123",
		Data: []byte(`{"postId":"123"}`),
	}))

	worker := reindex.New(s, 2, logger)
	stats, err := worker.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, int64(1), stats.Scanned)
}
