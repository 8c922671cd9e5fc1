package feed_test

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/rueidis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bramble-social/bramble/internal/cache"
	"github.com/bramble-social/bramble/internal/feed"
	"github.com/bramble-social/bramble/internal/friends"
	"github.com/bramble-social/bramble/internal/posts"
	"github.com/bramble-social/bramble/internal/privacy"
	"github.com/bramble-social/bramble/internal/setup/config"
	"github.com/bramble-social/bramble/internal/store/memstore"
)

type testEnv struct {
	aggregator *feed.Aggregator
	friends    *friends.Repository
	posts      *posts.Repository
	store      *memstore.Store
}

func setupTest(t *testing.T) (*testEnv, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)

	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:       []string{mr.Addr()},
		DisableCache:      true,
		ForceSingleClient: true,
	})
	require.NoError(t, err)

	logger, err := zap.NewDevelopment()
	require.NoError(t, err)

	s := memstore.New()
	friendCache := cache.NewFriendList(client, 5*time.Minute, logger)
	friendRepo := friends.NewRepository(s, friendCache, logger)
	postRepo := posts.NewRepository(s, logger)
	evaluator := privacy.NewEvaluator(friendRepo, logger)

	cfg := &config.Feed{
		DefaultPageSize: 20,
		MaxPageSize:     100,
		FanoutLimit:     25,
		MaxConcurrent:   4,
	}
	aggregator := feed.New(friendRepo, postRepo, evaluator, cfg, logger)

	cleanup := func() {
		mr.Close()
		client.Close()
		logger.Sync()
	}

	return &testEnv{
		aggregator: aggregator,
		friends:    friendRepo,
		posts:      postRepo,
		store:      s,
	}, cleanup
}

func befriend(t *testing.T, env *testEnv, requester, addressee string) {
	t.Helper()

	ctx := t.Context()
	edge, err := env.friends.SendRequest(ctx, requester, addressee, "")
	require.NoError(t, err)
	_, err = env.friends.Accept(ctx, addressee, edge.FriendshipID)
	require.NoError(t, err)
}

func createPost(t *testing.T, env *testEnv, author, content string, visibility posts.Visibility) *posts.Post {
	t.Helper()

	post, err := env.posts.Create(t.Context(), author, content, visibility)
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	return post
}

func contents(page *feed.Page) []string {
	out := make([]string, len(page.Posts))
	for i, post := range page.Posts {
		out[i] = post.Content
	}
	return out
}

func TestFeedMergesSourcesNewestFirst(t *testing.T) {
	t.Parallel()
	env, cleanup := setupTest(t)
	defer cleanup()

	befriend(t, env, "alice", "bob")

	createPost(t, env, "carol", "stranger public", posts.VisibilityPublic)
	createPost(t, env, "bob", "friend post", posts.VisibilityFriends)
	createPost(t, env, "alice", "my private note", posts.VisibilityPrivate)

	page, err := env.aggregator.GetFeed(t.Context(), "alice", 10, "")
	require.NoError(t, err)

	assert.Equal(t, []string{"my private note", "friend post", "stranger public"}, contents(page))
	assert.Empty(t, page.NextCursor)
}

func TestFeedDeduplicatesOwnPublicPost(t *testing.T) {
	t.Parallel()
	env, cleanup := setupTest(t)
	defer cleanup()

	// A public post by the viewer arrives from both the public stream and the
	// viewer's own partition; it must appear once.
	createPost(t, env, "alice", "hello everyone", posts.VisibilityPublic)

	page, err := env.aggregator.GetFeed(t.Context(), "alice", 10, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"hello everyone"}, contents(page))
}

func TestFeedDeduplicatesFriendPublicPost(t *testing.T) {
	t.Parallel()
	env, cleanup := setupTest(t)
	defer cleanup()

	befriend(t, env, "alice", "bob")
	createPost(t, env, "bob", "from a friend", posts.VisibilityPublic)

	page, err := env.aggregator.GetFeed(t.Context(), "alice", 10, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"from a friend"}, contents(page))
}

func TestFeedHidesNonFriendRestrictedPosts(t *testing.T) {
	t.Parallel()
	env, cleanup := setupTest(t)
	defer cleanup()

	createPost(t, env, "bob", "friends only", posts.VisibilityFriends)
	createPost(t, env, "bob", "private", posts.VisibilityPrivate)
	createPost(t, env, "bob", "public", posts.VisibilityPublic)

	page, err := env.aggregator.GetFeed(t.Context(), "alice", 10, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"public"}, contents(page))
}

func TestFeedDropsStaleStreamEntries(t *testing.T) {
	t.Parallel()
	env, cleanup := setupTest(t)
	defer cleanup()

	post := createPost(t, env, "bob", "was public", posts.VisibilityPublic)

	// Simulate a stale index entry: the record tightened to private but the
	// public-stream projection was not cleared.
	ctx := t.Context()
	item, err := env.store.Get(ctx, "USER#bob", "POST#"+post.PostID)
	require.NoError(t, err)

	item.Data = []byte(`{"postId":"` + post.PostID + `","authorId":"bob",` +
		`"content":"was public","visibility":"private",` +
		`"createdAt":"` + post.CreatedAt.Format(time.RFC3339Nano) + `",` +
		`"updatedAt":"` + post.UpdatedAt.Format(time.RFC3339Nano) + `"}`)
	require.NoError(t, env.store.Put(ctx, item))

	// The read-time privacy check catches what the index scope missed.
	page, err := env.aggregator.GetFeed(ctx, "alice", 10, "")
	require.NoError(t, err)
	assert.Empty(t, page.Posts)
}

func TestFeedPagination(t *testing.T) {
	t.Parallel()
	env, cleanup := setupTest(t)
	defer cleanup()

	befriend(t, env, "alice", "bob")

	expected := []string{"p1", "p2", "p3", "p4", "p5"}
	for _, content := range expected {
		createPost(t, env, "bob", content, posts.VisibilityFriends)
	}

	ctx := t.Context()
	page1, err := env.aggregator.GetFeed(ctx, "alice", 2, "")
	require.NoError(t, err)
	require.NotEmpty(t, page1.NextCursor)
	assert.Equal(t, []string{"p5", "p4"}, contents(page1))

	page2, err := env.aggregator.GetFeed(ctx, "alice", 2, page1.NextCursor)
	require.NoError(t, err)
	require.NotEmpty(t, page2.NextCursor)
	assert.Equal(t, []string{"p3", "p2"}, contents(page2))

	page3, err := env.aggregator.GetFeed(ctx, "alice", 2, page2.NextCursor)
	require.NoError(t, err)
	assert.Equal(t, []string{"p1"}, contents(page3))
	assert.Empty(t, page3.NextCursor)
}

func TestFeedPaginationSkipsFilteredNewestPosts(t *testing.T) {
	t.Parallel()
	env, cleanup := setupTest(t)
	defer cleanup()

	befriend(t, env, "alice", "bob")

	// Bob's newest posts are private, so the first fetch from his partition
	// yields nothing visible. Pagination must still surface every older
	// friends-visible post exactly once.
	for _, content := range []string{"v1", "v2", "v3"} {
		createPost(t, env, "bob", content, posts.VisibilityFriends)
	}
	createPost(t, env, "bob", "x1", posts.VisibilityPrivate)
	createPost(t, env, "bob", "x2", posts.VisibilityPrivate)

	ctx := t.Context()
	page1, err := env.aggregator.GetFeed(ctx, "alice", 2, "")
	require.NoError(t, err)
	require.NotEmpty(t, page1.NextCursor)
	assert.Equal(t, []string{"v3", "v2"}, contents(page1))

	page2, err := env.aggregator.GetFeed(ctx, "alice", 2, page1.NextCursor)
	require.NoError(t, err)
	assert.Equal(t, []string{"v1"}, contents(page2))
	assert.Empty(t, page2.NextCursor)
}

func TestFeedInvalidCursorRestartsFromTop(t *testing.T) {
	t.Parallel()
	env, cleanup := setupTest(t)
	defer cleanup()

	createPost(t, env, "alice", "latest", posts.VisibilityPublic)

	page, err := env.aggregator.GetFeed(t.Context(), "alice", 10, "%%garbage%%")
	require.NoError(t, err)
	assert.Equal(t, []string{"latest"}, contents(page))
}

func TestFeedEmptyForNewUser(t *testing.T) {
	t.Parallel()
	env, cleanup := setupTest(t)
	defer cleanup()

	page, err := env.aggregator.GetFeed(t.Context(), "nobody", 10, "")
	require.NoError(t, err)
	assert.NotNil(t, page.Posts)
	assert.Empty(t, page.Posts)
	assert.Empty(t, page.NextCursor)
}
