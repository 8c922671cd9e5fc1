package rest_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/redis/rueidis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bramble-social/bramble/internal/cache"
	"github.com/bramble-social/bramble/internal/feed"
	"github.com/bramble-social/bramble/internal/friends"
	"github.com/bramble-social/bramble/internal/posts"
	"github.com/bramble-social/bramble/internal/privacy"
	"github.com/bramble-social/bramble/internal/profile"
	"github.com/bramble-social/bramble/internal/rest"
	"github.com/bramble-social/bramble/internal/service"
	"github.com/bramble-social/bramble/internal/setup/config"
	"github.com/bramble-social/bramble/internal/store/memstore"
)

func setupTest(t *testing.T) (*gin.Engine, func()) {
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

	cfg := &config.Config{
		Server: config.Server{RequestTimeout: 5000},
		Feed: config.Feed{
			DefaultPageSize: 20,
			MaxPageSize:     100,
			FanoutLimit:     25,
			MaxConcurrent:   4,
		},
	}

	s := memstore.New()
	friendCache := cache.NewFriendList(client, 5*time.Minute, logger)
	friendRepo := friends.NewRepository(s, friendCache, logger)
	postRepo := posts.NewRepository(s, logger)
	evaluator := privacy.NewEvaluator(friendRepo, logger)
	aggregator := feed.New(friendRepo, postRepo, evaluator, &cfg.Feed, logger)
	svc := service.New(friendRepo, postRepo, evaluator, aggregator,
		profile.PlaceholderProvider{}, cfg, logger)

	engine := rest.NewServer(svc, &cfg.Server, logger)

	cleanup := func() {
		mr.Close()
		client.Close()
		logger.Sync()
	}

	return engine, cleanup
}

func doRequest(t *testing.T, engine *gin.Engine, method, path, callerID, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if callerID != "" {
		req.Header.Set("X-User-ID", callerID)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()

	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &payload))
	return payload.Error.Code
}

func TestIdentityHeaderRequired(t *testing.T) {
	t.Parallel()
	engine, cleanup := setupTest(t)
	defer cleanup()

	rec := doRequest(t, engine, http.MethodGet, "/v1/feed", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "missing_identity", errorCode(t, rec))
}

func TestFriendRequestFlow(t *testing.T) {
	t.Parallel()
	engine, cleanup := setupTest(t)
	defer cleanup()

	rec := doRequest(t, engine, http.MethodPost, "/v1/friends/requests", "alice",
		`{"addresseeId":"bob","message":"hi"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var view struct {
		FriendshipID string `json:"friendshipId"`
		Status       string `json:"status"`
	}
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "pending", view.Status)
	require.NotEmpty(t, view.FriendshipID)

	// Duplicate request conflicts.
	rec = doRequest(t, engine, http.MethodPost, "/v1/friends/requests", "alice",
		`{"addresseeId":"bob"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "request_pending", errorCode(t, rec))

	// The requester cannot accept.
	rec = doRequest(t, engine, http.MethodPost,
		"/v1/friends/requests/"+view.FriendshipID+"/accept", "alice", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "not_addressee", errorCode(t, rec))

	rec = doRequest(t, engine, http.MethodPost,
		"/v1/friends/requests/"+view.FriendshipID+"/accept", "bob", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, engine, http.MethodDelete, "/v1/friends/"+view.FriendshipID, "alice", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(t, engine, http.MethodDelete, "/v1/friends/"+view.FriendshipID, "alice", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "friendship_not_found", errorCode(t, rec))
}

func TestSendFriendRequestRejectsMissingBody(t *testing.T) {
	t.Parallel()
	engine, cleanup := setupTest(t)
	defer cleanup()

	rec := doRequest(t, engine, http.MethodPost, "/v1/friends/requests", "alice", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request", errorCode(t, rec))
}

func TestPostVisibilityOverHTTP(t *testing.T) {
	t.Parallel()
	engine, cleanup := setupTest(t)
	defer cleanup()

	rec := doRequest(t, engine, http.MethodPost, "/v1/posts", "alice",
		`{"content":"friends only","visibility":"friends"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var post struct {
		PostID string `json:"postId"`
	}
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &post))

	rec = doRequest(t, engine, http.MethodGet, "/v1/users/alice/posts/"+post.PostID, "bob", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "access_denied", errorCode(t, rec))

	rec = doRequest(t, engine, http.MethodGet, "/v1/users/alice/posts/"+post.PostID, "alice", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUpdateAndDeletePostOverHTTP(t *testing.T) {
	t.Parallel()
	engine, cleanup := setupTest(t)
	defer cleanup()

	rec := doRequest(t, engine, http.MethodPost, "/v1/posts", "alice",
		`{"content":"mutable"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var post struct {
		PostID string `json:"postId"`
	}
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &post))

	rec = doRequest(t, engine, http.MethodPatch, "/v1/posts/"+post.PostID+"/visibility", "alice",
		`{"visibility":"private"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, engine, http.MethodGet, "/v1/users/alice/posts/"+post.PostID, "bob", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doRequest(t, engine, http.MethodDelete, "/v1/posts/"+post.PostID, "alice", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(t, engine, http.MethodGet, "/v1/users/alice/posts/"+post.PostID, "alice", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFeedEndpoint(t *testing.T) {
	t.Parallel()
	engine, cleanup := setupTest(t)
	defer cleanup()

	rec := doRequest(t, engine, http.MethodPost, "/v1/posts", "alice",
		`{"content":"hello world"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(t, engine, http.MethodGet, "/v1/feed?limit=10", "bob", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var page struct {
		Items []struct {
			Post struct {
				Content string `json:"content"`
			} `json:"post"`
		} `json:"items"`
	}
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Items, 1)
	assert.Equal(t, "hello world", page.Items[0].Post.Content)
}

func TestListFriendsInvalidCursorOverHTTP(t *testing.T) {
	t.Parallel()
	engine, cleanup := setupTest(t)
	defer cleanup()

	rec := doRequest(t, engine, http.MethodGet, "/v1/friends?cursor=%21%21bad%21%21", "alice", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_cursor", errorCode(t, rec))
}
