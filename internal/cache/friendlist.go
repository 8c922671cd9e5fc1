// Package cache holds the bounded-TTL friend-list cache. The store remains
// the source of truth: entries are always reconstructable, and cache failures
// degrade to a store read rather than an error.
package cache

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/rueidis"
	"go.uber.org/zap"
)

// friendListPrefix namespaces Redis keys holding accepted-friend id lists.
// Keys are formatted as "friends:{userID}".
const friendListPrefix = "friends:"

// FriendList caches each user's accepted-friend ids in Redis with a TTL.
// Mutations that change the accepted set must invalidate both parties
// synchronously so the next read is fresh.
type FriendList struct {
	client rueidis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewFriendList creates a friend-list cache with the given entry lifetime.
func NewFriendList(client rueidis.Client, ttl time.Duration, logger *zap.Logger) *FriendList {
	return &FriendList{
		client: client,
		ttl:    ttl,
		logger: logger.Named("friend_cache"),
	}
}

// Get returns the cached friend ids for a user. The second return is false
// on a miss or any Redis failure; callers fall through to the store.
func (c *FriendList) Get(ctx context.Context, userID string) ([]string, bool) {
	data, err := c.client.Do(ctx, c.client.B().Get().Key(friendListPrefix+userID).Build()).AsBytes()
	if err != nil {
		if !rueidis.IsRedisNil(err) {
			c.logger.Warn("Failed to read friend list cache", zap.String("userID", userID), zap.Error(err))
		}
		return nil, false
	}

	var ids []string
	if err := sonic.Unmarshal(data, &ids); err != nil {
		c.logger.Warn("Failed to decode friend list cache entry", zap.String("userID", userID), zap.Error(err))
		return nil, false
	}

	return ids, true
}

// Set stores the friend ids for a user with the configured TTL. Failures are
// logged only; a missing entry just means the next read hits the store.
func (c *FriendList) Set(ctx context.Context, userID string, friendIDs []string) {
	data, err := sonic.Marshal(friendIDs)
	if err != nil {
		c.logger.Warn("Failed to encode friend list cache entry", zap.String("userID", userID), zap.Error(err))
		return
	}

	err = c.client.Do(ctx,
		c.client.B().Set().Key(friendListPrefix+userID).Value(string(data)).
			Ex(c.ttl).Build(),
	).Error()
	if err != nil {
		c.logger.Warn("Failed to write friend list cache", zap.String("userID", userID), zap.Error(err))
	}
}

// Invalidate removes the entries for the given users. Called synchronously
// before accept/remove/block operations return.
func (c *FriendList) Invalidate(ctx context.Context, userIDs ...string) {
	if len(userIDs) == 0 {
		return
	}

	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = friendListPrefix + id
	}

	err := c.client.Do(ctx, c.client.B().Del().Key(keys...).Build()).Error()
	if err != nil {
		c.logger.Warn("Failed to invalidate friend list cache", zap.Strings("userIDs", userIDs), zap.Error(err))
	}
}
