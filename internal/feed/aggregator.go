// Package feed assembles the merged activity feed: parallel fan-out to the
// public stream, the viewer's own posts, and a bounded set of friend
// timelines, followed by dedupe, a global sort, a per-item privacy re-check,
// and cursor pagination.
package feed

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"github.com/bramble-social/bramble/internal/cursor"
	"github.com/bramble-social/bramble/internal/friends"
	"github.com/bramble-social/bramble/internal/posts"
	"github.com/bramble-social/bramble/internal/privacy"
	"github.com/bramble-social/bramble/internal/setup/config"
	"github.com/bramble-social/bramble/internal/store"
)

// Aggregator builds feeds. All fan-out queries share the caller's context,
// so cancelling the inbound request abandons in-flight queries.
type Aggregator struct {
	friends *friends.Repository
	posts   *posts.Repository
	privacy *privacy.Evaluator
	config  *config.Feed
	logger  *zap.Logger
}

// New creates the feed aggregator.
func New(
	friendRepo *friends.Repository, postRepo *posts.Repository,
	evaluator *privacy.Evaluator, cfg *config.Feed, logger *zap.Logger,
) *Aggregator {
	return &Aggregator{
		friends: friendRepo,
		posts:   postRepo,
		privacy: evaluator,
		config:  cfg,
		logger:  logger.Named("feed"),
	}
}

// Page is one feed slice. NextCursor is an opaque resume token, empty when
// the feed is exhausted.
type Page struct {
	Posts      []*posts.Post
	NextCursor string
}

// feedCursor is the resume token payload: the sort position of the last
// returned item.
type feedCursor struct {
	CreatedAt time.Time `json:"t"`
	PostID    string    `json:"id"`
}

// source is one fan-out partition query, resumed exclusively after a sort
// position.
type source func(ctx context.Context, after string) (posts.Page, error)

// GetFeed returns one page of the viewer's feed. An undecodable cursor
// restarts from the top rather than erroring.
func (a *Aggregator) GetFeed(ctx context.Context, viewerID string, limit int, token string) (*Page, error) {
	startAfter := ""
	if token != "" {
		var c feedCursor
		if err := cursor.Decode(token, &c); err != nil {
			a.logger.Debug("Ignoring invalid feed cursor", zap.String("viewerID", viewerID))
		} else {
			startAfter = store.SortTime(c.CreatedAt) + "#" + c.PostID
		}
	}

	// Resolve the viewer's friends through the cache. Zero friends just
	// means no friend partitions to query.
	friendIDs, err := a.friends.FriendIDs(ctx, viewerID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve friend ids: %w", err)
	}

	// The fan-out cap trades completeness for bounded latency: friends
	// beyond the cap do not contribute items.
	if len(friendIDs) > a.config.FanoutLimit {
		friendIDs = friendIDs[:a.config.FanoutLimit]
	}

	// One source per partition: the public stream, the viewer's own posts,
	// and each friend's timeline. Every fetch is limit+1 so a full page also
	// reports whether its partition holds more.
	fetch := limit + 1
	sources := make([]source, 0, len(friendIDs)+2)
	sources = append(sources, func(ctx context.Context, after string) (posts.Page, error) {
		return a.posts.PublicStream(ctx, fetch, after)
	})
	sources = append(sources, func(ctx context.Context, after string) (posts.Page, error) {
		return a.posts.ListByAuthor(ctx, viewerID, fetch, after)
	})
	for _, friendID := range friendIDs {
		sources = append(sources, func(ctx context.Context, after string) (posts.Page, error) {
			return a.posts.ListByAuthor(ctx, friendID, fetch, after)
		})
	}

	var visible []*posts.Post
	for {
		merged, watermark, err := a.fanOut(ctx, sources, startAfter)
		if err != nil {
			return nil, err
		}

		for _, post := range merged {
			// The merge is only complete down to the newest frontier of the
			// partitions that still hold more; everything below it belongs to
			// the next round.
			if watermark != "" && posts.TimeSortKey(post) < watermark {
				break
			}

			// Re-apply the privacy evaluator per item. The index scope
			// already excluded most invisible posts, but a post whose
			// visibility tightened after it was indexed must not leak.
			if !a.privacy.CanView(ctx, viewerID, post.AuthorID, post.Visibility) {
				continue
			}

			visible = append(visible, post)
			if len(visible) > limit {
				break
			}
		}

		// Filtered items leave the page underfilled. An empty watermark means
		// every partition is exhausted; otherwise advance to it and refetch
		// until the page fills.
		if len(visible) > limit || watermark == "" {
			break
		}
		startAfter = watermark
	}

	page := &Page{Posts: visible}
	if len(visible) > limit {
		page.Posts = visible[:limit]
		last := page.Posts[limit-1]

		token, err := cursor.Encode(feedCursor{CreatedAt: last.CreatedAt, PostID: last.PostID})
		if err != nil {
			return nil, err
		}
		page.NextCursor = token
	}

	if page.Posts == nil {
		page.Posts = []*posts.Post{}
	}

	return page, nil
}

// fanOut queries all sources concurrently and merges their pages into one
// deduped, newest-first slice. The watermark is the newest resume key among
// sources that reported more data: items at or above it are completely
// merged, items below it are not and must be refetched.
func (a *Aggregator) fanOut(ctx context.Context, sources []source, startAfter string) ([]*posts.Post, string, error) {
	pages := make([]posts.Page, len(sources))

	// One query per partition, issued concurrently and joined, so total
	// latency is bounded by the slowest single query. Each goroutine writes
	// its own slot.
	p := pool.New().WithContext(ctx).WithMaxGoroutines(a.config.MaxConcurrent)
	for i, src := range sources {
		p.Go(func(ctx context.Context) error {
			page, err := src(ctx, startAfter)
			if err != nil {
				return err
			}
			pages[i] = page
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, "", fmt.Errorf("feed fan-out failed: %w", err)
	}

	var collected []*posts.Post
	watermark := ""
	for _, page := range pages {
		collected = append(collected, page.Posts...)
		if page.NextKey > watermark {
			watermark = page.NextKey
		}
	}

	merged := dedupe(collected)

	// Global sort: newest first, post id as the deterministic tie-break.
	sort.Slice(merged, func(i, j int) bool {
		if !merged[i].CreatedAt.Equal(merged[j].CreatedAt) {
			return merged[i].CreatedAt.After(merged[j].CreatedAt)
		}
		return merged[i].PostID > merged[j].PostID
	})

	return merged, watermark, nil
}

// dedupe drops repeated post ids, keeping first occurrence. A post can
// arrive from both the public stream and its author's partition.
func dedupe(items []*posts.Post) []*posts.Post {
	seen := make(map[string]struct{}, len(items))
	out := items[:0]
	for _, post := range items {
		if _, ok := seen[post.PostID]; ok {
			continue
		}
		seen[post.PostID] = struct{}{}
		out = append(out, post)
	}
	return out
}
