package posts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bramble-social/bramble/internal/store"
)

// Repository owns all reads and writes of post records.
type Repository struct {
	store  store.Store
	logger *zap.Logger
}

// NewRepository creates the post repository.
func NewRepository(s store.Store, logger *zap.Logger) *Repository {
	return &Repository{
		store:  s,
		logger: logger.Named("db_post"),
	}
}

// Page is one slice of a timeline or stream query. NextKey resumes the
// query exclusively after the last returned post; empty means exhausted.
type Page struct {
	Posts   []*Post
	NextKey string
}

// Create stores a new post with its projections.
func (r *Repository) Create(ctx context.Context, authorID, content string, visibility Visibility) (*Post, error) {
	now := time.Now()
	post := &Post{
		PostID:     uuid.NewString(),
		AuthorID:   authorID,
		Content:    content,
		Visibility: visibility,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	item, err := PostItem(post)
	if err != nil {
		return nil, err
	}
	if err := r.store.Put(ctx, item); err != nil {
		return nil, fmt.Errorf("failed to put post: %w", err)
	}

	r.logger.Debug("Created post",
		zap.String("postID", post.PostID),
		zap.String("authorID", authorID),
		zap.String("visibility", string(visibility)))

	return post, nil
}

// Get retrieves a single post, or ErrNotFound.
func (r *Repository) Get(ctx context.Context, authorID, postID string) (*Post, error) {
	pk, sk := postKey(authorID, postID)

	item, err := r.store.Get(ctx, pk, sk)
	if errors.Is(err, store.ErrItemNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get post: %w", err)
	}

	return DecodePost(item)
}

// UpdateVisibility changes a post's access level. The public-stream
// projection is added or cleared in the same patch so the index scope
// follows the new level.
func (r *Repository) UpdateVisibility(ctx context.Context, authorID, postID string, visibility Visibility) (*Post, error) {
	post, err := r.Get(ctx, authorID, postID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	post.Visibility = visibility
	post.UpdatedAt = now

	patch := store.Patch{
		Fields: map[string]any{
			"visibility": visibility,
			"updatedAt":  now,
		},
		GSI1: &store.IndexKey{},
	}
	if visibility == VisibilityPublic {
		patch.GSI1 = &store.IndexKey{PK: publicStreamKey, SK: TimeSortKey(post)}
	}

	pk, sk := postKey(authorID, postID)

	item, err := r.store.Update(ctx, pk, sk, patch)
	if errors.Is(err, store.ErrItemNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update post visibility: %w", err)
	}

	return DecodePost(item)
}

// Delete removes a post. Deleting a missing post is not an error.
func (r *Repository) Delete(ctx context.Context, authorID, postID string) error {
	pk, sk := postKey(authorID, postID)
	if err := r.store.Delete(ctx, pk, sk); err != nil {
		return fmt.Errorf("failed to delete post: %w", err)
	}
	return nil
}

// ListByAuthor returns one newest-first page of an author's timeline.
func (r *Repository) ListByAuthor(ctx context.Context, authorID string, limit int, startAfter string) (Page, error) {
	out, err := r.store.Query(ctx, store.QueryInput{
		Index:      store.IndexGSI2,
		Partition:  timelinePartition(authorID),
		StartAfter: startAfter,
		Limit:      limit,
		Descending: true,
	})
	if err != nil {
		return Page{}, fmt.Errorf("failed to list posts by author: %w", err)
	}

	return decodePage(out)
}

// PublicStream returns one newest-first page of the public post stream.
func (r *Repository) PublicStream(ctx context.Context, limit int, startAfter string) (Page, error) {
	out, err := r.store.Query(ctx, store.QueryInput{
		Index:      store.IndexGSI1,
		Partition:  publicStreamKey,
		StartAfter: startAfter,
		Limit:      limit,
		Descending: true,
	})
	if err != nil {
		return Page{}, fmt.Errorf("failed to query public stream: %w", err)
	}

	return decodePage(out)
}

// decodePage deserializes a query result into a post page.
func decodePage(out store.QueryOutput) (Page, error) {
	page := Page{NextKey: out.LastSortKey}
	for _, item := range out.Items {
		post, err := DecodePost(item)
		if err != nil {
			return Page{}, err
		}
		page.Posts = append(page.Posts, post)
	}
	return page, nil
}
