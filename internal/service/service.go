// Package service exposes the public operations of the social graph and
// feed. Each operation takes the verified caller id from the identity
// context, validates the payload, delegates to the domain layers, and maps
// their errors onto the stable API error taxonomy.
package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/bramble-social/bramble/internal/apierr"
	"github.com/bramble-social/bramble/internal/cursor"
	"github.com/bramble-social/bramble/internal/feed"
	"github.com/bramble-social/bramble/internal/friends"
	"github.com/bramble-social/bramble/internal/posts"
	"github.com/bramble-social/bramble/internal/privacy"
	"github.com/bramble-social/bramble/internal/profile"
	"github.com/bramble-social/bramble/internal/setup/config"
)

// Service wires the domain layers behind the exposed operations.
type Service struct {
	friends  *friends.Repository
	posts    *posts.Repository
	privacy  *privacy.Evaluator
	feed     *feed.Aggregator
	profiles profile.Provider
	config   *config.Config
	logger   *zap.Logger
}

// New creates the service root.
func New(
	friendRepo *friends.Repository, postRepo *posts.Repository,
	evaluator *privacy.Evaluator, aggregator *feed.Aggregator,
	profiles profile.Provider, cfg *config.Config, logger *zap.Logger,
) *Service {
	return &Service{
		friends:  friendRepo,
		posts:    postRepo,
		privacy:  evaluator,
		feed:     aggregator,
		profiles: profiles,
		config:   cfg,
		logger:   logger.Named("service"),
	}
}

// FriendshipView is the caller-facing shape of one relationship edge.
type FriendshipView struct {
	FriendshipID string           `json:"friendshipId"`
	User         *profile.Profile `json:"user"`
	Role         friends.Role     `json:"role"`
	Status       friends.Status   `json:"status"`
	Message      string           `json:"message,omitempty"`
	RequestedAt  time.Time        `json:"requestedAt"`
	RespondedAt  *time.Time       `json:"respondedAt,omitempty"`
}

// FriendListPage is one page of ListFriends results.
type FriendListPage struct {
	Friends    []*FriendshipView `json:"friends"`
	NextCursor string            `json:"nextCursor,omitempty"`
}

// FeedItem is one feed entry with its author's display profile.
type FeedItem struct {
	Post   *posts.Post      `json:"post"`
	Author *profile.Profile `json:"author"`
}

// FeedPage is one page of feed or timeline results.
type FeedPage struct {
	Items      []*FeedItem `json:"items"`
	NextCursor string      `json:"nextCursor,omitempty"`
}

// SendFriendRequest creates a pending friendship from the caller to the
// addressee.
func (s *Service) SendFriendRequest(ctx context.Context, callerID, addresseeID, message string) (*FriendshipView, error) {
	if addresseeID == "" {
		return nil, apierr.Validation(apierr.CodeInvalidRequest, "addressee id is required")
	}
	if callerID == addresseeID {
		return nil, apierr.Validation(apierr.CodeInvalidRequest, "cannot send a friend request to yourself")
	}

	// Existence check through the profile service. Infrastructure failures
	// do not block the request; only a definitive not-found does.
	if _, err := s.profiles.Lookup(ctx, addresseeID); err != nil {
		if errors.Is(err, profile.ErrUserNotFound) {
			return nil, apierr.NotFound(apierr.CodeUserNotFound, "addressee does not exist")
		}
		s.logger.Warn("Addressee existence check degraded",
			zap.String("addresseeID", addresseeID), zap.Error(err))
	}

	edge, err := s.friends.SendRequest(ctx, callerID, addresseeID, message)
	if err != nil {
		return nil, mapFriendErr(err)
	}

	return s.friendshipView(ctx, edge), nil
}

// AcceptFriendRequest accepts a pending request addressed to the caller.
func (s *Service) AcceptFriendRequest(ctx context.Context, callerID, friendshipID string) (*FriendshipView, error) {
	if friendshipID == "" {
		return nil, apierr.Validation(apierr.CodeInvalidRequest, "friendship id is required")
	}

	edge, err := s.friends.Accept(ctx, callerID, friendshipID)
	if err != nil {
		return nil, mapFriendErr(err)
	}

	return s.friendshipView(ctx, edge), nil
}

// RejectFriendRequest rejects a pending request addressed to the caller.
func (s *Service) RejectFriendRequest(ctx context.Context, callerID, friendshipID string) (*FriendshipView, error) {
	if friendshipID == "" {
		return nil, apierr.Validation(apierr.CodeInvalidRequest, "friendship id is required")
	}

	edge, err := s.friends.Reject(ctx, callerID, friendshipID)
	if err != nil {
		return nil, mapFriendErr(err)
	}

	return s.friendshipView(ctx, edge), nil
}

// RemoveFriendship dissolves the caller's friendship.
func (s *Service) RemoveFriendship(ctx context.Context, callerID, friendshipID string) error {
	if friendshipID == "" {
		return apierr.Validation(apierr.CodeInvalidRequest, "friendship id is required")
	}

	if err := s.friends.Remove(ctx, callerID, friendshipID); err != nil {
		return mapFriendErr(err)
	}

	return nil
}

// BlockUser blocks the given peer for the caller.
func (s *Service) BlockUser(ctx context.Context, callerID, peerID string) (*FriendshipView, error) {
	if peerID == "" {
		return nil, apierr.Validation(apierr.CodeInvalidRequest, "peer id is required")
	}
	if callerID == peerID {
		return nil, apierr.Validation(apierr.CodeInvalidRequest, "cannot block yourself")
	}

	edge, err := s.friends.Block(ctx, callerID, peerID)
	if err != nil {
		return nil, mapFriendErr(err)
	}

	return s.friendshipView(ctx, edge), nil
}

// ListFriends returns one page of the caller's relationship edges,
// newest-request-first.
func (s *Service) ListFriends(ctx context.Context, callerID, status string, limit int, cursorToken string) (*FriendListPage, error) {
	statusFilter, err := parseStatus(status)
	if err != nil {
		return nil, err
	}

	edges, nextCursor, err := s.friends.ListFriends(ctx, callerID, friends.ListOptions{
		Status: statusFilter,
		Limit:  s.clampLimit(limit),
		Cursor: cursorToken,
	})
	if err != nil {
		return nil, mapFriendErr(err)
	}

	page := &FriendListPage{Friends: make([]*FriendshipView, 0, len(edges)), NextCursor: nextCursor}
	for _, edge := range edges {
		page.Friends = append(page.Friends, s.friendshipView(ctx, edge))
	}

	return page, nil
}

// ListIncomingRequests returns requests pointing at the caller. The status
// filter defaults to pending.
func (s *Service) ListIncomingRequests(ctx context.Context, callerID, status string) ([]*FriendshipView, error) {
	statusFilter, err := parseStatus(status)
	if err != nil {
		return nil, err
	}
	if statusFilter == "" {
		statusFilter = friends.StatusPending
	}

	edges, err := s.friends.ListIncoming(ctx, callerID, statusFilter)
	if err != nil {
		return nil, mapFriendErr(err)
	}

	views := make([]*FriendshipView, 0, len(edges))
	for _, edge := range edges {
		// Incoming edges are owned by the peer; show the peer's profile and
		// the caller's own role.
		views = append(views, &FriendshipView{
			FriendshipID: edge.FriendshipID,
			User:         profile.Resolve(ctx, s.profiles, edge.OwnerID, s.logger),
			Role:         edge.Role.Mirror(),
			Status:       edge.Status,
			Message:      edge.Message,
			RequestedAt:  edge.RequestedAt,
			RespondedAt:  edge.RespondedAt,
		})
	}

	return views, nil
}

// GetFeed returns one page of the caller's aggregated feed.
func (s *Service) GetFeed(ctx context.Context, callerID string, limit int, cursorToken string) (*FeedPage, error) {
	page, err := s.feed.GetFeed(ctx, callerID, s.clampLimit(limit), cursorToken)
	if err != nil {
		return nil, apierr.From(err)
	}

	return s.feedPage(ctx, page.Posts, page.NextCursor), nil
}

// GetUserPosts returns one page of a user's timeline, privacy-filtered for
// the caller.
func (s *Service) GetUserPosts(ctx context.Context, callerID, targetID string, limit int, cursorToken string) (*FeedPage, error) {
	if targetID == "" {
		return nil, apierr.Validation(apierr.CodeInvalidRequest, "user id is required")
	}

	startAfter := ""
	if cursorToken != "" {
		var c timelineCursor
		if err := cursor.Decode(cursorToken, &c); err != nil {
			return nil, apierr.Validation(apierr.CodeInvalidCursor, "malformed cursor")
		}
		startAfter = c.SortKey
	}

	limit = s.clampLimit(limit)

	var visible []*posts.Post
	nextKey := startAfter
	for len(visible) <= limit {
		page, err := s.posts.ListByAuthor(ctx, targetID, limit+1, nextKey)
		if err != nil {
			return nil, apierr.From(err)
		}

		for _, post := range page.Posts {
			if !s.privacy.CanView(ctx, callerID, post.AuthorID, post.Visibility) {
				continue
			}
			visible = append(visible, post)
			if len(visible) > limit {
				break
			}
		}

		if page.NextKey == "" {
			break
		}
		nextKey = page.NextKey
	}

	nextCursor := ""
	if len(visible) > limit {
		visible = visible[:limit]
		last := visible[limit-1]

		token, err := cursor.Encode(timelineCursor{SortKey: posts.TimeSortKey(last)})
		if err != nil {
			return nil, apierr.From(err)
		}
		nextCursor = token
	}

	return s.feedPage(ctx, visible, nextCursor), nil
}

// CreatePost stores a new post by the caller.
func (s *Service) CreatePost(ctx context.Context, callerID, content string, visibility string) (*posts.Post, error) {
	if content == "" {
		return nil, apierr.Validation(apierr.CodeInvalidRequest, "content is required")
	}

	vis := posts.Visibility(visibility)
	if vis == "" {
		vis = posts.VisibilityPublic
	}
	if !vis.Valid() {
		return nil, apierr.Validation(apierr.CodeInvalidRequest, "unknown visibility level")
	}

	post, err := s.posts.Create(ctx, callerID, content, vis)
	if err != nil {
		return nil, apierr.From(err)
	}

	return post, nil
}

// UpdatePostVisibility changes the access level of one of the caller's posts.
func (s *Service) UpdatePostVisibility(ctx context.Context, callerID, postID string, visibility string) (*posts.Post, error) {
	if postID == "" {
		return nil, apierr.Validation(apierr.CodeInvalidRequest, "post id is required")
	}

	vis := posts.Visibility(visibility)
	if !vis.Valid() {
		return nil, apierr.Validation(apierr.CodeInvalidRequest, "unknown visibility level")
	}

	post, err := s.posts.UpdateVisibility(ctx, callerID, postID, vis)
	if err != nil {
		if errors.Is(err, posts.ErrNotFound) {
			return nil, apierr.NotFound(apierr.CodePostNotFound, "post does not exist")
		}
		return nil, apierr.From(err)
	}

	return post, nil
}

// DeletePost removes one of the caller's posts. Deleting a missing post is
// not an error, so the operation is idempotent.
func (s *Service) DeletePost(ctx context.Context, callerID, postID string) error {
	if postID == "" {
		return apierr.Validation(apierr.CodeInvalidRequest, "post id is required")
	}

	if err := s.posts.Delete(ctx, callerID, postID); err != nil {
		return apierr.From(err)
	}

	return nil
}

// GetPost returns a single post if the caller may view it.
func (s *Service) GetPost(ctx context.Context, callerID, authorID, postID string) (*FeedItem, error) {
	if authorID == "" || postID == "" {
		return nil, apierr.Validation(apierr.CodeInvalidRequest, "author id and post id are required")
	}

	post, err := s.posts.Get(ctx, authorID, postID)
	if err != nil {
		if errors.Is(err, posts.ErrNotFound) {
			return nil, apierr.NotFound(apierr.CodePostNotFound, "post does not exist")
		}
		return nil, apierr.From(err)
	}

	if !s.privacy.CanView(ctx, callerID, post.AuthorID, post.Visibility) {
		return nil, apierr.Forbidden(apierr.CodeAccessDenied, "you may not view this post")
	}

	return &FeedItem{
		Post:   post,
		Author: profile.Resolve(ctx, s.profiles, post.AuthorID, s.logger),
	}, nil
}

// timelineCursor is the resume token payload for GetUserPosts pages.
type timelineCursor struct {
	SortKey string `json:"sk"`
}

// friendshipView shapes an edge owned by the caller for responses.
func (s *Service) friendshipView(ctx context.Context, edge *friends.Edge) *FriendshipView {
	return &FriendshipView{
		FriendshipID: edge.FriendshipID,
		User:         profile.Resolve(ctx, s.profiles, edge.PeerID, s.logger),
		Role:         edge.Role,
		Status:       edge.Status,
		Message:      edge.Message,
		RequestedAt:  edge.RequestedAt,
		RespondedAt:  edge.RespondedAt,
	}
}

// feedPage attaches author profiles to a post slice.
func (s *Service) feedPage(ctx context.Context, items []*posts.Post, nextCursor string) *FeedPage {
	page := &FeedPage{Items: make([]*FeedItem, 0, len(items)), NextCursor: nextCursor}
	for _, post := range items {
		page.Items = append(page.Items, &FeedItem{
			Post:   post,
			Author: profile.Resolve(ctx, s.profiles, post.AuthorID, s.logger),
		})
	}
	return page
}

// clampLimit applies the configured default and ceiling to a requested page
// size.
func (s *Service) clampLimit(limit int) int {
	if limit <= 0 {
		return s.config.Feed.DefaultPageSize
	}
	if limit > s.config.Feed.MaxPageSize {
		return s.config.Feed.MaxPageSize
	}
	return limit
}

// parseStatus validates an optional status filter.
func parseStatus(status string) (friends.Status, error) {
	switch friends.Status(status) {
	case "", friends.StatusPending, friends.StatusAccepted, friends.StatusRejected, friends.StatusBlocked:
		return friends.Status(status), nil
	default:
		return "", apierr.Validation(apierr.CodeInvalidRequest, "unknown status filter")
	}
}

// mapFriendErr translates friendship domain errors onto the API taxonomy.
// Domain-rule violations are raised once at detection and never retried.
func mapFriendErr(err error) error {
	switch {
	case errors.Is(err, friends.ErrNotFound):
		return apierr.NotFound(apierr.CodeFriendshipNotFound, "friendship does not exist")
	case errors.Is(err, friends.ErrAlreadyFriends):
		return apierr.Conflict(apierr.CodeAlreadyFriends, "users are already friends")
	case errors.Is(err, friends.ErrRequestPending):
		return apierr.Conflict(apierr.CodeRequestPending, "a friend request is already pending")
	case errors.Is(err, friends.ErrAlreadyAccepted):
		return apierr.Conflict(apierr.CodeAlreadyAccepted, "the friend request was already accepted")
	case errors.Is(err, friends.ErrNotAddressee):
		return apierr.Forbidden(apierr.CodeNotAddressee, "only the addressee can respond to this request")
	case errors.Is(err, friends.ErrNotPending):
		return apierr.Validation(apierr.CodeInvalidRequest, "the friend request is not pending")
	case errors.Is(err, friends.ErrBlocked):
		return apierr.Forbidden(apierr.CodeBlocked, "the relationship is blocked")
	case errors.Is(err, cursor.ErrInvalid):
		return apierr.Validation(apierr.CodeInvalidCursor, "malformed cursor")
	default:
		return apierr.Dependency(err)
	}
}
