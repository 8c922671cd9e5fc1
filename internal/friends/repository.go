package friends

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bramble-social/bramble/internal/cache"
	"github.com/bramble-social/bramble/internal/cursor"
	"github.com/bramble-social/bramble/internal/store"
)

// listBatchSize bounds how many edges a single store query fetches while
// filtering and paginating.
const listBatchSize = 100

// Repository owns all reads and writes of edge records. Mirror-pair writes
// are two sequential store calls, not a transaction: readers tolerate the
// interim window by treating a record with a missing mirror as "not
// established", and the second write is always safe to retry because its
// target state is deterministic.
type Repository struct {
	store  store.Store
	cache  *cache.FriendList
	logger *zap.Logger
}

// NewRepository creates the friendship repository. The friend-list cache is
// an injected dependency owned by the service root.
func NewRepository(s store.Store, friendCache *cache.FriendList, logger *zap.Logger) *Repository {
	return &Repository{
		store:  s,
		cache:  friendCache,
		logger: logger.Named("db_friendship"),
	}
}

// ListOptions filters and paginates ListFriends.
type ListOptions struct {
	// Status restricts results to one relationship status. Empty means all.
	Status Status
	// Limit caps the page size.
	Limit int
	// Cursor resumes a previous listing.
	Cursor string
}

// listCursor is the resume token payload for ListFriends pages.
type listCursor struct {
	SortKey string `json:"sk"`
}

// SendRequest creates the pending mirror pair for a new friend request.
// A rejected pair does not block retries: it is replaced by a fresh pending
// pair under a new friendship id.
func (r *Repository) SendRequest(ctx context.Context, requesterID, addresseeID, message string) (*Edge, error) {
	existing, err := r.GetEdge(ctx, requesterID, addresseeID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	if existing != nil {
		switch existing.Status {
		case StatusAccepted:
			return nil, ErrAlreadyFriends
		case StatusPending:
			// Complete a half-written pair before reporting the conflict so
			// an interrupted earlier request converges.
			if err := r.repairMirror(ctx, existing); err != nil {
				r.logger.Warn("Failed to repair pending mirror",
					zap.String("friendshipID", existing.FriendshipID), zap.Error(err))
			}
			return nil, ErrRequestPending
		case StatusBlocked:
			return nil, ErrBlocked
		case StatusRejected:
			// Retry allowed; the rejected pair is replaced below.
		}
	}

	now := time.Now()
	edge := &Edge{
		OwnerID:      requesterID,
		PeerID:       addresseeID,
		Role:         RoleRequester,
		Status:       StatusPending,
		FriendshipID: uuid.NewString(),
		Message:      message,
		RequestedAt:  now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := r.putEdge(ctx, edge); err != nil {
		return nil, err
	}
	if err := r.putEdge(ctx, edge.mirror()); err != nil {
		return nil, err
	}

	r.logger.Debug("Created friend request",
		zap.String("friendshipID", edge.FriendshipID),
		zap.String("requesterID", requesterID),
		zap.String("addresseeID", addresseeID))

	return edge, nil
}

// Accept transitions a pending pair to accepted. Only the addressee may
// accept; both mirrors receive the identical response timestamp, and the
// friend-list caches of both parties are invalidated before returning.
func (r *Repository) Accept(ctx context.Context, userID, friendshipID string) (*Edge, error) {
	own, err := r.edgeByFriendship(ctx, userID, friendshipID)
	if err != nil {
		return nil, err
	}

	if own.Role != RoleAddressee {
		return nil, ErrNotAddressee
	}

	switch own.Status {
	case StatusAccepted:
		return nil, ErrAlreadyAccepted
	case StatusPending:
	default:
		return nil, ErrNotPending
	}

	updated, err := r.respond(ctx, own, StatusAccepted)
	if err != nil {
		return nil, err
	}

	r.cache.Invalidate(ctx, own.OwnerID, own.PeerID)

	return updated, nil
}

// Reject transitions a pending pair to rejected. The accepted set does not
// change, so no cache invalidation is needed.
func (r *Repository) Reject(ctx context.Context, userID, friendshipID string) (*Edge, error) {
	own, err := r.edgeByFriendship(ctx, userID, friendshipID)
	if err != nil {
		return nil, err
	}

	if own.Role != RoleAddressee {
		return nil, ErrNotAddressee
	}

	if own.Status != StatusPending {
		if own.Status == StatusAccepted {
			return nil, ErrAlreadyAccepted
		}
		return nil, ErrNotPending
	}

	return r.respond(ctx, own, StatusRejected)
}

// Remove deletes the mirror pair. A second call finds no edge and reports
// not-found, making removal idempotent. The mirror is deleted first so a
// failed removal can always be retried from the caller's own record.
func (r *Repository) Remove(ctx context.Context, userID, friendshipID string) error {
	own, err := r.edgeByFriendship(ctx, userID, friendshipID)
	if err != nil {
		return err
	}

	// Only the blocker may dissolve a blocked pair.
	if own.Status == StatusBlocked && own.Role != RoleRequester {
		return ErrBlocked
	}

	mirrorPK, mirrorSK := edgeKey(own.PeerID, own.OwnerID)
	if err := r.store.Delete(ctx, mirrorPK, mirrorSK); err != nil {
		return fmt.Errorf("failed to delete mirror edge: %w", err)
	}

	ownPK, ownSK := edgeKey(own.OwnerID, own.PeerID)
	if err := r.store.Delete(ctx, ownPK, ownSK); err != nil {
		return fmt.Errorf("failed to delete edge: %w", err)
	}

	r.cache.Invalidate(ctx, own.OwnerID, own.PeerID)

	r.logger.Debug("Removed friendship",
		zap.String("friendshipID", friendshipID),
		zap.String("userID", userID))

	return nil
}

// Block writes or overwrites the pair with blocked status, the blocker
// holding the requester role. Blocking is idempotent; a user already blocked
// by the peer cannot block back through this pair.
func (r *Repository) Block(ctx context.Context, userID, peerID string) (*Edge, error) {
	existing, err := r.GetEdge(ctx, userID, peerID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	if existing != nil && existing.Status == StatusBlocked {
		if existing.Role == RoleAddressee {
			return nil, ErrBlocked
		}
		return existing, nil
	}

	now := time.Now()
	edge := &Edge{
		OwnerID:      userID,
		PeerID:       peerID,
		Role:         RoleRequester,
		Status:       StatusBlocked,
		FriendshipID: uuid.NewString(),
		RequestedAt:  now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if existing != nil {
		edge.FriendshipID = existing.FriendshipID
		edge.RequestedAt = existing.RequestedAt
		edge.CreatedAt = existing.CreatedAt
	}

	if err := r.putEdge(ctx, edge); err != nil {
		return nil, err
	}
	if err := r.putEdge(ctx, edge.mirror()); err != nil {
		return nil, err
	}

	r.cache.Invalidate(ctx, userID, peerID)

	return edge, nil
}

// ListFriends returns the user's edges newest-request-first, optionally
// filtered by status, with cursor pagination. Ordering ties on the request
// timestamp break by friendship id through the composite sort key.
func (r *Repository) ListFriends(ctx context.Context, userID string, opts ListOptions) ([]*Edge, string, error) {
	startAfter := ""
	if opts.Cursor != "" {
		var c listCursor
		if err := cursor.Decode(opts.Cursor, &c); err != nil {
			return nil, "", err
		}
		startAfter = c.SortKey
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = listBatchSize
	}

	var edges []*Edge
	for len(edges) <= limit {
		out, err := r.store.Query(ctx, store.QueryInput{
			Index:      store.IndexGSI3,
			Partition:  ownedPartition(userID),
			StartAfter: startAfter,
			Limit:      listBatchSize,
			Descending: true,
		})
		if err != nil {
			return nil, "", fmt.Errorf("failed to list friends: %w", err)
		}

		for _, item := range out.Items {
			edge, err := DecodeEdge(item)
			if err != nil {
				return nil, "", err
			}
			if opts.Status != "" && edge.Status != opts.Status {
				continue
			}
			edges = append(edges, edge)
			if len(edges) > limit {
				break
			}
		}

		if out.LastSortKey == "" {
			break
		}
		startAfter = out.LastSortKey
	}

	nextCursor := ""
	if len(edges) > limit {
		edges = edges[:limit]
		last := edges[limit-1]
		token, err := cursor.Encode(listCursor{SortKey: ownedSortKey(last)})
		if err != nil {
			return nil, "", err
		}
		nextCursor = token
	}

	return edges, nextCursor, nil
}

// ListIncoming returns edges pointing at the user through the reverse
// projection, newest-first, optionally filtered by status. The returned
// edges are owned by the peers; the caller holds the mirrored role.
func (r *Repository) ListIncoming(ctx context.Context, userID string, status Status) ([]*Edge, error) {
	var edges []*Edge

	startAfter := ""
	for {
		out, err := r.store.Query(ctx, store.QueryInput{
			Index:      store.IndexGSI1,
			Partition:  reversePartition(userID),
			SortPrefix: friendKeyPrefix,
			StartAfter: startAfter,
			Limit:      listBatchSize,
			Descending: true,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list incoming edges: %w", err)
		}

		for _, item := range out.Items {
			edge, err := DecodeEdge(item)
			if err != nil {
				return nil, err
			}
			if status != "" && edge.Status != status {
				continue
			}
			edges = append(edges, edge)
		}

		if out.LastSortKey == "" {
			break
		}
		startAfter = out.LastSortKey
	}

	return edges, nil
}

// FriendIDs resolves the user's accepted-friend ids through the cache,
// falling back to the store on a miss and repopulating the entry.
func (r *Repository) FriendIDs(ctx context.Context, userID string) ([]string, error) {
	if ids, ok := r.cache.Get(ctx, userID); ok {
		return ids, nil
	}

	var ids []string

	next := ""
	for {
		edges, nextCursor, err := r.ListFriends(ctx, userID, ListOptions{
			Status: StatusAccepted,
			Limit:  listBatchSize,
			Cursor: next,
		})
		if err != nil {
			return nil, err
		}

		for _, edge := range edges {
			ids = append(ids, edge.PeerID)
		}

		if nextCursor == "" {
			break
		}
		next = nextCursor
	}

	if ids == nil {
		ids = []string{}
	}

	r.cache.Set(ctx, userID, ids)

	return ids, nil
}

// GetEdge retrieves the owner's edge toward peer, or ErrNotFound.
func (r *Repository) GetEdge(ctx context.Context, ownerID, peerID string) (*Edge, error) {
	pk, sk := edgeKey(ownerID, peerID)

	item, err := r.store.Get(ctx, pk, sk)
	if errors.Is(err, store.ErrItemNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get edge: %w", err)
	}

	return DecodeEdge(item)
}

// edgeByFriendship locates the user's own edge of a friendship through the
// friendship-id projection.
func (r *Repository) edgeByFriendship(ctx context.Context, userID, friendshipID string) (*Edge, error) {
	out, err := r.store.Query(ctx, store.QueryInput{
		Index:     store.IndexGSI2,
		Partition: friendshipPartition(friendshipID),
		Limit:     2,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query friendship: %w", err)
	}

	for _, item := range out.Items {
		edge, err := DecodeEdge(item)
		if err != nil {
			return nil, err
		}
		if edge.OwnerID == userID {
			return edge, nil
		}
	}

	return nil, ErrNotFound
}

// respond updates both mirrors to the given terminal response status with an
// identical response timestamp. The caller's own record is written first; a
// missing mirror is recreated rather than failing the response.
func (r *Repository) respond(ctx context.Context, own *Edge, status Status) (*Edge, error) {
	now := time.Now()
	fields := map[string]any{
		"status":      status,
		"respondedAt": now,
		"updatedAt":   now,
	}

	ownPK, ownSK := edgeKey(own.OwnerID, own.PeerID)
	if _, err := r.store.Update(ctx, ownPK, ownSK, store.Patch{Fields: fields}); err != nil {
		return nil, fmt.Errorf("failed to update edge: %w", err)
	}

	updated := *own
	updated.Status = status
	updated.RespondedAt = &now
	updated.UpdatedAt = now

	mirrorPK, mirrorSK := edgeKey(own.PeerID, own.OwnerID)

	_, err := r.store.Update(ctx, mirrorPK, mirrorSK, store.Patch{Fields: fields})
	if errors.Is(err, store.ErrItemNotFound) {
		// Mirror was lost to the write window; recreate it in the target
		// state, which is deterministic.
		return &updated, r.putEdge(ctx, updated.mirror())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update mirror edge: %w", err)
	}

	return &updated, nil
}

// repairMirror rewrites the mirror of an existing edge if it is missing.
func (r *Repository) repairMirror(ctx context.Context, own *Edge) error {
	_, err := r.GetEdge(ctx, own.PeerID, own.OwnerID)
	if errors.Is(err, ErrNotFound) {
		return r.putEdge(ctx, own.mirror())
	}
	return err
}

// putEdge serializes and stores one edge with its projections.
func (r *Repository) putEdge(ctx context.Context, edge *Edge) error {
	item, err := EdgeItem(edge)
	if err != nil {
		return err
	}
	if err := r.store.Put(ctx, item); err != nil {
		return fmt.Errorf("failed to put edge: %w", err)
	}
	return nil
}

// ownedSortKey recomputes the gsi3 sort key of an edge for cursor encoding.
func ownedSortKey(edge *Edge) string {
	return store.SortTime(edge.RequestedAt) + "#" + edge.FriendshipID
}
