// Package privacy decides resource visibility from the viewer, the owner,
// the resource's access level, and the relationship between them. Every
// decision fails closed: a store failure while evaluating degrades to the
// most restrictive answer rather than erroring, so availability problems can
// never leak private data.
package privacy

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/bramble-social/bramble/internal/friends"
	"github.com/bramble-social/bramble/internal/posts"
)

// Evaluator gates every read of a visibility-scoped resource.
type Evaluator struct {
	friends *friends.Repository
	logger  *zap.Logger
}

// NewEvaluator creates the privacy evaluator.
func NewEvaluator(friendRepo *friends.Repository, logger *zap.Logger) *Evaluator {
	return &Evaluator{
		friends: friendRepo,
		logger:  logger.Named("privacy"),
	}
}

// CanView reports whether the viewer may see a resource owned by ownerID at
// the given visibility level. Owners always see their own resources.
func (e *Evaluator) CanView(ctx context.Context, viewerID, ownerID string, visibility posts.Visibility) bool {
	if viewerID == ownerID {
		return true
	}

	switch visibility {
	case posts.VisibilityPublic:
		return true
	case posts.VisibilityFriends:
		return e.IsFriend(ctx, viewerID, ownerID)
	default:
		// private, or an unknown level: nobody but the owner
		return false
	}
}

// IsFriend reports whether the pair has an accepted friendship. Both
// directions are checked and either accepted mirror suffices, tolerating the
// window where only one half of a pair has been written. Store failures
// degrade to false.
func (e *Evaluator) IsFriend(ctx context.Context, viewerID, ownerID string) bool {
	if viewerID == ownerID {
		return false
	}

	if accepted, decided := e.edgeAccepted(ctx, viewerID, ownerID); decided {
		return accepted
	}
	if accepted, decided := e.edgeAccepted(ctx, ownerID, viewerID); decided {
		return accepted
	}

	return false
}

// edgeAccepted checks one direction of the pair. The second return is false
// when this direction gave no definitive positive and the mirror should be
// consulted.
func (e *Evaluator) edgeAccepted(ctx context.Context, ownerID, peerID string) (accepted, decided bool) {
	edge, err := e.friends.GetEdge(ctx, ownerID, peerID)
	if err != nil {
		if !errors.Is(err, friends.ErrNotFound) {
			// Fail closed on store trouble, but keep reads available.
			e.logger.Warn("Friendship check failed, treating as not friends",
				zap.String("ownerID", ownerID),
				zap.String("peerID", peerID),
				zap.Error(err))
		}
		return false, false
	}

	if edge.Status == friends.StatusAccepted {
		return true, true
	}

	return false, false
}
