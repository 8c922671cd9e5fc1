package friends

import (
	"fmt"

	"github.com/bytedance/sonic"

	"github.com/bramble-social/bramble/internal/store"
)

// Persisted layout for edge records. The primary key gives O(1) resolution of
// "does owner point at peer"; the projections answer the remaining access
// patterns without scans:
//
//	primary  USER#{owner} / FRIEND#{peer}
//	gsi1     USER#{peer}  / FRIEND#{requestedAt}#{owner}    reverse: who points at me
//	gsi2     FRIENDSHIP#{id} / {owner}                      both mirrors by friendship id
//	gsi3     FRIENDS#{owner} / {requestedAt}#{id}           owner's edges newest-first
//
// The projections are derived and repairable: they are recomputed from the
// record body on every write, and a rebuild re-scans all FRIEND# items and
// rewrites them (see worker/reindex). Projection staleness only degrades
// lookup completeness, never the primary record.
const (
	userKeyPrefix       = "USER#"
	friendKeyPrefix     = "FRIEND#"
	friendshipKeyPrefix = "FRIENDSHIP#"
	ownedKeyPrefix      = "FRIENDS#"
)

// EdgeSortPrefix matches all edge records during a full-table scan.
const EdgeSortPrefix = friendKeyPrefix

// EdgeItem serializes an edge into its stored item, computing all projection
// keys from the record body.
func EdgeItem(edge *Edge) (*store.Item, error) {
	data, err := sonic.Marshal(edge)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal edge: %w", err)
	}

	requestedAt := store.SortTime(edge.RequestedAt)
	return &store.Item{
		PK:     userKeyPrefix + edge.OwnerID,
		SK:     friendKeyPrefix + edge.PeerID,
		GSI1PK: userKeyPrefix + edge.PeerID,
		GSI1SK: friendKeyPrefix + requestedAt + "#" + edge.OwnerID,
		GSI2PK: friendshipKeyPrefix + edge.FriendshipID,
		GSI2SK: edge.OwnerID,
		GSI3PK: ownedKeyPrefix + edge.OwnerID,
		GSI3SK: requestedAt + "#" + edge.FriendshipID,
		Data:   data,
	}, nil
}

// DecodeEdge deserializes a stored item back into an edge record.
func DecodeEdge(item *store.Item) (*Edge, error) {
	edge := new(Edge)
	if err := sonic.Unmarshal(item.Data, edge); err != nil {
		return nil, fmt.Errorf("failed to unmarshal edge: %w", err)
	}
	return edge, nil
}

// edgeKey returns the primary key of the owner's edge toward peer.
func edgeKey(ownerID, peerID string) (pk, sk string) {
	return userKeyPrefix + ownerID, friendKeyPrefix + peerID
}

// reversePartition returns the gsi1 partition holding all edges pointing at
// the given user.
func reversePartition(userID string) string {
	return userKeyPrefix + userID
}

// friendshipPartition returns the gsi2 partition holding both mirrors of a
// friendship.
func friendshipPartition(friendshipID string) string {
	return friendshipKeyPrefix + friendshipID
}

// ownedPartition returns the gsi3 partition holding the user's own edges in
// request order.
func ownedPartition(userID string) string {
	return ownedKeyPrefix + userID
}
