// Package friends maintains friendship state between users. One logical
// relationship is stored as two owner-scoped edge records (the mirror pair)
// sharing a friendship id and status with complementary roles, so either
// side can resolve the relationship in a single keyed read.
package friends

import (
	"errors"
	"time"
)

var (
	// ErrNotFound indicates no edge exists for the given user and friendship.
	ErrNotFound = errors.New("friendship not found")
	// ErrAlreadyFriends indicates the pair already has an accepted friendship.
	ErrAlreadyFriends = errors.New("users are already friends")
	// ErrRequestPending indicates a request between the pair is already pending.
	ErrRequestPending = errors.New("friend request already pending")
	// ErrAlreadyAccepted indicates the request was accepted earlier.
	ErrAlreadyAccepted = errors.New("friend request already accepted")
	// ErrNotAddressee indicates the caller holds the requester role and may
	// not respond to the request.
	ErrNotAddressee = errors.New("only the addressee can respond to a request")
	// ErrNotPending indicates the request is not in a respondable state.
	ErrNotPending = errors.New("friend request is not pending")
	// ErrBlocked indicates the relationship is blocked.
	ErrBlocked = errors.New("relationship is blocked")
)

// Status is the relationship state shared by both mirror records.
type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
	StatusBlocked  Status = "blocked"
)

// Role distinguishes which side of the relationship a record's owner holds.
type Role string

const (
	// RoleRequester marks the owner who initiated the request.
	RoleRequester Role = "requester"
	// RoleAddressee marks the owner the request was sent to.
	RoleAddressee Role = "addressee"
)

// Mirror returns the complementary role for the peer's record.
func (r Role) Mirror() Role {
	if r == RoleRequester {
		return RoleAddressee
	}
	return RoleRequester
}

// Edge is one owner-scoped view of a relationship. Every relationship is
// represented by exactly two edges with swapped owner/peer, the same
// friendship id and status, and complementary roles. An edge whose mirror is
// missing means the relationship is not established; readers treat this as
// absence, never as an error.
type Edge struct {
	OwnerID      string     `json:"ownerId"`
	PeerID       string     `json:"peerId"`
	Role         Role       `json:"role"`
	Status       Status     `json:"status"`
	FriendshipID string     `json:"friendshipId"`
	Message      string     `json:"message,omitempty"`
	RequestedAt  time.Time  `json:"requestedAt"`
	RespondedAt  *time.Time `json:"respondedAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// mirror builds the peer-owned record of the pair.
func (e *Edge) mirror() *Edge {
	m := *e
	m.OwnerID, m.PeerID = e.PeerID, e.OwnerID
	m.Role = e.Role.Mirror()
	return &m
}
