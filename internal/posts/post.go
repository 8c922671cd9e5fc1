// Package posts stores user posts per author, with a public-stream
// projection for the feed and a per-author timeline projection for profile
// pages and friend fan-out.
package posts

import (
	"errors"
	"time"
)

// ErrNotFound indicates the requested post does not exist.
var ErrNotFound = errors.New("post not found")

// Visibility is the post's access level. The levels form a lattice:
// private < friends < public.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityFriends Visibility = "friends"
	VisibilityPrivate Visibility = "private"
)

// Valid reports whether v is a known visibility level.
func (v Visibility) Valid() bool {
	switch v {
	case VisibilityPublic, VisibilityFriends, VisibilityPrivate:
		return true
	}
	return false
}

// Post is a single user post.
type Post struct {
	PostID        string     `json:"postId"`
	AuthorID      string     `json:"authorId"`
	Content       string     `json:"content"`
	Visibility    Visibility `json:"visibility"`
	CommentCount  int        `json:"commentCount"`
	ReactionCount int        `json:"reactionCount"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}
