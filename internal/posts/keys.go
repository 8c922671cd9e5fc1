package posts

import (
	"fmt"

	"github.com/bytedance/sonic"

	"github.com/bramble-social/bramble/internal/store"
)

// Persisted layout for posts:
//
//	primary  USER#{author}     / POST#{postID}
//	gsi1     VIS#public        / {createdAt}#{postID}    public stream, newest via descending scan
//	gsi2     TIMELINE#{author} / {createdAt}#{postID}    author timeline
//
// Only public posts carry the gsi1 projection, so the public stream query
// scope never sees friends-only or private posts. Visibility changes after
// indexing are still re-checked per item at read time.
const (
	userKeyPrefix     = "USER#"
	postKeyPrefix     = "POST#"
	publicStreamKey   = "VIS#public"
	timelineKeyPrefix = "TIMELINE#"
)

// PostItem serializes a post into its stored item, computing projections
// from the record body.
func PostItem(post *Post) (*store.Item, error) {
	data, err := sonic.Marshal(post)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal post: %w", err)
	}

	item := &store.Item{
		PK:     userKeyPrefix + post.AuthorID,
		SK:     postKeyPrefix + post.PostID,
		GSI2PK: timelineKeyPrefix + post.AuthorID,
		GSI2SK: TimeSortKey(post),
		Data:   data,
	}

	if post.Visibility == VisibilityPublic {
		item.GSI1PK = publicStreamKey
		item.GSI1SK = TimeSortKey(post)
	}

	return item, nil
}

// DecodePost deserializes a stored item back into a post.
func DecodePost(item *store.Item) (*Post, error) {
	post := new(Post)
	if err := sonic.Unmarshal(item.Data, post); err != nil {
		return nil, fmt.Errorf("failed to unmarshal post: %w", err)
	}
	return post, nil
}

// postKey returns the primary key of a post.
func postKey(authorID, postID string) (pk, sk string) {
	return userKeyPrefix + authorID, postKeyPrefix + postID
}

// timelinePartition returns the gsi2 partition of an author's posts.
func timelinePartition(authorID string) string {
	return timelineKeyPrefix + authorID
}

// TimeSortKey builds the chronological sort key of a post, with the post id
// as a deterministic tie-break.
func TimeSortKey(post *Post) string {
	return store.SortTime(post.CreatedAt) + "#" + post.PostID
}
