// Package feedflow provides functionality for managing a social content feed.
//
// The package implements a feed/content backend that supports creating posts
// with attached images, cursor-based feed pagination with batched aggregate
// enrichment (comment/reply counts, like counts, thumbnails), comment and
// reply management, and idempotent like/unlike toggling.
package feedflow

import (
	"context"
	"time"
)

const (
	// DefaultPageLimit is used when a feed request carries no usable limit
	DefaultPageLimit = 20

	// MaxPageLimit caps the number of posts returned in a single feed page
	MaxPageLimit = 100

	// MaxPostImages is the maximum number of images attached to one post
	MaxPostImages = 5

	// MinTitleLength and MaxTitleLength bound the post title, in runes
	MinTitleLength = 2
	MaxTitleLength = 50

	// MaxCommentLength bounds comment and reply content, in runes
	MaxCommentLength = 200
)

// Identity is a pre-validated acting user supplied by an external
// authentication collaborator. The core trusts it without re-checking
// credentials, but re-resolves the id against stored users before writes.
type Identity struct {
	ID       int64  `json:"id"`
	Email    string `json:"email"`
	Nickname string `json:"nickname"`
}

// User represents a registered user record.
type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Nickname  string    `json:"nickname"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// UserRef is the owner projection exposed to callers. It intentionally
// carries nothing beyond id and nickname.
type UserRef struct {
	ID       int64  `json:"id"`
	Nickname string `json:"nickname"`
}

// PostImage is an image attached to a post. Images have no independent
// lifecycle: they are written atomically with their post and never updated.
type PostImage struct {
	ID     int64  `json:"id"`
	PostID int64  `json:"-"`
	URL    string `json:"url"`
}

// Post represents a post in the system.
type Post struct {
	ID        int64       `json:"id"`
	Title     string      `json:"title"`
	Content   string      `json:"content"`
	UserID    int64       `json:"-"`
	User      *UserRef    `json:"user"`
	Images    []PostImage `json:"postImages"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

// Comment is a top-level comment on a post.
type Comment struct {
	ID        int64     `json:"id"`
	PostID    int64     `json:"-"`
	Content   string    `json:"content"`
	User      *UserRef  `json:"user"`
	Replies   []Reply   `json:"replies"`
	CreatedAt time.Time `json:"createdAt"`
}

// Reply is a nested reply to a comment.
type Reply struct {
	ID        int64     `json:"id"`
	CommentID int64     `json:"-"`
	Content   string    `json:"content"`
	User      *UserRef  `json:"user"`
	CreatedAt time.Time `json:"createdAt"`
}

// FeedItem is one post in a feed page, enriched with derived counts and the
// selected thumbnail. Counts are always computed, never stored.
type FeedItem struct {
	ID            int64      `json:"id"`
	Title         string     `json:"title"`
	Content       string     `json:"content"`
	CreatedAt     time.Time  `json:"createdAt"`
	User          *UserRef   `json:"user"`
	Thumbnail     *PostImage `json:"thumbnail"`
	CommentsCount int        `json:"commentsCount"`
	LikesCount    int        `json:"likesCount"`
}

// PageInfo carries the cursor state of a feed page. NextCursor is nil on the
// last page.
type PageInfo struct {
	HasNextPage bool   `json:"hasNextPage"`
	NextCursor  *int64 `json:"nextCursor"`
}

// FeedPage is the result of a feed listing.
type FeedPage struct {
	Posts      []FeedItem `json:"posts"`
	Pagination PageInfo   `json:"pagination"`
}

// PostDetail is the full post graph returned for a single-post view.
type PostDetail struct {
	Post
	Comments      []Comment `json:"comments"`
	CommentsCount int       `json:"commentsCount"`
	LikesCount    int       `json:"likesCount"`
}

// CreatePostInput carries the caller-supplied fields of a new post.
type CreatePostInput struct {
	Title   string   `json:"title"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

// RegisterUserInput carries the caller-supplied fields of a new user record.
type RegisterUserInput struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Nickname string `json:"nickname"`
}

// FeedManager defines the interface for the feed service.
type FeedManager interface {
	// ListFeed returns one page of the feed, most recent first. A nil cursor
	// requests the first page; limit is clamped to [1, MaxPageLimit] with
	// non-positive values falling back to DefaultPageLimit.
	ListFeed(ctx context.Context, cursor *int64, limit int) (*FeedPage, error)

	// GetPost returns the full post graph with aggregate counts.
	GetPost(ctx context.Context, postID int64) (*PostDetail, error)

	// CreatePost creates a post and its images as one atomic unit.
	CreatePost(ctx context.Context, identity Identity, in CreatePostInput) (*Post, error)

	// DeletePost soft-deletes a post owned by the acting user.
	DeletePost(ctx context.Context, identity Identity, postID int64) error

	// LikePost records that the acting user likes the post.
	LikePost(ctx context.Context, identity Identity, postID int64) error

	// UnlikePost removes the acting user's like from the post.
	UnlikePost(ctx context.Context, identity Identity, postID int64) error

	// CreateComment adds a top-level comment to a post.
	CreateComment(ctx context.Context, identity Identity, postID int64, content string) (*Comment, error)

	// CreateReply adds a reply to a comment of a post.
	CreateReply(ctx context.Context, identity Identity, postID, commentID int64, content string) (*Reply, error)

	// DeleteComment soft-deletes a comment owned by the acting user.
	DeleteComment(ctx context.Context, identity Identity, postID, commentID int64) error

	// DeleteReply soft-deletes a reply owned by the acting user.
	DeleteReply(ctx context.Context, identity Identity, postID, commentID, replyID int64) error

	// RegisterUser creates a user record with a unique email.
	RegisterUser(ctx context.Context, in RegisterUserInput) (*User, error)
}
