// Package feedflow provides functionality for managing a social content feed.
package feedflow

import (
	"context"
	"errors"
	"net/url"
	"sort"
	"sync"
	"time"
)

var (
	// ErrPostNotFound is returned when a post does not exist or is soft-deleted
	ErrPostNotFound = errors.New("post not found")

	// ErrCommentNotFound is returned when a comment does not exist or is soft-deleted
	ErrCommentNotFound = errors.New("comment not found")

	// ErrReplyNotFound is returned when a reply does not exist or is soft-deleted
	ErrReplyNotFound = errors.New("reply not found")

	// ErrUserNotFound is returned when a referenced user record does not exist
	ErrUserNotFound = errors.New("user not found")

	// ErrPermissionDenied is returned when a user doesn't own the resource being modified
	ErrPermissionDenied = errors.New("permission denied")

	// ErrAlreadyLiked is returned when a like already exists for the (user, post) pair
	ErrAlreadyLiked = errors.New("post already liked")

	// ErrNotLiked is returned when no like exists for the (user, post) pair
	ErrNotLiked = errors.New("post not liked")

	// ErrEmailTaken is returned when registering a user with an email already in use
	ErrEmailTaken = errors.New("email already in use")

	// ErrImageRejected is returned by stores for image URLs they refuse to persist
	ErrImageRejected = errors.New("image rejected")
)

// FeedStore defines the interface for persisting and querying feed content.
// Soft-deleted rows are invisible to every method unless noted otherwise.
type FeedStore interface {
	// SaveUser persists a new user record. Emails are unique.
	SaveUser(ctx context.Context, user *User) error

	// GetUser retrieves a user by id.
	GetUser(ctx context.Context, userID int64) (*User, error)

	// GetUserByEmail retrieves a user by email.
	GetUserByEmail(ctx context.Context, email string) (*User, error)

	// CreatePost persists a post and its images as one atomic unit. On any
	// failure nothing is persisted.
	CreatePost(ctx context.Context, post *Post) error

	// GetPost retrieves a post base row with its owner projection and images.
	GetPost(ctx context.Context, postID int64) (*Post, error)

	// SoftDeletePost marks a post as deleted without removing its row.
	SoftDeletePost(ctx context.Context, postID int64) error

	// ListPostIDs returns up to limit post ids in descending order, starting
	// strictly below cursor when cursor is non-nil.
	ListPostIDs(ctx context.Context, cursor *int64, limit int) ([]int64, error)

	// GetFeedPosts retrieves base rows with owner projections for exactly the
	// given ids, preserving the order of ids.
	GetFeedPosts(ctx context.Context, ids []int64) ([]*Post, error)

	// CountCommentsByPost returns comment counts grouped by post id. Ids with
	// no comments are absent from the result.
	CountCommentsByPost(ctx context.Context, ids []int64) (map[int64]int, error)

	// CountRepliesByPost returns reply counts grouped by the post owning the
	// parent comment.
	CountRepliesByPost(ctx context.Context, ids []int64) (map[int64]int, error)

	// CountLikesByPost returns like-membership counts grouped by post id.
	CountLikesByPost(ctx context.Context, ids []int64) (map[int64]int, error)

	// FirstImageByPost returns, per post id, the image with the smallest id.
	FirstImageByPost(ctx context.Context, ids []int64) (map[int64]PostImage, error)

	// AddLike inserts a like membership. At most one row may exist per
	// (post, user) pair; a duplicate insert fails with ErrAlreadyLiked.
	AddLike(ctx context.Context, postID, userID int64) error

	// RemoveLike deletes a like membership, failing with ErrNotLiked when no
	// row exists.
	RemoveLike(ctx context.Context, postID, userID int64) error

	// SaveComment persists a new comment.
	SaveComment(ctx context.Context, comment *Comment) error

	// GetComment retrieves a comment by id, without its replies.
	GetComment(ctx context.Context, commentID int64) (*Comment, error)

	// SoftDeleteComment marks a comment as deleted.
	SoftDeleteComment(ctx context.Context, commentID int64) error

	// SaveReply persists a new reply.
	SaveReply(ctx context.Context, reply *Reply) error

	// GetReply retrieves a reply by id.
	GetReply(ctx context.Context, replyID int64) (*Reply, error)

	// SoftDeleteReply marks a reply as deleted.
	SoftDeleteReply(ctx context.Context, replyID int64) error

	// ListComments retrieves the comment tree of a post with author
	// projections, comments ordered by creation time ascending.
	ListComments(ctx context.Context, postID int64) ([]Comment, error)
}

// validImageURL reports whether a store accepts the image URL. Both store
// implementations apply the same rule so that transactional-create behavior
// matches across backends.
func validImageURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return u.Scheme != "" && u.Host != ""
}

type memUser struct {
	user User
}

type memPost struct {
	post      Post
	deletedAt *time.Time
}

type memComment struct {
	comment   Comment
	userID    int64
	deletedAt *time.Time
}

type memReply struct {
	reply     Reply
	userID    int64
	deletedAt *time.Time
}

// MemoryFeedStore implements FeedStore with in-memory storage. Ids are
// assigned from monotonic counters, matching the auto-increment semantics of
// the database-backed store.
type MemoryFeedStore struct {
	mutex    sync.RWMutex
	users    map[int64]*memUser
	emails   map[string]int64
	posts    map[int64]*memPost
	comments map[int64]*memComment
	replies  map[int64]*memReply
	likes    map[int64]map[int64]time.Time // postID -> userID -> liked at

	nextUserID    int64
	nextPostID    int64
	nextImageID   int64
	nextCommentID int64
	nextReplyID   int64
}

// NewMemoryFeedStore creates a new instance of MemoryFeedStore
func NewMemoryFeedStore() *MemoryFeedStore {
	return &MemoryFeedStore{
		users:    make(map[int64]*memUser),
		emails:   make(map[string]int64),
		posts:    make(map[int64]*memPost),
		comments: make(map[int64]*memComment),
		replies:  make(map[int64]*memReply),
		likes:    make(map[int64]map[int64]time.Time),
	}
}

// SaveUser persists a new user record
func (s *MemoryFeedStore) SaveUser(ctx context.Context, user *User) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, taken := s.emails[user.Email]; taken {
		return ErrEmailTaken
	}

	s.nextUserID++
	user.ID = s.nextUserID
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now

	s.users[user.ID] = &memUser{user: *user}
	s.emails[user.Email] = user.ID
	return nil
}

// GetUser retrieves a user by id
func (s *MemoryFeedStore) GetUser(ctx context.Context, userID int64) (*User, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	u, exists := s.users[userID]
	if !exists {
		return nil, ErrUserNotFound
	}
	userCopy := u.user
	return &userCopy, nil
}

// GetUserByEmail retrieves a user by email
func (s *MemoryFeedStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	id, exists := s.emails[email]
	if !exists {
		return nil, ErrUserNotFound
	}
	userCopy := s.users[id].user
	return &userCopy, nil
}

// userRef builds the owner projection for a user id. Callers hold the lock.
func (s *MemoryFeedStore) userRef(userID int64) *UserRef {
	u, exists := s.users[userID]
	if !exists {
		return nil
	}
	return &UserRef{ID: u.user.ID, Nickname: u.user.Nickname}
}

// CreatePost persists a post and its images as one atomic unit
func (s *MemoryFeedStore) CreatePost(ctx context.Context, post *Post) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	// Reject bad image URLs before anything is written, so a mid-batch
	// failure never leaves a post without its images.
	for _, img := range post.Images {
		if !validImageURL(img.URL) {
			return ErrImageRejected
		}
	}

	s.nextPostID++
	post.ID = s.nextPostID
	now := time.Now()
	post.CreatedAt = now
	post.UpdatedAt = now
	for i := range post.Images {
		s.nextImageID++
		post.Images[i].ID = s.nextImageID
		post.Images[i].PostID = post.ID
	}
	post.User = s.userRef(post.UserID)

	stored := *post
	stored.Images = append([]PostImage(nil), post.Images...)
	s.posts[post.ID] = &memPost{post: stored}
	return nil
}

// GetPost retrieves a post base row with its owner projection and images
func (s *MemoryFeedStore) GetPost(ctx context.Context, postID int64) (*Post, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	p, exists := s.posts[postID]
	if !exists || p.deletedAt != nil {
		return nil, ErrPostNotFound
	}

	postCopy := p.post
	postCopy.Images = append([]PostImage(nil), p.post.Images...)
	postCopy.User = s.userRef(p.post.UserID)
	return &postCopy, nil
}

// SoftDeletePost marks a post as deleted without removing its row
func (s *MemoryFeedStore) SoftDeletePost(ctx context.Context, postID int64) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	p, exists := s.posts[postID]
	if !exists || p.deletedAt != nil {
		return ErrPostNotFound
	}
	now := time.Now()
	p.deletedAt = &now
	return nil
}

// ListPostIDs returns up to limit post ids in descending order
func (s *MemoryFeedStore) ListPostIDs(ctx context.Context, cursor *int64, limit int) ([]int64, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	ids := make([]int64, 0, len(s.posts))
	for id, p := range s.posts {
		if p.deletedAt != nil {
			continue
		}
		if cursor != nil && id >= *cursor {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })

	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

// GetFeedPosts retrieves base rows for exactly the given ids, in order
func (s *MemoryFeedStore) GetFeedPosts(ctx context.Context, ids []int64) ([]*Post, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	posts := make([]*Post, 0, len(ids))
	for _, id := range ids {
		p, exists := s.posts[id]
		if !exists || p.deletedAt != nil {
			continue
		}
		postCopy := p.post
		postCopy.Images = nil
		postCopy.User = s.userRef(p.post.UserID)
		posts = append(posts, &postCopy)
	}
	return posts, nil
}

// CountCommentsByPost returns comment counts grouped by post id
func (s *MemoryFeedStore) CountCommentsByPost(ctx context.Context, ids []int64) (map[int64]int, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	wanted := idSet(ids)
	counts := make(map[int64]int)
	for _, c := range s.comments {
		if c.deletedAt != nil {
			continue
		}
		if wanted[c.comment.PostID] {
			counts[c.comment.PostID]++
		}
	}
	return counts, nil
}

// CountRepliesByPost returns reply counts grouped by the post owning the
// parent comment
func (s *MemoryFeedStore) CountRepliesByPost(ctx context.Context, ids []int64) (map[int64]int, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	wanted := idSet(ids)
	counts := make(map[int64]int)
	for _, r := range s.replies {
		if r.deletedAt != nil {
			continue
		}
		c, exists := s.comments[r.reply.CommentID]
		if !exists || c.deletedAt != nil {
			continue
		}
		if wanted[c.comment.PostID] {
			counts[c.comment.PostID]++
		}
	}
	return counts, nil
}

// CountLikesByPost returns like-membership counts grouped by post id
func (s *MemoryFeedStore) CountLikesByPost(ctx context.Context, ids []int64) (map[int64]int, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	counts := make(map[int64]int)
	for _, id := range ids {
		if n := len(s.likes[id]); n > 0 {
			counts[id] = n
		}
	}
	return counts, nil
}

// FirstImageByPost returns, per post id, the image with the smallest id
func (s *MemoryFeedStore) FirstImageByPost(ctx context.Context, ids []int64) (map[int64]PostImage, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	thumbs := make(map[int64]PostImage)
	for _, id := range ids {
		p, exists := s.posts[id]
		if !exists {
			continue
		}
		for _, img := range p.post.Images {
			if best, ok := thumbs[id]; !ok || img.ID < best.ID {
				thumbs[id] = img
			}
		}
	}
	return thumbs, nil
}

// AddLike inserts a like membership
func (s *MemoryFeedStore) AddLike(ctx context.Context, postID, userID int64) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	members, exists := s.likes[postID]
	if !exists {
		members = make(map[int64]time.Time)
		s.likes[postID] = members
	}
	if _, liked := members[userID]; liked {
		return ErrAlreadyLiked
	}
	members[userID] = time.Now()
	return nil
}

// RemoveLike deletes a like membership
func (s *MemoryFeedStore) RemoveLike(ctx context.Context, postID, userID int64) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	members := s.likes[postID]
	if _, liked := members[userID]; !liked {
		return ErrNotLiked
	}
	delete(members, userID)
	return nil
}

// SaveComment persists a new comment
func (s *MemoryFeedStore) SaveComment(ctx context.Context, comment *Comment) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.nextCommentID++
	comment.ID = s.nextCommentID
	comment.CreatedAt = time.Now()

	var userID int64
	if comment.User != nil {
		userID = comment.User.ID
	}
	stored := *comment
	stored.Replies = nil
	s.comments[comment.ID] = &memComment{comment: stored, userID: userID}
	comment.User = s.userRef(userID)
	return nil
}

// GetComment retrieves a comment by id, without its replies
func (s *MemoryFeedStore) GetComment(ctx context.Context, commentID int64) (*Comment, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	c, exists := s.comments[commentID]
	if !exists || c.deletedAt != nil {
		return nil, ErrCommentNotFound
	}
	commentCopy := c.comment
	commentCopy.User = s.userRef(c.userID)
	return &commentCopy, nil
}

// SoftDeleteComment marks a comment as deleted
func (s *MemoryFeedStore) SoftDeleteComment(ctx context.Context, commentID int64) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	c, exists := s.comments[commentID]
	if !exists || c.deletedAt != nil {
		return ErrCommentNotFound
	}
	now := time.Now()
	c.deletedAt = &now
	return nil
}

// SaveReply persists a new reply
func (s *MemoryFeedStore) SaveReply(ctx context.Context, reply *Reply) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.nextReplyID++
	reply.ID = s.nextReplyID
	reply.CreatedAt = time.Now()

	var userID int64
	if reply.User != nil {
		userID = reply.User.ID
	}
	s.replies[reply.ID] = &memReply{reply: *reply, userID: userID}
	reply.User = s.userRef(userID)
	return nil
}

// GetReply retrieves a reply by id
func (s *MemoryFeedStore) GetReply(ctx context.Context, replyID int64) (*Reply, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	r, exists := s.replies[replyID]
	if !exists || r.deletedAt != nil {
		return nil, ErrReplyNotFound
	}
	replyCopy := r.reply
	replyCopy.User = s.userRef(r.userID)
	return &replyCopy, nil
}

// SoftDeleteReply marks a reply as deleted
func (s *MemoryFeedStore) SoftDeleteReply(ctx context.Context, replyID int64) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	r, exists := s.replies[replyID]
	if !exists || r.deletedAt != nil {
		return ErrReplyNotFound
	}
	now := time.Now()
	r.deletedAt = &now
	return nil
}

// ListComments retrieves the comment tree of a post, oldest comments first
func (s *MemoryFeedStore) ListComments(ctx context.Context, postID int64) ([]Comment, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var comments []Comment
	for _, c := range s.comments {
		if c.deletedAt != nil || c.comment.PostID != postID {
			continue
		}
		commentCopy := c.comment
		commentCopy.User = s.userRef(c.userID)
		comments = append(comments, commentCopy)
	}
	sort.Slice(comments, func(i, j int) bool {
		if comments[i].CreatedAt.Equal(comments[j].CreatedAt) {
			return comments[i].ID < comments[j].ID
		}
		return comments[i].CreatedAt.Before(comments[j].CreatedAt)
	})

	for i := range comments {
		for _, r := range s.replies {
			if r.deletedAt != nil || r.reply.CommentID != comments[i].ID {
				continue
			}
			replyCopy := r.reply
			replyCopy.User = s.userRef(r.userID)
			comments[i].Replies = append(comments[i].Replies, replyCopy)
		}
		sort.Slice(comments[i].Replies, func(a, b int) bool {
			return comments[i].Replies[a].ID < comments[i].Replies[b].ID
		})
	}
	return comments, nil
}

// idSet builds a membership set from a slice of post ids
func idSet(ids []int64) map[int64]bool {
	set := make(map[int64]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
