// Package feedflow provides functionality for managing a social content feed.
package feedflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"
)

var (
	// ErrInvalidInput is returned for malformed caller input. Wrap it with
	// detail via fmt.Errorf("%w: ...", ErrInvalidInput).
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnauthorized is returned when the acting identity no longer resolves
	// to a stored user record
	ErrUnauthorized = errors.New("unknown user")
)

// FeedManagerImpl implements the FeedManager interface using a FeedStore for
// persistence
type FeedManagerImpl struct {
	store FeedStore
}

// NewFeedManager creates a new instance of FeedManagerImpl
func NewFeedManager(store FeedStore) *FeedManagerImpl {
	return &FeedManagerImpl{
		store: store,
	}
}

// clampLimit normalizes the requested page size. Non-positive values are
// treated as unspecified.
func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultPageLimit
	}
	if limit > MaxPageLimit {
		return MaxPageLimit
	}
	return limit
}

// feedAggregates holds the derived values of one batch of posts.
type feedAggregates struct {
	comments map[int64]int
	replies  map[int64]int
	likes    map[int64]int
	thumbs   map[int64]PostImage
}

// collectAggregates runs the four grouped queries for a set of post ids
// concurrently. A failure or cancellation abandons the whole batch.
func (m *FeedManagerImpl) collectAggregates(ctx context.Context, ids []int64) (*feedAggregates, error) {
	agg := &feedAggregates{}
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		agg.comments, err = m.store.CountCommentsByPost(ctx, ids)
		return err
	})
	g.Go(func() error {
		var err error
		agg.replies, err = m.store.CountRepliesByPost(ctx, ids)
		return err
	})
	g.Go(func() error {
		var err error
		agg.likes, err = m.store.CountLikesByPost(ctx, ids)
		return err
	})
	g.Go(func() error {
		var err error
		agg.thumbs, err = m.store.FirstImageByPost(ctx, ids)
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return agg, nil
}

// ListFeed returns one page of the feed, most recent first
func (m *FeedManagerImpl) ListFeed(ctx context.Context, cursor *int64, limit int) (*FeedPage, error) {
	limit = clampLimit(limit)

	// Fetch one extra id to detect whether another page exists.
	ids, err := m.store.ListPostIDs(ctx, cursor, limit+1)
	if err != nil {
		return nil, err
	}

	hasNextPage := len(ids) > limit
	if hasNextPage {
		ids = ids[:limit]
	}

	page := &FeedPage{Posts: []FeedItem{}}
	if len(ids) == 0 {
		return page, nil
	}

	posts, err := m.store.GetFeedPosts(ctx, ids)
	if err != nil {
		return nil, err
	}

	agg, err := m.collectAggregates(ctx, ids)
	if err != nil {
		return nil, err
	}

	for _, post := range posts {
		item := FeedItem{
			ID:            post.ID,
			Title:         post.Title,
			Content:       post.Content,
			CreatedAt:     post.CreatedAt,
			User:          post.User,
			CommentsCount: agg.comments[post.ID] + agg.replies[post.ID],
			LikesCount:    agg.likes[post.ID],
		}
		if thumb, ok := agg.thumbs[post.ID]; ok {
			item.Thumbnail = &thumb
		}
		page.Posts = append(page.Posts, item)
	}

	if hasNextPage {
		nextCursor := ids[len(ids)-1]
		page.Pagination = PageInfo{HasNextPage: true, NextCursor: &nextCursor}
	}
	return page, nil
}

// GetPost returns the full post graph with aggregate counts
func (m *FeedManagerImpl) GetPost(ctx context.Context, postID int64) (*PostDetail, error) {
	post, err := m.store.GetPost(ctx, postID)
	if err != nil {
		return nil, err
	}

	comments, err := m.store.ListComments(ctx, postID)
	if err != nil {
		return nil, err
	}

	agg, err := m.collectAggregates(ctx, []int64{postID})
	if err != nil {
		return nil, err
	}

	if comments == nil {
		comments = []Comment{}
	}
	return &PostDetail{
		Post:          *post,
		Comments:      comments,
		CommentsCount: agg.comments[postID] + agg.replies[postID],
		LikesCount:    agg.likes[postID],
	}, nil
}

// resolveIdentity re-checks that the acting identity still maps to a stored
// user, defending against stale tokens for deleted accounts.
func (m *FeedManagerImpl) resolveIdentity(ctx context.Context, identity Identity) (*User, error) {
	user, err := m.store.GetUserByEmail(ctx, identity.Email)
	if errors.Is(err, ErrUserNotFound) {
		return nil, ErrUnauthorized
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// CreatePost creates a post and its images as one atomic unit
func (m *FeedManagerImpl) CreatePost(ctx context.Context, identity Identity, in CreatePostInput) (*Post, error) {
	user, err := m.resolveIdentity(ctx, identity)
	if err != nil {
		return nil, err
	}

	titleLen := utf8.RuneCountInString(strings.TrimSpace(in.Title))
	if titleLen < MinTitleLength || titleLen > MaxTitleLength {
		return nil, fmt.Errorf("%w: title must be between %d and %d characters", ErrInvalidInput, MinTitleLength, MaxTitleLength)
	}
	if strings.TrimSpace(in.Content) == "" {
		return nil, fmt.Errorf("%w: content must not be empty", ErrInvalidInput)
	}
	if len(in.Images) > MaxPostImages {
		return nil, fmt.Errorf("%w: at most %d images per post", ErrInvalidInput, MaxPostImages)
	}

	post := &Post{
		Title:   in.Title,
		Content: in.Content,
		UserID:  user.ID,
	}
	for _, url := range in.Images {
		post.Images = append(post.Images, PostImage{URL: url})
	}

	if err := m.store.CreatePost(ctx, post); err != nil {
		return nil, err
	}
	if post.Images == nil {
		post.Images = []PostImage{}
	}
	return post, nil
}

// DeletePost soft-deletes a post owned by the acting user
func (m *FeedManagerImpl) DeletePost(ctx context.Context, identity Identity, postID int64) error {
	post, err := m.store.GetPost(ctx, postID)
	if err != nil {
		return err
	}
	if post.UserID != identity.ID {
		return ErrPermissionDenied
	}
	return m.store.SoftDeletePost(ctx, postID)
}

// LikePost records that the acting user likes the post. The store's
// uniqueness constraint settles concurrent calls: exactly one wins, the
// loser gets ErrAlreadyLiked.
func (m *FeedManagerImpl) LikePost(ctx context.Context, identity Identity, postID int64) error {
	if _, err := m.store.GetUser(ctx, identity.ID); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrUnauthorized
		}
		return err
	}
	if _, err := m.store.GetPost(ctx, postID); err != nil {
		return err
	}
	return m.store.AddLike(ctx, postID, identity.ID)
}

// UnlikePost removes the acting user's like from the post
func (m *FeedManagerImpl) UnlikePost(ctx context.Context, identity Identity, postID int64) error {
	if _, err := m.store.GetUser(ctx, identity.ID); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrUnauthorized
		}
		return err
	}
	if _, err := m.store.GetPost(ctx, postID); err != nil {
		return err
	}
	return m.store.RemoveLike(ctx, postID, identity.ID)
}

// validateCommentContent checks comment and reply bodies
func validateCommentContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("%w: comment must not be empty", ErrInvalidInput)
	}
	if utf8.RuneCountInString(content) > MaxCommentLength {
		return fmt.Errorf("%w: comment must be at most %d characters", ErrInvalidInput, MaxCommentLength)
	}
	return nil
}

// CreateComment adds a top-level comment to a post
func (m *FeedManagerImpl) CreateComment(ctx context.Context, identity Identity, postID int64, content string) (*Comment, error) {
	if err := validateCommentContent(content); err != nil {
		return nil, err
	}
	user, err := m.resolveIdentity(ctx, identity)
	if err != nil {
		return nil, err
	}
	if _, err := m.store.GetPost(ctx, postID); err != nil {
		return nil, err
	}

	comment := &Comment{
		PostID:  postID,
		Content: content,
		User:    &UserRef{ID: user.ID, Nickname: user.Nickname},
	}
	if err := m.store.SaveComment(ctx, comment); err != nil {
		return nil, err
	}
	return comment, nil
}

// CreateReply adds a reply to a comment of a post
func (m *FeedManagerImpl) CreateReply(ctx context.Context, identity Identity, postID, commentID int64, content string) (*Reply, error) {
	if err := validateCommentContent(content); err != nil {
		return nil, err
	}
	user, err := m.resolveIdentity(ctx, identity)
	if err != nil {
		return nil, err
	}
	if _, err := m.store.GetPost(ctx, postID); err != nil {
		return nil, err
	}

	comment, err := m.store.GetComment(ctx, commentID)
	if err != nil {
		return nil, err
	}
	// A comment addressed through the wrong post is treated as absent.
	if comment.PostID != postID {
		return nil, ErrCommentNotFound
	}

	reply := &Reply{
		CommentID: commentID,
		Content:   content,
		User:      &UserRef{ID: user.ID, Nickname: user.Nickname},
	}
	if err := m.store.SaveReply(ctx, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

// DeleteComment soft-deletes a comment owned by the acting user
func (m *FeedManagerImpl) DeleteComment(ctx context.Context, identity Identity, postID, commentID int64) error {
	comment, err := m.store.GetComment(ctx, commentID)
	if err != nil {
		return err
	}
	if comment.PostID != postID {
		return ErrCommentNotFound
	}
	if comment.User == nil || comment.User.ID != identity.ID {
		return ErrPermissionDenied
	}
	return m.store.SoftDeleteComment(ctx, commentID)
}

// DeleteReply soft-deletes a reply owned by the acting user
func (m *FeedManagerImpl) DeleteReply(ctx context.Context, identity Identity, postID, commentID, replyID int64) error {
	reply, err := m.store.GetReply(ctx, replyID)
	if err != nil {
		return err
	}
	if reply.CommentID != commentID {
		return ErrReplyNotFound
	}
	comment, err := m.store.GetComment(ctx, reply.CommentID)
	if err != nil {
		return err
	}
	if comment.PostID != postID {
		return ErrReplyNotFound
	}
	if reply.User == nil || reply.User.ID != identity.ID {
		return ErrPermissionDenied
	}
	return m.store.SoftDeleteReply(ctx, replyID)
}

// RegisterUser creates a user record with a unique email
func (m *FeedManagerImpl) RegisterUser(ctx context.Context, in RegisterUserInput) (*User, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	nickname := strings.TrimSpace(in.Nickname)
	username := strings.TrimSpace(in.Username)

	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: a valid email is required", ErrInvalidInput)
	}
	if l := utf8.RuneCountInString(nickname); l < 2 || l > 20 {
		return nil, fmt.Errorf("%w: nickname must be between 2 and 20 characters", ErrInvalidInput)
	}
	if l := utf8.RuneCountInString(username); l < 2 || l > 20 {
		return nil, fmt.Errorf("%w: username must be between 2 and 20 characters", ErrInvalidInput)
	}

	// Pre-check for a friendlier error; the store's unique index is the
	// authority under concurrent registration.
	if _, err := m.store.GetUserByEmail(ctx, email); err == nil {
		return nil, ErrEmailTaken
	} else if !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}

	user := &User{
		Username: username,
		Email:    email,
		Nickname: nickname,
	}
	if err := m.store.SaveUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}
