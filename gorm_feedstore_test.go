package feedflow

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// setupTestGormStore creates a new GormFeedStore with an in-memory SQLite
// database for testing
func setupTestGormStore(t *testing.T) (*GormFeedStore, *gorm.DB) {
	// Generate a unique database name for each test to prevent test interference
	dbName := fmt.Sprintf("file:memdb%d?mode=memory&cache=shared", time.Now().UnixNano())

	db, err := gorm.Open(sqlite.Open(dbName), &gorm.Config{})
	require.NoError(t, err)

	store, err := NewGormFeedStore(db)
	require.NoError(t, err)

	return store, db
}

// cleanupTestDB closes the database connection
func cleanupTestDB(t *testing.T, db *gorm.DB) {
	sqlDB, err := db.DB()
	require.NoError(t, err)
	err = sqlDB.Close()
	require.NoError(t, err)
}

func TestGormFeedStore_SaveUser(t *testing.T) {
	store, db := setupTestGormStore(t)
	defer cleanupTestDB(t, db)
	ctx := context.Background()

	user := seedTestUser(t, store, "alice@example.com", "alice")
	assert.NotZero(t, user.ID)

	found, err := store.GetUser(ctx, user.ID)
	assert.NoError(t, err)
	assert.Equal(t, "alice@example.com", found.Email)
	assert.Equal(t, "alice", found.Nickname)

	byEmail, err := store.GetUserByEmail(ctx, "alice@example.com")
	assert.NoError(t, err)
	assert.Equal(t, user.ID, byEmail.ID)

	// The unique index on email rejects duplicates
	err = store.SaveUser(ctx, &User{Username: "alice2", Email: "alice@example.com", Nickname: "alice2"})
	assert.ErrorIs(t, err, ErrEmailTaken)

	_, err = store.GetUser(ctx, 999)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestGormFeedStore_CreatePost(t *testing.T) {
	store, db := setupTestGormStore(t)
	defer cleanupTestDB(t, db)
	ctx := context.Background()

	user := seedTestUser(t, store, "alice@example.com", "alice")
	post := seedTestPost(t, store, user.ID, "first post",
		"https://example.com/a.jpg", "https://example.com/b.jpg")
	assert.NotZero(t, post.ID)
	require.Len(t, post.Images, 2)
	assert.NotZero(t, post.Images[0].ID)
	require.NotNil(t, post.User)
	assert.Equal(t, "alice", post.User.Nickname)

	found, err := store.GetPost(ctx, post.ID)
	assert.NoError(t, err)
	assert.Equal(t, "first post", found.Title)
	assert.Equal(t, user.ID, found.UserID)
	require.Len(t, found.Images, 2)
	assert.Equal(t, "https://example.com/a.jpg", found.Images[0].URL)
	require.NotNil(t, found.User)
	assert.Equal(t, "alice", found.User.Nickname)
}

func TestGormFeedStore_CreatePostRollback(t *testing.T) {
	store, db := setupTestGormStore(t)
	defer cleanupTestDB(t, db)
	ctx := context.Background()

	user := seedTestUser(t, store, "alice@example.com", "alice")

	post := &Post{
		Title:   "broken post",
		Content: "content",
		UserID:  user.ID,
		Images: []PostImage{
			{URL: "https://example.com/ok.jpg"},
			{URL: "::not a url::"},
		},
	}
	err := store.CreatePost(ctx, post)
	assert.ErrorIs(t, err, ErrImageRejected)

	// The rejected image rolled back the post row and the first image
	var postCount, imageCount int64
	require.NoError(t, db.Model(&PostModel{}).Unscoped().Count(&postCount).Error)
	require.NoError(t, db.Model(&PostImageModel{}).Count(&imageCount).Error)
	assert.Zero(t, postCount)
	assert.Zero(t, imageCount)
}

func TestGormFeedStore_ListPostIDs(t *testing.T) {
	store, db := setupTestGormStore(t)
	defer cleanupTestDB(t, db)
	ctx := context.Background()

	user := seedTestUser(t, store, "alice@example.com", "alice")
	var posts []*Post
	for i := 0; i < 5; i++ {
		posts = append(posts, seedTestPost(t, store, user.ID, fmt.Sprintf("post %d", i)))
	}

	ids, err := store.ListPostIDs(ctx, nil, 10)
	assert.NoError(t, err)
	require.Len(t, ids, 5)
	for i := 1; i < len(ids); i++ {
		assert.Greater(t, ids[i-1], ids[i])
	}

	// Cursor excludes the cursor row itself
	cursor := posts[2].ID
	ids, err = store.ListPostIDs(ctx, &cursor, 10)
	assert.NoError(t, err)
	assert.Equal(t, []int64{posts[1].ID, posts[0].ID}, ids)

	ids, err = store.ListPostIDs(ctx, nil, 3)
	assert.NoError(t, err)
	assert.Len(t, ids, 3)

	require.NoError(t, store.SoftDeletePost(ctx, posts[4].ID))
	ids, err = store.ListPostIDs(ctx, nil, 10)
	assert.NoError(t, err)
	assert.NotContains(t, ids, posts[4].ID)
}

func TestGormFeedStore_GetFeedPosts(t *testing.T) {
	store, db := setupTestGormStore(t)
	defer cleanupTestDB(t, db)
	ctx := context.Background()

	user := seedTestUser(t, store, "alice@example.com", "alice")
	a := seedTestPost(t, store, user.ID, "post a")
	b := seedTestPost(t, store, user.ID, "post b")
	c := seedTestPost(t, store, user.ID, "post c")

	// The result follows the requested id order, not table order
	posts, err := store.GetFeedPosts(ctx, []int64{c.ID, b.ID, a.ID})
	assert.NoError(t, err)
	require.Len(t, posts, 3)
	assert.Equal(t, c.ID, posts[0].ID)
	assert.Equal(t, b.ID, posts[1].ID)
	assert.Equal(t, a.ID, posts[2].ID)
	require.NotNil(t, posts[0].User)
	assert.Equal(t, "alice", posts[0].User.Nickname)
}

func TestGormFeedStore_Aggregates(t *testing.T) {
	store, db := setupTestGormStore(t)
	defer cleanupTestDB(t, db)
	ctx := context.Background()

	user := seedTestUser(t, store, "alice@example.com", "alice")
	ref := &UserRef{ID: user.ID, Nickname: user.Nickname}

	commented := seedTestPost(t, store, user.ID, "commented")
	bare := seedTestPost(t, store, user.ID, "bare")

	// 3 comments with 2 replies each
	for i := 0; i < 3; i++ {
		comment := &Comment{PostID: commented.ID, Content: fmt.Sprintf("comment %d", i), User: ref}
		require.NoError(t, store.SaveComment(ctx, comment))
		for j := 0; j < 2; j++ {
			require.NoError(t, store.SaveReply(ctx, &Reply{
				CommentID: comment.ID,
				Content:   fmt.Sprintf("reply %d-%d", i, j),
				User:      ref,
			}))
		}
	}

	ids := []int64{commented.ID, bare.ID}

	comments, err := store.CountCommentsByPost(ctx, ids)
	assert.NoError(t, err)
	assert.Equal(t, 3, comments[commented.ID])
	assert.Zero(t, comments[bare.ID])

	replies, err := store.CountRepliesByPost(ctx, ids)
	assert.NoError(t, err)
	assert.Equal(t, 6, replies[commented.ID])
	assert.Zero(t, replies[bare.ID])

	// Soft-deleting a comment removes it and its replies from the counts
	first, err := store.ListComments(ctx, commented.ID)
	require.NoError(t, err)
	require.NoError(t, store.SoftDeleteComment(ctx, first[0].ID))

	comments, err = store.CountCommentsByPost(ctx, ids)
	assert.NoError(t, err)
	assert.Equal(t, 2, comments[commented.ID])
	replies, err = store.CountRepliesByPost(ctx, ids)
	assert.NoError(t, err)
	assert.Equal(t, 4, replies[commented.ID])
}

func TestGormFeedStore_ThumbnailSelection(t *testing.T) {
	store, db := setupTestGormStore(t)
	defer cleanupTestDB(t, db)
	ctx := context.Background()

	user := seedTestUser(t, store, "alice@example.com", "alice")
	post := seedTestPost(t, store, user.ID, "with images",
		"https://example.com/first.jpg",
		"https://example.com/second.jpg",
		"https://example.com/third.jpg")
	bare := seedTestPost(t, store, user.ID, "without images")

	thumbs, err := store.FirstImageByPost(ctx, []int64{post.ID, bare.ID})
	assert.NoError(t, err)

	// The earliest-inserted image wins regardless of query ordering
	require.Contains(t, thumbs, post.ID)
	assert.Equal(t, "https://example.com/first.jpg", thumbs[post.ID].URL)
	assert.Equal(t, post.Images[0].ID, thumbs[post.ID].ID)
	assert.NotContains(t, thumbs, bare.ID)
}

func TestGormFeedStore_LikeMembership(t *testing.T) {
	store, db := setupTestGormStore(t)
	defer cleanupTestDB(t, db)
	ctx := context.Background()

	alice := seedTestUser(t, store, "alice@example.com", "alice")
	bob := seedTestUser(t, store, "bob@example.com", "bob")
	post := seedTestPost(t, store, alice.ID, "likeable")

	assert.NoError(t, store.AddLike(ctx, post.ID, alice.ID))
	assert.NoError(t, store.AddLike(ctx, post.ID, bob.ID))

	// The composite primary key rejects a second membership for the pair
	assert.ErrorIs(t, store.AddLike(ctx, post.ID, alice.ID), ErrAlreadyLiked)

	counts, err := store.CountLikesByPost(ctx, []int64{post.ID})
	assert.NoError(t, err)
	assert.Equal(t, 2, counts[post.ID])

	assert.NoError(t, store.RemoveLike(ctx, post.ID, alice.ID))
	assert.ErrorIs(t, store.RemoveLike(ctx, post.ID, alice.ID), ErrNotLiked)

	counts, err = store.CountLikesByPost(ctx, []int64{post.ID})
	assert.NoError(t, err)
	assert.Equal(t, 1, counts[post.ID])
}

func TestGormFeedStore_SoftDeletePost(t *testing.T) {
	store, db := setupTestGormStore(t)
	defer cleanupTestDB(t, db)
	ctx := context.Background()

	user := seedTestUser(t, store, "alice@example.com", "alice")
	post := seedTestPost(t, store, user.ID, "doomed")

	require.NoError(t, store.SoftDeletePost(ctx, post.ID))

	_, err := store.GetPost(ctx, post.ID)
	assert.ErrorIs(t, err, ErrPostNotFound)

	err = store.SoftDeletePost(ctx, post.ID)
	assert.ErrorIs(t, err, ErrPostNotFound)

	// The row physically remains, flagged as deleted
	var total int64
	require.NoError(t, db.Model(&PostModel{}).Unscoped().Count(&total).Error)
	assert.Equal(t, int64(1), total)
}

func TestGormFeedStore_ListComments(t *testing.T) {
	store, db := setupTestGormStore(t)
	defer cleanupTestDB(t, db)
	ctx := context.Background()

	alice := seedTestUser(t, store, "alice@example.com", "alice")
	bob := seedTestUser(t, store, "bob@example.com", "bob")
	post := seedTestPost(t, store, alice.ID, "discussed")

	first := &Comment{PostID: post.ID, Content: "first", User: &UserRef{ID: bob.ID}}
	require.NoError(t, store.SaveComment(ctx, first))
	second := &Comment{PostID: post.ID, Content: "second", User: &UserRef{ID: alice.ID}}
	require.NoError(t, store.SaveComment(ctx, second))
	require.NoError(t, store.SaveReply(ctx, &Reply{
		CommentID: first.ID,
		Content:   "a reply",
		User:      &UserRef{ID: alice.ID},
	}))

	comments, err := store.ListComments(ctx, post.ID)
	assert.NoError(t, err)
	require.Len(t, comments, 2)
	assert.Equal(t, "first", comments[0].Content)
	require.NotNil(t, comments[0].User)
	assert.Equal(t, "bob", comments[0].User.Nickname)
	require.Len(t, comments[0].Replies, 1)
	assert.Equal(t, "a reply", comments[0].Replies[0].Content)
	require.NotNil(t, comments[0].Replies[0].User)
	assert.Equal(t, "alice", comments[0].Replies[0].User.Nickname)
	assert.Empty(t, comments[1].Replies)
}
