package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weedbox/feedflow"
)

func setupTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	store := feedflow.NewMemoryFeedStore()
	manager := feedflow.NewFeedManager(store)
	router := gin.New()
	SetupRoutes(router, manager)
	return router
}

// doJSON performs a request with an optional JSON body and identity headers
func doJSON(router *gin.Engine, method, path string, body any, identity *feedflow.Identity) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if identity != nil {
		req.Header.Set("X-User-Id", strconv.FormatInt(identity.ID, 10))
		req.Header.Set("X-User-Email", identity.Email)
		req.Header.Set("X-User-Nickname", identity.Nickname)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// registerAPIUser creates a user over the API and returns its identity
func registerAPIUser(t *testing.T, router *gin.Engine, email, nickname string) feedflow.Identity {
	t.Helper()
	w := doJSON(router, http.MethodPost, "/api/users", gin.H{
		"username": nickname,
		"email":    email,
		"nickname": nickname,
	}, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var user feedflow.User
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &user))
	return feedflow.Identity{ID: user.ID, Email: user.Email, Nickname: user.Nickname}
}

func TestAPI_PostLifecycle(t *testing.T) {
	router := setupTestRouter()
	alice := registerAPIUser(t, router, "alice@example.com", "alice")
	bob := registerAPIUser(t, router, "bob@example.com", "bob")

	// Create a post with an image
	w := doJSON(router, http.MethodPost, "/api/posts", gin.H{
		"title":   "hello feed",
		"content": "first content",
		"images":  []string{"https://example.com/a.jpg"},
	}, &alice)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var post feedflow.Post
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &post))
	assert.NotZero(t, post.ID)
	require.NotNil(t, post.User)
	assert.Equal(t, "alice", post.User.Nickname)

	// The feed lists it with aggregate fields present
	w = doJSON(router, http.MethodGet, "/api/posts", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var page feedflow.FeedPage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	require.Len(t, page.Posts, 1)
	assert.Equal(t, post.ID, page.Posts[0].ID)
	require.NotNil(t, page.Posts[0].Thumbnail)
	assert.False(t, page.Pagination.HasNextPage)
	assert.Nil(t, page.Pagination.NextCursor)

	postPath := fmt.Sprintf("/api/posts/%d", post.ID)

	// Detail view
	w = doJSON(router, http.MethodGet, postPath, nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// Like toggling: second like conflicts
	assert.Equal(t, http.StatusOK, doJSON(router, http.MethodPost, postPath+"/like", nil, &bob).Code)
	assert.Equal(t, http.StatusConflict, doJSON(router, http.MethodPost, postPath+"/like", nil, &bob).Code)
	assert.Equal(t, http.StatusOK, doJSON(router, http.MethodDelete, postPath+"/like", nil, &bob).Code)
	assert.Equal(t, http.StatusConflict, doJSON(router, http.MethodDelete, postPath+"/like", nil, &bob).Code)

	// Only the owner may delete
	assert.Equal(t, http.StatusForbidden, doJSON(router, http.MethodDelete, postPath, nil, &bob).Code)
	assert.Equal(t, http.StatusOK, doJSON(router, http.MethodDelete, postPath, nil, &alice).Code)

	// Deleted posts read as not found and leave the feed
	assert.Equal(t, http.StatusNotFound, doJSON(router, http.MethodGet, postPath, nil, nil).Code)
	w = doJSON(router, http.MethodGet, "/api/posts", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	page = feedflow.FeedPage{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Empty(t, page.Posts)
}

func TestAPI_CommentFlow(t *testing.T) {
	router := setupTestRouter()
	alice := registerAPIUser(t, router, "alice@example.com", "alice")
	bob := registerAPIUser(t, router, "bob@example.com", "bob")

	w := doJSON(router, http.MethodPost, "/api/posts", gin.H{
		"title":   "discussion",
		"content": "talk here",
	}, &alice)
	require.Equal(t, http.StatusCreated, w.Code)
	var post feedflow.Post
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &post))

	commentsPath := fmt.Sprintf("/api/posts/%d/comments", post.ID)

	w = doJSON(router, http.MethodPost, commentsPath, gin.H{"content": "nice post"}, &bob)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var comment feedflow.Comment
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &comment))

	repliesPath := fmt.Sprintf("%s/%d/replies", commentsPath, comment.ID)
	w = doJSON(router, http.MethodPost, repliesPath, gin.H{"content": "thanks"}, &alice)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var reply feedflow.Reply
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &reply))

	// The detail view carries the tree and the combined count
	w = doJSON(router, http.MethodGet, fmt.Sprintf("/api/posts/%d", post.ID), nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var detail feedflow.PostDetail
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &detail))
	assert.Equal(t, 2, detail.CommentsCount)
	require.Len(t, detail.Comments, 1)
	require.Len(t, detail.Comments[0].Replies, 1)

	// Ownership on deletes
	replyPath := fmt.Sprintf("%s/%d", repliesPath, reply.ID)
	assert.Equal(t, http.StatusForbidden, doJSON(router, http.MethodDelete, replyPath, nil, &bob).Code)
	assert.Equal(t, http.StatusOK, doJSON(router, http.MethodDelete, replyPath, nil, &alice).Code)

	commentPath := fmt.Sprintf("%s/%d", commentsPath, comment.ID)
	assert.Equal(t, http.StatusForbidden, doJSON(router, http.MethodDelete, commentPath, nil, &alice).Code)
	assert.Equal(t, http.StatusOK, doJSON(router, http.MethodDelete, commentPath, nil, &bob).Code)
}

func TestAPI_IdentityRequired(t *testing.T) {
	router := setupTestRouter()

	w := doJSON(router, http.MethodPost, "/api/posts", gin.H{
		"title":   "no identity",
		"content": "content",
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// A stale identity that resolves to no user is rejected as well
	ghost := feedflow.Identity{ID: 42, Email: "ghost@example.com", Nickname: "ghost"}
	w = doJSON(router, http.MethodPost, "/api/posts", gin.H{
		"title":   "stale identity",
		"content": "content",
	}, &ghost)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAPI_Validation(t *testing.T) {
	router := setupTestRouter()
	alice := registerAPIUser(t, router, "alice@example.com", "alice")

	// Malformed cursor
	w := doJSON(router, http.MethodGet, "/api/posts?cursor=abc", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Missing title fails binding
	w = doJSON(router, http.MethodPost, "/api/posts", gin.H{"content": "content"}, &alice)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Domain validation: title too short
	w = doJSON(router, http.MethodPost, "/api/posts", gin.H{"title": "x", "content": "content"}, &alice)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Duplicate email registration conflicts
	w = doJSON(router, http.MethodPost, "/api/users", gin.H{
		"username": "alice2",
		"email":    "alice@example.com",
		"nickname": "alice2",
	}, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	// Invalid path id
	w = doJSON(router, http.MethodGet, "/api/posts/abc", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
