// Package httpapi exposes the feedflow manager over HTTP with gin.
package httpapi

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/weedbox/feedflow"
)

// Env holds the dependencies shared by all handlers.
type Env struct {
	Manager feedflow.FeedManager
}

type createPostRequest struct {
	Title   string   `json:"title" binding:"required"`
	Content string   `json:"content" binding:"required"`
	Images  []string `json:"images"`
}

type createCommentRequest struct {
	Content string `json:"content" binding:"required"`
}

type registerUserRequest struct {
	Username string `json:"username" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Nickname string `json:"nickname" binding:"required"`
}

// writeError maps domain errors to transport status codes in one place.
// Anything outside the domain taxonomy is reported as a generic internal
// failure; detail goes to the log, never to the caller.
func writeError(c *gin.Context, err error) {
	var status int
	switch {
	case errors.Is(err, feedflow.ErrInvalidInput), errors.Is(err, feedflow.ErrImageRejected):
		status = http.StatusBadRequest
	case errors.Is(err, feedflow.ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, feedflow.ErrPermissionDenied):
		status = http.StatusForbidden
	case errors.Is(err, feedflow.ErrPostNotFound),
		errors.Is(err, feedflow.ErrCommentNotFound),
		errors.Is(err, feedflow.ErrReplyNotFound),
		errors.Is(err, feedflow.ErrUserNotFound):
		status = http.StatusNotFound
	case errors.Is(err, feedflow.ErrAlreadyLiked),
		errors.Is(err, feedflow.ErrNotLiked),
		errors.Is(err, feedflow.ErrEmailTaken):
		status = http.StatusConflict
	default:
		log.Printf("internal error [%v]: %v", c.GetString("requestID"), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "an unexpected error occurred"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}

// GetFeed handles GET /api/posts
func (e *Env) GetFeed(c *gin.Context) {
	var cursor *int64
	if raw := c.Query("cursor"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "cursor must be an integer"})
			return
		}
		cursor = &v
	}

	// A missing or malformed limit falls back to the manager's default.
	limit, _ := strconv.Atoi(c.Query("limit"))

	page, err := e.Manager.ListFeed(c.Request.Context(), cursor, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// GetPost handles GET /api/posts/:id
func (e *Env) GetPost(c *gin.Context) {
	postID, ok := pathID(c, "id")
	if !ok {
		return
	}

	detail, err := e.Manager.GetPost(c.Request.Context(), postID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

// CreatePost handles POST /api/posts
func (e *Env) CreatePost(c *gin.Context) {
	var req createPostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid input: " + err.Error()})
		return
	}

	post, err := e.Manager.CreatePost(c.Request.Context(), identityFrom(c), feedflow.CreatePostInput{
		Title:   req.Title,
		Content: req.Content,
		Images:  req.Images,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, post)
}

// DeletePost handles DELETE /api/posts/:id
func (e *Env) DeletePost(c *gin.Context) {
	postID, ok := pathID(c, "id")
	if !ok {
		return
	}

	if err := e.Manager.DeletePost(c.Request.Context(), identityFrom(c), postID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "post deleted"})
}

// LikePost handles POST /api/posts/:id/like
func (e *Env) LikePost(c *gin.Context) {
	postID, ok := pathID(c, "id")
	if !ok {
		return
	}

	if err := e.Manager.LikePost(c.Request.Context(), identityFrom(c), postID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "post liked"})
}

// UnlikePost handles DELETE /api/posts/:id/like
func (e *Env) UnlikePost(c *gin.Context) {
	postID, ok := pathID(c, "id")
	if !ok {
		return
	}

	if err := e.Manager.UnlikePost(c.Request.Context(), identityFrom(c), postID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "post unliked"})
}

// CreateComment handles POST /api/posts/:id/comments
func (e *Env) CreateComment(c *gin.Context) {
	postID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req createCommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid input: " + err.Error()})
		return
	}

	comment, err := e.Manager.CreateComment(c.Request.Context(), identityFrom(c), postID, req.Content)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, comment)
}

// CreateReply handles POST /api/posts/:id/comments/:commentId/replies
func (e *Env) CreateReply(c *gin.Context) {
	postID, ok := pathID(c, "id")
	if !ok {
		return
	}
	commentID, ok := pathID(c, "commentId")
	if !ok {
		return
	}
	var req createCommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid input: " + err.Error()})
		return
	}

	reply, err := e.Manager.CreateReply(c.Request.Context(), identityFrom(c), postID, commentID, req.Content)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, reply)
}

// DeleteComment handles DELETE /api/posts/:id/comments/:commentId
func (e *Env) DeleteComment(c *gin.Context) {
	postID, ok := pathID(c, "id")
	if !ok {
		return
	}
	commentID, ok := pathID(c, "commentId")
	if !ok {
		return
	}

	if err := e.Manager.DeleteComment(c.Request.Context(), identityFrom(c), postID, commentID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "comment deleted"})
}

// DeleteReply handles DELETE /api/posts/:id/comments/:commentId/replies/:replyId
func (e *Env) DeleteReply(c *gin.Context) {
	postID, ok := pathID(c, "id")
	if !ok {
		return
	}
	commentID, ok := pathID(c, "commentId")
	if !ok {
		return
	}
	replyID, ok := pathID(c, "replyId")
	if !ok {
		return
	}

	if err := e.Manager.DeleteReply(c.Request.Context(), identityFrom(c), postID, commentID, replyID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "reply deleted"})
}

// RegisterUser handles POST /api/users
func (e *Env) RegisterUser(c *gin.Context) {
	var req registerUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid input: " + err.Error()})
		return
	}

	user, err := e.Manager.RegisterUser(c.Request.Context(), feedflow.RegisterUserInput{
		Username: req.Username,
		Email:    req.Email,
		Nickname: req.Nickname,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, user)
}
