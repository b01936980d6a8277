// Package feedflow provides functionality for managing a social content feed.
package feedflow

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
)

// GormFeedStore implements FeedStore with GORM as the underlying storage
type GormFeedStore struct {
	db *gorm.DB
}

// UserModel is the GORM model for storing user records
type UserModel struct {
	ID        int64  `gorm:"primaryKey"`
	Username  string `gorm:"not null"`
	Email     string `gorm:"uniqueIndex;not null"`
	Nickname  string `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PostModel is the GORM model for storing posts
type PostModel struct {
	ID        int64  `gorm:"primaryKey"`
	Title     string `gorm:"not null"`
	Content   string `gorm:"not null"`
	UserID    int64  `gorm:"index"`
	User      UserModel
	Images    []PostImageModel `gorm:"foreignKey:PostID"`
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt gorm.DeletedAt `gorm:"index"`
}

// PostImageModel is the GORM model for storing post images
type PostImageModel struct {
	ID     int64  `gorm:"primaryKey"`
	PostID int64  `gorm:"index"`
	URL    string `gorm:"not null"`
}

// CommentModel is the GORM model for storing comments
type CommentModel struct {
	ID        int64 `gorm:"primaryKey"`
	PostID    int64 `gorm:"index"`
	UserID    int64 `gorm:"index"`
	User      UserModel
	Content   string       `gorm:"not null"`
	Replies   []ReplyModel `gorm:"foreignKey:CommentID"`
	CreatedAt time.Time
	DeletedAt gorm.DeletedAt `gorm:"index"`
}

// ReplyModel is the GORM model for storing replies
type ReplyModel struct {
	ID        int64 `gorm:"primaryKey"`
	CommentID int64 `gorm:"index"`
	UserID    int64 `gorm:"index"`
	User      UserModel
	Content   string `gorm:"not null"`
	CreatedAt time.Time
	DeletedAt gorm.DeletedAt `gorm:"index"`
}

// LikeModel is the GORM model for like memberships. The composite primary
// key is the authoritative at-most-one-row-per-pair invariant; concurrent
// duplicate inserts are rejected by the database, not by the pre-check.
type LikeModel struct {
	PostID    int64 `gorm:"primaryKey;autoIncrement:false"`
	UserID    int64 `gorm:"primaryKey;autoIncrement:false"`
	CreatedAt time.Time
}

// NewGormFeedStore creates a new instance of GormFeedStore
func NewGormFeedStore(db *gorm.DB) (*GormFeedStore, error) {
	// Auto-migrate the models to ensure tables exist
	err := db.AutoMigrate(&UserModel{}, &PostModel{}, &PostImageModel{}, &CommentModel{}, &ReplyModel{}, &LikeModel{})
	if err != nil {
		return nil, err
	}

	return &GormFeedStore{
		db: db,
	}, nil
}

// isDuplicateKeyErr reports whether err is a unique/primary key violation.
// Covers GORM's translated error plus the raw SQLite and Postgres messages,
// since error translation is a dialector option the caller may not enable.
func isDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value")
}

// selectUserRef narrows a preloaded user to the owner projection. Credential
// and contact columns never leave the query layer.
func selectUserRef(db *gorm.DB) *gorm.DB {
	return db.Select("id", "nickname")
}

func (s *GormFeedStore) toUserRef(um UserModel) *UserRef {
	if um.ID == 0 {
		return nil
	}
	return &UserRef{ID: um.ID, Nickname: um.Nickname}
}

// Convert PostModel to Post
func (s *GormFeedStore) toPost(pm *PostModel) *Post {
	post := &Post{
		ID:        pm.ID,
		Title:     pm.Title,
		Content:   pm.Content,
		UserID:    pm.UserID,
		User:      s.toUserRef(pm.User),
		CreatedAt: pm.CreatedAt,
		UpdatedAt: pm.UpdatedAt,
	}
	for _, im := range pm.Images {
		post.Images = append(post.Images, PostImage{ID: im.ID, PostID: im.PostID, URL: im.URL})
	}
	return post
}

// SaveUser persists a new user record
func (s *GormFeedStore) SaveUser(ctx context.Context, user *User) error {
	um := UserModel{
		Username: user.Username,
		Email:    user.Email,
		Nickname: user.Nickname,
	}
	if err := s.db.WithContext(ctx).Create(&um).Error; err != nil {
		if isDuplicateKeyErr(err) {
			return ErrEmailTaken
		}
		return err
	}

	user.ID = um.ID
	user.CreatedAt = um.CreatedAt
	user.UpdatedAt = um.UpdatedAt
	return nil
}

// GetUser retrieves a user by id
func (s *GormFeedStore) GetUser(ctx context.Context, userID int64) (*User, error) {
	var um UserModel
	err := s.db.WithContext(ctx).First(&um, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &User{
		ID:        um.ID,
		Username:  um.Username,
		Email:     um.Email,
		Nickname:  um.Nickname,
		CreatedAt: um.CreatedAt,
		UpdatedAt: um.UpdatedAt,
	}, nil
}

// GetUserByEmail retrieves a user by email
func (s *GormFeedStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	var um UserModel
	err := s.db.WithContext(ctx).Where("email = ?", email).First(&um).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &User{
		ID:        um.ID,
		Username:  um.Username,
		Email:     um.Email,
		Nickname:  um.Nickname,
		CreatedAt: um.CreatedAt,
		UpdatedAt: um.UpdatedAt,
	}, nil
}

// CreatePost persists a post and its images inside one transaction. A
// rejected image rolls back the post row as well.
func (s *GormFeedStore) CreatePost(ctx context.Context, post *Post) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		pm := PostModel{
			Title:   post.Title,
			Content: post.Content,
			UserID:  post.UserID,
		}
		if err := tx.Create(&pm).Error; err != nil {
			return err
		}

		for i := range post.Images {
			if !validImageURL(post.Images[i].URL) {
				return ErrImageRejected
			}
			im := PostImageModel{PostID: pm.ID, URL: post.Images[i].URL}
			if err := tx.Create(&im).Error; err != nil {
				return err
			}
			post.Images[i].ID = im.ID
			post.Images[i].PostID = im.PostID
		}

		post.ID = pm.ID
		post.CreatedAt = pm.CreatedAt
		post.UpdatedAt = pm.UpdatedAt
		return nil
	})
	if err != nil {
		return err
	}

	var um UserModel
	if err := s.db.WithContext(ctx).Select("id", "nickname").First(&um, post.UserID).Error; err == nil {
		post.User = s.toUserRef(um)
	}
	return nil
}

// GetPost retrieves a post base row with its owner projection and images
func (s *GormFeedStore) GetPost(ctx context.Context, postID int64) (*Post, error) {
	var pm PostModel
	err := s.db.WithContext(ctx).
		Preload("Images").
		Preload("User", selectUserRef).
		First(&pm, postID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPostNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.toPost(&pm), nil
}

// SoftDeletePost marks a post as deleted without removing its row
func (s *GormFeedStore) SoftDeletePost(ctx context.Context, postID int64) error {
	res := s.db.WithContext(ctx).Delete(&PostModel{}, postID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrPostNotFound
	}
	return nil
}

// ListPostIDs returns up to limit post ids in descending order
func (s *GormFeedStore) ListPostIDs(ctx context.Context, cursor *int64, limit int) ([]int64, error) {
	query := s.db.WithContext(ctx).
		Model(&PostModel{}).
		Order("id DESC")
	if cursor != nil {
		query = query.Where("id < ?", *cursor)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var ids []int64
	if err := query.Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

// GetFeedPosts retrieves base rows for exactly the given ids, in order
func (s *GormFeedStore) GetFeedPosts(ctx context.Context, ids []int64) ([]*Post, error) {
	var pms []PostModel
	err := s.db.WithContext(ctx).
		Preload("User", selectUserRef).
		Where("id IN ?", ids).
		Find(&pms).Error
	if err != nil {
		return nil, err
	}

	// Re-order to match the pagination window rather than the join order.
	byID := make(map[int64]*PostModel, len(pms))
	for i := range pms {
		byID[pms[i].ID] = &pms[i]
	}
	posts := make([]*Post, 0, len(ids))
	for _, id := range ids {
		if pm, ok := byID[id]; ok {
			posts = append(posts, s.toPost(pm))
		}
	}
	return posts, nil
}

type postCountRow struct {
	PostID int64
	Count  int
}

// CountCommentsByPost returns comment counts grouped by post id
func (s *GormFeedStore) CountCommentsByPost(ctx context.Context, ids []int64) (map[int64]int, error) {
	var rows []postCountRow
	err := s.db.WithContext(ctx).
		Model(&CommentModel{}).
		Select("post_id, count(*) as count").
		Where("post_id IN ?", ids).
		Group("post_id").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[int64]int, len(rows))
	for _, row := range rows {
		counts[row.PostID] = row.Count
	}
	return counts, nil
}

// CountRepliesByPost returns reply counts grouped by the post owning the
// parent comment
func (s *GormFeedStore) CountRepliesByPost(ctx context.Context, ids []int64) (map[int64]int, error) {
	var rows []postCountRow
	err := s.db.WithContext(ctx).
		Model(&ReplyModel{}).
		Select("comment_models.post_id as post_id, count(*) as count").
		Joins("JOIN comment_models ON comment_models.id = reply_models.comment_id AND comment_models.deleted_at IS NULL").
		Where("comment_models.post_id IN ?", ids).
		Group("comment_models.post_id").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[int64]int, len(rows))
	for _, row := range rows {
		counts[row.PostID] = row.Count
	}
	return counts, nil
}

// CountLikesByPost returns like-membership counts grouped by post id
func (s *GormFeedStore) CountLikesByPost(ctx context.Context, ids []int64) (map[int64]int, error) {
	var rows []postCountRow
	err := s.db.WithContext(ctx).
		Model(&LikeModel{}).
		Select("post_id, count(*) as count").
		Where("post_id IN ?", ids).
		Group("post_id").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[int64]int, len(rows))
	for _, row := range rows {
		counts[row.PostID] = row.Count
	}
	return counts, nil
}

// FirstImageByPost returns, per post id, the image with the smallest id
func (s *GormFeedStore) FirstImageByPost(ctx context.Context, ids []int64) (map[int64]PostImage, error) {
	type thumbRow struct {
		PostID int64
		ID     int64
		URL    string
	}
	var rows []thumbRow
	err := s.db.WithContext(ctx).
		Model(&PostImageModel{}).
		Select("post_image_models.post_id as post_id, post_image_models.id as id, post_image_models.url as url").
		Joins("JOIN (SELECT post_id, MIN(id) AS min_id FROM post_image_models WHERE post_id IN ? GROUP BY post_id) m ON m.post_id = post_image_models.post_id AND m.min_id = post_image_models.id", ids).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	thumbs := make(map[int64]PostImage, len(rows))
	for _, row := range rows {
		thumbs[row.PostID] = PostImage{ID: row.ID, PostID: row.PostID, URL: row.URL}
	}
	return thumbs, nil
}

// AddLike inserts a like membership. The composite primary key rejects the
// loser of a concurrent duplicate insert.
func (s *GormFeedStore) AddLike(ctx context.Context, postID, userID int64) error {
	like := LikeModel{PostID: postID, UserID: userID, CreatedAt: time.Now()}
	if err := s.db.WithContext(ctx).Create(&like).Error; err != nil {
		if isDuplicateKeyErr(err) {
			return ErrAlreadyLiked
		}
		return err
	}
	return nil
}

// RemoveLike deletes a like membership. Losing a concurrent double-unlike
// surfaces as ErrNotLiked, never as an internal failure.
func (s *GormFeedStore) RemoveLike(ctx context.Context, postID, userID int64) error {
	res := s.db.WithContext(ctx).
		Where("post_id = ? AND user_id = ?", postID, userID).
		Delete(&LikeModel{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotLiked
	}
	return nil
}

// SaveComment persists a new comment
func (s *GormFeedStore) SaveComment(ctx context.Context, comment *Comment) error {
	cm := CommentModel{
		PostID:  comment.PostID,
		Content: comment.Content,
	}
	if comment.User != nil {
		cm.UserID = comment.User.ID
	}
	if err := s.db.WithContext(ctx).Create(&cm).Error; err != nil {
		return err
	}

	comment.ID = cm.ID
	comment.CreatedAt = cm.CreatedAt
	return nil
}

// GetComment retrieves a comment by id, without its replies
func (s *GormFeedStore) GetComment(ctx context.Context, commentID int64) (*Comment, error) {
	var cm CommentModel
	err := s.db.WithContext(ctx).
		Preload("User", selectUserRef).
		First(&cm, commentID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCommentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &Comment{
		ID:        cm.ID,
		PostID:    cm.PostID,
		Content:   cm.Content,
		User:      s.toUserRef(cm.User),
		CreatedAt: cm.CreatedAt,
	}, nil
}

// SoftDeleteComment marks a comment as deleted
func (s *GormFeedStore) SoftDeleteComment(ctx context.Context, commentID int64) error {
	res := s.db.WithContext(ctx).Delete(&CommentModel{}, commentID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrCommentNotFound
	}
	return nil
}

// SaveReply persists a new reply
func (s *GormFeedStore) SaveReply(ctx context.Context, reply *Reply) error {
	rm := ReplyModel{
		CommentID: reply.CommentID,
		Content:   reply.Content,
	}
	if reply.User != nil {
		rm.UserID = reply.User.ID
	}
	if err := s.db.WithContext(ctx).Create(&rm).Error; err != nil {
		return err
	}

	reply.ID = rm.ID
	reply.CreatedAt = rm.CreatedAt
	return nil
}

// GetReply retrieves a reply by id
func (s *GormFeedStore) GetReply(ctx context.Context, replyID int64) (*Reply, error) {
	var rm ReplyModel
	err := s.db.WithContext(ctx).
		Preload("User", selectUserRef).
		First(&rm, replyID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrReplyNotFound
	}
	if err != nil {
		return nil, err
	}
	return &Reply{
		ID:        rm.ID,
		CommentID: rm.CommentID,
		Content:   rm.Content,
		User:      s.toUserRef(rm.User),
		CreatedAt: rm.CreatedAt,
	}, nil
}

// SoftDeleteReply marks a reply as deleted
func (s *GormFeedStore) SoftDeleteReply(ctx context.Context, replyID int64) error {
	res := s.db.WithContext(ctx).Delete(&ReplyModel{}, replyID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrReplyNotFound
	}
	return nil
}

// ListComments retrieves the comment tree of a post, oldest comments first
func (s *GormFeedStore) ListComments(ctx context.Context, postID int64) ([]Comment, error) {
	var cms []CommentModel
	err := s.db.WithContext(ctx).
		Where("post_id = ?", postID).
		Order("created_at ASC, id ASC").
		Preload("User", selectUserRef).
		Preload("Replies", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Preload("Replies.User", selectUserRef).
		Find(&cms).Error
	if err != nil {
		return nil, err
	}

	comments := make([]Comment, 0, len(cms))
	for _, cm := range cms {
		comment := Comment{
			ID:        cm.ID,
			PostID:    cm.PostID,
			Content:   cm.Content,
			User:      s.toUserRef(cm.User),
			CreatedAt: cm.CreatedAt,
		}
		for _, rm := range cm.Replies {
			comment.Replies = append(comment.Replies, Reply{
				ID:        rm.ID,
				CommentID: rm.CommentID,
				Content:   rm.Content,
				User:      s.toUserRef(rm.User),
				CreatedAt: rm.CreatedAt,
			})
		}
		comments = append(comments, comment)
	}
	return comments, nil
}
