package models

import (
	"time"
)

// Like represents a like membership row for a post
type Like struct {
	ID        int64     `gorm:"primaryKey;autoIncrement;column:id"`
	PostID    int64     `gorm:"not null;uniqueIndex:likes_post_user_ux;column:post_id"`
	UserID    string    `gorm:"type:varchar(64);not null;uniqueIndex:likes_post_user_ux;column:user_id"`
	CreatedAt time.Time `gorm:"not null;column:created_at"`
}

// TableName specifies the table name for Like
func (Like) TableName() string {
	return "likes"
}

// CommentLike represents a like membership row for a comment
type CommentLike struct {
	ID        int64     `gorm:"primaryKey;autoIncrement;column:id"`
	CommentID int64     `gorm:"not null;uniqueIndex:comment_likes_comment_user_ux;column:comment_id"`
	UserID    string    `gorm:"type:varchar(64);not null;uniqueIndex:comment_likes_comment_user_ux;column:user_id"`
	CreatedAt time.Time `gorm:"not null;column:created_at"`
}

// TableName specifies the table name for CommentLike
func (CommentLike) TableName() string {
	return "comment_likes"
}

// ToggleState is the row returned by the *_like_state stored functions
type ToggleState struct {
	LikesCount int64 `gorm:"column:likes_count"`
	IsLiked    bool  `gorm:"column:is_liked"`
}
