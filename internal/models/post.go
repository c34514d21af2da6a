package models

import (
	"database/sql"
	"time"
)

// Post represents a post under a topic
type Post struct {
	ID        int64     `gorm:"primaryKey;autoIncrement;column:id"`
	TopicID   int64     `gorm:"not null;index;column:topic_id"`
	UserID    string    `gorm:"type:varchar(64);not null;column:user_id"`
	Content   string    `gorm:"type:text;not null;column:content"`
	CreatedAt time.Time `gorm:"not null;column:created_at"`
	UpdatedAt time.Time `gorm:"not null;column:updated_at"`

	// Relationships
	Topic *Topic `gorm:"foreignKey:TopicID;references:ID"`
}

// TableName specifies the table name for Post
func (Post) TableName() string {
	return "posts"
}

// Comment represents a comment or a one-level reply on a post
type Comment struct {
	ID              int64         `gorm:"primaryKey;autoIncrement;column:id"`
	PostID          int64         `gorm:"not null;index;column:post_id"`
	ParentCommentID sql.NullInt64 `gorm:"column:parent_comment_id"`
	UserID          string        `gorm:"type:varchar(64);not null;column:user_id"`
	Content         string        `gorm:"type:text;not null;column:content"`
	CreatedAt       time.Time     `gorm:"not null;column:created_at"`
	UpdatedAt       time.Time     `gorm:"not null;column:updated_at"`

	// Relationships
	Post *Post `gorm:"foreignKey:PostID;references:ID"`
}

// TableName specifies the table name for Comment
func (Comment) TableName() string {
	return "comments"
}
