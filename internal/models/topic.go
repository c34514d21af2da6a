package models

import (
	"time"
)

// Trend values stored in topics.trend
const (
	TrendUp   = "up"
	TrendDown = "down"
	TrendSame = "same"
)

// Topic represents a discussion topic
type Topic struct {
	ID           int64     `gorm:"primaryKey;autoIncrement;column:id"`
	Title        string    `gorm:"type:varchar(255);not null;column:title"`
	Participants int64     `gorm:"not null;default:0;column:participants"`
	Posts        int64     `gorm:"not null;default:0;column:posts"`
	Trend        string    `gorm:"type:varchar(8);not null;default:'same';column:trend"`
	CreatedBy    string    `gorm:"type:varchar(64);column:created_by"`
	CreatedAt    time.Time `gorm:"not null;column:created_at"`
}

// TableName specifies the table name for Topic
func (Topic) TableName() string {
	return "topics"
}

// TopicActivity is a row of the re-rank aggregation: post volume in two
// consecutive windows plus distinct authors over the topic lifetime.
type TopicActivity struct {
	TopicID        int64 `gorm:"column:topic_id"`
	TotalPosts     int64 `gorm:"column:total_posts"`
	Participants   int64 `gorm:"column:participants"`
	CurrentWindow  int64 `gorm:"column:current_window"`
	PreviousWindow int64 `gorm:"column:previous_window"`
}
