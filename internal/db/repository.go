package db

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/pulseboard/pulse/internal/models"
)

// Repository provides database access methods
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new repository
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// TopicRepository provides the topic statistics used by the re-rank worker
type TopicRepository struct {
	*Repository
}

// NewTopicRepository creates a new topic repository
func NewTopicRepository(repo *Repository) *TopicRepository {
	return &TopicRepository{Repository: repo}
}

// Activity returns per-topic post volume for the window ending at now and the
// window before it, plus lifetime totals.
func (r *TopicRepository) Activity(ctx context.Context, window time.Duration, now time.Time) ([]models.TopicActivity, error) {
	current := now.Add(-window)
	previous := current.Add(-window)

	var rows []models.TopicActivity
	err := r.db.WithContext(ctx).Raw(`
		SELECT t.id AS topic_id,
		       count(p.id) AS total_posts,
		       count(DISTINCT p.user_id) AS participants,
		       count(p.id) FILTER (WHERE p.created_at > ?) AS current_window,
		       count(p.id) FILTER (WHERE p.created_at > ? AND p.created_at <= ?) AS previous_window
		FROM topics t
		LEFT JOIN posts p ON p.topic_id = t.id
		GROUP BY t.id
		ORDER BY t.id`, current, previous, current).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// UpdateStats writes recomputed counters and trend for a topic
func (r *TopicRepository) UpdateStats(ctx context.Context, topicID, posts, participants int64, trend string) error {
	return r.db.WithContext(ctx).
		Model(&models.Topic{}).
		Where("id = ?", topicID).
		Updates(map[string]interface{}{
			"posts":        posts,
			"participants": participants,
			"trend":        trend,
		}).Error
}
