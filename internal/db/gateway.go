package db

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/pulseboard/pulse/internal/feed"
	"github.com/pulseboard/pulse/internal/models"
	"github.com/pulseboard/pulse/pkg/logging"
	"github.com/pulseboard/pulse/pkg/telemetry"
)

// Gateway is the Postgres content gateway
type Gateway struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewGateway creates a gateway on an open connection
func NewGateway(db *gorm.DB) *Gateway {
	return &Gateway{db: db, logger: logging.WithComponent("gateway")}
}

func (g *Gateway) trace(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(*error)) {
	ctx, span := telemetry.StartSpan(ctx, "db."+op)
	return ctx, func(err *error) {
		telemetry.EndSpan(span, *err, attrs...)
	}
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// containsPattern builds an ILIKE pattern matching query as a literal substring
func containsPattern(query string) string {
	return "%" + likeEscaper.Replace(query) + "%"
}

// windowMinutes rounds a window up to whole minutes, at least one
func windowMinutes(window time.Duration) int {
	m := int(math.Ceil(window.Minutes()))
	if m < 1 {
		m = 1
	}
	return m
}

func toTopic(t models.Topic) feed.Topic {
	return feed.Topic{
		ID:           t.ID,
		Title:        t.Title,
		Participants: t.Participants,
		Posts:        t.Posts,
		Trend:        feed.Trend(t.Trend),
		CreatedAt:    t.CreatedAt,
	}
}

func toPost(p models.Post) feed.Post {
	return feed.Post{
		ID:        p.ID,
		TopicID:   p.TopicID,
		AuthorID:  feed.ActorID(p.UserID),
		Content:   p.Content,
		CreatedAt: p.CreatedAt,
	}
}

func toComment(c models.Comment) feed.Comment {
	out := feed.Comment{
		ID:        c.ID,
		PostID:    c.PostID,
		AuthorID:  feed.ActorID(c.UserID),
		Content:   c.Content,
		CreatedAt: c.CreatedAt,
	}
	if c.ParentCommentID.Valid {
		parent := c.ParentCommentID.Int64
		out.ParentID = &parent
	}
	return out
}

func toTopics(rows []models.Topic) []feed.Topic {
	out := make([]feed.Topic, 0, len(rows))
	for _, r := range rows {
		out = append(out, toTopic(r))
	}
	return out
}

func toPosts(rows []models.Post) []feed.Post {
	out := make([]feed.Post, 0, len(rows))
	for _, r := range rows {
		out = append(out, toPost(r))
	}
	return out
}

// PostsByTopic returns a topic's posts, newest first
func (g *Gateway) PostsByTopic(ctx context.Context, topicID int64) (_ []feed.Post, err error) {
	ctx, done := g.trace(ctx, "posts_by_topic", attribute.Int64("topic_id", topicID))
	defer done(&err)

	var rows []models.Post
	if err = g.db.WithContext(ctx).
		Where("topic_id = ?", topicID).
		Order("created_at DESC, id DESC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return toPosts(rows), nil
}

// CommentsByPost returns every comment of a post, oldest first
func (g *Gateway) CommentsByPost(ctx context.Context, postID int64) (_ []feed.Comment, err error) {
	ctx, done := g.trace(ctx, "comments_by_post", attribute.Int64("post_id", postID))
	defer done(&err)

	var rows []models.Comment
	if err = g.db.WithContext(ctx).
		Where("post_id = ?", postID).
		Order("created_at ASC, id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]feed.Comment, 0, len(rows))
	for _, r := range rows {
		out = append(out, toComment(r))
	}
	return out, nil
}

// CountPostLikes counts likes on a post
func (g *Gateway) CountPostLikes(ctx context.Context, postID int64) (n int64, err error) {
	err = g.db.WithContext(ctx).Model(&models.Like{}).Where("post_id = ?", postID).Count(&n).Error
	return n, err
}

// CountCommentLikes counts likes on a comment
func (g *Gateway) CountCommentLikes(ctx context.Context, commentID int64) (n int64, err error) {
	err = g.db.WithContext(ctx).Model(&models.CommentLike{}).Where("comment_id = ?", commentID).Count(&n).Error
	return n, err
}

// CountComments counts every comment on a post, replies included
func (g *Gateway) CountComments(ctx context.Context, postID int64) (n int64, err error) {
	err = g.db.WithContext(ctx).Model(&models.Comment{}).Where("post_id = ?", postID).Count(&n).Error
	return n, err
}

// HasLikedPost reports whether actor likes the post
func (g *Gateway) HasLikedPost(ctx context.Context, actor feed.ActorID, postID int64) (liked bool, err error) {
	err = g.db.WithContext(ctx).
		Raw("SELECT EXISTS (SELECT 1 FROM likes WHERE post_id = ? AND user_id = ?)", postID, string(actor)).
		Scan(&liked).Error
	return liked, err
}

// HasLikedComment reports whether actor likes the comment
func (g *Gateway) HasLikedComment(ctx context.Context, actor feed.ActorID, commentID int64) (liked bool, err error) {
	err = g.db.WithContext(ctx).
		Raw("SELECT EXISTS (SELECT 1 FROM comment_likes WHERE comment_id = ? AND user_id = ?)", commentID, string(actor)).
		Scan(&liked).Error
	return liked, err
}

// ToggleLike flips actor's like on a post and returns the new count
func (g *Gateway) ToggleLike(ctx context.Context, postID int64, actor feed.ActorID) (n int64, err error) {
	ctx, done := g.trace(ctx, "toggle_post_like", attribute.Int64("post_id", postID))
	defer done(&err)

	err = g.db.WithContext(ctx).Raw("SELECT toggle_post_like(?, ?)", postID, string(actor)).Scan(&n).Error
	return n, err
}

// ToggleCommentLike flips actor's like on a comment and returns the new count
func (g *Gateway) ToggleCommentLike(ctx context.Context, commentID int64, actor feed.ActorID) (n int64, err error) {
	ctx, done := g.trace(ctx, "toggle_comment_like", attribute.Int64("comment_id", commentID))
	defer done(&err)

	err = g.db.WithContext(ctx).Raw("SELECT toggle_comment_like(?, ?)", commentID, string(actor)).Scan(&n).Error
	return n, err
}

// ToggleLikeState flips actor's like and returns count and membership from
// the same statement
func (g *Gateway) ToggleLikeState(ctx context.Context, kind feed.TargetKind, targetID int64, actor feed.ActorID) (_ feed.ToggleResult, err error) {
	ctx, done := g.trace(ctx, "toggle_like_state", attribute.String("target", string(kind)), attribute.Int64("target_id", targetID))
	defer done(&err)

	var query string
	switch kind {
	case feed.TargetPost:
		query = "SELECT likes_count, is_liked FROM toggle_post_like_state(?, ?)"
	case feed.TargetComment:
		query = "SELECT likes_count, is_liked FROM toggle_comment_like_state(?, ?)"
	default:
		return feed.ToggleResult{}, feed.ErrInvalidTarget
	}

	var state models.ToggleState
	if err = g.db.WithContext(ctx).Raw(query, targetID, string(actor)).Scan(&state).Error; err != nil {
		return feed.ToggleResult{}, err
	}
	return feed.ToggleResult{Count: state.LikesCount, IsLiked: state.IsLiked}, nil
}

// TopicsByRecentPosts returns the trending ranking computed in the database
func (g *Gateway) TopicsByRecentPosts(ctx context.Context, window time.Duration, limit int) (_ []feed.Topic, err error) {
	ctx, done := g.trace(ctx, "topics_by_recent_posts", attribute.Int("limit", limit))
	defer done(&err)

	var rows []models.Topic
	if err = g.db.WithContext(ctx).
		Raw("SELECT * FROM get_topics_by_recent_posts(?, ?)", windowMinutes(window), limit).
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	return toTopics(rows), nil
}

// CreateTopic inserts a topic with zeroed counters
func (g *Gateway) CreateTopic(ctx context.Context, in feed.NewTopic) (_ feed.Topic, err error) {
	ctx, done := g.trace(ctx, "create_topic")
	defer done(&err)

	row := models.Topic{
		Title:        in.Title,
		Participants: 0,
		Posts:        0,
		Trend:        models.TrendSame,
		CreatedBy:    string(in.CreatedBy),
	}
	if err = g.db.WithContext(ctx).Create(&row).Error; err != nil {
		return feed.Topic{}, err
	}
	return toTopic(row), nil
}

// CreatePost inserts a post
func (g *Gateway) CreatePost(ctx context.Context, in feed.NewPost) (_ feed.Post, err error) {
	ctx, done := g.trace(ctx, "create_post", attribute.Int64("topic_id", in.TopicID))
	defer done(&err)

	row := models.Post{TopicID: in.TopicID, UserID: string(in.AuthorID), Content: in.Content}
	if err = g.db.WithContext(ctx).Create(&row).Error; err != nil {
		return feed.Post{}, err
	}
	return toPost(row), nil
}

// CreateComment inserts a comment. A reply must target a top-level comment of
// the same post.
func (g *Gateway) CreateComment(ctx context.Context, in feed.NewComment) (_ feed.Comment, err error) {
	ctx, done := g.trace(ctx, "create_comment", attribute.Int64("post_id", in.PostID))
	defer done(&err)

	row := models.Comment{PostID: in.PostID, UserID: string(in.AuthorID), Content: in.Content}
	err = g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if in.ParentID != nil {
			var parent models.Comment
			if err := tx.First(&parent, *in.ParentID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return feed.ErrInvalidParent
				}
				return err
			}
			if parent.PostID != in.PostID || parent.ParentCommentID.Valid {
				return feed.ErrInvalidParent
			}
			row.ParentCommentID = sql.NullInt64{Int64: parent.ID, Valid: true}
		}
		return tx.Create(&row).Error
	})
	if err != nil {
		return feed.Comment{}, err
	}
	return toComment(row), nil
}

// IncrementTopicPosts bumps a topic's post counter. A missing stored function
// falls back to a plain update.
func (g *Gateway) IncrementTopicPosts(ctx context.Context, topicID int64) error {
	err := g.db.WithContext(ctx).Exec("SELECT increment_topic_posts(?)", topicID).Error
	if err == nil {
		return nil
	}
	g.logger.Warn("increment_topic_posts failed, updating directly", zap.Int64("topic_id", topicID), zap.Error(err))
	return g.db.WithContext(ctx).
		Model(&models.Topic{}).
		Where("id = ?", topicID).
		UpdateColumn("posts", gorm.Expr("posts + 1")).Error
}

// SearchTopics matches titles case-insensitively, newest first
func (g *Gateway) SearchTopics(ctx context.Context, query string, limit int) (_ []feed.Topic, err error) {
	ctx, done := g.trace(ctx, "search_topics", attribute.Int("limit", limit))
	defer done(&err)

	var rows []models.Topic
	if err = g.db.WithContext(ctx).
		Where("title ILIKE ?", containsPattern(query)).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return toTopics(rows), nil
}

// SearchPosts matches contents case-insensitively, newest first
func (g *Gateway) SearchPosts(ctx context.Context, query string, limit int) (_ []feed.Post, err error) {
	ctx, done := g.trace(ctx, "search_posts", attribute.Int("limit", limit))
	defer done(&err)

	var rows []models.Post
	if err = g.db.WithContext(ctx).
		Where("content ILIKE ?", containsPattern(query)).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return toPosts(rows), nil
}

var (
	_ feed.Gateway       = (*Gateway)(nil)
	_ feed.AtomicToggler = (*Gateway)(nil)
)
