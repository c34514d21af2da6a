package feed

import (
	"context"
	"time"
)

// Counter answers the per-row sub-queries issued during enrichment
type Counter interface {
	CountPostLikes(ctx context.Context, postID int64) (int64, error)
	CountCommentLikes(ctx context.Context, commentID int64) (int64, error)
	CountComments(ctx context.Context, postID int64) (int64, error)
	HasLikedPost(ctx context.Context, actor ActorID, postID int64) (bool, error)
	HasLikedComment(ctx context.Context, actor ActorID, commentID int64) (bool, error)
}

// LikeGateway exposes the atomic like toggles. Each flips membership of
// (actor, target) and returns the resulting like count.
type LikeGateway interface {
	ToggleLike(ctx context.Context, postID int64, actor ActorID) (int64, error)
	ToggleCommentLike(ctx context.Context, commentID int64, actor ActorID) (int64, error)
	HasLikedPost(ctx context.Context, actor ActorID, postID int64) (bool, error)
	HasLikedComment(ctx context.Context, actor ActorID, commentID int64) (bool, error)
}

// AtomicToggler is implemented by gateways that can return the count and the
// resulting membership from a single atomic call.
type AtomicToggler interface {
	ToggleLikeState(ctx context.Context, kind TargetKind, targetID int64, actor ActorID) (ToggleResult, error)
}

// ContentGateway reads and creates posts and comments
type ContentGateway interface {
	// PostsByTopic returns a topic's posts, newest first
	PostsByTopic(ctx context.Context, topicID int64) ([]Post, error)
	// CommentsByPost returns every comment of a post, oldest first
	CommentsByPost(ctx context.Context, postID int64) ([]Comment, error)
	CreatePost(ctx context.Context, post NewPost) (Post, error)
	CreateComment(ctx context.Context, comment NewComment) (Comment, error)
	IncrementTopicPosts(ctx context.Context, topicID int64) error
}

// TopicGateway reads the trending ranking and creates topics
type TopicGateway interface {
	// TopicsByRecentPosts returns topics ordered by post volume within the
	// trailing window, already sorted by the gateway
	TopicsByRecentPosts(ctx context.Context, window time.Duration, limit int) ([]Topic, error)
	CreateTopic(ctx context.Context, topic NewTopic) (Topic, error)
}

// SearchGateway runs case-insensitive substring matches, newest first
type SearchGateway interface {
	SearchTopics(ctx context.Context, query string, limit int) ([]Topic, error)
	SearchPosts(ctx context.Context, query string, limit int) ([]Post, error)
}

// Gateway is the full content gateway consumed by a Session
type Gateway interface {
	Counter
	LikeGateway
	ContentGateway
	TopicGateway
	SearchGateway
}
