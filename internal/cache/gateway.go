package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/pulseboard/pulse/internal/feed"
	"github.com/pulseboard/pulse/pkg/config"
	"github.com/pulseboard/pulse/pkg/logging"
	"github.com/pulseboard/pulse/pkg/telemetry"
)

const (
	// sharedLoadTimeout bounds a load shared by concurrent misses. The load
	// does not inherit the cancellation of the caller that started it.
	sharedLoadTimeout = 10 * time.Second

	bumpTimeout   = 2 * time.Second
	minVersionTTL = 24 * time.Hour

	trendingVersionKey = "trending:version"
)

// Gateway decorates a content gateway with Redis read-through caching of like
// counts, comment counts and the trending list.
//
// Every cached value lives under a key carrying the version of what it was
// loaded from. Writes bump the version instead of writing values through, so
// a load that started before a write can only fill a key no reader asks for
// anymore. Membership checks and list reads always go to the wrapped gateway.
type Gateway struct {
	feed.Gateway

	cache       *Cache
	group       singleflight.Group
	countTTL    time.Duration
	trendingTTL time.Duration
	versionTTL  time.Duration
	logger      *zap.Logger
	lookups     metric.Int64Counter
}

// NewGateway wraps inner. With a nil cache inner is returned unchanged.
func NewGateway(inner feed.Gateway, c *Cache, cfg *config.RedisConfig) feed.Gateway {
	if c == nil {
		return inner
	}
	versionTTL := minVersionTTL
	for _, ttl := range []time.Duration{cfg.CountTTL, cfg.TrendingTTL} {
		if 2*ttl > versionTTL {
			versionTTL = 2 * ttl
		}
	}
	return &Gateway{
		Gateway:     inner,
		cache:       c,
		countTTL:    cfg.CountTTL,
		trendingTTL: cfg.TrendingTTL,
		versionTTL:  versionTTL,
		logger:      logging.WithComponent("cache-gateway"),
		lookups:     telemetry.Counter("pulse.cache.lookups", "Cache lookups by result"),
	}
}

func postLikesKey(postID int64) string       { return fmt.Sprintf("likes:post:%d", postID) }
func commentLikesKey(commentID int64) string { return fmt.Sprintf("likes:comment:%d", commentID) }
func commentsKey(postID int64) string        { return fmt.Sprintf("comments:post:%d", postID) }

func versionKey(base string) string { return base + ":version" }

func versionedKey(base string, version int64) string {
	return fmt.Sprintf("%s:v%d", base, version)
}

func trendingKey(window time.Duration, limit int, version int64) string {
	return "trending:" + HashKey(window.String(), strconv.Itoa(limit), strconv.FormatInt(version, 10))
}

func (g *Gateway) record(ctx context.Context, kind, result string) {
	g.lookups.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind), attribute.String("result", result)))
}

// shared runs fn once for concurrent callers of key. Each caller stops
// waiting when its own ctx is done; the load itself keeps running for the
// others.
func (g *Gateway) shared(ctx context.Context, key string, fn func(context.Context) (interface{}, error)) (interface{}, error) {
	ch := g.group.DoChan(key, func() (interface{}, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedLoadTimeout)
		defer cancel()
		return fn(loadCtx)
	})
	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// readCount serves base from Redis, loading and caching it on a miss.
// Concurrent misses on the same version share one load.
func (g *Gateway) readCount(ctx context.Context, kind, base string, load func(context.Context) (int64, error)) (int64, error) {
	version, err := g.cache.Version(ctx, versionKey(base))
	if err != nil {
		g.logger.Debug("Cache version read failed", zap.String("key", base), zap.Error(err))
		g.record(ctx, kind, "error")
		return load(ctx)
	}
	key := versionedKey(base, version)

	raw, err := g.cache.Get(ctx, key)
	if err == nil {
		if n, perr := strconv.ParseInt(raw, 10, 64); perr == nil {
			g.record(ctx, kind, "hit")
			return n, nil
		}
	} else if !errors.Is(err, ErrMiss) {
		g.logger.Debug("Cache read failed", zap.String("key", key), zap.Error(err))
	}
	g.record(ctx, kind, "miss")

	v, err := g.shared(ctx, key, func(ctx context.Context) (interface{}, error) {
		n, err := load(ctx)
		if err != nil {
			return nil, err
		}
		if err := g.cache.Set(ctx, key, n, g.countTTL); err != nil {
			g.logger.Debug("Cache write failed", zap.String("key", key), zap.Error(err))
		}
		return n, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}

// bump retires every value cached under the given version keys. It runs even
// when the caller gave up after the write reached the database.
func (g *Gateway) bump(ctx context.Context, keys ...string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), bumpTimeout)
	defer cancel()
	if err := g.cache.Bump(ctx, g.versionTTL, keys...); err != nil {
		g.logger.Warn("Cache invalidation failed", zap.Strings("keys", keys), zap.Error(err))
	}
}

// CountPostLikes implements feed.Gateway
func (g *Gateway) CountPostLikes(ctx context.Context, postID int64) (int64, error) {
	return g.readCount(ctx, "post_likes", postLikesKey(postID), func(ctx context.Context) (int64, error) {
		return g.Gateway.CountPostLikes(ctx, postID)
	})
}

// CountCommentLikes implements feed.Gateway
func (g *Gateway) CountCommentLikes(ctx context.Context, commentID int64) (int64, error) {
	return g.readCount(ctx, "comment_likes", commentLikesKey(commentID), func(ctx context.Context) (int64, error) {
		return g.Gateway.CountCommentLikes(ctx, commentID)
	})
}

// CountComments implements feed.Gateway
func (g *Gateway) CountComments(ctx context.Context, postID int64) (int64, error) {
	return g.readCount(ctx, "comments", commentsKey(postID), func(ctx context.Context) (int64, error) {
		return g.Gateway.CountComments(ctx, postID)
	})
}

// ToggleLike implements feed.Gateway. The cached count is retired whether or
// not the toggle succeeded.
func (g *Gateway) ToggleLike(ctx context.Context, postID int64, actor feed.ActorID) (int64, error) {
	n, err := g.Gateway.ToggleLike(ctx, postID, actor)
	g.bump(ctx, versionKey(postLikesKey(postID)))
	return n, err
}

// ToggleCommentLike implements feed.Gateway
func (g *Gateway) ToggleCommentLike(ctx context.Context, commentID int64, actor feed.ActorID) (int64, error) {
	n, err := g.Gateway.ToggleCommentLike(ctx, commentID, actor)
	g.bump(ctx, versionKey(commentLikesKey(commentID)))
	return n, err
}

// ToggleLikeState implements feed.AtomicToggler. When the wrapped gateway has
// no single-call toggle, the toggle is followed by a membership check.
func (g *Gateway) ToggleLikeState(ctx context.Context, kind feed.TargetKind, targetID int64, actor feed.ActorID) (feed.ToggleResult, error) {
	var key string
	switch kind {
	case feed.TargetPost:
		key = postLikesKey(targetID)
	case feed.TargetComment:
		key = commentLikesKey(targetID)
	default:
		return feed.ToggleResult{}, feed.ErrInvalidTarget
	}

	if atomic, ok := g.Gateway.(feed.AtomicToggler); ok {
		res, err := atomic.ToggleLikeState(ctx, kind, targetID, actor)
		g.bump(ctx, versionKey(key))
		if err != nil {
			return feed.ToggleResult{}, err
		}
		return res, nil
	}

	var (
		res feed.ToggleResult
		err error
	)
	if kind == feed.TargetPost {
		if res.Count, err = g.ToggleLike(ctx, targetID, actor); err == nil {
			res.IsLiked, err = g.Gateway.HasLikedPost(ctx, actor, targetID)
		}
	} else {
		if res.Count, err = g.ToggleCommentLike(ctx, targetID, actor); err == nil {
			res.IsLiked, err = g.Gateway.HasLikedComment(ctx, actor, targetID)
		}
	}
	if err != nil {
		return feed.ToggleResult{}, err
	}
	return res, nil
}

// TopicsByRecentPosts implements feed.Gateway
func (g *Gateway) TopicsByRecentPosts(ctx context.Context, window time.Duration, limit int) ([]feed.Topic, error) {
	version, err := g.cache.Version(ctx, trendingVersionKey)
	if err != nil {
		g.logger.Debug("Cache version read failed", zap.String("key", trendingVersionKey), zap.Error(err))
		g.record(ctx, "trending", "error")
		return g.Gateway.TopicsByRecentPosts(ctx, window, limit)
	}
	key := trendingKey(window, limit, version)

	var topics []feed.Topic
	err = g.cache.GetJSON(ctx, key, &topics)
	if err == nil {
		g.record(ctx, "trending", "hit")
		return topics, nil
	}
	if !errors.Is(err, ErrMiss) {
		g.logger.Debug("Cache read failed", zap.String("key", key), zap.Error(err))
	}
	g.record(ctx, "trending", "miss")

	v, err := g.shared(ctx, key, func(ctx context.Context) (interface{}, error) {
		topics, err := g.Gateway.TopicsByRecentPosts(ctx, window, limit)
		if err != nil {
			return nil, err
		}
		if err := g.cache.SetJSON(ctx, key, topics, g.trendingTTL); err != nil {
			g.logger.Debug("Cache write failed", zap.String("key", key), zap.Error(err))
		}
		return topics, nil
	})
	if err != nil {
		return nil, err
	}
	return append([]feed.Topic(nil), v.([]feed.Topic)...), nil
}

// CreateTopic implements feed.Gateway
func (g *Gateway) CreateTopic(ctx context.Context, in feed.NewTopic) (feed.Topic, error) {
	topic, err := g.Gateway.CreateTopic(ctx, in)
	if err != nil {
		return feed.Topic{}, err
	}
	g.bump(ctx, trendingVersionKey)
	return topic, nil
}

// CreatePost implements feed.Gateway
func (g *Gateway) CreatePost(ctx context.Context, in feed.NewPost) (feed.Post, error) {
	post, err := g.Gateway.CreatePost(ctx, in)
	if err != nil {
		return feed.Post{}, err
	}
	g.bump(ctx, trendingVersionKey)
	return post, nil
}

// CreateComment implements feed.Gateway
func (g *Gateway) CreateComment(ctx context.Context, in feed.NewComment) (feed.Comment, error) {
	comment, err := g.Gateway.CreateComment(ctx, in)
	if err != nil {
		return feed.Comment{}, err
	}
	g.bump(ctx, versionKey(commentsKey(in.PostID)))
	return comment, nil
}

// IncrementTopicPosts implements feed.Gateway
func (g *Gateway) IncrementTopicPosts(ctx context.Context, topicID int64) error {
	if err := g.Gateway.IncrementTopicPosts(ctx, topicID); err != nil {
		return err
	}
	g.bump(ctx, trendingVersionKey)
	return nil
}

var (
	_ feed.Gateway       = (*Gateway)(nil)
	_ feed.AtomicToggler = (*Gateway)(nil)
)
