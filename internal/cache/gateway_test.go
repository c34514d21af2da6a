package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulseboard/pulse/internal/feed"
	"github.com/pulseboard/pulse/internal/feed/feedtest"
	"github.com/pulseboard/pulse/pkg/config"
)

var testRedisConfig = &config.RedisConfig{CountTTL: time.Minute, TrendingTTL: time.Second}

// unreachable returns a cache whose every command fails fast
func unreachable(t *testing.T) *Cache {
	t.Helper()
	c := NewWithClient(redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		MaxRetries:  -1,
		DialTimeout: 50 * time.Millisecond,
	}))
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// inProcess returns a cache backed by an in-process Redis server
func inProcess(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := NewWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestNewGatewayWithoutCacheReturnsInner(t *testing.T) {
	inner := feedtest.New()
	assert.Equal(t, feed.Gateway(inner), NewGateway(inner, nil, testRedisConfig))
}

func TestGatewayFallsThroughWhenRedisIsDown(t *testing.T) {
	inner := feedtest.New()
	topic := inner.SeedTopic("Go")
	p := inner.SeedPost(topic.ID, "bob", "hello")
	c := inner.SeedComment(p.ID, nil, "bob", "hi")
	inner.SeedLike("bob", p.ID)
	inner.SeedCommentLike("bob", c.ID)

	gw := NewGateway(inner, unreachable(t), testRedisConfig)
	ctx := context.Background()

	n, err := gw.CountPostLikes(ctx, p.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	n, err = gw.CountCommentLikes(ctx, c.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	n, err = gw.CountComments(ctx, p.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	topics, err := gw.TopicsByRecentPosts(ctx, 30*time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, topics, 1)
	assert.Equal(t, topic.ID, topics[0].ID)

	_, err = gw.CreateComment(ctx, feed.NewComment{PostID: p.ID, AuthorID: "alice", Content: "reply", ParentID: &c.ID})
	require.NoError(t, err)
	require.NoError(t, gw.IncrementTopicPosts(ctx, topic.ID))
}

func TestGatewayToggleWithoutAtomicInner(t *testing.T) {
	inner := feedtest.New()
	topic := inner.SeedTopic("Go")
	p := inner.SeedPost(topic.ID, "bob", "hello")

	gw := NewGateway(inner, unreachable(t), testRedisConfig)
	atomic, ok := gw.(feed.AtomicToggler)
	require.True(t, ok)

	ctx := context.Background()
	res, err := atomic.ToggleLikeState(ctx, feed.TargetPost, p.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, feed.ToggleResult{Count: 1, IsLiked: true}, res)
	assert.Equal(t, 1, inner.Calls(feedtest.OpToggleLike))
	assert.Equal(t, 1, inner.Calls(feedtest.OpHasLikedPost))

	res, err = atomic.ToggleLikeState(ctx, feed.TargetPost, p.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, feed.ToggleResult{Count: 0, IsLiked: false}, res)

	_, err = atomic.ToggleLikeState(ctx, feed.TargetKind("topic"), p.ID, "alice")
	assert.ErrorIs(t, err, feed.ErrInvalidTarget)
}

func TestGatewayToggleDelegatesToAtomicInner(t *testing.T) {
	inner := feedtest.NewAtomic()
	topic := inner.SeedTopic("Go")
	p := inner.SeedPost(topic.ID, "bob", "hello")
	c := inner.SeedComment(p.ID, nil, "bob", "hi")

	gw := NewGateway(inner, unreachable(t), testRedisConfig).(feed.AtomicToggler)
	res, err := gw.ToggleLikeState(context.Background(), feed.TargetComment, c.ID, "alice")
	require.NoError(t, err)

	assert.Equal(t, feed.ToggleResult{Count: 1, IsLiked: true}, res)
	assert.Equal(t, 1, inner.Calls(feedtest.OpToggleLikeState))
	assert.Zero(t, inner.Calls(feedtest.OpToggleCommentLike))
}

func TestCacheKeys(t *testing.T) {
	assert.Equal(t, "likes:post:7", postLikesKey(7))
	assert.Equal(t, "likes:comment:7", commentLikesKey(7))
	assert.Equal(t, "comments:post:7", commentsKey(7))
	assert.Equal(t, "likes:post:7:version", versionKey(postLikesKey(7)))
	assert.Equal(t, "likes:post:7:v3", versionedKey(postLikesKey(7), 3))
	assert.NotEqual(t, trendingKey(30*time.Minute, 10, 0), trendingKey(time.Hour, 10, 0))
	assert.NotEqual(t, trendingKey(30*time.Minute, 10, 0), trendingKey(30*time.Minute, 10, 1))
}

func TestCacheVersionAndBump(t *testing.T) {
	c, mr := inProcess(t)
	ctx := context.Background()

	v, err := c.Version(ctx, "likes:post:1:version")
	require.NoError(t, err)
	assert.Zero(t, v)

	require.NoError(t, c.Bump(ctx, time.Hour, "likes:post:1:version", "trending:version"))
	require.NoError(t, c.Bump(ctx, time.Hour, "likes:post:1:version"))

	v, err = c.Version(ctx, "likes:post:1:version")
	require.NoError(t, err)
	assert.EqualValues(t, 2, v)
	v, err = c.Version(ctx, "trending:version")
	require.NoError(t, err)
	assert.EqualValues(t, 1, v)
	assert.Equal(t, time.Hour, mr.TTL("pulse:likes:post:1:version"))
}

func TestGatewayServesHitsAfterMiss(t *testing.T) {
	inner := feedtest.New()
	topic := inner.SeedTopic("Go")
	p := inner.SeedPost(topic.ID, "bob", "hello")
	inner.SeedLike("bob", p.ID)

	c, mr := inProcess(t)
	gw := NewGateway(inner, c, testRedisConfig)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		n, err := gw.CountPostLikes(ctx, p.ID)
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)
	}
	assert.Equal(t, 1, inner.Calls(feedtest.OpCountPostLikes))

	mr.FastForward(testRedisConfig.CountTTL + time.Second)
	n, err := gw.CountPostLikes(ctx, p.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.Equal(t, 2, inner.Calls(feedtest.OpCountPostLikes))
}

func TestGatewayToggleRetiresCachedCount(t *testing.T) {
	tests := []struct {
		name  string
		inner func() (feed.Gateway, *feedtest.Gateway)
	}{
		{"two-step", func() (feed.Gateway, *feedtest.Gateway) { g := feedtest.New(); return g, g }},
		{"atomic", func() (feed.Gateway, *feedtest.Gateway) { g := feedtest.NewAtomic(); return g, g.Gateway }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inner, seed := tt.inner()
			topic := seed.SeedTopic("Go")
			p := seed.SeedPost(topic.ID, "bob", "hello")
			cm := seed.SeedComment(p.ID, nil, "bob", "hi")

			c, _ := inProcess(t)
			gw := NewGateway(inner, c, testRedisConfig)
			toggler := gw.(feed.AtomicToggler)
			ctx := context.Background()

			n, err := gw.CountPostLikes(ctx, p.ID)
			require.NoError(t, err)
			require.Zero(t, n)
			n, err = gw.CountCommentLikes(ctx, cm.ID)
			require.NoError(t, err)
			require.Zero(t, n)

			res, err := toggler.ToggleLikeState(ctx, feed.TargetPost, p.ID, "alice")
			require.NoError(t, err)
			assert.Equal(t, feed.ToggleResult{Count: 1, IsLiked: true}, res)
			res, err = toggler.ToggleLikeState(ctx, feed.TargetComment, cm.ID, "alice")
			require.NoError(t, err)
			assert.Equal(t, feed.ToggleResult{Count: 1, IsLiked: true}, res)

			n, err = gw.CountPostLikes(ctx, p.ID)
			require.NoError(t, err)
			assert.EqualValues(t, 1, n)
			n, err = gw.CountCommentLikes(ctx, cm.ID)
			require.NoError(t, err)
			assert.EqualValues(t, 1, n)
		})
	}
}

func TestGatewayCreateCommentRetiresCommentCount(t *testing.T) {
	inner := feedtest.New()
	topic := inner.SeedTopic("Go")
	p := inner.SeedPost(topic.ID, "bob", "hello")
	inner.SeedComment(p.ID, nil, "bob", "first")

	c, _ := inProcess(t)
	gw := NewGateway(inner, c, testRedisConfig)
	ctx := context.Background()

	n, err := gw.CountComments(ctx, p.ID)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	_, err = gw.CreateComment(ctx, feed.NewComment{PostID: p.ID, AuthorID: "alice", Content: "second"})
	require.NoError(t, err)

	n, err = gw.CountComments(ctx, p.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestGatewayTrendingInvalidatedByCreates(t *testing.T) {
	inner := feedtest.New()
	weather := inner.SeedTopic("Weather")
	inner.SeedPost(weather.ID, "bob", "rain")

	c, _ := inProcess(t)
	gw := NewGateway(inner, c, testRedisConfig)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		topics, err := gw.TopicsByRecentPosts(ctx, 30*time.Minute, 10)
		require.NoError(t, err)
		require.Len(t, topics, 1)
	}
	assert.Equal(t, 1, inner.Calls(feedtest.OpTopicsByRecentPosts))

	sports, err := gw.CreateTopic(ctx, feed.NewTopic{Title: "Sports", CreatedBy: "alice"})
	require.NoError(t, err)
	_, err = gw.TopicsByRecentPosts(ctx, 30*time.Minute, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, inner.Calls(feedtest.OpTopicsByRecentPosts))

	_, err = gw.CreatePost(ctx, feed.NewPost{TopicID: sports.ID, AuthorID: "alice", Content: "goal"})
	require.NoError(t, err)
	topics, err := gw.TopicsByRecentPosts(ctx, 30*time.Minute, 10)
	require.NoError(t, err)
	assert.Len(t, topics, 2)
	assert.Equal(t, 3, inner.Calls(feedtest.OpTopicsByRecentPosts))
}

// heldCounts holds CountPostLikes after reading the count until release is
// closed
type heldCounts struct {
	*feedtest.Gateway
	loaded  chan struct{}
	release chan struct{}
}

func newHeldCounts() *heldCounts {
	return &heldCounts{
		Gateway: feedtest.New(),
		loaded:  make(chan struct{}, 1),
		release: make(chan struct{}),
	}
}

func (h *heldCounts) CountPostLikes(ctx context.Context, postID int64) (int64, error) {
	n, err := h.Gateway.CountPostLikes(ctx, postID)
	select {
	case h.loaded <- struct{}{}:
	default:
	}
	<-h.release
	return n, err
}

type countResult struct {
	n   int64
	err error
}

func TestGatewaySharedLoadSurvivesCallerCancel(t *testing.T) {
	inner := newHeldCounts()
	topic := inner.SeedTopic("Go")
	p := inner.SeedPost(topic.ID, "bob", "hello")
	inner.SeedLike("bob", p.ID)

	c, _ := inProcess(t)
	gw := NewGateway(inner, c, testRedisConfig)

	first, cancelFirst := context.WithCancel(context.Background())
	defer cancelFirst()
	firstDone := make(chan countResult, 1)
	go func() {
		n, err := gw.CountPostLikes(first, p.ID)
		firstDone <- countResult{n, err}
	}()
	<-inner.loaded

	secondDone := make(chan countResult, 1)
	go func() {
		n, err := gw.CountPostLikes(context.Background(), p.ID)
		secondDone <- countResult{n, err}
	}()
	// Let the second caller join the load in flight
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	select {
	case res := <-firstDone:
		assert.ErrorIs(t, res.err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled caller kept waiting on the shared load")
	}

	close(inner.release)
	select {
	case res := <-secondDone:
		require.NoError(t, res.err)
		assert.EqualValues(t, 1, res.n)
	case <-time.After(time.Second):
		t.Fatal("second caller did not finish")
	}

	calls := inner.Calls(feedtest.OpCountPostLikes)
	n, err := gw.CountPostLikes(context.Background(), p.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.Equal(t, calls, inner.Calls(feedtest.OpCountPostLikes), "shared load filled the cache")
}

func TestGatewayLoadOverlappingToggleIsNotServed(t *testing.T) {
	inner := newHeldCounts()
	topic := inner.SeedTopic("Go")
	p := inner.SeedPost(topic.ID, "bob", "hello")

	c, _ := inProcess(t)
	gw := NewGateway(inner, c, testRedisConfig)
	ctx := context.Background()

	loadDone := make(chan countResult, 1)
	go func() {
		n, err := gw.CountPostLikes(ctx, p.ID)
		loadDone <- countResult{n, err}
	}()
	<-inner.loaded

	res, err := gw.(feed.AtomicToggler).ToggleLikeState(ctx, feed.TargetPost, p.ID, "alice")
	require.NoError(t, err)
	require.EqualValues(t, 1, res.Count)

	close(inner.release)
	stale := <-loadDone
	require.NoError(t, stale.err)
	assert.Zero(t, stale.n, "load read the count before the toggle")

	n, err := gw.CountPostLikes(ctx, p.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.EqualValues(t, inner.LikeCount(p.ID), n)
}
