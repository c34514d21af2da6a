package feed_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulseboard/pulse/internal/feed"
	"github.com/pulseboard/pulse/internal/feed/feedtest"
)

func newSession(gw feed.Gateway, actor feed.ActorID) *feed.Session {
	var identity feed.IdentityProvider
	if actor != feed.Anonymous {
		identity = feed.StaticIdentity(actor)
	}
	return feed.NewSession(feed.Deps{Gateway: gw, Identity: identity})
}

func TestLoadPostsNewestFirstWithDerivedCounts(t *testing.T) {
	gw := feedtest.New()
	topic := gw.SeedTopic("Go")
	other := gw.SeedTopic("Rust")
	older := gw.SeedPost(topic.ID, "bob", "older")
	newer := gw.SeedPost(topic.ID, "carol", "newer")
	gw.SeedPost(other.ID, "bob", "elsewhere")
	gw.SeedLike("alice", older.ID)
	gw.SeedComment(newer.ID, nil, "bob", "first!")

	s := newSession(gw, "alice")
	require.NoError(t, s.Content.LoadPosts(context.Background(), topic.ID))

	posts := s.Content.Posts()
	require.Len(t, posts, 2)
	assert.Equal(t, newer.ID, posts[0].ID)
	assert.Equal(t, older.ID, posts[1].ID)
	assert.EqualValues(t, 1, posts[0].CommentsCount)
	assert.EqualValues(t, 1, posts[1].LikesCount)
	assert.True(t, posts[1].IsLiked)
	assert.False(t, posts[0].IsLiked)
	assert.False(t, s.Content.Loading())
	assert.Empty(t, s.Content.Err())
	assert.Equal(t, topic.ID, s.Content.PostsTopic())
}

func TestLoadPostsFailureKeepsPreviousList(t *testing.T) {
	gw := feedtest.New()
	topic := gw.SeedTopic("Go")
	gw.SeedPost(topic.ID, "bob", "hello")

	s := newSession(gw, "alice")
	ctx := context.Background()
	require.NoError(t, s.Content.LoadPosts(ctx, topic.ID))

	gw.Fail(feedtest.OpCountPostLikes, errors.New("relation \"likes\" does not exist"))
	err := s.Content.LoadPosts(ctx, topic.ID)

	require.Error(t, err)
	assert.Equal(t, "relation \"likes\" does not exist", s.Content.Err())
	assert.False(t, s.Content.Loading())
	assert.Len(t, s.Content.Posts(), 1)

	gw.Fail(feedtest.OpCountPostLikes, nil)
	require.NoError(t, s.Content.LoadPosts(ctx, topic.ID))
	assert.Empty(t, s.Content.Err())
}

func TestAnonymousViewerCannotLike(t *testing.T) {
	gw := feedtest.New()
	topic := gw.SeedTopic("Go")
	p := gw.SeedPost(topic.ID, "bob", "hello")
	gw.SeedLike("bob", p.ID)

	s := newSession(gw, feed.Anonymous)
	ctx := context.Background()
	require.NoError(t, s.Content.LoadPosts(ctx, topic.ID))

	posts := s.Content.Posts()
	require.Len(t, posts, 1)
	assert.False(t, posts[0].IsLiked)
	assert.EqualValues(t, 1, posts[0].LikesCount)

	_, err := s.Content.TogglePostLike(ctx, p.ID)
	assert.ErrorIs(t, err, feed.ErrUnauthenticated)
	assert.Zero(t, gw.Calls(feedtest.OpToggleLike))
	assert.Zero(t, gw.Calls(feedtest.OpHasLikedPost))
	assert.Equal(t, posts, s.Content.Posts())
}

func TestCreatePost(t *testing.T) {
	gw := feedtest.New()
	topic := gw.SeedTopic("Go")
	existing := gw.SeedPost(topic.ID, "bob", "hello")
	gw.SeedLike("bob", existing.ID)

	s := newSession(gw, "alice")
	ctx := context.Background()
	require.NoError(t, s.Content.LoadPosts(ctx, topic.ID))

	post, err := s.Content.CreatePost(ctx, topic.ID, "  generics are nice  ")
	require.NoError(t, err)
	assert.Equal(t, "generics are nice", post.Content)
	assert.Equal(t, feed.ActorID("alice"), post.AuthorID)

	posts := s.Content.Posts()
	require.Len(t, posts, 2)
	assert.Equal(t, post.ID, posts[0].ID)
	assert.Zero(t, posts[0].LikesCount)
	assert.Zero(t, posts[0].CommentsCount)
	assert.False(t, posts[0].IsLiked)

	stored, ok := gw.Topic(topic.ID)
	require.True(t, ok)
	assert.EqualValues(t, 1, stored.Posts)
}

func TestCreatePostValidation(t *testing.T) {
	gw := feedtest.New()
	topic := gw.SeedTopic("Go")
	ctx := context.Background()

	_, err := newSession(gw, feed.Anonymous).Content.CreatePost(ctx, topic.ID, "hello")
	assert.ErrorIs(t, err, feed.ErrUnauthenticated)

	_, err = newSession(gw, "alice").Content.CreatePost(ctx, topic.ID, " \n\t")
	assert.ErrorIs(t, err, feed.ErrInvalidContent)

	assert.Zero(t, gw.Calls(feedtest.OpCreatePost))
}

func TestCreatePostErrorPropagates(t *testing.T) {
	gw := feedtest.New()
	topic := gw.SeedTopic("Go")
	gw.Fail(feedtest.OpCreatePost, errors.New("permission denied for table posts"))

	s := newSession(gw, "alice")
	_, err := s.Content.CreatePost(context.Background(), topic.ID, "hello")

	var ge *feed.GatewayError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, "create post", ge.Op)
	assert.Empty(t, s.Content.Err())
}

func TestCreateCommentsAndReplies(t *testing.T) {
	gw := feedtest.New()
	topic := gw.SeedTopic("Go")
	p := gw.SeedPost(topic.ID, "bob", "hello")

	s := newSession(gw, "alice")
	ctx := context.Background()
	require.NoError(t, s.Content.LoadPosts(ctx, topic.ID))

	a, err := s.Content.CreateComment(ctx, p.ID, "A", nil)
	require.NoError(t, err)
	b, err := s.Content.CreateComment(ctx, p.ID, "B", nil)
	require.NoError(t, err)
	ra1, err := s.Content.CreateComment(ctx, p.ID, "A1", ptr(a.ID))
	require.NoError(t, err)
	rb1, err := s.Content.CreateComment(ctx, p.ID, "B1", ptr(b.ID))
	require.NoError(t, err)
	ra2, err := s.Content.CreateComment(ctx, p.ID, "A2", ptr(a.ID))
	require.NoError(t, err)

	tree := s.Content.Comments(p.ID)
	require.Len(t, tree, 2)
	assert.Equal(t, []int64{a.ID, b.ID}, ids(tree))
	assert.Equal(t, []int64{ra1.ID, ra2.ID}, ids(tree[0].Replies))
	assert.Equal(t, []int64{rb1.ID}, ids(tree[1].Replies))

	posts := s.Content.Posts()
	require.Len(t, posts, 1)
	assert.EqualValues(t, 2, posts[0].CommentsCount)
}

func TestCreateCommentRejectsNestedReply(t *testing.T) {
	gw := feedtest.New()
	topic := gw.SeedTopic("Go")
	p := gw.SeedPost(topic.ID, "bob", "hello")
	top := gw.SeedComment(p.ID, nil, "bob", "top")
	reply := gw.SeedComment(p.ID, ptr(top.ID), "bob", "reply")

	s := newSession(gw, "alice")
	_, err := s.Content.CreateComment(context.Background(), p.ID, "deeper", ptr(reply.ID))
	assert.ErrorIs(t, err, feed.ErrInvalidParent)

	_, err = s.Content.CreateComment(context.Background(), p.ID, "", nil)
	assert.ErrorIs(t, err, feed.ErrInvalidContent)
}

func TestTogglePostLikePatchesCachedPost(t *testing.T) {
	for name, newBackend := range backends() {
		t.Run(name, func(t *testing.T) {
			gw := newBackend()
			topic := gw.SeedTopic("Go")
			p := gw.SeedPost(topic.ID, "bob", "hello")
			q := gw.SeedPost(topic.ID, "bob", "other")

			s := newSession(gw, "alice")
			ctx := context.Background()
			require.NoError(t, s.Content.LoadPosts(ctx, topic.ID))

			res, err := s.Content.TogglePostLike(ctx, p.ID)
			require.NoError(t, err)
			assert.Equal(t, feed.ToggleResult{Count: 1, IsLiked: true}, res)

			for _, post := range s.Content.Posts() {
				switch post.ID {
				case p.ID:
					assert.EqualValues(t, 1, post.LikesCount)
					assert.True(t, post.IsLiked)
				case q.ID:
					assert.Zero(t, post.LikesCount)
					assert.False(t, post.IsLiked)
				}
			}

			_, err = s.Content.TogglePostLike(ctx, p.ID)
			require.NoError(t, err)
			posts := s.Content.Posts()
			assert.Zero(t, posts[1].LikesCount)
			assert.False(t, posts[1].IsLiked)
		})
	}
}

func TestToggleCommentLikePatchesReply(t *testing.T) {
	gw := feedtest.New()
	topic := gw.SeedTopic("Go")
	p1 := gw.SeedPost(topic.ID, "bob", "one")
	p2 := gw.SeedPost(topic.ID, "bob", "two")
	top := gw.SeedComment(p1.ID, nil, "bob", "top")
	reply := gw.SeedComment(p1.ID, ptr(top.ID), "carol", "reply")
	gw.SeedComment(p2.ID, nil, "bob", "unrelated")

	s := newSession(gw, "alice")
	ctx := context.Background()
	require.NoError(t, s.Content.LoadComments(ctx, p1.ID))
	require.NoError(t, s.Content.LoadComments(ctx, p2.ID))

	res, err := s.Content.ToggleCommentLike(ctx, reply.ID)
	require.NoError(t, err)
	assert.Equal(t, feed.ToggleResult{Count: 1, IsLiked: true}, res)

	tree := s.Content.Comments(p1.ID)
	require.Len(t, tree, 1)
	require.Len(t, tree[0].Replies, 1)
	assert.EqualValues(t, 1, tree[0].Replies[0].LikesCount)
	assert.True(t, tree[0].Replies[0].IsLiked)
	assert.Zero(t, tree[0].LikesCount)

	for _, c := range s.Content.Comments(p2.ID) {
		assert.Zero(t, c.LikesCount)
	}
}

func TestOverlappingTogglesConverge(t *testing.T) {
	gw := feedtest.New()
	topic := gw.SeedTopic("Go")
	p := gw.SeedPost(topic.ID, "bob", "hello")

	s := newSession(gw, "alice")
	ctx := context.Background()
	require.NoError(t, s.Content.LoadPosts(ctx, topic.ID))

	// The second toggle runs entirely between the first toggle's flip and its
	// membership re-check.
	var fired atomic.Bool
	gw.AfterToggle = func() {
		if fired.CompareAndSwap(false, true) {
			_, err := s.Content.TogglePostLike(ctx, p.ID)
			assert.NoError(t, err)
		}
	}

	_, err := s.Content.TogglePostLike(ctx, p.ID)
	require.NoError(t, err)

	posts := s.Content.Posts()
	require.Len(t, posts, 1)
	assert.Equal(t, gw.LikeCount(p.ID), posts[0].LikesCount)
	assert.EqualValues(t, 0, posts[0].LikesCount)
	assert.False(t, posts[0].IsLiked)
}

func TestConcurrentTogglesConvergeOnAuthoritativeCount(t *testing.T) {
	for name, newBackend := range backends() {
		t.Run(name, func(t *testing.T) {
			gw := newBackend()
			topic := gw.SeedTopic("Go")
			p := gw.SeedPost(topic.ID, "bob", "hello")

			s := newSession(gw, "alice")
			ctx := context.Background()
			require.NoError(t, s.Content.LoadPosts(ctx, topic.ID))

			var wg sync.WaitGroup
			for i := 0; i < 7; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, _ = s.Content.TogglePostLike(ctx, p.ID)
				}()
			}
			wg.Wait()

			posts := s.Content.Posts()
			require.Len(t, posts, 1)
			assert.Equal(t, gw.LikeCount(p.ID), posts[0].LikesCount)
			assert.EqualValues(t, 1, gw.LikeCount(p.ID))
			assert.True(t, posts[0].IsLiked)
		})
	}
}

// blockingGateway holds PostsByTopic for one topic until released
type blockingGateway struct {
	*feedtest.Gateway
	topicID int64
	started chan struct{}
	release chan struct{}
}

func (b *blockingGateway) PostsByTopic(ctx context.Context, topicID int64) ([]feed.Post, error) {
	if topicID == b.topicID {
		close(b.started)
		<-b.release
	}
	return b.Gateway.PostsByTopic(ctx, topicID)
}

func TestStalePostListIsDiscarded(t *testing.T) {
	inner := feedtest.New()
	slow := inner.SeedTopic("slow")
	fast := inner.SeedTopic("fast")
	inner.SeedPost(slow.ID, "bob", "slow post")
	fastPost := inner.SeedPost(fast.ID, "bob", "fast post")

	gw := &blockingGateway{Gateway: inner, topicID: slow.ID, started: make(chan struct{}), release: make(chan struct{})}
	s := newSession(gw, "alice")
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- s.Content.LoadPosts(ctx, slow.ID) }()
	<-gw.started

	require.NoError(t, s.Content.LoadPosts(ctx, fast.ID))
	assert.True(t, s.Content.Loading())
	close(gw.release)
	require.NoError(t, <-done)

	posts := s.Content.Posts()
	require.Len(t, posts, 1)
	assert.Equal(t, fastPost.ID, posts[0].ID)
	assert.Equal(t, fast.ID, s.Content.PostsTopic())
	assert.False(t, s.Content.Loading())
}

func TestAccessorsReturnCopies(t *testing.T) {
	gw := feedtest.New()
	topic := gw.SeedTopic("Go")
	p := gw.SeedPost(topic.ID, "bob", "hello")
	top := gw.SeedComment(p.ID, nil, "bob", "top")
	gw.SeedComment(p.ID, ptr(top.ID), "bob", "reply")

	s := newSession(gw, "alice")
	ctx := context.Background()
	require.NoError(t, s.Content.LoadPosts(ctx, topic.ID))
	require.NoError(t, s.Content.LoadComments(ctx, p.ID))

	posts := s.Content.Posts()
	posts[0].Content = "mutated"
	tree := s.Content.Comments(p.ID)
	tree[0].Replies[0].Content = "mutated"

	assert.Equal(t, "hello", s.Content.Posts()[0].Content)
	assert.Equal(t, "reply", s.Content.Comments(p.ID)[0].Replies[0].Content)
}
