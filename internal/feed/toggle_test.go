package feed_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulseboard/pulse/internal/feed"
	"github.com/pulseboard/pulse/internal/feed/feedtest"
)

type likeBackend interface {
	feed.Gateway
	SeedTopic(title string) feed.Topic
	SeedPost(topicID int64, author feed.ActorID, content string) feed.Post
	SeedComment(postID int64, parentID *int64, author feed.ActorID, content string) feed.Comment
	SeedLike(actor feed.ActorID, postID int64)
	LikeCount(postID int64) int64
	CommentLikeCount(commentID int64) int64
	Calls(op string) int
	TotalCalls() int
}

func backends() map[string]func() likeBackend {
	return map[string]func() likeBackend{
		"two-step": func() likeBackend { return feedtest.New() },
		"atomic":   func() likeBackend { return feedtest.NewAtomic() },
	}
}

func TestToggleAnonymousMakesNoGatewayCall(t *testing.T) {
	for name, newBackend := range backends() {
		t.Run(name, func(t *testing.T) {
			gw := newBackend()
			toggler := feed.NewToggler(gw, feed.NewActorResolver(nil, nil), nil)

			_, err := toggler.Toggle(context.Background(), feed.TargetPost, 1)
			assert.ErrorIs(t, err, feed.ErrUnauthenticated)
			assert.True(t, feed.IsUnauthenticated(err))
			assert.Zero(t, gw.TotalCalls())
		})
	}
}

func TestToggleTwiceRestoresState(t *testing.T) {
	for name, newBackend := range backends() {
		t.Run(name, func(t *testing.T) {
			gw := newBackend()
			topic := gw.SeedTopic("Go")
			p := gw.SeedPost(topic.ID, "bob", "hello")
			c := gw.SeedComment(p.ID, nil, "bob", "hi")
			gw.SeedLike("bob", p.ID)

			toggler := feed.NewToggler(gw, feed.NewActorResolver(feed.StaticIdentity("alice"), nil), nil)
			ctx := context.Background()

			first, err := toggler.Toggle(ctx, feed.TargetPost, p.ID)
			require.NoError(t, err)
			assert.Equal(t, feed.ToggleResult{Count: 2, IsLiked: true}, first)

			second, err := toggler.Toggle(ctx, feed.TargetPost, p.ID)
			require.NoError(t, err)
			assert.Equal(t, feed.ToggleResult{Count: 1, IsLiked: false}, second)
			assert.EqualValues(t, 1, gw.LikeCount(p.ID))

			liked, err := toggler.Toggle(ctx, feed.TargetComment, c.ID)
			require.NoError(t, err)
			assert.Equal(t, feed.ToggleResult{Count: 1, IsLiked: true}, liked)
			unliked, err := toggler.Toggle(ctx, feed.TargetComment, c.ID)
			require.NoError(t, err)
			assert.Equal(t, feed.ToggleResult{Count: 0, IsLiked: false}, unliked)
			assert.EqualValues(t, 0, gw.CommentLikeCount(c.ID))
		})
	}
}

func TestTogglePrefersAtomicGateway(t *testing.T) {
	gw := feedtest.NewAtomic()
	topic := gw.SeedTopic("Go")
	p := gw.SeedPost(topic.ID, "bob", "hello")

	toggler := feed.NewToggler(gw, feed.NewActorResolver(feed.StaticIdentity("alice"), nil), nil)
	_, err := toggler.Toggle(context.Background(), feed.TargetPost, p.ID)
	require.NoError(t, err)

	assert.Equal(t, 1, gw.Calls(feedtest.OpToggleLikeState))
	assert.Zero(t, gw.Calls(feedtest.OpToggleLike))
	assert.Zero(t, gw.Calls(feedtest.OpHasLikedPost))
}

func TestToggleRejectsUnknownTarget(t *testing.T) {
	gw := feedtest.New()
	toggler := feed.NewToggler(gw, feed.NewActorResolver(feed.StaticIdentity("alice"), nil), nil)

	_, err := toggler.Toggle(context.Background(), feed.TargetKind("topic"), 1)
	assert.ErrorIs(t, err, feed.ErrInvalidTarget)
	assert.Zero(t, gw.TotalCalls())
}

func TestActorResolverFallsBackToAnonymous(t *testing.T) {
	failing := feed.IdentityFunc(func(context.Context) (feed.ActorID, error) {
		return "", assert.AnError
	})
	resolver := feed.NewActorResolver(failing, nil)

	assert.Equal(t, feed.Anonymous, resolver.Resolve(context.Background()))
	_, err := resolver.Require(context.Background())
	assert.ErrorIs(t, err, feed.ErrUnauthenticated)

	signedIn := feed.NewActorResolver(feed.StaticIdentity("alice"), nil)
	actor, err := signedIn.Require(context.Background())
	require.NoError(t, err)
	assert.Equal(t, feed.ActorID("alice"), actor)
}
