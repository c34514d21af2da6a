// Package feedtest provides an in-memory feed.Gateway for tests
package feedtest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pulseboard/pulse/internal/feed"
)

// Operation names accepted by Fail and reported by Calls
const (
	OpPostsByTopic        = "PostsByTopic"
	OpCommentsByPost      = "CommentsByPost"
	OpCountPostLikes      = "CountPostLikes"
	OpCountCommentLikes   = "CountCommentLikes"
	OpCountComments       = "CountComments"
	OpHasLikedPost        = "HasLikedPost"
	OpHasLikedComment     = "HasLikedComment"
	OpToggleLike          = "ToggleLike"
	OpToggleCommentLike   = "ToggleCommentLike"
	OpToggleLikeState     = "ToggleLikeState"
	OpTopicsByRecentPosts = "TopicsByRecentPosts"
	OpCreateTopic         = "CreateTopic"
	OpCreatePost          = "CreatePost"
	OpCreateComment       = "CreateComment"
	OpIncrementTopicPosts = "IncrementTopicPosts"
	OpSearchTopics        = "SearchTopics"
	OpSearchPosts         = "SearchPosts"
)

// Gateway is an in-memory content gateway. The clock starts at a fixed
// instant and advances one second on every insert so creation order is total.
type Gateway struct {
	mu           sync.Mutex
	now          time.Time
	nextID       int64
	topics       map[int64]feed.Topic
	posts        map[int64]feed.Post
	comments     map[int64]feed.Comment
	likes        map[int64]map[feed.ActorID]bool
	commentLikes map[int64]map[feed.ActorID]bool
	failures     map[string]error
	calls        map[string]int

	// AfterToggle, when set, runs after a toggle is applied and before the
	// membership re-check of the two-step path.
	AfterToggle func()
}

// New creates an empty gateway
func New() *Gateway {
	return &Gateway{
		now:          time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		topics:       make(map[int64]feed.Topic),
		posts:        make(map[int64]feed.Post),
		comments:     make(map[int64]feed.Comment),
		likes:        make(map[int64]map[feed.ActorID]bool),
		commentLikes: make(map[int64]map[feed.ActorID]bool),
		failures:     make(map[string]error),
		calls:        make(map[string]int),
	}
}

// Atomic wraps a Gateway so it also implements feed.AtomicToggler
type Atomic struct {
	*Gateway
}

// NewAtomic creates an empty gateway with the single-call toggle
func NewAtomic() *Atomic {
	return &Atomic{Gateway: New()}
}

// Fail makes every later call of op return err. A nil err clears the failure.
func (g *Gateway) Fail(op string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err == nil {
		delete(g.failures, op)
		return
	}
	g.failures[op] = err
}

// Calls returns how many times op was invoked
func (g *Gateway) Calls(op string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[op]
}

// TotalCalls returns the number of calls across all operations
func (g *Gateway) TotalCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, c := range g.calls {
		n += c
	}
	return n
}

// Now returns the gateway clock
func (g *Gateway) Now() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.now
}

// Advance moves the gateway clock forward
func (g *Gateway) Advance(d time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.now = g.now.Add(d)
}

func (g *Gateway) begin(ctx context.Context, op string) error {
	g.calls[op]++
	if err := ctx.Err(); err != nil {
		return err
	}
	return g.failures[op]
}

func (g *Gateway) tick() (int64, time.Time) {
	g.nextID++
	g.now = g.now.Add(time.Second)
	return g.nextID, g.now
}

// SeedTopic inserts a topic directly
func (g *Gateway) SeedTopic(title string) feed.Topic {
	g.mu.Lock()
	defer g.mu.Unlock()
	id, now := g.tick()
	t := feed.Topic{ID: id, Title: title, Trend: feed.TrendSame, CreatedAt: now}
	g.topics[id] = t
	return t
}

// SeedPost inserts a post directly
func (g *Gateway) SeedPost(topicID int64, author feed.ActorID, content string) feed.Post {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.insertPost(topicID, author, content)
}

func (g *Gateway) insertPost(topicID int64, author feed.ActorID, content string) feed.Post {
	id, now := g.tick()
	p := feed.Post{ID: id, TopicID: topicID, AuthorID: author, Content: content, CreatedAt: now}
	g.posts[id] = p
	return p
}

// SeedComment inserts a comment or reply directly, without parent validation
func (g *Gateway) SeedComment(postID int64, parentID *int64, author feed.ActorID, content string) feed.Comment {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.insertComment(postID, parentID, author, content)
}

// SeedCommentAt inserts a comment with an explicit creation time
func (g *Gateway) SeedCommentAt(postID int64, parentID *int64, author feed.ActorID, content string, at time.Time) feed.Comment {
	g.mu.Lock()
	defer g.mu.Unlock()
	c := g.insertComment(postID, parentID, author, content)
	c.CreatedAt = at
	g.comments[c.ID] = c
	return c
}

func (g *Gateway) insertComment(postID int64, parentID *int64, author feed.ActorID, content string) feed.Comment {
	id, now := g.tick()
	var parent *int64
	if parentID != nil {
		p := *parentID
		parent = &p
	}
	c := feed.Comment{ID: id, PostID: postID, ParentID: parent, AuthorID: author, Content: content, CreatedAt: now}
	g.comments[id] = c
	return c
}

// SeedLike records a post like directly
func (g *Gateway) SeedLike(actor feed.ActorID, postID int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.likes[postID] == nil {
		g.likes[postID] = make(map[feed.ActorID]bool)
	}
	g.likes[postID][actor] = true
}

// SeedCommentLike records a comment like directly
func (g *Gateway) SeedCommentLike(actor feed.ActorID, commentID int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.commentLikes[commentID] == nil {
		g.commentLikes[commentID] = make(map[feed.ActorID]bool)
	}
	g.commentLikes[commentID][actor] = true
}

// Topic returns the stored topic
func (g *Gateway) Topic(id int64) (feed.Topic, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.topics[id]
	return t, ok
}

// LikeCount returns the authoritative like count of a post
func (g *Gateway) LikeCount(postID int64) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return int64(len(g.likes[postID]))
}

// CommentLikeCount returns the authoritative like count of a comment
func (g *Gateway) CommentLikeCount(commentID int64) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return int64(len(g.commentLikes[commentID]))
}

// PostsByTopic implements feed.Gateway
func (g *Gateway) PostsByTopic(ctx context.Context, topicID int64) ([]feed.Post, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.begin(ctx, OpPostsByTopic); err != nil {
		return nil, err
	}
	out := []feed.Post{}
	for _, p := range g.posts {
		if p.TopicID == topicID {
			out = append(out, p)
		}
	}
	sortPostsDesc(out)
	return out, nil
}

// CommentsByPost implements feed.Gateway
func (g *Gateway) CommentsByPost(ctx context.Context, postID int64) ([]feed.Comment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.begin(ctx, OpCommentsByPost); err != nil {
		return nil, err
	}
	out := []feed.Comment{}
	for _, c := range g.comments {
		if c.PostID == postID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// CountPostLikes implements feed.Gateway
func (g *Gateway) CountPostLikes(ctx context.Context, postID int64) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.begin(ctx, OpCountPostLikes); err != nil {
		return 0, err
	}
	return int64(len(g.likes[postID])), nil
}

// CountCommentLikes implements feed.Gateway
func (g *Gateway) CountCommentLikes(ctx context.Context, commentID int64) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.begin(ctx, OpCountCommentLikes); err != nil {
		return 0, err
	}
	return int64(len(g.commentLikes[commentID])), nil
}

// CountComments implements feed.Gateway
func (g *Gateway) CountComments(ctx context.Context, postID int64) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.begin(ctx, OpCountComments); err != nil {
		return 0, err
	}
	var n int64
	for _, c := range g.comments {
		if c.PostID == postID {
			n++
		}
	}
	return n, nil
}

// HasLikedPost implements feed.Gateway
func (g *Gateway) HasLikedPost(ctx context.Context, actor feed.ActorID, postID int64) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.begin(ctx, OpHasLikedPost); err != nil {
		return false, err
	}
	return g.likes[postID][actor], nil
}

// HasLikedComment implements feed.Gateway
func (g *Gateway) HasLikedComment(ctx context.Context, actor feed.ActorID, commentID int64) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.begin(ctx, OpHasLikedComment); err != nil {
		return false, err
	}
	return g.commentLikes[commentID][actor], nil
}

// ToggleLike implements feed.Gateway
func (g *Gateway) ToggleLike(ctx context.Context, postID int64, actor feed.ActorID) (int64, error) {
	g.mu.Lock()
	if err := g.begin(ctx, OpToggleLike); err != nil {
		g.mu.Unlock()
		return 0, err
	}
	_, n := flip(g.likes, postID, actor)
	hook := g.AfterToggle
	g.mu.Unlock()
	if hook != nil {
		hook()
	}
	return n, nil
}

// ToggleCommentLike implements feed.Gateway
func (g *Gateway) ToggleCommentLike(ctx context.Context, commentID int64, actor feed.ActorID) (int64, error) {
	g.mu.Lock()
	if err := g.begin(ctx, OpToggleCommentLike); err != nil {
		g.mu.Unlock()
		return 0, err
	}
	_, n := flip(g.commentLikes, commentID, actor)
	hook := g.AfterToggle
	g.mu.Unlock()
	if hook != nil {
		hook()
	}
	return n, nil
}

// ToggleLikeState implements feed.AtomicToggler
func (a *Atomic) ToggleLikeState(ctx context.Context, kind feed.TargetKind, targetID int64, actor feed.ActorID) (feed.ToggleResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.begin(ctx, OpToggleLikeState); err != nil {
		return feed.ToggleResult{}, err
	}
	var liked bool
	var n int64
	switch kind {
	case feed.TargetPost:
		liked, n = flip(a.likes, targetID, actor)
	case feed.TargetComment:
		liked, n = flip(a.commentLikes, targetID, actor)
	default:
		return feed.ToggleResult{}, fmt.Errorf("unknown target %q", kind)
	}
	return feed.ToggleResult{Count: n, IsLiked: liked}, nil
}

func flip(set map[int64]map[feed.ActorID]bool, id int64, actor feed.ActorID) (bool, int64) {
	members := set[id]
	if members == nil {
		members = make(map[feed.ActorID]bool)
		set[id] = members
	}
	liked := !members[actor]
	if liked {
		members[actor] = true
	} else {
		delete(members, actor)
	}
	return liked, int64(len(members))
}

// TopicsByRecentPosts ranks topics with at least one post inside the window
// by post volume, newest topic first on ties.
func (g *Gateway) TopicsByRecentPosts(ctx context.Context, window time.Duration, limit int) ([]feed.Topic, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.begin(ctx, OpTopicsByRecentPosts); err != nil {
		return nil, err
	}
	since := g.now.Add(-window)
	volume := make(map[int64]int)
	for _, p := range g.posts {
		if p.CreatedAt.After(since) {
			volume[p.TopicID]++
		}
	}
	out := []feed.Topic{}
	for id, n := range volume {
		if t, ok := g.topics[id]; ok && n > 0 {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		vi, vj := volume[out[i].ID], volume[out[j].ID]
		if vi != vj {
			return vi > vj
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CreateTopic implements feed.Gateway
func (g *Gateway) CreateTopic(ctx context.Context, in feed.NewTopic) (feed.Topic, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.begin(ctx, OpCreateTopic); err != nil {
		return feed.Topic{}, err
	}
	id, now := g.tick()
	t := feed.Topic{ID: id, Title: in.Title, Trend: feed.TrendSame, CreatedAt: now}
	g.topics[id] = t
	return t, nil
}

// CreatePost implements feed.Gateway
func (g *Gateway) CreatePost(ctx context.Context, in feed.NewPost) (feed.Post, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.begin(ctx, OpCreatePost); err != nil {
		return feed.Post{}, err
	}
	if _, ok := g.topics[in.TopicID]; !ok {
		return feed.Post{}, fmt.Errorf("topic %d does not exist", in.TopicID)
	}
	return g.insertPost(in.TopicID, in.AuthorID, in.Content), nil
}

// CreateComment implements feed.Gateway. Replies must target a top-level
// comment of the same post.
func (g *Gateway) CreateComment(ctx context.Context, in feed.NewComment) (feed.Comment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.begin(ctx, OpCreateComment); err != nil {
		return feed.Comment{}, err
	}
	if _, ok := g.posts[in.PostID]; !ok {
		return feed.Comment{}, fmt.Errorf("post %d does not exist", in.PostID)
	}
	if in.ParentID != nil {
		parent, ok := g.comments[*in.ParentID]
		if !ok || parent.PostID != in.PostID || !parent.IsTopLevel() {
			return feed.Comment{}, feed.ErrInvalidParent
		}
	}
	return g.insertComment(in.PostID, in.ParentID, in.AuthorID, in.Content), nil
}

// IncrementTopicPosts implements feed.Gateway
func (g *Gateway) IncrementTopicPosts(ctx context.Context, topicID int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.begin(ctx, OpIncrementTopicPosts); err != nil {
		return err
	}
	t, ok := g.topics[topicID]
	if !ok {
		return errors.New("topic not found")
	}
	t.Posts++
	g.topics[topicID] = t
	return nil
}

// SearchTopics implements feed.Gateway
func (g *Gateway) SearchTopics(ctx context.Context, query string, limit int) ([]feed.Topic, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.begin(ctx, OpSearchTopics); err != nil {
		return nil, err
	}
	q := strings.ToLower(query)
	out := []feed.Topic{}
	for _, t := range g.topics {
		if strings.Contains(strings.ToLower(t.Title), q) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SearchPosts implements feed.Gateway
func (g *Gateway) SearchPosts(ctx context.Context, query string, limit int) ([]feed.Post, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.begin(ctx, OpSearchPosts); err != nil {
		return nil, err
	}
	q := strings.ToLower(query)
	out := []feed.Post{}
	for _, p := range g.posts {
		if strings.Contains(strings.ToLower(p.Content), q) {
			out = append(out, p)
		}
	}
	sortPostsDesc(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func sortPostsDesc(posts []feed.Post) {
	sort.Slice(posts, func(i, j int) bool {
		if posts[i].CreatedAt.Equal(posts[j].CreatedAt) {
			return posts[i].ID > posts[j].ID
		}
		return posts[i].CreatedAt.After(posts[j].CreatedAt)
	})
}

var (
	_ feed.Gateway       = (*Gateway)(nil)
	_ feed.Gateway       = (*Atomic)(nil)
	_ feed.AtomicToggler = (*Atomic)(nil)
)
