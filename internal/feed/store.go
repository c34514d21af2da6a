package feed

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/pulseboard/pulse/pkg/logging"
)

type targetKey struct {
	kind TargetKind
	id   int64
}

// toggleBurst tracks toggles of one target that overlap in time
type toggleBurst struct {
	inflight   int
	started    uint64
	overlapped bool
	settling   bool
}

// ContentStore caches the post list of the topic being viewed and the
// comment tree of every post that has been opened. Every load is tagged with
// a generation so a response is only applied if no newer load of the same
// slot was started after it.
type ContentStore struct {
	gateway ContentGateway
	actors  *ActorResolver
	agg     *Aggregator
	toggler *Toggler
	logger  *zap.Logger

	mu         sync.RWMutex
	posts      []Post
	postsTopic int64
	postsGen   uint64
	comments   map[int64][]Comment
	commentGen map[int64]uint64
	inflight   int
	errMsg     string
	toggles    map[targetKey]*toggleBurst
}

// NewContentStore creates an empty store
func NewContentStore(gateway ContentGateway, actors *ActorResolver, agg *Aggregator, toggler *Toggler, logger *zap.Logger) *ContentStore {
	if logger == nil {
		logger = logging.WithComponent("content-store")
	}
	return &ContentStore{
		gateway:    gateway,
		actors:     actors,
		agg:        agg,
		toggler:    toggler,
		logger:     logger,
		comments:   make(map[int64][]Comment),
		commentGen: make(map[int64]uint64),
		toggles:    make(map[targetKey]*toggleBurst),
	}
}

// Posts returns a copy of the cached post list
func (s *ContentStore) Posts() []Post {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Post(nil), s.posts...)
}

// PostsTopic returns the topic the cached post list belongs to
func (s *ContentStore) PostsTopic() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.postsTopic
}

// Comments returns a copy of the cached comment tree of a post
func (s *ContentStore) Comments(postID int64) []Comment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneComments(s.comments[postID])
}

// Loading reports whether any load is in flight
func (s *ContentStore) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inflight > 0
}

// Err returns the message of the most recent failed load, if any
func (s *ContentStore) Err() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.errMsg
}

// LoadPosts replaces the cached post list with the topic's posts, newest
// first, enriched for the current actor. On failure the previous list is kept
// and the error is recorded.
func (s *ContentStore) LoadPosts(ctx context.Context, topicID int64) error {
	s.mu.Lock()
	s.postsGen++
	gen := s.postsGen
	s.inflight++
	s.errMsg = ""
	s.mu.Unlock()

	posts, err := s.fetchPosts(ctx, topicID)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight--
	if gen != s.postsGen {
		s.logger.Debug("Discarding stale post list", zap.Int64("topic_id", topicID), zap.Uint64("generation", gen))
		return err
	}
	if err != nil {
		s.errMsg = Describe(err)
		s.logger.Error("Failed to load posts", zap.Int64("topic_id", topicID), zap.Error(err))
		return err
	}
	s.posts = posts
	s.postsTopic = topicID
	return nil
}

func (s *ContentStore) fetchPosts(ctx context.Context, topicID int64) ([]Post, error) {
	rows, err := s.gateway.PostsByTopic(ctx, topicID)
	if err != nil {
		return nil, gatewayErr("list posts", err)
	}
	return s.agg.EnrichPosts(ctx, s.actors.Resolve(ctx), rows)
}

// LoadComments replaces the cached comment tree of a post
func (s *ContentStore) LoadComments(ctx context.Context, postID int64) error {
	s.mu.Lock()
	s.commentGen[postID]++
	gen := s.commentGen[postID]
	s.inflight++
	s.errMsg = ""
	s.mu.Unlock()

	tree, err := s.fetchComments(ctx, postID)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight--
	if gen != s.commentGen[postID] {
		s.logger.Debug("Discarding stale comment tree", zap.Int64("post_id", postID), zap.Uint64("generation", gen))
		return err
	}
	if err != nil {
		s.errMsg = Describe(err)
		s.logger.Error("Failed to load comments", zap.Int64("post_id", postID), zap.Error(err))
		return err
	}
	s.comments[postID] = tree
	return nil
}

func (s *ContentStore) fetchComments(ctx context.Context, postID int64) ([]Comment, error) {
	rows, err := s.gateway.CommentsByPost(ctx, postID)
	if err != nil {
		return nil, gatewayErr("list comments", err)
	}
	enriched, err := s.agg.EnrichComments(ctx, s.actors.Resolve(ctx), rows)
	if err != nil {
		return nil, err
	}
	return BuildCommentTree(enriched), nil
}

// CreatePost inserts a post by the current actor, bumps the topic's post
// counter and prepends the new post to the cached list.
func (s *ContentStore) CreatePost(ctx context.Context, topicID int64, content string) (Post, error) {
	actor, err := s.actors.Require(ctx)
	if err != nil {
		return Post{}, err
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return Post{}, ErrInvalidContent
	}

	post, err := s.gateway.CreatePost(ctx, NewPost{TopicID: topicID, AuthorID: actor, Content: content})
	if err != nil {
		return Post{}, gatewayErr("create post", err)
	}
	if err := s.gateway.IncrementTopicPosts(ctx, topicID); err != nil {
		s.logger.Warn("Failed to increment topic post counter", zap.Int64("topic_id", topicID), zap.Error(err))
	}

	post.CommentsCount = 0
	post.LikesCount = 0
	post.IsLiked = false

	s.mu.Lock()
	if s.postsTopic == topicID || (s.postsTopic == 0 && len(s.posts) == 0) {
		s.posts = append([]Post{post}, s.posts...)
		s.postsTopic = topicID
	}
	s.mu.Unlock()

	s.logger.Info("Post created", zap.Int64("post_id", post.ID), zap.Int64("topic_id", topicID), logging.Actor(string(actor)))
	return post, nil
}

// CreateComment inserts a comment or reply by the current actor. A top-level
// comment bumps the cached post's comments_count right away; the comment tree
// is then re-fetched in full. A failed re-fetch is recorded on the store.
func (s *ContentStore) CreateComment(ctx context.Context, postID int64, content string, parentID *int64) (Comment, error) {
	actor, err := s.actors.Require(ctx)
	if err != nil {
		return Comment{}, err
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return Comment{}, ErrInvalidContent
	}

	comment, err := s.gateway.CreateComment(ctx, NewComment{PostID: postID, ParentID: parentID, AuthorID: actor, Content: content})
	if err != nil {
		return Comment{}, gatewayErr("create comment", err)
	}

	if parentID == nil {
		s.mu.Lock()
		for i := range s.posts {
			if s.posts[i].ID == postID {
				s.posts[i].CommentsCount++
				break
			}
		}
		s.mu.Unlock()
	}

	s.logger.Info("Comment created",
		zap.Int64("comment_id", comment.ID),
		zap.Int64("post_id", postID),
		zap.Bool("reply", parentID != nil),
		logging.Actor(string(actor)))

	_ = s.LoadComments(ctx, postID)
	return comment, nil
}

// TogglePostLike toggles the current actor's like on a post and patches the
// cached post.
func (s *ContentStore) TogglePostLike(ctx context.Context, postID int64) (ToggleResult, error) {
	return s.toggle(ctx, TargetPost, postID)
}

// ToggleCommentLike toggles the current actor's like on a comment and patches
// it wherever it appears in the cached trees.
func (s *ContentStore) ToggleCommentLike(ctx context.Context, commentID int64) (ToggleResult, error) {
	return s.toggle(ctx, TargetComment, commentID)
}

// toggle runs one toggle. Toggles of the same target that overlap form a
// burst; only the last one to settle patches the cache, using state re-read
// from the gateway, and only if no further toggle started in the meantime.
func (s *ContentStore) toggle(ctx context.Context, kind TargetKind, id int64) (ToggleResult, error) {
	actor, err := s.actors.Require(ctx)
	if err != nil {
		return ToggleResult{}, err
	}
	key := targetKey{kind: kind, id: id}

	s.mu.Lock()
	burst := s.toggles[key]
	if burst == nil {
		burst = &toggleBurst{}
		s.toggles[key] = burst
	}
	if burst.inflight > 0 || burst.settling {
		burst.overlapped = true
	}
	burst.inflight++
	burst.started++
	s.mu.Unlock()

	res, toggleErr := s.toggler.ToggleAs(ctx, actor, kind, id)

	s.mu.Lock()
	burst.inflight--
	if burst.inflight > 0 {
		s.mu.Unlock()
		return res, toggleErr
	}
	seq := burst.started
	overlapped := burst.overlapped
	burst.settling = true
	s.mu.Unlock()

	state, apply := res, toggleErr == nil
	if overlapped {
		fresh, err := s.agg.State(ctx, actor, kind, id)
		if err != nil {
			s.logger.Warn("Failed to reconcile like state", zap.String("target", string(kind)), zap.Int64("target_id", id), zap.Error(err))
			apply = false
		} else {
			state, apply = fresh, true
		}
	}

	s.mu.Lock()
	if burst.started == seq {
		if apply {
			s.patchLocked(kind, id, state)
		}
		delete(s.toggles, key)
	}
	s.mu.Unlock()
	return res, toggleErr
}

func (s *ContentStore) patchLocked(kind TargetKind, id int64, state ToggleResult) {
	switch kind {
	case TargetPost:
		for i := range s.posts {
			if s.posts[i].ID == id {
				s.posts[i].LikesCount = state.Count
				s.posts[i].IsLiked = state.IsLiked
				return
			}
		}
	case TargetComment:
		for _, tree := range s.comments {
			if c := findComment(tree, id); c != nil {
				c.LikesCount = state.Count
				c.IsLiked = state.IsLiked
				return
			}
		}
	}
}
