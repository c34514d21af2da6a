package api

import (
	"encoding/json"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/pulseboard/pulse/internal/feed"
)

// FeedAPI exposes a client's feed session over JSON-RPC
type FeedAPI struct {
	sessions *SessionManager
}

// NewFeedAPI creates the feed API
func NewFeedAPI(sessions *SessionManager) *FeedAPI {
	return &FeedAPI{sessions: sessions}
}

type topicParams struct {
	TopicID int64  `json:"topic_id"`
	Title   string `json:"title"`
}

type postParams struct {
	TopicID int64  `json:"topic_id"`
	PostID  int64  `json:"post_id"`
	Content string `json:"content"`
}

type commentParams struct {
	PostID          int64  `json:"post_id"`
	Content         string `json:"content"`
	ParentCommentID *int64 `json:"parent_comment_id"`
}

type likeParams struct {
	Target   feed.TargetKind `json:"target"`
	TargetID int64           `json:"target_id"`
}

type searchParams struct {
	Query string `json:"query"`
}

// decodeParams unmarshals params into dest. Absent params decode as empty.
func decodeParams(params json.RawMessage, dest interface{}) error {
	raw := strings.TrimSpace(string(params))
	if raw == "" || raw == "null" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		return invalidParams("invalid parameters format")
	}
	return nil
}

func requireID(name string, id int64) error {
	if id <= 0 {
		return invalidParams("missing required parameter: %s", name)
	}
	return nil
}

// ListTrending handles pulse.list_trending
func (a *FeedAPI) ListTrending(ctx *gin.Context, params json.RawMessage) (interface{}, error) {
	return a.sessions.For(ctx).Topics.ListTrending(ctx.Request.Context())
}

// CreateTopic handles pulse.create_topic
func (a *FeedAPI) CreateTopic(ctx *gin.Context, params json.RawMessage) (interface{}, error) {
	var p topicParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	s := a.sessions.For(ctx)
	topic, err := s.Topics.Create(ctx.Request.Context(), p.Title)
	if err != nil {
		return nil, err
	}
	return gin.H{
		"topic":  topic,
		"topics": s.Topics.Topics(),
		"error":  s.Topics.Err(),
	}, nil
}

// GetTopic handles pulse.get_topic. Only topics in the client's current
// trending list are known.
func (a *FeedAPI) GetTopic(ctx *gin.Context, params json.RawMessage) (interface{}, error) {
	var p topicParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if err := requireID("topic_id", p.TopicID); err != nil {
		return nil, err
	}
	topic, ok := a.sessions.For(ctx).Topics.Find(p.TopicID)
	if !ok {
		return gin.H{"found": false, "topic": nil}, nil
	}
	return gin.H{"found": true, "topic": topic}, nil
}

// LoadPosts handles pulse.load_posts
func (a *FeedAPI) LoadPosts(ctx *gin.Context, params json.RawMessage) (interface{}, error) {
	var p postParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if err := requireID("topic_id", p.TopicID); err != nil {
		return nil, err
	}
	s := a.sessions.For(ctx)
	if err := s.Content.LoadPosts(ctx.Request.Context(), p.TopicID); err != nil {
		return nil, err
	}
	return s.Content.Posts(), nil
}

// CreatePost handles pulse.create_post
func (a *FeedAPI) CreatePost(ctx *gin.Context, params json.RawMessage) (interface{}, error) {
	var p postParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if err := requireID("topic_id", p.TopicID); err != nil {
		return nil, err
	}
	return a.sessions.For(ctx).Content.CreatePost(ctx.Request.Context(), p.TopicID, p.Content)
}

// LoadComments handles pulse.load_comments
func (a *FeedAPI) LoadComments(ctx *gin.Context, params json.RawMessage) (interface{}, error) {
	var p commentParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if err := requireID("post_id", p.PostID); err != nil {
		return nil, err
	}
	s := a.sessions.For(ctx)
	if err := s.Content.LoadComments(ctx.Request.Context(), p.PostID); err != nil {
		return nil, err
	}
	return s.Content.Comments(p.PostID), nil
}

// CreateComment handles pulse.create_comment
func (a *FeedAPI) CreateComment(ctx *gin.Context, params json.RawMessage) (interface{}, error) {
	var p commentParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if err := requireID("post_id", p.PostID); err != nil {
		return nil, err
	}
	s := a.sessions.For(ctx)
	comment, err := s.Content.CreateComment(ctx.Request.Context(), p.PostID, p.Content, p.ParentCommentID)
	if err != nil {
		return nil, err
	}
	return gin.H{
		"comment":  comment,
		"comments": s.Content.Comments(p.PostID),
		"error":    s.Content.Err(),
	}, nil
}

// ToggleLike handles pulse.toggle_like
func (a *FeedAPI) ToggleLike(ctx *gin.Context, params json.RawMessage) (interface{}, error) {
	var p likeParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if !p.Target.Valid() {
		return nil, invalidParams("target must be 'post' or 'comment'")
	}
	if err := requireID("target_id", p.TargetID); err != nil {
		return nil, err
	}
	content := a.sessions.For(ctx).Content
	if p.Target == feed.TargetComment {
		return content.ToggleCommentLike(ctx.Request.Context(), p.TargetID)
	}
	return content.TogglePostLike(ctx.Request.Context(), p.TargetID)
}

// Search handles pulse.search
func (a *FeedAPI) Search(ctx *gin.Context, params json.RawMessage) (interface{}, error) {
	var p searchParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	s := a.sessions.For(ctx)
	if err := s.Search.Search(ctx.Request.Context(), p.Query); err != nil {
		return nil, err
	}
	return searchResult(s.Search), nil
}

// ClearSearch handles pulse.clear_search
func (a *FeedAPI) ClearSearch(ctx *gin.Context, params json.RawMessage) (interface{}, error) {
	s := a.sessions.For(ctx)
	s.Search.Clear()
	return searchResult(s.Search), nil
}

func searchResult(s *feed.SearchAggregator) gin.H {
	return gin.H{
		"query":  s.Query(),
		"topics": nonNilTopics(s.Topics()),
		"posts":  nonNilPosts(s.Posts()),
	}
}

func nonNilTopics(t []feed.Topic) []feed.Topic {
	if t == nil {
		return []feed.Topic{}
	}
	return t
}

func nonNilPosts(p []feed.Post) []feed.Post {
	if p == nil {
		return []feed.Post{}
	}
	return p
}
