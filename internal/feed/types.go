// Package feed is the content aggregation and interaction-state layer: it
// enriches posts and comments with derived counters, assembles comment trees,
// toggles likes and keeps the per-session caches consumed by the presentation
// layer consistent with the content gateway.
package feed

import (
	"time"
)

// ActorID identifies the signed-in user. The zero value is the anonymous actor.
type ActorID string

// Anonymous is the absence of a signed-in actor
const Anonymous ActorID = ""

// Trend is the direction of a topic's recent post volume
type Trend string

const (
	TrendUp   Trend = "up"
	TrendDown Trend = "down"
	TrendSame Trend = "same"
)

// Topic is a discussion topic. Rank is assigned on every trending refresh and
// is zero outside a ranked list.
type Topic struct {
	ID           int64     `json:"id"`
	Title        string    `json:"title"`
	Participants int64     `json:"participants"`
	Posts        int64     `json:"posts"`
	Trend        Trend     `json:"trend"`
	Rank         int       `json:"rank,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Post is a post with its derived fields. The derived fields are snapshots
// taken at fetch time.
type Post struct {
	ID            int64     `json:"id"`
	TopicID       int64     `json:"topic_id"`
	AuthorID      ActorID   `json:"user_id"`
	Content       string    `json:"content"`
	CreatedAt     time.Time `json:"created_at"`
	CommentsCount int64     `json:"comments_count"`
	LikesCount    int64     `json:"likes_count"`
	IsLiked       bool      `json:"is_liked"`
}

// Comment is a comment or a reply. Replies is only populated on top-level
// comments of a built tree.
type Comment struct {
	ID         int64     `json:"id"`
	PostID     int64     `json:"post_id"`
	ParentID   *int64    `json:"parent_comment_id"`
	AuthorID   ActorID   `json:"user_id"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
	LikesCount int64     `json:"likes_count"`
	IsLiked    bool      `json:"is_liked"`
	Replies    []Comment `json:"replies"`
}

// IsTopLevel reports whether the comment has no parent
func (c Comment) IsTopLevel() bool {
	return c.ParentID == nil
}

// NewTopic is the input of Gateway.CreateTopic
type NewTopic struct {
	Title     string
	CreatedBy ActorID
}

// NewPost is the input of Gateway.CreatePost
type NewPost struct {
	TopicID  int64
	AuthorID ActorID
	Content  string
}

// NewComment is the input of Gateway.CreateComment
type NewComment struct {
	PostID   int64
	ParentID *int64
	AuthorID ActorID
	Content  string
}

// TargetKind selects what a like applies to
type TargetKind string

const (
	TargetPost    TargetKind = "post"
	TargetComment TargetKind = "comment"
)

// Valid reports whether k is a known target kind
func (k TargetKind) Valid() bool {
	return k == TargetPost || k == TargetComment
}

// ToggleResult is the interaction state of one target after a toggle
type ToggleResult struct {
	Count   int64 `json:"likes_count"`
	IsLiked bool  `json:"is_liked"`
}

func cloneComments(in []Comment) []Comment {
	if in == nil {
		return nil
	}
	out := make([]Comment, len(in))
	for i, c := range in {
		out[i] = c
		if c.Replies != nil {
			out[i].Replies = append([]Comment(nil), c.Replies...)
		}
	}
	return out
}
