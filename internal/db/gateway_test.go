package db

import (
	"database/sql"
	"testing"
	"time"

	"github.com/pulseboard/pulse/internal/feed"
	"github.com/pulseboard/pulse/internal/models"
)

func TestContainsPattern(t *testing.T) {
	tests := []struct {
		query string
		want  string
	}{
		{"go", "%go%"},
		{"100%", `%100\%%`},
		{"snake_case", `%snake\_case%`},
		{`C:\temp`, `%C:\\temp%`},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			if got := containsPattern(tt.query); got != tt.want {
				t.Errorf("containsPattern(%q) = %q, want %q", tt.query, got, tt.want)
			}
		})
	}
}

func TestWindowMinutes(t *testing.T) {
	tests := []struct {
		window time.Duration
		want   int
	}{
		{30 * time.Minute, 30},
		{90 * time.Second, 2},
		{0, 1},
		{time.Hour, 60},
	}

	for _, tt := range tests {
		if got := windowMinutes(tt.window); got != tt.want {
			t.Errorf("windowMinutes(%s) = %d, want %d", tt.window, got, tt.want)
		}
	}
}

func TestToComment(t *testing.T) {
	now := time.Now().UTC()
	top := toComment(models.Comment{ID: 1, PostID: 2, UserID: "alice", Content: "hi", CreatedAt: now})
	if top.ParentID != nil {
		t.Errorf("Expected top-level comment, got parent %d", *top.ParentID)
	}
	if top.AuthorID != feed.ActorID("alice") || !top.CreatedAt.Equal(now) {
		t.Errorf("Unexpected conversion: %+v", top)
	}

	reply := toComment(models.Comment{ID: 3, PostID: 2, ParentCommentID: sql.NullInt64{Int64: 1, Valid: true}})
	if reply.ParentID == nil || *reply.ParentID != 1 {
		t.Errorf("Expected parent 1, got %v", reply.ParentID)
	}
	if reply.IsTopLevel() {
		t.Error("Reply reported as top-level")
	}
}

func TestToTopic(t *testing.T) {
	got := toTopic(models.Topic{ID: 4, Title: "Weather", Posts: 3, Participants: 2, Trend: models.TrendUp})
	want := feed.Topic{ID: 4, Title: "Weather", Posts: 3, Participants: 2, Trend: feed.TrendUp}
	if got != want {
		t.Errorf("toTopic() = %+v, want %+v", got, want)
	}
	if got.Rank != 0 {
		t.Errorf("Rank must not be persisted, got %d", got.Rank)
	}
}

func TestGormLogLevel(t *testing.T) {
	if gormLogLevel("DEBUG") <= gormLogLevel("ERROR") {
		t.Error("DEBUG should be more verbose than ERROR")
	}
	if gormLogLevel("unknown") != gormLogLevel("INFO") {
		t.Error("Unknown levels should map like INFO")
	}
}
