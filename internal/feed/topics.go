package feed

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pulseboard/pulse/pkg/logging"
)

const (
	// DefaultTrendingWindow is the trailing window trending volume is measured over
	DefaultTrendingWindow = 30 * time.Minute
	// DefaultTrendingLimit is the size of the trending list
	DefaultTrendingLimit = 10
)

// TopicRegistry caches the trending topic list
type TopicRegistry struct {
	gateway TopicGateway
	actors  *ActorResolver
	window  time.Duration
	limit   int
	logger  *zap.Logger

	mu       sync.RWMutex
	topics   []Topic
	gen      uint64
	inflight int
	errMsg   string
}

// NewTopicRegistry creates an empty registry
func NewTopicRegistry(gateway TopicGateway, actors *ActorResolver, window time.Duration, limit int, logger *zap.Logger) *TopicRegistry {
	if window <= 0 {
		window = DefaultTrendingWindow
	}
	if limit <= 0 {
		limit = DefaultTrendingLimit
	}
	if logger == nil {
		logger = logging.WithComponent("topic-registry")
	}
	return &TopicRegistry{gateway: gateway, actors: actors, window: window, limit: limit, logger: logger}
}

// Topics returns a copy of the cached trending list
func (r *TopicRegistry) Topics() []Topic {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Topic(nil), r.topics...)
}

// Loading reports whether a refresh is in flight
func (r *TopicRegistry) Loading() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.inflight > 0
}

// Err returns the message of the most recent failed refresh, if any
func (r *TopicRegistry) Err() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.errMsg
}

// ListTrending refreshes the cached list from the gateway's ranking. The
// gateway order is kept and ranks are assigned 1..N.
func (r *TopicRegistry) ListTrending(ctx context.Context) ([]Topic, error) {
	r.mu.Lock()
	r.gen++
	gen := r.gen
	r.inflight++
	r.errMsg = ""
	r.mu.Unlock()

	topics, err := r.gateway.TopicsByRecentPosts(ctx, r.window, r.limit)
	if err != nil {
		err = gatewayErr("list trending topics", err)
	}
	ranked := make([]Topic, len(topics))
	for i, t := range topics {
		t.Rank = i + 1
		ranked[i] = t
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.inflight--
	if gen != r.gen {
		r.logger.Debug("Discarding stale trending list", zap.Uint64("generation", gen))
		return ranked, err
	}
	if err != nil {
		r.errMsg = Describe(err)
		r.logger.Error("Failed to list trending topics", zap.Error(err))
		return nil, err
	}
	r.topics = ranked
	return append([]Topic(nil), ranked...), nil
}

// Create inserts a topic with zeroed counters and refreshes the trending
// list. A new topic only shows up once it has posts inside the window.
func (r *TopicRegistry) Create(ctx context.Context, title string) (Topic, error) {
	actor, err := r.actors.Require(ctx)
	if err != nil {
		return Topic{}, err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return Topic{}, ErrInvalidContent
	}

	topic, err := r.gateway.CreateTopic(ctx, NewTopic{Title: title, CreatedBy: actor})
	if err != nil {
		return Topic{}, gatewayErr("create topic", err)
	}
	r.logger.Info("Topic created", zap.Int64("topic_id", topic.ID), zap.String("title", title), logging.Actor(string(actor)))

	_, _ = r.ListTrending(ctx)
	return topic, nil
}

// Find looks a topic up in the cached list
func (r *TopicRegistry) Find(topicID int64) (Topic, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.topics {
		if t.ID == topicID {
			return t, true
		}
	}
	return Topic{}, false
}
