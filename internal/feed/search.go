package feed

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pulseboard/pulse/pkg/logging"
)

const (
	// DefaultSearchTopicLimit caps topic-title hits
	DefaultSearchTopicLimit = 20
	// DefaultSearchPostLimit caps post-content hits
	DefaultSearchPostLimit = 50
)

// SearchAggregator runs a query against topic titles and post contents and
// keeps the two result lists independently.
type SearchAggregator struct {
	gateway    SearchGateway
	agg        *Aggregator
	actors     *ActorResolver
	topicLimit int
	postLimit  int
	logger     *zap.Logger

	mu       sync.RWMutex
	query    string
	topics   []Topic
	posts    []Post
	gen      uint64
	inflight int
	errMsg   string
}

// NewSearchAggregator creates an empty search slot
func NewSearchAggregator(gateway SearchGateway, agg *Aggregator, actors *ActorResolver, topicLimit, postLimit int, logger *zap.Logger) *SearchAggregator {
	if topicLimit <= 0 {
		topicLimit = DefaultSearchTopicLimit
	}
	if postLimit <= 0 {
		postLimit = DefaultSearchPostLimit
	}
	if logger == nil {
		logger = logging.WithComponent("search")
	}
	return &SearchAggregator{
		gateway:    gateway,
		agg:        agg,
		actors:     actors,
		topicLimit: topicLimit,
		postLimit:  postLimit,
		logger:     logger,
	}
}

// Query returns the query the current results belong to
func (s *SearchAggregator) Query() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.query
}

// Topics returns a copy of the topic hits
func (s *SearchAggregator) Topics() []Topic {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Topic(nil), s.topics...)
}

// Posts returns a copy of the post hits
func (s *SearchAggregator) Posts() []Post {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Post(nil), s.posts...)
}

// Loading reports whether a search is in flight
func (s *SearchAggregator) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inflight > 0
}

// Err returns the message of the most recent failed search, if any
func (s *SearchAggregator) Err() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.errMsg
}

// Clear drops results, query and error. Searches still in flight are discarded.
func (s *SearchAggregator) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.query = ""
	s.topics = nil
	s.posts = nil
	s.errMsg = ""
}

// Search matches query against topic titles and post contents. Both lists are
// fetched concurrently, newest first; post hits are enriched for the current
// actor. A blank query clears the slot without touching the gateway.
func (s *SearchAggregator) Search(ctx context.Context, query string) error {
	query = strings.TrimSpace(query)
	if query == "" {
		s.Clear()
		return nil
	}

	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.inflight++
	s.errMsg = ""
	s.mu.Unlock()

	topics, posts, err := s.run(ctx, query)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight--
	if gen != s.gen {
		s.logger.Debug("Discarding stale search results", zap.String("query", query), zap.Uint64("generation", gen))
		return err
	}
	if err != nil {
		s.errMsg = Describe(err)
		s.logger.Error("Search failed", zap.String("query", query), zap.Error(err))
		return err
	}
	s.query = query
	s.topics = topics
	s.posts = posts
	return nil
}

func (s *SearchAggregator) run(ctx context.Context, query string) ([]Topic, []Post, error) {
	var (
		topics []Topic
		posts  []Post
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rows, err := s.gateway.SearchTopics(gctx, query, s.topicLimit)
		if err != nil {
			return gatewayErr("search topics", err)
		}
		topics = rows
		return nil
	})
	g.Go(func() error {
		rows, err := s.gateway.SearchPosts(gctx, query, s.postLimit)
		if err != nil {
			return gatewayErr("search posts", err)
		}
		posts = rows
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	posts, err := s.agg.EnrichPosts(ctx, s.actors.Resolve(ctx), posts)
	if err != nil {
		return nil, nil, err
	}
	if topics == nil {
		topics = []Topic{}
	}
	return topics, posts, nil
}
