package feed

import (
	"time"

	"go.uber.org/zap"

	"github.com/pulseboard/pulse/pkg/config"
	"github.com/pulseboard/pulse/pkg/logging"
)

// Limits bounds the queries a session issues
type Limits struct {
	TrendingWindow   time.Duration
	TrendingLimit    int
	SearchTopicLimit int
	SearchPostLimit  int
	MaxWorkers       int
}

// DefaultLimits returns the stock limits
func DefaultLimits() Limits {
	return Limits{
		TrendingWindow:   DefaultTrendingWindow,
		TrendingLimit:    DefaultTrendingLimit,
		SearchTopicLimit: DefaultSearchTopicLimit,
		SearchPostLimit:  DefaultSearchPostLimit,
		MaxWorkers:       DefaultMaxWorkers,
	}
}

// LimitsFromConfig converts the feed configuration section
func LimitsFromConfig(cfg config.FeedConfig) Limits {
	return Limits{
		TrendingWindow:   cfg.TrendingWindow,
		TrendingLimit:    cfg.TrendingLimit,
		SearchTopicLimit: cfg.SearchTopicLimit,
		SearchPostLimit:  cfg.SearchPostLimit,
		MaxWorkers:       cfg.MaxWorkers,
	}
}

// Deps are the collaborators a Session is built from
type Deps struct {
	Gateway  Gateway
	Identity IdentityProvider
	Logger   *zap.Logger
	Limits   Limits
}

// Session owns the stores of one client. Its components share a single
// aggregator, toggler and actor resolver.
type Session struct {
	Actors     *ActorResolver
	Aggregator *Aggregator
	Toggler    *Toggler
	Content    *ContentStore
	Topics     *TopicRegistry
	Search     *SearchAggregator
}

// NewSession wires a session from deps
func NewSession(deps Deps) *Session {
	logger := deps.Logger
	if logger == nil {
		logger = logging.GetLogger()
	}
	limits := deps.Limits
	if limits == (Limits{}) {
		limits = DefaultLimits()
	}

	actors := NewActorResolver(deps.Identity, logger.With(zap.String("component", "actor-resolver")))
	agg := NewAggregator(deps.Gateway, limits.MaxWorkers, logger.With(zap.String("component", "aggregator")))
	toggler := NewToggler(deps.Gateway, actors, logger.With(zap.String("component", "toggler")))

	return &Session{
		Actors:     actors,
		Aggregator: agg,
		Toggler:    toggler,
		Content:    NewContentStore(deps.Gateway, actors, agg, toggler, logger.With(zap.String("component", "content-store"))),
		Topics:     NewTopicRegistry(deps.Gateway, actors, limits.TrendingWindow, limits.TrendingLimit, logger.With(zap.String("component", "topic-registry"))),
		Search:     NewSearchAggregator(deps.Gateway, agg, actors, limits.SearchTopicLimit, limits.SearchPostLimit, logger.With(zap.String("component", "search"))),
	}
}
