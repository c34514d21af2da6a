package feed_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/pulseboard/pulse/internal/feed"
	"github.com/pulseboard/pulse/internal/feed/feedtest"
	"github.com/pulseboard/pulse/pkg/config"
)

func TestNewSessionWiresComponents(t *testing.T) {
	s := feed.NewSession(feed.Deps{Gateway: feedtest.New()})

	assert.NotNil(t, s.Actors)
	assert.NotNil(t, s.Aggregator)
	assert.NotNil(t, s.Toggler)
	assert.NotNil(t, s.Content)
	assert.NotNil(t, s.Topics)
	assert.NotNil(t, s.Search)
	assert.Empty(t, s.Content.Posts())
	assert.Empty(t, s.Topics.Topics())
	assert.False(t, s.Content.Loading())
}

func TestLimitsFromConfig(t *testing.T) {
	limits := feed.LimitsFromConfig(config.FeedConfig{
		TrendingWindow:   time.Hour,
		TrendingLimit:    5,
		SearchTopicLimit: 7,
		SearchPostLimit:  9,
		MaxWorkers:       3,
	})

	assert.Equal(t, feed.Limits{
		TrendingWindow:   time.Hour,
		TrendingLimit:    5,
		SearchTopicLimit: 7,
		SearchPostLimit:  9,
		MaxWorkers:       3,
	}, limits)
	assert.Equal(t, 30*time.Minute, feed.DefaultLimits().TrendingWindow)
}
