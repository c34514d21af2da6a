// Package ranker periodically refreshes topic counters and trend direction
package ranker

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/pulseboard/pulse/internal/models"
	"github.com/pulseboard/pulse/pkg/config"
	"github.com/pulseboard/pulse/pkg/logging"
	"github.com/pulseboard/pulse/pkg/telemetry"
)

const (
	defaultInterval = time.Minute
	defaultWindow   = 30 * time.Minute
)

// Repository is the storage the ranker reads activity from and writes
// statistics to
type Repository interface {
	Activity(ctx context.Context, window time.Duration, now time.Time) ([]models.TopicActivity, error)
	UpdateStats(ctx context.Context, topicID, posts, participants int64, trend string) error
}

// Ranker recomputes topic posts, participants and trend on an interval
type Ranker struct {
	repo     Repository
	interval time.Duration
	window   time.Duration
	now      func() time.Time
	logger   *zap.Logger
	updated  metric.Int64Counter
}

// New creates a ranker
func New(repo Repository, cfg *config.RankerConfig) *Ranker {
	r := &Ranker{
		repo:     repo,
		interval: cfg.Interval,
		window:   cfg.Window,
		now:      time.Now,
		logger:   logging.WithComponent("ranker"),
		updated:  telemetry.Counter("pulse.ranker.topics_updated", "Topics whose statistics were rewritten"),
	}
	if r.interval <= 0 {
		r.interval = defaultInterval
	}
	if r.window <= 0 {
		r.window = defaultWindow
	}
	return r
}

// TrendFor compares post volume of the current window with the previous one
func TrendFor(current, previous int64) string {
	switch {
	case current > previous:
		return models.TrendUp
	case current < previous:
		return models.TrendDown
	default:
		return models.TrendSame
	}
}

// Run ranks until ctx is cancelled. A failed pass is logged and retried on
// the next tick.
func (r *Ranker) Run(ctx context.Context) error {
	r.logger.Info("Starting ranker",
		zap.Duration("interval", r.interval),
		zap.Duration("window", r.window))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			n, err := r.RankOnce(ctx)
			if err != nil {
				r.logger.Error("Rank pass failed", zap.Error(err))
			} else {
				r.logger.Debug("Rank pass complete", zap.Int("topics", n))
			}
			r.wait(ctx)
		}
	}
}

// RankOnce runs a single pass and returns the number of topics updated
func (r *Ranker) RankOnce(ctx context.Context) (updated int, err error) {
	ctx, span := telemetry.StartSpan(ctx, "ranker.rank_once")
	defer func() {
		telemetry.EndSpan(span, err, attribute.Int("topics", updated))
	}()

	rows, err := r.repo.Activity(ctx, r.window, r.now())
	if err != nil {
		return 0, fmt.Errorf("failed to load topic activity: %w", err)
	}

	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return updated, err
		}
		trend := TrendFor(row.CurrentWindow, row.PreviousWindow)
		if err := r.repo.UpdateStats(ctx, row.TopicID, row.TotalPosts, row.Participants, trend); err != nil {
			return updated, fmt.Errorf("failed to update topic %d: %w", row.TopicID, err)
		}
		updated++
	}

	if updated > 0 {
		r.updated.Add(ctx, int64(updated))
	}
	return updated, nil
}

// wait waits for the interval or until context is cancelled
func (r *Ranker) wait(ctx context.Context) {
	timer := time.NewTimer(r.interval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
