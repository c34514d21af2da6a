package feed

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pulseboard/pulse/pkg/logging"
	"github.com/pulseboard/pulse/pkg/telemetry"
)

// DefaultMaxWorkers bounds the rows enriched concurrently when no limit is configured
const DefaultMaxWorkers = 16

// Aggregator attaches derived counters and the actor's membership to rows.
// Rows are enriched through a bounded pool and each row's sub-queries run
// concurrently. The first failure cancels everything still in flight.
type Aggregator struct {
	counts     Counter
	maxWorkers int
	logger     *zap.Logger
	subQueries metric.Int64Counter
}

// NewAggregator creates an aggregator over counts
func NewAggregator(counts Counter, maxWorkers int, logger *zap.Logger) *Aggregator {
	if maxWorkers <= 0 {
		maxWorkers = DefaultMaxWorkers
	}
	if logger == nil {
		logger = logging.WithComponent("aggregator")
	}
	return &Aggregator{
		counts:     counts,
		maxWorkers: maxWorkers,
		logger:     logger,
		subQueries: telemetry.Counter("pulse.feed.sub_queries", "Sub-queries issued while enriching rows"),
	}
}

// EnrichPosts returns a copy of posts with likes_count, comments_count and
// is_liked populated, in input order. Membership is only queried for a
// signed-in actor.
func (a *Aggregator) EnrichPosts(ctx context.Context, actor ActorID, posts []Post) (_ []Post, err error) {
	ctx, span := telemetry.StartSpan(ctx, "feed.enrich_posts")
	defer func() {
		telemetry.EndSpan(span, err, attribute.Int("rows", len(posts)), attribute.Bool("anonymous", actor == Anonymous))
	}()

	out := make([]Post, len(posts))
	copy(out, posts)

	err = a.fanOut(ctx, len(out), func(ctx context.Context, i int) error {
		p := &out[i]
		var (
			likes    int64
			comments int64
			liked    bool
		)
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			n, err := a.counts.CountPostLikes(gctx, p.ID)
			if err != nil {
				return gatewayErr("count post likes", err)
			}
			likes = n
			return nil
		})
		g.Go(func() error {
			n, err := a.counts.CountComments(gctx, p.ID)
			if err != nil {
				return gatewayErr("count comments", err)
			}
			comments = n
			return nil
		})
		issued := int64(2)
		if actor != Anonymous {
			issued++
			g.Go(func() error {
				ok, err := a.counts.HasLikedPost(gctx, actor, p.ID)
				if err != nil {
					return gatewayErr("check post like", err)
				}
				liked = ok
				return nil
			})
		}
		a.subQueries.Add(ctx, issued, metric.WithAttributes(attribute.String("target", string(TargetPost))))
		if err := g.Wait(); err != nil {
			return err
		}
		p.LikesCount = likes
		p.CommentsCount = comments
		p.IsLiked = liked
		return nil
	})
	if err != nil {
		a.logger.Debug("Post enrichment failed", zap.Int("rows", len(posts)), zap.Error(err))
		return nil, err
	}
	return out, nil
}

// EnrichComments returns a copy of comments with likes_count and is_liked
// populated, in input order. Replies attached to the input are not enriched;
// enrichment runs on the flat set before the tree is built.
func (a *Aggregator) EnrichComments(ctx context.Context, actor ActorID, comments []Comment) (_ []Comment, err error) {
	ctx, span := telemetry.StartSpan(ctx, "feed.enrich_comments")
	defer func() {
		telemetry.EndSpan(span, err, attribute.Int("rows", len(comments)), attribute.Bool("anonymous", actor == Anonymous))
	}()

	out := cloneComments(comments)
	if out == nil {
		out = []Comment{}
	}

	err = a.fanOut(ctx, len(out), func(ctx context.Context, i int) error {
		c := &out[i]
		var (
			likes int64
			liked bool
		)
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			n, err := a.counts.CountCommentLikes(gctx, c.ID)
			if err != nil {
				return gatewayErr("count comment likes", err)
			}
			likes = n
			return nil
		})
		issued := int64(1)
		if actor != Anonymous {
			issued++
			g.Go(func() error {
				ok, err := a.counts.HasLikedComment(gctx, actor, c.ID)
				if err != nil {
					return gatewayErr("check comment like", err)
				}
				liked = ok
				return nil
			})
		}
		a.subQueries.Add(ctx, issued, metric.WithAttributes(attribute.String("target", string(TargetComment))))
		if err := g.Wait(); err != nil {
			return err
		}
		c.LikesCount = likes
		c.IsLiked = liked
		return nil
	})
	if err != nil {
		a.logger.Debug("Comment enrichment failed", zap.Int("rows", len(comments)), zap.Error(err))
		return nil, err
	}
	return out, nil
}

// State reads the authoritative interaction state of a single target
func (a *Aggregator) State(ctx context.Context, actor ActorID, kind TargetKind, targetID int64) (ToggleResult, error) {
	var (
		res ToggleResult
		g   errgroup.Group
	)
	switch kind {
	case TargetPost:
		g.Go(func() error {
			n, err := a.counts.CountPostLikes(ctx, targetID)
			res.Count = n
			return gatewayErr("count post likes", err)
		})
		if actor != Anonymous {
			g.Go(func() error {
				ok, err := a.counts.HasLikedPost(ctx, actor, targetID)
				res.IsLiked = ok
				return gatewayErr("check post like", err)
			})
		}
	case TargetComment:
		g.Go(func() error {
			n, err := a.counts.CountCommentLikes(ctx, targetID)
			res.Count = n
			return gatewayErr("count comment likes", err)
		})
		if actor != Anonymous {
			g.Go(func() error {
				ok, err := a.counts.HasLikedComment(ctx, actor, targetID)
				res.IsLiked = ok
				return gatewayErr("check comment like", err)
			})
		}
	default:
		return ToggleResult{}, ErrInvalidTarget
	}
	if err := g.Wait(); err != nil {
		return ToggleResult{}, err
	}
	return res, nil
}

// fanOut runs fn for every index in [0, n) with at most maxWorkers in flight
func (a *Aggregator) fanOut(ctx context.Context, n int, fn func(ctx context.Context, i int) error) error {
	if n == 0 {
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.maxWorkers)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn(gctx, i)
		})
	}
	return g.Wait()
}
