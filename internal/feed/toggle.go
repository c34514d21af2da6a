package feed

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/pulseboard/pulse/pkg/logging"
	"github.com/pulseboard/pulse/pkg/telemetry"
)

// Toggler flips the actor's like on a post or comment. It never touches a
// cached list; patching the affected record is the caller's job.
type Toggler struct {
	gateway LikeGateway
	actors  *ActorResolver
	logger  *zap.Logger
	latency metric.Float64Histogram
}

// NewToggler creates a toggler over gateway
func NewToggler(gateway LikeGateway, actors *ActorResolver, logger *zap.Logger) *Toggler {
	if logger == nil {
		logger = logging.WithComponent("toggler")
	}
	return &Toggler{
		gateway: gateway,
		actors:  actors,
		logger:  logger,
		latency: telemetry.Histogram("pulse.feed.toggle.duration", "Latency of like toggles"),
	}
}

// Toggle resolves the current actor and toggles its like on the target
func (t *Toggler) Toggle(ctx context.Context, kind TargetKind, targetID int64) (ToggleResult, error) {
	actor, err := t.actors.Require(ctx)
	if err != nil {
		return ToggleResult{}, err
	}
	return t.ToggleAs(ctx, actor, kind, targetID)
}

// ToggleAs toggles actor's like on the target. When the gateway implements
// AtomicToggler the count and membership come from a single call; otherwise
// membership is re-read after the toggle, and a concurrent toggle by the same
// actor may land between the two calls.
func (t *Toggler) ToggleAs(ctx context.Context, actor ActorID, kind TargetKind, targetID int64) (res ToggleResult, err error) {
	if actor == Anonymous {
		return ToggleResult{}, ErrUnauthenticated
	}
	if !kind.Valid() {
		return ToggleResult{}, ErrInvalidTarget
	}

	ctx, span := telemetry.StartSpan(ctx, "feed.toggle_like")
	start := time.Now()
	defer func() {
		attrs := []attribute.KeyValue{attribute.String("target", string(kind)), attribute.Int64("target_id", targetID)}
		t.latency.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attrs...))
		telemetry.EndSpan(span, err, append(attrs, attribute.Bool("liked", res.IsLiked))...)
	}()

	if atomic, ok := t.gateway.(AtomicToggler); ok {
		res, err = atomic.ToggleLikeState(ctx, kind, targetID, actor)
		if err != nil {
			return ToggleResult{}, gatewayErr("toggle like", err)
		}
		return res, nil
	}

	switch kind {
	case TargetPost:
		res.Count, err = t.gateway.ToggleLike(ctx, targetID, actor)
		if err != nil {
			return ToggleResult{}, gatewayErr("toggle post like", err)
		}
		res.IsLiked, err = t.gateway.HasLikedPost(ctx, actor, targetID)
		if err != nil {
			return ToggleResult{}, gatewayErr("check post like", err)
		}
	case TargetComment:
		res.Count, err = t.gateway.ToggleCommentLike(ctx, targetID, actor)
		if err != nil {
			return ToggleResult{}, gatewayErr("toggle comment like", err)
		}
		res.IsLiked, err = t.gateway.HasLikedComment(ctx, actor, targetID)
		if err != nil {
			return ToggleResult{}, gatewayErr("check comment like", err)
		}
	}

	t.logger.Debug("Like toggled",
		zap.String("target", string(kind)),
		zap.Int64("target_id", targetID),
		logging.Actor(string(actor)),
		zap.Int64("likes_count", res.Count),
		zap.Bool("is_liked", res.IsLiked))
	return res, nil
}
