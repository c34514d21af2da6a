package feed

import (
	"context"

	"go.uber.org/zap"

	"github.com/pulseboard/pulse/pkg/logging"
)

// IdentityProvider supplies the current actor
type IdentityProvider interface {
	CurrentActor(ctx context.Context) (ActorID, error)
}

// IdentityFunc adapts a function to IdentityProvider
type IdentityFunc func(ctx context.Context) (ActorID, error)

// CurrentActor implements IdentityProvider
func (f IdentityFunc) CurrentActor(ctx context.Context) (ActorID, error) {
	return f(ctx)
}

// StaticIdentity always resolves to the same actor
type StaticIdentity ActorID

// CurrentActor implements IdentityProvider
func (s StaticIdentity) CurrentActor(context.Context) (ActorID, error) {
	return ActorID(s), nil
}

// ActorResolver resolves the actor for a single operation
type ActorResolver struct {
	provider IdentityProvider
	logger   *zap.Logger
}

// NewActorResolver creates a resolver over provider. A nil provider resolves
// every call to the anonymous actor.
func NewActorResolver(provider IdentityProvider, logger *zap.Logger) *ActorResolver {
	if logger == nil {
		logger = logging.WithComponent("actor-resolver")
	}
	return &ActorResolver{provider: provider, logger: logger}
}

// Resolve returns the current actor. Provider failures resolve to Anonymous.
func (r *ActorResolver) Resolve(ctx context.Context) ActorID {
	if r.provider == nil {
		return Anonymous
	}
	actor, err := r.provider.CurrentActor(ctx)
	if err != nil {
		r.logger.Warn("Identity provider failed, continuing as anonymous", zap.Error(err))
		return Anonymous
	}
	return actor
}

// Require returns the current actor or ErrUnauthenticated
func (r *ActorResolver) Require(ctx context.Context) (ActorID, error) {
	actor := r.Resolve(ctx)
	if actor == Anonymous {
		return Anonymous, ErrUnauthenticated
	}
	return actor, nil
}
