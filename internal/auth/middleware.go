package auth

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/pulseboard/pulse/internal/feed"
	"github.com/pulseboard/pulse/pkg/logging"
)

// ActorKey is the gin context key holding the resolved actor
const ActorKey = "actor"

type identityKey struct{}

type identity struct {
	actor feed.ActorID
	err   error
}

// WithActor returns a context carrying actor
func WithActor(ctx context.Context, actor feed.ActorID) context.Context {
	return context.WithValue(ctx, identityKey{}, identity{actor: actor})
}

// withIdentityError returns a context recording a failed token verification
func withIdentityError(ctx context.Context, err error) context.Context {
	return context.WithValue(ctx, identityKey{}, identity{err: err})
}

// ActorFromContext returns the actor stored by the middleware
func ActorFromContext(ctx context.Context) (feed.ActorID, bool) {
	id, ok := ctx.Value(identityKey{}).(identity)
	if !ok || id.err != nil || id.actor == feed.Anonymous {
		return feed.Anonymous, false
	}
	return id.actor, true
}

// ContextProvider is a feed.IdentityProvider reading the request context
type ContextProvider struct{}

// CurrentActor implements feed.IdentityProvider. A token that failed
// verification surfaces as an error; no token is the anonymous actor.
func (ContextProvider) CurrentActor(ctx context.Context) (feed.ActorID, error) {
	id, ok := ctx.Value(identityKey{}).(identity)
	if !ok {
		return feed.Anonymous, nil
	}
	return id.actor, id.err
}

// Middleware resolves the bearer token of every request. It never rejects a
// request: operations that need an actor fail on their own.
func Middleware(v *Verifier) gin.HandlerFunc {
	logger := logging.WithComponent("auth")
	if !v.Enabled() {
		logger.Warn("JWT secret not configured, every request is anonymous")
	}

	return func(c *gin.Context) {
		token := extractBearer(c.GetHeader("Authorization"))
		if token == "" {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		actor, err := v.Verify(token)
		if err != nil {
			logger.Debug("Token rejected", zap.Error(err))
			ctx = withIdentityError(ctx, err)
		} else {
			ctx = WithActor(ctx, actor)
			c.Set(ActorKey, actor)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func extractBearer(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

var _ feed.IdentityProvider = ContextProvider{}
