package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/pulseboard/pulse/internal/cache"
	"github.com/pulseboard/pulse/pkg/logging"
)

// HealthChecker reports whether a backing service is reachable
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Router sets up API routes
type Router struct {
	handler  *JSONRPCHandler
	sessions *SessionManager
	db       HealthChecker
	cache    HealthChecker
	logger   *zap.Logger
}

// NewRouter creates a new API router
func NewRouter(sessions *SessionManager, database HealthChecker, redisCache HealthChecker) *Router {
	router := &Router{
		handler:  NewJSONRPCHandler(),
		sessions: sessions,
		db:       database,
		cache:    redisCache,
		logger:   logging.WithComponent("api-router"),
	}

	router.registerMethods()

	return router
}

// SetupRoutes sets up all API routes
func (r *Router) SetupRoutes(engine *gin.Engine) {
	engine.GET("/health", r.healthHandler)
	engine.GET("/.well-known/healthcheck.json", r.healthHandler)

	engine.POST("/", r.handler.Handle)
}

// registerMethods registers all API methods
func (r *Router) registerMethods() {
	feedAPI := NewFeedAPI(r.sessions)

	r.handler.RegisterMethod("pulse.list_trending", feedAPI.ListTrending)
	r.handler.RegisterMethod("pulse.create_topic", feedAPI.CreateTopic)
	r.handler.RegisterMethod("pulse.get_topic", feedAPI.GetTopic)

	r.handler.RegisterMethod("pulse.load_posts", feedAPI.LoadPosts)
	r.handler.RegisterMethod("pulse.create_post", feedAPI.CreatePost)
	r.handler.RegisterMethod("pulse.load_comments", feedAPI.LoadComments)
	r.handler.RegisterMethod("pulse.create_comment", feedAPI.CreateComment)
	r.handler.RegisterMethod("pulse.toggle_like", feedAPI.ToggleLike)

	r.handler.RegisterMethod("pulse.search", feedAPI.Search)
	r.handler.RegisterMethod("pulse.clear_search", feedAPI.ClearSearch)

	r.logger.Debug("JSON-RPC methods registered", zap.Strings("methods", r.handler.Methods()))
}

// healthHandler handles health check requests. The database is required; a
// disabled cache is not a failure.
func (r *Router) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	body := gin.H{
		"status":   "OK",
		"service":  "pulse-api",
		"database": "ok",
		"redis":    "ok",
	}

	if r.db == nil {
		status = http.StatusServiceUnavailable
		body["database"] = "not configured"
	} else if err := r.db.Health(ctx); err != nil {
		status = http.StatusServiceUnavailable
		body["database"] = err.Error()
	}

	if r.cache == nil {
		body["redis"] = "disabled"
	} else if err := r.cache.Health(ctx); err != nil {
		if errors.Is(err, cache.ErrCacheDisabled) {
			body["redis"] = "disabled"
		} else {
			body["redis"] = err.Error()
			body["status"] = "DEGRADED"
		}
	}

	if status != http.StatusOK {
		body["status"] = "UNAVAILABLE"
	}
	c.JSON(status, body)
}
