package api

import (
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/pulseboard/pulse/internal/auth"
	"github.com/pulseboard/pulse/internal/feed"
	"github.com/pulseboard/pulse/pkg/logging"
)

// SessionFactory builds a fresh feed session
type SessionFactory func() *feed.Session

// SessionManager keeps one feed session per client. A signed-in client is
// keyed by actor, and a session header only splits that actor's sessions
// further. Anonymous clients are keyed by the session header; without one
// they get a throwaway session per request.
type SessionManager struct {
	mu       sync.Mutex
	sessions *expirable.LRU[string, *feed.Session]
	factory  SessionFactory
	logger   *zap.Logger
}

// NewSessionManager creates a manager holding at most size sessions, each
// dropped after ttl without use.
func NewSessionManager(factory SessionFactory, size int, ttl time.Duration) *SessionManager {
	logger := logging.WithComponent("sessions")
	if size <= 0 {
		size = 1
	}
	onEvict := func(key string, _ *feed.Session) {
		logger.Debug("Session evicted", zap.String("session", key))
	}
	return &SessionManager{
		sessions: expirable.NewLRU[string, *feed.Session](size, onEvict, ttl),
		factory:  factory,
		logger:   logger,
	}
}

// sessionKey identifies the client behind a request, or "" when it cannot.
// A session header never reaches another actor's session.
func sessionKey(c *gin.Context) string {
	id := c.GetHeader(SessionHeader)
	if actor, ok := auth.ActorFromContext(c.Request.Context()); ok {
		if id != "" {
			return "actor:" + string(actor) + ":session:" + id
		}
		return "actor:" + string(actor)
	}
	if id != "" {
		return "session:" + id
	}
	return ""
}

// For returns the session of the client behind c
func (m *SessionManager) For(c *gin.Context) *feed.Session {
	key := sessionKey(c)
	if key == "" {
		return m.factory()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions.Get(key); ok {
		return s
	}
	s := m.factory()
	m.sessions.Add(key, s)
	return s
}

// Len returns the number of live sessions
func (m *SessionManager) Len() int {
	return m.sessions.Len()
}
