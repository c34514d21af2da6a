package api

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// RequestIDHeader carries the request id in both directions
	RequestIDHeader = "X-Request-ID"
	// SessionHeader selects the client session
	SessionHeader = "X-Session-ID"

	requestIDKey = "request_id"
)

// RequestIDMiddleware tags every request with an id, reusing the caller's
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// RequestID returns the id assigned by RequestIDMiddleware
func RequestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

// CORSMiddleware allows the configured origins. A "*" entry allows any origin.
func CORSMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", RequestIDHeader, SessionHeader},
		ExposeHeaders:    []string{"Content-Length", RequestIDHeader, SessionHeader},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}
	allowAll := len(origins) == 0
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
	}
	if allowAll {
		cfg.AllowOriginFunc = func(string) bool { return true }
	} else {
		cfg.AllowOrigins = origins
	}
	return cors.New(cfg)
}
