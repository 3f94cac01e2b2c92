// internal/api/middleware.go
package api

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/Corphon/AutoAnnotator/internal/utils"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	requestIDKey    = "request_id"
	requestIDHeader = "X-Request-ID"
)

// RateLimiter is a fixed window limiter keyed by client
type RateLimiter struct {
	visitors    map[string]*Visitor
	mu          sync.Mutex
	lastCleanup time.Time
	now         func() time.Time
}

// Visitor represents a client with rate limiting data
type Visitor struct {
	Limit     int
	Remaining int
	Reset     time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		visitors: make(map[string]*Visitor),
		now:      time.Now,
	}
}

// cleanup removes visitors whose window has expired; caller holds mu
func (rl *RateLimiter) cleanup(now time.Time) {
	if now.Sub(rl.lastCleanup) < time.Minute {
		return
	}
	rl.lastCleanup = now
	for key, visitor := range rl.visitors {
		if now.After(visitor.Reset) {
			delete(rl.visitors, key)
		}
	}
}

// Allow consumes one request for key and reports whether it fits the window.
// It also returns the state to expose in headers.
func (rl *RateLimiter) Allow(key string, limit int, window time.Duration) (bool, Visitor) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.cleanup(now)

	visitor, exists := rl.visitors[key]
	if !exists || now.After(visitor.Reset) {
		visitor = &Visitor{
			Limit:     limit,
			Remaining: limit - 1,
			Reset:     now.Add(window),
		}
		rl.visitors[key] = visitor
		return true, *visitor
	}

	if visitor.Remaining <= 0 {
		return false, *visitor
	}

	visitor.Remaining--
	return true, *visitor
}

// Middleware limits requests per key
func (rl *RateLimiter) Middleware(limit int, window time.Duration, keyFunc func(*gin.Context) string, rh *ResponseHelper) gin.HandlerFunc {
	return func(c *gin.Context) {
		allowed, v := rl.Allow(keyFunc(c), limit, window)

		c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", v.Limit))
		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", max(v.Remaining, 0)))
		c.Header("X-RateLimit-Reset", fmt.Sprintf("%d", v.Reset.Unix()))

		if !allowed {
			rh.Error(c, http.StatusTooManyRequests, ErrorRateLimitExceeded, "rate limit exceeded")
			c.Abort()
			return
		}
		c.Next()
	}
}

// ByIP limits requests per client IP
func (rl *RateLimiter) ByIP(limit int, window time.Duration, rh *ResponseHelper) gin.HandlerFunc {
	return rl.Middleware(limit, window, func(c *gin.Context) string {
		return c.ClientIP()
	}, rh)
}

// requestIDMiddleware propagates X-Request-ID or assigns a new UUID
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Set(requestIDKey, requestID)
		c.Header(requestIDHeader, requestID)
		c.Next()
	}
}

// accessLogMiddleware logs one line per request and records API metrics
func accessLogMiddleware(logger *utils.Logger, metrics *utils.MetricsCollector) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		duration := time.Since(start)

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		metrics.RecordAPIRequest(route, c.Request.Method, status, duration)

		fields := map[string]interface{}{
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"status":      status,
			"duration_ms": duration.Milliseconds(),
			"request_id":  c.GetString(requestIDKey),
		}
		if status >= http.StatusInternalServerError {
			logger.Error("request failed", fields)
		} else {
			logger.Debug("request", fields)
		}
	}
}

// corsMiddleware allows the review UI to be served from another origin
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "X-Request-ID")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
