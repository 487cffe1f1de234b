package handler

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const msgForbidden = "Forbidden: Invalid or missing Bearer token"

// BearerAuth rejects requests whose Authorization header does not carry the
// configured token. An empty token disables the check.
func BearerAuth(token string) gin.HandlerFunc {
	expected := []byte("Bearer " + token)
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}
		got := []byte(strings.TrimSpace(c.GetHeader("Authorization")))
		if subtle.ConstantTimeCompare(got, expected) != 1 {
			c.String(http.StatusForbidden, msgForbidden)
			c.Abort()
			return
		}
		c.Next()
	}
}

// RateLimit applies a process-wide token bucket.
func RateLimit(limiter *rate.Limiter, metrics Metrics) gin.HandlerFunc {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return func(c *gin.Context) {
		if !limiter.Allow() {
			metrics.RequestRejected("rate_limit")
			c.String(http.StatusTooManyRequests, "Rate limit exceeded")
			c.Abort()
			return
		}
		c.Next()
	}
}

func RequestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		level := slog.LevelInfo
		if status >= http.StatusInternalServerError {
			level = slog.LevelError
		} else if status >= http.StatusBadRequest {
			level = slog.LevelWarn
		}
		logger.Log(c.Request.Context(), level, "request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", status,
			"latency", time.Since(start),
			"client_ip", c.ClientIP(),
		)
	}
}
