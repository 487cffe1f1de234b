package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

type RouterConfig struct {
	BearerToken string
	// Limiter is optional; nil disables rate limiting.
	Limiter *rate.Limiter
	// MetricsHandler serves GET /metrics when set.
	MetricsHandler http.Handler
	Metrics        Metrics
	Logger         *slog.Logger
}

// NewRouter wires the routes. Only /health skips authentication, and
// /metrics is not rate limited.
func NewRouter(asr *ASRHandler, jobs *JobHandler, cfg RouterConfig) *gin.Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(logger))

	r.GET("/health", asr.Health)

	auth := BearerAuth(cfg.BearerToken)
	if cfg.MetricsHandler != nil {
		r.GET("/metrics", auth, gin.WrapH(cfg.MetricsHandler))
	}

	api := r.Group("/")
	api.Use(auth)
	if cfg.Limiter != nil {
		api.Use(RateLimit(cfg.Limiter, cfg.Metrics))
	}
	api.POST("/asr", asr.Recognize)
	api.GET("/jobs", jobs.ListJobs)
	api.GET("/jobs/:id", jobs.GetJob)

	return r
}
