package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/eleflea/sense-voice-recognizer/audio"
	"github.com/eleflea/sense-voice-recognizer/config"
	"github.com/eleflea/sense-voice-recognizer/handler"
	"github.com/eleflea/sense-voice-recognizer/logger"
	"github.com/eleflea/sense-voice-recognizer/metrics"
	"github.com/eleflea/sense-voice-recognizer/recognizer"
	"github.com/eleflea/sense-voice-recognizer/store"
	"github.com/eleflea/sense-voice-recognizer/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	log := logger.Setup(cfg.Log.Level, cfg.Log.Format)
	if logger.ParseLevel(cfg.Log.Level) > slog.LevelDebug {
		gin.SetMode(gin.ReleaseMode)
	}

	rec, err := recognizer.NewSenseVoice(recognizer.Config{
		Weights:    cfg.Model.Weights,
		Tokens:     cfg.Model.Tokens,
		Language:   cfg.Model.Language,
		UseITN:     cfg.Model.UseITN,
		NumThreads: cfg.Model.NumThreads,
		Provider:   cfg.Model.Provider,
		SampleRate: cfg.Audio.ResampleRate,
	}, log)
	if err != nil {
		log.Error("model load failed", "error", err)
		os.Exit(1)
	}

	ctx, stopJanitor := context.WithCancel(context.Background())
	defer stopJanitor()

	jobStore, err := openStore(ctx, cfg.Store, log)
	if err != nil {
		log.Error("job store unavailable", "error", err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(reg)

	tasks := worker.NewTaskManager(rec.Recognize,
		worker.WithRecorder(jobStore),
		worker.WithObserver(collector),
		worker.WithLogger(log),
	)
	collector.WatchQueue(tasks.QueueSize)
	tasks.Start() // single inference worker

	asr := handler.NewASRHandler(tasks, audio.NewDecoder(cfg.Audio.FFmpegPath), collector, handler.ASRConfig{
		MaxQueueCapacity:  cfg.Queue.MaxCapacity,
		MaxProcessingTime: cfg.Queue.MaxProcessingTime,
		ResampleRate:      cfg.Audio.ResampleRate,
		StrictAdmission:   cfg.Queue.StrictAdmission,
		MaxUploadBytes:    cfg.Web.MaxUploadBytes,
	}, log)

	routerCfg := handler.RouterConfig{
		BearerToken:    cfg.Auth.BearerToken,
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		Metrics:        collector,
		Logger:         log,
	}
	if cfg.RateLimit.Enabled() {
		routerCfg.Limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit.RequestsPerSecond), cfg.RateLimit.Burst)
	}
	if cfg.Auth.BearerToken == "" {
		log.Warn("BEARER_TOKEN not set, authentication disabled")
	}
	router := handler.NewRouter(asr, handler.NewJobHandler(jobStore), routerCfg)

	srv := &http.Server{
		Addr:    cfg.Web.Addr(),
		Handler: router,
	}

	go func() {
		log.Info("server started", "addr", srv.Addr,
			"max_queue_capacity", cfg.Queue.MaxCapacity,
			"max_processing_time", cfg.Queue.MaxProcessingTime,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("listen failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	log.Info("shutdown signal received", "signal", sig.String())

	// Stop accepting new requests
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown failed", "error", err)
	}

	// Abandons queued jobs and waits for the running one.
	tasks.Shutdown()
	rec.Close()

	stopJanitor()
	if err := jobStore.Close(); err != nil {
		log.Warn("job store close failed", "error", err)
	}

	log.Info("server exited properly")
}

func openStore(ctx context.Context, cfg config.StoreConfig, log *slog.Logger) (store.JobStore, error) {
	if cfg.RedisAddr == "" {
		log.Info("REDIS_ADDR not set, using in-memory job store", "retention", cfg.Retention)
		mem := store.NewMemoryStore(cfg.Retention)
		mem.StartJanitor(ctx, time.Minute)
		return mem, nil
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	rs, err := store.NewRedisStore(pingCtx, store.RedisOptions{
		Addr:      cfg.RedisAddr,
		Password:  cfg.RedisPassword,
		DB:        cfg.RedisDB,
		Retention: cfg.Retention,
	})
	if err != nil {
		return nil, err
	}
	log.Info("using redis job store", "addr", cfg.RedisAddr, "retention", cfg.Retention)
	return rs, nil
}
