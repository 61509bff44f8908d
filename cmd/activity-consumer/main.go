// Package main provides the activity consumer entry point. It reads record
// events from Redpanda and stores them in the activity log.
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/avishifo/records/internal/activity"
	"github.com/avishifo/records/internal/config"
	"github.com/avishifo/records/internal/domain/events"
	"github.com/avishifo/records/internal/infrastructure/postgres"
	"github.com/avishifo/records/internal/infrastructure/redpanda"
	"github.com/avishifo/records/internal/observability/logging"
	"github.com/avishifo/records/internal/observability/metrics"
	"github.com/avishifo/records/internal/observability/tracing"
	"github.com/avishifo/records/pkg/workerpool"
)

const serviceName = "activity-consumer"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, serviceName)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if !cfg.HasDatabase() {
		logger.Fatal("DATABASE_URL is required")
	}

	ctx := context.Background()

	shutdownTracing, err := tracing.Init(ctx, tracing.Config{
		Service:     serviceName,
		Environment: cfg.Env,
		Endpoint:    cfg.OTLPEndpoint,
		SampleRate:  cfg.TraceSampleRate,
	})
	if err != nil {
		logger.Fatal("tracing init failed", zap.Error(err))
	}
	defer shutdownTracing(context.Background())

	// Connect to database
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		logger.Fatal("database ping failed", zap.Error(err))
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	// Create worker pool
	poolCfg := workerpool.DefaultConfig()
	poolCfg.Workers = cfg.Workers
	poolCfg.QueueSize = cfg.WorkerQueue

	workers, err := workerpool.New(poolCfg, activity.Apply(postgres.NewActivityLog(pool), logger), logger)
	if err != nil {
		logger.Fatal("worker pool creation failed", zap.Error(err))
	}
	workers.Start()

	// Create consumer
	consumerCfg := redpanda.DefaultConsumerConfig()
	consumerCfg.Brokers = cfg.KafkaBrokers
	consumerCfg.GroupID = cfg.ConsumerGroup

	consumer, err := redpanda.NewConsumer(consumerCfg, activity.Handler(workers, logger), m, logger)
	if err != nil {
		logger.Fatal("consumer creation failed", zap.Error(err))
	}
	consumer.Start()
	logger.Info("activity consumer started",
		zap.Strings("topics", consumerCfg.Topics),
		zap.String("group", consumerCfg.GroupID),
		zap.Int("workers", poolCfg.Workers))

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      adminRouter(pool, workers, consumer, reg),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("admin server error", zap.Error(err))
		}
	}()

	// Wait for shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	if err := consumer.Stop(); err != nil {
		logger.Error("consumer stop failed", zap.Error(err))
	}
	if err := workers.Stop(); err != nil {
		logger.Error("worker pool stop failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	server.Shutdown(shutdownCtx)

	stats := workers.Stats()
	logger.Info("activity consumer stopped",
		zap.Int64("completed", stats.Completed),
		zap.Int64("failed", stats.Failed))
}

// adminRouter serves health, pipeline stats and metrics
func adminRouter(pool *pgxpool.Pool, workers *workerpool.Pool[*events.Event], consumer *redpanda.Consumer, reg *prometheus.Registry) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy","service":"activity-consumer"}`))
	})
	r.Get("/ready", func(w http.ResponseWriter, req *http.Request) {
		if workers.Saturated() {
			http.Error(w, "worker pool saturated", http.StatusServiceUnavailable)
			return
		}
		if err := pool.Ping(req.Context()); err != nil {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ready"))
	})
	r.Get("/stats", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"pool":     workers.Stats(),
			"consumer": consumer.Stats(),
		})
	})
	r.Handle("/metrics", metrics.Handler(reg))
	return r
}
