package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/chessmate/chessmate/internal/config"
	"github.com/chessmate/chessmate/internal/db"
	"github.com/chessmate/chessmate/internal/embeddings"
	"github.com/chessmate/chessmate/internal/health"
	"github.com/chessmate/chessmate/internal/vectordb"
	"github.com/chessmate/chessmate/internal/worker"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Configuration invalid", zap.Error(err))
	}
	if cfg.OpenAIAPIKey == "" {
		logger.Fatal("CHESSMATE_OPENAI_API_KEY is required for the embedding worker")
	}

	store, err := db.NewStore(db.Config{
		Host:            cfg.Postgres.Host,
		Port:            cfg.Postgres.Port,
		User:            cfg.Postgres.User,
		Password:        cfg.Postgres.Password,
		Database:        cfg.Postgres.Database,
		SSLMode:         cfg.Postgres.SSLMode,
		MaxConnections:  cfg.Postgres.MaxConnections,
		IdleConnections: cfg.Postgres.IdleConnections,
	}, logger)
	if err != nil {
		logger.Fatal("Database unavailable", zap.Error(err))
	}
	defer store.Close()

	vector := vectordb.New(vectordb.Config{
		URL:        cfg.QdrantURL,
		Collection: cfg.QdrantCollection,
		Timeout:    30 * time.Second,
	}, logger)

	embedder := embeddings.New(embeddings.Config{
		BaseURL: cfg.OpenAIBaseURL,
		APIKey:  cfg.OpenAIAPIKey,
		Model:   cfg.Embedding.Model,
	}, logger)

	w := worker.New(store, embedder, vector, worker.Config{
		BatchSize:   cfg.Worker.BatchSize,
		OrphanGrace: cfg.Worker.OrphanGrace,
		ChunkSize:   cfg.Embedding.ChunkSize,
		MaxChars:    cfg.Embedding.MaxChars,
		MetricsPath: cfg.Worker.MetricsPath,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Health and metrics live on their own port so the worker can be
	// scraped and probed like the API.
	manager := health.NewManager(logger, 3*time.Second,
		&health.PostgresProbe{Store: store},
		&health.QdrantProbe{Client: vector},
		&health.OpenAIProbe{APIKey: cfg.OpenAIAPIKey, Model: cfg.Embedding.Model},
	)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(rw http.ResponseWriter, r *http.Request) {
		report := manager.Run(r.Context())
		status := http.StatusOK
		if report.Status != health.StatusOK {
			status = http.StatusServiceUnavailable
		}
		rw.WriteHeader(status)
		fmt.Fprintln(rw, report.Status)
	})
	mux.Handle("GET /metrics", promhttp.Handler())

	healthServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Worker.HealthPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Health server failed", zap.Error(err))
		}
	}()

	logger.Info("Embedding worker started",
		zap.Int("batch_size", cfg.Worker.BatchSize),
		zap.Int("health_port", cfg.Worker.HealthPort),
	)
	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Worker stopped", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	healthServer.Shutdown(shutdownCtx)
	logger.Info("Worker shut down")
}
