package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/chessmate/chessmate/internal/agent"
	"github.com/chessmate/chessmate/internal/circuitbreaker"
	"github.com/chessmate/chessmate/internal/config"
	"github.com/chessmate/chessmate/internal/db"
	"github.com/chessmate/chessmate/internal/embeddings"
	"github.com/chessmate/chessmate/internal/health"
	"github.com/chessmate/chessmate/internal/httpapi"
	"github.com/chessmate/chessmate/internal/intent"
	"github.com/chessmate/chessmate/internal/metrics"
	"github.com/chessmate/chessmate/internal/openings"
	"github.com/chessmate/chessmate/internal/query"
	"github.com/chessmate/chessmate/internal/ratelimit"
	"github.com/chessmate/chessmate/internal/vectordb"
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
	}, logger)

	embedder := embeddings.New(embeddings.Config{
		BaseURL: cfg.OpenAIBaseURL,
		APIKey:  cfg.OpenAIAPIKey,
		Model:   cfg.Embedding.Model,
	}, logger)

	deps := query.Deps{
		FetchGames: func(ctx context.Context, plan intent.Plan, limit, offset int) ([]db.GameRow, int, error) {
			lo, hi := plan.ECORange()
			return store.SearchGames(ctx, db.GameFilter{
				OpeningSlug:    plan.OpeningSlug(),
				ECOLo:          lo,
				ECOHi:          hi,
				Result:         plan.Result(),
				WhiteMinRating: plan.WhiteMinRating,
				BlackMinRating: plan.BlackMinRating,
				MaxRatingDelta: plan.MaxRatingDelta,
			}, limit, offset)
		},
		FetchVectorHits: func(ctx context.Context, plan intent.Plan, limit int) ([]vectordb.Hit, error) {
			vectors, err := embedder.EmbedBatch(ctx, []string{planText(plan)})
			if err != nil {
				return nil, err
			}
			if len(vectors) == 0 {
				return nil, errors.New("embedding service returned no vector")
			}
			return vector.SearchPositions(ctx, vectors[0], vectordb.SearchFilters{
				OpeningSlug: plan.OpeningSlug(),
				Phases:      plan.FilterValues("phase"),
				Themes:      plan.FilterValues("theme"),
			}, limit)
		},
		FetchPGNs: store.FetchPGNs,

		CacheTTL:            cfg.Agent.CacheTTL,
		AgentTimeout:        cfg.Agent.RequestTimeout,
		CandidateMultiplier: cfg.Agent.CandidateMultiplier,
		CandidateMax:        cfg.Agent.CandidateMax,
		Logger:              logger,
	}

	probes := []health.Probe{
		&health.PostgresProbe{Store: store},
		&health.QdrantProbe{Client: vector},
	}

	if cfg.OpenAIAPIKey != "" {
		deps.Agent = agent.NewEvaluator(agent.Config{
			APIKey:         cfg.OpenAIAPIKey,
			BaseURL:        cfg.OpenAIBaseURL,
			Model:          cfg.Agent.Model,
			RequestTimeout: cfg.Agent.RequestTimeout,
		}, logger)
		deps.Breaker = circuitbreaker.New("agent", circuitbreaker.Config{
			Threshold: cfg.Agent.BreakerThreshold,
			Cooloff:   cfg.Agent.BreakerCooloff,
			OnStateChange: func(_ string, _, to circuitbreaker.State) {
				metrics.SetBreakerState(to)
			},
		}, logger)
	}

	// The redis check is always present in /health; with no Redis it
	// reports skipped rather than disappearing.
	var cachePinger health.Pinger
	if cfg.RedisURL != "" {
		cache, err := agent.NewRedisCache(cfg.RedisURL, "")
		if err != nil {
			logger.Warn("Redis unavailable, using in-process evaluation cache", zap.Error(err))
			deps.Cache = agent.NewLocalLRU(0)
		} else {
			defer cache.Close()
			deps.Cache = cache
			cachePinger = cache
		}
	} else {
		deps.Cache = agent.NewLocalLRU(0)
	}
	probes = append(probes,
		&health.RedisProbe{Cache: cachePinger},
		&health.OpenAIProbe{APIKey: cfg.OpenAIAPIKey, Model: cfg.Agent.Model},
	)

	server := &httpapi.Server{
		Analyser: intent.NewAnalyser(openings.MustLoad()),
		Deps:     deps,
		Limiter: ratelimit.New(ratelimit.Config{
			RequestsPerMinute:  cfg.RateLimit.RequestsPerMinute,
			BucketSize:         cfg.RateLimit.BucketSize,
			BodyBytesPerMinute: cfg.RateLimit.BodyBytesPerMinute,
			BodyBucketSize:     cfg.RateLimit.BodyBucketSize,
		}, logger),
		Health:          health.NewManager(logger, 3*time.Second, probes...),
		OpenAPI:         httpapi.OpenAPISpec,
		MaxBodyBytes:    cfg.MaxRequestBodyBytes,
		RequestTimeout:  cfg.RequestTimeout,
		ReasoningEffort: cfg.Agent.ReasoningEffort,
		Logger:          logger,
	}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Query API listening", zap.Int("port", cfg.HTTPPort))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown incomplete", zap.Error(err))
	}
}

// planText renders a plan as the text embedded for vector search, so
// queries and their cached evaluations land near positions that share
// openings, phases and themes.
func planText(plan intent.Plan) string {
	var parts []string
	if slug := plan.OpeningSlug(); slug != "" {
		parts = append(parts, strings.ReplaceAll(slug, "_", " "))
	}
	parts = append(parts, plan.FilterValues("phase")...)
	parts = append(parts, plan.FilterValues("theme")...)
	parts = append(parts, plan.Keywords...)
	if len(parts) == 0 {
		parts = []string{"chess game"}
	}
	return strings.Join(parts, " ")
}
