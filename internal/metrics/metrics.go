// Package metrics holds the process-wide Prometheus series for the API
// service and the embedding worker.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/chessmate/chessmate/internal/circuitbreaker"
)

var (
	// API metrics
	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_request_total",
			Help: "Total number of API requests",
		},
		[]string{"route"},
	)

	APIRequestErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_request_errors_total",
			Help: "Total number of API requests that returned an error status",
		},
		[]string{"route"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	RateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "api_rate_limited_total",
			Help: "Total number of requests rejected by the request-count bucket",
		},
	)

	RateLimitedBody = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "api_rate_limited_body_total",
			Help: "Total number of requests rejected by the body-byte bucket",
		},
	)

	RateLimiterClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "api_rate_limiter_clients",
			Help: "Number of client buckets currently tracked by the rate limiter",
		},
	)

	// DB pool metrics
	DBPoolCapacity = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_pool_capacity",
			Help: "Maximum number of open database connections",
		},
	)

	DBPoolInUse = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_pool_in_use",
			Help: "Database connections currently in use",
		},
	)

	DBPoolAvailable = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_pool_available",
			Help: "Idle database connections available for reuse",
		},
	)

	DBPoolWaiting = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_pool_waiting",
			Help: "Cumulative count of connection acquisitions that had to wait",
		},
	)

	DBPoolWaitRatio = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_pool_wait_ratio",
			Help: "Fraction of process lifetime spent waiting for a connection",
		},
	)

	// Agent metrics
	AgentCache = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_cache_total",
			Help: "Agent evaluation cache lookups by state",
		},
		[]string{"state"},
	)

	AgentEvaluations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_evaluations_total",
			Help: "Agent evaluation calls by outcome",
		},
		[]string{"outcome"},
	)

	AgentEvaluationLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "agent_evaluation_latency_seconds",
			Help:    "Agent evaluation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	AgentBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "agent_circuit_breaker_state",
			Help: "Agent circuit breaker state (0=closed, 1=open, 2=half_open)",
		},
	)

	// Vector search metrics
	VectorSearches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vector_search_total",
			Help: "Total number of vector searches",
		},
		[]string{"status"},
	)

	VectorSearchLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vector_search_latency_seconds",
			Help:    "Vector search latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Embedding metrics
	EmbeddingRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "embedding_requests_total",
			Help: "Total number of embedding service requests",
		},
		[]string{"model", "status"},
	)

	EmbeddingLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "embedding_latency_seconds",
			Help:    "Embedding request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"model"},
	)

	// Worker metrics
	WorkerProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "embedding_worker_processed_total",
			Help: "Embedding jobs completed by the worker",
		},
	)

	WorkerFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "embedding_worker_failed_total",
			Help: "Embedding jobs marked failed by the worker",
		},
	)

	WorkerQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "embedding_worker_queue_depth",
			Help: "Pending embedding jobs",
		},
	)

	WorkerJobsPerMinute = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "embedding_worker_jobs_per_minute",
			Help: "Jobs completed per minute over a 60s sliding window",
		},
	)

	WorkerCharsPerSecond = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "embedding_worker_chars_per_second",
			Help: "FEN characters embedded per second over a 60s sliding window",
		},
	)

	// Ingest metrics
	IngestGames = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ingest_games_total",
			Help: "Games ingested from PGN input",
		},
	)

	IngestPositions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ingest_positions_total",
			Help: "Positions stored during ingestion",
		},
	)
)

// RecordAPIRequest records a completed API request for a route.
func RecordAPIRequest(route string, status int, durationSeconds float64) {
	APIRequests.WithLabelValues(route).Inc()
	APIRequestDuration.WithLabelValues(route).Observe(durationSeconds)
	if status >= 400 {
		APIRequestErrors.WithLabelValues(route).Inc()
	}
}

// RecordVectorSearch records a vector search outcome.
func RecordVectorSearch(status string, durationSeconds float64) {
	VectorSearches.WithLabelValues(status).Inc()
	if durationSeconds > 0 {
		VectorSearchLatency.Observe(durationSeconds)
	}
}

// RecordEmbedding records an embedding service call.
func RecordEmbedding(model, status string, durationSeconds float64) {
	EmbeddingRequests.WithLabelValues(model, status).Inc()
	if durationSeconds > 0 {
		EmbeddingLatency.WithLabelValues(model).Observe(durationSeconds)
	}
}

// RecordAgentEvaluation records an agent call outcome.
func RecordAgentEvaluation(outcome string, durationSeconds float64) {
	AgentEvaluations.WithLabelValues(outcome).Inc()
	if durationSeconds > 0 {
		AgentEvaluationLatency.Observe(durationSeconds)
	}
}

// SetBreakerState publishes the breaker state gauge.
func SetBreakerState(s circuitbreaker.State) {
	var v float64
	switch s {
	case circuitbreaker.StateOpen:
		v = 1
	case circuitbreaker.StateHalfOpen:
		v = 2
	}
	AgentBreakerState.Set(v)
}

// SetPoolStats publishes database pool gauges.
func SetPoolStats(capacity, inUse, available int, waiting int64, waitRatio float64) {
	DBPoolCapacity.Set(float64(capacity))
	DBPoolInUse.Set(float64(inUse))
	DBPoolAvailable.Set(float64(available))
	DBPoolWaiting.Set(float64(waiting))
	DBPoolWaitRatio.Set(waitRatio)
}
