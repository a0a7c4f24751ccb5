// Package db implements the relational store: games, positions and the
// embedding job queue, backed by Postgres.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/chessmate/chessmate/internal/metrics"
)

// Config holds database configuration.
type Config struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxConnections  int
	IdleConnections int
	MaxLifetime     time.Duration
}

// Store manages the connection pool and all relational operations.
type Store struct {
	db        *sqlx.DB
	logger    *zap.Logger
	startedAt time.Time
}

// NewStore opens the pool and verifies connectivity.
func NewStore(config Config, logger *zap.Logger) (*Store, error) {
	if config.MaxConnections == 0 {
		config.MaxConnections = 25
	}
	if config.IdleConnections == 0 {
		config.IdleConnections = 5
	}
	if config.MaxLifetime == 0 {
		config.MaxLifetime = 5 * time.Minute
	}
	if config.SSLMode == "" {
		config.SSLMode = "disable"
	}

	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.Database, config.SSLMode,
	)

	pool, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	pool.SetMaxOpenConns(config.MaxConnections)
	pool.SetMaxIdleConns(config.IdleConnections)
	pool.SetConnMaxLifetime(config.MaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pool.PingContext(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	logger.Info("Database store initialized",
		zap.String("host", config.Host),
		zap.String("database", config.Database),
		zap.Int("max_connections", config.MaxConnections),
	)

	return &Store{db: pool, logger: logger, startedAt: time.Now()}, nil
}

// NewStoreFromDB wraps an existing pool; used by tests with sqlmock.
func NewStoreFromDB(pool *sqlx.DB, logger *zap.Logger) *Store {
	return &Store{db: pool, logger: logger, startedAt: time.Now()}
}

// Close releases the pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies connectivity; used by the health probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// PoolSnapshot reports pool capacity and pressure, and publishes the
// pool gauges as a side effect.
func (s *Store) PoolSnapshot() PoolStats {
	st := s.db.Stats()
	uptime := time.Since(s.startedAt).Seconds()
	ratio := 0.0
	if uptime > 0 {
		ratio = st.WaitDuration.Seconds() / uptime
	}
	ps := PoolStats{
		Capacity:  st.MaxOpenConnections,
		InUse:     st.InUse,
		Available: st.Idle,
		Waiting:   st.WaitCount,
		WaitRatio: ratio,
	}
	metrics.SetPoolStats(ps.Capacity, ps.InUse, ps.Available, ps.Waiting, ps.WaitRatio)
	return ps
}
