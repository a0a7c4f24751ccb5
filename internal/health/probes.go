package health

import (
	"context"
	"time"

	"github.com/chessmate/chessmate/internal/db"
	"github.com/chessmate/chessmate/internal/sanitize"
	"github.com/chessmate/chessmate/internal/vectordb"
)

// PostgresProbe pings the relational store and reports pool pressure.
type PostgresProbe struct {
	Store *db.Store
}

func (p *PostgresProbe) Name() string   { return "postgres" }
func (p *PostgresProbe) Required() bool { return true }

func (p *PostgresProbe) Check(ctx context.Context) Check {
	start := time.Now()
	check := Check{Name: p.Name(), Required: true, Status: StatusOK}
	if err := p.Store.Ping(ctx); err != nil {
		check.Status = StatusError
		check.Error = sanitize.Error(err)
		check.LatencyMS = time.Since(start).Milliseconds()
		return check
	}
	stats := p.Store.PoolSnapshot()
	check.LatencyMS = time.Since(start).Milliseconds()
	check.Detail = map[string]interface{}{
		"pool_capacity":  stats.Capacity,
		"pool_in_use":    stats.InUse,
		"pool_available": stats.Available,
		"pool_waiting":   stats.Waiting,
	}
	// A pool spending a meaningful share of its life waiting is a
	// capacity problem worth surfacing before it becomes an outage.
	if stats.WaitRatio > 0.1 {
		check.Status = StatusDegraded
		check.Detail["wait_ratio"] = stats.WaitRatio
	}
	return check
}

// QdrantProbe checks the vector store health endpoint.
type QdrantProbe struct {
	Client *vectordb.Client
}

func (p *QdrantProbe) Name() string   { return "qdrant" }
func (p *QdrantProbe) Required() bool { return true }

func (p *QdrantProbe) Check(ctx context.Context) Check {
	start := time.Now()
	check := Check{Name: p.Name(), Required: true, Status: StatusOK}
	if err := p.Client.Healthz(ctx); err != nil {
		check.Status = StatusError
		check.Error = sanitize.Error(err)
	}
	check.LatencyMS = time.Since(start).Milliseconds()
	return check
}

// Pinger is anything with a Ping, which is all the redis probe needs.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RedisProbe pings the shared agent cache. The cache is optional, so
// a missing client reports skipped and a failing one only degrades.
type RedisProbe struct {
	Cache Pinger
}

func (p *RedisProbe) Name() string   { return "redis" }
func (p *RedisProbe) Required() bool { return false }

func (p *RedisProbe) Check(ctx context.Context) Check {
	check := Check{Name: p.Name(), Required: false, Status: StatusOK}
	if p.Cache == nil {
		check.Status = StatusSkipped
		return check
	}
	start := time.Now()
	if err := p.Cache.Ping(ctx); err != nil {
		check.Status = StatusError
		check.Error = sanitize.Error(err)
	}
	check.LatencyMS = time.Since(start).Milliseconds()
	return check
}

// OpenAIProbe is a configuration sanity check. It avoids spending a
// real completion on every health poll.
type OpenAIProbe struct {
	APIKey string
	Model  string
}

func (p *OpenAIProbe) Name() string   { return "openai" }
func (p *OpenAIProbe) Required() bool { return false }

func (p *OpenAIProbe) Check(_ context.Context) Check {
	check := Check{Name: p.Name(), Required: false, Status: StatusOK}
	if p.APIKey == "" {
		check.Status = StatusSkipped
		return check
	}
	check.Detail = map[string]interface{}{"model": p.Model}
	return check
}
