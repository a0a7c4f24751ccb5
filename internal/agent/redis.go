package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chessmate/chessmate/internal/metrics"
)

// RedisCache shares evaluations across API replicas. Values are JSON;
// the namespace prefix keeps the keyspace tidy next to other users of
// the same Redis.
type RedisCache struct {
	cli       *redis.Client
	namespace string
}

// NewRedisCache connects and pings once so a bad URL fails at startup
// rather than on the first query.
func NewRedisCache(url, namespace string) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	cli := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := cli.Ping(ctx).Err(); err != nil {
		cli.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	if namespace == "" {
		namespace = "chessmate:agent"
	}
	return &RedisCache{cli: cli, namespace: namespace}, nil
}

// NewRedisCacheFromClient wraps an existing client; used by tests.
func NewRedisCacheFromClient(cli *redis.Client, namespace string) *RedisCache {
	if namespace == "" {
		namespace = "chessmate:agent"
	}
	return &RedisCache{cli: cli, namespace: namespace}
}

// Close releases the connection pool.
func (r *RedisCache) Close() error { return r.cli.Close() }

// Ping verifies connectivity; used by the health probe.
func (r *RedisCache) Ping(ctx context.Context) error {
	return r.cli.Ping(ctx).Err()
}

func (r *RedisCache) key(k string) string { return r.namespace + ":" + k }

// GetMany fetches keys in one MGET. Undecodable values count as
// misses rather than failing the query.
func (r *RedisCache) GetMany(ctx context.Context, keys []string) (map[string]Evaluation, error) {
	if len(keys) == 0 {
		return map[string]Evaluation{}, nil
	}
	namespaced := make([]string, len(keys))
	for i, k := range keys {
		namespaced[i] = r.key(k)
	}
	values, err := r.cli.MGet(ctx, namespaced...).Result()
	if err != nil {
		return nil, fmt.Errorf("cache mget: %w", err)
	}

	out := make(map[string]Evaluation)
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			metrics.AgentCache.WithLabelValues("miss").Inc()
			continue
		}
		var eval Evaluation
		if err := json.Unmarshal([]byte(s), &eval); err != nil {
			metrics.AgentCache.WithLabelValues("decode_error").Inc()
			continue
		}
		out[keys[i]] = eval
		metrics.AgentCache.WithLabelValues("hit").Inc()
	}
	return out, nil
}

// PutMany stores entries with TTL in one pipeline round trip.
func (r *RedisCache) PutMany(ctx context.Context, entries map[string]Evaluation, ttl time.Duration) error {
	if len(entries) == 0 {
		return nil
	}
	pipe := r.cli.Pipeline()
	for k, eval := range entries {
		buf, err := json.Marshal(eval)
		if err != nil {
			return fmt.Errorf("marshal evaluation: %w", err)
		}
		pipe.Set(ctx, r.key(k), buf, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache pipeline: %w", err)
	}
	return nil
}
