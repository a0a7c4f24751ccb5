package agent

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chessmate/chessmate/internal/metrics"
)

// Cache stores evaluations keyed on (plan digest, game id). Hits
// bypass the breaker and the LLM call entirely, so both backends
// must support batched lookups.
type Cache interface {
	GetMany(ctx context.Context, keys []string) (map[string]Evaluation, error)
	PutMany(ctx context.Context, entries map[string]Evaluation, ttl time.Duration) error
}

// Key derives the cache key for one game under one plan digest.
func Key(digest string, gameID int64) string {
	return fmt.Sprintf("%s:%d", digest, gameID)
}

// LocalLRU is a bounded in-process cache with TTL. Front of the list
// is most recent.
type LocalLRU struct {
	mu   sync.Mutex
	cap  int
	list *list.List
	m    map[string]*list.Element
	now  func() time.Time
}

type lruEntry struct {
	key  string
	eval Evaluation
	exp  time.Time
}

// NewLocalLRU builds the cache; capacity <= 0 falls back to 4096.
func NewLocalLRU(capacity int) *LocalLRU {
	if capacity <= 0 {
		capacity = 4096
	}
	return &LocalLRU{
		cap:  capacity,
		list: list.New(),
		m:    make(map[string]*list.Element, capacity),
		now:  time.Now,
	}
}

// GetMany returns the unexpired entries among keys.
func (l *LocalLRU) GetMany(_ context.Context, keys []string) (map[string]Evaluation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]Evaluation)
	for _, key := range keys {
		el, ok := l.m[key]
		if !ok {
			metrics.AgentCache.WithLabelValues("miss").Inc()
			continue
		}
		ent := el.Value.(lruEntry)
		if !ent.exp.After(l.now()) {
			l.list.Remove(el)
			delete(l.m, key)
			metrics.AgentCache.WithLabelValues("expired").Inc()
			continue
		}
		l.list.MoveToFront(el)
		out[key] = ent.eval
		metrics.AgentCache.WithLabelValues("hit").Inc()
	}
	return out, nil
}

// PutMany stores entries, evicting least-recently-used overflow.
func (l *LocalLRU) PutMany(_ context.Context, entries map[string]Evaluation, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, eval := range entries {
		exp := l.now().Add(ttl)
		if el, ok := l.m[key]; ok {
			el.Value = lruEntry{key: key, eval: eval, exp: exp}
			l.list.MoveToFront(el)
			continue
		}
		l.m[key] = l.list.PushFront(lruEntry{key: key, eval: eval, exp: exp})
		if l.list.Len() > l.cap {
			if back := l.list.Back(); back != nil {
				delete(l.m, back.Value.(lruEntry).key)
				l.list.Remove(back)
			}
		}
	}
	return nil
}

// Len reports the number of cached entries, expired or not.
func (l *LocalLRU) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.list.Len()
}
