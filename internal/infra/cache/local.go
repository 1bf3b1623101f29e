// Package cache memoizes checkpoint partitions for the query engine.
package cache

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

// Local keeps partitions in process memory.
type Local struct {
	cache *cache.Cache
}

func NewLocal(ttl time.Duration) *Local {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Local{cache: cache.New(ttl, ttl+5*time.Minute)}
}

func (l *Local) Get(ctx context.Context, key string) ([]int64, bool) {
	x, found := l.cache.Get(key)
	if !found {
		return nil, false
	}
	ids, ok := x.([]int64)
	if !ok {
		return nil, false
	}
	out := make([]int64, len(ids))
	copy(out, ids)
	return out, true
}

func (l *Local) Set(ctx context.Context, key string, ids []int64) {
	stored := make([]int64, len(ids))
	copy(stored, ids)
	l.cache.Set(key, stored, cache.DefaultExpiration)
}

// Invalidate drops every partition; any new checkpoint can shift them all.
func (l *Local) Invalidate(ctx context.Context) error {
	l.cache.Flush()
	return nil
}
