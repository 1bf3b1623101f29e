package cache

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/rs/zerolog"
)

// MemcacheClient is the subset of *memcache.Client used here.
type MemcacheClient interface {
	Get(key string) (*memcache.Item, error)
	Set(item *memcache.Item) error
	Add(item *memcache.Item) error
	Increment(key string, delta uint64) (uint64, error)
}

// Memcached shares partitions between processes. Entries are namespaced by
// a generation counter; Invalidate bumps the counter instead of deleting.
type Memcached struct {
	client MemcacheClient
	prefix string
	ttl    time.Duration
	log    zerolog.Logger
}

func NewMemcached(client MemcacheClient, prefix string, ttl time.Duration, log zerolog.Logger) *Memcached {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Memcached{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		log:    log,
	}
}

func (m *Memcached) Get(ctx context.Context, key string) ([]int64, bool) {
	gen, err := m.generation()
	if err != nil {
		m.log.Warn().Err(err).Msg("failed to read cache generation")
		return nil, false
	}

	item, err := m.client.Get(m.itemKey(gen, key))
	if err != nil {
		if err != memcache.ErrCacheMiss {
			m.log.Warn().Err(err).Str("key", key).Msg("failed to read checkpoint partition")
		}
		return nil, false
	}

	var ids []int64
	if err := json.Unmarshal(item.Value, &ids); err != nil {
		m.log.Warn().Err(err).Str("key", key).Msg("corrupt checkpoint partition")
		return nil, false
	}
	return ids, true
}

func (m *Memcached) Set(ctx context.Context, key string, ids []int64) {
	gen, err := m.generation()
	if err != nil {
		m.log.Warn().Err(err).Msg("failed to read cache generation")
		return
	}

	value, err := json.Marshal(ids)
	if err != nil {
		return
	}

	err = m.client.Set(&memcache.Item{
		Key:        m.itemKey(gen, key),
		Value:      value,
		Expiration: int32(m.ttl / time.Second),
	})
	if err != nil {
		m.log.Warn().Err(err).Str("key", key).Msg("failed to store checkpoint partition")
	}
}

func (m *Memcached) Invalidate(ctx context.Context) error {
	_, err := m.client.Increment(m.generationKey(), 1)
	if err == memcache.ErrCacheMiss {
		return m.client.Set(&memcache.Item{Key: m.generationKey(), Value: freshGeneration()})
	}
	return err
}

func (m *Memcached) generation() (string, error) {
	item, err := m.client.Get(m.generationKey())
	if err == nil {
		return string(item.Value), nil
	}
	if err != memcache.ErrCacheMiss {
		return "", err
	}

	// a lost counter restarts from the clock so stale entries stay unreachable
	value := freshGeneration()
	err = m.client.Add(&memcache.Item{Key: m.generationKey(), Value: value})
	if err == memcache.ErrNotStored {
		return m.generation()
	}
	if err != nil {
		return "", err
	}
	return string(value), nil
}

func (m *Memcached) generationKey() string {
	return m.prefix + "generation"
}

func (m *Memcached) itemKey(gen, key string) string {
	return m.prefix + gen + ":" + key
}

func freshGeneration() []byte {
	return []byte(strconv.FormatInt(time.Now().UnixNano(), 10))
}
