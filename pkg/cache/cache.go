package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Fetcher loads the value for a missing or stale key.
type Fetcher[V any] func(ctx context.Context, key string) (V, error)

// Config sizes a Cache.
type Config struct {
	// MaxSize bounds the number of entries; the least-recently-used entry is
	// evicted when exceeded. 0 disables caching entirely.
	MaxSize int
	// TTL is the staleness horizon. 0 means entries never go stale.
	TTL time.Duration
	// SweepInterval is the background refresh period. 0 disables the sweep.
	SweepInterval time.Duration
}

// Metrics is a point-in-time snapshot of cumulative cache counters. Every Get
// counts as exactly one hit or miss: serving a stale value after a failed
// refresh is a hit, refetching a stale entry is a miss.
type Metrics struct {
	Hits          int64
	Misses        int64
	Refreshes     int64
	RefreshErrors int64
}

type entry[V any] struct {
	value     V
	createdAt time.Time
}

// Cache is a bounded key->value store with LRU eviction, TTL staleness and
// periodic background refresh. Safe for concurrent use.
type Cache[V any] struct {
	entries *lru.Cache[string, *entry[V]] // nil when MaxSize == 0
	fetch   Fetcher[V]
	ttl     time.Duration

	hits          atomic.Int64
	misses        atomic.Int64
	refreshes     atomic.Int64
	refreshErrors atomic.Int64

	sweeper  *cron.Cron
	stopOnce sync.Once
}

// New builds a Cache backed by fetch. fetch may be nil, in which case Get only
// serves values placed with Set and the sweep evicts expired entries instead
// of refreshing them.
func New[V any](cfg Config, fetch Fetcher[V]) *Cache[V] {
	c := &Cache[V]{
		fetch: fetch,
		ttl:   cfg.TTL,
	}
	if cfg.MaxSize > 0 {
		c.entries, _ = lru.New[string, *entry[V]](cfg.MaxSize)
	}

	if cfg.SweepInterval > 0 && cfg.TTL > 0 && c.entries != nil {
		c.sweeper = cron.New()
		_, err := c.sweeper.AddFunc(fmt.Sprintf("@every %s", cfg.SweepInterval), c.sweep)
		if err != nil {
			logrus.WithError(err).Warn("SeeTrace couldn't schedule cache sweep")
		} else {
			c.sweeper.Start()
		}
	}
	return c
}

func (c *Cache[V]) stale(e *entry[V]) bool {
	if c.ttl <= 0 {
		return false
	}
	return time.Since(e.createdAt) > c.ttl
}

// Get returns the value for key, fetching on a miss and refreshing in place on
// staleness. A failed refresh over an existing entry returns the stale value
// and is only counted; a failed first-ever fetch is returned to the caller.
func (c *Cache[V]) Get(ctx context.Context, key string) (V, error) {
	var zero V

	if c.entries == nil {
		// caching disabled, pass straight through
		c.misses.Add(1)
		if c.fetch == nil {
			return zero, fmt.Errorf("cache: no value for %q and no fetcher", key)
		}
		return c.fetch(ctx, key)
	}

	if e, ok := c.entries.Get(key); ok {
		if !c.stale(e) || c.fetch == nil {
			c.hits.Add(1)
			return e.value, nil
		}
		v, err := c.fetch(ctx, key)
		if err != nil {
			c.hits.Add(1)
			c.refreshErrors.Add(1)
			logrus.WithError(err).WithField("key", key).
				Warn("SeeTrace couldn't refresh cache entry, serving stale value")
			return e.value, nil
		}
		c.misses.Add(1)
		c.refreshes.Add(1)
		c.entries.Add(key, &entry[V]{value: v, createdAt: time.Now()})
		return v, nil
	}

	c.misses.Add(1)
	if c.fetch == nil {
		return zero, fmt.Errorf("cache: no value for %q and no fetcher", key)
	}
	v, err := c.fetch(ctx, key)
	if err != nil {
		return zero, err
	}
	c.entries.Add(key, &entry[V]{value: v, createdAt: time.Now()})
	return v, nil
}

// Set inserts or overwrites key. The least-recently-used entry is evicted
// first when the insert would exceed the configured size.
func (c *Cache[V]) Set(key string, value V) {
	if c.entries == nil {
		return
	}
	c.entries.Add(key, &entry[V]{value: value, createdAt: time.Now()})
}

// Len reports the current number of entries.
func (c *Cache[V]) Len() int {
	if c.entries == nil {
		return 0
	}
	return c.entries.Len()
}

// Metrics snapshots the cumulative counters.
func (c *Cache[V]) Metrics() Metrics {
	return Metrics{
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Refreshes:     c.refreshes.Load(),
		RefreshErrors: c.refreshErrors.Load(),
	}
}

// Stop cancels the background sweep. Safe to call multiple times; Get and Set
// remain usable afterwards.
func (c *Cache[V]) Stop() {
	c.stopOnce.Do(func() {
		if c.sweeper != nil {
			c.sweeper.Stop()
		}
	})
}

// sweep proactively refreshes every entry past its TTL, keeping hot keys warm.
// Without a fetcher, expired entries are evicted instead.
func (c *Cache[V]) sweep() {
	for _, key := range c.entries.Keys() {
		e, ok := c.entries.Peek(key)
		if !ok || !c.stale(e) {
			continue
		}
		if c.fetch == nil {
			c.entries.Remove(key)
			continue
		}
		v, err := c.fetch(context.Background(), key)
		if err != nil {
			c.refreshErrors.Add(1)
			logrus.WithError(err).WithField("key", key).
				Warn("SeeTrace couldn't refresh cache entry during sweep")
			continue
		}
		c.refreshes.Add(1)
		c.entries.Add(key, &entry[V]{value: v, createdAt: time.Now()})
	}
}
