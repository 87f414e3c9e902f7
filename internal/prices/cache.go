package prices

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// cacheTTL bounds how stale a cached USD price may be.
const cacheTTL = 5 * time.Minute

// Cache holds recently fetched USD prices keyed by coin symbol.
type Cache interface {
	Get(ctx context.Context, symbol string) (float64, bool, error)
	Set(ctx context.Context, symbol string, price float64) error
}

// NewCache returns a Redis-backed cache when redisURL is set, otherwise an
// in-process one.
func NewCache(redisURL string) (Cache, error) {
	if redisURL == "" {
		return newMemoryCache(), nil
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &redisCache{rdb: redis.NewClient(opts)}, nil
}

type redisCache struct {
	rdb *redis.Client
}

func (c *redisCache) key(symbol string) string {
	return "depthwatch:price:" + symbol
}

func (c *redisCache) Get(ctx context.Context, symbol string) (float64, bool, error) {
	val, err := c.rdb.Get(ctx, c.key(symbol)).Float64()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("redis get %s: %w", symbol, err)
	}
	return val, true, nil
}

func (c *redisCache) Set(ctx context.Context, symbol string, price float64) error {
	if err := c.rdb.Set(ctx, c.key(symbol), strconv.FormatFloat(price, 'g', -1, 64), cacheTTL).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", symbol, err)
	}
	return nil
}

type memoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	price   float64
	expires time.Time
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: make(map[string]memoryEntry)}
}

func (c *memoryCache) Get(_ context.Context, symbol string) (float64, bool, error) {
	c.mu.RLock()
	e, ok := c.entries[symbol]
	c.mu.RUnlock()
	if !ok || time.Now().After(e.expires) {
		return 0, false, nil
	}
	return e.price, true, nil
}

func (c *memoryCache) Set(_ context.Context, symbol string, price float64) error {
	c.mu.Lock()
	c.entries[symbol] = memoryEntry{price: price, expires: time.Now().Add(cacheTTL)}
	c.mu.Unlock()
	return nil
}
