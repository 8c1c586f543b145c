package resilience

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/tax-connect/pos-connector/internal/domain"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

type cachedEntry struct {
	value     interface{}
	expiresAt time.Time
}

// ResponseCache memoizes idempotent adapter reads. Entries are evicted on
// LRU pressure, the cache-wide TTL, or a tighter per-entry TTL, whichever
// comes first. Mutating operations must never go through the cache.
type ResponseCache struct {
	name    string
	lru     *expirable.LRU[string, cachedEntry]
	nowFunc func() time.Time

	hits   atomic.Uint64
	misses atomic.Uint64
}

func NewResponseCache(name string, maxEntries int, defaultTTL time.Duration) *ResponseCache {
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	if defaultTTL <= 0 {
		defaultTTL = 5 * time.Minute
	}
	return &ResponseCache{
		name:    name,
		lru:     expirable.NewLRU[string, cachedEntry](maxEntries, nil, defaultTTL),
		nowFunc: time.Now,
	}
}

// GetOrCompute returns the cached value for key if present and fresh,
// otherwise runs compute and stores the result for ttl.
func (rc *ResponseCache) GetOrCompute(ctx context.Context, key string, ttl time.Duration, compute func(context.Context) (interface{}, error)) (interface{}, error) {
	if entry, ok := rc.lru.Get(key); ok {
		if rc.nowFunc().Before(entry.expiresAt) {
			rc.hits.Add(1)
			metrics.cacheHitCounter.WithLabelValues(rc.name).Inc()
			return entry.value, nil
		}
		rc.lru.Remove(key)
	}

	rc.misses.Add(1)
	metrics.cacheMissCounter.WithLabelValues(rc.name).Inc()

	value, err := compute(ctx)
	if err != nil {
		return nil, err
	}

	rc.lru.Add(key, cachedEntry{value: value, expiresAt: rc.nowFunc().Add(ttl)})
	return value, nil
}

func (rc *ResponseCache) Remove(key string) {
	rc.lru.Remove(key)
}

func (rc *ResponseCache) Purge() {
	rc.lru.Purge()
}

func (rc *ResponseCache) Stats() domain.CacheStats {
	return domain.CacheStats{
		Size:   rc.lru.Len(),
		Hits:   rc.hits.Load(),
		Misses: rc.misses.Load(),
	}
}

// CanonicalCacheKey derives a deterministic key from an operation name and
// the request shape. encoding/json sorts map keys and emits struct fields
// in declaration order, so identical requests always hash identically.
func CanonicalCacheKey(operation string, args interface{}) (string, error) {
	payload, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("unable to canonicalize cache key args: %w", err)
	}

	sum := sha256.Sum256(payload)
	return operation + ":" + hex.EncodeToString(sum[:]), nil
}
