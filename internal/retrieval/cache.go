package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/atendeai/helpdesk/internal/storage"
)

// DefaultCacheTTL is the fixed lifetime of a cache entry from its last write.
const DefaultCacheTTL = 24 * time.Hour

// CacheStore is the subset of storage operations the cache needs.
// Implemented by *storage.Store.
type CacheStore interface {
	CacheGet(ctx context.Context, queryHash string) (storage.CacheEntry, error)
	CachePut(ctx context.Context, e storage.CacheEntry) error
	CacheRecordHit(ctx context.Context, queryHash string, at time.Time) error
	CacheSweepExpired(ctx context.Context, now time.Time) (int, error)
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Cache is a content-addressed cache of ranked retrieval results. It is an
// optimization only: storage errors degrade to a miss on read and are logged
// and swallowed on write, so callers never depend on the cache for
// correctness.
type Cache struct {
	store CacheStore
	ttl   time.Duration
	clock Clock
}

// NewCache creates a Cache with the default 24h TTL.
func NewCache(store CacheStore) *Cache {
	return &Cache{store: store, ttl: DefaultCacheTTL, clock: realClock{}}
}

// NewCacheWithTTL creates a Cache with a custom TTL.
func NewCacheWithTTL(store CacheStore, ttl time.Duration) *Cache {
	return NewCacheWithClock(store, ttl, realClock{})
}

// NewCacheWithClock creates a Cache with a custom TTL and clock (for testing).
func NewCacheWithClock(store CacheStore, ttl time.Duration, clock Clock) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{store: store, ttl: ttl, clock: clock}
}

// NormalizeQuery lowercases and trims a query; the hash of the normalized
// form is the cache key.
func NormalizeQuery(query string) string {
	return strings.ToLower(strings.TrimSpace(query))
}

// HashQuery returns the deterministic cache key for a query.
func HashQuery(query string) string {
	sum := sha256.Sum256([]byte(NormalizeQuery(query)))
	return hex.EncodeToString(sum[:])
}

// Get returns the cached ranked results for a query, or ok=false on a miss.
// Entries past their expiry are treated as absent (lazy expiry). A hit bumps
// the hit counter and last-hit timestamp but never extends the expiry.
func (c *Cache) Get(ctx context.Context, query string) ([]RankedResult, bool) {
	hash := HashQuery(query)

	entry, err := c.store.CacheGet(ctx, hash)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			slog.Warn("retrieval cache read failed, treating as miss", "error", err)
		}
		return nil, false
	}

	now := c.clock.Now()
	if now.After(entry.ExpiresAt) {
		return nil, false
	}

	var results []RankedResult
	if err := json.Unmarshal([]byte(entry.ResultsJSON), &results); err != nil {
		slog.Warn("retrieval cache entry corrupt, treating as miss", "query_hash", hash, "error", err)
		return nil, false
	}

	if err := c.store.CacheRecordHit(ctx, hash, now); err != nil {
		slog.Warn("recording cache hit failed", "query_hash", hash, "error", err)
	}
	return results, true
}

// Put stores ranked results for a query. Empty result sets are not cached so
// that future catalog additions are not masked until an explicit
// invalidation. Write failures are logged and swallowed.
func (c *Cache) Put(ctx context.Context, query string, results []RankedResult) {
	if len(results) == 0 {
		return
	}

	data, err := json.Marshal(results)
	if err != nil {
		slog.Warn("marshaling cache results failed", "error", err)
		return
	}

	now := c.clock.Now()
	entry := storage.CacheEntry{
		QueryHash:       HashQuery(query),
		NormalizedQuery: NormalizeQuery(query),
		ResultsJSON:     string(data),
		CreatedAt:       now,
		ExpiresAt:       now.Add(c.ttl),
		LastHitAt:       now,
	}
	if err := c.store.CachePut(ctx, entry); err != nil {
		slog.Warn("retrieval cache write failed", "query_hash", entry.QueryHash, "error", err)
	}
}

// SweepExpired removes entries past expiry; called by the background sweeper.
func (c *Cache) SweepExpired(ctx context.Context) (int, error) {
	return c.store.CacheSweepExpired(ctx, c.clock.Now())
}
