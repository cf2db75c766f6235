package retrieval

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/atendeai/helpdesk/internal/storage"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

type mockCacheStore struct {
	getFn   func(ctx context.Context, queryHash string) (storage.CacheEntry, error)
	putFn   func(ctx context.Context, e storage.CacheEntry) error
	hitFn   func(ctx context.Context, queryHash string, at time.Time) error
	sweepFn func(ctx context.Context, now time.Time) (int, error)
}

func (m *mockCacheStore) CacheGet(ctx context.Context, queryHash string) (storage.CacheEntry, error) {
	if m.getFn != nil {
		return m.getFn(ctx, queryHash)
	}
	return storage.CacheEntry{}, storage.ErrNotFound
}

func (m *mockCacheStore) CachePut(ctx context.Context, e storage.CacheEntry) error {
	if m.putFn != nil {
		return m.putFn(ctx, e)
	}
	return nil
}

func (m *mockCacheStore) CacheRecordHit(ctx context.Context, queryHash string, at time.Time) error {
	if m.hitFn != nil {
		return m.hitFn(ctx, queryHash, at)
	}
	return nil
}

func (m *mockCacheStore) CacheSweepExpired(ctx context.Context, now time.Time) (int, error) {
	if m.sweepFn != nil {
		return m.sweepFn(ctx, now)
	}
	return 0, nil
}

func TestHashQueryNormalizes(t *testing.T) {
	if HashQuery("  Meu PC Não Liga  ") != HashQuery("meu pc não liga") {
		t.Error("hash must be case- and whitespace-insensitive")
	}
	if HashQuery("meu pc não liga") == HashQuery("outro problema") {
		t.Error("distinct queries must hash differently")
	}
}

func TestCacheRoundTripThroughStore(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	entries := make(map[string]storage.CacheEntry)
	hits := 0
	store := &mockCacheStore{
		getFn: func(_ context.Context, hash string) (storage.CacheEntry, error) {
			e, ok := entries[hash]
			if !ok {
				return storage.CacheEntry{}, storage.ErrNotFound
			}
			return e, nil
		},
		putFn: func(_ context.Context, e storage.CacheEntry) error {
			entries[e.QueryHash] = e
			return nil
		},
		hitFn: func(_ context.Context, _ string, _ time.Time) error {
			hits++
			return nil
		},
	}
	c := NewCacheWithClock(store, time.Hour, clock)

	results := []RankedResult{{Solution: storage.Solution{ID: "sol-1", ProblemTag: "boot_issue", Step: 1}, Score: 0.9}}
	c.Put(context.Background(), "Meu PC não liga", results)

	got, ok := c.Get(context.Background(), "meu pc não liga  ")
	if !ok {
		t.Fatal("expected cache hit after put")
	}
	if len(got) != 1 || got[0].Solution.ID != "sol-1" {
		t.Errorf("got %+v, want cached result", got)
	}
	if hits != 1 {
		t.Errorf("hit recorded %d times, want 1", hits)
	}
}

func TestCacheExpiry(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	entries := make(map[string]storage.CacheEntry)
	store := &mockCacheStore{
		getFn: func(_ context.Context, hash string) (storage.CacheEntry, error) {
			e, ok := entries[hash]
			if !ok {
				return storage.CacheEntry{}, storage.ErrNotFound
			}
			return e, nil
		},
		putFn: func(_ context.Context, e storage.CacheEntry) error {
			entries[e.QueryHash] = e
			return nil
		},
	}
	c := NewCacheWithClock(store, time.Hour, clock)

	c.Put(context.Background(), "q", []RankedResult{{Solution: storage.Solution{ID: "s"}, Score: 0.8}})

	// Just before expiry: hit.
	clock.now = clock.now.Add(59 * time.Minute)
	if _, ok := c.Get(context.Background(), "q"); !ok {
		t.Error("expected hit before expiry")
	}

	// Past expiry: lazy miss even though the row still exists.
	clock.now = clock.now.Add(2 * time.Minute)
	if _, ok := c.Get(context.Background(), "q"); ok {
		t.Error("expected miss past expiry")
	}

	// Re-put resets the expiry.
	c.Put(context.Background(), "q", []RankedResult{{Solution: storage.Solution{ID: "s"}, Score: 0.8}})
	clock.now = clock.now.Add(30 * time.Minute)
	if _, ok := c.Get(context.Background(), "q"); !ok {
		t.Error("expected hit after write refresh")
	}
}

func TestCacheNoNegativeCaching(t *testing.T) {
	puts := 0
	store := &mockCacheStore{
		putFn: func(_ context.Context, _ storage.CacheEntry) error {
			puts++
			return nil
		},
	}
	c := NewCache(store)

	c.Put(context.Background(), "q", nil)
	c.Put(context.Background(), "q", []RankedResult{})

	if puts != 0 {
		t.Errorf("empty result sets were cached %d times, want 0", puts)
	}
}

func TestCacheDegradesOnStoreError(t *testing.T) {
	boom := errors.New("disk on fire")
	store := &mockCacheStore{
		getFn: func(_ context.Context, _ string) (storage.CacheEntry, error) {
			return storage.CacheEntry{}, boom
		},
		putFn: func(_ context.Context, _ storage.CacheEntry) error {
			return boom
		},
	}
	c := NewCache(store)

	// Read error is a miss, not a failure.
	if _, ok := c.Get(context.Background(), "q"); ok {
		t.Error("store error must read as a miss")
	}

	// Write error is swallowed.
	c.Put(context.Background(), "q", []RankedResult{{Solution: storage.Solution{ID: "s"}, Score: 1}})
}

func TestCacheCorruptEntryIsMiss(t *testing.T) {
	store := &mockCacheStore{
		getFn: func(_ context.Context, hash string) (storage.CacheEntry, error) {
			return storage.CacheEntry{
				QueryHash:   hash,
				ResultsJSON: "{definitely not json",
				ExpiresAt:   time.Now().Add(time.Hour),
			}, nil
		},
	}
	c := NewCache(store)

	if _, ok := c.Get(context.Background(), "q"); ok {
		t.Error("corrupt entry must read as a miss")
	}
}
