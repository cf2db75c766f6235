package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// CacheGet returns the cache entry for a query hash, even if expired.
// Expiry is the caller's concern (lazy expiry). Returns ErrNotFound when absent.
func (s *Store) CacheGet(ctx context.Context, queryHash string) (CacheEntry, error) {
	var e CacheEntry
	var createdAt, expiresAt, lastHitAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT query_hash, normalized_query, results_json, created_at, expires_at, last_hit_at, hit_count
		FROM retrieval_cache WHERE query_hash = ?`, queryHash,
	).Scan(&e.QueryHash, &e.NormalizedQuery, &e.ResultsJSON, &createdAt, &expiresAt, &lastHitAt, &e.HitCount)
	if err == sql.ErrNoRows {
		return CacheEntry{}, ErrNotFound
	}
	if err != nil {
		return CacheEntry{}, err
	}
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return CacheEntry{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if e.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return CacheEntry{}, fmt.Errorf("parsing expires_at: %w", err)
	}
	if e.LastHitAt, err = parseTime(lastHitAt); err != nil {
		return CacheEntry{}, fmt.Errorf("parsing last_hit_at: %w", err)
	}
	return e, nil
}

// CachePut upserts a cache entry by query hash. On conflict the result set is
// overwritten, the hit count incremented, and the expiry reset (write refresh).
func (s *Store) CachePut(ctx context.Context, e CacheEntry) error {
	return withWriteRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO retrieval_cache (query_hash, normalized_query, results_json, created_at, expires_at, last_hit_at, hit_count)
			VALUES (?, ?, ?, ?, ?, ?, 0)
			ON CONFLICT(query_hash) DO UPDATE SET
				results_json = excluded.results_json,
				expires_at = excluded.expires_at,
				last_hit_at = excluded.last_hit_at,
				hit_count = hit_count + 1`,
			e.QueryHash, e.NormalizedQuery, e.ResultsJSON,
			formatTime(e.CreatedAt), formatTime(e.ExpiresAt), formatTime(e.LastHitAt),
		)
		return err
	})
}

// CacheRecordHit increments the hit count and refreshes last_hit_at without
// touching the expiry (fixed TTL from write time).
func (s *Store) CacheRecordHit(ctx context.Context, queryHash string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE retrieval_cache SET hit_count = hit_count + 1, last_hit_at = ?
		WHERE query_hash = ?`, formatTime(at), queryHash)
	return err
}

// CacheSweepExpired deletes entries past their expiry. Returns the number removed.
func (s *Store) CacheSweepExpired(ctx context.Context, now time.Time) (int, error) {
	var removed int
	err := withWriteRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM retrieval_cache WHERE expires_at <= ?`, formatTime(now))
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		removed = int(n)
		return nil
	})
	return removed, err
}

// CacheStats summarizes the cache table for the management API.
type CacheStats struct {
	Entries   int `json:"entries"`
	TotalHits int `json:"total_hits"`
}

// CacheStatistics returns entry and cumulative hit counts.
func (s *Store) CacheStatistics(ctx context.Context) (CacheStats, error) {
	var stats CacheStats
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(hit_count), 0) FROM retrieval_cache`,
	).Scan(&stats.Entries, &stats.TotalHits)
	return stats, err
}
