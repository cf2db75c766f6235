// Package sweep runs the periodic maintenance passes: lazy-expired retrieval
// cache entries are physically removed, and terminal threads past the
// retention window are archived.
package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// CacheSweeper removes expired retrieval cache rows.
// Implemented by *retrieval.Cache.
type CacheSweeper interface {
	SweepExpired(ctx context.Context) (int, error)
}

// ThreadArchiver archives terminal threads older than the cutoff.
// Implemented by storage.Store.
type ThreadArchiver interface {
	ArchiveTerminalBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Worker runs both sweeps on a fixed interval.
type Worker struct {
	cache     CacheSweeper
	threads   ThreadArchiver
	interval  time.Duration
	retention time.Duration
	clock     Clock
	logger    *slog.Logger
}

// NewWorker creates a Worker. If interval is <= 0 it defaults to 15 minutes;
// if retention is <= 0, terminal threads are kept for 30 days.
func NewWorker(cache CacheSweeper, threads ThreadArchiver, interval, retention time.Duration) *Worker {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	return &Worker{
		cache:     cache,
		threads:   threads,
		interval:  interval,
		retention: retention,
		clock:     realClock{},
		logger:    slog.Default(),
	}
}

// Run sweeps until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if err := w.RunOnce(ctx); err != nil {
			w.logger.Error("sweep iteration failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce performs a single sweep pass.
func (w *Worker) RunOnce(ctx context.Context) error {
	swept, err := w.cache.SweepExpired(ctx)
	if err != nil {
		return fmt.Errorf("sweeping cache: %w", err)
	}

	cutoff := w.clock.Now().Add(-w.retention)
	archived, err := w.threads.ArchiveTerminalBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archiving threads: %w", err)
	}

	if swept > 0 || archived > 0 {
		w.logger.Info("sweep completed", "cache_entries_removed", swept, "threads_archived", archived)
	}
	return nil
}
