// Package customer provides cached access to customer records. Customer
// info changes rarely during a support conversation, so reads are served
// from a per-customer in-memory cache with a soft TTL: a stale entry is
// returned immediately while a background refresh brings it up to date.
package customer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/atendeai/helpdesk/internal/storage"
)

// CustomerStore defines the storage operations the Cache needs.
// Implemented by storage.Store.
type CustomerStore interface {
	GetCustomer(ctx context.Context, id string) (storage.Customer, error)
	SaveCustomer(ctx context.Context, c storage.Customer) error
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

const defaultSoftTTL = time.Hour

type entry struct {
	customer storage.Customer
	loadedAt time.Time
}

// Cache serves customer records with stale-while-revalidate semantics.
type Cache struct {
	store   CustomerStore
	clock   Clock
	softTTL time.Duration
	logger  *slog.Logger

	mu         sync.RWMutex
	entries    map[string]entry
	refreshing map[string]bool
}

// NewCache creates a Cache with a 1-hour soft TTL.
func NewCache(store CustomerStore) *Cache {
	return NewCacheWithClock(store, realClock{}, defaultSoftTTL)
}

// NewCacheWithClock creates a Cache with a custom clock and TTL (for testing).
func NewCacheWithClock(store CustomerStore, clock Clock, softTTL time.Duration) *Cache {
	return &Cache{
		store:      store,
		clock:      clock,
		softTTL:    softTTL,
		logger:     slog.Default(),
		entries:    make(map[string]entry),
		refreshing: make(map[string]bool),
	}
}

// Get returns the customer record. A fresh cache entry is returned directly;
// a stale one is returned immediately while a detached refresh runs; a miss
// loads from storage synchronously.
func (c *Cache) Get(ctx context.Context, id string) (storage.Customer, error) {
	now := c.clock.Now()

	c.mu.RLock()
	e, ok := c.entries[id]
	c.mu.RUnlock()

	if ok {
		if now.Before(e.loadedAt.Add(c.softTTL)) {
			return e.customer, nil
		}
		c.refreshAsync(id)
		return e.customer, nil
	}

	cust, err := c.store.GetCustomer(ctx, id)
	if err != nil {
		return storage.Customer{}, fmt.Errorf("loading customer %s: %w", id, err)
	}

	c.mu.Lock()
	c.entries[id] = entry{customer: cust, loadedAt: now}
	c.mu.Unlock()
	return cust, nil
}

// Put persists the customer and updates the cache.
func (c *Cache) Put(ctx context.Context, cust storage.Customer) error {
	if err := c.store.SaveCustomer(ctx, cust); err != nil {
		return fmt.Errorf("saving customer %s: %w", cust.ID, err)
	}
	c.mu.Lock()
	c.entries[cust.ID] = entry{customer: cust, loadedAt: c.clock.Now()}
	c.mu.Unlock()
	return nil
}

// Invalidate drops the cached entry for a customer.
func (c *Cache) Invalidate(id string) {
	c.mu.Lock()
	delete(c.entries, id)
	c.mu.Unlock()
}

// refreshAsync reloads one customer in the background. At most one refresh
// per customer runs at a time; a failed refresh keeps serving the stale
// entry.
func (c *Cache) refreshAsync(id string) {
	c.mu.Lock()
	if c.refreshing[id] {
		c.mu.Unlock()
		return
	}
	c.refreshing[id] = true
	c.mu.Unlock()

	go func() {
		defer func() {
			c.mu.Lock()
			delete(c.refreshing, id)
			c.mu.Unlock()
		}()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		cust, err := c.store.GetCustomer(ctx, id)
		if err != nil {
			c.logger.Warn("customer refresh failed, serving stale entry", "customer_id", id, "error", err)
			return
		}

		c.mu.Lock()
		c.entries[id] = entry{customer: cust, loadedAt: c.clock.Now()}
		c.mu.Unlock()
	}()
}
