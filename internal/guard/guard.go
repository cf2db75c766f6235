// Package guard deduplicates concurrent inbound ticket events. The dialog
// orchestrator assumes at most one concurrent step per thread; this guard is
// what enforces that assumption.
package guard

import (
	"sync"
	"time"
)

// DefaultReleaseDelay is how long a key lingers after release to absorb
// near-simultaneous duplicate deliveries from at-least-once webhooks.
const DefaultReleaseDelay = 5 * time.Second

// Guard tracks in-flight event keys for a single process. TryAdmit is an
// atomic check-and-insert; Release schedules removal after the configured
// delay rather than removing immediately.
type Guard struct {
	delay time.Duration

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// New creates a Guard with the default release delay.
func New() *Guard {
	return NewWithDelay(DefaultReleaseDelay)
}

// NewWithDelay creates a Guard with a custom release delay (tests use 0 for
// immediate release).
func NewWithDelay(delay time.Duration) *Guard {
	return &Guard{
		delay:    delay,
		inFlight: make(map[string]struct{}),
	}
}

// TryAdmit attempts to claim the key. Exactly one of any set of concurrent
// callers with the same key gets true; the rest must treat the event as a
// duplicate and respond success-no-op.
func (g *Guard) TryAdmit(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.inFlight[key]; exists {
		return false
	}
	g.inFlight[key] = struct{}{}
	return true
}

// Release schedules removal of the key after the release delay. Duplicates
// arriving in the window are still rejected.
func (g *Guard) Release(key string) {
	if g.delay <= 0 {
		g.remove(key)
		return
	}
	time.AfterFunc(g.delay, func() {
		g.remove(key)
	})
}

func (g *Guard) remove(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.inFlight, key)
}

// InFlight returns the number of currently claimed keys.
func (g *Guard) InFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.inFlight)
}
