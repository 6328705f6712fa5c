package rate

import (
	"context"
	"sync"
	"time"
)

// DefaultSweepInterval bounds how often expired entries are purged.
const DefaultSweepInterval = 250 * time.Millisecond

// Reconnect is the per-address reconnect delay contract.
type Reconnect interface {
	// Allow atomically checks for a live entry and, when none exists,
	// inserts one. A rejected call returns the remaining wait and
	// ErrRateLimited.
	Allow(ctx context.Context, addr string, now time.Time) (time.Duration, error)
	// Penalize refreshes the entry for addr so the full delay applies again.
	Penalize(ctx context.Context, addr string, now time.Time) error
}

// Expiring keeps the time each address was last admitted and rejects it
// until the TTL has elapsed.
type Expiring struct {
	mu         sync.Mutex
	ttl        time.Duration
	sweepEvery time.Duration
	lastSweep  time.Time
	expires    map[string]time.Time
}

// NewExpiring creates an in-memory reconnect limiter. sweepEvery <= 0 uses
// DefaultSweepInterval.
func NewExpiring(ttl, sweepEvery time.Duration) *Expiring {
	if sweepEvery <= 0 {
		sweepEvery = DefaultSweepInterval
	}
	return &Expiring{
		ttl:        ttl,
		sweepEvery: sweepEvery,
		expires:    make(map[string]time.Time),
	}
}

func (l *Expiring) Allow(_ context.Context, addr string, now time.Time) (time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.maybeSweepLocked(now)

	if exp, ok := l.expires[addr]; ok && now.Before(exp) {
		return exp.Sub(now), ErrRateLimited
	}
	l.expires[addr] = now.Add(l.ttl)
	return 0, nil
}

func (l *Expiring) Penalize(_ context.Context, addr string, now time.Time) error {
	l.mu.Lock()
	l.expires[addr] = now.Add(l.ttl)
	l.mu.Unlock()
	return nil
}

// Len counts entries still live at now.
func (l *Expiring) Len(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, exp := range l.expires {
		if now.Before(exp) {
			n++
		}
	}
	return n
}

func (l *Expiring) maybeSweepLocked(now time.Time) {
	if now.Sub(l.lastSweep) < l.sweepEvery {
		return
	}
	l.lastSweep = now
	for addr, exp := range l.expires {
		if !now.Before(exp) {
			delete(l.expires, addr)
		}
	}
}

// size returns the raw map size including not-yet-swept entries.
func (l *Expiring) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.expires)
}
