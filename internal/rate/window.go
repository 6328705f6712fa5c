package rate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Attempts caps how many verifications an address may start per window.
type Attempts interface {
	Hit(ctx context.Context, addr string, now time.Time) error
}

type windowEntry struct {
	start time.Time
	count int
}

// Window is an in-memory fixed-window attempt counter.
type Window struct {
	mu        sync.Mutex
	max       int
	window    time.Duration
	lastSweep time.Time
	entries   map[string]*windowEntry
}

// NewWindow creates a counter allowing max hits per window.
func NewWindow(max int, window time.Duration) *Window {
	return &Window{
		max:     max,
		window:  window,
		entries: make(map[string]*windowEntry),
	}
}

func (w *Window) Hit(_ context.Context, addr string, now time.Time) error {
	if w == nil || w.max <= 0 {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if now.Sub(w.lastSweep) >= w.window {
		w.lastSweep = now
		for k, e := range w.entries {
			if now.Sub(e.start) >= w.window {
				delete(w.entries, k)
			}
		}
	}

	e, ok := w.entries[addr]
	if !ok || now.Sub(e.start) >= w.window {
		e = &windowEntry{start: now}
		w.entries[addr] = e
	}
	e.count++
	if e.count > w.max {
		return ErrRateLimited
	}
	return nil
}

// RedisWindow is the shared variant of Window.
type RedisWindow struct {
	redis  redis.UniversalClient
	prefix string
	max    int
	window time.Duration
}

// NewRedisWindow creates a Redis-backed attempt counter.
func NewRedisWindow(client redis.UniversalClient, prefix string, max int, window time.Duration) *RedisWindow {
	if prefix == "" {
		prefix = "gf"
	}
	return &RedisWindow{redis: client, prefix: prefix, max: max, window: window}
}

func (w *RedisWindow) Hit(ctx context.Context, addr string, _ time.Time) error {
	if w == nil || w.max <= 0 {
		return nil
	}
	count, err := w.incrementWithTTL(ctx, w.prefix+":fa:"+addr)
	if err != nil {
		return err
	}
	if count > int64(w.max) {
		return ErrRateLimited
	}
	return nil
}

func (w *RedisWindow) incrementWithTTL(ctx context.Context, key string) (int64, error) {
	count, err := w.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := w.redis.Expire(ctx, key, w.window).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return count, nil
}
