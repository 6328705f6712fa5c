package verified

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/MrEthical07/goFallback/internal/logutil"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	defaultQueueSize    = 1024
	defaultWriteTimeout = 5 * time.Second
)

// Options tunes a Cache.
type Options struct {
	// MaxAgeDays purges older durable rows on Open. Zero keeps everything.
	MaxAgeDays   int
	QueueSize    int
	WriteTimeout time.Duration
	Logger       logrus.FieldLogger
	// OnError observes persistence failures after they are logged.
	OnError func(error)
	Now     func() time.Time
}

// Stats reports the write-behind worker counters.
type Stats struct {
	Queued  int
	Dropped uint64
	Failed  uint64
}

// Cache is the in-memory set of verified identities per address, mirrored
// to a durable store by a single background worker. Reads never touch the
// store.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]map[uuid.UUID]struct{}

	store    Store
	worker   *worker
	log      logrus.FieldLogger
	now      func() time.Time
	degraded error
}

// New returns an empty cache backed by store without loading it.
func New(store Store, opts Options) *Cache {
	if store == nil {
		store = NoopStore{}
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log := logutil.OrDiscard(opts.Logger)

	onError := func(err error) {
		log.WithError(err).Warn("verified store write failed")
		if opts.OnError != nil {
			opts.OnError(err)
		}
	}

	return &Cache{
		entries: make(map[string]map[uuid.UUID]struct{}),
		store:   store,
		worker:  newWorker(opts.QueueSize, opts.WriteTimeout, onError),
		log:     log,
		now:     opts.Now,
	}
}

// Open initializes the durable store, purges rows older than
// opts.MaxAgeDays and loads the rest. If any step fails the cache runs
// memory-only for the rest of its life and the failure is reported by
// Degraded.
func Open(ctx context.Context, store Store, opts Options) *Cache {
	c := New(store, opts)
	if _, noop := c.store.(NoopStore); noop {
		return c
	}

	entries, err := c.load(ctx, opts.MaxAgeDays)
	if err != nil {
		c.degraded = fmt.Errorf("%w: %v", ErrPersistence, err)
		c.store = NoopStore{}
		c.log.WithError(err).Warn("verified store unavailable, continuing memory-only")
		return c
	}

	c.mu.Lock()
	for _, e := range entries {
		c.insertLocked(e.Address, e.Identity)
	}
	c.mu.Unlock()

	c.log.WithField("entries", len(entries)).Info("verified identities loaded")
	return c
}

func (c *Cache) load(ctx context.Context, maxAgeDays int) ([]Entry, error) {
	if err := c.store.CreateTableIfMissing(ctx); err != nil {
		return nil, fmt.Errorf("create table: %w", err)
	}
	if maxAgeDays > 0 {
		purged, err := c.store.DeleteWhere(ctx, Predicate{OlderThan: c.cutoff(maxAgeDays)})
		if err != nil {
			return nil, fmt.Errorf("purge old rows: %w", err)
		}
		if purged > 0 {
			c.log.WithField("rows", purged).Info("purged expired verified identities")
		}
	}
	entries, err := c.store.QueryAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load rows: %w", err)
	}
	return entries, nil
}

func (c *Cache) cutoff(days int) time.Time {
	return c.now().Add(-time.Duration(days) * 24 * time.Hour)
}

// Degraded returns the initialization failure that forced memory-only
// operation, or nil.
func (c *Cache) Degraded() error { return c.degraded }

func (c *Cache) insertLocked(addr string, id uuid.UUID) bool {
	set, ok := c.entries[addr]
	if !ok {
		set = make(map[uuid.UUID]struct{}, 1)
		c.entries[addr] = set
	}
	if _, dup := set[id]; dup {
		return false
	}
	set[id] = struct{}{}
	return true
}

// Add records a verified pair in memory and queues the durable insert. It
// never waits on the store. A ctx cancelled before the insert starts drops
// the write. Clients that present no identity are recorded under uuid.Nil,
// which only ever matches another identity-less connection from addr.
func (c *Cache) Add(ctx context.Context, addr string, id uuid.UUID) bool {
	if addr == "" {
		return false
	}
	c.mu.Lock()
	added := c.insertLocked(addr, id)
	c.mu.Unlock()
	if !added {
		return false
	}

	e := Entry{Address: addr, Identity: id, CreatedAt: c.now()}
	if err := c.worker.submit(ctx, "insert", func(ctx context.Context) error {
		return c.store.Insert(ctx, e)
	}); err != nil {
		c.logDropped("insert", addr, err)
	}
	return true
}

// Remove forgets every identity verified from addr.
func (c *Cache) Remove(ctx context.Context, addr string) bool {
	c.mu.Lock()
	_, ok := c.entries[addr]
	delete(c.entries, addr)
	c.mu.Unlock()

	if err := c.worker.submit(ctx, "delete", func(ctx context.Context) error {
		_, err := c.store.DeleteWhere(ctx, Predicate{Address: addr})
		return err
	}); err != nil {
		c.logDropped("delete", addr, err)
	}
	return ok
}

func (c *Cache) logDropped(op, addr string, err error) {
	c.log.WithFields(logrus.Fields{"op": op, "addr": addr}).WithError(err).Warn("verified store write not queued")
}

// Has reports whether id was verified from addr.
func (c *Cache) Has(addr string, id uuid.UUID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[addr][id]
	return ok
}

// HasAddress reports whether any identity was verified from addr.
func (c *Cache) HasAddress(addr string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[addr]
	return ok
}

// Identities returns the identities verified from addr in stable order.
func (c *Cache) Identities(addr string) []uuid.UUID {
	c.mu.RLock()
	out := make([]uuid.UUID, 0, len(c.entries[addr]))
	for id := range c.entries[addr] {
		out = append(out, id)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// EstimatedSize is the number of verified pairs. Under concurrent writes
// the value may already be stale when returned.
func (c *Cache) EstimatedSize() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, set := range c.entries {
		n += len(set)
	}
	return n
}

// Addresses returns the number of distinct addresses held.
func (c *Cache) Addresses() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// ClearAll empties memory and queues a durable delete of every row.
func (c *Cache) ClearAll(ctx context.Context) error {
	c.mu.Lock()
	c.entries = make(map[string]map[uuid.UUID]struct{})
	c.mu.Unlock()

	return c.worker.submit(ctx, "delete_all", func(ctx context.Context) error {
		return c.store.DeleteAll(ctx)
	})
}

// ClearOld queues a durable delete of rows older than maxAgeDays. Memory is
// left untouched: entries stay live until Remove, ClearAll or a restart.
func (c *Cache) ClearOld(ctx context.Context, maxAgeDays int) error {
	if maxAgeDays <= 0 {
		return errors.New("verified: max age must be at least one day")
	}
	cutoff := c.cutoff(maxAgeDays)
	return c.worker.submit(ctx, "delete_old", func(ctx context.Context) error {
		n, err := c.store.DeleteWhere(ctx, Predicate{OlderThan: cutoff})
		if err == nil && n > 0 {
			c.log.WithField("rows", n).Info("purged expired verified identities")
		}
		return err
	})
}

// Sync waits until every write queued before the call has finished.
func (c *Cache) Sync(ctx context.Context) error {
	return c.worker.wait(ctx)
}

// Stats returns the worker counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Queued:  c.worker.queued(),
		Dropped: c.worker.dropped.Load(),
		Failed:  c.worker.failed.Load(),
	}
}

// Close stops accepting writes and drains the queue. Memory stays readable.
func (c *Cache) Close() {
	c.worker.close()
}
