package verified

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func newRedisStore(t *testing.T) (*miniredis.Miniredis, *RedisStore) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})
	return mr, NewRedisStore(rdb, "gf")
}

func TestRedisStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	mr, s := newRedisStore(t)
	if err := s.CreateTableIfMissing(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}

	now := time.UnixMilli(1714564800000)
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	entries := []Entry{
		{Address: "2001:db8::1", Identity: a, CreatedAt: now.Add(-40 * 24 * time.Hour)},
		{Address: "2001:db8::1", Identity: b, CreatedAt: now},
		{Address: "10.0.0.20", Identity: c, CreatedAt: now},
	}
	for _, e := range entries {
		if err := s.Insert(ctx, e); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	// Re-inserting keeps the original score.
	if err := s.Insert(ctx, Entry{Address: "10.0.0.20", Identity: c, CreatedAt: now.Add(time.Hour)}); err != nil {
		t.Fatalf("reinsert: %v", err)
	}
	if score, _ := mr.ZScore("gf:verified", "10.0.0.20|"+c.String()); score != float64(now.UnixMilli()) {
		t.Fatalf("score changed to %v", score)
	}

	all, err := s.QueryAll(ctx)
	if err != nil || len(all) != 3 {
		t.Fatalf("query all: %d, %v", len(all), err)
	}
	if all[0].Address != "2001:db8::1" || all[0].Identity != a || !all[0].CreatedAt.Equal(entries[0].CreatedAt) {
		t.Fatalf("unexpected oldest entry %+v", all[0])
	}

	n, err := s.DeleteWhere(ctx, Predicate{OlderThan: now.Add(-30 * 24 * time.Hour)})
	if err != nil || n != 1 {
		t.Fatalf("delete old: n=%d err=%v", n, err)
	}
	n, err = s.DeleteWhere(ctx, Predicate{Address: "2001:db8::1"})
	if err != nil || n != 1 {
		t.Fatalf("delete by address: n=%d err=%v", n, err)
	}
	// An address that is a prefix of another must not match it.
	n, err = s.DeleteWhere(ctx, Predicate{Address: "10.0.0.2"})
	if err != nil || n != 0 {
		t.Fatalf("prefix address deleted %d rows, err=%v", n, err)
	}

	if err := s.DeleteAll(ctx); err != nil {
		t.Fatalf("delete all: %v", err)
	}
	if mr.Exists("gf:verified") {
		t.Fatal("key survived delete all")
	}
}

func TestRedisStoreUnavailableDegradesCache(t *testing.T) {
	mr, s := newRedisStore(t)
	mr.Close()

	c := Open(context.Background(), s, Options{})
	defer c.Close()
	if !errors.Is(c.Degraded(), ErrPersistence) {
		t.Fatalf("expected degraded cache, got %v", c.Degraded())
	}
	if err := s.Insert(context.Background(), Entry{Address: "a", Identity: uuid.New()}); !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("expected redis unavailable, got %v", err)
	}
}
