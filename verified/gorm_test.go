package verified

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func newSQLiteStore(t *testing.T) *GormStore {
	t.Helper()
	db, err := OpenGorm("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	s, err := NewGormStore(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

func TestGormStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)
	if err := s.CreateTableIfMissing(ctx); err != nil {
		t.Fatalf("create table: %v", err)
	}
	if err := s.CreateTableIfMissing(ctx); err != nil {
		t.Fatalf("create table twice: %v", err)
	}

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	for _, e := range []Entry{
		{Address: "10.0.0.1", Identity: a, CreatedAt: now.Add(-40 * 24 * time.Hour)},
		{Address: "10.0.0.1", Identity: b, CreatedAt: now},
		{Address: "10.0.0.2", Identity: c, CreatedAt: now},
	} {
		if err := s.Insert(ctx, e); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	all, err := s.QueryAll(ctx)
	if err != nil || len(all) != 3 {
		t.Fatalf("query all: %d rows, %v", len(all), err)
	}
	if all[0].Identity != a || all[0].Address != "10.0.0.1" {
		t.Fatalf("unexpected first row %+v", all[0])
	}

	n, err := s.DeleteWhere(ctx, Predicate{OlderThan: now.Add(-30 * 24 * time.Hour)})
	if err != nil || n != 1 {
		t.Fatalf("delete old: n=%d err=%v", n, err)
	}
	n, err = s.DeleteWhere(ctx, Predicate{Address: "10.0.0.2"})
	if err != nil || n != 1 {
		t.Fatalf("delete by address: n=%d err=%v", n, err)
	}
	if _, err := s.DeleteWhere(ctx, Predicate{}); !errors.Is(err, ErrEmptyPredicate) {
		t.Fatalf("expected empty predicate error, got %v", err)
	}

	if err := s.DeleteAll(ctx); err != nil {
		t.Fatalf("delete all: %v", err)
	}
	if all, _ := s.QueryAll(ctx); len(all) != 0 {
		t.Fatalf("rows left after delete all: %d", len(all))
	}
}

func TestCacheOverSQLite(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)

	c := Open(ctx, s, Options{MaxAgeDays: 30})
	id := uuid.New()
	c.Add(ctx, "198.51.100.4", id)
	syncCache(t, c)
	c.Close()

	reopened := Open(ctx, s, Options{MaxAgeDays: 30})
	defer reopened.Close()
	if reopened.Degraded() != nil {
		t.Fatalf("degraded: %v", reopened.Degraded())
	}
	if !reopened.Has("198.51.100.4", id) {
		t.Fatal("entry did not survive a restart")
	}
}

func TestOpenGormRejectsUnknownDriver(t *testing.T) {
	if _, err := OpenGorm("oracle", "x"); err == nil {
		t.Fatal("expected unsupported driver error")
	}
	if _, err := OpenGorm("mysql", ""); err == nil {
		t.Fatal("expected missing dsn error")
	}
	if _, err := NewGormStore(nil); err == nil {
		t.Fatal("expected nil db error")
	}
}
