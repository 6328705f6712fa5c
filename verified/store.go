package verified

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrPersistence wraps every failure of a durable store operation.
	ErrPersistence = errors.New("verified: persistence failure")
	// ErrQueueFull is returned when the write-behind queue has no room.
	ErrQueueFull = errors.New("verified: write queue full")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("verified: cache closed")
	// ErrEmptyPredicate guards against unconditional deletes through
	// DeleteWhere; use DeleteAll instead.
	ErrEmptyPredicate = errors.New("verified: empty delete predicate")
)

// Entry is one verified (address, identity) pair.
type Entry struct {
	Address   string
	Identity  uuid.UUID
	CreatedAt time.Time
}

// Predicate selects rows for DeleteWhere. Set fields are combined with AND.
type Predicate struct {
	Address   string
	OlderThan time.Time
}

func (p Predicate) empty() bool {
	return p.Address == "" && p.OlderThan.IsZero()
}

// Store is the durable side of the cache.
type Store interface {
	CreateTableIfMissing(ctx context.Context) error
	Insert(ctx context.Context, e Entry) error
	DeleteWhere(ctx context.Context, p Predicate) (int64, error)
	QueryAll(ctx context.Context) ([]Entry, error)
	DeleteAll(ctx context.Context) error
}

// NoopStore keeps nothing. The cache falls back to it when the durable
// store cannot be initialized.
type NoopStore struct{}

func (NoopStore) CreateTableIfMissing(context.Context) error { return nil }

func (NoopStore) Insert(context.Context, Entry) error { return nil }

func (NoopStore) DeleteWhere(_ context.Context, p Predicate) (int64, error) {
	if p.empty() {
		return 0, ErrEmptyPredicate
	}
	return 0, nil
}

func (NoopStore) QueryAll(context.Context) ([]Entry, error) { return nil, nil }

func (NoopStore) DeleteAll(context.Context) error { return nil }

// UnavailableStore fails every operation with Err. It stands in for a store
// whose connection could not be opened, so Open degrades the usual way.
type UnavailableStore struct {
	Err error
}

func (s UnavailableStore) CreateTableIfMissing(context.Context) error { return s.Err }

func (s UnavailableStore) Insert(context.Context, Entry) error { return s.Err }

func (s UnavailableStore) DeleteWhere(context.Context, Predicate) (int64, error) { return 0, s.Err }

func (s UnavailableStore) QueryAll(context.Context) ([]Entry, error) { return nil, s.Err }

func (s UnavailableStore) DeleteAll(context.Context) error { return s.Err }
