package rate

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisExpiring enforces the reconnect delay across every proxy sharing
// one Redis deployment.
type RedisExpiring struct {
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisExpiring creates a Redis-backed reconnect limiter.
func NewRedisExpiring(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisExpiring {
	if prefix == "" {
		prefix = "gf"
	}
	return &RedisExpiring{redis: client, prefix: prefix, ttl: ttl}
}

func (l *RedisExpiring) key(addr string) string {
	return l.prefix + ":fr:" + addr
}

func (l *RedisExpiring) Allow(ctx context.Context, addr string, _ time.Time) (time.Duration, error) {
	key := l.key(addr)
	ok, err := l.redis.SetNX(ctx, key, 1, l.ttl).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if ok {
		return 0, nil
	}

	wait, err := l.redis.PTTL(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if wait < 0 {
		// Key vanished or has no expiry; treat as a full delay.
		wait = l.ttl
	}
	return wait, ErrRateLimited
}

func (l *RedisExpiring) Penalize(ctx context.Context, addr string, _ time.Time) error {
	if err := l.redis.Set(ctx, l.key(addr), 1, l.ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}
