package verified

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps transport failures of RedisStore.
var ErrRedisUnavailable = errors.New("verified: redis unavailable")

const memberSep = "|"

// deleteWhereScript removes members of KEYS[1] whose address equals ARGV[1]
// (any address when empty) and whose score is below ARGV[2] (any score when
// empty).
const deleteWhereScript = `
local members
if ARGV[2] ~= "" then
  members = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", "(" .. ARGV[2])
else
  members = redis.call("ZRANGE", KEYS[1], 0, -1)
end
local prefix = ARGV[1] .. "|"
local removed = 0
for _, m in ipairs(members) do
  if ARGV[1] == "" or string.sub(m, 1, #prefix) == prefix then
    removed = removed + redis.call("ZREM", KEYS[1], m)
  end
end
return removed
`

var deleteWhereLua = redis.NewScript(deleteWhereScript)

// RedisStore keeps entries in one sorted set: members are
// "address|identity", scored by creation time in unix milliseconds.
type RedisStore struct {
	rdb redis.UniversalClient
	key string
}

// NewRedisStore stores entries under "<prefix>:verified".
func NewRedisStore(rdb redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "gf"
	}
	return &RedisStore{rdb: rdb, key: prefix + ":verified"}
}

func (s *RedisStore) CreateTableIfMissing(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (s *RedisStore) Insert(ctx context.Context, e Entry) error {
	err := s.rdb.ZAddNX(ctx, s.key, redis.Z{
		Score:  float64(e.CreatedAt.UnixMilli()),
		Member: e.Address + memberSep + e.Identity.String(),
	}).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (s *RedisStore) DeleteWhere(ctx context.Context, p Predicate) (int64, error) {
	if p.empty() {
		return 0, ErrEmptyPredicate
	}
	before := ""
	if !p.OlderThan.IsZero() {
		before = strconv.FormatInt(p.OlderThan.UnixMilli(), 10)
	}
	n, err := deleteWhereLua.Run(ctx, s.rdb, []string{s.key}, p.Address, before).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return n, nil
}

// QueryAll skips members that do not parse.
func (s *RedisStore) QueryAll(ctx context.Context) ([]Entry, error) {
	zs, err := s.rdb.ZRangeWithScores(ctx, s.key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	out := make([]Entry, 0, len(zs))
	for _, z := range zs {
		member, ok := z.Member.(string)
		if !ok {
			continue
		}
		i := strings.LastIndex(member, memberSep)
		if i <= 0 {
			continue
		}
		id, err := uuid.Parse(member[i+1:])
		if err != nil {
			continue
		}
		out = append(out, Entry{
			Address:   member[:i],
			Identity:  id,
			CreatedAt: time.UnixMilli(int64(z.Score)),
		})
	}
	return out, nil
}

func (s *RedisStore) DeleteAll(ctx context.Context) error {
	if err := s.rdb.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}
