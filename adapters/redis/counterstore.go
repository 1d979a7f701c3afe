package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/artpar/poolgate/ports"
)

// incrExpire runs INCRBY or INCRBYFLOAT (ARGV[3]) and sets PX ARGV[2]
// when the key has no expiry.
var incrExpire = redis.NewScript(`
local v
if ARGV[3] == 'float' then
  v = redis.call('INCRBYFLOAT', KEYS[1], ARGV[1])
else
  v = redis.call('INCRBY', KEYS[1], ARGV[1])
end
if redis.call('PTTL', KEYS[1]) == -1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return v
`)

// CounterStore implements ports.CounterStore with plain Redis strings.
type CounterStore struct {
	c *Client
}

// NewCounterStore creates a counter store on c.
func NewCounterStore(c *Client) *CounterStore {
	return &CounterStore{c: c}
}

// IncrBy runs INCRBY.
func (s *CounterStore) IncrBy(ctx context.Context, key string, n int64) (int64, error) {
	return s.c.rdb.IncrBy(ctx, key, n).Result()
}

// IncrByFloat runs INCRBYFLOAT.
func (s *CounterStore) IncrByFloat(ctx context.Context, key string, v float64) (float64, error) {
	return s.c.rdb.IncrByFloat(ctx, key, v).Result()
}

// IncrByExpire runs INCRBY and PEXPIRE on a persistent key in one script.
func (s *CounterStore) IncrByExpire(ctx context.Context, key string, n int64, ttl time.Duration) (int64, error) {
	if ttl <= 0 {
		return s.IncrBy(ctx, key, n)
	}
	return incrExpire.Run(ctx, s.c.rdb, []string{key}, n, ttl.Milliseconds(), "int").Int64()
}

// IncrByFloatExpire runs INCRBYFLOAT and PEXPIRE on a persistent key in one script.
func (s *CounterStore) IncrByFloatExpire(ctx context.Context, key string, v float64, ttl time.Duration) (float64, error) {
	if ttl <= 0 {
		return s.IncrByFloat(ctx, key, v)
	}
	// INCRBYFLOAT replies with a bulk string
	out, err := incrExpire.Run(ctx, s.c.rdb, []string{key}, strconv.FormatFloat(v, 'f', -1, 64), ttl.Milliseconds(), "float").Text()
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(out, 64)
}

// SetNX runs SET NX PX.
func (s *CounterStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return s.c.rdb.SetNX(ctx, key, value, ttl).Result()
}

// Set runs SET with an optional PX.
func (s *CounterStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.c.rdb.Set(ctx, key, value, ttl).Err()
}

// Get runs GET.
func (s *CounterStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.c.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// TTL runs PTTL; missing and persistent keys report !ok.
func (s *CounterStore) TTL(ctx context.Context, key string) (time.Duration, bool, error) {
	d, err := s.c.rdb.PTTL(ctx, key).Result()
	if err != nil {
		return 0, false, err
	}
	if d < 0 {
		return 0, false, nil
	}
	return d, true, nil
}

// Scan walks the keyspace with SCAN MATCH.
func (s *CounterStore) Scan(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := s.c.rdb.Scan(ctx, 0, pattern, 500).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan %q: %w", pattern, err)
	}
	return keys, nil
}

// Del runs DEL.
func (s *CounterStore) Del(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	return s.c.rdb.Del(ctx, keys...).Result()
}

// Ensure interface compliance.
var _ ports.CounterStore = (*CounterStore)(nil)
