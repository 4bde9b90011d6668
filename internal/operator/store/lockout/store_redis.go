package lockout

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"certledger/pkg/requestcontext"
)

// recordScript increments the counter and starts the window on the first
// failure, atomically.
var recordScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return {n, redis.call("PTTL", KEYS[1])}
`)

// RedisStore shares failure counters across instances.
type RedisStore struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) RecordFailure(ctx context.Context, key string, window time.Duration) (int, time.Time, error) {
	res, err := recordScript.Run(ctx, s.client, []string{key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, time.Time{}, err
	}
	return int(res[0]), requestcontext.Now(ctx).Add(time.Duration(res[1]) * time.Millisecond), nil
}

func (s *RedisStore) Failures(ctx context.Context, key string) (int, time.Time, error) {
	n, err := s.client.Get(ctx, key).Int()
	if errors.Is(err, redis.Nil) {
		return 0, time.Time{}, nil
	}
	if err != nil {
		return 0, time.Time{}, err
	}
	ttl, err := s.client.PTTL(ctx, key).Result()
	if err != nil {
		return 0, time.Time{}, err
	}
	return n, requestcontext.Now(ctx).Add(ttl), nil
}

func (s *RedisStore) Clear(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}
