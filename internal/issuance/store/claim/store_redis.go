package claim

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"certledger/internal/certificate"
	"certledger/pkg/platform/sentinel"
)

// releaseScript deletes the key only when it still holds our token, so a
// claim that expired and was re-taken is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisStore shares claims across instances.
type RedisStore struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Acquire(ctx context.Context, fp certificate.Fingerprint, ttl time.Duration) (string, error) {
	token := newToken()
	ok, err := s.client.SetNX(ctx, keyPrefix+fp.String(), token, ttl).Result()
	if err != nil {
		return "", fmt.Errorf("acquire claim: %w", err)
	}
	if !ok {
		return "", fmt.Errorf("claim %s: %w", fp.Short(), sentinel.ErrConflict)
	}
	return token, nil
}

func (s *RedisStore) Release(ctx context.Context, fp certificate.Fingerprint, token string) error {
	if err := releaseScript.Run(ctx, s.client, []string{keyPrefix + fp.String()}, token).Err(); err != nil {
		return fmt.Errorf("release claim: %w", err)
	}
	return nil
}
