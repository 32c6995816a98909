package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var _ Store = (*RedisStore)(nil)

// incrWindowScript bumps the window counter and arms the expiry in one atomic
// step. Doing INCR and PEXPIRE as separate calls would leave an immortal key
// if the process died between them, rate-limiting that client forever.
//
// KEYS[1] = window key
// ARGV[1] = window length in milliseconds
var incrWindowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
    redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// RedisStore shares fixed windows across instances: one key per client per
// window, its TTL the reset.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "ratelimit"
	}

	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	redisKey := fmt.Sprintf("%s:%s", s.prefix, key)

	count, err := incrWindowScript.Run(ctx, s.client, []string{redisKey}, window.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("incr window: %w", err)
	}

	return count, nil
}
