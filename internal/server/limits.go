package server

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/risto-app/risto/internal/ratelimit"
)

const redisKeyPrefix = "risto:rl:"

// OpenRedisLimitStore connects to redisURL and returns a rate limit store
// backed by it, plus the client's close func. Redis expires its own records,
// so Purge never touches them.
func OpenRedisLimitStore(ctx context.Context, redisURL string) (*ratelimit.RedisStore, func() error, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}
	return ratelimit.NewRedisStore(client, redisKeyPrefix), client.Close, nil
}
