package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/risto-app/risto/internal/model"
)

// hitScript mirrors the SQLite upsert: open a window when none is live
// (window_end <= now), increment while count < max, otherwise leave the
// record alone. Returns {allowed, count, window_end}.
var hitScript = redis.NewScript(`
	local key = KEYS[1]
	local now = tonumber(ARGV[1])
	local window_ms = tonumber(ARGV[2])
	local max = tonumber(ARGV[3])
	local new_end = ARGV[4]

	local count = tonumber(redis.call('HGET', key, 'count') or '0')
	local window_end = tonumber(redis.call('HGET', key, 'window_end') or '0')

	if count == 0 or window_end <= now then
		redis.call('HSET', key, 'count', 1, 'window_end', new_end)
		redis.call('PEXPIRE', key, window_ms)
		return {1, 1, tonumber(new_end)}
	end

	if count < max then
		count = redis.call('HINCRBY', key, 'count', 1)
		return {1, count, window_end}
	end

	return {0, count, window_end}
`)

// RedisStore keeps rate-limit records in Redis so several server processes
// share one budget per principal.
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
}

func NewRedisStore(client redis.UniversalClient, keyPrefix string) *RedisStore {
	return &RedisStore{client: client, keyPrefix: keyPrefix}
}

func (s *RedisStore) Hit(ctx context.Context, principal string, max int, window time.Duration, now time.Time) (model.RateLimit, bool, error) {
	nowMs := now.UnixMilli()
	newEnd := nowMs + window.Milliseconds()

	res, err := hitScript.Run(ctx, s.client, []string{s.keyPrefix + principal},
		nowMs, window.Milliseconds(), max, strconv.FormatInt(newEnd, 10),
	).Int64Slice()
	if err != nil {
		return model.RateLimit{}, false, fmt.Errorf("redis rate limit script: %w", err)
	}
	if len(res) != 3 {
		return model.RateLimit{}, false, fmt.Errorf("unexpected redis response length: %d", len(res))
	}

	return model.RateLimit{
		PrincipalID: principal,
		Count:       int(res[1]),
		WindowEnd:   time.UnixMilli(res[2]).UTC(),
	}, res[0] == 1, nil
}

// Reset drops the record for principal.
func (s *RedisStore) Reset(ctx context.Context, principal string) error {
	if err := s.client.Del(ctx, s.keyPrefix+principal).Err(); err != nil {
		return fmt.Errorf("reset rate limit: %w", err)
	}
	return nil
}
