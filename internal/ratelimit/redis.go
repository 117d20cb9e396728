package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/keygate/keygate/internal/model"
)

// DefaultRedisPrefix namespaces window keys in a shared Redis.
const DefaultRedisPrefix = "keygate:rl:"

// consumeScript runs the whole check on the server so concurrent gateways
// never race on the same counter. The key's TTL is the window: it is set
// when the first request of a window creates the counter.
//
// KEYS[1] window counter
// ARGV[1] limit
// ARGV[2] window in milliseconds
// Returns {admitted (0/1), count, remaining ttl in ms}.
var consumeScript = redis.NewScript(`
local limit = tonumber(ARGV[1])
local count = tonumber(redis.call('GET', KEYS[1]) or '0')
local admitted = 0
if count < limit then
  count = redis.call('INCR', KEYS[1])
  admitted = 1
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
  ttl = tonumber(ARGV[2])
end
return {admitted, count, ttl}
`)

// RedisLimiter keeps windows in Redis so every gateway instance enforces
// the same quota.
type RedisLimiter struct {
	client redis.UniversalClient
	prefix string
}

var _ Limiter = (*RedisLimiter)(nil)

// NewRedisLimiter wraps an existing client. An empty prefix selects
// DefaultRedisPrefix.
func NewRedisLimiter(client redis.UniversalClient, prefix string) *RedisLimiter {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisLimiter{client: client, prefix: prefix}
}

// DialRedis parses a redis:// URL and verifies the server answers.
func DialRedis(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

func (l *RedisLimiter) key(id string) string { return l.prefix + id }

// CheckAndConsume implements Limiter. Window timing follows the Redis
// server clock; now only anchors the returned ResetAt.
func (l *RedisLimiter) CheckAndConsume(ctx context.Context, key *model.APIKey, now time.Time) (Decision, error) {
	policy := key.Quota
	if policy.IsUnlimited() {
		return unlimited(), nil
	}

	windowMs := policy.Window.Milliseconds()
	if windowMs < 1 {
		windowMs = 1
	}
	res, err := consumeScript.Run(ctx, l.client, []string{l.key(key.ID)}, policy.Limit, windowMs).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit script: %w", err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("rate limit script: unexpected reply %v", res)
	}

	admitted, count, ttl := res[0] == 1, res[1], res[2]
	d := Decision{
		Admitted: admitted,
		Limit:    policy.Limit,
		ResetAt:  now.Add(time.Duration(ttl) * time.Millisecond),
	}
	if admitted {
		d.Remaining = max(policy.Limit-count, 0)
	}
	return d, nil
}

// Forget implements Limiter.
func (l *RedisLimiter) Forget(ctx context.Context, keyID string) error {
	if err := l.client.Del(ctx, l.key(keyID)).Err(); err != nil {
		return fmt.Errorf("forget rate limit window: %w", err)
	}
	return nil
}
