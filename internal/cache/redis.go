package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	presenceTTL = 2 * time.Minute
	keyPrefix   = "gigchat"
)

// RedisCache mirrors presence for other services and counts sends for rate
// limiting. Live delivery never goes through it.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache connects to redisURL and pings it.
func NewRedisCache(ctx context.Context, redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %v", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping Redis: %v", err)
	}
	return &RedisCache{client: client}, nil
}

// NewRedisCacheFromClient wraps an existing client.
func NewRedisCacheFromClient(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func presenceKey(userID string) string {
	return fmt.Sprintf("%s:presence:%s", keyPrefix, userID)
}

func rateLimitKey(key string, window time.Duration, now time.Time) string {
	bucket := now.UnixNano() / int64(window)
	return fmt.Sprintf("%s:ratelimit:%s:%d", keyPrefix, key, bucket)
}

// SetOnline marks userID online. The key expires unless refreshed, so a
// crashed process does not leave users online forever.
func (c *RedisCache) SetOnline(ctx context.Context, userID string) error {
	return c.client.Set(ctx, presenceKey(userID), time.Now().Unix(), presenceTTL).Err()
}

// SetOffline removes the presence key.
func (c *RedisCache) SetOffline(ctx context.Context, userID string) error {
	return c.client.Del(ctx, presenceKey(userID)).Err()
}

// IsOnline reports whether the presence key exists.
func (c *RedisCache) IsOnline(ctx context.Context, userID string) (bool, error) {
	n, err := c.client.Exists(ctx, presenceKey(userID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// refundScript decrements a window counter without creating it or taking it
// below zero.
var refundScript = redis.NewScript(`
local v = tonumber(redis.call("GET", KEYS[1]) or "0")
if v > 0 then
	return redis.call("DECR", KEYS[1])
end
return 0
`)

// Allow counts one event for key in the current fixed window and reports
// whether the count is still within limit.
func (c *RedisCache) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 || window <= 0 {
		return true, nil
	}
	k := rateLimitKey(key, window, time.Now())

	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.Expire(ctx, k, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return incr.Val() <= int64(limit), nil
}

// Refund gives back one event counted by Allow in the current window.
func (c *RedisCache) Refund(ctx context.Context, key string, window time.Duration) error {
	if window <= 0 {
		return nil
	}
	return refundScript.Run(ctx, c.client, []string{rateLimitKey(key, window, time.Now())}).Err()
}
