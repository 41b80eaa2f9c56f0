package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore shares counters across processes through Redis. The window
// end is carried by the key's TTL.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to the Redis URI and verifies the connection.
func NewRedisStore(uri string) (*RedisStore, error) {
	opts, errParse := redis.ParseURL(uri)
	if errParse != nil {
		return nil, fmt.Errorf("ratelimit: parse redis uri: %w", errParse)
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if errPing := client.Ping(ctx).Err(); errPing != nil {
		return nil, fmt.Errorf("ratelimit: redis ping: %w", errPing)
	}
	return &RedisStore{client: client, prefix: "ratelimit:"}, nil
}

// Hit implements Store.
func (r *RedisStore) Hit(key string, window time.Duration, count int) (int, time.Time, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	name := r.prefix + key
	if count == 0 {
		// A peek reads without creating the key.
		total, errGet := r.client.Get(ctx, name).Int64()
		if errGet == redis.Nil {
			return 0, time.Now().Add(window), nil
		}
		if errGet != nil {
			return 0, time.Time{}, fmt.Errorf("ratelimit: redis get: %w", errGet)
		}
		ttl, errTTL := r.client.TTL(ctx, name).Result()
		if errTTL != nil {
			return 0, time.Time{}, fmt.Errorf("ratelimit: redis ttl: %w", errTTL)
		}
		if ttl < 0 {
			ttl = window
		}
		return int(total), time.Now().Add(ttl), nil
	}
	total, errIncr := r.client.IncrBy(ctx, name, int64(count)).Result()
	if errIncr != nil {
		return 0, time.Time{}, fmt.Errorf("ratelimit: redis incr: %w", errIncr)
	}
	if total == int64(count) {
		// First hit of the window fixes its end.
		if errExpire := r.client.Expire(ctx, name, window).Err(); errExpire != nil {
			return 0, time.Time{}, fmt.Errorf("ratelimit: redis expire: %w", errExpire)
		}
	}
	ttl, errTTL := r.client.TTL(ctx, name).Result()
	if errTTL != nil {
		return 0, time.Time{}, fmt.Errorf("ratelimit: redis ttl: %w", errTTL)
	}
	if ttl < 0 {
		ttl = window
	}
	return int(total), time.Now().Add(ttl), nil
}
