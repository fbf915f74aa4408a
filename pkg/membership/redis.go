package membership

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	redisBackend   = "redis"
	redisKeyPrefix = "ghauth:membership:"
)

// RedisCache stores records as JSON so several registry replicas share one
// view of memberships.
type RedisCache struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisClient connects to the Redis server at redisURL and verifies it
// answers a PING.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolTimeout = 4 * time.Second

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return client, nil
}

// NewRedisCache creates a cache on client. now supplies the time used to
// compute key TTLs; nil means time.Now.
func NewRedisCache(client *redis.Client, now func() time.Time) *RedisCache {
	if now == nil {
		now = time.Now
	}
	return &RedisCache{client: client, now: now}
}

func redisKey(username string) string {
	return redisKeyPrefix + username
}

// Get returns the record for username
func (c *RedisCache) Get(ctx context.Context, username string) (*Record, error) {
	key := redisKey(username)

	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	} else if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		// Corrupt entries are dropped and reported as a miss
		c.client.Del(ctx, key)
		return nil, ErrCacheMiss
	}

	return &record, nil
}

// Put stores record with a TTL ending at record.ExpiresAt. Records that are
// already expired are not written.
func (c *RedisCache) Put(ctx context.Context, record *Record) error {
	if err := validate(record); err != nil {
		return err
	}

	ttl := record.ExpiresAt.Sub(c.now())
	if ttl <= 0 {
		return c.Evict(ctx, record.Username)
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal membership record: %w", err)
	}

	if err := c.client.Set(ctx, redisKey(record.Username), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Evict removes the record for username
func (c *RedisCache) Evict(ctx context.Context, username string) error {
	if err := c.client.Del(ctx, redisKey(username)).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}

func (c *RedisCache) Name() string { return redisBackend }
