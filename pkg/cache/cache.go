// Package cache provides a namespaced Redis-backed key/value store used by
// the read-through availability cache. Entries are JSON-encoded and bounded
// by TTL; callers treat every failure as a miss.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/brightsteps/scheduling-backend/pkg/config"
	"github.com/brightsteps/scheduling-backend/pkg/logger"
)

// Client wraps the Redis client with namespaced JSON get/set operations.
type Client struct {
	rdb    *redis.Client
	logger *logger.Logger
}

// New connects to Redis and verifies the connection.
func New(cfg *config.RedisConfig, log *logger.Logger) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	log.Info().Str("addr", rdb.Options().Addr).Msg("connected to Redis")

	return &Client{rdb: rdb, logger: log}, nil
}

// Key builds the full cache key from a namespace and logical key.
func Key(namespace, key string) string {
	return namespace + ":" + key
}

// Get fetches and decodes an entry. The second return value is false on a
// miss; errors other than a miss are returned for the caller to log.
func (c *Client) Get(ctx context.Context, namespace, key string, dest any) (bool, error) {
	val, err := c.rdb.Get(ctx, Key(namespace, key)).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache get %s: %w", Key(namespace, key), err)
	}
	if err := json.Unmarshal(val, dest); err != nil {
		return false, fmt.Errorf("cache decode %s: %w", Key(namespace, key), err)
	}
	return true, nil
}

// Set encodes and stores an entry with the given TTL.
func (c *Client) Set(ctx context.Context, namespace, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache encode %s: %w", Key(namespace, key), err)
	}
	if err := c.rdb.Set(ctx, Key(namespace, key), data, ttl).Err(); err != nil {
		return fmt.Errorf("cache set %s: %w", Key(namespace, key), err)
	}
	return nil
}

// Delete removes a single entry.
func (c *Client) Delete(ctx context.Context, namespace, key string) error {
	if err := c.rdb.Del(ctx, Key(namespace, key)).Err(); err != nil {
		return fmt.Errorf("cache delete %s: %w", Key(namespace, key), err)
	}
	return nil
}

// DeleteByPattern removes every key in a namespace matching the glob
// pattern. Uses SCAN so invalidation never blocks Redis.
func (c *Client) DeleteByPattern(ctx context.Context, namespace, pattern string) error {
	match := Key(namespace, pattern)
	iter := c.rdb.Scan(ctx, 0, match, 100).Iterator()

	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("cache scan %s: %w", match, err)
	}

	if len(keys) == 0 {
		return nil
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("cache delete pattern %s: %w", match, err)
	}
	return nil
}

// Health returns the health status of Redis.
func (c *Client) Health(ctx context.Context) map[string]string {
	status := map[string]string{"status": "up"}

	ctx, cancel := context.WithTimeout(ctx, 1*time.Second)
	defer cancel()

	if err := c.rdb.Ping(ctx).Err(); err != nil {
		status["status"] = "down"
		status["error"] = err.Error()
	}
	return status
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}
