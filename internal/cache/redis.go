package cache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/pulseboard/pulse/pkg/config"
	"github.com/pulseboard/pulse/pkg/logging"
)

const keyPrefix = "pulse:"

// Cache wraps Redis client
type Cache struct {
	client *redis.Client
}

// New creates a new Redis cache client. A disabled configuration yields a nil
// cache, which every method treats as disabled.
func New(cfg *config.RedisConfig) (*Cache, error) {
	if !cfg.Enabled {
		logging.GetLogger().Info("Redis cache disabled")
		return nil, nil
	}

	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logging.GetLogger().Info("Redis connection established")

	return &Cache{client: client}, nil
}

// NewWithClient wraps an existing client
func NewWithClient(client *redis.Client) *Cache {
	return &Cache{client: client}
}

// HashKey derives a fixed-length key from arbitrary parts
func HashKey(parts ...string) string {
	sum := md5.Sum([]byte(strings.Join(parts, ":")))
	return hex.EncodeToString(sum[:])
}

func (c *Cache) namespaceKey(key string) string {
	return keyPrefix + key
}

// Get retrieves a value from cache. A missing key returns ErrMiss.
func (c *Cache) Get(ctx context.Context, key string) (string, error) {
	if c == nil || c.client == nil {
		return "", ErrCacheDisabled
	}
	val, err := c.client.Get(ctx, c.namespaceKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrMiss
	}
	return val, err
}

// Set sets a value in cache with TTL
func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if c == nil || c.client == nil {
		return ErrCacheDisabled
	}
	return c.client.Set(ctx, c.namespaceKey(key), value, ttl).Err()
}

// GetJSON decodes a cached JSON value into dest
func (c *Cache) GetJSON(ctx context.Context, key string, dest interface{}) error {
	raw, err := c.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		return fmt.Errorf("failed to decode cached %s: %w", key, err)
	}
	return nil
}

// SetJSON caches value encoded as JSON
func (c *Cache) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return c.Set(ctx, key, raw, ttl)
}

// Version returns the counter stored at key, zero when it is absent
func (c *Cache) Version(ctx context.Context, key string) (int64, error) {
	if c == nil || c.client == nil {
		return 0, ErrCacheDisabled
	}
	n, err := c.client.Get(ctx, c.namespaceKey(key)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

// Bump increments the counters at keys in one transaction and extends their
// lifetime to ttl
func (c *Cache) Bump(ctx context.Context, ttl time.Duration, keys ...string) error {
	if c == nil || c.client == nil {
		return ErrCacheDisabled
	}
	if len(keys) == 0 {
		return nil
	}
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, k := range keys {
			namespaced := c.namespaceKey(k)
			pipe.Incr(ctx, namespaced)
			pipe.Expire(ctx, namespaced, ttl)
		}
		return nil
	})
	return err
}

// Close closes the Redis connection
func (c *Cache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// Health checks Redis health
func (c *Cache) Health(ctx context.Context) error {
	if c == nil || c.client == nil {
		return ErrCacheDisabled
	}
	return c.client.Ping(ctx).Err()
}

var (
	// ErrCacheDisabled is returned when cache operations are attempted but cache is disabled
	ErrCacheDisabled = errors.New("cache is disabled")

	// ErrMiss is returned when a key is not cached
	ErrMiss = errors.New("cache miss")
)
