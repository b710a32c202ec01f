package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	domain "github.com/care/erpsync/internal/domain/sync"
)

const sessionKeyPrefix = "erpsync:session:"

// RedisSessionCache implements the session cache on Redis. Suitable for
// distributed deployments where multiple instances share one authenticated
// session per connection identity.
type RedisSessionCache struct {
	client    *redis.Client
	keyPrefix string
}

// RedisOptions holds Redis connection settings for the session cache
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisSessionCache connects to Redis and verifies the connection.
func NewRedisSessionCache(opts RedisOptions) (*RedisSessionCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisSessionCache{
		client:    client,
		keyPrefix: sessionKeyPrefix,
	}, nil
}

// NewRedisSessionCacheWithClient creates a cache with an existing client.
// Useful for testing or when sharing a client across components.
func NewRedisSessionCacheWithClient(client *redis.Client, keyPrefix string) *RedisSessionCache {
	if keyPrefix == "" {
		keyPrefix = sessionKeyPrefix
	}
	return &RedisSessionCache{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

// Get returns the cached session for a connection key, if present.
func (c *RedisSessionCache) Get(ctx context.Context, key string) (*domain.Session, bool, error) {
	raw, err := c.client.Get(ctx, c.keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cached session: %w", err)
	}

	var session domain.Session
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, false, fmt.Errorf("failed to decode cached session: %w", err)
	}
	return &session, true, nil
}

// Set stores a session under a connection key for the given TTL.
func (c *RedisSessionCache) Set(ctx context.Context, key string, session *domain.Session, ttl time.Duration) error {
	raw, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := c.client.Set(ctx, c.keyPrefix+key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache session: %w", err)
	}
	return nil
}

// Invalidate drops the cached session for a connection key.
func (c *RedisSessionCache) Invalidate(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("failed to invalidate session: %w", err)
	}
	return nil
}

// Close closes the Redis client.
func (c *RedisSessionCache) Close() error {
	return c.client.Close()
}
