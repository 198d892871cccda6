package cache

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"parsebot/internal/domain"
)

// Redis caches parse results in Redis, for deployments where several bot
// instances share one cache.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{
		client: client,
		ttl:    ttl,
	}
}

func (c *Redis) Get(ctx context.Context, url string) (*domain.ParseResult, error) {
	data, err := c.client.Get(ctx, cacheKey(url)).Bytes()
	if err == redis.Nil {
		return nil, domain.ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var result domain.ParseResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cache data: %w", err)
	}

	return &result, nil
}

func (c *Redis) Set(ctx context.Context, url string, result *domain.ParseResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	if err := c.client.Set(ctx, cacheKey(url), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}

	return nil
}

func (c *Redis) Delete(ctx context.Context, url string) error {
	return c.client.Del(ctx, cacheKey(url)).Err()
}

func (c *Redis) Close() error {
	return c.client.Close()
}

// cacheKey hashes the source URL so arbitrary link bytes never end up in key
// space directly.
func cacheKey(url string) string {
	return fmt.Sprintf("parsebot:url:%x", md5.Sum([]byte(url)))
}
