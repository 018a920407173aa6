package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/baechuer/notify-platform/internal/domain"
)

// UserCache is a read-through cache in front of the user directory.
type UserCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewUserCache(client *redis.Client, ttl time.Duration) *UserCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &UserCache{client: client, ttl: ttl}
}

// Get returns the cached user, or (nil, false, nil) on a miss. Cache errors
// are returned so the caller can decide to fall through to the directory.
func (c *UserCache) Get(ctx context.Context, userID string) (*domain.UserInfo, bool, error) {
	raw, err := c.client.Get(ctx, userCacheKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get cached user: %w", err)
	}

	var info domain.UserInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, false, fmt.Errorf("decode cached user: %w", err)
	}
	return &info, true, nil
}

// Set stores the user under the cache TTL.
func (c *UserCache) Set(ctx context.Context, userID string, info *domain.UserInfo) error {
	payload, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("marshal cached user: %w", err)
	}
	if err := c.client.Set(ctx, userCacheKey(userID), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache user: %w", err)
	}
	return nil
}
