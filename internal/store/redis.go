package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/baechuer/notify-platform/internal/config"
)

// Connect opens a Redis client and verifies connectivity.
func Connect(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// Key builders. All notification state shares one keyspace, so every key
// goes through these.

func notificationKey(id string) string {
	return "notification:" + id
}

func requestKey(requestID string) string {
	return "request:" + requestID
}

func userIndexKey(userID string) string {
	return "user_notifications:" + userID
}

func userCacheKey(userID string) string {
	return "user:" + userID
}

func idempotencyKey(channel, requestID string) string {
	return fmt.Sprintf("idempotency:%s:%s", channel, requestID)
}

func rateLimitKey(identifier string) string {
	return "ratelimit:" + identifier
}
