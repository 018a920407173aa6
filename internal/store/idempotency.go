package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// IdempotencyGuard deduplicates worker deliveries per (channel, request_id).
// The guard key is claimed with SETNX before any send so that two consumers
// racing on the same redelivered message cannot both reach the provider.
type IdempotencyGuard struct {
	client *redis.Client
	ttl    time.Duration
}

func NewIdempotencyGuard(client *redis.Client, ttl time.Duration) *IdempotencyGuard {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &IdempotencyGuard{client: client, ttl: ttl}
}

// Claim atomically marks the delivery as in flight. Returns true when this
// caller won the claim; false means a duplicate.
func (g *IdempotencyGuard) Claim(ctx context.Context, channel, requestID string) (bool, error) {
	set, err := g.client.SetNX(ctx, idempotencyKey(channel, requestID), "processing", g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim idempotency key: %w", err)
	}
	return set, nil
}

// MarkDone records a terminal outcome under the same key, refreshing the TTL.
func (g *IdempotencyGuard) MarkDone(ctx context.Context, channel, requestID, outcome string) error {
	if err := g.client.Set(ctx, idempotencyKey(channel, requestID), outcome, g.ttl).Err(); err != nil {
		return fmt.Errorf("mark idempotency outcome: %w", err)
	}
	return nil
}

// Release drops the claim so a retry may attempt the delivery again. Used
// when the message is republished instead of reaching a terminal state.
func (g *IdempotencyGuard) Release(ctx context.Context, channel, requestID string) error {
	if err := g.client.Del(ctx, idempotencyKey(channel, requestID)).Err(); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}
