package template

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache holds template rows in Redis so workers do not hit Postgres on
// every render.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Cache{client: client, ttl: ttl}
}

// version 0 means "latest".
func cacheKey(code, language string, version int) string {
	v := "latest"
	if version > 0 {
		v = strconv.Itoa(version)
	}
	return fmt.Sprintf("template:%s:%s:%s", code, language, v)
}

// Get returns the cached template or (nil, false) on a miss. Cache failures
// degrade to a miss.
func (c *Cache) Get(ctx context.Context, code, language string, version int) (*Template, bool) {
	raw, err := c.client.Get(ctx, cacheKey(code, language, version)).Bytes()
	if err != nil {
		return nil, false
	}
	var t Template
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, false
	}
	return &t, true
}

// Set caches the template under both its exact version and, when it is the
// active row, the "latest" alias.
func (c *Cache) Set(ctx context.Context, t *Template) {
	payload, err := json.Marshal(t)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, cacheKey(t.TemplateCode, t.Language, t.Version), payload, c.ttl).Err()
	if t.IsActive {
		_ = c.client.Set(ctx, cacheKey(t.TemplateCode, t.Language, 0), payload, c.ttl).Err()
	}
}

// Invalidate drops every cached version of a template.
func (c *Cache) Invalidate(ctx context.Context, code, language string) error {
	pattern := fmt.Sprintf("template:%s:%s:*", code, language)
	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan template cache: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("invalidate template cache: %w", err)
	}
	return nil
}
