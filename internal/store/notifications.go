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

// NotificationStore persists notification records in Redis. Records are
// keyed by notification ID, with a request-ID alias for ingress idempotency
// and a per-user list index for history queries. Everything expires on the
// same TTL so the index never outlives its records by much.
type NotificationStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewNotificationStore(client *redis.Client, ttl time.Duration) *NotificationStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &NotificationStore{client: client, ttl: ttl}
}

// Save writes the record, the request-ID alias, and prepends the
// notification to the user's history index.
func (s *NotificationStore) Save(ctx context.Context, rec *domain.NotificationRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal notification record: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, notificationKey(rec.NotificationID), payload, s.ttl)
	pipe.Set(ctx, requestKey(rec.RequestID), rec.NotificationID, s.ttl)
	pipe.LPush(ctx, userIndexKey(rec.UserID), rec.NotificationID)
	pipe.Expire(ctx, userIndexKey(rec.UserID), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save notification record: %w", err)
	}
	return nil
}

// Get returns the record for a notification ID.
func (s *NotificationStore) Get(ctx context.Context, notificationID string) (*domain.NotificationRecord, error) {
	raw, err := s.client.Get(ctx, notificationKey(notificationID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.NewNotFound("notification not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get notification record: %w", err)
	}

	var rec domain.NotificationRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode notification record: %w", err)
	}
	return &rec, nil
}

// LookupRequest resolves a request ID to a previously issued notification ID.
// The second return is false when the request was never seen.
func (s *NotificationStore) LookupRequest(ctx context.Context, requestID string) (string, bool, error) {
	id, err := s.client.Get(ctx, requestKey(requestID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup request id: %w", err)
	}
	return id, true, nil
}

// UpdateStatus rewrites the record with a new status, preserving the TTL
// already on the key.
func (s *NotificationStore) UpdateStatus(ctx context.Context, notificationID string, status domain.NotificationStatus, errMsg string) error {
	rec, err := s.Get(ctx, notificationID)
	if err != nil {
		return err
	}

	rec.Status = status
	rec.Error = errMsg
	rec.UpdatedAt = time.Now().UTC()

	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal notification record: %w", err)
	}
	if err := s.client.Set(ctx, notificationKey(notificationID), payload, redis.KeepTTL).Err(); err != nil {
		return fmt.Errorf("update notification status: %w", err)
	}
	return nil
}

// ListByUser returns one page of a user's notifications, newest first.
// Records whose keys have already expired are skipped.
func (s *NotificationStore) ListByUser(ctx context.Context, userID string, page, limit int) ([]*domain.NotificationRecord, *domain.PaginationMeta, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	indexKey := userIndexKey(userID)
	total, err := s.client.LLen(ctx, indexKey).Result()
	if err != nil {
		return nil, nil, fmt.Errorf("count user notifications: %w", err)
	}

	start := int64((page - 1) * limit)
	stop := start + int64(limit) - 1
	ids, err := s.client.LRange(ctx, indexKey, start, stop).Result()
	if err != nil {
		return nil, nil, fmt.Errorf("list user notifications: %w", err)
	}

	records := make([]*domain.NotificationRecord, 0, len(ids))
	if len(ids) > 0 {
		keys := make([]string, len(ids))
		for i, id := range ids {
			keys[i] = notificationKey(id)
		}
		raws, err := s.client.MGet(ctx, keys...).Result()
		if err != nil {
			return nil, nil, fmt.Errorf("fetch user notifications: %w", err)
		}
		for _, raw := range raws {
			str, ok := raw.(string)
			if !ok {
				continue // expired record, index entry is stale
			}
			var rec domain.NotificationRecord
			if err := json.Unmarshal([]byte(str), &rec); err != nil {
				continue
			}
			records = append(records, &rec)
		}
	}

	totalPages := int((total + int64(limit) - 1) / int64(limit))
	meta := &domain.PaginationMeta{
		Page:       page,
		Limit:      limit,
		Total:      int(total),
		TotalPages: totalPages,
	}
	return records, meta, nil
}
