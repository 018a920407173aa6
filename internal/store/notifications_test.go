package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baechuer/notify-platform/internal/domain"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func testRecord(id, userID, requestID string) *domain.NotificationRecord {
	now := time.Now().UTC().Truncate(time.Second)
	return &domain.NotificationRecord{
		NotificationID:   id,
		UserID:           userID,
		NotificationType: domain.TypeEmail,
		Status:           domain.StatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
		RequestID:        requestID,
	}
}

func TestNotificationStore_SaveAndGet(t *testing.T) {
	_, client := newTestClient(t)
	s := NewNotificationStore(client, time.Hour)
	ctx := context.Background()

	rec := testRecord("notif_abc", "user-1", "req-1")
	require.NoError(t, s.Save(ctx, rec))

	got, err := s.Get(ctx, "notif_abc")
	require.NoError(t, err)
	assert.Equal(t, rec.NotificationID, got.NotificationID)
	assert.Equal(t, rec.UserID, got.UserID)
	assert.Equal(t, domain.StatusPending, got.Status)
	assert.Equal(t, "req-1", got.RequestID)
}

func TestNotificationStore_Get_NotFound(t *testing.T) {
	_, client := newTestClient(t)
	s := NewNotificationStore(client, time.Hour)

	_, err := s.Get(context.Background(), "notif_missing")
	require.Error(t, err)
	assert.Equal(t, domain.ErrCodeNotFound, domain.CodeOf(err))
}

func TestNotificationStore_LookupRequest(t *testing.T) {
	_, client := newTestClient(t)
	s := NewNotificationStore(client, time.Hour)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, testRecord("notif_abc", "user-1", "req-1")))

	id, found, err := s.LookupRequest(ctx, "req-1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "notif_abc", id)

	_, found, err = s.LookupRequest(ctx, "req-unknown")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestNotificationStore_UpdateStatus(t *testing.T) {
	_, client := newTestClient(t)
	s := NewNotificationStore(client, time.Hour)
	ctx := context.Background()

	rec := testRecord("notif_abc", "user-1", "req-1")
	require.NoError(t, s.Save(ctx, rec))

	require.NoError(t, s.UpdateStatus(ctx, "notif_abc", domain.StatusFailed, "smtp timeout"))

	got, err := s.Get(ctx, "notif_abc")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.Equal(t, "smtp timeout", got.Error)
	assert.True(t, got.UpdatedAt.After(rec.UpdatedAt) || got.UpdatedAt.Equal(rec.UpdatedAt))
}

func TestNotificationStore_UpdateStatus_Missing(t *testing.T) {
	_, client := newTestClient(t)
	s := NewNotificationStore(client, time.Hour)

	err := s.UpdateStatus(context.Background(), "notif_missing", domain.StatusDelivered, "")
	require.Error(t, err)
	assert.Equal(t, domain.ErrCodeNotFound, domain.CodeOf(err))
}

func TestNotificationStore_ListByUser_NewestFirst(t *testing.T) {
	_, client := newTestClient(t)
	s := NewNotificationStore(client, time.Hour)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		rec := testRecord(fmt.Sprintf("notif_%d", i), "user-1", fmt.Sprintf("req-%d", i))
		require.NoError(t, s.Save(ctx, rec))
	}

	records, meta, err := s.ListByUser(ctx, "user-1", 1, 3)
	require.NoError(t, err)
	require.Len(t, records, 3)
	// LPUSH order: last saved comes back first.
	assert.Equal(t, "notif_4", records[0].NotificationID)
	assert.Equal(t, "notif_3", records[1].NotificationID)
	assert.Equal(t, "notif_2", records[2].NotificationID)
	assert.Equal(t, 5, meta.Total)
	assert.Equal(t, 2, meta.TotalPages)

	records, meta, err = s.ListByUser(ctx, "user-1", 2, 3)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "notif_1", records[0].NotificationID)
	assert.Equal(t, 2, meta.Page)
}

func TestNotificationStore_ListByUser_SkipsExpiredRecords(t *testing.T) {
	mr, client := newTestClient(t)
	s := NewNotificationStore(client, time.Hour)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, testRecord("notif_0", "user-1", "req-0")))
	require.NoError(t, s.Save(ctx, testRecord("notif_1", "user-1", "req-1")))

	// Simulate one record expiring while the index entry survives.
	mr.Del("notification:notif_0")

	records, meta, err := s.ListByUser(ctx, "user-1", 1, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "notif_1", records[0].NotificationID)
	assert.Equal(t, 2, meta.Total)
}

func TestNotificationStore_ListByUser_Empty(t *testing.T) {
	_, client := newTestClient(t)
	s := NewNotificationStore(client, time.Hour)

	records, meta, err := s.ListByUser(context.Background(), "user-none", 1, 10)
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Equal(t, 0, meta.Total)
	assert.Equal(t, 0, meta.TotalPages)
}

func TestNotificationStore_Save_SetsTTL(t *testing.T) {
	mr, client := newTestClient(t)
	s := NewNotificationStore(client, time.Minute)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, testRecord("notif_abc", "user-1", "req-1")))

	assert.Greater(t, mr.TTL("notification:notif_abc"), time.Duration(0))
	assert.Greater(t, mr.TTL("request:req-1"), time.Duration(0))
	assert.Greater(t, mr.TTL("user_notifications:user-1"), time.Duration(0))
}
