package userdir

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baechuer/notify-platform/internal/circuitbreaker"
	"github.com/baechuer/notify-platform/internal/domain"
	"github.com/baechuer/notify-platform/internal/store"
)

const userJSON = `{
	"id": "user-1",
	"email": "alice@example.com",
	"push_token": "tok-abc",
	"preferences": {"email": true, "push": false}
}`

func newClientWithServer(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	breaker := circuitbreaker.New("user-service", 3, 50*time.Millisecond, 1)
	cache := store.NewUserCache(rdb, 5*time.Minute)
	return NewClient(srv.URL, 2*time.Second, breaker, cache, zerolog.Nop()), srv
}

func TestGetUser_FetchesAndCaches(t *testing.T) {
	var hits atomic.Int32
	client, _ := newClientWithServer(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/api/v1/users/user-1", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(userJSON))
	})
	ctx := context.Background()

	info, err := client.GetUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", info.Email)
	assert.Equal(t, "tok-abc", info.PushToken)
	assert.True(t, info.Preferences.Email)
	assert.False(t, info.Preferences.Push)

	// Second lookup comes from cache.
	_, err = client.GetUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())
}

func TestGetUser_NotFound(t *testing.T) {
	client, _ := newClientWithServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := client.GetUser(context.Background(), "nope")
	require.Error(t, err)
	assert.Equal(t, domain.ErrCodeNotFound, domain.CodeOf(err))
}

func TestGetUser_NotFoundDoesNotTripBreaker(t *testing.T) {
	client, _ := newClientWithServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := client.GetUser(ctx, "nope")
		require.Error(t, err)
		assert.Equal(t, domain.ErrCodeNotFound, domain.CodeOf(err))
	}
	assert.Equal(t, circuitbreaker.StateClosed, client.breaker.State())
}

func TestGetUser_UpstreamErrorIsUnavailable(t *testing.T) {
	client, _ := newClientWithServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := client.GetUser(context.Background(), "user-1")
	require.Error(t, err)
	assert.Equal(t, domain.ErrCodeUserUnavailable, domain.CodeOf(err))
}

func TestGetUser_BreakerOpensAfterRepeatedFailures(t *testing.T) {
	var hits atomic.Int32
	client, _ := newClientWithServer(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := client.GetUser(ctx, "user-1")
		require.Error(t, err)
	}
	require.Equal(t, circuitbreaker.StateOpen, client.breaker.State())

	// Open breaker rejects without calling the server.
	before := hits.Load()
	_, err := client.GetUser(ctx, "user-1")
	require.Error(t, err)
	assert.Equal(t, domain.ErrCodeUserUnavailable, domain.CodeOf(err))
	assert.Equal(t, before, hits.Load())
}

func TestGetUser_CacheHitBypassesOpenBreaker(t *testing.T) {
	healthy := true
	client, _ := newClientWithServer(t, func(w http.ResponseWriter, r *http.Request) {
		if !healthy {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(userJSON))
	})
	ctx := context.Background()

	// Prime the cache, then break the upstream and trip the breaker on a
	// different (uncached) user.
	_, err := client.GetUser(ctx, "user-1")
	require.NoError(t, err)
	healthy = false
	for i := 0; i < 3; i++ {
		_, _ = client.GetUser(ctx, "user-other")
	}
	require.Equal(t, circuitbreaker.StateOpen, client.breaker.State())

	info, err := client.GetUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", info.Email)
}
