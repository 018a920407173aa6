package userdir

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/baechuer/notify-platform/internal/circuitbreaker"
	"github.com/baechuer/notify-platform/internal/domain"
	"github.com/baechuer/notify-platform/internal/store"
)

// Client resolves recipients from the user directory service. Lookups go
// through a Redis cache and a circuit breaker: a cache hit never touches
// the directory, and an open breaker fails fast instead of stacking
// timeouts on a dead upstream.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *circuitbreaker.Breaker
	cache   *store.UserCache
	lg      zerolog.Logger
}

func NewClient(baseURL string, timeout time.Duration, breaker *circuitbreaker.Breaker, cache *store.UserCache, lg zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		breaker: breaker,
		cache:   cache,
		lg:      lg.With().Str("component", "userdir_client").Logger(),
	}
}

type userResponse struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	PushToken   string `json:"push_token"`
	Preferences struct {
		Email bool `json:"email"`
		Push  bool `json:"push"`
	} `json:"preferences"`
}

// GetUser returns the directory's view of a user. Cache errors degrade to a
// directory call; directory errors are classified so the caller can decide
// between 404 and 503.
func (c *Client) GetUser(ctx context.Context, userID string) (*domain.UserInfo, error) {
	if info, found, err := c.cache.Get(ctx, userID); err == nil && found {
		return info, nil
	} else if err != nil {
		c.lg.Warn().Err(err).Str("user_id", userID).Msg("user cache read failed")
	}

	var info *domain.UserInfo
	err := c.breaker.Call(ctx, func() error {
		var fetchErr error
		info, fetchErr = c.fetch(ctx, userID)
		// A 404 is a definitive answer, not an upstream failure.
		if fetchErr != nil && domain.CodeOf(fetchErr) == domain.ErrCodeNotFound {
			info = nil
			return nil
		}
		return fetchErr
	})
	if err != nil {
		return nil, domain.NewUserUnavailable(err)
	}
	if info == nil {
		return nil, domain.NewNotFound("user not found")
	}

	if err := c.cache.Set(ctx, userID, info); err != nil {
		c.lg.Warn().Err(err).Str("user_id", userID).Msg("user cache write failed")
	}
	return info, nil
}

func (c *Client) fetch(ctx context.Context, userID string) (*domain.UserInfo, error) {
	url := fmt.Sprintf("%s/api/v1/users/%s", c.baseURL, userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build user request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("user directory request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, domain.NewNotFound("user not found")
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("user directory status %d", resp.StatusCode)
	}

	var body userResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode user response: %w", err)
	}

	return &domain.UserInfo{
		Email:     body.Email,
		PushToken: body.PushToken,
		Preferences: domain.Preferences{
			Email: body.Preferences.Email,
			Push:  body.Preferences.Push,
		},
	}, nil
}
