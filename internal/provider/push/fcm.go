package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2/google"

	"github.com/baechuer/notify-platform/internal/config"
	"github.com/baechuer/notify-platform/internal/domain"
)

const (
	fcmScope       = "https://www.googleapis.com/auth/firebase.messaging"
	fcmURLTemplate = "https://fcm.googleapis.com/v1/projects/%s/messages:send"
)

// Message is one outbound push notification.
type Message struct {
	Token string
	Title string
	Body  string
	Data  map[string]string
}

// Provider sends push notifications through one upstream.
type Provider interface {
	Send(ctx context.Context, msg *Message) error
	Name() string
}

// FCMProvider sends through the FCM HTTP v1 API, authenticating with a
// service account via OAuth2.
type FCMProvider struct {
	projectID   string
	baseURL     string
	http        *http.Client
	credentials *google.Credentials
}

func NewFCMProvider(cfg config.PushConfig) (*FCMProvider, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("FCM_PROJECT_ID is required")
	}
	credentials, err := google.CredentialsFromJSON(
		context.Background(), []byte(cfg.ServiceAccountJSON), fcmScope)
	if err != nil {
		return nil, fmt.Errorf("load fcm credentials: %w", err)
	}
	return &FCMProvider{
		projectID:   cfg.ProjectID,
		baseURL:     fmt.Sprintf(fcmURLTemplate, cfg.ProjectID),
		http:        &http.Client{Timeout: 30 * time.Second},
		credentials: credentials,
	}, nil
}

type fcmMessage struct {
	Message fcmPayload `json:"message"`
}

type fcmPayload struct {
	Token        string            `json:"token"`
	Notification *fcmNotification  `json:"notification,omitempty"`
	Data         map[string]string `json:"data,omitempty"`
}

type fcmNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type fcmError struct {
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func (p *FCMProvider) Send(ctx context.Context, msg *Message) error {
	if msg.Token == "" {
		return domain.NewPermanentFailure("empty device token", nil)
	}

	token, err := p.credentials.TokenSource.Token()
	if err != nil {
		return domain.NewProviderError("fcm token source failed", err)
	}

	payload, err := json.Marshal(fcmMessage{Message: fcmPayload{
		Token:        msg.Token,
		Notification: &fcmNotification{Title: msg.Title, Body: msg.Body},
		Data:         msg.Data,
	}})
	if err != nil {
		return fmt.Errorf("marshal fcm payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build fcm request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return domain.NewProviderError("fcm request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 300 {
		return nil
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	var fcmErr fcmError
	status := ""
	if json.Unmarshal(raw, &fcmErr) == nil && fcmErr.Error != nil {
		status = fcmErr.Error.Status
	}

	// UNREGISTERED means a stale or revoked token; retrying cannot help.
	switch {
	case status == "UNREGISTERED" || status == "INVALID_ARGUMENT" || resp.StatusCode == http.StatusNotFound:
		return domain.NewPermanentFailure(
			fmt.Sprintf("fcm rejected token: %s (status %d)", status, resp.StatusCode), nil)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return domain.NewProviderError(
			fmt.Sprintf("fcm unavailable: status %d", resp.StatusCode), nil)
	default:
		return domain.NewPermanentFailure(
			fmt.Sprintf("fcm error: %s (status %d)", status, resp.StatusCode), nil)
	}
}

func (p *FCMProvider) Name() string { return "fcm" }
