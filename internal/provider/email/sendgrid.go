package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/baechuer/notify-platform/internal/domain"
)

const sendGridURL = "https://api.sendgrid.com/v3/mail/send"

// SendGridProvider sends mail through the SendGrid v3 API.
type SendGridProvider struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

func NewSendGridProvider(apiKey string) (*SendGridProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("SENDGRID_API_KEY is required")
	}
	return &SendGridProvider{
		apiKey:  apiKey,
		baseURL: sendGridURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}, nil
}

type sgMail struct {
	Personalizations []sgPersonalization `json:"personalizations"`
	From             sgAddress           `json:"from"`
	Subject          string              `json:"subject"`
	Content          []sgContent         `json:"content"`
}

type sgPersonalization struct {
	To []sgAddress `json:"to"`
}

type sgAddress struct {
	Email string `json:"email"`
}

type sgContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

func (p *SendGridProvider) Send(ctx context.Context, msg *Message) error {
	if msg.To == "" {
		return domain.NewPermanentFailure("empty recipient address", nil)
	}

	payload, err := json.Marshal(sgMail{
		Personalizations: []sgPersonalization{{To: []sgAddress{{Email: msg.To}}}},
		From:             sgAddress{Email: "no-reply@notify.local"},
		Subject:          msg.Subject,
		Content:          []sgContent{{Type: "text/html", Value: msg.Body}},
	})
	if err != nil {
		return fmt.Errorf("marshal sendgrid payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build sendgrid request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return domain.NewProviderError("sendgrid request failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return domain.NewProviderError(
			fmt.Sprintf("sendgrid status %d: %s", resp.StatusCode, body), nil)
	default:
		// 4xx other than 429 will not succeed on retry.
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return domain.NewPermanentFailure(
			fmt.Sprintf("sendgrid rejected message: status %d: %s", resp.StatusCode, body), nil)
	}
}

func (p *SendGridProvider) Name() string { return "sendgrid" }
