package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/baechuer/notify-platform/internal/domain"
)

// Rendered is the subject/body pair produced for one message.
type Rendered struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// TemplateRenderer resolves a template code and variables into send-ready
// content.
type TemplateRenderer interface {
	Render(ctx context.Context, templateCode string, variables map[string]any) (*Rendered, error)
}

// StatusPoster reports terminal delivery outcomes back to the gateway.
type StatusPoster interface {
	PostStatus(ctx context.Context, channel domain.NotificationType, update *domain.StatusUpdate) error
}

// GatewayClient calls the gateway's service-internal endpoints, presenting a
// service token. Template rendering happens gateway-side so workers share the
// versioned template store and its Redis cache.
type GatewayClient struct {
	baseURL      string
	serviceToken string
	http         *http.Client
}

func NewGatewayClient(baseURL, serviceToken string, timeout time.Duration) *GatewayClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &GatewayClient{
		baseURL:      strings.TrimRight(baseURL, "/"),
		serviceToken: serviceToken,
		http:         &http.Client{Timeout: timeout},
	}
}

type renderRequest struct {
	TemplateCode string         `json:"template_code"`
	Language     string         `json:"language,omitempty"`
	Variables    map[string]any `json:"variables"`
}

type gatewayEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Render fetches rendered content for the template. Gateway-side failures
// are classified so the pipeline can separate bad templates from outages.
func (c *GatewayClient) Render(ctx context.Context, templateCode string, variables map[string]any) (*Rendered, error) {
	env, err := c.post(ctx, "/api/v1/templates/render", renderRequest{
		TemplateCode: templateCode,
		Variables:    variables,
	})
	if err != nil {
		return nil, err
	}

	var out Rendered
	if err := json.Unmarshal(env.Data, &out); err != nil {
		return nil, domain.NewRetryableError("decode render response", err)
	}
	return &out, nil
}

// PostStatus reports one status transition. Failures are returned for the
// caller to log; they never change the delivery outcome.
func (c *GatewayClient) PostStatus(ctx context.Context, channel domain.NotificationType, update *domain.StatusUpdate) error {
	_, err := c.post(ctx, fmt.Sprintf("/api/v1/%s/status", channel), update)
	return err
}

func (c *GatewayClient) post(ctx context.Context, path string, payload any) (*gatewayEnvelope, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal gateway payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Service-Token", c.serviceToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, domain.NewRetryableError("gateway unreachable", err)
	}
	defer resp.Body.Close()

	var env gatewayEnvelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&env); err != nil {
		return nil, domain.NewRetryableError(
			fmt.Sprintf("decode gateway response: status %d", resp.StatusCode), err)
	}

	if env.Success {
		return &env, nil
	}

	code, message := "", fmt.Sprintf("gateway status %d", resp.StatusCode)
	if env.Error != nil {
		code, message = env.Error.Code, env.Error.Message
	}
	switch code {
	case string(domain.ErrCodeNotFound), string(domain.ErrCodeTemplateInvalid), string(domain.ErrCodeInvalidInput):
		// The template itself is the problem; retrying the same message
		// cannot succeed.
		return nil, domain.NewPermanentFailure(message, nil)
	default:
		return nil, domain.NewRetryableError(message, nil)
	}
}
