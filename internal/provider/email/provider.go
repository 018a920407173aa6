package email

import (
	"context"
	"fmt"

	"github.com/baechuer/notify-platform/internal/config"
)

// Message is one outbound email.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Provider sends email through one upstream.
type Provider interface {
	Send(ctx context.Context, msg *Message) error
	Name() string
}

// NewProvider builds the provider named in the configuration.
func NewProvider(cfg config.EmailConfig) (Provider, error) {
	switch cfg.Provider {
	case "smtp":
		return NewSMTPProvider(cfg.SMTP)
	case "sendgrid":
		return NewSendGridProvider(cfg.SendGridAPIKey)
	}
	return nil, fmt.Errorf("unsupported email provider: %s", cfg.Provider)
}
