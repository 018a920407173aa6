package email

import (
	"context"
	"fmt"
	"net/smtp"

	"github.com/baechuer/notify-platform/internal/config"
	"github.com/baechuer/notify-platform/internal/domain"
)

// SMTPProvider sends mail through a plain SMTP relay.
type SMTPProvider struct {
	host     string
	port     int
	username string
	password string
	from     string
	fromName string

	// send is swapped in tests; smtp.SendMail otherwise.
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPProvider(cfg config.SMTPConfig) (*SMTPProvider, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("SMTP_HOST is required")
	}
	return &SMTPProvider{
		host:     cfg.Host,
		port:     cfg.Port,
		username: cfg.Username,
		password: cfg.Password,
		from:     cfg.From,
		fromName: cfg.FromName,
		send:     smtp.SendMail,
	}, nil
}

func (p *SMTPProvider) Send(ctx context.Context, msg *Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if msg.To == "" {
		return domain.NewPermanentFailure("empty recipient address", nil)
	}

	addr := fmt.Sprintf("%s:%d", p.host, p.port)
	var auth smtp.Auth
	if p.username != "" {
		auth = smtp.PlainAuth("", p.username, p.password, p.host)
	}

	payload := []byte(fmt.Sprintf("From: %s <%s>\r\n", p.fromName, p.from) +
		fmt.Sprintf("To: %s\r\n", msg.To) +
		fmt.Sprintf("Subject: %s\r\n", msg.Subject) +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: text/html; charset=UTF-8\r\n" +
		"\r\n" +
		msg.Body + "\r\n")

	if err := p.send(addr, auth, p.from, []string{msg.To}, payload); err != nil {
		return domain.NewProviderError("smtp send failed", err)
	}
	return nil
}

func (p *SMTPProvider) Name() string { return "smtp" }
