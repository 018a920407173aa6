package worker

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/baechuer/notify-platform/internal/domain"
	"github.com/baechuer/notify-platform/internal/provider/email"
	"github.com/baechuer/notify-platform/internal/provider/push"
)

// Sender delivers one rendered message on a single channel.
type Sender interface {
	Channel() domain.NotificationType
	Provider() string
	Send(ctx context.Context, msg *domain.QueueMessage, rendered *Rendered) error
}

// EmailSender delivers through the configured email provider, using the
// recipient resolved at ingress time.
type EmailSender struct {
	provider email.Provider
}

func NewEmailSender(provider email.Provider) *EmailSender {
	return &EmailSender{provider: provider}
}

func (s *EmailSender) Channel() domain.NotificationType { return domain.TypeEmail }

func (s *EmailSender) Provider() string { return s.provider.Name() }

func (s *EmailSender) Send(ctx context.Context, msg *domain.QueueMessage, rendered *Rendered) error {
	if msg.Recipient == "" {
		return domain.NewMissingRecipient(domain.TypeEmail)
	}
	return s.provider.Send(ctx, &email.Message{
		To:      msg.Recipient,
		Subject: rendered.Subject,
		Body:    rendered.Body,
	})
}

// UserSource resolves a user's current directory record.
type UserSource interface {
	GetUser(ctx context.Context, userID string) (*domain.UserInfo, error)
}

// PushSender delivers through the push provider. Device tokens rotate, so the
// user is re-fetched for a fresh token; the token captured at ingress is the
// fallback when the directory is unreachable.
type PushSender struct {
	provider push.Provider
	users    UserSource
	lg       zerolog.Logger
}

func NewPushSender(provider push.Provider, users UserSource, lg zerolog.Logger) *PushSender {
	return &PushSender{
		provider: provider,
		users:    users,
		lg:       lg.With().Str("component", "push_sender").Logger(),
	}
}

func (s *PushSender) Channel() domain.NotificationType { return domain.TypePush }

func (s *PushSender) Provider() string { return s.provider.Name() }

func (s *PushSender) Send(ctx context.Context, msg *domain.QueueMessage, rendered *Rendered) error {
	token := msg.Recipient

	info, err := s.users.GetUser(ctx, msg.UserID)
	switch {
	case err == nil && info.PushToken != "":
		token = info.PushToken
	case err != nil && domain.CodeOf(err) == domain.ErrCodeNotFound:
		return domain.NewPermanentFailure("user no longer exists", err)
	case err != nil && token == "":
		return err
	case err != nil:
		s.lg.Warn().Err(err).Str("user_id", msg.UserID).Msg("token refresh failed; using queued token")
	}

	if token == "" {
		return domain.NewMissingRecipient(domain.TypePush)
	}

	return s.provider.Send(ctx, &push.Message{
		Token: token,
		Title: rendered.Subject,
		Body:  rendered.Body,
		Data: map[string]string{
			"notification_id":   msg.NotificationID,
			"notification_type": string(msg.NotificationType),
		},
	})
}
