package push

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/baechuer/notify-platform/internal/config"
)

// NewProvider selects the push provider by name. "noop" logs instead of
// sending; it exists for local runs without FCM credentials.
func NewProvider(cfg config.PushConfig, lg zerolog.Logger) (Provider, error) {
	switch cfg.Provider {
	case "fcm", "":
		return NewFCMProvider(cfg)
	case "noop":
		return NewNoopProvider(lg), nil
	default:
		return nil, fmt.Errorf("unknown push provider %q", cfg.Provider)
	}
}

// NoopProvider accepts every message and only logs it.
type NoopProvider struct {
	lg zerolog.Logger
}

func NewNoopProvider(lg zerolog.Logger) *NoopProvider {
	return &NoopProvider{lg: lg.With().Str("component", "noop_push").Logger()}
}

func (p *NoopProvider) Send(_ context.Context, msg *Message) error {
	p.lg.Info().Str("token", msg.Token).Str("title", msg.Title).Msg("push suppressed")
	return nil
}

func (p *NoopProvider) Name() string { return "noop" }
