package alert

import (
	"context"

	"github.com/rs/zerolog"

	"edu-billing/internal/domain/ports/adapter"
)

var _ adapter.Alerter = (*NoopAlerter)(nil)

// NoopAlerter logs alerts instead of delivering them. Used in environments
// without an ops chat configured.
type NoopAlerter struct {
	log *zerolog.Logger
}

func NewNoopAlerter(logger *zerolog.Logger) *NoopAlerter {
	lg := logger.With().Str("component", "NoopAlerter").Logger()
	return &NoopAlerter{log: &lg}
}

func (a *NoopAlerter) Notify(ctx context.Context, subject, text string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	a.log.Info().Str("subject", subject).Str("text", text).Msg("alert suppressed")
	return nil
}
