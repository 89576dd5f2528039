package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"edu-billing/internal/usecase"
)

const expiryBatch = 500

// ExpiryWorker periodically resets lapsed paid subscriptions to free so
// entitlement reads stay a plain column check.
type ExpiryWorker struct {
	interval time.Duration
	subs     usecase.SubscriptionUseCase
	log      *zerolog.Logger
}

func NewExpiryWorker(interval time.Duration, subs usecase.SubscriptionUseCase, logger *zerolog.Logger) *ExpiryWorker {
	if interval <= 0 {
		interval = time.Hour
	}
	lg := logger.With().Str("component", "ExpiryWorker").Logger()
	return &ExpiryWorker{interval: interval, subs: subs, log: &lg}
}

func (w *ExpiryWorker) Run(ctx context.Context) error {
	w.log.Info().Msg("Starting expiry worker")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping expiry worker")
			return ctx.Err()
		case <-ticker.C:
			n, err := w.subs.FinishExpired(ctx, expiryBatch)
			if err != nil {
				w.log.Error().Err(err).Msg("expiry pass failed")
				continue
			}
			if n > 0 {
				w.log.Info().Int("count", n).Msg("expired subscriptions reset")
			}
		}
	}
}
