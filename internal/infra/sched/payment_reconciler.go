package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"edu-billing/internal/domain/model"
	"edu-billing/internal/domain/ports/repository"
	"edu-billing/internal/infra/worker"
	"edu-billing/internal/usecase"
)

const reconcileBatch = 200

// PaymentReconciler periodically scans for stale pending transactions and asks
// the owning gateway for their current status, funneling the answer through
// the same guarded transition the webhooks use. This covers lost callbacks and
// crashes between the provider charge and our commit. Rows that never received
// a provider invoice have nothing to ask about and are closed as abandoned.
type PaymentReconciler struct {
	payments     usecase.PaymentUseCase
	transactions repository.TransactionRepository
	pool         *worker.Pool
	interval     time.Duration // how often to scan
	staleAfter   time.Duration // how old a pending transaction must be to retry
	log          *zerolog.Logger
}

func NewPaymentReconciler(
	payments usecase.PaymentUseCase,
	transactions repository.TransactionRepository,
	pool *worker.Pool,
	interval, staleAfter time.Duration,
	logger *zerolog.Logger,
) *PaymentReconciler {
	if interval <= 0 {
		interval = time.Minute
	}
	if staleAfter <= 0 {
		staleAfter = 10 * time.Minute
	}
	lg := logger.With().Str("component", "PaymentReconciler").Logger()
	return &PaymentReconciler{
		payments:     payments,
		transactions: transactions,
		pool:         pool,
		interval:     interval,
		staleAfter:   staleAfter,
		log:          &lg,
	}
}

func (w *PaymentReconciler) Run(ctx context.Context) error {
	w.log.Info().Msg("Starting payment reconciler")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping payment reconciler")
			return ctx.Err()
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *PaymentReconciler) tick(ctx context.Context) {
	cutoff := time.Now().Add(-w.staleAfter)
	stale, err := w.transactions.ListPendingOlderThan(ctx, repository.NoTX, cutoff, reconcileBatch)
	if err != nil {
		w.log.Error().Err(err).Msg("listing stale pending transactions failed")
		return
	}
	if len(stale) == 0 {
		return
	}
	w.log.Info().Int("count", len(stale)).Msg("reconciling stale pending transactions")

	for _, trx := range stale {
		invoiceID := trx.InvoiceID
		if trx.ExternalID == nil || *trx.ExternalID == "" {
			w.closeAbandoned(ctx, invoiceID)
			continue
		}
		task := func(ctx context.Context) error {
			if _, err := w.payments.SyncStatus(ctx, invoiceID); err != nil {
				w.log.Warn().Err(err).Str("invoice_id", invoiceID).Msg("reconcile sync failed")
			}
			return nil
		}
		if err := w.pool.Submit(task); err != nil {
			// Dropped work is retried on the next tick; the row stays pending.
			w.log.Warn().Err(err).Str("invoice_id", invoiceID).Msg("reconcile task not scheduled")
		}
	}
}

// closeAbandoned cancels a stale row that never got a provider invoice. The
// guarded update keeps this safe against a payment racing in between the
// listing and the close.
func (w *PaymentReconciler) closeAbandoned(ctx context.Context, invoiceID string) {
	changed, err := w.transactions.MarkClosed(ctx, repository.NoTX, invoiceID,
		model.TransactionStatusCanceled, "abandoned", "no gateway invoice was issued", nil)
	if err != nil {
		w.log.Error().Err(err).Str("invoice_id", invoiceID).Msg("closing abandoned transaction failed")
		return
	}
	if changed {
		w.log.Info().Str("invoice_id", invoiceID).Msg("abandoned transaction canceled")
	}
}
