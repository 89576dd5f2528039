package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"edu-billing/internal/domain"
	"edu-billing/internal/domain/model"
	"edu-billing/internal/domain/ports/repository"
	"edu-billing/internal/infra/metrics"
)

// Outcome classifies how a status event landed. Applied means this call won
// the transition; Duplicate means the row was already where the event wanted
// it (success-like, providers retry); Transient means the provider state maps
// back to pending.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeTransient Outcome = "transient"
	OutcomeNotFound  Outcome = "not_found"
)

// statusPayload is everything a provider told us alongside a status, already
// normalized. occurredAt falls back to receipt time when the provider omits a
// timestamp.
type statusPayload struct {
	details    model.PaymentDetails
	cardToken  string
	raw        []byte
	code       string
	message    string
	occurredAt time.Time
}

// processorCore applies a mapped provider status to a transaction row. Every
// path that moves transaction state funnels through here: webhook callbacks,
// OTP confirmations and reconciler status polls. The row-level guarded
// updates in the repository are the serialization point, so concurrent
// deliveries across instances resolve to exactly one Applied.
type processorCore struct {
	transactions repository.TransactionRepository
	bindings     repository.BindingSessionRepository
	cards        repository.SavedCardRepository
	subs         SubscriptionUseCase
	tm           repository.TransactionManager
	log          *zerolog.Logger
}

func NewProcessor(
	transactions repository.TransactionRepository,
	bindings repository.BindingSessionRepository,
	cards repository.SavedCardRepository,
	subs SubscriptionUseCase,
	tm repository.TransactionManager,
	logger *zerolog.Logger,
) *processorCore {
	lg := logger.With().Str("component", "TransactionProcessor").Logger()
	return &processorCore{
		transactions: transactions,
		bindings:     bindings,
		cards:        cards,
		subs:         subs,
		tm:           tm,
		log:          &lg,
	}
}

func (c *processorCore) applyStatus(ctx context.Context, gw model.Gateway, invoiceID string, target model.TransactionStatus, p statusPayload) (Outcome, *model.Transaction, error) {
	if p.occurredAt.IsZero() {
		p.occurredAt = time.Now()
	}

	var (
		outcome Outcome
		out     *model.Transaction
	)
	err := c.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		trx, err := c.transactions.FindByInvoiceID(ctx, tx, gw, invoiceID)
		if errors.Is(err, domain.ErrNotFound) {
			outcome = OutcomeNotFound
			return nil
		}
		if err != nil {
			return err
		}
		out = trx

		// Idempotency gate: terminal rows accept nothing further, except the
		// refund escape from paid.
		if trx.Status.IsTerminal() && !(trx.Status == model.TransactionStatusPaid && target == model.TransactionStatusRefunded) {
			outcome = OutcomeDuplicate
			return nil
		}

		switch target {
		case model.TransactionStatusPending:
			if len(p.raw) > 0 {
				if err := c.transactions.RecordCallback(ctx, tx, trx.InvoiceID, p.raw); err != nil {
					return err
				}
			}
			outcome = OutcomeTransient
			return nil

		case model.TransactionStatusPaid:
			applied, err := c.transactions.MarkPaid(ctx, tx, trx.InvoiceID, p.details, p.raw, p.occurredAt)
			if err != nil {
				return err
			}
			if !applied {
				outcome = OutcomeDuplicate
				return nil
			}
			trx.Status = model.TransactionStatusPaid
			trx.Details = p.details
			if err := c.completePaid(ctx, tx, trx, p); err != nil {
				return err
			}

		case model.TransactionStatusRefunded:
			applied, err := c.transactions.MarkRefunded(ctx, tx, trx.InvoiceID, p.raw, p.occurredAt)
			if err != nil {
				return err
			}
			if !applied {
				outcome = OutcomeDuplicate
				return nil
			}
			trx.Status = model.TransactionStatusRefunded
			if trx.Kind == model.TransactionKindPayment {
				if err := c.subs.RevokeTx(ctx, tx, trx.UserID); err != nil {
					return err
				}
			}

		case model.TransactionStatusFailed, model.TransactionStatusCanceled:
			applied, err := c.transactions.MarkClosed(ctx, tx, trx.InvoiceID, target, p.code, p.message, p.raw)
			if err != nil {
				return err
			}
			if !applied {
				outcome = OutcomeDuplicate
				return nil
			}
			trx.Status = target
			trx.ErrorCode = p.code
			trx.ErrorMessage = p.message
			if trx.Kind == model.TransactionKindCardBinding {
				c.failBinding(ctx, trx)
			}

		default:
			return domain.ErrInvalidArgument
		}

		metrics.IncPayment(string(gw), string(target))
		outcome = OutcomeApplied
		return nil
	})
	if err != nil {
		return "", out, err
	}
	return outcome, out, nil
}

// completePaid runs the side effect of a won paid flip: a plan purchase
// grants the subscription, a bind-card success activates the session and
// stores the card.
func (c *processorCore) completePaid(ctx context.Context, tx repository.Tx, trx *model.Transaction, p statusPayload) error {
	if trx.Kind == model.TransactionKindPayment {
		days, err := model.DaysForTier(trx.TierMonths)
		if err != nil {
			return err
		}
		if _, err := c.subs.GrantTx(ctx, tx, trx.UserID, trx.Plan, days, trx.TierMonths, model.SubscriptionSourcePayment); err != nil {
			return err
		}
		metrics.AddPaymentRevenue(string(trx.Gateway), string(trx.Plan), trx.AmountMinor)
		return nil
	}
	return c.activateBinding(ctx, tx, trx, p)
}

func (c *processorCore) activateBinding(ctx context.Context, tx repository.Tx, trx *model.Transaction, p statusPayload) error {
	session, err := c.bindings.FindByInvoiceID(ctx, trx.InvoiceID)
	if err != nil {
		// The session may have expired before the callback arrived; the
		// transaction still settles, there is just no card to attribute.
		c.log.Warn().Err(err).Str("invoice_id", trx.InvoiceID).Msg("bind callback without live session")
		return nil
	}
	if p.cardToken == "" || p.details.MaskedPAN == "" {
		c.log.Warn().Str("invoice_id", trx.InvoiceID).Msg("bind success without card data")
		return nil
	}
	card := &model.SavedCard{
		ID:        uuid.NewString(),
		UserID:    session.UserID,
		Gateway:   trx.Gateway,
		MaskedPAN: p.details.MaskedPAN,
		Token:     p.cardToken,
		Network:   p.details.PaymentSystem,
		CreatedAt: time.Now(),
	}
	if err := c.cards.Save(ctx, tx, card); err != nil {
		return err
	}
	if err := c.bindings.Delete(ctx, session.SessionID); err != nil {
		c.log.Warn().Err(err).Str("session_id", session.SessionID).Msg("failed to drop bind session")
	}
	return nil
}

// failBinding flags the live session so the UI can show why the form died.
// Session state is cache-tier; losing it is harmless.
func (c *processorCore) failBinding(ctx context.Context, trx *model.Transaction) {
	session, err := c.bindings.FindByInvoiceID(ctx, trx.InvoiceID)
	if err != nil {
		return
	}
	session.Status = model.BindingStatusFailed
	if err := c.bindings.Save(ctx, session); err != nil {
		c.log.Warn().Err(err).Str("session_id", session.SessionID).Msg("failed to flag bind session")
	}
}
