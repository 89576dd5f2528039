package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"edu-billing/internal/domain"
	"edu-billing/internal/domain/model"
	"edu-billing/internal/domain/ports/adapter"
	"edu-billing/internal/domain/ports/repository"
	"edu-billing/internal/infra/logging"
	"edu-billing/internal/infra/metrics"
)

// Compile-time check
var _ WebhookUseCase = (*webhookUC)(nil)

// CallbackEvent is a parsed webhook payload. AmountRaw is the literal amount
// string from the body; the signature digest covers that exact text, not our
// parsed integer.
type CallbackEvent struct {
	InvoiceID  string
	ExternalID string
	Status     string
	Amount     int64
	AmountRaw  string
	Sign       string

	CardPAN       string
	CardToken     string
	PaymentSystem string
	ResponseCode  string
	ErrorMessage  string
	PaymentTime   string
	ReceiptURL    string

	Raw []byte
}

// WebhookUseCase authenticates and applies inbound gateway callbacks.
//
// Outcome semantics for the HTTP layer: Applied, Duplicate and Transient are
// all durably-handled (ack with 200). NotFound acking is per gateway.
// Signature and validation failures return an error and touch nothing.
type WebhookUseCase interface {
	ProcessCallback(ctx context.Context, gw model.Gateway, ev CallbackEvent) (Outcome, error)
}

type webhookUC struct {
	verifiers    map[model.Gateway]adapter.CallbackVerifier
	transactions repository.TransactionRepository
	core         *processorCore
	alert        adapter.Alerter
	log          *zerolog.Logger
}

func NewWebhookUseCase(
	verifiers map[model.Gateway]adapter.CallbackVerifier,
	transactions repository.TransactionRepository,
	core *processorCore,
	alert adapter.Alerter,
	logger *zerolog.Logger,
) *webhookUC {
	lg := logger.With().Str("component", "WebhookUC").Logger()
	return &webhookUC{
		verifiers:    verifiers,
		transactions: transactions,
		core:         core,
		alert:        alert,
		log:          &lg,
	}
}

func (u *webhookUC) ProcessCallback(ctx context.Context, gw model.Gateway, ev CallbackEvent) (Outcome, error) {
	defer logging.TraceDuration(u.log, "WebhookUC.ProcessCallback")()

	verifier, ok := u.verifiers[gw]
	if !ok {
		return "", domain.ErrInvalidArgument
	}
	if err := verifier.Verify(adapter.CallbackFields{
		ExternalID: ev.ExternalID,
		InvoiceID:  ev.InvoiceID,
		Amount:     ev.AmountRaw,
		Sign:       ev.Sign,
	}); err != nil {
		metrics.IncWebhookSignatureFailure(string(gw))
		u.log.Warn().
			Str("gateway", string(gw)).
			Str("invoice_id", ev.InvoiceID).
			Str("external_id", ev.ExternalID).
			Msg("callback signature rejected")
		u.notify(ctx, "Webhook signature failure",
			fmt.Sprintf("gateway=%s invoice=%s external=%s", gw, ev.InvoiceID, logging.Redact(ev.ExternalID, false)))
		return "", domain.ErrSignature
	}

	target, err := model.MapProviderStatus(ev.Status)
	if err != nil {
		return "", domain.ErrValidation
	}

	// The signature covers the payload amount, so a mismatch here means the
	// callback disagrees with the invoice we issued. Refuse before any state
	// is touched.
	if target == model.TransactionStatusPaid {
		trx, err := u.transactions.FindByInvoiceID(ctx, repository.NoTX, gw, ev.InvoiceID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return OutcomeNotFound, nil
			}
			return "", err
		}
		if trx.AmountMinor != ev.Amount {
			u.log.Warn().
				Str("invoice_id", ev.InvoiceID).
				Int64("expected", trx.AmountMinor).
				Int64("got", ev.Amount).
				Msg("callback amount mismatch")
			return "", domain.ErrAmountMismatch
		}
	}

	outcome, trx, err := u.core.applyStatus(ctx, gw, ev.InvoiceID, target, statusPayload{
		details: model.PaymentDetails{
			MaskedPAN:     ev.CardPAN,
			ProcessorRef:  ev.ExternalID,
			PaymentSystem: ev.PaymentSystem,
			ResponseCode:  ev.ResponseCode,
			PaymentTime:   ev.PaymentTime,
			ReceiptURL:    ev.ReceiptURL,
		},
		cardToken: ev.CardToken,
		raw:       ev.Raw,
		code:      ev.ResponseCode,
		message:   ev.ErrorMessage,
	})
	if err != nil {
		return "", err
	}

	evt := u.log.Info().
		Str("gateway", string(gw)).
		Str("invoice_id", ev.InvoiceID).
		Str("provider_status", ev.Status).
		Str("outcome", string(outcome))
	if trx != nil {
		evt = evt.Str("status", string(trx.Status)).Str("kind", string(trx.Kind))
	}
	evt.Msg("callback processed")
	return outcome, nil
}

func (u *webhookUC) notify(ctx context.Context, subject, text string) {
	if u.alert == nil {
		return
	}
	if err := u.alert.Notify(ctx, subject, text); err != nil {
		u.log.Warn().Err(err).Msg("ops alert failed")
	}
}
