package usecase

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"edu-billing/internal/domain"
	"edu-billing/internal/domain/model"
	"edu-billing/internal/domain/ports/adapter"
	"edu-billing/internal/domain/ports/repository"
	"edu-billing/internal/infra/logging"
)

// Compile-time check
var _ CardBindingUseCase = (*bindingUC)(nil)

// CardBindingUseCase runs the bind-card flow: open a session with the
// gateway, confirm the OTP, and keep the user's saved cards. Activation on a
// won confirmation goes through the processor core, same as a webhook.
type CardBindingUseCase interface {
	Start(ctx context.Context, userID string, gw model.Gateway) (*model.CardBindingSession, error)
	ConfirmOTP(ctx context.Context, userID, sessionID, otp string) (*model.CardBindingSession, error)
	ListCards(ctx context.Context, userID string) ([]*model.SavedCard, error)
	RemoveCard(ctx context.Context, userID, cardID string) error
}

type bindingUC struct {
	transactions repository.TransactionRepository
	bindings     repository.BindingSessionRepository
	cards        repository.SavedCardRepository
	gateways     map[model.Gateway]adapter.GatewayClient
	core         *processorCore
	baseURL      string
	log          *zerolog.Logger
}

func NewCardBindingUseCase(
	transactions repository.TransactionRepository,
	bindings repository.BindingSessionRepository,
	cards repository.SavedCardRepository,
	gateways map[model.Gateway]adapter.GatewayClient,
	core *processorCore,
	publicBaseURL string,
	logger *zerolog.Logger,
) *bindingUC {
	lg := logger.With().Str("component", "CardBindingUC").Logger()
	return &bindingUC{
		transactions: transactions,
		bindings:     bindings,
		cards:        cards,
		gateways:     gateways,
		core:         core,
		baseURL:      publicBaseURL,
		log:          &lg,
	}
}

func (u *bindingUC) Start(ctx context.Context, userID string, gw model.Gateway) (*model.CardBindingSession, error) {
	defer logging.TraceDuration(u.log, "CardBindingUC.Start")()

	client, ok := u.gateways[gw]
	if !ok {
		return nil, domain.ErrInvalidArgument
	}

	trx, err := model.NewBindingTransaction(ulid.Make().String(), userID, gw)
	if err != nil {
		return nil, err
	}
	if err := u.transactions.Save(ctx, repository.NoTX, trx); err != nil {
		return nil, err
	}

	ref, err := client.BindCard(ctx, adapter.BindSpec{
		InvoiceID: trx.InvoiceID,
		UserRef:   userID,
		ReturnURL: u.baseURL + "/payments/return?invoice_id=" + trx.InvoiceID,
		FailURL:   u.baseURL + "/payments/return?invoice_id=" + trx.InvoiceID + "&failed=1",
	})
	if err != nil {
		code, message := "gateway_unreachable", err.Error()
		if ge, ok := domain.AsGatewayError(err); ok {
			code, message = ge.Code, ge.Details
		}
		if _, cerr := u.transactions.MarkClosed(ctx, repository.NoTX, trx.InvoiceID, model.TransactionStatusFailed, code, message, nil); cerr != nil {
			u.log.Error().Err(cerr).Str("invoice_id", trx.InvoiceID).Msg("failed to close bind transaction")
		}
		return nil, err
	}

	session, err := model.NewCardBindingSession(ref.SessionID, userID, trx.InvoiceID, gw, ref.FormURL, ref.ExpiresIn)
	if err != nil {
		return nil, err
	}
	if err := u.bindings.Save(ctx, session); err != nil {
		return nil, err
	}
	if err := u.transactions.SetExternalID(ctx, repository.NoTX, trx.InvoiceID, ref.SessionID); err != nil {
		return nil, err
	}

	u.log.Info().
		Str("session_id", session.SessionID).
		Str("invoice_id", trx.InvoiceID).
		Str("gateway", string(gw)).
		Msg("card binding started")
	return session, nil
}

func (u *bindingUC) ConfirmOTP(ctx context.Context, userID, sessionID, otp string) (*model.CardBindingSession, error) {
	defer logging.TraceDuration(u.log, "CardBindingUC.ConfirmOTP")()

	session, err := u.bindings.Find(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.UserID != userID {
		return nil, domain.ErrNotFound
	}
	if session.Expired(time.Now()) {
		return nil, domain.ErrBindingExpired
	}

	client, ok := u.gateways[session.Gateway]
	if !ok {
		return nil, domain.ErrInvalidArgument
	}
	res, err := client.ConfirmOTP(ctx, sessionID, otp)
	if err != nil {
		return nil, err
	}

	target, err := model.MapProviderStatus(string(res.Status))
	if err != nil {
		return nil, domain.ErrOperationFailed
	}
	if _, _, err := u.core.applyStatus(ctx, session.Gateway, session.InvoiceID, target, statusPayload{
		details:   res.Details,
		cardToken: res.CardToken,
		code:      res.Details.ResponseCode,
	}); err != nil {
		return nil, err
	}

	switch target {
	case model.TransactionStatusPaid:
		session.Status = model.BindingStatusActive
		session.Card = &model.BoundCard{
			MaskedPAN: res.Details.MaskedPAN,
			Token:     res.CardToken,
			Network:   res.Details.PaymentSystem,
		}
	case model.TransactionStatusPending:
		// Provider still settling; the callback will finish the job.
	default:
		session.Status = model.BindingStatusFailed
	}
	return session, nil
}

func (u *bindingUC) ListCards(ctx context.Context, userID string) ([]*model.SavedCard, error) {
	return u.cards.ListByUser(ctx, repository.NoTX, userID)
}

func (u *bindingUC) RemoveCard(ctx context.Context, userID, cardID string) error {
	return u.cards.Delete(ctx, repository.NoTX, cardID, userID)
}
