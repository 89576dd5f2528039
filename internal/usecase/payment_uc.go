package usecase

import (
	"context"
	"fmt"
	"net/url"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"edu-billing/internal/domain"
	"edu-billing/internal/domain/model"
	"edu-billing/internal/domain/ports/adapter"
	"edu-billing/internal/domain/ports/repository"
	"edu-billing/internal/infra/logging"
)

// Compile-time check
var _ PaymentUseCase = (*paymentUC)(nil)

// PlanCatalog resolves the sold price of a plan tier. Satisfied by
// config.PlansConfig.
type PlanCatalog interface {
	PriceFor(plan string, months int) (int64, bool)
}

// PaymentUseCase drives the outbound side of the transaction lifecycle:
// invoice creation, user cancel, admin refund and status reconciliation.
// State transitions go through the same processor core the webhooks use.
type PaymentUseCase interface {
	Initiate(ctx context.Context, userID string, plan model.Plan, months int, gw model.Gateway) (*model.Transaction, *adapter.InvoiceRef, error)
	// Get is owner-scoped: a foreign invoice id reads as not found.
	Get(ctx context.Context, userID, invoiceID string) (*model.Transaction, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]*model.Transaction, error)
	Cancel(ctx context.Context, userID, invoiceID string) error
	Refund(ctx context.Context, invoiceID string) error
	// SyncStatus asks the owning gateway for the current provider status of a
	// pending transaction and applies it. Covers lost callbacks.
	SyncStatus(ctx context.Context, invoiceID string) (*model.Transaction, error)
	AdminFind(ctx context.Context, invoiceID string) (*model.Transaction, error)
}

type paymentUC struct {
	transactions repository.TransactionRepository
	users        repository.UserRepository
	gateways     map[model.Gateway]adapter.GatewayClient
	catalog      PlanCatalog
	core         *processorCore
	baseURL      string
	log          *zerolog.Logger
}

func NewPaymentUseCase(
	transactions repository.TransactionRepository,
	users repository.UserRepository,
	gateways map[model.Gateway]adapter.GatewayClient,
	catalog PlanCatalog,
	core *processorCore,
	publicBaseURL string,
	logger *zerolog.Logger,
) *paymentUC {
	lg := logger.With().Str("component", "PaymentUC").Logger()
	return &paymentUC{
		transactions: transactions,
		users:        users,
		gateways:     gateways,
		catalog:      catalog,
		core:         core,
		baseURL:      publicBaseURL,
		log:          &lg,
	}
}

func (u *paymentUC) client(gw model.Gateway) (adapter.GatewayClient, error) {
	c, ok := u.gateways[gw]
	if !ok {
		return nil, domain.ErrInvalidArgument
	}
	return c, nil
}

func (u *paymentUC) Initiate(ctx context.Context, userID string, plan model.Plan, months int, gw model.Gateway) (*model.Transaction, *adapter.InvoiceRef, error) {
	defer logging.TraceDuration(u.log, "PaymentUC.Initiate")()

	price, ok := u.catalog.PriceFor(string(plan), months)
	if !ok {
		return nil, nil, domain.ErrInvalidArgument
	}
	client, err := u.client(gw)
	if err != nil {
		return nil, nil, err
	}
	user, err := u.users.FindByID(ctx, repository.NoTX, userID)
	if err != nil {
		return nil, nil, err
	}

	trx, err := model.NewTransaction(ulid.Make().String(), userID, gw, plan, months, price)
	if err != nil {
		return nil, nil, err
	}
	// The row exists before the provider learns the invoice id, so a callback
	// can never race an unknown invoice.
	if err := u.transactions.Save(ctx, repository.NoTX, trx); err != nil {
		return nil, nil, err
	}

	ref, err := client.CreateInvoice(ctx, adapter.InvoiceSpec{
		InvoiceID:   trx.InvoiceID,
		AmountMinor: price,
		Description: fmt.Sprintf("%s plan, %d month(s)", plan, months),
		BuyerPhone:  user.Phone,
		CallbackURL: u.baseURL + "/webhooks/" + string(gw),
		ReturnURL:   u.returnURL(trx.InvoiceID, false),
		FailURL:     u.returnURL(trx.InvoiceID, true),
	})
	if err != nil {
		u.closeAbandoned(ctx, trx.InvoiceID, err)
		return nil, nil, err
	}

	if err := u.transactions.SetExternalID(ctx, repository.NoTX, trx.InvoiceID, ref.ExternalID); err != nil {
		return nil, nil, err
	}
	trx.ExternalID = &ref.ExternalID

	u.log.Info().
		Str("invoice_id", trx.InvoiceID).
		Str("gateway", string(gw)).
		Str("plan", string(plan)).
		Int64("amount", price).
		Msg("payment initiated")
	return trx, ref, nil
}

func (u *paymentUC) returnURL(invoiceID string, failed bool) string {
	v := url.Values{"invoice_id": {invoiceID}}
	if failed {
		v.Set("failed", "1")
	}
	return u.baseURL + "/payments/return?" + v.Encode()
}

// closeAbandoned fails a freshly created row whose provider call never
// succeeded, so it does not linger as pending.
func (u *paymentUC) closeAbandoned(ctx context.Context, invoiceID string, cause error) {
	code, details := "gateway_unreachable", cause.Error()
	if ge, ok := domain.AsGatewayError(cause); ok {
		code, details = ge.Code, ge.Details
	}
	if _, err := u.transactions.MarkClosed(ctx, repository.NoTX, invoiceID, model.TransactionStatusFailed, code, details, nil); err != nil {
		u.log.Error().Err(err).Str("invoice_id", invoiceID).Msg("failed to close abandoned transaction")
	}
}

func (u *paymentUC) Get(ctx context.Context, userID, invoiceID string) (*model.Transaction, error) {
	trx, err := u.transactions.Find(ctx, repository.NoTX, invoiceID)
	if err != nil {
		return nil, err
	}
	if trx.UserID != userID {
		return nil, domain.ErrNotFound
	}
	return trx, nil
}

func (u *paymentUC) ListByUser(ctx context.Context, userID string, limit int) ([]*model.Transaction, error) {
	return u.transactions.ListByUser(ctx, repository.NoTX, userID, limit)
}

func (u *paymentUC) AdminFind(ctx context.Context, invoiceID string) (*model.Transaction, error) {
	return u.transactions.Find(ctx, repository.NoTX, invoiceID)
}

func (u *paymentUC) Cancel(ctx context.Context, userID, invoiceID string) error {
	defer logging.TraceDuration(u.log, "PaymentUC.Cancel")()

	trx, err := u.Get(ctx, userID, invoiceID)
	if err != nil {
		return err
	}
	if trx.Status != model.TransactionStatusPending {
		return domain.ErrAlreadyProcessed
	}

	if trx.ExternalID != nil {
		client, err := u.client(trx.Gateway)
		if err != nil {
			return err
		}
		if err := client.Cancel(ctx, *trx.ExternalID); err != nil {
			return err
		}
	}

	_, _, err = u.core.applyStatus(ctx, trx.Gateway, invoiceID, model.TransactionStatusCanceled, statusPayload{
		code:    "user_cancel",
		message: "canceled by user",
	})
	return err
}

func (u *paymentUC) Refund(ctx context.Context, invoiceID string) error {
	defer logging.TraceDuration(u.log, "PaymentUC.Refund")()

	trx, err := u.transactions.Find(ctx, repository.NoTX, invoiceID)
	if err != nil {
		return err
	}
	if trx.Status != model.TransactionStatusPaid {
		return domain.ErrNotRefundable
	}
	if trx.ExternalID == nil {
		return domain.ErrNotRefundable
	}

	client, err := u.client(trx.Gateway)
	if err != nil {
		return err
	}
	if err := client.Refund(ctx, *trx.ExternalID, trx.AmountMinor); err != nil {
		return err
	}

	outcome, _, err := u.core.applyStatus(ctx, trx.Gateway, invoiceID, model.TransactionStatusRefunded, statusPayload{})
	if err != nil {
		return err
	}
	u.log.Info().Str("invoice_id", invoiceID).Str("outcome", string(outcome)).Msg("refund applied")
	return nil
}

func (u *paymentUC) SyncStatus(ctx context.Context, invoiceID string) (*model.Transaction, error) {
	trx, err := u.transactions.Find(ctx, repository.NoTX, invoiceID)
	if err != nil {
		return nil, err
	}
	if trx.Status != model.TransactionStatusPending || trx.ExternalID == nil {
		return trx, nil
	}

	client, err := u.client(trx.Gateway)
	if err != nil {
		return nil, err
	}
	res, err := client.Status(ctx, *trx.ExternalID)
	if err != nil {
		return nil, err
	}
	target, err := model.MapProviderStatus(string(res.Status))
	if err != nil {
		u.log.Warn().Str("invoice_id", invoiceID).Str("provider_status", string(res.Status)).Msg("unknown provider status on sync")
		return trx, nil
	}

	outcome, updated, err := u.core.applyStatus(ctx, trx.Gateway, invoiceID, target, statusPayload{
		details: res.Details,
		code:    res.Details.ResponseCode,
	})
	if err != nil {
		return nil, err
	}
	if outcome == OutcomeApplied {
		u.log.Info().
			Str("invoice_id", invoiceID).
			Str("status", string(target)).
			Msg("status reconciled from gateway")
	}
	if updated != nil {
		return updated, nil
	}
	return trx, nil
}
