package adapter

import (
	"context"
	"time"

	"edu-billing/internal/domain/model"
)

// InvoiceSpec is everything a provider needs to open an invoice. InvoiceID is
// our correlation id; it comes back on every callback, which the provider
// posts to CallbackURL.
type InvoiceSpec struct {
	InvoiceID   string
	AmountMinor int64
	Description string
	BuyerPhone  string
	CallbackURL string
	ReturnURL   string
	FailURL     string
}

// InvoiceRef is the provider's acknowledgement. ShortLink and Deeplink are
// only set by providers that issue QR/app links.
type InvoiceRef struct {
	ExternalID  string
	CheckoutURL string
	ShortLink   string
	Deeplink    string
}

type BindSpec struct {
	InvoiceID string
	UserRef   string
	ReturnURL string
	FailURL   string
}

type BindRef struct {
	SessionID string
	FormURL   string
	ExpiresIn time.Duration
}

// StatusResult is a normalized status-query answer. Details are best effort;
// providers omit them for anything not yet settled. CardToken is only set on
// bind-card confirmations.
type StatusResult struct {
	Status    model.ProviderStatus
	Details   model.PaymentDetails
	CardToken string
}

// CallbackFields is the signed tuple of an inbound callback. Amount is kept
// as the literal string from the payload because the digest covers the
// provider's own formatting, not our parsed integer.
type CallbackFields struct {
	ExternalID string
	InvoiceID  string
	Amount     string
	Sign       string
}

// CallbackVerifier authenticates an inbound callback before it may touch any
// transaction state.
type CallbackVerifier interface {
	Verify(f CallbackFields) error
}

// GatewayClient is the hex port for payment providers. One implementation per
// provider; all of them normalize failures to *domain.GatewayError and honor
// ctx deadlines. Implementations attach provider auth themselves and retry
// exactly once on a rejected token.
type GatewayClient interface {
	Name() model.Gateway

	CreateInvoice(ctx context.Context, spec InvoiceSpec) (*InvoiceRef, error)
	Status(ctx context.Context, externalID string) (*StatusResult, error)
	Cancel(ctx context.Context, externalID string) error
	Refund(ctx context.Context, externalID string, amountMinor int64) error

	BindCard(ctx context.Context, spec BindSpec) (*BindRef, error)
	ConfirmOTP(ctx context.Context, externalID, otp string) (*StatusResult, error)
}
