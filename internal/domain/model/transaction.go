package model

import (
	"strings"
	"time"

	"edu-billing/internal/domain"
)

type TransactionStatus string

const (
	TransactionStatusPending  TransactionStatus = "pending"  // invoice created; awaiting gateway outcome
	TransactionStatusPaid     TransactionStatus = "paid"     // gateway confirmed the charge
	TransactionStatusFailed   TransactionStatus = "failed"   // gateway reported a definitive failure
	TransactionStatusRefunded TransactionStatus = "refunded" // charge reverted after success
	TransactionStatusCanceled TransactionStatus = "canceled" // canceled before completion
)

// IsTerminal reports whether no further ordinary transition is allowed.
// The single exception, paid -> refunded, is handled by CanTransitionTo.
func (s TransactionStatus) IsTerminal() bool {
	return s != TransactionStatusPending
}

// CanTransitionTo encodes the monotonic lifecycle: pending may move to any
// terminal state, paid may additionally move to refunded, nothing else moves.
func (s TransactionStatus) CanTransitionTo(next TransactionStatus) bool {
	if s == next {
		return false
	}
	switch s {
	case TransactionStatusPending:
		return next != TransactionStatusPending
	case TransactionStatusPaid:
		return next == TransactionStatusRefunded
	default:
		return false
	}
}

type TransactionKind string

const (
	TransactionKindPayment     TransactionKind = "payment"
	TransactionKindCardBinding TransactionKind = "card_binding"
)

type Gateway string

const (
	GatewayCheckout Gateway = "checkout" // hosted card-checkout provider
	GatewayScanPay  Gateway = "scanpay"  // invoice/QR provider
)

func ParseGateway(s string) (Gateway, error) {
	switch Gateway(strings.ToLower(s)) {
	case GatewayCheckout:
		return GatewayCheckout, nil
	case GatewayScanPay:
		return GatewayScanPay, nil
	}
	return "", domain.ErrInvalidArgument
}

// ProviderStatus is the status vocabulary both providers use in callbacks and
// status-query responses.
type ProviderStatus string

const (
	ProviderStatusSuccess  ProviderStatus = "success"
	ProviderStatusError    ProviderStatus = "error"
	ProviderStatusRevert   ProviderStatus = "revert"
	ProviderStatusCancel   ProviderStatus = "cancel"
	ProviderStatusDraft    ProviderStatus = "draft"
	ProviderStatusProgress ProviderStatus = "progress"
	ProviderStatusHold     ProviderStatus = "hold"
)

// MapProviderStatus folds a provider-reported status onto the internal
// lifecycle. draft/progress/hold are transient and stay pending.
func MapProviderStatus(raw string) (TransactionStatus, error) {
	switch ProviderStatus(strings.ToLower(strings.TrimSpace(raw))) {
	case ProviderStatusSuccess:
		return TransactionStatusPaid, nil
	case ProviderStatusError:
		return TransactionStatusFailed, nil
	case ProviderStatusRevert:
		return TransactionStatusRefunded, nil
	case ProviderStatusCancel, "canceled", "cancelled":
		return TransactionStatusCanceled, nil
	case ProviderStatusDraft, "in_progress", ProviderStatusProgress, "on_hold", ProviderStatusHold:
		return TransactionStatusPending, nil
	}
	return "", domain.ErrInvalidArgument
}

// PaymentDetails carries the opaque receipt metadata a provider reports with
// a completed charge. Persisted as JSONB; never interpreted beyond display.
type PaymentDetails struct {
	MaskedPAN     string `json:"masked_pan,omitempty"`
	ProcessorRef  string `json:"processor_ref,omitempty"`
	PaymentSystem string `json:"payment_system,omitempty"`
	ResponseCode  string `json:"response_code,omitempty"`
	PaymentTime   string `json:"payment_time,omitempty"`
	ReceiptURL    string `json:"receipt_url,omitempty"`
}

// Transaction records one unit of work against a payment gateway: a plan
// purchase or a card-binding attempt. InvoiceID is ours and assigned at
// creation; ExternalID is the gateway's and set once the gateway acknowledges.
type Transaction struct {
	InvoiceID    string
	ExternalID   *string
	UserID       string
	Plan         Plan
	TierMonths   int
	AmountMinor  int64 // tiyin; integer to avoid float errors
	Status       TransactionStatus
	Gateway      Gateway
	Kind         TransactionKind
	Details      PaymentDetails
	RawCallback  []byte // last callback payload, retained for audit
	ErrorCode    string
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	PaidAt       *time.Time
	RefundedAt   *time.Time
}

// NewTransaction constructs a pending plan-purchase transaction.
func NewTransaction(invoiceID, userID string, gw Gateway, plan Plan, tierMonths int, amountMinor int64) (*Transaction, error) {
	if invoiceID == "" || userID == "" {
		return nil, domain.ErrInvalidArgument
	}
	if !plan.Paid() || amountMinor <= 0 {
		return nil, domain.ErrInvalidArgument
	}
	if _, err := ParseGateway(string(gw)); err != nil {
		return nil, err
	}
	now := time.Now()
	return &Transaction{
		InvoiceID:   invoiceID,
		UserID:      userID,
		Plan:        plan,
		TierMonths:  tierMonths,
		AmountMinor: amountMinor,
		Status:      TransactionStatusPending,
		Gateway:     gw,
		Kind:        TransactionKindPayment,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// NewBindingTransaction constructs the pending transaction that correlates a
// card-binding session with its gateway callbacks. No money moves on it.
func NewBindingTransaction(invoiceID, userID string, gw Gateway) (*Transaction, error) {
	if invoiceID == "" || userID == "" {
		return nil, domain.ErrInvalidArgument
	}
	if _, err := ParseGateway(string(gw)); err != nil {
		return nil, err
	}
	now := time.Now()
	return &Transaction{
		InvoiceID: invoiceID,
		UserID:    userID,
		Status:    TransactionStatusPending,
		Gateway:   gw,
		Kind:      TransactionKindCardBinding,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (t *Transaction) IsZero() bool { return t == nil || t.InvoiceID == "" }
