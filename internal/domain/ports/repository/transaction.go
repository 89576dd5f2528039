package repository

import (
	"context"
	"time"

	"edu-billing/internal/domain/model"
)

// -----------------------------
// Transactions
// -----------------------------

// TransactionRepository persists gateway transactions. The Mark* methods are
// guarded updates: they flip the row only when its current status permits the
// transition and report whether this call won the flip. That row-level guard
// is the serialization point for concurrent callbacks, so it must hold across
// process instances, not just goroutines.
type TransactionRepository interface {
	Save(ctx context.Context, tx Tx, t *model.Transaction) error
	// Find looks up by our invoice id alone; API reads have no gateway hint.
	Find(ctx context.Context, tx Tx, invoiceID string) (*model.Transaction, error)
	FindByInvoiceID(ctx context.Context, tx Tx, gw model.Gateway, invoiceID string) (*model.Transaction, error)
	FindByExternalID(ctx context.Context, tx Tx, gw model.Gateway, externalID string) (*model.Transaction, error)

	// SetExternalID records the gateway-assigned id once, after the gateway
	// acknowledges invoice creation.
	SetExternalID(ctx context.Context, tx Tx, invoiceID, externalID string) error

	// MarkPaid flips pending -> paid. Returns false when another caller
	// already moved the row out of pending.
	MarkPaid(ctx context.Context, tx Tx, invoiceID string, details model.PaymentDetails, raw []byte, paidAt time.Time) (bool, error)

	// MarkRefunded flips pending|paid -> refunded.
	MarkRefunded(ctx context.Context, tx Tx, invoiceID string, raw []byte, refundedAt time.Time) (bool, error)

	// MarkClosed flips pending -> failed|canceled, recording the provider's
	// error code and message.
	MarkClosed(ctx context.Context, tx Tx, invoiceID string, status model.TransactionStatus, code, message string, raw []byte) (bool, error)

	// RecordCallback retains the latest raw payload for a row that stays
	// pending (transient provider states).
	RecordCallback(ctx context.Context, tx Tx, invoiceID string, raw []byte) error

	// ListPendingOlderThan returns pending transactions created before cutoff,
	// oldest first, for reconciliation.
	ListPendingOlderThan(ctx context.Context, tx Tx, cutoff time.Time, limit int) ([]*model.Transaction, error)

	ListByUser(ctx context.Context, tx Tx, userID string, limit int) ([]*model.Transaction, error)

	// CountByStatus tallies transactions per status for the operator overview.
	CountByStatus(ctx context.Context, tx Tx) (map[model.TransactionStatus]int, error)

	// SumPaidSince totals settled payment amounts whose paid_at falls on or
	// after since. Later refunds stay in the total; this is gross revenue.
	SumPaidSince(ctx context.Context, tx Tx, since time.Time) (int64, error)
}
