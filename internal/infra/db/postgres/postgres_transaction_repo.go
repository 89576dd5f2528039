package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"edu-billing/internal/domain"
	"edu-billing/internal/domain/model"
	"edu-billing/internal/domain/ports/repository"
)

var _ repository.TransactionRepository = (*transactionRepo)(nil)

type transactionRepo struct{ pool *pgxpool.Pool }

func NewTransactionRepo(pool *pgxpool.Pool) *transactionRepo {
	return &transactionRepo{pool: pool}
}

const txColumns = `invoice_id, external_id, user_id, plan, tier_months, amount_minor, status, gateway, kind, details, raw_callback, error_code, error_message, created_at, updated_at, paid_at, refunded_at`

func scanTransaction(row pgx.Row) (*model.Transaction, error) {
	t := &model.Transaction{}
	var details []byte
	if err := row.Scan(
		&t.InvoiceID, &t.ExternalID, &t.UserID, &t.Plan, &t.TierMonths, &t.AmountMinor,
		&t.Status, &t.Gateway, &t.Kind, &details, &t.RawCallback, &t.ErrorCode, &t.ErrorMessage,
		&t.CreatedAt, &t.UpdatedAt, &t.PaidAt, &t.RefundedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	if len(details) > 0 {
		if err := json.Unmarshal(details, &t.Details); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
	}
	return t, nil
}

func marshalDetails(d model.PaymentDetails) []byte {
	b, err := json.Marshal(d)
	if err != nil {
		return []byte("{}")
	}
	return b
}

func (r *transactionRepo) Save(ctx context.Context, tx repository.Tx, t *model.Transaction) error {
	const q = `
INSERT INTO transactions (
  invoice_id, external_id, user_id, plan, tier_months, amount_minor, status, gateway, kind,
  details, raw_callback, error_code, error_message, created_at, updated_at, paid_at, refunded_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17
) ON CONFLICT (invoice_id) DO UPDATE SET
  external_id=$2, status=$7, details=$10, raw_callback=$11, error_code=$12, error_message=$13,
  updated_at=$15, paid_at=$16, refunded_at=$17;`

	_, err := execSQL(ctx, r.pool, tx, q,
		t.InvoiceID, t.ExternalID, t.UserID, t.Plan, t.TierMonths, t.AmountMinor,
		t.Status, t.Gateway, t.Kind, marshalDetails(t.Details), t.RawCallback,
		t.ErrorCode, t.ErrorMessage, t.CreatedAt, t.UpdatedAt, t.PaidAt, t.RefundedAt)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *transactionRepo) Find(ctx context.Context, tx repository.Tx, invoiceID string) (*model.Transaction, error) {
	q := `SELECT ` + txColumns + ` FROM transactions WHERE invoice_id=$1`
	if _, ok := tx.(pgx.Tx); ok {
		q += " FOR UPDATE"
	}
	q += ";"
	row, err := pickRow(ctx, r.pool, tx, q, invoiceID)
	if err != nil {
		return nil, err
	}
	return scanTransaction(row)
}

func (r *transactionRepo) FindByInvoiceID(ctx context.Context, tx repository.Tx, gw model.Gateway, invoiceID string) (*model.Transaction, error) {
	q := `SELECT ` + txColumns + ` FROM transactions WHERE invoice_id=$1 AND gateway=$2`
	if _, ok := tx.(pgx.Tx); ok {
		q += " FOR UPDATE"
	}
	q += ";"
	row, err := pickRow(ctx, r.pool, tx, q, invoiceID, gw)
	if err != nil {
		return nil, err
	}
	return scanTransaction(row)
}

func (r *transactionRepo) FindByExternalID(ctx context.Context, tx repository.Tx, gw model.Gateway, externalID string) (*model.Transaction, error) {
	q := `SELECT ` + txColumns + ` FROM transactions WHERE gateway=$1 AND external_id=$2 LIMIT 1`
	if _, ok := tx.(pgx.Tx); ok {
		q += " FOR UPDATE"
	}
	q += ";"
	row, err := pickRow(ctx, r.pool, tx, q, gw, externalID)
	if err != nil {
		return nil, err
	}
	return scanTransaction(row)
}

func (r *transactionRepo) SetExternalID(ctx context.Context, tx repository.Tx, invoiceID, externalID string) error {
	// Set-once: a different existing value indicates a wiring bug upstream.
	const q = `
UPDATE transactions SET external_id=$2, updated_at=NOW()
 WHERE invoice_id=$1 AND (external_id IS NULL OR external_id=$2);`

	cmd, err := execSQL(ctx, r.pool, tx, q, invoiceID, externalID)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		return domain.ErrOperationFailed
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *transactionRepo) MarkPaid(ctx context.Context, tx repository.Tx, invoiceID string, details model.PaymentDetails, raw []byte, paidAt time.Time) (bool, error) {
	const q = `
UPDATE transactions
   SET status = 'paid',
       details = $2,
       raw_callback = COALESCE($3, raw_callback),
       paid_at = $4,
       updated_at = NOW()
 WHERE invoice_id = $1
   AND status = 'pending';`

	cmd, err := execSQL(ctx, r.pool, tx, q, invoiceID, marshalDetails(details), raw, paidAt)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return false, err
		}
		return false, domain.ErrOperationFailed
	}
	return cmd.RowsAffected() >= 1, nil
}

func (r *transactionRepo) MarkRefunded(ctx context.Context, tx repository.Tx, invoiceID string, raw []byte, refundedAt time.Time) (bool, error) {
	const q = `
UPDATE transactions
   SET status = 'refunded',
       raw_callback = COALESCE($2, raw_callback),
       refunded_at = $3,
       updated_at = NOW()
 WHERE invoice_id = $1
   AND status IN ('pending','paid');`

	cmd, err := execSQL(ctx, r.pool, tx, q, invoiceID, raw, refundedAt)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return false, err
		}
		return false, domain.ErrOperationFailed
	}
	return cmd.RowsAffected() >= 1, nil
}

func (r *transactionRepo) MarkClosed(ctx context.Context, tx repository.Tx, invoiceID string, status model.TransactionStatus, code, message string, raw []byte) (bool, error) {
	if status != model.TransactionStatusFailed && status != model.TransactionStatusCanceled {
		return false, domain.ErrInvalidArgument
	}
	const q = `
UPDATE transactions
   SET status = $2,
       error_code = $3,
       error_message = $4,
       raw_callback = COALESCE($5, raw_callback),
       updated_at = NOW()
 WHERE invoice_id = $1
   AND status = 'pending';`

	cmd, err := execSQL(ctx, r.pool, tx, q, invoiceID, string(status), code, message, raw)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return false, err
		}
		return false, domain.ErrOperationFailed
	}
	return cmd.RowsAffected() >= 1, nil
}

func (r *transactionRepo) RecordCallback(ctx context.Context, tx repository.Tx, invoiceID string, raw []byte) error {
	const q = `UPDATE transactions SET raw_callback=$2, updated_at=NOW() WHERE invoice_id=$1;`
	_, err := execSQL(ctx, r.pool, tx, q, invoiceID, raw)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *transactionRepo) ListPendingOlderThan(ctx context.Context, tx repository.Tx, cutoff time.Time, limit int) ([]*model.Transaction, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT ` + txColumns + ` FROM transactions WHERE status='pending' AND created_at < $1 ORDER BY created_at ASC LIMIT $2;`
	rows, err := queryRows(ctx, r.pool, tx, q, cutoff, limit)
	if err != nil {
		switch err {
		case domain.ErrInvalidArgument, domain.ErrInvalidExecContext:
			return nil, err
		default:
			return nil, domain.ErrOperationFailed
		}
	}
	defer rows.Close()

	var out []*model.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (r *transactionRepo) CountByStatus(ctx context.Context, tx repository.Tx) (map[model.TransactionStatus]int, error) {
	const q = `SELECT status, COUNT(*) FROM transactions GROUP BY status;`
	rows, err := queryRows(ctx, r.pool, tx, q)
	if err != nil {
		switch err {
		case domain.ErrInvalidArgument, domain.ErrInvalidExecContext:
			return nil, err
		default:
			return nil, domain.ErrOperationFailed
		}
	}
	defer rows.Close()

	out := make(map[model.TransactionStatus]int)
	for rows.Next() {
		var status model.TransactionStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out[status] = n
	}
	return out, nil
}

func (r *transactionRepo) SumPaidSince(ctx context.Context, tx repository.Tx, since time.Time) (int64, error) {
	const q = `
SELECT COALESCE(SUM(amount_minor), 0) FROM transactions
 WHERE kind = 'payment' AND paid_at IS NOT NULL AND paid_at >= $1;`

	row, err := pickRow(ctx, r.pool, tx, q, since)
	if err != nil {
		return 0, err
	}
	var total int64
	if err := row.Scan(&total); err != nil {
		return 0, domain.ErrReadDatabaseRow
	}
	return total, nil
}

func (r *transactionRepo) ListByUser(ctx context.Context, tx repository.Tx, userID string, limit int) ([]*model.Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT ` + txColumns + ` FROM transactions WHERE user_id=$1 ORDER BY created_at DESC LIMIT $2;`
	rows, err := queryRows(ctx, r.pool, tx, q, userID, limit)
	if err != nil {
		switch err {
		case domain.ErrInvalidArgument, domain.ErrInvalidExecContext:
			return nil, err
		default:
			return nil, domain.ErrOperationFailed
		}
	}
	defer rows.Close()

	var out []*model.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}
