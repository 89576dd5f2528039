package repository

import (
	"context"

	"github.com/jackc/pgx/v4"
)

type Tx interface{}

var NoTX interface{}

// TransactionManager executes a function within a database transaction,
// passing the underlying handle via `tx`.
//
// Use-case interfaces stay clean (no storage types leak out); repositories
// accept the opaque handle and detect the concrete executor on their side.
// Every repository method MUST gracefully accept a nil handle and fall back
// to its pool (non-transactional path).
//
// USAGE
//	tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
//		// call repositories with the same ctx and tx
//		row, err := transactions.FindByInvoiceID(ctx, tx, gw, id)
//		...
//		return err
//	})
//
// Keep this interface small and stable.
type TransactionManager interface {
	WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error
}
