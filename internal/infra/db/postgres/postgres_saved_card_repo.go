package postgres

import (
	"context"

	"github.com/jackc/pgx/v4/pgxpool"

	"edu-billing/internal/domain"
	"edu-billing/internal/domain/model"
	"edu-billing/internal/domain/ports/repository"
	"edu-billing/internal/infra/security"
)

var _ repository.SavedCardRepository = (*savedCardRepo)(nil)

// savedCardRepo stores bound cards with the provider token encrypted at rest.
// Callers see plaintext tokens; only the column is sealed.
type savedCardRepo struct {
	pool *pgxpool.Pool
	enc  *security.EncryptionService
}

func NewSavedCardRepo(pool *pgxpool.Pool, enc *security.EncryptionService) *savedCardRepo {
	return &savedCardRepo{pool: pool, enc: enc}
}

func (r *savedCardRepo) Save(ctx context.Context, tx repository.Tx, c *model.SavedCard) error {
	sealed, err := r.enc.Encrypt(c.Token)
	if err != nil {
		return domain.ErrOperationFailed
	}

	// Re-binding the same card refreshes the token instead of duplicating it.
	const q = `
INSERT INTO saved_cards (id, user_id, gateway, masked_pan, token, network, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (user_id, gateway, masked_pan) DO UPDATE SET token=$5, network=$6;`

	_, err = execSQL(ctx, r.pool, tx, q, c.ID, c.UserID, c.Gateway, c.MaskedPAN, sealed, c.Network, c.CreatedAt)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *savedCardRepo) ListByUser(ctx context.Context, tx repository.Tx, userID string) ([]*model.SavedCard, error) {
	const q = `
SELECT id, user_id, gateway, masked_pan, token, network, created_at
  FROM saved_cards WHERE user_id=$1 ORDER BY created_at DESC;`

	rows, err := queryRows(ctx, r.pool, tx, q, userID)
	if err != nil {
		switch err {
		case domain.ErrInvalidArgument, domain.ErrInvalidExecContext:
			return nil, err
		default:
			return nil, domain.ErrOperationFailed
		}
	}
	defer rows.Close()

	var out []*model.SavedCard
	for rows.Next() {
		c := new(model.SavedCard)
		if err := rows.Scan(&c.ID, &c.UserID, &c.Gateway, &c.MaskedPAN, &c.Token, &c.Network, &c.CreatedAt); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		token, err := r.enc.Decrypt(c.Token)
		if err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		c.Token = token
		out = append(out, c)
	}
	return out, nil
}

func (r *savedCardRepo) Delete(ctx context.Context, tx repository.Tx, id, userID string) error {
	const q = `DELETE FROM saved_cards WHERE id=$1 AND user_id=$2;`
	cmd, err := execSQL(ctx, r.pool, tx, q, id, userID)
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
