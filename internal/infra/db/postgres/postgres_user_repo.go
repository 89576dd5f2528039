package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"edu-billing/internal/domain"
	"edu-billing/internal/domain/model"
	"edu-billing/internal/domain/ports/repository"
)

var _ repository.UserRepository = (*PostgresUserRepo)(nil)

type PostgresUserRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresUserRepo(pool *pgxpool.Pool) *PostgresUserRepo {
	return &PostgresUserRepo{pool: pool}
}

func (r *PostgresUserRepo) Save(ctx context.Context, tx repository.Tx, u *model.User) error {
	const q = `
INSERT INTO users (
  id, phone, email, registered_at, is_admin,
  plan, plan_expires_at, plan_source, plan_tier_months
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9
) ON CONFLICT (id) DO UPDATE SET
  phone=$2, email=$3, is_admin=$5,
  plan=$6, plan_expires_at=$7, plan_source=$8, plan_tier_months=$9;`

	_, err := execSQL(ctx, r.pool, tx, q,
		u.ID, u.Phone, u.Email, u.RegisteredAt, u.IsAdmin,
		u.Subscription.Plan, u.Subscription.ExpiresAt, u.Subscription.Source, u.Subscription.TierMonths)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *PostgresUserRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.User, error) {
	q := `
SELECT id, phone, email, registered_at, is_admin,
       plan, plan_expires_at, plan_source, plan_tier_months
  FROM users WHERE id=$1`
	if _, ok := tx.(pgx.Tx); ok {
		q += " FOR UPDATE"
	}
	q += ";"
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}

	var u model.User
	if err := row.Scan(&u.ID, &u.Phone, &u.Email, &u.RegisteredAt, &u.IsAdmin,
		&u.Subscription.Plan, &u.Subscription.ExpiresAt, &u.Subscription.Source, &u.Subscription.TierMonths); err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	return &u, nil
}

func (r *PostgresUserRepo) UpdateSubscription(ctx context.Context, tx repository.Tx, userID string, sub model.Subscription) error {
	const q = `
UPDATE users SET plan=$2, plan_expires_at=$3, plan_source=$4, plan_tier_months=$5 WHERE id=$1;`

	cmd, err := execSQL(ctx, r.pool, tx, q, userID, sub.Plan, sub.ExpiresAt, sub.Source, sub.TierMonths)
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

func (r *PostgresUserRepo) ListExpiredPaid(ctx context.Context, tx repository.Tx, asOf time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 500
	}
	const q = `
SELECT id FROM users
 WHERE plan <> 'free' AND plan_expires_at IS NOT NULL AND plan_expires_at < $1
 ORDER BY plan_expires_at ASC LIMIT $2;`

	rows, err := queryRows(ctx, r.pool, tx, q, asOf, limit)
	if err != nil {
		switch err {
		case domain.ErrInvalidArgument, domain.ErrInvalidExecContext:
			return nil, err
		default:
			return nil, domain.ErrOperationFailed
		}
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (r *PostgresUserRepo) CountUsers(ctx context.Context, tx repository.Tx) (int, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT COUNT(*) FROM users;`)
	if err != nil {
		return 0, err
	}
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, domain.ErrReadDatabaseRow
	}
	return n, nil
}

func (r *PostgresUserRepo) CountActiveByPlan(ctx context.Context, tx repository.Tx, asOf time.Time) (map[model.Plan]int, error) {
	const q = `
SELECT plan, COUNT(*) FROM users
 WHERE plan <> 'free' AND plan_expires_at IS NOT NULL AND plan_expires_at > $1
 GROUP BY plan;`

	rows, err := queryRows(ctx, r.pool, tx, q, asOf)
	if err != nil {
		switch err {
		case domain.ErrInvalidArgument, domain.ErrInvalidExecContext:
			return nil, err
		default:
			return nil, domain.ErrOperationFailed
		}
	}
	defer rows.Close()

	out := make(map[model.Plan]int)
	for rows.Next() {
		var plan model.Plan
		var n int
		if err := rows.Scan(&plan, &n); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out[plan] = n
	}
	return out, nil
}
