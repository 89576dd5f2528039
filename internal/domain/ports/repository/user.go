package repository

import (
	"context"
	"time"

	"edu-billing/internal/domain/model"
)

// -----------------------------
// Users
// -----------------------------

type UserRepository interface {
	Save(ctx context.Context, tx Tx, u *model.User) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.User, error)

	// UpdateSubscription overwrites the embedded entitlement columns.
	UpdateSubscription(ctx context.Context, tx Tx, userID string, sub model.Subscription) error

	// ListExpiredPaid returns ids of users still on a paid plan whose expiry
	// passed before asOf. Used by the expiry worker.
	ListExpiredPaid(ctx context.Context, tx Tx, asOf time.Time, limit int) ([]string, error)

	CountUsers(ctx context.Context, tx Tx) (int, error)

	// CountActiveByPlan counts users per paid plan whose entitlement is still
	// active at asOf.
	CountActiveByPlan(ctx context.Context, tx Tx, asOf time.Time) (map[model.Plan]int, error)
}

// -----------------------------
// Saved cards
// -----------------------------

type SavedCardRepository interface {
	Save(ctx context.Context, tx Tx, c *model.SavedCard) error
	ListByUser(ctx context.Context, tx Tx, userID string) ([]*model.SavedCard, error)
	Delete(ctx context.Context, tx Tx, id, userID string) error
}
