package usecase

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"edu-billing/internal/domain"
	"edu-billing/internal/domain/model"
	"edu-billing/internal/domain/ports/repository"
	"edu-billing/internal/infra/logging"
	"edu-billing/internal/infra/metrics"
)

// Compile-time check
var _ SubscriptionUseCase = (*subscriptionUC)(nil)

// SubscriptionUseCase owns the entitlement state on User. Grant and Revoke
// are idempotent in effect; the Tx variants run inside a caller-owned
// transaction so a paid flip and its grant commit together.
type SubscriptionUseCase interface {
	Grant(ctx context.Context, userID string, plan model.Plan, durationDays, tierMonths int, source model.SubscriptionSource) (model.Subscription, error)
	GrantTx(ctx context.Context, tx repository.Tx, userID string, plan model.Plan, durationDays, tierMonths int, source model.SubscriptionSource) (model.Subscription, error)
	Revoke(ctx context.Context, userID string) error
	RevokeTx(ctx context.Context, tx repository.Tx, userID string) error
	Entitlement(ctx context.Context, userID string) (model.Subscription, error)
	// FinishExpired resets lapsed paid plans to free and returns how many
	// users it touched.
	FinishExpired(ctx context.Context, limit int) (int, error)
}

type subscriptionUC struct {
	users repository.UserRepository
	tm    repository.TransactionManager
	log   *zerolog.Logger
}

func NewSubscriptionUseCase(users repository.UserRepository, tm repository.TransactionManager, logger *zerolog.Logger) *subscriptionUC {
	lg := logger.With().Str("component", "SubscriptionUC").Logger()
	return &subscriptionUC{users: users, tm: tm, log: &lg}
}

func (u *subscriptionUC) Grant(ctx context.Context, userID string, plan model.Plan, durationDays, tierMonths int, source model.SubscriptionSource) (model.Subscription, error) {
	var sub model.Subscription
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		var err error
		sub, err = u.GrantTx(ctx, tx, userID, plan, durationDays, tierMonths, source)
		return err
	})
	return sub, err
}

func (u *subscriptionUC) GrantTx(ctx context.Context, tx repository.Tx, userID string, plan model.Plan, durationDays, tierMonths int, source model.SubscriptionSource) (model.Subscription, error) {
	defer logging.TraceDuration(u.log, "SubscriptionUC.Grant")()

	if !plan.Paid() || durationDays <= 0 {
		return model.Subscription{}, domain.ErrInvalidArgument
	}
	user, err := u.users.FindByID(ctx, tx, userID)
	if err != nil {
		return model.Subscription{}, err
	}

	sub := user.Subscription.ExtendedBy(plan, durationDays, tierMonths, source, time.Now())
	if err := u.users.UpdateSubscription(ctx, tx, userID, sub); err != nil {
		return model.Subscription{}, err
	}

	metrics.IncSubscriptionGranted(string(plan), string(source))
	u.log.Info().
		Str("user_id", userID).
		Str("plan", string(plan)).
		Int("days", durationDays).
		Time("expires_at", *sub.ExpiresAt).
		Msg("subscription granted")
	return sub, nil
}

func (u *subscriptionUC) Revoke(ctx context.Context, userID string) error {
	return u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		return u.RevokeTx(ctx, tx, userID)
	})
}

// RevokeTx resets the user to the free plan. Calling it on an already-free
// user is a no-op, which is what makes refund replays safe.
func (u *subscriptionUC) RevokeTx(ctx context.Context, tx repository.Tx, userID string) error {
	defer logging.TraceDuration(u.log, "SubscriptionUC.Revoke")()

	user, err := u.users.FindByID(ctx, tx, userID)
	if err != nil {
		return err
	}
	if !user.Subscription.Plan.Paid() {
		return nil
	}
	if err := u.users.UpdateSubscription(ctx, tx, userID, model.FreeSubscription()); err != nil {
		return err
	}
	metrics.IncSubscriptionRevoked()
	u.log.Info().Str("user_id", userID).Str("was_plan", string(user.Subscription.Plan)).Msg("subscription revoked")
	return nil
}

func (u *subscriptionUC) Entitlement(ctx context.Context, userID string) (model.Subscription, error) {
	user, err := u.users.FindByID(ctx, repository.NoTX, userID)
	if err != nil {
		return model.Subscription{}, err
	}
	return user.Subscription, nil
}

func (u *subscriptionUC) FinishExpired(ctx context.Context, limit int) (int, error) {
	defer logging.TraceDuration(u.log, "SubscriptionUC.FinishExpired")()

	ids, err := u.users.ListExpiredPaid(ctx, repository.NoTX, time.Now(), limit)
	if err != nil {
		return 0, err
	}

	reset := 0
	for _, id := range ids {
		err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
			user, err := u.users.FindByID(ctx, tx, id)
			if err != nil {
				return err
			}
			// Re-check under lock; a concurrent payment may have renewed it.
			if !user.Subscription.Plan.Paid() || user.Subscription.Active(time.Now()) {
				return nil
			}
			if err := u.users.UpdateSubscription(ctx, tx, id, model.FreeSubscription()); err != nil {
				return err
			}
			reset++
			return nil
		})
		if err != nil {
			u.log.Error().Err(err).Str("user_id", id).Msg("failed to expire subscription")
		}
	}
	if reset > 0 {
		metrics.IncSubscriptionsExpired(reset)
	}
	return reset, nil
}
