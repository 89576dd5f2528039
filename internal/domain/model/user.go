package model

import (
	"time"

	"edu-billing/internal/domain"

	"github.com/google/uuid"
)

type SubscriptionSource string

const (
	SubscriptionSourcePayment   SubscriptionSource = "payment"
	SubscriptionSourcePromocode SubscriptionSource = "promocode"
	SubscriptionSourceAdmin     SubscriptionSource = "admin"
	SubscriptionSourceGift      SubscriptionSource = "gift"
)

// Subscription is the entitlement state embedded on User: exactly one per
// user, created free at signup, never deleted, only reset to free. It is
// mutated solely by the subscription use case.
type Subscription struct {
	Plan       Plan
	ExpiresAt  *time.Time
	Source     SubscriptionSource
	TierMonths *int
}

// Active reports whether the user currently holds a paid entitlement.
func (s *Subscription) Active(now time.Time) bool {
	return s.Plan.Paid() && s.ExpiresAt != nil && s.ExpiresAt.After(now)
}

// ExtendedBy returns the subscription after granting plan for durationDays.
// An active window is extended from its current expiry; a lapsed or free one
// starts from now. tierMonths <= 0 infers the tier from the duration.
func (s Subscription) ExtendedBy(plan Plan, durationDays int, tierMonths int, source SubscriptionSource, now time.Time) Subscription {
	base := now
	if s.Active(now) {
		base = *s.ExpiresAt
	}
	expires := base.Add(time.Duration(durationDays) * 24 * time.Hour)
	if tierMonths <= 0 {
		tierMonths = TierForDays(durationDays)
	}
	return Subscription{
		Plan:       plan,
		ExpiresAt:  &expires,
		Source:     source,
		TierMonths: &tierMonths,
	}
}

// FreeSubscription is the post-revoke (and signup) entitlement state.
func FreeSubscription() Subscription {
	return Subscription{Plan: PlanFree}
}

// User is a platform account as the billing core sees it. Identity lives in
// the platform's auth service; here the ID is the JWT subject.
type User struct {
	ID           string
	Phone        string
	Email        string
	RegisteredAt time.Time
	IsAdmin      bool
	Subscription Subscription
}

func NewUser(id, phone, email string) (*User, error) {
	if id == "" {
		id = uuid.NewString()
	}
	if phone == "" && email == "" {
		return nil, domain.ErrInvalidArgument
	}
	return &User{
		ID:           id,
		Phone:        phone,
		Email:        email,
		RegisteredAt: time.Now(),
		Subscription: Subscription{Plan: PlanFree},
	}, nil
}

func (u *User) IsZero() bool { return u == nil || u.ID == "" }
