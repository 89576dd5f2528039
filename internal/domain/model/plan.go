package model

import (
	"strings"

	"edu-billing/internal/domain"
)

type Plan string

const (
	PlanFree    Plan = "free"
	PlanStart   Plan = "start"
	PlanPro     Plan = "pro"
	PlanPremium Plan = "premium"
)

// Paid reports whether the plan is purchasable.
func (p Plan) Paid() bool {
	return p == PlanStart || p == PlanPro || p == PlanPremium
}

func ParsePlan(s string) (Plan, error) {
	switch Plan(strings.ToLower(s)) {
	case PlanFree:
		return PlanFree, nil
	case PlanStart:
		return PlanStart, nil
	case PlanPro:
		return PlanPro, nil
	case PlanPremium:
		return PlanPremium, nil
	}
	return "", domain.ErrInvalidArgument
}

// Plans are sold in whole-month tiers; entitlement windows are stored in days.
const (
	TierMonthDays    = 30
	TierQuarterDays  = 90
	TierHalfYearDays = 180
)

// DaysForTier maps a tier (1, 3 or 6 months) to its grant window.
func DaysForTier(months int) (int, error) {
	switch months {
	case 1:
		return TierMonthDays, nil
	case 3:
		return TierQuarterDays, nil
	case 6:
		return TierHalfYearDays, nil
	}
	return 0, domain.ErrInvalidArgument
}

// TierForDays infers the tier from a grant window, for callers that only know
// the duration.
func TierForDays(days int) int {
	switch {
	case days <= 31:
		return 1
	case days <= 95:
		return 3
	default:
		return 6
	}
}
