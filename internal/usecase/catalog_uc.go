package usecase

import (
	"context"
	"sort"

	"github.com/rs/zerolog"

	"edu-billing/internal/domain/model"
)

// Compile-time check
var _ CatalogUseCase = (*catalogUC)(nil)

// PlanOffer is one sellable tier of the price table.
type PlanOffer struct {
	Plan         model.Plan
	TierMonths   int
	AmountMinor  int64
	DurationDays int
}

// CatalogUseCase lists what can be bought. The catalog is config-backed and
// fixed for the process lifetime.
type CatalogUseCase interface {
	Offers(ctx context.Context) ([]PlanOffer, error)
}

type catalogUC struct {
	offers []PlanOffer
	log    *zerolog.Logger
}

// NewCatalogUseCase flattens the plan price table into a sorted offer list.
// Entries that cannot be sold (unknown plan names, unsupported tiers) are
// skipped with a warning; purchase validation rejects them the same way.
func NewCatalogUseCase(plans map[string]map[int]int64, logger *zerolog.Logger) *catalogUC {
	lg := logger.With().Str("component", "CatalogUC").Logger()
	uc := &catalogUC{log: &lg}

	for name, tiers := range plans {
		plan, err := model.ParsePlan(name)
		if err != nil || !plan.Paid() {
			lg.Warn().Str("plan", name).Msg("price table entry is not sellable, skipping")
			continue
		}
		for months, amount := range tiers {
			days, err := model.DaysForTier(months)
			if err != nil {
				lg.Warn().Str("plan", name).Int("months", months).Msg("unsupported tier in price table, skipping")
				continue
			}
			uc.offers = append(uc.offers, PlanOffer{
				Plan:         plan,
				TierMonths:   months,
				AmountMinor:  amount,
				DurationDays: days,
			})
		}
	}
	sort.Slice(uc.offers, func(i, j int) bool {
		if uc.offers[i].Plan != uc.offers[j].Plan {
			return uc.offers[i].Plan < uc.offers[j].Plan
		}
		return uc.offers[i].TierMonths < uc.offers[j].TierMonths
	})
	return uc
}

func (c *catalogUC) Offers(ctx context.Context) ([]PlanOffer, error) {
	return c.offers, nil
}
