package usecase

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"edu-billing/internal/domain/model"
	"edu-billing/internal/domain/ports/repository"
)

// Compile-time check
var _ StatsUseCase = (*statsUC)(nil)

// Overview is a point-in-time snapshot for the operator dashboard.
type Overview struct {
	Users        int
	ActiveByPlan map[model.Plan]int
	ByStatus     map[model.TransactionStatus]int
}

// Revenue holds gross settled amounts over trailing windows, in minor units.
type Revenue struct {
	Week  int64
	Month int64
	Year  int64
}

type StatsUseCase interface {
	Overview(ctx context.Context) (Overview, error)
	Revenue(ctx context.Context) (Revenue, error)
}

type statsUC struct {
	users        repository.UserRepository
	transactions repository.TransactionRepository
	log          *zerolog.Logger
}

func NewStatsUseCase(users repository.UserRepository, transactions repository.TransactionRepository, logger *zerolog.Logger) *statsUC {
	lg := logger.With().Str("component", "StatsUC").Logger()
	return &statsUC{users: users, transactions: transactions, log: &lg}
}

func (s *statsUC) Overview(ctx context.Context) (Overview, error) {
	users, err := s.users.CountUsers(ctx, repository.NoTX)
	if err != nil {
		return Overview{}, err
	}
	active, err := s.users.CountActiveByPlan(ctx, repository.NoTX, time.Now())
	if err != nil {
		return Overview{}, err
	}
	byStatus, err := s.transactions.CountByStatus(ctx, repository.NoTX)
	if err != nil {
		return Overview{}, err
	}
	return Overview{Users: users, ActiveByPlan: active, ByStatus: byStatus}, nil
}

func (s *statsUC) Revenue(ctx context.Context) (Revenue, error) {
	now := time.Now()
	week, err := s.transactions.SumPaidSince(ctx, repository.NoTX, now.AddDate(0, 0, -7))
	if err != nil {
		return Revenue{}, err
	}
	month, err := s.transactions.SumPaidSince(ctx, repository.NoTX, now.AddDate(0, -1, 0))
	if err != nil {
		return Revenue{}, err
	}
	year, err := s.transactions.SumPaidSince(ctx, repository.NoTX, now.AddDate(-1, 0, 0))
	if err != nil {
		return Revenue{}, err
	}
	return Revenue{Week: week, Month: month, Year: year}, nil
}
