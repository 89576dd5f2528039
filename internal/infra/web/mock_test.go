package web

import (
	"context"
	"time"

	"edu-billing/internal/domain"
	"edu-billing/internal/domain/model"
	"edu-billing/internal/domain/ports/adapter"
	"edu-billing/internal/usecase"

	"github.com/rs/zerolog"
)

// newTestLogger creates a silent logger for tests.
func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(nil)
	return &logger
}

// --- Mock use cases (the web layer's collaborators) ---

type mockPaymentUC struct {
	InitiateFunc   func(ctx context.Context, userID string, plan model.Plan, months int, gw model.Gateway) (*model.Transaction, *adapter.InvoiceRef, error)
	GetFunc        func(ctx context.Context, userID, invoiceID string) (*model.Transaction, error)
	ListByUserFunc func(ctx context.Context, userID string, limit int) ([]*model.Transaction, error)
	CancelFunc     func(ctx context.Context, userID, invoiceID string) error
	RefundFunc     func(ctx context.Context, invoiceID string) error
	SyncStatusFunc func(ctx context.Context, invoiceID string) (*model.Transaction, error)
	AdminFindFunc  func(ctx context.Context, invoiceID string) (*model.Transaction, error)
}

var _ usecase.PaymentUseCase = (*mockPaymentUC)(nil)

func (m *mockPaymentUC) Initiate(ctx context.Context, userID string, plan model.Plan, months int, gw model.Gateway) (*model.Transaction, *adapter.InvoiceRef, error) {
	if m.InitiateFunc != nil {
		return m.InitiateFunc(ctx, userID, plan, months, gw)
	}
	return nil, nil, domain.ErrInvalidArgument
}

func (m *mockPaymentUC) Get(ctx context.Context, userID, invoiceID string) (*model.Transaction, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, userID, invoiceID)
	}
	return nil, domain.ErrNotFound
}

func (m *mockPaymentUC) ListByUser(ctx context.Context, userID string, limit int) ([]*model.Transaction, error) {
	if m.ListByUserFunc != nil {
		return m.ListByUserFunc(ctx, userID, limit)
	}
	return nil, nil
}

func (m *mockPaymentUC) Cancel(ctx context.Context, userID, invoiceID string) error {
	if m.CancelFunc != nil {
		return m.CancelFunc(ctx, userID, invoiceID)
	}
	return nil
}

func (m *mockPaymentUC) Refund(ctx context.Context, invoiceID string) error {
	if m.RefundFunc != nil {
		return m.RefundFunc(ctx, invoiceID)
	}
	return nil
}

func (m *mockPaymentUC) SyncStatus(ctx context.Context, invoiceID string) (*model.Transaction, error) {
	if m.SyncStatusFunc != nil {
		return m.SyncStatusFunc(ctx, invoiceID)
	}
	return nil, domain.ErrNotFound
}

func (m *mockPaymentUC) AdminFind(ctx context.Context, invoiceID string) (*model.Transaction, error) {
	if m.AdminFindFunc != nil {
		return m.AdminFindFunc(ctx, invoiceID)
	}
	return nil, domain.ErrNotFound
}

type mockBindingUC struct {
	StartFunc      func(ctx context.Context, userID string, gw model.Gateway) (*model.CardBindingSession, error)
	ConfirmFunc    func(ctx context.Context, userID, sessionID, otp string) (*model.CardBindingSession, error)
	ListCardsFunc  func(ctx context.Context, userID string) ([]*model.SavedCard, error)
	RemoveCardFunc func(ctx context.Context, userID, cardID string) error
}

var _ usecase.CardBindingUseCase = (*mockBindingUC)(nil)

func (m *mockBindingUC) Start(ctx context.Context, userID string, gw model.Gateway) (*model.CardBindingSession, error) {
	if m.StartFunc != nil {
		return m.StartFunc(ctx, userID, gw)
	}
	return nil, domain.ErrInvalidArgument
}

func (m *mockBindingUC) ConfirmOTP(ctx context.Context, userID, sessionID, otp string) (*model.CardBindingSession, error) {
	if m.ConfirmFunc != nil {
		return m.ConfirmFunc(ctx, userID, sessionID, otp)
	}
	return nil, domain.ErrNotFound
}

func (m *mockBindingUC) ListCards(ctx context.Context, userID string) ([]*model.SavedCard, error) {
	if m.ListCardsFunc != nil {
		return m.ListCardsFunc(ctx, userID)
	}
	return nil, nil
}

func (m *mockBindingUC) RemoveCard(ctx context.Context, userID, cardID string) error {
	if m.RemoveCardFunc != nil {
		return m.RemoveCardFunc(ctx, userID, cardID)
	}
	return nil
}

type mockWebhookUC struct {
	Events      []usecase.CallbackEvent
	ProcessFunc func(ctx context.Context, gw model.Gateway, ev usecase.CallbackEvent) (usecase.Outcome, error)
}

var _ usecase.WebhookUseCase = (*mockWebhookUC)(nil)

func (m *mockWebhookUC) ProcessCallback(ctx context.Context, gw model.Gateway, ev usecase.CallbackEvent) (usecase.Outcome, error) {
	m.Events = append(m.Events, ev)
	if m.ProcessFunc != nil {
		return m.ProcessFunc(ctx, gw, ev)
	}
	return usecase.OutcomeApplied, nil
}

type mockCatalogUC struct {
	OffersFunc func(ctx context.Context) ([]usecase.PlanOffer, error)
}

var _ usecase.CatalogUseCase = (*mockCatalogUC)(nil)

func (m *mockCatalogUC) Offers(ctx context.Context) ([]usecase.PlanOffer, error) {
	if m.OffersFunc != nil {
		return m.OffersFunc(ctx)
	}
	return nil, nil
}

type mockStatsUC struct {
	OverviewFunc func(ctx context.Context) (usecase.Overview, error)
	RevenueFunc  func(ctx context.Context) (usecase.Revenue, error)
}

var _ usecase.StatsUseCase = (*mockStatsUC)(nil)

func (m *mockStatsUC) Overview(ctx context.Context) (usecase.Overview, error) {
	if m.OverviewFunc != nil {
		return m.OverviewFunc(ctx)
	}
	return usecase.Overview{}, nil
}

func (m *mockStatsUC) Revenue(ctx context.Context) (usecase.Revenue, error) {
	if m.RevenueFunc != nil {
		return m.RevenueFunc(ctx)
	}
	return usecase.Revenue{}, nil
}

type mockLimiter struct {
	Keys      []string
	AllowFunc func(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

var _ RateLimiter = (*mockLimiter)(nil)

func (m *mockLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	m.Keys = append(m.Keys, key)
	if m.AllowFunc != nil {
		return m.AllowFunc(ctx, key, limit, window)
	}
	return true, nil
}
