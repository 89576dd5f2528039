//go:build !integration

package usecase_test

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"edu-billing/internal/domain"
	"edu-billing/internal/domain/model"
	"edu-billing/internal/domain/ports/adapter"
	"edu-billing/internal/domain/ports/repository"
)

// -----------------------------
// Utilities: tiny helpers
// -----------------------------

func now() time.Time { return time.Now().Truncate(time.Millisecond) }

// approx compares timestamps with slack for the wall-clock drift between
// Arrange and Act.
func approx(a, b time.Time) bool {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d < 2*time.Second
}

// newTestLogger creates a silent zerolog.Logger for use in tests.
func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

// =============================
// Repositories
// =============================

// ---- Mock TransactionRepository ----

// MockTransactionRepo keeps the same guarded-update semantics as the real
// repository: Mark* flips a row only when the current status permits it and
// reports whether this call won. Tests rely on that to exercise duplicate
// deliveries.
type MockTransactionRepo struct {
	mu   sync.Mutex
	data map[string]*model.Transaction // by invoice id

	SaveFunc     func(ctx context.Context, tx repository.Tx, t *model.Transaction) error
	MarkPaidFunc func(ctx context.Context, tx repository.Tx, invoiceID string, details model.PaymentDetails, raw []byte, paidAt time.Time) (bool, error)
}

var _ repository.TransactionRepository = (*MockTransactionRepo)(nil)

func NewMockTransactionRepo() *MockTransactionRepo {
	return &MockTransactionRepo{data: map[string]*model.Transaction{}}
}

// Seed places a transaction directly into the store, bypassing Save hooks.
func (r *MockTransactionRepo) Seed(t *model.Transaction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *t
	r.data[t.InvoiceID] = &cp
}

func (r *MockTransactionRepo) Get(invoiceID string) *model.Transaction {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.data[invoiceID]; ok {
		cp := *t
		return &cp
	}
	return nil
}

func (r *MockTransactionRepo) Save(ctx context.Context, tx repository.Tx, t *model.Transaction) error {
	if r.SaveFunc != nil {
		return r.SaveFunc(ctx, tx, t)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *t
	r.data[t.InvoiceID] = &cp
	return nil
}

func (r *MockTransactionRepo) Find(ctx context.Context, tx repository.Tx, invoiceID string) (*model.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.data[invoiceID]; ok {
		cp := *t
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

func (r *MockTransactionRepo) FindByInvoiceID(ctx context.Context, tx repository.Tx, gw model.Gateway, invoiceID string) (*model.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.data[invoiceID]; ok && t.Gateway == gw {
		cp := *t
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

func (r *MockTransactionRepo) FindByExternalID(ctx context.Context, tx repository.Tx, gw model.Gateway, externalID string) (*model.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.data {
		if t.Gateway == gw && t.ExternalID != nil && *t.ExternalID == externalID {
			cp := *t
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *MockTransactionRepo) SetExternalID(ctx context.Context, tx repository.Tx, invoiceID, externalID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.data[invoiceID]
	if !ok {
		return domain.ErrNotFound
	}
	if t.ExternalID != nil && *t.ExternalID != externalID {
		return domain.ErrNotFound
	}
	t.ExternalID = &externalID
	t.UpdatedAt = now()
	return nil
}

func (r *MockTransactionRepo) MarkPaid(ctx context.Context, tx repository.Tx, invoiceID string, details model.PaymentDetails, raw []byte, paidAt time.Time) (bool, error) {
	if r.MarkPaidFunc != nil {
		return r.MarkPaidFunc(ctx, tx, invoiceID, details, raw, paidAt)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.data[invoiceID]
	if !ok || t.Status != model.TransactionStatusPending {
		return false, nil
	}
	t.Status = model.TransactionStatusPaid
	t.Details = details
	if raw != nil {
		t.RawCallback = raw
	}
	t.PaidAt = &paidAt
	t.UpdatedAt = now()
	return true, nil
}

func (r *MockTransactionRepo) MarkRefunded(ctx context.Context, tx repository.Tx, invoiceID string, raw []byte, refundedAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.data[invoiceID]
	if !ok {
		return false, nil
	}
	if t.Status != model.TransactionStatusPending && t.Status != model.TransactionStatusPaid {
		return false, nil
	}
	t.Status = model.TransactionStatusRefunded
	if raw != nil {
		t.RawCallback = raw
	}
	t.RefundedAt = &refundedAt
	t.UpdatedAt = now()
	return true, nil
}

func (r *MockTransactionRepo) MarkClosed(ctx context.Context, tx repository.Tx, invoiceID string, status model.TransactionStatus, code, message string, raw []byte) (bool, error) {
	if status != model.TransactionStatusFailed && status != model.TransactionStatusCanceled {
		return false, domain.ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.data[invoiceID]
	if !ok || t.Status != model.TransactionStatusPending {
		return false, nil
	}
	t.Status = status
	t.ErrorCode = code
	t.ErrorMessage = message
	if raw != nil {
		t.RawCallback = raw
	}
	t.UpdatedAt = now()
	return true, nil
}

func (r *MockTransactionRepo) RecordCallback(ctx context.Context, tx repository.Tx, invoiceID string, raw []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.data[invoiceID]; ok {
		t.RawCallback = raw
		t.UpdatedAt = now()
	}
	return nil
}

func (r *MockTransactionRepo) ListPendingOlderThan(ctx context.Context, tx repository.Tx, cutoff time.Time, limit int) ([]*model.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Transaction
	for _, t := range r.data {
		if t.Status == model.TransactionStatusPending && t.CreatedAt.Before(cutoff) {
			cp := *t
			out = append(out, &cp)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (r *MockTransactionRepo) ListByUser(ctx context.Context, tx repository.Tx, userID string, limit int) ([]*model.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Transaction
	for _, t := range r.data {
		if t.UserID == userID {
			cp := *t
			out = append(out, &cp)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (r *MockTransactionRepo) CountByStatus(ctx context.Context, tx repository.Tx) (map[model.TransactionStatus]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[model.TransactionStatus]int)
	for _, t := range r.data {
		out[t.Status]++
	}
	return out, nil
}

func (r *MockTransactionRepo) SumPaidSince(ctx context.Context, tx repository.Tx, since time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var total int64
	for _, t := range r.data {
		if t.Kind == model.TransactionKindPayment && t.PaidAt != nil && !t.PaidAt.Before(since) {
			total += t.AmountMinor
		}
	}
	return total, nil
}

// ---- Mock UserRepository ----

type MockUserRepo struct {
	mu   sync.Mutex
	byID map[string]*model.User

	FindByIDFunc           func(ctx context.Context, tx repository.Tx, id string) (*model.User, error)
	UpdateSubscriptionFunc func(ctx context.Context, tx repository.Tx, userID string, sub model.Subscription) error
}

var _ repository.UserRepository = (*MockUserRepo)(nil)

func NewMockUserRepo() *MockUserRepo {
	return &MockUserRepo{byID: map[string]*model.User{}}
}

func (r *MockUserRepo) Save(ctx context.Context, tx repository.Tx, u *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *u
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	r.byID[cp.ID] = &cp
	return nil
}

func (r *MockUserRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.User, error) {
	if r.FindByIDFunc != nil {
		return r.FindByIDFunc(ctx, tx, id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.byID[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

func (r *MockUserRepo) UpdateSubscription(ctx context.Context, tx repository.Tx, userID string, sub model.Subscription) error {
	if r.UpdateSubscriptionFunc != nil {
		return r.UpdateSubscriptionFunc(ctx, tx, userID, sub)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[userID]
	if !ok {
		return domain.ErrNotFound
	}
	u.Subscription = sub
	return nil
}

func (r *MockUserRepo) ListExpiredPaid(ctx context.Context, tx repository.Tx, asOf time.Time, limit int) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for id, u := range r.byID {
		s := u.Subscription
		if s.Plan.Paid() && s.ExpiresAt != nil && s.ExpiresAt.Before(asOf) {
			out = append(out, id)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (r *MockUserRepo) CountUsers(ctx context.Context, tx repository.Tx) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID), nil
}

func (r *MockUserRepo) CountActiveByPlan(ctx context.Context, tx repository.Tx, asOf time.Time) (map[model.Plan]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[model.Plan]int)
	for _, u := range r.byID {
		s := u.Subscription
		if s.Plan.Paid() && s.ExpiresAt != nil && s.ExpiresAt.After(asOf) {
			out[s.Plan]++
		}
	}
	return out, nil
}

// ---- Mock SavedCardRepository ----

type MockSavedCardRepo struct {
	mu   sync.Mutex
	data map[string]*model.SavedCard // by card id

	SaveFunc func(ctx context.Context, tx repository.Tx, c *model.SavedCard) error
}

var _ repository.SavedCardRepository = (*MockSavedCardRepo)(nil)

func NewMockSavedCardRepo() *MockSavedCardRepo {
	return &MockSavedCardRepo{data: map[string]*model.SavedCard{}}
}

func (r *MockSavedCardRepo) Save(ctx context.Context, tx repository.Tx, c *model.SavedCard) error {
	if r.SaveFunc != nil {
		return r.SaveFunc(ctx, tx, c)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *c
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	r.data[cp.ID] = &cp
	return nil
}

func (r *MockSavedCardRepo) ListByUser(ctx context.Context, tx repository.Tx, userID string) ([]*model.SavedCard, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.SavedCard
	for _, c := range r.data {
		if c.UserID == userID {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *MockSavedCardRepo) Delete(ctx context.Context, tx repository.Tx, id, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.data[id]
	if !ok || c.UserID != userID {
		return domain.ErrNotFound
	}
	delete(r.data, id)
	return nil
}

// ---- Mock BindingSessionRepository ----

type MockBindingRepo struct {
	mu        sync.Mutex
	bySession map[string]*model.CardBindingSession
	byInvoice map[string]string // invoice id -> session id
}

var _ repository.BindingSessionRepository = (*MockBindingRepo)(nil)

func NewMockBindingRepo() *MockBindingRepo {
	return &MockBindingRepo{
		bySession: map[string]*model.CardBindingSession{},
		byInvoice: map[string]string{},
	}
}

func (r *MockBindingRepo) Save(ctx context.Context, s *model.CardBindingSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	r.bySession[s.SessionID] = &cp
	r.byInvoice[s.InvoiceID] = s.SessionID
	return nil
}

func (r *MockBindingRepo) Find(ctx context.Context, sessionID string) (*model.CardBindingSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.bySession[sessionID]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

func (r *MockBindingRepo) FindByInvoiceID(ctx context.Context, invoiceID string) (*model.CardBindingSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.byInvoice[invoiceID]; ok {
		if s, ok := r.bySession[id]; ok {
			cp := *s
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *MockBindingRepo) Delete(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.bySession[sessionID]; ok {
		delete(r.byInvoice, s.InvoiceID)
		delete(r.bySession, sessionID)
	}
	return nil
}

// =============================
// Adapters
// =============================

// ---- Mock GatewayClient ----

type MockGateway struct {
	NameVal model.Gateway

	CreateInvoiceFunc func(ctx context.Context, spec adapter.InvoiceSpec) (*adapter.InvoiceRef, error)
	StatusFunc        func(ctx context.Context, externalID string) (*adapter.StatusResult, error)
	CancelFunc        func(ctx context.Context, externalID string) error
	RefundFunc        func(ctx context.Context, externalID string, amountMinor int64) error
	BindCardFunc      func(ctx context.Context, spec adapter.BindSpec) (*adapter.BindRef, error)
	ConfirmOTPFunc    func(ctx context.Context, externalID, otp string) (*adapter.StatusResult, error)
}

var _ adapter.GatewayClient = (*MockGateway)(nil)

func (m *MockGateway) Name() model.Gateway {
	if m.NameVal == "" {
		return model.GatewayCheckout
	}
	return m.NameVal
}

func (m *MockGateway) CreateInvoice(ctx context.Context, spec adapter.InvoiceSpec) (*adapter.InvoiceRef, error) {
	if m.CreateInvoiceFunc != nil {
		return m.CreateInvoiceFunc(ctx, spec)
	}
	ext := "EXT-" + spec.InvoiceID
	return &adapter.InvoiceRef{ExternalID: ext, CheckoutURL: "https://pay.example/" + ext}, nil
}

func (m *MockGateway) Status(ctx context.Context, externalID string) (*adapter.StatusResult, error) {
	if m.StatusFunc != nil {
		return m.StatusFunc(ctx, externalID)
	}
	return &adapter.StatusResult{Status: model.ProviderStatusProgress}, nil
}

func (m *MockGateway) Cancel(ctx context.Context, externalID string) error {
	if m.CancelFunc != nil {
		return m.CancelFunc(ctx, externalID)
	}
	return nil
}

func (m *MockGateway) Refund(ctx context.Context, externalID string, amountMinor int64) error {
	if m.RefundFunc != nil {
		return m.RefundFunc(ctx, externalID, amountMinor)
	}
	return nil
}

func (m *MockGateway) BindCard(ctx context.Context, spec adapter.BindSpec) (*adapter.BindRef, error) {
	if m.BindCardFunc != nil {
		return m.BindCardFunc(ctx, spec)
	}
	return &adapter.BindRef{
		SessionID: "SESS-" + spec.InvoiceID,
		FormURL:   "https://pay.example/bind/" + spec.InvoiceID,
		ExpiresIn: 10 * time.Minute,
	}, nil
}

func (m *MockGateway) ConfirmOTP(ctx context.Context, externalID, otp string) (*adapter.StatusResult, error) {
	if m.ConfirmOTPFunc != nil {
		return m.ConfirmOTPFunc(ctx, externalID, otp)
	}
	return &adapter.StatusResult{
		Status:    model.ProviderStatusSuccess,
		Details:   model.PaymentDetails{MaskedPAN: "8600**1234", PaymentSystem: "uzcard"},
		CardToken: "tok-" + externalID,
	}, nil
}

// ---- Mock CallbackVerifier ----

type MockVerifier struct {
	Err        error
	VerifyFunc func(f adapter.CallbackFields) error
}

var _ adapter.CallbackVerifier = (*MockVerifier)(nil)

func (m *MockVerifier) Verify(f adapter.CallbackFields) error {
	if m.VerifyFunc != nil {
		return m.VerifyFunc(f)
	}
	return m.Err
}

// ---- Mock Alerter ----

type MockAlerter struct {
	mu   sync.Mutex
	Sent []string
}

var _ adapter.Alerter = (*MockAlerter)(nil)

func (m *MockAlerter) Notify(ctx context.Context, subject, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = append(m.Sent, subject+": "+text)
	return nil
}

// ---- Static PlanCatalog ----

type staticCatalog map[string]int64

func (c staticCatalog) PriceFor(plan string, months int) (int64, bool) {
	p, ok := c[keyFor(plan, months)]
	return p, ok
}

func keyFor(plan string, months int) string {
	return fmt.Sprintf("%s/%d", plan, months)
}

func testCatalog() staticCatalog {
	return staticCatalog{
		keyFor("pro", 1):     45_500_000,
		keyFor("pro", 3):     120_000_000,
		keyFor("start", 1):   25_000_000,
		keyFor("premium", 6): 400_000_000,
	}
}

// =============================
// Infra helpers for tests
// =============================

// ---- Mock TransactionManager ----

type MockTxManager struct {
	WithTxFunc func(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error
}

var _ repository.TransactionManager = (*MockTxManager)(nil)

func NewMockTxManager() *MockTxManager {
	return &MockTxManager{}
}

// WithTx runs the function immediately with NoTX. Tests that need to observe
// or fail the transaction assign WithTxFunc.
func (m *MockTxManager) WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	if m.WithTxFunc != nil {
		return m.WithTxFunc(ctx, txOpt, fn)
	}
	return fn(ctx, repository.NoTX)
}
