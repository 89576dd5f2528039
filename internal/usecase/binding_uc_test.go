//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"edu-billing/internal/domain"
	"edu-billing/internal/domain/model"
	"edu-billing/internal/domain/ports/adapter"
	"edu-billing/internal/usecase"
)

type bindingDeps struct {
	transactions *MockTransactionRepo
	users        *MockUserRepo
	cards        *MockSavedCardRepo
	bindings     *MockBindingRepo
	checkout     *MockGateway
	uc           usecase.CardBindingUseCase
}

func newBindingDeps() *bindingDeps {
	log := newTestLogger()
	tm := NewMockTxManager()
	d := &bindingDeps{
		transactions: NewMockTransactionRepo(),
		users:        NewMockUserRepo(),
		cards:        NewMockSavedCardRepo(),
		bindings:     NewMockBindingRepo(),
		checkout:     &MockGateway{NameVal: model.GatewayCheckout},
	}
	subs := usecase.NewSubscriptionUseCase(d.users, tm, log)
	core := usecase.NewProcessor(d.transactions, d.bindings, d.cards, subs, tm, log)
	gateways := map[model.Gateway]adapter.GatewayClient{model.GatewayCheckout: d.checkout}
	d.uc = usecase.NewCardBindingUseCase(d.transactions, d.bindings, d.cards, gateways, core, "https://billing.example", log)
	return d
}

func TestCardBindingUseCase_Start(t *testing.T) {
	ctx := context.Background()

	t.Run("should open a session correlated with a pending transaction", func(t *testing.T) {
		// --- Arrange ---
		d := newBindingDeps()
		seedUser(t, d.users, "user-1", model.FreeSubscription())

		// --- Act ---
		session, err := d.uc.Start(ctx, "user-1", model.GatewayCheckout)

		// --- Assert ---
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if session.Status != model.BindingStatusPending {
			t.Errorf("expected session status 'pending', but got '%s'", session.Status)
		}
		if session.FormURL == "" {
			t.Error("expected a card form URL for the user")
		}
		trx := d.transactions.Get(session.InvoiceID)
		if trx == nil {
			t.Fatal("expected a correlation transaction for the session")
		}
		if trx.Kind != model.TransactionKindCardBinding {
			t.Errorf("expected kind 'card_binding', but got '%s'", trx.Kind)
		}
		if trx.Status != model.TransactionStatusPending {
			t.Errorf("expected status 'pending', but got '%s'", trx.Status)
		}
		if trx.ExternalID == nil || *trx.ExternalID != session.SessionID {
			t.Error("expected the session id recorded as the external id")
		}
		stored, err := d.bindings.Find(ctx, session.SessionID)
		if err != nil {
			t.Fatalf("expected the session stored, but got: %v", err)
		}
		if stored.UserID != "user-1" {
			t.Errorf("expected the session owned by 'user-1', but got '%s'", stored.UserID)
		}
	})

	t.Run("should close the transaction when the provider refuses to bind", func(t *testing.T) {
		// --- Arrange ---
		d := newBindingDeps()
		seedUser(t, d.users, "user-1", model.FreeSubscription())
		d.checkout.BindCardFunc = func(ctx context.Context, spec adapter.BindSpec) (*adapter.BindRef, error) {
			return nil, &domain.GatewayError{Gateway: "checkout", Code: "unsupported", Details: "binding disabled", HTTPStatus: 501}
		}

		// --- Act ---
		_, err := d.uc.Start(ctx, "user-1", model.GatewayCheckout)

		// --- Assert ---
		if err == nil {
			t.Fatal("expected an error, but got nil")
		}
		rows, _ := d.transactions.ListByUser(ctx, nil, "user-1", 10)
		if len(rows) != 1 {
			t.Fatalf("expected the correlation row to remain, got %d rows", len(rows))
		}
		if rows[0].Status != model.TransactionStatusFailed {
			t.Errorf("expected the row closed as 'failed', but got '%s'", rows[0].Status)
		}
		if rows[0].ErrorCode != "unsupported" {
			t.Errorf("expected the provider code retained, but got '%s'", rows[0].ErrorCode)
		}
	})

	t.Run("should reject a gateway without binding support configured", func(t *testing.T) {
		// --- Arrange ---
		d := newBindingDeps()
		seedUser(t, d.users, "user-1", model.FreeSubscription())

		// --- Act ---
		_, err := d.uc.Start(ctx, "user-1", model.GatewayScanPay)

		// --- Assert ---
		if !errors.Is(err, domain.ErrInvalidArgument) {
			t.Fatalf("expected ErrInvalidArgument, but got %v", err)
		}
	})
}

func TestCardBindingUseCase_ConfirmOTP(t *testing.T) {
	ctx := context.Background()

	t.Run("should activate the binding and store the card on a confirmed code", func(t *testing.T) {
		// --- Arrange ---
		d := newBindingDeps()
		seedUser(t, d.users, "user-1", model.FreeSubscription())
		session, err := d.uc.Start(ctx, "user-1", model.GatewayCheckout)
		if err != nil {
			t.Fatalf("arrange start: %v", err)
		}

		// --- Act ---
		confirmed, err := d.uc.ConfirmOTP(ctx, "user-1", session.SessionID, "123456")

		// --- Assert ---
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if confirmed.Status != model.BindingStatusActive {
			t.Errorf("expected session status 'active', but got '%s'", confirmed.Status)
		}
		if confirmed.Card == nil || confirmed.Card.MaskedPAN != "8600**1234" {
			t.Errorf("expected the bound card on the session, got %+v", confirmed.Card)
		}
		cards, _ := d.cards.ListByUser(ctx, nil, "user-1")
		if len(cards) != 1 {
			t.Fatalf("expected 1 saved card, but got %d", len(cards))
		}
		if cards[0].Token == "" {
			t.Error("expected the provider token stored with the card")
		}
		trx := d.transactions.Get(session.InvoiceID)
		if trx.Status != model.TransactionStatusPaid {
			t.Errorf("expected the correlation row settled, but got '%s'", trx.Status)
		}
		if _, err := d.bindings.Find(ctx, session.SessionID); !errors.Is(err, domain.ErrNotFound) {
			t.Error("expected the live session dropped after activation")
		}
	})

	t.Run("should surface a declined confirmation as failed", func(t *testing.T) {
		// --- Arrange ---
		d := newBindingDeps()
		seedUser(t, d.users, "user-1", model.FreeSubscription())
		session, err := d.uc.Start(ctx, "user-1", model.GatewayCheckout)
		if err != nil {
			t.Fatalf("arrange start: %v", err)
		}
		d.checkout.ConfirmOTPFunc = func(ctx context.Context, externalID, otp string) (*adapter.StatusResult, error) {
			return &adapter.StatusResult{
				Status:  model.ProviderStatusError,
				Details: model.PaymentDetails{ResponseCode: "05"},
			}, nil
		}

		// --- Act ---
		confirmed, err := d.uc.ConfirmOTP(ctx, "user-1", session.SessionID, "000000")

		// --- Assert ---
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if confirmed.Status != model.BindingStatusFailed {
			t.Errorf("expected session status 'failed', but got '%s'", confirmed.Status)
		}
		trx := d.transactions.Get(session.InvoiceID)
		if trx.Status != model.TransactionStatusFailed {
			t.Errorf("expected the correlation row 'failed', but got '%s'", trx.Status)
		}
		if len(d.cards.data) != 0 {
			t.Error("expected no card stored for a declined confirmation")
		}
	})

	t.Run("should hide sessions belonging to other users", func(t *testing.T) {
		// --- Arrange ---
		d := newBindingDeps()
		seedUser(t, d.users, "user-1", model.FreeSubscription())
		session, err := d.uc.Start(ctx, "user-1", model.GatewayCheckout)
		if err != nil {
			t.Fatalf("arrange start: %v", err)
		}

		// --- Act ---
		_, err = d.uc.ConfirmOTP(ctx, "stranger", session.SessionID, "123456")

		// --- Assert ---
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, but got %v", err)
		}
	})

	t.Run("should reject an expired session", func(t *testing.T) {
		// --- Arrange ---
		d := newBindingDeps()
		session, err := model.NewCardBindingSession("sess-old", "user-1", "inv-old", model.GatewayCheckout, "https://pay.example/bind", time.Minute)
		if err != nil {
			t.Fatalf("arrange session: %v", err)
		}
		session.ExpiresAt = time.Now().Add(-time.Minute)
		if err := d.bindings.Save(ctx, session); err != nil {
			t.Fatalf("arrange save: %v", err)
		}

		// --- Act ---
		_, err = d.uc.ConfirmOTP(ctx, "user-1", "sess-old", "123456")

		// --- Assert ---
		if !errors.Is(err, domain.ErrBindingExpired) {
			t.Fatalf("expected ErrBindingExpired, but got %v", err)
		}
	})
}

func TestCardBindingUseCase_Cards(t *testing.T) {
	ctx := context.Background()

	t.Run("should list and remove only the caller's cards", func(t *testing.T) {
		// --- Arrange ---
		d := newBindingDeps()
		mine := &model.SavedCard{ID: "card-1", UserID: "user-1", Gateway: model.GatewayCheckout, MaskedPAN: "8600**1234", Token: "tok-1", CreatedAt: now()}
		other := &model.SavedCard{ID: "card-2", UserID: "user-2", Gateway: model.GatewayCheckout, MaskedPAN: "8600**9999", Token: "tok-2", CreatedAt: now()}
		if err := d.cards.Save(ctx, nil, mine); err != nil {
			t.Fatalf("arrange card: %v", err)
		}
		if err := d.cards.Save(ctx, nil, other); err != nil {
			t.Fatalf("arrange card: %v", err)
		}

		// --- Act / Assert ---
		cards, err := d.uc.ListCards(ctx, "user-1")
		if err != nil {
			t.Fatalf("list failed: %v", err)
		}
		if len(cards) != 1 || cards[0].ID != "card-1" {
			t.Errorf("expected only the caller's card, got %d", len(cards))
		}

		if err := d.uc.RemoveCard(ctx, "user-1", "card-2"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound removing a foreign card, but got %v", err)
		}
		if err := d.uc.RemoveCard(ctx, "user-1", "card-1"); err != nil {
			t.Fatalf("remove failed: %v", err)
		}
		left, _ := d.uc.ListCards(ctx, "user-1")
		if len(left) != 0 {
			t.Errorf("expected no cards left, got %d", len(left))
		}
	})
}
