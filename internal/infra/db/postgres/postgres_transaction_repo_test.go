//go:build integration

package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"edu-billing/internal/domain"
	"edu-billing/internal/domain/model"

	"github.com/oklog/ulid/v2"
)

func TestTransactionRepo_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode.")
	}

	ctx := context.Background()
	repo := NewTransactionRepo(testPool)
	userRepo := NewPostgresUserRepo(testPool)

	user, _ := model.NewUser("", "+998901234567", "")

	setupPrerequisites := func(t *testing.T) {
		cleanup(t)
		if err := userRepo.Save(ctx, nil, user); err != nil {
			t.Fatalf("failed to save user: %v", err)
		}
	}

	newPending := func(t *testing.T, gw model.Gateway) *model.Transaction {
		trx, err := model.NewTransaction(ulid.Make().String(), user.ID, gw, model.PlanPro, 1, 45500000)
		if err != nil {
			t.Fatalf("failed to build transaction: %v", err)
		}
		if err := repo.Save(ctx, nil, trx); err != nil {
			t.Fatalf("failed to save transaction: %v", err)
		}
		return trx
	}

	t.Run("should save and find a transaction by invoice id", func(t *testing.T) {
		setupPrerequisites(t)
		trx := newPending(t, model.GatewayCheckout)

		found, err := repo.FindByInvoiceID(ctx, nil, model.GatewayCheckout, trx.InvoiceID)
		if err != nil {
			t.Fatalf("FindByInvoiceID failed: %v", err)
		}
		if found.UserID != user.ID || found.Plan != model.PlanPro || found.AmountMinor != 45500000 {
			t.Errorf("round trip mismatch: %+v", found)
		}
		if found.Status != model.TransactionStatusPending {
			t.Errorf("expected pending status, got %q", found.Status)
		}

		// A different gateway must not see the row.
		if _, err := repo.FindByInvoiceID(ctx, nil, model.GatewayScanPay, trx.InvoiceID); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound for foreign gateway, got %v", err)
		}
	})

	t.Run("should set external id once and find by it", func(t *testing.T) {
		setupPrerequisites(t)
		trx := newPending(t, model.GatewayCheckout)

		if err := repo.SetExternalID(ctx, nil, trx.InvoiceID, "prov-42"); err != nil {
			t.Fatalf("SetExternalID failed: %v", err)
		}
		// Same value is idempotent.
		if err := repo.SetExternalID(ctx, nil, trx.InvoiceID, "prov-42"); err != nil {
			t.Fatalf("repeated SetExternalID failed: %v", err)
		}
		// A different value must not overwrite.
		if err := repo.SetExternalID(ctx, nil, trx.InvoiceID, "prov-99"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound when overwriting external id, got %v", err)
		}

		found, err := repo.FindByExternalID(ctx, nil, model.GatewayCheckout, "prov-42")
		if err != nil {
			t.Fatalf("FindByExternalID failed: %v", err)
		}
		if found.InvoiceID != trx.InvoiceID {
			t.Error("found the wrong transaction by external id")
		}
	})

	t.Run("should mark paid only once", func(t *testing.T) {
		setupPrerequisites(t)
		trx := newPending(t, model.GatewayCheckout)

		paidAt := time.Now().Truncate(time.Millisecond)
		details := model.PaymentDetails{MaskedPAN: "860012******1234", ResponseCode: "0"}
		raw := []byte(`{"status":"success"}`)

		applied, err := repo.MarkPaid(ctx, nil, trx.InvoiceID, details, raw, paidAt)
		if err != nil {
			t.Fatalf("MarkPaid failed: %v", err)
		}
		if !applied {
			t.Fatal("expected first MarkPaid to apply")
		}

		again, err := repo.MarkPaid(ctx, nil, trx.InvoiceID, details, raw, paidAt)
		if err != nil {
			t.Fatalf("second MarkPaid failed: %v", err)
		}
		if again {
			t.Error("expected second MarkPaid to be a no-op")
		}

		found, _ := repo.FindByInvoiceID(ctx, nil, model.GatewayCheckout, trx.InvoiceID)
		if found.Status != model.TransactionStatusPaid {
			t.Errorf("expected paid, got %q", found.Status)
		}
		if found.PaidAt == nil || !found.PaidAt.Equal(paidAt) {
			t.Errorf("PaidAt not stored, expected %v got %v", paidAt, found.PaidAt)
		}
		if found.Details.MaskedPAN != "860012******1234" {
			t.Errorf("details not stored: %+v", found.Details)
		}
		if string(found.RawCallback) != string(raw) {
			t.Error("raw callback not stored")
		}
	})

	t.Run("should refund a paid transaction but never a closed one", func(t *testing.T) {
		setupPrerequisites(t)
		trx := newPending(t, model.GatewayScanPay)

		if applied, _ := repo.MarkPaid(ctx, nil, trx.InvoiceID, model.PaymentDetails{}, nil, time.Now()); !applied {
			t.Fatal("MarkPaid did not apply")
		}
		applied, err := repo.MarkRefunded(ctx, nil, trx.InvoiceID, []byte(`{"status":"revert"}`), time.Now())
		if err != nil {
			t.Fatalf("MarkRefunded failed: %v", err)
		}
		if !applied {
			t.Error("expected refund of a paid transaction to apply")
		}

		closed := newPending(t, model.GatewayScanPay)
		if applied, _ := repo.MarkClosed(ctx, nil, closed.InvoiceID, model.TransactionStatusFailed, "51", "insufficient funds", nil); !applied {
			t.Fatal("MarkClosed did not apply")
		}
		if applied, _ := repo.MarkRefunded(ctx, nil, closed.InvoiceID, nil, time.Now()); applied {
			t.Error("refund of a failed transaction must not apply")
		}
	})

	t.Run("should close pending transactions with an error code", func(t *testing.T) {
		setupPrerequisites(t)
		trx := newPending(t, model.GatewayCheckout)

		applied, err := repo.MarkClosed(ctx, nil, trx.InvoiceID, model.TransactionStatusFailed, "51", "insufficient funds", []byte(`{"responseCode":"51"}`))
		if err != nil {
			t.Fatalf("MarkClosed failed: %v", err)
		}
		if !applied {
			t.Fatal("expected MarkClosed to apply")
		}

		found, _ := repo.FindByInvoiceID(ctx, nil, model.GatewayCheckout, trx.InvoiceID)
		if found.Status != model.TransactionStatusFailed {
			t.Errorf("expected failed, got %q", found.Status)
		}
		if found.ErrorCode != "51" || found.ErrorMessage != "insufficient funds" {
			t.Errorf("error fields not stored: %q %q", found.ErrorCode, found.ErrorMessage)
		}

		// Closing again, or with a terminal target outside failed/canceled, must not apply.
		if again, _ := repo.MarkClosed(ctx, nil, trx.InvoiceID, model.TransactionStatusCanceled, "", "", nil); again {
			t.Error("expected second MarkClosed to be a no-op")
		}
		if _, err := repo.MarkClosed(ctx, nil, trx.InvoiceID, model.TransactionStatusPaid, "", "", nil); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument for paid target, got %v", err)
		}
	})

	newPendingAt := func(t *testing.T, createdAt time.Time) *model.Transaction {
		trx, err := model.NewTransaction(ulid.Make().String(), user.ID, model.GatewayCheckout, model.PlanPro, 1, 45500000)
		if err != nil {
			t.Fatalf("failed to build transaction: %v", err)
		}
		trx.CreatedAt = createdAt
		if err := repo.Save(ctx, nil, trx); err != nil {
			t.Fatalf("failed to save transaction: %v", err)
		}
		return trx
	}

	t.Run("should list pending transactions older than a cutoff", func(t *testing.T) {
		setupPrerequisites(t)

		old := newPendingAt(t, time.Now().Add(-2*time.Hour))
		newPending(t, model.GatewayCheckout)

		paid := newPendingAt(t, time.Now().Add(-2*time.Hour))
		if applied, _ := repo.MarkPaid(ctx, nil, paid.InvoiceID, model.PaymentDetails{}, nil, time.Now()); !applied {
			t.Fatal("MarkPaid did not apply")
		}

		results, err := repo.ListPendingOlderThan(ctx, nil, time.Now().Add(-1*time.Hour), 10)
		if err != nil {
			t.Fatalf("ListPendingOlderThan failed: %v", err)
		}
		if len(results) != 1 {
			t.Fatalf("expected 1 stale pending transaction, got %d", len(results))
		}
		if results[0].InvoiceID != old.InvoiceID {
			t.Error("found the wrong stale transaction")
		}
	})

	t.Run("should serialize concurrent paid transitions to a single winner", func(t *testing.T) {
		setupPrerequisites(t)
		trx := newPending(t, model.GatewayCheckout)

		const workers = 8
		wins := make(chan bool, workers)
		for i := 0; i < workers; i++ {
			go func() {
				applied, err := repo.MarkPaid(ctx, nil, trx.InvoiceID, model.PaymentDetails{}, nil, time.Now())
				if err != nil {
					wins <- false
					return
				}
				wins <- applied
			}()
		}
		winners := 0
		for i := 0; i < workers; i++ {
			if <-wins {
				winners++
			}
		}
		if winners != 1 {
			t.Errorf("expected exactly one winner, got %d", winners)
		}
	})

	t.Run("should aggregate status counts and settled revenue", func(t *testing.T) {
		setupPrerequisites(t)

		paid := newPending(t, model.GatewayCheckout)
		if applied, _ := repo.MarkPaid(ctx, nil, paid.InvoiceID, model.PaymentDetails{}, nil, time.Now()); !applied {
			t.Fatal("MarkPaid did not apply")
		}
		oldPaid := newPending(t, model.GatewayCheckout)
		if applied, _ := repo.MarkPaid(ctx, nil, oldPaid.InvoiceID, model.PaymentDetails{}, nil, time.Now().Add(-60*24*time.Hour)); !applied {
			t.Fatal("MarkPaid did not apply")
		}
		newPending(t, model.GatewayScanPay)

		counts, err := repo.CountByStatus(ctx, nil)
		if err != nil {
			t.Fatalf("CountByStatus failed: %v", err)
		}
		if counts[model.TransactionStatusPaid] != 2 || counts[model.TransactionStatusPending] != 1 {
			t.Errorf("unexpected status counts: %v", counts)
		}

		// The 60-day-old settlement falls outside a 30-day window.
		recent, err := repo.SumPaidSince(ctx, nil, time.Now().Add(-30*24*time.Hour))
		if err != nil {
			t.Fatalf("SumPaidSince failed: %v", err)
		}
		if recent != 45500000 {
			t.Errorf("expected 45500000 within 30 days, got %d", recent)
		}
		all, err := repo.SumPaidSince(ctx, nil, time.Now().Add(-365*24*time.Hour))
		if err != nil {
			t.Fatalf("SumPaidSince failed: %v", err)
		}
		if all != 91000000 {
			t.Errorf("expected 91000000 within a year, got %d", all)
		}
	})
}
