//go:build !integration

package gateway

import (
	"errors"
	"io"
	"strings"
	"testing"

	"edu-billing/internal/domain"
	"edu-billing/internal/domain/model"
	"edu-billing/internal/domain/ports/adapter"

	"github.com/rs/zerolog"
)

func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

func TestSignatureVerifier_Checkout(t *testing.T) {
	const (
		storeID = "store-77"
		secret  = "s3cr3t"
	)
	fields := adapter.CallbackFields{
		ExternalID: "ext-1",
		InvoiceID:  "inv-1",
		Amount:     "45500000",
	}
	fields.Sign = checkoutDigest(storeID, fields.InvoiceID, fields.Amount, secret)

	v := NewSignatureVerifier(model.GatewayCheckout, storeID, secret, false, newTestLogger())

	t.Run("accepts a valid signature", func(t *testing.T) {
		if err := v.Verify(fields); err != nil {
			t.Fatalf("expected valid signature to pass, got: %v", err)
		}
	})

	t.Run("accepts uppercase hex", func(t *testing.T) {
		upper := fields
		upper.Sign = strings.ToUpper(upper.Sign)
		if err := v.Verify(upper); err != nil {
			t.Fatalf("expected case-insensitive match, got: %v", err)
		}
	})

	t.Run("rejects when any byte is flipped", func(t *testing.T) {
		for i := 0; i < len(fields.Sign); i++ {
			mutated := []byte(fields.Sign)
			if mutated[i] == 'a' {
				mutated[i] = 'b'
			} else {
				mutated[i] = 'a'
			}
			bad := fields
			bad.Sign = string(mutated)
			if err := v.Verify(bad); !errors.Is(err, domain.ErrSignature) {
				t.Fatalf("flipped byte %d: expected ErrSignature, got %v", i, err)
			}
		}
	})

	t.Run("rejects when the signed amount changes", func(t *testing.T) {
		bad := fields
		bad.Amount = "1"
		if err := v.Verify(bad); !errors.Is(err, domain.ErrSignature) {
			t.Fatalf("expected ErrSignature, got %v", err)
		}
	})

	t.Run("rejects an empty signature", func(t *testing.T) {
		bad := fields
		bad.Sign = ""
		if err := v.Verify(bad); !errors.Is(err, domain.ErrSignature) {
			t.Fatalf("expected ErrSignature, got %v", err)
		}
	})
}

func TestSignatureVerifier_ScanPay(t *testing.T) {
	const secret = "other-secret"
	fields := adapter.CallbackFields{
		ExternalID: "sp-900",
		InvoiceID:  "inv-2",
		Amount:     "25500000",
	}
	fields.Sign = scanpayDigest(fields.ExternalID, fields.InvoiceID, fields.Amount, secret)

	v := NewSignatureVerifier(model.GatewayScanPay, "", secret, false, newTestLogger())

	t.Run("accepts a valid signature", func(t *testing.T) {
		if err := v.Verify(fields); err != nil {
			t.Fatalf("expected valid signature to pass, got: %v", err)
		}
	})

	t.Run("comparison is exact", func(t *testing.T) {
		upper := fields
		upper.Sign = strings.ToUpper(upper.Sign)
		if err := v.Verify(upper); !errors.Is(err, domain.ErrSignature) {
			t.Fatalf("expected exact-match scheme to reject uppercase, got %v", err)
		}
	})

	t.Run("external id is part of the digest", func(t *testing.T) {
		bad := fields
		bad.ExternalID = "sp-901"
		if err := v.Verify(bad); !errors.Is(err, domain.ErrSignature) {
			t.Fatalf("expected ErrSignature, got %v", err)
		}
	})
}

func TestSignatureVerifier_DevSkip(t *testing.T) {
	v := NewSignatureVerifier(model.GatewayCheckout, "store", "secret", true, newTestLogger())
	err := v.Verify(adapter.CallbackFields{InvoiceID: "inv-1", Amount: "1", Sign: "garbage"})
	if err != nil {
		t.Fatalf("expected skip flag to bypass verification, got: %v", err)
	}
}
