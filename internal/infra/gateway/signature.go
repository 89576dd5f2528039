package gateway

import (
	"crypto/md5"
	"crypto/sha1"
	"encoding/hex"
	"strings"

	"edu-billing/internal/domain"
	"edu-billing/internal/domain/model"
	"edu-billing/internal/domain/ports/adapter"

	"github.com/rs/zerolog"
)

var _ adapter.CallbackVerifier = (*SignatureVerifier)(nil)

// SignatureVerifier authenticates inbound callbacks. Each gateway signs with
// its own scheme:
//
//	checkout: md5(storeId + invoiceId + amount + secret), hex, case-insensitive
//	scanpay:  sha1(externalId + invoiceId + amount + secret), hex, exact match
//
// skip is a development aid for unsigned provider sandboxes; config forces it
// off outside dev mode, so production traffic is always verified.
type SignatureVerifier struct {
	gw      model.Gateway
	storeID string
	secret  string
	skip    bool
	log     *zerolog.Logger
}

func NewSignatureVerifier(gw model.Gateway, storeID, secret string, skip bool, logger *zerolog.Logger) *SignatureVerifier {
	lg := logger.With().Str("component", "SignatureVerifier").Str("gateway", string(gw)).Logger()
	return &SignatureVerifier{gw: gw, storeID: storeID, secret: secret, skip: skip, log: &lg}
}

// Verify returns domain.ErrSignature on any mismatch. A mismatched callback
// must never reach transaction processing.
func (v *SignatureVerifier) Verify(f adapter.CallbackFields) error {
	if v.skip {
		v.log.Warn().Str("invoice_id", f.InvoiceID).Msg("signature check skipped (dev mode)")
		return nil
	}
	if f.Sign == "" {
		return domain.ErrSignature
	}

	switch v.gw {
	case model.GatewayCheckout:
		expected := checkoutDigest(v.storeID, f.InvoiceID, f.Amount, v.secret)
		if strings.EqualFold(expected, f.Sign) {
			return nil
		}
	case model.GatewayScanPay:
		expected := scanpayDigest(f.ExternalID, f.InvoiceID, f.Amount, v.secret)
		if expected == f.Sign {
			return nil
		}
	}
	return domain.ErrSignature
}

func checkoutDigest(storeID, invoiceID, amount, secret string) string {
	sum := md5.Sum([]byte(storeID + invoiceID + amount + secret))
	return hex.EncodeToString(sum[:])
}

func scanpayDigest(externalID, invoiceID, amount, secret string) string {
	sum := sha1.Sum([]byte(externalID + invoiceID + amount + secret))
	return hex.EncodeToString(sum[:])
}
