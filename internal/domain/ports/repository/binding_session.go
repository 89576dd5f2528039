package repository

import (
	"context"

	"edu-billing/internal/domain/model"
)

// -----------------------------
// Card binding sessions
// -----------------------------

// BindingSessionRepository stores in-flight bind-card sessions. Entries live
// only until the gateway callback or the session TTL, so implementations are
// expected to expire them server-side (no sweeper here).
type BindingSessionRepository interface {
	Save(ctx context.Context, s *model.CardBindingSession) error
	Find(ctx context.Context, sessionID string) (*model.CardBindingSession, error)
	// FindByInvoiceID resolves the session a gateway callback refers to.
	FindByInvoiceID(ctx context.Context, invoiceID string) (*model.CardBindingSession, error)
	Delete(ctx context.Context, sessionID string) error
}
