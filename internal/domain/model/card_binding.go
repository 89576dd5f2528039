package model

import (
	"time"

	"edu-billing/internal/domain"
)

type BindingStatus string

const (
	BindingStatusPending BindingStatus = "pending"
	BindingStatusActive  BindingStatus = "active"
	BindingStatusFailed  BindingStatus = "failed"
)

// BoundCard is the token a gateway hands back for a successfully bound card.
// Only the masked PAN is ever shown; the token is opaque to us.
type BoundCard struct {
	MaskedPAN string `json:"masked_pan"`
	Token     string `json:"token"`
	Network   string `json:"network,omitempty"`
}

// CardBindingSession tracks one bind-card attempt from form creation until
// the gateway callback or expiry. Pending sessions are short-lived cache
// state; activated cards are persisted separately as SavedCard.
type CardBindingSession struct {
	SessionID string        `json:"session_id"`
	UserID    string        `json:"user_id"`
	InvoiceID string        `json:"invoice_id"`
	Gateway   Gateway       `json:"gateway"`
	Status    BindingStatus `json:"status"`
	Card      *BoundCard    `json:"card,omitempty"`
	FormURL   string        `json:"form_url"`
	CreatedAt time.Time     `json:"created_at"`
	ExpiresAt time.Time     `json:"expires_at"`
}

func NewCardBindingSession(sessionID, userID, invoiceID string, gw Gateway, formURL string, ttl time.Duration) (*CardBindingSession, error) {
	if sessionID == "" || userID == "" || invoiceID == "" || ttl <= 0 {
		return nil, domain.ErrInvalidArgument
	}
	now := time.Now()
	return &CardBindingSession{
		SessionID: sessionID,
		UserID:    userID,
		InvoiceID: invoiceID,
		Gateway:   gw,
		Status:    BindingStatusPending,
		FormURL:   formURL,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}, nil
}

func (s *CardBindingSession) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// SavedCard is a durably stored bound card belonging to a user.
type SavedCard struct {
	ID        string
	UserID    string
	Gateway   Gateway
	MaskedPAN string
	Token     string
	Network   string
	CreatedAt time.Time
}
