package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"edu-billing/internal/domain"
	"edu-billing/internal/domain/model"
	"edu-billing/internal/domain/ports/repository"

	"github.com/go-redis/redis/v8"
)

var _ repository.BindingSessionRepository = (*BindingSessionRepo)(nil)

// BindingSessionRepo keeps in-flight bind-card sessions in Redis. Each
// session is stored under its own id plus an invoice-id alias so gateway
// callbacks can resolve it. Both keys share the session TTL, so abandoned
// sessions expire server-side.
type BindingSessionRepo struct {
	client RedisClient
}

func NewBindingSessionRepo(client RedisClient) *BindingSessionRepo {
	return &BindingSessionRepo{client: client}
}

func sessionKey(sessionID string) string { return fmt.Sprintf("binding:sess:%s", sessionID) }
func invoiceKey(invoiceID string) string { return fmt.Sprintf("binding:inv:%s", invoiceID) }

func (r *BindingSessionRepo) Save(ctx context.Context, s *model.CardBindingSession) error {
	if s == nil || s.SessionID == "" {
		return domain.ErrInvalidArgument
	}
	ttl := time.Until(s.ExpiresAt)
	if ttl <= 0 {
		return domain.ErrBindingExpired
	}
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, sessionKey(s.SessionID), data, ttl); err != nil {
		return err
	}
	return r.client.Set(ctx, invoiceKey(s.InvoiceID), s.SessionID, ttl)
}

func (r *BindingSessionRepo) Find(ctx context.Context, sessionID string) (*model.CardBindingSession, error) {
	data, err := r.client.Get(ctx, sessionKey(sessionID))
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	var s model.CardBindingSession
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *BindingSessionRepo) FindByInvoiceID(ctx context.Context, invoiceID string) (*model.CardBindingSession, error) {
	sessionID, err := r.client.Get(ctx, invoiceKey(invoiceID))
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return r.Find(ctx, sessionID)
}

func (r *BindingSessionRepo) Delete(ctx context.Context, sessionID string) error {
	s, err := r.Find(ctx, sessionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return err
	}
	return r.client.Del(ctx, sessionKey(sessionID), invoiceKey(s.InvoiceID))
}
