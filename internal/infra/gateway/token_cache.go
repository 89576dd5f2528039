package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"edu-billing/internal/config"
	"edu-billing/internal/domain/model"
	"edu-billing/internal/infra/metrics"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// TokenSource yields a currently valid provider bearer token. Invalidate drops
// the cached value so the next Token call refreshes; clients call it before
// their single retry when the provider rejects a token mid-lifetime.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Invalidate()
}

// TokenCache caches one provider auth token in memory. The token is reused
// until its provider-reported expiry minus a safety margin; refresh is
// single-flight so a burst of expired callers produces one auth request.
type TokenCache struct {
	gw      model.Gateway
	authURL string
	key     string
	secret  string
	margin  time.Duration
	client  *http.Client
	log     *zerolog.Logger

	sf singleflight.Group

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

var _ TokenSource = (*TokenCache)(nil)

func NewTokenCache(gw model.Gateway, cfg config.GatewayConfig, logger *zerolog.Logger) *TokenCache {
	lg := logger.With().Str("component", "TokenCache").Str("gateway", string(gw)).Logger()
	return &TokenCache{
		gw:      gw,
		authURL: cfg.BaseURL + "/auth/token",
		key:     cfg.ConsumerKey,
		secret:  cfg.ConsumerSecret,
		margin:  cfg.TokenMargin,
		client:  &http.Client{Timeout: cfg.RequestTimeout},
		log:     &lg,
	}
}

func (c *TokenCache) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.token != "" && time.Now().Before(c.expiresAt) {
		tok := c.token
		c.mu.Unlock()
		return tok, nil
	}
	c.mu.Unlock()

	v, err, _ := c.sf.Do("token", func() (interface{}, error) {
		// Another waiter may have refreshed while we queued.
		c.mu.Lock()
		if c.token != "" && time.Now().Before(c.expiresAt) {
			tok := c.token
			c.mu.Unlock()
			return tok, nil
		}
		c.mu.Unlock()
		return c.refresh(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *TokenCache) Invalidate() {
	c.mu.Lock()
	c.token = ""
	c.expiresAt = time.Time{}
	c.mu.Unlock()
}

type authTokenResponse struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expiresIn"` // seconds
}

func (c *TokenCache) refresh(ctx context.Context) (string, error) {
	body, err := json.Marshal(map[string]string{
		"consumerKey":    c.key,
		"consumerSecret": c.secret,
	})
	if err != nil {
		return "", fmt.Errorf("marshal auth request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.authURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create auth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("auth request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read auth response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		c.Invalidate()
		c.log.Warn().Int("status", resp.StatusCode).Msg("provider auth rejected")
		return "", normalizeError(c.gw, resp.StatusCode, raw)
	}

	var parsed authTokenResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		c.Invalidate()
		return "", fmt.Errorf("parse auth response: %w", err)
	}
	if parsed.Token == "" || parsed.ExpiresIn <= 0 {
		c.Invalidate()
		return "", fmt.Errorf("parse auth response: empty token or lifetime")
	}

	lifetime := time.Duration(parsed.ExpiresIn) * time.Second
	usable := lifetime - c.margin
	if usable <= 0 {
		// Token lives shorter than the margin; keep half its life instead of
		// refreshing on every call.
		usable = lifetime / 2
	}

	c.mu.Lock()
	c.token = parsed.Token
	c.expiresAt = time.Now().Add(usable)
	c.mu.Unlock()

	metrics.IncTokenRefresh(string(c.gw), "expiry")
	c.log.Debug().Dur("usable", usable).Msg("auth token refreshed")
	return parsed.Token, nil
}
