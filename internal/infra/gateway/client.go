package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"edu-billing/internal/config"
	"edu-billing/internal/domain/model"
	"edu-billing/internal/infra/metrics"

	"github.com/rs/zerolog"
)

// restCore is the transport both provider clients share: JSON round trips
// with bearer auth, one forced token refresh on 401/403, bounded timeouts,
// per-call metrics. Clients embed it and keep only wire shapes and paths.
type restCore struct {
	gw      model.Gateway
	baseURL string
	tokens  TokenSource
	client  *http.Client
	log     *zerolog.Logger
}

func newRESTCore(gw model.Gateway, cfg config.GatewayConfig, tokens TokenSource, logger *zerolog.Logger) restCore {
	lg := logger.With().Str("component", "GatewayClient").Str("gateway", string(gw)).Logger()
	return restCore{
		gw:      gw,
		baseURL: cfg.BaseURL,
		tokens:  tokens,
		client:  &http.Client{Timeout: cfg.RequestTimeout},
		log:     &lg,
	}
}

// call executes one provider API call. payload may be nil (no body); out may
// be nil (response body irrelevant). Non-2xx answers come back as
// *domain.GatewayError with the raw body logged here and nowhere else.
func (c *restCore) call(ctx context.Context, op, method, path string, payload, out any) error {
	tok, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("%s: acquire token: %w", op, err)
	}

	status, body, err := c.roundTrip(ctx, op, method, path, tok, payload)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		// The provider may have revoked the token early; refresh once and retry.
		c.tokens.Invalidate()
		metrics.IncTokenRefresh(string(c.gw), "forced")
		c.log.Debug().Str("op", op).Int("status", status).Msg("token rejected, forcing refresh")

		tok, err = c.tokens.Token(ctx)
		if err != nil {
			return fmt.Errorf("%s: reacquire token: %w", op, err)
		}
		status, body, err = c.roundTrip(ctx, op, method, path, tok, payload)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}

	if status < 200 || status > 299 {
		c.log.Warn().Str("op", op).Int("status", status).
			Str("body", truncate(body, 2048)).Msg("provider call failed")
		return normalizeError(c.gw, status, body)
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("%s: parse response: %w", op, err)
		}
	}
	return nil
}

func (c *restCore) roundTrip(ctx context.Context, op, method, path, token string, payload any) (int, []byte, error) {
	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		metrics.ObserveGatewayCall(string(c.gw), op, 0, float64(time.Since(start).Milliseconds()))
		return 0, nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	metrics.ObserveGatewayCall(string(c.gw), op, resp.StatusCode, float64(time.Since(start).Milliseconds()))
	if err != nil {
		return 0, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, body, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "...(truncated)"
}
