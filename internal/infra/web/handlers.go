package web

import (
	"context"
	"encoding/json"
	"errors"
	"html/template"
	"io"
	"net/http"
	"strconv"
	"time"

	"edu-billing/internal/domain"
	"edu-billing/internal/domain/model"
	"edu-billing/internal/infra/i18n"
	"edu-billing/internal/infra/logging"
	"edu-billing/internal/infra/metrics"
	"edu-billing/internal/infra/redis"
	"edu-billing/internal/usecase"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

const maxWebhookBody = 64 << 10

var validate = validator.New()

type ctxKey string

const ctxUserID ctxKey = "user_id"

func withUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxUserID, id)
}

func userID(ctx context.Context) string {
	v, _ := ctx.Value(ctxUserID).(string)
	return v
}

// ===== Request/response shapes =====

// webhookRequest is the shared callback body. Both providers post the same
// envelope; the signature scheme behind `sign` differs per gateway. Amount
// stays a json.Number because the digest covers the literal text of the field.
type webhookRequest struct {
	ExternalID string      `json:"externalId" validate:"required"`
	InvoiceID  string      `json:"invoiceId" validate:"required"`
	Status     string      `json:"status" validate:"required"`
	Amount     json.Number `json:"amount" validate:"required"`
	Sign       string      `json:"sign" validate:"required"`

	CardPAN       string `json:"cardPan,omitempty"`
	CardToken     string `json:"cardToken,omitempty"`
	PaymentSystem string `json:"ps,omitempty"`
	ResponseCode  string `json:"responseCode,omitempty"`
	ErrorMessage  string `json:"errorMessage,omitempty"`
	PaymentTime   string `json:"paymentTime,omitempty"`
	ReceiptURL    string `json:"receiptUrl,omitempty"`
}

type ackResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type successResponse struct {
	Success bool `json:"success"`
}

type createPaymentRequest struct {
	Plan    string `json:"plan" validate:"required"`
	Months  int    `json:"months" validate:"required,min=1,max=6"`
	Gateway string `json:"gateway" validate:"required,oneof=checkout scanpay"`
}

type paymentCreatedResponse struct {
	InvoiceID   string `json:"invoice_id"`
	Status      string `json:"status"`
	AmountMinor int64  `json:"amount_minor"`
	CheckoutURL string `json:"checkout_url,omitempty"`
	ShortLink   string `json:"short_link,omitempty"`
	Deeplink    string `json:"deeplink,omitempty"`
}

type transactionResponse struct {
	InvoiceID    string     `json:"invoice_id"`
	Kind         string     `json:"kind"`
	Gateway      string     `json:"gateway"`
	Plan         string     `json:"plan,omitempty"`
	TierMonths   int        `json:"tier_months,omitempty"`
	AmountMinor  int64      `json:"amount_minor"`
	Status       string     `json:"status"`
	ErrorCode    string     `json:"error_code,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	PaidAt       *time.Time `json:"paid_at,omitempty"`
	RefundedAt   *time.Time `json:"refunded_at,omitempty"`
}

func toTransactionResponse(t *model.Transaction) transactionResponse {
	return transactionResponse{
		InvoiceID:    t.InvoiceID,
		Kind:         string(t.Kind),
		Gateway:      string(t.Gateway),
		Plan:         string(t.Plan),
		TierMonths:   t.TierMonths,
		AmountMinor:  t.AmountMinor,
		Status:       string(t.Status),
		ErrorCode:    t.ErrorCode,
		ErrorMessage: t.ErrorMessage,
		CreatedAt:    t.CreatedAt,
		PaidAt:       t.PaidAt,
		RefundedAt:   t.RefundedAt,
	}
}

type adminTransactionResponse struct {
	transactionResponse
	UserID      string               `json:"user_id"`
	ExternalID  *string              `json:"external_id,omitempty"`
	Details     model.PaymentDetails `json:"details"`
	RawCallback json.RawMessage      `json:"raw_callback,omitempty"`
	UpdatedAt   time.Time            `json:"updated_at"`
}

type planOfferResponse struct {
	Plan         string `json:"plan"`
	Months       int    `json:"months"`
	AmountMinor  int64  `json:"amount_minor"`
	DurationDays int    `json:"duration_days"`
}

type revenueResponse struct {
	Week  int64 `json:"week_minor"`
	Month int64 `json:"month_minor"`
	Year  int64 `json:"year_minor"`
}

type adminStatsResponse struct {
	Users        int             `json:"users"`
	ActiveByPlan map[string]int  `json:"active_by_plan"`
	ByStatus     map[string]int  `json:"transactions_by_status"`
	Revenue      revenueResponse `json:"revenue"`
}

type startCardBindingRequest struct {
	// Only checkout issues card-binding sessions.
	Gateway string `json:"gateway" validate:"required,oneof=checkout"`
}

type confirmCardRequest struct {
	OTP string `json:"otp" validate:"required,numeric,min=4,max=8"`
}

type cardSessionResponse struct {
	SessionID string        `json:"session_id"`
	Status    string        `json:"status"`
	FormURL   string        `json:"form_url,omitempty"`
	ExpiresAt time.Time     `json:"expires_at"`
	Card      *cardResponse `json:"card,omitempty"`
}

type cardResponse struct {
	ID        string    `json:"id,omitempty"`
	Gateway   string    `json:"gateway,omitempty"`
	MaskedPAN string    `json:"masked_pan"`
	Network   string    `json:"network,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

func toCardSessionResponse(s *model.CardBindingSession) cardSessionResponse {
	resp := cardSessionResponse{
		SessionID: s.SessionID,
		Status:    string(s.Status),
		FormURL:   s.FormURL,
		ExpiresAt: s.ExpiresAt,
	}
	if s.Card != nil {
		resp.Card = &cardResponse{MaskedPAN: s.Card.MaskedPAN, Network: s.Card.Network}
	}
	return resp
}

// ===== Webhooks =====

// Checkout keeps redelivering an event until it is acked and cannot expire an
// invoice it never matched, so unknown ids are acked to stop the loop.
// Scanpay drops an event after a 404 and redelivers on a short schedule,
// which gives the create-invoice/callback race time to settle.
func acksUnknownInvoice(gw model.Gateway) bool {
	return gw == model.GatewayCheckout
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	gw, err := model.ParseGateway(chi.URLParam(r, "gateway"))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	start := time.Now()
	l := logging.With(r.Context(), s.log)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ackResponse{Success: false, Error: "unreadable body"})
		return
	}
	var req webhookRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ackResponse{Success: false, Error: "malformed callback"})
		return
	}
	if err := validate.Struct(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ackResponse{Success: false, Error: "missing callback fields"})
		return
	}
	amount, err := req.Amount.Int64()
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ackResponse{Success: false, Error: "malformed amount"})
		return
	}

	outcome, err := s.webhooks.ProcessCallback(r.Context(), gw, usecase.CallbackEvent{
		InvoiceID:     req.InvoiceID,
		ExternalID:    req.ExternalID,
		Status:        req.Status,
		Amount:        amount,
		AmountRaw:     req.Amount.String(),
		Sign:          req.Sign,
		CardPAN:       req.CardPAN,
		CardToken:     req.CardToken,
		PaymentSystem: req.PaymentSystem,
		ResponseCode:  req.ResponseCode,
		ErrorMessage:  req.ErrorMessage,
		PaymentTime:   req.PaymentTime,
		ReceiptURL:    req.ReceiptURL,
		Raw:           body,
	})
	metrics.ObserveWebhookDuration(string(gw), time.Since(start).Seconds())
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrSignature):
			metrics.IncWebhookEvent(string(gw), "rejected")
			writeJSON(w, http.StatusForbidden, ackResponse{Success: false, Error: "invalid signature"})
		case errors.Is(err, domain.ErrValidation),
			errors.Is(err, domain.ErrInvalidArgument),
			errors.Is(err, domain.ErrAmountMismatch):
			metrics.IncWebhookEvent(string(gw), "rejected")
			writeJSON(w, http.StatusBadRequest, ackResponse{Success: false, Error: "invalid callback"})
		default:
			// Authenticated event that we failed to persist. A non-200 here
			// would turn provider retries into a storm; ack and let the
			// reconciler repair the row from the gateway status API.
			metrics.IncWebhookEvent(string(gw), "error")
			l.Error().Err(err).
				Str("gateway", string(gw)).
				Str("invoice_id", req.InvoiceID).
				Msg("callback processing failed")
			writeJSON(w, http.StatusOK, ackResponse{Success: true})
		}
		return
	}

	metrics.IncWebhookEvent(string(gw), string(outcome))
	if outcome == usecase.OutcomeNotFound && !acksUnknownInvoice(gw) {
		writeJSON(w, http.StatusNotFound, ackResponse{Success: false, Error: "unknown invoice"})
		return
	}
	writeJSON(w, http.StatusOK, ackResponse{Success: true})
}

// ===== Payments =====

func (s *Server) handlePaymentCreate(w http.ResponseWriter, r *http.Request) {
	uid := userID(r.Context())
	var req createPaymentRequest
	if !s.decode(w, r, &req) {
		return
	}

	if s.limiter != nil {
		ok, err := s.limiter.Allow(r.Context(), redis.PaymentInitKey(uid), paymentInitLimit, paymentInitWindow)
		if err != nil {
			// A limiter outage must not block payments.
			logging.With(r.Context(), s.log).Warn().Err(err).Msg("rate limiter unavailable")
		} else if !ok {
			writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "too many payment attempts, try again later"})
			return
		}
	}

	plan, err := model.ParsePlan(req.Plan)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	gw, err := model.ParseGateway(req.Gateway)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	trx, ref, err := s.payments.Initiate(r.Context(), uid, plan, req.Months, gw)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, paymentCreatedResponse{
		InvoiceID:   trx.InvoiceID,
		Status:      string(trx.Status),
		AmountMinor: trx.AmountMinor,
		CheckoutURL: ref.CheckoutURL,
		ShortLink:   ref.ShortLink,
		Deeplink:    ref.Deeplink,
	})
}

func (s *Server) handlePaymentList(w http.ResponseWriter, r *http.Request) {
	uid := userID(r.Context())
	limit := queryInt(r, "limit", 20)
	if limit < 1 || limit > 100 {
		limit = 20
	}
	items, err := s.payments.ListByUser(r.Context(), uid, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	data := make([]transactionResponse, 0, len(items))
	for _, t := range items {
		data = append(data, toTransactionResponse(t))
	}
	writeJSON(w, http.StatusOK, struct {
		Data []transactionResponse `json:"data"`
	}{data})
}

func (s *Server) handlePlanList(w http.ResponseWriter, r *http.Request) {
	offers, err := s.catalog.Offers(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	data := make([]planOfferResponse, 0, len(offers))
	for _, o := range offers {
		data = append(data, planOfferResponse{
			Plan:         string(o.Plan),
			Months:       o.TierMonths,
			AmountMinor:  o.AmountMinor,
			DurationDays: o.DurationDays,
		})
	}
	writeJSON(w, http.StatusOK, struct {
		Data []planOfferResponse `json:"data"`
	}{data})
}

func (s *Server) handlePaymentGet(w http.ResponseWriter, r *http.Request) {
	uid := userID(r.Context())
	trx, err := s.payments.Get(r.Context(), uid, chi.URLParam(r, "invoiceID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionResponse(trx))
}

func (s *Server) handlePaymentCancel(w http.ResponseWriter, r *http.Request) {
	uid := userID(r.Context())
	if err := s.payments.Cancel(r.Context(), uid, chi.URLParam(r, "invoiceID")); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

func (s *Server) handlePaymentRefund(w http.ResponseWriter, r *http.Request) {
	if err := s.payments.Refund(r.Context(), chi.URLParam(r, "invoiceID")); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

func (s *Server) handleAdminTransaction(w http.ResponseWriter, r *http.Request) {
	trx, err := s.payments.AdminFind(r.Context(), chi.URLParam(r, "invoiceID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, adminTransactionResponse{
		transactionResponse: toTransactionResponse(trx),
		UserID:              trx.UserID,
		ExternalID:          trx.ExternalID,
		Details:             trx.Details,
		RawCallback:         json.RawMessage(trx.RawCallback),
		UpdatedAt:           trx.UpdatedAt,
	})
}

func (s *Server) handleAdminStats(w http.ResponseWriter, r *http.Request) {
	ov, err := s.stats.Overview(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rev, err := s.stats.Revenue(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := adminStatsResponse{
		Users:        ov.Users,
		ActiveByPlan: make(map[string]int, len(ov.ActiveByPlan)),
		ByStatus:     make(map[string]int, len(ov.ByStatus)),
		Revenue:      revenueResponse{Week: rev.Week, Month: rev.Month, Year: rev.Year},
	}
	for plan, n := range ov.ActiveByPlan {
		resp.ActiveByPlan[string(plan)] = n
	}
	for status, n := range ov.ByStatus {
		resp.ByStatus[string(status)] = n
	}
	writeJSON(w, http.StatusOK, resp)
}

// ===== Cards =====

func (s *Server) handleCardStart(w http.ResponseWriter, r *http.Request) {
	uid := userID(r.Context())
	var req startCardBindingRequest
	if !s.decode(w, r, &req) {
		return
	}
	gw, err := model.ParseGateway(req.Gateway)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	session, err := s.cards.Start(r.Context(), uid, gw)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCardSessionResponse(session))
}

func (s *Server) handleCardConfirm(w http.ResponseWriter, r *http.Request) {
	uid := userID(r.Context())
	var req confirmCardRequest
	if !s.decode(w, r, &req) {
		return
	}
	session, err := s.cards.ConfirmOTP(r.Context(), uid, chi.URLParam(r, "id"), req.OTP)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCardSessionResponse(session))
}

func (s *Server) handleCardList(w http.ResponseWriter, r *http.Request) {
	uid := userID(r.Context())
	cards, err := s.cards.ListCards(r.Context(), uid)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	data := make([]cardResponse, 0, len(cards))
	for _, c := range cards {
		data = append(data, cardResponse{
			ID:        c.ID,
			Gateway:   string(c.Gateway),
			MaskedPAN: c.MaskedPAN,
			Network:   c.Network,
			CreatedAt: c.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, struct {
		Data []cardResponse `json:"data"`
	}{data})
}

func (s *Server) handleCardRemove(w http.ResponseWriter, r *http.Request) {
	uid := userID(r.Context())
	if err := s.cards.RemoveCard(r.Context(), uid, chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ===== Return page =====

func (s *Server) handleReturn(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tr := s.pages.Pick(q.Get("lang"))
	invoiceID := q.Get("invoice_id")
	if invoiceID == "" {
		s.renderReturn(w, tr, http.StatusBadRequest, false, tr.T("return.missing_invoice"))
		return
	}

	// The webhook usually lands before the browser does; syncing here covers
	// the times it does not.
	trx, err := s.payments.SyncStatus(r.Context(), invoiceID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.renderReturn(w, tr, http.StatusNotFound, false, tr.T("return.unknown_invoice"))
			return
		}
		logging.With(r.Context(), s.log).Warn().Err(err).
			Str("invoice_id", invoiceID).Msg("return-page status sync failed")
		s.renderReturn(w, tr, http.StatusOK, false, tr.T("return.processing"))
		return
	}

	switch trx.Status {
	case model.TransactionStatusPaid:
		if trx.Kind == model.TransactionKindCardBinding {
			s.renderReturn(w, tr, http.StatusOK, true, tr.T("return.card_linked"))
		} else {
			s.renderReturn(w, tr, http.StatusOK, true, tr.T("return.paid"))
		}
	case model.TransactionStatusPending:
		if q.Get("failed") != "" {
			s.renderReturn(w, tr, http.StatusOK, false, tr.T("return.not_completed"))
		} else {
			s.renderReturn(w, tr, http.StatusOK, false, tr.T("return.processing"))
		}
	case model.TransactionStatusCanceled:
		s.renderReturn(w, tr, http.StatusOK, false, tr.T("return.canceled"))
	default:
		msg := tr.T("return.failed")
		if trx.ErrorMessage != "" {
			msg = tr.T("return.failed_reason", trx.ErrorMessage)
		}
		s.renderReturn(w, tr, http.StatusOK, false, msg)
	}
}

var returnPage = template.Must(template.New("return").Parse(`<!doctype html>
<html lang="{{.Lang}}">
<head>
<meta charset="utf-8" />
<meta name="viewport" content="width=device-width,initial-scale=1" />
<title>{{.Title}}</title>
<style>
body{font-family:system-ui,Arial,sans-serif;margin:2rem;}
.card{max-width:560px;border:1px solid #ddd;border-radius:12px;padding:24px;}
.ok{color:#057a55} .fail{color:#b00020}
.small{font-size:12px;color:#666}
</style>
</head>
<body>
<div class="card">
  <h2 class="{{if .OK}}ok{{else}}fail{{end}}">{{.Title}}</h2>
  <p>{{.Msg}}</p>
  <div class="small">{{.CloseHint}}</div>
</div>
</body>
</html>`))

func (s *Server) renderReturn(w http.ResponseWriter, tr *i18n.Translator, code int, ok bool, msg string) {
	title := tr.T("return.result_title")
	if ok {
		title = tr.T("return.success_title")
	}
	lang := tr.Lang()
	if lang == "" {
		lang = "en"
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(code)
	_ = returnPage.Execute(w, struct {
		Lang      string
		Title     string
		OK        bool
		Msg       string
		CloseHint string
	}{Lang: lang, Title: title, OK: ok, Msg: msg, CloseHint: tr.T("return.close_hint")})
}

// ===== Helpers =====

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// decode reads and validates a JSON request body. On failure the 400 is
// already written and the caller just returns.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return false
	}
	if err := validate.Struct(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "validation failed: " + err.Error()})
		return false
	}
	return true
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	l := logging.With(r.Context(), s.log)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not found"})
	case errors.Is(err, domain.ErrInvalidArgument), errors.Is(err, domain.ErrValidation):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrAlreadyProcessed), errors.Is(err, domain.ErrNotRefundable):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrBindingExpired):
		writeJSON(w, http.StatusGone, errorResponse{Error: err.Error()})
	default:
		if gwErr, ok := domain.AsGatewayError(err); ok {
			l.Warn().Err(err).Msg("gateway call failed")
			writeJSON(w, http.StatusBadGateway, errorResponse{Error: "payment provider error: " + gwErr.Code})
			return
		}
		l.Error().Err(err).Msg("request failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
