package gateway

import (
	"context"
	"fmt"
	"net/http"

	"edu-billing/internal/config"
	"edu-billing/internal/domain/model"
	"edu-billing/internal/domain/ports/adapter"

	"github.com/rs/zerolog"
)

// ScanPayClient drives the invoice/QR provider: invoices payable through a
// hosted page, QR short link or app deeplink. It offers no card binding;
// callbacks from it are signed with the SHA1 scheme.
type ScanPayClient struct {
	restCore
	merchantID string
}

var _ adapter.GatewayClient = (*ScanPayClient)(nil)

func NewScanPayClient(cfg config.GatewayConfig, tokens TokenSource, logger *zerolog.Logger) *ScanPayClient {
	return &ScanPayClient{
		restCore:   newRESTCore(model.GatewayScanPay, cfg, tokens, logger),
		merchantID: cfg.StoreID,
	}
}

func (g *ScanPayClient) Name() model.Gateway { return model.GatewayScanPay }

type scanpayInvoiceRequest struct {
	MerchantID  string `json:"merchant_id"`
	Amount      int64  `json:"amount"`
	OrderID     string `json:"order_id"`
	CallbackURL string `json:"callback_url,omitempty"`
	ReturnURL   string `json:"return_url,omitempty"`
	FailURL     string `json:"fail_url,omitempty"`
	Description string `json:"description,omitempty"`
}

type scanpayInvoiceResponse struct {
	InvoiceID string `json:"invoice_id"`
	PayURL    string `json:"pay_url"`
	ShortLink string `json:"short_link"`
	Deeplink  string `json:"deeplink"`
}

func (g *ScanPayClient) CreateInvoice(ctx context.Context, spec adapter.InvoiceSpec) (*adapter.InvoiceRef, error) {
	req := scanpayInvoiceRequest{
		MerchantID:  g.merchantID,
		Amount:      spec.AmountMinor,
		OrderID:     spec.InvoiceID,
		CallbackURL: spec.CallbackURL,
		ReturnURL:   spec.ReturnURL,
		FailURL:     spec.FailURL,
		Description: spec.Description,
	}

	var resp scanpayInvoiceResponse
	if err := g.call(ctx, "create_invoice", http.MethodPost, "/v2/invoices", req, &resp); err != nil {
		return nil, err
	}
	if resp.InvoiceID == "" || resp.PayURL == "" {
		return nil, fmt.Errorf("create_invoice: provider returned empty invoice id or pay url")
	}
	return &adapter.InvoiceRef{
		ExternalID:  resp.InvoiceID,
		CheckoutURL: resp.PayURL,
		ShortLink:   resp.ShortLink,
		Deeplink:    resp.Deeplink,
	}, nil
}

type scanpayStatusResponse struct {
	InvoiceID    string `json:"invoice_id"`
	Status       string `json:"status"`
	ResponseCode string `json:"response_code"`
	PaymentTime  string `json:"payment_time"`
}

func (g *ScanPayClient) Status(ctx context.Context, externalID string) (*adapter.StatusResult, error) {
	var resp scanpayStatusResponse
	if err := g.call(ctx, "status", http.MethodGet, "/v2/invoices/"+externalID, nil, &resp); err != nil {
		return nil, err
	}
	return &adapter.StatusResult{
		Status: model.ProviderStatus(resp.Status),
		Details: model.PaymentDetails{
			ProcessorRef: resp.InvoiceID,
			ResponseCode: resp.ResponseCode,
			PaymentTime:  resp.PaymentTime,
		},
	}, nil
}

func (g *ScanPayClient) Cancel(ctx context.Context, externalID string) error {
	return g.call(ctx, "cancel", http.MethodDelete, "/v2/invoices/"+externalID, nil, nil)
}

func (g *ScanPayClient) Refund(ctx context.Context, externalID string, amountMinor int64) error {
	req := map[string]int64{"amount": amountMinor}
	return g.call(ctx, "refund", http.MethodPost, "/v2/invoices/"+externalID+"/refund", req, nil)
}

func (g *ScanPayClient) BindCard(ctx context.Context, spec adapter.BindSpec) (*adapter.BindRef, error) {
	return nil, unsupported(model.GatewayScanPay, "bind_card")
}

func (g *ScanPayClient) ConfirmOTP(ctx context.Context, externalID, otp string) (*adapter.StatusResult, error) {
	return nil, unsupported(model.GatewayScanPay, "confirm_otp")
}
