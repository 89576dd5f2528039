package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"edu-billing/internal/config"
	"edu-billing/internal/domain/model"
	"edu-billing/internal/domain/ports/adapter"

	"github.com/rs/zerolog"
)

// CheckoutClient drives the hosted card-checkout provider: invoice creation
// with a payment page URL, card binding with OTP confirmation, cancel and
// refund. Inbound callbacks from it are signed with the MD5 store scheme.
type CheckoutClient struct {
	restCore
	storeID string
}

var _ adapter.GatewayClient = (*CheckoutClient)(nil)

func NewCheckoutClient(cfg config.GatewayConfig, tokens TokenSource, logger *zerolog.Logger) *CheckoutClient {
	return &CheckoutClient{
		restCore: newRESTCore(model.GatewayCheckout, cfg, tokens, logger),
		storeID:  cfg.StoreID,
	}
}

func (g *CheckoutClient) Name() model.Gateway { return model.GatewayCheckout }

type checkoutLineItem struct {
	Name      string `json:"name"`
	Qty       int    `json:"qty"`
	UnitPrice int64  `json:"unitPrice"`
	Total     int64  `json:"total"`
	TaxCode   string `json:"taxCode,omitempty"`
}

type checkoutInvoiceRequest struct {
	StoreID     string             `json:"storeId"`
	Amount      int64              `json:"amount"`
	InvoiceID   string             `json:"invoiceId"`
	CallbackURL string             `json:"callbackUrl,omitempty"`
	ReturnURL   string             `json:"returnUrl,omitempty"`
	FailURL     string             `json:"returnErrorUrl,omitempty"`
	Phone       string             `json:"phone,omitempty"`
	Description string             `json:"description,omitempty"`
	Lang        string             `json:"lang,omitempty"`
	Items       []checkoutLineItem `json:"items"`
}

type checkoutInvoiceResponse struct {
	TransactionID string `json:"transactionId"`
	PaymentURL    string `json:"paymentUrl"`
	Status        string `json:"status"`
}

func (g *CheckoutClient) CreateInvoice(ctx context.Context, spec adapter.InvoiceSpec) (*adapter.InvoiceRef, error) {
	req := checkoutInvoiceRequest{
		StoreID:     g.storeID,
		Amount:      spec.AmountMinor,
		InvoiceID:   spec.InvoiceID,
		CallbackURL: spec.CallbackURL,
		ReturnURL:   spec.ReturnURL,
		FailURL:     spec.FailURL,
		Phone:       spec.BuyerPhone,
		Description: spec.Description,
		Lang:        "uz",
		Items: []checkoutLineItem{{
			Name:      spec.Description,
			Qty:       1,
			UnitPrice: spec.AmountMinor,
			Total:     spec.AmountMinor,
		}},
	}

	var resp checkoutInvoiceResponse
	if err := g.call(ctx, "create_invoice", http.MethodPost, "/merchant/invoice", req, &resp); err != nil {
		return nil, err
	}
	if resp.TransactionID == "" || resp.PaymentURL == "" {
		return nil, fmt.Errorf("create_invoice: provider returned empty transaction id or payment url")
	}
	return &adapter.InvoiceRef{
		ExternalID:  resp.TransactionID,
		CheckoutURL: resp.PaymentURL,
	}, nil
}

type checkoutStatusResponse struct {
	TransactionID string `json:"transactionId"`
	Status        string `json:"status"`
	CardPan       string `json:"cardPan"`
	CardToken     string `json:"cardToken"`
	Ps            string `json:"ps"`
	ResponseCode  string `json:"responseCode"`
	PaymentTime   string `json:"paymentTime"`
	ReceiptURL    string `json:"receiptUrl"`
}

func (g *CheckoutClient) Status(ctx context.Context, externalID string) (*adapter.StatusResult, error) {
	var resp checkoutStatusResponse
	if err := g.call(ctx, "status", http.MethodGet, "/merchant/invoice/"+externalID, nil, &resp); err != nil {
		return nil, err
	}
	return &adapter.StatusResult{
		Status: model.ProviderStatus(resp.Status),
		Details: model.PaymentDetails{
			MaskedPAN:     resp.CardPan,
			ProcessorRef:  resp.TransactionID,
			PaymentSystem: resp.Ps,
			ResponseCode:  resp.ResponseCode,
			PaymentTime:   resp.PaymentTime,
			ReceiptURL:    resp.ReceiptURL,
		},
	}, nil
}

func (g *CheckoutClient) Cancel(ctx context.Context, externalID string) error {
	return g.call(ctx, "cancel", http.MethodPost, "/merchant/invoice/"+externalID+"/cancel", nil, nil)
}

func (g *CheckoutClient) Refund(ctx context.Context, externalID string, amountMinor int64) error {
	req := map[string]int64{"amount": amountMinor}
	return g.call(ctx, "refund", http.MethodPost, "/merchant/invoice/"+externalID+"/refund", req, nil)
}

type checkoutBindRequest struct {
	StoreID    string `json:"storeId"`
	InvoiceID  string `json:"invoiceId"`
	AccountRef string `json:"accountRef"`
	ReturnURL  string `json:"returnUrl,omitempty"`
	FailURL    string `json:"returnErrorUrl,omitempty"`
}

type checkoutBindResponse struct {
	SessionID string `json:"sessionId"`
	FormURL   string `json:"formUrl"`
	ExpiresIn int64  `json:"expiresIn"` // seconds
}

func (g *CheckoutClient) BindCard(ctx context.Context, spec adapter.BindSpec) (*adapter.BindRef, error) {
	req := checkoutBindRequest{
		StoreID:    g.storeID,
		InvoiceID:  spec.InvoiceID,
		AccountRef: spec.UserRef,
		ReturnURL:  spec.ReturnURL,
		FailURL:    spec.FailURL,
	}

	var resp checkoutBindResponse
	if err := g.call(ctx, "bind_card", http.MethodPost, "/merchant/card/bind", req, &resp); err != nil {
		return nil, err
	}
	if resp.SessionID == "" || resp.FormURL == "" {
		return nil, fmt.Errorf("bind_card: provider returned empty session id or form url")
	}
	ttl := time.Duration(resp.ExpiresIn) * time.Second
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &adapter.BindRef{SessionID: resp.SessionID, FormURL: resp.FormURL, ExpiresIn: ttl}, nil
}

func (g *CheckoutClient) ConfirmOTP(ctx context.Context, externalID, otp string) (*adapter.StatusResult, error) {
	req := map[string]string{"otp": otp}
	var resp checkoutStatusResponse
	if err := g.call(ctx, "confirm_otp", http.MethodPost, "/merchant/card/"+externalID+"/confirm", req, &resp); err != nil {
		return nil, err
	}
	return &adapter.StatusResult{
		Status:    model.ProviderStatus(resp.Status),
		CardToken: resp.CardToken,
		Details: model.PaymentDetails{
			MaskedPAN:     resp.CardPan,
			ProcessorRef:  resp.TransactionID,
			PaymentSystem: resp.Ps,
			ResponseCode:  resp.ResponseCode,
			PaymentTime:   resp.PaymentTime,
			ReceiptURL:    resp.ReceiptURL,
		},
	}, nil
}
