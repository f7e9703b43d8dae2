package deposit

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/guonaihong/gout"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// InvoiceRequest is the outbound invoice creation request.
type InvoiceRequest struct {
	Amount      decimal.Decimal
	PayCurrency string
	CallbackURL string
	OrderID     string
}

// Invoice is the provider's answer to a created payment.
type Invoice struct {
	PaymentID   string
	PayAddress  string
	PayAmount   decimal.Decimal
	PayCurrency string
	ExpiresAt   string
	OrderID     string
}

// ProviderClient is the outbound payment provider surface the deposit
// service depends on.
type ProviderClient interface {
	MinimumAmount(ctx context.Context, payCurrency string) (decimal.Decimal, error)
	CreateInvoice(ctx context.Context, req InvoiceRequest) (*Invoice, error)
}

// Client talks to the crypto payment provider's REST API.
type Client struct {
	apiURL  string
	apiKey  string
	timeout time.Duration
}

func NewClient(apiURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{apiURL: apiURL, apiKey: apiKey, timeout: timeout}
}

type estimateResponse struct {
	CurrencyFrom    string  `json:"currency_from"`
	CurrencyTo      string  `json:"currency_to"`
	EstimatedAmount float64 `json:"estimated_amount"`
}

// FetchRate asks the provider to estimate one unit of the pay currency in
// the settlement currency. The Client doubles as the Oracle's RateSource.
func (c *Client) FetchRate(ctx context.Context, payCurrency string) (decimal.Decimal, error) {
	var resp estimateResponse
	var code int
	err := gout.GET(c.apiURL+"/estimate").
		WithContext(ctx).
		SetTimeout(c.timeout).
		SetHeader(gout.H{"x-api-key": c.apiKey}).
		SetQuery(gout.H{
			"amount":        "1",
			"currency_from": payCurrency,
			"currency_to":   "usd",
		}).
		BindJSON(&resp).
		Code(&code).
		Do()
	if err != nil {
		return decimal.Zero, c.transportError(err, "rate estimate")
	}
	if code == http.StatusUnauthorized || code == http.StatusForbidden {
		return decimal.Zero, ErrInvalidAPIKey
	}
	if code != http.StatusOK || resp.EstimatedAmount <= 0 {
		return decimal.Zero, errors.Wrapf(ErrRateUnavailable, "status %d", code)
	}
	return decimal.NewFromFloat(resp.EstimatedAmount), nil
}

type minAmountResponse struct {
	CurrencyFrom string  `json:"currency_from"`
	MinAmount    float64 `json:"min_amount"`
}

func (c *Client) MinimumAmount(ctx context.Context, payCurrency string) (decimal.Decimal, error) {
	var resp minAmountResponse
	var code int
	err := gout.GET(c.apiURL+"/min-amount").
		WithContext(ctx).
		SetTimeout(c.timeout).
		SetHeader(gout.H{"x-api-key": c.apiKey}).
		SetQuery(gout.H{"currency_from": payCurrency}).
		BindJSON(&resp).
		Code(&code).
		Do()
	if err != nil {
		return decimal.Zero, c.transportError(err, "minimum amount")
	}
	if code == http.StatusUnauthorized || code == http.StatusForbidden {
		return decimal.Zero, ErrInvalidAPIKey
	}
	if code != http.StatusOK || resp.MinAmount < 0 {
		return decimal.Zero, errors.Wrapf(ErrInvalidResponse, "min-amount status %d", code)
	}
	return decimal.NewFromFloat(resp.MinAmount), nil
}

type createPaymentResponse struct {
	PaymentID   string  `json:"payment_id"`
	PayAddress  string  `json:"pay_address"`
	PayAmount   float64 `json:"pay_amount"`
	PayCurrency string  `json:"pay_currency"`
	ExpiresAt   string  `json:"expiration_estimate_date"`
	OrderID     string  `json:"order_id"`
}

func (c *Client) CreateInvoice(ctx context.Context, req InvoiceRequest) (*Invoice, error) {
	amount, _ := req.Amount.Float64()
	var resp createPaymentResponse
	var code int
	err := gout.POST(c.apiURL+"/payment").
		WithContext(ctx).
		SetTimeout(c.timeout).
		SetHeader(gout.H{"x-api-key": c.apiKey}).
		SetJSON(gout.H{
			"pay_amount":       amount,
			"pay_currency":     req.PayCurrency,
			"ipn_callback_url": req.CallbackURL,
			"order_id":         req.OrderID,
		}).
		BindJSON(&resp).
		Code(&code).
		Do()
	if err != nil {
		return nil, c.transportError(err, "create payment")
	}
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return nil, ErrInvalidAPIKey
	case code == http.StatusBadRequest:
		return nil, errors.Wrap(ErrBelowMinimum, "provider rejected amount")
	case code != http.StatusOK && code != http.StatusCreated:
		return nil, errors.Wrapf(ErrInvalidResponse, "create payment status %d", code)
	}
	if resp.PaymentID == "" || resp.PayAddress == "" {
		return nil, errors.Wrap(ErrInvalidResponse, "payment id or address missing")
	}
	return &Invoice{
		PaymentID:   resp.PaymentID,
		PayAddress:  resp.PayAddress,
		PayAmount:   decimal.NewFromFloat(resp.PayAmount),
		PayCurrency: resp.PayCurrency,
		ExpiresAt:   resp.ExpiresAt,
		OrderID:     resp.OrderID,
	}, nil
}

func (c *Client) transportError(err error, op string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Wrap(ErrProviderTimeout, op)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errors.Wrap(ErrProviderTimeout, op)
	}
	return errors.Wrap(err, op)
}
