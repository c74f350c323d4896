// Package payments is the HTTP client for the payment gateway service,
// implementing the payment.Gateway contract.
package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/elimu-market/checkout/internal/domain/payment"
)

var _ payment.Gateway = (*Client)(nil)

// Client talks to the payment service over HTTP. A timeout or transport
// failure surfaces as payment.ErrUnavailable so callers can distinguish an
// outage from a failed transaction.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a payment service client for the given base URL.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

type checkoutRequest struct {
	UserID      string          `json:"userId"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Method      string          `json:"paymentMethod,omitempty"`
	Phone       string          `json:"phone,omitempty"`
	Description string          `json:"description"`
}

type checkoutResponse struct {
	Reference   string `json:"reference"`
	CheckoutURL string `json:"checkoutUrl"`
	Method      string `json:"paymentMethod"`
}

type statusResponse struct {
	Status string `json:"status"`
	Method string `json:"paymentMethod"`
}

// InitiateCheckout starts a gateway transaction for the given amount and
// returns the reference plus the hosted checkout URL.
func (c *Client) InitiateCheckout(ctx context.Context, req payment.CheckoutRequest) (*payment.CheckoutSession, error) {
	body := checkoutRequest{
		UserID:      req.UserID,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Method:      string(req.Method),
		Phone:       req.Phone,
		Description: req.Description,
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(err, "encode checkout request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/checkouts", bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, "build checkout request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(payment.ErrUnavailable, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, errors.Wrapf(payment.ErrUnavailable, "initiate checkout: status %d", resp.StatusCode)
	}

	var out checkoutResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errors.Wrap(err, "decode checkout response")
	}
	if out.Reference == "" {
		return nil, errors.New("checkout response missing reference")
	}

	return &payment.CheckoutSession{
		Reference:   out.Reference,
		CheckoutURL: out.CheckoutURL,
		Method:      payment.Method(out.Method),
	}, nil
}

// GetStatus returns the current state of a gateway transaction.
func (c *Client) GetStatus(ctx context.Context, reference string) (*payment.TxState, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/api/transactions/"+reference, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build status request")
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(payment.ErrUnavailable, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Wrapf(payment.ErrUnavailable, "get status: status %d", resp.StatusCode)
	}

	var out statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errors.Wrap(err, "decode status response")
	}

	return &payment.TxState{
		Status: payment.TxStatus(out.Status),
		Method: payment.Method(out.Method),
	}, nil
}
