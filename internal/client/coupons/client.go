// Package coupons is the HTTP client for the coupon service, implementing
// the coupon.Applier contract.
package coupons

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

	"github.com/elimu-market/checkout/internal/domain/coupon"
)

var _ coupon.Applier = (*Client)(nil)

// Client talks to the coupon service over HTTP. Requests are bounded by the
// configured timeout; a timeout or transport failure surfaces as
// coupon.ErrUnavailable, distinct from a rejected code.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a coupon service client for the given base URL.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

type applyRequest struct {
	UserID   string          `json:"userId"`
	Code     string          `json:"code"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

type applyResponse struct {
	CouponID       string          `json:"couponId"`
	Code           string          `json:"code"`
	DiscountType   string          `json:"discountType"`
	DiscountValue  decimal.Decimal `json:"discountValue"`
	DiscountAmount decimal.Decimal `json:"discountAmount"`
}

type errorResponse struct {
	Message string `json:"message"`
	Reason  string `json:"reason"`
}

// Apply asks the coupon service to price a code against an order amount.
func (c *Client) Apply(ctx context.Context, req coupon.ApplyRequest) (*coupon.Applied, error) {
	body := applyRequest{
		UserID:   req.UserID,
		Code:     req.Code,
		Amount:   req.Amount,
		Currency: req.Currency,
	}

	resp, err := c.post(ctx, "/api/coupons/apply", body)
	if err != nil {
		return nil, errors.Wrap(coupon.ErrUnavailable, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeRejection(resp)
	}

	var out applyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errors.Wrap(err, "decode coupon response")
	}
	return &coupon.Applied{
		CouponID:       out.CouponID,
		Code:           out.Code,
		DiscountType:   out.DiscountType,
		DiscountValue:  out.DiscountValue,
		DiscountAmount: out.DiscountAmount,
	}, nil
}

type redemptionRequest struct {
	CouponID             string            `json:"couponId"`
	Code                 string            `json:"code"`
	UserID               string            `json:"userId"`
	ContextType          string            `json:"contextType"`
	OrderID              string            `json:"orderId"`
	TransactionReference string            `json:"transactionReference,omitempty"`
	Metadata             map[string]string `json:"metadata,omitempty"`
}

// RecordRedemption records a consumed coupon. Callers treat failures as
// best-effort.
func (c *Client) RecordRedemption(ctx context.Context, r coupon.Redemption) error {
	body := redemptionRequest{
		CouponID:             r.CouponID,
		Code:                 r.Code,
		UserID:               r.UserID,
		ContextType:          "ORDER",
		OrderID:              r.OrderID,
		TransactionReference: r.TransactionReference,
		Metadata:             r.Metadata,
	}

	resp, err := c.post(ctx, "/api/coupons/redemptions", body)
	if err != nil {
		return errors.Wrap(coupon.ErrUnavailable, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		return errors.Errorf("record redemption: unexpected status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(err, "encode request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")

	return c.http.Do(req)
}

// decodeRejection maps the coupon service's error body to domain errors.
func decodeRejection(resp *http.Response) error {
	if resp.StatusCode >= http.StatusInternalServerError {
		return errors.Wrapf(coupon.ErrUnavailable, "status %d", resp.StatusCode)
	}

	var body errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return errors.Wrapf(coupon.ErrInvalid, "status %d", resp.StatusCode)
	}

	switch body.Reason {
	case "expired":
		return coupon.ErrExpired
	case "not_applicable":
		return coupon.ErrNotApplicable
	case "already_used":
		return coupon.ErrAlreadyUsed
	default:
		if body.Message != "" {
			return errors.Wrap(coupon.ErrInvalid, body.Message)
		}
		return coupon.ErrInvalid
	}
}
