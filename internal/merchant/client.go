// Package merchant is the outbound side: quoting and confirming checkouts
// against independent merchant APIs that may fail, stall or disagree with
// previously quoted prices.
package merchant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/ariefcatur/go-agent-checkout.git/internal/money"
)

// DefaultTimeout bounds every merchant call. A timeout is a failed attempt;
// retrying with the same idempotency key is safe.
const DefaultTimeout = 10 * time.Second

type QuoteItem struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id,omitempty"`
	Quantity  int    `json:"quantity"`
}

type QuoteRequest struct {
	Items          []QuoteItem `json:"items"`
	CustomerEmail  string      `json:"customer_email,omitempty"`
	IdempotencyKey string      `json:"idempotency_key,omitempty"`
}

type QuotedItem struct {
	ProductID string      `json:"product_id"`
	VariantID string      `json:"variant_id,omitempty"`
	SKU       string      `json:"sku,omitempty"`
	Title     string      `json:"title,omitempty"`
	Quantity  int         `json:"quantity"`
	UnitPrice money.Money `json:"unit_price"`
	LineTotal money.Money `json:"line_total"`
}

// Quote is the merchant's current pricing for a set of items. The id is the
// merchant's own checkout session id and is what confirm is addressed to.
type Quote struct {
	CheckoutID  string       `json:"id"`
	Status      string       `json:"status"`
	Items       []QuotedItem `json:"items"`
	Subtotal    money.Money  `json:"subtotal"`
	Tax         money.Money  `json:"tax"`
	Shipping    money.Money  `json:"shipping"`
	Total       money.Money  `json:"total"`
	ReceiptHash string       `json:"receipt_hash,omitempty"`
	ExpiresAt   string       `json:"expires_at,omitempty"`
}

type Confirmation struct {
	CheckoutID      string      `json:"checkout_id"`
	MerchantOrderID string      `json:"merchant_order_id"`
	Status          string      `json:"status"`
	Total           money.Money `json:"total"`
	ConfirmedAt     string      `json:"confirmed_at"`
}

// Error is any failure talking to a merchant. ErrorCode carries the
// merchant's own code (PRICE_CHANGED, OUT_OF_STOCK, ...) when the merchant
// answered with a structured conflict; otherwise it is empty.
type Error struct {
	MerchantID string
	StatusCode int
	ErrorCode  string
	Message    string
}

func (e *Error) Error() string {
	if e.ErrorCode != "" {
		return fmt.Sprintf("merchant %s: %s: %s", e.MerchantID, e.ErrorCode, e.Message)
	}
	return fmt.Sprintf("merchant %s: %s", e.MerchantID, e.Message)
}

// AsError unwraps err into a merchant *Error if it is one.
func AsError(err error) (*Error, bool) {
	var me *Error
	if errors.As(err, &me) {
		return me, true
	}
	return nil, false
}

// Client talks to a single merchant's API.
type Client struct {
	merchantID string
	baseURL    string
	http       *http.Client
}

func NewClient(merchantID, baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		merchantID: merchantID,
		baseURL:    baseURL,
		http:       &http.Client{Timeout: timeout},
	}
}

// Quote asks the merchant for current pricing of the items.
func (c *Client) Quote(ctx context.Context, req QuoteRequest) (*Quote, error) {
	var q Quote
	if err := c.post(ctx, "/checkout/quote", req, &q, nil); err != nil {
		return nil, err
	}
	return &q, nil
}

// Confirm executes the purchase for a merchant checkout session. A 409
// response surfaces the merchant's error code (PRICE_CHANGED,
// OUT_OF_STOCK, ...) for the caller to branch on.
func (c *Client) Confirm(ctx context.Context, merchantCheckoutID, paymentMethod, idempotencyKey string) (*Confirmation, error) {
	body := map[string]string{"payment_method": paymentMethod}
	if idempotencyKey != "" {
		body["idempotency_key"] = idempotencyKey
	}
	var conf Confirmation
	err := c.post(ctx, "/checkout/"+merchantCheckoutID+"/confirm", body, &conf, map[int]string{
		http.StatusNotFound: "CHECKOUT_NOT_FOUND",
	})
	if err != nil {
		return nil, err
	}
	return &conf, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any, codeByStatus map[int]string) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return &Error{MerchantID: c.merchantID, Message: "encode request: " + err.Error()}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return &Error{MerchantID: c.merchantID, Message: "build request: " + err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	if reqID := middleware.GetReqID(ctx); reqID != "" {
		req.Header.Set("X-Request-ID", reqID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &Error{MerchantID: c.merchantID, Message: "request failed: " + err.Error()}
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		if err := json.Unmarshal(raw, out); err != nil {
			return &Error{MerchantID: c.merchantID, StatusCode: resp.StatusCode,
				Message: "decode response: " + err.Error()}
		}
		return nil
	case resp.StatusCode == http.StatusConflict:
		var conflict struct {
			ErrorCode string `json:"error_code"`
			Message   string `json:"message"`
			Detail    string `json:"detail"`
		}
		_ = json.Unmarshal(raw, &conflict)
		code := conflict.ErrorCode
		if code == "" {
			code = "CONFLICT"
		}
		msg := conflict.Message
		if msg == "" {
			msg = conflict.Detail
		}
		return &Error{MerchantID: c.merchantID, StatusCode: resp.StatusCode, ErrorCode: code, Message: msg}
	default:
		if code, ok := codeByStatus[resp.StatusCode]; ok {
			return &Error{MerchantID: c.merchantID, StatusCode: resp.StatusCode, ErrorCode: code,
				Message: string(raw)}
		}
		return &Error{MerchantID: c.merchantID, StatusCode: resp.StatusCode,
			Message: fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, raw)}
	}
}
