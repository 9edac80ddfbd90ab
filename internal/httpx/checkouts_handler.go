package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ariefcatur/go-agent-checkout.git/internal/apperr"
	"github.com/ariefcatur/go-agent-checkout.git/internal/checkout"
	"github.com/ariefcatur/go-agent-checkout.git/internal/money"
	"github.com/ariefcatur/go-agent-checkout.git/internal/orders"
)

type CheckoutItemReq struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id,omitempty"`
	Quantity  int    `json:"quantity"`
}

type CreateCheckoutReq struct {
	MerchantID     string            `json:"merchant_id"`
	OfferID        string            `json:"offer_id,omitempty"`
	Items          []CheckoutItemReq `json:"items"`
	CustomerEmail  string            `json:"customer_email,omitempty"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
}

type QuoteCheckoutReq struct {
	Items         []CheckoutItemReq `json:"items,omitempty"`
	CustomerEmail string            `json:"customer_email,omitempty"`
}

type ApproveCheckoutReq struct {
	ApprovedBy string `json:"approved_by,omitempty"`
}

type ConfirmCheckoutReq struct {
	PaymentMethod  string `json:"payment_method,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

type CheckoutItemResp struct {
	ProductID string      `json:"product_id"`
	VariantID string      `json:"variant_id,omitempty"`
	SKU       string      `json:"sku,omitempty"`
	Title     string      `json:"title,omitempty"`
	Quantity  int         `json:"quantity"`
	UnitPrice money.Money `json:"unit_price"`
	LineTotal money.Money `json:"line_total"`
}

type CheckoutResponse struct {
	ID                 string                `json:"id"`
	OfferID            string                `json:"offer_id,omitempty"`
	MerchantID         string                `json:"merchant_id"`
	Status             checkout.Status       `json:"status"`
	Items              []CheckoutItemResp    `json:"items"`
	Subtotal           *money.Money          `json:"subtotal,omitempty"`
	Tax                *money.Money          `json:"tax,omitempty"`
	Shipping           *money.Money          `json:"shipping,omitempty"`
	Total              *money.Money          `json:"total,omitempty"`
	MerchantCheckoutID string                `json:"merchant_checkout_id,omitempty"`
	ReceiptHash        string                `json:"receipt_hash,omitempty"`
	FrozenReceipt      *checkout.Receipt     `json:"frozen_receipt,omitempty"`
	MerchantOrderID    string                `json:"merchant_order_id,omitempty"`
	ApprovedBy         string                `json:"approved_by,omitempty"`
	ApprovedAt         *time.Time            `json:"approved_at,omitempty"`
	ConfirmedAt        *time.Time            `json:"confirmed_at,omitempty"`
	ExpiresAt          time.Time             `json:"expires_at"`
	FailureReason      string                `json:"failure_reason,omitempty"`
	AuditTrail         []checkout.AuditEntry `json:"audit_trail"`
	CreatedAt          time.Time             `json:"created_at"`
	UpdatedAt          time.Time             `json:"updated_at"`
}

type ConfirmCheckoutResp struct {
	CheckoutID      string          `json:"checkout_id"`
	MerchantOrderID string          `json:"merchant_order_id"`
	OrderID         string          `json:"order_id,omitempty"`
	Status          checkout.Status `json:"status"`
	Total           money.Money     `json:"total"`
	ConfirmedAt     time.Time       `json:"confirmed_at"`
}

type CheckoutsHandler struct {
	Service *checkout.Service
	Orders  *orders.Service
}

// Register mounts the checkout routes. idem wraps the five mutating POSTs;
// the read stays outside it.
func (h *CheckoutsHandler) Register(r *chi.Mux, idem func(http.Handler) http.Handler) {
	r.With(idem).Post("/checkouts", h.create)
	r.Get("/checkouts/{id}", h.get)
	r.With(idem).Post("/checkouts/{id}/quote", h.quote)
	r.With(idem).Post("/checkouts/{id}/request-approval", h.requestApproval)
	r.With(idem).Post("/checkouts/{id}/approve", h.approve)
	r.With(idem).Post("/checkouts/{id}/confirm", h.confirm)
}

// decodeJSON tolerates an empty body (every request struct has usable zero
// values; the services validate required fields) but rejects malformed JSON.
func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return apperr.New(apperr.CodeValidation, "invalid request body: %v", err)
	}
	return nil
}

func checkoutItems(in []CheckoutItemReq) []checkout.Item {
	out := make([]checkout.Item, 0, len(in))
	for _, it := range in {
		out = append(out, checkout.Item{
			ProductID: it.ProductID,
			VariantID: it.VariantID,
			Quantity:  it.Quantity,
		})
	}
	return out
}

func (h *CheckoutsHandler) create(w http.ResponseWriter, r *http.Request) {
	var req CreateCheckoutReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	c, err := h.Service.Create(ctx, checkout.CreateInput{
		MerchantID:     req.MerchantID,
		OfferID:        req.OfferID,
		CustomerEmail:  req.CustomerEmail,
		Items:          checkoutItems(req.Items),
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, checkoutResponse(c))
}

func (h *CheckoutsHandler) get(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	c, err := h.Service.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, checkoutResponse(c))
}

// quote and confirm talk to the merchant, so they run on the request
// context and let the router's timeout bound them.
func (h *CheckoutsHandler) quote(w http.ResponseWriter, r *http.Request) {
	var req QuoteCheckoutReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	c, err := h.Service.Quote(r.Context(), chi.URLParam(r, "id"), checkoutItems(req.Items), req.CustomerEmail)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, checkoutResponse(c))
}

func (h *CheckoutsHandler) requestApproval(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	c, err := h.Service.RequestApproval(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, checkoutResponse(c))
}

func (h *CheckoutsHandler) approve(w http.ResponseWriter, r *http.Request) {
	var req ApproveCheckoutReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.ApprovedBy == "" {
		req.ApprovedBy = "user"
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	c, err := h.Service.Approve(ctx, chi.URLParam(r, "id"), req.ApprovedBy)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, checkoutResponse(c))
}

func (h *CheckoutsHandler) confirm(w http.ResponseWriter, r *http.Request) {
	var req ConfirmCheckoutReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	c, err := h.Service.Confirm(r.Context(), chi.URLParam(r, "id"), req.PaymentMethod, req.IdempotencyKey)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := ConfirmCheckoutResp{
		CheckoutID:      c.ID,
		MerchantOrderID: c.MerchantOrderID,
		Status:          c.Status,
		Total:           money.Money{Cents: c.TotalCents, Currency: c.Currency},
		ConfirmedAt:     c.UpdatedAt,
	}
	if c.ConfirmedAt != nil {
		resp.ConfirmedAt = *c.ConfirmedAt
	}
	if h.Orders != nil {
		if o, oerr := h.Orders.GetByCheckout(r.Context(), c.ID); oerr == nil {
			resp.OrderID = o.ID
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func checkoutResponse(c *checkout.Checkout) CheckoutResponse {
	items := make([]CheckoutItemResp, 0, len(c.Items))
	for _, it := range c.Items {
		items = append(items, CheckoutItemResp{
			ProductID: it.ProductID,
			VariantID: it.VariantID,
			SKU:       it.SKU,
			Title:     it.Title,
			Quantity:  it.Quantity,
			UnitPrice: money.Money{Cents: it.UnitPriceCents, Currency: c.Currency},
			LineTotal: money.Money{Cents: it.UnitPriceCents * int64(it.Quantity), Currency: c.Currency},
		})
	}

	resp := CheckoutResponse{
		ID:                 c.ID,
		OfferID:            c.OfferID,
		MerchantID:         c.MerchantID,
		Status:             c.Status,
		Items:              items,
		MerchantCheckoutID: c.MerchantCheckoutID,
		MerchantOrderID:    c.MerchantOrderID,
		ApprovedBy:         c.ApprovedBy,
		ApprovedAt:         c.ApprovedAt,
		ConfirmedAt:        c.ConfirmedAt,
		ExpiresAt:          c.ExpiresAt,
		FailureReason:      c.FailureReason,
		AuditTrail:         c.Audit,
		CreatedAt:          c.CreatedAt,
		UpdatedAt:          c.UpdatedAt,
	}
	// Pricing only exists after the first quote.
	if c.TotalCents > 0 {
		resp.Subtotal = &money.Money{Cents: c.SubtotalCents, Currency: c.Currency}
		resp.Tax = &money.Money{Cents: c.TaxCents, Currency: c.Currency}
		resp.Shipping = &money.Money{Cents: c.ShippingCents, Currency: c.Currency}
		resp.Total = &money.Money{Cents: c.TotalCents, Currency: c.Currency}
	}
	if c.Receipt != nil {
		resp.ReceiptHash = c.Receipt.Hash
		resp.FrozenReceipt = c.Receipt
	}
	return resp
}
