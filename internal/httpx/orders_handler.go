package httpx

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ariefcatur/go-agent-checkout.git/internal/money"
	"github.com/ariefcatur/go-agent-checkout.git/internal/orders"
)

type CancelOrderReq struct {
	Reason      string `json:"reason"`
	CancelledBy string `json:"cancelled_by,omitempty"`
}

type RefundOrderReq struct {
	RefundAmountCents *int64 `json:"refund_amount_cents,omitempty"`
	Reason            string `json:"reason,omitempty"`
}

type SimulateAdvanceReq struct {
	Steps int `json:"steps,omitempty"`
}

type OrderItemResp struct {
	ProductID string      `json:"product_id"`
	VariantID string      `json:"variant_id,omitempty"`
	SKU       string      `json:"sku,omitempty"`
	Title     string      `json:"title,omitempty"`
	Quantity  int         `json:"quantity"`
	UnitPrice money.Money `json:"unit_price"`
	LineTotal money.Money `json:"line_total"`
}

type OrderResponse struct {
	ID              string                `json:"id"`
	CheckoutID      string                `json:"checkout_id"`
	MerchantID      string                `json:"merchant_id"`
	MerchantOrderID string                `json:"merchant_order_id,omitempty"`
	Status          orders.Status         `json:"status"`
	Customer        orders.Customer       `json:"customer"`
	ShippingAddress *orders.Address       `json:"shipping_address,omitempty"`
	BillingAddress  *orders.Address       `json:"billing_address,omitempty"`
	Items           []OrderItemResp       `json:"items"`
	Subtotal        money.Money           `json:"subtotal"`
	Tax             money.Money           `json:"tax"`
	Shipping        money.Money           `json:"shipping"`
	Total           money.Money           `json:"total"`
	TrackingNumber  string                `json:"tracking_number,omitempty"`
	Carrier         string                `json:"carrier,omitempty"`
	CancelledReason string                `json:"cancelled_reason,omitempty"`
	CancelledBy     string                `json:"cancelled_by,omitempty"`
	RefundAmount    *money.Money          `json:"refund_amount,omitempty"`
	RefundReason    string                `json:"refund_reason,omitempty"`
	StatusHistory   []orders.HistoryEntry `json:"status_history"`
	CreatedAt       time.Time             `json:"created_at"`
	UpdatedAt       time.Time             `json:"updated_at"`
	ConfirmedAt     *time.Time            `json:"confirmed_at,omitempty"`
	ShippedAt       *time.Time            `json:"shipped_at,omitempty"`
	DeliveredAt     *time.Time            `json:"delivered_at,omitempty"`
	CancelledAt     *time.Time            `json:"cancelled_at,omitempty"`
	RefundedAt      *time.Time            `json:"refunded_at,omitempty"`
}

type OrderSummaryResp struct {
	ID              string        `json:"id"`
	MerchantID      string        `json:"merchant_id"`
	MerchantOrderID string        `json:"merchant_order_id,omitempty"`
	Status          orders.Status `json:"status"`
	Total           money.Money   `json:"total"`
	ItemCount       int           `json:"item_count"`
	CustomerEmail   string        `json:"customer_email"`
	CreatedAt       time.Time     `json:"created_at"`
}

type OrdersListResponse struct {
	Items    []OrderSummaryResp `json:"items"`
	Total    int                `json:"total"`
	Page     int                `json:"page"`
	PageSize int                `json:"page_size"`
	HasMore  bool               `json:"has_more"`
}

type OrdersHandler struct {
	Service *orders.Service
}

func (h *OrdersHandler) Register(r *chi.Mux) {
	r.Get("/orders", h.list)
	r.Get("/orders/{id}", h.get)
	r.Post("/orders/{id}/cancel", h.cancel)
	r.Post("/orders/{id}/refund", h.refund)
	r.Post("/orders/{id}/simulate-advance", h.simulateAdvance)
}

func (h *OrdersHandler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := orders.ListFilter{
		Status:     orders.Status(q.Get("status")),
		MerchantID: q.Get("merchant_id"),
	}
	f.Page, _ = strconv.Atoi(q.Get("page"))
	f.PageSize, _ = strconv.Atoi(q.Get("page_size"))

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	page, err := h.Service.List(ctx, f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	items := make([]OrderSummaryResp, 0, len(page.Orders))
	for _, o := range page.Orders {
		items = append(items, orderSummary(o))
	}
	writeJSON(w, http.StatusOK, OrdersListResponse{
		Items:    items,
		Total:    page.Total,
		Page:     page.Page,
		PageSize: page.PageSize,
		HasMore:  page.HasMore,
	})
}

func (h *OrdersHandler) get(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.Service.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orderResponse(o))
}

func (h *OrdersHandler) cancel(w http.ResponseWriter, r *http.Request) {
	var req CancelOrderReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Service.Cancel(ctx, chi.URLParam(r, "id"), req.Reason, req.CancelledBy)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orderResponse(o))
}

func (h *OrdersHandler) refund(w http.ResponseWriter, r *http.Request) {
	var req RefundOrderReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Service.Refund(ctx, chi.URLParam(r, "id"), req.RefundAmountCents, req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orderResponse(o))
}

func (h *OrdersHandler) simulateAdvance(w http.ResponseWriter, r *http.Request) {
	var req SimulateAdvanceReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Steps < 1 {
		req.Steps = 1
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Service.SimulateAdvance(ctx, chi.URLParam(r, "id"), req.Steps)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orderResponse(o))
}

func orderResponse(o *orders.Order) OrderResponse {
	items := make([]OrderItemResp, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, OrderItemResp{
			ProductID: it.ProductID,
			VariantID: it.VariantID,
			SKU:       it.SKU,
			Title:     it.Title,
			Quantity:  it.Quantity,
			UnitPrice: money.Money{Cents: it.UnitPriceCents, Currency: o.Currency},
			LineTotal: money.Money{Cents: it.LineTotalCents(), Currency: o.Currency},
		})
	}

	resp := OrderResponse{
		ID:              o.ID,
		CheckoutID:      o.CheckoutID,
		MerchantID:      o.MerchantID,
		MerchantOrderID: o.MerchantOrderID,
		Status:          o.Status,
		Customer:        o.Customer,
		ShippingAddress: o.ShippingAddress,
		BillingAddress:  o.BillingAddress,
		Items:           items,
		Subtotal:        money.Money{Cents: o.SubtotalCents, Currency: o.Currency},
		Tax:             money.Money{Cents: o.TaxCents, Currency: o.Currency},
		Shipping:        money.Money{Cents: o.ShippingCents, Currency: o.Currency},
		Total:           money.Money{Cents: o.TotalCents, Currency: o.Currency},
		TrackingNumber:  o.TrackingNumber,
		Carrier:         o.Carrier,
		CancelledReason: o.CancelReason,
		CancelledBy:     o.CancelledBy,
		RefundReason:    o.RefundReason,
		StatusHistory:   o.History,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
		ConfirmedAt:     o.ConfirmedAt,
		ShippedAt:       o.ShippedAt,
		DeliveredAt:     o.DeliveredAt,
		CancelledAt:     o.CancelledAt,
		RefundedAt:      o.RefundedAt,
	}
	if o.RefundCents > 0 {
		resp.RefundAmount = &money.Money{Cents: o.RefundCents, Currency: o.Currency}
	}
	return resp
}

func orderSummary(o *orders.Order) OrderSummaryResp {
	count := 0
	for _, it := range o.Items {
		count += it.Quantity
	}
	return OrderSummaryResp{
		ID:              o.ID,
		MerchantID:      o.MerchantID,
		MerchantOrderID: o.MerchantOrderID,
		Status:          o.Status,
		Total:           money.Money{Cents: o.TotalCents, Currency: o.Currency},
		ItemCount:       count,
		CustomerEmail:   o.Customer.Email,
		CreatedAt:       o.CreatedAt,
	}
}
