package httpx

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-agent-checkout.git/internal/checkout"
	"github.com/ariefcatur/go-agent-checkout.git/internal/idempotency"
	"github.com/ariefcatur/go-agent-checkout.git/internal/merchant"
	"github.com/ariefcatur/go-agent-checkout.git/internal/metrics"
	"github.com/ariefcatur/go-agent-checkout.git/internal/money"
	"github.com/ariefcatur/go-agent-checkout.git/internal/orders"
	"github.com/ariefcatur/go-agent-checkout.git/internal/webhooks"
)

const apiWebhookSecret = "whsec_api_test"

// stubMerchant answers the quote and confirm calls the checkout service
// makes, with adjustable pricing and a scriptable confirm conflict.
type stubMerchant struct {
	mu           sync.Mutex
	unitPrice    int64
	confirmCode  string
	confirmCalls int
	orderSeq     int
}

func (m *stubMerchant) setPrice(cents int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unitPrice = cents
}

func (m *stubMerchant) setConfirmCode(code string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.confirmCode = code
}

func (m *stubMerchant) confirms() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.confirmCalls
}

func (m *stubMerchant) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")

	if r.URL.Path == "/checkout/quote" {
		var req merchant.QuoteRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		items := make([]merchant.QuotedItem, 0, len(req.Items))
		var subtotal int64
		for _, it := range req.Items {
			line := m.unitPrice * int64(it.Quantity)
			subtotal += line
			items = append(items, merchant.QuotedItem{
				ProductID: it.ProductID,
				VariantID: it.VariantID,
				SKU:       "SKU-" + it.ProductID,
				Title:     "Item " + it.ProductID,
				Quantity:  it.Quantity,
				UnitPrice: money.Money{Cents: m.unitPrice, Currency: "USD"},
				LineTotal: money.Money{Cents: line, Currency: "USD"},
			})
		}
		_ = json.NewEncoder(w).Encode(merchant.Quote{
			CheckoutID: "mc_1",
			Status:     "quoted",
			Items:      items,
			Subtotal:   money.Money{Cents: subtotal, Currency: "USD"},
			Tax:        money.Money{Cents: 400, Currency: "USD"},
			Shipping:   money.Money{Cents: 500, Currency: "USD"},
			Total:      money.Money{Cents: subtotal + 900, Currency: "USD"},
		})
		return
	}

	if strings.HasSuffix(r.URL.Path, "/confirm") {
		m.confirmCalls++
		if m.confirmCode != "" {
			w.WriteHeader(http.StatusConflict)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"error_code": m.confirmCode,
				"message":    "price changed upstream",
			})
			return
		}
		m.orderSeq++
		_ = json.NewEncoder(w).Encode(merchant.Confirmation{
			CheckoutID:      strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/checkout/"), "/confirm"),
			MerchantOrderID: fmt.Sprintf("mo_%d", m.orderSeq),
			Status:          "confirmed",
			ConfirmedAt:     time.Now().UTC().Format(time.RFC3339),
		})
		return
	}

	w.WriteHeader(http.StatusNotFound)
}

type apiFixture struct {
	ts   *httptest.Server
	fake *stubMerchant
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	fake := &stubMerchant{unitPrice: 4999}
	ms := httptest.NewServer(fake)
	t.Cleanup(ms.Close)

	reg := merchant.NewRegistry([]merchant.Config{
		{ID: "merchant-a", URL: ms.URL, WebhookSecret: apiWebhookSecret},
	}, 2*time.Second)
	ordSvc := orders.NewService(orders.NewMemoryRepo(), nil)
	chkSvc := checkout.NewService(checkout.NewMemoryRepo(), reg, ordSvc, nil)
	proc := webhooks.NewProcessor(reg, webhooks.NewMemoryEventLog(), chkSvc, ordSvc, nil)

	srv := &Server{
		Checkouts: &CheckoutsHandler{Service: chkSvc, Orders: ordSvc},
		Orders:    &OrdersHandler{Service: ordSvc},
		Webhooks:  &WebhooksHandler{Processor: proc},
		Idem:      idempotency.NewMemoryStore(0),
		Metrics:   metrics.NewServerMetrics("apitest"),
	}
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return &apiFixture{ts: ts, fake: fake}
}

// call sends one request and decodes the JSON object that comes back.
func (f *apiFixture) call(t *testing.T, method, path string, body any, hdr map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		payload = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, f.ts.URL+path, payload)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	resp, err := f.ts.Client().Do(req)
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	_ = resp.Body.Close()

	var decoded map[string]any
	if len(bytes.TrimSpace(raw)) > 0 {
		require.NoError(t, json.Unmarshal(raw, &decoded), "body: %s", raw)
	}
	return resp, decoded
}

func (f *apiFixture) post(t *testing.T, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	return f.call(t, http.MethodPost, path, body, nil)
}

func (f *apiFixture) get(t *testing.T, path string) (*http.Response, map[string]any) {
	t.Helper()
	return f.call(t, http.MethodGet, path, nil, nil)
}

var createBody = map[string]any{
	"merchant_id":    "merchant-a",
	"offer_id":       "offer_1",
	"customer_email": "shopper@example.com",
	"items":          []map[string]any{{"product_id": "prod_1", "quantity": 1}},
}

// confirmedCheckout drives create -> quote -> request-approval -> approve ->
// confirm through the HTTP surface and returns the ids the flow produced.
func (f *apiFixture) confirmedCheckout(t *testing.T) (checkoutID, orderID, merchantOrderID string) {
	t.Helper()
	resp, body := f.post(t, "/checkouts", createBody)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	checkoutID = body["id"].(string)

	resp, _ = f.post(t, "/checkouts/"+checkoutID+"/quote", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = f.post(t, "/checkouts/"+checkoutID+"/request-approval", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = f.post(t, "/checkouts/"+checkoutID+"/approve", map[string]any{"approved_by": "agent-7"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = f.post(t, "/checkouts/"+checkoutID+"/confirm", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, "confirm: %v", body)
	orderID = body["order_id"].(string)
	merchantOrderID = body["merchant_order_id"].(string)
	return checkoutID, orderID, merchantOrderID
}

func TestCheckoutFlowOverHTTP(t *testing.T) {
	f := newAPIFixture(t)

	resp, body := f.post(t, "/checkouts", createBody)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id := body["id"].(string)
	assert.Equal(t, "created", body["status"])
	assert.Equal(t, "merchant-a", body["merchant_id"])
	assert.Nil(t, body["total"])

	resp, body = f.post(t, "/checkouts/"+id+"/quote", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "quoted", body["status"])
	total := body["total"].(map[string]any)
	assert.EqualValues(t, 5899, total["amount"])
	assert.Equal(t, "USD", total["currency"])
	assert.Equal(t, "mc_1", body["merchant_checkout_id"])

	resp, body = f.post(t, "/checkouts/"+id+"/request-approval", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "awaiting_approval", body["status"])
	fr := body["frozen_receipt"].(map[string]any)
	assert.EqualValues(t, 5899, fr["total_cents"])
	assert.Equal(t, body["receipt_hash"], fr["hash"])

	resp, body = f.post(t, "/checkouts/"+id+"/approve", map[string]any{"approved_by": "agent-7"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "approved", body["status"])
	assert.Equal(t, "agent-7", body["approved_by"])

	resp, body = f.post(t, "/checkouts/"+id+"/confirm", map[string]any{"payment_method": "test_card"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "confirmed", body["status"])
	assert.Equal(t, "mo_1", body["merchant_order_id"])
	orderID := body["order_id"].(string)
	require.NotEmpty(t, orderID)
	assert.EqualValues(t, 5899, body["total"].(map[string]any)["amount"])

	resp, body = f.get(t, "/checkouts/"+id)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "confirmed", body["status"])
	trail := body["audit_trail"].([]any)
	assert.GreaterOrEqual(t, len(trail), 5)

	resp, body = f.get(t, "/orders/"+orderID)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "pending", body["status"])
	assert.Equal(t, id, body["checkout_id"])
	assert.Equal(t, "shopper@example.com", body["customer"].(map[string]any)["email"])
}

func TestCheckoutNotFound(t *testing.T) {
	f := newAPIFixture(t)

	resp, body := f.get(t, "/checkouts/chk_missing")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "CHECKOUT_NOT_FOUND", body["error_code"])

	resp, body = f.post(t, "/checkouts/chk_missing/quote", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "CHECKOUT_NOT_FOUND", body["error_code"])
}

func TestCreateValidationOverHTTP(t *testing.T) {
	f := newAPIFixture(t)

	resp, body := f.post(t, "/checkouts", map[string]any{"merchant_id": "merchant-a"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "VALIDATION_ERROR", body["error_code"])

	resp, body = f.post(t, "/checkouts", map[string]any{
		"merchant_id": "merchant-x",
		"items":       []map[string]any{{"product_id": "p", "quantity": 1}},
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "MERCHANT_NOT_FOUND", body["error_code"])

	req, err := http.NewRequest(http.MethodPost, f.ts.URL+"/checkouts", strings.NewReader("{not json"))
	require.NoError(t, err)
	resp2, err := f.ts.Client().Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)
}

func TestConfirmPriceDriftReapproval(t *testing.T) {
	f := newAPIFixture(t)

	resp, body := f.post(t, "/checkouts", createBody)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id := body["id"].(string)
	for _, step := range []string{"/quote", "/request-approval"} {
		resp, _ = f.post(t, "/checkouts/"+id+step, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	resp, _ = f.post(t, "/checkouts/"+id+"/approve", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Merchant raises the price between approval and confirm.
	f.fake.setPrice(5999)

	resp, body = f.post(t, "/checkouts/"+id+"/confirm", nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "REAPPROVAL_REQUIRED", body["error_code"])
	assert.Equal(t, id, body["checkout_id"])
	assert.EqualValues(t, 5899, body["original_total"].(map[string]any)["amount"])
	assert.EqualValues(t, 6899, body["new_total"].(map[string]any)["amount"])
	assert.EqualValues(t, 1000, body["price_difference"].(map[string]any)["amount"])
	assert.Zero(t, f.fake.confirms(), "nothing may be charged on drift")

	resp, body = f.get(t, "/checkouts/"+id)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "reapproval_required", body["status"])

	// Second approval round at the new price goes through.
	resp, _ = f.post(t, "/checkouts/"+id+"/request-approval", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = f.post(t, "/checkouts/"+id+"/approve", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, body = f.post(t, "/checkouts/"+id+"/confirm", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "confirmed", body["status"])
	assert.EqualValues(t, 6899, body["total"].(map[string]any)["amount"])
}

func TestIdempotentCreateReplay(t *testing.T) {
	f := newAPIFixture(t)
	hdr := map[string]string{"Idempotency-Key": "key-create-1"}

	resp1, body1 := f.call(t, http.MethodPost, "/checkouts", createBody, hdr)
	require.Equal(t, http.StatusCreated, resp1.StatusCode)
	assert.Empty(t, resp1.Header.Get("X-Idempotent-Replayed"))

	resp2, body2 := f.call(t, http.MethodPost, "/checkouts", createBody, hdr)
	require.Equal(t, http.StatusCreated, resp2.StatusCode)
	assert.Equal(t, "true", resp2.Header.Get("X-Idempotent-Replayed"))
	assert.Equal(t, body1["id"], body2["id"], "replay must return the first checkout")

	// Same key, different payload: rejected, nothing executed.
	other := map[string]any{
		"merchant_id": "merchant-a",
		"items":       []map[string]any{{"product_id": "prod_1", "quantity": 2}},
	}
	resp3, body3 := f.call(t, http.MethodPost, "/checkouts", other, hdr)
	assert.Equal(t, http.StatusConflict, resp3.StatusCode)
	assert.Equal(t, "IDEMPOTENCY_CONFLICT", body3["error_code"])
}

func TestIdempotencyKeyScopedPerRoute(t *testing.T) {
	f := newAPIFixture(t)
	hdr := map[string]string{"Idempotency-Key": "key-shared"}

	resp, body := f.call(t, http.MethodPost, "/checkouts", createBody, hdr)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id := body["id"].(string)

	// The same client key on a different path is a separate scope.
	resp, body = f.call(t, http.MethodPost, "/checkouts/"+id+"/quote", nil, hdr)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "quoted", body["status"])
}

func TestConfirmRetryDoesNotChargeTwice(t *testing.T) {
	f := newAPIFixture(t)

	resp, body := f.post(t, "/checkouts", createBody)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id := body["id"].(string)
	for _, step := range []string{"/quote", "/request-approval", "/approve"} {
		resp, _ = f.post(t, "/checkouts/"+id+step, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	hdr := map[string]string{"Idempotency-Key": "key-confirm-1"}
	resp1, body1 := f.call(t, http.MethodPost, "/checkouts/"+id+"/confirm", nil, hdr)
	require.Equal(t, http.StatusOK, resp1.StatusCode)
	resp2, body2 := f.call(t, http.MethodPost, "/checkouts/"+id+"/confirm", nil, hdr)
	require.Equal(t, http.StatusOK, resp2.StatusCode)

	assert.Equal(t, "true", resp2.Header.Get("X-Idempotent-Replayed"))
	assert.Equal(t, body1["merchant_order_id"], body2["merchant_order_id"])
	assert.Equal(t, 1, f.fake.confirms(), "retry must not hit the merchant again")
}

func signedWebhook(t *testing.T, eventID, eventType string, data map[string]any) ([]byte, string) {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"event_id":    eventID,
		"event_type":  eventType,
		"merchant_id": "merchant-a",
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
		"data":        data,
		"ucp_version": "1.0.0",
	})
	require.NoError(t, err)
	return raw, webhooks.Sign(apiWebhookSecret, raw)
}

func (f *apiFixture) deliver(t *testing.T, body []byte, signature string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, f.ts.URL+"/webhooks/merchant", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Merchant-Signature", signature)
	req.Header.Set("X-Merchant-Id", "merchant-a")
	resp, err := f.ts.Client().Do(req)
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	_ = resp.Body.Close()
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	return resp, decoded
}

func TestWebhookReceiveAndInspect(t *testing.T) {
	f := newAPIFixture(t)
	checkoutID, _, merchantOrderID := f.confirmedCheckout(t)

	raw, sig := signedWebhook(t, "evt_http_1", "checkout.confirmed", map[string]any{
		"checkout_id":       checkoutID,
		"merchant_order_id": merchantOrderID,
	})

	resp, body := f.deliver(t, raw, sig)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "processed", body["status"])
	assert.Equal(t, "evt_http_1", body["event_id"])

	// Redelivery dedups regardless of how many times it arrives.
	resp, body = f.deliver(t, raw, sig)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "duplicate", body["status"])

	resp, body = f.get(t, "/webhooks/events/evt_http_1?merchant_id=merchant-a")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "processed", body["status"])
	assert.Equal(t, "checkout.confirmed", body["event_type"])

	resp, body = f.get(t, "/webhooks/events/evt_nope?merchant_id=merchant-a")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "EVENT_NOT_FOUND", body["error_code"])
}

func TestWebhookRejections(t *testing.T) {
	f := newAPIFixture(t)
	raw, sig := signedWebhook(t, "evt_http_2", "checkout.confirmed", map[string]any{"checkout_id": "chk_x"})

	// Signed with somebody else's secret.
	resp, body := f.deliver(t, raw, webhooks.Sign("not-the-secret", raw))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "INVALID_SIGNATURE", body["error_code"])

	// Header merchant disagrees with the payload.
	req, err := http.NewRequest(http.MethodPost, f.ts.URL+"/webhooks/merchant", bytes.NewReader(raw))
	require.NoError(t, err)
	req.Header.Set("X-Merchant-Signature", sig)
	req.Header.Set("X-Merchant-Id", "merchant-b")
	resp2, err := f.ts.Client().Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	var mismatch map[string]any
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&mismatch))
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)
	assert.Equal(t, "MERCHANT_ID_MISMATCH", mismatch["error_code"])

	// Rejected events never enter the log.
	resp, body = f.get(t, "/webhooks/events/evt_http_2?merchant_id=merchant-a")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "EVENT_NOT_FOUND", body["error_code"])
}

func TestWebhookDrivesOrderLifecycle(t *testing.T) {
	f := newAPIFixture(t)
	_, orderID, merchantOrderID := f.confirmedCheckout(t)

	raw, sig := signedWebhook(t, "evt_ship_1", "order.shipped", map[string]any{
		"merchant_order_id": merchantOrderID,
		"tracking_number":   "TRACK123",
		"carrier":           "UPS",
	})
	resp, body := f.deliver(t, raw, sig)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "processed", body["status"])

	resp, body = f.get(t, "/orders/"+orderID)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "shipped", body["status"])
	assert.Equal(t, "TRACK123", body["tracking_number"])
	assert.Equal(t, "UPS", body["carrier"])

	raw, sig = signedWebhook(t, "evt_deliver_1", "order.delivered", map[string]any{
		"merchant_order_id": merchantOrderID,
	})
	resp, body = f.deliver(t, raw, sig)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "processed", body["status"])

	resp, body = f.get(t, "/orders/"+orderID)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "delivered", body["status"])
}

func TestOrdersListAndFilters(t *testing.T) {
	f := newAPIFixture(t)
	f.confirmedCheckout(t)
	f.confirmedCheckout(t)

	resp, body := f.get(t, "/orders")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 2, body["total"])
	assert.Len(t, body["items"].([]any), 2)
	first := body["items"].([]any)[0].(map[string]any)
	assert.EqualValues(t, 1, first["item_count"])
	assert.Equal(t, "shopper@example.com", first["customer_email"])

	resp, body = f.get(t, "/orders?page_size=1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["items"].([]any), 1)
	assert.Equal(t, true, body["has_more"])
	assert.EqualValues(t, 2, body["total"])

	resp, body = f.get(t, "/orders?status=delivered")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["items"].([]any), 0)

	resp, body = f.get(t, "/orders?merchant_id=merchant-a&status=pending")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["items"].([]any), 2)
}

func TestOrderCancelOverHTTP(t *testing.T) {
	f := newAPIFixture(t)
	_, orderID, _ := f.confirmedCheckout(t)

	resp, body := f.post(t, "/orders/"+orderID+"/cancel", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "VALIDATION_ERROR", body["error_code"])

	resp, body = f.post(t, "/orders/"+orderID+"/cancel", map[string]any{"reason": "changed my mind"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "cancelled", body["status"])
	assert.Equal(t, "changed my mind", body["cancelled_reason"])
	assert.Equal(t, "customer", body["cancelled_by"])

	// Cancelled is terminal: simulate quietly has nothing left to advance.
	resp, body = f.post(t, "/orders/"+orderID+"/simulate-advance", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "cancelled", body["status"])
}

func TestOrderRefundFlowOverHTTP(t *testing.T) {
	f := newAPIFixture(t)
	_, orderID, _ := f.confirmedCheckout(t)

	// Refund before delivery is rejected.
	resp, body := f.post(t, "/orders/"+orderID+"/refund", map[string]any{"reason": "too slow"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INVALID_TRANSITION", body["error_code"])

	resp, body = f.post(t, "/orders/"+orderID+"/simulate-advance", map[string]any{"steps": 3})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "delivered", body["status"])
	assert.NotEmpty(t, body["tracking_number"])

	resp, body = f.post(t, "/orders/"+orderID+"/refund", map[string]any{"reason": "damaged on arrival"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "refunded", body["status"])
	assert.EqualValues(t, 5899, body["refund_amount"].(map[string]any)["amount"])
	assert.Equal(t, "damaged on arrival", body["refund_reason"])

	history := body["status_history"].([]any)
	assert.GreaterOrEqual(t, len(history), 5)
}

func TestOrderNotFound(t *testing.T) {
	f := newAPIFixture(t)

	resp, body := f.get(t, "/orders/ord_missing")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "ORDER_NOT_FOUND", body["error_code"])
}

func TestHealthzAndMetrics(t *testing.T) {
	f := newAPIFixture(t)

	resp, err := f.ts.Client().Get(f.ts.URL + "/healthz")
	require.NoError(t, err)
	raw, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(raw))

	// Touch one route so the counter exists, then scrape.
	f.get(t, "/orders")
	resp, err = f.ts.Client().Get(f.ts.URL + "/metrics")
	require.NoError(t, err)
	raw, _ = io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), "agentcheckout_apitest_http_requests_total")
}
