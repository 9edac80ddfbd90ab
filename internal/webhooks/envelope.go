// Package webhooks receives merchant event deliveries: it verifies the
// HMAC signature on the raw body, deduplicates by (merchant_id, event_id),
// records each event in an event log and applies the state change to the
// owning checkout or order. Delivery order is not guaranteed, so handlers
// only ever move state forward.
package webhooks

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// Event types merchants deliver. Unknown types are acknowledged but
// ignored so merchants can roll out new events before we handle them.
const (
	TypeCheckoutCreated   = "checkout.created"
	TypeCheckoutQuoted    = "checkout.quoted"
	TypeCheckoutConfirmed = "checkout.confirmed"
	TypeCheckoutFailed    = "checkout.failed"
	TypeCheckoutExpired   = "checkout.expired"
	TypeOrderCreated      = "order.created"
	TypeOrderShipped      = "order.shipped"
	TypeOrderDelivered    = "order.delivered"
	TypePriceChanged      = "price.changed"
	TypeStockChanged      = "stock.changed"
)

var knownTypes = map[string]struct{}{
	TypeCheckoutCreated:   {},
	TypeCheckoutQuoted:    {},
	TypeCheckoutConfirmed: {},
	TypeCheckoutFailed:    {},
	TypeCheckoutExpired:   {},
	TypeOrderCreated:      {},
	TypeOrderShipped:      {},
	TypeOrderDelivered:    {},
	TypePriceChanged:      {},
	TypeStockChanged:      {},
}

func KnownType(t string) bool {
	_, ok := knownTypes[t]
	return ok
}

// Envelope is the wire shape of a merchant webhook delivery.
type Envelope struct {
	EventID    string          `json:"event_id"`
	EventType  string          `json:"event_type"`
	MerchantID string          `json:"merchant_id"`
	Timestamp  time.Time       `json:"timestamp"`
	Data       json.RawMessage `json:"data"`
	UCPVersion string          `json:"ucp_version,omitempty"`
}

// PayloadHash is a SHA-256 digest over the identifying fields plus the
// canonicalized (key-sorted) data object. Stored with the event record so
// replays with altered content are distinguishable from true duplicates.
func (e Envelope) PayloadHash() string {
	var data any
	if len(e.Data) > 0 {
		if err := json.Unmarshal(e.Data, &data); err != nil {
			data = string(e.Data)
		}
	}
	canon, _ := json.Marshal(map[string]any{
		"event_id":    e.EventID,
		"event_type":  e.EventType,
		"merchant_id": e.MerchantID,
		"data":        data,
	})
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:])
}

func (e Envelope) decodeData(v any) error {
	if len(e.Data) == 0 {
		return nil
	}
	return json.Unmarshal(e.Data, v)
}

// ---- per-type data payloads ----

type CheckoutConfirmedData struct {
	CheckoutID      string `json:"checkout_id"`
	MerchantOrderID string `json:"merchant_order_id"`
	Total           int64  `json:"total"`
	Currency        string `json:"currency"`
	ConfirmedAt     string `json:"confirmed_at,omitempty"`
}

type CheckoutFailedData struct {
	CheckoutID string `json:"checkout_id"`
	Reason     string `json:"reason"`
	ErrorCode  string `json:"error_code,omitempty"`
}

type CheckoutExpiredData struct {
	CheckoutID string `json:"checkout_id"`
	ExpiredAt  string `json:"expired_at,omitempty"`
}

type OrderCreatedData struct {
	CheckoutID      string `json:"checkout_id"`
	MerchantOrderID string `json:"merchant_order_id"`
	Total           int64  `json:"total"`
	Currency        string `json:"currency"`
	CreatedAt       string `json:"created_at,omitempty"`
}

type OrderShippedData struct {
	MerchantOrderID string `json:"merchant_order_id"`
	TrackingNumber  string `json:"tracking_number"`
	Carrier         string `json:"carrier"`
	ShippedAt       string `json:"shipped_at,omitempty"`
}

type OrderDeliveredData struct {
	MerchantOrderID string `json:"merchant_order_id"`
	DeliveredAt     string `json:"delivered_at,omitempty"`
}

type PriceChangedData struct {
	CheckoutID string `json:"checkout_id"`
	ProductID  string `json:"product_id"`
	OldPrice   int64  `json:"old_price"`
	NewPrice   int64  `json:"new_price"`
	Currency   string `json:"currency"`
	ChangedAt  string `json:"changed_at,omitempty"`
}

type StockChangedData struct {
	CheckoutID string `json:"checkout_id"`
	ProductID  string `json:"product_id"`
	VariantID  string `json:"variant_id,omitempty"`
	InStock    bool   `json:"in_stock"`
	Quantity   int    `json:"quantity"`
	ChangedAt  string `json:"changed_at,omitempty"`
}
