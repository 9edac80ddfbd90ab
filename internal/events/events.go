package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/ariefcatur/go-agent-checkout.git/internal/kafka"
)

const (
	TopicCheckoutConfirmed  = "checkout.confirmed"
	TopicCheckoutFailed     = "checkout.failed"
	TopicOrderCreated       = "order.created"
	TopicOrderStatusChanged = "order.status.changed"
	TopicWebhookReceived    = "webhook.received"
)

const (
	EventCheckoutConfirmed  = "CheckoutConfirmed"
	EventCheckoutFailed     = "CheckoutFailed"
	EventOrderCreated       = "OrderCreated"
	EventOrderStatusChanged = "OrderStatusChanged"
	EventWebhookReceived    = "WebhookReceived"
)

type Envelope struct {
	EventID       string          `json:"event_id"`      // uuid
	EventType     string          `json:"event_type"`    // salah satu const di atas
	EventVersion  int             `json:"event_version"` // 1
	OccurredAt    time.Time       `json:"occurred_at"`   // RFC3339
	Producer      string          `json:"producer"`      // e.g., "checkout-api"
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // checkout_id atau order_id
	Payload       json.RawMessage `json:"payload"`                  // payload spesifik
}

// ---- Payload tipe per event ----

type CheckoutConfirmedPayload struct {
	CheckoutID      string `json:"checkout_id"`
	MerchantID      string `json:"merchant_id"`
	MerchantOrderID string `json:"merchant_order_id"`
	OrderID         string `json:"order_id,omitempty"`
	TotalCents      int64  `json:"total_cents"`
	Currency        string `json:"currency"`
}

type CheckoutFailedPayload struct {
	CheckoutID string `json:"checkout_id"`
	MerchantID string `json:"merchant_id"`
	Reason     string `json:"reason"`
	ErrorCode  string `json:"error_code,omitempty"`
}

type OrderCreatedPayload struct {
	OrderID    string `json:"order_id"`
	CheckoutID string `json:"checkout_id"`
	MerchantID string `json:"merchant_id"`
	TotalCents int64  `json:"total_cents"`
	Currency   string `json:"currency"`
}

type OrderStatusChangedPayload struct {
	OrderID string `json:"order_id"`
	From    string `json:"from"`
	To      string `json:"to"`
	Actor   string `json:"actor,omitempty"`
}

type WebhookReceivedPayload struct {
	MerchantID string `json:"merchant_id"`
	EventID    string `json:"event_id"`
	EventType  string `json:"event_type"`
	Status     string `json:"status"`
}

// Partition key = correlation id (checkout/order), supaya event 1 entity maintain urutan.
func PartitionKey(id string) []byte { return []byte(id) }

// Publisher: fire-and-forget; implementasi tidak boleh blok request path.
type Publisher interface {
	Emit(ctx context.Context, topic, eventType, correlationID string, payload any)
}

// Nop dipakai saat Kafka tidak dikonfigurasi (dev / test).
type Nop struct{}

func (Nop) Emit(context.Context, string, string, string, any) {}

type KafkaPublisher struct {
	Producer *kafkax.Producer
	Service  string
}

func (p *KafkaPublisher) Emit(ctx context.Context, topic, eventType, correlationID string, payload any) {
	env := Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      p.Service,
		TraceID:       middleware.GetReqID(ctx),
		CorrelationID: correlationID,
		Payload:       kafkax.MustMarshal(payload),
	}
	p.Producer.Publish(topic, PartitionKey(correlationID), kafkax.MustMarshal(env),
		kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}
