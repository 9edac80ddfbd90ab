package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ariefcatur/go-agent-checkout.git/internal/apperr"
	"github.com/ariefcatur/go-agent-checkout.git/internal/events"
	"github.com/ariefcatur/go-agent-checkout.git/internal/merchant"
)

// CheckoutUpdater is the slice of the checkout service webhook handlers
// are allowed to touch.
type CheckoutUpdater interface {
	ApplyConfirmed(ctx context.Context, checkoutID, merchantOrderID string) error
	ApplyFailed(ctx context.Context, checkoutID, reason string) error
	ApplyExpired(ctx context.Context, checkoutID string) error
	ApplyPriceChanged(ctx context.Context, checkoutID, productID string, newPriceCents int64) error
}

// OrderUpdater is the order-side counterpart. Implementations absorb
// out-of-order deliveries: late events no-op, early events fast-forward.
type OrderUpdater interface {
	ConfirmByCheckout(ctx context.Context, checkoutID, merchantOrderID string) error
	ShipByMerchantOrder(ctx context.Context, merchantID, merchantOrderID, trackingNumber, carrier string) error
	DeliverByMerchantOrder(ctx context.Context, merchantID, merchantOrderID string) error
}

// Result is what a delivery attempt gets back. A failed handler still
// answers HTTP 200 with Success=false; the merchant's job was delivering,
// and redelivering a failed event only yields a duplicate.
type Result struct {
	Success bool        `json:"success"`
	EventID string      `json:"event_id"`
	Status  EventStatus `json:"status"`
	Message string      `json:"message"`

	// EventType stays off the wire; the HTTP layer labels metrics with it.
	EventType string `json:"-"`
}

// Processor runs the delivery pipeline: verify, dedup, record, dispatch,
// resolve. Verification happens strictly before dedup so unauthenticated
// traffic never reaches the event log.
type Processor struct {
	merchants *merchant.Registry
	log       EventLog
	checkouts CheckoutUpdater
	orders    OrderUpdater
	bus       events.Publisher
	now       func() time.Time
}

func NewProcessor(merchants *merchant.Registry, log EventLog, checkouts CheckoutUpdater, orders OrderUpdater, bus events.Publisher) *Processor {
	if bus == nil {
		bus = events.Nop{}
	}
	return &Processor{
		merchants: merchants,
		log:       log,
		checkouts: checkouts,
		orders:    orders,
		bus:       bus,
		now:       time.Now,
	}
}

// Handle processes one raw delivery. body must be the exact bytes that
// were signed. The returned error covers rejections that never enter the
// log (bad payload, merchant mismatch, bad signature); everything past
// the claim is reported through the Result instead.
func (p *Processor) Handle(ctx context.Context, body []byte, signature, headerMerchantID, correlationID string) (Result, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Result{}, apperr.New(apperr.CodeValidation, "invalid webhook payload: %v", err)
	}
	if env.EventID == "" || env.EventType == "" || env.MerchantID == "" {
		return Result{}, apperr.New(apperr.CodeValidation, "event_id, event_type and merchant_id are required")
	}
	if headerMerchantID != "" && headerMerchantID != env.MerchantID {
		return Result{}, apperr.New(apperr.CodeMerchantIDMismatch,
			"X-Merchant-Id header does not match payload merchant_id")
	}

	// One uniform rejection for every verification failure: unknown
	// merchant, missing header, wrong digest. No oracle for senders.
	cfg, ok := p.merchants.Get(env.MerchantID)
	if !ok || !Verify(cfg.WebhookSecret, body, signature) {
		return Result{}, apperr.New(apperr.CodeInvalidSignature, "webhook signature verification failed")
	}

	if !KnownType(env.EventType) {
		return Result{
			Success:   true,
			EventID:   env.EventID,
			Status:    StatusIgnored,
			Message:   "Unknown event type: " + env.EventType,
			EventType: env.EventType,
		}, nil
	}

	rec := &EventRecord{
		EventID:       env.EventID,
		MerchantID:    env.MerchantID,
		EventType:     env.EventType,
		Status:        StatusProcessing,
		PayloadHash:   env.PayloadHash(),
		Payload:       env.Data,
		CorrelationID: correlationID,
		ReceivedAt:    p.now().UTC(),
	}
	claimed, err := p.log.Claim(ctx, rec)
	if err != nil {
		return Result{}, err
	}
	if !claimed {
		return p.finish(ctx, env, Result{
			Success:   true,
			EventID:   env.EventID,
			Status:    StatusDuplicate,
			Message:   "Event already processed",
			EventType: env.EventType,
		}), nil
	}

	if herr := p.dispatch(ctx, env); herr != nil {
		if rerr := p.log.Resolve(ctx, env.MerchantID, env.EventID, StatusFailed, herr.Error()); rerr != nil {
			return Result{}, rerr
		}
		return p.finish(ctx, env, Result{
			Success:   false,
			EventID:   env.EventID,
			Status:    StatusFailed,
			Message:   herr.Error(),
			EventType: env.EventType,
		}), nil
	}

	if err := p.log.Resolve(ctx, env.MerchantID, env.EventID, StatusProcessed, ""); err != nil {
		return Result{}, err
	}
	return p.finish(ctx, env, Result{
		Success:   true,
		EventID:   env.EventID,
		Status:    StatusProcessed,
		Message:   "Event processed successfully",
		EventType: env.EventType,
	}), nil
}

// GetEvent exposes the log for the inspection endpoint.
func (p *Processor) GetEvent(ctx context.Context, merchantID, eventID string) (*EventRecord, error) {
	return p.log.Get(ctx, merchantID, eventID)
}

func (p *Processor) finish(ctx context.Context, env Envelope, res Result) Result {
	p.bus.Emit(ctx, events.TopicWebhookReceived, events.EventWebhookReceived, env.EventID, events.WebhookReceivedPayload{
		MerchantID: env.MerchantID,
		EventID:    env.EventID,
		EventType:  env.EventType,
		Status:     string(res.Status),
	})
	return res
}

func (p *Processor) dispatch(ctx context.Context, env Envelope) error {
	switch env.EventType {
	case TypeCheckoutConfirmed:
		var d CheckoutConfirmedData
		if err := env.decodeData(&d); err != nil {
			return err
		}
		if d.CheckoutID == "" {
			return fmt.Errorf("%s event without checkout_id", env.EventType)
		}
		return p.checkouts.ApplyConfirmed(ctx, d.CheckoutID, d.MerchantOrderID)

	case TypeCheckoutFailed:
		var d CheckoutFailedData
		if err := env.decodeData(&d); err != nil {
			return err
		}
		if d.CheckoutID == "" {
			return fmt.Errorf("%s event without checkout_id", env.EventType)
		}
		reason := d.Reason
		if reason == "" {
			reason = d.ErrorCode
		}
		return p.checkouts.ApplyFailed(ctx, d.CheckoutID, reason)

	case TypeCheckoutExpired:
		var d CheckoutExpiredData
		if err := env.decodeData(&d); err != nil {
			return err
		}
		if d.CheckoutID == "" {
			return fmt.Errorf("%s event without checkout_id", env.EventType)
		}
		return p.checkouts.ApplyExpired(ctx, d.CheckoutID)

	case TypeOrderCreated:
		var d OrderCreatedData
		if err := env.decodeData(&d); err != nil {
			return err
		}
		if d.CheckoutID == "" {
			return fmt.Errorf("%s event without checkout_id", env.EventType)
		}
		// The merchant opening an order implies the checkout confirmed,
		// whether or not that delivery arrived. ApplyConfirmed is
		// idempotent and creates the local order if it is missing.
		if err := p.checkouts.ApplyConfirmed(ctx, d.CheckoutID, d.MerchantOrderID); err != nil {
			return err
		}
		return p.orders.ConfirmByCheckout(ctx, d.CheckoutID, d.MerchantOrderID)

	case TypeOrderShipped:
		var d OrderShippedData
		if err := env.decodeData(&d); err != nil {
			return err
		}
		if d.MerchantOrderID == "" {
			return fmt.Errorf("%s event without merchant_order_id", env.EventType)
		}
		return p.orders.ShipByMerchantOrder(ctx, env.MerchantID, d.MerchantOrderID, d.TrackingNumber, d.Carrier)

	case TypeOrderDelivered:
		var d OrderDeliveredData
		if err := env.decodeData(&d); err != nil {
			return err
		}
		if d.MerchantOrderID == "" {
			return fmt.Errorf("%s event without merchant_order_id", env.EventType)
		}
		return p.orders.DeliverByMerchantOrder(ctx, env.MerchantID, d.MerchantOrderID)

	case TypePriceChanged:
		var d PriceChangedData
		if err := env.decodeData(&d); err != nil {
			return err
		}
		if d.CheckoutID == "" || d.ProductID == "" {
			return fmt.Errorf("%s event without checkout_id or product_id", env.EventType)
		}
		return p.checkouts.ApplyPriceChanged(ctx, d.CheckoutID, d.ProductID, d.NewPrice)

	case TypeCheckoutCreated, TypeCheckoutQuoted, TypeStockChanged:
		// Informational; recorded in the log, no state to move.
		return nil
	}
	return nil
}
