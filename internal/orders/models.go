package orders

import (
	"time"

	"github.com/ariefcatur/go-agent-checkout.git/internal/apperr"
)

type Item struct {
	ProductID      string `json:"product_id"`
	VariantID      string `json:"variant_id,omitempty"`
	SKU            string `json:"sku,omitempty"`
	Title          string `json:"title,omitempty"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
}

func (it Item) LineTotalCents() int64 { return it.UnitPriceCents * int64(it.Quantity) }

type Customer struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
	Phone string `json:"phone,omitempty"`
}

type Address struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// HistoryEntry: append-only; setiap transisi menulis tepat satu entry.
type HistoryEntry struct {
	From      Status    `json:"from_status,omitempty"`
	To        Status    `json:"to_status"`
	Reason    string    `json:"reason,omitempty"`
	Actor     string    `json:"actor,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Order is the fulfillment record spawned by a confirmed checkout. Mutation
// goes through the methods below; each validates against Transitions and
// appends to History.
type Order struct {
	ID              string
	CheckoutID      string
	MerchantID      string
	MerchantOrderID string
	Status          Status
	Customer        Customer
	ShippingAddress *Address
	BillingAddress  *Address
	Items           []Item
	SubtotalCents   int64
	TaxCents        int64
	ShippingCents   int64
	TotalCents      int64
	Currency        string
	TrackingNumber  string
	Carrier         string
	CancelReason    string
	CancelledBy     string
	RefundCents     int64
	RefundReason    string
	History         []HistoryEntry
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ConfirmedAt     *time.Time
	ShippedAt       *time.Time
	DeliveredAt     *time.Time
	CancelledAt     *time.Time
	RefundedAt      *time.Time
}

// CheckoutSnapshot is what a confirmed checkout hands over. Plain struct,
// supaya package ini tidak perlu import checkout.
type CheckoutSnapshot struct {
	CheckoutID      string
	MerchantID      string
	MerchantOrderID string
	CustomerEmail   string
	Items           []Item
	SubtotalCents   int64
	TaxCents        int64
	ShippingCents   int64
	TotalCents      int64
	Currency        string
}

// NewFromSnapshot builds a pending order. The ID is assigned by the service.
func NewFromSnapshot(snap CheckoutSnapshot, now time.Time) *Order {
	o := &Order{
		CheckoutID:      snap.CheckoutID,
		MerchantID:      snap.MerchantID,
		MerchantOrderID: snap.MerchantOrderID,
		Status:          StatusPending,
		Customer:        Customer{Email: snap.CustomerEmail},
		Items:           append([]Item(nil), snap.Items...),
		SubtotalCents:   snap.SubtotalCents,
		TaxCents:        snap.TaxCents,
		ShippingCents:   snap.ShippingCents,
		TotalCents:      snap.TotalCents,
		Currency:        snap.Currency,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	o.History = append(o.History, HistoryEntry{
		To: StatusPending, Reason: "order created from checkout", Actor: "system", CreatedAt: now,
	})
	return o
}

func (o *Order) transitionTo(to Status, reason, actor string, now time.Time) *apperr.Error {
	if err := Transitions.Check("order", o.ID, o.Status, to); err != nil {
		return err
	}
	o.History = append(o.History, HistoryEntry{
		From: o.Status, To: to, Reason: reason, Actor: actor, CreatedAt: now,
	})
	o.Status = to
	o.UpdatedAt = now
	return nil
}

// advance moves one step along Progression and stamps the matching timestamp.
func (o *Order) advance(reason, actor string, now time.Time) error {
	next := Progression[o.Status.Rank()+1]
	if err := o.transitionTo(next, reason, actor, now); err != nil {
		return err
	}
	switch next {
	case StatusConfirmed:
		o.ConfirmedAt = &now
	case StatusShipped:
		o.ShippedAt = &now
	case StatusDelivered:
		o.DeliveredAt = &now
	}
	return nil
}

// MarkConfirmed: pending -> confirmed. Event yang datang telat (order sudah
// lebih jauh) = no-op, bukan error.
func (o *Order) MarkConfirmed(merchantOrderID, actor string, now time.Time) error {
	if o.MerchantOrderID == "" && merchantOrderID != "" {
		o.MerchantOrderID = merchantOrderID
	}
	if o.Status.Rank() != StatusPending.Rank() {
		return nil
	}
	return o.advance("confirmed by merchant", actor, now)
}

// MarkShipped hops through confirmed if the shipped event arrives first.
// Tracking info is recorded even when the event arrives after delivery.
func (o *Order) MarkShipped(trackingNumber, carrier, actor string, now time.Time) error {
	if trackingNumber != "" && o.TrackingNumber == "" {
		o.TrackingNumber = trackingNumber
		o.Carrier = carrier
	}
	rank := o.Status.Rank()
	if rank < 0 || rank >= StatusShipped.Rank() {
		return nil
	}
	for o.Status.Rank() < StatusShipped.Rank() {
		if err := o.advance("shipped", actor, now); err != nil {
			return err
		}
	}
	return nil
}

// MarkDelivered hops through confirmed/shipped as needed (forward-only).
func (o *Order) MarkDelivered(actor string, now time.Time) error {
	rank := o.Status.Rank()
	if rank < 0 || rank >= StatusDelivered.Rank() {
		return nil
	}
	for o.Status.Rank() < StatusDelivered.Rank() {
		if err := o.advance("delivered", actor, now); err != nil {
			return err
		}
	}
	return nil
}

func (o *Order) Cancel(reason, cancelledBy string, now time.Time) error {
	if err := o.transitionTo(StatusCancelled, reason, cancelledBy, now); err != nil {
		return err
	}
	o.CancelReason = reason
	o.CancelledBy = cancelledBy
	o.CancelledAt = &now
	return nil
}

// Refund: hanya dari delivered; amount 1..total (caller resolve default full).
func (o *Order) Refund(amountCents int64, reason, actor string, now time.Time) error {
	if amountCents < 1 {
		return apperr.New(apperr.CodeRefundFailed, "refund amount must be at least 1 cent")
	}
	if amountCents > o.TotalCents {
		return apperr.New(apperr.CodeRefundFailed, "refund %d exceeds order total %d", amountCents, o.TotalCents)
	}
	if err := o.transitionTo(StatusRefunded, reason, actor, now); err != nil {
		return err
	}
	o.RefundCents = amountCents
	o.RefundReason = reason
	o.RefundedAt = &now
	return nil
}

func (o *Order) Clone() *Order {
	cp := *o
	cp.Items = append([]Item(nil), o.Items...)
	cp.History = append([]HistoryEntry(nil), o.History...)
	if o.ShippingAddress != nil {
		a := *o.ShippingAddress
		cp.ShippingAddress = &a
	}
	if o.BillingAddress != nil {
		a := *o.BillingAddress
		cp.BillingAddress = &a
	}
	clonetime := func(t *time.Time) *time.Time {
		if t == nil {
			return nil
		}
		v := *t
		return &v
	}
	cp.ConfirmedAt = clonetime(o.ConfirmedAt)
	cp.ShippedAt = clonetime(o.ShippedAt)
	cp.DeliveredAt = clonetime(o.DeliveredAt)
	cp.CancelledAt = clonetime(o.CancelledAt)
	cp.RefundedAt = clonetime(o.RefundedAt)
	return &cp
}
