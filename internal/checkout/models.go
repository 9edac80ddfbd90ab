package checkout

import (
	"fmt"
	"time"

	"github.com/ariefcatur/go-agent-checkout.git/internal/apperr"
)

// CheckoutTTL bounds how long a checkout may sit before any further
// operation lazily expires it.
const CheckoutTTL = 24 * time.Hour

type Item struct {
	ProductID      string `json:"product_id"`
	VariantID      string `json:"variant_id,omitempty"`
	SKU            string `json:"sku,omitempty"`
	Title          string `json:"title,omitempty"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents,omitempty"`
}

// AuditEntry records one step of the checkout's life. The trail is append
// only; every transition writes exactly one entry.
type AuditEntry struct {
	At     time.Time `json:"timestamp"`
	Action string    `json:"action"`
	From   Status    `json:"from_status,omitempty"`
	To     Status    `json:"to_status,omitempty"`
	Actor  string    `json:"actor,omitempty"`
	Detail string    `json:"details,omitempty"`
}

// Checkout is one purchase attempt against one merchant. All mutation goes
// through the methods below; each validates against Transitions and appends
// to the audit trail.
type Checkout struct {
	ID                 string
	OfferID            string
	MerchantID         string
	Status             Status
	Items              []Item
	CustomerEmail      string
	Currency           string
	SubtotalCents      int64
	TaxCents           int64
	ShippingCents      int64
	TotalCents         int64
	Receipt            *Receipt
	MerchantCheckoutID string
	MerchantOrderID    string
	ApprovedBy         string
	ApprovedAt         *time.Time
	ConfirmedAt        *time.Time
	FailureReason      string
	IdempotencyKey     string
	ExpiresAt          time.Time
	Audit              []AuditEntry
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// New builds a checkout in the created state with the 24h deadline started.
func New(merchantID, offerID string, items []Item, idempotencyKey string, now time.Time) (*Checkout, error) {
	if len(items) == 0 {
		return nil, apperr.New(apperr.CodeValidation, "checkout requires at least one item")
	}
	for i, it := range items {
		if it.ProductID == "" {
			return nil, apperr.New(apperr.CodeValidation, "item %d has no product_id", i)
		}
		if it.Quantity < 1 {
			return nil, apperr.New(apperr.CodeValidation, "item %d has quantity %d, need >= 1", i, it.Quantity)
		}
	}
	c := &Checkout{
		OfferID:        offerID,
		MerchantID:     merchantID,
		Status:         StatusCreated,
		Items:          append([]Item(nil), items...),
		IdempotencyKey: idempotencyKey,
		ExpiresAt:      now.Add(CheckoutTTL),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	c.Audit = append(c.Audit, AuditEntry{
		At: now, Action: "created", To: StatusCreated, Actor: "api",
	})
	return c, nil
}

// DeadlinePassed reports whether the checkout's own 24h deadline is behind
// now. The receipt has its own, shorter expiry.
func (c *Checkout) DeadlinePassed(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

func (c *Checkout) transitionTo(to Status, action, actor, detail string, now time.Time) error {
	if err := Transitions.Check("checkout", c.ID, c.Status, to); err != nil {
		return err
	}
	c.Audit = append(c.Audit, AuditEntry{
		At: now, Action: action, From: c.Status, To: to, Actor: actor, Detail: detail,
	})
	c.Status = to
	c.UpdatedAt = now
	return nil
}

// ApplyQuote records merchant pricing and moves created -> quoted.
func (c *Checkout) ApplyQuote(items []Item, subtotal, tax, shipping, total int64, currency, merchantCheckoutID string, now time.Time) error {
	if err := c.transitionTo(StatusQuoted, "quoted", "merchant",
		fmt.Sprintf("total %d %s", total, currency), now); err != nil {
		return err
	}
	c.setPricing(items, subtotal, tax, shipping, total, currency)
	c.MerchantCheckoutID = merchantCheckoutID
	return nil
}

// FreezeForApproval snapshots current pricing into a fresh receipt and
// moves to awaiting_approval. Calling it again before approval replaces
// the previous snapshot.
func (c *Checkout) FreezeForApproval(now time.Time) error {
	if c.Currency == "" || c.TotalCents == 0 {
		return apperr.New(apperr.CodeQuoteRequired, "checkout %s has no quote to freeze", c.ID)
	}
	if err := c.transitionTo(StatusAwaitingApproval, "approval_requested", "api", "", now); err != nil {
		return err
	}
	c.Receipt = freezeReceipt(c.Items, c.SubtotalCents, c.TaxCents, c.ShippingCents, c.TotalCents, c.Currency, now)
	return nil
}

// Approve records the approver. Fails if the frozen receipt has expired;
// in that case the state is left untouched so a fresh request-approval can
// re-freeze.
func (c *Checkout) Approve(approvedBy string, now time.Time) error {
	if c.Receipt == nil {
		return apperr.New(apperr.CodeQuoteRequired, "checkout %s has no frozen receipt", c.ID)
	}
	if c.Receipt.Expired(now) {
		return apperr.New(apperr.CodeCheckoutExpired,
			"frozen receipt for checkout %s expired at %s", c.ID, c.Receipt.ExpiresAt.Format(time.RFC3339))
	}
	if err := c.transitionTo(StatusApproved, "approved", approvedBy, "", now); err != nil {
		return err
	}
	c.ApprovedBy = approvedBy
	t := now
	c.ApprovedAt = &t
	return nil
}

// MarkConfirmed completes the purchase with the merchant's order id.
// Callers wanting confirm-is-idempotent semantics check the status first;
// calling this twice is a programming error and says so.
func (c *Checkout) MarkConfirmed(merchantOrderID string, now time.Time) error {
	if c.Status == StatusConfirmed {
		return apperr.New(apperr.CodeAlreadyConfirmed,
			"checkout %s already confirmed (merchant order %s)", c.ID, c.MerchantOrderID)
	}
	if err := c.transitionTo(StatusConfirmed, "confirmed", "merchant",
		"merchant_order_id="+merchantOrderID, now); err != nil {
		return err
	}
	c.MerchantOrderID = merchantOrderID
	t := now
	c.ConfirmedAt = &t
	return nil
}

// RequireReapproval replaces the stored pricing with the merchant's fresh
// quote, drops the frozen receipt and parks the checkout until a new
// request-approval.
func (c *Checkout) RequireReapproval(items []Item, subtotal, tax, shipping, total int64, currency, detail string, now time.Time) error {
	if err := c.transitionTo(StatusReapprovalRequired, "reapproval_required", "merchant", detail, now); err != nil {
		return err
	}
	c.setPricing(items, subtotal, tax, shipping, total, currency)
	c.Receipt = nil
	return nil
}

func (c *Checkout) MarkFailed(reason string, now time.Time) error {
	if err := c.transitionTo(StatusFailed, "failed", "merchant", reason, now); err != nil {
		return err
	}
	c.FailureReason = reason
	return nil
}

func (c *Checkout) Cancel(actor, reason string, now time.Time) error {
	return c.transitionTo(StatusCancelled, "cancelled", actor, reason, now)
}

func (c *Checkout) MarkExpired(now time.Time) error {
	return c.transitionTo(StatusExpired, "expired", "system", "deadline passed", now)
}

func (c *Checkout) setPricing(items []Item, subtotal, tax, shipping, total int64, currency string) {
	c.Items = append([]Item(nil), items...)
	c.SubtotalCents = subtotal
	c.TaxCents = tax
	c.ShippingCents = shipping
	c.TotalCents = total
	c.Currency = currency
}

// Clone deep-copies the checkout so repository callers never share slices
// or the receipt with stored state.
func (c *Checkout) Clone() *Checkout {
	cp := *c
	cp.Items = append([]Item(nil), c.Items...)
	cp.Audit = append([]AuditEntry(nil), c.Audit...)
	cp.Receipt = c.Receipt.clone()
	if c.ApprovedAt != nil {
		t := *c.ApprovedAt
		cp.ApprovedAt = &t
	}
	if c.ConfirmedAt != nil {
		t := *c.ConfirmedAt
		cp.ConfirmedAt = &t
	}
	return &cp
}
