package checkout

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/ariefcatur/go-agent-checkout.git/internal/apperr"
	"github.com/ariefcatur/go-agent-checkout.git/internal/events"
	"github.com/ariefcatur/go-agent-checkout.git/internal/merchant"
	"github.com/ariefcatur/go-agent-checkout.git/internal/money"
	"github.com/ariefcatur/go-agent-checkout.git/internal/orders"
)

// OrderCreator turns a confirmed checkout into an order. Satisfied by the
// orders service; creation must be idempotent per checkout id.
type OrderCreator interface {
	CreateFromCheckout(ctx context.Context, snap orders.CheckoutSnapshot) (*orders.Order, error)
}

// Service drives the create -> quote -> approve -> confirm protocol. All
// merchant I/O for one checkout runs inside the repo's per-checkout
// Transition lock, so concurrent calls on the same checkout serialize and
// the purchase executes at most once.
type Service struct {
	repo      Repo
	merchants *merchant.Registry
	orders    OrderCreator
	bus       events.Publisher
	now       func() time.Time
}

func NewService(repo Repo, merchants *merchant.Registry, orders OrderCreator, bus events.Publisher) *Service {
	if bus == nil {
		bus = events.Nop{}
	}
	return &Service{repo: repo, merchants: merchants, orders: orders, bus: bus, now: time.Now}
}

type CreateInput struct {
	MerchantID     string
	OfferID        string
	CustomerEmail  string
	Items          []Item
	IdempotencyKey string
}

// Create opens a checkout against a configured merchant. Duplicate
// submissions are absorbed by the idempotency layer in front of the
// handler, not here.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Checkout, error) {
	if in.MerchantID == "" {
		return nil, apperr.New(apperr.CodeValidation, "merchant_id is required")
	}
	if _, ok := s.merchants.Get(in.MerchantID); !ok {
		return nil, apperr.NotFound(apperr.CodeMerchantNotFound, "merchant", in.MerchantID)
	}
	c, err := New(in.MerchantID, in.OfferID, in.Items, in.IdempotencyKey, s.now())
	if err != nil {
		return nil, err
	}
	c.ID = uuid.NewString()
	c.CustomerEmail = in.CustomerEmail
	if err := s.repo.Create(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Checkout, error) {
	return s.repo.Get(ctx, id)
}

// Quote fetches current pricing from the merchant and records it. Only a
// freshly created checkout may quote; a merchant failure here marks the
// checkout failed and is reported, never retried internally.
func (s *Service) Quote(ctx context.Context, id string, items []Item, customerEmail string) (*Checkout, error) {
	var outErr error
	updated, err := s.repo.Transition(ctx, id, func(c *Checkout) error {
		now := s.now()
		if lerr := expireDue(c, now); lerr != nil {
			outErr = lerr
			return nil
		}
		if c.Status == StatusExpired {
			return expiredErr(c)
		}
		if aerr := Transitions.Check("checkout", c.ID, c.Status, StatusQuoted); aerr != nil {
			return aerr
		}
		if customerEmail != "" {
			c.CustomerEmail = customerEmail
		}
		if len(items) > 0 {
			c.Items = append([]Item(nil), items...)
		}

		client, cerr := s.merchants.Client(c.MerchantID)
		if cerr != nil {
			return cerr
		}
		q, qerr := client.Quote(ctx, quoteRequest(c))
		if qerr != nil {
			merr := asMerchantErr(qerr)
			if ferr := c.MarkFailed(merr.Message, now); ferr != nil {
				return ferr
			}
			outErr = merr
			return nil
		}
		return c.ApplyQuote(itemsFromQuote(q), q.Subtotal.Cents, q.Tax.Cents, q.Shipping.Cents,
			q.Total.Cents, q.Total.Currency, q.CheckoutID, now)
	})
	if err != nil {
		return nil, err
	}
	if outErr != nil {
		s.emitIfFailed(ctx, updated, outErr)
		return nil, outErr
	}
	return updated, nil
}

// RequestApproval freezes the current quote into a receipt and parks the
// checkout for a human or agent decision. Calling it again before approval
// replaces the snapshot at the currently stored pricing.
func (s *Service) RequestApproval(ctx context.Context, id string) (*Checkout, error) {
	var outErr error
	updated, err := s.repo.Transition(ctx, id, func(c *Checkout) error {
		now := s.now()
		if lerr := expireDue(c, now); lerr != nil {
			outErr = lerr
			return nil
		}
		if c.Status == StatusExpired {
			return expiredErr(c)
		}
		return c.FreezeForApproval(now)
	})
	if err != nil {
		return nil, err
	}
	if outErr != nil {
		return nil, outErr
	}
	return updated, nil
}

// Approve records the approval decision against the frozen receipt. An
// expired receipt rejects without touching state, so the caller can run
// request-approval again.
func (s *Service) Approve(ctx context.Context, id, approvedBy string) (*Checkout, error) {
	if approvedBy == "" {
		return nil, apperr.New(apperr.CodeValidation, "approved_by is required")
	}
	var outErr error
	updated, err := s.repo.Transition(ctx, id, func(c *Checkout) error {
		now := s.now()
		if lerr := expireDue(c, now); lerr != nil {
			outErr = lerr
			return nil
		}
		if c.Status == StatusExpired {
			return expiredErr(c)
		}
		return c.Approve(approvedBy, now)
	})
	if err != nil {
		return nil, err
	}
	if outErr != nil {
		return nil, outErr
	}
	return updated, nil
}

// Confirm executes the purchase. Current merchant pricing is re-fetched
// first: any hash drift against the frozen receipt parks the checkout in
// reapproval_required without charging anything. A merchant failure on the
// confirm call itself marks the checkout failed.
func (s *Service) Confirm(ctx context.Context, id, paymentMethod, idempotencyKey string) (*Checkout, error) {
	if paymentMethod == "" {
		paymentMethod = "test_card"
	}
	var (
		outErr error
		fresh  bool
	)
	updated, err := s.repo.Transition(ctx, id, func(c *Checkout) error {
		now := s.now()
		if c.Status == StatusConfirmed {
			// Repeat confirm settles again below without touching the merchant.
			return nil
		}
		if lerr := expireDue(c, now); lerr != nil {
			outErr = lerr
			return nil
		}
		if c.Status == StatusExpired {
			return expiredErr(c)
		}
		if c.Status == StatusReapprovalRequired {
			return apperr.New(apperr.CodeReapprovalRequired, "price has changed, re-approval required")
		}
		if c.Status != StatusApproved {
			return apperr.New(apperr.CodeNotApproved,
				"checkout must be approved before confirmation (current: %s)", c.Status)
		}
		if c.MerchantCheckoutID == "" {
			return apperr.New(apperr.CodeQuoteRequired, "no merchant checkout id, quote required first")
		}
		if c.Receipt == nil {
			return apperr.New(apperr.CodeQuoteRequired, "checkout %s has no frozen receipt", c.ID)
		}

		client, cerr := s.merchants.Client(c.MerchantID)
		if cerr != nil {
			return cerr
		}

		// Price integrity gate: the hash over the merchant's current
		// pricing must equal the frozen receipt's hash.
		q, qerr := client.Quote(ctx, quoteRequest(c))
		if qerr != nil {
			// Nothing charged; the checkout stays approved for a retry.
			return asMerchantErr(qerr)
		}
		if HashQuote(itemsFromQuote(q), q.Total.Cents, q.Total.Currency) != c.Receipt.Hash {
			re, perr := parkForReapproval(c, q, "price changed since approval was requested", now)
			if perr != nil {
				return perr
			}
			outErr = re
			return nil
		}

		conf, cferr := client.Confirm(ctx, c.MerchantCheckoutID, paymentMethod, idempotencyKey)
		if cferr != nil {
			if me, ok := merchant.AsError(cferr); ok && me.StatusCode == http.StatusConflict && me.ErrorCode == "PRICE_CHANGED" {
				// Price moved between our quote check and the confirm
				// call. Fetch the latest pricing so re-approval shows it.
				latest := q
				if re2, qerr2 := client.Quote(ctx, quoteRequest(c)); qerr2 == nil {
					latest = re2
				}
				re, perr := parkForReapproval(c, latest, "merchant rejected confirm: price changed", now)
				if perr != nil {
					return perr
				}
				outErr = re
				return nil
			}
			merr := asMerchantErr(cferr)
			if ferr := c.MarkFailed(merr.Message, now); ferr != nil {
				return ferr
			}
			outErr = merr
			return nil
		}

		if merr := c.MarkConfirmed(conf.MerchantOrderID, now); merr != nil {
			return merr
		}
		fresh = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if outErr != nil {
		s.emitIfFailed(ctx, updated, outErr)
		return nil, outErr
	}
	ord, oerr := s.ensureOrder(ctx, updated)
	if oerr != nil {
		return nil, oerr
	}
	if fresh {
		payload := events.CheckoutConfirmedPayload{
			CheckoutID:      updated.ID,
			MerchantID:      updated.MerchantID,
			MerchantOrderID: updated.MerchantOrderID,
			TotalCents:      updated.TotalCents,
			Currency:        updated.Currency,
		}
		if ord != nil {
			payload.OrderID = ord.ID
		}
		s.bus.Emit(ctx, events.TopicCheckoutConfirmed, events.EventCheckoutConfirmed, updated.ID, payload)
	}
	return updated, nil
}

// Cancel aborts a checkout that has not confirmed yet.
func (s *Service) Cancel(ctx context.Context, id, actor, reason string) (*Checkout, error) {
	if actor == "" {
		actor = "api"
	}
	return s.repo.Transition(ctx, id, func(c *Checkout) error {
		return c.Cancel(actor, reason, s.now())
	})
}

// ApplyConfirmed reconciles a merchant-side confirmation delivered over a
// webhook, which may arrive before or after our own confirm call returns.
// The order is created here too when it does not exist yet.
func (s *Service) ApplyConfirmed(ctx context.Context, checkoutID, merchantOrderID string) error {
	var fresh bool
	updated, err := s.repo.Transition(ctx, checkoutID, func(c *Checkout) error {
		if c.Status == StatusConfirmed {
			return nil
		}
		if merr := c.MarkConfirmed(merchantOrderID, s.now()); merr != nil {
			return merr
		}
		fresh = true
		return nil
	})
	if err != nil {
		return err
	}
	ord, oerr := s.ensureOrder(ctx, updated)
	if oerr != nil {
		return oerr
	}
	if fresh {
		payload := events.CheckoutConfirmedPayload{
			CheckoutID:      updated.ID,
			MerchantID:      updated.MerchantID,
			MerchantOrderID: updated.MerchantOrderID,
			TotalCents:      updated.TotalCents,
			Currency:        updated.Currency,
		}
		if ord != nil {
			payload.OrderID = ord.ID
		}
		s.bus.Emit(ctx, events.TopicCheckoutConfirmed, events.EventCheckoutConfirmed, updated.ID, payload)
	}
	return nil
}

// ApplyFailed records a merchant-side failure delivered over a webhook.
// A failure notice arriving after the checkout already settled (confirmed,
// cancelled, expired) is accepted without touching state.
func (s *Service) ApplyFailed(ctx context.Context, checkoutID, reason string) error {
	var fresh bool
	updated, err := s.repo.Transition(ctx, checkoutID, func(c *Checkout) error {
		if c.Status.Terminal() {
			return nil
		}
		if merr := c.MarkFailed(reason, s.now()); merr != nil {
			return merr
		}
		fresh = true
		return nil
	})
	if err != nil {
		return err
	}
	if fresh {
		s.emitFailed(ctx, updated, "")
	}
	return nil
}

// ApplyExpired records a merchant-side expiry delivered over a webhook.
// Late expiries against a settled checkout are accepted without effect.
func (s *Service) ApplyExpired(ctx context.Context, checkoutID string) error {
	_, err := s.repo.Transition(ctx, checkoutID, func(c *Checkout) error {
		if c.Status.Terminal() {
			return nil
		}
		return c.MarkExpired(s.now())
	})
	return err
}

// ApplyPriceChanged reacts to a merchant price-change webhook. A checkout
// holding a frozen receipt or an approval is parked in reapproval_required
// at the adjusted price; earlier states are left alone because the confirm
// gate re-checks pricing anyway.
func (s *Service) ApplyPriceChanged(ctx context.Context, checkoutID, productID string, newPriceCents int64) error {
	_, err := s.repo.Transition(ctx, checkoutID, func(c *Checkout) error {
		if c.Status != StatusAwaitingApproval && c.Status != StatusApproved {
			return nil
		}
		items := append([]Item(nil), c.Items...)
		var subtotal int64
		for i := range items {
			if items[i].ProductID == productID {
				items[i].UnitPriceCents = newPriceCents
			}
			subtotal += items[i].UnitPriceCents * int64(items[i].Quantity)
		}
		total := subtotal + c.TaxCents + c.ShippingCents
		return c.RequireReapproval(items, subtotal, c.TaxCents, c.ShippingCents, total, c.Currency,
			"merchant price changed for "+productID, s.now())
	})
	return err
}

// expireDue lazily moves a live checkout past its 24h deadline into
// expired. A non-nil return means the transition happened, should be
// persisted, and the error surfaced to the caller.
func expireDue(c *Checkout, now time.Time) error {
	if c.Status.Terminal() || !c.DeadlinePassed(now) {
		return nil
	}
	if err := c.MarkExpired(now); err != nil {
		return err
	}
	return expiredErr(c)
}

func expiredErr(c *Checkout) *apperr.Error {
	return apperr.New(apperr.CodeCheckoutExpired, "checkout %s expired at %s",
		c.ID, c.ExpiresAt.UTC().Format(time.RFC3339))
}

// parkForReapproval replaces the checkout's pricing with the given quote
// and parks it for a fresh approval round. The returned error carries both
// totals for the caller's response.
func parkForReapproval(c *Checkout, q *merchant.Quote, detail string, now time.Time) (*ReapprovalRequiredError, error) {
	original := money.Money{Cents: c.Receipt.TotalCents, Currency: c.Receipt.Currency}
	if err := c.RequireReapproval(itemsFromQuote(q), q.Subtotal.Cents, q.Tax.Cents,
		q.Shipping.Cents, q.Total.Cents, q.Total.Currency, detail, now); err != nil {
		return nil, err
	}
	return &ReapprovalRequiredError{CheckoutID: c.ID, OriginalTotal: original, NewTotal: q.Total}, nil
}

func (s *Service) ensureOrder(ctx context.Context, c *Checkout) (*orders.Order, error) {
	if s.orders == nil || c == nil || c.Status != StatusConfirmed {
		return nil, nil
	}
	items := make([]orders.Item, 0, len(c.Items))
	for _, it := range c.Items {
		items = append(items, orders.Item{
			ProductID:      it.ProductID,
			VariantID:      it.VariantID,
			SKU:            it.SKU,
			Title:          it.Title,
			Quantity:       it.Quantity,
			UnitPriceCents: it.UnitPriceCents,
		})
	}
	return s.orders.CreateFromCheckout(ctx, orders.CheckoutSnapshot{
		CheckoutID:      c.ID,
		MerchantID:      c.MerchantID,
		MerchantOrderID: c.MerchantOrderID,
		CustomerEmail:   c.CustomerEmail,
		Items:           items,
		SubtotalCents:   c.SubtotalCents,
		TaxCents:        c.TaxCents,
		ShippingCents:   c.ShippingCents,
		TotalCents:      c.TotalCents,
		Currency:        c.Currency,
	})
}

func (s *Service) emitIfFailed(ctx context.Context, c *Checkout, cause error) {
	if c == nil || c.Status != StatusFailed {
		return
	}
	s.emitFailed(ctx, c, apperr.CodeOf(cause))
}

func (s *Service) emitFailed(ctx context.Context, c *Checkout, code apperr.Code) {
	s.bus.Emit(ctx, events.TopicCheckoutFailed, events.EventCheckoutFailed, c.ID, events.CheckoutFailedPayload{
		CheckoutID: c.ID,
		MerchantID: c.MerchantID,
		Reason:     c.FailureReason,
		ErrorCode:  string(code),
	})
}

func quoteRequest(c *Checkout) merchant.QuoteRequest {
	items := make([]merchant.QuoteItem, 0, len(c.Items))
	for _, it := range c.Items {
		items = append(items, merchant.QuoteItem{
			ProductID: it.ProductID,
			VariantID: it.VariantID,
			Quantity:  it.Quantity,
		})
	}
	return merchant.QuoteRequest{Items: items, CustomerEmail: c.CustomerEmail}
}

func itemsFromQuote(q *merchant.Quote) []Item {
	items := make([]Item, 0, len(q.Items))
	for _, qi := range q.Items {
		items = append(items, Item{
			ProductID:      qi.ProductID,
			VariantID:      qi.VariantID,
			SKU:            qi.SKU,
			Title:          qi.Title,
			Quantity:       qi.Quantity,
			UnitPriceCents: qi.UnitPrice.Cents,
		})
	}
	return items
}

func asMerchantErr(err error) *apperr.Error {
	if me, ok := merchant.AsError(err); ok {
		if me.ErrorCode != "" {
			return apperr.New(apperr.CodeMerchantError, "%s: %s", me.ErrorCode, me.Message)
		}
		return apperr.New(apperr.CodeMerchantError, "%s", me.Message)
	}
	return apperr.New(apperr.CodeMerchantError, "%s", err.Error())
}
