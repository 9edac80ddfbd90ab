package checkout

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-agent-checkout.git/internal/apperr"
	"github.com/ariefcatur/go-agent-checkout.git/internal/events"
	"github.com/ariefcatur/go-agent-checkout.git/internal/merchant"
	"github.com/ariefcatur/go-agent-checkout.git/internal/money"
	"github.com/ariefcatur/go-agent-checkout.git/internal/orders"
)

// fakeMerchant serves the two endpoints the client calls, with adjustable
// pricing and scriptable failures.
type fakeMerchant struct {
	mu           sync.Mutex
	unitPrice    int64
	taxCents     int64
	shipCents    int64
	quoteFail    int    // non-zero: quote answers this HTTP status
	confirmCode  string // non-empty: confirm answers 409 with this error_code
	confirmFail  int    // non-zero: confirm answers this HTTP status
	quoteCalls   int
	confirmCalls int
}

func (m *fakeMerchant) setPrice(cents int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unitPrice = cents
}

func (m *fakeMerchant) calls() (quotes, confirms int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.quoteCalls, m.confirmCalls
}

func (m *fakeMerchant) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/checkout/quote", func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.quoteCalls++
		if m.quoteFail != 0 {
			w.WriteHeader(m.quoteFail)
			_, _ = w.Write([]byte(`{"detail":"quote down"}`))
			return
		}
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
				Quantity:  it.Quantity,
				UnitPrice: money.Money{Cents: m.unitPrice, Currency: "USD"},
				LineTotal: money.Money{Cents: line, Currency: "USD"},
			})
		}
		total := subtotal + m.taxCents + m.shipCents
		_ = json.NewEncoder(w).Encode(merchant.Quote{
			CheckoutID: "mc_1",
			Status:     "quoted",
			Items:      items,
			Subtotal:   money.Money{Cents: subtotal, Currency: "USD"},
			Tax:        money.Money{Cents: m.taxCents, Currency: "USD"},
			Shipping:   money.Money{Cents: m.shipCents, Currency: "USD"},
			Total:      money.Money{Cents: total, Currency: "USD"},
		})
	})
	mux.HandleFunc("/checkout/", func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.confirmCalls++
		if m.confirmCode != "" {
			w.WriteHeader(http.StatusConflict)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"error_code": m.confirmCode,
				"message":    "price changed upstream",
			})
			return
		}
		if m.confirmFail != 0 {
			w.WriteHeader(m.confirmFail)
			_, _ = w.Write([]byte(`{"detail":"boom"}`))
			return
		}
		id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/checkout/"), "/confirm")
		_ = json.NewEncoder(w).Encode(merchant.Confirmation{
			CheckoutID:      id,
			MerchantOrderID: "mo_100",
			Status:          "confirmed",
			ConfirmedAt:     time.Now().UTC().Format(time.RFC3339),
		})
	})
	return mux
}

type emittedEvent struct {
	Topic       string
	EventType   string
	Correlation string
	Payload     any
}

type captureBus struct {
	mu     sync.Mutex
	events []emittedEvent
}

func (b *captureBus) Emit(_ context.Context, topic, eventType, correlationID string, payload any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, emittedEvent{topic, eventType, correlationID, payload})
}

func (b *captureBus) all() []emittedEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]emittedEvent(nil), b.events...)
}

func (b *captureBus) topics() []string {
	out := make([]string, 0)
	for _, e := range b.all() {
		out = append(out, e.Topic)
	}
	return out
}

type fixture struct {
	svc     *Service
	ordRepo *orders.MemoryRepo
	bus     *captureBus
	fake    *fakeMerchant
	clock   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fake := &fakeMerchant{unitPrice: 4999, taxCents: 400, shipCents: 500}
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)

	reg := merchant.NewRegistry([]merchant.Config{
		{ID: "merchant-a", URL: srv.URL, WebhookSecret: "secret"},
	}, 2*time.Second)
	bus := &captureBus{}
	ordRepo := orders.NewMemoryRepo()
	f := &fixture{
		svc:     NewService(NewMemoryRepo(), reg, orders.NewService(ordRepo, bus), bus),
		ordRepo: ordRepo,
		bus:     bus,
		fake:    fake,
		clock:   testNow,
	}
	f.svc.now = func() time.Time { return f.clock }
	return f
}

func (f *fixture) create(t *testing.T) *Checkout {
	t.Helper()
	c, err := f.svc.Create(context.Background(), CreateInput{
		MerchantID:    "merchant-a",
		OfferID:       "offer_1",
		CustomerEmail: "shopper@example.com",
		Items:         []Item{{ProductID: "prod_1", Quantity: 1}},
	})
	require.NoError(t, err)
	return c
}

func (f *fixture) approved(t *testing.T) *Checkout {
	t.Helper()
	ctx := context.Background()
	c := f.create(t)
	_, err := f.svc.Quote(ctx, c.ID, nil, "")
	require.NoError(t, err)
	_, err = f.svc.RequestApproval(ctx, c.ID)
	require.NoError(t, err)
	c, err = f.svc.Approve(ctx, c.ID, "shopper@example.com")
	require.NoError(t, err)
	return c
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, CreateInput{Items: []Item{{ProductID: "p", Quantity: 1}}})
	assert.True(t, apperr.IsCode(err, apperr.CodeValidation))

	_, err = f.svc.Create(ctx, CreateInput{MerchantID: "merchant-x", Items: []Item{{ProductID: "p", Quantity: 1}}})
	assert.True(t, apperr.IsCode(err, apperr.CodeMerchantNotFound))

	_, err = f.svc.Create(ctx, CreateInput{MerchantID: "merchant-a"})
	assert.True(t, apperr.IsCode(err, apperr.CodeValidation))
}

func TestHappyPathEndToEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c := f.create(t)
	require.NotEmpty(t, c.ID)

	c, err := f.svc.Quote(ctx, c.ID, nil, "")
	require.NoError(t, err)
	assert.Equal(t, StatusQuoted, c.Status)
	assert.Equal(t, int64(5899), c.TotalCents)
	assert.Equal(t, "mc_1", c.MerchantCheckoutID)

	c, err = f.svc.RequestApproval(ctx, c.ID)
	require.NoError(t, err)
	require.NotNil(t, c.Receipt)
	assert.Equal(t, int64(5899), c.Receipt.TotalCents)

	c, err = f.svc.Approve(ctx, c.ID, "shopper@example.com")
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, c.Status)

	c, err = f.svc.Confirm(ctx, c.ID, "", "confirm-key-1")
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, c.Status)
	assert.Equal(t, "mo_100", c.MerchantOrderID)

	ord, err := f.ordRepo.GetByCheckoutID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPending, ord.Status)
	assert.Equal(t, int64(5899), ord.TotalCents)
	assert.Equal(t, "mo_100", ord.MerchantOrderID)
	require.Len(t, ord.History, 1)

	assert.Equal(t, []string{events.TopicOrderCreated, events.TopicCheckoutConfirmed}, f.bus.topics())
	last := f.bus.all()[1].Payload.(events.CheckoutConfirmedPayload)
	assert.Equal(t, ord.ID, last.OrderID)

	quotes, confirms := f.fake.calls()
	assert.Equal(t, 2, quotes, "one for the quote op, one for the confirm gate")
	assert.Equal(t, 1, confirms)
}

func TestConfirmPriceDriftParksForReapproval(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.approved(t)

	f.fake.setPrice(5749)

	_, err := f.svc.Confirm(ctx, c.ID, "", "confirm-key-1")
	re, ok := AsReapprovalRequired(err)
	require.True(t, ok, "want ReapprovalRequiredError, got %v", err)
	assert.Equal(t, money.Money{Cents: 5899, Currency: "USD"}, re.OriginalTotal)
	assert.Equal(t, money.Money{Cents: 6649, Currency: "USD"}, re.NewTotal)

	stored, err := f.svc.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusReapprovalRequired, stored.Status)
	assert.Nil(t, stored.Receipt)
	assert.Equal(t, int64(6649), stored.TotalCents)

	_, confirms := f.fake.calls()
	assert.Zero(t, confirms, "purchase must not execute on drift")
	_, err = f.ordRepo.GetByCheckoutID(ctx, c.ID)
	assert.True(t, apperr.IsCode(err, apperr.CodeOrderNotFound))

	// loop back at the new price and settle
	_, err = f.svc.RequestApproval(ctx, c.ID)
	require.NoError(t, err)
	_, err = f.svc.Approve(ctx, c.ID, "shopper@example.com")
	require.NoError(t, err)
	done, err := f.svc.Confirm(ctx, c.ID, "", "confirm-key-2")
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, done.Status)
	assert.Equal(t, int64(6649), done.TotalCents)
}

func TestConfirmMerchantPriceConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.approved(t)

	f.fake.confirmCode = "PRICE_CHANGED"

	_, err := f.svc.Confirm(ctx, c.ID, "", "confirm-key-1")
	_, ok := AsReapprovalRequired(err)
	require.True(t, ok, "want ReapprovalRequiredError, got %v", err)

	stored, err := f.svc.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusReapprovalRequired, stored.Status)
}

func TestConfirmMerchantFailureMarksFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.approved(t)

	f.fake.confirmFail = http.StatusBadGateway

	_, err := f.svc.Confirm(ctx, c.ID, "", "confirm-key-1")
	assert.True(t, apperr.IsCode(err, apperr.CodeMerchantError))

	stored, err := f.svc.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, stored.Status)
	assert.Contains(t, stored.FailureReason, "502")

	topics := f.bus.topics()
	assert.Contains(t, topics, events.TopicCheckoutFailed)
	assert.NotContains(t, topics, events.TopicCheckoutConfirmed)
}

func TestQuoteMerchantFailureMarksFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.create(t)

	f.fake.quoteFail = http.StatusInternalServerError

	_, err := f.svc.Quote(ctx, c.ID, nil, "")
	assert.True(t, apperr.IsCode(err, apperr.CodeMerchantError))

	stored, err := f.svc.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, stored.Status)
	assert.Contains(t, f.bus.topics(), events.TopicCheckoutFailed)

	// terminal: a later quote is a state error, not another merchant call
	_, err = f.svc.Quote(ctx, c.ID, nil, "")
	assert.True(t, apperr.IsCode(err, apperr.CodeInvalidTransition))
}

func TestQuoteOnlyFromCreated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.create(t)

	_, err := f.svc.Quote(ctx, c.ID, nil, "")
	require.NoError(t, err)

	_, err = f.svc.Quote(ctx, c.ID, nil, "")
	ae, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.CodeInvalidTransition, ae.Code)
	assert.Equal(t, "quoted", ae.Current)
}

func TestConfirmRequiresApproval(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.create(t)
	_, err := f.svc.Quote(ctx, c.ID, nil, "")
	require.NoError(t, err)

	_, err = f.svc.Confirm(ctx, c.ID, "", "confirm-key-1")
	assert.True(t, apperr.IsCode(err, apperr.CodeNotApproved))
}

func TestConfirmRepeatIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.approved(t)

	first, err := f.svc.Confirm(ctx, c.ID, "", "confirm-key-1")
	require.NoError(t, err)

	again, err := f.svc.Confirm(ctx, c.ID, "", "confirm-key-1")
	require.NoError(t, err)
	assert.Equal(t, first.MerchantOrderID, again.MerchantOrderID)

	quotes, confirms := f.fake.calls()
	assert.Equal(t, 2, quotes, "repeat confirm must not touch the merchant")
	assert.Equal(t, 1, confirms)
	assert.Equal(t, []string{events.TopicOrderCreated, events.TopicCheckoutConfirmed}, f.bus.topics())
}

func TestCheckoutDeadlineExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.create(t)

	f.clock = testNow.Add(CheckoutTTL + time.Hour)

	_, err := f.svc.Quote(ctx, c.ID, nil, "")
	assert.True(t, apperr.IsCode(err, apperr.CodeCheckoutExpired))

	stored, err := f.svc.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, stored.Status)

	// already expired in storage: same answer, no further transition
	_, err = f.svc.RequestApproval(ctx, c.ID)
	assert.True(t, apperr.IsCode(err, apperr.CodeCheckoutExpired))
}

func TestApplyConfirmedWebhookFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.approved(t)

	// the merchant's webhook lands before our confirm call does
	require.NoError(t, f.svc.ApplyConfirmed(ctx, c.ID, "mo_web_7"))

	ord, err := f.ordRepo.GetByCheckoutID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "mo_web_7", ord.MerchantOrderID)

	done, err := f.svc.Confirm(ctx, c.ID, "", "confirm-key-1")
	require.NoError(t, err)
	assert.Equal(t, "mo_web_7", done.MerchantOrderID)

	_, confirms := f.fake.calls()
	assert.Zero(t, confirms)
}

func TestApplyPriceChanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.create(t)
	_, err := f.svc.Quote(ctx, c.ID, nil, "")
	require.NoError(t, err)
	_, err = f.svc.RequestApproval(ctx, c.ID)
	require.NoError(t, err)

	require.NoError(t, f.svc.ApplyPriceChanged(ctx, c.ID, "prod_1", 5999))

	stored, err := f.svc.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusReapprovalRequired, stored.Status)
	assert.Equal(t, int64(6899), stored.TotalCents)
	assert.Nil(t, stored.Receipt)
}

func TestApplyPriceChangedIgnoredBeforeFreeze(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.create(t)

	require.NoError(t, f.svc.ApplyPriceChanged(ctx, c.ID, "prod_1", 5999))

	stored, err := f.svc.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCreated, stored.Status)
}

func TestApplyFailedIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.create(t)

	require.NoError(t, f.svc.ApplyFailed(ctx, c.ID, "payment declined"))
	require.NoError(t, f.svc.ApplyFailed(ctx, c.ID, "payment declined"))

	stored, err := f.svc.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, stored.Status)
	assert.Equal(t, "payment declined", stored.FailureReason)

	count := 0
	for _, topic := range f.bus.topics() {
		if topic == events.TopicCheckoutFailed {
			count++
		}
	}
	assert.Equal(t, 1, count)
}
