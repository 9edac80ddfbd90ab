package orders

import (
	"context"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ariefcatur/go-agent-checkout.git/internal/apperr"
	"github.com/ariefcatur/go-agent-checkout.git/internal/events"
)

// MaxSimulateSteps: pending -> delivered paling jauh 3 langkah.
const MaxSimulateSteps = 3

type ListPage struct {
	Orders   []*Order
	Total    int
	Page     int
	PageSize int
	HasMore  bool
}

type Service struct {
	repo Repo
	bus  events.Publisher
	now  func() time.Time
}

func NewService(repo Repo, bus events.Publisher) *Service {
	if bus == nil {
		bus = events.Nop{}
	}
	return &Service{repo: repo, bus: bus, now: time.Now}
}

// CreateFromCheckout: idempotent per checkout id; panggilan ulang return
// order yang sudah ada.
func (s *Service) CreateFromCheckout(ctx context.Context, snap CheckoutSnapshot) (*Order, error) {
	if existing, err := s.repo.GetByCheckoutID(ctx, snap.CheckoutID); err == nil {
		return existing, nil
	}

	o := NewFromSnapshot(snap, s.now())
	o.ID = uuid.NewString()
	if err := s.repo.Create(ctx, o); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			return s.repo.GetByCheckoutID(ctx, snap.CheckoutID)
		}
		return nil, err
	}

	s.bus.Emit(ctx, events.TopicOrderCreated, events.EventOrderCreated, o.ID, events.OrderCreatedPayload{
		OrderID:    o.ID,
		CheckoutID: o.CheckoutID,
		MerchantID: o.MerchantID,
		TotalCents: o.TotalCents,
		Currency:   o.Currency,
	})
	return o, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Order, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) GetByCheckout(ctx context.Context, checkoutID string) (*Order, error) {
	return s.repo.GetByCheckoutID(ctx, checkoutID)
}

func (s *Service) List(ctx context.Context, f ListFilter) (ListPage, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 {
		f.PageSize = 20
	}
	if f.PageSize > 100 {
		f.PageSize = 100
	}
	items, total, err := s.repo.List(ctx, f)
	if err != nil {
		return ListPage{}, err
	}
	return ListPage{
		Orders:   items,
		Total:    total,
		Page:     f.Page,
		PageSize: f.PageSize,
		HasMore:  f.Page*f.PageSize < total,
	}, nil
}

func (s *Service) Cancel(ctx context.Context, id, reason, cancelledBy string) (*Order, error) {
	if reason == "" {
		return nil, apperr.New(apperr.CodeValidation, "cancel reason is required")
	}
	if cancelledBy == "" {
		cancelledBy = "customer"
	}
	return s.transition(ctx, id, cancelledBy, func(o *Order) error {
		return o.Cancel(reason, cancelledBy, s.now())
	})
}

// Refund: amountCents nil = full refund.
func (s *Service) Refund(ctx context.Context, id string, amountCents *int64, reason string) (*Order, error) {
	return s.transition(ctx, id, "system", func(o *Order) error {
		amount := o.TotalCents
		if amountCents != nil {
			amount = *amountCents
		}
		return o.Refund(amount, reason, "system", s.now())
	})
}

// SimulateAdvance walks the order forward for testing without real merchant
// webhooks. Stops quietly at delivered (or on cancelled/refunded).
func (s *Service) SimulateAdvance(ctx context.Context, id string, steps int) (*Order, error) {
	if steps < 1 {
		steps = 1
	}
	if steps > MaxSimulateSteps {
		steps = MaxSimulateSteps
	}
	return s.transition(ctx, id, "simulate_time", func(o *Order) error {
		for i := 0; i < steps; i++ {
			rank := o.Status.Rank()
			if rank < 0 || rank+1 >= len(Progression) {
				break
			}
			if err := o.advance("", "simulate_time", s.now()); err != nil {
				return err
			}
			if o.Status == StatusShipped {
				o.TrackingNumber = simTrackingNumber()
				o.Carrier = "SimCarrier"
			}
		}
		return nil
	})
}

// ---- webhook-facing (dipanggil lewat interface di package webhooks) ----

func (s *Service) ConfirmByCheckout(ctx context.Context, checkoutID, merchantOrderID string) error {
	o, err := s.repo.GetByCheckoutID(ctx, checkoutID)
	if err != nil {
		return err
	}
	_, err = s.transition(ctx, o.ID, "merchant", func(o *Order) error {
		return o.MarkConfirmed(merchantOrderID, "merchant", s.now())
	})
	return err
}

func (s *Service) ShipByMerchantOrder(ctx context.Context, merchantID, merchantOrderID, trackingNumber, carrier string) error {
	o, err := s.repo.GetByMerchantOrderID(ctx, merchantID, merchantOrderID)
	if err != nil {
		return err
	}
	_, err = s.transition(ctx, o.ID, "merchant", func(o *Order) error {
		return o.MarkShipped(trackingNumber, carrier, "merchant", s.now())
	})
	return err
}

func (s *Service) DeliverByMerchantOrder(ctx context.Context, merchantID, merchantOrderID string) error {
	o, err := s.repo.GetByMerchantOrderID(ctx, merchantID, merchantOrderID)
	if err != nil {
		return err
	}
	_, err = s.transition(ctx, o.ID, "merchant", func(o *Order) error {
		return o.MarkDelivered("merchant", s.now())
	})
	return err
}

// transition wraps repo.Transition and emits order.status.changed when the
// callback actually moved the order.
func (s *Service) transition(ctx context.Context, id, actor string, fn func(o *Order) error) (*Order, error) {
	var from Status
	updated, err := s.repo.Transition(ctx, id, func(o *Order) error {
		from = o.Status
		return fn(o)
	})
	if err != nil {
		return nil, err
	}
	if updated.Status != from {
		s.bus.Emit(ctx, events.TopicOrderStatusChanged, events.EventOrderStatusChanged, updated.ID, events.OrderStatusChangedPayload{
			OrderID: updated.ID,
			From:    string(from),
			To:      string(updated.Status),
			Actor:   actor,
		})
	}
	return updated, nil
}

func simTrackingNumber() string {
	u := uuid.New()
	return "SIM" + strings.ToUpper(hex.EncodeToString(u[:4]))
}
