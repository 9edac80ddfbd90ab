package orders

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/ariefcatur/go-agent-checkout.git/internal/apperr"
)

// ErrAlreadyExists: checkout ini sudah punya order (create idempotent).
var ErrAlreadyExists = errors.New("order already exists for checkout")

// ListFilter: status/merchant optional, page 1-based.
type ListFilter struct {
	Status     Status
	MerchantID string
	Page       int
	PageSize   int
}

// Repo stores orders. Transition serializes mutation per order id the same
// way the checkout repo does; lookups by checkout and merchant order id
// back the webhook path.
type Repo interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	GetByCheckoutID(ctx context.Context, checkoutID string) (*Order, error)
	GetByMerchantOrderID(ctx context.Context, merchantID, merchantOrderID string) (*Order, error)
	List(ctx context.Context, f ListFilter) ([]*Order, int, error)
	Transition(ctx context.Context, id string, fn func(o *Order) error) (*Order, error)
}

type MemoryRepo struct {
	mu         sync.Mutex
	items      map[string]*Order
	byCheckout map[string]string
	byMerchant map[string]string // "{merchant_id}:{merchant_order_id}" -> order id
	locks      map[string]*sync.Mutex
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		items:      make(map[string]*Order),
		byCheckout: make(map[string]string),
		byMerchant: make(map[string]string),
		locks:      make(map[string]*sync.Mutex),
	}
}

func merchantKey(merchantID, merchantOrderID string) string {
	return merchantID + ":" + merchantOrderID
}

func (r *MemoryRepo) Create(ctx context.Context, o *Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[o.ID]; ok {
		return apperr.New(apperr.CodeValidation, "order %s already exists", o.ID)
	}
	if _, ok := r.byCheckout[o.CheckoutID]; ok {
		return ErrAlreadyExists
	}
	r.items[o.ID] = o.Clone()
	r.index(o)
	return nil
}

// index dipanggil dalam r.mu.
func (r *MemoryRepo) index(o *Order) {
	r.byCheckout[o.CheckoutID] = o.ID
	if o.MerchantOrderID != "" {
		r.byMerchant[merchantKey(o.MerchantID, o.MerchantOrderID)] = o.ID
	}
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (*Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.items[id]
	if !ok {
		return nil, apperr.NotFound(apperr.CodeOrderNotFound, "order", id)
	}
	return o.Clone(), nil
}

func (r *MemoryRepo) GetByCheckoutID(ctx context.Context, checkoutID string) (*Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byCheckout[checkoutID]
	if !ok {
		return nil, apperr.NotFound(apperr.CodeOrderNotFound, "order for checkout", checkoutID)
	}
	return r.items[id].Clone(), nil
}

func (r *MemoryRepo) GetByMerchantOrderID(ctx context.Context, merchantID, merchantOrderID string) (*Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byMerchant[merchantKey(merchantID, merchantOrderID)]
	if !ok {
		return nil, apperr.NotFound(apperr.CodeOrderNotFound, "order for merchant order", merchantOrderID)
	}
	return r.items[id].Clone(), nil
}

func (r *MemoryRepo) List(ctx context.Context, f ListFilter) ([]*Order, int, error) {
	r.mu.Lock()
	all := make([]*Order, 0, len(r.items))
	for _, o := range r.items {
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		if f.MerchantID != "" && o.MerchantID != f.MerchantID {
			continue
		}
		all = append(all, o.Clone())
	}
	r.mu.Unlock()

	// terbaru dulu; tie-break id biar deterministik
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID < all[j].ID
	})

	total := len(all)
	page, size := f.Page, f.PageSize
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 20
	}
	start := (page - 1) * size
	if start >= total {
		return []*Order{}, total, nil
	}
	end := start + size
	if end > total {
		end = total
	}
	return all[start:end], total, nil
}

func (r *MemoryRepo) Transition(ctx context.Context, id string, fn func(o *Order) error) (*Order, error) {
	lock := r.entityLock(id)
	lock.Lock()
	defer lock.Unlock()

	r.mu.Lock()
	stored, ok := r.items[id]
	if !ok {
		r.mu.Unlock()
		return nil, apperr.NotFound(apperr.CodeOrderNotFound, "order", id)
	}
	work := stored.Clone()
	r.mu.Unlock()

	if err := fn(work); err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.items[id] = work
	r.index(work) // merchant_order_id bisa baru ter-attach di sini
	r.mu.Unlock()
	return work.Clone(), nil
}

func (r *MemoryRepo) entityLock(id string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[id] = lock
	}
	return lock
}
