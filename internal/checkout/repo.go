package checkout

import (
	"context"
	"sync"

	"github.com/ariefcatur/go-agent-checkout.git/internal/apperr"
)

// Repo stores checkouts. Transition serializes mutation per checkout id:
// the callback runs with exclusive ownership of that checkout, including
// any merchant I/O the caller performs inside it, and the result is
// persisted only when the callback returns nil.
type Repo interface {
	Create(ctx context.Context, c *Checkout) error
	Get(ctx context.Context, id string) (*Checkout, error)
	Transition(ctx context.Context, id string, fn func(c *Checkout) error) (*Checkout, error)
}

// MemoryRepo is the default backend. A per-id lock keeps one checkout's
// mutations serialized without stalling unrelated checkouts during
// merchant calls.
type MemoryRepo struct {
	mu    sync.Mutex
	items map[string]*Checkout
	locks map[string]*sync.Mutex
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		items: make(map[string]*Checkout),
		locks: make(map[string]*sync.Mutex),
	}
}

func (r *MemoryRepo) Create(ctx context.Context, c *Checkout) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[c.ID]; ok {
		return apperr.New(apperr.CodeValidation, "checkout %s already exists", c.ID)
	}
	r.items[c.ID] = c.Clone()
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (*Checkout, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.items[id]
	if !ok {
		return nil, apperr.NotFound(apperr.CodeCheckoutNotFound, "checkout", id)
	}
	return c.Clone(), nil
}

func (r *MemoryRepo) Transition(ctx context.Context, id string, fn func(c *Checkout) error) (*Checkout, error) {
	lock := r.entityLock(id)
	lock.Lock()
	defer lock.Unlock()

	r.mu.Lock()
	stored, ok := r.items[id]
	if !ok {
		r.mu.Unlock()
		return nil, apperr.NotFound(apperr.CodeCheckoutNotFound, "checkout", id)
	}
	work := stored.Clone()
	r.mu.Unlock()

	if err := fn(work); err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.items[id] = work
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
