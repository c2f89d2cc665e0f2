// Package memory is an in-process implementation of the order store used by
// tests and by STORAGE=memory demo deployments. Stock updates are applied
// immediately under the store mutex (conditional decrement) and undone on
// rollback; order writes are staged and applied on commit.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/nazeru/medstore-orders-go/internal/catalog"
	"github.com/nazeru/medstore-orders-go/internal/order/domain"
	"github.com/nazeru/medstore-orders-go/internal/order/store"
)

type Store struct {
	mu       sync.Mutex
	orders   map[domain.OrderID]*domain.Order
	numbers  map[int64]domain.OrderID
	products map[domain.ProductID]*catalog.Product
	idem     map[string]domain.OrderID
	locks    map[domain.OrderID]chan struct{}
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		orders:   make(map[domain.OrderID]*domain.Order),
		numbers:  make(map[int64]domain.OrderID),
		products: make(map[domain.ProductID]*catalog.Product),
		idem:     make(map[string]domain.OrderID),
		locks:    make(map[domain.OrderID]chan struct{}),
	}
}

// PutProduct inserts or replaces a catalog entry.
func (s *Store) PutProduct(p catalog.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := p
	s.products[p.ID] = &cp
}

// SetPrice changes a product's catalog price.
func (s *Store) SetPrice(id domain.ProductID, price int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.products[id]; ok {
		p.Price = price
	}
}

func (s *Store) ProductSnapshot(id domain.ProductID) (catalog.Product, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return catalog.Product{}, false
	}
	return *p, true
}

func (s *Store) InTx(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t := &tx{
		s:       s,
		held:    make(map[domain.OrderID]chan struct{}),
		updates: make(map[domain.OrderID]*stagedUpdate),
		keys:    make(map[string]domain.OrderID),
	}
	defer t.release()

	err := fn(t)
	if err == nil {
		err = t.commit()
	}
	if err != nil {
		t.rollback()
	}
	return err
}

func (s *Store) Order(_ context.Context, id domain.OrderID) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, domain.NotFoundf("order %s", id)
	}
	return o.Clone(), nil
}

func (s *Store) OrderByIdempotencyKey(_ context.Context, key string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.idem[key]
	if !ok {
		return nil, domain.NotFoundf("idempotency key %s", key)
	}
	o, ok := s.orders[id]
	if !ok {
		return nil, domain.NotFoundf("order %s", id)
	}
	return o.Clone(), nil
}

func (s *Store) ExpiryCandidates(_ context.Context, cutoff time.Time, limit int) ([]domain.OrderID, error) {
	s.mu.Lock()
	var found []*domain.Order
	for _, o := range s.orders {
		if o.Expirable(cutoff) {
			found = append(found, o)
		}
	}
	s.mu.Unlock()

	sort.Slice(found, func(i, j int) bool { return found[i].CreatedAt.Before(found[j].CreatedAt) })
	if limit > 0 && len(found) > limit {
		found = found[:limit]
	}
	ids := make([]domain.OrderID, 0, len(found))
	for _, o := range found {
		ids = append(ids, o.ID)
	}
	return ids, nil
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) lockFor(id domain.OrderID) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.locks[id]
	if !ok {
		ch = make(chan struct{}, 1)
		s.locks[id] = ch
	}
	return ch
}
