package memory

import (
	"context"
	"fmt"

	"github.com/nazeru/medstore-orders-go/internal/catalog"
	"github.com/nazeru/medstore-orders-go/internal/order/domain"
	"github.com/nazeru/medstore-orders-go/internal/order/store"
)

type stagedUpdate struct {
	expected int64
	order    *domain.Order
}

type tx struct {
	s       *Store
	held    map[domain.OrderID]chan struct{}
	undo    []func()
	creates []*domain.Order
	updates map[domain.OrderID]*stagedUpdate
	keys    map[string]domain.OrderID
}

var _ store.Tx = (*tx)(nil)

func (t *tx) Product(_ context.Context, id domain.ProductID) (catalog.Product, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	p, ok := t.s.products[id]
	if !ok {
		return catalog.Product{}, domain.NotFoundf("product %s", id)
	}
	return *p, nil
}

func (t *tx) TryDecrement(_ context.Context, id domain.ProductID, qty int) (bool, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	p, ok := t.s.products[id]
	if !ok || p.Stock < qty {
		return false, nil
	}
	p.Stock -= qty
	t.undo = append(t.undo, func() { p.Stock += qty })
	return true, nil
}

func (t *tx) Increment(_ context.Context, id domain.ProductID, qty int) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	p, ok := t.s.products[id]
	if !ok {
		return domain.NotFoundf("product %s", id)
	}
	p.Stock += qty
	t.undo = append(t.undo, func() { p.Stock -= qty })
	return nil
}

func (t *tx) Stock(_ context.Context, id domain.ProductID) (int, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	p, ok := t.s.products[id]
	if !ok {
		return 0, domain.NotFoundf("product %s", id)
	}
	return p.Stock, nil
}

func (t *tx) CreateOrder(_ context.Context, o *domain.Order) error {
	if o.Version == 0 {
		o.Version = 1
	}
	t.creates = append(t.creates, o.Clone())
	return nil
}

func (t *tx) LockOrder(ctx context.Context, id domain.OrderID) (*domain.Order, error) {
	if _, ok := t.held[id]; !ok {
		t.s.mu.Lock()
		_, exists := t.s.orders[id]
		t.s.mu.Unlock()
		if !exists {
			return nil, domain.NotFoundf("order %s", id)
		}
		ch := t.s.lockFor(id)
		select {
		case ch <- struct{}{}:
			t.held[id] = ch
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if st, ok := t.updates[id]; ok {
		return st.order.Clone(), nil
	}
	return t.s.Order(ctx, id)
}

func (t *tx) UpdateOrder(_ context.Context, o *domain.Order) error {
	st, ok := t.updates[o.ID]
	if !ok {
		st = &stagedUpdate{expected: o.Version}
		t.updates[o.ID] = st
	}
	o.Version++
	st.order = o.Clone()
	return nil
}

func (t *tx) SaveIdempotencyKey(_ context.Context, key string, id domain.OrderID) error {
	t.s.mu.Lock()
	_, taken := t.s.idem[key]
	t.s.mu.Unlock()
	if _, staged := t.keys[key]; taken || staged {
		return store.ErrDuplicateIdempotencyKey
	}
	t.keys[key] = id
	return nil
}

func (t *tx) commit() error {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, o := range t.creates {
		if _, ok := s.orders[o.ID]; ok {
			return fmt.Errorf("order %s already exists", o.ID)
		}
		if _, ok := s.numbers[o.OrderNumber]; ok {
			return fmt.Errorf("order number %d already assigned", o.OrderNumber)
		}
	}
	for key := range t.keys {
		if _, ok := s.idem[key]; ok {
			return store.ErrDuplicateIdempotencyKey
		}
	}
	for id, st := range t.updates {
		cur, ok := s.orders[id]
		if !ok {
			return domain.NotFoundf("order %s", id)
		}
		if cur.Version != st.expected {
			return fmt.Errorf("order %s: %w", id, domain.ErrConcurrentUpdate)
		}
	}

	for _, o := range t.creates {
		s.orders[o.ID] = o
		s.numbers[o.OrderNumber] = o.ID
	}
	for key, id := range t.keys {
		s.idem[key] = id
	}
	for id, st := range t.updates {
		s.orders[id] = st.order
	}
	t.undo = nil
	return nil
}

func (t *tx) rollback() {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *tx) release() {
	for id, ch := range t.held {
		<-ch
		delete(t.held, id)
	}
}
