// Package inventory owns every mutation of shared product stock counters.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/nazeru/medstore-orders-go/internal/order/domain"
)

// Counter is the storage primitive behind the ledger. TryDecrement must be an
// atomic conditional update (stock -= qty WHERE stock >= qty) and report false
// when the condition does not hold; it must never read-modify-write.
type Counter interface {
	TryDecrement(ctx context.Context, id domain.ProductID, qty int) (bool, error)
	Increment(ctx context.Context, id domain.ProductID, qty int) error
	Stock(ctx context.Context, id domain.ProductID) (int, error)
}

type Ledger struct {
	counter Counter
}

func NewLedger(c Counter) *Ledger {
	return &Ledger{counter: c}
}

// Line is a per-product quantity after folding duplicate order lines.
type Line struct {
	ProductID domain.ProductID
	Quantity  int
}

// Lines folds order items per product and sorts them by id so concurrent
// batches touch products in the same order.
func Lines(items []domain.LineItem) []Line {
	qty := make(map[domain.ProductID]int, len(items))
	for _, it := range items {
		qty[it.ProductID] += it.Quantity
	}
	out := make([]Line, 0, len(qty))
	for id, q := range qty {
		out = append(out, Line{ProductID: id, Quantity: q})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out
}

// Reserve decrements stock for every item or for none. Lines that cannot be
// covered are collected into an *domain.InsufficientStockError after the
// decrements already applied in this batch have been compensated.
func (l *Ledger) Reserve(ctx context.Context, items []domain.LineItem) error {
	lines, err := checkedLines(items)
	if err != nil {
		return err
	}
	applied := make([]Line, 0, len(lines))
	var shortages []domain.Shortage

	for _, ln := range lines {
		ok, err := l.counter.TryDecrement(ctx, ln.ProductID, ln.Quantity)
		if err != nil {
			return errors.Join(fmt.Errorf("decrement %s: %w", ln.ProductID, err), l.compensate(ctx, applied))
		}
		if !ok {
			available, serr := l.counter.Stock(ctx, ln.ProductID)
			if serr != nil && !errors.Is(serr, domain.ErrNotFound) {
				return errors.Join(fmt.Errorf("read stock %s: %w", ln.ProductID, serr), l.compensate(ctx, applied))
			}
			shortages = append(shortages, domain.Shortage{ProductID: ln.ProductID, Requested: ln.Quantity, Available: available})
			continue
		}
		applied = append(applied, ln)
	}

	if len(shortages) > 0 {
		if err := l.compensate(ctx, applied); err != nil {
			return err
		}
		return &domain.InsufficientStockError{Shortages: shortages}
	}
	return nil
}

// Restore returns every item's quantity to stock. It is the compensating
// action for a previous Reserve and has no business failure mode.
func (l *Ledger) Restore(ctx context.Context, items []domain.LineItem) error {
	lines, err := checkedLines(items)
	if err != nil {
		return err
	}
	for _, ln := range lines {
		if err := l.counter.Increment(ctx, ln.ProductID, ln.Quantity); err != nil {
			return fmt.Errorf("restore %s: %w", ln.ProductID, err)
		}
	}
	return nil
}

// checkedLines folds items and rejects any non-positive or oversized line
// before a counter is touched.
func checkedLines(items []domain.LineItem) ([]Line, error) {
	lines := Lines(items)
	for _, ln := range lines {
		if err := domain.CheckQuantity(ln.ProductID, ln.Quantity); err != nil {
			return nil, err
		}
	}
	return lines, nil
}

func (l *Ledger) compensate(ctx context.Context, applied []Line) error {
	var errs []error
	for i := len(applied) - 1; i >= 0; i-- {
		ln := applied[i]
		if err := l.counter.Increment(ctx, ln.ProductID, ln.Quantity); err != nil {
			errs = append(errs, fmt.Errorf("compensate %s: %w", ln.ProductID, err))
		}
	}
	return errors.Join(errs...)
}
