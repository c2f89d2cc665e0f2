// Package catalog is the read-only view of products used when pricing a cart.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/nazeru/medstore-orders-go/internal/order/domain"
)

// Product is a snapshot of the catalog fields the order core depends on.
type Product struct {
	ID       domain.ProductID
	Name     string
	Price    int64 // minor units
	Stock    int
	IsActive bool
}

// Accessor looks up one product. Missing products return domain.ErrNotFound.
type Accessor interface {
	Product(ctx context.Context, id domain.ProductID) (Product, error)
}

// Request is one cart line as submitted by a customer.
type Request struct {
	ProductID domain.ProductID
	Quantity  int
	// ExpectedUnitPrice is the price the customer saw; zero skips the check.
	ExpectedUnitPrice int64
}

// Merge folds duplicate product lines into one, summing quantities. The first
// non-zero expected price wins. Output is sorted by product id. Every input
// and merged quantity must pass domain.CheckQuantity.
func Merge(reqs []Request) ([]Request, error) {
	byID := make(map[domain.ProductID]*Request, len(reqs))
	for _, r := range reqs {
		if err := domain.CheckQuantity(r.ProductID, r.Quantity); err != nil {
			return nil, err
		}
		cur, ok := byID[r.ProductID]
		if !ok {
			cp := r
			byID[r.ProductID] = &cp
			continue
		}
		if err := domain.CheckQuantity(r.ProductID, cur.Quantity+r.Quantity); err != nil {
			return nil, err
		}
		cur.Quantity += r.Quantity
		if cur.ExpectedUnitPrice == 0 {
			cur.ExpectedUnitPrice = r.ExpectedUnitPrice
		}
	}
	out := make([]Request, 0, len(byID))
	for _, r := range byID {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

// PriceLines resolves every request against the catalog and captures the
// current price. All offending lines are reported together: unavailable
// products first, then price changes, then stock shortages.
func PriceLines(ctx context.Context, acc Accessor, reqs []Request) ([]domain.LineItem, error) {
	var (
		items     = make([]domain.LineItem, 0, len(reqs))
		problems  []domain.ProductProblem
		changes   []domain.PriceChange
		shortages []domain.Shortage
	)
	for _, r := range reqs {
		if err := domain.CheckQuantity(r.ProductID, r.Quantity); err != nil {
			return nil, err
		}
		p, err := acc.Product(ctx, r.ProductID)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			problems = append(problems, domain.ProductProblem{ProductID: r.ProductID, Reason: "not found"})
			continue
		case err != nil:
			return nil, fmt.Errorf("lookup product %s: %w", r.ProductID, err)
		case !p.IsActive:
			problems = append(problems, domain.ProductProblem{ProductID: r.ProductID, Reason: "inactive"})
			continue
		}
		if r.ExpectedUnitPrice > 0 && r.ExpectedUnitPrice != p.Price {
			changes = append(changes, domain.PriceChange{ProductID: r.ProductID, Expected: r.ExpectedUnitPrice, Current: p.Price})
		}
		if p.Stock < r.Quantity {
			shortages = append(shortages, domain.Shortage{ProductID: r.ProductID, Requested: r.Quantity, Available: p.Stock})
		}
		items = append(items, domain.LineItem{
			ProductID: p.ID,
			Name:      p.Name,
			Quantity:  r.Quantity,
			UnitPrice: p.Price,
		})
	}
	switch {
	case len(problems) > 0:
		return nil, &domain.ProductError{Problems: problems}
	case len(changes) > 0:
		return nil, &domain.PriceChangedError{Changes: changes}
	case len(shortages) > 0:
		return nil, &domain.InsufficientStockError{Shortages: shortages}
	}
	return items, nil
}
