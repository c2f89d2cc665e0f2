package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrInvalidTransition  = errors.New("invalid transition")
	ErrInvalidOperation   = errors.New("invalid operation")
	ErrProductUnavailable = errors.New("product unavailable")
	ErrPriceChanged       = errors.New("price changed")
	ErrConcurrentUpdate   = errors.New("concurrent update")
	ErrValidation         = errors.New("validation failed")
)

// Shortage names one line item that could not be covered by stock.
type Shortage struct {
	ProductID ProductID `json:"productRef"`
	Requested int       `json:"requested"`
	Available int       `json:"available"`
}

type InsufficientStockError struct {
	Shortages []Shortage
}

func (e *InsufficientStockError) Error() string {
	parts := make([]string, 0, len(e.Shortages))
	for _, s := range e.Shortages {
		parts = append(parts, fmt.Sprintf("%s (requested %d, available %d)", s.ProductID, s.Requested, s.Available))
	}
	return "insufficient stock for " + strings.Join(parts, ", ")
}

func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }

// ProductIDs returns the offending product references in report order.
func (e *InsufficientStockError) ProductIDs() []string {
	out := make([]string, 0, len(e.Shortages))
	for _, s := range e.Shortages {
		out = append(out, s.ProductID)
	}
	return out
}

type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot transition order from %s to %s", e.From, e.To)
}

func (e *TransitionError) Is(target error) bool { return target == ErrInvalidTransition }

type OperationError struct {
	Op     string
	Reason string
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}

func (e *OperationError) Is(target error) bool { return target == ErrInvalidOperation }

// ProductError reports catalog problems found during checkout, one entry per line.
type ProductError struct {
	Problems []ProductProblem
}

type ProductProblem struct {
	ProductID ProductID `json:"productRef"`
	Reason    string    `json:"reason"`
}

func (e *ProductError) Error() string {
	parts := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		parts = append(parts, fmt.Sprintf("%s: %s", p.ProductID, p.Reason))
	}
	return "unavailable products: " + strings.Join(parts, "; ")
}

func (e *ProductError) Is(target error) bool { return target == ErrProductUnavailable }

type PriceChangedError struct {
	Changes []PriceChange
}

type PriceChange struct {
	ProductID ProductID `json:"productRef"`
	Expected  int64     `json:"expected"`
	Current   int64     `json:"current"`
}

func (e *PriceChangedError) Error() string {
	parts := make([]string, 0, len(e.Changes))
	for _, c := range e.Changes {
		parts = append(parts, fmt.Sprintf("%s (expected %d, now %d)", c.ProductID, c.Expected, c.Current))
	}
	return "price changed for " + strings.Join(parts, ", ")
}

func (e *PriceChangedError) Is(target error) bool { return target == ErrPriceChanged }

func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrNotFound}, args...)...)
}
