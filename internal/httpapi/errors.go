package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/nazeru/medstore-orders-go/internal/order/domain"
	"github.com/nazeru/medstore-orders-go/pkg/idempotency"
	"github.com/nazeru/medstore-orders-go/pkg/problem"
)

// writeError maps domain failures to problem responses. Anything unknown is
// a 500 whose cause is only logged.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	if d := problemFor(err); d != nil {
		problem.Write(w, r, d)
		return
	}
	problem.WriteInternal(w, r, err)
}

func problemFor(err error) *problem.Detail {
	var (
		stock *domain.InsufficientStockError
		prod  *domain.ProductError
		price *domain.PriceChangedError
	)
	switch {
	case errors.As(err, &stock):
		d := problem.New(http.StatusConflict, stock.Error())
		d.Items = stock.Shortages
		return d
	case errors.As(err, &prod):
		d := problem.New(http.StatusUnprocessableEntity, prod.Error())
		d.Items = prod.Problems
		return d
	case errors.As(err, &price):
		d := problem.New(http.StatusUnprocessableEntity, price.Error())
		d.Items = price.Changes
		return d
	case errors.Is(err, domain.ErrNotFound):
		return problem.New(http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrValidation), errors.Is(err, idempotency.ErrKeyTooLong):
		return problem.New(http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrInsufficientStock),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrInvalidOperation),
		errors.Is(err, domain.ErrConcurrentUpdate):
		return problem.New(http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrProductUnavailable), errors.Is(err, domain.ErrPriceChanged):
		return problem.New(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return problem.New(http.StatusServiceUnavailable, "request timed out")
	}
	return nil
}
