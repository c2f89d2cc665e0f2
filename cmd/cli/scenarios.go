package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/nazeru/medstore-orders-go/internal/apiclient"
	"github.com/nazeru/medstore-orders-go/internal/order/domain"
)

type scenario struct {
	Name        string
	Description string
}

var scenarios = []scenario{
	{"checkout", "Place an order"},
	{"confirm", "Place and confirm (reserves stock)"},
	{"cancel", "Confirm then cancel (restores stock)"},
	{"approve", "Bank transfer: submit proof, admin approves"},
	{"reject", "Bank transfer: submit proof, admin rejects"},
	{"race", "Confirm many orders for one product at once"},
	{"bench", "Checkout throughput for a few seconds"},
}

type scenarioResult struct {
	status  string
	metrics string
}

// runner drives the order API as a customer and as an admin.
type runner struct {
	customer *apiclient.Client
	admin    *apiclient.Client
	product  string
	racers   int
	benchFor time.Duration
}

func (r *runner) run(ctx context.Context, method, name string) scenarioResult {
	switch name {
	case "checkout":
		o, err := r.checkout(ctx, method)
		if err != nil {
			return failed("checkout", err)
		}
		return scenarioResult{status: fmt.Sprintf("Order #%d created: %s, total %d", o.OrderNumber, o.OrderStatus, o.TotalAmount)}
	case "confirm":
		o, err := r.confirm(ctx, method)
		if err != nil {
			return failed("confirm", err)
		}
		return scenarioResult{status: fmt.Sprintf("Order #%d %s, stockReduced=%t", o.OrderNumber, o.OrderStatus, o.StockReduced)}
	case "cancel":
		o, err := r.confirm(ctx, method)
		if err != nil {
			return failed("confirm", err)
		}
		o, err = r.admin.Transition(ctx, o.ID, domain.StatusCancelled)
		if err != nil {
			return failed("cancel", err)
		}
		return scenarioResult{status: fmt.Sprintf("Order #%d %s, stockReduced=%t", o.OrderNumber, o.OrderStatus, o.StockReduced)}
	case "approve", "reject":
		o, err := r.withProof(ctx)
		if err != nil {
			return failed("submit proof", err)
		}
		if name == "approve" {
			o, err = r.admin.Approve(ctx, o.ID)
		} else {
			o, err = r.admin.Reject(ctx, o.ID, "amount does not match")
		}
		if err != nil {
			return failed(name, err)
		}
		return scenarioResult{status: fmt.Sprintf("Order #%d %s, payment %s, verification %s",
			o.OrderNumber, o.OrderStatus, o.PaymentStatus, o.VerificationStatus)}
	case "race":
		return r.race(ctx, method)
	case "bench":
		return scenarioResult{status: "Benchmark finished", metrics: r.bench(ctx, method)}
	}
	return scenarioResult{status: fmt.Sprintf("Unknown scenario %q", name)}
}

func (r *runner) checkout(ctx context.Context, method string) (*domain.Order, error) {
	res, err := r.customer.Checkout(ctx, apiclient.CheckoutRequest{
		Customer: domain.Customer{
			Name:    "Console Customer",
			Email:   "console@example.com",
			Phone:   "+10000000000",
			Address: "1 Test Street",
			City:    "Springfield",
		},
		Items:         []apiclient.Item{{ProductID: r.product, Quantity: 1}},
		PaymentMethod: method,
	}, "")
	if err != nil {
		return nil, err
	}
	return res.Order, nil
}

func (r *runner) confirm(ctx context.Context, method string) (*domain.Order, error) {
	o, err := r.checkout(ctx, method)
	if err != nil {
		return nil, err
	}
	return r.admin.Transition(ctx, o.ID, domain.StatusConfirmed)
}

func (r *runner) withProof(ctx context.Context) (*domain.Order, error) {
	o, err := r.checkout(ctx, string(domain.PaymentBankTransfer))
	if err != nil {
		return nil, err
	}
	txID := fmt.Sprintf("CLI-%d", o.OrderNumber)
	return r.customer.SubmitProof(ctx, o.ID, txID, "console/"+txID+".png")
}

// race places racers orders for the product and confirms them concurrently.
// The ledger must let at most the available units through.
func (r *runner) race(ctx context.Context, method string) scenarioResult {
	ids := make([]domain.OrderID, 0, r.racers)
	for i := 0; i < r.racers; i++ {
		o, err := r.checkout(ctx, method)
		if err != nil {
			if len(ids) == 0 {
				return failed("checkout", err)
			}
			break
		}
		ids = append(ids, o.ID)
	}

	var (
		mu        sync.Mutex
		confirmed int
		rejected  int
		other     []error
		wg        sync.WaitGroup
	)
	for _, id := range ids {
		wg.Add(1)
		go func(id domain.OrderID) {
			defer wg.Done()
			_, err := r.admin.Transition(ctx, id, domain.StatusConfirmed)
			mu.Lock()
			defer mu.Unlock()
			var apiErr *apiclient.Error
			switch {
			case err == nil:
				confirmed++
			case errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict:
				rejected++
			default:
				other = append(other, err)
			}
		}(id)
	}
	wg.Wait()

	res := scenarioResult{
		status:  fmt.Sprintf("Race on %s finished", r.product),
		metrics: fmt.Sprintf("orders=%d confirmed=%d out_of_stock=%d", len(ids), confirmed, rejected),
	}
	if err := errors.Join(other...); err != nil {
		res.status += ": " + err.Error()
	}
	return res
}

func (r *runner) bench(ctx context.Context, method string) string {
	ctx, cancel := context.WithTimeout(ctx, r.benchFor)
	defer cancel()

	const vus = 5
	var (
		mu    sync.Mutex
		total time.Duration
		count int
		errs  int
		wg    sync.WaitGroup
	)
	for i := 0; i < vus; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				start := time.Now()
				_, err := r.checkout(ctx, method)
				mu.Lock()
				if err != nil {
					if ctx.Err() == nil {
						errs++
					}
				} else {
					count++
					total += time.Since(start)
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	avg := time.Duration(0)
	if count > 0 {
		avg = total / time.Duration(count)
	}
	throughput := float64(count) / r.benchFor.Seconds()
	return fmt.Sprintf("count=%d errors=%d avg=%s throughput=%.2f orders/s", count, errs, avg, throughput)
}

func failed(step string, err error) scenarioResult {
	return scenarioResult{status: fmt.Sprintf("%s failed: %v", step, err)}
}
