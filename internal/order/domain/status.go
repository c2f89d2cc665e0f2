package domain

import (
	"fmt"
	"strings"
	"time"
)

// Status drives the order state machine. CREATED, PAID, CONFIRMED and COMPLETED
// are legacy names kept alongside PENDING → PROCESSING → SHIPPED → DELIVERED.
type Status string

const (
	StatusCreated        Status = "CREATED"
	StatusPending        Status = "PENDING"
	StatusPaymentPending Status = "PAYMENT_PENDING"
	StatusPaid           Status = "PAID"
	StatusConfirmed      Status = "CONFIRMED"
	StatusProcessing     Status = "PROCESSING"
	StatusShipped        Status = "SHIPPED"
	StatusDelivered      Status = "DELIVERED"
	StatusCompleted      Status = "COMPLETED"
	StatusCancelled      Status = "CANCELLED"
)

// AllStatuses lists every known status in declaration order.
var AllStatuses = []Status{
	StatusCreated, StatusPending, StatusPaymentPending, StatusPaid, StatusConfirmed,
	StatusProcessing, StatusShipped, StatusDelivered, StatusCompleted, StatusCancelled,
}

func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("%w: unknown order status %q", ErrValidation, s)
	}
	return st, nil
}

func (s Status) Valid() bool {
	switch s {
	case StatusCreated, StatusPending, StatusPaymentPending, StatusPaid, StatusConfirmed,
		StatusProcessing, StatusShipped, StatusDelivered, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

func (s Status) Terminal() bool {
	switch s {
	case StatusDelivered, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// CommitsStock reports membership in the confirmed set: entering one of these
// statuses requires inventory to be decremented for the order.
func (s Status) CommitsStock() bool {
	switch s {
	case StatusProcessing, StatusShipped, StatusDelivered, StatusCompleted, StatusConfirmed, StatusPaid:
		return true
	}
	return false
}

func (s Status) Delivers() bool {
	return s == StatusDelivered || s == StatusCompleted
}

// CanTransition reports whether to is reachable from from in one step.
// Same-state requests are always allowed; they are no-ops.
func CanTransition(from, to Status) bool {
	if from == to {
		return from.Valid()
	}
	switch from {
	case StatusPending, StatusCreated:
		switch to {
		case StatusProcessing, StatusPaymentPending, StatusPaid, StatusConfirmed, StatusCancelled:
			return true
		}
	case StatusPaymentPending:
		switch to {
		case StatusPaid, StatusProcessing, StatusCancelled:
			return true
		}
	case StatusPaid:
		switch to {
		case StatusConfirmed, StatusProcessing, StatusShipped, StatusCancelled:
			return true
		}
	case StatusConfirmed:
		switch to {
		case StatusProcessing, StatusShipped, StatusCancelled:
			return true
		}
	case StatusProcessing:
		switch to {
		case StatusShipped, StatusCancelled:
			return true
		}
	case StatusShipped:
		switch to {
		case StatusDelivered, StatusCancelled:
			return true
		}
	case StatusDelivered, StatusCompleted, StatusCancelled:
		return false
	}
	return false
}

// NextStatuses returns the statuses reachable from s, excluding s itself.
func NextStatuses(s Status) []Status {
	var out []Status
	for _, to := range AllStatuses {
		if to != s && CanTransition(s, to) {
			out = append(out, to)
		}
	}
	return out
}

type StockEffect int

const (
	StockNone StockEffect = iota
	StockReserve
	StockRestore
)

func (e StockEffect) String() string {
	switch e {
	case StockReserve:
		return "reserve"
	case StockRestore:
		return "restore"
	}
	return "none"
}

// Plan is a validated transition that has not been applied yet.
type Plan struct {
	From  Status
	To    Status
	Stock StockEffect
	NoOp  bool
}

// PlanTransition validates a move of o to the requested status and decides the
// inventory effect from the stock-reduced flag. It never mutates o.
func PlanTransition(o *Order, to Status) (Plan, error) {
	if !to.Valid() {
		return Plan{}, fmt.Errorf("%w: unknown order status %q", ErrValidation, to)
	}
	p := Plan{From: o.OrderStatus, To: to}
	if o.OrderStatus == to {
		p.NoOp = true
		return p, nil
	}
	if !CanTransition(o.OrderStatus, to) {
		return Plan{}, &TransitionError{From: o.OrderStatus, To: to}
	}
	switch {
	case to.CommitsStock() && !o.StockReduced:
		p.Stock = StockReserve
	case to == StatusCancelled && o.StockReduced:
		p.Stock = StockRestore
	}
	return p, nil
}

// Apply writes the status and derived fields for an already executed plan.
func (o *Order) Apply(p Plan, now time.Time) {
	if p.NoOp {
		return
	}
	o.OrderStatus = p.To
	switch p.Stock {
	case StockReserve:
		o.StockReduced = true
	case StockRestore:
		o.StockReduced = false
	}
	if p.To.Delivers() && !o.IsDelivered {
		t := now
		o.IsDelivered = true
		o.DeliveredAt = &t
		if o.PaymentMethod == PaymentCashOnDelivery && o.PaymentStatus == PaymentStatusPending {
			o.PaymentStatus = PaymentStatusPaid
			o.PaidAt = &t
		}
	}
	if p.To == StatusCancelled {
		switch o.PaymentStatus {
		case PaymentStatusPaid:
			o.PaymentStatus = PaymentStatusRefunded
		case PaymentStatusPending:
			o.PaymentStatus = PaymentStatusFailed
		}
	}
	o.UpdatedAt = now
}
