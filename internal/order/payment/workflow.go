// Package payment runs the bank-transfer proof review: the customer submits a
// transfer reference and proof, an admin approves or rejects it. Approval
// cascades into the order state machine.
package payment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nazeru/medstore-orders-go/internal/order/domain"
	"github.com/nazeru/medstore-orders-go/internal/order/lifecycle"
	"github.com/nazeru/medstore-orders-go/internal/order/store"
	"github.com/nazeru/medstore-orders-go/pkg/contracts"
	"github.com/nazeru/medstore-orders-go/pkg/logging"
)

const component = "payment"

type Workflow struct {
	orders *lifecycle.Service
}

func New(orders *lifecycle.Service) *Workflow {
	return &Workflow{orders: orders}
}

type Proof struct {
	TransactionID string
	ProofRef      string
}

// SubmitProof records a transfer reference and proof for review. A new
// submission replaces an earlier one, including a rejected one. Orders still
// in PENDING or CREATED move to PAYMENT_PENDING.
func (w *Workflow) SubmitProof(ctx context.Context, id domain.OrderID, p Proof) (*domain.Order, error) {
	p.TransactionID = strings.TrimSpace(p.TransactionID)
	p.ProofRef = strings.TrimSpace(p.ProofRef)
	if p.TransactionID == "" || p.ProofRef == "" {
		return nil, fmt.Errorf("%w: transactionId and payment proof are required", domain.ErrValidation)
	}

	var moved bool
	o, err := w.run(ctx, "payment.submit_proof", id, func(tx store.Tx, o *domain.Order) error {
		if err := requireBankTransfer(o, "submit payment proof"); err != nil {
			return err
		}
		if o.OrderStatus.Terminal() {
			return &domain.OperationError{Op: "submit payment proof", Reason: "order is " + string(o.OrderStatus)}
		}
		if o.VerificationStatus == domain.VerificationApproved {
			return &domain.OperationError{Op: "submit payment proof", Reason: "payment already approved"}
		}

		o.TransactionID = p.TransactionID
		o.PaymentProofRef = p.ProofRef
		o.VerificationStatus = domain.VerificationPending
		o.RejectionReason = ""
		o.UpdatedAt = w.orders.Now()

		switch o.OrderStatus {
		case domain.StatusPending, domain.StatusCreated:
			moved = true
			_, err := w.orders.TransitionInTx(ctx, tx, o, domain.StatusPaymentPending)
			return err
		}
		return tx.UpdateOrder(ctx, o)
	})
	if err != nil {
		return nil, err
	}

	payload := lifecycle.OrderPayload(o)
	payload["transactionId"] = o.TransactionID
	w.orders.Events().Publish(contracts.NewEvent(contracts.EventPaymentSubmitted, o.ID, o.UserID, payload))
	if moved {
		w.orders.PublishStatusChange(o)
	} else {
		w.orders.PublishAnalytics(o, contracts.EventPaymentSubmitted)
	}
	return o, nil
}

// Approve accepts a pending proof, marks the order paid and advances it to
// PAID, or to PROCESSING when PAID is not reachable. Terminal orders cannot
// be approved. Stock is reserved in the
// same transaction; a shortage aborts the approval and the proof stays pending.
func (w *Workflow) Approve(ctx context.Context, id domain.OrderID, adminID string) (*domain.Order, error) {
	var plan domain.Plan
	o, err := w.run(ctx, "payment.approve", id, func(tx store.Tx, o *domain.Order) error {
		if err := requirePendingProof(o, "approve payment"); err != nil {
			return err
		}
		now := w.orders.Now()
		o.VerificationStatus = domain.VerificationApproved
		o.VerifiedAt = &now
		o.VerifiedBy = adminID
		o.PaidAt = &now
		o.PaymentStatus = domain.PaymentStatusPaid
		o.UpdatedAt = now

		if target, ok := approvalTarget(o.OrderStatus); ok {
			var err error
			plan, err = w.orders.TransitionInTx(ctx, tx, o, target)
			return err
		}
		plan = domain.Plan{From: o.OrderStatus, To: o.OrderStatus, NoOp: true}
		return tx.UpdateOrder(ctx, o)
	})
	if err != nil {
		return nil, err
	}

	logging.Log(logging.Fields{
		Service: component,
		OrderID: o.ID,
		UserID:  adminID,
		Step:    "approve",
		Status:  string(plan.From) + "->" + string(o.OrderStatus),
		Message: "stock " + plan.Stock.String(),
	})
	w.orders.Events().Publish(contracts.NewEvent(contracts.EventPaymentApproved, o.ID, o.UserID, lifecycle.OrderPayload(o)))
	if !plan.NoOp {
		w.orders.PublishStatusChange(o)
	} else {
		w.orders.PublishAnalytics(o, contracts.EventPaymentApproved)
	}
	return o, nil
}

// approvalTarget picks the status an approval cascades into.
func approvalTarget(cur domain.Status) (domain.Status, bool) {
	switch {
	case cur == domain.StatusPaid:
		return "", false
	case domain.CanTransition(cur, domain.StatusPaid):
		return domain.StatusPaid, true
	case cur != domain.StatusProcessing && domain.CanTransition(cur, domain.StatusProcessing):
		return domain.StatusProcessing, true
	}
	return "", false
}

// Reject turns down a pending proof. The order status is left as it is so
// the customer can submit a new proof.
func (w *Workflow) Reject(ctx context.Context, id domain.OrderID, adminID, reason string) (*domain.Order, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, fmt.Errorf("%w: rejection reason is required", domain.ErrValidation)
	}
	o, err := w.run(ctx, "payment.reject", id, func(tx store.Tx, o *domain.Order) error {
		if err := requirePendingProof(o, "reject payment"); err != nil {
			return err
		}
		o.VerificationStatus = domain.VerificationRejected
		o.RejectionReason = reason
		o.UpdatedAt = w.orders.Now()
		return tx.UpdateOrder(ctx, o)
	})
	if err != nil {
		return nil, err
	}

	logging.Log(logging.Fields{Service: component, OrderID: o.ID, UserID: adminID, Step: "reject", Status: "rejected", Message: reason})
	payload := lifecycle.OrderPayload(o)
	payload["rejectionReason"] = reason
	w.orders.Events().Publish(contracts.NewEvent(contracts.EventPaymentRejected, o.ID, o.UserID, payload))
	w.orders.PublishAnalytics(o, contracts.EventPaymentRejected)
	return o, nil
}

func (w *Workflow) run(ctx context.Context, span string, id domain.OrderID, fn func(tx store.Tx, o *domain.Order) error) (*domain.Order, error) {
	ctx, sp := w.orders.Tracer().Start(ctx, span, trace.WithAttributes(attribute.String("order.id", id)))
	defer sp.End()
	started := time.Now()

	var out *domain.Order
	err := w.orders.Store().InTx(ctx, func(tx store.Tx) error {
		o, err := tx.LockOrder(ctx, id)
		if err != nil {
			return err
		}
		if err := fn(tx, o); err != nil {
			return err
		}
		out = o
		return nil
	})
	if err != nil {
		sp.RecordError(err)
		sp.SetStatus(codes.Error, err.Error())
		f := logging.Fields{Service: component, OrderID: id, Step: span, Status: "rejected", Message: err.Error()}
		if !lifecycle.IsDomainError(err) {
			f.Status, f.Error = "failed", err.Error()
		}
		logging.Log(f)
		return nil, err
	}
	logging.Log(logging.Fields{Service: component, OrderID: id, Step: span, Status: "ok", DurationMS: time.Since(started).Milliseconds()})
	return out, nil
}

func requireBankTransfer(o *domain.Order, op string) error {
	if !o.IsBankTransfer() {
		return &domain.OperationError{Op: op, Reason: "payment method is " + string(o.PaymentMethod)}
	}
	return nil
}

func requirePendingProof(o *domain.Order, op string) error {
	if err := requireBankTransfer(o, op); err != nil {
		return err
	}
	if o.OrderStatus.Terminal() {
		return &domain.OperationError{Op: op, Reason: "order is " + string(o.OrderStatus)}
	}
	if o.VerificationStatus != domain.VerificationPending {
		return &domain.OperationError{Op: op, Reason: "no payment proof awaiting review"}
	}
	return nil
}
