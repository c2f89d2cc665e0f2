package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nazeru/medstore-orders-go/internal/catalog"
	"github.com/nazeru/medstore-orders-go/internal/order/domain"
	"github.com/nazeru/medstore-orders-go/internal/order/store"
	"github.com/nazeru/medstore-orders-go/pkg/contracts"
	"github.com/nazeru/medstore-orders-go/pkg/logging"
)

type CheckoutItem struct {
	ProductID domain.ProductID
	Quantity  int
	// ExpectedUnitPrice is the price shown to the customer; zero skips the check.
	ExpectedUnitPrice int64
}

type CheckoutInput struct {
	UserID         string
	Customer       domain.Customer
	Items          []CheckoutItem
	PaymentMethod  domain.PaymentMethod
	IdempotencyKey string
}

func (in CheckoutInput) validate() error {
	if err := in.Customer.Validate(); err != nil {
		return err
	}
	if len(in.Items) == 0 {
		return fmt.Errorf("%w: items is required", domain.ErrValidation)
	}
	for _, it := range in.Items {
		if strings.TrimSpace(it.ProductID) == "" {
			return fmt.Errorf("%w: each item must have productId", domain.ErrValidation)
		}
		if err := domain.CheckQuantity(it.ProductID, it.Quantity); err != nil {
			return err
		}
		if it.ExpectedUnitPrice < 0 {
			return fmt.Errorf("%w: expected unit price must be >= 0", domain.ErrValidation)
		}
	}
	switch in.PaymentMethod {
	case domain.PaymentBankTransfer, domain.PaymentCashOnDelivery:
	default:
		return fmt.Errorf("%w: unknown payment method %q", domain.ErrValidation, in.PaymentMethod)
	}
	return nil
}

// CheckoutResult is the created order and whether it was replayed from an
// earlier request with the same idempotency key.
type CheckoutResult struct {
	Order    *domain.Order
	Replayed bool
}

// CreateOrder prices the cart against the catalog and stores a PENDING order.
// Stock is only checked here; it is decremented when the order enters the
// confirmed set.
func (s *Service) CreateOrder(ctx context.Context, in CheckoutInput) (CheckoutResult, error) {
	ctx, span := s.tracer.Start(ctx, "order.checkout", trace.WithAttributes(
		attribute.Int("order.items", len(in.Items)),
		attribute.String("order.payment_method", string(in.PaymentMethod)),
	))
	defer span.End()
	started := time.Now()

	res, err := s.createOrder(ctx, in)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if s.metrics != nil && errors.Is(err, domain.ErrInsufficientStock) {
			s.metrics.StockRejections.Inc()
		}
		f := logging.Fields{Service: component, UserID: in.UserID, Step: "checkout", Status: "rejected", Message: err.Error()}
		if !IsDomainError(err) {
			f.Status, f.Error = "failed", err.Error()
		}
		logging.Log(f)
		return CheckoutResult{}, err
	}

	o := res.Order
	span.SetAttributes(attribute.String("order.id", o.ID), attribute.Bool("order.replayed", res.Replayed))
	status := "created"
	if res.Replayed {
		status = "idempotent_replay"
	}
	logging.Log(logging.Fields{
		Service:    component,
		OrderID:    o.ID,
		UserID:     o.UserID,
		Step:       "checkout",
		Status:     status,
		DurationMS: time.Since(started).Milliseconds(),
	})
	if !res.Replayed {
		s.events.Publish(contracts.NewEvent(contracts.EventNewOrder, o.ID, o.UserID, OrderPayload(o)))
		s.PublishAnalytics(o, contracts.EventNewOrder)
	}
	return res, nil
}

func (s *Service) createOrder(ctx context.Context, in CheckoutInput) (CheckoutResult, error) {
	if err := in.validate(); err != nil {
		return CheckoutResult{}, err
	}

	if in.IdempotencyKey != "" {
		existing, err := s.store.OrderByIdempotencyKey(ctx, in.IdempotencyKey)
		switch {
		case err == nil:
			return CheckoutResult{Order: existing, Replayed: true}, nil
		case !errors.Is(err, domain.ErrNotFound):
			return CheckoutResult{}, fmt.Errorf("idempotency lookup: %w", err)
		}
	}

	reqs := make([]catalog.Request, 0, len(in.Items))
	for _, it := range in.Items {
		reqs = append(reqs, catalog.Request{
			ProductID:         strings.TrimSpace(it.ProductID),
			Quantity:          it.Quantity,
			ExpectedUnitPrice: it.ExpectedUnitPrice,
		})
	}
	lines, err := catalog.Merge(reqs)
	if err != nil {
		return CheckoutResult{}, err
	}

	number, err := s.seq.Next(ctx)
	if err != nil {
		return CheckoutResult{}, err
	}

	var created *domain.Order
	err = s.store.InTx(ctx, func(tx store.Tx) error {
		items, err := catalog.PriceLines(ctx, tx, lines)
		if err != nil {
			return err
		}
		total, err := domain.CheckedTotal(items)
		if err != nil {
			return err
		}
		now := s.now()
		o := &domain.Order{
			ID:            s.newID(),
			OrderNumber:   number,
			UserID:        in.UserID,
			Customer:      in.Customer,
			Items:         items,
			TotalAmount:   total,
			PaymentMethod: in.PaymentMethod,
			OrderStatus:   domain.StatusPending,
			PaymentStatus: domain.PaymentStatusPending,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := tx.CreateOrder(ctx, o); err != nil {
			return err
		}
		if in.IdempotencyKey != "" {
			if err := tx.SaveIdempotencyKey(ctx, in.IdempotencyKey, o.ID); err != nil {
				return err
			}
		}
		created = o
		return nil
	})
	if errors.Is(err, store.ErrDuplicateIdempotencyKey) {
		existing, qerr := s.store.OrderByIdempotencyKey(ctx, in.IdempotencyKey)
		if qerr != nil {
			return CheckoutResult{}, errors.Join(err, qerr)
		}
		return CheckoutResult{Order: existing, Replayed: true}, nil
	}
	if err != nil {
		return CheckoutResult{}, err
	}
	return CheckoutResult{Order: created}, nil
}
