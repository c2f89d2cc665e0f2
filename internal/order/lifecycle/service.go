// Package lifecycle is the order state machine service: checkout, admin
// status transitions with their inventory effects, and the expiry sweep.
package lifecycle

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nazeru/medstore-orders-go/internal/inventory"
	"github.com/nazeru/medstore-orders-go/internal/order/domain"
	"github.com/nazeru/medstore-orders-go/internal/order/store"
	"github.com/nazeru/medstore-orders-go/pkg/contracts"
	"github.com/nazeru/medstore-orders-go/pkg/logging"
	"github.com/nazeru/medstore-orders-go/pkg/metrics"
)

const component = "lifecycle"

// Publisher receives domain events after the triggering transaction has
// committed. Implementations must not block.
type Publisher interface {
	Publish(e contracts.Event)
}

type discard struct{}

func (discard) Publish(contracts.Event) {}

type Service struct {
	store   store.Store
	seq     store.Sequencer
	events  Publisher
	metrics *metrics.OrderMetrics
	tracer  trace.Tracer
	now     func() time.Time
	newID   func() string
}

type Option func(*Service)

func WithMetrics(m *metrics.OrderMetrics) Option { return func(s *Service) { s.metrics = m } }
func WithTracer(t trace.Tracer) Option           { return func(s *Service) { s.tracer = t } }
func WithClock(now func() time.Time) Option      { return func(s *Service) { s.now = now } }
func WithIDs(newID func() string) Option         { return func(s *Service) { s.newID = newID } }

func New(st store.Store, seq store.Sequencer, pub Publisher, opts ...Option) *Service {
	if pub == nil {
		pub = discard{}
	}
	s := &Service{
		store:  st,
		seq:    seq,
		events: pub,
		tracer: otel.Tracer("github.com/nazeru/medstore-orders-go/internal/order/lifecycle"),
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) Store() store.Store             { return s.store }
func (s *Service) Events() Publisher              { return s.events }
func (s *Service) Tracer() trace.Tracer           { return s.tracer }
func (s *Service) Now() time.Time                 { return s.now() }
func (s *Service) Metrics() *metrics.OrderMetrics { return s.metrics }

func (s *Service) Get(ctx context.Context, id domain.OrderID) (*domain.Order, error) {
	return s.store.Order(ctx, id)
}

// ApplyTransition moves an order to the requested status. Inventory effects
// and the status write commit together; a same-status request changes nothing.
func (s *Service) ApplyTransition(ctx context.Context, id domain.OrderID, to domain.Status, actor string) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "order.transition", trace.WithAttributes(
		attribute.String("order.id", id),
		attribute.String("order.status.requested", string(to)),
	))
	defer span.End()
	started := time.Now()

	var (
		out  *domain.Order
		plan domain.Plan
		from domain.Status
	)
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		o, err := tx.LockOrder(ctx, id)
		if err != nil {
			return err
		}
		from = o.OrderStatus
		plan, err = s.TransitionInTx(ctx, tx, o, to)
		if err != nil {
			return err
		}
		out = o
		return nil
	})
	s.observeTransition(from, to, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logTransitionFailure(id, from, to, actor, err)
		return nil, err
	}

	logging.Log(logging.Fields{
		Service:    component,
		OrderID:    id,
		UserID:     actor,
		Step:       "transition",
		Status:     string(from) + "->" + string(to),
		DurationMS: time.Since(started).Milliseconds(),
		Message:    "stock " + plan.Stock.String(),
	})
	if !plan.NoOp {
		s.PublishStatusChange(out)
	}
	return out, nil
}

// TransitionInTx plans and executes a transition on an order already locked
// by tx, runs the inventory effect and writes the order. Callers may have
// changed other fields of o before calling; they are written too.
func (s *Service) TransitionInTx(ctx context.Context, tx store.Tx, o *domain.Order, to domain.Status) (domain.Plan, error) {
	plan, err := domain.PlanTransition(o, to)
	if err != nil || plan.NoOp {
		return plan, err
	}

	ledger := inventory.NewLedger(tx)
	switch plan.Stock {
	case domain.StockReserve:
		if err := ledger.Reserve(ctx, o.Items); err != nil {
			return plan, err
		}
	case domain.StockRestore:
		if err := ledger.Restore(ctx, o.Items); err != nil {
			return plan, err
		}
	}

	o.Apply(plan, s.now())
	if err := tx.UpdateOrder(ctx, o); err != nil {
		return plan, err
	}
	return plan, nil
}

// PublishStatusChange emits the status update addressed to the customer and
// a dashboard refresh.
func (s *Service) PublishStatusChange(o *domain.Order) {
	payload := OrderPayload(o)
	payload["isDelivered"] = o.IsDelivered
	if o.DeliveredAt != nil {
		payload["deliveredAt"] = o.DeliveredAt.Format(time.RFC3339)
	}
	s.events.Publish(contracts.NewEvent(contracts.EventOrderStatusUpdate, o.ID, o.UserID, payload))
	s.PublishAnalytics(o, contracts.EventOrderStatusUpdate)
}

func (s *Service) PublishAnalytics(o *domain.Order, reason string) {
	s.events.Publish(contracts.NewEvent(contracts.EventAnalyticsUpdate, o.ID, "", map[string]any{
		"reason":      reason,
		"orderStatus": string(o.OrderStatus),
	}))
}

// OrderPayload is the common event body for an order.
func OrderPayload(o *domain.Order) map[string]any {
	return map[string]any{
		"orderId":       o.ID,
		"orderNumber":   o.OrderNumber,
		"orderStatus":   string(o.OrderStatus),
		"paymentStatus": string(o.PaymentStatus),
		"paymentMethod": string(o.PaymentMethod),
		"totalAmount":   o.TotalAmount,
		"customerName":  o.Customer.Name,
		"customerEmail": o.Customer.Email,
	}
}

func (s *Service) observeTransition(from, to domain.Status, err error) {
	if s.metrics == nil {
		return
	}
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrInsufficientStock):
		result = "insufficient_stock"
		s.metrics.StockRejections.Inc()
	case errors.Is(err, domain.ErrInvalidTransition):
		result = "invalid_transition"
	case errors.Is(err, domain.ErrNotFound):
		result = "not_found"
	default:
		result = "error"
	}
	s.metrics.Transitions.WithLabelValues(string(from), string(to), result).Inc()
}

func (s *Service) logTransitionFailure(id domain.OrderID, from, to domain.Status, actor string, err error) {
	f := logging.Fields{
		Service: component,
		OrderID: id,
		UserID:  actor,
		Step:    "transition",
		Status:  "rejected",
		Message: string(from) + "->" + string(to) + ": " + err.Error(),
	}
	if !IsDomainError(err) {
		f.Status = "failed"
		f.Error = err.Error()
	}
	logging.Log(f)
}

// IsDomainError reports whether err belongs to the order core's error taxonomy.
func IsDomainError(err error) bool {
	for _, target := range []error{
		domain.ErrNotFound, domain.ErrInsufficientStock, domain.ErrInvalidTransition, domain.ErrInvalidOperation,
		domain.ErrProductUnavailable, domain.ErrPriceChanged, domain.ErrConcurrentUpdate, domain.ErrValidation,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
