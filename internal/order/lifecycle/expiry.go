package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/nazeru/medstore-orders-go/internal/order/domain"
	"github.com/nazeru/medstore-orders-go/internal/order/store"
	"github.com/nazeru/medstore-orders-go/pkg/contracts"
	"github.com/nazeru/medstore-orders-go/pkg/logging"
)

var errNoLongerStale = errors.New("order no longer eligible for expiry")

type ExpiryReport struct {
	Expired []domain.OrderID
	Skipped int
}

// ExpireStale cancels bank-transfer orders still awaiting payment that were
// created more than olderThan ago. Orders with a proof under review are left
// alone. Each order is cancelled in its own transaction through the ordinary
// transition path; per-order storage failures are joined into the error.
func (s *Service) ExpireStale(ctx context.Context, olderThan time.Duration, limit int) (ExpiryReport, error) {
	ctx, span := s.tracer.Start(ctx, "order.expire", trace.WithAttributes(
		attribute.String("expiry.older_than", olderThan.String()),
	))
	defer span.End()

	var report ExpiryReport
	cutoff := s.now().Add(-olderThan)
	ids, err := s.store.ExpiryCandidates(ctx, cutoff, limit)
	if err != nil {
		return report, fmt.Errorf("list expiry candidates: %w", err)
	}

	var errs []error
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		o, err := s.expireOne(ctx, id, cutoff)
		switch {
		case err == nil:
			report.Expired = append(report.Expired, id)
			if s.metrics != nil {
				s.metrics.Expired.Inc()
			}
			s.PublishStatusChange(o)
			s.events.Publish(contracts.NewEvent(contracts.EventPaymentExpired, o.ID, o.UserID, OrderPayload(o)))
			logging.Log(logging.Fields{Service: component, OrderID: id, Step: "expire", Status: "cancelled"})
		case errors.Is(err, errNoLongerStale), IsDomainError(err):
			report.Skipped++
			logging.Log(logging.Fields{Service: component, OrderID: id, Step: "expire", Status: "skipped", Message: err.Error()})
		default:
			errs = append(errs, fmt.Errorf("expire %s: %w", id, err))
			logging.Log(logging.Fields{Service: component, OrderID: id, Step: "expire", Status: "failed", Error: err.Error()})
		}
	}
	span.SetAttributes(attribute.Int("expiry.expired", len(report.Expired)), attribute.Int("expiry.skipped", report.Skipped))
	return report, errors.Join(errs...)
}

func (s *Service) expireOne(ctx context.Context, id domain.OrderID, cutoff time.Time) (*domain.Order, error) {
	var out *domain.Order
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		o, err := tx.LockOrder(ctx, id)
		if err != nil {
			return err
		}
		if !o.Expirable(cutoff) {
			return errNoLongerStale
		}
		if _, err := s.TransitionInTx(ctx, tx, o, domain.StatusCancelled); err != nil {
			return err
		}
		out = o
		return nil
	})
	return out, err
}

// RunExpirySweep calls ExpireStale right away and then every interval until
// ctx is done.
func (s *Service) RunExpirySweep(ctx context.Context, interval, olderThan time.Duration, limit int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		report, err := s.ExpireStale(ctx, olderThan, limit)
		if err != nil && ctx.Err() == nil {
			logging.Log(logging.Fields{Service: component, Step: "expiry_sweep", Status: "failed", Error: err.Error()})
		}
		if len(report.Expired) > 0 || report.Skipped > 0 {
			logging.Log(logging.Fields{
				Service: component,
				Step:    "expiry_sweep",
				Status:  "done",
				Message: fmt.Sprintf("expired=%d skipped=%d", len(report.Expired), report.Skipped),
			})
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
