package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nazeru/medstore-orders-go/internal/order/domain"
	"github.com/nazeru/medstore-orders-go/internal/order/store"
	"github.com/nazeru/medstore-orders-go/pkg/contracts"
)

func seed(t *testing.T, f *fixture, o *domain.Order) {
	t.Helper()
	require.NoError(t, f.mem.InTx(context.Background(), func(tx store.Tx) error {
		return tx.CreateOrder(context.Background(), o)
	}))
}

func TestExpireStale(t *testing.T) {
	f := newFixture(t, product("mask", 100, 10))
	old := fixedNow.Add(-96 * time.Hour)
	items := []domain.LineItem{{ProductID: "mask", Quantity: 2, UnitPrice: 100}}

	seed(t, f, &domain.Order{ID: "stale", OrderNumber: 1, UserID: "u1", Customer: customer, Items: items, TotalAmount: 200,
		PaymentMethod: domain.PaymentBankTransfer, OrderStatus: domain.StatusPending, PaymentStatus: domain.PaymentStatusPending, CreatedAt: old})
	seed(t, f, &domain.Order{ID: "rejected-proof", OrderNumber: 2, Items: items, TotalAmount: 200,
		PaymentMethod: domain.PaymentBankTransfer, OrderStatus: domain.StatusPaymentPending, PaymentStatus: domain.PaymentStatusPending,
		VerificationStatus: domain.VerificationRejected, CreatedAt: old.Add(time.Minute)})
	seed(t, f, &domain.Order{ID: "under-review", OrderNumber: 3, Items: items, TotalAmount: 200,
		PaymentMethod: domain.PaymentBankTransfer, OrderStatus: domain.StatusPaymentPending, PaymentStatus: domain.PaymentStatusPending,
		VerificationStatus: domain.VerificationPending, CreatedAt: old})
	seed(t, f, &domain.Order{ID: "cod", OrderNumber: 4, Items: items, TotalAmount: 200,
		PaymentMethod: domain.PaymentCashOnDelivery, OrderStatus: domain.StatusPending, PaymentStatus: domain.PaymentStatusPending, CreatedAt: old})
	seed(t, f, &domain.Order{ID: "recent", OrderNumber: 5, Items: items, TotalAmount: 200,
		PaymentMethod: domain.PaymentBankTransfer, OrderStatus: domain.StatusPending, PaymentStatus: domain.PaymentStatusPending, CreatedAt: fixedNow})

	report, err := f.svc.ExpireStale(context.Background(), 72*time.Hour, 10)
	require.NoError(t, err)
	assert.Equal(t, []domain.OrderID{"stale", "rejected-proof"}, report.Expired)

	for id, want := range map[string]domain.Status{
		"stale":          domain.StatusCancelled,
		"rejected-proof": domain.StatusCancelled,
		"under-review":   domain.StatusPaymentPending,
		"cod":            domain.StatusPending,
		"recent":         domain.StatusPending,
	} {
		o, err := f.svc.Get(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, want, o.OrderStatus, id)
		if want == domain.StatusCancelled {
			assert.Equal(t, domain.PaymentStatusFailed, o.PaymentStatus, id)
		}
	}
	assert.Equal(t, 10, f.stock("mask"))
	assert.Equal(t, int32(0), f.store.increments.Load())

	types := f.rec.types()
	assert.Contains(t, types, contracts.EventPaymentExpired)
	assert.Contains(t, types, contracts.EventOrderStatusUpdate)
}

func TestExpireStale_NothingToDo(t *testing.T) {
	f := newFixture(t)
	report, err := f.svc.ExpireStale(context.Background(), time.Hour, 10)
	require.NoError(t, err)
	assert.Empty(t, report.Expired)
	assert.Zero(t, report.Skipped)
}

func TestRunExpirySweep_SweepsImmediatelyAndStops(t *testing.T) {
	f := newFixture(t, product("mask", 100, 10))
	seed(t, f, &domain.Order{ID: "stale", OrderNumber: 1, Customer: customer,
		Items: []domain.LineItem{{ProductID: "mask", Quantity: 1, UnitPrice: 100}}, TotalAmount: 100,
		PaymentMethod: domain.PaymentBankTransfer, OrderStatus: domain.StatusPending, PaymentStatus: domain.PaymentStatusPending,
		CreatedAt: fixedNow.Add(-96 * time.Hour)})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.svc.RunExpirySweep(ctx, time.Hour, 72*time.Hour, 10)
	}()

	require.Eventually(t, func() bool {
		o, err := f.svc.Get(context.Background(), "stale")
		return err == nil && o.OrderStatus == domain.StatusCancelled
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweep did not stop")
	}
}
