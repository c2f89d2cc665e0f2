package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nazeru/medstore-orders-go/internal/catalog"
	"github.com/nazeru/medstore-orders-go/internal/order/domain"
	"github.com/nazeru/medstore-orders-go/internal/order/store"
	"github.com/nazeru/medstore-orders-go/internal/sequence"
	"github.com/nazeru/medstore-orders-go/internal/storage/memory"
	"github.com/nazeru/medstore-orders-go/pkg/contracts"
)

var fixedNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type recorder struct {
	mu     sync.Mutex
	events []contracts.Event
}

func (r *recorder) Publish(e contracts.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// countingStore counts stock increments made through its transactions.
type countingStore struct {
	store.Store
	increments atomic.Int32
}

func (c *countingStore) InTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return c.Store.InTx(ctx, func(tx store.Tx) error {
		return fn(&countingTx{Tx: tx, n: &c.increments})
	})
}

type countingTx struct {
	store.Tx
	n *atomic.Int32
}

func (t *countingTx) Increment(ctx context.Context, id domain.ProductID, qty int) error {
	t.n.Add(1)
	return t.Tx.Increment(ctx, id, qty)
}

type fixture struct {
	svc   *Service
	mem   *memory.Store
	store *countingStore
	rec   *recorder
}

func newFixture(t *testing.T, products ...catalog.Product) *fixture {
	t.Helper()
	mem := memory.New()
	for _, p := range products {
		mem.PutProduct(p)
	}
	cs := &countingStore{Store: mem}
	rec := &recorder{}
	var ids atomic.Int64
	svc := New(cs, sequence.NewMemory(), rec,
		WithClock(func() time.Time { return fixedNow }),
		WithIDs(func() string { return fmt.Sprintf("ord-%d", ids.Add(1)) }),
	)
	return &fixture{svc: svc, mem: mem, store: cs, rec: rec}
}

func (f *fixture) stock(id domain.ProductID) int {
	p, _ := f.mem.ProductSnapshot(id)
	return p.Stock
}

var customer = domain.Customer{
	Name:    "Dana Roe",
	Email:   "dana@example.com",
	Phone:   "+10000000",
	Address: "1 Clinic Rd",
	City:    "Springfield",
}

func checkout(t *testing.T, f *fixture, method domain.PaymentMethod, items ...CheckoutItem) *domain.Order {
	t.Helper()
	res, err := f.svc.CreateOrder(context.Background(), CheckoutInput{
		UserID:        "user-1",
		Customer:      customer,
		Items:         items,
		PaymentMethod: method,
	})
	require.NoError(t, err)
	return res.Order
}

func product(id string, price int64, stock int) catalog.Product {
	return catalog.Product{ID: id, Name: id, Price: price, Stock: stock, IsActive: true}
}

func TestCreateOrder_CapturesPricesAndTotal(t *testing.T) {
	f := newFixture(t, product("mask", 150, 10), product("gloves", 990, 3))

	o := checkout(t, f, domain.PaymentCashOnDelivery,
		CheckoutItem{ProductID: "mask", Quantity: 4},
		CheckoutItem{ProductID: "gloves", Quantity: 2, ExpectedUnitPrice: 990},
	)

	assert.Equal(t, domain.StatusPending, o.OrderStatus)
	assert.Equal(t, domain.PaymentStatusPending, o.PaymentStatus)
	assert.Equal(t, domain.VerificationNone, o.VerificationStatus)
	assert.False(t, o.StockReduced)
	assert.Equal(t, sequence.Start, o.OrderNumber)
	assert.Equal(t, int64(4*150+2*990), o.TotalAmount)
	assert.Equal(t, 10, f.stock("mask"), "checkout must not touch stock")
	assert.Equal(t, []string{contracts.EventNewOrder, contracts.EventAnalyticsUpdate}, f.rec.types())

	f.mem.SetPrice("mask", 9999)
	got, err := f.svc.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(4*150+2*990), got.TotalAmount)
	require.NoError(t, got.CheckTotal())
}

func TestCreateOrder_MergesDuplicateLines(t *testing.T) {
	f := newFixture(t, product("mask", 100, 10))
	o := checkout(t, f, domain.PaymentCashOnDelivery,
		CheckoutItem{ProductID: "mask", Quantity: 2},
		CheckoutItem{ProductID: "mask", Quantity: 3},
	)
	require.Len(t, o.Items, 1)
	assert.Equal(t, 5, o.Items[0].Quantity)
	assert.Equal(t, int64(500), o.TotalAmount)
}

func TestCreateOrder_ReportsOffendingProducts(t *testing.T) {
	inactive := product("old-model", 100, 5)
	inactive.IsActive = false
	f := newFixture(t, product("mask", 100, 1), inactive)

	tests := []struct {
		name   string
		items  []CheckoutItem
		target error
		ids    []string
	}{
		{
			name:   "missing and inactive",
			items:  []CheckoutItem{{ProductID: "ghost", Quantity: 1}, {ProductID: "old-model", Quantity: 1}},
			target: domain.ErrProductUnavailable,
			ids:    []string{"ghost", "old-model"},
		},
		{
			name:   "price changed",
			items:  []CheckoutItem{{ProductID: "mask", Quantity: 1, ExpectedUnitPrice: 80}},
			target: domain.ErrPriceChanged,
			ids:    []string{"mask"},
		},
		{
			name:   "insufficient stock",
			items:  []CheckoutItem{{ProductID: "mask", Quantity: 2}},
			target: domain.ErrInsufficientStock,
			ids:    []string{"mask"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.CreateOrder(context.Background(), CheckoutInput{
				Customer: customer, Items: tc.items, PaymentMethod: domain.PaymentBankTransfer,
			})
			require.ErrorIs(t, err, tc.target)
			for _, id := range tc.ids {
				assert.Contains(t, err.Error(), id)
			}
		})
	}
	assert.Empty(t, f.rec.types())
}

func TestCreateOrder_Validation(t *testing.T) {
	f := newFixture(t, product("mask", 100, 1))
	bad := customer
	bad.Email = "not-an-email"

	for name, in := range map[string]CheckoutInput{
		"no items":       {Customer: customer, PaymentMethod: domain.PaymentCashOnDelivery},
		"zero quantity":  {Customer: customer, PaymentMethod: domain.PaymentCashOnDelivery, Items: []CheckoutItem{{ProductID: "mask"}}},
		"bad email":      {Customer: bad, PaymentMethod: domain.PaymentCashOnDelivery, Items: []CheckoutItem{{ProductID: "mask", Quantity: 1}}},
		"unknown method": {Customer: customer, PaymentMethod: "crypto", Items: []CheckoutItem{{ProductID: "mask", Quantity: 1}}},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.CreateOrder(context.Background(), in)
			require.ErrorIs(t, err, domain.ErrValidation)
		})
	}
}

func TestCreateOrder_RejectsOutOfRangeQuantities(t *testing.T) {
	f := newFixture(t, product("p1", 100, 5))

	tests := map[string][]CheckoutItem{
		"duplicate lines overflow int": {{ProductID: "p1", Quantity: math.MaxInt}, {ProductID: "p1", Quantity: math.MaxInt}},
		"duplicate lines above bound":  {{ProductID: "p1", Quantity: domain.MaxLineQuantity}, {ProductID: "p1", Quantity: 1}},
		"single huge line":             {{ProductID: "p1", Quantity: domain.MaxLineQuantity + 1}},
		"negative line":                {{ProductID: "p1", Quantity: -2}},
	}
	for name, items := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.CreateOrder(context.Background(), CheckoutInput{
				Customer: customer, Items: items, PaymentMethod: domain.PaymentCashOnDelivery,
			})
			require.ErrorIs(t, err, domain.ErrValidation)
		})
	}
	assert.Empty(t, f.rec.types())
	assert.Equal(t, 5, f.stock("p1"))

	o := checkout(t, f, domain.PaymentCashOnDelivery, CheckoutItem{ProductID: "p1", Quantity: 2})
	assert.Equal(t, sequence.Start, o.OrderNumber, "rejected carts must not take order numbers")
	_, err := f.svc.ApplyTransition(context.Background(), o.ID, domain.StatusProcessing, "admin")
	require.NoError(t, err)
	assert.Equal(t, 3, f.stock("p1"))
}

func TestApplyTransition_StoredNegativeLineNeverRaisesStock(t *testing.T) {
	f := newFixture(t, product("p1", 100, 5))
	legacy := &domain.Order{
		ID:            "legacy-1",
		OrderNumber:   900,
		Customer:      customer,
		Items:         []domain.LineItem{{ProductID: "p1", Quantity: -2, UnitPrice: 100}},
		TotalAmount:   -200,
		PaymentMethod: domain.PaymentCashOnDelivery,
		OrderStatus:   domain.StatusPending,
		PaymentStatus: domain.PaymentStatusPending,
		CreatedAt:     fixedNow,
		UpdatedAt:     fixedNow,
	}
	require.NoError(t, f.mem.InTx(context.Background(), func(tx store.Tx) error {
		return tx.CreateOrder(context.Background(), legacy)
	}))

	_, err := f.svc.ApplyTransition(context.Background(), legacy.ID, domain.StatusProcessing, "admin")
	require.ErrorIs(t, err, domain.ErrValidation)
	assert.Equal(t, 5, f.stock("p1"))

	got, err := f.svc.Get(context.Background(), legacy.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, got.OrderStatus)
	assert.False(t, got.StockReduced)
}

func TestCreateOrder_IdempotentReplay(t *testing.T) {
	f := newFixture(t, product("mask", 100, 10))
	in := CheckoutInput{
		Customer:       customer,
		Items:          []CheckoutItem{{ProductID: "mask", Quantity: 1}},
		PaymentMethod:  domain.PaymentBankTransfer,
		IdempotencyKey: "cart-42",
	}

	first, err := f.svc.CreateOrder(context.Background(), in)
	require.NoError(t, err)
	assert.False(t, first.Replayed)

	second, err := f.svc.CreateOrder(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Order.ID, second.Order.ID)
	assert.Equal(t, []string{contracts.EventNewOrder, contracts.EventAnalyticsUpdate}, f.rec.types())
}

func TestCreateOrder_ConcurrentSameKeyCreatesOne(t *testing.T) {
	f := newFixture(t, product("mask", 100, 10))
	in := CheckoutInput{
		Customer:       customer,
		Items:          []CheckoutItem{{ProductID: "mask", Quantity: 1}},
		PaymentMethod:  domain.PaymentBankTransfer,
		IdempotencyKey: "double-click",
	}

	const n = 8
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.svc.CreateOrder(context.Background(), in)
			if assert.NoError(t, err) {
				ids[i] = res.Order.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids[1:] {
		assert.Equal(t, ids[0], id)
	}
}

func TestApplyTransition_ReserveIsIdempotentAndCancelRestores(t *testing.T) {
	f := newFixture(t, product("mask", 100, 10), product("gloves", 50, 4))
	o := checkout(t, f, domain.PaymentCashOnDelivery,
		CheckoutItem{ProductID: "mask", Quantity: 3},
		CheckoutItem{ProductID: "gloves", Quantity: 4},
	)
	ctx := context.Background()

	got, err := f.svc.ApplyTransition(ctx, o.ID, domain.StatusProcessing, "admin-1")
	require.NoError(t, err)
	assert.True(t, got.StockReduced)
	assert.Equal(t, 7, f.stock("mask"))
	assert.Equal(t, 0, f.stock("gloves"))

	f.rec.reset()
	got, err = f.svc.ApplyTransition(ctx, o.ID, domain.StatusProcessing, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, got.OrderStatus)
	assert.Equal(t, 7, f.stock("mask"), "same-status request must not decrement again")
	assert.Empty(t, f.rec.types())

	got, err = f.svc.ApplyTransition(ctx, o.ID, domain.StatusCancelled, "admin-1")
	require.NoError(t, err)
	assert.False(t, got.StockReduced)
	assert.Equal(t, domain.PaymentStatusFailed, got.PaymentStatus)
	assert.Equal(t, 10, f.stock("mask"))
	assert.Equal(t, 4, f.stock("gloves"))
	assert.Equal(t, []string{contracts.EventOrderStatusUpdate, contracts.EventAnalyticsUpdate}, f.rec.types())
}

func TestApplyTransition_PaidThenShippedDecrementsOnce(t *testing.T) {
	f := newFixture(t, product("mask", 100, 5))
	o := checkout(t, f, domain.PaymentCashOnDelivery, CheckoutItem{ProductID: "mask", Quantity: 2})
	ctx := context.Background()

	for _, st := range []domain.Status{domain.StatusPaid, domain.StatusConfirmed, domain.StatusShipped, domain.StatusDelivered} {
		_, err := f.svc.ApplyTransition(ctx, o.ID, st, "admin-1")
		require.NoError(t, err, st)
	}
	got, err := f.svc.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, f.stock("mask"))
	assert.True(t, got.IsDelivered)
	require.NotNil(t, got.DeliveredAt)
	assert.Equal(t, fixedNow, *got.DeliveredAt)
	assert.Equal(t, domain.PaymentStatusPaid, got.PaymentStatus)
}

func TestApplyTransition_DeliveredIsTerminal(t *testing.T) {
	f := newFixture(t, product("mask", 100, 5))
	o := checkout(t, f, domain.PaymentCashOnDelivery, CheckoutItem{ProductID: "mask", Quantity: 1})
	ctx := context.Background()
	for _, st := range []domain.Status{domain.StatusProcessing, domain.StatusShipped, domain.StatusDelivered} {
		_, err := f.svc.ApplyTransition(ctx, o.ID, st, "admin-1")
		require.NoError(t, err)
	}
	before, err := f.svc.Get(ctx, o.ID)
	require.NoError(t, err)

	for _, st := range domain.AllStatuses {
		if st == domain.StatusDelivered {
			continue
		}
		_, err := f.svc.ApplyTransition(ctx, o.ID, st, "admin-1")
		require.ErrorIs(t, err, domain.ErrInvalidTransition, st)
	}
	after, err := f.svc.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, 4, f.stock("mask"))
}

func TestApplyTransition_RejectsSkippedSteps(t *testing.T) {
	f := newFixture(t, product("mask", 100, 5))
	o := checkout(t, f, domain.PaymentCashOnDelivery, CheckoutItem{ProductID: "mask", Quantity: 1})

	_, err := f.svc.ApplyTransition(context.Background(), o.ID, domain.StatusDelivered, "admin-1")
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Contains(t, err.Error(), "PENDING")
	assert.Contains(t, err.Error(), "DELIVERED")
	assert.Equal(t, 5, f.stock("mask"))
}

func TestApplyTransition_UnknownOrder(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.ApplyTransition(context.Background(), "missing", domain.StatusProcessing, "admin-1")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestApplyTransition_InsufficientStockLeavesOrderUntouched(t *testing.T) {
	f := newFixture(t, product("mask", 100, 5), product("ventilator", 100000, 1))
	o := checkout(t, f, domain.PaymentCashOnDelivery,
		CheckoutItem{ProductID: "mask", Quantity: 2},
		CheckoutItem{ProductID: "ventilator", Quantity: 1},
	)
	// another order takes the last ventilator first
	other := checkout(t, f, domain.PaymentCashOnDelivery, CheckoutItem{ProductID: "ventilator", Quantity: 1})
	_, err := f.svc.ApplyTransition(context.Background(), other.ID, domain.StatusProcessing, "admin-1")
	require.NoError(t, err)
	f.rec.reset()

	_, err = f.svc.ApplyTransition(context.Background(), o.ID, domain.StatusProcessing, "admin-1")
	var se *domain.InsufficientStockError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, []string{"ventilator"}, se.ProductIDs())

	got, err := f.svc.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, got.OrderStatus)
	assert.False(t, got.StockReduced)
	assert.Equal(t, 5, f.stock("mask"))
	assert.Empty(t, f.rec.types())
}

func TestApplyTransition_LastUnitRace(t *testing.T) {
	f := newFixture(t, product("ventilator", 100000, 1))
	a := checkout(t, f, domain.PaymentCashOnDelivery, CheckoutItem{ProductID: "ventilator", Quantity: 1})
	b := checkout(t, f, domain.PaymentCashOnDelivery, CheckoutItem{ProductID: "ventilator", Quantity: 1})

	var (
		wg   sync.WaitGroup
		errs = make([]error, 2)
	)
	for i, id := range []string{a.ID, b.ID} {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			_, errs[i] = f.svc.ApplyTransition(context.Background(), id, domain.StatusProcessing, "admin-1")
		}(i, id)
	}
	wg.Wait()

	var wins, shortages int
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, domain.ErrInsufficientStock):
			shortages++
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, shortages)
	assert.Equal(t, 0, f.stock("ventilator"))

	var reduced int
	for _, id := range []string{a.ID, b.ID} {
		o, err := f.svc.Get(context.Background(), id)
		require.NoError(t, err)
		if o.StockReduced {
			reduced++
			assert.Equal(t, domain.StatusProcessing, o.OrderStatus)
		} else {
			assert.Equal(t, domain.StatusPending, o.OrderStatus)
		}
	}
	assert.Equal(t, 1, reduced)
}

func TestApplyTransition_ConcurrentCancelAndConfirm(t *testing.T) {
	f := newFixture(t, product("mask", 100, 10))
	o := checkout(t, f, domain.PaymentCashOnDelivery, CheckoutItem{ProductID: "mask", Quantity: 3})
	_, err := f.svc.ApplyTransition(context.Background(), o.ID, domain.StatusConfirmed, "admin-1")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for _, st := range []domain.Status{domain.StatusCancelled, domain.StatusShipped, domain.StatusCancelled} {
		wg.Add(1)
		go func(st domain.Status) {
			defer wg.Done()
			_, _ = f.svc.ApplyTransition(context.Background(), o.ID, st, "admin-2")
		}(st)
	}
	wg.Wait()

	got, err := f.svc.Get(context.Background(), o.ID)
	require.NoError(t, err)
	if got.StockReduced {
		assert.Equal(t, 7, f.stock("mask"))
	} else {
		assert.Equal(t, domain.StatusCancelled, got.OrderStatus)
		assert.Equal(t, 10, f.stock("mask"))
	}
}

func TestApplyTransition_CODCancelNeverIncrements(t *testing.T) {
	f := newFixture(t, product("mask", 100, 10))
	o := checkout(t, f, domain.PaymentCashOnDelivery, CheckoutItem{ProductID: "mask", Quantity: 3})

	got, err := f.svc.ApplyTransition(context.Background(), o.ID, domain.StatusCancelled, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, got.OrderStatus)
	assert.False(t, got.StockReduced)
	assert.Equal(t, int32(0), f.store.increments.Load())
	assert.Equal(t, 10, f.stock("mask"))
}

func TestApplyTransition_StockConservation(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 60
	properties := gopter.NewProperties(parameters)

	properties.Property("stock equals initial minus the reserved quantity", prop.ForAll(
		func(initial, qty int, walk []int) bool {
			f := newFixture(t, product("mask", 100, initial))
			res, err := f.svc.CreateOrder(context.Background(), CheckoutInput{
				Customer: customer, Items: []CheckoutItem{{ProductID: "mask", Quantity: qty}},
				PaymentMethod: domain.PaymentCashOnDelivery,
			})
			if err != nil {
				return errors.Is(err, domain.ErrInsufficientStock) && qty > initial
			}
			for _, step := range walk {
				_, _ = f.svc.ApplyTransition(context.Background(), res.Order.ID, domain.AllStatuses[step], "prop")
			}
			o, err := f.svc.Get(context.Background(), res.Order.ID)
			if err != nil {
				return false
			}
			want := initial
			if o.StockReduced {
				want -= qty
			}
			return f.stock("mask") == want && f.stock("mask") >= 0
		},
		gen.IntRange(0, 5),
		gen.IntRange(1, 5),
		gen.SliceOfN(6, gen.IntRange(0, len(domain.AllStatuses)-1)),
	))

	properties.TestingRun(t)
}
