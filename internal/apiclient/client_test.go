package apiclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nazeru/medstore-orders-go/internal/auth"
	"github.com/nazeru/medstore-orders-go/internal/catalog"
	"github.com/nazeru/medstore-orders-go/internal/httpapi"
	"github.com/nazeru/medstore-orders-go/internal/order/domain"
	"github.com/nazeru/medstore-orders-go/internal/order/lifecycle"
	"github.com/nazeru/medstore-orders-go/internal/sequence"
	"github.com/nazeru/medstore-orders-go/internal/storage/memory"
)

func newAPI(t *testing.T) (*Client, *Client) {
	t.Helper()
	mem := memory.New()
	mem.PutProduct(catalog.Product{ID: "nebulizer", Name: "Nebulizer", Price: 3900, Stock: 1, IsActive: true})
	orders := lifecycle.New(mem, sequence.NewMemory(), nil)
	tokens := auth.NewValidator("secret", "medstore")
	srv := httptest.NewServer(httpapi.New(httpapi.Options{Orders: orders, Auth: tokens}).Handler())
	t.Cleanup(srv.Close)

	admin, err := tokens.Issue("admin-1", auth.RoleAdmin, time.Hour)
	require.NoError(t, err)
	customer, err := tokens.Issue("user-3", "", time.Hour)
	require.NoError(t, err)
	c := New(srv.URL, customer, time.Second)
	return c, c.WithToken(admin)
}

func request() CheckoutRequest {
	return CheckoutRequest{
		Customer:      domain.Customer{Name: "Ray", Email: "ray@example.com", Phone: "1", Address: "2 Pine", City: "Lakeside"},
		Items:         []Item{{ProductID: "nebulizer", Quantity: 1}},
		PaymentMethod: "bank_transfer",
	}
}

func TestClient_BankTransferFlow(t *testing.T) {
	customer, admin := newAPI(t)
	ctx := context.Background()
	require.NoError(t, customer.Health(ctx))

	res, err := customer.Checkout(ctx, request(), "key-1")
	require.NoError(t, err)
	assert.Equal(t, "CREATED", res.Status)

	again, err := customer.Checkout(ctx, request(), "key-1")
	require.NoError(t, err)
	assert.Equal(t, "IDEMPOTENT_REPLAY", again.Status)
	assert.Equal(t, res.Order.ID, again.Order.ID)

	o, err := customer.SubmitProof(ctx, res.Order.ID, "TX5", "proofs/5.png")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaymentPending, o.OrderStatus)

	o, err = admin.Approve(ctx, res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaid, o.OrderStatus)

	o, err = admin.Transition(ctx, res.Order.ID, domain.StatusProcessing)
	require.NoError(t, err)
	assert.True(t, o.StockReduced)

	o, err = customer.Order(ctx, res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, o.OrderStatus)
}

func TestClient_ProblemErrors(t *testing.T) {
	customer, admin := newAPI(t)
	ctx := context.Background()

	_, err := customer.Transition(ctx, "whatever", domain.StatusConfirmed)
	var apiErr *Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
	require.NotNil(t, apiErr.Problem)

	_, err = admin.Reject(ctx, "missing", "no")
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)

	req := request()
	req.Items[0].Quantity = 2
	_, err = customer.Checkout(ctx, req, "")
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.NotNil(t, apiErr.Problem.Items)
}
