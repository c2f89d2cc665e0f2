package main

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nazeru/medstore-orders-go/internal/apiclient"
	"github.com/nazeru/medstore-orders-go/internal/auth"
	"github.com/nazeru/medstore-orders-go/internal/catalog"
	"github.com/nazeru/medstore-orders-go/internal/httpapi"
	"github.com/nazeru/medstore-orders-go/internal/order/lifecycle"
	"github.com/nazeru/medstore-orders-go/internal/sequence"
	"github.com/nazeru/medstore-orders-go/internal/storage/memory"
)

func newRunner(t *testing.T, stock int) (*runner, *memory.Store) {
	t.Helper()
	mem := memory.New()
	mem.PutProduct(catalog.Product{ID: "wheelchair", Name: "Folding wheelchair", Price: 18900, Stock: stock, IsActive: true})
	srv := httptest.NewServer(httpapi.New(httpapi.Options{
		Orders:        lifecycle.New(mem, sequence.NewMemory(), nil),
		Auth:          auth.NewValidator("console-secret", "medstore"),
		CheckoutRPS:   1000,
		CheckoutBurst: 1000,
	}).Handler())
	t.Cleanup(srv.Close)

	customer, admin, err := tokens("console-secret", "medstore")
	require.NoError(t, err)
	client := apiclient.New(srv.URL, customer, time.Second)
	return &runner{
		customer: client,
		admin:    client.WithToken(admin),
		product:  "wheelchair",
		racers:   6,
		benchFor: 200 * time.Millisecond,
	}, mem
}

func TestScenarios(t *testing.T) {
	cases := []struct {
		scenario string
		method   string
		want     string
	}{
		{"checkout", "cash_on_delivery", "Order #1000 created: PENDING, total 18900"},
		{"confirm", "cash_on_delivery", "Order #1000 CONFIRMED, stockReduced=true"},
		{"cancel", "cash_on_delivery", "Order #1000 CANCELLED, stockReduced=false"},
		{"approve", "bank_transfer", "Order #1000 PAID, payment paid, verification approved"},
		{"reject", "bank_transfer", "Order #1000 PAYMENT_PENDING, payment pending, verification rejected"},
	}
	for _, tc := range cases {
		t.Run(tc.scenario, func(t *testing.T) {
			r, _ := newRunner(t, 3)
			res := r.run(context.Background(), tc.method, tc.scenario)
			assert.Equal(t, tc.want, res.status)
		})
	}
}

func TestScenarios_RaceConfirmsOnlyAvailableUnits(t *testing.T) {
	r, mem := newRunner(t, 1)
	res := r.run(context.Background(), "cash_on_delivery", "race")
	assert.Equal(t, "Race on wheelchair finished", res.status)
	assert.Equal(t, "orders=6 confirmed=1 out_of_stock=5", res.metrics)

	p, ok := mem.ProductSnapshot("wheelchair")
	require.True(t, ok)
	assert.Zero(t, p.Stock)
}

func TestScenarios_ReportsFailures(t *testing.T) {
	r, _ := newRunner(t, 0)
	res := r.run(context.Background(), "cash_on_delivery", "checkout")
	assert.Contains(t, res.status, "checkout failed: status 409")

	res = r.run(context.Background(), "cash_on_delivery", "teleport")
	assert.Equal(t, `Unknown scenario "teleport"`, res.status)
}

func TestModel_Navigation(t *testing.T) {
	r, _ := newRunner(t, 3)
	var m tea.Model = initialModel(r)

	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyDown})
	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyRight})
	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyRight})
	got := m.(model)
	assert.Equal(t, 1, got.selectedMethod)
	assert.Equal(t, 2, got.selectedScn)
	assert.Contains(t, got.View(), "> cash_on_delivery")
	assert.Contains(t, got.View(), "* cancel")

	m, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	assert.True(t, m.(model).busy)

	m, _ = m.Update(cmd())
	assert.False(t, m.(model).busy)
	assert.Contains(t, m.(model).status, "CANCELLED")
}
