package main

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nazeru/medstore-orders-go/internal/apiclient"
	"github.com/nazeru/medstore-orders-go/internal/auth"
	"github.com/nazeru/medstore-orders-go/internal/catalog"
	"github.com/nazeru/medstore-orders-go/internal/httpapi"
	"github.com/nazeru/medstore-orders-go/internal/order/domain"
	"github.com/nazeru/medstore-orders-go/internal/order/lifecycle"
	"github.com/nazeru/medstore-orders-go/internal/sequence"
	"github.com/nazeru/medstore-orders-go/internal/storage/memory"
	"github.com/nazeru/medstore-orders-go/pkg/problem"
)

func TestPercentile(t *testing.T) {
	values := []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100}
	assert.Equal(t, 50.0, percentile(values, 0.50))
	assert.Equal(t, 90.0, percentile(values, 0.90))
	assert.Equal(t, 100.0, percentile(values, 0.99))
	assert.Equal(t, 10.0, percentile(values, 0))
	assert.Zero(t, percentile(nil, 0.5))
}

func TestSummarize(t *testing.T) {
	samples := []float64{3, 1, 2}
	got := summarize(samples)
	assert.Equal(t, latencySummary{Count: 3, Avg: 2, Min: 1, Max: 3, P50: 2, P90: 3, P95: 3, P99: 3}, got)
	assert.Equal(t, []float64{3, 1, 2}, samples, "input left unsorted")
	assert.Equal(t, latencySummary{}, summarize(nil))
}

func TestClassifyError(t *testing.T) {
	cases := []struct {
		err    error
		status int
		class  string
	}{
		{nil, 200, ""},
		{errors.New("connection refused"), 0, "transport"},
		{&apiclient.Error{StatusCode: 409, Problem: &problem.Detail{Items: []any{"x"}}}, 409, "out_of_stock"},
		{&apiclient.Error{StatusCode: 409}, 409, "conflict"},
		{&apiclient.Error{StatusCode: 422}, 422, "business_rejected"},
		{&apiclient.Error{StatusCode: 429}, 429, "rate_limited"},
		{&apiclient.Error{StatusCode: 503}, 503, "http_5xx"},
		{&apiclient.Error{StatusCode: 404}, 404, "http_4xx"},
	}
	for _, tc := range cases {
		status, class := classifyError(tc.err)
		assert.Equal(t, tc.status, status)
		assert.Equal(t, tc.class, class)
	}
}

func TestParseFinalStatuses(t *testing.T) {
	got, err := parseFinalStatuses(" confirmed, PAID,,")
	require.NoError(t, err)
	assert.Equal(t, []domain.Status{domain.StatusConfirmed, domain.StatusPaid}, got)

	_, err = parseFinalStatuses("PAID,ARCHIVED")
	assert.Error(t, err)
}

func TestRunBench_PaymentScenario(t *testing.T) {
	mem := memory.New()
	mem.PutProduct(catalog.Product{ID: "stethoscope", Name: "Stethoscope", Price: 1200, Stock: 5, IsActive: true})
	srv := httptest.NewServer(httpapi.New(httpapi.Options{
		Orders:        lifecycle.New(mem, sequence.NewMemory(), nil),
		Auth:          auth.NewValidator("bench-secret", "medstore"),
		CheckoutRPS:   1000,
		CheckoutBurst: 1000,
	}).Handler())
	t.Cleanup(srv.Close)

	customerToken, adminToken, err := benchTokens("bench-secret", "medstore")
	require.NoError(t, err)
	customer := apiclient.New(srv.URL, customerToken, time.Second)
	ops, err := buildOperations("payment", "stethoscope", customer, customer.WithToken(adminToken))
	require.NoError(t, err)
	require.Len(t, ops, 3)

	cfg := benchConfig{
		Scenario:      "payment",
		Product:       "stethoscope",
		Total:         8,
		Concurrency:   4,
		Timeout:       time.Second,
		AwaitFinal:    true,
		FinalTimeout:  time.Second,
		FinalInterval: 10 * time.Millisecond,
		FinalStatuses: []domain.Status{domain.StatusPaid},
	}
	rec := runBench(context.Background(), cfg, ops, customer)
	res := rec.result(cfg, srv.URL, ops, time.Second)

	assert.Equal(t, []string{"checkout", "payment-proof", "approve"}, res.Operations)
	assert.Equal(t, 5, res.Succeeded)
	assert.Equal(t, 3, res.Failed)
	assert.Equal(t, 5, res.Latency.Count)
	require.NotNil(t, res.Final)
	assert.Equal(t, 5, res.Final.Reached)
	assert.Zero(t, res.Final.TimedOut)
	assert.Equal(t, 3, res.ErrorClasses["out_of_stock"])
	assert.Equal(t, 24, res.TotalOperations)
	assert.NotEmpty(t, res.FirstError)

	p, ok := mem.ProductSnapshot("stethoscope")
	require.True(t, ok)
	assert.Zero(t, p.Stock)
}

func TestBuildOperations_UnknownScenario(t *testing.T) {
	_, err := buildOperations("2pc", "x", nil, nil)
	assert.EqualError(t, err, "unknown scenario: 2pc")
}
