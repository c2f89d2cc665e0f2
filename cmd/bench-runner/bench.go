package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/nazeru/medstore-orders-go/internal/apiclient"
	"github.com/nazeru/medstore-orders-go/internal/order/domain"
)

// latencySummary describes one latency distribution in milliseconds.
type latencySummary struct {
	Count int     `json:"count"`
	Avg   float64 `json:"avg_ms"`
	Min   float64 `json:"min_ms"`
	Max   float64 `json:"max_ms"`
	P50   float64 `json:"p50_ms"`
	P90   float64 `json:"p90_ms"`
	P95   float64 `json:"p95_ms"`
	P99   float64 `json:"p99_ms"`
}

type finalSummary struct {
	Statuses []domain.Status `json:"statuses"`
	Reached  int             `json:"reached"`
	TimedOut int             `json:"timed_out"`
	Latency  latencySummary  `json:"latency"`
}

type benchResult struct {
	Timestamp       string         `json:"timestamp"`
	BaseURL         string         `json:"base_url"`
	Scenario        string         `json:"scenario"`
	Product         string         `json:"product"`
	Operations      []string       `json:"operations"`
	Transactions    int            `json:"transactions"`
	Concurrency     int            `json:"concurrency"`
	TotalOperations int            `json:"total_operations"`
	Succeeded       int            `json:"succeeded"`
	Failed          int            `json:"failed"`
	DurationSeconds float64        `json:"duration_seconds"`
	ThroughputTPS   float64        `json:"throughput_tps"`
	Latency         latencySummary `json:"latency"`
	Final           *finalSummary  `json:"final,omitempty"`
	HTTPStatuses    map[int]int    `json:"http_statuses"`
	ErrorClasses    map[string]int `json:"error_classes"`
	FirstError      string         `json:"first_error,omitempty"`
}

// session is the state one transaction carries between its operations.
type session struct {
	order *domain.Order
}

type operation struct {
	name string
	run  func(ctx context.Context, s *session) error
}

type benchConfig struct {
	Scenario      string
	Product       string
	Total         int
	Concurrency   int
	Timeout       time.Duration
	AwaitFinal    bool
	FinalTimeout  time.Duration
	FinalInterval time.Duration
	FinalStatuses []domain.Status
}

// recorder collects outcomes from all workers.
type recorder struct {
	mu        sync.Mutex
	txMs      []float64
	failed    int
	finalMs   []float64
	timedOut  int
	statuses  map[int]int
	classes   map[string]int
	firstFail error
}

func newRecorder() *recorder {
	return &recorder{statuses: map[int]int{}, classes: map[string]int{}}
}

func (r *recorder) transaction(latency time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.failed++
		return
	}
	r.txMs = append(r.txMs, millis(latency))
}

func (r *recorder) final(latency time.Duration, reached bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if reached {
		r.finalMs = append(r.finalMs, millis(latency))
	} else {
		r.timedOut++
	}
}

func (r *recorder) operation(err error) {
	status, class := classifyError(err)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses[status]++
	if class == "" {
		return
	}
	r.classes[class]++
	if r.firstFail == nil {
		r.firstFail = err
	}
}

func buildOperations(scenario, product string, customer, admin *apiclient.Client) ([]operation, error) {
	checkout := func(method domain.PaymentMethod) operation {
		return operation{name: "checkout", run: func(ctx context.Context, s *session) error {
			res, err := customer.Checkout(ctx, apiclient.CheckoutRequest{
				Customer: domain.Customer{
					Name:    "Bench Customer",
					Email:   "bench@example.com",
					Phone:   "+10000000001",
					Address: "1 Load Street",
					City:    "Benchville",
				},
				Items:         []apiclient.Item{{ProductID: product, Quantity: 1}},
				PaymentMethod: string(method),
			}, "")
			if err != nil {
				return err
			}
			s.order = res.Order
			return nil
		}}
	}
	confirm := operation{name: "confirm", run: func(ctx context.Context, s *session) error {
		o, err := admin.Transition(ctx, s.order.ID, domain.StatusConfirmed)
		if err == nil {
			s.order = o
		}
		return err
	}}
	proof := operation{name: "payment-proof", run: func(ctx context.Context, s *session) error {
		txID := fmt.Sprintf("BENCH-%d", s.order.OrderNumber)
		o, err := customer.SubmitProof(ctx, s.order.ID, txID, "bench/"+txID+".png")
		if err == nil {
			s.order = o
		}
		return err
	}}
	approve := operation{name: "approve", run: func(ctx context.Context, s *session) error {
		o, err := admin.Approve(ctx, s.order.ID)
		if err == nil {
			s.order = o
		}
		return err
	}}

	switch scenario {
	case "checkout":
		return []operation{checkout(domain.PaymentCashOnDelivery)}, nil
	case "confirm":
		return []operation{checkout(domain.PaymentCashOnDelivery), confirm}, nil
	case "payment":
		return []operation{checkout(domain.PaymentBankTransfer), proof, approve}, nil
	}
	return nil, fmt.Errorf("unknown scenario: %s", scenario)
}

func runBench(ctx context.Context, cfg benchConfig, ops []operation, customer *apiclient.Client) *recorder {
	jobs := make(chan struct{})
	var wg sync.WaitGroup
	rec := newRecorder()

	for i := 0; i < cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range jobs {
				rec.transaction(runTransaction(ctx, cfg, ops, customer, rec))
			}
		}()
	}
	for i := 0; i < cfg.Total; i++ {
		jobs <- struct{}{}
	}
	close(jobs)
	wg.Wait()
	return rec
}

func runTransaction(ctx context.Context, cfg benchConfig, ops []operation, customer *apiclient.Client, rec *recorder) (time.Duration, error) {
	start := time.Now()
	s := &session{}
	for _, op := range ops {
		opCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		err := op.run(opCtx, s)
		cancel()
		rec.operation(err)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", op.name, err)
		}
	}
	elapsed := time.Since(start)
	if cfg.AwaitFinal && s.order != nil {
		rec.final(awaitFinal(ctx, customer, s.order, cfg))
	}
	return elapsed, nil
}

func (r *recorder) result(cfg benchConfig, baseURL string, ops []operation, duration time.Duration) benchResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, len(ops))
	for i, op := range ops {
		names[i] = op.name
	}
	res := benchResult{
		Timestamp:       time.Now().UTC().Format(time.RFC3339),
		BaseURL:         baseURL,
		Scenario:        cfg.Scenario,
		Product:         cfg.Product,
		Operations:      names,
		Transactions:    cfg.Total,
		Concurrency:     cfg.Concurrency,
		TotalOperations: cfg.Total * len(ops),
		Succeeded:       len(r.txMs),
		Failed:          r.failed,
		DurationSeconds: duration.Seconds(),
		Latency:         summarize(r.txMs),
		HTTPStatuses:    r.statuses,
		ErrorClasses:    r.classes,
	}
	if duration > 0 {
		res.ThroughputTPS = float64(len(r.txMs)) / duration.Seconds()
	}
	if r.firstFail != nil {
		res.FirstError = r.firstFail.Error()
	}
	if cfg.AwaitFinal {
		res.Final = &finalSummary{
			Statuses: cfg.FinalStatuses,
			Reached:  len(r.finalMs),
			TimedOut: r.timedOut,
			Latency:  summarize(r.finalMs),
		}
	}
	return res
}

// classifyError maps an operation outcome to the HTTP status and error class
// reported in the result. Transport failures have status 0.
func classifyError(err error) (int, string) {
	if err == nil {
		return http.StatusOK, ""
	}
	var apiErr *apiclient.Error
	if !errors.As(err, &apiErr) {
		return 0, "transport"
	}
	switch {
	case apiErr.StatusCode == http.StatusConflict && apiErr.Problem != nil && apiErr.Problem.Items != nil:
		return apiErr.StatusCode, "out_of_stock"
	case apiErr.StatusCode == http.StatusConflict:
		return apiErr.StatusCode, "conflict"
	case apiErr.StatusCode == http.StatusUnprocessableEntity:
		return apiErr.StatusCode, "business_rejected"
	case apiErr.StatusCode == http.StatusTooManyRequests:
		return apiErr.StatusCode, "rate_limited"
	case apiErr.StatusCode >= 500:
		return apiErr.StatusCode, "http_5xx"
	default:
		return apiErr.StatusCode, "http_4xx"
	}
}

// parseFinalStatuses reads a comma-separated status list, skipping blanks.
func parseFinalStatuses(input string) ([]domain.Status, error) {
	var out []domain.Status
	for _, part := range strings.Split(input, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		st, err := domain.ParseStatus(part)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

// awaitFinal polls the order until it reaches one of the configured statuses
// or the final timeout passes.
func awaitFinal(ctx context.Context, client *apiclient.Client, o *domain.Order, cfg benchConfig) (time.Duration, bool) {
	start := time.Now()
	if slices.Contains(cfg.FinalStatuses, o.OrderStatus) {
		return 0, true
	}
	ctx, cancel := context.WithTimeout(ctx, cfg.FinalTimeout)
	defer cancel()
	tick := time.NewTicker(cfg.FinalInterval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return time.Since(start), false
		case <-tick.C:
		}
		cur, err := client.Order(ctx, o.ID)
		if err == nil && slices.Contains(cfg.FinalStatuses, cur.OrderStatus) {
			return time.Since(start), true
		}
	}
}

func summarize(samples []float64) latencySummary {
	if len(samples) == 0 {
		return latencySummary{}
	}
	sorted := slices.Clone(samples)
	slices.Sort(sorted)
	var sum float64
	for _, v := range sorted {
		sum += v
	}
	return latencySummary{
		Count: len(sorted),
		Avg:   sum / float64(len(sorted)),
		Min:   sorted[0],
		Max:   sorted[len(sorted)-1],
		P50:   percentile(sorted, 0.50),
		P90:   percentile(sorted, 0.90),
		P95:   percentile(sorted, 0.95),
		P99:   percentile(sorted, 0.99),
	}
}

// percentile uses the nearest-rank method on sorted samples.
func percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	rank := int(math.Ceil(p*float64(n))) - 1
	return sorted[min(max(rank, 0), n-1)]
}

func millis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
