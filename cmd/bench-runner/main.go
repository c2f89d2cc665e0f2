package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/nazeru/medstore-orders-go/internal/apiclient"
	"github.com/nazeru/medstore-orders-go/internal/auth"
)

func main() {
	baseURL := flag.String("base-url", getenv("ORDER_BASE_URL", "http://localhost:8080"), "order-service base URL")
	scenario := flag.String("scenario", "checkout", "scenario to run: checkout|confirm|payment")
	product := flag.String("product", getenv("BENCH_PRODUCT", "stethoscope"), "product ordered by every transaction")
	total := flag.Int("total", 1000, "total number of transactions")
	concurrency := flag.Int("concurrency", 10, "number of concurrent workers")
	timeout := flag.Duration("timeout", 10*time.Second, "per-request timeout")
	awaitFinal := flag.Bool("await-final", false, "poll the order until it reaches a final status")
	finalTimeout := flag.Duration("final-timeout", 30*time.Second, "timeout for final status polling")
	finalInterval := flag.Duration("final-interval", 500*time.Millisecond, "poll interval for final status")
	finalStatuses := flag.String("final-statuses", "CONFIRMED,PAID", "comma-separated list of final order statuses")
	output := flag.String("output", "", "optional output path for JSON result")
	flag.Parse()

	if *total <= 0 {
		fmt.Fprintln(os.Stderr, "total must be > 0")
		os.Exit(1)
	}
	if *concurrency <= 0 {
		fmt.Fprintln(os.Stderr, "concurrency must be > 0")
		os.Exit(1)
	}

	customerToken, adminToken, err := benchTokens(os.Getenv("JWT_SECRET"), getenv("JWT_ISSUER", "medstore"))
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
	customer := apiclient.New(*baseURL, customerToken, *timeout)
	admin := customer.WithToken(adminToken)

	ops, err := buildOperations(*scenario, *product, customer, admin)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}

	finals, err := parseFinalStatuses(*finalStatuses)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}

	cfg := benchConfig{
		Scenario:      *scenario,
		Product:       *product,
		Total:         *total,
		Concurrency:   *concurrency,
		Timeout:       *timeout,
		AwaitFinal:    *awaitFinal,
		FinalTimeout:  *finalTimeout,
		FinalInterval: *finalInterval,
		FinalStatuses: finals,
	}
	start := time.Now()
	rec := runBench(context.Background(), cfg, ops, customer)
	result := rec.result(cfg, *baseURL, ops, time.Since(start))

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(result); err != nil {
		fmt.Fprintf(os.Stderr, "failed to encode result: %v\n", err)
		os.Exit(1)
	}

	if *output != "" {
		if err := writeJSON(*output, result); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write output: %v\n", err)
			os.Exit(1)
		}
	}
}

// benchTokens signs the customer and admin tokens. Admin scenarios need
// JWT_SECRET to match the order service.
func benchTokens(secret, issuer string) (string, string, error) {
	v := auth.NewValidator(secret, issuer)
	if v == nil {
		return "", "", nil
	}
	customer, err := v.Issue("bench-customer", "", time.Hour)
	if err != nil {
		return "", "", err
	}
	admin, err := v.Issue("bench-admin", auth.RoleAdmin, time.Hour)
	if err != nil {
		return "", "", err
	}
	return customer, admin, nil
}

func writeJSON(path string, result benchResult) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func getenv(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}
