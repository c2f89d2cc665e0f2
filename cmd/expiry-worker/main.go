package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nazeru/medstore-orders-go/internal/config"
	"github.com/nazeru/medstore-orders-go/internal/events"
	"github.com/nazeru/medstore-orders-go/internal/order/lifecycle"
	"github.com/nazeru/medstore-orders-go/internal/sequence"
	"github.com/nazeru/medstore-orders-go/internal/storage/postgres"
	"github.com/nazeru/medstore-orders-go/internal/telemetry"
	"github.com/nazeru/medstore-orders-go/pkg/kafka"
	"github.com/nazeru/medstore-orders-go/pkg/logging"
	"github.com/nazeru/medstore-orders-go/pkg/metrics"
)

const service = "expiry-worker"

func main() {
	cfg, err := config.Load(service)
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if cfg.Storage != config.StoragePostgres {
		log.Fatalf("config error: %s needs STORAGE=postgres", service)
	}
	logging.Setup(cfg.ServiceName, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName: cfg.ServiceName,
		Endpoint:    cfg.OTLPEndpoint,
		Insecure:    true,
		SampleRate:  1,
	})
	if err != nil {
		log.Fatalf("telemetry error: %v", err)
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	pool, err := pgxpool.New(connectCtx, cfg.DatabaseURL)
	if err != nil {
		cancel()
		log.Fatalf("db connect error: %v", err)
	}
	defer pool.Close()
	if err := postgres.Migrate(connectCtx, pool); err != nil {
		cancel()
		log.Fatalf("db migrate error: %v", err)
	}
	cancel()

	reg := prometheus.DefaultRegisterer
	orderMetrics := metrics.NewOrderMetrics(reg)
	srvMetrics := metrics.NewServerMetrics(reg, "expiry_worker")

	// Cancellations reach the notification service through Kafka, or the
	// outbox when the broker is down.
	var sinks []events.Sink
	kafkaClient := kafka.NewClient(cfg.KafkaBrokers)
	if kafkaClient.Enabled() {
		writer := kafkaClient.NewWriter(cfg.KafkaTopic)
		defer func() { _ = writer.Close() }()
		sinks = append(sinks, events.NewKafkaSink(writer, cfg.KafkaTopic, pool))
	}
	emitter := events.NewEmitter(cfg.EventBuffer, orderMetrics, sinks...)

	orders := lifecycle.New(postgres.New(pool), sequence.NewPostgres(pool), emitter,
		lifecycle.WithMetrics(orderMetrics),
		lifecycle.WithTracer(telemetry.Tracer()),
	)
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		orders.RunExpirySweep(ctx, cfg.ExpirySweepInterval, cfg.PaymentExpiry, cfg.ExpiryBatch)
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		if err := pool.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "db_error"})
			srvMetrics.Observe("health", http.StatusServiceUnavailable, time.Since(start))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
		srvMetrics.Observe("health", http.StatusOK, time.Since(start))
	})
	mux.Handle("GET /metrics", metrics.Handler())

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("%s listening on :%s, sweeping every %s", service, cfg.Port, cfg.ExpirySweepInterval)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server error: %v", err)
	}
	<-sweepDone

	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := emitter.Close(closeCtx); err != nil {
		logging.Log(logging.Fields{Service: service, Step: "shutdown", Status: "failed", Error: err.Error()})
	}
	if err := shutdownTracing(closeCtx); err != nil {
		logging.Log(logging.Fields{Service: service, Step: "shutdown", Status: "failed", Error: err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
